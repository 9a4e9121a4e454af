// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

var _ bid.Clock = Clock{}

// Clock implements bid.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Ledger timestamps and discovery order
// are both derived from it.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
