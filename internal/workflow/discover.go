package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/metrics"
)

// Enqueuer accepts discovered candidates.
type Enqueuer interface {
	DiscoverAndEnqueue(candidates []bid.Candidate) (int, error)
	Len() int
}

// DiscoveryResult reports one discovery pass.
type DiscoveryResult struct {
	Found    int
	Enqueued int
	Pending  int
}

// Discover drains src and enqueues what it found. Candidates seen before a
// discovery error are still enqueued; the error is returned afterwards.
func Discover(ctx context.Context, src bid.DiscoverySource, q Enqueuer, logger *zap.Logger) (DiscoveryResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	candidates, iterErr := bid.Collect(src.Candidates(ctx))

	added, err := q.DiscoverAndEnqueue(candidates)
	res := DiscoveryResult{Found: len(candidates), Enqueued: added, Pending: q.Len()}
	metrics.ObserveDiscovery(res.Found, res.Enqueued)
	metrics.SetPending(res.Pending)
	if err != nil {
		return res, fmt.Errorf("enqueue candidates: %w", err)
	}

	logger.Info("discovery pass finished",
		zap.Int("found", res.Found), zap.Int("enqueued", res.Enqueued), zap.Int("pending", res.Pending))
	if iterErr != nil {
		logger.Warn("discovery ended early", zap.Int("found", res.Found), zap.Error(iterErr))
		return res, fmt.Errorf("discover: %w", iterErr)
	}
	return res, nil
}
