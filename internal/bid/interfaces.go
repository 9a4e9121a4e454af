package bid

import (
	"context"
	"iter"
	"time"
)

// DiscoverySource yields the projects currently in the target status
// category. The sequence is lazy, finite and restartable: ranging over it
// again starts a fresh discovery pass.
type DiscoverySource interface {
	Candidates(ctx context.Context) iter.Seq2[Candidate, error]
}

// MetadataExtractor reads a project's metadata. Missing fields are returned
// as Sentinel.
type MetadataExtractor interface {
	Extract(ctx context.Context, entry PendingEntry) (Metadata, error)
}

// DocumentFetcher downloads a project's document archive into dir and returns
// the path of the single file it produced.
type DocumentFetcher interface {
	Fetch(ctx context.Context, entry PendingEntry, dir string) (string, error)
}

// Prompt describes the state shown to the operator at the confirmation gate.
type Prompt struct {
	Last      Identifier
	Succeeded bool
	Err       error
	Remaining int
}

// ConfirmationGate blocks between projects and returns true to continue or
// false to stop.
type ConfirmationGate interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Completed answers whether an identifier has already been processed.
type Completed interface {
	Contains(id Identifier) bool
}

// Collect drains a discovery sequence, returning every candidate seen before
// the first error together with that error.
func Collect(seq iter.Seq2[Candidate, error]) ([]Candidate, error) {
	var out []Candidate
	for c, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
	return out, nil
}
