// Package workflow drives one project at a time from the pending queue to a
// durable ledger record.
//
// Each project moves through the stages named in bid.Stage. A failure at any
// stage leaves the project pending and skipped for the rest of the run; only
// the ledger append makes a project complete, and only a completed project is
// removed from the queue. Stop requests are honoured between projects, at the
// confirmation gate, never in the middle of one.
package workflow
