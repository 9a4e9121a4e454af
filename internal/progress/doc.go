// Package progress records what a run did, one event per milestone. Events are
// batched on a background goroutine and handed to sinks, such as the JSONL
// run log kept next to the ledger.
package progress
