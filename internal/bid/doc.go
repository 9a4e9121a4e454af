// Package bid defines the domain types shared by the harvesting pipeline: project
// identifiers, pending queue entries, storage slots, completion records, the
// collaborator interfaces the workflow consumes, and the error taxonomy used to
// decide whether a failure leaves work pending or halts the run.
package bid
