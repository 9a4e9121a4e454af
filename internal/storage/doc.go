// Package storage allocates the sequence-numbered folders that hold each
// project's documents.
//
// Numbers are handed out from the completion ledger and an allocation journal,
// never from directory listings. The journal records a reservation before the
// folder is created so a crash between allocation and the ledger append
// resumes into the same folder instead of consuming a new number.
package storage
