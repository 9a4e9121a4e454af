package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/atomicfile"
	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// reservation is one journal entry.
type reservation struct {
	Sequence   int    `json:"sequence"`
	FolderName string `json:"folder_name"`
}

type journalDoc struct {
	HighWater    int                            `json:"high_water"`
	Reservations map[bid.Identifier]reservation `json:"reservations"`
}

// Journal is the durable record of slots that were allocated but may not yet
// be in the ledger. HighWater never decreases, so pruning reservations never
// frees a number for reuse.
type Journal struct {
	path   string
	logger *zap.Logger
	doc    journalDoc
}

// OpenJournal loads the journal at path. A missing file is an empty journal.
func OpenJournal(path string, logger *zap.Logger) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Journal{
		path:   path,
		logger: logger,
		doc:    journalDoc{Reservations: make(map[bid.Identifier]reservation)},
	}

	// #nosec G304 -- journal path comes from operator configuration.
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return j, nil
	case err != nil:
		logger.Warn("allocation journal unreadable, numbering continues from the ledger",
			zap.String("path", path), zap.Error(err))
		return j, nil
	case len(raw) == 0:
		return j, nil
	}

	var doc journalDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		logger.Warn("allocation journal corrupt, numbering continues from the ledger",
			zap.String("path", path), zap.Error(err))
		return j, nil
	}
	if doc.Reservations == nil {
		doc.Reservations = make(map[bid.Identifier]reservation)
	}
	for id, r := range doc.Reservations {
		if r.Sequence <= 0 || r.FolderName == "" {
			logger.Warn("dropping invalid reservation", zap.String("identifier", id.String()))
			delete(doc.Reservations, id)
			continue
		}
		if r.Sequence > doc.HighWater {
			doc.HighWater = r.Sequence
		}
	}
	j.doc = doc
	return j, nil
}

// Lookup returns the reservation for id.
func (j *Journal) Lookup(id bid.Identifier) (int, string, bool) {
	r, ok := j.doc.Reservations[id]
	return r.Sequence, r.FolderName, ok
}

// MaxSequence returns the highest number the journal ever handed out.
func (j *Journal) MaxSequence() int {
	return j.doc.HighWater
}

// Len returns the number of outstanding reservations.
func (j *Journal) Len() int {
	return len(j.doc.Reservations)
}

// Reserve durably records that id owns sequence/folder.
func (j *Journal) Reserve(id bid.Identifier, sequence int, folder string) error {
	prev, hadPrev := j.doc.Reservations[id]
	prevHigh := j.doc.HighWater

	j.doc.Reservations[id] = reservation{Sequence: sequence, FolderName: folder}
	if sequence > j.doc.HighWater {
		j.doc.HighWater = sequence
	}
	if err := j.save(); err != nil {
		if hadPrev {
			j.doc.Reservations[id] = prev
		} else {
			delete(j.doc.Reservations, id)
		}
		j.doc.HighWater = prevHigh
		return err
	}
	return nil
}

// Prune drops reservations whose identifiers are already completed.
func (j *Journal) Prune(done bid.Completed) (int, error) {
	removed := make(map[bid.Identifier]reservation)
	for id, r := range j.doc.Reservations {
		if done.Contains(id) {
			removed[id] = r
			delete(j.doc.Reservations, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := j.save(); err != nil {
		for id, r := range removed {
			j.doc.Reservations[id] = r
		}
		return 0, err
	}
	return len(removed), nil
}

func (j *Journal) save() error {
	data, err := json.MarshalIndent(j.doc, "", "  ")
	if err != nil {
		return bid.Storage("encode journal", j.path, err)
	}
	if err := atomicfile.WriteFile(j.path, append(data, '\n'), 0o600); err != nil {
		return bid.Storage("write journal", j.path, err)
	}
	return nil
}
