package bid

import (
	"strings"
	"time"
)

// Sentinel replaces genuinely absent metadata so consumers never branch on absence.
const Sentinel = "N/S"

// Hint keys stored on pending entries.
const (
	HintName    = "name"
	HintURL     = "url"
	HintDueDate = "due_date"
)

// Identifier is the opaque, stable key of a project in the source portal.
type Identifier string

// String returns the identifier as a plain string.
func (id Identifier) String() string {
	return string(id)
}

// Valid reports whether the identifier carries a usable key.
func (id Identifier) Valid() bool {
	return strings.TrimSpace(string(id)) != ""
}

// Candidate is one project produced by a discovery source.
type Candidate struct {
	ID      Identifier
	Name    string
	URL     string
	DueDate string
}

// Hints converts the optional candidate fields into a pending entry hint map.
func (c Candidate) Hints() map[string]string {
	hints := make(map[string]string, 3)
	if v := strings.TrimSpace(c.Name); v != "" {
		hints[HintName] = v
	}
	if v := strings.TrimSpace(c.URL); v != "" {
		hints[HintURL] = v
	}
	if v := strings.TrimSpace(c.DueDate); v != "" {
		hints[HintDueDate] = v
	}
	if len(hints) == 0 {
		return nil
	}
	return hints
}

// PendingEntry is a discovered but not yet completed project. Entries are
// immutable once written to the queue.
type PendingEntry struct {
	Identifier   Identifier        `json:"identifier"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Hints        map[string]string `json:"hints,omitempty"`
}

// Hint returns the named hint or an empty string.
func (e PendingEntry) Hint(key string) string {
	if e.Hints == nil {
		return ""
	}
	return e.Hints[key]
}

// StorageSlot is the sequence-numbered folder allocated to exactly one project.
type StorageSlot struct {
	Sequence   int    `json:"sequence"`
	FolderName string `json:"folder_name"`
	Path       string `json:"path"`
}

// IsZero reports whether the slot was never allocated.
func (s StorageSlot) IsZero() bool {
	return s.Sequence == 0 && s.FolderName == ""
}

// Metadata is what the extractor reads from a project's info page. Fields are
// already normalized: absent values hold Sentinel.
type Metadata struct {
	Name        string
	Date        string
	Location    string
	Client      string
	Email       string
	Phone       string
	Size        string
	Information string
}

// Normalized returns a copy with every empty field replaced by Sentinel and
// phone/date values canonicalized.
func (m Metadata) Normalized() Metadata {
	return Metadata{
		Name:        NormalizeText(m.Name),
		Date:        NormalizeDate(m.Date),
		Location:    NormalizeText(m.Location),
		Client:      NormalizeText(m.Client),
		Email:       NormalizeText(m.Email),
		Phone:       NormalizePhone(m.Phone),
		Size:        NormalizeText(m.Size),
		Information: NormalizeText(m.Information),
	}
}

// CompletionRecord is one row of the completion ledger.
type CompletionRecord struct {
	Identifier  Identifier
	Slot        StorageSlot
	Name        string
	Date        string
	Location    string
	Client      string
	Phone       string
	CompletedAt time.Time
}

// NewCompletionRecord builds a ledger record for a finished project, applying
// sentinel normalization to every optional field.
func NewCompletionRecord(id Identifier, slot StorageSlot, meta Metadata, completedAt time.Time) CompletionRecord {
	meta = meta.Normalized()
	return CompletionRecord{
		Identifier:  id,
		Slot:        slot,
		Name:        meta.Name,
		Date:        meta.Date,
		Location:    meta.Location,
		Client:      meta.Client,
		Phone:       meta.Phone,
		CompletedAt: completedAt.UTC(),
	}
}

// Completion is everything known about a project once its ledger record is
// durable. Exporters receive it after the fact.
type Completion struct {
	Record        CompletionRecord
	Entry         PendingEntry
	Metadata      Metadata
	ArchivePath   string
	ArchiveSHA256 string
	SummaryPath   string
}
