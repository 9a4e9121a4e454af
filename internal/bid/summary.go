package bid

import (
	"fmt"
	"strings"
	"time"
)

// SummaryFile describes the plain-text metadata summary written into a slot.
type SummaryFile struct {
	Entry         PendingEntry
	Metadata      Metadata
	Slot          StorageSlot
	ArchiveName   string
	ArchiveSHA256 string
	CompletedAt   time.Time
}

// Render formats the summary the way operators read it in the project folder.
func (s SummaryFile) Render() string {
	meta := s.Metadata.Normalized()
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	line("ID: %s", s.Entry.Identifier)
	line("Sequence: %d", s.Slot.Sequence)
	line("Project URL: %s", orSentinel(s.Entry.Hint(HintURL)))
	line("Project (Bid Board Name): %s", orSentinel(s.Entry.Hint(HintName)))
	line("")
	line("{")
	line("  Client: {")
	line("    Name:  %s", meta.Client)
	line("    Email: %s", meta.Email)
	line("    Phone: %s", meta.Phone)
	line("  }")
	line("  Date Due:            %s", meta.Date)
	line("  Project Name:        %s", meta.Name)
	line("  Location:            %s", meta.Location)
	line("  Project Size:        %s", meta.Size)
	line("  Project Information: %s", meta.Information)
	line("}")
	line("")
	line("Archive: %s", orSentinel(s.ArchiveName))
	line("Archive SHA-256: %s", orSentinel(s.ArchiveSHA256))
	line("Completed At: %s", s.CompletedAt.UTC().Format(time.RFC3339))
	return b.String()
}

func orSentinel(v string) string {
	if strings.TrimSpace(v) == "" {
		return Sentinel
	}
	return v
}
