// Package export mirrors completed projects to external systems after the
// ledger record is durable. Exports are best effort: the local ledger stays
// authoritative and a failed export never re-queues a project.
package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/metrics"
)

// Exporter sends one completion somewhere.
type Exporter interface {
	Name() string
	Export(ctx context.Context, c bid.Completion) error
}

type closer interface {
	Close() error
}

// Fanout runs every configured exporter in order and joins their errors.
type Fanout struct {
	exporters []Exporter
	logger    *zap.Logger
}

// NewFanout builds a Fanout. Nil exporters are skipped.
func NewFanout(logger *zap.Logger, exporters ...Exporter) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{logger: logger.Named("export")}
	for _, e := range exporters {
		if e != nil {
			f.exporters = append(f.exporters, e)
		}
	}
	return f
}

// Len reports the number of exporters.
func (f *Fanout) Len() int {
	return len(f.exporters)
}

// Names lists the exporters in run order.
func (f *Fanout) Names() []string {
	names := make([]string, 0, len(f.exporters))
	for _, e := range f.exporters {
		names = append(names, e.Name())
	}
	return names
}

// Export calls every exporter even when earlier ones fail.
func (f *Fanout) Export(ctx context.Context, c bid.Completion) error {
	var errs []error
	for _, e := range f.exporters {
		err := e.Export(ctx, c)
		metrics.ObserveExport(e.Name(), err)
		if err != nil {
			f.logger.Warn("export failed",
				zap.String("exporter", e.Name()),
				zap.String("id", c.Record.Identifier.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		f.logger.Debug("exported",
			zap.String("exporter", e.Name()),
			zap.String("id", c.Record.Identifier.String()),
		)
	}
	return errors.Join(errs...)
}

// Close closes every exporter that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, e := range f.exporters {
		if c, ok := e.(closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", e.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Document is the JSON shape shared by the object-store and message exporters.
type Document struct {
	ID            string    `json:"id"`
	Sequence      int       `json:"sequence"`
	Folder        string    `json:"folder"`
	Name          string    `json:"name"`
	DueDate       string    `json:"due_date"`
	Location      string    `json:"location"`
	Client        string    `json:"client"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Size          string    `json:"size"`
	Information   string    `json:"information"`
	SourceURL     string    `json:"source_url,omitempty"`
	ArchiveName   string    `json:"archive_name,omitempty"`
	ArchiveSHA256 string    `json:"archive_sha256,omitempty"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// NewDocument flattens a completion.
func NewDocument(c bid.Completion) Document {
	meta := c.Metadata.Normalized()
	doc := Document{
		ID:            c.Record.Identifier.String(),
		Sequence:      c.Record.Slot.Sequence,
		Folder:        c.Record.Slot.FolderName,
		Name:          c.Record.Name,
		DueDate:       c.Record.Date,
		Location:      c.Record.Location,
		Client:        c.Record.Client,
		Email:         meta.Email,
		Phone:         c.Record.Phone,
		Size:          meta.Size,
		Information:   meta.Information,
		SourceURL:     c.Entry.Hint(bid.HintURL),
		ArchiveSHA256: c.ArchiveSHA256,
		DiscoveredAt:  c.Entry.DiscoveredAt.UTC(),
		CompletedAt:   c.Record.CompletedAt.UTC(),
	}
	if c.ArchivePath != "" {
		doc.ArchiveName = filepath.Base(c.ArchivePath)
	}
	return doc
}
