// Package gcs copies completed project folders into a Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/export"
	"github.com/JakeFAU/bidboard-harvester/internal/storage/gcs"
)

// RecordObject is the JSON document written next to the archive.
const RecordObject = "record.json"

// Exporter uploads the archive, the summary file and a JSON record under the
// project's folder name.
type Exporter struct {
	store *gcs.BlobStore
}

var _ export.Exporter = (*Exporter)(nil)

// New wraps a blob store.
func New(store *gcs.BlobStore) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &Exporter{store: store}, nil
}

// Name identifies the exporter in logs and metrics.
func (e *Exporter) Name() string {
	return "gcs"
}

// Export uploads the record first so a partial upload is still discoverable.
func (e *Exporter) Export(ctx context.Context, c bid.Completion) error {
	folder := c.Record.Slot.FolderName
	if folder == "" {
		return fmt.Errorf("completion for %s has no folder", c.Record.Identifier)
	}
	doc := export.NewDocument(c)
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	meta := map[string]string{
		"identifier": doc.ID,
		"sequence":   strconv.Itoa(doc.Sequence),
	}
	if _, err := e.store.PutObject(ctx, folder, RecordObject, "application/json", meta, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("upload record: %w", err)
	}
	if c.SummaryPath != "" {
		if _, err := e.store.UploadFile(ctx, folder, c.SummaryPath, "text/plain; charset=utf-8", meta); err != nil {
			return fmt.Errorf("upload summary: %w", err)
		}
	}
	if c.ArchivePath != "" {
		archiveMeta := map[string]string{
			"identifier": doc.ID,
			"sequence":   meta["sequence"],
			"sha256":     c.ArchiveSHA256,
		}
		if _, err := e.store.UploadFile(ctx, folder, c.ArchivePath, "application/octet-stream", archiveMeta); err != nil {
			return fmt.Errorf("upload archive: %w", err)
		}
	}
	return nil
}
