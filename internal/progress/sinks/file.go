package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/bidboard-harvester/internal/progress"
)

// FileSink appends events to a JSON Lines file, one object per line. The
// file is opened per batch so an external rotation or deletion is picked up.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates the parent directory of path.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("event file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create event file dir: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Path returns the event file location.
func (s *FileSink) Path() string {
	return s.path
}

// Consume appends the batch and syncs the file.
func (s *FileSink) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write run events: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open event file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, evt := range batch {
		if err := enc.Encode(evt); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode run event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write event file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync event file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close event file: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *FileSink) Close(context.Context) error {
	return nil
}
