// Package local writes project artifacts into slot folders on the local
// filesystem.
package local

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/JakeFAU/bidboard-harvester/internal/atomicfile"
	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Config captures the parameters for the local slot writer.
type Config struct {
	// BaseDir is the store directory that holds every slot folder.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// SlotWriter places files inside allocated slots.
type SlotWriter struct {
	baseDir string
}

// New creates a slot writer rooted at cfg.BaseDir, creating it if needed and
// verifying that it is writable.
func New(cfg Config) (*SlotWriter, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &SlotWriter{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the store directory.
func (w *SlotWriter) BaseDir() string {
	return w.baseDir
}

// WriteFile atomically writes data to name inside slot and returns the full
// path.
func (w *SlotWriter) WriteFile(slot bid.StorageSlot, name string, data io.Reader) (string, error) {
	target, err := w.resolve(slot, name)
	if err != nil {
		return "", err
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	if err := atomicfile.WriteFile(target, byteData, 0o600); err != nil {
		return "", bid.Storage("write file", target, err)
	}
	return target, nil
}

// MoveIn moves the file at src into slot, keeping its base name, and returns
// the new path. Anything else already in the folder is left over from an
// interrupted attempt at the same slot and is removed, so the slot holds a
// single archive.
func (w *SlotWriter) MoveIn(slot bid.StorageSlot, src string) (string, error) {
	target, err := w.resolve(slot, filepath.Base(src))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", bid.Storage("create slot", filepath.Dir(target), err)
	}

	err = os.Rename(src, target)
	if errors.Is(err, syscall.EXDEV) {
		err = copyAndRemove(src, target)
	}
	if err != nil {
		return "", bid.Storage("move archive", target, err)
	}
	if err := removeOthers(filepath.Dir(target), filepath.Base(target)); err != nil {
		return "", bid.Storage("clear stale files", filepath.Dir(target), err)
	}
	if err := atomicfile.SyncDir(filepath.Dir(target)); err != nil {
		return "", bid.Storage("sync slot", filepath.Dir(target), err)
	}
	return target, nil
}

// resolve joins slot and name under the base directory and rejects anything
// that escapes it.
func (w *SlotWriter) resolve(slot bid.StorageSlot, name string) (string, error) {
	if strings.TrimSpace(slot.FolderName) == "" {
		return "", fmt.Errorf("slot folder is required")
	}
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("file name is required")
	}

	fullPath := filepath.Join(w.baseDir, slot.FolderName, name)
	cleanBaseDir := filepath.Clean(w.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}

func removeOthers(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list slot: %w", err)
	}
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// copyAndRemove handles moves across filesystems, such as a staging
// directory on tmpfs.
func copyAndRemove(src, dst string) error {
	// #nosec G304 -- src is a download produced by this process.
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	tmp := dst + ".partial"
	// #nosec G304 -- dst was validated by resolve.
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close destination: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename destination: %w", err)
	}
	return os.Remove(src)
}
