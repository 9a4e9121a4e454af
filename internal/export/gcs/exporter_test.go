package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	exportgcs "github.com/JakeFAU/bidboard-harvester/internal/export/gcs"
	"github.com/JakeFAU/bidboard-harvester/internal/storage/gcs"
)

type recorder struct {
	mu     sync.Mutex
	bodies []string
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	raw, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.bodies = append(r.bodies, string(raw))
	r.mu.Unlock()
	fmt.Fprintln(w, `{"name": "obj", "bucket": "bids"}`)
}

func newExporter(t *testing.T, handler http.Handler) *exportgcs.Exporter {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "bids", Prefix: "mirror"})
	require.NoError(t, err)
	exp, err := exportgcs.New(store)
	require.NoError(t, err)
	return exp
}

func TestExportUploadsFolder(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "plans.zip")
	summary := filepath.Join(dir, "data_project.txt")
	require.NoError(t, os.WriteFile(archive, []byte("zip-bytes"), 0o600))
	require.NoError(t, os.WriteFile(summary, []byte("ID: P5"), 0o600))

	rec := &recorder{}
	exp := newExporter(t, rec)
	assert.Equal(t, "gcs", exp.Name())

	slot := bid.StorageSlot{Sequence: 5, FolderName: "5-Annex", Path: dir}
	c := bid.Completion{
		Record:        bid.NewCompletionRecord("P5", slot, bid.Metadata{Name: "Annex"}, time.Now()),
		ArchivePath:   archive,
		ArchiveSHA256: "cafe",
		SummaryPath:   summary,
	}
	require.NoError(t, exp.Export(context.Background(), c))

	require.Len(t, rec.bodies, 3)
	assert.Contains(t, rec.bodies[0], `"id": "P5"`)
	assert.Contains(t, rec.bodies[0], "mirror/5-Annex/record.json")
	assert.Contains(t, rec.bodies[1], "ID: P5")
	assert.Contains(t, rec.bodies[2], "zip-bytes")
	assert.Contains(t, rec.bodies[2], `"sha256":"cafe"`)
}

func TestExportStopsOnFirstFailure(t *testing.T) {
	var calls int
	exp := newExporter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "denied", http.StatusForbidden)
	}))
	c := bid.Completion{
		Record:      bid.NewCompletionRecord("P6", bid.StorageSlot{Sequence: 6, FolderName: "6-X"}, bid.Metadata{}, time.Now()),
		ArchivePath: "/nonexistent/plans.zip",
	}
	err := exp.Export(context.Background(), c)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "upload record"))
	assert.Equal(t, 1, calls)
}

func TestExportRequiresFolder(t *testing.T) {
	exp := newExporter(t, http.NotFoundHandler())
	err := exp.Export(context.Background(), bid.Completion{})
	require.Error(t, err)

	_, err = exportgcs.New(nil)
	require.Error(t, err)
}
