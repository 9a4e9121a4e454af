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
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/bidboard-harvester/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "bids", Prefix: "/harvest/"})
	require.NoError(t, err)
	return store
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestUploadFile(t *testing.T) {
	var body string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/bids/o")
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		body = string(raw)
		fmt.Fprintln(w, `{"name": "harvest/3-Big_Box/docs.zip", "bucket": "bids"}`)
	})
	store := newTestStore(t, handler)

	local := filepath.Join(t.TempDir(), "docs.zip")
	require.NoError(t, os.WriteFile(local, []byte("zip-bytes"), 0o600))

	uri, err := store.UploadFile(context.Background(), "3-Big_Box", local, "application/zip",
		map[string]string{"identifier": "P100"})
	require.NoError(t, err)
	assert.Equal(t, "gs://bids/harvest/3-Big_Box/docs.zip", uri)
	assert.Contains(t, body, "zip-bytes")
	assert.Contains(t, body, `"identifier":"P100"`)
	assert.True(t, strings.Contains(body, "harvest/3-Big_Box/docs.zip"))
}

func TestPutObjectRequiresNames(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "", "a", "", nil, strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectServerError(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	_, err := store.PutObject(context.Background(), "1-A", "data_project.txt", "text/plain", nil,
		strings.NewReader("x"))
	require.Error(t, err)
}
