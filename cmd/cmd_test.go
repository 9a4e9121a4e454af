package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bidboard-harvester/internal/lock"
)

const listingPage = `<html><body>
<div class="ReactVirtualized__Table__row" role="row">
<div role="gridcell"><a href="/opportunities/lib-annex/info">Library Annex</a></div>
<div role="gridcell"><span class="highlightDate">11/20/2099</span></div>
</div>
<div class="ReactVirtualized__Table__row" role="row">
<div role="gridcell"><a href="/opportunities/fire-9/info">Fire Station 9</a></div>
<div role="gridcell"><span class="highlightDate">12/01/2099</span></div>
</div>
</body></html>`

func writeConfig(t *testing.T, listingURL string) (cfgPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	cfgPath = filepath.Join(dir, "bidharvest.yaml")
	body := fmt.Sprintf(`logging:
  development: false
  level: error
storage:
  data_dir: %q
discovery:
  source: listing
  listing_url: %q
`, dataDir, listingURL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := executeContext(context.Background(), root)
	return out.String(), err
}

func newListing(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscoverThenStatus(t *testing.T) {
	srv := newListing(t)
	cfgPath, dataDir := writeConfig(t, srv.URL+"/pipeline")

	out, err := execute(t, "--config", cfgPath, "discover")
	require.NoError(t, err)
	assert.Contains(t, out, "Discovered 2 projects, 2 new, 2 pending.")
	assert.FileExists(t, filepath.Join(dataDir, "pending_projects.json"))

	out, err = execute(t, "--config", cfgPath, "discover")
	require.NoError(t, err)
	assert.Contains(t, out, "2 projects, 0 new, 2 pending.")

	out, err = execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending: 2")
	assert.Contains(t, out, "lib-annex")
	assert.Contains(t, out, "Fire Station 9")
	assert.Contains(t, out, "Completed: 0 (next folder number 1, 0 reserved)")
}

func TestReconcileDropsLedgeredEntries(t *testing.T) {
	srv := newListing(t)
	cfgPath, dataDir := writeConfig(t, srv.URL)

	_, err := execute(t, "--config", cfgPath, "discover")
	require.NoError(t, err)

	ledger := "1,lib-annex,Library Annex,11/20/2099,N/S,N/S,N/S,2026-10-01T12:00:00Z,1-Library Annex\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "processed_projects.csv"), []byte(ledger), 0o600))

	out, err := execute(t, "--config", cfgPath, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 completed projects from the queue")
	assert.Contains(t, out, "1 pending.")
}

func TestExclusiveCommandsRespectLock(t *testing.T) {
	srv := newListing(t)
	cfgPath, dataDir := writeConfig(t, srv.URL)

	held, err := lock.Acquire(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = held.Release() })

	_, err = execute(t, "--config", cfgPath, "discover")
	require.ErrorIs(t, err, lock.ErrLocked)

	// status only reads and does not need the lock.
	out, err := execute(t, "--config", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending: 0")
}

func TestProcessRejectsBadProjectID(t *testing.T) {
	srv := newListing(t)
	cfgPath, _ := writeConfig(t, srv.URL)

	_, err := execute(t, "--config", cfgPath, "process", "--project-id", "   ", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid project id")
}

func TestProcessNeedsCredentials(t *testing.T) {
	t.Setenv("BC_EMAIL", "")
	t.Setenv("BC_PASSWORD", "")
	srv := newListing(t)
	cfgPath, _ := writeConfig(t, srv.URL)

	_, err := execute(t, "--config", cfgPath, "process", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials")
}

func TestFailedCommandStillClosesApp(t *testing.T) {
	t.Setenv("BC_EMAIL", "")
	t.Setenv("BC_PASSWORD", "")
	srv := newListing(t)
	cfgPath, dataDir := writeConfig(t, srv.URL)

	_, err := execute(t, "--config", cfgPath, "run", "--yes")
	require.Error(t, err)

	held, err := lock.Acquire(dataDir)
	require.NoError(t, err, "lock must be released after a failed command")
	require.NoError(t, held.Release())

	events, err := os.ReadFile(filepath.Join(dataDir, "events.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(events), `"stage":"DISCOVERY"`)
	if leftover, err := os.ReadDir(filepath.Join(dataDir, "staging")); err == nil {
		assert.Empty(t, leftover, "run staging is removed on close")
	}
}

func TestBadConfigFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
