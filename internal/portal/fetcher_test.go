package portal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chromedp/cdproto/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

func TestArchiveName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Bid Set.zip":         "Bid Set.zip",
		"../../etc/passwd":    "passwd",
		`C:\Users\x\docs.zip`: "docs.zip",
		"a<b>c?.zip":          "a_b_c_.zip",
		"  ":                  DefaultArchiveName,
		"..":                  DefaultArchiveName,
		".hidden.zip":         "hidden.zip",
		"":                    DefaultArchiveName,
	}
	for in, want := range cases {
		assert.Equal(t, want, ArchiveName(in), in)
	}
}

func TestDownloadWatcherCompleted(t *testing.T) {
	t.Parallel()

	w := newDownloadWatcher()
	w.handle(&browser.EventDownloadWillBegin{GUID: "g1", SuggestedFilename: "plans.zip"})
	w.handle(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateInProgress})
	w.handle(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCompleted})

	res := <-w.done
	require.NoError(t, res.err)
	assert.Equal(t, "g1", res.guid)
	assert.Equal(t, "plans.zip", res.name)
}

func TestDownloadWatcherCanceled(t *testing.T) {
	t.Parallel()

	w := newDownloadWatcher()
	w.handle(&browser.EventDownloadProgress{GUID: "g2", State: browser.DownloadProgressStateCanceled})
	res := <-w.done
	assert.ErrorIs(t, res.err, bid.ErrDownloadCanceled)
}

func TestFetcherFinishRenamesDownload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guid-1"), []byte("zip"), 0o600))

	f := &Fetcher{logger: zap.NewNop()}
	path, err := f.finish(dir, downloadResult{guid: "guid-1", name: "Bid Docs.zip"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Bid Docs.zip"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zip", string(data))

	_, err = f.finish(dir, downloadResult{guid: "missing"})
	require.Error(t, err)
}

func TestNewSessionValidates(t *testing.T) {
	t.Parallel()

	_, err := NewSession(Config{}, nil)
	require.Error(t, err)

	s, err := NewSession(Config{Email: "a@b.test", Password: "pw"}, nil)
	require.NoError(t, err)
	cfg := s.Config()
	assert.Equal(t, DefaultLoginURL, cfg.LoginURL)
	assert.Equal(t, DefaultPipelineURL, cfg.PipelineURL)
	assert.Equal(t, DefaultSelectors(), cfg.Selectors)
	assert.False(t, isXPath(cfg.Selectors.Email))
	assert.True(t, isXPath(cfg.Selectors.UndecidedTab))
	assert.True(t, isXPath(cfg.Selectors.DownloadAll))
	s.Close()
}
