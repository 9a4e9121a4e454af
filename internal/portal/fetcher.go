package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// DefaultArchiveName names a download whose suggested filename is unusable.
const DefaultArchiveName = "documents.zip"

// Fetcher downloads a project's document archive through the files page
// "Download All" control.
type Fetcher struct {
	session *Session
	logger  *zap.Logger
}

var _ bid.DocumentFetcher = (*Fetcher)(nil)

// NewFetcher returns a document fetcher over session.
func NewFetcher(session *Session, logger *zap.Logger) (*Fetcher, error) {
	if session == nil {
		return nil, fmt.Errorf("portal session is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{session: session, logger: logger.Named("fetcher")}, nil
}

type downloadResult struct {
	guid string
	name string
	err  error
}

// downloadWatcher follows browser download events for the files page.
type downloadWatcher struct {
	mu        sync.Mutex
	suggested map[string]string
	done      chan downloadResult
}

func newDownloadWatcher() *downloadWatcher {
	return &downloadWatcher{
		suggested: make(map[string]string),
		done:      make(chan downloadResult, 1),
	}
}

func (w *downloadWatcher) handle(ev any) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		w.mu.Lock()
		w.suggested[e.GUID] = e.SuggestedFilename
		w.mu.Unlock()
	case *browser.EventDownloadProgress:
		var res downloadResult
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			w.mu.Lock()
			res = downloadResult{guid: e.GUID, name: w.suggested[e.GUID]}
			w.mu.Unlock()
		case browser.DownloadProgressStateCanceled:
			res = downloadResult{guid: e.GUID, err: bid.ErrDownloadCanceled}
		default:
			return
		}
		select {
		case w.done <- res:
		default:
		}
	}
}

// Fetch saves the archive into dir under its suggested filename and returns
// its path.
func (f *Fetcher) Fetch(ctx context.Context, entry bid.PendingEntry, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve download dir: %w", err)
	}

	release, err := f.session.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	cfg := f.session.cfg
	if err := f.session.navigate(ctx, FilesURL(cfg.BaseURL, entry.Identifier)); err != nil {
		return "", err
	}

	watcher := newDownloadWatcher()
	listenCtx, stopListening := context.WithCancel(f.session.tab)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, watcher.handle)

	button := cfg.Selectors.DownloadAll
	err = f.session.run(ctx, cfg.NavigationTimeout,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(abs).
			WithEventsEnabled(true),
		chromedp.WaitVisible(button, by(button)),
		chromedp.Click(button, by(button), chromedp.NodeVisible),
	)
	if err != nil {
		return "", fmt.Errorf("start download: %w", err)
	}
	f.logger.Info("download started", zap.String("id", entry.Identifier.String()))

	timer := time.NewTimer(cfg.DownloadTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("download did not finish within %s", cfg.DownloadTimeout)
	case res := <-watcher.done:
		if res.err != nil {
			return "", res.err
		}
		return f.finish(abs, res)
	}
}

// finish renames the GUID-named download to its suggested filename.
func (f *Fetcher) finish(dir string, res downloadResult) (string, error) {
	src := filepath.Join(dir, res.guid)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("downloaded file missing: %w", err)
	}
	dst := filepath.Join(dir, ArchiveName(res.name))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("rename download: %w", err)
	}
	f.logger.Info("download completed", zap.String("file", filepath.Base(dst)))
	return dst, nil
}

// ArchiveName reduces a browser-suggested filename to a safe base name.
func ArchiveName(suggested string) string {
	name := filepath.Base(strings.TrimSpace(strings.ReplaceAll(suggested, `\`, "/")))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ". ")
	if name == "" || name == "/" {
		return DefaultArchiveName
	}
	return name
}
