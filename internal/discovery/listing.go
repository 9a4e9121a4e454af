// Package discovery provides discovery sources that do not need a browser:
// saved or server-rendered pipeline listings fetched with colly.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
	"github.com/JakeFAU/bidboard-harvester/internal/portal"
	"github.com/JakeFAU/bidboard-harvester/internal/ratelimit"
)

// Config controls the listing source.
type Config struct {
	// URL is the first listing page: http(s):// or file://.
	URL         string
	UserAgent   string
	Timeout     time.Duration
	MaxPages    int
	SkipPastDue bool
	// QPS limits page loads per host. Zero means unlimited.
	QPS float64
}

// ListingSource reads candidates from static listing pages, following
// rel="next" links.
type ListingSource struct {
	cfg           Config
	clock         bid.Clock
	logger        *zap.Logger
	limiter       *ratelimit.Limiter
	baseCollector *colly.Collector
}

var _ bid.DiscoverySource = (*ListingSource)(nil)

// New builds a ListingSource.
func New(cfg Config, clock bid.Clock, logger *zap.Logger) (*ListingSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("listing url is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &ListingSource{
		cfg:           cfg,
		clock:         clock,
		logger:        logger.Named("listing"),
		limiter:       ratelimit.New(ratelimit.Config{RPS: cfg.QPS, Burst: 1}),
		baseCollector: c,
	}, nil
}

// Candidates fetches the listing pages in order. Each range starts over from
// the first page.
func (s *ListingSource) Candidates(ctx context.Context) iter.Seq2[bid.Candidate, error] {
	return func(yield func(bid.Candidate, error) bool) {
		next := s.cfg.URL
		for page := 1; next != "" && page <= s.cfg.MaxPages; page++ {
			body, finalURL, err := s.fetch(ctx, next)
			if err != nil {
				yield(bid.Candidate{}, err)
				return
			}
			listing, err := portal.ParseListing(bytes.NewReader(body), finalURL)
			if err != nil {
				yield(bid.Candidate{}, err)
				return
			}
			found := listing.Candidates
			if s.cfg.SkipPastDue {
				found = portal.Upcoming(found, s.clock.Now())
			}
			s.logger.Info("listing page parsed",
				zap.String("url", finalURL),
				zap.Int("rows", len(listing.Candidates)),
				zap.Int("kept", len(found)),
			)
			for _, c := range found {
				if !yield(c, nil) {
					return
				}
			}
			next = listing.NextHref
		}
	}
}

func (s *ListingSource) fetch(ctx context.Context, url string) ([]byte, string, error) {
	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	if err := s.limiter.Wait(ctx, url); err != nil {
		return nil, "", fmt.Errorf("listing fetch canceled: %w", err)
	}
	collector := s.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("listing fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, "", fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return body, finalURL, nil
	}
}

// newTransport serves http(s) with pooled connections and file:// from the
// local filesystem.
func newTransport() *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	t.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return t
}
