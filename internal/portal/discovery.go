package portal

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Discovery lists the opportunities in the pipeline's "Undecided" tab.
type Discovery struct {
	session     *Session
	clock       bid.Clock
	skipPastDue bool
	logger      *zap.Logger
}

var _ bid.DiscoverySource = (*Discovery)(nil)

// NewDiscovery returns a discovery source over session. When skipPastDue is
// set, rows whose due date is before today are dropped.
func NewDiscovery(session *Session, clock bid.Clock, skipPastDue bool, logger *zap.Logger) (*Discovery, error) {
	if session == nil {
		return nil, fmt.Errorf("portal session is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		session:     session,
		clock:       clock,
		skipPastDue: skipPastDue,
		logger:      logger.Named("discovery"),
	}, nil
}

// Candidates walks the pipeline pages lazily. Each range starts a new pass
// from the first page.
func (d *Discovery) Candidates(ctx context.Context) iter.Seq2[bid.Candidate, error] {
	return func(yield func(bid.Candidate, error) bool) {
		release, err := d.session.acquire(ctx)
		if err != nil {
			yield(bid.Candidate{}, err)
			return
		}
		defer release()

		if err := d.openPipeline(ctx); err != nil {
			yield(bid.Candidate{}, err)
			return
		}

		cfg := d.session.cfg
		for page := 1; page <= cfg.MaxPages; page++ {
			html, err := d.session.snapshot(ctx, cfg.Selectors.Table)
			if err != nil {
				yield(bid.Candidate{}, fmt.Errorf("read pipeline page %d: %w", page, err))
				return
			}
			listing, err := ParseListing(strings.NewReader(html), cfg.BaseURL)
			if err != nil {
				yield(bid.Candidate{}, err)
				return
			}
			found := listing.Candidates
			if d.skipPastDue {
				found = Upcoming(found, d.clock.Now())
			}
			d.logger.Info("pipeline page parsed",
				zap.Int("page", page),
				zap.Int("rows", len(listing.Candidates)),
				zap.Int("kept", len(found)),
			)
			for _, c := range found {
				if !yield(c, nil) {
					return
				}
			}
			if !listing.HasNext {
				return
			}
			if err := d.session.click(ctx, cfg.Selectors.NextPage); err != nil {
				yield(bid.Candidate{}, fmt.Errorf("advance to page %d: %w", page+1, err))
				return
			}
		}
		d.logger.Warn("page limit reached", zap.Int("max_pages", cfg.MaxPages))
	}
}

func (d *Discovery) openPipeline(ctx context.Context) error {
	cfg := d.session.cfg
	if err := d.session.navigate(ctx, cfg.PipelineURL); err != nil {
		return err
	}
	tab := cfg.Selectors.UndecidedTab
	err := d.session.run(ctx, cfg.NavigationTimeout,
		chromedp.WaitVisible(tab, by(tab)),
		chromedp.Click(tab, by(tab), chromedp.NodeVisible),
		chromedp.Sleep(cfg.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("open undecided tab: %w", err)
	}
	return nil
}
