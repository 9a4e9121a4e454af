package portal

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Extractor reads project metadata from the project's info page.
type Extractor struct {
	session *Session
	logger  *zap.Logger
}

var _ bid.MetadataExtractor = (*Extractor)(nil)

// NewExtractor returns a metadata extractor over session.
func NewExtractor(session *Session, logger *zap.Logger) (*Extractor, error) {
	if session == nil {
		return nil, fmt.Errorf("portal session is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{session: session, logger: logger.Named("extractor")}, nil
}

// Extract loads the info page and parses it. Missing fields come back as
// bid.Sentinel.
func (e *Extractor) Extract(ctx context.Context, entry bid.PendingEntry) (bid.Metadata, error) {
	release, err := e.session.acquire(ctx)
	if err != nil {
		return bid.Metadata{}, err
	}
	defer release()

	cfg := e.session.cfg
	target := InfoURL(cfg.BaseURL, entry.Identifier)
	if err := e.session.navigate(ctx, target); err != nil {
		return bid.Metadata{}, err
	}
	html, err := e.session.snapshot(ctx, cfg.Selectors.Details)
	if err != nil {
		return bid.Metadata{}, err
	}
	meta, err := ParseProject(strings.NewReader(html))
	if err != nil {
		return bid.Metadata{}, err
	}
	if meta.Name == "" {
		meta.Name = entry.Hint(bid.HintName)
	}
	if meta.Date == "" {
		meta.Date = entry.Hint(bid.HintDueDate)
	}
	meta = meta.Normalized()
	e.logger.Debug("metadata extracted",
		zap.String("id", entry.Identifier.String()),
		zap.String("name", meta.Name),
		zap.String("due", meta.Date),
	)
	return meta, nil
}
