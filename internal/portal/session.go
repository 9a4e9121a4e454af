package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/ratelimit"
)

// Session owns one browser and one tab. Every portal operation runs in that
// tab, one at a time.
type Session struct {
	cfg     Config
	logger  *zap.Logger
	limiter *ratelimit.Limiter

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	mu       sync.Mutex
	started  bool
	loggedIn bool
}

// NewSession validates cfg. The browser is started lazily on first use.
func NewSession(cfg Config, logger *zap.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger.Named("portal"),
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.NavQPS, Burst: 1}),
	}, nil
}

// Config returns the effective configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Close shuts the browser down.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.tabCancel()
	s.allocCancel()
	s.started = false
	s.loggedIn = false
}

func (s *Session) start() error {
	if s.started {
		return nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1400, 1000),
	)
	if s.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Warnf),
	)
	if err := chromedp.Run(tab, s.setupAction()); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	s.allocCancel = allocCancel
	s.tab = tab
	s.tabCancel = tabCancel
	s.started = true
	s.logger.Info("browser started", zap.Bool("headless", s.cfg.Headless))
	return nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions in the tab, bounded by timeout and canceled with ctx.
// The tab context outlives ctx so an interrupted operation does not close the
// browser.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// navigate waits for the navigation budget, loads url and lets client-side
// rendering settle.
func (s *Session) navigate(ctx context.Context, url string) error {
	if err := s.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("navigation wait: %w", err)
	}

	s.logger.Debug("navigating", zap.String("url", url))
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// snapshot returns the rendered document once selector is visible.
func (s *Session) snapshot(ctx context.Context, selector string) (string, error) {
	var html string
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.WaitVisible(selector, by(selector)),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("snapshot %s: %w", selector, err)
	}
	return html, nil
}

// click waits for selector and clicks it.
func (s *Session) click(ctx context.Context, selector string) error {
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.WaitVisible(selector, by(selector)),
		chromedp.Click(selector, by(selector), chromedp.NodeVisible),
		chromedp.Sleep(s.cfg.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// acquire starts the browser and signs in if needed. Callers must hold the
// returned release until they are done with the tab.
func (s *Session) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if err := s.start(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !s.loggedIn {
		if err := s.login(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.loggedIn = true
	}
	return s.mu.Unlock, nil
}

// Login signs in eagerly. Operations sign in on first use otherwise.
func (s *Session) Login(ctx context.Context) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	release()
	return nil
}

func (s *Session) login(ctx context.Context) error {
	sel := s.cfg.Selectors
	if err := s.navigate(ctx, s.cfg.LoginURL); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.WaitVisible(sel.Email, by(sel.Email)),
		chromedp.SendKeys(sel.Email, s.cfg.Email, by(sel.Email)),
		chromedp.Click(sel.Next, by(sel.Next), chromedp.NodeVisible),
		chromedp.WaitVisible(sel.Password, by(sel.Password)),
		chromedp.SendKeys(sel.Password, s.cfg.Password, by(sel.Password)),
		chromedp.Click(sel.SignIn, by(sel.SignIn), chromedp.NodeVisible),
		chromedp.WaitNotPresent(sel.Password, by(sel.Password)),
		chromedp.Sleep(s.cfg.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("login as %s: %w", s.cfg.Email, err)
	}
	s.logger.Info("signed in", zap.String("email", s.cfg.Email))
	return nil
}

// by picks the query strategy for a configured selector.
func by(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func isXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(")
}
