// Package portal drives the bid-board web portal with a real browser: it logs
// in, lists the opportunities in the pipeline, reads project details and
// downloads document archives.
package portal

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Default portal locations.
const (
	DefaultBaseURL     = "https://app.buildingconnected.com"
	DefaultLoginURL    = DefaultBaseURL + "/login"
	DefaultPipelineURL = DefaultBaseURL + "/opportunities/pipeline"
)

// Selectors locate the page elements the session interacts with. Entries
// starting with "/" are XPath expressions, everything else is CSS.
type Selectors struct {
	Email        string `mapstructure:"email"`
	Next         string `mapstructure:"next"`
	Password     string `mapstructure:"password"`
	SignIn       string `mapstructure:"sign_in"`
	UndecidedTab string `mapstructure:"undecided_tab"`
	Table        string `mapstructure:"table"`
	NextPage     string `mapstructure:"next_page"`
	Details      string `mapstructure:"details"`
	DownloadAll  string `mapstructure:"download_all"`
}

// DefaultSelectors match the portal markup at the time of writing.
func DefaultSelectors() Selectors {
	return Selectors{
		Email:        `input[name="email"]`,
		Next:         `button[aria-label="NEXT"]`,
		Password:     `input[name="password"]`,
		SignIn:       `button[aria-label="SIGN IN"]`,
		UndecidedTab: `//*[normalize-space(text())="Undecided"]`,
		Table:        `div.ReactVirtualized__Table[role="grid"]`,
		NextPage:     `div[data-id="page-navigation"] button[data-id="caret-right"]:not([disabled])`,
		Details:      `div[data-id="opportunity-details"]`,
		DownloadAll:  `//button[contains(normalize-space(.), "Download All")]`,
	}
}

// Config controls the browser session.
type Config struct {
	BaseURL     string
	LoginURL    string
	PipelineURL string
	Email       string
	Password    string
	Headless    bool
	UserAgent   string
	// ChromePath overrides the browser binary; empty uses the default lookup.
	ChromePath        string
	NavigationTimeout time.Duration
	DownloadTimeout   time.Duration
	// NavQPS bounds page navigations per second across the session.
	NavQPS float64
	// SettleDelay is waited after navigations so client-side rendering
	// finishes before the DOM is read.
	SettleDelay time.Duration
	MaxPages    int
	Selectors   Selectors
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.LoginURL == "" {
		c.LoginURL = c.BaseURL + "/login"
	}
	if c.PipelineURL == "" {
		c.PipelineURL = c.BaseURL + "/opportunities/pipeline"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 2 * time.Minute
	}
	if c.NavQPS <= 0 {
		c.NavQPS = 0.5
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 1500 * time.Millisecond
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	def := DefaultSelectors()
	fill := func(dst *string, fallback string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = fallback
		}
	}
	fill(&c.Selectors.Email, def.Email)
	fill(&c.Selectors.Next, def.Next)
	fill(&c.Selectors.Password, def.Password)
	fill(&c.Selectors.SignIn, def.SignIn)
	fill(&c.Selectors.UndecidedTab, def.UndecidedTab)
	fill(&c.Selectors.Table, def.Table)
	fill(&c.Selectors.NextPage, def.NextPage)
	fill(&c.Selectors.Details, def.Details)
	fill(&c.Selectors.DownloadAll, def.DownloadAll)
	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Email) == "" || strings.TrimSpace(c.Password) == "" {
		return fmt.Errorf("portal credentials are required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid portal base url: %w", err)
	}
	return nil
}
