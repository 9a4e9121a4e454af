// Package config loads and validates bidharvest configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/bidboard-harvester/internal/portal"
)

// EnvPrefix namespaces environment overrides, e.g. BIDHARVEST_STORAGE_DATA_DIR.
const EnvPrefix = "BIDHARVEST"

// Legacy credential variables honoured when the portal section leaves them empty.
const (
	LegacyEmailEnv    = "BC_EMAIL"
	LegacyPasswordEnv = "BC_PASSWORD"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Portal    PortalConfig    `mapstructure:"portal"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File        string `mapstructure:"file"`
}

// StorageConfig locates the local state files. Relative paths resolve
// against DataDir.
type StorageConfig struct {
	DataDir          string `mapstructure:"data_dir" validate:"required"`
	StoreDir         string `mapstructure:"store_dir" validate:"required"`
	StagingDir       string `mapstructure:"staging_dir" validate:"required"`
	PendingFile      string `mapstructure:"pending_file" validate:"required"`
	LedgerFile       string `mapstructure:"ledger_file" validate:"required"`
	JournalFile      string `mapstructure:"journal_file" validate:"required"`
	EventsFile       string `mapstructure:"events_file"`
	MaxNameLength    int    `mapstructure:"max_name_length" validate:"gte=8,lte=200"`
	MetadataFilename string `mapstructure:"metadata_filename" validate:"required,excludesall=/\\"`
}

// PortalConfig configures the browser session.
type PortalConfig struct {
	BaseURL           string           `mapstructure:"base_url" validate:"required,url"`
	LoginURL          string           `mapstructure:"login_url" validate:"omitempty,url"`
	PipelineURL       string           `mapstructure:"pipeline_url" validate:"omitempty,url"`
	Email             string           `mapstructure:"email" validate:"omitempty,email"`
	Password          string           `mapstructure:"password"`
	Headless          bool             `mapstructure:"headless"`
	UserAgent         string           `mapstructure:"user_agent"`
	ChromePath        string           `mapstructure:"chrome_path"`
	NavigationTimeout time.Duration    `mapstructure:"navigation_timeout" validate:"gt=0"`
	DownloadTimeout   time.Duration    `mapstructure:"download_timeout" validate:"gt=0"`
	SettleDelay       time.Duration    `mapstructure:"settle_delay" validate:"gte=0"`
	NavQPS            float64          `mapstructure:"nav_qps" validate:"gt=0"`
	MaxPages          int              `mapstructure:"max_pages" validate:"gt=0"`
	Selectors         portal.Selectors `mapstructure:"selectors"`
}

// DiscoveryConfig picks the discovery source.
type DiscoveryConfig struct {
	Source      string `mapstructure:"source" validate:"oneof=portal listing"`
	ListingURL  string `mapstructure:"listing_url"`
	SkipPastDue bool   `mapstructure:"skip_past_due"`
}

// WorkflowConfig controls the processing loop.
type WorkflowConfig struct {
	Confirm            string `mapstructure:"confirm" validate:"oneof=always on_failure never"`
	DefaultAnswer      bool   `mapstructure:"default_answer"`
	MaxProjects        int    `mapstructure:"max_projects" validate:"gte=0"`
	StopOnStorageError bool   `mapstructure:"stop_on_storage_error"`
	RetryAttempts      int    `mapstructure:"retry_attempts" validate:"gte=1,lte=2"`
}

// APIConfig enables the status server when ListenAddr is set.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	APIKey     string `mapstructure:"api_key"`
}

// ExportConfig groups the optional completion mirrors.
type ExportConfig struct {
	Postgres PostgresExportConfig `mapstructure:"postgres"`
	GCS      GCSExportConfig      `mapstructure:"gcs"`
	PubSub   PubSubExportConfig   `mapstructure:"pubsub"`
}

// PostgresExportConfig mirrors completions into a table.
type PostgresExportConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DSN          string `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Table        string `mapstructure:"table"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// GCSExportConfig copies completed folders into a bucket.
type GCSExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubExportConfig announces completions on a topic.
type PubSubExportConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id" validate:"required_if=Enabled true"`
	TopicID   string `mapstructure:"topic_id" validate:"required_if=Enabled true"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, an optional file and the environment.
// With an empty path, bidharvest.yaml is searched in the working directory
// and $HOME/.bidharvest.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("bidharvest")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bidharvest")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Portal.Email == "" {
		cfg.Portal.Email = os.Getenv(LegacyEmailEnv)
	}
	if cfg.Portal.Password == "" {
		cfg.Portal.Password = os.Getenv(LegacyPasswordEnv)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.store_dir", "projects")
	v.SetDefault("storage.staging_dir", "staging")
	v.SetDefault("storage.pending_file", "pending_projects.json")
	v.SetDefault("storage.ledger_file", "processed_projects.csv")
	v.SetDefault("storage.journal_file", "allocations.json")
	v.SetDefault("storage.events_file", "events.jsonl")
	v.SetDefault("storage.max_name_length", 60)
	v.SetDefault("storage.metadata_filename", "data_project.txt")

	v.SetDefault("portal.base_url", portal.DefaultBaseURL)
	v.SetDefault("portal.login_url", "")
	v.SetDefault("portal.pipeline_url", "")
	v.SetDefault("portal.email", "")
	v.SetDefault("portal.password", "")
	v.SetDefault("portal.headless", false)
	v.SetDefault("portal.user_agent", "")
	v.SetDefault("portal.chrome_path", "")
	v.SetDefault("portal.navigation_timeout", "60s")
	v.SetDefault("portal.download_timeout", "2m")
	v.SetDefault("portal.settle_delay", "1500ms")
	v.SetDefault("portal.nav_qps", 0.5)
	v.SetDefault("portal.max_pages", 50)
	sel := portal.DefaultSelectors()
	v.SetDefault("portal.selectors.email", sel.Email)
	v.SetDefault("portal.selectors.next", sel.Next)
	v.SetDefault("portal.selectors.password", sel.Password)
	v.SetDefault("portal.selectors.sign_in", sel.SignIn)
	v.SetDefault("portal.selectors.undecided_tab", sel.UndecidedTab)
	v.SetDefault("portal.selectors.table", sel.Table)
	v.SetDefault("portal.selectors.next_page", sel.NextPage)
	v.SetDefault("portal.selectors.details", sel.Details)
	v.SetDefault("portal.selectors.download_all", sel.DownloadAll)

	v.SetDefault("discovery.source", "portal")
	v.SetDefault("discovery.listing_url", "")
	v.SetDefault("discovery.skip_past_due", true)

	v.SetDefault("workflow.confirm", "always")
	v.SetDefault("workflow.default_answer", true)
	v.SetDefault("workflow.max_projects", 0)
	v.SetDefault("workflow.stop_on_storage_error", false)
	v.SetDefault("workflow.retry_attempts", 2)

	v.SetDefault("api.listen_addr", "")
	v.SetDefault("api.api_key", "")

	v.SetDefault("export.postgres.enabled", false)
	v.SetDefault("export.postgres.dsn", "")
	v.SetDefault("export.postgres.table", "bid_completions")
	v.SetDefault("export.postgres.ensure_schema", false)
	v.SetDefault("export.gcs.enabled", false)
	v.SetDefault("export.gcs.bucket", "")
	v.SetDefault("export.gcs.prefix", "bidharvest")
	v.SetDefault("export.pubsub.enabled", false)
	v.SetDefault("export.pubsub.project_id", "")
	v.SetDefault("export.pubsub.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Discovery.Source == "listing" && strings.TrimSpace(c.Discovery.ListingURL) == "" {
		return fmt.Errorf("discovery.listing_url is required when discovery.source is listing")
	}
	return nil
}

// RequireCredentials reports whether the portal can be signed into.
func (c Config) RequireCredentials() error {
	if c.Portal.Email == "" || c.Portal.Password == "" {
		return fmt.Errorf("portal credentials missing: set portal.email/portal.password or %s/%s",
			LegacyEmailEnv, LegacyPasswordEnv)
	}
	return nil
}

func (s StorageConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.DataDir, p)
}

// StorePath is the directory holding the numbered project folders.
func (s StorageConfig) StorePath() string { return s.resolve(s.StoreDir) }

// StagingPath is the scratch directory downloads land in first.
func (s StorageConfig) StagingPath() string { return s.resolve(s.StagingDir) }

// PendingPath is the pending queue file.
func (s StorageConfig) PendingPath() string { return s.resolve(s.PendingFile) }

// LedgerPath is the completion ledger file.
func (s StorageConfig) LedgerPath() string { return s.resolve(s.LedgerFile) }

// JournalPath is the allocation journal file.
func (s StorageConfig) JournalPath() string { return s.resolve(s.JournalFile) }

// EventsPath is the JSONL run event log. Empty disables it.
func (s StorageConfig) EventsPath() string {
	if s.EventsFile == "" {
		return ""
	}
	return s.resolve(s.EventsFile)
}

// PortalSettings converts the section into a portal session config.
func (c Config) PortalSettings() portal.Config {
	p := c.Portal
	return portal.Config{
		BaseURL:           p.BaseURL,
		LoginURL:          p.LoginURL,
		PipelineURL:       p.PipelineURL,
		Email:             p.Email,
		Password:          p.Password,
		Headless:          p.Headless,
		UserAgent:         p.UserAgent,
		ChromePath:        p.ChromePath,
		NavigationTimeout: p.NavigationTimeout,
		DownloadTimeout:   p.DownloadTimeout,
		NavQPS:            p.NavQPS,
		SettleDelay:       p.SettleDelay,
		MaxPages:          p.MaxPages,
		Selectors:         p.Selectors,
	}
}
