package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// AdminID is the operator identity: forwarded messages go to this chat.
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	// Secret is echoed by Telegram in X-Telegram-Bot-Api-Secret-Token.
	Secret string `yaml:"secret" envconfig:"WEBHOOK_SECRET"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	// StorageMemory keeps relay state in process memory only.
	StorageMemory = "memory"
	// StorageFile keeps relay state in a single JSON document on disk.
	StorageFile = "file"
	// StorageSQLite keeps relay state in an embedded SQLite database.
	StorageSQLite = "sqlite"
	// StoragePostgres keeps relay state in PostgreSQL.
	StoragePostgres = "postgres"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver         string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	Path           string `yaml:"path" envconfig:"STORAGE_PATH"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// SQL reports whether the driver keeps state in a database.
func (s StorageConfig) SQL() bool {
	return s.Driver == StorageSQLite || s.Driver == StoragePostgres
}

const (
	// CatalogCSVURL fetches the catalog as CSV over HTTP (published sheet export).
	CatalogCSVURL = "csv_url"
	// CatalogFile reads the catalog from a local CSV or YAML file.
	CatalogFile = "file"
)

// CatalogColumns maps spreadsheet headers to product fields.
type CatalogColumns struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Price string `yaml:"price"`
	URL   string `yaml:"url"`
	Photo string `yaml:"photo"`
}

// CatalogConfig configures the product catalog cache.
type CatalogConfig struct {
	Source          string         `yaml:"source" envconfig:"CATALOG_SOURCE"`
	URL             string         `yaml:"url" envconfig:"CATALOG_URL"`
	Path            string         `yaml:"path" envconfig:"CATALOG_PATH"`
	RefreshInterval time.Duration  `yaml:"refresh_interval" envconfig:"CATALOG_REFRESH_INTERVAL"`
	Columns         CatalogColumns `yaml:"columns"`
}

// MetricsConfig configures the scrape endpoint.
type MetricsConfig struct {
	// Listen is the HTTP address for /metrics and /healthz; empty disables it.
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// SenderConfig tunes the outbound Telegram dispatcher.
type SenderConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Config aggregates the bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Sender    SenderConfig    `yaml:"sender"`
}

// CoreConfig returns cfg itself so *Config satisfies the runner's carrier.
func (c *Config) CoreConfig() *Config { return c }

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if cfg.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeStorage(&cfg.Storage); err != nil {
		return err
	}
	return normalizeCatalog(&cfg.Catalog)
}

func normalizeStorage(s *StorageConfig) error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" {
		driver = StorageFile
	}
	switch driver {
	case StorageMemory:
	case StorageFile:
		if strings.TrimSpace(s.Path) == "" {
			s.Path = "bot_data.json"
		}
	case StorageSQLite:
		if strings.TrimSpace(s.Path) == "" {
			s.Path = "data/relaybot.db"
		}
	case StoragePostgres:
		if strings.TrimSpace(s.Host) == "" || strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("storage.host and storage.name are required for the postgres driver")
		}
		if s.Port == "" {
			s.Port = "5432"
		}
		if s.SSLMode == "" {
			s.SSLMode = "disable"
		}
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: memory, file, sqlite, postgres", s.Driver)
	}
	if s.MaxConnections <= 0 {
		s.MaxConnections = 4
	}
	s.Driver = driver
	return nil
}

func normalizeCatalog(c *CatalogConfig) error {
	src := strings.ToLower(strings.TrimSpace(c.Source))
	switch src {
	case "":
		// catalog disabled; /start will find nothing
	case CatalogCSVURL:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("catalog.url is required when catalog.source is 'csv_url'")
		}
	case CatalogFile:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("catalog.path is required when catalog.source is 'file'")
		}
	default:
		return fmt.Errorf("invalid catalog.source %q; allowed: csv_url, file", c.Source)
	}
	c.Source = src
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Hour
	}
	if c.Columns.ID == "" {
		c.Columns.ID = "Tilda UID"
	}
	if c.Columns.Title == "" {
		c.Columns.Title = "Title"
	}
	if c.Columns.Price == "" {
		c.Columns.Price = "Price"
	}
	if c.Columns.URL == "" {
		c.Columns.URL = "Url"
	}
	if c.Columns.Photo == "" {
		c.Columns.Photo = "Photo"
	}
	return nil
}
