package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{Telegram: TelegramConfig{Token: "123456:TEST", AdminID: 1}}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := baseConfig()
	cfg.Telegram.RunMode = "Polling"
	cfg.Catalog.Source = "CSV_URL"
	cfg.Catalog.URL = "https://docs.example/export?format=csv"
	cfg.RateLimit.ExcludeUpdates = []string{" Callback "}

	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run mode = %q", cfg.Telegram.RunMode)
	}
	if cfg.Storage.Driver != StorageFile || cfg.Storage.Path != "bot_data.json" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Catalog.Source != CatalogCSVURL || cfg.Catalog.RefreshInterval != time.Hour {
		t.Errorf("catalog = %+v", cfg.Catalog)
	}
	if cfg.Catalog.Columns.ID != "Tilda UID" || cfg.Catalog.Columns.Photo != "Photo" {
		t.Errorf("columns = %+v", cfg.Catalog.Columns)
	}
	if cfg.RateLimit.ExcludeUpdates[0] != UpdateCallback {
		t.Errorf("exclude = %v", cfg.RateLimit.ExcludeUpdates)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "token"},
		{"no operator", func(c *Config) { c.Telegram.AdminID = 0 }, "admin_id"},
		{"bad run mode", func(c *Config) { c.Telegram.RunMode = "push" }, "run_mode"},
		{"webhook without url", func(c *Config) { c.Telegram.RunMode = RunModeWebhook }, "webhook.url"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"postgres without host", func(c *Config) { c.Storage.Driver = StoragePostgres }, "storage.host"},
		{"bad catalog", func(c *Config) { c.Catalog.Source = "ftp" }, "catalog.source"},
		{"file catalog without path", func(c *Config) { c.Catalog.Source = CatalogFile }, "catalog.path"},
		{"bad exclude", func(c *Config) { c.RateLimit.ExcludeUpdates = []string{"poll"} }, "exclude_updates"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := Normalize(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Normalize() = %v, want error mentioning %q", err, tc.want)
			}
		})
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `telegram:
  token: "123456:FROM_FILE"
  admin_id: 10
storage:
  driver: sqlite
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TELEGRAM_ADMIN_ID", "77")
	t.Setenv("STORAGE_PATH", "/var/lib/relaybot/state.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123456:FROM_FILE" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.AdminID != 77 {
		t.Errorf("admin id = %d, want env override", cfg.Telegram.AdminID)
	}
	if !cfg.Storage.SQL() || cfg.Storage.Path != "/var/lib/relaybot/state.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.CoreConfig() != cfg {
		t.Error("CoreConfig must return the config itself")
	}
}
