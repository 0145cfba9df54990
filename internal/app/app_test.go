package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coretelegram "github.com/m3rciful/relaybot/core/telegram"

	tele "gopkg.in/telebot.v4"
)

func noLogger(*coreconfig.Config) error { return nil }

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	csv := "Tilda UID,Title,Price,Url,Photo\n123.0,Стул,1990,https://shop.example/chair,\n"
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "123456:TEST", AdminID: 1},
		Storage:  coreconfig.StorageConfig{Driver: coreconfig.StorageMemory},
		Catalog:  coreconfig.CatalogConfig{Source: coreconfig.CatalogFile, Path: path},
		Metrics:  coreconfig.MetricsConfig{Listen: "127.0.0.1:0"},
	}
	if err := coreconfig.Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return cfg
}

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Token: "123456:TEST", Offline: true, Synchronous: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	return b
}

func TestNewWiresRunOptions(t *testing.T) {
	b := offlineBot(t)
	a, err := New(context.Background(), testConfig(t), Options{Bot: b, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.close() })

	opts, err := a.TelegramRunOptions()
	if err != nil {
		t.Fatalf("TelegramRunOptions: %v", err)
	}
	if opts.Bot != b || opts.Dispatcher == nil || opts.Registry == nil {
		t.Fatalf("run options not wired: %+v", opts)
	}
	if len(opts.Routes) == 0 || len(opts.Middlewares) == 0 {
		t.Fatalf("expected routes and middlewares, got %d/%d", len(opts.Routes), len(opts.Middlewares))
	}
	if _, _, ok := opts.Registry.LookupCommand("/start"); !ok {
		t.Fatal("/start must be registered")
	}
}

func TestStartRefreshesCatalogAndStopCloses(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), Options{Bot: offlineBot(t), LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	checks := a.Checks()
	if err := checks["store"](context.Background()); err != nil {
		t.Fatalf("store check: %v", err)
	}
	if err := checks["catalog"](context.Background()); err == nil {
		t.Fatal("catalog check must fail before the first refresh")
	}

	if err := a.start(context.Background(), coretelegram.Runtime{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.catalog.LoadedAt().IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("catalog was not refreshed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := checks["catalog"](context.Background()); err != nil {
		t.Fatalf("catalog check: %v", err)
	}
	if p, ok := a.catalog.Lookup("123"); !ok || p.Title != "Стул" {
		t.Fatalf("lookup = %+v, %v", p, ok)
	}

	if err := a.stop(context.Background(), coretelegram.Runtime{}); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNewRejectsBadStorage(t *testing.T) {
	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg := testConfig(t)
	cfg.Storage.Driver = "redis"
	if _, err := New(context.Background(), cfg, Options{Bot: offlineBot(t), LoggerInit: noLogger}); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestOpenStoreWithSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = coreconfig.StorageConfig{Driver: coreconfig.StorageSQLite, Path: filepath.Join(t.TempDir(), "relay.db")}
	if err := coreconfig.Normalize(cfg); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	st, err := OpenStore(context.Background(), cfg, nil, noLogger)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Blocks().Add(ctx, 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ids, err := st.Blocks().List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("List = %v, %v", ids, err)
	}
}
