// Package app assembles the relay bot from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/m3rciful/relaybot/core/bootstrap"
	corecmd "github.com/m3rciful/relaybot/core/cmd"
	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/logger"
	coretelegram "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/netutil"
	tgsender "github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/bot"
	"github.com/m3rciful/relaybot/internal/catalog"
	"github.com/m3rciful/relaybot/internal/metrics"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/store"

	tele "gopkg.in/telebot.v4"
)

// Options override parts of the assembly, mostly for tests.
type Options struct {
	// Bot replaces the bot built from the config.
	Bot *tele.Bot
	// HTTPClient fetches the catalog; defaults to a retrying client.
	HTTPClient *http.Client
	// LoggerInit replaces logger.InitLogger.
	LoggerInit func(*coreconfig.Config) error
}

// App owns every long-lived component of a running bot.
type App struct {
	cfg      *coreconfig.Config
	store    *store.Store
	catalog  *catalog.Cache
	recorder *metrics.Recorder
	disp     *tgsender.Dispatcher
	bot      *tele.Bot
	registry *coretelegram.Registry
	handlers *bot.Handlers

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ corecmd.TelegramApp = (*App)(nil)

// Bootstrap adapts New to the runner.
func Bootstrap(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	return New(context.Background(), carrier.CoreConfig(), Options{})
}

// OpenStore initializes the logger, prepares the database for SQL drivers
// and opens the configured store.
func OpenStore(ctx context.Context, cfg *coreconfig.Config, obs store.Observer, loggerInit func(*coreconfig.Config) error) (*store.Store, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:        cfg,
		Migrations:    store.Migrations,
		MigrationsDir: store.MigrationsDir,
		LoggerInit:    loggerInit,
	})
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Storage, res.DB, obs)
	if err != nil {
		if res.DB != nil {
			_ = res.DB.Close()
		}
		return nil, err
	}
	return st, nil
}

// New wires the store, catalog, metrics, dispatcher and bot described by cfg.
func New(ctx context.Context, cfg *coreconfig.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config provided")
	}

	rec := metrics.NewRecorder()
	st, err := OpenStore(ctx, cfg, rec, opts.LoggerInit)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, store: st, recorder: rec}
	if err := a.build(ctx, opts); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	if err := a.store.Sync(ctx); err != nil {
		return err
	}

	client := opts.HTTPClient
	if client == nil {
		client = netutil.NewRetryClient(netutil.ClientOptions{})
	}
	cat, err := catalog.Open(a.cfg.Catalog, client)
	if err != nil {
		return err
	}
	a.catalog = cat

	a.bot = opts.Bot
	if a.bot == nil {
		if a.bot, err = coretelegram.NewBot(a.cfg); err != nil {
			return err
		}
	}

	a.disp = tgsender.NewDispatcher(tgsender.Options{
		QueueSize:    a.cfg.Sender.QueueSize,
		Workers:      a.cfg.Sender.Workers,
		MaxRetries:   a.cfg.Sender.MaxRetries,
		RetryBackoff: a.cfg.Sender.RetryBackoff,
	})
	a.recorder.TrackSendFailures(a.disp.ErrorCount)
	transport := bot.NewTransport(a.bot, a.disp)

	relayOpts := relay.Options{
		OperatorID: a.cfg.Telegram.AdminID,
		Sessions:   a.store.Sessions(),
		Blocks:     a.store.Blocks(),
		Threads:    a.store.Threads(),
		Transport:  transport,
	}
	deps := bot.Deps{
		Names:    transport,
		Starts:   a.recorder,
		Sessions: a.store.Sessions(),
		Blocked:  a.store.Blocks(),
	}
	if cat != nil {
		relayOpts.Catalog = cat
		deps.Catalog = cat
	}
	engine, err := relay.New(relayOpts)
	if err != nil {
		return err
	}
	deps.Engine = engine
	if a.handlers, err = bot.NewHandlers(deps); err != nil {
		return err
	}

	a.registry = coretelegram.NewRegistry()
	if err := bot.Register(a.registry, a.handlers); err != nil {
		return fmt.Errorf("app: register handlers: %w", err)
	}
	return nil
}

// TelegramRunOptions describes how the runner drives the bot.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		Config:     a.cfg,
		Registry:   a.registry,
		Bot:        a.bot,
		Dispatcher: a.disp,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, coretelegram.MiddlewareOptions{
			Bypass:   a.handlers.InProgress,
			Recorder: a.recorder,
		}),
		Routes:  bot.Routes(a.registry, a.handlers),
		OnStart: a.start,
		OnStop:  a.stop,
	}, nil
}

// Checks are the health probes served on /healthz.
func (a *App) Checks() map[string]metrics.Check {
	checks := map[string]metrics.Check{
		"store": func(ctx context.Context) error {
			_, err := a.store.Blocks().List(ctx)
			return err
		},
	}
	if a.catalog != nil {
		checks["catalog"] = func(context.Context) error {
			if a.catalog.LoadedAt().IsZero() {
				return errors.New("catalog not loaded")
			}
			return nil
		}
	}
	return checks
}

func (a *App) start(ctx context.Context, _ coretelegram.Runtime) error {
	ctx, a.cancel = context.WithCancel(ctx)
	logger.Info(ctx, "app", "app.start",
		slog.String("status", "ok"),
		slog.String("instance", a.recorder.Instance()),
		slog.String("storage", a.cfg.Storage.Driver),
	)

	if a.catalog != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.catalog.Run(ctx)
		}()
	}

	if listen := a.cfg.Metrics.Listen; listen != "" {
		h := metrics.NewRouter(a.recorder, a.Checks())
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := metrics.Serve(ctx, listen, h); err != nil {
				logger.Error(ctx, "metrics", "metrics.serve",
					slog.String("status", "fail"),
					slog.String("listen", listen),
					logger.ErrAttr(err),
				)
			}
		}()
	}
	return nil
}

func (a *App) stop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	err := a.close()
	status := "ok"
	if err != nil {
		status = "fail"
	}
	logger.Info(ctx, "app", "app.stop", slog.String("status", status))
	return err
}

func (a *App) close() error {
	if a.disp != nil {
		a.disp.Close()
	}
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
