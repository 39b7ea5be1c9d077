package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	apperrors "github.com/fineu/fineu-core/internal/errors"
	"github.com/fineu/fineu-core/internal/health"
	"github.com/fineu/fineu-core/internal/i18n"
	"github.com/fineu/fineu-core/internal/idempotency"
	"github.com/fineu/fineu-core/internal/integrity"
	"github.com/fineu/fineu-core/internal/kv"
	"github.com/fineu/fineu-core/internal/level"
	"github.com/fineu/fineu-core/internal/lifecycle"
	"github.com/fineu/fineu-core/internal/progression"
	"github.com/fineu/fineu-core/internal/session"
	"github.com/fineu/fineu-core/internal/store"
	"github.com/fineu/fineu-core/pkg/config"
	"github.com/fineu/fineu-core/pkg/logger"
	"github.com/fineu/fineu-core/pkg/redis"
)

type backend interface {
	kv.Backend
	kv.Watcher
}

// app is the wired object graph of one command invocation.
type app struct {
	cfg         *config.Config
	log         *slog.Logger
	translator  i18n.Translator
	backend     backend
	session     *session.Session
	store       *store.Store
	engine      *progression.Engine
	idempotency *idempotency.Manager
	errors      *apperrors.Handler
	health      *health.Checker
	shutdown    *lifecycle.Shutdown
}

func newApp(ctx context.Context, configPath, lang string, out io.Writer) (*app, error) {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if lang != "" {
		cfg.Language = lang
	}

	log, cleanup, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		health:   health.NewChecker(log),
		shutdown: lifecycle.NewShutdown(log),
	}
	a.shutdown.Register("logger", func(context.Context) error {
		cleanup()
		return nil
	})

	if err := a.wire(ctx, out); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, out io.Writer) error {
	locales, err := i18n.Load(a.cfg.Language)
	if err != nil {
		return fmt.Errorf("load locales: %w", err)
	}
	a.translator = locales.Translator(a.cfg.Language)
	a.errors = apperrors.NewHandler(a.log, a.translator, a.cfg.Sentry.Enabled)

	if err := a.openBackend(ctx); err != nil {
		return err
	}
	a.health.AddCheck("kv", health.NewBackendChecker(a.backend))

	a.session = session.New(a.backend, a.log)
	a.shutdown.Register("session", func(context.Context) error {
		a.session.Teardown()
		return nil
	})

	codec, err := integrity.NewObfuscator(a.cfg.Store.ObfuscationKey)
	if err != nil {
		return err
	}

	table := level.Default()
	a.store = store.New(a.backend, a.session, table, codec, store.Options{
		StartingCash: a.cfg.Store.StartingCash,
		Notifier:     printNotifier(out),
		Translator:   a.translator,
	}, a.log)

	for scope, expression := range a.cfg.Policies {
		policy, err := store.ExprPolicy(expression)
		if err != nil {
			return fmt.Errorf("policy %q: %w", scope, err)
		}
		if err := a.store.RegisterPolicy(scope, policy); err != nil {
			return fmt.Errorf("policy %q: %w", scope, err)
		}
	}

	a.engine = progression.NewEngine(table, a.session, a.store, a.log)
	if err := a.engine.Init(ctx); err != nil {
		return err
	}
	a.idempotency = idempotency.NewManager(a.backend, nil, a.log)
	return nil
}

func (a *app) openBackend(ctx context.Context) error {
	storage := a.cfg.Storage

	switch storage.Driver {
	case config.DriverMemory:
		a.backend = kv.NewMemory(kv.WithMemoryLogger(a.log)).Open()

	case config.DriverRedis:
		client, err := redis.New(ctx, storage.Redis)
		if err != nil {
			return err
		}
		metered := redis.NewMetricsClient(client)
		a.backend = kv.NewRedis(metered, storage.Prefix, a.log)
		a.health.AddCheck("redis", health.NewRedisChecker(metered))
		a.shutdown.Register("redis", func(context.Context) error { return metered.Close() })

	case config.DriverSQLite:
		db, err := kv.OpenSQLite(ctx, storage.SQLitePath, storage.PollInterval, a.log)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.backend = db
		a.health.AddCheck("sqlite", health.NewDBChecker(db.DB()))
		a.shutdown.Register("sqlite", func(context.Context) error { return db.Close() })

	default:
		return fmt.Errorf("unknown storage driver %q", storage.Driver)
	}

	a.log.Debug("storage opened", slog.String("driver", storage.Driver))
	return nil
}

func (a *app) close(ctx context.Context) error {
	return a.shutdown.Execute(ctx)
}

func printNotifier(out io.Writer) store.Notifier {
	return store.NotifierFunc(func(_ context.Context, notice store.Notice) {
		fmt.Fprintf(out, "! %s\n", notice.Text)
	})
}
