package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/harperreed/medsync/engine"
	"github.com/harperreed/medsync/meds"
)

// App wires the sync engine for both tracker collections.
type App struct {
	cfg   Config
	store *engine.SQLiteStore
	conn  engine.Connectivity

	Prescriptions *engine.Orchestrator
	Intakes       *engine.Orchestrator

	closers []func() error
}

// NewApp builds the store, remote adapters, connectivity monitor, and one
// orchestrator per collection.
func NewApp(ctx context.Context, cfg Config) (*App, error) {
	strategy, err := engine.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	store, err := engine.OpenStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store.RegisterCodec(meds.PrescriptionCollection, meds.PrescriptionCodec())
	store.RegisterCodec(meds.IntakeCollection, meds.IntakeCodec())

	merger := engine.NewMerger()
	meds.RegisterMerges(merger)
	resolver := engine.NewResolver(strategy, merger)

	app := &App{cfg: cfg, store: store}
	app.closers = append(app.closers, store.Close)

	conn, err := app.buildConnectivity()
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.conn = conn

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	for _, c := range []struct {
		collection string
		codec      engine.Codec
		target     **engine.Orchestrator
	}{
		{meds.PrescriptionCollection, meds.PrescriptionCodec(), &app.Prescriptions},
		{meds.IntakeCollection, meds.IntakeCodec(), &app.Intakes},
	} {
		remote, err := app.buildRemote(c.collection, c.codec)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		orch, err := engine.NewOrchestrator(ctx, engine.Options{
			Collection:   c.collection,
			Store:        store,
			Remote:       remote,
			Codec:        c.codec,
			Resolver:     resolver,
			Connectivity: conn,
			Logger:       logger,
		})
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		*c.target = orch
		app.closers = append(app.closers, orch.Close)
	}
	return app, nil
}

// Close releases orchestrators, connectivity, and the store.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *App) buildConnectivity() (engine.Connectivity, error) {
	switch a.cfg.Remote {
	case "http":
		if a.cfg.ServerURL == "" {
			return nil, errors.New("server url required for http remote (-server or config)")
		}
		probe := engine.NewProbeConnectivity(a.cfg.ServerURL+"/v1/health", a.cfg.ProbeInterval())
		a.closers = append(a.closers, probe.Close)
		return probe, nil
	case "redis", "memory":
		return engine.NewStaticConnectivity(true), nil
	default:
		return nil, fmt.Errorf("unknown remote %q", a.cfg.Remote)
	}
}

func (a *App) buildRemote(collection string, codec engine.Codec) (engine.RemoteAdapter, error) {
	switch a.cfg.Remote {
	case "http":
		return engine.NewHTTPRemote(engine.RemoteConfig{
			BaseURL:         a.cfg.ServerURL,
			AuthToken:       a.cfg.AuthToken,
			WritesPerSecond: a.cfg.WritesPerSecond,
		}, collection, codec), nil
	case "redis":
		if a.cfg.RedisAddr == "" {
			return nil, errors.New("redis address required for redis remote (-redis or config)")
		}
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, client.Close)
		return engine.NewRedisRemote(client, collection, codec), nil
	case "memory":
		// Demo mode: everything stays in-process.
		return engine.NewMemoryRemote(codec), nil
	default:
		return nil, fmt.Errorf("unknown remote %q", a.cfg.Remote)
	}
}
