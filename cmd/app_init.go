package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/blakegallagher1/gpc-cres/internal/export"
	"github.com/blakegallagher1/gpc-cres/internal/pipeline"
	"github.com/blakegallagher1/gpc-cres/internal/queue"
	"github.com/blakegallagher1/gpc-cres/internal/store"
)

// appEnv bundles the wired subsystems a command needs.
type appEnv struct {
	Store    store.Store
	Queue    *queue.Queue
	Pipeline *pipeline.Pipeline
}

// initApp opens the configured store, runs migrations, and wires the
// pipeline to a stopped queue. Callers that process jobs must call Start.
func initApp(ctx context.Context) (*appEnv, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite", "":
		s, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	exporter, err := export.NewXLSX(cfg.Export.Dir)
	if err != nil {
		st.Close()
		return nil, err
	}

	p := pipeline.New(st, exporter)
	q := queue.New(
		queue.Config{
			Workers:    cfg.Queue.Workers,
			MaxRetries: cfg.Queue.MaxRetries,
			BaseDelay:  cfg.Queue.BaseDelay(),
			MaxDelay:   cfg.Queue.MaxDelay(),
		},
		queue.WithOnRetry(p.OnRetry),
		queue.WithOnFail(p.OnFail),
	)
	if err := p.Bind(q); err != nil {
		st.Close()
		return nil, err
	}

	return &appEnv{Store: st, Queue: q, Pipeline: p}, nil
}

// Start recovers interrupted work and launches the worker pool.
func (env *appEnv) Start(ctx context.Context) error {
	env.Queue.Start(ctx)
	return env.Pipeline.Recover(ctx)
}

// Close stops the workers and closes the store.
func (env *appEnv) Close() {
	env.Queue.Stop()
	_ = env.Store.Close()
}
