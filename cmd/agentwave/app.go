package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/internal/plugins"
	"github.com/rendis/agentwave/internal/service"
	"github.com/rendis/agentwave/internal/store"
	"github.com/rendis/agentwave/internal/streaming"
)

// app is the wired object graph shared by every command.
type app struct {
	cfg     Config
	logger  *slog.Logger
	hub     *streaming.MemoryHub
	store   store.Store
	svc     *service.Service
	plugins *plugins.Manager
}

// newApp wires registry, executor and service. The store is only opened
// when withStore is set, so one-off commands work without a database.
func newApp(ctx context.Context, cfg Config, logOut io.Writer, withStore bool) (*app, error) {
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, logOut)
	hub := streaming.NewMemoryHub(0)

	execCfg, err := cfg.executorConfig(logger, hub)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	reg := agent.NewRegistry()
	if err := agent.RegisterBuiltins(reg); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, hub: hub, plugins: plugins.NewManager(reg, logger)}
	for _, p := range cfg.Plugins {
		if err := a.plugins.Launch(ctx, p); err != nil {
			logger.WarnContext(ctx, "plugin not loaded", "plugin", p.Name, "error", err)
		}
	}
	if withStore {
		if err := a.openStore(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	svc, err := service.New(ctx, service.Deps{
		Executor: execCfg,
		Registry: reg,
		Store:    a.store,
		Logger:   logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if !strings.Contains(a.cfg.DBPath, "://") {
		dir := filepath.Dir(strings.TrimPrefix(a.cfg.DBPath, "file:"))
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore(a.cfg.dbURL())
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.store = st
	return nil
}

// Close stops plugins and releases the store, if one was opened.
func (a *app) Close() error {
	err := a.plugins.StopAll()
	if a.store != nil {
		err = errors.Join(err, a.store.Close())
	}
	return err
}

// logEvents mirrors run events into the debug log until ctx ends.
func (a *app) logEvents(ctx context.Context) {
	events, cancel, err := a.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return
	}
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			a.logger.DebugContext(ctx, "event",
				"run_id", ev.RunID, "type", ev.EventType, "node_id", ev.NodeID, "wave", ev.Wave)
		}
	}
}
