// ABOUTME: Wiring for the client CLI: config, local store, gateway client, session and facade
// ABOUTME: Built once per invocation before any subcommand runs

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/blvckwall/blvckwall-gateway/internal/access"
	"github.com/blvckwall/blvckwall-gateway/internal/config"
	"github.com/blvckwall/blvckwall-gateway/internal/localstore"
	"github.com/blvckwall/blvckwall-gateway/internal/remote"
	"github.com/blvckwall/blvckwall-gateway/internal/session"
)

// errNoGateway is returned by commands that need the portal gateway.
var errNoGateway = errors.New("no gateway configured (set gateway.url in the client config)")

type app struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	local    *localstore.Store
	client   *remote.Client
	sessions *session.Provider
	facade   *access.Facade
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}))

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	backend, err := localstore.NewSQLiteBackend(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	opts := []localstore.Option{localstore.WithLogger(logger)}
	if cfg.Storage.Prefix != "" {
		opts = append(opts, localstore.WithPrefix(cfg.Storage.Prefix))
	}
	local := localstore.New(backend, opts...)

	client := remote.New(cfg.Gateway.URL, remote.WithTimeout(cfg.Gateway.Timeout), remote.WithLogger(logger))
	sessions := session.New(client, local, session.WithLogger(logger))
	if err := sessions.Restore(ctx); err != nil {
		logger.Warn("could not restore session", "error", err)
	}

	facade, err := access.New(client, local, sessions, access.WithLogger(logger))
	if err != nil {
		_ = sessions.Close()
		_ = local.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		local:    local,
		client:   client,
		sessions: sessions,
		facade:   facade,
	}, nil
}

func (a *app) requireGateway() error {
	if a.cfg.Gateway.URL == "" {
		return errNoGateway
	}
	return nil
}

func (a *app) Close() error {
	return errors.Join(a.sessions.Close(), a.local.Close())
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
