// Package app wires configuration, storage, the live feed broker, the
// background sweeper and the HTTP surface into one runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"commshub/internal/housekeeping"
	"commshub/pkg/config"
	"commshub/pkg/directory"
	"commshub/pkg/feed"
	"commshub/pkg/logger"
	"commshub/pkg/state"
	"commshub/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	broker   *feed.Broker
	resolver directory.Resolver

	srv       *http.Server
	stopSweep context.CancelFunc
}

// New validates the effective config and initializes everything that does
// not need a running context: state dirs, the store, runtime keys, the
// broker and the directory resolver. Call Run to start the sweeper and
// the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	for _, k := range eff.Config.Security.SigningKeys {
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if err := state.Init(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to initialize state dirs: %w", err)
	}
	if err := logger.AttachAuditFileSink(state.PathsVar.Audit); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}

	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		broker:    feed.NewBroker(eff.Config.Feed.BufferSize()),
		resolver:  rosterResolver(eff.Config.Directory),
	}

	// Every committed message append fans out to live subscribers.
	store.SetNotifier(a.broker.Publish)

	return a, nil
}

// Run starts the housekeeping sweeper and the HTTP server, blocking until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	housekeeping.SetEffectiveConfig(a.eff)
	if a.eff.Config.Housekeeping.Enabled {
		stop, err := housekeeping.Start(ctx, a.eff)
		if err != nil {
			return fmt.Errorf("failed to start housekeeping: %w", err)
		}
		a.stopSweep = stop
	}

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// shutdown stops components in reverse start order.
func (a *App) shutdown() {
	if a.stopSweep != nil {
		a.stopSweep()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
	logger.Sync()
}

// rosterResolver builds the display-name resolver from the static roster
// in config. An empty roster still resolves: unknown ids render as opaque
// placeholders.
func rosterResolver(dc config.DirectoryConfig) directory.Resolver {
	roster := directory.Static{}
	for _, e := range dc.Members {
		if e.ID != "" {
			roster[e.ID] = e.Name
		}
	}
	return roster
}
