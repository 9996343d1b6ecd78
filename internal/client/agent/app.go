// Package agent initializes and runs the studio workstation sync agent. It
// wires the local SQLite store, the delivery queue, the conflict manager and
// the connectivity monitor, and keeps draining the queue until shut down.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/villaprodiq/studiosync/internal/client/config"
	"github.com/villaprodiq/studiosync/internal/client/conflict"
	"github.com/villaprodiq/studiosync/internal/client/gateway"
	"github.com/villaprodiq/studiosync/internal/client/monitor"
	"github.com/villaprodiq/studiosync/internal/client/platform"
	syncq "github.com/villaprodiq/studiosync/internal/client/sync"
	"github.com/villaprodiq/studiosync/internal/logging"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	repos   *Repositories
	syncer  *syncq.Syncer
	manager *conflict.Manager
	monitor *monitor.Monitor
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	repos, err := InitDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	bridge := platform.NewHTTPBridge(c.ServerEndpointAddr, c.RequestTimeout)
	gw := gateway.New(bridge, logger, c.RequestTimeout)

	manager := conflict.NewManager(repos.Conflicts, repos.Records, repos.Queue, logger)

	syncCfg := syncq.DefaultConfig()
	syncCfg.MaxRetries = c.MaxRetries
	syncCfg.DispatchInterval = c.DispatchInterval
	syncer := syncq.NewSyncer(repos.Queue, repos.Records, gw, manager, syncCfg, logger)
	manager.SetEnqueuer(syncer)

	var mirror monitor.MirrorProber
	if c.MirrorBucket != "" {
		mirror, err = monitor.NewS3Mirror(ctx, monitor.MirrorConfig{
			Endpoint:  c.MirrorEndpoint,
			Region:    c.MirrorRegion,
			Bucket:    c.MirrorBucket,
			AccessKey: c.MirrorAccessKey,
			SecretKey: c.MirrorSecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("mirror init error: %w", err)
		}
	}

	mon := monitor.New(bridge, mirror, syncer, c.OnlineCheckInterval,
		func(ctx context.Context) {
			if err := syncer.Drain(ctx); err != nil {
				logger.Error(ctx, "drain after reconnect failed", "error", err.Error())
			}
		}, logger)

	return &App{
		config:  c,
		logger:  logger,
		repos:   repos,
		syncer:  syncer,
		manager: manager,
		monitor: mon,
	}, nil
}

// Syncer exposes the queue service for embedding hosts (UI shells call
// Stage/Resolve through it).
func (app *App) Syncer() *syncq.Syncer { return app.syncer }

// Conflicts exposes the conflict manager for embedding hosts.
func (app *App) Conflicts() *conflict.Manager { return app.manager }

// Monitor exposes the connectivity monitor for embedding hosts.
func (app *App) Monitor() *monitor.Monitor { return app.monitor }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting agent...",
		"server", app.config.ServerEndpointAddr, "db", app.config.DatabaseDSN)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.syncer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.monitor.Run(ctx)
	}()

	wg.Wait()

	if err := app.repos.DB.Close(); err != nil {
		app.logger.Error(ctx, "closing database failed", "error", err.Error())
	}
}
