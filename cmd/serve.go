package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rbxbridge/internal/auth"
	"github.com/desertthunder/rbxbridge/internal/credentials"
	"github.com/desertthunder/rbxbridge/internal/instance"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/registry"
	"github.com/desertthunder/rbxbridge/internal/repositories"
	"github.com/desertthunder/rbxbridge/internal/server"
	"github.com/desertthunder/rbxbridge/internal/services"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/desertthunder/rbxbridge/internal/tasks"
	"github.com/urfave/cli/v3"
)

// historyRetention bounds how long finished imports stay in the database.
const historyRetention = 90 * 24 * time.Hour

// serveDefault serves when no subcommand is given.
func (r *Runner) serveDefault(ctx context.Context, cmd *cli.Command) error {
	ctx, err := r.Before(ctx, cmd)
	if err != nil {
		return err
	}
	return r.Serve(ctx, cmd)
}

// Serve runs the bridge until interrupted.
//
// The instance guard is taken before anything touches the database, so a second
// bridge exits with [shared.ErrAlreadyRunning] without side effects.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config
	if p := cmd.Int("port"); p > 0 {
		cfg.Bridge.Port = p
	}
	if cmd.Bool("no-browser") {
		cfg.Bridge.OpenBrowser = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.HasClientCredentials() {
		return fmt.Errorf("%w: set roblox.client_id and roblox.client_secret in %s, or export %s and %s",
			shared.ErrMissingCredentials, r.configPath, shared.EnvClientID, shared.EnvClientSecret)
	}

	guard, err := instance.Acquire(cfg.Bridge.LockPath, cfg.Bridge.Addr())
	if err != nil {
		return err
	}
	defer func() {
		if err := guard.Release(); err != nil {
			r.logger.Warn("failed to release instance guard", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBridge(ctx, cfg, r.logger)
	if err != nil {
		return err
	}
	defer b.Close()
	b.Start(ctx)

	var opener shared.BrowserOpener
	if cfg.Bridge.OpenBrowser {
		opener = shared.OpenBrowser
	}

	r.logger.Info("bridge listening",
		"addr", guard.Addr(),
		"frontend", cfg.Bridge.FrontendOrigin,
		"connected", b.auth.State(ctx).String(),
		"version", version,
	)
	return server.New(b.Handler(opener), r.logger).Serve(ctx, guard.Listener())
}

// bridge owns the long-lived components behind the control plane.
type bridge struct {
	cfg      *shared.Config
	db       *sql.DB
	auth     *auth.Manager
	registry *registry.Registry
	history  *repositories.HistoryRepository
	importer *tasks.Importer
	progress chan tasks.ProgressUpdate
	logger   *log.Logger
}

const defaultClientTimeout = 2 * time.Minute

func newBridge(ctx context.Context, cfg *shared.Config, logger *log.Logger) (*bridge, error) {
	db, err := shared.OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Every call also carries its own deadline; this bounds any that do not.
	httpClient := &http.Client{Timeout: max(cfg.Import.DownloadTimeout, cfg.Import.UploadTimeout, defaultClientTimeout)}
	roblox := services.NewRobloxClient(cfg.Roblox, httpClient)
	manager := auth.NewManager(auth.Options{
		Roblox:     cfg.Roblox,
		Auth:       cfg.Auth,
		Store:      store,
		Account:    roblox,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	reg := registry.New(cfg.Import.Retention)
	reg.OnTransition(func(prev models.Status, op models.ImportOperation) {
		logger.Debug("import transition", "id", op.ID, "from", prev, "to", op.Status)
	})

	history := repositories.NewHistoryRepository(db)
	progress := make(chan tasks.ProgressUpdate, 64)
	importer := tasks.NewImporter(tasks.Options{
		Config:   cfg.Import,
		Registry: reg,
		Platform: roblox,
		Tokens:   manager,
		History:  history,
		Client:   httpClient,
		Progress: progress,
		Logger:   logger,
	})

	return &bridge{
		cfg:      cfg,
		db:       db,
		auth:     manager,
		registry: reg,
		history:  history,
		importer: importer,
		progress: progress,
		logger:   logger,
	}, nil
}

func openStore(ctx context.Context, cfg *shared.Config, db *sql.DB, logger *log.Logger) (credentials.Store, error) {
	key, err := credentials.LoadOrCreateKey(cfg.Database.KeyPath)
	if err != nil {
		return nil, err
	}
	sealer, err := credentials.NewSealer(key)
	if err != nil {
		return nil, err
	}
	store, err := credentials.OpenSQLiteStore(ctx, repositories.NewCredentialRepository(db), sealer, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Start launches background maintenance. It stops when ctx is done.
func (b *bridge) Start(ctx context.Context) {
	go b.registry.Run(ctx, b.cfg.Import.SweepInterval)
	go b.reportProgress()

	if n, err := b.history.Prune(ctx, time.Now().Add(-historyRetention)); err != nil {
		b.logger.Warn("failed to prune import history", "error", err)
	} else if n > 0 {
		b.logger.Info("pruned import history", "removed", n)
	}
}

func (b *bridge) reportProgress() {
	for update := range b.progress {
		b.logger.Debug(update.Message, "id", update.OperationID, "phase", update.Phase)
	}
}

// Handler builds the control plane. A nil opener leaves authorization URLs for the caller to open.
func (b *bridge) Handler(opener shared.BrowserOpener) http.Handler {
	router := server.NewMuxRouter()
	router.Use(
		server.Recover(b.logger),
		server.Logging(b.logger),
		server.CORS(append(server.LoopbackOrigins(b.cfg.Bridge.Addr()), b.cfg.Bridge.FrontendOrigin)...),
	)
	router.Handler(server.NewBridgeHandler(server.BridgeOptions{
		Version:        version,
		FrontendOrigin: b.cfg.Bridge.FrontendOrigin,
		Auth:           b.auth,
		Imports:        b.importer,
		History:        b.history,
		OpenBrowser:    opener,
		Logger:         b.logger,
	}))
	return router
}

// Close waits for in-flight imports to record their outcome, then closes the database.
func (b *bridge) Close() error {
	b.importer.Close()
	close(b.progress)
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
