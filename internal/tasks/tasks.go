package tasks

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/registry"
	"github.com/desertthunder/rbxbridge/internal/services"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"golang.org/x/time/rate"
)

//go:generate mockgen -source=tasks.go -package tasks -destination tasks_mock.go

// Platform is the asset API an import uploads to.
// Implemented by [services.RobloxClient].
type Platform interface {
	CreateAsset(ctx context.Context, accessToken string, upload services.AssetUpload) (*services.Operation, error)
	GetOperation(ctx context.Context, accessToken, operationID string) (*services.Operation, error)
	AssetURL(assetID string) string
}

// TokenProvider supplies a usable access token at upload and poll time.
// Implemented by auth.Manager.
type TokenProvider interface {
	EnsureFreshToken(ctx context.Context) (models.TokenSet, error)
}

// HistoryRecorder persists finished imports. Implemented by repositories.HistoryRepository.
type HistoryRecorder interface {
	Record(ctx context.Context, op models.ImportOperation) error
}

// Options configures an [Importer].
type Options struct {
	Config   shared.ImportConfig
	Registry *registry.Registry
	Platform Platform
	Tokens   TokenProvider
	History  HistoryRecorder       // optional
	Client   *http.Client          // used for source downloads
	Progress chan<- ProgressUpdate // optional
	Logger   *log.Logger
}

// Importer runs imports in the background and tracks them in a [registry.Registry].
type Importer struct {
	cfg      shared.ImportConfig
	registry *registry.Registry
	platform Platform
	tokens   TokenProvider
	history  HistoryRecorder
	client   *http.Client
	progress chan<- ProgressUpdate
	logger   *log.Logger
	limiter  *rate.Limiter
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewImporter creates an Importer. Zero-valued limits in opts.Config fall back to the shipped defaults.
func NewImporter(opts Options) *Importer {
	cfg := withDefaults(opts.Config)
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New(cfg.Retention)
	}

	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Importer{
		cfg:      cfg,
		registry: reg,
		platform: opts.Platform,
		tokens:   opts.Tokens,
		history:  opts.History,
		client:   client,
		progress: opts.Progress,
		logger:   shared.WithLogger(logger, "component", "importer"),
		limiter:  rate.NewLimiter(limit, max(cfg.SubmitBurst, 1)),
		newID:    shared.GenerateID,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func withDefaults(cfg shared.ImportConfig) shared.ImportConfig {
	def := shared.DefaultConfig().Import
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = def.MaxDownloadBytes
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = def.UploadTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return cfg
}

// Registry returns the registry runs are tracked in.
func (im *Importer) Registry() *registry.Registry {
	return im.registry
}

// Start validates req, registers a pending operation and launches its run.
//
// It returns as soon as the operation is registered; the run never uses ctx.
func (im *Importer) Start(ctx context.Context, req models.ImportRequest) (string, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !im.limiter.Allow() {
		return "", fmt.Errorf("%w: import submissions are limited to %.1f/s", shared.ErrRateLimited, float64(im.limiter.Limit()))
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	if im.closed {
		return "", fmt.Errorf("%w: importer is shutting down", shared.ErrServiceUnavailable)
	}

	op := models.NewImportOperation(im.newID(), req, time.Now())
	if err := im.registry.Create(op); err != nil {
		return "", err
	}

	im.logger.Info("import accepted", "id", op.ID, "source", op.SourceURL, "format", op.Format)

	im.wg.Add(1)
	go func() {
		defer im.wg.Done()
		im.run(im.ctx, op.ID, req)
	}()
	return op.ID, nil
}

// Get returns the current snapshot of an import.
func (im *Importer) Get(id string) (models.ImportOperation, bool) {
	return im.registry.Get(id)
}

// List returns every retained import, newest first.
func (im *Importer) List() []models.ImportOperation {
	return im.registry.List()
}

// Close cancels in-flight runs and waits for them to record their outcome.
func (im *Importer) Close() {
	im.mu.Lock()
	im.closed = true
	im.mu.Unlock()

	im.cancel()
	im.wg.Wait()
}

// sendProgress sends a progress update through the channel without blocking.
func (im *Importer) sendProgress(update ProgressUpdate) {
	if im.progress == nil {
		return
	}
	select {
	case im.progress <- update:
	default:
	}
}
