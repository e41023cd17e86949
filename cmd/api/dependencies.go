package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/extraction"
	importhandler "github.com/FACorreiaa/statement-ledger/internal/domain/import/handler"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	importrepo "github.com/FACorreiaa/statement-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/statement-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/statement-ledger/internal/domain/notify"
	"github.com/FACorreiaa/statement-ledger/internal/domain/search"

	"github.com/FACorreiaa/statement-ledger/pkg/config"
	"github.com/FACorreiaa/statement-ledger/pkg/cron"
	"github.com/FACorreiaa/statement-ledger/pkg/db"
	"github.com/FACorreiaa/statement-ledger/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	RunRepo importrepo.RunRepository

	// Services
	FileStorage      storage.Storage
	Extractor        *extraction.GeminiExtractor
	Renderer         *parser.PDFRenderer
	OriginIndex      *search.OriginIndex
	Mailer           *notify.ReportMailer
	StatementService *importservice.StatementService
	Janitor          *cron.Scheduler

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	// Initialize services
	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	if err := deps.initHandlers(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations.
// Runs are not persisted when the database is disabled.
func (d *Dependencies) initDatabase() error {
	if !d.Config.Database.Enabled {
		d.Logger.Warn("database disabled; runs will not be persisted")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	if d.DB != nil {
		d.RunRepo = importrepo.NewPostgresRunRepository(d.DB.Pool)
	}

	d.Logger.Info("repositories initialized", slog.Bool("persistence", d.RunRepo != nil))
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context) error {
	cfg := d.Config

	// Page image storage, purged by the janitor
	fileStorage, err := storage.New(ctx, &storage.Config{
		Type:              storage.StorageType(cfg.Storage.Type),
		LocalPath:         cfg.Storage.LocalPath,
		S3Bucket:          cfg.Storage.S3Bucket,
		S3Region:          cfg.Storage.S3Region,
		S3AccessKeyID:     cfg.Storage.S3AccessKeyID,
		S3SecretAccessKey: cfg.Storage.S3SecretAccessKey,
		S3Endpoint:        cfg.Storage.S3Endpoint,
		S3Prefix:          cfg.Storage.S3Prefix,
	})
	if err != nil {
		return fmt.Errorf("failed to init file storage: %w", err)
	}
	d.FileStorage = fileStorage
	d.Janitor = cron.NewScheduler(fileStorage, cfg.Storage.Retention, cfg.Storage.JanitorSchedule, d.Logger)

	client, err := extraction.NewGeminiClient(ctx, cfg.Gemini.APIKey)
	if err != nil {
		return err
	}
	d.Extractor = extraction.NewGeminiExtractor(client, extraction.GeminiConfig{
		Model:             cfg.Gemini.Model,
		RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
		Burst:             cfg.Gemini.Burst,
		Timeout:           cfg.Gemini.Timeout,
	}, d.Logger)

	d.Renderer = parser.NewPDFRenderer(cfg.Render.DPI)

	d.StatementService = importservice.NewStatementService(d.Renderer, d.Extractor, importservice.Config{
		DefaultThreshold: cfg.Normalization.Threshold,
		Concurrency:      cfg.Gemini.Concurrency,
		SanitizeOrigins:  cfg.Normalization.SanitizeOrigins,
		Currency:         cfg.Normalization.Currency,
		BalanceTerms:     cfg.Normalization.BalanceTerms,
	}, d.Logger).WithStorage(fileStorage)

	if d.RunRepo != nil {
		d.StatementService.WithRepository(d.RunRepo)
	}

	// Cross-run origin search
	if cfg.Search.Enabled {
		index, err := search.NewOriginIndex(cfg.Search.IndexPath)
		if err != nil {
			return fmt.Errorf("failed to open origin index: %w", err)
		}
		d.OriginIndex = index
		d.StatementService.WithOriginIndex(index)
		if d.RunRepo == nil {
			d.Logger.Warn("origin search enabled without a database; runs will not be indexed")
		}
	}

	// Report e-mails are only sent when RESEND_API_KEY is set
	d.Mailer = notify.NewReportMailer(cfg.Resend.APIKey, cfg.Resend.From, d.Logger)
	d.StatementService.WithMailer(d.Mailer)
	if !d.Mailer.Enabled() {
		d.Logger.Warn("RESEND_API_KEY not set; report e-mails disabled")
	}

	d.Logger.Info("services initialized",
		slog.String("model", d.Extractor.Model()),
		slog.String("storage", cfg.Storage.Type),
		slog.Int("render_dpi", d.Renderer.DPI()),
		slog.Bool("search", d.OriginIndex != nil),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.StatementService, d.Logger).
		WithMaxUploadBytes(d.Config.Server.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.OriginIndex != nil {
		if err := d.OriginIndex.Close(); err != nil {
			d.Logger.Warn("failed to close origin index", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
