// Package server assembles the KYC service from its configuration and runs
// its long-lived parts: the HTTP API, the gRPC health endpoint and the
// expiry reaper.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/kycflow/internal/cryptox"
	"github.com/dmitrijs2005/kycflow/internal/logging"
	"github.com/dmitrijs2005/kycflow/internal/server/config"
	"github.com/dmitrijs2005/kycflow/internal/server/httpapi"
	"github.com/dmitrijs2005/kycflow/internal/server/metrics"
	"github.com/dmitrijs2005/kycflow/internal/server/notify"
	"github.com/dmitrijs2005/kycflow/internal/server/provider"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/kycflow/internal/server/services"
	"github.com/dmitrijs2005/kycflow/internal/server/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/kycflow/internal/server/grpc"
)

// sealSalt is the argon2 salt for the authorization code key. Changing it
// makes codes sealed by a running instance unreadable.
const sealSalt = "kycflow.authcode.v1"

// NotifyPrefix prefixes every Redis channel the server publishes on.
const NotifyPrefix = "kyc"

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	repos    repomanager.RepositoryManager
	svc      *services.VerificationService
	reaper   *services.ExpiryReaper
	registry *prometheus.Registry
	redis    *redis.Client
}

// NewApp wires every component. It opens the database pool lazily and does
// not touch the network.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(c.LogFormat)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	repos := repomanager.NewPostgresRepositoryManager(db)

	httpClient := &http.Client{Timeout: c.FetchTimeout}

	store, err := storage.NewS3Store(ctx, storage.S3Options{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	}, httpClient)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	prov, err := provider.NewHTTPClient(provider.Options{
		BaseURL:         c.ProviderBaseURL,
		AuthURL:         c.ProviderAuthURL,
		TokenURL:        c.ProviderTokenURL,
		ClientID:        c.ProviderClientID,
		ClientSecret:    c.ProviderClientSecret,
		RedirectURL:     c.CallbackURL,
		MaxDocumentSize: c.MaxDocumentSize,
		HTTPClient:      httpClient,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("provider init error: %w", err)
	}

	sealer, err := cryptox.NewSealer(c.CodeSecret, sealSalt)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sealer init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		config:   c,
		logger:   logger,
		db:       db,
		repos:    repos,
		registry: registry,
	}

	var notifier notify.Notifier = notify.Noop{}
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		notifier = notify.NewRedisNotifier(app.redis, NotifyPrefix)
	}

	app.svc = services.NewVerificationService(repos, prov, store, sealer, logger, services.Options{
		SessionTTL:        c.SessionTTL,
		FetchTimeout:      c.FetchTimeout,
		DocumentRetention: c.DocumentRetention,
		PresignTTL:        c.PresignTTL,
		StatusCacheTTL:    c.StatusCacheTTL,
		CASMaxAttempts:    c.CASMaxAttempts,
		CallbackURL:       c.CallbackURL,
		Notifier:          notifier,
		Metrics:           metrics.New(registry),
	})
	app.reaper = services.NewExpiryReaper(app.svc, c.ReaperInterval, c.ReaperBatchSize, logger)

	return app, nil
}

// Migrate brings the database schema up to date.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repos.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Sweep runs one expiry pass and returns the number of sessions expired.
func (app *App) Sweep(ctx context.Context) (int, error) {
	return app.svc.Sweep(ctx, app.config.ReaperBatchSize)
}

// Close waits for in-flight fetches and releases connections.
func (app *App) Close() error {
	app.svc.Wait()

	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	errs = append(errs, app.db.Close())
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runner is a component that serves until its context is done.
type runner interface {
	Run(ctx context.Context) error
}

func (app *App) start(ctx context.Context, cancelFunc context.CancelFunc, name string, r runner) {
	if err := r.Run(ctx); err != nil {
		app.logger.Error(ctx, "component failed", "component", name, "error", err)
		cancelFunc()
	}
}

// Run migrates the schema and serves until ctx is cancelled or a signal
// arrives.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.Migrate(ctx); err != nil {
		return err
	}

	httpServer := httpapi.NewHTTPServer(app.config.EndpointAddrHTTP, app.logger, app.svc, app.repos, app.config.SecretKey, app.registry)
	grpcServer := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.repos, 0)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.start(ctx, cancelFunc, "http", httpServer)
	}()
	go func() {
		defer wg.Done()
		app.start(ctx, cancelFunc, "grpc", grpcServer)
	}()
	go func() {
		defer wg.Done()
		app.reaper.Run(ctx)
	}()

	wg.Wait()

	app.logger.Info(context.Background(), "Stopped app")
	return app.Close()
}
