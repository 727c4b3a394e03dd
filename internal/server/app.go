// Package server initializes and runs the token service: storage, policy,
// providers, denylist, auditing, the HTTP endpoint, and the background sweep.
// It also owns graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/toolchainlabs/tokensvc/internal/audit"
	"github.com/toolchainlabs/tokensvc/internal/denylist"
	"github.com/toolchainlabs/tokensvc/internal/logging"
	"github.com/toolchainlabs/tokensvc/internal/policy"
	"github.com/toolchainlabs/tokensvc/internal/providers"
	"github.com/toolchainlabs/tokensvc/internal/server/api"
	"github.com/toolchainlabs/tokensvc/internal/server/config"
	"github.com/toolchainlabs/tokensvc/internal/server/repositories/repomanager"
	"github.com/toolchainlabs/tokensvc/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db       *sql.DB
	denylist denylist.Denylist
	auditor  audit.Auditor

	tokenService *services.TokenService
	sweepService *services.SweepService
	apiServer    *api.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	var engine *policy.Engine
	var registry providers.Registry
	if cfg.PolicyFile != "" {
		engine, err = policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("policy load error: %w", err)
		}
		registry, err = providers.BuildRegistry(ctx, engine.Providers())
		if err != nil {
			return nil, fmt.Errorf("provider init error: %w", err)
		}
	} else {
		logger.Warn(ctx, "no policy file configured, CI issuance disabled")
	}

	dl, err := buildDenylist(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("denylist init error: %w", err)
	}

	auditor, audits, err := buildAuditor(cfg)
	if err != nil {
		return nil, fmt.Errorf("auditor init error: %w", err)
	}

	tokenService := services.NewTokenService(db, rm, cfg, engine, registry, dl, auditor)
	sweepService := services.NewSweepService(db, rm, cfg, logger, auditor)
	apiServer := api.NewServer(tokenService, sweepService, audits, logger, []byte(cfg.SecretKey))

	return &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		denylist:     dl,
		auditor:      auditor,
		tokenService: tokenService,
		sweepService: sweepService,
		apiServer:    apiServer,
	}, nil
}

// openDB connects via the pgx stdlib driver, retrying the initial ping so a
// container start does not race the database.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(time.Second))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildDenylist(ctx context.Context, cfg *config.Config) (denylist.Denylist, error) {
	if cfg.RedisAddr != "" {
		return denylist.NewRedisDenylist(ctx, cfg.RedisAddr, cfg.RedisPassword)
	}
	return denylist.NewMemoryDenylist(), nil
}

// buildAuditor picks the audit sink. The second return is the queryable view
// handed to the API; nil when the sink cannot be queried.
func buildAuditor(cfg *config.Config) (audit.Auditor, api.AuditReader, error) {
	var base audit.Auditor
	var audits api.AuditReader

	if cfg.AuditLogFile != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLogFile)
		if err != nil {
			return nil, nil, err
		}
		base, audits = fa, fa
	} else {
		ma := audit.NewMemoryAuditor()
		base, audits = ma, ma
	}

	if cfg.S3BaseEndpoint != "" && cfg.S3Bucket != "" {
		base = audit.NewS3Archiver(base, audit.S3Options{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		}, 100)
	}

	return base, audits, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:         app.config.EndpointAddrHTTP,
		Handler:      app.apiServer.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "http endpoint listening", "addr", app.config.EndpointAddrHTTP)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sweepService.RunPeriodic(ctx)
	}()

	wg.Wait()

	if err := app.auditor.Close(); err != nil {
		app.logger.Error(ctx, "auditor close error", "error", err)
	}
	if err := app.denylist.Close(); err != nil {
		app.logger.Error(ctx, "denylist close error", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}

	app.logger.Info(ctx, "app stopped")
}
