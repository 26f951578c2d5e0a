// Package server wires configuration, storage, the user directory and the
// network front ends together and runs them until a shutdown signal.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/dmitrijs2005/cosauth/internal/server/auth"
	"github.com/dmitrijs2005/cosauth/internal/server/config"
	"github.com/dmitrijs2005/cosauth/internal/server/directory"
	"github.com/dmitrijs2005/cosauth/internal/server/metrics"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore"
	"github.com/dmitrijs2005/cosauth/internal/server/rest"

	gs "github.com/dmitrijs2005/cosauth/internal/server/grpc"
)

const (
	initTimeout         = 30 * time.Second
	healthProbeInterval = 15 * time.Second
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     objectstore.Store
	closeFn   func() error
	directory *directory.Service
	tokens    *auth.TokenIssuer
	metrics   *metrics.Metrics
	handler   *rest.Handler
}

// OpenStore builds the object store selected by cfg.StorageBackend. The
// returned close function releases backend resources.
func OpenStore(ctx context.Context, cfg *config.Config) (objectstore.Store, func() error, error) {
	nop := func() error { return nil }

	switch cfg.StorageBackend {
	case config.BackendMemory:
		return objectstore.NewMemoryStore(), nop, nil
	case config.BackendPostgres:
		s, err := objectstore.OpenPostgresStore(cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db init error: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Region:             cfg.S3Region,
			AccessKeyID:        cfg.S3RootUser,
			SecretAccessKey:    cfg.S3RootPassword,
			BaseEndpoint:       cfg.S3BaseEndpoint,
			Bucket:             cfg.S3Bucket,
			LocationConstraint: cfg.S3LocationConstraint,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("object store init error: %w", err)
		}
		return s, nop, nil
	}
}

// NewDirectory builds the directory service for cfg on top of store.
func NewDirectory(cfg *config.Config, store objectstore.Store, logger logging.Logger, obs directory.Observer) *directory.Service {
	return directory.NewService(store, auth.NewHasher(cfg.BcryptCost), directory.Options{
		ConditionalWrites: cfg.ConditionalWrites,
		IndexRetries:      cfg.IndexRetries,
		Logger:            logger.With("module", "directory"),
		Observer:          obs,
	})
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
	if c.SecretKey == config.DefaultSecretKey {
		logger.Warn(ctx, "JWT secret is the development default; set JWT_SECRET")
	}

	store, closeFn, err := OpenStore(ctx, c)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	dir := NewDirectory(c, store, logger, m)

	tokens, err := auth.NewTokenIssuer([]byte(c.SecretKey), c.AccessTokenValidityDuration, auth.WithCacheObserver(m))
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	h := rest.NewHandler(dir, auth.NewAuthenticator(dir), tokens, auth.NewHasher(c.BcryptCost), logger, c.Version)

	return &App{
		config:    c,
		logger:    logger,
		store:     store,
		closeFn:   closeFn,
		directory: dir,
		tokens:    tokens,
		metrics:   m,
		handler:   h,
	}, nil
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

// initStorage creates the bucket and the empty index. A failure is logged
// and the server keeps running in degraded mode, reporting storage as
// disconnected on /health.
func (app *App) initStorage(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	if err := app.directory.Init(ctx); err != nil {
		app.logger.Error(ctx, "storage initialisation failed, starting degraded", "error", err)
		return
	}
	app.logger.Info(ctx, "storage initialised", "backend", app.config.StorageBackend)
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	router := rest.NewRouter(app.handler, rest.RouterOptions{
		CORSOrigins: app.config.CORSAllowedOrigins,
		Metrics:     app.metrics.Handler(),
		Observer:    app.metrics,
		Logger:      app.logger,
	})

	s := rest.NewHTTPServer(app.config.EndpointAddrHTTP, router, app.logger)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCHealthServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewHealthServer(app.config.EndpointAddrGRPCHealth, app.logger, app.directory, healthProbeInterval)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close(ctx)

	app.logger.Info(ctx, "Starting app...", "version", app.config.Version)

	app.initSignalHandler(cancelFunc)
	app.initStorage(ctx)

	if app.config.ReconcileSchedule != "" {
		sched, err := directory.NewScheduler(app.config.ReconcileSchedule, app.directory, app.logger.With("module", "reconciler"))
		if err != nil {
			app.logger.Error(ctx, err.Error())
			return
		}
		sched.Start()
		defer sched.Stop(context.Background())
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.EndpointAddrGRPCHealth != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startGRPCHealthServer(ctx, cancelFunc)
		}()
	}

	wg.Wait()
}

func (app *App) close(ctx context.Context) {
	app.tokens.Close()
	if err := app.closeFn(); err != nil {
		app.logger.Error(ctx, "closing store failed", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
