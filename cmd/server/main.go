package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"licensehub/internal/caching"
	"licensehub/internal/config"
	"licensehub/internal/handlers"
	"licensehub/internal/jobs/background"
	"licensehub/internal/logs"
	"licensehub/internal/metrics"
	"licensehub/internal/middleware"
	"licensehub/internal/repositories"
	"licensehub/internal/services"
	"licensehub/internal/signing"
	"licensehub/pkg/database"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/random"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

const (
	apiVersion     = "v1"
	trialLockTTL   = 5 * time.Second
	archiveTimeout = 10 * time.Second
)

// version is stamped at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "licensehub: %v\n", err)
		os.Exit(1)
	}

	logger, err := logs.New(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "licensehub: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}

// stores bundles the persistence layer chosen by the database driver
type stores struct {
	licenses   repositories.LicenseStore
	admins     repositories.AdminRepository
	activities repositories.ActivityLogRepository
	close      func()
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*stores, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		activities := repositories.NewMemoryActivityLogRepo()
		admins := repositories.NewMemoryAdminRepo(activities)
		activities.AttachAdmins(admins)
		return &stores{
			licenses:   repositories.NewMemoryLicenseStore(),
			admins:     admins,
			activities: activities,
			close:      func() {},
		}, nil
	}

	pool, err := database.NewPool(ctx, cfg.DSN, cfg.MaxConns, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Database schema applied")
	}
	return &stores{
		licenses:   repositories.NewLicenseStore(pool),
		admins:     repositories.NewAdminRepo(pool),
		activities: repositories.NewActivityLogRepo(pool),
		close:      pool.Close,
	}, nil
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	storeTimeout := cfg.Database.StoreTimeout

	st, err := openStores(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.close()

	privateKey, publicKey, err := signing.LoadKeys(cfg.Signing.PrivateKeyPEM, cfg.Signing.PrivateKeyPath, cfg.Signing.PublicKeyPEM, cfg.Signing.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}
	engine, err := signing.NewEngine(privateKey, publicKey, clock)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	readiness := map[string]handlers.Pinger{"store": st.licenses}

	var (
		limiter caching.RateLimiter = caching.NewLocalLimiter()
		locker  services.DeviceLocker
	)
	if cfg.Redis.Enabled {
		cache := caching.NewRedisCacheService(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("Redis unreachable at startup; locks and rate limits degrade until it recovers")
		}
		limiter = cache
		locker = cache
		readiness["redis"] = cache
	}

	activities := services.NewActivityService(st.activities, clock, storeTimeout)

	lifecycleOpts := []services.LifecycleOption{services.WithMetrics(recorder), services.WithLogger(logger)}
	if locker != nil {
		lifecycleOpts = append(lifecycleOpts, services.WithDeviceLocker(locker))
	}
	lifecycle := services.NewLifecycleService(st.licenses, engine, activities, clock, services.LifecycleConfig{
		TrialDays:    cfg.License.TrialDays,
		StoreTimeout: storeTimeout,
		LockTTL:      trialLockTTL,
	}, lifecycleOpts...)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = random.String(32)
		logger.Warn("No JWT secret configured; using a random one, tokens will not survive a restart")
	}
	auth := services.NewAuthService(st.admins, activities, clock, services.AuthConfig{
		JWTSecret:    jwtSecret,
		TokenTTL:     cfg.Auth.TokenTTL,
		BcryptCost:   cfg.Auth.BcryptCost,
		StoreTimeout: storeTimeout,
	}, logger)

	if cfg.Auth.BootstrapEmail != "" && cfg.Auth.BootstrapPassword != "" {
		if _, _, err := auth.Bootstrap(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword, cfg.Auth.BootstrapName); err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}

	exporter := services.NewExportService()

	var archives services.ArchiveService
	if cfg.Storage.Enabled {
		objects, err := services.NewMinioStore(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket, cfg.Storage.UseSSL)
		if err != nil {
			return err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, archiveTimeout)
		err = objects.EnsureBucket(bucketCtx)
		cancel()
		if err != nil {
			return err
		}
		archives = services.NewArchiveService(objects, st.licenses, exporter, clock, storeTimeout, logger)
	}

	scheduler, err := background.NewJobScheduler(background.Config{
		ExportArchiveEnabled: cfg.Jobs.ExportArchiveEnabled,
		ExportArchiveCron:    cfg.Jobs.ExportArchiveCron,
	}, archives, locker, clock, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			logger.WithError(err).Warn("Scheduler shutdown failed")
		}
	}()

	limits := handlers.PageLimits{Default: cfg.License.DefaultPageSize, Max: cfg.License.MaxPageSize}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewRequestValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RemoveTrailingSlash())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{AllowOrigins: cfg.Server.AllowedOrigins}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.RequestMetrics(recorder))
	e.Use(middleware.VersionHeader(apiVersion, version))

	routes := handlers.Routes{
		Auth:            auth,
		Health:          handlers.NewHealthHandlers(readiness, version, logger),
		Licenses:        handlers.NewLicenseHandlers(lifecycle, services.NewLicenseService(st.licenses, activities, storeTimeout), exporter, clock, limits),
		Accounts:        handlers.NewAuthHandlers(auth, limits),
		Activities:      handlers.NewActivityHandlers(activities, limits),
		MetricsGatherer: registry,
		Logger:          logger,
	}
	if archives != nil {
		routes.Archives = handlers.NewArchiveHandlers(archives)
	}
	if cfg.RateLimit.Enabled {
		routes.CheckLimiter = limiter
		routes.CheckPerMinute = cfg.RateLimit.RequestsPerMinute
	}
	handlers.Register(e, routes)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.WithFields(logrus.Fields{
			"addr":    addr,
			"version": version,
			"driver":  cfg.Database.Driver,
			"redis":   cfg.Redis.Enabled,
			"storage": cfg.Storage.Enabled,
		}).Info("Licensehub server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
