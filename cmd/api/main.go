package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/clock"
	"scanattend/internal/config"
	"scanattend/internal/handler"
	"scanattend/internal/httpmiddleware"
	"scanattend/internal/logging"
	"scanattend/internal/metrics"
	"scanattend/internal/queue"
	"scanattend/internal/store"
	"scanattend/internal/timetable"
	"scanattend/migrations"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

// backend is the storage side selected by STORE_BACKEND.
type backend struct {
	store   attendance.Store
	reader  attendance.Reader
	people  attendance.Directory
	devices attendance.DeviceRegistry
	checks  map[string]handler.Check
	close   func()
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	offset, err := clock.ParseOffset(cfg.CivilOffset)
	if err != nil {
		return fmt.Errorf("CIVIL_OFFSET: %w", err)
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	tt := catalog.Active()
	resolver := clock.NewResolver(offset, nil)
	logger.Info("timetable loaded",
		"version", tt.Version(), "available", catalog.Versions(), "civil_offset", resolver.Offset().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	be, err := openBackend(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer be.close()

	// Without Redis there is no month cache to invalidate, so nothing is published.
	var (
		publisher  handler.Publisher
		monthCache attendance.MonthCache
	)
	switch {
	case cfg.QueueBackend != "memory":
		publisher = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		monthCache = attendance.NewRedisMonthCache(redisClient.Client, cfg.MonthCacheTTL)
		be.checks["redis"] = redisClient.Healthy
	case cfg.StoreBackend != "memory":
		mem := queue.NewInMemory(64)
		publisher = mem
		monthCache = attendance.NewRedisMonthCache(redisClient.Client, cfg.MonthCacheTTL)
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return fmt.Errorf("consume memory queue: %w", err)
		}
		go attendance.ConsumeRecorded(ctx, msgs, monthCache, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	h := handler.New(handler.Deps{
		Recorder:  attendance.NewRecorder(be.store, be.people, tt, resolver),
		Queries:   attendance.NewQueryService(be.reader, monthCache, logger),
		Devices:   be.devices,
		Publisher: publisher,
		Clock:     resolver,
		Metrics:   m,
		Logger:    logger,
		Tokens:    handler.TokenConfig{SigningKey: cfg.JWTSigningKey, Issuer: cfg.JWTIssuer, TTL: cfg.AccessTTL},
		Checks:    be.checks,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", auth.APIKeyHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	h.Register(r, handler.Guards{
		Scan:      auth.ScanAuth(cfg.DeviceAPIKeys, cfg.JWTSigningKey, cfg.JWTIssuer),
		Read:      auth.ReadAuth(cfg.DeviceAPIKeys, cfg.JWTSigningKey, cfg.JWTIssuer),
		Provision: auth.APIKeyAuth(cfg.DeviceAPIKeys),
		Limit:     limiter.GinMiddleware(httpmiddleware.ByPrincipal(auth.PrincipalKey)),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

func loadCatalog(cfg config.App) (*timetable.Catalog, error) {
	var (
		catalog *timetable.Catalog
		err     error
	)
	if cfg.TimetableFile != "" {
		catalog, err = timetable.LoadFile(cfg.TimetableFile)
	} else {
		catalog, err = timetable.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load timetable: %w", err)
	}
	if cfg.TimetableVersion != "" {
		if catalog, err = catalog.WithActive(cfg.TimetableVersion); err != nil {
			return nil, fmt.Errorf("TIMETABLE_VERSION: %w", err)
		}
	}
	return catalog, nil
}

func openBackend(ctx context.Context, cfg config.App, redisClient *store.Redis, logger *slog.Logger) (*backend, error) {
	if cfg.StoreBackend == "memory" {
		if len(cfg.RosterIDs) == 0 {
			logger.Warn("memory store has an empty roster; every scan will be PersonNotFound")
		}
		mem := attendance.NewMemoryStore()
		return &backend{
			store:   mem,
			reader:  mem,
			people:  attendance.NewStaticDirectory(cfg.RosterIDs...),
			devices: mem,
			checks:  map[string]handler.Check{},
			close:   func() {},
		}, nil
	}

	pool := store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := migrations.Up(ctx, db.Client); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if cfg.ReadDatabaseURL != "" {
		if err := db.AttachReplica(ctx, cfg.ReadDatabaseURL, pool); err != nil {
			logger.Warn("read replica unavailable, reading from primary", "error", err)
		}
	}

	repo := attendance.NewRepository(db.Client, db.Reader())
	return &backend{
		store:   repo,
		reader:  repo,
		people:  attendance.NewCachedDirectory(repo, redisClient.Client, 10*time.Minute),
		devices: repo,
		checks:  map[string]handler.Check{"db": db.Healthy},
		close:   func() { _ = db.Close() },
	}, nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
