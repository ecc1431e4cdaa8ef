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

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/internal/handlers"
	"github.com/zacharyr0th/aptos-stables/internal/middleware"
	"github.com/zacharyr0th/aptos-stables/internal/services"
	"github.com/zacharyr0th/aptos-stables/pkg/cache"
	"github.com/zacharyr0th/aptos-stables/pkg/janitor"
	"github.com/zacharyr0th/aptos-stables/pkg/logger"
	"github.com/zacharyr0th/aptos-stables/pkg/metrics"
	"github.com/zacharyr0th/aptos-stables/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	warmStartTimeout     = 5 * time.Second
	slowRequestThreshold = 2 * time.Second
)

// Server represents the main application server
type Server struct {
	httpServer    *http.Server
	config        *config.Config
	collector     *metrics.MetricsCollector
	supplyCache   *cache.Cache
	store         services.SnapshotStore
	supplyService *services.SupplyService
	quoteService  *services.QuoteService
	rateLimiter   *ratelimiter.RateLimiter
	router        *handlers.Router
	janitor       *janitor.Janitor
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	loggerConfig := &logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
		OutputPaths: cfg.Logging.OutputPaths,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		MaxBackups:  cfg.Logging.MaxBackups,
	}

	if err := logger.Initialize(loggerConfig); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting aptos-stables server",
		zap.String("address", cfg.Server.Address()),
		zap.String("indexer_endpoint", cfg.Indexer.Endpoint),
		zap.Int("assets", len(cfg.Assets)),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Int("rate_limit_window_limit", cfg.RateLimit.WindowLimit),
		zap.Int("rate_limit_burst_limit", cfg.RateLimit.BurstLimit),
		zap.Bool("snapshot_persistence", cfg.Snapshot.URI != ""),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("environment", cfg.Logging.Environment),
	)

	// Initialize and start server
	server, err := NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Start server with graceful shutdown
	if err := server.Start(); err != nil {
		log.Fatal("Server failed to start", zap.Error(err))
	}
}

// NewServer creates a new server instance with all dependencies
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()

	log.Info("Initializing server components")

	collector := metrics.NewMetricsCollector()

	log.Debug("Initializing supply cache")
	supplyCache := cache.New(cfg.Cache.MaxSize, cfg.Cache.TTL)

	log.Debug("Initializing rate limiter")
	rateLimiter := ratelimiter.New(ratelimiter.Config{
		WindowLimit:    cfg.RateLimit.WindowLimit,
		Window:         cfg.RateLimit.Window,
		BurstLimit:     cfg.RateLimit.BurstLimit,
		BurstWindow:    cfg.RateLimit.BurstWindow,
		IdleDecayAfter: cfg.RateLimit.IdleDecayAfter,
	})

	store, storeChecker, err := openSnapshotStore(ctx, &cfg.Snapshot, config.AssetKeys(cfg.Assets))
	if err != nil {
		return nil, err
	}

	log.Debug("Initializing supply service")
	indexer := services.NewGraphQLIndexer(&cfg.Indexer)
	supplyService := services.NewSupplyService(indexer, supplyCache, store, cfg.Assets, collector)

	warmCtx, cancel := context.WithTimeout(ctx, warmStartTimeout)
	loaded, err := supplyService.WarmStart(warmCtx)
	cancel()
	if err != nil {
		log.Warn("Failed to load supply snapshots, starting cold", zap.Error(err))
	} else {
		log.Info("Supply snapshots loaded", zap.Int("snapshots", loaded))
	}

	log.Debug("Initializing quote service")
	quoteService := services.NewQuoteService(services.NewCMCClient(&cfg.Quote), &cfg.Quote, collector)

	healthHandler := handlers.NewHealthHandler(storeChecker, supplyService)
	router := handlers.NewRouter(supplyService, quoteService, healthHandler, rateLimiter)

	log.Info("Server components initialized successfully")

	return &Server{
		config:        cfg,
		collector:     collector,
		supplyCache:   supplyCache,
		store:         store,
		supplyService: supplyService,
		quoteService:  quoteService,
		rateLimiter:   rateLimiter,
		router:        router,
		janitor:       janitor.New(log.Logger),
	}, nil
}

// openSnapshotStore connects to MongoDB when a URI is configured and
// otherwise keeps snapshots in memory
func openSnapshotStore(ctx context.Context, cfg *config.SnapshotConfig, keys []string) (services.SnapshotStore, services.StoreHealthChecker, error) {
	log := logger.GetLogger()

	if cfg.URI == "" {
		log.Info("No MongoDB URI configured, snapshots are kept in memory")
		return services.NewMemorySnapshotStore(), services.MemoryHealthChecker{}, nil
	}

	log.Debug("Connecting snapshot store", zap.String("database", cfg.Database), zap.String("collection", cfg.Collection))
	store, err := services.NewMongoSnapshotStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize snapshot store: %w", err)
	}

	indexes, err := store.EnsureIndexes(ctx)
	if err != nil {
		_ = store.Close(ctx)
		return nil, nil, fmt.Errorf("failed to create snapshot indexes: %w", err)
	}
	log.Info("Snapshot store ready", zap.Strings("indexes", indexes))

	return store, services.NewDatabaseHealthChecker(store, keys), nil
}

// Handler builds the Gin engine with the full middleware stack and routes
func (s *Server) Handler() *gin.Engine {
	// Set Gin mode based on environment
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	s.setupMiddleware(engine)
	s.setupRoutes(engine)
	return engine
}

// Start starts the HTTP server with graceful shutdown handling
func (s *Server) Start() error {
	log := logger.GetLogger()

	s.httpServer = &http.Server{
		Addr:              s.config.Server.Address(),
		Handler:           s.Handler(),
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Info("HTTP server configured",
		zap.String("address", s.httpServer.Addr),
		zap.Duration("read_timeout", s.config.Server.ReadTimeout),
		zap.Duration("write_timeout", s.config.Server.WriteTimeout),
		zap.Duration("idle_timeout", s.config.Server.IdleTimeout),
	)

	s.startCleanupRoutines()

	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	return s.waitForShutdown()
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware(engine *gin.Engine) {
	// Recovery middleware with structured logging (should be first)
	engine.Use(logger.RecoveryMiddleware())

	// Structured logging middleware with correlation IDs
	engine.Use(logger.LoggingMiddleware())

	engine.Use(middleware.ConcurrencyMiddleware(s.collector))
	engine.Use(middleware.SlowRequestMiddleware(slowRequestThreshold))
	engine.Use(middleware.MetricsMiddleware(s.collector))

	engine.Use(s.corsMiddleware())
}

// setupRoutes configures all application routes
func (s *Server) setupRoutes(engine *gin.Engine) {
	// Health check routes bypass the rate limiter
	s.router.SetupHealthRoutes(engine)

	// Rate limited API routes
	s.router.SetupRoutes(engine)

	// Monitoring endpoints
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.NewRegistry(s.collector), promhttp.HandlerOpts{})))
	engine.GET("/status", s.statusHandler)
}

// corsMiddleware allows the dashboard origin to read the API
func (s *Server) corsMiddleware() gin.HandlerFunc {
	origin := s.config.CORS.AllowOrigin

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, If-None-Match")
		c.Header("Access-Control-Expose-Headers", "ETag, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// statusHandler provides detailed status information
func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":      "aptos-stables",
		"status":       "running",
		"version":      "1.0.0",
		"uptime":       s.collector.GetUptime().String(),
		"cache":        s.supplyService.CacheStatus(),
		"cache_stats":  s.supplyCache.Stats(),
		"rate_clients": s.rateLimiter.Size(),
		"performance":  s.collector.GetMetrics(),

		"success_rate_percent":    s.collector.GetSuccessRate(),
		"cache_hit_ratio_percent": s.collector.GetCacheHitRatio(),
	})
}

// startCleanupRoutines starts background cleanup tasks
func (s *Server) startCleanupRoutines() {
	log := logger.GetLogger()

	s.janitor.Every("supply-cache", s.config.Cache.CleanupInterval, func() error {
		if removed := s.supplyCache.CleanExpired(); removed > 0 {
			log.Debug("Expired supply entries removed", zap.Int("removed", removed))
		}
		return nil
	})

	s.janitor.Every("rate-limiter", s.config.RateLimit.CleanupInterval, func() error {
		removed, decayed := s.rateLimiter.Sweep()
		if removed > 0 || decayed > 0 {
			log.Debug("Rate limiter swept", zap.Int("removed", removed), zap.Int("decayed", decayed))
		}
		return nil
	})

	s.janitor.Every("refresh-locks", s.config.Cache.TTL, func() error {
		s.supplyService.CleanupLocks()
		s.quoteService.CleanupLocks()
		return nil
	})

	s.janitor.Start()
}

// waitForShutdown waits for interrupt signal and performs graceful shutdown
func (s *Server) waitForShutdown() error {
	log := logger.GetLogger()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	timeout := s.config.Server.ShutdownTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("Shutting down HTTP server", zap.Duration("timeout", timeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.cleanup(ctx)

	log.Info("Server gracefully stopped")
	return nil
}

// cleanup performs cleanup of all services
func (s *Server) cleanup(ctx context.Context) {
	log := logger.GetLogger()

	log.Info("Cleaning up services...")

	s.janitor.Stop()

	if s.store != nil {
		log.Debug("Closing snapshot store")
		if err := s.store.Close(ctx); err != nil {
			log.Error("Error closing snapshot store", zap.Error(err))
		}
	}

	log.Info("Cleanup completed")

	// Sync logger before exit
	if err := log.Sync(); err != nil {
		fmt.Printf("Error syncing logger: %v\n", err)
	}
}
