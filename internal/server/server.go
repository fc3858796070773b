// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/txguard/internal/config"
	"github.com/mbd888/txguard/internal/graph"
	"github.com/mbd888/txguard/internal/health"
	"github.com/mbd888/txguard/internal/idgen"
	"github.com/mbd888/txguard/internal/intel"
	"github.com/mbd888/txguard/internal/logging"
	"github.com/mbd888/txguard/internal/metrics"
	"github.com/mbd888/txguard/internal/onchain"
	"github.com/mbd888/txguard/internal/ratelimit"
	"github.com/mbd888/txguard/internal/realtime"
	"github.com/mbd888/txguard/internal/risk"
	"github.com/mbd888/txguard/internal/security"
	"github.com/mbd888/txguard/internal/snapshot"
	"github.com/mbd888/txguard/internal/validation"
)

// DefaultDrainDelay is how long Shutdown waits after flipping readiness so
// load balancers stop routing before connections are drained.
const DefaultDrainDelay = 5 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	provider     onchain.Provider
	rpc          *onchain.RPCProvider // nil unless dialed here
	intelSource  intel.Source
	edgeSource   graph.Source
	holder       *snapshot.Holder
	worker       *snapshot.Worker
	engine       *risk.Engine
	realtimeHub  *realtime.Hub
	healthChecks *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil without DATABASE_URL
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health and /.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithProvider sets the on-chain provider instead of dialing RPC_URL (for testing)
func WithProvider(p onchain.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithIntelSource adds a scam intelligence source alongside the configured ones.
func WithIntelSource(src intel.Source) Option {
	return func(s *Server) {
		s.intelSource = src
	}
}

// WithEdgeSource adds an association edge source alongside the configured ones.
func WithEdgeSource(src graph.Source) Option {
	return func(s *Server) {
		s.edgeSource = src
	}
}

// WithDataset pre-loads a dataset so the server is ready before the first reload.
func WithDataset(d *snapshot.Dataset) Option {
	return func(s *Server) {
		s.holder = snapshot.NewHolder(d)
	}
}

// WithDrainDelay overrides DefaultDrainDelay.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		drainDelay: DefaultDrainDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}
	if s.holder == nil {
		s.holder = snapshot.NewHolder(nil)
	}

	ctx := context.Background()

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL intelligence store", "url", maskDSN(cfg.DatabaseURL))
	}

	if s.provider == nil && cfg.RPCURL != "" {
		var explorer *onchain.Explorer
		if cfg.ExplorerAPIKey != "" {
			explorer = onchain.NewExplorer(cfg.ExplorerURL, cfg.ExplorerAPIKey, cfg.ChainID)
		} else {
			s.logger.Warn("EXPLORER_API_KEY not set, contract verification and age will be reported as unknown")
		}
		rpc, err := onchain.DialRPC(ctx, cfg.RPCURL, explorer)
		if err != nil {
			s.closeDB()
			return nil, fmt.Errorf("failed to dial RPC: %w", err)
		}
		s.rpc = rpc
		s.provider = rpc
		s.logger.Info("on-chain signals enabled", "chain_id", cfg.ChainID)
	}
	if s.provider == nil {
		s.logger.Warn("RPC_URL not set, on-chain signals will be reported as unknown")
	}

	var collector *onchain.Collector
	if s.provider != nil {
		collector = onchain.NewCollector(s.provider,
			onchain.WithTimeout(cfg.SignalTimeout),
			onchain.WithRetry(cfg.SignalAttempts, 100*time.Millisecond),
		)
	} else {
		collector = onchain.NewCollector(nil)
	}

	loader := &snapshot.Loader{
		Intel:    s.buildIntelSource(),
		Edges:    s.buildEdgeSource(),
		MaxDepth: cfg.MaxHopDepth,
	}
	s.worker = snapshot.NewWorker(loader, s.holder, cfg.SnapshotRefresh, s.logger)
	s.engine = risk.NewEngine(s.holder, collector)
	s.realtimeHub = realtime.NewHub(s.engine, s.logger)

	s.healthChecks = health.NewRegistry()
	s.healthChecks.Register("snapshot", s.worker.HealthCheck(time.Now))
	if s.rpc != nil {
		s.healthChecks.Register("rpc", s.rpc.HealthCheck())
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// buildIntelSource combines every configured intelligence source.
func (s *Server) buildIntelSource() intel.Source {
	var sources intel.MultiSource
	if p := s.cfg.IntelFeedPath; p != "" {
		sources = append(sources, &intel.FileSource{Path: p})
	}
	if u := s.cfg.IntelFeedURL; u != "" {
		sources = append(sources, intel.NewHTTPSource(u))
	}
	if s.db != nil {
		sources = append(sources, intel.NewPostgresStore(s.db))
	}
	if len(s.cfg.KafkaBrokers) > 0 {
		sources = append(sources, intel.NewKafkaSource(s.cfg.KafkaBrokers, s.cfg.KafkaIntelTopic))
	}
	if s.intelSource != nil {
		sources = append(sources, s.intelSource)
	}
	if len(sources) == 0 {
		s.logger.Warn("no scam intelligence source configured, registry will be empty")
		return nil
	}
	return sources
}

// buildEdgeSource combines every configured association edge source.
func (s *Server) buildEdgeSource() graph.Source {
	var sources graph.MultiSource
	if p := s.cfg.GraphPath; p != "" {
		sources = append(sources, &graph.FileSource{Path: p})
	}
	if s.db != nil {
		sources = append(sources, graph.NewPostgresStore(s.db))
	}
	if s.edgeSource != nil {
		sources = append(sources, s.edgeSource)
	}
	if len(sources) == 0 {
		return nil
	}
	return sources
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(nil))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/", s.infoHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	riskHandler := risk.NewHandler(s.engine).WithReloader(s.worker)
	riskHandler.RegisterRoutes(v1)
	s.realtimeHub.RegisterRoutes(v1)

	admin := v1.Group("/admin")
	admin.Use(security.RequireAdmin(s.cfg.AdminSecret))
	riskHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.healthChecks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler reports ready once Run has started and a dataset is loaded.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if s.holder.Load() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": snapshot.ErrNotLoaded.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  "txguard",
		"version":  s.version,
		"snapshot": s.holder.Load().Info(),
		"endpoints": []string{
			"POST /v1/risk/assess",
			"GET /v1/risk/ws",
			"GET /v1/intel/:address",
			"GET /v1/snapshot",
		},
		"realtime": s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches background work: snapshot reloads, the realtime hub and the
// runtime metrics collector. Run calls it; tests may call it directly.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.worker.Start(runCtx)
	go s.realtimeHub.Run(runCtx)
	go metrics.StartRuntimeCollector(runCtx, s.db, 15*time.Second)

	s.ready.Store(true)
	s.logger.Info("server ready")
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Cancel the context for background goroutines (hub, reload worker, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.worker.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.rpc != nil {
		s.rpc.Close()
	}

	s.closeDB()

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the assessment engine.
func (s *Server) Engine() *risk.Engine {
	return s.engine
}
