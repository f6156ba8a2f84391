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

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/agentbazaar/internal/config"
	"github.com/mbd888/agentbazaar/internal/directory"
	"github.com/mbd888/agentbazaar/internal/health"
	"github.com/mbd888/agentbazaar/internal/logging"
	"github.com/mbd888/agentbazaar/internal/marketplace"
	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/onchain"
	"github.com/mbd888/agentbazaar/internal/paywall"
	"github.com/mbd888/agentbazaar/internal/ratelimit"
	"github.com/mbd888/agentbazaar/internal/realtime"
	"github.com/mbd888/agentbazaar/internal/security"
	"github.com/mbd888/agentbazaar/internal/settlement"
	"github.com/mbd888/agentbazaar/internal/traces"
	"github.com/mbd888/agentbazaar/internal/usdc"
	"github.com/mbd888/agentbazaar/internal/validation"
	"github.com/mbd888/agentbazaar/internal/watcher"
)

// Version is reported by /health and /api.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        directory.Store
	registry     marketplace.Registry
	chain        *onchain.Registry // nil unless dialed by New
	settler      settlement.Settler
	settlerReady func() bool
	marketplace  *marketplace.Handler
	gate         paywall.Config
	watcher      *watcher.Watcher
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
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

// WithStore sets the agent directory (for testing)
func WithStore(store directory.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithRegistry sets the on-chain registry instead of dialing one (for testing)
func WithRegistry(r marketplace.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithSettler replaces the facilitator client (for testing). The settler is
// treated as ready.
func WithSettler(st settlement.Settler) Option {
	return func(s *Server) {
		s.settler = st
		s.settlerReady = func() bool { return true }
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()
	s.health = health.NewRegistry()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	inMemory := false
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			s.store = directory.NewPostgresStore(db)
			s.health.Register("database", health.Database(db))
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = directory.NewMemoryStore()
			inMemory = true
			s.logger.Info("using in-memory storage (data will not persist)")
		}
	}

	// On-chain registry. A dial failure is not fatal: the marketplace keeps
	// serving local data and rating routes report the registry as missing.
	if s.registry == nil && cfg.RegistryConfigured() {
		chain, err := onchain.New(onchain.Config{
			RPCURL:          cfg.RPCURL,
			RegistryAddress: cfg.RegistryAddress,
			CoordinatorKey:  cfg.CoordinatorPrivateKey,
			ChainID:         cfg.ChainID,
		}, onchain.WithLogger(s.logger))
		if err != nil {
			s.logger.Warn("agent registry unavailable", "error", err)
		} else {
			s.chain = chain
			s.registry = chain
			s.health.Register("registry", registryCheck(chain))
			s.logger.Info("agent registry enabled",
				"contract", chain.Address(),
				"coordinator", chain.Coordinator(),
				"writable", chain.CanWrite(),
			)
		}
	}

	if inMemory && s.registry == nil {
		if err := directory.Seed(ctx, s.store, directory.DemoAgents()); err != nil {
			return nil, fmt.Errorf("failed to seed demo agents: %w", err)
		}
		s.logger.Info("demo agents loaded")
	}

	// Settlement
	if s.settler == nil {
		facilitator := settlement.NewFacilitator(settlement.Config{
			URL:          cfg.FacilitatorURL,
			SecretKey:    cfg.FacilitatorSecret,
			ServerWallet: cfg.ServerWalletAddress,
			Timeout:      cfg.SettlementTimeout,
		}, settlement.WithLogger(s.logger))
		s.settler = facilitator
		s.settlerReady = facilitator.Ready
	}
	paymentsReady := s.settlerReady() && cfg.MerchantAddress != ""
	if !paymentsReady {
		s.logger.Warn("payment settlement not configured; paid routes will answer 500")
	}
	s.health.Register("payments", health.Configured("payments", paymentsReady,
		"FACILITATOR_SECRET_KEY, SERVER_WALLET_ADDRESS and MERCHANT_WALLET_ADDRESS are required"))

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)

	s.gate = paywall.Config{
		Settler:    s.settler,
		Ready:      s.settlerReady,
		PayTo:      cfg.MerchantAddress,
		Network:    cfg.Network,
		Asset:      cfg.USDCContract,
		BaseURL:    cfg.BaseURL,
		Logger:     s.logger,
		OnSettled:  s.paymentHook(realtime.EventPaymentSettled),
		OnRejected: s.paymentHook(realtime.EventPaymentRejected),
	}

	accessUnits, _ := usdc.Parse(cfg.AgentAccessPrice)
	mpOpts := []marketplace.Option{
		marketplace.WithPublisher(s.realtimeHub),
		marketplace.WithLogger(s.logger),
	}
	if s.registry != nil {
		mpOpts = append(mpOpts, marketplace.WithRegistry(s.registry))
	}
	s.marketplace = marketplace.NewHandler(s.store, s.gate, marketplace.Config{
		Network:               cfg.Network,
		ChainID:               cfg.ChainID,
		USDCAddress:           cfg.USDCContract,
		ContractAddress:       cfg.RegistryAddress,
		AgentAccessUnits:      accessUnits.String(),
		FacilitatorConfigured: paymentsReady,
		PublicClientID:        cfg.PublicClientID,
	}, mpOpts...)

	// Registry event watcher
	if s.chain != nil && cfg.WatchChain {
		wcfg := watcher.DefaultConfig()
		wcfg.Contract = common.HexToAddress(cfg.RegistryAddress)
		wcfg.PollInterval = cfg.WatchInterval
		s.watcher = watcher.New(wcfg, s.chain.Client(), s.chain, s.realtimeHub,
			watcher.WithDirectory(s.store),
			watcher.WithLogger(s.logger),
		)
		s.logger.Info("registry watcher configured", "interval", wcfg.PollInterval)
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

func registryCheck(chain *onchain.Registry) health.Checker {
	return func(ctx context.Context) health.Status {
		block, err := chain.Client().BlockNumber(ctx)
		if err != nil {
			return health.Status{Name: "registry", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "registry", Healthy: true, Detail: fmt.Sprintf("block %d", block)}
	}
}

// paymentHook forwards gate verdicts to live subscribers.
func (s *Server) paymentHook(t realtime.EventType) func(*gin.Context, paywall.Requirement, *settlement.Result) {
	return func(c *gin.Context, req paywall.Requirement, res *settlement.Result) {
		data := gin.H{
			"resource": req.Resource,
			"amount":   req.Amount,
			"network":  s.cfg.Network,
			"status":   res.Status,
		}
		if res.Payer != "" {
			data["payer"] = res.Payer
		}
		if res.Transaction != "" {
			data["transaction"] = res.Transaction
		}
		s.realtimeHub.Publish(t, validation.AgentID(c), data)
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
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
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(traces.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream id (load balancer, client) when present
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = logging.NewRequestID()
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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Pages
	s.router.GET("/", landingPageHandler)
	s.router.GET("/marketplace", marketplacePageHandler)
	s.router.GET("/marketplace/:id", validation.AgentIDParamMiddleware(), agentPageHandler)
	s.router.GET("/try", tryPageHandler)

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)
	api := s.router.Group("/api")
	s.marketplace.RegisterRoutes(api)

	basic, _ := usdc.Parse(s.cfg.BasicPrice)
	premium, _ := usdc.Parse(s.cfg.PremiumPrice)
	api.GET("/basic",
		paywall.Middleware(s.gate, paywall.Requirement{Amount: basic.String(), Description: "Basic tier"}),
		tierHandler("basic", "Welcome to Basic tier! You now have access to standard features."),
	)
	api.GET("/premium",
		paywall.Middleware(s.gate, paywall.Requirement{Amount: premium.String(), Description: "Premium tier"}),
		tierHandler("premium", "Welcome to Premium tier! You have unlocked all advanced features."),
	)
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
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
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

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "AgentBazaar",
		"description": "Pay-per-call AI agent marketplace",
		"version":     Version,
		"network":     s.cfg.Network,
		"chainId":     s.cfg.ChainID,
		"currency":    "USDC",
		"realtime":    s.realtimeHub.Stats(),
	})
}

func tierHandler(tier, data string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tier":      tier,
			"data":      data,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"network", s.cfg.Network,
			"baseURL", s.cfg.BaseURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.watcher != nil {
		if err := s.watcher.Start(runCtx); err != nil {
			s.logger.Error("failed to start registry watcher", "error", err)
			s.watcher = nil
		}
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.watcher != nil {
		s.watcher.Stop()
		s.logger.Info("registry watcher stopped")
	}

	// Pending recordCall/recordPayment writes carry their own timeout.
	s.marketplace.Wait()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.chain != nil {
		s.chain.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
