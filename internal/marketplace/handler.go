// Package marketplace serves the agent marketplace JSON API: listing and
// registration, merged on-chain views, pay-per-call invocation and rating
// eligibility.
package marketplace

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentbazaar/internal/directory"
	"github.com/mbd888/agentbazaar/internal/logging"
	"github.com/mbd888/agentbazaar/internal/onchain"
	"github.com/mbd888/agentbazaar/internal/paywall"
	"github.com/mbd888/agentbazaar/internal/realtime"
	"github.com/mbd888/agentbazaar/internal/validation"
)

// Registry is the on-chain collaborator. A nil Registry means the
// marketplace runs without a contract.
type Registry interface {
	Address() string
	RegisterAgent(ctx context.Context, owner, name string) (uint64, error)
	RecordCall(ctx context.Context, id uint64, user string, success bool) (string, error)
	RecordPayment(ctx context.Context, id uint64, payer string, amount *big.Int) (string, error)
	GetAgent(ctx context.Context, id uint64) (*onchain.Stats, error)
	CanRate(ctx context.Context, user string, id uint64) (bool, error)
}

var _ Registry = (*onchain.Registry)(nil)

// Publisher receives marketplace activity for live subscribers.
type Publisher interface {
	Publish(t realtime.EventType, agentID uint64, data any)
}

// Config holds the values the API reports and prices it charges.
type Config struct {
	Network               string
	ChainID               int64
	USDCAddress           string
	ContractAddress       string
	AgentAccessUnits      string // price of GET /api/agent/:id in USDC base units
	FacilitatorConfigured bool
	PublicClientID        string // wallet SDK client id handed to the browser
	ChainWriteTimeout     time.Duration
}

// DefaultChainWriteTimeout bounds background recordCall/recordPayment.
const DefaultChainWriteTimeout = 2 * time.Minute

// Handler serves the marketplace routes.
type Handler struct {
	store    directory.Store
	registry Registry
	gate     paywall.Config
	cfg      Config
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time

	background sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

// WithRegistry attaches the on-chain registry.
func WithRegistry(r Registry) Option {
	return func(h *Handler) { h.registry = r }
}

// WithPublisher attaches a live event sink.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates the marketplace handler.
func NewHandler(store directory.Store, gate paywall.Config, cfg Config, opts ...Option) *Handler {
	if cfg.ChainWriteTimeout <= 0 {
		cfg.ChainWriteTimeout = DefaultChainWriteTimeout
	}
	h := &Handler{
		store:  store,
		gate:   gate,
		cfg:    cfg,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the API under api (normally /api).
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/agents", h.ListAgents)
	api.POST("/agents", h.RegisterAgent)

	agent := api.Group("/agents/:id", validation.AgentIDParamMiddleware())
	agent.GET("", h.GetAgent)
	agent.POST("/call",
		h.loadAgent,
		h.bindCallRequest,
		paywall.MiddlewareFunc(h.gate, h.callRequirement),
		h.CallAgent,
	)
	agent.GET("/rate", h.CheckRating)
	agent.POST("/rate", h.SubmitRating)

	api.GET("/agent/:id",
		validation.AgentIDParamMiddleware(),
		paywall.Middleware(h.gate, paywall.Requirement{
			Amount:  h.cfg.AgentAccessUnits,
			Message: "Payment is required to access this agent",
		}),
		h.AgentAccess,
	)
	api.GET("/config", h.MarketplaceConfig)
}

// Wait blocks until background chain writes finish.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) publish(t realtime.EventType, agentID uint64, data any) {
	if h.events != nil {
		h.events.Publish(t, agentID, data)
	}
}

func (h *Handler) log(c *gin.Context) *slog.Logger {
	return h.logger.With("request_id", logging.RequestID(c.Request.Context()))
}
