// Package paywall implements the HTTP 402 pay-per-call gate.
// Every paid route in the marketplace goes through one middleware which
// hands the X-PAYMENT token to a settlement.Settler and either lets the
// request through or answers with the settler's verdict.
package paywall

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentbazaar/internal/logging"
	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/settlement"
	"github.com/mbd888/agentbazaar/pkg/x402"
)

const settlementKey = "paywall_settlement"

// DefaultMessage is used when a Requirement carries no message.
const DefaultMessage = "Payment is required to access this resource"

// Requirement describes the payment one request must carry.
type Requirement struct {
	Resource    string // request path, joined to BaseURL for the facilitator
	Method      string
	Amount      string // USDC base units
	Message     string
	Description string
}

// Resolver computes the requirement for a request. Returning an error
// aborts with 500 before settlement is attempted.
type Resolver func(c *gin.Context) (Requirement, error)

// Config for the gate.
type Config struct {
	Settler settlement.Settler

	// Ready reports whether the settlement credential and server wallet
	// are set. Nil means ready.
	Ready func() bool

	PayTo   string
	Network string
	Asset   string
	BaseURL string

	Logger *slog.Logger

	// Hooks
	OnSettled  func(c *gin.Context, req Requirement, res *settlement.Result)
	OnRejected func(c *gin.Context, req Requirement, res *settlement.Result)
}

func (cfg Config) configured() bool {
	if cfg.Settler == nil || cfg.PayTo == "" || cfg.Asset == "" || cfg.Network == "" {
		return false
	}
	return cfg.Ready == nil || cfg.Ready()
}

func (cfg Config) logger(c *gin.Context) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger.With("request_id", logging.RequestID(c.Request.Context()))
	}
	return logging.L(c.Request.Context())
}

// Middleware gates a route behind a fixed requirement.
func Middleware(cfg Config, req Requirement) gin.HandlerFunc {
	return MiddlewareFunc(cfg, func(*gin.Context) (Requirement, error) { return req, nil })
}

// MiddlewareFunc gates a route behind a requirement computed per request,
// such as an agent's own price.
func MiddlewareFunc(cfg Config, resolve Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		if !cfg.configured() {
			metrics.SettlementsTotal.WithLabelValues(route, "misconfigured").Inc()
			cfg.logger(c).Error("payment gate not configured", "route", route)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Server configuration error",
				"message": "Payment service is not properly configured",
			})
			return
		}

		req, err := resolve(c)
		if err != nil {
			metrics.SettlementsTotal.WithLabelValues(route, "error").Inc()
			cfg.logger(c).Error("payment requirement unavailable", "route", route, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Payment processing failed",
				"message": err.Error(),
			})
			return
		}
		if req.Resource == "" {
			req.Resource = c.Request.URL.Path
		}
		if req.Method == "" {
			req.Method = c.Request.Method
		}
		if req.Message == "" {
			req.Message = DefaultMessage
		}

		// gin canonicalizes header names, so x-payment is found too
		token := c.GetHeader(x402.HeaderPayment)

		res, err := cfg.Settler.Settle(c.Request.Context(), settlement.Request{
			ResourceURL:  resourceURL(cfg.BaseURL, req.Resource),
			Method:       req.Method,
			PaymentToken: token,
			PayTo:        cfg.PayTo,
			Network:      cfg.Network,
			Price:        settlement.Price{Amount: req.Amount, Asset: cfg.Asset},
			Description:  req.Description,
		})
		if err == nil && res == nil {
			err = errors.New("settler returned no result")
		}
		if err != nil {
			metrics.SettlementsTotal.WithLabelValues(route, "error").Inc()
			cfg.logger(c).Error("payment settlement failed", "route", route, "resource", req.Resource, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Payment processing failed",
				"message": err.Error(),
			})
			return
		}

		copyHeaders(c, res.Headers)

		if res.Settled() {
			metrics.SettlementsTotal.WithLabelValues(route, "settled").Inc()
			if units, ok := new(big.Int).SetString(req.Amount, 10); ok {
				f, _ := new(big.Float).SetInt(units).Float64()
				metrics.SettledUnitsTotal.WithLabelValues(route).Add(f)
			}
			c.Set(settlementKey, res)
			if cfg.OnSettled != nil {
				cfg.OnSettled(c, req, res)
			}
			c.Next()
			return
		}

		metrics.SettlementsTotal.WithLabelValues(route, "rejected").Inc()
		if cfg.OnRejected != nil {
			cfg.OnRejected(c, req, res)
		}
		status := res.Status
		if status == 0 {
			status = http.StatusPaymentRequired
		}
		if len(res.Body) > 0 {
			c.Data(status, "application/json; charset=utf-8", res.Body)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(status, x402.PaymentRequired{
			Error:   "Payment required",
			Message: req.Message,
			Accepts: []x402.Accept{x402.NewAccept(cfg.Network, cfg.Asset, req.Amount)},
		})
	}
}

// Settlement returns the settled result stored by the gate, or nil when
// the request did not pass through one.
func Settlement(c *gin.Context) *settlement.Result {
	v, ok := c.Get(settlementKey)
	if !ok {
		return nil
	}
	res, _ := v.(*settlement.Result)
	return res
}

func copyHeaders(c *gin.Context, h http.Header) {
	for name, values := range h {
		for i, v := range values {
			if i == 0 {
				c.Writer.Header().Set(name, v)
			} else {
				c.Writer.Header().Add(name, v)
			}
		}
	}
}

func resourceURL(base, path string) string {
	if base == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
