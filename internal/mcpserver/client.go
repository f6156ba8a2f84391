package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/agentbazaar/pkg/x402"
)

// Config holds the configuration for connecting to an AgentBazaar server.
type Config struct {
	APIURL       string // Base URL, e.g. "http://localhost:8080"
	PaymentToken string // Pre-signed X-PAYMENT token presented when a call returns 402
	UserAddress  string // Default wallet address for calls and rating checks, e.g. "0x..."
	MaxAmount    string // Per-request spend cap in USDC base units; empty means unlimited
}

// PaymentRequiredError is returned when the server answers 402 and the
// client has no token it is willing to present.
type PaymentRequiredError struct {
	Required *x402.PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	if e.Required != nil && e.Required.Message != "" {
		return "payment required: " + e.Required.Message
	}
	return "payment required"
}

// MarketplaceClient is an HTTP client for the AgentBazaar API. Paid routes
// go through an x402 client so a configured token is sent on the retry.
type MarketplaceClient struct {
	cfg  Config
	http *x402.Client
}

// NewMarketplaceClient creates a new client for the marketplace API.
func NewMarketplaceClient(cfg Config) *MarketplaceClient {
	var payer x402.Payer
	if cfg.PaymentToken != "" {
		payer = x402.StaticToken(cfg.PaymentToken)
	}
	hc := x402.NewClient(payer).WithHTTPClient(&http.Client{
		Timeout: 30 * time.Second,
	})
	hc.MaxAmount = cfg.MaxAmount
	return &MarketplaceClient{cfg: cfg, http: hc}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and returns the response body and headers.
func (c *MarketplaceClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, http.Header, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, x402.ErrNoAcceptableOption) {
			return nil, nil, fmt.Errorf("price exceeds the configured spend cap of %s base units", c.cfg.MaxAmount)
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		var pr x402.PaymentRequired
		if err := json.Unmarshal(respBody, &pr); err != nil {
			return nil, nil, fmt.Errorf("API error (402): %s", string(respBody))
		}
		return nil, nil, &PaymentRequiredError{Required: &pr}
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && (apiErr.Message != "" || apiErr.Error != "") {
			msg := apiErr.Message
			if msg == "" {
				msg = apiErr.Error
			}
			return nil, nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
		}
		return nil, nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), resp.Header, nil
}

// ListAgents lists marketplace agents, optionally filtered by category and
// free-text query.
func (c *MarketplaceClient) ListAgents(ctx context.Context, category, query string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if query != "" {
		q.Set("q", query)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/api/agents", q, nil)
	return raw, err
}

// GetAgent returns one agent with its on-chain stats.
func (c *MarketplaceClient) GetAgent(ctx context.Context, id uint64) (json.RawMessage, error) {
	raw, _, err := c.doRequest(ctx, http.MethodGet, agentPath(id), nil, nil)
	return raw, err
}

// CallAgent sends a message to a paid agent. The settlement receipt is nil
// when the server did not return one.
func (c *MarketplaceClient) CallAgent(ctx context.Context, id uint64, message, userAddress string) (json.RawMessage, *x402.SettlementResponse, error) {
	if userAddress == "" {
		userAddress = c.cfg.UserAddress
	}
	body := map[string]string{"message": message, "userAddress": userAddress}
	raw, header, err := c.doRequest(ctx, http.MethodPost, agentPath(id)+"/call", nil, body)
	if err != nil {
		return nil, nil, err
	}
	var receipt *x402.SettlementResponse
	if h := header.Get(x402.HeaderPaymentResponse); h != "" {
		var s x402.SettlementResponse
		if x402.DecodeHeader(h, &s) == nil {
			receipt = &s
		}
	}
	return raw, receipt, nil
}

// CheckRating reports whether a wallet may rate an agent.
func (c *MarketplaceClient) CheckRating(ctx context.Context, id uint64, userAddress string) (json.RawMessage, error) {
	if userAddress == "" {
		userAddress = c.cfg.UserAddress
	}
	q := url.Values{}
	q.Set("userAddress", userAddress)
	raw, _, err := c.doRequest(ctx, http.MethodGet, agentPath(id)+"/rate", q, nil)
	return raw, err
}

// GetConfig returns the public marketplace configuration.
func (c *MarketplaceClient) GetConfig(ctx context.Context) (json.RawMessage, error) {
	raw, _, err := c.doRequest(ctx, http.MethodGet, "/api/config", nil, nil)
	return raw, err
}

func agentPath(id uint64) string {
	return "/api/agents/" + strconv.FormatUint(id, 10)
}
