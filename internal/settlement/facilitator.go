package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/agentbazaar/internal/circuitbreaker"
	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/traces"
	"github.com/mbd888/agentbazaar/pkg/x402"
)

const maxResponseBytes = 1 << 20

// Config configures the HTTP facilitator client.
type Config struct {
	URL               string
	SecretKey         string
	ServerWallet      string // wallet the facilitator settles from
	Timeout           time.Duration
	MaxTimeoutSeconds int // validity window offered to payers
}

// Facilitator settles payments through an x402 facilitator's /verify and
// /settle endpoints. It never retries; after repeated transport failures or
// 5xx answers it fails fast until the facilitator recovers.
type Facilitator struct {
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker
}

// Option configures a Facilitator.
type Option func(*Facilitator)

// WithHTTPClient injects an HTTP client (for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Facilitator) { f.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facilitator) { f.logger = l }
}

// WithBreaker replaces the circuit breaker guarding facilitator calls.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(f *Facilitator) { f.breaker = b }
}

// NewFacilitator creates a facilitator client.
func NewFacilitator(cfg Config, opts ...Option) *Facilitator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxTimeoutSeconds <= 0 {
		cfg.MaxTimeoutSeconds = 60
	}
	f := &Facilitator{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default(),
		breaker: circuitbreaker.New("facilitator", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var _ Settler = (*Facilitator)(nil)

// Ready reports whether the credential and server wallet are set.
func (f *Facilitator) Ready() bool {
	return f.cfg.URL != "" && f.cfg.SecretKey != "" && f.cfg.ServerWallet != ""
}

type facilitatorRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// Settle verifies then settles req.PaymentToken. A missing, malformed or
// rejected token is a 402 Result, not an error; errors are reserved for
// transport failures and unexpected facilitator responses.
func (f *Facilitator) Settle(ctx context.Context, req Request) (result *Result, err error) {
	if !f.Ready() {
		return nil, ErrNotConfigured
	}

	ctx, span := traces.StartSpan(ctx, "settlement.settle",
		traces.Resource(req.ResourceURL), traces.Amount(req.Price.Amount), traces.Network(req.Network))
	defer func() { traces.End(span, err) }()

	if req.PaymentToken == "" {
		return &Result{Status: http.StatusPaymentRequired}, nil
	}

	var payload x402.PaymentPayload
	if err := x402.DecodeHeader(req.PaymentToken, &payload); err != nil {
		return rejection(req, "Invalid payment", "X-PAYMENT header is not a valid x402 payment payload"), nil
	}
	if payload.Network != "" && payload.Network != req.Network {
		return rejection(req, "Invalid payment", fmt.Sprintf("payment is for network %q, expected %q", payload.Network, req.Network)), nil
	}

	body := facilitatorRequest{
		X402Version:         x402.Version,
		PaymentPayload:      payload,
		PaymentRequirements: f.requirements(req),
	}

	start := time.Now()
	defer func() { metrics.SettlementDuration.Observe(time.Since(start).Seconds()) }()

	var verify verifyResponse
	if err := f.post(ctx, "verify", body, &verify); err != nil {
		return nil, err
	}
	if !verify.IsValid {
		f.logger.InfoContext(ctx, "payment rejected by facilitator",
			"resource", req.ResourceURL, "reason", verify.InvalidReason, "payer", verify.Payer)
		return rejection(req, "Payment verification failed", reasonOr(verify.InvalidReason, "payment is not valid for this resource")), nil
	}

	var settled x402.SettlementResponse
	if err := f.post(ctx, "settle", body, &settled); err != nil {
		return nil, err
	}
	if !settled.Success {
		f.logger.WarnContext(ctx, "payment settlement failed",
			"resource", req.ResourceURL, "reason", settled.ErrorReason, "payer", verify.Payer)
		return rejection(req, "Payment settlement failed", reasonOr(settled.ErrorReason, "facilitator could not settle the payment")), nil
	}

	if settled.Network == "" {
		settled.Network = req.Network
	}
	if settled.Payer == "" {
		settled.Payer = verify.Payer
	}
	receipt, err := x402.EncodeHeader(settled)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set(x402.HeaderPaymentResponse, receipt)

	span.SetAttributes(traces.TxHash(settled.Transaction))
	return &Result{
		Status:      http.StatusOK,
		Headers:     headers,
		Payer:       settled.Payer,
		Transaction: settled.Transaction,
	}, nil
}

func (f *Facilitator) requirements(req Request) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           req.Network,
		MaxAmountRequired: req.Price.Amount,
		Resource:          req.ResourceURL,
		Description:       req.Description,
		MimeType:          "application/json",
		PayTo:             req.PayTo,
		MaxTimeoutSeconds: f.cfg.MaxTimeoutSeconds,
		Asset:             req.Price.Asset,
		// EIP-712 domain of USDC, used by payers to sign transferWithAuthorization.
		Extra: map[string]string{"name": "USD Coin", "version": "2"},
	}
}

func (f *Facilitator) post(ctx context.Context, op string, body any, out any) error {
	err := f.breaker.Do(func() error { return f.do(ctx, op, body, out) }, upstreamFailure)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &FacilitatorError{Op: op, Err: ErrUnavailable}
	}
	return err
}

// upstreamFailure reports whether err says the facilitator itself is
// unhealthy rather than the request being bad or abandoned.
func upstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *FacilitatorError
	if errors.As(err, &fe) && fe.Err == nil {
		return fe.Status >= 500
	}
	return true
}

func (f *Facilitator) do(ctx context.Context, op string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &FacilitatorError{Op: op, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL+"/"+op, bytes.NewReader(data))
	if err != nil {
		return &FacilitatorError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+f.cfg.SecretKey)
	httpReq.Header.Set("X-Settlement-Wallet", f.cfg.ServerWallet)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return &FacilitatorError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &FacilitatorError{Op: op, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return &FacilitatorError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &FacilitatorError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// rejection builds a 402 result whose body tells the caller how to pay.
func rejection(req Request, title, message string) *Result {
	body, _ := json.Marshal(x402.PaymentRequired{
		Error:   title,
		Message: message,
		Accepts: []x402.Accept{x402.NewAccept(req.Network, req.Price.Asset, req.Price.Amount)},
	})
	return &Result{Status: http.StatusPaymentRequired, Body: body}
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
