package x402

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"
)

// ErrNoAcceptableOption is returned when a 402 lists nothing the client
// is willing to pay.
var ErrNoAcceptableOption = errors.New("x402: no acceptable payment option")

// Payer turns a payment option into an X-PAYMENT token, typically by
// signing a transfer authorization with a wallet.
type Payer interface {
	Pay(ctx context.Context, resource string, accept Accept) (string, error)
}

// PayerFunc adapts a function to the Payer interface.
type PayerFunc func(ctx context.Context, resource string, accept Accept) (string, error)

func (f PayerFunc) Pay(ctx context.Context, resource string, accept Accept) (string, error) {
	return f(ctx, resource, accept)
}

// StaticToken is a Payer that always presents the same pre-signed token.
func StaticToken(token string) Payer {
	return PayerFunc(func(context.Context, string, Accept) (string, error) {
		return token, nil
	})
}

// Client wraps http.Client with automatic 402 payment handling
type Client struct {
	httpClient *http.Client
	payer      Payer

	MaxRetries int    // Payment attempts per request (default: 1)
	AutoPay    bool   // Automatically pay 402s (default: true)
	MaxAmount  string // Cap in base units; empty means unlimited

	// OnPayment is called before each paid retry.
	OnPayment func(resource string, accept Accept)
}

// NewClient creates a new x402-enabled HTTP client
func NewClient(payer Payer) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		payer:      payer,
		MaxRetries: 1,
		AutoPay:    true,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Do performs an HTTP request, paying and retrying on 402. When payment is
// not possible the 402 response itself is returned with its body intact.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("x402: read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; ; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("x402: request failed: %w", err)
		}
		if !Is402Response(resp) || !c.AutoPay || c.payer == nil || attempt >= c.MaxRetries {
			return resp, nil
		}

		raw, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("x402: read 402 body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(raw))

		pr, err := ParsePaymentRequired(resp)
		if err != nil {
			return nil, err
		}
		accept, err := c.choose(pr.Accepts)
		if err != nil {
			return nil, err
		}

		token, err := c.payer.Pay(ctx, req.URL.String(), accept)
		if err != nil {
			return nil, fmt.Errorf("x402: payment failed: %w", err)
		}
		if c.OnPayment != nil {
			c.OnPayment(req.URL.String(), accept)
		}
		req.Header.Set(HeaderPayment, token)
	}
}

func (c *Client) choose(accepts []Accept) (Accept, error) {
	var limit *big.Int
	if c.MaxAmount != "" {
		var ok bool
		if limit, ok = new(big.Int).SetString(c.MaxAmount, 10); !ok {
			return Accept{}, fmt.Errorf("x402: invalid max amount %q", c.MaxAmount)
		}
	}
	for _, a := range accepts {
		amount, ok := new(big.Int).SetString(a.Amount, 10)
		if !ok {
			continue
		}
		if limit == nil || amount.Cmp(limit) <= 0 {
			return a, nil
		}
	}
	return Accept{}, ErrNoAcceptableOption
}

// Get performs a GET request with automatic 402 handling
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}
