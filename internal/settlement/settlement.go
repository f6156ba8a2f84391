// Package settlement talks to an external x402 facilitator, the sole
// arbiter of whether a payment token is valid and settled.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConfigured = errors.New("settlement: facilitator not configured")
	ErrUnavailable   = errors.New("settlement: facilitator unavailable")
)

// Price is an amount in the asset's base units.
type Price struct {
	Amount string
	Asset  string
}

// Request describes one settlement attempt.
type Request struct {
	ResourceURL  string
	Method       string
	PaymentToken string // raw X-PAYMENT header value, may be empty
	PayTo        string
	Network      string
	Price        Price
	Description  string
}

// Result is the facilitator's verdict. Status 200 means settled. For any
// other status Body and Headers, when set, describe how to pay.
type Result struct {
	Status      int
	Body        json.RawMessage
	Headers     http.Header
	Payer       string
	Transaction string
}

// Settled reports whether the request was paid.
func (r *Result) Settled() bool {
	return r != nil && r.Status == http.StatusOK
}

// Settler settles payments for gated resources.
type Settler interface {
	Settle(ctx context.Context, req Request) (*Result, error)
}

// FacilitatorError is a non-2xx or unreadable facilitator response.
type FacilitatorError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *FacilitatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("settlement: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("settlement: %s: facilitator returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *FacilitatorError) Unwrap() error {
	return e.Err
}
