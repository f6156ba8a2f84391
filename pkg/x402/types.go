// Package x402 holds the x402 (HTTP 402 Payment Required) wire types shared
// by the marketplace server, its facilitator client and Go callers.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// HeaderPayment carries the base64 payment payload on paid requests.
	HeaderPayment = "X-PAYMENT"
	// HeaderPaymentResponse carries the base64 settlement receipt.
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	AcceptType  = "application/x402-payment"
	Version     = 1
	SchemeExact = "exact"
)

// Asset identifies the token a price is denominated in.
type Asset struct {
	Address string `json:"address"`
}

// Accept describes one way a caller may pay for a resource. Amount is in
// the asset's base units.
type Accept struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Network string `json:"network"`
	Asset   Asset  `json:"asset"`
	Amount  string `json:"amount"`
}

// NewAccept builds the single accepted payment option for a price.
func NewAccept(network, asset, amount string) Accept {
	return Accept{
		Type:    AcceptType,
		Version: Version,
		Network: network,
		Asset:   Asset{Address: asset},
		Amount:  amount,
	}
}

// PaymentRequired is the body of a 402 response.
type PaymentRequired struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Accepts []Accept `json:"accepts,omitempty"`
}

// PaymentRequirements is what a facilitator verifies a payment against.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// SettlementResponse is the decoded X-PAYMENT-RESPONSE header.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Error represents an error body returned by the marketplace API.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EncodeHeader serializes v as base64 JSON for an x402 header.
func EncodeHeader(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("x402: marshal header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeHeader parses a base64 JSON x402 header into v. URL-safe and
// unpadded encodings are accepted too.
func DecodeHeader(s string, v any) error {
	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err = enc.DecodeString(s); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("x402: header is not base64: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("x402: header is not JSON: %w", err)
	}
	return nil
}

// Is402Response checks if an HTTP response is a 402 Payment Required
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentRequired reads the body of a 402 response.
func ParsePaymentRequired(resp *http.Response) (*PaymentRequired, error) {
	if !Is402Response(resp) {
		return nil, fmt.Errorf("x402: not a 402 response: got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("x402: read 402 body: %w", err)
	}
	var pr PaymentRequired
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("x402: parse 402 body: %w", err)
	}
	return &pr, nil
}

// ParseSettlement decodes the X-PAYMENT-RESPONSE header of a paid response.
// It returns nil when the header is absent.
func ParseSettlement(resp *http.Response) (*SettlementResponse, error) {
	h := resp.Header.Get(HeaderPaymentResponse)
	if h == "" {
		return nil, nil
	}
	var s SettlementResponse
	if err := DecodeHeader(h, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
