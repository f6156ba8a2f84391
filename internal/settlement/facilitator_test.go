package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbazaar/internal/circuitbreaker"
	"github.com/mbd888/agentbazaar/pkg/x402"
)

const usdcFuji = "0x5425890298aed601595a70AB815c96711a31Bc65"

type fakeFacilitator struct {
	verify   verifyResponse
	settle   x402.SettlementResponse
	status   int
	verified atomic.Int32
	settled  atomic.Int32

	mu       sync.Mutex
	lastBody facilitatorRequest
	lastAuth string
}

func (f *fakeFacilitator) last() (facilitatorRequest, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody, f.lastAuth
}

func (f *fakeFacilitator) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		f.mu.Unlock()
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		switch r.URL.Path {
		case "/verify":
			f.verified.Add(1)
			_ = json.NewEncoder(w).Encode(f.verify)
		case "/settle":
			f.settled.Add(1)
			_ = json.NewEncoder(w).Encode(f.settle)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFacilitator(url string) *Facilitator {
	return NewFacilitator(Config{URL: url, SecretKey: "sk_test", ServerWallet: "0x00000000000000000000000000000000000000aa"})
}

func paymentToken(t *testing.T, network string) string {
	t.Helper()
	token, err := x402.EncodeHeader(map[string]any{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     network,
		"payload":     map[string]string{"signature": "0xsig"},
	})
	require.NoError(t, err)
	return token
}

func testRequest(token string) Request {
	return Request{
		ResourceURL:  "http://localhost:8080/api/agents/1/call",
		Method:       http.MethodPost,
		PaymentToken: token,
		PayTo:        "0x00000000000000000000000000000000000000bb",
		Network:      "avalanche-fuji",
		Price:        Price{Amount: "10000", Asset: usdcFuji},
	}
}

func decodeRejection(t *testing.T, res *Result) x402.PaymentRequired {
	t.Helper()
	var pr x402.PaymentRequired
	require.NoError(t, json.Unmarshal(res.Body, &pr))
	return pr
}

func TestSettle_NotConfigured(t *testing.T) {
	f := NewFacilitator(Config{URL: "http://unused"})
	assert.False(t, f.Ready())

	_, err := f.Settle(context.Background(), testRequest(""))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSettle_NoToken(t *testing.T) {
	fake := &fakeFacilitator{}
	f := newTestFacilitator(fake.server(t).URL)

	res, err := f.Settle(context.Background(), testRequest(""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, res.Status)
	assert.Nil(t, res.Body)
	assert.Equal(t, int32(0), fake.verified.Load())
}

func TestSettle_MalformedToken(t *testing.T) {
	fake := &fakeFacilitator{}
	f := newTestFacilitator(fake.server(t).URL)

	res, err := f.Settle(context.Background(), testRequest("not base64 !!"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, res.Status)

	pr := decodeRejection(t, res)
	assert.Equal(t, "Invalid payment", pr.Error)
	require.Len(t, pr.Accepts, 1)
	assert.Equal(t, "10000", pr.Accepts[0].Amount)
	assert.Equal(t, int32(0), fake.verified.Load())
}

func TestSettle_WrongNetwork(t *testing.T) {
	fake := &fakeFacilitator{}
	f := newTestFacilitator(fake.server(t).URL)

	res, err := f.Settle(context.Background(), testRequest(paymentToken(t, "base-sepolia")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, res.Status)
	assert.Contains(t, decodeRejection(t, res).Message, "base-sepolia")
}

func TestSettle_Success(t *testing.T) {
	fake := &fakeFacilitator{
		verify: verifyResponse{IsValid: true, Payer: "0xpayer"},
		settle: x402.SettlementResponse{Success: true, Transaction: "0xtx"},
	}
	f := newTestFacilitator(fake.server(t).URL)

	res, err := f.Settle(context.Background(), testRequest(paymentToken(t, "avalanche-fuji")))
	require.NoError(t, err)
	assert.True(t, res.Settled())
	assert.Equal(t, "0xpayer", res.Payer)
	assert.Equal(t, "0xtx", res.Transaction)

	var receipt x402.SettlementResponse
	require.NoError(t, x402.DecodeHeader(res.Headers.Get(x402.HeaderPaymentResponse), &receipt))
	assert.Equal(t, "avalanche-fuji", receipt.Network)
	assert.Equal(t, "0xpayer", receipt.Payer)

	body, auth := fake.last()
	assert.Equal(t, "Bearer sk_test", auth)
	reqs := body.PaymentRequirements
	assert.Equal(t, "exact", reqs.Scheme)
	assert.Equal(t, "10000", reqs.MaxAmountRequired)
	assert.Equal(t, usdcFuji, reqs.Asset)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", reqs.PayTo)
	assert.Equal(t, int32(1), fake.settled.Load())
}

func TestSettle_VerifyRejected(t *testing.T) {
	fake := &fakeFacilitator{verify: verifyResponse{IsValid: false, InvalidReason: "insufficient_funds"}}
	f := newTestFacilitator(fake.server(t).URL)

	res, err := f.Settle(context.Background(), testRequest(paymentToken(t, "avalanche-fuji")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, res.Status)

	pr := decodeRejection(t, res)
	assert.Equal(t, "Payment verification failed", pr.Error)
	assert.Equal(t, "insufficient_funds", pr.Message)
	assert.Equal(t, int32(0), fake.settled.Load())
}

func TestSettle_SettleFailed(t *testing.T) {
	fake := &fakeFacilitator{
		verify: verifyResponse{IsValid: true},
		settle: x402.SettlementResponse{Success: false},
	}
	f := newTestFacilitator(fake.server(t).URL)

	res, err := f.Settle(context.Background(), testRequest(paymentToken(t, "avalanche-fuji")))
	require.NoError(t, err)
	assert.Equal(t, "Payment settlement failed", decodeRejection(t, res).Error)
}

func TestSettle_FacilitatorError(t *testing.T) {
	fake := &fakeFacilitator{status: http.StatusBadGateway}
	f := newTestFacilitator(fake.server(t).URL)

	_, err := f.Settle(context.Background(), testRequest(paymentToken(t, "avalanche-fuji")))
	var fe *FacilitatorError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "verify", fe.Op)
	assert.Equal(t, http.StatusBadGateway, fe.Status)
}

func TestSettle_TimeoutIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := NewFacilitator(Config{URL: srv.URL, SecretKey: "sk", ServerWallet: "0x1", Timeout: 20 * time.Millisecond})
	_, err := f.Settle(context.Background(), testRequest(paymentToken(t, "avalanche-fuji")))
	assert.Error(t, err)
}

func TestSettle_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFacilitator(
		Config{URL: srv.URL, SecretKey: "sk", ServerWallet: "0x1"},
		WithBreaker(circuitbreaker.New("facilitator-test", 2, time.Hour)),
	)
	req := testRequest(paymentToken(t, "avalanche-fuji"))

	for i := 0; i < 2; i++ {
		_, err := f.Settle(context.Background(), req)
		var fe *FacilitatorError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
	}

	_, err := f.Settle(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "open circuit must not reach the facilitator")
}

func TestSettle_ClientErrorsDoNotTripBreaker(t *testing.T) {
	fake := &fakeFacilitator{status: http.StatusBadRequest}
	srv := fake.server(t)
	b := circuitbreaker.New("facilitator-test", 1, time.Hour)
	f := NewFacilitator(Config{URL: srv.URL, SecretKey: "sk", ServerWallet: "0x1"}, WithBreaker(b))

	_, err := f.Settle(context.Background(), testRequest(paymentToken(t, "avalanche-fuji")))
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}
