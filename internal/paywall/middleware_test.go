package paywall

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbazaar/internal/settlement"
	"github.com/mbd888/agentbazaar/pkg/x402"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAsset = "0x5425890298aed601595a70AB815c96711a31Bc65"

type stubSettler struct {
	result *settlement.Result
	err    error
	calls  int
	last   settlement.Request
}

func (s *stubSettler) Settle(_ context.Context, req settlement.Request) (*settlement.Result, error) {
	s.calls++
	s.last = req
	return s.result, s.err
}

func testConfig(s settlement.Settler) Config {
	return Config{
		Settler: s,
		PayTo:   "0x00000000000000000000000000000000000000bb",
		Network: "avalanche-fuji",
		Asset:   testAsset,
		BaseURL: "http://localhost:8080",
	}
}

func newRouter(cfg Config, req Requirement) (*gin.Engine, *bool) {
	reached := false
	r := gin.New()
	r.GET("/api/basic", Middleware(cfg, req), func(c *gin.Context) {
		reached = true
		res := Settlement(c)
		c.JSON(http.StatusOK, gin.H{"tier": "basic", "payer": res.Payer})
	})
	return r, &reached
}

var basicReq = Requirement{Amount: "10000", Message: "Payment is required to access Basic tier"}

func TestMiddleware_NotConfigured(t *testing.T) {
	s := &stubSettler{}
	cfg := testConfig(s)
	cfg.Ready = func() bool { return false }
	r, reached := newRouter(cfg, basicReq)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/basic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Server configuration error","message":"Payment service is not properly configured"}`, w.Body.String())
	assert.Equal(t, 0, s.calls)
	assert.False(t, *reached)
}

func TestMiddleware_MissingPayeeIsNotConfigured(t *testing.T) {
	s := &stubSettler{}
	cfg := testConfig(s)
	cfg.PayTo = ""
	r, _ := newRouter(cfg, basicReq)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/basic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, s.calls)
}

func TestMiddleware_DefaultPaymentRequiredBody(t *testing.T) {
	s := &stubSettler{result: &settlement.Result{}}
	r, reached := newRouter(testConfig(s), basicReq)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/basic", nil))

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.False(t, *reached)

	var body x402.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Payment required", body.Error)
	assert.Equal(t, "Payment is required to access Basic tier", body.Message)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, x402.NewAccept("avalanche-fuji", testAsset, "10000"), body.Accepts[0])

	assert.Equal(t, "http://localhost:8080/api/basic", s.last.ResourceURL)
	assert.Equal(t, http.MethodGet, s.last.Method)
	assert.Equal(t, "10000", s.last.Price.Amount)
	assert.Equal(t, testAsset, s.last.Price.Asset)
	assert.Empty(t, s.last.PaymentToken)
}

func TestMiddleware_SettlerBodyAndHeadersWin(t *testing.T) {
	h := http.Header{}
	h.Set("X-Custom", "yes")
	s := &stubSettler{result: &settlement.Result{
		Status:  http.StatusPaymentRequired,
		Body:    json.RawMessage(`{"error":"Payment verification failed","message":"insufficient_funds"}`),
		Headers: h,
	}}
	r, _ := newRouter(testConfig(s), basicReq)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/basic", nil))

	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Custom"))
	assert.JSONEq(t, `{"error":"Payment verification failed","message":"insufficient_funds"}`, w.Body.String())
}

func TestMiddleware_SettledPassesThrough(t *testing.T) {
	h := http.Header{}
	h.Set(x402.HeaderPaymentResponse, "receipt")
	s := &stubSettler{result: &settlement.Result{Status: http.StatusOK, Headers: h, Payer: "0xpayer"}}

	var hooked bool
	cfg := testConfig(s)
	cfg.OnSettled = func(_ *gin.Context, req Requirement, res *settlement.Result) {
		hooked = true
		assert.Equal(t, "/api/basic", req.Resource)
		assert.Equal(t, "0xpayer", res.Payer)
	}
	r, reached := newRouter(cfg, basicReq)

	req := httptest.NewRequest(http.MethodGet, "/api/basic", nil)
	req.Header.Set("x-payment", "token-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, *reached)
	assert.True(t, hooked)
	assert.Equal(t, "receipt", w.Header().Get(x402.HeaderPaymentResponse))
	assert.Equal(t, "token-abc", s.last.PaymentToken)
	assert.Contains(t, w.Body.String(), `"payer":"0xpayer"`)
}

func TestMiddleware_SettleErrorIs500(t *testing.T) {
	s := &stubSettler{err: errors.New("facilitator unreachable")}
	var rejected bool
	cfg := testConfig(s)
	cfg.OnRejected = func(*gin.Context, Requirement, *settlement.Result) { rejected = true }
	r, reached := newRouter(cfg, basicReq)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/basic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Payment processing failed","message":"facilitator unreachable"}`, w.Body.String())
	assert.False(t, *reached)
	assert.False(t, rejected)
}

func TestMiddleware_NonPaymentStatusPreserved(t *testing.T) {
	s := &stubSettler{result: &settlement.Result{Status: http.StatusForbidden}}
	var rejected bool
	cfg := testConfig(s)
	cfg.OnRejected = func(*gin.Context, Requirement, *settlement.Result) { rejected = true }
	r, _ := newRouter(cfg, basicReq)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/basic", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, rejected)
	assert.Contains(t, w.Body.String(), `"accepts"`)
}

func TestMiddlewareFunc_PerRequestPrice(t *testing.T) {
	s := &stubSettler{result: &settlement.Result{Status: http.StatusPaymentRequired}}
	r := gin.New()
	r.POST("/api/agents/:id/call", MiddlewareFunc(testConfig(s), func(c *gin.Context) (Requirement, error) {
		if c.Param("id") == "9" {
			return Requirement{}, errors.New("price lookup failed")
		}
		return Requirement{Amount: "150000", Message: "Payment is required to call this agent"}, nil
	}), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/agents/2/call", nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "http://localhost:8080/api/agents/2/call", s.last.ResourceURL)
	assert.Equal(t, "150000", s.last.Price.Amount)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/agents/9/call", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, s.calls)
}

func TestSettlement_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, Settlement(c))
}

func TestResourceURL(t *testing.T) {
	assert.Equal(t, "/api/basic", resourceURL("", "/api/basic"))
	assert.Equal(t, "http://h/api/basic", resourceURL("http://h/", "/api/basic"))
	assert.Equal(t, "https://x/y", resourceURL("http://h", "https://x/y"))
}
