package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidEthAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x0000000000000000000000000000000000000000", true},
		{"0x5425890298aed601595a70AB815c96711a31Bc65", true},
		{"5425890298aed601595a70AB815c96711a31Bc65", false},
		{"0x5425890298aed601595a70AB815c96711a31Bc6", false},
		{"0xZZ25890298aed601595a70AB815c96711a31Bc65", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidEthAddress(tt.addr), tt.addr)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello \n", 100))
	assert.Equal(t, "abc", SanitizeString("a\x00bc", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		ValidAddress("owner", "nope"),
		ValidURL("endpointUrl", "ftp://files.example"),
		ValidPrice("pricePerCall", "-1"),
		MaxLength("category", strings.Repeat("x", 60), MaxCategoryLength),
		Required("description", "fine"),
	)
	require.Len(t, errs, 5)
	assert.Equal(t, "name: is required", errs.Error())
	assert.Equal(t, "owner", errs[1].Field)
	assert.Equal(t, "endpointUrl", errs[2].Field)
	assert.Equal(t, "pricePerCall", errs[3].Field)
	assert.Equal(t, "category", errs[4].Field)
}

func TestValidators_AcceptGoodInput(t *testing.T) {
	errs := Validate(
		Required("name", "DeFi Arbitrage Bot"),
		ValidAddress("owner", "0x0000000000000000000000000000000000000001"),
		ValidURL("endpointUrl", "https://api.example.com/agent/1"),
		ValidPrice("pricePerCall", "0.01"),
		ValidPrice("pricePerCall", "0"),
	)
	assert.Empty(t, errs)
}

func TestParseAgentID(t *testing.T) {
	id, ok := ParseAgentID("42")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"0", "-1", "abc", "", "1.5"} {
		_, ok := ParseAgentID(bad)
		assert.False(t, ok, bad)
	}
}

func TestAgentIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/agents/:id", AgentIDParamMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": AgentID(c)})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":7}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/agents/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid agent ID")
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/echo", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"message":"far too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
