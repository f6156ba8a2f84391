package marketplace

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentbazaar/internal/validation"
)

// CheckRating handles GET /api/agents/:id/rate?userAddress=
func (h *Handler) CheckRating(c *gin.Context) {
	id := validation.AgentID(c)
	user, ok := h.userAddress(c, c.Query("userAddress"))
	if !ok {
		return
	}
	if !h.requireRegistry(c) {
		return
	}

	canRate, err := h.registry.CanRate(c.Request.Context(), user, id)
	if err != nil {
		h.log(c).Warn("rating eligibility check failed", "agent_id", id, "user", user, "error", err)
		canRate = false
	}

	c.JSON(http.StatusOK, gin.H{
		"canRate":     canRate,
		"agentId":     id,
		"userAddress": user,
	})
}

type rateRequest struct {
	Rating      float64 `json:"rating"`
	UserAddress string  `json:"userAddress"`
}

// SubmitRating handles POST /api/agents/:id/rate. Ratings are written by
// the user's own wallet; this only confirms eligibility.
func (h *Handler) SubmitRating(c *gin.Context) {
	id := validation.AgentID(c)

	var req rateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rating must be between 1 and 5"})
		return
	}
	user, ok := h.userAddress(c, req.UserAddress)
	if !ok {
		return
	}
	req.UserAddress = user
	if !h.requireRegistry(c) {
		return
	}

	eligible, err := h.registry.CanRate(c.Request.Context(), req.UserAddress, id)
	if err != nil {
		h.log(c).Error("rating eligibility check failed", "agent_id", id, "user", req.UserAddress, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process rating", "message": err.Error()})
		return
	}
	if !eligible {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not eligible to rate this agent. You must call the agent first."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "You are eligible to rate this agent",
		"agentId":         id,
		"rating":          req.Rating,
		"userAddress":     req.UserAddress,
		"contractAddress": h.registry.Address(),
		"note":            "Please submit the rating transaction directly from your wallet using the rateAgent function",
	})
}

// userAddress trims and validates a wallet address field, writing the 400
// itself when it is missing or malformed.
func (h *Handler) userAddress(c *gin.Context, raw string) (string, bool) {
	user := strings.TrimSpace(raw)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User address is required"})
		return "", false
	}
	if !validation.IsValidEthAddress(user) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user address", "message": "userAddress must be a 0x-prefixed 20-byte hex address"})
		return "", false
	}
	return user, true
}

func (h *Handler) requireRegistry(c *gin.Context) bool {
	if h.registry != nil {
		return true
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Server configuration error",
		"message": "Agent registry is not configured",
	})
	return false
}
