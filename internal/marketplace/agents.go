package marketplace

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentbazaar/internal/directory"
	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/onchain"
	"github.com/mbd888/agentbazaar/internal/pagination"
	"github.com/mbd888/agentbazaar/internal/realtime"
	"github.com/mbd888/agentbazaar/internal/usdc"
	"github.com/mbd888/agentbazaar/internal/validation"
)

// ListAgents handles GET /api/agents
func (h *Handler) ListAgents(c *gin.Context) {
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor", "message": err.Error()})
		return
	}
	limit := pagination.ClampLimit(c.Query("limit"))

	filter := directory.Filter{
		Category: c.Query("category"),
		Search:   strings.TrimSpace(c.Query("q")),
		After:    after,
	}
	if limit > 0 {
		filter.Limit = limit + 1
	}

	agents, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.log(c).Error("failed to list agents", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch agents", "message": err.Error()})
		return
	}

	page, next := pagination.ComputePage(agents, limit, func(a *directory.Agent) uint64 { return a.ID })
	if next != "" {
		c.Header("X-Next-Cursor", next)
	}
	if page == nil {
		page = []*directory.Agent{}
	}
	c.JSON(http.StatusOK, page)
}

type registerRequest struct {
	Name         string      `json:"name"`
	Owner        string      `json:"owner"`
	EndpointURL  string      `json:"endpointUrl"`
	PricePerCall json.Number `json:"pricePerCall"`
	Category     string      `json:"category"`
	Description  string      `json:"description"`
}

// RegisterAgent handles POST /api/agents
func (h *Handler) RegisterAgent(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}

	req.Name = validation.SanitizeString(req.Name, validation.MaxNameLength)
	req.Category = validation.SanitizeString(req.Category, validation.MaxCategoryLength)
	req.Description = validation.SanitizeString(req.Description, validation.MaxDescriptionLength)
	req.Owner = strings.TrimSpace(req.Owner)
	req.EndpointURL = strings.TrimSpace(req.EndpointURL)
	price := strings.TrimSpace(req.PricePerCall.String())

	if req.Name == "" || req.Owner == "" || req.EndpointURL == "" || price == "" || req.Category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	if errs := validation.Validate(
		validation.ValidAddress("owner", req.Owner),
		validation.ValidURL("endpointUrl", req.EndpointURL),
		validation.MaxLength("endpointUrl", req.EndpointURL, validation.MaxURLLength),
		validation.ValidPrice("pricePerCall", price),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "message": errs.Error(), "details": errs})
		return
	}
	cents, _ := usdc.ParseCents(price)
	if cents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "message": "pricePerCall: must be at least 0.01"})
		return
	}

	ctx := c.Request.Context()
	agent := &directory.Agent{
		Owner:        req.Owner,
		Name:         req.Name,
		Category:     req.Category,
		PricePerCall: cents,
		Description:  req.Description,
		EndpointURL:  req.EndpointURL,
		CreatedAt:    h.now(),
		Active:       true,
	}

	if h.registry != nil {
		id, err := h.registry.RegisterAgent(ctx, req.Owner, req.Name)
		if err != nil {
			h.log(c).Error("on-chain registration failed", "owner", req.Owner, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Failed to register agent on-chain",
				"message": err.Error(),
			})
			return
		}
		agent.ID = id
		err = h.store.Add(ctx, agent)
		if errors.Is(err, directory.ErrAgentExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Agent already exists", "message": fmt.Sprintf("agent %d is already listed", id)})
			return
		}
		if err != nil {
			h.log(c).Error("failed to store registered agent", "agent_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register agent", "message": err.Error()})
			return
		}
	} else if err := h.store.Create(ctx, agent); err != nil {
		h.log(c).Error("failed to create agent", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register agent", "message": err.Error()})
		return
	}

	metrics.AgentsRegisteredTotal.Inc()
	h.log(c).Info("agent registered", "agent_id", agent.ID, "owner", agent.Owner, "category", agent.Category)
	h.publish(realtime.EventAgentRegistered, agent.ID, agent)
	c.JSON(http.StatusCreated, agent)
}

// agentView is the merged local + on-chain representation of an agent.
type agentView struct {
	AgentID      uint64        `json:"agentId"`
	Owner        string        `json:"owner"`
	Name         string        `json:"name"`
	EndpointURL  string        `json:"endpointUrl"`
	Description  string        `json:"description"`
	Category     string        `json:"category"`
	PricePerCall int64         `json:"pricePerCall"`
	Active       bool          `json:"active"`
	CreatedAt    time.Time     `json:"createdAt"`
	OnChain      onchain.Stats `json:"onChain"`
}

// GetAgent handles GET /api/agents/:id
func (h *Handler) GetAgent(c *gin.Context) {
	id := validation.AgentID(c)
	ctx := c.Request.Context()

	agent, err := h.store.Get(ctx, id)
	if errors.Is(err, directory.ErrAgentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}
	if err != nil {
		h.log(c).Error("failed to fetch agent", "agent_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch agent", "message": err.Error()})
		return
	}

	stats := onchain.LocalStats(uint64(max(agent.TotalCalls, 0)), agent.Rating, agent.Active)
	if h.registry != nil {
		remote, err := h.registry.GetAgent(ctx, id)
		if err != nil {
			h.log(c).Warn("on-chain stats unavailable, using local values", "agent_id", id, "error", err)
		} else {
			stats = *remote
		}
	}

	c.JSON(http.StatusOK, agentView{
		AgentID:      agent.ID,
		Owner:        agent.Owner,
		Name:         agent.Name,
		EndpointURL:  agent.EndpointURL,
		Description:  agent.Description,
		Category:     agent.Category,
		PricePerCall: agent.PricePerCall,
		Active:       agent.Active,
		CreatedAt:    agent.CreatedAt,
		OnChain:      stats,
	})
}

// AgentAccess handles GET /api/agent/:id once the gate has settled.
func (h *Handler) AgentAccess(c *gin.Context) {
	id := validation.AgentID(c)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   fmt.Sprintf("Payment successful! You now have access to agent %d.", id),
		"agentId":   id,
		"timestamp": h.now().Format(time.RFC3339Nano),
	})
}

// MarketplaceConfig handles GET /api/config
func (h *Handler) MarketplaceConfig(c *gin.Context) {
	contract := h.cfg.ContractAddress
	if contract == "" && h.registry != nil {
		contract = h.registry.Address()
	}
	c.JSON(http.StatusOK, gin.H{
		"contractAddress":       contract,
		"network":               h.cfg.Network,
		"chainId":               h.cfg.ChainID,
		"usdcAddress":           h.cfg.USDCAddress,
		"facilitatorConfigured": h.cfg.FacilitatorConfigured,
		"clientId":              h.cfg.PublicClientID,
	})
}
