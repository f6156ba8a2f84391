package marketplace

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentbazaar/internal/directory"
	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/paywall"
	"github.com/mbd888/agentbazaar/internal/realtime"
	"github.com/mbd888/agentbazaar/internal/traces"
	"github.com/mbd888/agentbazaar/internal/usdc"
	"github.com/mbd888/agentbazaar/internal/validation"
)

const (
	agentKey       = "marketplace_agent"
	callRequestKey = "marketplace_call_request"
)

type callRequest struct {
	Message     string `json:"message"`
	UserAddress string `json:"userAddress"`
}

// loadAgent resolves :id before payment so unknown agents are never billed.
func (h *Handler) loadAgent(c *gin.Context) {
	id := validation.AgentID(c)
	agent, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, directory.ErrAgentNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Agent not found"})
		return
	}
	if err != nil {
		h.log(c).Error("failed to fetch agent", "agent_id", id, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch agent", "message": err.Error()})
		return
	}
	c.Set(agentKey, agent)
	c.Next()
}

func (h *Handler) bindCallRequest(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "message": err.Error()})
		return
	}
	req.Message = validation.SanitizeString(req.Message, validation.MaxMessageLength)
	req.UserAddress = strings.TrimSpace(req.UserAddress)
	if req.Message == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	c.Set(callRequestKey, &req)
	c.Next()
}

func (h *Handler) callRequirement(c *gin.Context) (paywall.Requirement, error) {
	agent := c.MustGet(agentKey).(*directory.Agent)
	return paywall.Requirement{
		Resource:    fmt.Sprintf("/api/agents/%d/call", agent.ID),
		Method:      http.MethodPost,
		Amount:      usdc.CentsToUnits(agent.PricePerCall).String(),
		Message:     "Payment is required to call this agent",
		Description: "Call agent " + agent.Name,
	}, nil
}

// CallAgent handles POST /api/agents/:id/call once the gate has settled.
func (h *Handler) CallAgent(c *gin.Context) {
	agent := c.MustGet(agentKey).(*directory.Agent)
	req := c.MustGet(callRequestKey).(*callRequest)
	ctx := c.Request.Context()

	if _, err := h.store.RecordCall(ctx, agent.ID); err != nil {
		h.log(c).Error("failed to record call", "agent_id", agent.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Agent call failed", "message": err.Error()})
		return
	}
	metrics.AgentCallsTotal.Inc()

	amount := usdc.CentsToUnits(agent.PricePerCall)
	payment := gin.H{
		"amount":  amount.String(),
		"network": h.cfg.Network,
	}
	payer := req.UserAddress
	if res := paywall.Settlement(c); res != nil {
		if res.Payer != "" {
			payer = res.Payer
		}
		payment["transaction"] = res.Transaction
	}
	payment["payer"] = payer

	h.recordOnChain(ctx, agent.ID, payer, amount)
	h.publish(realtime.EventAgentCalled, agent.ID, payment)

	c.JSON(http.StatusOK, gin.H{
		"response": gin.H{"text": mockResponse(agent, req.Message)},
		"agentId":  agent.ID,
		"payment":  payment,
	})
}

func mockResponse(agent *directory.Agent, message string) string {
	return fmt.Sprintf(
		"Thank you for your message: \"%s\". I'm %s and I'm processing your request. This is a mock response - in production, this would call the agent at %s.",
		message, agent.Name, agent.EndpointURL)
}

// recordOnChain writes recordCall and recordPayment in the background. The
// caller has already been served, so failures are only logged.
func (h *Handler) recordOnChain(parent context.Context, id uint64, payer string, amount *big.Int) {
	if h.registry == nil {
		return
	}
	if !validation.IsValidEthAddress(payer) {
		h.logger.Debug("skipping on-chain call record without payer address", "agent_id", id)
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.cfg.ChainWriteTimeout)
		defer cancel()
		ctx, span := traces.StartSpan(ctx, "marketplace.recordOnChain", traces.AgentID(id), traces.Amount(amount.String()))
		var err error
		defer func() { traces.End(span, err) }()

		if _, err = h.registry.RecordCall(ctx, id, payer, true); err != nil {
			h.logger.Warn("on-chain recordCall failed", "agent_id", id, "payer", payer, "error", err)
			return
		}
		if _, err = h.registry.RecordPayment(ctx, id, payer, amount); err != nil {
			h.logger.Warn("on-chain recordPayment failed", "agent_id", id, "payer", payer, "error", err)
		}
	}()
}
