package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/agentbazaar/internal/usdc"
	"github.com/mbd888/agentbazaar/pkg/x402"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *MarketplaceClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *MarketplaceClient) *Handlers {
	return &Handlers{client: client}
}

// HandleListAgents browses the marketplace.
func (h *Handlers) HandleListAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	query := req.GetString("query", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListAgents(ctx, category, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list agents: %v", err)), nil
	}

	text, err := formatAgentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agents: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetAgent returns one agent's details.
func (h *Handlers) HandleGetAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := agentIDArg(req)
	if !ok {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	raw, err := h.client.GetAgent(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get agent %d: %v", id, err)), nil
	}

	text, err := formatAgentDetail(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agent: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCallAgent pays for and calls an agent.
func (h *Handlers) HandleCallAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := agentIDArg(req)
	if !ok {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	message := strings.TrimSpace(req.GetString("message", ""))
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	user := req.GetString("user_address", "")

	raw, receipt, err := h.client.CallAgent(ctx, id, message, user)
	if err != nil {
		var pr *PaymentRequiredError
		if errors.As(err, &pr) {
			return mcp.NewToolResultError(formatPaymentRequired(id, pr.Required)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Call to agent %d failed: %v", id, err)), nil
	}

	text, err := formatCallResult(raw, receipt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse agent response: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCheckRatingEligibility reports whether a wallet may rate an agent.
func (h *Handlers) HandleCheckRatingEligibility(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := agentIDArg(req)
	if !ok {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	user := req.GetString("user_address", "")
	if user == "" && h.client.cfg.UserAddress == "" {
		return mcp.NewToolResultError("user_address is required"), nil
	}

	raw, err := h.client.CheckRating(ctx, id, user)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check eligibility: %v", err)), nil
	}

	var resp struct {
		CanRate     bool   `json:"canRate"`
		AgentID     uint64 `json:"agentId"`
		UserAddress string `json:"userAddress"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse eligibility: %v", err)), nil
	}

	if resp.CanRate {
		return mcp.NewToolResultText(fmt.Sprintf(
			"%s can rate agent %d.\n"+
				"Submit rateAgent(%d, 1-5) to the registry contract from that wallet.",
			resp.UserAddress, resp.AgentID, resp.AgentID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s cannot rate agent %d yet. Only wallets that have called the agent may rate it.",
		resp.UserAddress, resp.AgentID)), nil
}

// HandleGetMarketplaceConfig returns the public marketplace configuration.
func (h *Handlers) HandleGetMarketplaceConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetConfig(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get marketplace config: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

func agentIDArg(req mcp.CallToolRequest) (uint64, bool) {
	id := req.GetInt("agent_id", 0)
	if id <= 0 {
		return 0, false
	}
	return uint64(id), true
}

// --- Formatting helpers ---

type agentInfo struct {
	ID           uint64  `json:"id"`
	AgentID      uint64  `json:"agentId"`
	Name         string  `json:"name"`
	Owner        string  `json:"owner"`
	Category     string  `json:"category"`
	Description  string  `json:"description"`
	EndpointURL  string  `json:"endpointUrl"`
	PricePerCall int64   `json:"pricePerCall"`
	Active       bool    `json:"active"`
	Rating       float64 `json:"rating"`
	TotalCalls   int64   `json:"totalCalls"`
	OnChain      *struct {
		TotalCalls    uint64  `json:"totalCalls"`
		RatingCount   uint64  `json:"ratingCount"`
		AverageRating float64 `json:"averageRating"`
		SuccessRate   float64 `json:"successRate"`
		Earnings24h   string  `json:"earnings24h"`
		TotalEarnings string  `json:"totalEarnings"`
	} `json:"onChain,omitempty"`
}

func formatAgentList(raw json.RawMessage) (string, error) {
	var agents []agentInfo
	if err := json.Unmarshal(raw, &agents); err != nil {
		return "", fmt.Errorf("unexpected agents response format")
	}
	if len(agents) == 0 {
		return "No agents found matching your criteria.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d agent(s):\n\n", len(agents)))
	for i, a := range agents {
		sb.WriteString(fmt.Sprintf("%d. %s (id %d)\n", i+1, a.Name, a.ID))
		sb.WriteString(fmt.Sprintf("   Category: %s | Price: $%s USDC per call\n", a.Category, usdc.FormatCents(a.PricePerCall)))
		if a.Description != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", a.Description))
		}
		sb.WriteString(fmt.Sprintf("   Calls: %d", a.TotalCalls))
		if a.Rating > 0 {
			sb.WriteString(fmt.Sprintf(" | Rating: %.1f", a.Rating))
		}
		sb.WriteString("\n")
		if i < len(agents)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatAgentDetail(raw json.RawMessage) (string, error) {
	var a agentInfo
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}
	id := a.AgentID
	if id == 0 {
		id = a.ID
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (id %d)\n", a.Name, id))
	sb.WriteString(fmt.Sprintf("  Category: %s\n", a.Category))
	sb.WriteString(fmt.Sprintf("  Price: $%s USDC per call\n", usdc.FormatCents(a.PricePerCall)))
	sb.WriteString(fmt.Sprintf("  Owner: %s\n", a.Owner))
	sb.WriteString(fmt.Sprintf("  Endpoint: %s\n", a.EndpointURL))
	if !a.Active {
		sb.WriteString("  Status: inactive\n")
	}
	if a.Description != "" {
		sb.WriteString(fmt.Sprintf("  Description: %s\n", a.Description))
	}
	if s := a.OnChain; s != nil {
		sb.WriteString("On-chain stats:\n")
		sb.WriteString(fmt.Sprintf("  Calls: %d | Success: %.1f%%\n", s.TotalCalls, s.SuccessRate))
		sb.WriteString(fmt.Sprintf("  Rating: %.1f from %d rating(s)\n", s.AverageRating, s.RatingCount))
		if s.TotalEarnings != "" {
			sb.WriteString(fmt.Sprintf("  Earnings: %s USDC total, %s USDC in the last 24h\n", s.TotalEarnings, s.Earnings24h))
		}
	}
	return sb.String(), nil
}

func formatCallResult(raw json.RawMessage, receipt *x402.SettlementResponse) (string, error) {
	var resp struct {
		Response struct {
			Text string `json:"text"`
		} `json:"response"`
		AgentID uint64 `json:"agentId"`
		Payment struct {
			Amount      string `json:"amount"`
			Network     string `json:"network"`
			Payer       string `json:"payer"`
			Transaction string `json:"transaction"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(resp.Response.Text)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Paid %s USDC on %s", formatUnits(resp.Payment.Amount), resp.Payment.Network))
	if resp.Payment.Payer != "" {
		sb.WriteString(fmt.Sprintf(" from %s", resp.Payment.Payer))
	}
	sb.WriteString("\n")

	tx := resp.Payment.Transaction
	if tx == "" && receipt != nil {
		tx = receipt.Transaction
	}
	if tx != "" {
		sb.WriteString(fmt.Sprintf("Transaction: %s\n", tx))
	}
	return sb.String(), nil
}

func formatPaymentRequired(id uint64, pr *x402.PaymentRequired) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Agent %d requires payment before it will answer.\n", id))
	if pr != nil {
		for _, a := range pr.Accepts {
			sb.WriteString(fmt.Sprintf("  %s USDC (%s base units) on %s, asset %s\n",
				formatUnits(a.Amount), a.Amount, a.Network, a.Asset.Address))
		}
	}
	sb.WriteString("Set X402_PAYMENT_TOKEN to a signed X-PAYMENT payload and call again.")
	return sb.String()
}

// formatUnits renders a base-unit amount string as decimal USDC, falling
// back to the raw string when it is not an integer.
func formatUnits(amount string) string {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	return usdc.Format(n)
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
