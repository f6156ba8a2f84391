package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients during initialization.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all marketplace tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("agentbazaar", Version)
	client := NewMarketplaceClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListAgents, h.HandleListAgents)
	s.AddTool(ToolGetAgent, h.HandleGetAgent)
	s.AddTool(ToolCallAgent, h.HandleCallAgent)
	s.AddTool(ToolCheckRatingEligibility, h.HandleCheckRatingEligibility)
	s.AddTool(ToolGetMarketplaceConfig, h.HandleGetMarketplaceConfig)

	return s
}
