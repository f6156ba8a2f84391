// AgentBazaar MCP Server - Exposes the agent marketplace as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/agentbazaar/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:       envOrDefault("AGENTBAZAAR_API_URL", "http://localhost:8080"),
		PaymentToken: os.Getenv("X402_PAYMENT_TOKEN"),
		UserAddress:  os.Getenv("AGENTBAZAAR_USER_ADDRESS"),
		MaxAmount:    os.Getenv("X402_MAX_AMOUNT"),
	}

	if cfg.PaymentToken == "" {
		fmt.Fprintln(os.Stderr, "X402_PAYMENT_TOKEN is not set; call_agent will report payment requirements instead of paying")
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
