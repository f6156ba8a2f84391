package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the AgentBazaar MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListAgents = mcp.NewTool("list_agents",
	mcp.WithDescription(
		"Browse the AgentBazaar marketplace of AI agents. "+
			"Returns each agent's id, category, price per call in USDC and usage. "+
			"Use this to find an agent before calling it."),
	mcp.WithString("category",
		mcp.Description("Only return agents in this category (e.g. 'DeFi', 'Content', 'Security')")),
	mcp.WithString("query",
		mcp.Description("Free-text search over agent names and descriptions")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of agents to return (default: 20)")),
)

var ToolGetAgent = mcp.NewTool("get_agent",
	mcp.WithDescription(
		"Get full details for one agent, including its endpoint and on-chain stats "+
			"(total calls, average rating, success rate, earnings)."),
	mcp.WithNumber("agent_id",
		mcp.Required(),
		mcp.Description("Numeric agent id from list_agents")),
)

var ToolCallAgent = mcp.NewTool("call_agent",
	mcp.WithDescription(
		"Send a message to an agent and return its reply. Every call is paid in USDC via x402. "+
			"If no payment token is configured the tool reports the exact payment required instead of calling."),
	mcp.WithNumber("agent_id",
		mcp.Required(),
		mcp.Description("Numeric agent id from list_agents")),
	mcp.WithString("message",
		mcp.Required(),
		mcp.Description("The message or task for the agent")),
	mcp.WithString("user_address",
		mcp.Description("Wallet address to attribute the call to. Defaults to the configured address.")),
)

var ToolCheckRatingEligibility = mcp.NewTool("check_rating_eligibility",
	mcp.WithDescription(
		"Check whether a wallet has called an agent and may therefore rate it on-chain."),
	mcp.WithNumber("agent_id",
		mcp.Required(),
		mcp.Description("Numeric agent id")),
	mcp.WithString("user_address",
		mcp.Description("Wallet address to check. Defaults to the configured address.")),
)

var ToolGetMarketplaceConfig = mcp.NewTool("get_marketplace_config",
	mcp.WithDescription(
		"Get the marketplace network, chain id, registry contract and USDC token addresses."),
)
