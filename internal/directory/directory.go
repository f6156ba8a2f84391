// Package directory holds the catalog of marketplace agents.
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAgentNotFound = errors.New("directory: agent not found")
	ErrAgentExists   = errors.New("directory: agent id already taken")
	ErrInvalidAgent  = errors.New("directory: invalid agent")
)

// Agent is a marketplace listing. PricePerCall is in US cents.
type Agent struct {
	ID           uint64    `json:"id"`
	Owner        string    `json:"owner"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	PricePerCall int64     `json:"pricePerCall"`
	Description  string    `json:"description"`
	EndpointURL  string    `json:"endpointUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	Active       bool      `json:"active"`
	Rating       float64   `json:"rating"`
	TotalCalls   int64     `json:"totalCalls"`
}

// Patch carries a partial update; nil fields are left untouched.
type Patch struct {
	Name         *string
	Category     *string
	Description  *string
	EndpointURL  *string
	PricePerCall *int64
	Active       *bool
	Rating       *float64
}

func (p Patch) apply(a *Agent) {
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.EndpointURL != nil {
		a.EndpointURL = *p.EndpointURL
	}
	if p.PricePerCall != nil {
		a.PricePerCall = *p.PricePerCall
	}
	if p.Active != nil {
		a.Active = *p.Active
	}
	if p.Rating != nil {
		a.Rating = *p.Rating
	}
}

// Filter narrows List results. Zero value lists everything.
type Filter struct {
	Category string // exact match; "" or "All" matches every category
	Search   string // case-insensitive substring of name or description
	After    uint64 // resume after the agent with this id (insertion order)
	Limit    int    // 0 means no limit
}

func (f Filter) category() string {
	if f.Category == "All" {
		return ""
	}
	return f.Category
}

// Store persists agents. List returns agents in insertion order.
type Store interface {
	List(ctx context.Context, filter Filter) ([]*Agent, error)
	Get(ctx context.Context, id uint64) (*Agent, error)
	// Add inserts an agent whose id the caller chose (e.g. from the chain).
	Add(ctx context.Context, agent *Agent) error
	// Create assigns the next sequential id and inserts in one step.
	Create(ctx context.Context, agent *Agent) error
	Update(ctx context.Context, id uint64, patch Patch) (*Agent, error)
	// NextID previews the id Create would assign now. It reserves nothing;
	// registration goes through Create, which allocates under the store lock.
	NextID(ctx context.Context) (uint64, error)
	RecordCall(ctx context.Context, id uint64) (*Agent, error)
}

func validate(a *Agent) error {
	if a == nil || a.ID == 0 || a.PricePerCall < 0 {
		return ErrInvalidAgent
	}
	return nil
}

// DemoAgents is the starter catalog shown when no registry is configured.
func DemoAgents() []*Agent {
	const owner = "0x0000000000000000000000000000000000000000"
	return []*Agent{
		{
			ID:           1,
			Owner:        owner,
			Name:         "DeFi Arbitrage Bot",
			Category:     "Finance",
			PricePerCall: 1,
			Description:  "Monitors cross-exchange pricing on Avalanche subnets and executes X402 flash swaps for profit.",
			EndpointURL:  "https://api.example.com/agent/1",
			Active:       true,
		},
		{
			ID:           2,
			Owner:        owner,
			Name:         "Content Generator AI",
			Category:     "Content",
			PricePerCall: 1,
			Description:  "Creates concise, tokenized summaries of news articles for micro-reading platforms.",
			EndpointURL:  "https://api.example.com/agent/2",
			Active:       true,
		},
		{
			ID:           3,
			Owner:        owner,
			Name:         "Smart Contract Auditor Agent",
			Category:     "Security",
			PricePerCall: 1,
			Description:  "AI-powered smart contract security analysis. Detects vulnerabilities, gas optimization opportunities, and compliance issues.",
			EndpointURL:  "https://api.example.com/agent/3",
			Active:       true,
		},
	}
}

// Seed adds agents, skipping ids that already exist.
func Seed(ctx context.Context, s Store, agents []*Agent) error {
	for _, a := range agents {
		if err := s.Add(ctx, a); err != nil && !errors.Is(err, ErrAgentExists) {
			return err
		}
	}
	return nil
}
