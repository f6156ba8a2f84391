package onchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Registry event names.
const (
	EventAgentRegistered = "AgentRegistered"
	EventAgentUpdated    = "AgentUpdated"
	EventAgentRated      = "AgentRated"
	EventCallRecorded    = "CallRecorded"
	EventPaymentReceived = "PaymentReceived"
)

// ErrUnknownEvent is returned by ParseLog for logs the registry ABI does not
// describe.
var ErrUnknownEvent = errors.New("onchain: unknown event")

// Event is a decoded registry log. Fields not carried by Type are zero.
type Event struct {
	Type        string   `json:"type"`
	AgentID     uint64   `json:"agentId"`
	Account     string   `json:"account,omitempty"` // owner, user or payer
	Name        string   `json:"name,omitempty"`
	Active      bool     `json:"active,omitempty"`
	Rating      uint8    `json:"rating,omitempty"`
	Success     bool     `json:"success,omitempty"`
	Amount      *big.Int `json:"amount,omitempty"`
	Timestamp   uint64   `json:"timestamp,omitempty"`
	TxHash      string   `json:"txHash"`
	BlockNumber uint64   `json:"blockNumber"`
}

// EventTopics returns the topic0 hashes of every registry event, for log
// filters.
func (r *Registry) EventTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(r.abi.Events))
	for _, ev := range r.abi.Events {
		topics = append(topics, ev.ID)
	}
	return topics
}

// ParseLog decodes a registry log.
func (r *Registry) ParseLog(l types.Log) (*Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	def, err := r.abi.EventByID(l.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}
	if len(l.Topics) < 2 {
		return nil, fmt.Errorf("onchain: %s log missing agent id topic", def.Name)
	}

	values := map[string]any{}
	if len(l.Data) > 0 {
		if err := r.abi.UnpackIntoMap(values, def.Name, l.Data); err != nil {
			return nil, fmt.Errorf("onchain: decode %s: %w", def.Name, err)
		}
	}

	ev := &Event{
		Type:        def.Name,
		AgentID:     new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}
	if len(l.Topics) > 2 {
		ev.Account = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
	}

	switch def.Name {
	case EventAgentRegistered:
		ev.Name, _ = values["name"].(string)
	case EventAgentUpdated:
		ev.Name, _ = values["newName"].(string)
		ev.Active, _ = values["active"].(bool)
	case EventAgentRated:
		ev.Rating, _ = values["rating"].(uint8)
	case EventCallRecorded:
		ev.Success, _ = values["success"].(bool)
	case EventPaymentReceived:
		ev.Amount, _ = values["amount"].(*big.Int)
		if ts, ok := values["timestamp"].(*big.Int); ok {
			ev.Timestamp = ts.Uint64()
		}
	}
	return ev, nil
}
