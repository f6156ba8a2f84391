// Package watcher follows the agent registry contract and forwards its
// events to live subscribers.
//
// AgentUpdated events are also applied to the directory so that renames
// and deactivations made directly against the contract show up in listings.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mbd888/agentbazaar/internal/directory"
	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/onchain"
	"github.com/mbd888/agentbazaar/internal/realtime"
)

// ChainReader is the subset of an RPC client the watcher polls.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogParser decodes registry logs. *onchain.Registry implements it.
type LogParser interface {
	EventTopics() []common.Hash
	ParseLog(l types.Log) (*onchain.Event, error)
}

// Publisher receives decoded events.
type Publisher interface {
	Publish(t realtime.EventType, agentID uint64, data any)
}

// Config for the registry watcher
type Config struct {
	Contract      common.Address
	PollInterval  time.Duration
	StartBlock    uint64 // 0 = latest
	MaxBlockRange uint64 // widest eth_getLogs window per request
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PollInterval:  15 * time.Second,
		MaxBlockRange: 2048,
	}
}

// Watcher polls the registry for new events.
type Watcher struct {
	client    ChainReader
	parser    LogParser
	publisher Publisher
	store     directory.Store
	config    Config
	logger    *slog.Logger

	mu        sync.Mutex
	lastBlock uint64
	started   bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDirectory applies AgentUpdated events to store.
func WithDirectory(store directory.Store) Option {
	return func(w *Watcher) { w.store = store }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a registry watcher.
func New(cfg Config, client ChainReader, parser LogParser, publisher Publisher, opts ...Option) *Watcher {
	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = defaults.MaxBlockRange
	}
	w := &Watcher{
		client:    client,
		parser:    parser,
		publisher: publisher,
		config:    cfg,
		logger:    slog.Default(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start resolves the starting block and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	start := w.config.StartBlock
	if start == 0 {
		block, err := w.client.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("failed to get block number: %w", err)
		}
		start = block
	} else {
		// StartBlock itself is included in the first poll.
		start--
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	w.started = true
	w.lastBlock = start
	w.mu.Unlock()

	w.logger.Info("registry watcher started",
		"contract", w.config.Contract.Hex(),
		"startBlock", start,
		"interval", w.config.PollInterval,
	)

	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for the poll loop to exit. Safe to call
// more than once, and a no-op when Start never succeeded.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

// LastBlock returns the highest block fully processed.
func (w *Watcher) LastBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBlock
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("registry poll failed", "error", err)
			}
		}
	}
}

// Poll fetches and dispatches every event between the last processed block
// and the chain head. The cursor only advances past ranges that were read
// successfully.
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get block number: %w", err)
	}

	w.mu.Lock()
	from := w.lastBlock + 1
	w.mu.Unlock()

	for from <= head {
		to := min(from+w.config.MaxBlockRange-1, head)
		logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{w.config.Contract},
			Topics:    [][]common.Hash{w.parser.EventTopics()},
		})
		if err != nil {
			return fmt.Errorf("failed to filter logs %d-%d: %w", from, to, err)
		}
		for _, l := range logs {
			w.handle(ctx, l)
		}

		w.mu.Lock()
		w.lastBlock = to
		w.mu.Unlock()
		from = to + 1
	}
	return nil
}

func (w *Watcher) handle(ctx context.Context, l types.Log) {
	if l.Removed {
		return
	}
	ev, err := w.parser.ParseLog(l)
	if errors.Is(err, onchain.ErrUnknownEvent) {
		return
	}
	if err != nil {
		w.logger.Warn("failed to decode registry log", "tx", l.TxHash.Hex(), "index", l.Index, "error", err)
		return
	}

	metrics.ChainEventsTotal.WithLabelValues(ev.Type).Inc()
	w.logger.Debug("registry event",
		"event", ev.Type,
		"agent_id", ev.AgentID,
		"tx", ev.TxHash,
		"block", ev.BlockNumber,
	)

	if ev.Type == onchain.EventAgentUpdated && w.store != nil {
		w.applyUpdate(ctx, ev)
	}
	if w.publisher != nil {
		w.publisher.Publish(realtime.EventChain, ev.AgentID, ev)
	}
}

func (w *Watcher) applyUpdate(ctx context.Context, ev *onchain.Event) {
	patch := directory.Patch{Active: &ev.Active}
	if ev.Name != "" {
		patch.Name = &ev.Name
	}
	_, err := w.store.Update(ctx, ev.AgentID, patch)
	switch {
	case errors.Is(err, directory.ErrAgentNotFound):
		w.logger.Debug("registry update for unlisted agent", "agent_id", ev.AgentID)
	case err != nil:
		w.logger.Error("failed to apply registry update", "agent_id", ev.AgentID, "error", err)
	}
}
