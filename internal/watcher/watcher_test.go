package watcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbazaar/internal/directory"
	"github.com/mbd888/agentbazaar/internal/onchain"
	"github.com/mbd888/agentbazaar/internal/realtime"
)

var (
	contract     = common.HexToAddress("0x00000000000000000000000000000000000000Cc")
	topicKnown   = common.HexToHash("0x01")
	topicUnknown = common.HexToHash("0x02")
)

type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	headErr error
	logs    []types.Log
	logsErr error
	queries []ethereum.FilterQuery
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) setHead(n uint64) {
	f.mu.Lock()
	f.head = n
	f.mu.Unlock()
}

func (f *fakeChain) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// stubParser decodes logs whose Data holds an event type name and whose
// second topic is the agent id.
type stubParser struct{}

func (stubParser) EventTopics() []common.Hash { return []common.Hash{topicKnown} }

func (stubParser) ParseLog(l types.Log) (*onchain.Event, error) {
	if l.Topics[0] != topicKnown {
		return nil, onchain.ErrUnknownEvent
	}
	if len(l.Topics) < 2 {
		return nil, errors.New("missing agent id")
	}
	ev := &onchain.Event{
		Type:        string(l.Data),
		AgentID:     new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64(),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}
	if ev.Type == onchain.EventAgentUpdated {
		ev.Name = "Renamed"
		ev.Active = false
	}
	return ev, nil
}

type recorder struct {
	mu     sync.Mutex
	events []*onchain.Event
}

func (r *recorder) Publish(t realtime.EventType, _ uint64, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == realtime.EventChain {
		r.events = append(r.events, data.(*onchain.Event))
	}
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func registryLog(block, agentID uint64, event string) types.Log {
	return types.Log{
		Address:     contract,
		Topics:      []common.Hash{topicKnown, common.BigToHash(new(big.Int).SetUint64(agentID))},
		Data:        []byte(event),
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*100 + agentID)),
	}
}

func newWatcher(chain *fakeChain, pub Publisher, cfg Config, opts ...Option) *Watcher {
	cfg.Contract = contract
	return New(cfg, chain, stubParser{}, pub, opts...)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotZero(t, cfg.PollInterval)
	assert.Zero(t, cfg.StartBlock)
	assert.Equal(t, uint64(2048), cfg.MaxBlockRange)
}

func TestPoll_DispatchesEventsInRange(t *testing.T) {
	chain := &fakeChain{
		head: 10,
		logs: []types.Log{
			registryLog(5, 1, onchain.EventAgentRegistered),
			registryLog(7, 1, onchain.EventCallRecorded),
			registryLog(9, 2, onchain.EventPaymentReceived),
		},
	}
	pub := &recorder{}
	w := newWatcher(chain, pub, Config{StartBlock: 6})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, []string{onchain.EventCallRecorded, onchain.EventPaymentReceived}, pub.types())
	assert.Equal(t, uint64(10), w.LastBlock())

	q := chain.queries[0]
	assert.Equal(t, []common.Address{contract}, q.Addresses)
	assert.Equal(t, [][]common.Hash{{topicKnown}}, q.Topics)
	assert.Equal(t, uint64(6), q.FromBlock.Uint64())

	// Nothing new: no further events.
	require.NoError(t, w.Poll(context.Background()))
	assert.Len(t, pub.types(), 2)
}

func TestPoll_ChunksWideRanges(t *testing.T) {
	chain := &fakeChain{head: 25, logs: []types.Log{registryLog(24, 3, onchain.EventAgentRated)}}
	w := newWatcher(chain, &recorder{}, Config{StartBlock: 1, MaxBlockRange: 10})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, w.Poll(context.Background()))
	require.Len(t, chain.queries, 3)
	assert.Equal(t, uint64(10), chain.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(11), chain.queries[1].FromBlock.Uint64())
	assert.Equal(t, uint64(25), chain.queries[2].ToBlock.Uint64())
}

func TestPoll_FilterErrorKeepsCursor(t *testing.T) {
	chain := &fakeChain{head: 5}
	w := newWatcher(chain, &recorder{}, Config{})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	chain.setHead(8)
	chain.mu.Lock()
	chain.logsErr = errors.New("rate limited")
	chain.mu.Unlock()

	assert.Error(t, w.Poll(context.Background()))
	assert.Equal(t, uint64(5), w.LastBlock())
}

func TestPoll_BlockNumberError(t *testing.T) {
	chain := &fakeChain{head: 5}
	w := newWatcher(chain, &recorder{}, Config{})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	chain.mu.Lock()
	chain.headErr = errors.New("dial tcp: connection refused")
	chain.mu.Unlock()
	assert.Error(t, w.Poll(context.Background()))
}

func TestPoll_SkipsUnknownRemovedAndMalformedLogs(t *testing.T) {
	removed := registryLog(3, 1, onchain.EventCallRecorded)
	removed.Removed = true
	chain := &fakeChain{
		head: 4,
		logs: []types.Log{
			{Topics: []common.Hash{topicUnknown}, BlockNumber: 2},
			{Topics: []common.Hash{topicKnown}, BlockNumber: 2},
			removed,
			registryLog(4, 1, onchain.EventAgentRated),
		},
	}
	pub := &recorder{}
	w := newWatcher(chain, pub, Config{StartBlock: 1})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, w.Poll(context.Background()))
	assert.Equal(t, []string{onchain.EventAgentRated}, pub.types())
}

func TestPoll_AppliesAgentUpdatesToDirectory(t *testing.T) {
	store := directory.NewMemoryStore()
	require.NoError(t, directory.Seed(context.Background(), store, directory.DemoAgents()))

	chain := &fakeChain{
		head: 3,
		logs: []types.Log{
			registryLog(2, 2, onchain.EventAgentUpdated),
			registryLog(3, 77, onchain.EventAgentUpdated),
		},
	}
	pub := &recorder{}
	w := newWatcher(chain, pub, Config{StartBlock: 1}, WithDirectory(store))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, w.Poll(context.Background()))

	agent, err := store.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", agent.Name)
	assert.False(t, agent.Active)
	assert.Len(t, pub.types(), 2)
}

func TestStartAndStop(t *testing.T) {
	chain := &fakeChain{head: 1, logs: []types.Log{registryLog(2, 1, onchain.EventCallRecorded)}}
	pub := &recorder{}
	w := newWatcher(chain, pub, Config{PollInterval: 5 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))

	chain.setHead(2)
	assert.Eventually(t, func() bool { return len(pub.types()) == 1 }, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
	n := chain.queryCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, chain.queryCount())
}

func TestStart_BlockNumberError(t *testing.T) {
	chain := &fakeChain{headErr: errors.New("unreachable")}
	w := newWatcher(chain, &recorder{}, Config{})
	assert.Error(t, w.Start(context.Background()))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked after a failed Start")
	}
}

func TestStop_WithoutStart(t *testing.T) {
	w := newWatcher(&fakeChain{head: 1}, &recorder{}, Config{})

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a watcher that never started")
	}
}

func TestStart_Twice(t *testing.T) {
	w := newWatcher(&fakeChain{head: 1}, &recorder{}, Config{PollInterval: time.Hour})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.Error(t, w.Start(context.Background()))
}
