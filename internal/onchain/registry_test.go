package onchain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/agentbazaar/internal/retry"
)

const (
	testKey      = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testRegistry = "0x00000000000000000000000000000000000000Cc"
	testOwner    = "0x1111111111111111111111111111111111111111"
	testChainID  = 43113
)

// fakeChain emulates the registry contract behind the EthClient interface.
type fakeChain struct {
	t   *testing.T
	abi abi.ABI

	mu        sync.Mutex
	views     map[string][]any
	viewErrs  map[string]error
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	pending   int // NotFound answers before a receipt is visible
	neverMine bool
	status    uint64
	logsFor   func(tx *types.Transaction) []*types.Log
	block     uint64
	logs      []types.Log
}

func newFakeChain(t *testing.T) *fakeChain {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	require.NoError(t, err)
	return &fakeChain{
		t:        t,
		abi:      parsed,
		views:    map[string][]any{},
		viewErrs: map[string]error{},
		receipts: map[common.Hash]*types.Receipt{},
		status:   types.ReceiptStatusSuccessful,
	}
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(25_000_000_000), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("estimation unavailable")
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	var logs []*types.Log
	if f.logsFor != nil {
		logs = f.logsFor(tx)
	}
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      f.status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(100),
		Logs:        logs,
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.neverMine {
		return nil, ethereum.NotFound
	}
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	require.NoError(f.t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.viewErrs[method.Name]; err != nil {
		return nil, err
	}
	out, ok := f.views[method.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return method.Outputs.Pack(out...)
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= q.FromBlock.Uint64() && l.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) Close() {}

// decodeSent returns the method name and arguments of the i-th sent tx.
func (f *fakeChain) decodeSent(i int) (string, []any) {
	f.mu.Lock()
	tx := f.sent[i]
	f.mu.Unlock()
	method, err := f.abi.MethodById(tx.Data()[:4])
	require.NoError(f.t, err)
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(f.t, err)
	return method.Name, args
}

// registeredLog builds an AgentRegistered log for id.
func (f *fakeChain) registeredLog(id int64, owner, name string) *types.Log {
	ev := f.abi.Events[EventAgentRegistered]
	data, err := ev.Inputs.NonIndexed().Pack(name)
	require.NoError(f.t, err)
	return &types.Log{
		Address: common.HexToAddress(testRegistry),
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(common.HexToAddress(owner).Bytes()),
		},
		Data: data,
	}
}

func newTestRegistry(t *testing.T, chain *fakeChain, key string) *Registry {
	t.Helper()
	r, err := New(Config{
		RegistryAddress: testRegistry,
		CoordinatorKey:  key,
		ChainID:         testChainID,
		ReceiptTimeout:  time.Second,
	}, WithClient(chain), WithPollInterval(time.Millisecond),
		WithReadRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	chain := newFakeChain(t)

	_, err := New(Config{RegistryAddress: "nope", ChainID: testChainID}, WithClient(chain))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = New(Config{RegistryAddress: testRegistry, ChainID: testChainID, CoordinatorKey: "abc"}, WithClient(chain))
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)

	_, err = New(Config{RegistryAddress: testRegistry, ChainID: testChainID})
	assert.ErrorIs(t, err, ErrRPCConnection)

	_, err = New(Config{RegistryAddress: testRegistry}, WithClient(chain))
	assert.Error(t, err)

	r := newTestRegistry(t, chain, "0x"+testKey)
	assert.True(t, r.CanWrite())
	pk, _ := crypto.HexToECDSA(testKey)
	assert.Equal(t, crypto.PubkeyToAddress(pk.PublicKey).Hex(), r.Coordinator())
	assert.Equal(t, common.HexToAddress(testRegistry).Hex(), r.Address())

	ro := newTestRegistry(t, chain, "")
	assert.False(t, ro.CanWrite())
	assert.Empty(t, ro.Coordinator())
}

func TestRegisterAgent_IDFromLog(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["nextAgentId"] = []any{big.NewInt(5)}
	chain.logsFor = func(*types.Transaction) []*types.Log {
		return []*types.Log{chain.registeredLog(7, testOwner, "Echo")}
	}
	r := newTestRegistry(t, chain, testKey)

	id, err := r.RegisterAgent(context.Background(), testOwner, "Echo")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)

	name, args := chain.decodeSent(0)
	assert.Equal(t, "registerAgent", name)
	assert.Equal(t, common.HexToAddress(testOwner), args[0])
	assert.Equal(t, "Echo", args[1])

	chain.mu.Lock()
	tx := chain.sent[0]
	chain.mu.Unlock()
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(testChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, r.Coordinator(), sender.Hex())
	assert.Equal(t, DefaultGasLimit, tx.Gas())
}

func TestRegisterAgent_FallsBackToNextAgentID(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["nextAgentId"] = []any{big.NewInt(5)}
	chain.pending = 2
	r := newTestRegistry(t, chain, testKey)

	id, err := r.RegisterAgent(context.Background(), testOwner, "Echo")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
}

func TestRegisterAgent_NoIDAnywhere(t *testing.T) {
	chain := newFakeChain(t)
	r := newTestRegistry(t, chain, testKey)

	_, err := r.RegisterAgent(context.Background(), testOwner, "Echo")
	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.NotEmpty(t, txErr.TxHash)
}

func TestRegisterAgent_Reverted(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["nextAgentId"] = []any{big.NewInt(1)}
	chain.status = types.ReceiptStatusFailed
	r := newTestRegistry(t, chain, testKey)

	_, err := r.RegisterAgent(context.Background(), testOwner, "Echo")
	assert.ErrorIs(t, err, ErrTransactionFailed)
}

func TestRegisterAgent_Errors(t *testing.T) {
	chain := newFakeChain(t)

	_, err := newTestRegistry(t, chain, "").RegisterAgent(context.Background(), testOwner, "Echo")
	assert.ErrorIs(t, err, ErrNoCoordinator)

	_, err = newTestRegistry(t, chain, testKey).RegisterAgent(context.Background(), "0xnothex", "Echo")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestTransact_Timeout(t *testing.T) {
	chain := newFakeChain(t)
	chain.neverMine = true
	r, err := New(Config{
		RegistryAddress: testRegistry,
		CoordinatorKey:  testKey,
		ChainID:         testChainID,
		ReceiptTimeout:  20 * time.Millisecond,
	}, WithClient(chain), WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	_, err = r.RecordCall(context.Background(), 1, testOwner, true)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRecordCallAndPayment(t *testing.T) {
	chain := newFakeChain(t)
	r := newTestRegistry(t, chain, testKey)
	ctx := context.Background()

	hash, err := r.RecordCall(ctx, 3, testOwner, true)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "0x"))

	_, err = r.RecordPayment(ctx, 3, testOwner, big.NewInt(150_000))
	require.NoError(t, err)

	name, args := chain.decodeSent(0)
	assert.Equal(t, "recordCall", name)
	assert.Equal(t, big.NewInt(3), args[0])
	assert.Equal(t, true, args[2])

	name, args = chain.decodeSent(1)
	assert.Equal(t, "recordPayment", name)
	assert.Equal(t, big.NewInt(150_000), args[2])

	chain.mu.Lock()
	assert.Equal(t, uint64(1), chain.sent[1].Nonce())
	chain.mu.Unlock()

	_, err = r.RecordPayment(ctx, 3, testOwner, big.NewInt(-1))
	assert.Error(t, err)
	_, err = r.RecordCall(ctx, 3, "bad", true)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestTransact_ConcurrentNoncesAreUnique(t *testing.T) {
	chain := newFakeChain(t)
	r := newTestRegistry(t, chain, testKey)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.RecordCall(context.Background(), uint64(i), testOwner, true)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	chain.mu.Lock()
	defer chain.mu.Unlock()
	require.Len(t, chain.sent, 10)
	for _, tx := range chain.sent {
		assert.False(t, seen[tx.Nonce()], "nonce %d reused", tx.Nonce())
		seen[tx.Nonce()] = true
	}
}

func agentTuple(totalCalls, ratingCount, earnings, ok, failed int64, active bool) []any {
	return []any{
		big.NewInt(1), common.HexToAddress(testOwner), "Echo",
		big.NewInt(totalCalls), big.NewInt(ratingCount * 4), big.NewInt(ratingCount),
		active, big.NewInt(earnings), big.NewInt(ok), big.NewInt(failed),
	}
}

func TestGetAgent(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["agents"] = agentTuple(20, 4, 2_500_000, 19, 1, true)
	avg, _ := new(big.Int).SetString("4250000000000000000", 10)
	chain.views["averageRating"] = []any{avg}
	chain.views["getEarnings24h"] = []any{big.NewInt(150_000)}
	chain.views["getSuccessRate"] = []any{big.NewInt(9500)}
	r := newTestRegistry(t, chain, "")

	s, err := r.GetAgent(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), s.TotalCalls)
	assert.Equal(t, uint64(4), s.RatingCount)
	assert.InDelta(t, 4.25, s.AverageRating, 1e-9)
	assert.InDelta(t, 95.0, s.SuccessRate, 1e-9)
	assert.Equal(t, "2.500000", s.TotalEarnings)
	assert.Equal(t, "0.150000", s.Earnings24h)
	assert.Equal(t, uint64(19), s.SuccessfulCalls)
	assert.Equal(t, uint64(1), s.FailedCalls)
	assert.True(t, s.Active)
}

func TestGetAgent_FreshAgentDefaults(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["agents"] = agentTuple(0, 0, 0, 0, 0, true)
	// averageRating and getSuccessRate revert for agents without activity
	r := newTestRegistry(t, chain, "")

	s, err := r.GetAgent(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, s.AverageRating)
	assert.Equal(t, float64(100), s.SuccessRate)
	assert.Equal(t, "0.000000", s.Earnings24h)
}

func TestGetAgent_ReadError(t *testing.T) {
	chain := newFakeChain(t)
	chain.viewErrs["agents"] = errors.New("rpc down")
	r := newTestRegistry(t, chain, "")

	_, err := r.GetAgent(context.Background(), 1)
	assert.ErrorContains(t, err, "rpc down")
}

// flakyChain fails the first n view calls with a transport error.
type flakyChain struct {
	*fakeChain
	failures int
	calls    int
}

func (f *flakyChain) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.fakeChain.CallContract(ctx, call, block)
}

func TestCanRate_RetriesTransientErrors(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["canRate"] = []any{true}
	flaky := &flakyChain{fakeChain: chain, failures: 2}

	r, err := New(Config{RegistryAddress: testRegistry, ChainID: testChainID},
		WithClient(flaky), WithReadRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))
	require.NoError(t, err)

	ok, err := r.CanRate(context.Background(), testOwner, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, flaky.calls)
}

func TestCanRate_RevertIsNotRetried(t *testing.T) {
	chain := newFakeChain(t)
	flaky := &flakyChain{fakeChain: chain}

	r, err := New(Config{RegistryAddress: testRegistry, ChainID: testChainID},
		WithClient(flaky), WithReadRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}))
	require.NoError(t, err)

	_, err = r.CanRate(context.Background(), testOwner, 2)
	assert.ErrorContains(t, err, "execution reverted")
	assert.Equal(t, 1, flaky.calls)
}

func TestCanRate(t *testing.T) {
	chain := newFakeChain(t)
	chain.views["canRate"] = []any{true}
	r := newTestRegistry(t, chain, "")

	ok, err := r.CanRate(context.Background(), testOwner, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.CanRate(context.Background(), "x", 2)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	chain.viewErrs["canRate"] = errors.New("rpc down")
	_, err = r.CanRate(context.Background(), testOwner, 2)
	assert.Error(t, err)
}

func TestLocalStats(t *testing.T) {
	s := LocalStats(12, 4.5, true)
	assert.Equal(t, uint64(12), s.TotalCalls)
	assert.Equal(t, uint64(12), s.SuccessfulCalls)
	assert.True(t, s.Active)
	assert.Equal(t, 4.5, s.AverageRating)
	assert.Equal(t, float64(100), s.SuccessRate)
	assert.Equal(t, "0.000000", s.TotalEarnings)
}
