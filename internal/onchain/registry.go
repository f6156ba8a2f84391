// Package onchain talks to the AgentBazaarRegistry contract on an EVM chain
// (Avalanche Fuji by default): agent registration, call and payment
// records, public stats and rating eligibility.
package onchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/agentbazaar/internal/metrics"
	"github.com/mbd888/agentbazaar/internal/retry"
	"github.com/mbd888/agentbazaar/internal/syncutil"
	"github.com/mbd888/agentbazaar/internal/traces"
	"github.com/mbd888/agentbazaar/internal/usdc"
)

var (
	ErrInvalidPrivateKey = errors.New("onchain: invalid coordinator key")
	ErrInvalidAddress    = errors.New("onchain: invalid address")
	ErrNoCoordinator     = errors.New("onchain: coordinator key not configured")
	ErrTransactionFailed = errors.New("onchain: transaction reverted")
	ErrTimeout           = errors.New("onchain: operation timed out")
	ErrRPCConnection     = errors.New("onchain: RPC connection failed")
)

// TxError wraps a failed contract transaction.
type TxError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("onchain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("onchain: %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// EthClient is the subset of ethclient.Client the registry and the chain
// watcher need.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

const (
	// DefaultGasLimit is used when estimation fails.
	DefaultGasLimit = uint64(300000)

	// DefaultReceiptTimeout bounds the wait for a transaction to be mined.
	DefaultReceiptTimeout = 60 * time.Second

	// DefaultPollInterval between receipt checks.
	DefaultPollInterval = 2 * time.Second
)

// Config for the registry client.
type Config struct {
	RPCURL          string
	RegistryAddress string
	CoordinatorKey  string // hex, optional; without it the client is read-only
	ChainID         int64
	ReceiptTimeout  time.Duration
}

// Option configures the registry client.
type Option func(*Registry)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(r *Registry) { r.client = client }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithPollInterval overrides the receipt polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Registry) { r.pollInterval = d }
}

// WithReadRetry overrides the retry policy for view calls.
func WithReadRetry(p retry.Policy) Option {
	return func(r *Registry) { r.reads = p }
}

// Stats is the public on-chain view of an agent.
type Stats struct {
	TotalCalls      uint64  `json:"totalCalls"`
	RatingCount     uint64  `json:"ratingCount"`
	AverageRating   float64 `json:"averageRating"`
	SuccessRate     float64 `json:"successRate"`
	Earnings24h     string  `json:"earnings24h"`
	TotalEarnings   string  `json:"totalEarnings"`
	SuccessfulCalls uint64  `json:"successfulCalls"`
	FailedCalls     uint64  `json:"failedCalls"`
	Active          bool    `json:"active"`
}

// LocalStats is the stand-in shown when the registry cannot be read. Every
// locally counted call is assumed successful.
func LocalStats(totalCalls uint64, rating float64, active bool) Stats {
	return Stats{
		TotalCalls:      totalCalls,
		AverageRating:   rating,
		SuccessRate:     100,
		Earnings24h:     usdc.Format(nil),
		TotalEarnings:   usdc.Format(nil),
		SuccessfulCalls: totalCalls,
		Active:          active,
	}
}

// Registry is a client for the AgentBazaarRegistry contract.
type Registry struct {
	client       EthClient
	abi          abi.ABI
	address      common.Address
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	from         common.Address
	logger       *slog.Logger
	timeout      time.Duration
	pollInterval time.Duration
	txLock       *syncutil.KeyedMutex
	reads        retry.Policy
}

// New creates a registry client. It dials cfg.RPCURL unless WithClient is
// given.
func New(cfg Config, opts ...Option) (*Registry, error) {
	if !common.IsHexAddress(cfg.RegistryAddress) {
		return nil, fmt.Errorf("%w: registry %q", ErrInvalidAddress, cfg.RegistryAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("onchain: chain ID required")
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("onchain: parse registry ABI: %w", err)
	}

	r := &Registry{
		abi:          parsed,
		address:      common.HexToAddress(cfg.RegistryAddress),
		chainID:      big.NewInt(cfg.ChainID),
		logger:       slog.Default(),
		timeout:      cfg.ReceiptTimeout,
		pollInterval: DefaultPollInterval,
		txLock:       syncutil.NewKeyedMutex(),
		reads:        retry.DefaultPolicy,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultReceiptTimeout
	}

	if cfg.CoordinatorKey != "" {
		key := strings.TrimPrefix(cfg.CoordinatorKey, "0x")
		if len(key) != 64 {
			return nil, fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
		}
		pk, err := crypto.HexToECDSA(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		r.key = pk
		r.from = crypto.PubkeyToAddress(pk.PublicKey)
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
		}
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		r.client = client
	}
	return r, nil
}

// Address returns the registry contract address.
func (r *Registry) Address() string { return r.address.Hex() }

// Coordinator returns the signing account, or "" when read-only.
func (r *Registry) Coordinator() string {
	if r.key == nil {
		return ""
	}
	return r.from.Hex()
}

// CanWrite reports whether a coordinator key is loaded.
func (r *Registry) CanWrite() bool { return r.key != nil }

// Client exposes the underlying connection for log polling.
func (r *Registry) Client() EthClient { return r.client }

// Close closes the client connection.
func (r *Registry) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// NextAgentID reads the id the contract will assign next.
func (r *Registry) NextAgentID(ctx context.Context) (uint64, error) {
	out, err := r.call(ctx, "nextAgentId")
	if err != nil {
		return 0, err
	}
	return bigOut(out, 0).Uint64(), nil
}

// RegisterAgent registers owner's agent and returns its contract id. The
// id is taken from the AgentRegistered log, or from nextAgentId read
// before sending when the log is missing.
func (r *Registry) RegisterAgent(ctx context.Context, owner, name string) (id uint64, err error) {
	if !common.IsHexAddress(owner) {
		return 0, fmt.Errorf("%w: owner %q", ErrInvalidAddress, owner)
	}
	ctx, span := traces.StartSpan(ctx, "onchain.registerAgent")
	defer func() { traces.End(span, err) }()

	before, preErr := r.NextAgentID(ctx)
	if preErr != nil {
		r.logger.WarnContext(ctx, "could not read nextAgentId before registration", "error", preErr)
	}

	receipt, err := r.transact(ctx, "registerAgent", common.HexToAddress(owner), name)
	if err != nil {
		return 0, err
	}

	if ev, ok := r.findEvent(receipt, "AgentRegistered"); ok {
		id = ev.AgentID
	} else if preErr == nil {
		id = before
	} else {
		return 0, &TxError{Op: "registerAgent", TxHash: receipt.TxHash.Hex(), Err: errors.New("agent id not found in receipt")}
	}
	span.SetAttributes(traces.AgentID(id), traces.TxHash(receipt.TxHash.Hex()))
	r.logger.InfoContext(ctx, "agent registered on-chain", "agent_id", id, "owner", owner, "tx", receipt.TxHash.Hex())
	return id, nil
}

// RecordCall records a call to agent id by user. Returns the tx hash.
func (r *Registry) RecordCall(ctx context.Context, id uint64, user string, success bool) (string, error) {
	if !common.IsHexAddress(user) {
		return "", fmt.Errorf("%w: user %q", ErrInvalidAddress, user)
	}
	receipt, err := r.transact(ctx, "recordCall", new(big.Int).SetUint64(id), common.HexToAddress(user), success)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// RecordPayment records amount (USDC base units) paid by payer to agent id.
func (r *Registry) RecordPayment(ctx context.Context, id uint64, payer string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(payer) {
		return "", fmt.Errorf("%w: payer %q", ErrInvalidAddress, payer)
	}
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("onchain: invalid payment amount")
	}
	receipt, err := r.transact(ctx, "recordPayment", new(big.Int).SetUint64(id), common.HexToAddress(payer), amount)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// GetAgent reads an agent's on-chain stats. The derived reads (average
// rating, 24h earnings, success rate) revert for fresh agents and are
// treated as zero when they fail.
func (r *Registry) GetAgent(ctx context.Context, id uint64) (*Stats, error) {
	agentID := new(big.Int).SetUint64(id)
	out, err := r.call(ctx, "agents", agentID)
	if err != nil {
		return nil, err
	}
	if len(out) != 10 {
		return nil, fmt.Errorf("onchain: agents(%d) returned %d values", id, len(out))
	}
	active, _ := out[6].(bool)

	s := &Stats{
		TotalCalls:      bigOut(out, 3).Uint64(),
		RatingCount:     bigOut(out, 5).Uint64(),
		Active:          active,
		TotalEarnings:   usdc.Format(bigOut(out, 7)),
		SuccessfulCalls: bigOut(out, 8).Uint64(),
		FailedCalls:     bigOut(out, 9).Uint64(),
		Earnings24h:     usdc.Format(nil),
		SuccessRate:     100,
	}

	if s.RatingCount > 0 {
		if avg, err := r.call(ctx, "averageRating", agentID); err == nil {
			scaled := new(big.Float).SetInt(bigOut(avg, 0))
			s.AverageRating, _ = scaled.Quo(scaled, big.NewFloat(1e18)).Float64()
		}
	}
	if earned, err := r.call(ctx, "getEarnings24h", agentID); err == nil {
		s.Earnings24h = usdc.Format(bigOut(earned, 0))
	}
	if s.TotalCalls > 0 {
		if rate, err := r.call(ctx, "getSuccessRate", agentID); err == nil {
			bps, _ := new(big.Float).SetInt(bigOut(rate, 0)).Float64()
			s.SuccessRate = bps / 100
		}
	}
	return s, nil
}

// CanRate reports whether user may rate agent id.
func (r *Registry) CanRate(ctx context.Context, user string, id uint64) (bool, error) {
	if !common.IsHexAddress(user) {
		return false, fmt.Errorf("%w: user %q", ErrInvalidAddress, user)
	}
	out, err := r.call(ctx, "canRate", common.HexToAddress(user), new(big.Int).SetUint64(id))
	if err != nil {
		return false, err
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

func (r *Registry) call(ctx context.Context, method string, args ...any) (out []any, err error) {
	defer func() { metrics.ObserveChainCall(method, err) }()

	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("onchain: pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &r.address, Data: data}
	reads := r.reads
	reads.OnRetry = func(attempt int, err error) {
		r.logger.Debug("retrying registry read", "method", method, "attempt", attempt, "error", err)
	}
	var raw []byte
	err = reads.Do(ctx, func(ctx context.Context) error {
		var cerr error
		raw, cerr = r.client.CallContract(ctx, msg, nil)
		if cerr != nil && isRevert(cerr) {
			return retry.Permanent(cerr)
		}
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("onchain: call %s: %w", method, err)
	}
	out, err = r.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("onchain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("onchain: %s returned no values", method)
	}
	return out, nil
}

// transact signs and sends a contract call from the coordinator and waits
// for it to be mined. Sends are serialized per coordinator so concurrent
// requests never reuse a nonce.
func (r *Registry) transact(ctx context.Context, method string, args ...any) (receipt *types.Receipt, err error) {
	defer func() { metrics.ObserveChainCall(method, err) }()

	if r.key == nil {
		return nil, ErrNoCoordinator
	}
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, &TxError{Op: method, Err: err}
	}

	signed, err := r.send(ctx, method, data)
	if err != nil {
		return nil, err
	}
	return r.waitForReceipt(ctx, method, signed.Hash())
}

func (r *Registry) send(ctx context.Context, method string, data []byte) (*types.Transaction, error) {
	unlock, err := r.txLock.Lock(ctx, r.from.Hex())
	if err != nil {
		return nil, &TxError{Op: method, Err: err}
	}
	defer unlock()

	nonce, err := r.client.PendingNonceAt(ctx, r.from)
	if err != nil {
		return nil, &TxError{Op: method, Err: fmt.Errorf("nonce: %w", err)}
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &TxError{Op: method, Err: fmt.Errorf("gas price: %w", err)}
	}
	gasLimit, err := r.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  r.from,
		To:    &r.address,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, r.address, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(r.chainID), r.key)
	if err != nil {
		return nil, &TxError{Op: method, Err: fmt.Errorf("sign: %w", err)}
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return nil, &TxError{Op: method, TxHash: signed.Hash().Hex(), Err: err}
	}
	r.logger.DebugContext(ctx, "registry transaction sent", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)
	return signed, nil
}

func (r *Registry) waitForReceipt(ctx context.Context, method string, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, &TxError{Op: method, TxHash: hash.Hex(), Err: ErrTransactionFailed}
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &TxError{Op: method, TxHash: hash.Hex(), Err: ErrTimeout}
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Registry) findEvent(receipt *types.Receipt, name string) (*Event, bool) {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != r.address {
			continue
		}
		ev, err := r.ParseLog(*l)
		if err == nil && ev.Type == name {
			return ev, true
		}
	}
	return nil, false
}

// isRevert reports whether a view call failed inside the EVM, which no retry
// can fix.
func isRevert(err error) bool {
	return strings.Contains(err.Error(), "execution reverted")
}

func bigOut(out []any, i int) *big.Int {
	if i >= len(out) {
		return new(big.Int)
	}
	if v, ok := out[i].(*big.Int); ok && v != nil {
		return v
	}
	return new(big.Int)
}
