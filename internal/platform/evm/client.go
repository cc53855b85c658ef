// Package evm wraps a JSON-RPC Ethereum node behind the narrow interfaces the
// pipeline consumes: a log source for block ranges and a transaction/trace
// reader.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// timestampCacheSize bounds the block-timestamp cache. Batches walk forward,
// so a small window of recent headers is enough.
const timestampCacheSize = 2048

// Client talks to an Ethereum JSON-RPC endpoint. It implements
// domain.LogSource and the fetch.RPC provider interface.
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client

	mu         sync.Mutex
	timestamps map[uint64]int64
}

// Dial connects to the given JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", url, err)
	}
	return &Client{
		rpc:        rc,
		eth:        ethclient.NewClient(rc),
		timestamps: make(map[uint64]int64),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// HeadBlock returns the chain head block number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm: head block: %w", wrapThrottled(err))
	}
	return n, nil
}

// FetchLogs returns all logs in the inclusive block range with their block
// timestamps attached.
func (c *Client) FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.Log, error) {
	raw, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
	})
	if err != nil {
		return nil, fmt.Errorf("evm: filter logs [%d,%d]: %w", fromBlock, toBlock, wrapThrottled(err))
	}

	logs := make([]domain.Log, 0, len(raw))
	for _, l := range raw {
		if l.Removed {
			continue
		}
		ts, err := c.blockTimestamp(ctx, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		logs = append(logs, domain.Log{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: l.BlockNumber,
			BlockHash:   l.BlockHash,
			TxHash:      l.TxHash,
			TxIndex:     l.TxIndex,
			LogIndex:    l.Index,
			Timestamp:   ts,
		})
	}
	return logs, nil
}

// rpcTransaction is the subset of the eth_getTransactionByHash response the
// indexer consumes. Using the raw envelope gives us the sender without
// recovering the signature.
type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Input       hexutil.Bytes   `json:"input"`
	Value       *hexutil.Big    `json:"value"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

// Transaction fetches a transaction envelope by hash.
func (c *Client) Transaction(ctx context.Context, hash string) (domain.Transaction, error) {
	var raw *rpcTransaction
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", common.HexToHash(hash)); err != nil {
		return domain.Transaction{}, fmt.Errorf("evm: transaction %s: %w", hash, wrapThrottled(err))
	}
	if raw == nil {
		return domain.Transaction{}, fmt.Errorf("evm: transaction %s: %w", hash, domain.ErrNotFound)
	}

	tx := domain.Transaction{
		Hash: strings.ToLower(raw.Hash.Hex()),
		From: strings.ToLower(raw.From.Hex()),
		Data: raw.Input,
	}
	if raw.To != nil {
		tx.To = strings.ToLower(raw.To.Hex())
	}
	if raw.Value != nil {
		tx.Value = raw.Value.ToInt()
	}
	if raw.BlockNumber != nil {
		tx.BlockNumber = raw.BlockNumber.ToInt().Uint64()
		ts, err := c.blockTimestamp(ctx, tx.BlockNumber)
		if err != nil {
			return domain.Transaction{}, err
		}
		tx.BlockTimestamp = ts
	}
	return tx, nil
}

// rpcCallFrame mirrors the callTracer output of debug_traceTransaction.
type rpcCallFrame struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Value *hexutil.Big    `json:"value"`
	Calls []rpcCallFrame  `json:"calls"`
}

// TransactionTrace returns the call tree of a transaction via the node's
// callTracer.
func (c *Client) TransactionTrace(ctx context.Context, hash string) (domain.CallTrace, error) {
	var frame rpcCallFrame
	err := c.rpc.CallContext(ctx, &frame, "debug_traceTransaction",
		common.HexToHash(hash), map[string]any{"tracer": "callTracer"})
	if err != nil {
		return domain.CallTrace{}, fmt.Errorf("evm: trace %s: %w", hash, wrapThrottled(err))
	}
	return toCallTrace(frame), nil
}

func toCallTrace(f rpcCallFrame) domain.CallTrace {
	t := domain.CallTrace{
		From:  strings.ToLower(f.From.Hex()),
		Input: f.Input,
	}
	if f.To != nil {
		t.To = strings.ToLower(f.To.Hex())
	}
	if f.Value != nil {
		t.Value = f.Value.ToInt()
	}
	for _, sub := range f.Calls {
		t.Calls = append(t.Calls, toCallTrace(sub))
	}
	return t
}

// blockTimestamp resolves the timestamp of a block, caching headers so a
// batch of logs for the same block costs one header fetch.
func (c *Client) blockTimestamp(ctx context.Context, blockNumber uint64) (int64, error) {
	c.mu.Lock()
	ts, ok := c.timestamps[blockNumber]
	c.mu.Unlock()
	if ok {
		return ts, nil
	}

	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("evm: header %d: %w", blockNumber, wrapThrottled(err))
	}
	ts = int64(header.Time)

	c.mu.Lock()
	if len(c.timestamps) >= timestampCacheSize {
		// Crude eviction; the cache only needs to cover the current batch.
		c.timestamps = make(map[uint64]int64, timestampCacheSize)
	}
	c.timestamps[blockNumber] = ts
	c.mu.Unlock()
	return ts, nil
}

// wrapThrottled converts provider rate-limit responses into the typed
// throttle error the fetch layer reschedules on.
func wrapThrottled(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit") {
		return &domain.ThrottledError{RetryAfter: time.Second}
	}
	return err
}

// Compile-time interface check.
var _ domain.LogSource = (*Client)(nil)
