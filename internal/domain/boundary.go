package domain

import (
	"context"
	"io"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// NativeCurrency is the sentinel address decoders use for the chain's native
// currency. The price normalizer understands it directly.
const NativeCurrency = "0x0000000000000000000000000000000000000000"

// PriceQuote carries the normalized amounts for a raw currency amount.
// NativePrice is mandatory for recording fills; USDPrice is best-effort.
type PriceQuote struct {
	NativePrice *big.Int
	USDPrice    *decimal.Decimal
}

// PriceOracle converts a raw currency amount into native and USD amounts at
// a block timestamp. It returns ErrNoPriceData when no native quote exists
// for the currency at that time; callers must drop the fill in that case.
type PriceOracle interface {
	USDAndNativePrices(ctx context.Context, currency string, amount *big.Int, timestamp int64) (PriceQuote, error)
}

// TxReader fetches transactions and call traces, typically backed by an RPC
// provider behind a persisted cache.
type TxReader interface {
	FetchTransaction(ctx context.Context, hash string) (Transaction, error)
	FetchTransactionTrace(ctx context.Context, hash string) (CallTrace, error)
}

// LogSource feeds raw logs for contiguous block ranges into the pipeline.
type LogSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]Log, error)
}

// MintOracle is the external EVM-simulation service consulted before an open
// collection mint is recorded.
type MintOracle interface {
	SimulateCollectionMint(ctx context.Context, mint CollectionMint) (bool, error)
}

// BlobInfo describes a stored blob object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves and enumerates objects in cold storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves aged event rows out of the hot store into cold storage.
// Implementations upload only; pruning the source rows is a separate step
// taken after the archive is verified.
type Archiver interface {
	ArchiveFills(ctx context.Context, before time.Time) (int64, error)
	ArchiveTransfers(ctx context.Context, before time.Time) (int64, error)
}

// Emitter fans finalized domain changes out to downstream consumers (search
// index, websocket triggers). Delivery guarantees belong to the collaborators
// behind it; the core only requires a complete, de-duplicated, causally
// ordered stream.
type Emitter interface {
	EmitSales(ctx context.Context, fills []FillEvent) error
	EmitOrder(ctx context.Context, order Order, trigger TriggerKind) error
	EmitTransfers(ctx context.Context, transfers []TransferEvent) error
	EmitFloorChange(ctx context.Context, change FloorChange) error
}
