package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Log is a raw blockchain log together with its block timestamp. It is the
// input boundary of the decoders; the upstream log source is responsible for
// attaching the timestamp.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint
	Timestamp   int64
}

// BaseEventParams identifies a single canonical sub-event on chain. BatchIndex
// disambiguates multiple sub-events sharing one log (e.g. ERC1155
// TransferBatch) and is 1-indexed by position within the batch.
type BaseEventParams struct {
	Address     string
	TxHash      string
	TxIndex     uint
	BlockNumber uint64
	BlockHash   string
	LogIndex    uint
	BatchIndex  int
	Timestamp   int64
}

// Ordinal returns the comparable position of this event in chain order.
func (p BaseEventParams) Ordinal() EventOrdinal {
	return EventOrdinal{
		Timestamp:   p.Timestamp,
		BlockNumber: p.BlockNumber,
		LogIndex:    p.LogIndex,
		BatchIndex:  p.BatchIndex,
	}
}

// EventOrdinal orders events by transaction timestamp, tie-broken by block
// number, then log index, then batch index. Two conflicting updates for one
// order id are resolved by comparing ordinals: the newer one wins.
type EventOrdinal struct {
	Timestamp   int64
	BlockNumber uint64
	LogIndex    uint
	BatchIndex  int
}

// After reports whether e is strictly newer than o.
func (e EventOrdinal) After(o EventOrdinal) bool {
	if e.Timestamp != o.Timestamp {
		return e.Timestamp > o.Timestamp
	}
	if e.BlockNumber != o.BlockNumber {
		return e.BlockNumber > o.BlockNumber
	}
	if e.LogIndex != o.LogIndex {
		return e.LogIndex > o.LogIndex
	}
	return e.BatchIndex > o.BatchIndex
}

// FillEvent is an immutable, append-only record of a completed (sub-)fill.
// The tuple (TxHash, LogIndex, BatchIndex) is its natural dedup key.
// OrderID is empty for fills without a persistent order id (AMM swaps).
type FillEvent struct {
	OrderID       string
	OrderKind     OrderKind
	OrderSide     Side
	Maker         string
	Taker         string
	Contract      string
	TokenID       string
	Amount        *big.Int
	Currency      string
	CurrencyPrice *big.Int
	Price         *big.Int // native currency
	USDPrice      *decimal.Decimal

	OrderSourceID      int64
	FillSourceID       int64
	AggregatorSourceID int64

	// IsPrimary marks mint fills (first sale out of the contract).
	IsPrimary bool

	Base BaseEventParams
}

// CancelEvent invalidates a single order by id.
type CancelEvent struct {
	OrderID   string
	OrderKind OrderKind
	Maker     string
	Base      BaseEventParams
}

// NonceCancelEvent invalidates all live orders of a maker whose nonce is in
// the explicit set.
type NonceCancelEvent struct {
	OrderKind OrderKind
	Maker     string
	Nonces    []*big.Int
	Base      BaseEventParams
}

// BulkCancelEvent raises a maker's minimum valid nonce; every live order with
// a strictly smaller nonce is cancelled.
type BulkCancelEvent struct {
	OrderKind OrderKind
	Maker     string
	MinNonce  *big.Int
	Base      BaseEventParams
}

// TransferKind tags the token standard a transfer was observed under.
type TransferKind string

const (
	TransferERC721      TransferKind = "erc721"
	TransferERC1155     TransferKind = "erc1155"
	TransferCryptopunks TransferKind = "cryptopunks"
)

// TransferEvent is an ownership change of a token.
type TransferEvent struct {
	Kind     TransferKind
	From     string
	To       string
	Contract string
	TokenID  string
	Amount   *big.Int
	Base     BaseEventParams
}

// MintInfo seeds first-owner semantics for a freshly minted token. Free mints
// (zero transaction value) are excluded from fill-as-sale treatment.
type MintInfo struct {
	Contract string
	TokenID  string
	Amount   *big.Int
	MintedAt int64
	Base     BaseEventParams
}

// Transaction is the decoded envelope of a fetched transaction.
type Transaction struct {
	Hash           string
	From           string
	To             string
	Data           []byte
	Value          *big.Int
	BlockNumber    uint64
	BlockTimestamp int64
}

// CallTrace is one node of a transaction call tree.
type CallTrace struct {
	From  string
	To    string
	Input []byte
	Value *big.Int
	Calls []CallTrace
}
