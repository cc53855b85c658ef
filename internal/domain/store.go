package domain

import (
	"context"
	"math/big"
	"time"
)

// OrderStore persists canonical orders. Upsert is keyed by the deterministic
// order id; writers must apply the newer-wins ordinal check before calling it.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (Order, error)
	Upsert(ctx context.Context, order Order) error

	// CancelByNonceBelow cancels every active order of maker (for the given
	// kind) whose nonce is strictly below minNonce and whose last event is
	// older than ord. It returns the orders it transitioned.
	CancelByNonceBelow(ctx context.Context, kind OrderKind, maker string, minNonce *big.Int, ord EventOrdinal) ([]Order, error)

	// CancelByNonces cancels every active order of maker (for the given kind)
	// whose nonce is in the explicit set, under the same ordinal guard.
	CancelByNonces(ctx context.Context, kind OrderKind, maker string, nonces []*big.Int, ord EventOrdinal) ([]Order, error)

	// UpdateApproval flips the approval axis on every active order of
	// (maker, contract) whose last event is older than ord, returning the
	// orders it transitioned.
	UpdateApproval(ctx context.Context, maker, contract string, status ApprovalStatus, ord EventOrdinal) ([]Order, error)

	// UpdateFillabilityByMakerToken moves every order of (maker, contract,
	// tokenId, side sell) currently in from to to, under the ordinal guard.
	// It implements balance-change transitions after transfers.
	UpdateFillabilityByMakerToken(ctx context.Context, maker, contract, tokenID string, from, to FillabilityStatus, ord EventOrdinal) ([]Order, error)

	// ExpireDue moves every active order whose validity window ended before
	// now into the expired state, returning the orders it transitioned.
	ExpireDue(ctx context.Context, now int64) ([]Order, error)

	// BestAsk selects the lowest-value fillable+approved, unexpired sell
	// order for the token set. With normalized set, the selection uses
	// COALESCE(normalized_value, value) and excludes excludeKinds.
	BestAsk(ctx context.Context, tokenSetID string, normalized bool, excludeKinds []OrderKind, now int64) (OrderPick, error)

	// TopBid selects the highest-value fillable+approved, unexpired buy
	// order for the token set.
	TopBid(ctx context.Context, tokenSetID string, now int64) (OrderPick, error)
}

// EventStore persists the append-only event tables. Inserts are idempotent:
// rows already present under their natural keys are skipped.
type EventStore interface {
	InsertFills(ctx context.Context, fills []FillEvent) error
	InsertCancels(ctx context.Context, cancels []CancelEvent) error
	InsertNonceCancels(ctx context.Context, cancels []NonceCancelEvent) error
	InsertBulkCancels(ctx context.Context, cancels []BulkCancelEvent) error
	InsertTransfers(ctx context.Context, transfers []TransferEvent) error
	InsertMints(ctx context.Context, mints []MintInfo) error

	// ListFillsBefore and DeleteFillsBefore support cold-storage archival.
	ListFillsBefore(ctx context.Context, cutoff time.Time, limit int) ([]FillEvent, error)
	DeleteFillsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListTransfersBefore(ctx context.Context, cutoff time.Time, limit int) ([]TransferEvent, error)
	DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenStore persists the cached floor state per token set.
type TokenStore interface {
	FloorState(ctx context.Context, tokenSetID string) (FloorState, error)
	SaveFloorState(ctx context.Context, state FloorState) error
}

// SourceStore persists marketplace/aggregator source identities and the
// known-router table.
type SourceStore interface {
	List(ctx context.Context) ([]Source, error)
	GetByDomain(ctx context.Context, domain string) (Source, error)
	Insert(ctx context.Context, source Source) (Source, error)
	ListRouters(ctx context.Context) ([]Source, error)
}

// TxCacheStore is the persisted side of the transaction cache-or-fetch
// pattern used by attribution and decoders.
type TxCacheStore interface {
	GetTransaction(ctx context.Context, hash string) (Transaction, error)
	SaveTransaction(ctx context.Context, tx Transaction) error
}

// ActivityStore persists durable order-event log rows for polling consumers.
type ActivityStore interface {
	InsertOrderEvents(ctx context.Context, events []OrderEvent) error
}
