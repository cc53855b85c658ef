package domain

import (
	"encoding/json"
	"math/big"
	"time"
)

// OrderKind tags which marketplace protocol produced an order.
type OrderKind string

const (
	OrderKindSeaport     OrderKind = "seaport"
	OrderKindLooksRare   OrderKind = "looks-rare"
	OrderKindFoundation  OrderKind = "foundation"
	OrderKindCryptopunks OrderKind = "cryptopunks"
	OrderKindZoraV3      OrderKind = "zora-v3"
	OrderKindMidaswap    OrderKind = "midaswap"
	OrderKindCaviarV1    OrderKind = "caviar-v1"
	OrderKindMint        OrderKind = "mint"
)

// Side indicates whether an order is an ask (sell) or a bid (buy).
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// FillabilityStatus tracks the order lifecycle.
type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
	FillabilityFilled    FillabilityStatus = "filled"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityExpired   FillabilityStatus = "expired"
)

// ApprovalStatus is a separate axis from fillability: whether the maker's
// assets are approved for the protocol's transfer operator.
type ApprovalStatus string

const (
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalNoApproval ApprovalStatus = "no-approval"
)

// MaxFeeBps is the upper bound on the sum of an order's fee breakdown.
// Orders exceeding it are rejected.
const MaxFeeBps = 10000

// FeeKind classifies a fee breakdown entry.
type FeeKind string

const (
	FeeKindMarketplace FeeKind = "marketplace"
	FeeKindRoyalty     FeeKind = "royalty"
)

// FeeEntry is one recipient's cut of an order, in basis points.
type FeeEntry struct {
	Kind      FeeKind `json:"kind"`
	Recipient string  `json:"recipient"`
	Bps       int64   `json:"bps"`
}

// Order is the canonical, protocol-agnostic order model. Its ID is a
// deterministic hash of the protocol's identifying fields, so re-decoding the
// same logical order always upserts the same row. Orders are never deleted;
// terminal states preserve history for activity feeds.
type Order struct {
	ID   string
	Kind OrderKind
	Side Side

	Maker string
	Taker string // empty = open order

	Price           *big.Int // gross, native currency
	CurrencyPrice   *big.Int // gross, payment currency
	Value           *big.Int // net to the counterparty after fees
	CurrencyValue   *big.Int
	NormalizedValue *big.Int // royalty-normalized; nil when unsupported
	Currency        string

	FeeBps       int64
	FeeBreakdown []FeeEntry

	Nonce             *big.Int // nil for protocols without maker nonces
	QuantityRemaining *big.Int

	ValidFrom  int64
	ValidUntil int64 // 0 = open-ended

	Fillability FillabilityStatus
	Approval    ApprovalStatus

	// RejectionReason names the validation failure for orders that were
	// recorded but never fillable ("fees-too-high", "invalid-signature", ...).
	RejectionReason string

	TokenSetID string
	Contract   string
	TokenID    string

	SourceID int64

	RawData json.RawMessage

	// LastEvent is the ordinal of the newest on-chain event applied to this
	// order. It is the baseline of the newer-wins idempotency check.
	LastEvent EventOrdinal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalFeeBps sums the fee breakdown.
func (o *Order) TotalFeeBps() int64 {
	var sum int64
	for _, f := range o.FeeBreakdown {
		sum += f.Bps
	}
	return sum
}

// IsExpiredAt reports whether the order's validity window has passed at ts.
// ValidUntil of zero means open-ended.
func (o *Order) IsExpiredAt(ts int64) bool {
	return o.ValidUntil != 0 && o.ValidUntil < ts
}

// IsActive reports whether the order is still fillable or could become so.
func (o *Order) IsActive() bool {
	return o.Fillability == FillabilityFillable || o.Fillability == FillabilityNoBalance
}

// TriggerKind names why an order re-evaluation was requested.
type TriggerKind string

const (
	TriggerNewOrder       TriggerKind = "new-order"
	TriggerReprice        TriggerKind = "reprice"
	TriggerSale           TriggerKind = "sale"
	TriggerCancel         TriggerKind = "cancel"
	TriggerNonceCancel    TriggerKind = "nonce-cancel"
	TriggerBalanceChange  TriggerKind = "balance-change"
	TriggerApprovalChange TriggerKind = "approval-change"
	TriggerRevalidation   TriggerKind = "revalidation"
	TriggerBootstrap      TriggerKind = "bootstrap"
	TriggerExpiry         TriggerKind = "expiry"
)

// OrderTrigger asks the reconciler to (re-)evaluate one order. Order is set
// for new-order and reprice triggers and nil otherwise. Approval-change
// triggers carry no order id; they scope by (maker, contract) and fan out to
// every live order of that pair.
type OrderTrigger struct {
	OrderID string
	Kind    TriggerKind
	Order   *Order
	Base    BaseEventParams

	// Amount is the quantity consumed by a sale trigger. Nil means one unit
	// (ERC721 and single-unit fills).
	Amount *big.Int

	Maker    string
	Contract string
	Approved bool
}

// OrderEvent is a durable log row written on every order status transition,
// consumed by polling-based external consumers.
type OrderEvent struct {
	ID          int64
	OrderID     string
	OrderKind   OrderKind
	Trigger     TriggerKind
	Fillability FillabilityStatus
	Approval    ApprovalStatus
	Contract    string
	TokenSetID  string
	Maker       string
	Price       *big.Int
	ValidFrom   int64
	ValidUntil  int64
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	CreatedAt   time.Time
}
