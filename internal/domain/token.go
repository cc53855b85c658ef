package domain

import (
	"math/big"
	"time"
)

// FloorState is the materialized floor-ask / top-bid view cached per token
// set. It must always equal the result of the selection query over currently
// fillable orders; the floor updater recomputes it inside the same logical
// transaction as the order mutation that triggered it.
type FloorState struct {
	TokenSetID string

	FloorAskID        string
	FloorAskValue     *big.Int
	FloorAskMaker     string
	FloorAskValidFrom int64
	FloorAskValidTo   int64

	NormalizedFloorAskID    string
	NormalizedFloorAskValue *big.Int

	TopBidID    string
	TopBidValue *big.Int
	TopBidMaker string

	UpdatedAt time.Time
}

// OrderPick is the winning order of a floor/top-bid selection query.
type OrderPick struct {
	OrderID   string
	Value     *big.Int
	Maker     string
	ValidFrom int64
	ValidTo   int64
}

// FloorKind names which cached price a floor-change event refers to.
type FloorKind string

const (
	FloorAsk           FloorKind = "floor-ask"
	FloorAskNormalized FloorKind = "normalized-floor-ask"
	FloorTopBid        FloorKind = "top-bid"
)

// FloorChange is emitted when a recompute actually moved a cached price.
type FloorChange struct {
	TokenSetID    string
	Kind          FloorKind
	PreviousID    string
	PreviousValue *big.Int
	NewID         string
	NewValue      *big.Int
	At            time.Time
}
