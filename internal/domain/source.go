package domain

import "time"

// Source is a marketplace, aggregator, or router identity that fills and
// orders are attributed to.
type Source struct {
	ID        int64
	Domain    string // e.g. "opensea.io"
	Name      string
	Address   string // router/exchange contract, empty when unknown
	CreatedAt time.Time
}

// Attribution is the result of resolving which parties get credit for a fill.
// A zero source id means "not attributed".
type Attribution struct {
	OrderSourceID      int64
	FillSourceID       int64
	AggregatorSourceID int64
	// Taker overrides the raw on-chain taker when the transaction went
	// through a known router (the router is not the economic counterparty).
	Taker string
}

// CollectionMint describes an open mint on a collection, checked against the
// external mint-simulation oracle before being recorded.
type CollectionMint struct {
	Contract string
	TokenID  string
	Minter   string
	Price    string
	Kind     string // "public" or "allowlist"
}
