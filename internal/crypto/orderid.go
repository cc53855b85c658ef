// Package crypto provides deterministic order-id hashing, token-set id
// construction, and maker signature verification for soft cancels.
package crypto

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// orderID hashes the lowercased identifying parts with keccak256. The same
// logical order always maps to the same id, which is what makes upserts
// idempotent across replays and reorg re-processing.
func orderID(parts ...string) string {
	joined := strings.ToLower(strings.Join(parts, "/"))
	return hexutil.Encode(ethcrypto.Keccak256([]byte(joined)))
}

// SingleTokenOrderID derives the id for protocols that keep at most one live
// order per (contract, tokenId), such as Foundation buy-prices and
// Cryptopunks offers.
func SingleTokenOrderID(kind domain.OrderKind, contract, tokenID string) string {
	return orderID(string(kind), contract, tokenID)
}

// SideTokenOrderID derives the id for single-order-per-token protocols that
// track asks and bids independently (Zora v3 asks vs offers).
func SideTokenOrderID(kind domain.OrderKind, side domain.Side, contract, tokenID string) string {
	return orderID(string(kind), string(side), contract, tokenID)
}

// PoolOrderID derives the id for AMM pool protocols where the pool itself is
// the maker (Midaswap, Caviar).
func PoolOrderID(kind domain.OrderKind, pool string, side domain.Side, tokenID string) string {
	return orderID(string(kind), pool, string(side), tokenID)
}
