// Package decoder converts heterogeneous protocol-specific blockchain logs
// into the canonical event model. One ProtocolDecoder exists per supported
// marketplace kind; all of them write into per-decoder OnChainData instances
// that the registry merges in a fixed priority order.
package decoder

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// ProtocolDecoder decodes every log matched to one protocol kind, in log
// order. A decode failure for one log must not block the others: decoders
// log and continue, returning an error only for batch-fatal conditions.
type ProtocolDecoder interface {
	Kind() domain.OrderKind

	// Topics lists the event signatures this decoder claims.
	Topics() []common.Hash

	// Addresses optionally restricts the decoder to specific contracts
	// (e.g. the Cryptopunks singleton). Empty means any address.
	Addresses() []common.Address

	// DecodeLogs processes the matched logs in discovery order and appends
	// canonical sub-events to out.
	DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error
}

// Deps bundles the collaborators decoders share: price normalization,
// attribution, and transaction lookups.
type Deps struct {
	Prices      domain.PriceOracle
	Attribution *attribution.Resolver
	Txs         domain.TxReader
	MintOracle  domain.MintOracle

	// MintBlacklist lists contracts whose mints are never treated as sales.
	MintBlacklist map[string]bool

	Logger *slog.Logger
}

// baseParams builds the BaseEventParams for a (log, batchIndex) pair.
func baseParams(log domain.Log, batchIndex int) domain.BaseEventParams {
	return domain.BaseEventParams{
		Address:     lower(log.Address),
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		TxIndex:     log.TxIndex,
		BlockNumber: log.BlockNumber,
		BlockHash:   strings.ToLower(log.BlockHash.Hex()),
		LogIndex:    log.LogIndex,
		BatchIndex:  batchIndex,
		Timestamp:   log.Timestamp,
	}
}

func lower(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}

func topicBig(topic common.Hash) *big.Int {
	return new(big.Int).SetBytes(topic.Bytes())
}

// zeroAddress is the lowercased zero address (mint origin, open taker).
const zeroAddress = "0x0000000000000000000000000000000000000000"

// normalizePrices resolves native/USD prices for a fill amount. ok is false
// when no native quote exists (the fill must be skipped) or the oracle
// failed; such failures are logged and never abort the batch.
func (d *Deps) normalizePrices(ctx context.Context, currency string, amount *big.Int, timestamp int64) (domain.PriceQuote, bool) {
	quote, err := d.Prices.USDAndNativePrices(ctx, currency, amount, timestamp)
	if err != nil {
		if errors.Is(err, domain.ErrNoPriceData) {
			d.Logger.Warn("skipping fill: no native price",
				slog.String("currency", currency),
				slog.Int64("timestamp", timestamp),
			)
		} else {
			d.Logger.Warn("skipping fill: price normalization failed",
				slog.String("currency", currency),
				slog.String("error", err.Error()),
			)
		}
		return domain.PriceQuote{}, false
	}
	return quote, true
}
