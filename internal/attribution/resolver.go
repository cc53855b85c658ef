// Package attribution determines which marketplace, aggregator, and taker get
// credit for a fill by inspecting the filling transaction's calldata, known
// router addresses, and trailing calldata domain markers.
package attribution

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/registry"
)

// Safe-transfer function selectors, used to detect NFTs pushed directly to a
// router via a transfer callback.
const (
	selSafeTransferFrom721  = "b88d4fde" // safeTransferFrom(address,address,uint256,bytes)
	selSafeTransferFrom1155 = "f242432a" // safeTransferFrom(address,address,uint256,uint256,bytes)
)

// Options narrows a resolution to a specific order.
type Options struct {
	// Address is the contract the filled order applies to.
	Address string
	// OrderID, when set, lets the resolver prefer the source already bound
	// to that order.
	OrderID string
}

// Resolver resolves fill attribution. Resolve never fails: any error in a
// sub-step degrades to "no additional attribution".
type Resolver struct {
	sources *registry.Sources
	routers *registry.Routers
	orders  domain.OrderStore
	txs     domain.TxReader
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(sources *registry.Sources, routers *registry.Routers, orders domain.OrderStore, txs domain.TxReader, logger *slog.Logger) *Resolver {
	return &Resolver{
		sources: sources,
		routers: routers,
		orders:  orders,
		txs:     txs,
		logger:  logger,
	}
}

// SourceForKind returns the default source id configured for an order kind.
func (r *Resolver) SourceForKind(ctx context.Context, kind domain.OrderKind) (int64, bool) {
	if src, ok := r.sources.DefaultForKind(ctx, kind); ok {
		return src.ID, true
	}
	return 0, false
}

// Resolve computes the attribution for a fill in txHash of the given order
// kind.
func (r *Resolver) Resolve(ctx context.Context, txHash string, kind domain.OrderKind, opts Options) domain.Attribution {
	var attr domain.Attribution

	// 1. Order source: prefer the source already recorded on the order,
	// else the configured default for the kind.
	if opts.OrderID != "" {
		if order, err := r.orders.GetByID(ctx, opts.OrderID); err == nil && order.SourceID != 0 {
			attr.OrderSourceID = order.SourceID
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("order source lookup failed",
				slog.String("order_id", opts.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
	if attr.OrderSourceID == 0 {
		if src, ok := r.sources.DefaultForKind(ctx, kind); ok {
			attr.OrderSourceID = src.ID
		}
	}

	tx, err := r.txs.FetchTransaction(ctx, txHash)
	if err != nil {
		r.logger.Warn("attribution tx fetch failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		attr.FillSourceID = attr.OrderSourceID
		return attr
	}

	// 2. Unwrap one level of nested-transaction indirection before looking
	// at calldata.
	effTo, effData := r.effectiveCall(ctx, tx)

	// 3. Router detection: the router is an intermediary, so the economic
	// taker is the original sender.
	var routerSourceID int64
	if src, ok := r.routers.Lookup(ctx, effTo); ok {
		routerSourceID = src.ID
		attr.Taker = strings.ToLower(tx.From)
	} else if to, ok := safeTransferRecipient(effData); ok {
		// An NFT pushed straight into a router via a transfer callback.
		if src, ok := r.routers.Lookup(ctx, to); ok {
			routerSourceID = src.ID
			attr.Taker = strings.ToLower(tx.From)
		}
	}

	// 4./5. Trailing calldata domain markers.
	markerSourceID, aggregatorSourceID := r.resolveMarkers(ctx, effData)
	attr.AggregatorSourceID = aggregatorSourceID

	// 6. Fill source priority: explicit marker > router > order source.
	switch {
	case markerSourceID != 0:
		attr.FillSourceID = markerSourceID
	case routerSourceID != 0:
		attr.FillSourceID = routerSourceID
	default:
		attr.FillSourceID = attr.OrderSourceID
	}

	return attr
}

// effectiveCall unwraps a single level of wrapping (e.g. an outer multicall
// around one inner call) using the transaction trace. Trace failures degrade
// to the outer transaction.
func (r *Resolver) effectiveCall(ctx context.Context, tx domain.Transaction) (to string, data []byte) {
	to, data = strings.ToLower(tx.To), tx.Data

	trace, err := r.txs.FetchTransactionTrace(ctx, tx.Hash)
	if err != nil {
		return to, data
	}
	if len(trace.Calls) == 1 && trace.Calls[0].To != "" {
		return strings.ToLower(trace.Calls[0].To), trace.Calls[0].Input
	}
	return to, data
}

// resolveMarkers extracts the attribution tags embedded at the tail of the
// calldata: a 4-byte domain hash in the last 4 bytes, and optionally a
// second marker at bytes [-16,-8] for the passthrough aggregator domain.
func (r *Resolver) resolveMarkers(ctx context.Context, data []byte) (fillSourceID, aggregatorSourceID int64) {
	if len(data) < 4 {
		return 0, 0
	}

	marker := hex.EncodeToString(data[len(data)-4:])
	if src, ok := r.sources.ByDomainHash(ctx, marker); ok {
		if registry.IsAggregatorDomain(src.Domain) {
			aggregatorSourceID = src.ID
		} else {
			fillSourceID = src.ID
		}
	}

	if len(data) >= 16 {
		second := hex.EncodeToString(data[len(data)-16 : len(data)-12])
		if second == registry.DomainHash(registry.ViaReservoirDomain) {
			if src, err := r.sources.GetOrInsert(ctx, registry.ViaReservoirDomain); err == nil {
				aggregatorSourceID = src.ID
			}
		}
	}

	return fillSourceID, aggregatorSourceID
}

// safeTransferRecipient decodes the `to` argument of an ERC721/1155
// safeTransferFrom call, returning it lowercased.
func safeTransferRecipient(data []byte) (string, bool) {
	if len(data) < 4+64*2 {
		return "", false
	}
	sel := hex.EncodeToString(data[:4])
	if sel != selSafeTransferFrom721 && sel != selSafeTransferFrom1155 {
		return "", false
	}
	// Second ABI word holds `to`; addresses occupy the last 20 bytes.
	word := data[4+32 : 4+64]
	return "0x" + hex.EncodeToString(word[12:]), true
}
