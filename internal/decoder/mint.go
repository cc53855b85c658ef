package decoder

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// mintUnit is one freshly minted (token, recipient) observed in a transfer
// from the zero address.
type mintUnit struct {
	contract string
	tokenID  string
	to       string
	amount   *big.Int
	base     domain.BaseEventParams
}

// confirmOpenMint consults the simulation oracle before a paid mint is
// recorded as a primary sale. Without an oracle every paid mint qualifies;
// oracle failures skip the fill rather than record an unverified sale.
func (d *Deps) confirmOpenMint(ctx context.Context, m mintUnit, price *big.Int) bool {
	if d.MintOracle == nil {
		return true
	}
	ok, err := d.MintOracle.SimulateCollectionMint(ctx, domain.CollectionMint{
		Contract: m.contract,
		TokenID:  m.tokenID,
		Minter:   m.to,
		Price:    price.String(),
		Kind:     "public",
	})
	if err != nil {
		d.Logger.Warn("mint: simulation failed, skipping mint fill",
			slog.String("contract", m.contract),
			slog.String("token_id", m.tokenID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

// emitMintFills turns paid mints into primary-sale fills. The transaction's
// value is apportioned across every unit minted in it, weighted by quantity;
// free mints (zero value) and blacklisted contracts stay mint-only records.
func (d *Deps) emitMintFills(ctx context.Context, mints []mintUnit, out *domain.OnChainData) {
	if len(mints) == 0 {
		return
	}

	byTx := make(map[string][]mintUnit)
	var txOrder []string
	for _, m := range mints {
		if d.MintBlacklist[m.contract] {
			continue
		}
		if _, seen := byTx[m.base.TxHash]; !seen {
			txOrder = append(txOrder, m.base.TxHash)
		}
		byTx[m.base.TxHash] = append(byTx[m.base.TxHash], m)
	}

	for _, txHash := range txOrder {
		units := byTx[txHash]

		tx, err := d.Txs.FetchTransaction(ctx, txHash)
		if err != nil {
			d.Logger.Warn("mint: tx fetch failed, skipping mint fills",
				slog.String("tx_hash", txHash),
				slog.String("error", err.Error()),
			)
			continue
		}
		if tx.Value == nil || tx.Value.Sign() == 0 {
			continue
		}

		totalUnits := new(big.Int)
		for _, m := range units {
			totalUnits.Add(totalUnits, m.amount)
		}
		if totalUnits.Sign() == 0 {
			continue
		}

		attr := d.Attribution.Resolve(ctx, txHash, domain.OrderKindMint, attribution.Options{})

		for _, m := range units {
			price := new(big.Int).Mul(tx.Value, m.amount)
			price.Div(price, totalUnits)
			if price.Sign() == 0 {
				continue
			}

			if !d.confirmOpenMint(ctx, m, price) {
				continue
			}

			quote, ok := d.normalizePrices(ctx, domain.NativeCurrency, price, m.base.Timestamp)
			if !ok {
				continue
			}

			taker := m.to
			if attr.Taker != "" {
				taker = attr.Taker
			}

			out.Fills = append(out.Fills, domain.FillEvent{
				OrderKind:          domain.OrderKindMint,
				OrderSide:          domain.SideSell,
				Maker:              m.contract,
				Taker:              taker,
				Contract:           m.contract,
				TokenID:            m.tokenID,
				Amount:             m.amount,
				Currency:           domain.NativeCurrency,
				CurrencyPrice:      price,
				Price:              quote.NativePrice,
				USDPrice:           quote.USDPrice,
				OrderSourceID:      attr.OrderSourceID,
				FillSourceID:       attr.FillSourceID,
				AggregatorSourceID: attr.AggregatorSourceID,
				IsPrimary:          true,
				Base:               m.base,
			})
		}
	}
}
