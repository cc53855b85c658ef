package decoder

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/crypto"
	"github.com/alanyoungcy/nftindexer/internal/domain"
)

var caviarABI = mustABI(`[
	{"anonymous":false,"name":"Buy","type":"event","inputs":[
		{"indexed":false,"name":"inputAmount","type":"uint256"},
		{"indexed":false,"name":"outputAmount","type":"uint256"}]},
	{"anonymous":false,"name":"Unwrap","type":"event","inputs":[
		{"indexed":false,"name":"tokenIds","type":"uint256[]"}]}
]`)

var (
	topicCaviarBuy    = caviarABI.Events["Buy"].ID
	topicCaviarUnwrap = caviarABI.Events["Unwrap"].ID
)

// Caviar decodes v1 pair buys. A buy is two logs: Buy carries the amount paid
// into the pair, and the Unwrap that follows in the same transaction lists
// the token ids redeemed. The paid amount is apportioned evenly across them.
type Caviar struct {
	deps Deps
}

func NewCaviar(deps Deps) *Caviar {
	return &Caviar{deps: deps}
}

func (c *Caviar) Kind() domain.OrderKind { return domain.OrderKindCaviarV1 }

func (c *Caviar) Topics() []common.Hash {
	return []common.Hash{topicCaviarBuy, topicCaviarUnwrap}
}

func (c *Caviar) Addresses() []common.Address { return nil }

func (c *Caviar) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	// Pending Buy amount per (tx, pair), consumed by the next Unwrap.
	type buyKey struct {
		tx   common.Hash
		pair common.Address
	}
	pending := make(map[buyKey]*big.Int)

	for _, log := range logs {
		key := buyKey{tx: log.TxHash, pair: log.Address}
		switch log.Topics[0] {
		case topicCaviarBuy:
			var ev struct {
				InputAmount  *big.Int
				OutputAmount *big.Int
			}
			if err := caviarABI.UnpackIntoInterface(&ev, "Buy", log.Data); err != nil {
				c.warnMalformed(log, err)
				continue
			}
			pending[key] = ev.InputAmount

		case topicCaviarUnwrap:
			amount, ok := pending[key]
			if !ok {
				// Unwrap without a buy is a plain redemption, not a sale.
				continue
			}
			delete(pending, key)

			var ev struct {
				TokenIds []*big.Int
			}
			if err := caviarABI.UnpackIntoInterface(&ev, "Unwrap", log.Data); err != nil {
				c.warnMalformed(log, err)
				continue
			}
			if err := c.emitFills(ctx, log, amount, ev.TokenIds, out); err != nil {
				c.warnMalformed(log, err)
			}
		}
	}
	return nil
}

func (c *Caviar) emitFills(ctx context.Context, log domain.Log, paid *big.Int, tokenIDs []*big.Int, out *domain.OnChainData) error {
	if len(tokenIDs) == 0 || paid.Sign() == 0 {
		return nil
	}

	perToken := new(big.Int).Div(paid, big.NewInt(int64(len(tokenIDs))))
	if perToken.Sign() == 0 {
		return nil
	}

	pool := lower(log.Address)
	base := baseParams(log, 1)
	attr := c.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindCaviarV1, attribution.Options{
		Address: pool,
	})

	taker := attr.Taker
	if taker == "" {
		// The pair does not log the buyer; fall back to the tx sender.
		tx, err := c.deps.Txs.FetchTransaction(ctx, base.TxHash)
		if err != nil {
			return err
		}
		taker = tx.From
	}

	quote, ok := c.deps.normalizePrices(ctx, domain.NativeCurrency, perToken, log.Timestamp)
	if !ok {
		return nil
	}

	for i, tokenID := range tokenIDs {
		fillBase := base
		fillBase.BatchIndex = i + 1
		orderID := crypto.PoolOrderID(domain.OrderKindCaviarV1, pool, domain.SideSell, tokenID.String())

		out.Fills = append(out.Fills, domain.FillEvent{
			OrderID:            orderID,
			OrderKind:          domain.OrderKindCaviarV1,
			OrderSide:          domain.SideSell,
			Maker:              pool,
			Taker:              taker,
			Contract:           pool,
			TokenID:            tokenID.String(),
			Amount:             big.NewInt(1),
			Currency:           domain.NativeCurrency,
			CurrencyPrice:      perToken,
			Price:              quote.NativePrice,
			USDPrice:           quote.USDPrice,
			OrderSourceID:      attr.OrderSourceID,
			FillSourceID:       attr.FillSourceID,
			AggregatorSourceID: attr.AggregatorSourceID,
			Base:               fillBase,
		})
		out.Orders = append(out.Orders, domain.OrderTrigger{
			OrderID: orderID,
			Kind:    domain.TriggerSale,
			Base:    fillBase,
		})
	}
	return nil
}

func (c *Caviar) warnMalformed(log domain.Log, err error) {
	c.deps.Logger.Warn("caviar: skipping malformed log",
		slog.String("tx_hash", log.TxHash.Hex()),
		slog.Uint64("log_index", uint64(log.LogIndex)),
		slog.String("error", err.Error()),
	)
}
