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

var midaswapABI = mustABI(`[
	{"anonymous":false,"name":"BuyNFT","type":"event","inputs":[
		{"indexed":true,"name":"trader","type":"address"},
		{"indexed":false,"name":"nftTokenId","type":"uint256"},
		{"indexed":false,"name":"price","type":"uint256"}]},
	{"anonymous":false,"name":"SellNFT","type":"event","inputs":[
		{"indexed":true,"name":"trader","type":"address"},
		{"indexed":false,"name":"nftTokenId","type":"uint256"},
		{"indexed":false,"name":"price","type":"uint256"}]},
	{"anonymous":false,"name":"RemoveLiquidity","type":"event","inputs":[
		{"indexed":true,"name":"lpTokenId","type":"uint256"},
		{"indexed":false,"name":"nftTokenId","type":"uint256"}]}
]`)

var (
	topicMidaswapBuyNFT          = midaswapABI.Events["BuyNFT"].ID
	topicMidaswapSellNFT         = midaswapABI.Events["SellNFT"].ID
	topicMidaswapRemoveLiquidity = midaswapABI.Events["RemoveLiquidity"].ID
)

// Midaswap decodes pool buys. The pool contract is both the emitter and the
// maker. Sells into the pool and liquidity withdrawal are recognized but
// unsupported sub-kinds: they are skipped with ErrNotImplemented rather than
// silently ignored, so their volume shows up in the logs.
type Midaswap struct {
	deps Deps
}

func NewMidaswap(deps Deps) *Midaswap {
	return &Midaswap{deps: deps}
}

func (m *Midaswap) Kind() domain.OrderKind { return domain.OrderKindMidaswap }

func (m *Midaswap) Topics() []common.Hash {
	return []common.Hash{
		topicMidaswapBuyNFT,
		topicMidaswapSellNFT,
		topicMidaswapRemoveLiquidity,
	}
}

func (m *Midaswap) Addresses() []common.Address { return nil }

func (m *Midaswap) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicMidaswapBuyNFT:
			err = m.decodeBuy(ctx, log, out)
		case topicMidaswapSellNFT, topicMidaswapRemoveLiquidity:
			m.deps.Logger.Warn("midaswap: unsupported sub-kind",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", domain.ErrNotImplemented.Error()),
			)
		}
		if err != nil {
			m.deps.Logger.Warn("midaswap: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (m *Midaswap) decodeBuy(ctx context.Context, log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		NftTokenId *big.Int
		Price      *big.Int
	}
	if err := midaswapABI.UnpackIntoInterface(&ev, "BuyNFT", log.Data); err != nil {
		return err
	}
	if ev.Price.Sign() == 0 {
		return nil
	}

	pool := lower(log.Address)
	tokenID := ev.NftTokenId.String()
	taker := topicAddress(log.Topics[1])

	quote, ok := m.deps.normalizePrices(ctx, domain.NativeCurrency, ev.Price, log.Timestamp)
	if !ok {
		return nil
	}

	orderID := crypto.PoolOrderID(domain.OrderKindMidaswap, pool, domain.SideSell, tokenID)
	base := baseParams(log, 1)
	attr := m.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindMidaswap, attribution.Options{
		Address: pool,
	})
	if attr.Taker != "" {
		taker = attr.Taker
	}

	out.Fills = append(out.Fills, domain.FillEvent{
		OrderID:            orderID,
		OrderKind:          domain.OrderKindMidaswap,
		OrderSide:          domain.SideSell,
		Maker:              pool,
		Taker:              taker,
		Contract:           pool,
		TokenID:            tokenID,
		Amount:             big.NewInt(1),
		Currency:           domain.NativeCurrency,
		CurrencyPrice:      ev.Price,
		Price:              quote.NativePrice,
		USDPrice:           quote.USDPrice,
		OrderSourceID:      attr.OrderSourceID,
		FillSourceID:       attr.FillSourceID,
		AggregatorSourceID: attr.AggregatorSourceID,
		Base:               base,
	})
	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: orderID,
		Kind:    domain.TriggerSale,
		Base:    base,
	})
	return nil
}
