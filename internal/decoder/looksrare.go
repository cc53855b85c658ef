package decoder

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/domain"
)

var looksRareABI = mustABI(`[
	{"anonymous":false,"name":"TakerAsk","type":"event","inputs":[
		{"indexed":false,"name":"orderHash","type":"bytes32"},
		{"indexed":false,"name":"orderNonce","type":"uint256"},
		{"indexed":true,"name":"taker","type":"address"},
		{"indexed":true,"name":"maker","type":"address"},
		{"indexed":true,"name":"strategy","type":"address"},
		{"indexed":false,"name":"currency","type":"address"},
		{"indexed":false,"name":"collection","type":"address"},
		{"indexed":false,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"price","type":"uint256"}]},
	{"anonymous":false,"name":"TakerBid","type":"event","inputs":[
		{"indexed":false,"name":"orderHash","type":"bytes32"},
		{"indexed":false,"name":"orderNonce","type":"uint256"},
		{"indexed":true,"name":"taker","type":"address"},
		{"indexed":true,"name":"maker","type":"address"},
		{"indexed":true,"name":"strategy","type":"address"},
		{"indexed":false,"name":"currency","type":"address"},
		{"indexed":false,"name":"collection","type":"address"},
		{"indexed":false,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"price","type":"uint256"}]},
	{"anonymous":false,"name":"CancelAllOrders","type":"event","inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"newMinNonce","type":"uint256"}]},
	{"anonymous":false,"name":"CancelMultipleOrders","type":"event","inputs":[
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"orderNonces","type":"uint256[]"}]}
]`)

var (
	topicLooksRareTakerAsk             = looksRareABI.Events["TakerAsk"].ID
	topicLooksRareTakerBid             = looksRareABI.Events["TakerBid"].ID
	topicLooksRareCancelAllOrders      = looksRareABI.Events["CancelAllOrders"].ID
	topicLooksRareCancelMultipleOrders = looksRareABI.Events["CancelMultipleOrders"].ID
)

type looksRareTakerEvent struct {
	OrderHash  [32]byte
	OrderNonce *big.Int
	Currency   common.Address
	Collection common.Address
	TokenId    *big.Int
	Amount     *big.Int
	Price      *big.Int
}

// LooksRare decodes exchange fills plus the two nonce-based cancellation
// events (bulk min-nonce bump and explicit nonce sets).
type LooksRare struct {
	deps Deps
}

func NewLooksRare(deps Deps) *LooksRare {
	return &LooksRare{deps: deps}
}

func (l *LooksRare) Kind() domain.OrderKind { return domain.OrderKindLooksRare }

func (l *LooksRare) Topics() []common.Hash {
	return []common.Hash{
		topicLooksRareTakerAsk,
		topicLooksRareTakerBid,
		topicLooksRareCancelAllOrders,
		topicLooksRareCancelMultipleOrders,
	}
}

func (l *LooksRare) Addresses() []common.Address { return nil }

func (l *LooksRare) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicLooksRareTakerAsk:
			// Taker sold into a maker bid.
			err = l.decodeFill(ctx, log, domain.SideBuy, out)
		case topicLooksRareTakerBid:
			// Taker bought a maker ask.
			err = l.decodeFill(ctx, log, domain.SideSell, out)
		case topicLooksRareCancelAllOrders:
			err = l.decodeCancelAll(log, out)
		case topicLooksRareCancelMultipleOrders:
			err = l.decodeCancelMultiple(log, out)
		}
		if err != nil {
			l.deps.Logger.Warn("looks-rare: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (l *LooksRare) decodeFill(ctx context.Context, log domain.Log, side domain.Side, out *domain.OnChainData) error {
	eventName := "TakerBid"
	if side == domain.SideBuy {
		eventName = "TakerAsk"
	}
	var ev looksRareTakerEvent
	if err := looksRareABI.UnpackIntoInterface(&ev, eventName, log.Data); err != nil {
		return err
	}

	orderID := hexutil.Encode(ev.OrderHash[:])
	taker := topicAddress(log.Topics[1])
	maker := topicAddress(log.Topics[2])
	currency := strings.ToLower(ev.Currency.Hex())

	quote, ok := l.deps.normalizePrices(ctx, currency, ev.Price, log.Timestamp)
	if !ok {
		return nil
	}

	base := baseParams(log, 1)
	attr := l.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindLooksRare, attribution.Options{
		Address: strings.ToLower(ev.Collection.Hex()),
		OrderID: orderID,
	})
	if attr.Taker != "" {
		taker = attr.Taker
	}

	out.Fills = append(out.Fills, domain.FillEvent{
		OrderID:            orderID,
		OrderKind:          domain.OrderKindLooksRare,
		OrderSide:          side,
		Maker:              maker,
		Taker:              taker,
		Contract:           strings.ToLower(ev.Collection.Hex()),
		TokenID:            ev.TokenId.String(),
		Amount:             ev.Amount,
		Currency:           currency,
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
		Amount:  ev.Amount,
		Base:    base,
	})
	return nil
}

func (l *LooksRare) decodeCancelAll(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		NewMinNonce *big.Int
	}
	if err := looksRareABI.UnpackIntoInterface(&ev, "CancelAllOrders", log.Data); err != nil {
		return err
	}
	out.BulkCancels = append(out.BulkCancels, domain.BulkCancelEvent{
		OrderKind: domain.OrderKindLooksRare,
		Maker:     topicAddress(log.Topics[1]),
		MinNonce:  ev.NewMinNonce,
		Base:      baseParams(log, 1),
	})
	return nil
}

func (l *LooksRare) decodeCancelMultiple(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		OrderNonces []*big.Int
	}
	if err := looksRareABI.UnpackIntoInterface(&ev, "CancelMultipleOrders", log.Data); err != nil {
		return err
	}
	if len(ev.OrderNonces) == 0 {
		return nil
	}
	out.NonceCancels = append(out.NonceCancels, domain.NonceCancelEvent{
		OrderKind: domain.OrderKindLooksRare,
		Maker:     topicAddress(log.Topics[1]),
		Nonces:    ev.OrderNonces,
		Base:      baseParams(log, 1),
	})
	return nil
}
