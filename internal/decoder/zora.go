package decoder

import (
	"context"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/crypto"
	"github.com/alanyoungcy/nftindexer/internal/domain"
)

var zoraABI = mustABI(`[
	{"anonymous":false,"name":"AskCreated","type":"event","inputs":[
		{"indexed":true,"name":"tokenContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"ask","type":"tuple","components":[
			{"name":"seller","type":"address"},
			{"name":"sellerFundsRecipient","type":"address"},
			{"name":"askCurrency","type":"address"},
			{"name":"findersFeeBps","type":"uint16"},
			{"name":"askPrice","type":"uint256"}]}]},
	{"anonymous":false,"name":"AskPriceUpdated","type":"event","inputs":[
		{"indexed":true,"name":"tokenContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"ask","type":"tuple","components":[
			{"name":"seller","type":"address"},
			{"name":"sellerFundsRecipient","type":"address"},
			{"name":"askCurrency","type":"address"},
			{"name":"findersFeeBps","type":"uint16"},
			{"name":"askPrice","type":"uint256"}]}]},
	{"anonymous":false,"name":"AskCanceled","type":"event","inputs":[
		{"indexed":true,"name":"tokenContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":false,"name":"ask","type":"tuple","components":[
			{"name":"seller","type":"address"},
			{"name":"sellerFundsRecipient","type":"address"},
			{"name":"askCurrency","type":"address"},
			{"name":"findersFeeBps","type":"uint16"},
			{"name":"askPrice","type":"uint256"}]}]},
	{"anonymous":false,"name":"AskFilled","type":"event","inputs":[
		{"indexed":true,"name":"tokenContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":true,"name":"buyer","type":"address"},
		{"indexed":false,"name":"finder","type":"address"},
		{"indexed":false,"name":"ask","type":"tuple","components":[
			{"name":"seller","type":"address"},
			{"name":"sellerFundsRecipient","type":"address"},
			{"name":"askCurrency","type":"address"},
			{"name":"findersFeeBps","type":"uint16"},
			{"name":"askPrice","type":"uint256"}]}]}
]`)

var (
	topicZoraAskCreated      = zoraABI.Events["AskCreated"].ID
	topicZoraAskPriceUpdated = zoraABI.Events["AskPriceUpdated"].ID
	topicZoraAskCanceled     = zoraABI.Events["AskCanceled"].ID
	topicZoraAskFilled       = zoraABI.Events["AskFilled"].ID
)

type zoraAsk struct {
	Seller               common.Address
	SellerFundsRecipient common.Address
	AskCurrency          common.Address
	FindersFeeBps        uint16
	AskPrice             *big.Int
}

// Zora decodes the Zora v3 asks module. One ask exists per (contract, token),
// priced in an arbitrary ERC20 or the native currency.
type Zora struct {
	deps Deps
}

func NewZora(deps Deps) *Zora {
	return &Zora{deps: deps}
}

func (z *Zora) Kind() domain.OrderKind { return domain.OrderKindZoraV3 }

func (z *Zora) Topics() []common.Hash {
	return []common.Hash{
		topicZoraAskCreated,
		topicZoraAskPriceUpdated,
		topicZoraAskCanceled,
		topicZoraAskFilled,
	}
}

func (z *Zora) Addresses() []common.Address { return nil }

func (z *Zora) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicZoraAskCreated:
			err = z.decodeAskUpsert(ctx, log, "AskCreated", domain.TriggerNewOrder, out)
		case topicZoraAskPriceUpdated:
			err = z.decodeAskUpsert(ctx, log, "AskPriceUpdated", domain.TriggerReprice, out)
		case topicZoraAskCanceled:
			z.decodeAskCanceled(log, out)
		case topicZoraAskFilled:
			err = z.decodeAskFilled(ctx, log, out)
		}
		if err != nil {
			z.deps.Logger.Warn("zora: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (z *Zora) decodeAskUpsert(ctx context.Context, log domain.Log, eventName string, trigger domain.TriggerKind, out *domain.OnChainData) error {
	var ev struct {
		Ask zoraAsk
	}
	if err := zoraABI.UnpackIntoInterface(&ev, eventName, log.Data); err != nil {
		return err
	}

	contract := topicAddress(log.Topics[1])
	tokenID := topicBig(log.Topics[2]).String()
	base := baseParams(log, 1)

	order := &domain.Order{
		ID:                crypto.SideTokenOrderID(domain.OrderKindZoraV3, domain.SideSell, contract, tokenID),
		Kind:              domain.OrderKindZoraV3,
		Side:              domain.SideSell,
		Maker:             strings.ToLower(ev.Ask.Seller.Hex()),
		Price:             ev.Ask.AskPrice,
		CurrencyPrice:     ev.Ask.AskPrice,
		Value:             ev.Ask.AskPrice,
		CurrencyValue:     ev.Ask.AskPrice,
		Currency:          zoraCurrency(ev.Ask.AskCurrency),
		QuantityRemaining: big.NewInt(1),
		ValidFrom:         log.Timestamp,
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		TokenSetID:        crypto.TokenSetSingle(contract, tokenID),
		Contract:          contract,
		TokenID:           tokenID,
		LastEvent:         base.Ordinal(),
	}
	if src, ok := z.deps.Attribution.SourceForKind(ctx, domain.OrderKindZoraV3); ok {
		order.SourceID = src
	}

	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: order.ID,
		Kind:    trigger,
		Order:   order,
		Base:    base,
	})
	return nil
}

func (z *Zora) decodeAskCanceled(log domain.Log, out *domain.OnChainData) {
	contract := topicAddress(log.Topics[1])
	tokenID := topicBig(log.Topics[2]).String()
	orderID := crypto.SideTokenOrderID(domain.OrderKindZoraV3, domain.SideSell, contract, tokenID)
	base := baseParams(log, 1)

	out.Cancels = append(out.Cancels, domain.CancelEvent{
		OrderID:   orderID,
		OrderKind: domain.OrderKindZoraV3,
		Base:      base,
	})
	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: orderID,
		Kind:    domain.TriggerCancel,
		Base:    base,
	})
}

func (z *Zora) decodeAskFilled(ctx context.Context, log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		Finder common.Address
		Ask    zoraAsk
	}
	if err := zoraABI.UnpackIntoInterface(&ev, "AskFilled", log.Data); err != nil {
		return err
	}

	contract := topicAddress(log.Topics[1])
	tokenID := topicBig(log.Topics[2]).String()
	taker := topicAddress(log.Topics[3])
	currency := zoraCurrency(ev.Ask.AskCurrency)

	if ev.Ask.AskPrice.Sign() == 0 {
		return nil
	}

	quote, ok := z.deps.normalizePrices(ctx, currency, ev.Ask.AskPrice, log.Timestamp)
	if !ok {
		return nil
	}

	orderID := crypto.SideTokenOrderID(domain.OrderKindZoraV3, domain.SideSell, contract, tokenID)
	base := baseParams(log, 1)
	attr := z.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindZoraV3, attribution.Options{
		Address: contract,
		OrderID: orderID,
	})
	if attr.Taker != "" {
		taker = attr.Taker
	}

	out.Fills = append(out.Fills, domain.FillEvent{
		OrderID:            orderID,
		OrderKind:          domain.OrderKindZoraV3,
		OrderSide:          domain.SideSell,
		Maker:              strings.ToLower(ev.Ask.Seller.Hex()),
		Taker:              taker,
		Contract:           contract,
		TokenID:            tokenID,
		Amount:             big.NewInt(1),
		Currency:           currency,
		CurrencyPrice:      ev.Ask.AskPrice,
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

func zoraCurrency(addr common.Address) string {
	s := strings.ToLower(addr.Hex())
	if s == zeroAddress {
		return domain.NativeCurrency
	}
	return s
}
