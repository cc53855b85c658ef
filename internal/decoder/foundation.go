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

var foundationABI = mustABI(`[
	{"anonymous":false,"name":"BuyPriceSet","type":"event","inputs":[
		{"indexed":true,"name":"nftContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":true,"name":"seller","type":"address"},
		{"indexed":false,"name":"price","type":"uint256"}]},
	{"anonymous":false,"name":"BuyPriceAccepted","type":"event","inputs":[
		{"indexed":true,"name":"nftContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":true,"name":"seller","type":"address"},
		{"indexed":false,"name":"buyer","type":"address"},
		{"indexed":false,"name":"protocolFee","type":"uint256"},
		{"indexed":false,"name":"creatorFee","type":"uint256"},
		{"indexed":false,"name":"sellerRev","type":"uint256"}]},
	{"anonymous":false,"name":"BuyPriceInvalidated","type":"event","inputs":[
		{"indexed":true,"name":"nftContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"}]},
	{"anonymous":false,"name":"BuyPriceCanceled","type":"event","inputs":[
		{"indexed":true,"name":"nftContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"}]},
	{"anonymous":false,"name":"OfferAccepted","type":"event","inputs":[
		{"indexed":true,"name":"nftContract","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"},
		{"indexed":true,"name":"buyer","type":"address"},
		{"indexed":false,"name":"seller","type":"address"},
		{"indexed":false,"name":"protocolFee","type":"uint256"},
		{"indexed":false,"name":"creatorFee","type":"uint256"},
		{"indexed":false,"name":"sellerRev","type":"uint256"}]}
]`)

var (
	topicFoundationBuyPriceSet         = foundationABI.Events["BuyPriceSet"].ID
	topicFoundationBuyPriceAccepted    = foundationABI.Events["BuyPriceAccepted"].ID
	topicFoundationBuyPriceInvalidated = foundationABI.Events["BuyPriceInvalidated"].ID
	topicFoundationBuyPriceCanceled    = foundationABI.Events["BuyPriceCanceled"].ID
	topicFoundationOfferAccepted       = foundationABI.Events["OfferAccepted"].ID
)

// foundationMarketplaceBps is the protocol's flat marketplace fee.
const foundationMarketplaceBps = 500

// Foundation decodes buy-price listings, their fills/cancellations, and offer
// acceptances. The protocol keeps at most one listing per token, so order ids
// are derived from (contract, tokenId) rather than an order hash. All prices
// are in the native currency.
type Foundation struct {
	deps Deps
}

func NewFoundation(deps Deps) *Foundation {
	return &Foundation{deps: deps}
}

func (f *Foundation) Kind() domain.OrderKind { return domain.OrderKindFoundation }

func (f *Foundation) Topics() []common.Hash {
	return []common.Hash{
		topicFoundationBuyPriceSet,
		topicFoundationBuyPriceAccepted,
		topicFoundationBuyPriceInvalidated,
		topicFoundationBuyPriceCanceled,
		topicFoundationOfferAccepted,
	}
}

func (f *Foundation) Addresses() []common.Address { return nil }

func (f *Foundation) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicFoundationBuyPriceSet:
			err = f.decodeBuyPriceSet(ctx, log, out)
		case topicFoundationBuyPriceAccepted:
			err = f.decodeAccepted(ctx, log, "BuyPriceAccepted", domain.SideSell, out)
		case topicFoundationOfferAccepted:
			err = f.decodeAccepted(ctx, log, "OfferAccepted", domain.SideBuy, out)
		case topicFoundationBuyPriceInvalidated, topicFoundationBuyPriceCanceled:
			f.decodeCancel(log, out)
		}
		if err != nil {
			f.deps.Logger.Warn("foundation: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (f *Foundation) decodeBuyPriceSet(ctx context.Context, log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		Price *big.Int
	}
	if err := foundationABI.UnpackIntoInterface(&ev, "BuyPriceSet", log.Data); err != nil {
		return err
	}

	contract := topicAddress(log.Topics[1])
	tokenID := topicBig(log.Topics[2]).String()
	maker := topicAddress(log.Topics[3])
	base := baseParams(log, 1)

	// Seller keeps everything minus the flat marketplace cut.
	value := new(big.Int).Mul(ev.Price, big.NewInt(domain.MaxFeeBps-foundationMarketplaceBps))
	value.Div(value, big.NewInt(domain.MaxFeeBps))

	order := &domain.Order{
		ID:                crypto.SingleTokenOrderID(domain.OrderKindFoundation, contract, tokenID),
		Kind:              domain.OrderKindFoundation,
		Side:              domain.SideSell,
		Maker:             maker,
		Price:             ev.Price,
		CurrencyPrice:     ev.Price,
		Value:             value,
		CurrencyValue:     value,
		Currency:          domain.NativeCurrency,
		FeeBps:            foundationMarketplaceBps,
		FeeBreakdown:      []domain.FeeEntry{{Kind: domain.FeeKindMarketplace, Recipient: base.Address, Bps: foundationMarketplaceBps}},
		QuantityRemaining: big.NewInt(1),
		ValidFrom:         log.Timestamp,
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		TokenSetID:        crypto.TokenSetSingle(contract, tokenID),
		Contract:          contract,
		TokenID:           tokenID,
		LastEvent:         base.Ordinal(),
	}
	if src, ok := f.deps.Attribution.SourceForKind(ctx, domain.OrderKindFoundation); ok {
		order.SourceID = src
	}

	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: order.ID,
		Kind:    domain.TriggerNewOrder,
		Order:   order,
		Base:    base,
	})
	return nil
}

func (f *Foundation) decodeAccepted(ctx context.Context, log domain.Log, eventName string, side domain.Side, out *domain.OnChainData) error {
	var ev struct {
		Counterparty common.Address // buyer on BuyPriceAccepted, seller on OfferAccepted
		ProtocolFee  *big.Int
		CreatorFee   *big.Int
		SellerRev    *big.Int
	}
	if err := foundationABI.UnpackIntoInterface(&ev, eventName, log.Data); err != nil {
		return err
	}

	contract := topicAddress(log.Topics[1])
	tokenID := topicBig(log.Topics[2]).String()

	// The event reports the split, not the gross price.
	price := new(big.Int).Add(ev.ProtocolFee, ev.CreatorFee)
	price.Add(price, ev.SellerRev)
	if price.Sign() == 0 {
		return nil
	}

	// Topic 3 carries the maker for both events (seller on a buy-price fill,
	// buyer on an offer fill); the unindexed address is the counterparty.
	maker := topicAddress(log.Topics[3])
	taker := strings.ToLower(ev.Counterparty.Hex())

	quote, ok := f.deps.normalizePrices(ctx, domain.NativeCurrency, price, log.Timestamp)
	if !ok {
		return nil
	}

	orderID := crypto.SingleTokenOrderID(domain.OrderKindFoundation, contract, tokenID)
	base := baseParams(log, 1)
	attr := f.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindFoundation, attribution.Options{
		Address: contract,
		OrderID: orderID,
	})
	if attr.Taker != "" {
		taker = attr.Taker
	}

	out.Fills = append(out.Fills, domain.FillEvent{
		OrderID:            orderID,
		OrderKind:          domain.OrderKindFoundation,
		OrderSide:          side,
		Maker:              maker,
		Taker:              taker,
		Contract:           contract,
		TokenID:            tokenID,
		Amount:             big.NewInt(1),
		Currency:           domain.NativeCurrency,
		CurrencyPrice:      price,
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

func (f *Foundation) decodeCancel(log domain.Log, out *domain.OnChainData) {
	contract := topicAddress(log.Topics[1])
	tokenID := topicBig(log.Topics[2]).String()
	orderID := crypto.SingleTokenOrderID(domain.OrderKindFoundation, contract, tokenID)
	base := baseParams(log, 1)

	out.Cancels = append(out.Cancels, domain.CancelEvent{
		OrderID:   orderID,
		OrderKind: domain.OrderKindFoundation,
		Base:      base,
	})
	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: orderID,
		Kind:    domain.TriggerCancel,
		Base:    base,
	})
}
