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

var seaportABI = mustABI(`[
	{"anonymous":false,"name":"OrderFulfilled","type":"event","inputs":[
		{"indexed":false,"name":"orderHash","type":"bytes32"},
		{"indexed":true,"name":"offerer","type":"address"},
		{"indexed":true,"name":"zone","type":"address"},
		{"indexed":false,"name":"recipient","type":"address"},
		{"indexed":false,"name":"offer","type":"tuple[]","components":[
			{"name":"itemType","type":"uint8"},
			{"name":"token","type":"address"},
			{"name":"identifier","type":"uint256"},
			{"name":"amount","type":"uint256"}]},
		{"indexed":false,"name":"consideration","type":"tuple[]","components":[
			{"name":"itemType","type":"uint8"},
			{"name":"token","type":"address"},
			{"name":"identifier","type":"uint256"},
			{"name":"amount","type":"uint256"},
			{"name":"recipient","type":"address"}]}]},
	{"anonymous":false,"name":"OrderCancelled","type":"event","inputs":[
		{"indexed":false,"name":"orderHash","type":"bytes32"},
		{"indexed":true,"name":"offerer","type":"address"},
		{"indexed":true,"name":"zone","type":"address"}]},
	{"anonymous":false,"name":"CounterIncremented","type":"event","inputs":[
		{"indexed":false,"name":"newCounter","type":"uint256"},
		{"indexed":true,"name":"offerer","type":"address"}]}
]`)

var (
	topicSeaportOrderFulfilled     = seaportABI.Events["OrderFulfilled"].ID
	topicSeaportOrderCancelled     = seaportABI.Events["OrderCancelled"].ID
	topicSeaportCounterIncremented = seaportABI.Events["CounterIncremented"].ID
)

// Seaport item types.
const (
	seaportItemNative  = 0
	seaportItemERC20   = 1
	seaportItemERC721  = 2
	seaportItemERC1155 = 3
)

type seaportSpentItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
}

type seaportReceivedItem struct {
	ItemType   uint8
	Token      common.Address
	Identifier *big.Int
	Amount     *big.Int
	Recipient  common.Address
}

// Seaport decodes OrderFulfilled/OrderCancelled/CounterIncremented logs.
// Order ids are the protocol's native order hashes.
type Seaport struct {
	deps Deps
}

// NewSeaport creates the seaport decoder.
func NewSeaport(deps Deps) *Seaport {
	return &Seaport{deps: deps}
}

func (s *Seaport) Kind() domain.OrderKind { return domain.OrderKindSeaport }

func (s *Seaport) Topics() []common.Hash {
	return []common.Hash{
		topicSeaportOrderFulfilled,
		topicSeaportOrderCancelled,
		topicSeaportCounterIncremented,
	}
}

func (s *Seaport) Addresses() []common.Address { return nil }

func (s *Seaport) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicSeaportOrderFulfilled:
			err = s.decodeFulfilled(ctx, log, out)
		case topicSeaportOrderCancelled:
			err = s.decodeCancelled(log, out)
		case topicSeaportCounterIncremented:
			err = s.decodeCounterIncremented(log, out)
		}
		if err != nil {
			s.deps.Logger.Warn("seaport: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (s *Seaport) decodeFulfilled(ctx context.Context, log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		OrderHash     [32]byte
		Recipient     common.Address
		Offer         []seaportSpentItem
		Consideration []seaportReceivedItem
	}
	if err := seaportABI.UnpackIntoInterface(&ev, "OrderFulfilled", log.Data); err != nil {
		return err
	}
	if len(ev.Offer) == 0 {
		return nil
	}

	orderID := hexutil.Encode(ev.OrderHash[:])
	offerer := topicAddress(log.Topics[1])
	recipient := strings.ToLower(ev.Recipient.Hex())

	var side domain.Side
	var nftToken common.Address
	var nftID, nftAmount, rawPrice *big.Int
	var currency string

	if isNFTItem(ev.Offer[0].ItemType) {
		// Ask: the offerer sells the NFT, payment flows via consideration.
		side = domain.SideSell
		nftToken = ev.Offer[0].Token
		nftID = ev.Offer[0].Identifier
		nftAmount = ev.Offer[0].Amount

		rawPrice = new(big.Int)
		for _, item := range ev.Consideration {
			if !isNFTItem(item.ItemType) {
				rawPrice.Add(rawPrice, item.Amount)
				currency = paymentCurrency(item.ItemType, item.Token)
			}
		}
	} else {
		// Bid: the offerer pays, the NFT arrives via consideration.
		side = domain.SideBuy
		rawPrice = ev.Offer[0].Amount
		currency = paymentCurrency(ev.Offer[0].ItemType, ev.Offer[0].Token)

		found := false
		for _, item := range ev.Consideration {
			if isNFTItem(item.ItemType) {
				nftToken = item.Token
				nftID = item.Identifier
				nftAmount = item.Amount
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}

	if rawPrice.Sign() == 0 {
		// Zero-priced fulfillments are not real sales.
		return nil
	}

	quote, ok := s.deps.normalizePrices(ctx, currency, rawPrice, log.Timestamp)
	if !ok {
		return nil
	}

	base := baseParams(log, 1)
	attr := s.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindSeaport, attribution.Options{
		Address: strings.ToLower(nftToken.Hex()),
		OrderID: orderID,
	})
	taker := recipient
	if attr.Taker != "" {
		taker = attr.Taker
	}

	out.Fills = append(out.Fills, domain.FillEvent{
		OrderID:            orderID,
		OrderKind:          domain.OrderKindSeaport,
		OrderSide:          side,
		Maker:              offerer,
		Taker:              taker,
		Contract:           strings.ToLower(nftToken.Hex()),
		TokenID:            nftID.String(),
		Amount:             nftAmount,
		Currency:           currency,
		CurrencyPrice:      rawPrice,
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
		Amount:  nftAmount,
		Base:    base,
	})
	return nil
}

func (s *Seaport) decodeCancelled(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		OrderHash [32]byte
	}
	if err := seaportABI.UnpackIntoInterface(&ev, "OrderCancelled", log.Data); err != nil {
		return err
	}
	orderID := hexutil.Encode(ev.OrderHash[:])
	base := baseParams(log, 1)

	out.Cancels = append(out.Cancels, domain.CancelEvent{
		OrderID:   orderID,
		OrderKind: domain.OrderKindSeaport,
		Maker:     topicAddress(log.Topics[1]),
		Base:      base,
	})
	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: orderID,
		Kind:    domain.TriggerCancel,
		Base:    base,
	})
	return nil
}

func (s *Seaport) decodeCounterIncremented(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		NewCounter *big.Int
	}
	if err := seaportABI.UnpackIntoInterface(&ev, "CounterIncremented", log.Data); err != nil {
		return err
	}
	out.BulkCancels = append(out.BulkCancels, domain.BulkCancelEvent{
		OrderKind: domain.OrderKindSeaport,
		Maker:     topicAddress(log.Topics[1]),
		MinNonce:  ev.NewCounter,
		Base:      baseParams(log, 1),
	})
	return nil
}

func isNFTItem(itemType uint8) bool {
	return itemType == seaportItemERC721 || itemType == seaportItemERC1155
}

func paymentCurrency(itemType uint8, token common.Address) string {
	if itemType == seaportItemNative {
		return domain.NativeCurrency
	}
	return strings.ToLower(token.Hex())
}
