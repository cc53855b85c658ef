package decoder

import (
	"context"
	"encoding/hex"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/crypto"
	"github.com/alanyoungcy/nftindexer/internal/domain"
)

var cryptopunksABI = mustABI(`[
	{"anonymous":false,"name":"PunkOffered","type":"event","inputs":[
		{"indexed":true,"name":"punkIndex","type":"uint256"},
		{"indexed":false,"name":"minValue","type":"uint256"},
		{"indexed":true,"name":"toAddress","type":"address"}]},
	{"anonymous":false,"name":"PunkBought","type":"event","inputs":[
		{"indexed":true,"name":"punkIndex","type":"uint256"},
		{"indexed":false,"name":"value","type":"uint256"},
		{"indexed":true,"name":"fromAddress","type":"address"},
		{"indexed":true,"name":"toAddress","type":"address"}]},
	{"anonymous":false,"name":"PunkNoLongerForSale","type":"event","inputs":[
		{"indexed":true,"name":"punkIndex","type":"uint256"}]},
	{"anonymous":false,"name":"PunkTransfer","type":"event","inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"punkIndex","type":"uint256"}]},
	{"anonymous":false,"name":"Assign","type":"event","inputs":[
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"punkIndex","type":"uint256"}]}
]`)

var (
	topicPunkOffered         = cryptopunksABI.Events["PunkOffered"].ID
	topicPunkBought          = cryptopunksABI.Events["PunkBought"].ID
	topicPunkNoLongerForSale = cryptopunksABI.Events["PunkNoLongerForSale"].ID
	topicPunkTransfer        = cryptopunksABI.Events["PunkTransfer"].ID
	topicPunkAssign          = cryptopunksABI.Events["Assign"].ID
)

// cryptopunksContract is the marketplace-and-token singleton.
var cryptopunksContract = common.HexToAddress("0xb47e3cd837ddf8e4c57f05d70ab865de6e193bbb")

// selAcceptBidForPunk is acceptBidForPunk(uint256,uint256).
const selAcceptBidForPunk = "23165b75"

// Cryptopunks decodes the pre-ERC721 punks marketplace. The contract zeroes
// the buyer and the price on bid acceptance, so those fills are reconstructed
// from the PunkTransfer emitted earlier in the same transaction and from the
// acceptBidForPunk calldata.
type Cryptopunks struct {
	deps Deps
}

func NewCryptopunks(deps Deps) *Cryptopunks {
	return &Cryptopunks{deps: deps}
}

func (c *Cryptopunks) Kind() domain.OrderKind { return domain.OrderKindCryptopunks }

func (c *Cryptopunks) Topics() []common.Hash {
	return []common.Hash{
		topicPunkOffered,
		topicPunkBought,
		topicPunkNoLongerForSale,
		topicPunkTransfer,
		topicPunkAssign,
	}
}

func (c *Cryptopunks) Addresses() []common.Address {
	return []common.Address{cryptopunksContract}
}

func (c *Cryptopunks) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	// Most recent PunkTransfer recipient per transaction, for zeroed
	// PunkBought reconstruction.
	lastTransferTo := make(map[string]string)

	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicPunkOffered:
			err = c.decodeOffered(ctx, log, out)
		case topicPunkBought:
			err = c.decodeBought(ctx, log, lastTransferTo, out)
		case topicPunkNoLongerForSale:
			c.decodeNoLongerForSale(log, out)
		case topicPunkTransfer:
			to := topicAddress(log.Topics[2])
			lastTransferTo[log.TxHash.Hex()] = to
			err = c.decodeTransfer(log, out)
		case topicPunkAssign:
			err = c.decodeAssign(log, out)
		}
		if err != nil {
			c.deps.Logger.Warn("cryptopunks: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (c *Cryptopunks) decodeOffered(ctx context.Context, log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		MinValue *big.Int
	}
	if err := cryptopunksABI.UnpackIntoInterface(&ev, "PunkOffered", log.Data); err != nil {
		return err
	}

	// offerPunkForSaleToAddress listings are private allowance grants, not
	// public asks.
	if topicAddress(log.Topics[2]) != zeroAddress {
		return nil
	}

	contract := lower(log.Address)
	tokenID := topicBig(log.Topics[1]).String()
	base := baseParams(log, 1)

	order := &domain.Order{
		ID:                crypto.SingleTokenOrderID(domain.OrderKindCryptopunks, contract, tokenID),
		Kind:              domain.OrderKindCryptopunks,
		Side:              domain.SideSell,
		Price:             ev.MinValue,
		CurrencyPrice:     ev.MinValue,
		Value:             ev.MinValue,
		CurrencyValue:     ev.MinValue,
		Currency:          domain.NativeCurrency,
		QuantityRemaining: big.NewInt(1),
		ValidFrom:         log.Timestamp,
		Fillability:       domain.FillabilityFillable,
		Approval:          domain.ApprovalApproved,
		TokenSetID:        crypto.TokenSetSingle(contract, tokenID),
		Contract:          contract,
		TokenID:           tokenID,
		LastEvent:         base.Ordinal(),
	}
	if src, ok := c.deps.Attribution.SourceForKind(ctx, domain.OrderKindCryptopunks); ok {
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

func (c *Cryptopunks) decodeBought(ctx context.Context, log domain.Log, lastTransferTo map[string]string, out *domain.OnChainData) error {
	var ev struct {
		Value *big.Int
	}
	if err := cryptopunksABI.UnpackIntoInterface(&ev, "PunkBought", log.Data); err != nil {
		return err
	}

	contract := lower(log.Address)
	tokenID := topicBig(log.Topics[1]).String()
	maker := topicAddress(log.Topics[2])
	taker := topicAddress(log.Topics[3])
	price := ev.Value
	side := domain.SideSell

	if taker == zeroAddress && price.Sign() == 0 {
		// Bid acceptance: the contract clears both fields before emitting.
		// The true buyer is the recipient of the PunkTransfer fired just
		// before, and the price is the minPrice calldata argument.
		side = domain.SideBuy
		to, ok := lastTransferTo[log.TxHash.Hex()]
		if !ok {
			return nil
		}
		taker = to

		reconstructed, ok := c.acceptBidPrice(ctx, log.TxHash.Hex())
		if !ok {
			return nil
		}
		price = reconstructed
	}

	if price.Sign() == 0 {
		// Zero-priced buys close out allowance listings, not sales.
		return nil
	}

	quote, ok := c.deps.normalizePrices(ctx, domain.NativeCurrency, price, log.Timestamp)
	if !ok {
		return nil
	}

	orderID := crypto.SingleTokenOrderID(domain.OrderKindCryptopunks, contract, tokenID)
	base := baseParams(log, 1)
	attr := c.deps.Attribution.Resolve(ctx, base.TxHash, domain.OrderKindCryptopunks, attribution.Options{
		Address: contract,
		OrderID: orderID,
	})
	if attr.Taker != "" {
		taker = attr.Taker
	}

	out.Fills = append(out.Fills, domain.FillEvent{
		OrderID:            orderID,
		OrderKind:          domain.OrderKindCryptopunks,
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
	out.Transfers = append(out.Transfers, domain.TransferEvent{
		Kind:     domain.TransferCryptopunks,
		From:     maker,
		To:       taker,
		Contract: contract,
		TokenID:  tokenID,
		Amount:   big.NewInt(1),
		Base:     base,
	})
	return nil
}

// acceptBidPrice decodes the minPrice argument out of an acceptBidForPunk
// call in the filling transaction.
func (c *Cryptopunks) acceptBidPrice(ctx context.Context, txHash string) (*big.Int, bool) {
	tx, err := c.deps.Txs.FetchTransaction(ctx, txHash)
	if err != nil {
		c.deps.Logger.Warn("cryptopunks: bid price tx fetch failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	// Selector plus two uint256 words: acceptBidForPunk(punkIndex, minPrice).
	if len(tx.Data) < 4+32*2 || hex.EncodeToString(tx.Data[:4]) != selAcceptBidForPunk {
		return nil, false
	}
	minPrice := new(big.Int).SetBytes(tx.Data[4+32 : 4+64])
	if minPrice.Sign() == 0 {
		return nil, false
	}
	return minPrice, true
}

func (c *Cryptopunks) decodeNoLongerForSale(log domain.Log, out *domain.OnChainData) {
	contract := lower(log.Address)
	tokenID := topicBig(log.Topics[1]).String()
	orderID := crypto.SingleTokenOrderID(domain.OrderKindCryptopunks, contract, tokenID)
	base := baseParams(log, 1)

	out.Cancels = append(out.Cancels, domain.CancelEvent{
		OrderID:   orderID,
		OrderKind: domain.OrderKindCryptopunks,
		Base:      base,
	})
	out.Orders = append(out.Orders, domain.OrderTrigger{
		OrderID: orderID,
		Kind:    domain.TriggerCancel,
		Base:    base,
	})
}

func (c *Cryptopunks) decodeTransfer(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		PunkIndex *big.Int
	}
	if err := cryptopunksABI.UnpackIntoInterface(&ev, "PunkTransfer", log.Data); err != nil {
		return err
	}
	out.Transfers = append(out.Transfers, domain.TransferEvent{
		Kind:     domain.TransferCryptopunks,
		From:     topicAddress(log.Topics[1]),
		To:       topicAddress(log.Topics[2]),
		Contract: lower(log.Address),
		TokenID:  ev.PunkIndex.String(),
		Amount:   big.NewInt(1),
		Base:     baseParams(log, 1),
	})
	return nil
}

func (c *Cryptopunks) decodeAssign(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		PunkIndex *big.Int
	}
	if err := cryptopunksABI.UnpackIntoInterface(&ev, "Assign", log.Data); err != nil {
		return err
	}
	base := baseParams(log, 1)
	tokenID := ev.PunkIndex.String()

	out.Transfers = append(out.Transfers, domain.TransferEvent{
		Kind:     domain.TransferCryptopunks,
		From:     zeroAddress,
		To:       topicAddress(log.Topics[1]),
		Contract: lower(log.Address),
		TokenID:  tokenID,
		Amount:   big.NewInt(1),
		Base:     base,
	})
	out.Mints = append(out.Mints, domain.MintInfo{
		Contract: lower(log.Address),
		TokenID:  tokenID,
		Amount:   big.NewInt(1),
		MintedAt: log.Timestamp,
		Base:     base,
	})
	return nil
}
