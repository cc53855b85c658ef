// Package emitter republishes finalized domain changes to downstream
// consumers over the signal bus. Payloads are JSON with all big integers
// rendered as decimal strings, so consumers in any language can parse them
// without precision loss.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// Channel names. Floor changes go to a per-token-set channel so consumers can
// pattern-subscribe to the collections they care about.
const (
	ChannelSales     = "ch:sales"
	ChannelAsks      = "ch:asks"
	ChannelBids      = "ch:bids"
	ChannelTransfers = "ch:transfers"
	floorChannelFmt  = "ch:floor:%s"
)

// Emitter implements domain.Emitter on top of a pub/sub signal bus.
type Emitter struct {
	bus domain.SignalBus
}

func New(bus domain.SignalBus) *Emitter {
	return &Emitter{bus: bus}
}

type saleMessage struct {
	OrderID            string `json:"orderId,omitempty"`
	OrderKind          string `json:"orderKind"`
	OrderSide          string `json:"orderSide"`
	Maker              string `json:"maker"`
	Taker              string `json:"taker"`
	Contract           string `json:"contract"`
	TokenID            string `json:"tokenId"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	CurrencyPrice      string `json:"currencyPrice"`
	Price              string `json:"price"`
	USDPrice           string `json:"usdPrice,omitempty"`
	OrderSourceID      int64  `json:"orderSourceId,omitempty"`
	FillSourceID       int64  `json:"fillSourceId,omitempty"`
	AggregatorSourceID int64  `json:"aggregatorSourceId,omitempty"`
	IsPrimary          bool   `json:"isPrimary,omitempty"`
	TxHash             string `json:"txHash"`
	LogIndex           uint   `json:"logIndex"`
	BatchIndex         int    `json:"batchIndex"`
	Timestamp          int64  `json:"timestamp"`
}

type orderMessage struct {
	OrderID     string `json:"orderId"`
	OrderKind   string `json:"orderKind"`
	Side        string `json:"side"`
	Trigger     string `json:"trigger"`
	Fillability string `json:"fillability"`
	Approval    string `json:"approval"`
	Maker       string `json:"maker"`
	Contract    string `json:"contract"`
	TokenSetID  string `json:"tokenSetId"`
	Price       string `json:"price"`
	Value       string `json:"value"`
	ValidFrom   int64  `json:"validFrom"`
	ValidUntil  int64  `json:"validUntil"`
}

type transferMessage struct {
	Kind      string `json:"kind"`
	From      string `json:"from"`
	To        string `json:"to"`
	Contract  string `json:"contract"`
	TokenID   string `json:"tokenId"`
	Amount    string `json:"amount"`
	TxHash    string `json:"txHash"`
	LogIndex  uint   `json:"logIndex"`
	Timestamp int64  `json:"timestamp"`
}

type floorMessage struct {
	TokenSetID    string `json:"tokenSetId"`
	Kind          string `json:"kind"`
	PreviousID    string `json:"previousId,omitempty"`
	PreviousValue string `json:"previousValue,omitempty"`
	NewID         string `json:"newId,omitempty"`
	NewValue      string `json:"newValue,omitempty"`
	At            int64  `json:"at"`
}

func (e *Emitter) EmitSales(ctx context.Context, fills []domain.FillEvent) error {
	for _, f := range fills {
		msg := saleMessage{
			OrderID:            f.OrderID,
			OrderKind:          string(f.OrderKind),
			OrderSide:          string(f.OrderSide),
			Maker:              f.Maker,
			Taker:              f.Taker,
			Contract:           f.Contract,
			TokenID:            f.TokenID,
			Amount:             bigString(f.Amount),
			Currency:           f.Currency,
			CurrencyPrice:      bigString(f.CurrencyPrice),
			Price:              bigString(f.Price),
			OrderSourceID:      f.OrderSourceID,
			FillSourceID:       f.FillSourceID,
			AggregatorSourceID: f.AggregatorSourceID,
			IsPrimary:          f.IsPrimary,
			TxHash:             f.Base.TxHash,
			LogIndex:           f.Base.LogIndex,
			BatchIndex:         f.Base.BatchIndex,
			Timestamp:          f.Base.Timestamp,
		}
		if f.USDPrice != nil {
			msg.USDPrice = f.USDPrice.String()
		}
		if err := e.publish(ctx, ChannelSales, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) EmitOrder(ctx context.Context, order domain.Order, trigger domain.TriggerKind) error {
	channel := ChannelAsks
	if order.Side == domain.SideBuy {
		channel = ChannelBids
	}
	return e.publish(ctx, channel, orderMessage{
		OrderID:     order.ID,
		OrderKind:   string(order.Kind),
		Side:        string(order.Side),
		Trigger:     string(trigger),
		Fillability: string(order.Fillability),
		Approval:    string(order.Approval),
		Maker:       order.Maker,
		Contract:    order.Contract,
		TokenSetID:  order.TokenSetID,
		Price:       bigString(order.Price),
		Value:       bigString(order.Value),
		ValidFrom:   order.ValidFrom,
		ValidUntil:  order.ValidUntil,
	})
}

func (e *Emitter) EmitTransfers(ctx context.Context, transfers []domain.TransferEvent) error {
	for _, t := range transfers {
		msg := transferMessage{
			Kind:      string(t.Kind),
			From:      t.From,
			To:        t.To,
			Contract:  t.Contract,
			TokenID:   t.TokenID,
			Amount:    bigString(t.Amount),
			TxHash:    t.Base.TxHash,
			LogIndex:  t.Base.LogIndex,
			Timestamp: t.Base.Timestamp,
		}
		if err := e.publish(ctx, ChannelTransfers, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) EmitFloorChange(ctx context.Context, change domain.FloorChange) error {
	return e.publish(ctx, fmt.Sprintf(floorChannelFmt, change.TokenSetID), floorMessage{
		TokenSetID:    change.TokenSetID,
		Kind:          string(change.Kind),
		PreviousID:    change.PreviousID,
		PreviousValue: bigString(change.PreviousValue),
		NewID:         change.NewID,
		NewValue:      bigString(change.NewValue),
		At:            change.At.Unix(),
	})
}

func (e *Emitter) publish(ctx context.Context, channel string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("emitter: marshal %s: %w", channel, err)
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("emitter: publish %s: %w", channel, err)
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// Compile-time interface check.
var _ domain.Emitter = (*Emitter)(nil)
