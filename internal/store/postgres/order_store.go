package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, kind, side, maker, taker,
	price, currency_price, value, currency_value, normalized_value, currency,
	fee_bps, fee_breakdown, nonce, quantity_remaining,
	valid_from, valid_until, fillability, approval, rejection_reason,
	token_set_id, contract, token_id, source_id, raw_data,
	last_event_timestamp, last_event_block, last_event_log_index, last_event_batch_index,
	created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var price, currencyPrice, value, currencyValue, normalizedValue, nonce, quantity *string
	var feeBreakdown []byte
	var taker, rejection, rawData *string

	err := row.Scan(
		&o.ID, &o.Kind, &o.Side, &o.Maker, &taker,
		&price, &currencyPrice, &value, &currencyValue, &normalizedValue, &o.Currency,
		&o.FeeBps, &feeBreakdown, &nonce, &quantity,
		&o.ValidFrom, &o.ValidUntil, &o.Fillability, &o.Approval, &rejection,
		&o.TokenSetID, &o.Contract, &o.TokenID, &o.SourceID, &rawData,
		&o.LastEvent.Timestamp, &o.LastEvent.BlockNumber, &o.LastEvent.LogIndex, &o.LastEvent.BatchIndex,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Price = bigVal(price)
	o.CurrencyPrice = bigVal(currencyPrice)
	o.Value = bigVal(value)
	o.CurrencyValue = bigVal(currencyValue)
	o.NormalizedValue = bigVal(normalizedValue)
	o.Nonce = bigVal(nonce)
	o.QuantityRemaining = bigVal(quantity)
	if taker != nil {
		o.Taker = *taker
	}
	if rejection != nil {
		o.RejectionReason = *rejection
	}
	if rawData != nil {
		o.RawData = json.RawMessage(*rawData)
	}
	if len(feeBreakdown) > 0 {
		if err := json.Unmarshal(feeBreakdown, &o.FeeBreakdown); err != nil {
			return domain.Order{}, fmt.Errorf("postgres: decode fee breakdown for %s: %w", o.ID, err)
		}
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID returns one order or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// Upsert writes the order keyed by its deterministic id. The ordinal guard in
// the UPDATE arm makes replays no-ops even if two writers race past the
// application-level newer-wins check.
func (s *OrderStore) Upsert(ctx context.Context, o domain.Order) error {
	feeBreakdown, err := json.Marshal(o.FeeBreakdown)
	if err != nil {
		return fmt.Errorf("postgres: encode fee breakdown for %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO orders (
			id, kind, side, maker, taker,
			price, currency_price, value, currency_value, normalized_value, currency,
			fee_bps, fee_breakdown, nonce, quantity_remaining,
			valid_from, valid_until, fillability, approval, rejection_reason,
			token_set_id, contract, token_id, source_id, raw_data,
			last_event_timestamp, last_event_block, last_event_log_index, last_event_batch_index,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25,
			$26, $27, $28, $29,
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			side = EXCLUDED.side,
			maker = EXCLUDED.maker,
			taker = EXCLUDED.taker,
			price = EXCLUDED.price,
			currency_price = EXCLUDED.currency_price,
			value = EXCLUDED.value,
			currency_value = EXCLUDED.currency_value,
			normalized_value = EXCLUDED.normalized_value,
			currency = EXCLUDED.currency,
			fee_bps = EXCLUDED.fee_bps,
			fee_breakdown = EXCLUDED.fee_breakdown,
			nonce = EXCLUDED.nonce,
			quantity_remaining = EXCLUDED.quantity_remaining,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			fillability = EXCLUDED.fillability,
			approval = EXCLUDED.approval,
			rejection_reason = EXCLUDED.rejection_reason,
			token_set_id = EXCLUDED.token_set_id,
			source_id = EXCLUDED.source_id,
			raw_data = EXCLUDED.raw_data,
			last_event_timestamp = EXCLUDED.last_event_timestamp,
			last_event_block = EXCLUDED.last_event_block,
			last_event_log_index = EXCLUDED.last_event_log_index,
			last_event_batch_index = EXCLUDED.last_event_batch_index,
			updated_at = NOW()
		WHERE (orders.last_event_timestamp, orders.last_event_block,
		       orders.last_event_log_index, orders.last_event_batch_index)
		    < (EXCLUDED.last_event_timestamp, EXCLUDED.last_event_block,
		       EXCLUDED.last_event_log_index, EXCLUDED.last_event_batch_index)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.Kind, o.Side, o.Maker, nullString(o.Taker),
		bigArg(o.Price), bigArg(o.CurrencyPrice), bigArg(o.Value), bigArg(o.CurrencyValue), bigArg(o.NormalizedValue), o.Currency,
		o.FeeBps, feeBreakdown, bigArg(o.Nonce), bigArg(o.QuantityRemaining),
		o.ValidFrom, o.ValidUntil, o.Fillability, o.Approval, nullString(o.RejectionReason),
		o.TokenSetID, o.Contract, o.TokenID, o.SourceID, nullBytes(o.RawData),
		o.LastEvent.Timestamp, o.LastEvent.BlockNumber, o.LastEvent.LogIndex, o.LastEvent.BatchIndex,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert order %s: %w", o.ID, err)
	}
	return nil
}

const orderReturning = ` RETURNING ` + orderSelectCols

// CancelByNonceBelow cancels active orders of (kind, maker) with nonce below
// minNonce, guarded by the event ordinal.
func (s *OrderStore) CancelByNonceBelow(ctx context.Context, kind domain.OrderKind, maker string, minNonce *big.Int, ord domain.EventOrdinal) ([]domain.Order, error) {
	const query = `
		UPDATE orders SET
			fillability = 'cancelled',
			last_event_timestamp = $4, last_event_block = $5,
			last_event_log_index = $6, last_event_batch_index = $7,
			updated_at = NOW()
		WHERE kind = $1 AND maker = $2
		  AND nonce IS NOT NULL AND nonce < $3::numeric
		  AND fillability IN ('fillable', 'no-balance')
		  AND (last_event_timestamp, last_event_block, last_event_log_index, last_event_batch_index)
		    < ($4, $5, $6, $7)` + orderReturning

	rows, err := s.pool.Query(ctx, query, kind, maker, bigArg(minNonce),
		ord.Timestamp, ord.BlockNumber, ord.LogIndex, ord.BatchIndex)
	if err != nil {
		return nil, fmt.Errorf("postgres: cancel by nonce below: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// CancelByNonces cancels active orders of (kind, maker) whose nonce is in the
// explicit set.
func (s *OrderStore) CancelByNonces(ctx context.Context, kind domain.OrderKind, maker string, nonces []*big.Int, ord domain.EventOrdinal) ([]domain.Order, error) {
	if len(nonces) == 0 {
		return nil, nil
	}
	set := make([]string, 0, len(nonces))
	for _, n := range nonces {
		if n != nil {
			set = append(set, n.String())
		}
	}

	const query = `
		UPDATE orders SET
			fillability = 'cancelled',
			last_event_timestamp = $4, last_event_block = $5,
			last_event_log_index = $6, last_event_batch_index = $7,
			updated_at = NOW()
		WHERE kind = $1 AND maker = $2
		  AND nonce = ANY($3::numeric[])
		  AND fillability IN ('fillable', 'no-balance')
		  AND (last_event_timestamp, last_event_block, last_event_log_index, last_event_batch_index)
		    < ($4, $5, $6, $7)` + orderReturning

	rows, err := s.pool.Query(ctx, query, kind, maker, set,
		ord.Timestamp, ord.BlockNumber, ord.LogIndex, ord.BatchIndex)
	if err != nil {
		return nil, fmt.Errorf("postgres: cancel by nonces: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// UpdateApproval flips the approval axis for every active order of
// (maker, contract).
func (s *OrderStore) UpdateApproval(ctx context.Context, maker, contract string, status domain.ApprovalStatus, ord domain.EventOrdinal) ([]domain.Order, error) {
	const query = `
		UPDATE orders SET
			approval = $3,
			last_event_timestamp = $4, last_event_block = $5,
			last_event_log_index = $6, last_event_batch_index = $7,
			updated_at = NOW()
		WHERE maker = $1 AND contract = $2
		  AND approval <> $3
		  AND fillability IN ('fillable', 'no-balance')
		  AND (last_event_timestamp, last_event_block, last_event_log_index, last_event_batch_index)
		    < ($4, $5, $6, $7)` + orderReturning

	rows, err := s.pool.Query(ctx, query, maker, contract, status,
		ord.Timestamp, ord.BlockNumber, ord.LogIndex, ord.BatchIndex)
	if err != nil {
		return nil, fmt.Errorf("postgres: update approval: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// UpdateFillabilityByMakerToken moves sell orders of (maker, contract, token)
// between the fillable and no-balance states after ownership changes.
func (s *OrderStore) UpdateFillabilityByMakerToken(ctx context.Context, maker, contract, tokenID string, from, to domain.FillabilityStatus, ord domain.EventOrdinal) ([]domain.Order, error) {
	const query = `
		UPDATE orders SET
			fillability = $5,
			last_event_timestamp = $6, last_event_block = $7,
			last_event_log_index = $8, last_event_batch_index = $9,
			updated_at = NOW()
		WHERE maker = $1 AND contract = $2 AND token_id = $3
		  AND side = 'sell' AND fillability = $4
		  AND (last_event_timestamp, last_event_block, last_event_log_index, last_event_batch_index)
		    < ($6, $7, $8, $9)` + orderReturning

	rows, err := s.pool.Query(ctx, query, maker, contract, tokenID, from, to,
		ord.Timestamp, ord.BlockNumber, ord.LogIndex, ord.BatchIndex)
	if err != nil {
		return nil, fmt.Errorf("postgres: update fillability: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ExpireDue marks every active order whose validity window passed as expired.
func (s *OrderStore) ExpireDue(ctx context.Context, now int64) ([]domain.Order, error) {
	const query = `
		UPDATE orders SET
			fillability = 'expired',
			last_event_timestamp = $1,
			updated_at = NOW()
		WHERE fillability IN ('fillable', 'no-balance')
		  AND valid_until <> 0 AND valid_until < $1` + orderReturning

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: expire due: %w", err)
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// BestAsk returns the cheapest fillable, approved, currently valid sell order
// for the token set. With normalized, royalty-normalized values are used and
// kinds without normalization support are excluded.
func (s *OrderStore) BestAsk(ctx context.Context, tokenSetID string, normalized bool, excludeKinds []domain.OrderKind, now int64) (domain.OrderPick, error) {
	query := bestAskQuery(normalized, len(excludeKinds) > 0)
	args := []any{tokenSetID, now}
	if len(excludeKinds) > 0 {
		kinds := make([]string, len(excludeKinds))
		for i, k := range excludeKinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
	}
	return s.pickOne(ctx, query, args, "best ask")
}

// bestAskQuery builds the floor selection. Equal normalized values tie-break
// on the raw value, then total fees (the lower-fee ask nets the taker more),
// then id for determinism.
func bestAskQuery(normalized, withExclude bool) string {
	valueExpr := "value"
	if normalized {
		valueExpr = "COALESCE(normalized_value, value)"
	}

	query := `
		SELECT id, ` + valueExpr + `, maker, valid_from, valid_until
		FROM orders
		WHERE token_set_id = $1 AND side = 'sell'
		  AND fillability = 'fillable' AND approval = 'approved'
		  AND valid_from <= $2 AND (valid_until = 0 OR valid_until >= $2)`
	if withExclude {
		query += ` AND kind <> ALL($3)`
	}
	query += ` ORDER BY ` + valueExpr + ` ASC`
	if normalized {
		query += `, value ASC`
	}
	query += `, fee_bps ASC, id ASC LIMIT 1`
	return query
}

// topBidQuery selects the highest bid; value ties prefer the lower-fee bid,
// then id for determinism.
const topBidQuery = `
		SELECT id, value, maker, valid_from, valid_until
		FROM orders
		WHERE token_set_id = $1 AND side = 'buy'
		  AND fillability = 'fillable' AND approval = 'approved'
		  AND valid_from <= $2 AND (valid_until = 0 OR valid_until >= $2)
		ORDER BY value DESC, fee_bps ASC, id ASC LIMIT 1`

// TopBid returns the highest fillable, approved, currently valid buy order
// for the token set.
func (s *OrderStore) TopBid(ctx context.Context, tokenSetID string, now int64) (domain.OrderPick, error) {
	return s.pickOne(ctx, topBidQuery, []any{tokenSetID, now}, "top bid")
}

func (s *OrderStore) pickOne(ctx context.Context, query string, args []any, what string) (domain.OrderPick, error) {
	var pick domain.OrderPick
	var value *string
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&pick.OrderID, &value, &pick.Maker, &pick.ValidFrom, &pick.ValidTo,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderPick{}, domain.ErrNotFound
		}
		return domain.OrderPick{}, fmt.Errorf("postgres: %s: %w", what, err)
	}
	pick.Value = bigVal(value)
	return pick, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
