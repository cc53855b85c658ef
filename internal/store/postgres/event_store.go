package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Every insert is
// keyed on (tx_hash, log_index, batch_index) with ON CONFLICT DO NOTHING, so
// replaying a block range is harmless.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) runBatch(ctx context.Context, batch *pgx.Batch, n int, what string) error {
	if n == 0 {
		return nil
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert %s item %d: %w", what, i, err)
		}
	}
	return nil
}

// InsertFills writes fill rows, skipping duplicates.
func (s *EventStore) InsertFills(ctx context.Context, fills []domain.FillEvent) error {
	const query = `
		INSERT INTO fill_events (
			order_id, order_kind, order_side, maker, taker,
			contract, token_id, amount, currency, currency_price, price, usd_price,
			order_source_id, fill_source_id, aggregator_source_id, is_primary,
			address, tx_hash, tx_index, block_number, block_hash,
			log_index, batch_index, timestamp
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22, $23, $24
		) ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, f := range fills {
		var usd *string
		if f.USDPrice != nil {
			v := f.USDPrice.String()
			usd = &v
		}
		batch.Queue(query,
			nullString(f.OrderID), f.OrderKind, f.OrderSide, f.Maker, f.Taker,
			f.Contract, f.TokenID, bigArg(f.Amount), f.Currency, bigArg(f.CurrencyPrice), bigArg(f.Price), usd,
			f.OrderSourceID, f.FillSourceID, f.AggregatorSourceID, f.IsPrimary,
			f.Base.Address, f.Base.TxHash, f.Base.TxIndex, f.Base.BlockNumber, f.Base.BlockHash,
			f.Base.LogIndex, f.Base.BatchIndex, f.Base.Timestamp,
		)
	}
	return s.runBatch(ctx, batch, len(fills), "fills")
}

// InsertCancels writes single-order cancel rows.
func (s *EventStore) InsertCancels(ctx context.Context, cancels []domain.CancelEvent) error {
	const query = `
		INSERT INTO cancel_events (
			order_id, order_kind, maker,
			address, tx_hash, block_number, log_index, batch_index, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, c := range cancels {
		batch.Queue(query,
			c.OrderID, c.OrderKind, nullString(c.Maker),
			c.Base.Address, c.Base.TxHash, c.Base.BlockNumber,
			c.Base.LogIndex, c.Base.BatchIndex, c.Base.Timestamp,
		)
	}
	return s.runBatch(ctx, batch, len(cancels), "cancels")
}

// InsertNonceCancels writes explicit nonce-set invalidation rows.
func (s *EventStore) InsertNonceCancels(ctx context.Context, cancels []domain.NonceCancelEvent) error {
	const query = `
		INSERT INTO nonce_cancel_events (
			order_kind, maker, nonces,
			address, tx_hash, block_number, log_index, batch_index, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, c := range cancels {
		nonces := make([]string, 0, len(c.Nonces))
		for _, n := range c.Nonces {
			if n != nil {
				nonces = append(nonces, n.String())
			}
		}
		batch.Queue(query,
			c.OrderKind, c.Maker, nonces,
			c.Base.Address, c.Base.TxHash, c.Base.BlockNumber,
			c.Base.LogIndex, c.Base.BatchIndex, c.Base.Timestamp,
		)
	}
	return s.runBatch(ctx, batch, len(cancels), "nonce cancels")
}

// InsertBulkCancels writes min-nonce bump rows.
func (s *EventStore) InsertBulkCancels(ctx context.Context, cancels []domain.BulkCancelEvent) error {
	const query = `
		INSERT INTO bulk_cancel_events (
			order_kind, maker, min_nonce,
			address, tx_hash, block_number, log_index, batch_index, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, c := range cancels {
		batch.Queue(query,
			c.OrderKind, c.Maker, bigArg(c.MinNonce),
			c.Base.Address, c.Base.TxHash, c.Base.BlockNumber,
			c.Base.LogIndex, c.Base.BatchIndex, c.Base.Timestamp,
		)
	}
	return s.runBatch(ctx, batch, len(cancels), "bulk cancels")
}

// InsertTransfers writes ownership-change rows.
func (s *EventStore) InsertTransfers(ctx context.Context, transfers []domain.TransferEvent) error {
	const query = `
		INSERT INTO transfer_events (
			kind, from_address, to_address, contract, token_id, amount,
			tx_hash, block_number, log_index, batch_index, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range transfers {
		batch.Queue(query,
			t.Kind, t.From, t.To, t.Contract, t.TokenID, bigArg(t.Amount),
			t.Base.TxHash, t.Base.BlockNumber, t.Base.LogIndex, t.Base.BatchIndex, t.Base.Timestamp,
		)
	}
	return s.runBatch(ctx, batch, len(transfers), "transfers")
}

// InsertMints writes first-owner seed rows.
func (s *EventStore) InsertMints(ctx context.Context, mints []domain.MintInfo) error {
	const query = `
		INSERT INTO mint_events (
			contract, token_id, amount, minted_at,
			tx_hash, block_number, log_index, batch_index
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash, log_index, batch_index) DO NOTHING`

	batch := &pgx.Batch{}
	for _, m := range mints {
		batch.Queue(query,
			m.Contract, m.TokenID, bigArg(m.Amount), m.MintedAt,
			m.Base.TxHash, m.Base.BlockNumber, m.Base.LogIndex, m.Base.BatchIndex,
		)
	}
	return s.runBatch(ctx, batch, len(mints), "mints")
}

// ListFillsBefore returns up to limit fills older than the cutoff, oldest
// first, for cold-storage archival.
func (s *EventStore) ListFillsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FillEvent, error) {
	const query = `
		SELECT order_id, order_kind, order_side, maker, taker,
			contract, token_id, amount, currency, currency_price, price, usd_price,
			order_source_id, fill_source_id, aggregator_source_id, is_primary,
			address, tx_hash, tx_index, block_number, block_hash,
			log_index, batch_index, timestamp
		FROM fill_events
		WHERE timestamp < $1
		ORDER BY timestamp ASC, log_index ASC, batch_index ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills before: %w", err)
	}
	defer rows.Close()

	var fills []domain.FillEvent
	for rows.Next() {
		var f domain.FillEvent
		var orderID *string
		var amount, currencyPrice, price, usd *string
		if err := rows.Scan(
			&orderID, &f.OrderKind, &f.OrderSide, &f.Maker, &f.Taker,
			&f.Contract, &f.TokenID, &amount, &f.Currency, &currencyPrice, &price, &usd,
			&f.OrderSourceID, &f.FillSourceID, &f.AggregatorSourceID, &f.IsPrimary,
			&f.Base.Address, &f.Base.TxHash, &f.Base.TxIndex, &f.Base.BlockNumber, &f.Base.BlockHash,
			&f.Base.LogIndex, &f.Base.BatchIndex, &f.Base.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan fill: %w", err)
		}
		if orderID != nil {
			f.OrderID = *orderID
		}
		f.Amount = bigVal(amount)
		f.CurrencyPrice = bigVal(currencyPrice)
		f.Price = bigVal(price)
		if usd != nil {
			if d, err := decimal.NewFromString(*usd); err == nil {
				f.USDPrice = &d
			}
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// DeleteFillsBefore removes archived fill rows, returning the count deleted.
func (s *EventStore) DeleteFillsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fill_events WHERE timestamp < $1`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete fills before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListTransfersBefore returns up to limit transfers older than the cutoff.
func (s *EventStore) ListTransfersBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.TransferEvent, error) {
	const query = `
		SELECT kind, from_address, to_address, contract, token_id, amount,
			tx_hash, block_number, log_index, batch_index, timestamp
		FROM transfer_events
		WHERE timestamp < $1
		ORDER BY timestamp ASC, log_index ASC, batch_index ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers before: %w", err)
	}
	defer rows.Close()

	var transfers []domain.TransferEvent
	for rows.Next() {
		var t domain.TransferEvent
		var amount *string
		if err := rows.Scan(
			&t.Kind, &t.From, &t.To, &t.Contract, &t.TokenID, &amount,
			&t.Base.TxHash, &t.Base.BlockNumber, &t.Base.LogIndex, &t.Base.BatchIndex, &t.Base.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		t.Amount = bigVal(amount)
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// DeleteTransfersBefore removes archived transfer rows.
func (s *EventStore) DeleteTransfersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transfer_events WHERE timestamp < $1`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transfers before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
