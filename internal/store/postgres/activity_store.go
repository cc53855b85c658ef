package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// ActivityStore implements domain.ActivityStore using PostgreSQL. Order
// events are an append-only log consumed by polling clients.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates a new ActivityStore backed by the given pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// InsertOrderEvents appends order status transition rows.
func (s *ActivityStore) InsertOrderEvents(ctx context.Context, events []domain.OrderEvent) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO order_events (
			order_id, order_kind, trigger_kind, fillability, approval,
			contract, token_set_id, maker, price,
			valid_from, valid_until, tx_hash, block_number, log_index, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.OrderID, e.OrderKind, e.Trigger, e.Fillability, e.Approval,
			e.Contract, e.TokenSetID, e.Maker, bigArg(e.Price),
			e.ValidFrom, e.ValidUntil, nullString(e.TxHash), e.BlockNumber, e.LogIndex, e.CreatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert order event %d: %w", i, err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.ActivityStore = (*ActivityStore)(nil)
