package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// TxCacheStore implements domain.TxCacheStore using PostgreSQL. Transactions
// are immutable once mined, so rows never change after the first write.
type TxCacheStore struct {
	pool *pgxpool.Pool
}

// NewTxCacheStore creates a new TxCacheStore backed by the given pool.
func NewTxCacheStore(pool *pgxpool.Pool) *TxCacheStore {
	return &TxCacheStore{pool: pool}
}

// GetTransaction returns a cached transaction or domain.ErrNotFound.
func (s *TxCacheStore) GetTransaction(ctx context.Context, hash string) (domain.Transaction, error) {
	const query = `
		SELECT hash, from_address, to_address, data, value, block_number, block_timestamp
		FROM tx_cache WHERE hash = $1`

	var tx domain.Transaction
	var value *string
	err := s.pool.QueryRow(ctx, query, hash).Scan(
		&tx.Hash, &tx.From, &tx.To, &tx.Data, &value, &tx.BlockNumber, &tx.BlockTimestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("postgres: get tx %s: %w", hash, err)
	}
	tx.Value = bigVal(value)
	return tx, nil
}

// SaveTransaction caches a fetched transaction.
func (s *TxCacheStore) SaveTransaction(ctx context.Context, tx domain.Transaction) error {
	const query = `
		INSERT INTO tx_cache (hash, from_address, to_address, data, value, block_number, block_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		tx.Hash, tx.From, tx.To, tx.Data, bigArg(tx.Value), tx.BlockNumber, tx.BlockTimestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: save tx %s: %w", tx.Hash, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TxCacheStore = (*TxCacheStore)(nil)
