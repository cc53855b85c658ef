package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// SourceStore implements domain.SourceStore using PostgreSQL.
type SourceStore struct {
	pool *pgxpool.Pool
}

// NewSourceStore creates a new SourceStore backed by the given connection pool.
func NewSourceStore(pool *pgxpool.Pool) *SourceStore {
	return &SourceStore{pool: pool}
}

const sourceSelectCols = `id, domain, name, address, created_at`

func scanSources(rows pgx.Rows) ([]domain.Source, error) {
	var sources []domain.Source
	for rows.Next() {
		var src domain.Source
		var address *string
		if err := rows.Scan(&src.ID, &src.Domain, &src.Name, &address, &src.CreatedAt); err != nil {
			return nil, err
		}
		if address != nil {
			src.Address = *address
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// List returns every known source.
func (s *SourceStore) List(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceSelectCols+` FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

// GetByDomain returns the source registered for a domain, or
// domain.ErrNotFound.
func (s *SourceStore) GetByDomain(ctx context.Context, dom string) (domain.Source, error) {
	var src domain.Source
	var address *string
	err := s.pool.QueryRow(ctx,
		`SELECT `+sourceSelectCols+` FROM sources WHERE domain = $1`, dom,
	).Scan(&src.ID, &src.Domain, &src.Name, &address, &src.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Source{}, domain.ErrNotFound
		}
		return domain.Source{}, fmt.Errorf("postgres: get source %s: %w", dom, err)
	}
	if address != nil {
		src.Address = *address
	}
	return src, nil
}

// Insert registers a new source and returns the stored row. A concurrent
// insert of the same domain surfaces as domain.ErrAlreadyExists.
func (s *SourceStore) Insert(ctx context.Context, src domain.Source) (domain.Source, error) {
	const query = `
		INSERT INTO sources (domain, name, address, is_router, created_at)
		VALUES ($1, $2, $3, false, NOW())
		ON CONFLICT (domain) DO NOTHING
		RETURNING ` + sourceSelectCols

	var stored domain.Source
	var address *string
	err := s.pool.QueryRow(ctx, query, src.Domain, src.Name, nullString(src.Address)).
		Scan(&stored.ID, &stored.Domain, &stored.Name, &address, &stored.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Source{}, domain.ErrAlreadyExists
		}
		return domain.Source{}, fmt.Errorf("postgres: insert source %s: %w", src.Domain, err)
	}
	if address != nil {
		stored.Address = *address
	}
	return stored, nil
}

// ListRouters returns the sources flagged as fill routers.
func (s *SourceStore) ListRouters(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceSelectCols+` FROM sources WHERE is_router AND address IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list routers: %w", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

// Compile-time interface check.
var _ domain.SourceStore = (*SourceStore)(nil)
