package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// TokenStore implements domain.TokenStore using PostgreSQL. Saves are
// optimistic: the row's updated_at acts as the version, and a stale write
// surfaces as domain.ErrRedundantEvent so the caller re-reads and retries.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// FloorState returns the cached floor state or domain.ErrNotFound.
func (s *TokenStore) FloorState(ctx context.Context, tokenSetID string) (domain.FloorState, error) {
	const query = `
		SELECT token_set_id,
			floor_ask_id, floor_ask_value, floor_ask_maker, floor_ask_valid_from, floor_ask_valid_to,
			normalized_floor_ask_id, normalized_floor_ask_value,
			top_bid_id, top_bid_value, top_bid_maker,
			updated_at
		FROM token_floor_states WHERE token_set_id = $1`

	var st domain.FloorState
	var askID, askMaker, normID, bidID, bidMaker *string
	var askValue, normValue, bidValue *string

	err := s.pool.QueryRow(ctx, query, tokenSetID).Scan(
		&st.TokenSetID,
		&askID, &askValue, &askMaker, &st.FloorAskValidFrom, &st.FloorAskValidTo,
		&normID, &normValue,
		&bidID, &bidValue, &bidMaker,
		&st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FloorState{}, domain.ErrNotFound
		}
		return domain.FloorState{}, fmt.Errorf("postgres: floor state %s: %w", tokenSetID, err)
	}

	if askID != nil {
		st.FloorAskID = *askID
	}
	if askMaker != nil {
		st.FloorAskMaker = *askMaker
	}
	if normID != nil {
		st.NormalizedFloorAskID = *normID
	}
	if bidID != nil {
		st.TopBidID = *bidID
	}
	if bidMaker != nil {
		st.TopBidMaker = *bidMaker
	}
	st.FloorAskValue = bigVal(askValue)
	st.NormalizedFloorAskValue = bigVal(normValue)
	st.TopBidValue = bigVal(bidValue)
	return st, nil
}

// SaveFloorState writes the state, versioned on the UpdatedAt the caller read.
// A zero UpdatedAt means the caller saw no row and expects to insert one.
func (s *TokenStore) SaveFloorState(ctx context.Context, st domain.FloorState) error {
	if st.UpdatedAt.IsZero() {
		const insert = `
			INSERT INTO token_floor_states (
				token_set_id,
				floor_ask_id, floor_ask_value, floor_ask_maker, floor_ask_valid_from, floor_ask_valid_to,
				normalized_floor_ask_id, normalized_floor_ask_value,
				top_bid_id, top_bid_value, top_bid_maker,
				updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			ON CONFLICT (token_set_id) DO NOTHING`

		tag, err := s.pool.Exec(ctx, insert,
			st.TokenSetID,
			nullString(st.FloorAskID), bigArg(st.FloorAskValue), nullString(st.FloorAskMaker), st.FloorAskValidFrom, st.FloorAskValidTo,
			nullString(st.NormalizedFloorAskID), bigArg(st.NormalizedFloorAskValue),
			nullString(st.TopBidID), bigArg(st.TopBidValue), nullString(st.TopBidMaker),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert floor state %s: %w", st.TokenSetID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrRedundantEvent
		}
		return nil
	}

	const update = `
		UPDATE token_floor_states SET
			floor_ask_id = $2, floor_ask_value = $3, floor_ask_maker = $4,
			floor_ask_valid_from = $5, floor_ask_valid_to = $6,
			normalized_floor_ask_id = $7, normalized_floor_ask_value = $8,
			top_bid_id = $9, top_bid_value = $10, top_bid_maker = $11,
			updated_at = NOW()
		WHERE token_set_id = $1 AND updated_at = $12`

	tag, err := s.pool.Exec(ctx, update,
		st.TokenSetID,
		nullString(st.FloorAskID), bigArg(st.FloorAskValue), nullString(st.FloorAskMaker),
		st.FloorAskValidFrom, st.FloorAskValidTo,
		nullString(st.NormalizedFloorAskID), bigArg(st.NormalizedFloorAskValue),
		nullString(st.TopBidID), bigArg(st.TopBidValue), nullString(st.TopBidMaker),
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update floor state %s: %w", st.TokenSetID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRedundantEvent
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenStore = (*TokenStore)(nil)
