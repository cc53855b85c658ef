package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// cursorKey holds the highest block number the pipeline has fully processed.
const cursorKey = "cursor:last_indexed_block"

// BlockCursor persists the pipeline's resume point so a restart picks up
// where the previous run left off.
type BlockCursor struct {
	rdb *redis.Client
}

// NewBlockCursor creates a BlockCursor backed by the given Client.
func NewBlockCursor(c *Client) *BlockCursor {
	return &BlockCursor{rdb: c.Underlying()}
}

// Get returns the last fully processed block, or 0 when no cursor exists.
func (bc *BlockCursor) Get(ctx context.Context) (uint64, error) {
	val, err := bc.rdb.Get(ctx, cursorKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get block cursor: %w", err)
	}
	return val, nil
}

// Set records the last fully processed block.
func (bc *BlockCursor) Set(ctx context.Context, block uint64) error {
	if err := bc.rdb.Set(ctx, cursorKey, block, 0).Err(); err != nil {
		return fmt.Errorf("redis: set block cursor: %w", err)
	}
	return nil
}
