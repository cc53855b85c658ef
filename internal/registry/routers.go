package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// Routers caches the known router-contract table. A fill whose transaction
// recipient is a router belongs economically to tx.from, not the router.
type Routers struct {
	store domain.SourceStore
	ttl   time.Duration

	mu        sync.RWMutex
	byAddress map[string]domain.Source
	loadedAt  time.Time
}

// NewRouters creates a Routers registry over the persisted router table.
func NewRouters(store domain.SourceStore, ttl time.Duration) *Routers {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Routers{store: store, ttl: ttl}
}

// Refresh reloads the router table unconditionally.
func (r *Routers) Refresh(ctx context.Context) error {
	routers, err := r.store.ListRouters(ctx)
	if err != nil {
		return fmt.Errorf("registry: list routers: %w", err)
	}

	byAddress := make(map[string]domain.Source, len(routers))
	for _, src := range routers {
		if src.Address != "" {
			byAddress[strings.ToLower(src.Address)] = src
		}
	}

	r.mu.Lock()
	r.byAddress = byAddress
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// Lookup returns the router source registered at address, if any.
func (r *Routers) Lookup(ctx context.Context, address string) (domain.Source, bool) {
	r.mu.RLock()
	fresh := time.Since(r.loadedAt) < r.ttl && r.byAddress != nil
	r.mu.RUnlock()

	if !fresh {
		if err := r.Refresh(ctx); err != nil {
			// Stale data beats no data during attribution.
			r.mu.RLock()
			defer r.mu.RUnlock()
			src, ok := r.byAddress[strings.ToLower(address)]
			return src, ok
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.byAddress[strings.ToLower(address)]
	return src, ok
}
