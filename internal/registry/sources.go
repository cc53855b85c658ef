// Package registry provides the dependency-injected Sources and Routers
// registries used during attribution. Both keep an in-memory cache with an
// explicit TTL over the persisted tables and are passed into decoders rather
// than accessed as globals.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// aggregatorDomains is the small allow-list of well-known aggregator domains.
// A calldata marker resolving to one of these is tagged as the aggregator
// source rather than the fill source.
var aggregatorDomains = map[string]bool{
	"gem.xyz":        true,
	"genie.xyz":      true,
	"alphasharks.io": true,
	"magiceden.io":   true,
}

// ViaReservoirDomain is the canonical passthrough aggregator domain matched
// by the secondary calldata marker.
const ViaReservoirDomain = "reservoir.tools"

// DomainHash returns the 4-byte attribution tag for a source domain: the
// first four bytes of keccak256 of the domain string, lowercase hex without
// the 0x prefix.
func DomainHash(sourceDomain string) string {
	sum := ethcrypto.Keccak256([]byte(sourceDomain))
	return hex.EncodeToString(sum[:4])
}

// Sources resolves marketplace source identities by id, domain, or calldata
// domain hash, inserting new entries on first sight.
type Sources struct {
	store    domain.SourceStore
	ttl      time.Duration
	defaults map[domain.OrderKind]string // order kind -> default source domain
	logger   *slog.Logger

	mu       sync.RWMutex
	byID     map[int64]domain.Source
	byDomain map[string]domain.Source
	byHash   map[string]domain.Source
	loadedAt time.Time
}

// NewSources creates a Sources registry. defaults maps each order kind to the
// domain credited when no stronger attribution exists.
func NewSources(store domain.SourceStore, ttl time.Duration, defaults map[domain.OrderKind]string, logger *slog.Logger) *Sources {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Sources{
		store:    store,
		ttl:      ttl,
		defaults: defaults,
		logger:   logger,
	}
}

// Refresh reloads the cache from the store unconditionally.
func (s *Sources) Refresh(ctx context.Context) error {
	sources, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: list sources: %w", err)
	}

	byID := make(map[int64]domain.Source, len(sources))
	byDomain := make(map[string]domain.Source, len(sources))
	byHash := make(map[string]domain.Source, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
		byDomain[src.Domain] = src
		byHash[DomainHash(src.Domain)] = src
	}

	s.mu.Lock()
	s.byID = byID
	s.byDomain = byDomain
	s.byHash = byHash
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Sources) ensureFresh(ctx context.Context) error {
	s.mu.RLock()
	fresh := time.Since(s.loadedAt) < s.ttl && s.byDomain != nil
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.Refresh(ctx)
}

// ByID returns the cached source with the given id.
func (s *Sources) ByID(ctx context.Context, id int64) (domain.Source, bool) {
	if err := s.ensureFresh(ctx); err != nil {
		s.logger.Warn("sources refresh failed", slog.String("error", err.Error()))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.byID[id]
	return src, ok
}

// ByDomainHash resolves a 4-byte calldata marker to a source.
func (s *Sources) ByDomainHash(ctx context.Context, hash string) (domain.Source, bool) {
	if err := s.ensureFresh(ctx); err != nil {
		s.logger.Warn("sources refresh failed", slog.String("error", err.Error()))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.byHash[strings.ToLower(hash)]
	return src, ok
}

// GetOrInsert returns the source for a domain, inserting a new entry the
// first time the domain is seen.
func (s *Sources) GetOrInsert(ctx context.Context, sourceDomain string) (domain.Source, error) {
	sourceDomain = strings.ToLower(strings.TrimSpace(sourceDomain))
	if sourceDomain == "" {
		return domain.Source{}, fmt.Errorf("registry: empty source domain")
	}

	if err := s.ensureFresh(ctx); err != nil {
		return domain.Source{}, err
	}

	s.mu.RLock()
	src, ok := s.byDomain[sourceDomain]
	s.mu.RUnlock()
	if ok {
		return src, nil
	}

	inserted, err := s.store.Insert(ctx, domain.Source{Domain: sourceDomain, Name: sourceDomain})
	if err != nil {
		// Another writer may have inserted the same domain concurrently.
		if errors.Is(err, domain.ErrAlreadyExists) {
			if existing, gErr := s.store.GetByDomain(ctx, sourceDomain); gErr == nil {
				inserted = existing
			} else {
				return domain.Source{}, fmt.Errorf("registry: get source %s: %w", sourceDomain, gErr)
			}
		} else {
			return domain.Source{}, fmt.Errorf("registry: insert source %s: %w", sourceDomain, err)
		}
	}

	s.mu.Lock()
	if s.byDomain != nil {
		s.byID[inserted.ID] = inserted
		s.byDomain[inserted.Domain] = inserted
		s.byHash[DomainHash(inserted.Domain)] = inserted
	}
	s.mu.Unlock()

	return inserted, nil
}

// DefaultForKind returns the default source for an order kind, if one is
// configured.
func (s *Sources) DefaultForKind(ctx context.Context, kind domain.OrderKind) (domain.Source, bool) {
	d, ok := s.defaults[kind]
	if !ok {
		return domain.Source{}, false
	}
	src, err := s.GetOrInsert(ctx, d)
	if err != nil {
		s.logger.Warn("default source lookup failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return domain.Source{}, false
	}
	return src, true
}

// IsAggregatorDomain reports whether a domain belongs to the aggregator
// allow-list.
func IsAggregatorDomain(sourceDomain string) bool {
	return aggregatorDomains[strings.ToLower(sourceDomain)]
}
