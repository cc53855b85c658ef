package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

type fakeSourceStore struct {
	sources   []domain.Source
	nextID    int64
	listCalls int
}

func (f *fakeSourceStore) List(context.Context) ([]domain.Source, error) {
	f.listCalls++
	out := make([]domain.Source, len(f.sources))
	copy(out, f.sources)
	return out, nil
}

func (f *fakeSourceStore) GetByDomain(_ context.Context, d string) (domain.Source, error) {
	for _, s := range f.sources {
		if s.Domain == d {
			return s, nil
		}
	}
	return domain.Source{}, domain.ErrNotFound
}

func (f *fakeSourceStore) Insert(_ context.Context, s domain.Source) (domain.Source, error) {
	for _, existing := range f.sources {
		if existing.Domain == s.Domain {
			return domain.Source{}, domain.ErrAlreadyExists
		}
	}
	f.nextID++
	s.ID = f.nextID
	f.sources = append(f.sources, s)
	return s, nil
}

func (f *fakeSourceStore) ListRouters(context.Context) ([]domain.Source, error) {
	return nil, nil
}

var testLogger = slog.New(slog.DiscardHandler)

func TestDomainHash(t *testing.T) {
	h := DomainHash("opensea.io")
	if len(h) != 8 {
		t.Fatalf("domain hash should be 4 bytes of lowercase hex, got %q", h)
	}
	if h != DomainHash("opensea.io") {
		t.Fatalf("domain hash must be deterministic")
	}
	if h == DomainHash("looksrare.org") {
		t.Fatalf("different domains must hash differently")
	}
}

func TestGetOrInsertCreatesOnFirstSight(t *testing.T) {
	store := &fakeSourceStore{}
	s := NewSources(store, time.Minute, nil, testLogger)

	ctx := context.Background()
	src, err := s.GetOrInsert(ctx, " OpenSea.io ")
	if err != nil {
		t.Fatalf("GetOrInsert: %v", err)
	}
	if src.Domain != "opensea.io" || src.ID == 0 {
		t.Fatalf("inserted source = %+v", src)
	}

	again, err := s.GetOrInsert(ctx, "opensea.io")
	if err != nil {
		t.Fatalf("GetOrInsert again: %v", err)
	}
	if again.ID != src.ID {
		t.Fatalf("second lookup created a new source: %d != %d", again.ID, src.ID)
	}
	if len(store.sources) != 1 {
		t.Fatalf("store has %d sources, want 1", len(store.sources))
	}
}

func TestByDomainHashResolvesCalldataMarker(t *testing.T) {
	store := &fakeSourceStore{}
	s := NewSources(store, time.Minute, nil, testLogger)

	ctx := context.Background()
	src, err := s.GetOrInsert(ctx, "gem.xyz")
	if err != nil {
		t.Fatalf("GetOrInsert: %v", err)
	}

	got, ok := s.ByDomainHash(ctx, DomainHash("gem.xyz"))
	if !ok || got.ID != src.ID {
		t.Fatalf("ByDomainHash = %+v, %v", got, ok)
	}

	if _, ok := s.ByDomainHash(ctx, "ffffffff"); ok {
		t.Fatalf("unknown marker must not resolve")
	}
}

func TestDefaultForKind(t *testing.T) {
	store := &fakeSourceStore{}
	defaults := map[domain.OrderKind]string{
		domain.OrderKindSeaport: "opensea.io",
	}
	s := NewSources(store, time.Minute, defaults, testLogger)

	ctx := context.Background()
	src, ok := s.DefaultForKind(ctx, domain.OrderKindSeaport)
	if !ok || src.Domain != "opensea.io" {
		t.Fatalf("DefaultForKind = %+v, %v", src, ok)
	}

	if _, ok := s.DefaultForKind(ctx, domain.OrderKindCryptopunks); ok {
		t.Fatalf("unconfigured kind must not resolve")
	}
}

func TestCacheRespectsTTL(t *testing.T) {
	store := &fakeSourceStore{sources: []domain.Source{{ID: 1, Domain: "opensea.io"}}}
	s := NewSources(store, time.Hour, nil, testLogger)

	ctx := context.Background()
	if _, ok := s.ByID(ctx, 1); !ok {
		t.Fatalf("seeded source not found")
	}
	if _, ok := s.ByID(ctx, 1); !ok {
		t.Fatalf("seeded source not found on second read")
	}
	if store.listCalls != 1 {
		t.Fatalf("list calls = %d, want 1 (cache within TTL)", store.listCalls)
	}
}

func TestIsAggregatorDomain(t *testing.T) {
	if !IsAggregatorDomain("Gem.xyz") {
		t.Fatalf("gem.xyz is an aggregator")
	}
	if IsAggregatorDomain("opensea.io") {
		t.Fatalf("opensea.io is not an aggregator")
	}
}
