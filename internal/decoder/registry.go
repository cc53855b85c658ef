package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// decodeParallelism bounds how many protocol decoders run concurrently over
// one batch.
const decodeParallelism = 4

// Registry owns the set of registered protocol decoders and dispatches raw
// logs to them. Decoders for different kinds run concurrently, each filling
// its own OnChainData; the results are merged in registration order so the
// reconciler always sees a deterministic sequence.
type Registry struct {
	decoders []ProtocolDecoder
	byKind   map[domain.OrderKind]ProtocolDecoder
	byTopic  map[common.Hash][]ProtocolDecoder
	logger   *slog.Logger
}

// NewRegistry builds a Registry from the given decoders. Registration order
// defines merge priority.
func NewRegistry(logger *slog.Logger, decoders ...ProtocolDecoder) (*Registry, error) {
	r := &Registry{
		byKind:  make(map[domain.OrderKind]ProtocolDecoder, len(decoders)),
		byTopic: make(map[common.Hash][]ProtocolDecoder),
		logger:  logger,
	}
	for _, d := range decoders {
		if _, dup := r.byKind[d.Kind()]; dup {
			return nil, fmt.Errorf("decoder: duplicate registration for kind %q", d.Kind())
		}
		r.byKind[d.Kind()] = d
		r.decoders = append(r.decoders, d)
		for _, topic := range d.Topics() {
			r.byTopic[topic] = append(r.byTopic[topic], d)
		}
	}
	return r, nil
}

// Lookup returns the decoder for a kind. A missing decoder is a checked
// condition, not a runtime surprise.
func (r *Registry) Lookup(kind domain.OrderKind) (ProtocolDecoder, error) {
	d, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("decoder: kind %q: %w", kind, domain.ErrUnknownDecoder)
	}
	return d, nil
}

// Kinds lists the registered protocol kinds in priority order.
func (r *Registry) Kinds() []domain.OrderKind {
	kinds := make([]domain.OrderKind, 0, len(r.decoders))
	for _, d := range r.decoders {
		kinds = append(kinds, d.Kind())
	}
	return kinds
}

// DecodeBatch partitions logs across the registered decoders (preserving log
// order within each partition), runs the decoders with bounded parallelism,
// and merges their outputs in priority order.
func (r *Registry) DecodeBatch(ctx context.Context, logs []domain.Log) (*domain.OnChainData, error) {
	partitions := make(map[domain.OrderKind][]domain.Log)
	for _, log := range logs {
		if len(log.Topics) == 0 {
			continue
		}
		for _, d := range r.byTopic[log.Topics[0]] {
			if !addressAllowed(d, log.Address) {
				continue
			}
			partitions[d.Kind()] = append(partitions[d.Kind()], log)
		}
	}

	results := make(map[domain.OrderKind]*domain.OnChainData, len(partitions))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(decodeParallelism)

	for _, d := range r.decoders {
		matched := partitions[d.Kind()]
		if len(matched) == 0 {
			continue
		}
		d := d
		g.Go(func() error {
			out := domain.NewOnChainData()
			if err := d.DecodeLogs(gctx, matched, out); err != nil {
				// One protocol's failure must not corrupt the other
				// partitions' already-decoded events.
				r.logger.Error("protocol decoder failed",
					slog.String("kind", string(d.Kind())),
					slog.Int("logs", len(matched)),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			results[d.Kind()] = out
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("decoder: batch: %w", err)
	}

	merged := domain.NewOnChainData()
	for _, d := range r.decoders {
		merged.Merge(results[d.Kind()])
	}
	return merged, nil
}

func addressAllowed(d ProtocolDecoder, addr common.Address) bool {
	allowed := d.Addresses()
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == addr {
			return true
		}
	}
	return false
}
