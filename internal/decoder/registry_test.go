package decoder

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// stubDecoder claims one topic (optionally one address) and records every log
// it receives as a fill tagged with its kind.
type stubDecoder struct {
	kind  domain.OrderKind
	topic common.Hash
	addrs []common.Address
	fail  error
	seen  int
}

func (d *stubDecoder) Kind() domain.OrderKind      { return d.kind }
func (d *stubDecoder) Topics() []common.Hash       { return []common.Hash{d.topic} }
func (d *stubDecoder) Addresses() []common.Address { return d.addrs }

func (d *stubDecoder) DecodeLogs(_ context.Context, logs []domain.Log, out *domain.OnChainData) error {
	if d.fail != nil {
		return d.fail
	}
	d.seen += len(logs)
	for range logs {
		out.Fills = append(out.Fills, domain.FillEvent{OrderKind: d.kind})
	}
	return nil
}

var testLogger = slog.New(slog.DiscardHandler)

func TestNewRegistryRejectsDuplicateKind(t *testing.T) {
	topic := common.HexToHash("0x01")
	_, err := NewRegistry(testLogger,
		&stubDecoder{kind: "a", topic: topic},
		&stubDecoder{kind: "a", topic: topic},
	)
	if err == nil {
		t.Fatalf("duplicate kind must be rejected")
	}
}

func TestDecodeBatchPartitionsByTopic(t *testing.T) {
	topicA := common.HexToHash("0x0a")
	topicB := common.HexToHash("0x0b")
	da := &stubDecoder{kind: "a", topic: topicA}
	db := &stubDecoder{kind: "b", topic: topicB}

	reg, err := NewRegistry(testLogger, da, db)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	logs := []domain.Log{
		{Topics: []common.Hash{topicA}},
		{Topics: []common.Hash{topicB}},
		{Topics: []common.Hash{topicA}},
		{Topics: nil}, // anonymous logs are skipped
	}

	out, err := reg.DecodeBatch(context.Background(), logs)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}

	if da.seen != 2 || db.seen != 1 {
		t.Fatalf("partition sizes = %d/%d, want 2/1", da.seen, db.seen)
	}
	if len(out.Fills) != 3 {
		t.Fatalf("merged fills = %d, want 3", len(out.Fills))
	}
}

func TestDecodeBatchMergesInRegistrationOrder(t *testing.T) {
	topic := common.HexToHash("0x0c")
	first := &stubDecoder{kind: "first", topic: topic}
	second := &stubDecoder{kind: "second", topic: topic}

	reg, err := NewRegistry(testLogger, first, second)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	out, err := reg.DecodeBatch(context.Background(), []domain.Log{{Topics: []common.Hash{topic}}})
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}

	// Both decoders claim the shared topic; priority decides merge order.
	if len(out.Fills) != 2 {
		t.Fatalf("merged fills = %d, want 2", len(out.Fills))
	}
	if out.Fills[0].OrderKind != "first" || out.Fills[1].OrderKind != "second" {
		t.Fatalf("merge order = %s,%s", out.Fills[0].OrderKind, out.Fills[1].OrderKind)
	}
}

func TestDecodeBatchAddressFilter(t *testing.T) {
	topic := common.HexToHash("0x0d")
	singleton := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	d := &stubDecoder{kind: "pinned", topic: topic, addrs: []common.Address{singleton}}

	reg, err := NewRegistry(testLogger, d)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	logs := []domain.Log{
		{Address: singleton, Topics: []common.Hash{topic}},
		{Address: common.HexToAddress("0xbb"), Topics: []common.Hash{topic}},
	}
	if _, err := reg.DecodeBatch(context.Background(), logs); err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if d.seen != 1 {
		t.Fatalf("address-pinned decoder saw %d logs, want 1", d.seen)
	}
}

func TestDecodeBatchIsolatesDecoderFailure(t *testing.T) {
	topicA := common.HexToHash("0x0e")
	topicB := common.HexToHash("0x0f")
	broken := &stubDecoder{kind: "broken", topic: topicA, fail: errors.New("boom")}
	healthy := &stubDecoder{kind: "healthy", topic: topicB}

	reg, err := NewRegistry(testLogger, broken, healthy)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	out, err := reg.DecodeBatch(context.Background(), []domain.Log{
		{Topics: []common.Hash{topicA}},
		{Topics: []common.Hash{topicB}},
	})
	if err != nil {
		t.Fatalf("one decoder's failure must not fail the batch: %v", err)
	}
	if len(out.Fills) != 1 || out.Fills[0].OrderKind != "healthy" {
		t.Fatalf("healthy partition lost: %+v", out.Fills)
	}
}

func TestLookupUnknownKind(t *testing.T) {
	reg, err := NewRegistry(testLogger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := reg.Lookup("nope"); !errors.Is(err, domain.ErrUnknownDecoder) {
		t.Fatalf("Lookup error = %v, want ErrUnknownDecoder", err)
	}
}
