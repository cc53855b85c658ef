package decoder

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/attribution"
	"github.com/alanyoungcy/nftindexer/internal/domain"
	"github.com/alanyoungcy/nftindexer/internal/registry"
)

// passPrices echoes the raw amount as the native price, so assertions can
// compare against the input directly.
type passPrices struct{}

func (passPrices) USDAndNativePrices(_ context.Context, _ string, amount *big.Int, _ int64) (domain.PriceQuote, error) {
	return domain.PriceQuote{NativePrice: new(big.Int).Set(amount)}, nil
}

// stubTxReader serves one canned transaction for every hash.
type stubTxReader struct {
	tx domain.Transaction
}

func (s *stubTxReader) FetchTransaction(context.Context, string) (domain.Transaction, error) {
	return s.tx, nil
}

func (s *stubTxReader) FetchTransactionTrace(context.Context, string) (domain.CallTrace, error) {
	return domain.CallTrace{}, errors.New("trace unavailable")
}

type emptySourceStore struct{}

func (emptySourceStore) List(context.Context) ([]domain.Source, error) { return nil, nil }
func (emptySourceStore) GetByDomain(context.Context, string) (domain.Source, error) {
	return domain.Source{}, domain.ErrNotFound
}
func (emptySourceStore) Insert(_ context.Context, s domain.Source) (domain.Source, error) {
	s.ID = 1
	return s, nil
}
func (emptySourceStore) ListRouters(context.Context) ([]domain.Source, error) { return nil, nil }

type noOrders struct{}

func (noOrders) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (noOrders) Upsert(context.Context, domain.Order) error { return nil }
func (noOrders) CancelByNonceBelow(context.Context, domain.OrderKind, string, *big.Int, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (noOrders) CancelByNonces(context.Context, domain.OrderKind, string, []*big.Int, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (noOrders) UpdateApproval(context.Context, string, string, domain.ApprovalStatus, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (noOrders) UpdateFillabilityByMakerToken(context.Context, string, string, string, domain.FillabilityStatus, domain.FillabilityStatus, domain.EventOrdinal) ([]domain.Order, error) {
	return nil, nil
}
func (noOrders) ExpireDue(context.Context, int64) ([]domain.Order, error) { return nil, nil }
func (noOrders) BestAsk(context.Context, string, bool, []domain.OrderKind, int64) (domain.OrderPick, error) {
	return domain.OrderPick{}, domain.ErrNotFound
}
func (noOrders) TopBid(context.Context, string, int64) (domain.OrderPick, error) {
	return domain.OrderPick{}, domain.ErrNotFound
}

type stubMintOracle struct {
	ok    bool
	err   error
	calls int
}

func (o *stubMintOracle) SimulateCollectionMint(context.Context, domain.CollectionMint) (bool, error) {
	o.calls++
	return o.ok, o.err
}

func testDeps(txs domain.TxReader, oracle domain.MintOracle) Deps {
	store := emptySourceStore{}
	sources := registry.NewSources(store, time.Hour, nil, testLogger)
	routers := registry.NewRouters(store, time.Hour)
	return Deps{
		Prices:      passPrices{},
		Attribution: attribution.NewResolver(sources, routers, noOrders{}, txs, testLogger),
		Txs:         txs,
		MintOracle:  oracle,
		Logger:      testLogger,
	}
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func TestTransferBatchSubEventIndices(t *testing.T) {
	data, err := erc1155ABI.Events["TransferBatch"].Inputs.NonIndexed().Pack(
		[]*big.Int{big.NewInt(10), big.NewInt(11), big.NewInt(12)},
		[]*big.Int{big.NewInt(4), big.NewInt(5), big.NewInt(6)},
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	from := common.HexToAddress("0xaa")
	to := common.HexToAddress("0xbb")
	log := domain.Log{
		Address: common.HexToAddress("0xc0"),
		Topics: []common.Hash{
			topicERC1155TransferBatch,
			addrTopic(common.HexToAddress("0x01")), // operator
			addrTopic(from),
			addrTopic(to),
		},
		Data:        data,
		TxHash:      common.HexToHash("0x99"),
		BlockNumber: 12,
		LogIndex:    7,
		Timestamp:   1000,
	}

	tt := NewTokenTransfers(testDeps(&stubTxReader{}, nil))
	out := domain.NewOnChainData()
	if err := tt.DecodeLogs(context.Background(), []domain.Log{log}, out); err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}

	if len(out.Transfers) != 3 {
		t.Fatalf("transfers = %d, want 3", len(out.Transfers))
	}
	for i, tr := range out.Transfers {
		// Each array slot is its own sub-event; the 1-based batch index keeps
		// replays mapping to the same identity.
		if tr.Base.BatchIndex != i+1 {
			t.Fatalf("transfer %d batch index = %d", i, tr.Base.BatchIndex)
		}
		if tr.Base.LogIndex != 7 {
			t.Fatalf("transfer %d log index = %d", i, tr.Base.LogIndex)
		}
	}
	if out.Transfers[1].TokenID != "11" || out.Transfers[1].Amount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("transfer 1 = %+v", out.Transfers[1])
	}
}

func mintLog(txHash common.Hash, logIndex uint, to common.Address, id, amount *big.Int, t *testing.T) domain.Log {
	t.Helper()
	data, err := erc1155ABI.Events["TransferSingle"].Inputs.NonIndexed().Pack(id, amount)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return domain.Log{
		Address: common.HexToAddress("0xc0"),
		Topics: []common.Hash{
			topicERC1155TransferSingle,
			addrTopic(common.HexToAddress("0x01")),
			{}, // from = zero address: a mint
			addrTopic(to),
		},
		Data:      data,
		TxHash:    txHash,
		LogIndex:  logIndex,
		Timestamp: 1000,
	}
}

func TestMintFillsApportionTransactionValue(t *testing.T) {
	txHash := common.HexToHash("0x77")
	minter := common.HexToAddress("0xdd")
	txs := &stubTxReader{tx: domain.Transaction{
		Hash:  txHash.Hex(),
		From:  "0xdd",
		Value: big.NewInt(300),
	}}

	tt := NewTokenTransfers(testDeps(txs, nil))
	out := domain.NewOnChainData()
	logs := []domain.Log{
		mintLog(txHash, 1, minter, big.NewInt(10), big.NewInt(1), t),
		mintLog(txHash, 2, minter, big.NewInt(11), big.NewInt(2), t),
	}
	if err := tt.DecodeLogs(context.Background(), logs, out); err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}

	if len(out.Mints) != 2 {
		t.Fatalf("mints = %d, want 2", len(out.Mints))
	}
	if len(out.Fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(out.Fills))
	}
	// 300 wei split across 3 units, weighted by quantity.
	if out.Fills[0].CurrencyPrice.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("fill 0 price = %s, want 100", out.Fills[0].CurrencyPrice)
	}
	if out.Fills[1].CurrencyPrice.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("fill 1 price = %s, want 200", out.Fills[1].CurrencyPrice)
	}
	for _, f := range out.Fills {
		if !f.IsPrimary || f.OrderKind != domain.OrderKindMint {
			t.Fatalf("fill = %+v, want a primary mint sale", f)
		}
	}
}

func TestMintFillsSkipFreeMints(t *testing.T) {
	txHash := common.HexToHash("0x77")
	txs := &stubTxReader{tx: domain.Transaction{Hash: txHash.Hex(), Value: big.NewInt(0)}}

	tt := NewTokenTransfers(testDeps(txs, nil))
	out := domain.NewOnChainData()
	logs := []domain.Log{mintLog(txHash, 1, common.HexToAddress("0xdd"), big.NewInt(10), big.NewInt(1), t)}
	if err := tt.DecodeLogs(context.Background(), logs, out); err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}

	if len(out.Mints) != 1 {
		t.Fatalf("free mint must still be recorded as a mint, got %d", len(out.Mints))
	}
	if len(out.Fills) != 0 {
		t.Fatalf("free mint must not produce fills, got %d", len(out.Fills))
	}
}

func TestMintOracleGatesFills(t *testing.T) {
	txHash := common.HexToHash("0x77")
	txs := &stubTxReader{tx: domain.Transaction{Hash: txHash.Hex(), Value: big.NewInt(100)}}
	logs := []domain.Log{mintLog(txHash, 1, common.HexToAddress("0xdd"), big.NewInt(10), big.NewInt(1), t)}

	// The oracle rejects the mint: no fill is recorded.
	oracle := &stubMintOracle{ok: false}
	tt := NewTokenTransfers(testDeps(txs, oracle))
	out := domain.NewOnChainData()
	if err := tt.DecodeLogs(context.Background(), logs, out); err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}
	if oracle.calls != 1 {
		t.Fatalf("oracle consulted %d times, want 1", oracle.calls)
	}
	if len(out.Fills) != 0 {
		t.Fatalf("rejected mint produced %d fills", len(out.Fills))
	}

	// Oracle failure degrades to skipping the fill, never to recording it.
	oracle = &stubMintOracle{err: errors.New("simulation down")}
	tt = NewTokenTransfers(testDeps(txs, oracle))
	out = domain.NewOnChainData()
	if err := tt.DecodeLogs(context.Background(), logs, out); err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}
	if len(out.Fills) != 0 {
		t.Fatalf("oracle failure produced %d fills", len(out.Fills))
	}
}

func TestMintBlacklistSuppressesFills(t *testing.T) {
	txHash := common.HexToHash("0x77")
	txs := &stubTxReader{tx: domain.Transaction{Hash: txHash.Hex(), Value: big.NewInt(100)}}

	deps := testDeps(txs, nil)
	deps.MintBlacklist = map[string]bool{"0x00000000000000000000000000000000000000c0": true}
	tt := NewTokenTransfers(deps)

	out := domain.NewOnChainData()
	logs := []domain.Log{mintLog(txHash, 1, common.HexToAddress("0xdd"), big.NewInt(10), big.NewInt(1), t)}
	if err := tt.DecodeLogs(context.Background(), logs, out); err != nil {
		t.Fatalf("DecodeLogs: %v", err)
	}
	if len(out.Fills) != 0 {
		t.Fatalf("blacklisted contract produced %d fills", len(out.Fills))
	}
}
