package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

type fakeSource struct {
	nativeRate decimal.Decimal
	usdRate    *decimal.Decimal
	err        error
	calls      int
}

func (f *fakeSource) Rates(_ context.Context, _ string, _ int64) (decimal.Decimal, *decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return decimal.Decimal{}, nil, f.err
	}
	return f.nativeRate, f.usdRate, nil
}

type fakeRateCache struct {
	entries map[string][2]string
}

func newFakeRateCache() *fakeRateCache {
	return &fakeRateCache{entries: make(map[string][2]string)}
}

func (c *fakeRateCache) key(currency string, bucket int64) string {
	return currency + "@" + decimal.NewFromInt(bucket).String()
}

func (c *fakeRateCache) SetRate(_ context.Context, currency string, bucket int64, nativeRate, usdRate string) error {
	c.entries[c.key(currency, bucket)] = [2]string{nativeRate, usdRate}
	return nil
}

func (c *fakeRateCache) GetRate(_ context.Context, currency string, bucket int64) (string, string, error) {
	e, ok := c.entries[c.key(currency, bucket)]
	if !ok {
		return "", "", domain.ErrNotFound
	}
	return e[0], e[1], nil
}

var discard = slog.New(slog.DiscardHandler)

func TestNativeCurrencyConvertsOneToOne(t *testing.T) {
	usd := decimal.RequireFromString("0.0000000000000025")
	src := &fakeSource{nativeRate: decimal.New(1, 0), usdRate: &usd}
	n := NewNormalizer(src, nil, discard)

	amount := big.NewInt(1_000_000_000_000_000_000) // 1 ETH in wei
	quote, err := n.USDAndNativePrices(context.Background(), domain.NativeCurrency, amount, 1700000000)
	if err != nil {
		t.Fatalf("USDAndNativePrices: %v", err)
	}
	if quote.NativePrice.Cmp(amount) != 0 {
		t.Fatalf("native price = %s, want %s", quote.NativePrice, amount)
	}
	if quote.USDPrice == nil || !quote.USDPrice.Equal(decimal.RequireFromString("2500")) {
		t.Fatalf("usd price = %v, want 2500", quote.USDPrice)
	}
}

func TestNativeCurrencyDegradesWithoutUSD(t *testing.T) {
	src := &fakeSource{err: errors.New("oracle down")}
	n := NewNormalizer(src, nil, discard)

	amount := big.NewInt(100)
	quote, err := n.USDAndNativePrices(context.Background(), domain.NativeCurrency, amount, 1700000000)
	if err != nil {
		t.Fatalf("native conversion must not fail on USD lookup error: %v", err)
	}
	if quote.NativePrice.Cmp(amount) != 0 {
		t.Fatalf("native price = %s, want %s", quote.NativePrice, amount)
	}
	if quote.USDPrice != nil {
		t.Fatalf("usd price should be absent, got %v", quote.USDPrice)
	}
}

func TestMissingPricePropagates(t *testing.T) {
	src := &fakeSource{err: domain.ErrNoPriceData}
	n := NewNormalizer(src, nil, discard)

	_, err := n.USDAndNativePrices(context.Background(), "0xsometoken", big.NewInt(100), 1700000000)
	if !errors.Is(err, domain.ErrNoPriceData) {
		t.Fatalf("err = %v, want ErrNoPriceData", err)
	}
}

func TestNilAmountRejected(t *testing.T) {
	n := NewNormalizer(&fakeSource{nativeRate: decimal.New(1, 0)}, nil, discard)
	if _, err := n.USDAndNativePrices(context.Background(), "0xtoken", nil, 0); err == nil {
		t.Fatalf("nil amount must be rejected")
	}
}

func TestRateCacheAvoidsRefetch(t *testing.T) {
	src := &fakeSource{nativeRate: decimal.RequireFromString("0.5")}
	cache := newFakeRateCache()
	n := NewNormalizer(src, cache, discard)

	ctx := context.Background()
	amount := big.NewInt(10)

	// Two lookups within the same hour bucket hit the oracle once.
	if _, err := n.USDAndNativePrices(ctx, "0xtoken", amount, 1700000100); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if _, err := n.USDAndNativePrices(ctx, "0xtoken", amount, 1700000200); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", src.calls)
	}

	quote, err := n.USDAndNativePrices(ctx, "0xtoken", amount, 1700000300)
	if err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if quote.NativePrice.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("native price = %s, want 5", quote.NativePrice)
	}
}
