// Package pricing converts raw currency amounts into native-chain and USD
// amounts at a block timestamp. A fill with no resolvable native price must
// be dropped by the caller; USD is best-effort.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// rateBucket quantizes timestamps so repeated lookups within one hour share a
// cache entry.
const rateBucket = 3600

// RateSource is the external price oracle. NativeRate is the amount of
// native currency one raw unit of the currency was worth at the timestamp;
// usdRate may be nil when unknown.
type RateSource interface {
	Rates(ctx context.Context, currency string, timestamp int64) (nativeRate decimal.Decimal, usdRate *decimal.Decimal, err error)
}

// Normalizer implements domain.PriceOracle over a RateSource with a shared
// cache of resolved rates.
type Normalizer struct {
	source RateSource
	cache  domain.CurrencyPriceCache
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer. cache may be nil, in which case every
// lookup goes to the source.
func NewNormalizer(source RateSource, cache domain.CurrencyPriceCache, logger *slog.Logger) *Normalizer {
	return &Normalizer{source: source, cache: cache, logger: logger}
}

// USDAndNativePrices converts amount of currency at timestamp. It returns
// domain.ErrNoPriceData when the oracle has no native quote; callers must
// skip the fill rather than record a zero price.
func (n *Normalizer) USDAndNativePrices(ctx context.Context, currency string, amount *big.Int, timestamp int64) (domain.PriceQuote, error) {
	if amount == nil {
		return domain.PriceQuote{}, fmt.Errorf("pricing: nil amount")
	}
	currency = strings.ToLower(currency)

	nativeRate, usdRate, err := n.rates(ctx, currency, timestamp)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	amt := decimal.NewFromBigInt(amount, 0)
	quote := domain.PriceQuote{
		NativePrice: amt.Mul(nativeRate).Round(0).BigInt(),
	}
	if usdRate != nil {
		usd := amt.Mul(*usdRate)
		quote.USDPrice = &usd
	}
	return quote, nil
}

func (n *Normalizer) rates(ctx context.Context, currency string, timestamp int64) (decimal.Decimal, *decimal.Decimal, error) {
	// The native sentinel converts 1:1; only the USD leg needs the oracle.
	if currency == domain.NativeCurrency {
		_, usdRate, err := n.lookup(ctx, currency, timestamp)
		if err != nil && !errors.Is(err, domain.ErrNoPriceData) {
			// USD is best-effort: degrade to native-only.
			n.logger.Warn("usd rate lookup failed for native currency",
				slog.String("error", err.Error()),
			)
		}
		return decimal.New(1, 0), usdRate, nil
	}

	nativeRate, usdRate, err := n.lookup(ctx, currency, timestamp)
	if err != nil {
		return decimal.Decimal{}, nil, err
	}
	return nativeRate, usdRate, nil
}

func (n *Normalizer) lookup(ctx context.Context, currency string, timestamp int64) (decimal.Decimal, *decimal.Decimal, error) {
	bucket := timestamp - timestamp%rateBucket

	if n.cache != nil {
		nativeStr, usdStr, err := n.cache.GetRate(ctx, currency, bucket)
		if err == nil {
			return parseRates(nativeStr, usdStr)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			n.logger.Warn("rate cache read failed",
				slog.String("currency", currency),
				slog.String("error", err.Error()),
			)
		}
	}

	nativeRate, usdRate, err := n.source.Rates(ctx, currency, timestamp)
	if err != nil {
		if errors.Is(err, domain.ErrNoPriceData) {
			return decimal.Decimal{}, nil, domain.ErrNoPriceData
		}
		return decimal.Decimal{}, nil, fmt.Errorf("pricing: oracle %s: %w", currency, err)
	}

	if n.cache != nil {
		usdStr := ""
		if usdRate != nil {
			usdStr = usdRate.String()
		}
		if cErr := n.cache.SetRate(ctx, currency, bucket, nativeRate.String(), usdStr); cErr != nil {
			n.logger.Warn("rate cache write failed",
				slog.String("currency", currency),
				slog.String("error", cErr.Error()),
			)
		}
	}
	return nativeRate, usdRate, nil
}

func parseRates(nativeStr, usdStr string) (decimal.Decimal, *decimal.Decimal, error) {
	nativeRate, err := decimal.NewFromString(nativeStr)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("pricing: parse cached native rate: %w", err)
	}
	if usdStr == "" {
		return nativeRate, nil, nil
	}
	usdRate, err := decimal.NewFromString(usdStr)
	if err != nil {
		return nativeRate, nil, nil
	}
	return nativeRate, &usdRate, nil
}

var _ domain.PriceOracle = (*Normalizer)(nil)
