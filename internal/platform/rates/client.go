// Package rates is an HTTP client for the external currency price oracle
// that backs fill price normalization.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// Client implements pricing.RateSource against the oracle's JSON API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new rates client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type ratesResponse struct {
	NativeRate string `json:"nativeRate"`
	USDRate    string `json:"usdRate"`
}

// Rates returns the native and USD conversion rates for one raw unit of the
// currency at the given timestamp. It returns domain.ErrNoPriceData when the
// oracle has no quote for the currency at that time.
func (c *Client) Rates(ctx context.Context, currency string, timestamp int64) (decimal.Decimal, *decimal.Decimal, error) {
	q := url.Values{}
	q.Set("currency", strings.ToLower(currency))
	q.Set("timestamp", strconv.FormatInt(timestamp, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rates?"+q.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("rates: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("rates: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("rates: read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return decimal.Decimal{}, nil, domain.ErrNoPriceData
	case http.StatusTooManyRequests:
		return decimal.Decimal{}, nil, &domain.ThrottledError{RetryAfter: 5 * time.Second}
	default:
		return decimal.Decimal{}, nil, fmt.Errorf("rates: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result ratesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("rates: decode response: %w", err)
	}
	if result.NativeRate == "" {
		return decimal.Decimal{}, nil, domain.ErrNoPriceData
	}

	nativeRate, err := decimal.NewFromString(result.NativeRate)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("rates: parse native rate %q: %w", result.NativeRate, err)
	}

	var usdRate *decimal.Decimal
	if result.USDRate != "" {
		usd, err := decimal.NewFromString(result.USDRate)
		if err == nil {
			usdRate = &usd
		}
	}
	return nativeRate, usdRate, nil
}
