// Package mintoracle is an HTTP client for the external EVM mint-simulation
// service. The indexer asks it whether an open collection mint would succeed
// for an arbitrary minter before the mint is recorded as open.
package mintoracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// Client implements domain.MintOracle against the simulation service's JSON
// API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new mint-oracle client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type simulateRequest struct {
	Contract string `json:"contract"`
	TokenID  string `json:"tokenId,omitempty"`
	Minter   string `json:"minter"`
	Price    string `json:"price"`
	Kind     string `json:"kind"`
}

type simulateResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// SimulateCollectionMint reports whether the described mint would succeed when
// simulated against the current chain state.
func (c *Client) SimulateCollectionMint(ctx context.Context, mint domain.CollectionMint) (bool, error) {
	reqBody := simulateRequest{
		Contract: mint.Contract,
		TokenID:  mint.TokenID,
		Minter:   mint.Minter,
		Price:    mint.Price,
		Kind:     mint.Kind,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("mintoracle: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/simulate-mint", bytes.NewReader(jsonBody))
	if err != nil {
		return false, fmt.Errorf("mintoracle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("mintoracle: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("mintoracle: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return false, &domain.ThrottledError{RetryAfter: 5 * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("mintoracle: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result simulateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, fmt.Errorf("mintoracle: decode response: %w", err)
	}
	return result.Success, nil
}

// Compile-time interface check.
var _ domain.MintOracle = (*Client)(nil)
