// Package eodhd wraps the EODHD market-data API for fundamentals retrieval.
// It exposes exactly two calls: single-ticker fundamentals and bulk
// fundamentals for an exchange. Retry policy lives with the caller, not here.
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://eodhistoricaldata.com/api"

	// BulkLimit is the provider's hard per-call maximum for bulk symbols.
	BulkLimit = 500

	// bulkAPIVersion is the API version marker the bulk endpoint expects.
	bulkAPIVersion = "1.1"
)

// ErrNotFound indicates the provider has no fundamentals for the symbol.
var ErrNotFound = errors.New("eodhd: symbol not found")

// ProviderError is a transport or HTTP-level failure from the provider.
type ProviderError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("eodhd: provider returned status %d for %s", e.StatusCode, e.URL)
}

// Payload is the provider's raw nested fundamentals response. It is treated
// as an opaque structure; only the normalizer knows which keys to read.
type Payload map[string]any

// Client is a thin HTTP client over the EODHD fundamentals endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	exchange   string // e.g. "US"
	suffix     string // symbol suffix, e.g. "US" for AAPL.US
}

// NewClient creates a fundamentals client for one exchange.
func NewClient(token, exchange, suffix string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    defaultBaseURL,
		token:      token,
		exchange:   exchange,
		suffix:     suffix,
	}
}

// SetBaseURL overrides the API base URL (used by tests).
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// FetchFundamentals retrieves the raw fundamentals payload for one ticker.
// A 404 maps to ErrNotFound; any other non-200 maps to *ProviderError.
// There are no retries here: single-ticker failures propagate immediately.
func (c *Client) FetchFundamentals(ctx context.Context, ticker string) (Payload, error) {
	endpoint := fmt.Sprintf("%s/fundamentals/%s.%s", c.baseURL, strings.ToUpper(ticker), c.suffix)

	reqURL := endpoint + "?" + url.Values{"api_token": {c.token}}.Encode()
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("eodhd: decode fundamentals for %s: %w", ticker, err)
	}
	return payload, nil
}

// FetchBulkFundamentals retrieves fundamentals for up to BulkLimit symbols in
// one call. Symbols are suffixed with the client's exchange suffix and
// comma-joined. The response order is the provider's, not the caller's.
func (c *Client) FetchBulkFundamentals(ctx context.Context, symbols []string, offset, limit int) ([]Payload, error) {
	if limit <= 0 || limit > BulkLimit {
		limit = BulkLimit
	}
	if len(symbols) > BulkLimit {
		return nil, fmt.Errorf("eodhd: %d symbols exceeds bulk limit of %d", len(symbols), BulkLimit)
	}

	suffixed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		suffixed = append(suffixed, strings.ToUpper(s)+"."+c.suffix)
	}

	params := url.Values{
		"api_token": {c.token},
		"symbols":   {strings.Join(suffixed, ",")},
		"offset":    {strconv.Itoa(offset)},
		"limit":     {strconv.Itoa(limit)},
		"version":   {bulkAPIVersion},
	}
	reqURL := fmt.Sprintf("%s/bulk-fundamentals/%s?%s", c.baseURL, c.exchange, params.Encode())

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	// The bulk endpoint returns either a JSON array or an object keyed by
	// position; decode the array form first and fall back to the keyed form.
	var payloads []Payload
	if err := json.Unmarshal(body, &payloads); err == nil {
		return payloads, nil
	}

	var keyed map[string]Payload
	if err := json.Unmarshal(body, &keyed); err != nil {
		return nil, fmt.Errorf("eodhd: decode bulk fundamentals: %w", err)
	}
	payloads = make([]Payload, 0, len(keyed))
	for _, p := range keyed {
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("eodhd: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eodhd: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("eodhd: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{StatusCode: resp.StatusCode, URL: redactToken(reqURL), Body: string(body)}
	}
	return body, nil
}

// redactToken strips the api_token query value before it can leak into logs.
func redactToken(reqURL string) string {
	u, err := url.Parse(reqURL)
	if err != nil {
		return reqURL
	}
	q := u.Query()
	if q.Has("api_token") {
		q.Set("api_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
