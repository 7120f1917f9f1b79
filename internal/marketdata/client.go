// Package marketdata is the client for the external market-data API. The API
// is rate limited and occasionally inconsistent: it returns 429 under load
// and omits fields, so callers validate every response and treat both as
// retryable conditions.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/timigod/midas/internal/domain"
)

// Config holds client configuration.
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	RetryMax          int // transport-level retries before surfacing an error
}

// DefaultConfig returns a client configuration with conservative limits.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		RequestTimeout:    10 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
		RetryMax:          2,
	}
}

// Client talks to the market-data API. One rate limiter is shared by all
// outbound calls, so discovery and reconciliation cannot starve each other
// past the provider's quota.
type Client struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewClient creates a market-data client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.HTTPClient.Timeout = cfg.RequestTimeout
	rc.Logger = nil
	// 429 goes straight to the queue-level retry policy; transport retries
	// would only hammer a provider that just asked us to back off.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http:    rc.StandardClient(),
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.With().Str("component", "marketdata").Logger(),
	}
}

// Stats fetches current metrics for one token.
func (c *Client) Stats(ctx context.Context, address string) (*Stats, error) {
	body, err := c.get(ctx, "/stats/"+url.PathEscape(address))
	if err != nil {
		return nil, err
	}

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("%w: decode stats: %v", ErrMalformed, err)
	}
	if stats.Address == "" {
		stats.Address = address
	}
	return &stats, nil
}

// Search fetches the current discovery candidates, resolving each entry's
// window buckets into flat volume figures via the preference order.
func (c *Client) Search(ctx context.Context) ([]domain.Candidate, error) {
	body, err := c.get(ctx, "/search")
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode search: %v", ErrMalformed, err)
	}

	candidates := make([]domain.Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		cand := domain.Candidate{
			Address:   r.Address,
			MarketCap: r.MarketCap,
			Liquidity: r.Liquidity,
		}
		if buy, sell, _, ok := WindowVolumes(r.Windows, nil); ok {
			cand.BuyVolume = &buy
			cand.SellVolume = &sell
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn().Str("path", path).Msg("rate limited by market data API")
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}
