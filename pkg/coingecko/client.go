// Package coingecko is the rate-limited client for the upstream market data
// provider. Every request waits on a shared pacing clock, so concurrent
// callers cannot aggregate past the provider's request budget. Retries are
// bounded: 429 responses back off linearly in the attempt count, transport
// failures retry at the fixed pacing delay, and any other error status fails
// immediately without consuming retry budget.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coinflow-io/coinflow/pkg/utils"
)

const (
	DefaultBaseURL        = "https://api.coingecko.com/api/v3"
	DefaultRateLimitDelay = 2 * time.Second
	DefaultMaxRetries     = 3
)

// Client issues paced, retried requests against the provider API.
type Client struct {
	baseURL    string
	delay      time.Duration
	maxRetries int

	httpClient *http.Client
	pacer      *rate.Limiter
	logger     *zap.Logger
}

// Opts configures a new Client. Zero values fall back to defaults.
type Opts struct {
	BaseURL        string
	RateLimitDelay time.Duration
	MaxRetries     int
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// New builds a Client. The pacing clock is shared by every method of the
// returned client, including across goroutines.
func New(o Opts) *Client {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = DefaultRateLimitDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	pacer := rate.NewLimiter(rate.Every(o.RateLimitDelay), 1)
	// Consume the initial token so the very first request also pays the
	// pacing delay, matching the unconditional sleep-before-request contract.
	pacer.Allow()

	return &Client{
		baseURL:    strings.TrimRight(o.BaseURL, "/"),
		delay:      o.RateLimitDelay,
		maxRetries: o.MaxRetries,
		httpClient: o.HTTPClient,
		pacer:      pacer,
		logger:     o.Logger,
	}
}

// ListCoins enumerates every coin the provider knows about.
func (c *Client) ListCoins(ctx context.Context) ([]Coin, error) {
	var coins []Coin
	if err := c.get(ctx, "/coins/list", nil, &coins); err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	return coins, nil
}

// MarketSnapshots fetches the current market state for a set of coins in one
// batch call.
func (c *Client) MarketSnapshots(ctx context.Context, ids []string, vsCurrency string) ([]MarketSnapshot, error) {
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currency", vsCurrency)
	params.Set("per_page", "250")
	params.Set("page", "1")

	var snapshots []MarketSnapshot
	if err := c.get(ctx, "/coins/markets", params, &snapshots); err != nil {
		return nil, fmt.Errorf("market snapshots: %w", err)
	}
	return snapshots, nil
}

// MarketChart fetches the historical daily series for one coin over the last
// `days` days.
func (c *Client) MarketChart(ctx context.Context, id, vsCurrency string, days int) (*Chart, error) {
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	if days <= 0 {
		days = 30
	}
	params := url.Values{}
	params.Set("vs_currency", vsCurrency)
	params.Set("days", strconv.Itoa(days))
	params.Set("interval", "daily")

	var chart Chart
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", params, &chart); err != nil {
		return nil, fmt.Errorf("market chart for %s: %w", id, err)
	}
	return &chart, nil
}

// get runs one logical request through the pacing and retry policy and
// decodes the JSON response body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// Pacing, not backoff: paid before every attempt regardless of
		// outcome, serialized across goroutines by the shared limiter.
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if attempt < c.maxRetries-1 {
				c.logger.Warn("request failed, retrying",
					zap.String("path", path),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
				if serr := sleepCtx(ctx, c.delay); serr != nil {
					return serr
				}
				continue
			}
			return &NetworkError{Attempts: c.maxRetries, Err: lastErr}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			_ = utils.DrainAndClose(resp.Body)
			if attempt < c.maxRetries-1 {
				// Linear backoff: each 429 waits one pacing delay longer.
				wait := time.Duration(attempt+1) * c.delay
				c.logger.Warn("rate limited, backing off",
					zap.String("path", path),
					zap.Int("attempt", attempt+1),
					zap.Duration("wait", wait))
				if serr := sleepCtx(ctx, wait); serr != nil {
					return serr
				}
				continue
			}
			return &RateLimitError{Attempts: c.maxRetries}

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			// Non-retryable status: fail now, no budget consumed.
			_ = utils.DrainAndClose(resp.Body)
			return &UpstreamError{Status: resp.StatusCode}

		default:
			err := json.NewDecoder(resp.Body).Decode(out)
			cerr := utils.DrainAndClose(resp.Body)
			if err != nil {
				return fmt.Errorf("decode %s response: %w", path, err)
			}
			return cerr
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
