package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string, delay time.Duration, retries int) *Client {
	t.Helper()
	return New(Opts{
		BaseURL:        baseURL,
		RateLimitDelay: delay,
		MaxRetries:     retries,
		Logger:         zaptest.NewLogger(t),
	})
}

func TestListCoinsDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/list", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"bitcoin","symbol":"btc","name":"Bitcoin"},{"id":"ethereum","symbol":"eth","name":"Ethereum"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Millisecond, 3)
	coins, err := c.ListCoins(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "bitcoin", coins[0].ID)
	assert.Equal(t, "Ethereum", coins[1].Name)
}

func TestMarketSnapshotsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "bitcoin,ethereum", q.Get("ids"))
		assert.Equal(t, "usd", q.Get("vs_currency"))
		assert.Equal(t, "250", q.Get("per_page"))
		_, _ = w.Write([]byte(`[{"id":"bitcoin","current_price":50000,"market_cap":1e12,"price_change_percentage_24h":2.5}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Millisecond, 3)
	snaps, err := c.MarketSnapshots(context.Background(), []string{"bitcoin", "ethereum"}, "")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 50000.0, snaps[0].CurrentPrice)
	assert.Equal(t, 2.5, snaps[0].PriceChangePct24h)
}

func TestRateLimitBackoffIsLinearThenExhausts(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	delay := 40 * time.Millisecond
	c := newTestClient(t, srv.URL, delay, 3)

	_, err := c.ListCoins(context.Background())
	require.Error(t, err)

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 3, rl.Attempts)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 3, "all three attempts must hit the server")

	// First retry backs off 1*delay, the second 2*delay; each attempt also
	// pays the pacing delay, so the gaps must grow by at least one delay.
	gap1 := times[1].Sub(times[0])
	gap2 := times[2].Sub(times[1])
	assert.GreaterOrEqual(t, gap1, delay)
	assert.GreaterOrEqual(t, gap2, 2*delay)
	assert.Greater(t, gap2, gap1, "backoff must increase with attempt index")
}

func TestUpstreamErrorFailsImmediately(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Millisecond, 3)
	_, err := c.MarketChart(context.Background(), "no-such-coin", "usd", 30)
	require.Error(t, err)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusNotFound, ue.Status)
	assert.Equal(t, 1, calls, "non-retryable status must not consume retry budget")
}

func TestTransportFailureRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := srv.URL
	srv.Close() // every request now fails at the transport level

	c := newTestClient(t, baseURL, time.Millisecond, 3)
	_, err := c.ListCoins(context.Background())
	require.Error(t, err)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, 3, ne.Attempts)
}

func TestGetHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, time.Hour, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// The pacing wait cannot complete inside the deadline, so the call must
	// fail promptly instead of sleeping out the full delay.
	start := time.Now()
	_, err := c.ListCoins(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestChartPointsMergesParallelSeries(t *testing.T) {
	chart := &Chart{
		Prices:       [][2]float64{{1617753600000, 50000}, {1617840000000, 52000}},
		MarketCaps:   [][2]float64{{1617753600000, 1e12}, {1617840000000, 1.05e12}},
		TotalVolumes: [][2]float64{{1617753600000, 5e10}, {1617840000000, 5.2e10}},
	}

	points, err := chart.Points()
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, time.UnixMilli(1617753600000).UTC(), points[0].Timestamp)
	assert.Equal(t, 50000.0, points[0].Price)
	assert.Equal(t, 1.05e12, points[1].MarketCap)
	assert.Equal(t, 5.2e10, points[1].TotalVolume)
}

func TestChartPointsRejectsLengthMismatch(t *testing.T) {
	chart := &Chart{
		Prices:       [][2]float64{{1, 1}, {2, 2}},
		MarketCaps:   [][2]float64{{1, 1}},
		TotalVolumes: [][2]float64{{1, 1}, {2, 2}},
	}

	_, err := chart.Points()
	assert.ErrorIs(t, err, ErrSeriesMismatch)
}

func TestChartPointsRejectsTimestampMismatch(t *testing.T) {
	chart := &Chart{
		Prices:       [][2]float64{{1, 1}, {2, 2}},
		MarketCaps:   [][2]float64{{1, 1}, {3, 2}},
		TotalVolumes: [][2]float64{{1, 1}, {2, 2}},
	}

	_, err := chart.Points()
	assert.ErrorIs(t, err, ErrSeriesMismatch)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsOperational(&NetworkError{Attempts: 3, Err: errors.New("refused")}))
	assert.True(t, IsOperational(&RateLimitError{Attempts: 3}))
	assert.True(t, IsOperational(&UpstreamError{Status: 500}))
	assert.True(t, IsOperational(ErrSeriesMismatch))
	assert.False(t, IsOperational(errors.New("nil pointer dereference")))

	assert.True(t, IsRateLimited(&RateLimitError{Attempts: 3}))
	assert.False(t, IsRateLimited(&UpstreamError{Status: 429}))
}
