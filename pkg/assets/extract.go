package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/coingecko"
	"github.com/coinflow-io/coinflow/pkg/graph"
)

// extractCoinList pulls the full coin enumeration from the provider.
func (a *Assets) extractCoinList(ctx context.Context, rc *graph.RunContext) error {
	label := partitionLabel(rc, a.Daily)
	rc.Logger.Info("extracting coin list", zap.String("partition", label))

	coins, err := a.Client.ListCoins(ctx)
	if err != nil {
		return fmt.Errorf("extract coin list: %w", err)
	}

	rc.Logger.Info("extracted coin list", zap.Int("coins", len(coins)))
	rc.Put(scratchCoinList, coins)
	return nil
}

// extractMarketData pulls the current snapshot for the tracked coin set in
// one batch call.
func (a *Assets) extractMarketData(ctx context.Context, rc *graph.RunContext) error {
	label := partitionLabel(rc, a.Daily)
	rc.Logger.Info("extracting market data", zap.String("partition", label))

	snapshots, err := a.Client.MarketSnapshots(ctx, a.coins(), "usd")
	if err != nil {
		return fmt.Errorf("extract market data: %w", err)
	}

	rc.Logger.Info("extracted market data", zap.Int("entries", len(snapshots)))
	rc.Put(scratchMarketData, snapshots)
	return nil
}

// extractPriceHistory fetches the historical series per coin, in parallel.
// Failures are isolated: an exhausted rate limit earns the coin one extended
// wait and one extra attempt, after which it is skipped; other expected
// client failures skip the coin immediately. Only a failure outside the
// client's taxonomy aborts the node, since that is a defect rather than an
// operational condition.
func (a *Assets) extractPriceHistory(ctx context.Context, rc *graph.RunContext) error {
	rc.Logger.Info("extracting price history", zap.Int("coins", len(a.coins())))

	var (
		mu       sync.Mutex
		charts   = make(map[string]*coingecko.Chart)
		fatalErr error
	)

	pool := pond.NewPool(a.workers())
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, coinID := range a.coins() {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			chart, err := a.fetchHistoryWithEscalation(groupCtx, coinID)
			if err != nil {
				if coingecko.IsOperational(err) {
					rc.Logger.Warn("skipping coin after failed history fetch",
						zap.String("coin", coinID),
						zap.Error(err))
					return
				}
				mu.Lock()
				if fatalErr == nil {
					fatalErr = fmt.Errorf("history fetch for %s: %w", coinID, err)
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			charts[coinID] = chart
			mu.Unlock()
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		rc.Logger.Warn("parallel history fetch encountered error", zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fatalErr != nil {
		return fatalErr
	}

	rc.Logger.Info("extracted price history",
		zap.Int("fetched", len(charts)),
		zap.Int("skipped", len(a.coins())-len(charts)))
	rc.Put(scratchPriceHistory, charts)
	return nil
}

// fetchHistoryWithEscalation layers the per-coin retry policy above the
// client's own backoff: one extended wait, one extra attempt, and only for
// rate-limit exhaustion.
func (a *Assets) fetchHistoryWithEscalation(ctx context.Context, coinID string) (*coingecko.Chart, error) {
	chart, err := a.Client.MarketChart(ctx, coinID, "usd", a.historyDays())
	if err == nil {
		return chart, nil
	}
	if !coingecko.IsRateLimited(err) {
		return nil, err
	}

	a.Logger.Warn("rate limited on history fetch, extended wait before final attempt",
		zap.String("coin", coinID),
		zap.Duration("wait", a.rateLimitWait()))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.rateLimitWait()):
	}

	return a.Client.MarketChart(ctx, coinID, "usd", a.historyDays())
}

func (a *Assets) coins() []string {
	if len(a.Coins) == 0 {
		return DefaultCoins
	}
	return a.Coins
}

func (a *Assets) workers() int {
	if a.Workers <= 0 {
		return 4
	}
	return a.Workers
}

func (a *Assets) historyDays() int {
	if a.HistoryDays <= 0 {
		return 30
	}
	return a.HistoryDays
}

func (a *Assets) rateLimitWait() time.Duration {
	if a.RateLimitWait <= 0 {
		return 10 * time.Second
	}
	return a.RateLimitWait
}
