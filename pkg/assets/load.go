package assets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/coingecko"
	"github.com/coinflow-io/coinflow/pkg/db"
	"github.com/coinflow-io/coinflow/pkg/graph"
)

// loadCoinList upserts the extracted coin enumeration as metadata rows.
func (a *Assets) loadCoinList(ctx context.Context, rc *graph.RunContext) error {
	v, ok := rc.Get(scratchCoinList)
	if !ok {
		rc.Logger.Warn("no extracted coin list in this run, nothing to store")
		return nil
	}
	coins := v.([]coingecko.Coin)

	rows := make([]db.Coin, 0, len(coins))
	for _, c := range coins {
		rows = append(rows, db.Coin{ID: c.ID, Symbol: c.Symbol, Name: c.Name})
	}
	if err := a.Store.UpsertCoins(ctx, rows); err != nil {
		return fmt.Errorf("store coin list: %w", err)
	}
	return nil
}

// loadMarketData upserts the extracted snapshots as observations dated by
// the run's partition key, today when the run is unpartitioned.
func (a *Assets) loadMarketData(ctx context.Context, rc *graph.RunContext) error {
	v, ok := rc.Get(scratchMarketData)
	if !ok {
		rc.Logger.Warn("no extracted market data in this run, nothing to store")
		return nil
	}
	snapshots := v.([]coingecko.MarketSnapshot)
	date := partitionLabel(rc, a.Daily)

	rows := make([]db.MarketData, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, db.MarketData{
			ID:                s.ID,
			Date:              date,
			Price:             s.CurrentPrice,
			MarketCap:         s.MarketCap,
			TotalVolume:       s.TotalVolume,
			High24h:           s.High24h,
			Low24h:            s.Low24h,
			PriceChangePct24h: s.PriceChangePct24h,
		})
	}
	if err := a.Store.UpsertMarketData(ctx, rows); err != nil {
		return fmt.Errorf("store market data: %w", err)
	}
	rc.Logger.Info("stored market data", zap.String("date", date), zap.Int("rows", len(rows)))
	return nil
}

// loadPriceHistory merges each coin's parallel series and upserts the
// points. A series mismatch is a data integrity failure of the whole node,
// never retried.
func (a *Assets) loadPriceHistory(ctx context.Context, rc *graph.RunContext) error {
	v, ok := rc.Get(scratchPriceHistory)
	if !ok {
		rc.Logger.Warn("no extracted price history in this run, nothing to store")
		return nil
	}
	charts := v.(map[string]*coingecko.Chart)

	var rows []db.PricePoint
	for coinID, chart := range charts {
		points, err := chart.Points()
		if err != nil {
			return fmt.Errorf("merge series for %s: %w", coinID, err)
		}
		for _, p := range points {
			rows = append(rows, db.PricePoint{
				ID:          coinID,
				Timestamp:   p.Timestamp,
				Price:       p.Price,
				MarketCap:   p.MarketCap,
				TotalVolume: p.TotalVolume,
			})
		}
	}
	if err := a.Store.UpsertPricePoints(ctx, rows); err != nil {
		return fmt.Errorf("store price history: %w", err)
	}
	rc.Logger.Info("stored price history", zap.Int("coins", len(charts)), zap.Int("points", len(rows)))
	return nil
}
