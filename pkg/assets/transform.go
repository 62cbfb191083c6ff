package assets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/db"
	"github.com/coinflow-io/coinflow/pkg/graph"
)

const topCoinCount = 10

// transformPriceTrends derives the top coins by market cap from stored
// observations. A cold store yields an empty trend set and the node still
// succeeds, so analytics can run before any extraction ever has.
func (a *Assets) transformPriceTrends(ctx context.Context, rc *graph.RunContext) error {
	trends, err := a.Store.TopCoins(ctx, topCoinCount)
	if err != nil {
		return fmt.Errorf("derive price trends: %w", err)
	}

	rc.Logger.Info("derived price trends", zap.Int("coins", len(trends)))
	rc.Put(scratchPriceTrends, trends)
	return nil
}

// visualizePriceChart renders the trend chart artifact. When the transform
// did not run in this invocation, the trends are read back from the store.
func (a *Assets) visualizePriceChart(ctx context.Context, rc *graph.RunContext) error {
	var trends []db.TopCoin
	if v, ok := rc.Get(scratchPriceTrends); ok {
		trends = v.([]db.TopCoin)
	} else {
		var err error
		trends, err = a.Store.TopCoins(ctx, topCoinCount)
		if err != nil {
			return fmt.Errorf("load trends for chart: %w", err)
		}
	}

	label := partitionLabel(rc, a.Daily)
	path, err := a.Renderer.WriteChart("price_trends", label, trends)
	if err != nil {
		return fmt.Errorf("render price chart: %w", err)
	}
	rc.Logger.Info("rendered price chart", zap.String("path", path))
	return nil
}

// reportMonthly writes the monthly performance report: the top-coins table
// plus its chart, labeled by the genuine monthly partition key. Monthly
// labels are never derived by reformatting a daily key.
func (a *Assets) reportMonthly(ctx context.Context, rc *graph.RunContext) error {
	label := partitionLabel(rc, a.Monthly)
	rc.Logger.Info("generating monthly report", zap.String("month", label))

	trends, err := a.Store.TopCoins(ctx, topCoinCount)
	if err != nil {
		return fmt.Errorf("monthly report data: %w", err)
	}

	tablePath, err := a.Renderer.WriteCSV("monthly_report", label, trends)
	if err != nil {
		return fmt.Errorf("monthly report table: %w", err)
	}
	chartPath, err := a.Renderer.WriteChart("monthly_report", label, trends)
	if err != nil {
		return fmt.Errorf("monthly report chart: %w", err)
	}

	rc.Logger.Info("generated monthly report",
		zap.String("month", label),
		zap.String("table", tablePath),
		zap.String("chart", chartPath),
		zap.Int("coins", len(trends)))
	return nil
}
