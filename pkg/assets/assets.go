// Package assets defines the materialization nodes of the market data
// pipeline and the named jobs that select them. The graph is linear:
// extract nodes pull from the provider, load nodes deposit into the store,
// and transform/report nodes read back from the store so partial pipelines
// and replays stay decoupled from upstream in-memory outputs.
package assets

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/coingecko"
	"github.com/coinflow-io/coinflow/pkg/db"
	"github.com/coinflow-io/coinflow/pkg/graph"
	"github.com/coinflow-io/coinflow/pkg/partition"
	"github.com/coinflow-io/coinflow/pkg/report"
)

// DefaultCoins is the tracked set of major coins.
var DefaultCoins = []string{
	"bitcoin", "ethereum", "solana", "binancecoin", "cardano",
	"polkadot", "dogecoin", "ripple", "avalanche-2", "tron",
}

// SchemeStart roots both partition schemes.
var SchemeStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// Node and group names.
const (
	NodeCoinList          = "coin_list"
	NodeStoreCoinList     = "store_coin_list"
	NodeMarketData        = "market_data"
	NodeStoreMarketData   = "store_market_data"
	NodePriceHistory      = "price_history"
	NodeStorePriceHistory = "store_price_history"
	NodePriceTrends       = "price_trends"
	NodePriceChart        = "price_chart"
	NodeMonthlyReport     = "monthly_report"

	GroupExtract   = "extract"
	GroupLoad      = "load"
	GroupTransform = "transform"
	GroupVisualize = "visualize"
	GroupReporting = "reporting"
)

// Scratch-space keys handing extract output to the paired load node.
const (
	scratchCoinList     = "coin_list"
	scratchMarketData   = "market_data"
	scratchPriceHistory = "price_history"
	scratchPriceTrends  = "price_trends"
)

// MarketClient is the slice of the provider client the assets consume.
type MarketClient interface {
	ListCoins(ctx context.Context) ([]coingecko.Coin, error)
	MarketSnapshots(ctx context.Context, ids []string, vsCurrency string) ([]coingecko.MarketSnapshot, error)
	MarketChart(ctx context.Context, id, vsCurrency string, days int) (*coingecko.Chart, error)
}

// Assets binds the pipeline nodes to their collaborators.
type Assets struct {
	Client   MarketClient
	Store    *db.Store
	Renderer *report.Renderer
	Logger   *zap.Logger

	// Coins is the tracked entity set; DefaultCoins when empty.
	Coins []string

	// HistoryDays is the trailing window of the historical series fetch.
	HistoryDays int

	// Workers bounds concurrent per-coin history fetches. The client's
	// shared pacing clock keeps the aggregate request rate within limits.
	Workers int

	// RateLimitWait is the single extended wait after an exhausted
	// rate-limit failure for one coin, before its one extra attempt.
	RateLimitWait time.Duration

	Daily   partition.Scheme
	Monthly partition.Scheme
}

// New fills in defaults and returns the asset set.
func New(client MarketClient, store *db.Store, renderer *report.Renderer, logger *zap.Logger) *Assets {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assets{
		Client:        client,
		Store:         store,
		Renderer:      renderer,
		Logger:        logger,
		Coins:         DefaultCoins,
		HistoryDays:   30,
		Workers:       4,
		RateLimitWait: 10 * time.Second,
		Daily:         partition.NewDaily(SchemeStart),
		Monthly:       partition.NewMonthly(SchemeStart),
	}
}

// Register adds every pipeline node to the graph in declaration order.
func (a *Assets) Register(g *graph.Graph) error {
	nodes := []graph.Node{
		{Name: NodeCoinList, Group: GroupExtract, Scheme: &a.Daily, Compute: a.extractCoinList},
		{Name: NodeStoreCoinList, Group: GroupLoad, Deps: []string{NodeCoinList}, Scheme: &a.Daily, Compute: a.loadCoinList},
		{Name: NodeMarketData, Group: GroupExtract, Deps: []string{NodeStoreCoinList}, Scheme: &a.Daily, Compute: a.extractMarketData},
		{Name: NodeStoreMarketData, Group: GroupLoad, Deps: []string{NodeMarketData}, Scheme: &a.Daily, Compute: a.loadMarketData},
		{Name: NodePriceHistory, Group: GroupExtract, Deps: []string{NodeStoreMarketData}, Compute: a.extractPriceHistory},
		{Name: NodeStorePriceHistory, Group: GroupLoad, Deps: []string{NodePriceHistory}, Compute: a.loadPriceHistory},
		{Name: NodePriceTrends, Group: GroupTransform, Deps: []string{NodeStoreMarketData, NodeStorePriceHistory}, Compute: a.transformPriceTrends},
		{Name: NodePriceChart, Group: GroupVisualize, Deps: []string{NodePriceTrends}, Compute: a.visualizePriceChart},
		{Name: NodeMonthlyReport, Group: GroupReporting, Deps: []string{NodeStoreMarketData, NodeStorePriceHistory}, Scheme: &a.Monthly, Compute: a.reportMonthly},
	}
	for _, n := range nodes {
		if err := g.Register(n); err != nil {
			return err
		}
	}
	return nil
}

// Job names.
const (
	JobMetadata      = "crypto_metadata"
	JobMarketData    = "crypto_market_data"
	JobPriceHistory  = "crypto_price_history"
	JobAnalytics     = "crypto_analytics"
	JobMonthlyReport = "crypto_monthly_report"
)

// Jobs returns the named jobs of the pipeline. Each is safe to invoke
// repeatedly and out of strict daily order.
func (a *Assets) Jobs() []graph.Job {
	return []graph.Job{
		{
			Name:        JobMetadata,
			Description: "extract and store coin metadata",
			Selection: graph.Or(
				graph.And(graph.ByGroup(GroupExtract), graph.ByName(NodeCoinList)),
				graph.And(graph.ByGroup(GroupLoad), graph.ByName(NodeStoreCoinList)),
			),
			Scheme: &a.Daily,
		},
		{
			Name:        JobMarketData,
			Description: "extract and store daily market observations",
			Selection: graph.Or(
				graph.And(graph.ByGroup(GroupExtract), graph.ByName(NodeMarketData)),
				graph.And(graph.ByGroup(GroupLoad), graph.ByName(NodeStoreMarketData)),
			),
			Scheme: &a.Daily,
		},
		{
			Name:        JobPriceHistory,
			Description: "extract and store historical price series",
			Selection: graph.Or(
				graph.And(graph.ByGroup(GroupExtract), graph.ByName(NodePriceHistory)),
				graph.And(graph.ByGroup(GroupLoad), graph.ByName(NodeStorePriceHistory)),
			),
			Scheme: &a.Daily,
		},
		{
			Name:        JobAnalytics,
			Description: "derive price trends and render the trend chart",
			Selection: graph.Or(
				graph.And(graph.ByGroup(GroupTransform), graph.ByName(NodePriceTrends)),
				graph.And(graph.ByGroup(GroupVisualize), graph.ByName(NodePriceChart)),
			),
		},
		{
			Name:        JobMonthlyReport,
			Description: "generate the monthly performance report",
			Selection:   graph.ByGroup(GroupReporting),
			Scheme:      &a.Monthly,
		},
	}
}

// partitionLabel resolves the label scoping a node run: the run's partition
// key when one is present, otherwise the current key of the given scheme.
func partitionLabel(rc *graph.RunContext, scheme partition.Scheme) string {
	if rc.Key != nil {
		return rc.Key.String()
	}
	key, err := scheme.KeyFor(time.Now().UTC())
	if err != nil {
		// Only possible for clocks before the scheme start.
		return scheme.StartKey().String()
	}
	return key.String()
}
