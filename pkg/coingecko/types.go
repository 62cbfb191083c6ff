package coingecko

import "time"

// Coin is one entry of the provider's coin enumeration.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// MarketSnapshot is the current market state of one coin, as returned by the
// batch markets endpoint.
type MarketSnapshot struct {
	ID                string  `json:"id"`
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	CurrentPrice      float64 `json:"current_price"`
	MarketCap         float64 `json:"market_cap"`
	TotalVolume       float64 `json:"total_volume"`
	High24h           float64 `json:"high_24h"`
	Low24h            float64 `json:"low_24h"`
	PriceChangePct24h float64 `json:"price_change_percentage_24h"`
}

// Chart is the provider's historical series payload: three parallel lists of
// [epoch-millis, value] pairs.
type Chart struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// SeriesPoint is one merged observation across the three parallel series.
type SeriesPoint struct {
	Timestamp   time.Time
	Price       float64
	MarketCap   float64
	TotalVolume float64
}

// Points merges the three parallel series positionally. The series must have
// equal length and pairwise matching timestamps; a mismatch is
// ErrSeriesMismatch, which callers must not retry.
func (c *Chart) Points() ([]SeriesPoint, error) {
	if len(c.Prices) != len(c.MarketCaps) || len(c.Prices) != len(c.TotalVolumes) {
		return nil, ErrSeriesMismatch
	}

	points := make([]SeriesPoint, 0, len(c.Prices))
	for i, p := range c.Prices {
		if p[0] != c.MarketCaps[i][0] || p[0] != c.TotalVolumes[i][0] {
			return nil, ErrSeriesMismatch
		}
		points = append(points, SeriesPoint{
			Timestamp:   time.UnixMilli(int64(p[0])).UTC(),
			Price:       p[1],
			MarketCap:   c.MarketCaps[i][1],
			TotalVolume: c.TotalVolumes[i][1],
		})
	}
	return points, nil
}
