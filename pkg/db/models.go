package db

import "time"

// Coin is the immutable identity plus refreshable metadata of a tracked
// entity.
type Coin struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MarketData is one daily market observation. Natural key (ID, Date);
// UpdatedAt is a write-time audit column, not part of identity.
type MarketData struct {
	ID                string    `json:"id"`
	Date              string    `json:"date"` // YYYY-MM-DD
	Price             float64   `json:"price"`
	MarketCap         float64   `json:"market_cap"`
	TotalVolume       float64   `json:"total_volume"`
	High24h           float64   `json:"high_24h"`
	Low24h            float64   `json:"low_24h"`
	PriceChangePct24h float64   `json:"price_change_pct_24h"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PricePoint is one historical series observation. Natural key (ID, Timestamp).
type PricePoint struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	MarketCap   float64   `json:"market_cap"`
	TotalVolume float64   `json:"total_volume"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TopCoin is one row of the top-by-market-cap report query.
type TopCoin struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Price             float64 `json:"price"`
	MarketCap         float64 `json:"market_cap"`
	PriceChangePct24h float64 `json:"price_change_pct_24h"`
}
