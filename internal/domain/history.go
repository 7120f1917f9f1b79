package domain

import "time"

// HistoryRecord is an append-only snapshot of a token's metrics at one
// reconciliation cycle. Immutable once written; audit and trend analysis
// only, never read back by the core pipelines.
type HistoryRecord struct {
	Address    string
	MarketCap  float64
	Liquidity  float64
	BuyVolume  float64 // cumulative at snapshot time
	NetVolume  float64 // cumulative at snapshot time
	RecordedAt time.Time
}

// PromotionRecord captures a token's metrics at the moment it was promoted.
// One row per token, written alongside the active -> hot transition.
type PromotionRecord struct {
	Address        string // PRIMARY KEY
	MarketCap      float64
	Liquidity      float64
	BuyVolume      float64
	NetVolume      float64
	GrowthMultiple float64 // current / start market cap
	PromotedAt     time.Time
}
