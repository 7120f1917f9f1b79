package domain

// Candidate is a raw discovery record from the external market-data feed,
// before admission filtering. All figures are optional: the feed omits
// fields under load, and admission decides what a missing field means.
type Candidate struct {
	Address    string
	MarketCap  *float64
	Liquidity  *float64
	BuyVolume  *float64 // preferred recent-window buy volume, if present
	SellVolume *float64 // preferred recent-window sell volume, if present
}
