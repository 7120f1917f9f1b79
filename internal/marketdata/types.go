package marketdata

// WindowStats is the buy/sell volume bucket for one time window. Fields are
// pointers because the API omits them under load.
type WindowStats struct {
	BuyVolume  *float64 `json:"buyVolume"`
	SellVolume *float64 `json:"sellVolume"`
}

// Stats is the per-token metrics response from GET /stats/{address}.
// MarketCap and Liquidity are pointers so that an omitted field is
// distinguishable from a zero, which matters for validation.
type Stats struct {
	Address   string                 `json:"address"`
	MarketCap *float64               `json:"marketCap"`
	Liquidity *float64               `json:"liquidity"`
	Windows   map[string]WindowStats `json:"windows"`
}

// searchCandidate is the wire shape of one GET /search entry. Search
// flattens it into domain.Candidate for consumers.
type searchCandidate struct {
	Address   string                 `json:"address"`
	MarketCap *float64               `json:"marketCap"`
	Liquidity *float64               `json:"liquidity"`
	Windows   map[string]WindowStats `json:"windows"`
}

type searchResponse struct {
	Results []searchCandidate `json:"results"`
}

// PreferredWindows is the fallback order for volume figures: most recent
// first, degrading to wider buckets when the API omits the narrow ones.
var PreferredWindows = []string{"h1", "h6", "h24", "m5"}

// WindowVolumes walks the preference order and returns the first window with
// both volumes present. ok is false when no window qualifies.
func WindowVolumes(windows map[string]WindowStats, prefs []string) (buy, sell float64, window string, ok bool) {
	if len(prefs) == 0 {
		prefs = PreferredWindows
	}
	for _, w := range prefs {
		ws, exists := windows[w]
		if !exists || ws.BuyVolume == nil || ws.SellVolume == nil {
			continue
		}
		return *ws.BuyVolume, *ws.SellVolume, w, true
	}
	return 0, 0, "", false
}
