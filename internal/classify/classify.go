// Package classify implements the promotion rules. Evaluation is a pure
// function over a token's current and starting metrics; all four criteria
// must hold for a token to be promoted.
package classify

import "fmt"

// Promotion thresholds.
const (
	// GrowthMultiple: current market cap must be at least this multiple
	// of the starting market cap.
	GrowthMultiple = 3.0
	// MinBuyRatio: cumulative buy volume relative to current market cap.
	MinBuyRatio = 0.05
	// MinLiquidityRatio: current liquidity relative to current market cap.
	MinLiquidityRatio = 0.03
)

// Input is the metric quintuple the rules evaluate.
type Input struct {
	StartMarketCap      float64
	CurrentMarketCap    float64
	CumulativeBuyVolume float64
	CumulativeNetVolume float64
	Liquidity           float64
}

// CheckResult records a single criterion's outcome.
type CheckResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// Result is the full classification outcome. Reason is the first failing
// check; Checks always carries all four for observability.
type Result struct {
	Promoted bool
	Reason   string
	Checks   []CheckResult
}

// Evaluate runs the four promotion criteria against in. Promoted iff all
// pass. A non-positive current market cap can never promote: the ratio
// checks are undefined there, so they fail closed.
func Evaluate(in Input) Result {
	checks := make([]CheckResult, 4)

	growth := 0.0
	if in.StartMarketCap > 0 {
		growth = in.CurrentMarketCap / in.StartMarketCap
	}
	checks[0] = CheckResult{
		Name:      "growth",
		Threshold: fmt.Sprintf(">= %.1fx start market cap", GrowthMultiple),
		Actual:    fmt.Sprintf("%.2fx", growth),
		Pass:      in.StartMarketCap > 0 && in.CurrentMarketCap >= GrowthMultiple*in.StartMarketCap,
	}

	buyRatio := 0.0
	if in.CurrentMarketCap > 0 {
		buyRatio = in.CumulativeBuyVolume / in.CurrentMarketCap
	}
	checks[1] = CheckResult{
		Name:      "buy pressure",
		Threshold: fmt.Sprintf(">= %.2f of market cap", MinBuyRatio),
		Actual:    fmt.Sprintf("%.4f", buyRatio),
		Pass:      in.CurrentMarketCap > 0 && buyRatio >= MinBuyRatio,
	}

	checks[2] = CheckResult{
		Name:      "net flow",
		Threshold: "> 0",
		Actual:    fmt.Sprintf("%.2f", in.CumulativeNetVolume),
		Pass:      in.CumulativeNetVolume > 0,
	}

	liqRatio := 0.0
	if in.CurrentMarketCap > 0 {
		liqRatio = in.Liquidity / in.CurrentMarketCap
	}
	checks[3] = CheckResult{
		Name:      "liquidity health",
		Threshold: fmt.Sprintf(">= %.2f of market cap", MinLiquidityRatio),
		Actual:    fmt.Sprintf("%.4f", liqRatio),
		Pass:      in.CurrentMarketCap > 0 && liqRatio >= MinLiquidityRatio,
	}

	result := Result{Promoted: true, Checks: checks}
	for _, c := range checks {
		if !c.Pass {
			result.Promoted = false
			result.Reason = failReason(c.Name)
			break
		}
	}
	return result
}

// failReason maps a check name to its stable human-readable reason string.
func failReason(name string) string {
	switch name {
	case "growth":
		return "growth below required multiple"
	case "buy pressure":
		return "buy pressure below threshold"
	case "net flow":
		return "net flow not positive"
	case "liquidity health":
		return "liquidity ratio below threshold"
	}
	return "criterion failed: " + name
}
