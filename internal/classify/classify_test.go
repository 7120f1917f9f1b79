package classify

import "testing"

func TestEvaluate_AllCriteriaPass(t *testing.T) {
	// 4x growth, buyRatio 0.075, positive net, liqRatio 0.035
	res := Evaluate(Input{
		StartMarketCap:      500_000,
		CurrentMarketCap:    2_000_000,
		CumulativeBuyVolume: 150_000,
		CumulativeNetVolume: 50_000,
		Liquidity:           70_000,
	})

	if !res.Promoted {
		t.Fatalf("expected promoted, got reason %q", res.Reason)
	}
	if len(res.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(res.Checks))
	}
	for _, c := range res.Checks {
		if !c.Pass {
			t.Errorf("check %q unexpectedly failed (actual %s)", c.Name, c.Actual)
		}
	}
}

func TestEvaluate_NegativeNetFlow(t *testing.T) {
	res := Evaluate(Input{
		StartMarketCap:      500_000,
		CurrentMarketCap:    2_000_000,
		CumulativeBuyVolume: 150_000,
		CumulativeNetVolume: -1_000,
		Liquidity:           70_000,
	})

	if res.Promoted {
		t.Fatal("expected not promoted")
	}
	if res.Reason != "net flow not positive" {
		t.Errorf("expected reason %q, got %q", "net flow not positive", res.Reason)
	}
}

func TestEvaluate_ANDSemantics(t *testing.T) {
	// Start from an all-pass input and break one criterion at a time.
	pass := Input{
		StartMarketCap:      500_000,
		CurrentMarketCap:    2_000_000,
		CumulativeBuyVolume: 150_000,
		CumulativeNetVolume: 50_000,
		Liquidity:           70_000,
	}

	cases := []struct {
		name   string
		mutate func(Input) Input
	}{
		{"growth", func(in Input) Input { in.CurrentMarketCap = 1_400_000; in.Liquidity = 50_000; return in }},
		{"buy pressure", func(in Input) Input { in.CumulativeBuyVolume = 50_000; return in }},
		{"net flow", func(in Input) Input { in.CumulativeNetVolume = 0; return in }},
		{"liquidity health", func(in Input) Input { in.Liquidity = 10_000; return in }},
	}

	if !Evaluate(pass).Promoted {
		t.Fatal("baseline input must promote")
	}
	for _, tc := range cases {
		res := Evaluate(tc.mutate(pass))
		if res.Promoted {
			t.Errorf("breaking %q should prevent promotion", tc.name)
		}
	}
}

func TestEvaluate_FirstFailingReason(t *testing.T) {
	// Multiple failures: reason is the first failing check in order.
	res := Evaluate(Input{
		StartMarketCap:      500_000,
		CurrentMarketCap:    600_000, // growth fails first
		CumulativeBuyVolume: 0,       // buy pressure would also fail
		CumulativeNetVolume: -5,
		Liquidity:           0,
	})

	if res.Promoted {
		t.Fatal("expected not promoted")
	}
	if res.Reason != "growth below required multiple" {
		t.Errorf("expected first failing reason, got %q", res.Reason)
	}
	failed := 0
	for _, c := range res.Checks {
		if !c.Pass {
			failed++
		}
	}
	if failed != 4 {
		t.Errorf("all checks should be reported failed, got %d", failed)
	}
}

func TestEvaluate_ZeroMarketCapGuard(t *testing.T) {
	res := Evaluate(Input{
		StartMarketCap:      0,
		CurrentMarketCap:    0,
		CumulativeBuyVolume: 1_000,
		CumulativeNetVolume: 1_000,
		Liquidity:           1_000,
	})
	if res.Promoted {
		t.Fatal("zero market cap must never promote")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	in := Input{
		StartMarketCap:      100_000,
		CurrentMarketCap:    310_000,
		CumulativeBuyVolume: 16_000,
		CumulativeNetVolume: 1,
		Liquidity:           9_300,
	}
	first := Evaluate(in)
	for i := 0; i < 10; i++ {
		if got := Evaluate(in); got.Promoted != first.Promoted || got.Reason != first.Reason {
			t.Fatal("Evaluate must be deterministic")
		}
	}
}
