package engine

import (
	"fmt"
	"testing"

	"github.com/sawpanic/solroute/internal/model"
)

func validQuote(inMint, outMint, inAmount, outAmount string) model.NormalizedQuote {
	return model.NormalizedQuote{
		InputMint:  inMint,
		OutputMint: outMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
		SwapMode:   model.SwapModeExactIn,
		RoutePlan: []model.RouteStep{{
			AMMKey:     "pool-1",
			InputMint:  inMint,
			OutputMint: outMint,
			InAmount:   inAmount,
			OutAmount:  outAmount,
		}},
	}
}

func TestScoringConfigValidation(t *testing.T) {
	cfg := DefaultScoringConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg.Weights.OutputAmount = 0.50
	if err := cfg.Validate(); err == nil {
		t.Fatal("weights summing to 1.10 accepted")
	}

	cfg = DefaultScoringConfig()
	cfg.Weights.Fees = -0.25
	cfg.Weights.OutputAmount = 0.90
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative weight accepted")
	}
}

func TestScoreMonotonicity(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	base := validQuote("SOL", "USDC", "1000000000", "145000000")

	baseScore := s.Score("jupiter", &base, 250)

	richer := base
	richer.OutAmount = "146000000"
	if got := s.Score("jupiter", &richer, 250); got.TotalScore <= baseScore.TotalScore {
		t.Fatalf("higher outAmount did not raise score: %.6f <= %.6f", got.TotalScore, baseScore.TotalScore)
	}

	pricier := base
	pricier.PlatformFee = &model.PlatformFee{Amount: "500000", FeeBps: 30}
	if got := s.Score("jupiter", &pricier, 250); got.TotalScore >= baseScore.TotalScore {
		t.Fatalf("higher fees did not lower score: %.6f >= %.6f", got.TotalScore, baseScore.TotalScore)
	}

	gassier := base
	gassier.GasEstimate = 150000 // above the 100000 default
	if got := s.Score("jupiter", &gassier, 250); got.TotalScore >= baseScore.TotalScore {
		t.Fatalf("higher gas did not lower score: %.6f >= %.6f", got.TotalScore, baseScore.TotalScore)
	}

	if got := s.Score("jupiter", &base, 900); got.TotalScore >= baseScore.TotalScore {
		t.Fatalf("higher latency did not lower score: %.6f >= %.6f", got.TotalScore, baseScore.TotalScore)
	}
}

func TestScoreReliabilityTable(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	q := validQuote("SOL", "USDC", "1000000000", "145000000")

	cases := map[string]float64{
		"jupiter": 0.95,
		"okx-dex": 0.90,
		"unknown": 0.85,
	}
	for provider, want := range cases {
		if got := s.Score(provider, &q, 250).Reliability; got != want {
			t.Errorf("reliability(%s) = %.2f, want %.2f", provider, got, want)
		}
	}
}

func TestScoreClampsSubScores(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	q := validQuote("SOL", "USDC", "1", "99999999999999999999")
	q.GasEstimate = 10_000_000
	q.PlatformFee = &model.PlatformFee{Amount: "1", FeeBps: 5000}
	got := s.Score("jupiter", &q, 60_000)

	for name, v := range map[string]float64{
		"outputAmount": got.OutputAmount,
		"fees":         got.Fees,
		"gasEstimate":  got.GasEstimate,
		"latency":      got.Latency,
		"total":        got.TotalScore,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s = %.4f outside [0,1]", name, v)
		}
	}
	if got.OutputAmount != 1 || got.Latency != 0 || got.GasEstimate != 0 {
		t.Fatalf("saturated dimensions not clamped: %+v", got)
	}
}

func TestRankDefaultWeights(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	a := &model.RankedQuote{
		Provider:       "jupiter",
		Quote:          validQuote("SOL", "USDC", "1000000000", "145670000"),
		ResponseTimeMs: 250,
	}
	b := &model.RankedQuote{
		Provider:       "okx-dex",
		Quote:          validQuote("SOL", "USDC", "1000000000", "145500000"),
		ResponseTimeMs: 400,
	}

	ranked := s.Rank([]*model.RankedQuote{b, a}, false)
	if len(ranked) != 2 {
		t.Fatalf("ranked %d quotes, want 2", len(ranked))
	}
	if ranked[0].Provider != "jupiter" {
		t.Fatalf("best = %s, want jupiter (more output, less latency)", ranked[0].Provider)
	}
	if ranked[0].Score.TotalScore < ranked[1].Score.TotalScore {
		t.Fatal("ranking is not descending by total score")
	}
}

func TestRankFavorLowLatencyPolicy(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	a := &model.RankedQuote{
		Provider:       "jupiter",
		Quote:          validQuote("SOL", "USDC", "1000000000", "145670000"),
		ResponseTimeMs: 900,
	}
	b := &model.RankedQuote{
		Provider:       "okx-dex",
		Quote:          validQuote("SOL", "USDC", "1000000000", "140000000"),
		ResponseTimeMs: 80,
	}

	ranked := s.Rank([]*model.RankedQuote{a, b}, true)
	if ranked[0].Provider != "okx-dex" {
		t.Fatalf("low-latency policy picked %s, want okx-dex", ranked[0].Provider)
	}

	// Default weights prefer the richer quote at these magnitudes too, but
	// the policy must dominate when asked for.
	def := s.Rank([]*model.RankedQuote{a, b}, false)
	if def[0].Score.TotalScore < def[1].Score.TotalScore {
		t.Fatal("default ranking not descending")
	}
}

func TestRankDropsInvalidQuotes(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())

	zero := &model.RankedQuote{
		Provider: "jupiter",
		Quote:    validQuote("SOL", "USDC", "1000000000", "0"),
	}
	broken := &model.RankedQuote{
		Provider: "okx-dex",
		Quote: model.NormalizedQuote{
			InputMint:  "SOL",
			OutputMint: "USDC",
			InAmount:   "1000000000",
			OutAmount:  "145000000",
			RoutePlan: []model.RouteStep{{
				AMMKey:     "pool-1",
				InputMint:  "SOL",
				OutputMint: "USDT", // does not reach the quote output
				InAmount:   "1000000000",
				OutAmount:  "145000000",
			}},
		},
	}
	good := &model.RankedQuote{
		Provider:       "jupiter",
		Quote:          validQuote("SOL", "USDC", "1000000000", "145000000"),
		ResponseTimeMs: 100,
	}

	ranked := s.Rank([]*model.RankedQuote{zero, broken, good}, false)
	if len(ranked) != 1 || ranked[0] != good {
		t.Fatalf("ranked %d quotes, want only the valid one", len(ranked))
	}
}

func TestRankTieBreaksByProvider(t *testing.T) {
	s := NewScorer(DefaultScoringConfig())
	// Unknown providers share the default reliability, so identical quotes
	// produce identical scores.
	mk := func(provider string) *model.RankedQuote {
		return &model.RankedQuote{
			Provider:       provider,
			Quote:          validQuote("SOL", "USDC", "1000000000", "145000000"),
			ResponseTimeMs: 100,
		}
	}
	ranked := s.Rank([]*model.RankedQuote{mk("zeta"), mk("alpha"), mk("mid")}, false)
	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if ranked[i].Provider != w {
			t.Fatalf("tie-break order = %v, want %v", providers(ranked), want)
		}
	}
}

func providers(ranked []*model.RankedQuote) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Provider
	}
	return out
}

func TestTelescopingMultiHop(t *testing.T) {
	q := model.NormalizedQuote{
		InputMint:  "SOL",
		OutputMint: "USDC",
		InAmount:   "1000000000",
		OutAmount:  "145000000",
		RoutePlan: []model.RouteStep{
			{AMMKey: "p1", InputMint: "SOL", OutputMint: "USDT", InAmount: "1000000000", OutAmount: "144900000"},
			{AMMKey: "p2", InputMint: "USDT", OutputMint: "USDC", InAmount: "144900000", OutAmount: "145000000"},
		},
	}
	if !q.Telescopes() {
		t.Fatal("chained two-hop plan rejected")
	}

	q.RoutePlan[1].InAmount = "144000000"
	if q.Telescopes() {
		t.Fatal("non-chaining amounts accepted")
	}
}

func ExampleScorer_Score() {
	s := NewScorer(DefaultScoringConfig())
	q := validQuote("SOL", "USDC", "1000000000", "145670000")
	score := s.Score("jupiter", &q, 250)
	fmt.Printf("reliability=%.2f\n", score.Reliability)
	// Output: reliability=0.95
}
