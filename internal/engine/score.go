package engine

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/sawpanic/solroute/internal/model"
)

// ScoringWeights are the relative importance of each ranking criterion.
// They must sum to 1.0.
type ScoringWeights struct {
	OutputAmount float64 `yaml:"output_amount"`
	Fees         float64 `yaml:"fees"`
	GasEstimate  float64 `yaml:"gas_estimate"`
	Latency      float64 `yaml:"latency"`
	Reliability  float64 `yaml:"reliability"`
}

// Normalization holds the saturation points that map raw quote values onto
// [0,1]. Values at or beyond the saturation point score the extreme.
type Normalization struct {
	OutAmountScale   float64 `yaml:"out_amount_scale"`
	FeeSaturationPct float64 `yaml:"fee_saturation_pct"`
	GasSaturation    float64 `yaml:"gas_saturation"`
	DefaultGas       float64 `yaml:"default_gas"`
	LatencyCeilingMs float64 `yaml:"latency_ceiling_ms"`
}

// ScoringConfig is the full ranking configuration.
type ScoringConfig struct {
	Weights       ScoringWeights     `yaml:"weights"`
	Normalization Normalization      `yaml:"normalization"`
	Reliability   map[string]float64 `yaml:"reliability"`
	DefaultRel    float64            `yaml:"default_reliability"`
}

// DefaultScoringConfig returns the production ranking parameters.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: ScoringWeights{
			OutputAmount: 0.40,
			Fees:         0.25,
			GasEstimate:  0.15,
			Latency:      0.15,
			Reliability:  0.05,
		},
		Normalization: Normalization{
			OutAmountScale:   1e12,
			FeeSaturationPct: 1.0,
			GasSaturation:    200000,
			DefaultGas:       100000,
			LatencyCeilingMs: 3000,
		},
		Reliability: map[string]float64{
			"jupiter": 0.95,
			"okx-dex": 0.90,
		},
		DefaultRel: 0.85,
	}
}

// Validate checks that the weight vector is a proper convex combination.
func (c ScoringConfig) Validate() error {
	sum := c.Weights.OutputAmount + c.Weights.Fees + c.Weights.GasEstimate +
		c.Weights.Latency + c.Weights.Reliability
	if sum < 1.0-1e-6 || sum > 1.0+1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}
	for _, w := range []float64{c.Weights.OutputAmount, c.Weights.Fees,
		c.Weights.GasEstimate, c.Weights.Latency, c.Weights.Reliability} {
		if w < 0 {
			return fmt.Errorf("scoring weights must be non-negative")
		}
	}
	return nil
}

// Scorer ranks normalized quotes.
type Scorer struct {
	config ScoringConfig
}

// NewScorer creates a scorer; the config must already be validated.
func NewScorer(config ScoringConfig) *Scorer {
	return &Scorer{config: config}
}

// clamp01 bounds a component score to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the component scores and weighted total for one quote.
func (s *Scorer) Score(provider string, quote *model.NormalizedQuote, responseTimeMs int64) model.RouteScore {
	n := s.config.Normalization

	outScore := 0.0
	if out, ok := new(big.Float).SetString(quote.OutAmount); ok {
		v, _ := out.Float64()
		outScore = clamp01(v / n.OutAmountScale)
	}

	feePct := 0.0
	if quote.PlatformFee != nil {
		feePct = float64(quote.PlatformFee.FeeBps) / 100.0
	}
	feeScore := 1.0 - clamp01(feePct/n.FeeSaturationPct)

	gas := n.DefaultGas
	if quote.GasEstimate > 0 {
		gas = float64(quote.GasEstimate)
	}
	gasScore := 1.0 - clamp01(gas/n.GasSaturation)

	latScore := 1.0 - clamp01(float64(responseTimeMs)/n.LatencyCeilingMs)

	rel, ok := s.config.Reliability[provider]
	if !ok {
		rel = s.config.DefaultRel
	}

	w := s.config.Weights
	total := w.OutputAmount*outScore +
		w.Fees*feeScore +
		w.GasEstimate*gasScore +
		w.Latency*latScore +
		w.Reliability*rel

	return model.RouteScore{
		OutputAmount: outScore,
		Fees:         feeScore,
		GasEstimate:  gasScore,
		Latency:      latScore,
		Reliability:  rel,
		TotalScore:   total,
	}
}

// policyScore re-weights a scored quote for the low-latency routing policy.
func policyScore(score model.RouteScore) float64 {
	return 0.6*score.Latency + 0.4*score.OutputAmount
}

// Rank orders candidates best-first. Invalid quotes (zero output, route
// plans that do not telescope) are dropped before scoring. Ties break
// lexicographically by provider name so ranking stays deterministic.
func (s *Scorer) Rank(candidates []*model.RankedQuote, favorLowLatency bool) []*model.RankedQuote {
	ranked := make([]*model.RankedQuote, 0, len(candidates))
	for _, c := range candidates {
		if c.Quote.IsZero() || !c.Quote.Telescopes() {
			continue
		}
		c.Score = s.Score(c.Provider, &c.Quote, c.ResponseTimeMs)
		ranked = append(ranked, c)
	}

	key := func(q *model.RankedQuote) float64 {
		if favorLowLatency {
			return policyScore(q.Score)
		}
		return q.Score.TotalScore
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		ki, kj := key(ranked[i]), key(ranked[j])
		if ki != kj {
			return ki > kj
		}
		return ranked[i].Provider < ranked[j].Provider
	})
	return ranked
}
