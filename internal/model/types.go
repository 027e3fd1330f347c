package model

import (
	"math/big"
	"time"
)

// SwapMode selects which side of the swap is fixed.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// QuoteRequest is the normalized routing input shared by all adapters.
// Amounts are base-unit integers encoded as decimal strings.
type QuoteRequest struct {
	InputMint       string `json:"inputMint"`
	OutputMint      string `json:"outputMint"`
	Amount          string `json:"amount"`
	SlippageBps     int    `json:"slippageBps"`
	UserPublicKey   string `json:"userPublicKey,omitempty"`
	FavorLowLatency bool   `json:"favorLowLatency,omitempty"`

	// MaxAlternatives is nil when the caller did not send the parameter;
	// an explicit 0 means "best route only" and must not be defaulted.
	MaxAlternatives *int `json:"maxAlternatives,omitempty"`
}

// PlatformFee describes the fee an upstream charges on the swap.
type PlatformFee struct {
	Amount string `json:"amount"`
	FeeBps int    `json:"feeBps"`
}

// RouteStep is a single AMM hop in a route plan.
type RouteStep struct {
	AMMKey     string `json:"ammKey"`
	Label      string `json:"label,omitempty"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount,omitempty"`
	FeeMint    string `json:"feeMint,omitempty"`
}

// NormalizedQuote is the adapter-agnostic quote shape the engine scores.
type NormalizedQuote struct {
	InputMint            string       `json:"inputMint"`
	OutputMint           string       `json:"outputMint"`
	InAmount             string       `json:"inAmount"`
	OutAmount            string       `json:"outAmount"`
	OtherAmountThreshold string       `json:"otherAmountThreshold"`
	SwapMode             SwapMode     `json:"swapMode"`
	SlippageBps          int          `json:"slippageBps"`
	PlatformFee          *PlatformFee `json:"platformFee,omitempty"`
	PriceImpactPct       string       `json:"priceImpactPct"`
	RoutePlan            []RouteStep  `json:"routePlan"`
	GasEstimate          uint64       `json:"gasEstimate,omitempty"`
	TimeTakenMs          int64        `json:"timeTaken"`
	ContextSlot          uint64       `json:"contextSlot,omitempty"`
}

// RouteScore holds the per-dimension sub-scores in [0,1] plus the weighted
// total. Every sub-score is higher-is-better: the lower-is-better inputs
// (fees, gas, latency) are inverted before they are stored here.
type RouteScore struct {
	OutputAmount float64 `json:"outputAmount"`
	Fees         float64 `json:"fees"`
	GasEstimate  float64 `json:"gasEstimate"`
	Latency      float64 `json:"latency"`
	Reliability  float64 `json:"reliability"`
	TotalScore   float64 `json:"totalScore"`
}

// RankedQuote is a scored quote attributed to its provider.
type RankedQuote struct {
	Provider       string          `json:"provider"`
	Quote          NormalizedQuote `json:"quote"`
	Score          RouteScore      `json:"score"`
	ResponseTimeMs int64           `json:"responseTime"`
	IsCached       bool            `json:"isCached"`
}

// RouteResponse is the engine output: best route plus ranked alternatives.
type RouteResponse struct {
	RequestID           string        `json:"requestId"`
	QuoteID             string        `json:"quoteId,omitempty"`
	Best                RankedQuote   `json:"bestRoute"`
	Alternatives        []RankedQuote `json:"alternatives"`
	TotalResponseTimeMs int64         `json:"totalResponseTime"`
	CacheHitRatio       float64       `json:"cacheHitRatio"`
	CalculatedAt        time.Time     `json:"calculatedAt"`
}

// FeeBreakdown itemizes the cost of taking the best route.
type FeeBreakdown struct {
	PlatformFee   string `json:"platformFee"`
	GasFee        string `json:"gasFee"`
	TotalFee      string `json:"totalFee"`
	FeePercentage string `json:"feePercentage"`
}

// BuildOptions are pass-through transaction build flags. Adapter-specific
// mapping is the adapter's concern.
type BuildOptions struct {
	WrapAndUnwrapSol      *bool  `json:"wrapAndUnwrapSol,omitempty"`
	UseSharedAccounts     *bool  `json:"useSharedAccounts,omitempty"`
	FeeAccount            string `json:"feeAccount,omitempty"`
	ComputeUnitPriceMicro uint64 `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction   bool   `json:"asLegacyTransaction,omitempty"`
}

// BuiltTransaction is the opaque signed-ready payload an upstream returns.
type BuiltTransaction struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight,omitempty"`
	PrioritizationFee    uint64 `json:"prioritizationFeeLamports,omitempty"`
}

// SimulationResult reports an upstream dry-run of a built transaction.
type SimulationResult struct {
	Success              bool     `json:"success"`
	Error                string   `json:"error,omitempty"`
	ComputeUnitsConsumed uint64   `json:"computeUnitsConsumed,omitempty"`
	Logs                 []string `json:"logs,omitempty"`
}

// maxAmount is 2^64-1, the largest base-unit amount any supported chain
// representation can carry.
var maxAmount, _ = new(big.Int).SetString("18446744073709551615", 10)

// ParseAmount parses a decimal-string base-unit amount, rejecting anything
// that is not a plain non-negative integer.
func ParseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// OutAmountInt returns the quote's output amount as a big integer, zero when
// unparseable.
func (q *NormalizedQuote) OutAmountInt() *big.Int {
	n, ok := ParseAmount(q.OutAmount)
	if !ok {
		return new(big.Int)
	}
	return n
}

// IsZero reports whether the quote carries a zero input or output amount.
func (q *NormalizedQuote) IsZero() bool {
	in, okIn := ParseAmount(q.InAmount)
	out, okOut := ParseAmount(q.OutAmount)
	return !okIn || !okOut || in.Sign() == 0 || out.Sign() == 0
}

// Telescopes reports whether the route plan is well formed: at least one
// step, first step consumes the quote input, last step produces the quote
// output, and amounts chain hop to hop.
func (q *NormalizedQuote) Telescopes() bool {
	if len(q.RoutePlan) == 0 {
		return false
	}
	first, last := q.RoutePlan[0], q.RoutePlan[len(q.RoutePlan)-1]
	if first.InputMint != q.InputMint || last.OutputMint != q.OutputMint {
		return false
	}
	if first.InAmount != q.InAmount || last.OutAmount != q.OutAmount {
		return false
	}
	for i := 1; i < len(q.RoutePlan); i++ {
		prev, cur := q.RoutePlan[i-1], q.RoutePlan[i]
		if prev.OutputMint != cur.InputMint || prev.OutAmount != cur.InAmount {
			return false
		}
	}
	return true
}
