package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/metrics"
	"github.com/sawpanic/solroute/internal/model"
)

const jupiterName = "jupiter"

// JupiterAdapter talks to a Jupiter-style public aggregator API.
type JupiterAdapter struct {
	http    *httpClient
	metrics *metrics.Registry
}

// NewJupiterAdapter creates the adapter. metrics may be nil.
func NewJupiterAdapter(config ClientConfig, m *metrics.Registry) *JupiterAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://quote-api.jup.ag/v6"
	}
	return &JupiterAdapter{
		http:    newHTTPClient(jupiterName, config),
		metrics: m,
	}
}

func (a *JupiterAdapter) Name() string { return jupiterName }

// Wire shapes.

type jupiterPlatformFee struct {
	Amount string `json:"amount"`
	FeeBps int    `json:"feeBps"`
}

type jupiterSwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

type jupiterRoutePlanStep struct {
	SwapInfo jupiterSwapInfo `json:"swapInfo"`
	Percent  int             `json:"percent"`
}

type jupiterQuoteResponse struct {
	InputMint            string                 `json:"inputMint"`
	OutputMint           string                 `json:"outputMint"`
	InAmount             string                 `json:"inAmount"`
	OutAmount            string                 `json:"outAmount"`
	OtherAmountThreshold string                 `json:"otherAmountThreshold"`
	SwapMode             string                 `json:"swapMode"`
	SlippageBps          int                    `json:"slippageBps"`
	PlatformFee          *jupiterPlatformFee    `json:"platformFee"`
	PriceImpactPct       string                 `json:"priceImpactPct"`
	RoutePlan            []jupiterRoutePlanStep `json:"routePlan"`
	ContextSlot          uint64                 `json:"contextSlot"`
	TimeTaken            float64                `json:"timeTaken"`
}

type jupiterSwapRequest struct {
	QuoteResponse         json.RawMessage `json:"quoteResponse"`
	UserPublicKey         string          `json:"userPublicKey"`
	WrapAndUnwrapSol      *bool           `json:"wrapAndUnwrapSol,omitempty"`
	UseSharedAccounts     *bool           `json:"useSharedAccounts,omitempty"`
	FeeAccount            string          `json:"feeAccount,omitempty"`
	ComputeUnitPriceMicro uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction   bool            `json:"asLegacyTransaction,omitempty"`
}

type jupiterSwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	PrioritizationFee    uint64 `json:"prioritizationFeeLamports"`
}

type jupiterSimulateRequest struct {
	SwapTransaction string `json:"swapTransaction"`
	UserPublicKey   string `json:"userPublicKey"`
}

type jupiterSimulateResponse struct {
	Success              bool     `json:"success"`
	Error                string   `json:"error"`
	ComputeUnitsConsumed uint64   `json:"computeUnitsConsumed"`
	Logs                 []string `json:"logs"`
}

// Quote maps the request onto GET /quote and normalizes the response.
func (a *JupiterAdapter) Quote(ctx context.Context, req *model.QuoteRequest) (*model.NormalizedQuote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", req.Amount)
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("swapMode", string(model.SwapModeExactIn))

	start := time.Now()
	payload, err := a.http.do(ctx, http.MethodGet, fmt.Sprintf("%s/quote?%s", a.http.config.BaseURL, params.Encode()), nil, nil)
	elapsed := time.Since(start)
	if err != nil {
		a.record("quote", "error", elapsed)
		return nil, err
	}
	a.record("quote", "success", elapsed)

	var resp jupiterQuoteResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errs.Wrap(errs.DexInvalidResponse, "jupiter quote payload undecodable", err).WithDetail("provider", jupiterName)
	}
	if resp.OutAmount == "" {
		return nil, errs.New(errs.DexInvalidResponse, "jupiter quote missing outAmount").WithDetail("provider", jupiterName)
	}

	quote := &model.NormalizedQuote{
		InputMint:            resp.InputMint,
		OutputMint:           resp.OutputMint,
		InAmount:             resp.InAmount,
		OutAmount:            resp.OutAmount,
		OtherAmountThreshold: resp.OtherAmountThreshold,
		SwapMode:             model.SwapMode(resp.SwapMode),
		SlippageBps:          resp.SlippageBps,
		PriceImpactPct:       resp.PriceImpactPct,
		ContextSlot:          resp.ContextSlot,
		TimeTakenMs:          elapsed.Milliseconds(),
	}
	if resp.PlatformFee != nil {
		quote.PlatformFee = &model.PlatformFee{Amount: resp.PlatformFee.Amount, FeeBps: resp.PlatformFee.FeeBps}
	}
	for _, step := range resp.RoutePlan {
		quote.RoutePlan = append(quote.RoutePlan, model.RouteStep{
			AMMKey:     step.SwapInfo.AmmKey,
			Label:      step.SwapInfo.Label,
			InputMint:  step.SwapInfo.InputMint,
			OutputMint: step.SwapInfo.OutputMint,
			InAmount:   step.SwapInfo.InAmount,
			OutAmount:  step.SwapInfo.OutAmount,
			FeeAmount:  step.SwapInfo.FeeAmount,
			FeeMint:    step.SwapInfo.FeeMint,
		})
	}
	return quote, nil
}

// BuildTransaction calls POST /swap with the original quote embedded.
func (a *JupiterAdapter) BuildTransaction(ctx context.Context, req *BuildRequest) (*model.BuiltTransaction, error) {
	quoteJSON, err := json.Marshal(a.toWireQuote(req.Quote))
	if err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "failed to encode quote", err)
	}
	body, err := json.Marshal(jupiterSwapRequest{
		QuoteResponse:         quoteJSON,
		UserPublicKey:         req.UserPublicKey,
		WrapAndUnwrapSol:      req.Options.WrapAndUnwrapSol,
		UseSharedAccounts:     req.Options.UseSharedAccounts,
		FeeAccount:            req.Options.FeeAccount,
		ComputeUnitPriceMicro: req.Options.ComputeUnitPriceMicro,
		AsLegacyTransaction:   req.Options.AsLegacyTransaction,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "failed to encode swap request", err)
	}

	start := time.Now()
	payload, err := a.http.do(ctx, http.MethodPost, a.http.config.BaseURL+"/swap", body, nil)
	elapsed := time.Since(start)
	if err != nil {
		a.record("swap", "error", elapsed)
		return nil, err
	}
	a.record("swap", "success", elapsed)

	var resp jupiterSwapResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errs.Wrap(errs.DexInvalidResponse, "jupiter swap payload undecodable", err).WithDetail("provider", jupiterName)
	}
	if resp.SwapTransaction == "" {
		return nil, errs.New(errs.DexInvalidResponse, "jupiter swap missing transaction").WithDetail("provider", jupiterName)
	}
	return &model.BuiltTransaction{
		SwapTransaction:      resp.SwapTransaction,
		LastValidBlockHeight: resp.LastValidBlockHeight,
		PrioritizationFee:    resp.PrioritizationFee,
	}, nil
}

// SimulateTransaction dry-runs a built transaction.
func (a *JupiterAdapter) SimulateTransaction(ctx context.Context, transactionBlob, userPublicKey string) (*model.SimulationResult, error) {
	body, err := json.Marshal(jupiterSimulateRequest{SwapTransaction: transactionBlob, UserPublicKey: userPublicKey})
	if err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "failed to encode simulate request", err)
	}

	start := time.Now()
	payload, err := a.http.do(ctx, http.MethodPost, a.http.config.BaseURL+"/swap/simulate", body, nil)
	elapsed := time.Since(start)
	if err != nil {
		a.record("simulate", "error", elapsed)
		return nil, err
	}
	a.record("simulate", "success", elapsed)

	var resp jupiterSimulateResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errs.Wrap(errs.DexInvalidResponse, "jupiter simulate payload undecodable", err).WithDetail("provider", jupiterName)
	}
	return &model.SimulationResult{
		Success:              resp.Success,
		Error:                resp.Error,
		ComputeUnitsConsumed: resp.ComputeUnitsConsumed,
		Logs:                 resp.Logs,
	}, nil
}

// IsHealthy probes the upstream with a short deadline.
func (a *JupiterAdapter) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := a.http.do(ctx, http.MethodGet, a.http.config.BaseURL+"/health", nil, nil)
	if err != nil {
		log.Debug().Err(err).Str("provider", jupiterName).Msg("Health probe failed")
		return false
	}
	return true
}

// toWireQuote converts the normalized quote back into the upstream shape
// for the swap build call.
func (a *JupiterAdapter) toWireQuote(q *model.NormalizedQuote) jupiterQuoteResponse {
	resp := jupiterQuoteResponse{
		InputMint:            q.InputMint,
		OutputMint:           q.OutputMint,
		InAmount:             q.InAmount,
		OutAmount:            q.OutAmount,
		OtherAmountThreshold: q.OtherAmountThreshold,
		SwapMode:             string(q.SwapMode),
		SlippageBps:          q.SlippageBps,
		PriceImpactPct:       q.PriceImpactPct,
		ContextSlot:          q.ContextSlot,
	}
	if q.PlatformFee != nil {
		resp.PlatformFee = &jupiterPlatformFee{Amount: q.PlatformFee.Amount, FeeBps: q.PlatformFee.FeeBps}
	}
	for _, step := range q.RoutePlan {
		resp.RoutePlan = append(resp.RoutePlan, jupiterRoutePlanStep{
			SwapInfo: jupiterSwapInfo{
				AmmKey:     step.AMMKey,
				Label:      step.Label,
				InputMint:  step.InputMint,
				OutputMint: step.OutputMint,
				InAmount:   step.InAmount,
				OutAmount:  step.OutAmount,
				FeeAmount:  step.FeeAmount,
				FeeMint:    step.FeeMint,
			},
			Percent: 100,
		})
	}
	return resp
}

func (a *JupiterAdapter) record(operation, result string, latency time.Duration) {
	if a.metrics != nil {
		a.metrics.RecordProviderCall(jupiterName, operation, result, latency)
	}
}
