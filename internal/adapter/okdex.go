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

const okdexName = "okx-dex"

// Credentials hold the authenticated provider's API keys.
type Credentials struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
	ProjectID  string `yaml:"project_id"`
}

// OKDexAdapter talks to the OKX DEX aggregator API with HMAC-signed
// requests.
type OKDexAdapter struct {
	http    *httpClient
	creds   Credentials
	metrics *metrics.Registry
	now     func() time.Time
}

// NewOKDexAdapter creates the adapter. metrics may be nil.
func NewOKDexAdapter(config ClientConfig, creds Credentials, m *metrics.Registry) *OKDexAdapter {
	if config.BaseURL == "" {
		config.BaseURL = "https://www.okx.com"
	}
	return &OKDexAdapter{
		http:    newHTTPClient(okdexName, config),
		creds:   creds,
		metrics: m,
		now:     time.Now,
	}
}

func (a *OKDexAdapter) Name() string { return okdexName }

// Wire shapes. The envelope carries a string code where "0" is success.

type okdexEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type okdexRouterHop struct {
	DexName    string `json:"dexName"`
	PoolID     string `json:"poolId"`
	FromToken  string `json:"fromTokenAddress"`
	ToToken    string `json:"toTokenAddress"`
	AmountIn   string `json:"amountIn"`
	AmountOut  string `json:"amountOut"`
	TradeFee   string `json:"tradeFee"`
}

type okdexQuoteData struct {
	FromTokenAddress      string           `json:"fromTokenAddress"`
	ToTokenAddress        string           `json:"toTokenAddress"`
	FromTokenAmount       string           `json:"fromTokenAmount"`
	ToTokenAmount         string           `json:"toTokenAmount"`
	MinimumReceived       string           `json:"minimumReceived"`
	PriceImpactPercentage string           `json:"priceImpactPercentage"`
	EstimateGasFee        string           `json:"estimateGasFee"`
	TradeFee              string           `json:"tradeFee"`
	TradeFeeBps           int              `json:"tradeFeeBps"`
	RouterList            []okdexRouterHop `json:"routerList"`
}

type okdexSwapRequest struct {
	FromTokenAddress string `json:"fromTokenAddress"`
	ToTokenAddress   string `json:"toTokenAddress"`
	Amount           string `json:"amount"`
	SlippageBps      int    `json:"slippageBps"`
	UserWalletAddr   string `json:"userWalletAddress"`
	FeeAccount       string `json:"feeAccount,omitempty"`
	GasPriceMicro    uint64 `json:"gasPriceMicroLamports,omitempty"`
	LegacyFormat     bool   `json:"legacyFormat,omitempty"`
}

type okdexSwapData struct {
	CallData    string `json:"callData"`
	BlockHeight uint64 `json:"blockHeight"`
	GasPrice    uint64 `json:"gasPrice"`
}

type okdexSimulateRequest struct {
	CallData       string `json:"callData"`
	UserWalletAddr string `json:"userWalletAddress"`
}

type okdexSimulateData struct {
	Success    bool     `json:"success"`
	FailReason string   `json:"failReason"`
	GasUsed    uint64   `json:"gasUsed"`
	Logs       []string `json:"logs"`
}

// signedHeaders builds the authentication headers for one request.
func (a *OKDexAdapter) signedHeaders(method, requestPath, query string, body []byte) http.Header {
	ts := isoTimestamp(a.now())
	signature := sign(a.creds.SecretKey, preHash(ts, method, requestPath, query, body))

	h := http.Header{}
	h.Set("OK-ACCESS-KEY", a.creds.APIKey)
	h.Set("OK-ACCESS-SIGN", signature)
	h.Set("OK-ACCESS-TIMESTAMP", ts)
	h.Set("OK-ACCESS-PASSPHRASE", a.creds.Passphrase)
	if a.creds.ProjectID != "" {
		h.Set("OK-ACCESS-PROJECT", a.creds.ProjectID)
	}
	return h
}

// Quote maps the request onto the aggregator quote endpoint.
func (a *OKDexAdapter) Quote(ctx context.Context, req *model.QuoteRequest) (*model.NormalizedQuote, error) {
	params := url.Values{}
	params.Set("fromTokenAddress", req.InputMint)
	params.Set("toTokenAddress", req.OutputMint)
	params.Set("amount", req.Amount)
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	const path = "/api/v5/dex/aggregator/quote"
	query := canonicalQuery(params)
	headers := a.signedHeaders(http.MethodGet, path, query, nil)

	start := time.Now()
	payload, err := a.http.do(ctx, http.MethodGet, fmt.Sprintf("%s%s?%s", a.http.config.BaseURL, path, query), nil, headers)
	elapsed := time.Since(start)
	if err != nil {
		a.record("quote", "error", elapsed)
		return nil, err
	}
	a.record("quote", "success", elapsed)

	var data okdexQuoteData
	if err := a.decode(payload, &data); err != nil {
		return nil, err
	}
	if data.ToTokenAmount == "" {
		return nil, errs.New(errs.DexInvalidResponse, "okx-dex quote missing toTokenAmount").WithDetail("provider", okdexName)
	}

	gas, _ := strconv.ParseUint(data.EstimateGasFee, 10, 64)
	quote := &model.NormalizedQuote{
		InputMint:            data.FromTokenAddress,
		OutputMint:           data.ToTokenAddress,
		InAmount:             data.FromTokenAmount,
		OutAmount:            data.ToTokenAmount,
		OtherAmountThreshold: data.MinimumReceived,
		SwapMode:             model.SwapModeExactIn,
		SlippageBps:          req.SlippageBps,
		PriceImpactPct:       data.PriceImpactPercentage,
		GasEstimate:          gas,
		TimeTakenMs:          elapsed.Milliseconds(),
	}
	if data.TradeFee != "" {
		quote.PlatformFee = &model.PlatformFee{Amount: data.TradeFee, FeeBps: data.TradeFeeBps}
	}
	for _, hop := range data.RouterList {
		quote.RoutePlan = append(quote.RoutePlan, model.RouteStep{
			AMMKey:     hop.PoolID,
			Label:      hop.DexName,
			InputMint:  hop.FromToken,
			OutputMint: hop.ToToken,
			InAmount:   hop.AmountIn,
			OutAmount:  hop.AmountOut,
			FeeAmount:  hop.TradeFee,
		})
	}
	return quote, nil
}

// BuildTransaction calls the aggregator swap endpoint with a signed body.
func (a *OKDexAdapter) BuildTransaction(ctx context.Context, req *BuildRequest) (*model.BuiltTransaction, error) {
	body, err := json.Marshal(okdexSwapRequest{
		FromTokenAddress: req.Quote.InputMint,
		ToTokenAddress:   req.Quote.OutputMint,
		Amount:           req.Quote.InAmount,
		SlippageBps:      req.Quote.SlippageBps,
		UserWalletAddr:   req.UserPublicKey,
		FeeAccount:       req.Options.FeeAccount,
		GasPriceMicro:    req.Options.ComputeUnitPriceMicro,
		LegacyFormat:     req.Options.AsLegacyTransaction,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "failed to encode swap request", err)
	}

	const path = "/api/v5/dex/aggregator/swap"
	headers := a.signedHeaders(http.MethodPost, path, "", body)

	start := time.Now()
	payload, err := a.http.do(ctx, http.MethodPost, a.http.config.BaseURL+path, body, headers)
	elapsed := time.Since(start)
	if err != nil {
		a.record("swap", "error", elapsed)
		return nil, err
	}
	a.record("swap", "success", elapsed)

	var data okdexSwapData
	if err := a.decode(payload, &data); err != nil {
		return nil, err
	}
	if data.CallData == "" {
		return nil, errs.New(errs.DexInvalidResponse, "okx-dex swap missing call data").WithDetail("provider", okdexName)
	}
	return &model.BuiltTransaction{
		SwapTransaction:      data.CallData,
		LastValidBlockHeight: data.BlockHeight,
		PrioritizationFee:    data.GasPrice,
	}, nil
}

// SimulateTransaction dry-runs built call data.
func (a *OKDexAdapter) SimulateTransaction(ctx context.Context, transactionBlob, userPublicKey string) (*model.SimulationResult, error) {
	body, err := json.Marshal(okdexSimulateRequest{CallData: transactionBlob, UserWalletAddr: userPublicKey})
	if err != nil {
		return nil, errs.Wrap(errs.ExternalServiceError, "failed to encode simulate request", err)
	}

	const path = "/api/v5/dex/aggregator/simulate"
	headers := a.signedHeaders(http.MethodPost, path, "", body)

	start := time.Now()
	payload, err := a.http.do(ctx, http.MethodPost, a.http.config.BaseURL+path, body, headers)
	elapsed := time.Since(start)
	if err != nil {
		a.record("simulate", "error", elapsed)
		return nil, err
	}
	a.record("simulate", "success", elapsed)

	var data okdexSimulateData
	if err := a.decode(payload, &data); err != nil {
		return nil, err
	}
	return &model.SimulationResult{
		Success:              data.Success,
		Error:                data.FailReason,
		ComputeUnitsConsumed: data.GasUsed,
		Logs:                 data.Logs,
	}, nil
}

// IsHealthy probes the public status endpoint; no signature required.
func (a *OKDexAdapter) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := a.http.do(ctx, http.MethodGet, a.http.config.BaseURL+"/api/v5/system/status", nil, nil)
	if err != nil {
		log.Debug().Err(err).Str("provider", okdexName).Msg("Health probe failed")
		return false
	}
	return true
}

// decode unwraps the response envelope and decodes the first data element.
func (a *OKDexAdapter) decode(payload []byte, out interface{}) error {
	var env okdexEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return errs.Wrap(errs.DexInvalidResponse, "okx-dex payload undecodable", err).WithDetail("provider", okdexName)
	}
	if env.Code != "0" {
		return errs.New(errs.DexInvalidResponse, "okx-dex returned an error code").
			WithDetail("provider", okdexName).
			WithDetail("code", env.Code)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
		return errs.New(errs.DexInvalidResponse, "okx-dex data array empty or malformed").WithDetail("provider", okdexName)
	}
	if err := json.Unmarshal(items[0], out); err != nil {
		return errs.Wrap(errs.DexInvalidResponse, "okx-dex data element undecodable", err).WithDetail("provider", okdexName)
	}
	return nil
}

func (a *OKDexAdapter) record(operation, result string, latency time.Duration) {
	if a.metrics != nil {
		a.metrics.RecordProviderCall(okdexName, operation, result, latency)
	}
}
