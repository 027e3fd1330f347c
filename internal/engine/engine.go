package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/solroute/internal/adapter"
	"github.com/sawpanic/solroute/internal/cache"
	"github.com/sawpanic/solroute/internal/circuit"
	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/model"
	"github.com/sawpanic/solroute/internal/persistence"
)

// Config holds the routing timeouts and cache lifetimes.
type Config struct {
	RouteTTL                time.Duration `yaml:"route_ttl"`
	ProviderQuoteTTL        time.Duration `yaml:"provider_quote_ttl"`
	QuoteCoalesceTimeout    time.Duration `yaml:"quote_coalesce_timeout"`
	RouteCoalesceTimeout    time.Duration `yaml:"route_coalesce_timeout"`
	ProviderCoalesceTimeout time.Duration `yaml:"provider_coalesce_timeout"`
	QuoteValidity           time.Duration `yaml:"quote_validity"`
}

// DefaultConfig returns the production routing parameters.
func DefaultConfig() Config {
	return Config{
		RouteTTL:                30 * time.Second,
		ProviderQuoteTTL:        15 * time.Second,
		QuoteCoalesceTimeout:    10 * time.Second,
		RouteCoalesceTimeout:    8 * time.Second,
		ProviderCoalesceTimeout: 5 * time.Second,
		QuoteValidity:           30 * time.Second,
	}
}

// Engine fans a quote request out to every registered adapter in parallel,
// scores the surviving quotes, and returns the best route with ranked
// alternatives. Identical concurrent requests collapse onto one calculation.
type Engine struct {
	adapters  []adapter.Adapter
	byName    map[string]adapter.Adapter
	coalescer *cache.Coalescer
	breakers  *circuit.Registry
	scorer    *Scorer
	repo      *persistence.Repository
	config    Config
}

// NewEngine wires the engine. repo may be nil to disable quote persistence.
func NewEngine(adapters []adapter.Adapter, coalescer *cache.Coalescer, breakers *circuit.Registry, scorer *Scorer, repo *persistence.Repository, config Config) *Engine {
	byName := make(map[string]adapter.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Engine{
		adapters:  adapters,
		byName:    byName,
		coalescer: coalescer,
		breakers:  breakers,
		scorer:    scorer,
		repo:      repo,
		config:    config,
	}
}

// Adapter returns the adapter registered under name, or nil.
func (e *Engine) Adapter(name string) adapter.Adapter {
	return e.byName[name]
}

// Providers lists registered adapter names.
func (e *Engine) Providers() []string {
	names := make([]string, 0, len(e.adapters))
	for _, a := range e.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Breakers exposes the circuit registry for diagnostics.
func (e *Engine) Breakers() *circuit.Registry {
	return e.breakers
}

// FindBestRoute calculates the best route for the request. The outer layer
// caches and coalesces on the request fingerprint (mints, amount, slippage);
// misses fall through to the route calculation, which is itself coalesced.
func (e *Engine) FindBestRoute(ctx context.Context, req *model.QuoteRequest, requestID string) (*model.RouteResponse, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, errs.AsError(err).WithRequestID(requestID)
	}

	start := time.Now()
	key := cache.QuoteKey(req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)

	resp, fromCache, err := cache.GetWithCoalescing(ctx, e.coalescer, key, func(fctx context.Context) (*model.RouteResponse, error) {
		return e.routeCoalesced(fctx, req)
	}, e.config.QuoteCoalesceTimeout, e.config.RouteTTL)
	if err != nil {
		return nil, errs.AsError(err).WithRequestID(requestID)
	}

	// Identity, timing, and the alternatives bound are per-request even
	// when the route itself is shared; work on a copy so coalesced waiters
	// are not affected.
	out := *resp
	if n := *req.MaxAlternatives; len(out.Alternatives) > n {
		out.Alternatives = out.Alternatives[:n]
	}
	out.RequestID = requestID
	out.TotalResponseTimeMs = time.Since(start).Milliseconds()
	if fromCache {
		out.CacheHitRatio = 1.0
	}
	return &out, nil
}

// routeCoalesced collapses concurrent calculations for the same route shape.
// The fingerprint layer above owns caching, so this layer coalesces only.
func (e *Engine) routeCoalesced(ctx context.Context, req *model.QuoteRequest) (*model.RouteResponse, error) {
	key := cache.RouteKey(req.InputMint, req.OutputMint, req.Amount)
	resp, _, err := cache.GetWithCoalescing(ctx, e.coalescer, key, func(fctx context.Context) (*model.RouteResponse, error) {
		return e.calculateRoute(fctx, req)
	}, e.config.RouteCoalesceTimeout, 0)
	return resp, err
}

// calculateRoute is the coalesced body: fan out, rank, persist.
func (e *Engine) calculateRoute(ctx context.Context, req *model.QuoteRequest) (*model.RouteResponse, error) {
	type result struct {
		candidate *model.RankedQuote
		err       error
	}

	results := make([]result, len(e.adapters))
	var wg sync.WaitGroup
	for i, a := range e.adapters {
		wg.Add(1)
		go func(i int, a adapter.Adapter) {
			defer wg.Done()
			candidate, err := e.providerQuote(ctx, a, req)
			results[i] = result{candidate: candidate, err: err}
		}(i, a)
	}
	wg.Wait()

	candidates := make([]*model.RankedQuote, 0, len(results))
	cachedHits := 0
	for i, r := range results {
		if r.err != nil {
			// Partial failure is tolerated; ranking works with whoever
			// answered.
			log.Warn().Err(r.err).Str("provider", e.adapters[i].Name()).Msg("Provider quote failed")
			continue
		}
		if r.candidate.IsCached {
			cachedHits++
		}
		candidates = append(candidates, r.candidate)
	}

	ranked := e.scorer.Rank(candidates, req.FavorLowLatency)
	if len(ranked) == 0 {
		// Per-branch causes: the error code for providers that failed,
		// DEX_INVALID_RESPONSE for ones whose quote was unusable.
		causes := make(map[string]string, len(results))
		for i, r := range results {
			if r.err != nil {
				causes[e.adapters[i].Name()] = string(errs.CodeOf(r.err))
			} else {
				causes[e.adapters[i].Name()] = string(errs.DexInvalidResponse)
			}
		}
		return nil, errs.New(errs.RouteNotFound, "no provider returned a usable quote").
			WithDetail("inputMint", req.InputMint).
			WithDetail("outputMint", req.OutputMint).
			WithDetail("amount", req.Amount).
			WithDetail("providers", causes)
	}

	hitRatio := 0.0
	if len(candidates) > 0 {
		hitRatio = float64(cachedHits) / float64(len(candidates))
	}

	// The shared response carries every alternative up to the hard bound;
	// each request trims to its own maxAlternatives on the way out.
	maxAlt := len(ranked) - 1
	if maxAlt > model.MaxRoutes {
		maxAlt = model.MaxRoutes
	}
	alternatives := make([]model.RankedQuote, 0, maxAlt)
	for _, alt := range ranked[1 : 1+maxAlt] {
		alternatives = append(alternatives, *alt)
	}

	resp := &model.RouteResponse{
		QuoteID:       uuid.New().String(),
		Best:          *ranked[0],
		Alternatives:  alternatives,
		CacheHitRatio: hitRatio,
		CalculatedAt:  time.Now().UTC(),
	}

	e.persistQuote(ctx, resp)
	return resp, nil
}

// providerQuote fetches one provider's quote through its circuit breaker,
// with per-provider caching and coalescing.
func (e *Engine) providerQuote(ctx context.Context, a adapter.Adapter, req *model.QuoteRequest) (*model.RankedQuote, error) {
	key := cache.ProviderQuoteKey(a.Name(), req.InputMint, req.OutputMint, req.Amount, req.SlippageBps)

	start := time.Now()
	quote, fromCache, err := cache.GetWithCoalescing(ctx, e.coalescer, key, func(fctx context.Context) (*model.NormalizedQuote, error) {
		return circuit.ExecuteGuarded(fctx, e.breakers, a.Name(), "quote", func(tctx context.Context) (*model.NormalizedQuote, error) {
			return a.Quote(tctx, req)
		}, nil)
	}, e.config.ProviderCoalesceTimeout, e.config.ProviderQuoteTTL)
	if err != nil {
		return nil, err
	}
	if quote == nil {
		return nil, errs.New(errs.DexInvalidResponse, "provider returned an empty quote").WithDetail("provider", a.Name())
	}

	responseTime := quote.TimeTakenMs
	if responseTime == 0 || fromCache {
		responseTime = time.Since(start).Milliseconds()
	}
	return &model.RankedQuote{
		Provider:       a.Name(),
		Quote:          *quote,
		ResponseTimeMs: responseTime,
		IsCached:       fromCache,
	}, nil
}

// persistQuote records the winning quote best-effort; routing never fails
// on storage problems.
func (e *Engine) persistQuote(ctx context.Context, resp *model.RouteResponse) {
	if e.repo == nil || e.repo.Quotes == nil {
		return
	}

	best := resp.Best
	routePlan, err := json.Marshal(best.Quote.RoutePlan)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode route plan for persistence")
		return
	}

	record := &persistence.QuoteRecord{
		ID:             resp.QuoteID,
		Provider:       best.Provider,
		InputMint:      best.Quote.InputMint,
		OutputMint:     best.Quote.OutputMint,
		InAmount:       best.Quote.InAmount,
		OutAmount:      best.Quote.OutAmount,
		SlippageBps:    best.Quote.SlippageBps,
		PriceImpactPct: best.Quote.PriceImpactPct,
		RoutePlan:      routePlan,
		ResponseTimeMs: best.ResponseTimeMs,
		IsCached:       best.IsCached,
		CreatedAt:      resp.CalculatedAt,
		ExpiresAt:      resp.CalculatedAt.Add(e.config.QuoteValidity),
	}
	if best.Quote.PlatformFee != nil {
		fee := best.Quote.PlatformFee.Amount
		record.PlatformFee = &fee
		bps := best.Quote.PlatformFee.FeeBps
		record.PlatformFeeBps = &bps
	}
	if best.Quote.GasEstimate > 0 {
		gas := int64(best.Quote.GasEstimate)
		record.GasEstimate = &gas
	}
	score := best.Score.TotalScore
	record.EfficiencyScore = &score
	rel := best.Score.Reliability
	record.ReliabilityScore = &rel

	if err := e.repo.Quotes.Insert(ctx, record); err != nil {
		log.Warn().Err(err).Str("quote_id", record.ID).Msg("Failed to persist quote record")
	}
}

// GetQuote loads a persisted quote record by id.
func (e *Engine) GetQuote(ctx context.Context, id string) (*persistence.QuoteRecord, error) {
	if e.repo == nil || e.repo.Quotes == nil {
		return nil, errs.New(errs.DatabaseError, "quote persistence is disabled")
	}
	record, err := e.repo.Quotes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errs.New(errs.RouteNotFound, "quote not found").WithDetail("id", id)
	}
	return record, nil
}

// ProviderHealth probes every adapter concurrently with a shared deadline.
func (e *Engine) ProviderHealth(ctx context.Context) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	out := make(map[string]bool, len(e.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, a := range e.adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			healthy := a.IsHealthy(ctx)
			mu.Lock()
			out[a.Name()] = healthy
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return out
}
