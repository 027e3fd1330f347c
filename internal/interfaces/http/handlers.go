package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/solroute/internal/engine"
	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/executor"
	"github.com/sawpanic/solroute/internal/infrastructure/db"
	"github.com/sawpanic/solroute/internal/model"
	"github.com/sawpanic/solroute/internal/persistence"
)

// Handlers bundles the API endpoints over the routing core.
type Handlers struct {
	engine   *engine.Engine
	executor *executor.Executor
	database *db.Manager
	started  time.Time
	version  string
}

// NewHandlers creates the handler set. database may be nil.
func NewHandlers(eng *engine.Engine, exec *executor.Executor, database *db.Manager, version string) *Handlers {
	return &Handlers{
		engine:   eng,
		executor: exec,
		database: database,
		started:  time.Now(),
		version:  version,
	}
}

// quoteResponse is the quote endpoint payload: the ranked route plus an
// itemized fee breakdown.
type quoteResponse struct {
	*model.RouteResponse
	FeeBreakdown model.FeeBreakdown `json:"feeBreakdown"`
}

// Quote handles GET /v1/quote.
func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := &model.QuoteRequest{
		InputMint:     q.Get("inputMint"),
		OutputMint:    q.Get("outputMint"),
		Amount:        q.Get("amount"),
		UserPublicKey: q.Get("userPublicKey"),
	}
	if v := q.Get("slippageBps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, errs.Newf(errs.InvalidInput, "slippageBps %q is not an integer", v))
			return
		}
		req.SlippageBps = n
	}
	if v := q.Get("maxRoutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, errs.Newf(errs.InvalidInput, "maxRoutes %q is not an integer", v))
			return
		}
		// An explicit 0 is "best route only"; only an absent parameter
		// takes the default.
		req.MaxAlternatives = &n
	}
	if v := q.Get("favorLowLatency"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, errs.Newf(errs.InvalidInput, "favorLowLatency %q is not a boolean", v))
			return
		}
		req.FavorLowLatency = b
	}

	resp, err := h.engine.FindBestRoute(r.Context(), req, RequestID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		RouteResponse: resp,
		FeeBreakdown:  feeBreakdown(&resp.Best),
	})
}

// QuoteByID handles GET /v1/quote/{id}.
func (h *Handlers) QuoteByID(w http.ResponseWriter, r *http.Request) {
	record, err := h.engine.GetQuote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// executeRequest is the POST /v1/swap/execute body.
type executeRequest struct {
	QuoteID               string `json:"quoteId"`
	UserPublicKey         string `json:"userPublicKey"`
	WrapAndUnwrapSol      *bool  `json:"wrapAndUnwrapSol,omitempty"`
	UseSharedAccounts     *bool  `json:"useSharedAccounts,omitempty"`
	FeeAccount            string `json:"feeAccount,omitempty"`
	ComputeUnitPriceMicro uint64 `json:"computeUnitPriceMicroLamports,omitempty"`
	AsLegacyTransaction   bool   `json:"asLegacyTransaction,omitempty"`
}

// ExecuteSwap handles POST /v1/swap/execute.
func (h *Handlers) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errs.Wrap(errs.InvalidInput, "request body is not valid JSON", err))
		return
	}

	result, err := h.executor.ExecuteSwap(r.Context(), req.QuoteID, req.UserPublicKey, model.BuildOptions{
		WrapAndUnwrapSol:      req.WrapAndUnwrapSol,
		UseSharedAccounts:     req.UseSharedAccounts,
		FeeAccount:            req.FeeAccount,
		ComputeUnitPriceMicro: req.ComputeUnitPriceMicro,
		AsLegacyTransaction:   req.AsLegacyTransaction,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// simulateRequest is the POST /v1/swap/simulate body.
type simulateRequest struct {
	QuoteID       string `json:"quoteId"`
	UserPublicKey string `json:"userPublicKey"`
}

// SimulateSwap handles POST /v1/swap/simulate.
func (h *Handlers) SimulateSwap(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errs.Wrap(errs.InvalidInput, "request body is not valid JSON", err))
		return
	}

	outcome, err := h.executor.SimulateSwap(r.Context(), req.QuoteID, req.UserPublicKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// SwapStatus handles GET /v1/swap/{id}.
func (h *Handlers) SwapStatus(w http.ResponseWriter, r *http.Request) {
	record, err := h.executor.GetSwapStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// CancelSwap handles POST /v1/swap/{id}/cancel. Only PENDING swaps cancel.
func (h *Handlers) CancelSwap(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.executor.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := h.executor.GetSwapStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ListSwaps handles GET /v1/swaps.
func (h *Handlers) ListSwaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, errs.Newf(errs.InvalidInput, "limit %q is not a non-negative integer", v))
			return
		}
		limit = n
	}

	records, err := h.executor.ListSwaps(r.Context(), q.Get("userPublicKey"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*persistence.SwapTransactionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"swaps": records,
		"count": len(records),
	})
}

// NotFound renders unknown paths as typed errors.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, errs.Newf(errs.RouteNotFound, "no handler for %s %s", r.Method, r.URL.Path))
}
