package executor

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sawpanic/solroute/internal/adapter"
	"github.com/sawpanic/solroute/internal/circuit"
	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/model"
	"github.com/sawpanic/solroute/internal/persistence"
)

// memQuotes / memSwaps are in-memory repositories mirroring the SQL
// contracts, including the monotone status rule.
type memQuotes struct {
	mu    sync.Mutex
	items map[string]*persistence.QuoteRecord
}

func (m *memQuotes) Insert(_ context.Context, r *persistence.QuoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *memQuotes) GetByID(_ context.Context, id string) (*persistence.QuoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memQuotes) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.items {
		if r.ExpiresAt.Before(before) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

type memSwaps struct {
	mu    sync.Mutex
	items map[string]*persistence.SwapTransactionRecord
}

func (m *memSwaps) Insert(_ context.Context, r *persistence.SwapTransactionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *memSwaps) GetByID(_ context.Context, id string) (*persistence.SwapTransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memSwaps) UpdateStatus(_ context.Context, id string, update persistence.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.Status != persistence.SwapPending {
		return errs.New(errs.InvalidInput, "swap is not pending or does not exist").WithDetail("id", id)
	}
	r.Status = update.Status
	if update.TxHash != nil {
		r.TxHash = update.TxHash
	}
	r.ErrorCode = update.ErrorCode
	r.ErrorMessage = update.ErrorMessage
	if update.ExecutionTimeMs != nil {
		r.ExecutionTimeMs = update.ExecutionTimeMs
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memSwaps) AttachTransaction(_ context.Context, id string, routeData []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok || r.Status != persistence.SwapPending {
		return errs.New(errs.InvalidInput, "swap is not pending or does not exist").WithDetail("id", id)
	}
	r.RouteData = routeData
	return nil
}

func (m *memSwaps) ListByUser(_ context.Context, user string, limit int) ([]*persistence.SwapTransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*persistence.SwapTransactionRecord
	for _, r := range m.items {
		if r.UserPublicKey == user {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSwaps) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.items {
		if r.Status == persistence.SwapPending && r.ExpiresAt.Before(now) {
			r.Status = persistence.SwapExpired
			n++
		}
	}
	return n, nil
}

// buildCountingAdapter fails the test if BuildTransaction runs when it
// must not, and counts calls otherwise. The quote of the last build is
// kept for inspection.
type buildCountingAdapter struct {
	name      string
	builds    int64
	fail      error
	lastQuote *model.NormalizedQuote
}

func (a *buildCountingAdapter) Name() string { return a.name }

func (a *buildCountingAdapter) Quote(context.Context, *model.QuoteRequest) (*model.NormalizedQuote, error) {
	return nil, errs.New(errs.DexUnavailable, "not used in executor tests")
}

func (a *buildCountingAdapter) BuildTransaction(_ context.Context, req *adapter.BuildRequest) (*model.BuiltTransaction, error) {
	atomic.AddInt64(&a.builds, 1)
	a.lastQuote = req.Quote
	if a.fail != nil {
		return nil, a.fail
	}
	return &model.BuiltTransaction{
		SwapTransaction:      "b64-transaction-blob",
		LastValidBlockHeight: 250000000,
	}, nil
}

func (a *buildCountingAdapter) SimulateTransaction(context.Context, string, string) (*model.SimulationResult, error) {
	return &model.SimulationResult{Success: true, ComputeUnitsConsumed: 140000}, nil
}

func (a *buildCountingAdapter) IsHealthy(context.Context) bool { return true }

type singleAdapterRegistry struct{ a adapter.Adapter }

func (r singleAdapterRegistry) Adapter(name string) adapter.Adapter {
	if r.a != nil && r.a.Name() == name {
		return r.a
	}
	return nil
}

func newTestExecutor(a adapter.Adapter) (*Executor, *memQuotes, *memSwaps) {
	quotes := &memQuotes{items: make(map[string]*persistence.QuoteRecord)}
	swaps := &memSwaps{items: make(map[string]*persistence.SwapTransactionRecord)}
	repo := &persistence.Repository{Quotes: quotes, Swaps: swaps}
	exec := New(singleAdapterRegistry{a: a}, circuit.NewRegistry(circuit.DefaultConfig(), nil), repo, nil)
	return exec, quotes, swaps
}

func storedQuote(id string, expiresIn time.Duration) *persistence.QuoteRecord {
	now := time.Now().UTC()
	plan, _ := json.Marshal([]model.RouteStep{{
		AMMKey:     "pool-1",
		InputMint:  "SOL",
		OutputMint: "USDC",
		InAmount:   "1000000000",
		OutAmount:  "145670000",
	}})
	fee := "250000"
	feeBps := 25
	return &persistence.QuoteRecord{
		ID:             id,
		Provider:       "jupiter",
		InputMint:      "SOL",
		OutputMint:     "USDC",
		InAmount:       "1000000000",
		OutAmount:      "145670000",
		SlippageBps:    50,
		PriceImpactPct: "0.01",
		RoutePlan:      plan,
		PlatformFee:    &fee,
		PlatformFeeBps: &feeBps,
		ResponseTimeMs: 250,
		CreatedAt:      now,
		ExpiresAt:      now.Add(expiresIn),
	}
}

func TestExecuteSwapHappyPath(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, swaps := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))

	result, err := exec.ExecuteSwap(ctx, "q1", "UserKey111", model.BuildOptions{})
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}
	if result.Status != persistence.SwapPending {
		t.Fatalf("status = %s, want PENDING", result.Status)
	}
	if result.Transaction == nil || result.Transaction.SwapTransaction != "b64-transaction-blob" {
		t.Fatal("built transaction not returned")
	}
	if atomic.LoadInt64(&a.builds) != 1 {
		t.Fatalf("build called %d times, want 1", a.builds)
	}

	record, _ := swaps.GetByID(ctx, result.TransactionID)
	if record == nil {
		t.Fatal("no swap record persisted")
	}
	if record.Status != persistence.SwapPending || record.Provider != "jupiter" {
		t.Fatalf("record = %+v", record)
	}
	// Min output reflects 50 bps slippage: floor(145670000 * 0.995).
	if record.MinOutAmount != "144941650" {
		t.Fatalf("minOutAmount = %s, want 144941650", record.MinOutAmount)
	}
	// The rebuilt quote hands the adapter the full stored fee, bps included.
	if a.lastQuote == nil || a.lastQuote.PlatformFee == nil {
		t.Fatal("platform fee not rebuilt from the stored quote")
	}
	if a.lastQuote.PlatformFee.Amount != "250000" || a.lastQuote.PlatformFee.FeeBps != 25 {
		t.Fatalf("rebuilt platform fee = %+v, want 250000/25bps", a.lastQuote.PlatformFee)
	}
	if len(record.RouteData) == 0 {
		t.Fatal("transaction blob not attached to record")
	}
}

func TestExecuteSwapExpiredQuote(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, swaps := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", -time.Second))

	_, err := exec.ExecuteSwap(ctx, "q1", "UserKey111", model.BuildOptions{})
	if errs.CodeOf(err) != errs.RouteExpired {
		t.Fatalf("code = %v, want ROUTE_EXPIRED", errs.CodeOf(err))
	}
	if atomic.LoadInt64(&a.builds) != 0 {
		t.Fatal("adapter called for an expired quote")
	}
	swaps.mu.Lock()
	n := len(swaps.items)
	swaps.mu.Unlock()
	if n != 0 {
		t.Fatal("swap record created for an expired quote")
	}
}

func TestExecuteSwapUnknownQuote(t *testing.T) {
	exec, _, _ := newTestExecutor(&buildCountingAdapter{name: "jupiter"})

	_, err := exec.ExecuteSwap(context.Background(), "missing", "UserKey111", model.BuildOptions{})
	if errs.CodeOf(err) != errs.RouteNotFound {
		t.Fatalf("code = %v, want ROUTE_NOT_FOUND", errs.CodeOf(err))
	}
}

func TestExecuteSwapBuildFailureLeavesPending(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter", fail: errs.New(errs.DexUnavailable, "upstream down")}
	exec, quotes, swaps := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))

	_, err := exec.ExecuteSwap(ctx, "q1", "UserKey111", model.BuildOptions{})
	if errs.CodeOf(err) != errs.DexUnavailable {
		t.Fatalf("code = %v, want DEX_UNAVAILABLE", errs.CodeOf(err))
	}

	// The opened record survives for the sweeper or a manual update.
	swaps.mu.Lock()
	var record *persistence.SwapTransactionRecord
	for _, r := range swaps.items {
		record = r
	}
	swaps.mu.Unlock()
	if record == nil || record.Status != persistence.SwapPending {
		t.Fatalf("record after build failure = %+v, want PENDING", record)
	}
}

func TestUpdateSwapStatusTerminalTransition(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, _ := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))
	result, err := exec.ExecuteSwap(ctx, "q1", "UserKey111", model.BuildOptions{})
	if err != nil {
		t.Fatalf("ExecuteSwap: %v", err)
	}

	hash := "5signature"
	if err := exec.UpdateSwapStatus(ctx, result.TransactionID, persistence.SwapCompleted, &hash, nil, nil); err != nil {
		t.Fatalf("UpdateSwapStatus: %v", err)
	}

	record, err := exec.GetSwapStatus(ctx, result.TransactionID)
	if err != nil {
		t.Fatalf("GetSwapStatus: %v", err)
	}
	if record.Status != persistence.SwapCompleted {
		t.Fatalf("status = %s, want COMPLETED", record.Status)
	}
	if record.TxHash == nil || *record.TxHash != hash {
		t.Fatal("tx hash not recorded")
	}
	if record.ExecutionTimeMs == nil || *record.ExecutionTimeMs < 0 {
		t.Fatal("executionTimeMs not stamped on terminal transition")
	}

	// Terminal states never re-open.
	err = exec.UpdateSwapStatus(ctx, result.TransactionID, persistence.SwapFailed, nil, nil, nil)
	if errs.CodeOf(err) != errs.InvalidInput {
		t.Fatalf("second transition code = %v, want INVALID_INPUT", errs.CodeOf(err))
	}
	record, _ = exec.GetSwapStatus(ctx, result.TransactionID)
	if record.Status != persistence.SwapCompleted {
		t.Fatal("terminal state was overwritten")
	}
}

func TestUpdateSwapStatusRejectsNonTerminal(t *testing.T) {
	exec, _, _ := newTestExecutor(&buildCountingAdapter{name: "jupiter"})
	err := exec.UpdateSwapStatus(context.Background(), "any", persistence.SwapPending, nil, nil, nil)
	if errs.CodeOf(err) != errs.InvalidInput {
		t.Fatalf("code = %v, want INVALID_INPUT", errs.CodeOf(err))
	}
}

func TestCancelPendingSwap(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, _ := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))
	result, _ := exec.ExecuteSwap(ctx, "q1", "UserKey111", model.BuildOptions{})

	if err := exec.Cancel(ctx, result.TransactionID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	record, _ := exec.GetSwapStatus(ctx, result.TransactionID)
	if record.Status != persistence.SwapFailed {
		t.Fatalf("status = %s after cancel, want FAILED", record.Status)
	}

	// A second cancel hits a terminal record.
	if err := exec.Cancel(ctx, result.TransactionID); errs.CodeOf(err) != errs.InvalidInput {
		t.Fatalf("cancel of terminal swap code = %v, want INVALID_INPUT", errs.CodeOf(err))
	}
}

func TestSimulateSwap(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, swaps := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))

	outcome, err := exec.SimulateSwap(ctx, "q1", "UserKey111")
	if err != nil {
		t.Fatalf("SimulateSwap: %v", err)
	}
	if outcome.Simulation == nil || !outcome.Simulation.Success {
		t.Fatalf("simulation = %+v", outcome.Simulation)
	}

	// Simulation opens no lifecycle record.
	swaps.mu.Lock()
	n := len(swaps.items)
	swaps.mu.Unlock()
	if n != 0 {
		t.Fatalf("simulation created %d swap records, want 0", n)
	}
}

func TestExpirePendingSweep(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, swaps := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))
	result, _ := exec.ExecuteSwap(ctx, "q1", "UserKey111", model.BuildOptions{})

	// Nothing is overdue yet.
	if n, _ := swaps.ExpirePending(ctx, time.Now().UTC()); n != 0 {
		t.Fatalf("expired %d fresh records", n)
	}
	// Past the validity window the record expires.
	if n, _ := swaps.ExpirePending(ctx, time.Now().UTC().Add(SwapValidity+time.Second)); n != 1 {
		t.Fatal("overdue pending record not expired")
	}
	record, _ := exec.GetSwapStatus(ctx, result.TransactionID)
	if record.Status != persistence.SwapExpired {
		t.Fatalf("status = %s, want EXPIRED", record.Status)
	}
}

func TestListSwapsByUser(t *testing.T) {
	a := &buildCountingAdapter{name: "jupiter"}
	exec, quotes, _ := newTestExecutor(a)
	ctx := context.Background()

	quotes.Insert(ctx, storedQuote("q1", 30*time.Second))
	quotes.Insert(ctx, storedQuote("q2", 30*time.Second))
	exec.ExecuteSwap(ctx, "q1", "UserA", model.BuildOptions{})
	exec.ExecuteSwap(ctx, "q2", "UserA", model.BuildOptions{})

	records, err := exec.ListSwaps(ctx, "UserA", 10)
	if err != nil {
		t.Fatalf("ListSwaps: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d records, want 2", len(records))
	}
	if _, err := exec.ListSwaps(ctx, "", 10); errs.CodeOf(err) != errs.InvalidInput {
		t.Fatal("empty user accepted")
	}
}
