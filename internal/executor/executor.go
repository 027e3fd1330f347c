package executor

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/solroute/internal/adapter"
	"github.com/sawpanic/solroute/internal/circuit"
	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/metrics"
	"github.com/sawpanic/solroute/internal/model"
	"github.com/sawpanic/solroute/internal/persistence"
)

// SwapValidity bounds how long a PENDING swap may wait for signing before
// it is expired.
const SwapValidity = 30 * time.Second

// AdapterRegistry resolves a provider name to its adapter.
type AdapterRegistry interface {
	Adapter(name string) adapter.Adapter
}

// ExecutionResult is the outcome of ExecuteSwap.
type ExecutionResult struct {
	TransactionID    string                  `json:"transactionId"`
	Status           persistence.SwapStatus  `json:"status"`
	Transaction      *model.BuiltTransaction `json:"transaction"`
	ProcessingTimeMs int64                   `json:"processingTime"`
	ExpiresAt        time.Time               `json:"expiresAt"`
}

// SimulationOutcome is the outcome of SimulateSwap.
type SimulationOutcome struct {
	TransactionID    string                  `json:"transactionId,omitempty"`
	Transaction      *model.BuiltTransaction `json:"transaction"`
	Simulation       *model.SimulationResult `json:"simulation"`
	ProcessingTimeMs int64                   `json:"processingTime"`
}

// auditBlob is the payload stored on the swap record for later inspection.
type auditBlob struct {
	Quote       *model.NormalizedQuote  `json:"quote"`
	Options     model.BuildOptions      `json:"options"`
	Transaction *model.BuiltTransaction `json:"transaction,omitempty"`
}

// Executor binds stored quotes to users and drives the swap transaction
// lifecycle. Records are durable; creation times are additionally kept in
// memory so terminal transitions can stamp executionTimeMs without a
// re-read.
type Executor struct {
	adapters AdapterRegistry
	breakers *circuit.Registry
	repo     *persistence.Repository
	metrics  *metrics.Registry

	mu       sync.Mutex
	openedAt map[string]time.Time
}

// New creates an executor. metrics may be nil; repo must not be.
func New(adapters AdapterRegistry, breakers *circuit.Registry, repo *persistence.Repository, m *metrics.Registry) *Executor {
	return &Executor{
		adapters: adapters,
		breakers: breakers,
		repo:     repo,
		metrics:  m,
		openedAt: make(map[string]time.Time),
	}
}

// ExecuteSwap loads the quote, opens a PENDING record, and asks the quote's
// provider to build the transaction. Expired quotes fail before any adapter
// or database write happens.
func (e *Executor) ExecuteSwap(ctx context.Context, quoteID, userPublicKey string, options model.BuildOptions) (*ExecutionResult, error) {
	start := time.Now()

	quote, record, a, err := e.prepare(ctx, quoteID, userPublicKey, options, start)
	if err != nil {
		return nil, err
	}

	// The record is open before the upstream call; a build failure leaves
	// it PENDING for the expiry sweeper or an explicit status update.
	if err := e.repo.Swaps.Insert(ctx, record); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.openedAt[record.ID] = record.CreatedAt
	e.mu.Unlock()

	built, err := circuit.ExecuteGuarded(ctx, e.breakers, record.Provider, "build", func(tctx context.Context) (*model.BuiltTransaction, error) {
		return a.BuildTransaction(tctx, &adapter.BuildRequest{
			Quote:         quote,
			UserPublicKey: userPublicKey,
			Options:       options,
		})
	}, nil)
	if err != nil {
		log.Warn().Err(err).Str("swap_id", record.ID).Str("provider", record.Provider).Msg("Transaction build failed")
		return nil, errs.AsError(err)
	}

	blob, _ := json.Marshal(auditBlob{Quote: quote, Options: options, Transaction: built})
	if err := e.repo.Swaps.AttachTransaction(ctx, record.ID, blob); err != nil {
		log.Warn().Err(err).Str("swap_id", record.ID).Msg("Failed to attach transaction blob")
	}

	if e.metrics != nil {
		e.metrics.RecordSwap(record.Provider, string(persistence.SwapPending))
	}
	return &ExecutionResult{
		TransactionID:    record.ID,
		Status:           persistence.SwapPending,
		Transaction:      built,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ExpiresAt:        record.ExpiresAt,
	}, nil
}

// SimulateSwap builds and dry-runs the transaction without opening a
// PENDING lifecycle record.
func (e *Executor) SimulateSwap(ctx context.Context, quoteID, userPublicKey string) (*SimulationOutcome, error) {
	start := time.Now()

	quote, _, a, err := e.prepare(ctx, quoteID, userPublicKey, model.BuildOptions{}, start)
	if err != nil {
		return nil, err
	}
	provider := a.Name()

	built, err := circuit.ExecuteGuarded(ctx, e.breakers, provider, "build", func(tctx context.Context) (*model.BuiltTransaction, error) {
		return a.BuildTransaction(tctx, &adapter.BuildRequest{
			Quote:         quote,
			UserPublicKey: userPublicKey,
		})
	}, nil)
	if err != nil {
		return nil, errs.AsError(err)
	}

	sim, err := circuit.ExecuteGuarded(ctx, e.breakers, provider, "simulate", func(tctx context.Context) (*model.SimulationResult, error) {
		return a.SimulateTransaction(tctx, built.SwapTransaction, userPublicKey)
	}, nil)
	if err != nil {
		return nil, errs.AsError(err)
	}

	return &SimulationOutcome{
		Transaction:      built,
		Simulation:       sim,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// prepare loads and verifies the quote and materializes the PENDING record
// shape shared by execute and simulate.
func (e *Executor) prepare(ctx context.Context, quoteID, userPublicKey string, options model.BuildOptions, now time.Time) (*model.NormalizedQuote, *persistence.SwapTransactionRecord, adapter.Adapter, error) {
	if e.repo == nil || e.repo.Quotes == nil || e.repo.Swaps == nil {
		return nil, nil, nil, errs.New(errs.DatabaseError, "swap persistence is required for execution")
	}
	if quoteID == "" || userPublicKey == "" {
		return nil, nil, nil, errs.New(errs.InvalidInput, "quoteId and userPublicKey are required")
	}

	stored, err := e.repo.Quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, nil, nil, err
	}
	if stored == nil {
		return nil, nil, nil, errs.New(errs.RouteNotFound, "quote not found").WithDetail("quoteId", quoteID)
	}
	if stored.Expired(now) {
		return nil, nil, nil, errs.New(errs.RouteExpired, "quote has expired").
			WithDetail("quoteId", quoteID).
			WithDetail("expiredAt", stored.ExpiresAt.Format(time.RFC3339))
	}

	a := e.adapters.Adapter(stored.Provider)
	if a == nil {
		return nil, nil, nil, errs.New(errs.DexUnavailable, "quote provider is not registered").WithDetail("provider", stored.Provider)
	}

	quote, err := quoteFromRecord(stored)
	if err != nil {
		return nil, nil, nil, err
	}

	record := &persistence.SwapTransactionRecord{
		ID:            uuid.New().String(),
		UserPublicKey: userPublicKey,
		InputMint:     quote.InputMint,
		OutputMint:    quote.OutputMint,
		InAmount:      quote.InAmount,
		OutAmount:     quote.OutAmount,
		MinOutAmount:  quote.OtherAmountThreshold,
		SlippageBps:   quote.SlippageBps,
		Provider:      stored.Provider,
		Status:        persistence.SwapPending,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		ExpiresAt:     now.UTC().Add(SwapValidity),
	}
	if blob, err := json.Marshal(auditBlob{Quote: quote, Options: options}); err == nil {
		record.RouteData = blob
	}
	return quote, record, a, nil
}

// quoteFromRecord reconstructs the normalized quote the record was written
// from. The minimum-output threshold is recomputed from the stored slippage.
func quoteFromRecord(record *persistence.QuoteRecord) (*model.NormalizedQuote, error) {
	var plan []model.RouteStep
	if len(record.RoutePlan) > 0 {
		if err := json.Unmarshal(record.RoutePlan, &plan); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "stored route plan undecodable", err).WithDetail("quoteId", record.ID)
		}
	}

	quote := &model.NormalizedQuote{
		InputMint:            record.InputMint,
		OutputMint:           record.OutputMint,
		InAmount:             record.InAmount,
		OutAmount:            record.OutAmount,
		OtherAmountThreshold: minOutAfterSlippage(record.OutAmount, record.SlippageBps),
		SwapMode:             model.SwapModeExactIn,
		SlippageBps:          record.SlippageBps,
		PriceImpactPct:       record.PriceImpactPct,
		RoutePlan:            plan,
		TimeTakenMs:          record.ResponseTimeMs,
	}
	if record.GasEstimate != nil && *record.GasEstimate > 0 {
		quote.GasEstimate = uint64(*record.GasEstimate)
	}
	if record.PlatformFee != nil {
		quote.PlatformFee = &model.PlatformFee{Amount: *record.PlatformFee}
		if record.PlatformFeeBps != nil {
			quote.PlatformFee.FeeBps = *record.PlatformFeeBps
		}
	}
	return quote, nil
}

// minOutAfterSlippage computes floor(out * (10000 - slippageBps) / 10000)
// in integer arithmetic.
func minOutAfterSlippage(outAmount string, slippageBps int) string {
	out, ok := model.ParseAmount(outAmount)
	if !ok {
		return outAmount
	}
	n := new(big.Int).Mul(out, big.NewInt(int64(10000-slippageBps)))
	return n.Div(n, big.NewInt(10000)).String()
}

// GetSwapStatus reads one swap transaction record.
func (e *Executor) GetSwapStatus(ctx context.Context, transactionID string) (*persistence.SwapTransactionRecord, error) {
	record, err := e.repo.Swaps.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errs.New(errs.RouteNotFound, "swap transaction not found").WithDetail("transactionId", transactionID)
	}
	return record, nil
}

// ListSwaps returns a user's recent swap records, newest first.
func (e *Executor) ListSwaps(ctx context.Context, userPublicKey string, limit int) ([]*persistence.SwapTransactionRecord, error) {
	if userPublicKey == "" {
		return nil, errs.New(errs.InvalidInput, "userPublicKey is required")
	}
	return e.repo.Swaps.ListByUser(ctx, userPublicKey, limit)
}

// UpdateSwapStatus applies a monotone lifecycle transition. Terminal
// transitions stamp executionTimeMs from the creation time.
func (e *Executor) UpdateSwapStatus(ctx context.Context, transactionID string, status persistence.SwapStatus, txHash, errorCode, errorMessage *string) error {
	if !status.Terminal() {
		return errs.New(errs.InvalidInput, "status transitions must target a terminal state").
			WithDetail("status", string(status))
	}

	update := persistence.StatusUpdate{
		Status:       status,
		TxHash:       txHash,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}
	if opened, ok := e.takeOpenedAt(ctx, transactionID); ok {
		elapsed := time.Since(opened).Milliseconds()
		update.ExecutionTimeMs = &elapsed
	}

	if err := e.repo.Swaps.UpdateStatus(ctx, transactionID, update); err != nil {
		return err
	}
	if e.metrics != nil {
		if record, rerr := e.repo.Swaps.GetByID(ctx, transactionID); rerr == nil && record != nil {
			e.metrics.RecordSwap(record.Provider, string(status))
		}
	}
	return nil
}

// Cancel fails a PENDING swap on the user's behalf.
func (e *Executor) Cancel(ctx context.Context, transactionID string) error {
	code := string(errs.TransactionFailed)
	message := "cancelled by user"
	return e.UpdateSwapStatus(ctx, transactionID, persistence.SwapFailed, nil, &code, &message)
}

// takeOpenedAt resolves the record's creation time, preferring the
// in-memory entry and falling back to the stored record.
func (e *Executor) takeOpenedAt(ctx context.Context, transactionID string) (time.Time, bool) {
	e.mu.Lock()
	opened, ok := e.openedAt[transactionID]
	if ok {
		delete(e.openedAt, transactionID)
	}
	e.mu.Unlock()
	if ok {
		return opened, true
	}

	record, err := e.repo.Swaps.GetByID(ctx, transactionID)
	if err != nil || record == nil {
		return time.Time{}, false
	}
	return record.CreatedAt, true
}

// StartExpirySweeper expires overdue PENDING records on an interval until
// the context ends.
func (e *Executor) StartExpirySweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.repo.Swaps.ExpirePending(ctx, time.Now().UTC())
				if err != nil {
					log.Warn().Err(err).Msg("Swap expiry sweep failed")
					continue
				}
				if n > 0 {
					log.Info().Int64("expired", n).Msg("Expired overdue pending swaps")
					e.pruneOpenedAt()
				}
			}
		}
	}()
}

// pruneOpenedAt drops in-memory creation times older than the swap
// validity window.
func (e *Executor) pruneOpenedAt() {
	cutoff := time.Now().Add(-2 * SwapValidity)
	e.mu.Lock()
	for id, opened := range e.openedAt {
		if opened.Before(cutoff) {
			delete(e.openedAt, id)
		}
	}
	e.mu.Unlock()
}
