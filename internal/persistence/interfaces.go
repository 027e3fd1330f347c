package persistence

import (
	"context"
	"time"
)

// SwapStatus is the lifecycle state of a swap transaction record.
// Transitions are monotone: PENDING may move to any terminal state; a
// terminal state is never re-opened.
type SwapStatus string

const (
	SwapPending   SwapStatus = "PENDING"
	SwapCompleted SwapStatus = "COMPLETED"
	SwapFailed    SwapStatus = "FAILED"
	SwapExpired   SwapStatus = "EXPIRED"
)

// Terminal reports whether the status is final.
func (s SwapStatus) Terminal() bool {
	return s == SwapCompleted || s == SwapFailed || s == SwapExpired
}

// QuoteRecord is persisted on each successful route calculation. Immutable
// after write.
type QuoteRecord struct {
	ID              string     `json:"id" db:"id"`
	Provider        string     `json:"provider" db:"provider"`
	InputMint       string     `json:"inputMint" db:"input_mint"`
	OutputMint      string     `json:"outputMint" db:"output_mint"`
	InAmount        string     `json:"inAmount" db:"in_amount"`
	OutAmount       string     `json:"outAmount" db:"out_amount"`
	SlippageBps     int        `json:"slippageBps" db:"slippage_bps"`
	PriceImpactPct  string     `json:"priceImpactPct" db:"price_impact_pct"`
	RoutePlan       []byte     `json:"routePlan" db:"route_plan"`
	PlatformFee     *string    `json:"platformFee,omitempty" db:"platform_fee"`
	PlatformFeeBps  *int       `json:"platformFeeBps,omitempty" db:"platform_fee_bps"`
	GasEstimate     *int64     `json:"gasEstimate,omitempty" db:"gas_estimate"`
	ResponseTimeMs  int64      `json:"responseTimeMs" db:"response_time_ms"`
	IsCached        bool       `json:"isCached" db:"is_cached"`
	EfficiencyScore *float64   `json:"efficiencyScore,omitempty" db:"efficiency_score"`
	ReliabilityScore *float64  `json:"reliabilityScore,omitempty" db:"reliability_score"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt       time.Time  `json:"expiresAt" db:"expires_at"`
}

// Expired reports whether the quote can no longer be executed.
func (q *QuoteRecord) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// SwapTransactionRecord tracks one swap execution through its lifecycle.
type SwapTransactionRecord struct {
	ID              string     `json:"id" db:"id"`
	UserPublicKey   string     `json:"userPublicKey" db:"user_public_key"`
	InputMint       string     `json:"inputMint" db:"input_mint"`
	OutputMint      string     `json:"outputMint" db:"output_mint"`
	InAmount        string     `json:"inAmount" db:"in_amount"`
	OutAmount       string     `json:"outAmount" db:"out_amount"`
	MinOutAmount    string     `json:"minOutAmount" db:"min_out_amount"`
	SlippageBps     int        `json:"slippageBps" db:"slippage_bps"`
	Provider        string     `json:"provider" db:"provider"`
	Status          SwapStatus `json:"status" db:"status"`
	TxHash          *string    `json:"txHash,omitempty" db:"tx_hash"`
	RouteData       []byte     `json:"routeData" db:"route_data"`
	FeeAmount       *string    `json:"feeAmount,omitempty" db:"fee_amount"`
	GasUsed         *int64     `json:"gasUsed,omitempty" db:"gas_used"`
	ExecutionTimeMs *int64     `json:"executionTimeMs,omitempty" db:"execution_time_ms"`
	ErrorCode       *string    `json:"errorCode,omitempty" db:"error_code"`
	ErrorMessage    *string    `json:"errorMessage,omitempty" db:"error_message"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
	ExpiresAt       time.Time  `json:"expiresAt" db:"expires_at"`
}

// StatusUpdate carries the fields applied on a lifecycle transition.
type StatusUpdate struct {
	Status          SwapStatus
	TxHash          *string
	ErrorCode       *string
	ErrorMessage    *string
	ExecutionTimeMs *int64
}

// QuotesRepo persists quote records for execution lookup and analytics.
type QuotesRepo interface {
	// Insert writes a new immutable quote record.
	Insert(ctx context.Context, record *QuoteRecord) error

	// GetByID retrieves a quote record; nil when absent.
	GetByID(ctx context.Context, id string) (*QuoteRecord, error)

	// DeleteExpired removes quote records past their expiry, returning the
	// number deleted.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SwapsRepo persists swap transaction records with monotone lifecycle.
type SwapsRepo interface {
	// Insert opens a new PENDING record.
	Insert(ctx context.Context, record *SwapTransactionRecord) error

	// GetByID retrieves a record; nil when absent.
	GetByID(ctx context.Context, id string) (*SwapTransactionRecord, error)

	// UpdateStatus applies a transition; it must refuse to move a record
	// out of a terminal state.
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error

	// AttachTransaction stores the built transaction blob on a PENDING
	// record.
	AttachTransaction(ctx context.Context, id string, routeData []byte) error

	// ListByUser returns recent records for a user, newest first.
	ListByUser(ctx context.Context, userPublicKey string, limit int) ([]*SwapTransactionRecord, error)

	// ExpirePending marks PENDING records past their expiry as EXPIRED,
	// returning the number transitioned.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// Repository aggregates the durable stores the router consumes.
type Repository struct {
	Quotes QuotesRepo
	Swaps  SwapsRepo
}
