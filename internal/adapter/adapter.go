package adapter

import (
	"context"

	"github.com/sawpanic/solroute/internal/model"
)

// Adapter is the uniform upstream-aggregator capability. Implementations
// are stateless beyond credentials and a reusable connection pool; retry
// and isolation live in the circuit breaker and coalescer, not here.
type Adapter interface {
	// Name identifies the provider for scoring, metrics, and dispatch.
	Name() string

	// Quote maps a normalized request onto the upstream protocol and
	// translates the response into the adapter-agnostic shape.
	Quote(ctx context.Context, req *model.QuoteRequest) (*model.NormalizedQuote, error)

	// BuildTransaction binds a quote to a user key and returns the
	// upstream's signed-ready transaction blob.
	BuildTransaction(ctx context.Context, req *BuildRequest) (*model.BuiltTransaction, error)

	// SimulateTransaction dry-runs a built transaction upstream.
	SimulateTransaction(ctx context.Context, transactionBlob, userPublicKey string) (*model.SimulationResult, error)

	// IsHealthy reports upstream reachability.
	IsHealthy(ctx context.Context) bool
}

// BuildRequest carries everything an adapter needs to build a transaction.
type BuildRequest struct {
	Quote         *model.NormalizedQuote `json:"quote"`
	UserPublicKey string                 `json:"userPublicKey"`
	Options       model.BuildOptions     `json:"options"`
}
