package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/solroute/internal/errs"
	"github.com/sawpanic/solroute/internal/persistence"
)

// quotesRepo implements QuotesRepo for PostgreSQL.
type quotesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewQuotesRepo creates a PostgreSQL quotes repository.
func NewQuotesRepo(db *sqlx.DB, timeout time.Duration) persistence.QuotesRepo {
	return &quotesRepo{db: db, timeout: timeout}
}

func (r *quotesRepo) Insert(ctx context.Context, record *persistence.QuoteRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO quotes (
			id, provider, input_mint, output_mint, in_amount, out_amount,
			slippage_bps, price_impact_pct, route_plan, platform_fee,
			platform_fee_bps, gas_estimate, response_time_ms, is_cached,
			efficiency_score, reliability_score, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Provider, record.InputMint, record.OutputMint,
		record.InAmount, record.OutAmount, record.SlippageBps,
		record.PriceImpactPct, record.RoutePlan, record.PlatformFee,
		record.PlatformFeeBps, record.GasEstimate, record.ResponseTimeMs,
		record.IsCached, record.EfficiencyScore, record.ReliabilityScore,
		record.CreatedAt, record.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errs.Wrap(errs.DatabaseError, "duplicate quote id", err).WithDetail("id", record.ID)
		}
		return errs.Wrap(errs.DatabaseError, "failed to insert quote record", err)
	}
	return nil
}

func (r *quotesRepo) GetByID(ctx context.Context, id string) (*persistence.QuoteRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, provider, input_mint, output_mint, in_amount, out_amount,
		       slippage_bps, price_impact_pct, route_plan, platform_fee,
		       platform_fee_bps, gas_estimate, response_time_ms, is_cached,
		       efficiency_score, reliability_score, created_at, expires_at
		FROM quotes
		WHERE id = $1`

	var record persistence.QuoteRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.DatabaseError, "failed to query quote record", err)
	}
	return &record, nil
}

func (r *quotesRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM quotes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errs.Wrap(errs.DatabaseError, "failed to delete expired quotes", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
