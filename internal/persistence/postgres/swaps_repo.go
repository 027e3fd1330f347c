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

// swapsRepo implements SwapsRepo for PostgreSQL. Lifecycle transitions are
// enforced in SQL: updates only match rows still in PENDING, so a terminal
// record can never be reopened even under concurrent writers.
type swapsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSwapsRepo creates a PostgreSQL swaps repository.
func NewSwapsRepo(db *sqlx.DB, timeout time.Duration) persistence.SwapsRepo {
	return &swapsRepo{db: db, timeout: timeout}
}

func (r *swapsRepo) Insert(ctx context.Context, record *persistence.SwapTransactionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO swap_transactions (
			id, user_public_key, input_mint, output_mint, in_amount,
			out_amount, min_out_amount, slippage_bps, provider, status,
			tx_hash, route_data, fee_amount, gas_used, execution_time_ms,
			error_code, error_message, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.UserPublicKey, record.InputMint, record.OutputMint,
		record.InAmount, record.OutAmount, record.MinOutAmount,
		record.SlippageBps, record.Provider, record.Status, record.TxHash,
		record.RouteData, record.FeeAmount, record.GasUsed,
		record.ExecutionTimeMs, record.ErrorCode, record.ErrorMessage,
		record.CreatedAt, record.UpdatedAt, record.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errs.Wrap(errs.DatabaseError, "duplicate swap id", err).WithDetail("id", record.ID)
		}
		return errs.Wrap(errs.DatabaseError, "failed to insert swap record", err)
	}
	return nil
}

func (r *swapsRepo) GetByID(ctx context.Context, id string) (*persistence.SwapTransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_public_key, input_mint, output_mint, in_amount,
		       out_amount, min_out_amount, slippage_bps, provider, status,
		       tx_hash, route_data, fee_amount, gas_used, execution_time_ms,
		       error_code, error_message, created_at, updated_at, expires_at
		FROM swap_transactions
		WHERE id = $1`

	var record persistence.SwapTransactionRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.DatabaseError, "failed to query swap record", err)
	}
	return &record, nil
}

func (r *swapsRepo) UpdateStatus(ctx context.Context, id string, update persistence.StatusUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE swap_transactions
		SET status = $2,
		    tx_hash = COALESCE($3, tx_hash),
		    error_code = $4,
		    error_message = $5,
		    execution_time_ms = COALESCE($6, execution_time_ms),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, query, id, update.Status, update.TxHash,
		update.ErrorCode, update.ErrorMessage, update.ExecutionTimeMs)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "failed to update swap status", err).WithDetail("id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "failed to read update result", err)
	}
	if n == 0 {
		return errs.New(errs.InvalidInput, "swap is not pending or does not exist").
			WithDetail("id", id).
			WithDetail("status", string(update.Status))
	}
	return nil
}

func (r *swapsRepo) AttachTransaction(ctx context.Context, id string, routeData []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE swap_transactions
		SET route_data = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, query, id, routeData)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "failed to attach transaction", err).WithDetail("id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "failed to read update result", err)
	}
	if n == 0 {
		return errs.New(errs.InvalidInput, "swap is not pending or does not exist").WithDetail("id", id)
	}
	return nil
}

func (r *swapsRepo) ListByUser(ctx context.Context, userPublicKey string, limit int) ([]*persistence.SwapTransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_public_key, input_mint, output_mint, in_amount,
		       out_amount, min_out_amount, slippage_bps, provider, status,
		       tx_hash, route_data, fee_amount, gas_used, execution_time_ms,
		       error_code, error_message, created_at, updated_at, expires_at
		FROM swap_transactions
		WHERE user_public_key = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, userPublicKey, limit)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "failed to list swap records", err)
	}
	defer rows.Close()

	var records []*persistence.SwapTransactionRecord
	for rows.Next() {
		var record persistence.SwapTransactionRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "failed to scan swap record", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "failed to iterate swap records", err)
	}
	return records, nil
}

func (r *swapsRepo) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE swap_transactions
		SET status = 'EXPIRED', updated_at = NOW()
		WHERE status = 'PENDING' AND expires_at < $1`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, errs.Wrap(errs.DatabaseError, "failed to expire pending swaps", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
