package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CommitmentRepo handles all database operations for Commitments.
type CommitmentRepo struct {
	db *sqlx.DB
}

// NewCommitmentRepo creates a new CommitmentRepo.
func NewCommitmentRepo(db *sqlx.DB) *CommitmentRepo {
	return &CommitmentRepo{db: db}
}

// Create inserts a new commitment inside an existing transaction.
func (r *CommitmentRepo) Create(ctx context.Context, tx *sqlx.Tx, c *domain.Commitment) error {
	query := `
		INSERT INTO prediction_commitments
			(id, user_id, market_id, option_id, position, tokens_committed, odds_snapshot,
			 potential_winning, status, payout, profit, created_at, resolved_at,
			 last_distribution_id, metadata)
		VALUES
			(:id, :user_id, :market_id, :option_id, :position, :tokens_committed, :odds_snapshot,
			 :potential_winning, :status, :payout, :profit, :created_at, :resolved_at,
			 :last_distribution_id, :metadata)`
	if _, err := tx.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("commitment_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a commitment by its primary key.
func (r *CommitmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Commitment, error) {
	var c domain.Commitment
	err := r.db.GetContext(ctx, &c, `SELECT * FROM prediction_commitments WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCommitmentNotFound
		}
		return nil, fmt.Errorf("commitment_repo.GetByID: %w", err)
	}
	return &c, nil
}

// ListByMarket returns every commitment on a market, well-formed or not,
// for the PayoutCalculator to partition.
//
// Dual-index tolerance: rows migrated from the platform's older schema
// carry their market reference under a legacy prediction_id alias column
// instead of market_id. This query unions both index paths and
// deduplicates by commitment id so neither a pre- nor post-migration row
// is silently skipped.
func (r *CommitmentRepo) ListByMarket(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) ([]domain.Commitment, error) {
	query := `
		SELECT * FROM prediction_commitments WHERE market_id = $1
		UNION
		SELECT * FROM prediction_commitments WHERE prediction_id = $1 AND market_id IS DISTINCT FROM $1
		ORDER BY created_at ASC`

	var rows []domain.Commitment
	var err error
	if tx != nil {
		err = tx.SelectContext(ctx, &rows, query, marketID)
	} else {
		err = r.db.SelectContext(ctx, &rows, query, marketID)
	}
	if err != nil {
		return nil, fmt.Errorf("commitment_repo.ListByMarket: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(rows))
	deduped := rows[:0]
	for _, c := range rows {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		deduped = append(deduped, c)
	}
	return deduped, nil
}

// ListActiveByUser returns a user's currently active (uncommitted-to-outcome)
// commitments, newest first.
func (r *CommitmentRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]domain.Commitment, error) {
	var rows []domain.Commitment
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM prediction_commitments WHERE user_id = $1 AND status = 'active' ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("commitment_repo.ListActiveByUser: %w", err)
	}
	return rows, nil
}

// UpdateOutcome writes the terminal status, payout, and profit for a single
// commitment inside the distribution transaction, stamping resolved_at and
// the owning distribution id as a weak back-reference. Only touches rows
// still in status='active' so a retried apply cannot double-process a
// commitment.
func (r *CommitmentRepo) UpdateOutcome(ctx context.Context, tx *sqlx.Tx, commitmentID uuid.UUID, status domain.CommitmentStatus, payout, profit decimal.Decimal, distributionID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status                = $1,
		    payout                = $2,
		    profit                = $3,
		    resolved_at           = now(),
		    last_distribution_id  = $4
		WHERE id = $5 AND status = 'active'`,
		string(status), payout, profit, distributionID, commitmentID)
	if err != nil {
		return fmt.Errorf("commitment_repo.UpdateOutcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCommitmentNotActive
	}
	return nil
}

// RevertToActive undoes UpdateOutcome for every commitment carrying the
// given distribution id, used by PayoutDistributor.Rollback. It clears the
// terminal status, payout, profit, resolved_at, and the distribution
// back-reference, restoring the commitment to its pre-resolution shape.
func (r *CommitmentRepo) RevertToActive(ctx context.Context, tx *sqlx.Tx, distributionID uuid.UUID) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status               = 'active',
		    payout               = NULL,
		    profit               = NULL,
		    resolved_at          = NULL,
		    last_distribution_id = NULL
		WHERE last_distribution_id = $1`,
		distributionID)
	if err != nil {
		return 0, fmt.Errorf("commitment_repo.RevertToActive: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkCancelled closes out a single active commitment for a market-level
// cancellation (domain.StatusCancelled), where there is no PayoutDistribution
// to attach. refundAmount is the payout value recorded for audit purposes;
// profit is always zero on a cancellation refund.
func (r *CommitmentRepo) MarkCancelled(ctx context.Context, tx *sqlx.Tx, commitmentID uuid.UUID, refundAmount decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE prediction_commitments
		SET status               = 'refunded',
		    payout               = $1,
		    profit               = 0,
		    resolved_at          = now(),
		    last_distribution_id = NULL
		WHERE id = $2 AND status = 'active'`,
		refundAmount, commitmentID)
	if err != nil {
		return fmt.Errorf("commitment_repo.MarkCancelled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCommitmentNotActive
	}
	return nil
}

// SumCommittedByUser returns the live sum of a user's active commitments'
// tokensCommitted (the same sum Ledger.Reconcile computes in its own
// transaction).
func (r *CommitmentRepo) SumCommittedByUser(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(tokens_committed), 0) FROM prediction_commitments
		WHERE user_id = $1 AND status = 'active'`, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("commitment_repo.SumCommittedByUser: %w", err)
	}
	return total, nil
}
