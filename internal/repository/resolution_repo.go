package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ResolutionRepo persists the audit-adjacent records a resolution cycle
// produces: MarketResolution, PayoutDistribution, the per-line payout
// records, and the append-only ResolutionLog. Grouped into one repository
// because every write here happens inside the same engine/distributor
// transaction.
type ResolutionRepo struct {
	db *sqlx.DB
}

// NewResolutionRepo creates a new ResolutionRepo.
func NewResolutionRepo(db *sqlx.DB) *ResolutionRepo {
	return &ResolutionRepo{db: db}
}

// ── MarketResolution ──────────────────────────────────────────────────────

// CreateResolution inserts a MarketResolution row, serializing its Evidence
// slice to JSON in the evidence column.
func (r *ResolutionRepo) CreateResolution(ctx context.Context, tx *sqlx.Tx, res *domain.MarketResolution) error {
	evidence, err := json.Marshal(res.Evidence)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateResolution: marshal evidence: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO market_resolutions
			(id, market_id, winning_option_id, resolved_by, resolved_at, evidence,
			 total_pool, house_fee, creator_fee, winner_pool, winner_count, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		res.ID, res.MarketID, res.WinningOptionID, res.ResolvedBy, res.ResolvedAt, evidence,
		res.TotalPool, res.HouseFee, res.CreatorFee, res.WinnerPool, res.WinnerCount, string(res.Status))
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateResolution: %w", err)
	}
	return nil
}

// GetResolution fetches a MarketResolution by id, deserializing its evidence.
func (r *ResolutionRepo) GetResolution(ctx context.Context, id uuid.UUID) (*domain.MarketResolution, error) {
	type row struct {
		domain.MarketResolution
		EvidenceRaw []byte `db:"evidence"`
	}
	var rr row
	err := r.db.GetContext(ctx, &rr, `SELECT * FROM market_resolutions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("resolution_repo.GetResolution: %w", err)
	}
	if len(rr.EvidenceRaw) > 0 {
		if err := json.Unmarshal(rr.EvidenceRaw, &rr.Evidence); err != nil {
			return nil, fmt.Errorf("resolution_repo.GetResolution: unmarshal evidence: %w", err)
		}
	}
	return &rr.MarketResolution, nil
}

// LatestResolutionForMarket returns the most recently created resolution for
// a market, needed by rollback() to know which distribution to reverse.
func (r *ResolutionRepo) LatestResolutionForMarket(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) (*domain.MarketResolution, error) {
	var id uuid.UUID
	var err error
	const q = `SELECT id FROM market_resolutions WHERE market_id = $1 ORDER BY resolved_at DESC LIMIT 1`
	if tx != nil {
		err = tx.GetContext(ctx, &id, q, marketID)
	} else {
		err = r.db.GetContext(ctx, &id, q, marketID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("resolution_repo.LatestResolutionForMarket: %w", err)
	}
	return r.GetResolution(ctx, id)
}

// SetResolutionStatus updates a resolution's terminal status (e.g. to
// cancelled on rollback).
func (r *ResolutionRepo) SetResolutionStatus(ctx context.Context, tx *sqlx.Tx, resolutionID uuid.UUID, status domain.ResolutionStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE market_resolutions SET status = $1 WHERE id = $2`, string(status), resolutionID)
	if err != nil {
		return fmt.Errorf("resolution_repo.SetResolutionStatus: %w", err)
	}
	return nil
}

// ── PayoutDistribution ────────────────────────────────────────────────────

// CreateDistribution inserts a PayoutDistribution row.
func (r *ResolutionRepo) CreateDistribution(ctx context.Context, tx *sqlx.Tx, d *domain.PayoutDistribution) error {
	winning, err := json.Marshal(d.WinningCommitments)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateDistribution: marshal winners: %w", err)
	}
	losing, err := json.Marshal(d.LosingCommitments)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateDistribution: marshal losers: %w", err)
	}
	txIDs, err := json.Marshal(d.CreatedTransactionIDs)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateDistribution: marshal tx ids: %w", err)
	}
	checks, err := json.Marshal(d.VerificationChecks)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateDistribution: marshal checks: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_distributions
			(id, market_id, resolution_id, total_pool, house_fee, creator_fee, winner_pool,
			 winning_commitments, losing_commitments, processed_at, status,
			 created_transaction_ids, verification_checks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.MarketID, d.ResolutionID, d.TotalPool, d.HouseFee, d.CreatorFee, d.WinnerPool,
		winning, losing, d.ProcessedAt, string(d.Status), txIDs, checks)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreateDistribution: %w", err)
	}
	return nil
}

// GetDistributionForResolution fetches the distribution tied to a
// resolution id, used by rollback() to find what to reverse.
func (r *ResolutionRepo) GetDistributionForResolution(ctx context.Context, tx *sqlx.Tx, resolutionID uuid.UUID) (*domain.PayoutDistribution, error) {
	type row struct {
		domain.PayoutDistribution
		WinningRaw []byte `db:"winning_commitments"`
		LosingRaw  []byte `db:"losing_commitments"`
		TxIDsRaw   []byte `db:"created_transaction_ids"`
		ChecksRaw  []byte `db:"verification_checks"`
	}
	var rr row
	const q = `SELECT * FROM payout_distributions WHERE resolution_id = $1`
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &rr, q, resolutionID)
	} else {
		err = r.db.GetContext(ctx, &rr, q, resolutionID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("resolution_repo.GetDistributionForResolution: %w", err)
	}
	_ = json.Unmarshal(rr.WinningRaw, &rr.WinningCommitments)
	_ = json.Unmarshal(rr.LosingRaw, &rr.LosingCommitments)
	_ = json.Unmarshal(rr.TxIDsRaw, &rr.CreatedTransactionIDs)
	_ = json.Unmarshal(rr.ChecksRaw, &rr.VerificationChecks)
	return &rr.PayoutDistribution, nil
}

// GetDistribution fetches a distribution by its own id, used by rollback()
// when the caller names the distribution directly rather than via its
// resolution.
func (r *ResolutionRepo) GetDistribution(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.PayoutDistribution, error) {
	type row struct {
		domain.PayoutDistribution
		WinningRaw []byte `db:"winning_commitments"`
		LosingRaw  []byte `db:"losing_commitments"`
		TxIDsRaw   []byte `db:"created_transaction_ids"`
		ChecksRaw  []byte `db:"verification_checks"`
	}
	var rr row
	const q = `SELECT * FROM payout_distributions WHERE id = $1`
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &rr, q, id)
	} else {
		err = r.db.GetContext(ctx, &rr, q, id)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("resolution_repo.GetDistribution: %w", err)
	}
	_ = json.Unmarshal(rr.WinningRaw, &rr.WinningCommitments)
	_ = json.Unmarshal(rr.LosingRaw, &rr.LosingCommitments)
	_ = json.Unmarshal(rr.TxIDsRaw, &rr.CreatedTransactionIDs)
	_ = json.Unmarshal(rr.ChecksRaw, &rr.VerificationChecks)
	return &rr.PayoutDistribution, nil
}

// SetDistributionStatus updates a distribution's terminal status, inside tx.
func (r *ResolutionRepo) SetDistributionStatus(ctx context.Context, tx *sqlx.Tx, distributionID uuid.UUID, status domain.DistributionStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE payout_distributions SET status = $1 WHERE id = $2`, string(status), distributionID)
	if err != nil {
		return fmt.Errorf("resolution_repo.SetDistributionStatus: %w", err)
	}
	return nil
}

// ── Per-line payout records ───────────────────────────────────────────────

// CreatePayoutLine writes one per-commitment settlement row into
// resolution_payouts, inside tx. Append-only: a rollback flips the owning
// distribution's status but never touches these lines.
func (r *ResolutionRepo) CreatePayoutLine(ctx context.Context, tx *sqlx.Tx, line *domain.ResolutionPayout) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO resolution_payouts
			(id, distribution_id, resolution_id, market_id, commitment_id, user_id,
			 outcome, origin, tokens_committed, payout, profit, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())`,
		line.ID, line.DistributionID, line.ResolutionID, line.MarketID, line.CommitmentID, line.UserID,
		string(line.Outcome), line.Origin, line.TokensCommitted, line.Payout, line.Profit)
	if err != nil {
		return fmt.Errorf("resolution_repo.CreatePayoutLine: %w", err)
	}
	return nil
}

// RecordCreatorFee books a resolution's creatorFee into creator_payouts,
// inside tx. transactionID links back to the ledger entry that credited it.
func (r *ResolutionRepo) RecordCreatorFee(ctx context.Context, tx *sqlx.Tx, marketID, resolutionID, creatorID uuid.UUID, amount interface{}, transactionID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO creator_payouts (market_id, resolution_id, creator_id, amount, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		marketID, resolutionID, creatorID, amount, transactionID)
	if err != nil {
		return fmt.Errorf("resolution_repo.RecordCreatorFee: %w", err)
	}
	return nil
}

// RecordHouseFee books a resolution's houseFee into house_payouts, inside
// tx. The house side has no per-user balance row; this table is its ledger.
func (r *ResolutionRepo) RecordHouseFee(ctx context.Context, tx *sqlx.Tx, marketID, resolutionID uuid.UUID, amount interface{}) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO house_payouts (market_id, resolution_id, amount, created_at)
		VALUES ($1, $2, $3, now())`,
		marketID, resolutionID, amount)
	if err != nil {
		return fmt.Errorf("resolution_repo.RecordHouseFee: %w", err)
	}
	return nil
}

// ── ResolutionLog ─────────────────────────────────────────────────────────

// AppendLog writes one immutable audit entry. Accepts a nil tx so the engine
// can log lifecycle events (started, failed) that fall outside the apply
// transaction's boundary.
func (r *ResolutionRepo) AppendLog(ctx context.Context, tx *sqlx.Tx, entry *domain.ResolutionLog) error {
	query := `
		INSERT INTO resolution_logs
			(id, market_id, resolution_id, distribution_id, event, operator_id, operation_id, detail, created_at)
		VALUES
			(:id, :market_id, :resolution_id, :distribution_id, :event, :operator_id, :operation_id, :detail, now())`
	var err error
	if tx != nil {
		_, err = tx.NamedExecContext(ctx, query, entry)
	} else {
		_, err = r.db.NamedExecContext(ctx, query, entry)
	}
	if err != nil {
		return fmt.Errorf("resolution_repo.AppendLog: %w", err)
	}
	return nil
}

// ListLogsForMarket returns the full audit trail for a market, oldest first.
func (r *ResolutionRepo) ListLogsForMarket(ctx context.Context, marketID uuid.UUID) ([]domain.ResolutionLog, error) {
	var logs []domain.ResolutionLog
	err := r.db.SelectContext(ctx, &logs,
		`SELECT * FROM resolution_logs WHERE market_id = $1 ORDER BY created_at ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_repo.ListLogsForMarket: %w", err)
	}
	return logs, nil
}
