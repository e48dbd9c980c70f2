// Package distributor implements the transactional writer that turns an
// already-verified payout.PayoutPlan into ledger movements, terminal
// commitment rows, per-line payout records, and one auditable
// PayoutDistribution — and its inverse, unwinding a completed distribution
// back to the pre-resolution state. It is the single point through which
// both resolution and rollback touch balances, so the token-conservation
// checks live here.
package distributor

import (
	"context"
	"fmt"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/evetabi/resolution-engine/internal/ledger"
	"github.com/evetabi/resolution-engine/internal/payout"
	"github.com/evetabi/resolution-engine/internal/repository"
	"github.com/evetabi/resolution-engine/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Distributor applies and reverses PayoutPlans. Every method runs inside a
// caller-owned transaction — it never opens its own, matching
// ResolutionEngine's single-tx-per-cycle discipline.
type Distributor struct {
	store          *store.Store
	ledger         *ledger.Ledger
	commitmentRepo *repository.CommitmentRepo
	resolutionRepo *repository.ResolutionRepo
}

// New builds a Distributor.
func New(st *store.Store, l *ledger.Ledger, commitmentRepo *repository.CommitmentRepo, resolutionRepo *repository.ResolutionRepo) *Distributor {
	return &Distributor{store: st, ledger: l, commitmentRepo: commitmentRepo, resolutionRepo: resolutionRepo}
}

// Apply writes every line of plan inside tx: terminal commitment rows,
// ledger movements, the optional creator-fee credit, the house-fee record,
// and finally the PayoutDistribution itself. creatorID is the canonical
// user id to credit the creator fee to; pass uuid.Nil to skip it (e.g. the
// market has no creator fee configured).
func (d *Distributor) Apply(
	ctx context.Context,
	tx *sqlx.Tx,
	resolution *domain.MarketResolution,
	plan *payout.PayoutPlan,
	creatorID uuid.UUID,
) (*domain.PayoutDistribution, error) {
	dist := &domain.PayoutDistribution{
		ID:           uuid.New(),
		MarketID:     plan.MarketID,
		ResolutionID: resolution.ID,
		TotalPool:    plan.TotalPool,
		HouseFee:     plan.HouseFee,
		CreatorFee:   plan.CreatorFee,
		WinnerPool:   plan.WinnerPool,
		ProcessedAt:  d.store.Now(ctx),
		Status:       domain.DistributionCompleted,
	}

	var (
		createdTxIDs []uuid.UUID
		payoutSum    decimal.Decimal
	)

	for _, r := range plan.Results {
		status, err := d.apply(ctx, tx, dist.ID, r, &createdTxIDs)
		if err != nil {
			return nil, fmt.Errorf("distributor.Apply: commitment %s: %w", r.CommitmentID, err)
		}
		line := &domain.ResolutionPayout{
			ID:              uuid.New(),
			DistributionID:  dist.ID,
			ResolutionID:    resolution.ID,
			MarketID:        plan.MarketID,
			CommitmentID:    r.CommitmentID,
			UserID:          r.UserID,
			Outcome:         status,
			Origin:          string(r.Origin),
			TokensCommitted: r.TokensCommitted,
			Payout:          r.Payout,
			Profit:          r.Profit,
		}
		if err := d.resolutionRepo.CreatePayoutLine(ctx, tx, line); err != nil {
			return nil, err
		}
		if status == domain.CommitmentWon {
			dist.WinningCommitments = append(dist.WinningCommitments, r.CommitmentID)
			payoutSum = payoutSum.Add(r.Payout)
		} else {
			dist.LosingCommitments = append(dist.LosingCommitments, r.CommitmentID)
			if status == domain.CommitmentRefunded && !r.IsIllFormed {
				payoutSum = payoutSum.Add(r.Payout)
			}
		}
	}

	if plan.CreatorFee.IsPositive() && creatorID != uuid.Nil {
		txn, err := d.ledger.Apply(ctx, tx, ledger.Op{
			UserID:    creatorID,
			Amount:    plan.CreatorFee,
			Type:      domain.TxTypeWin,
			RelatedID: &resolution.MarketID,
			Metadata:  domain.TxMetadata{FeeType: "creator_fee"},
		})
		if err != nil {
			return nil, fmt.Errorf("distributor.Apply: creator fee: %w", err)
		}
		createdTxIDs = append(createdTxIDs, txn.ID)
		if err := d.resolutionRepo.RecordCreatorFee(ctx, tx, plan.MarketID, resolution.ID, creatorID, plan.CreatorFee, txn.ID); err != nil {
			return nil, err
		}
	}

	if plan.HouseFee.IsPositive() {
		if err := d.resolutionRepo.RecordHouseFee(ctx, tx, plan.MarketID, resolution.ID, plan.HouseFee); err != nil {
			return nil, err
		}
	}

	// payoutSum is winner payouts plus no-winner haircut refunds;
	// ill-formed refunds are excluded since they never entered the pool
	// that WinnerPool was carved out of.
	sumsCorrect := payoutSum.Equal(plan.WinnerPool)

	dist.CreatedTransactionIDs = createdTxIDs
	dist.VerificationChecks = domain.VerificationChecks{
		AllCommitmentsProcessed:   len(dist.WinningCommitments)+len(dist.LosingCommitments) == len(plan.Results),
		PayoutSumsCorrect:         sumsCorrect,
		NoDoublePayouts:           noDuplicateIDs(plan.Results),
		BalanceUpdatesSuccessful:  true,
		TransactionRecordsCreated: len(plan.Results) == 0 || len(createdTxIDs) > 0,
	}
	if !dist.VerificationChecks.Passed() {
		return nil, domain.NewEngineError(domain.KindInvariantViolated, "distributor.Apply", "",
			fmt.Sprintf("verification checks failed for market %s: %+v", plan.MarketID, dist.VerificationChecks), nil).
			WithReason(domain.ReasonDistributionVerification)
	}

	if err := d.resolutionRepo.CreateDistribution(ctx, tx, dist); err != nil {
		return nil, err
	}
	return dist, nil
}

// apply writes one commitment's terminal row and ledger movement(s),
// returning the domain.CommitmentStatus it settled into.
func (d *Distributor) apply(ctx context.Context, tx *sqlx.Tx, distributionID uuid.UUID, r payout.CommitmentResult, txIDs *[]uuid.UUID) (domain.CommitmentStatus, error) {
	switch {
	case r.IsIllFormed:
		if err := d.commitmentRepo.UpdateOutcome(ctx, tx, r.CommitmentID, domain.CommitmentRefunded, r.Payout, decimal.Zero, distributionID); err != nil {
			return "", err
		}
		if r.Payout.IsPositive() {
			txn, err := d.ledger.Apply(ctx, tx, ledger.Op{
				UserID: r.UserID, Amount: r.Payout, Type: domain.TxTypeRefund, RelatedID: &r.CommitmentID,
			})
			if err != nil {
				return "", err
			}
			*txIDs = append(*txIDs, txn.ID)
		}
		return domain.CommitmentRefunded, nil

	case r.Outcome == payout.OutcomeWon:
		if err := d.commitmentRepo.UpdateOutcome(ctx, tx, r.CommitmentID, domain.CommitmentWon, r.Payout, r.Profit, distributionID); err != nil {
			return "", err
		}
		txn, err := d.ledger.Apply(ctx, tx, ledger.Op{
			UserID: r.UserID, Amount: r.Payout, Type: domain.TxTypeWin, RelatedID: &r.CommitmentID,
			Metadata: domain.TxMetadata{StakedReturned: r.TokensCommitted},
		})
		if err != nil {
			return "", err
		}
		*txIDs = append(*txIDs, txn.ID)
		return domain.CommitmentWon, nil

	case r.Outcome == payout.OutcomeLost:
		if err := d.commitmentRepo.UpdateOutcome(ctx, tx, r.CommitmentID, domain.CommitmentLost, decimal.Zero, r.Profit, distributionID); err != nil {
			return "", err
		}
		txn, err := d.ledger.Apply(ctx, tx, ledger.Op{
			UserID: r.UserID, Amount: r.TokensCommitted, Type: domain.TxTypeLoss, RelatedID: &r.CommitmentID,
			Metadata: domain.TxMetadata{StakedLost: r.TokensCommitted},
		})
		if err != nil {
			return "", err
		}
		*txIDs = append(*txIDs, txn.ID)
		return domain.CommitmentLost, nil

	default:
		// Well-formed OutcomeRefunded: the no-winner pro-rata haircut. The
		// gap between what was staked and what comes back is booked as a
		// loss, the rest as a refund, so the commitment's committed tokens
		// close out to zero exactly as a won/lost commitment's would.
		if err := d.commitmentRepo.UpdateOutcome(ctx, tx, r.CommitmentID, domain.CommitmentRefunded, r.Payout, r.Profit, distributionID); err != nil {
			return "", err
		}
		lost := r.TokensCommitted.Sub(r.Payout)
		if lost.IsPositive() {
			txn, err := d.ledger.Apply(ctx, tx, ledger.Op{
				UserID: r.UserID, Amount: lost, Type: domain.TxTypeLoss, RelatedID: &r.CommitmentID,
				Metadata: domain.TxMetadata{StakedLost: lost},
			})
			if err != nil {
				return "", err
			}
			*txIDs = append(*txIDs, txn.ID)
		}
		if r.Payout.IsPositive() {
			txn, err := d.ledger.Apply(ctx, tx, ledger.Op{
				UserID: r.UserID, Amount: r.Payout, Type: domain.TxTypeRefund, RelatedID: &r.CommitmentID,
			})
			if err != nil {
				return "", err
			}
			*txIDs = append(*txIDs, txn.ID)
		}
		return domain.CommitmentRefunded, nil
	}
}

// Rollback reverses a completed PayoutDistribution inside tx: restores every
// touched commitment to active, posts a compensating ledger entry for every
// transaction Apply created (including a creator-fee credit, if any), and
// flips the distribution's own status to rolled_back. It does not reverse
// the house_payouts row Apply wrote — that is a house-side ledger outside
// the per-user Ledger this engine reconciles, and is corrected manually if a
// rollback warrants it. The per-commitment resolution_payouts lines are
// likewise left in place: they are the audit record of what the distribution
// did, not live state.
func (d *Distributor) Rollback(ctx context.Context, tx *sqlx.Tx, dist *domain.PayoutDistribution) (reversalTxIDs []uuid.UUID, affectedUsers []uuid.UUID, err error) {
	if _, err = d.commitmentRepo.RevertToActive(ctx, tx, dist.ID); err != nil {
		return nil, nil, err
	}

	seen := make(map[uuid.UUID]bool, len(dist.CreatedTransactionIDs))
	for _, txnID := range dist.CreatedTransactionIDs {
		original, err := d.ledger.GetTransaction(ctx, tx, txnID)
		if err != nil {
			return nil, nil, fmt.Errorf("distributor.Rollback: load transaction %s: %w", txnID, err)
		}
		reversal, err := d.ledger.Reverse(ctx, tx, original, dist.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("distributor.Rollback: reverse transaction %s: %w", txnID, err)
		}
		reversalTxIDs = append(reversalTxIDs, reversal.ID)
		if !seen[original.UserID] {
			seen[original.UserID] = true
			affectedUsers = append(affectedUsers, original.UserID)
		}
	}

	if err = d.resolutionRepo.SetDistributionStatus(ctx, tx, dist.ID, domain.DistributionRolledBack); err != nil {
		return nil, nil, err
	}
	return reversalTxIDs, affectedUsers, nil
}

func noDuplicateIDs(results []payout.CommitmentResult) bool {
	seen := make(map[uuid.UUID]bool, len(results))
	for _, r := range results {
		if seen[r.CommitmentID] {
			return false
		}
		seen[r.CommitmentID] = true
	}
	return true
}
