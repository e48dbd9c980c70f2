package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DistributionStatus is the lifecycle of a PayoutDistribution.
type DistributionStatus string

const (
	DistributionCompleted  DistributionStatus = "completed"
	DistributionRolledBack DistributionStatus = "rolled_back"
	DistributionFailed     DistributionStatus = "failed"
)

// VerificationChecks are the five boolean assertions the distributor must
// satisfy before a distribution is allowed to commit. Any false value
// aborts the enclosing transaction.
type VerificationChecks struct {
	AllCommitmentsProcessed bool `json:"all_commitments_processed"`
	PayoutSumsCorrect       bool `json:"payout_sums_correct"`
	NoDoublePayouts         bool `json:"no_double_payouts"`
	BalanceUpdatesSuccessful bool `json:"balance_updates_successful"`
	TransactionRecordsCreated bool `json:"transaction_records_created"`
}

// Passed reports whether every check succeeded.
func (v VerificationChecks) Passed() bool {
	return v.AllCommitmentsProcessed && v.PayoutSumsCorrect && v.NoDoublePayouts &&
		v.BalanceUpdatesSuccessful && v.TransactionRecordsCreated
}

// ResolutionPayout is one per-commitment settlement line of a distribution,
// written append-only into resolution_payouts. Origin records how the
// commitment's option was identified (optionId-based, position-based, or
// hybrid) for backward-compatible audit consumers.
type ResolutionPayout struct {
	ID              uuid.UUID        `json:"id"               db:"id"`
	DistributionID  uuid.UUID        `json:"distribution_id"  db:"distribution_id"`
	ResolutionID    uuid.UUID        `json:"resolution_id"    db:"resolution_id"`
	MarketID        uuid.UUID        `json:"market_id"        db:"market_id"`
	CommitmentID    uuid.UUID        `json:"commitment_id"    db:"commitment_id"`
	UserID          uuid.UUID        `json:"user_id"          db:"user_id"`
	Outcome         CommitmentStatus `json:"outcome"          db:"outcome"`
	Origin          string           `json:"origin"           db:"origin"`
	TokensCommitted decimal.Decimal  `json:"tokens_committed" db:"tokens_committed"`
	Payout          decimal.Decimal  `json:"payout"           db:"payout"`
	Profit          decimal.Decimal  `json:"profit"           db:"profit"`
	CreatedAt       time.Time        `json:"created_at"       db:"created_at"`
}

// PayoutDistribution is the system-scoped record of one applied (or rolled
// back) PayoutPlan. It is the unit PayoutDistributor.Rollback operates on.
type PayoutDistribution struct {
	ID                  uuid.UUID           `json:"id"                    db:"id"`
	MarketID            uuid.UUID           `json:"market_id"             db:"market_id"`
	ResolutionID        uuid.UUID           `json:"resolution_id"         db:"resolution_id"`
	TotalPool           decimal.Decimal     `json:"total_pool"            db:"total_pool"`
	HouseFee            decimal.Decimal     `json:"house_fee"             db:"house_fee"`
	CreatorFee          decimal.Decimal     `json:"creator_fee"           db:"creator_fee"`
	WinnerPool          decimal.Decimal     `json:"winner_pool"           db:"winner_pool"`
	WinningCommitments  []uuid.UUID         `json:"winning_commitments"   db:"-"`
	LosingCommitments   []uuid.UUID         `json:"losing_commitments"    db:"-"`
	ProcessedAt         time.Time           `json:"processed_at"          db:"processed_at"`
	Status              DistributionStatus  `json:"status"                db:"status"`
	CreatedTransactionIDs []uuid.UUID       `json:"created_transaction_ids" db:"-"`
	VerificationChecks  VerificationChecks  `json:"verification_checks"   db:"-"`
}
