package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// CommitmentStatus
// ──────────────────────────────────────────────────────────────────────────────

// CommitmentStatus represents the current state of a user's locked stake.
type CommitmentStatus string

const (
	CommitmentActive   CommitmentStatus = "active"   // in play
	CommitmentWon      CommitmentStatus = "won"      // market resolved in the user's favor
	CommitmentLost     CommitmentStatus = "lost"     // market resolved against the user
	CommitmentRefunded CommitmentStatus = "refunded" // market cancelled, or commitment was ill-formed
)

// IsTerminal reports whether the commitment has reached a final state.
func (s CommitmentStatus) IsTerminal() bool {
	return s != CommitmentActive
}

// ──────────────────────────────────────────────────────────────────────────────
// Commitment
// ──────────────────────────────────────────────────────────────────────────────

// Commitment is a user's locked stake on one option of one market.
//
// The platform carries two overlapping schemas historically: legacy rows
// identify their side via Position (yes/no only); newer rows carry the
// authoritative OptionID. Both fields may be present; when they are, they
// must agree (enforced at write time, tolerated at read time — see
// internal/payout for the normalization rule).
type Commitment struct {
	ID               uuid.UUID        `json:"id"                db:"id"`
	UserID           uuid.UUID        `json:"user_id"           db:"user_id"`
	MarketID         uuid.UUID        `json:"market_id"         db:"market_id"`
	OptionID         string           `json:"option_id"         db:"option_id"`
	Position         string           `json:"position"          db:"position"` // legacy: "yes" | "no" | ""
	TokensCommitted  decimal.Decimal  `json:"tokens_committed"  db:"tokens_committed"`
	OddsSnapshot     decimal.Decimal  `json:"odds_snapshot"     db:"odds_snapshot"`
	PotentialWinning decimal.Decimal  `json:"potential_winning" db:"potential_winning"`
	Status           CommitmentStatus `json:"status"            db:"status"`
	Payout           *decimal.Decimal `json:"payout"            db:"payout"`
	Profit           *decimal.Decimal `json:"profit"            db:"profit"`
	CreatedAt        time.Time        `json:"created_at"        db:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at"       db:"resolved_at"`
	// LastDistributionID is a weak reference to the most recent
	// PayoutDistribution that touched this commitment. Cleared on rollback.
	LastDistributionID *uuid.UUID `json:"last_distribution_id" db:"last_distribution_id"`
	// Metadata snapshots market state at commit time (e.g. odds, option text)
	// for audit display; opaque to the engine.
	Metadata []byte `json:"metadata,omitempty" db:"metadata"`
}

// IsActive reports whether the commitment can still be touched by resolution.
func (c *Commitment) IsActive() bool {
	return c.Status == CommitmentActive
}
