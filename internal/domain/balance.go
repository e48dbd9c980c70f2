package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// UserBalance
// ──────────────────────────────────────────────────────────────────────────────

// UserBalance is the ledger's per-user counter set. It is created lazily on
// first touch with AvailableTokens seeded from the configured starter grant.
type UserBalance struct {
	UserID          uuid.UUID       `json:"user_id"          db:"user_id"`
	AvailableTokens decimal.Decimal `json:"available_tokens" db:"available_tokens"`
	CommittedTokens decimal.Decimal `json:"committed_tokens" db:"committed_tokens"`
	TotalEarned     decimal.Decimal `json:"total_earned"     db:"total_earned"`
	TotalSpent      decimal.Decimal `json:"total_spent"      db:"total_spent"`
	Version         int64           `json:"version"          db:"version"`
	LastUpdated     time.Time       `json:"last_updated"     db:"last_updated"`
}

// Total returns the sum of available and committed tokens.
func (b *UserBalance) Total() decimal.Decimal {
	return b.AvailableTokens.Add(b.CommittedTokens)
}
