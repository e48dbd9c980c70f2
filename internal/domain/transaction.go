package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// TokenTransactionType
// ──────────────────────────────────────────────────────────────────────────────

// TokenTransactionType classifies a ledger movement. See the Ledger.apply
// sign rule: purchase/win/refund increase available; commit moves available
// into committed; loss decreases committed.
type TokenTransactionType string

const (
	TxTypePurchase TokenTransactionType = "purchase"
	TxTypeCommit   TokenTransactionType = "commit"
	TxTypeWin      TokenTransactionType = "win"
	TxTypeLoss     TokenTransactionType = "loss"
	TxTypeRefund   TokenTransactionType = "refund"
)

// TokenTransactionStatus reflects whether a logged movement actually landed.
type TokenTransactionStatus string

const (
	TxStatusPosted   TokenTransactionStatus = "posted"
	TxStatusReversed TokenTransactionStatus = "reversed" // superseded by a rollback compensating entry
)

// ──────────────────────────────────────────────────────────────────────────────
// TokenTransaction
// ──────────────────────────────────────────────────────────────────────────────

// TokenTransaction is an append-only audit record of one balance movement.
// Amount is always a non-negative magnitude interpreted through Type:
// callers never flip its sign themselves, the Ledger does.
type TokenTransaction struct {
	ID            uuid.UUID              `json:"id"             db:"id"`
	UserID        uuid.UUID              `json:"user_id"        db:"user_id"`
	Type          TokenTransactionType   `json:"type"           db:"type"`
	Amount        decimal.Decimal        `json:"amount"         db:"amount"` // always non-negative magnitude
	BalanceBefore decimal.Decimal        `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal        `json:"balance_after"  db:"balance_after"`
	RelatedID     *uuid.UUID             `json:"related_id"     db:"related_id"` // commitment, market, or distribution id
	Metadata      []byte                 `json:"metadata,omitempty" db:"metadata"`
	Timestamp     time.Time              `json:"timestamp"      db:"timestamp"`
	Status        TokenTransactionStatus `json:"status"         db:"status"`
}

// TxMetadata is the structured shape stashed in TokenTransaction.Metadata for
// win/loss/refund entries; the Ledger reads it to know how much of a win's
// amount was a stake return versus profit, or to flag a creator-fee payout.
type TxMetadata struct {
	StakedReturned decimal.Decimal `json:"staked_returned,omitempty"`
	StakedLost     decimal.Decimal `json:"staked_lost,omitempty"`
	FeeType        string          `json:"fee_type,omitempty"` // "creator_fee" | "house_fee"
	RollbackOf     *uuid.UUID      `json:"rollback_of,omitempty"`
}
