package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolutionStatus is the lifecycle of a single MarketResolution record.
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionCompleted ResolutionStatus = "completed"
	ResolutionCancelled ResolutionStatus = "cancelled"
)

// MarketResolution is the immutable record of one resolve call. A market
// may accumulate more than one over its lifetime if it is rolled back and
// re-resolved — old records are retained, never superseded.
type MarketResolution struct {
	ID              uuid.UUID        `json:"id"                db:"id"`
	MarketID        uuid.UUID        `json:"market_id"         db:"market_id"`
	WinningOptionID string           `json:"winning_option_id" db:"winning_option_id"`
	ResolvedBy      uuid.UUID        `json:"resolved_by"       db:"resolved_by"`
	ResolvedAt      time.Time        `json:"resolved_at"       db:"resolved_at"`
	Evidence        []Evidence       `json:"evidence"          db:"-"`
	TotalPool       decimal.Decimal  `json:"total_pool"        db:"total_pool"`
	HouseFee        decimal.Decimal  `json:"house_fee"         db:"house_fee"`
	CreatorFee      decimal.Decimal  `json:"creator_fee"       db:"creator_fee"`
	WinnerPool      decimal.Decimal  `json:"winner_pool"       db:"winner_pool"`
	WinnerCount     int              `json:"winner_count"      db:"winner_count"`
	Status          ResolutionStatus `json:"status"            db:"status"`
}
