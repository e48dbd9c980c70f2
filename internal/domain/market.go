// Package domain defines the core business entities and types for the
// token-denominated prediction market platform.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketStatus
// ──────────────────────────────────────────────────────────────────────────────

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	StatusOpen              MarketStatus = "open"               // accepting commitments
	StatusPendingResolution MarketStatus = "pending_resolution"  // betting window over, awaiting an operator
	StatusResolving         MarketStatus = "resolving"           // resolution in flight (advisory lock held)
	StatusResolved          MarketStatus = "resolved"            // winner determined, payouts applied
	StatusCancelled         MarketStatus = "cancelled"           // voided; all commitments refunded
)

// validTransitions enumerates the status graph:
// open -> pending_resolution -> resolving -> resolved
// open|pending_resolution -> cancelled
// resolving -> pending_resolution (failure pre-apply)
// StatusResolved -> StatusPendingResolution is the rollback edge: flipping a
// completed distribution back does not touch the market's terminal-ness in
// the usual sense, but it does hand the market back to the operator queue
// for a fresh resolve cycle.
var validTransitions = map[MarketStatus]map[MarketStatus]bool{
	StatusOpen:              {StatusPendingResolution: true, StatusCancelled: true},
	StatusPendingResolution: {StatusResolving: true, StatusCancelled: true},
	StatusResolving:         {StatusResolved: true, StatusPendingResolution: true},
	StatusResolved:          {StatusPendingResolution: true},
}

// CanTransition reports whether a status change from -> to is legal.
func (from MarketStatus) CanTransition(to MarketStatus) bool {
	return validTransitions[from][to]
}

// IsTerminal reports whether the market can no longer change status.
func (s MarketStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// ──────────────────────────────────────────────────────────────────────────────
// Reserved binary option ids
// ──────────────────────────────────────────────────────────────────────────────

// Reserved option ids used by binary (yes/no) markets, including legacy
// commitments that only carry a Position rather than an OptionID.
const (
	OptionYes = "yes"
	OptionNo  = "no"
)

// ──────────────────────────────────────────────────────────────────────────────
// Option
// ──────────────────────────────────────────────────────────────────────────────

// Option is one selectable outcome of a Market.
type Option struct {
	ID               string          `json:"id"                db:"id"`
	Text             string          `json:"text"              db:"text"`
	TotalTokens      decimal.Decimal `json:"total_tokens"      db:"total_tokens"`
	ParticipantCount int             `json:"participant_count" db:"participant_count"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is a single prediction round: a question with two or more mutually
// exclusive Options, open for commitments until EndsAt.
type Market struct {
	ID                 uuid.UUID    `json:"id"                  db:"id"`
	Title               string      `json:"title"               db:"title"`
	CreatorID           uuid.UUID   `json:"creator_id"          db:"creator_id"`
	Status              MarketStatus `json:"status"             db:"status"`
	Options             []Option     `json:"options"            db:"-"`
	EndsAt              time.Time    `json:"ends_at"            db:"ends_at"`
	ResolutionID        *uuid.UUID   `json:"resolution_id"      db:"resolution_id"`
	CancellationReason  string       `json:"cancellation_reason" db:"cancellation_reason"`
	CreatedAt           time.Time    `json:"created_at"         db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"         db:"updated_at"`
}

// IsBinary reports whether the market has exactly two options whose ids are
// the reserved yes/no symbols.
func (m *Market) IsBinary() bool {
	if len(m.Options) != 2 {
		return false
	}
	seen := map[string]bool{}
	for _, o := range m.Options {
		seen[o.ID] = true
	}
	return seen[OptionYes] && seen[OptionNo]
}

// Option returns the option with the given id, or false if it does not exist.
func (m *Market) Option(id string) (Option, bool) {
	for _, o := range m.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// HasOption reports whether id names an existing option of this market.
func (m *Market) HasOption(id string) bool {
	_, ok := m.Option(id)
	return ok
}

// TotalPool returns the sum of every option's TotalTokens.
func (m *Market) TotalPool() decimal.Decimal {
	total := decimal.Zero
	for _, o := range m.Options {
		total = total.Add(o.TotalTokens)
	}
	return total
}

// IsOpen reports whether the market is still accepting commitments.
func (m *Market) IsOpen() bool {
	return m.Status == StatusOpen
}

// IsResolved reports whether the market has been settled.
func (m *Market) IsResolved() bool {
	return m.Status == StatusResolved
}
