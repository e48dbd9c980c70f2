package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResolutionEventType enumerates the ordered audit events the engine emits
// for one resolution (or rollback) cycle. ResolutionLog is the sole source
// of truth for incident review — nothing here is ever mutated.
type ResolutionEventType string

const (
	EventStarted            ResolutionEventType = "started"
	EventEvidenceValidated   ResolutionEventType = "evidence_validated"
	EventPlanComputed        ResolutionEventType = "plan_computed"
	EventApplied             ResolutionEventType = "applied"
	EventCompleted           ResolutionEventType = "completed"
	EventFailed              ResolutionEventType = "failed"
	EventRollbackInitiated   ResolutionEventType = "rollback_initiated"
	EventRollbackCompleted   ResolutionEventType = "rollback_completed"
	EventCancelled           ResolutionEventType = "cancelled"
)

// ResolutionLog is one immutable audit entry for a market's resolution
// lifecycle.
type ResolutionLog struct {
	ID             uuid.UUID           `json:"id"              db:"id"`
	MarketID       uuid.UUID           `json:"market_id"       db:"market_id"`
	ResolutionID   *uuid.UUID          `json:"resolution_id"   db:"resolution_id"`
	DistributionID *uuid.UUID          `json:"distribution_id" db:"distribution_id"`
	Event          ResolutionEventType `json:"event"           db:"event"`
	OperatorID     *uuid.UUID          `json:"operator_id"     db:"operator_id"`
	OperationID    string              `json:"operation_id"    db:"operation_id"`
	Detail         string              `json:"detail,omitempty" db:"detail"`
	CreatedAt      time.Time           `json:"created_at"      db:"created_at"`
}
