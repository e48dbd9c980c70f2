// Package engine implements the resolution orchestrator: it takes a market
// from pending_resolution to resolved (or to cancelled, or unwinds a
// completed distribution via rollback), gluing the store, ledger,
// repositories, payout calculator, and distributor together into one
// transactional cycle per operation.
//
// The shape is compute-everything-then-write-everything: all validation and
// the payout plan happen before the apply transaction opens, and the
// advisory lock is a conditional status UPDATE (pending_resolution ->
// resolving) so at most one resolution is ever in flight per market.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/evetabi/resolution-engine/internal/changefeed"
	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/evetabi/resolution-engine/internal/ledger"
	"github.com/evetabi/resolution-engine/internal/payout"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// The engine depends on its collaborators through the narrow interfaces
// below rather than the concrete store/repository/distributor types, so the
// orchestration — the state machine, failure reverts, audit ordering — can
// be driven in tests against an in-memory backend. The concrete types in
// internal/store, internal/repository, internal/ledger, and
// internal/distributor satisfy them as-is.

// Store is the transactional surface the engine runs its cycles on.
type Store interface {
	Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	Now(ctx context.Context) time.Time
}

// MarketRepo is the market access the engine needs: single-row reads, the
// conditional status transitions that implement the per-market advisory
// lock, and the pending-queue queries.
type MarketRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Market, error)
	GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error)
	TransitionStatus(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, from, to domain.MarketStatus) error
	SetResolutionID(ctx context.Context, tx *sqlx.Tx, marketID, resolutionID uuid.UUID) error
	SetCancellationReason(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, reason string) error
	GetExpiredUnresolved(ctx context.Context, now time.Time) ([]*domain.Market, error)
	ListPendingResolution(ctx context.Context) ([]*domain.Market, error)
}

// CommitmentRepo is the commitment access the engine needs.
type CommitmentRepo interface {
	ListByMarket(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) ([]domain.Commitment, error)
	MarkCancelled(ctx context.Context, tx *sqlx.Tx, commitmentID uuid.UUID, refundAmount decimal.Decimal) error
}

// ResolutionRepo persists resolutions, distributions, and audit log entries.
type ResolutionRepo interface {
	CreateResolution(ctx context.Context, tx *sqlx.Tx, res *domain.MarketResolution) error
	GetDistribution(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.PayoutDistribution, error)
	AppendLog(ctx context.Context, tx *sqlx.Tx, entry *domain.ResolutionLog) error
	ListLogsForMarket(ctx context.Context, marketID uuid.UUID) ([]domain.ResolutionLog, error)
}

// BalanceLedger is the single ledger operation Cancel applies directly;
// resolution-path balance movements go through the Distributor.
type BalanceLedger interface {
	Apply(ctx context.Context, tx *sqlx.Tx, op ledger.Op) (*domain.TokenTransaction, error)
}

// Distributor applies a verified payout plan and reverses a completed
// distribution.
type Distributor interface {
	Apply(ctx context.Context, tx *sqlx.Tx, resolution *domain.MarketResolution, plan *payout.PayoutPlan, creatorID uuid.UUID) (*domain.PayoutDistribution, error)
	Rollback(ctx context.Context, tx *sqlx.Tx, dist *domain.PayoutDistribution) ([]uuid.UUID, []uuid.UUID, error)
}

// Engine is the Resolution & Payout Engine's orchestrator. feed may be nil
// (changefeed notifications become a no-op), which keeps the engine usable
// in tests that don't care about push delivery.
type Engine struct {
	store          Store
	ledger         BalanceLedger
	commitmentRepo CommitmentRepo
	marketRepo     MarketRepo
	resolutionRepo ResolutionRepo
	calculator     *payout.Calculator
	distributor    Distributor
	feed           *changefeed.Hub
	minEvidenceLen int
	deadline       time.Duration
	log            *slog.Logger
}

// New builds an Engine. minEvidenceLen is config.ResolutionConfig's
// MinEvidenceDescLen; deadline bounds each public operation
// (config.ResolutionConfig.OperationDeadline, zero disables the bound).
func New(
	st Store,
	l BalanceLedger,
	commitmentRepo CommitmentRepo,
	marketRepo MarketRepo,
	resolutionRepo ResolutionRepo,
	calculator *payout.Calculator,
	dist Distributor,
	feed *changefeed.Hub,
	minEvidenceLen int,
	deadline time.Duration,
	log *slog.Logger,
) *Engine {
	return &Engine{
		store:          st,
		ledger:         l,
		commitmentRepo: commitmentRepo,
		marketRepo:     marketRepo,
		resolutionRepo: resolutionRepo,
		calculator:     calculator,
		distributor:    dist,
		feed:           feed,
		minEvidenceLen: minEvidenceLen,
		deadline:       deadline,
		log:            log,
	}
}

// opContext caps ctx at the engine's configured operation deadline. If the
// deadline elapses before the apply transaction commits, the Store aborts the
// in-flight transaction and the caller's failure path reverts the market's
// status — no partial effects survive.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.deadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.deadline)
}

// Status bundles a market's current state with its full audit trail, for
// the inbound "status" operation.
type Status struct {
	Market *domain.Market
	Logs   []domain.ResolutionLog
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolve
// ──────────────────────────────────────────────────────────────────────────────

// Resolve determines a market's winner and applies payouts in one cycle:
// validate evidence and inputs, acquire the advisory lock (pending_resolution
// -> resolving), compute a verified PayoutPlan, then apply it and transition
// to resolved inside a single transaction. Any failure after the lock is
// acquired rolls the market's status back to pending_resolution so it
// remains eligible for a retried resolve() call.
//
// operatorID identifies who is resolving the market for the audit log;
// authorizing that identity (administrative capability) is the API layer's
// responsibility (see internal/api/middleware.AdminMiddleware) — Engine only
// requires operatorID to be non-zero.
func (e *Engine) Resolve(
	ctx context.Context,
	marketID uuid.UUID,
	winningOptionID string,
	evidence []domain.Evidence,
	operatorID uuid.UUID,
	creatorFeeFraction decimal.Decimal,
) (*domain.MarketResolution, *domain.PayoutDistribution, error) {
	opID := uuid.New().String()
	if operatorID == uuid.Nil {
		return nil, nil, domain.NewEngineError(domain.KindUnauthorized, "engine.Resolve", opID, "operator id is required", nil)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	if err := validateEvidence(evidence, e.minEvidenceLen); err != nil {
		return nil, nil, withOp(err, opID)
	}

	market, err := e.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil, domain.NewEngineError(domain.KindNotFound, "engine.Resolve", opID, "market not found", err)
		}
		return nil, nil, err
	}
	if market.Status != domain.StatusPendingResolution {
		return nil, nil, domain.NewEngineError(domain.KindConflictState, "engine.Resolve", opID,
			fmt.Sprintf("market %s is %s, not pending_resolution", marketID, market.Status), nil).
			WithReason(domain.ReasonMarketAlreadyResolved)
	}
	if !market.HasOption(winningOptionID) {
		return nil, nil, domain.NewEngineError(domain.KindInvalidInput, "engine.Resolve", opID,
			fmt.Sprintf("%q is not an option of market %s", winningOptionID, marketID), nil).
			WithReason(domain.ReasonInvalidWinner)
	}
	if creatorFeeFraction.IsNegative() || creatorFeeFraction.GreaterThan(e.calculator.MaxCreatorFeeFraction) {
		return nil, nil, domain.NewEngineError(domain.KindInvalidInput, "engine.Resolve", opID,
			"creator fee fraction exceeds the configured maximum", nil).
			WithReason(domain.ReasonInvalidFeeConfiguration)
	}

	e.logEvent(ctx, nil, marketID, nil, nil, domain.EventStarted, operatorID, opID, "")
	e.logEvent(ctx, nil, marketID, nil, nil, domain.EventEvidenceValidated, operatorID, opID,
		fmt.Sprintf("%d items", len(evidence)))

	if err := e.store.Tx(ctx, func(tx *sqlx.Tx) error {
		return e.marketRepo.TransitionStatus(ctx, tx, marketID, domain.StatusPendingResolution, domain.StatusResolving)
	}); err != nil {
		e.logEvent(ctx, nil, marketID, nil, nil, domain.EventFailed, operatorID, opID, err.Error())
		return nil, nil, err
	}

	commitments, err := e.commitmentRepo.ListByMarket(ctx, nil, marketID)
	if err != nil {
		e.revertToPending(ctx, marketID, operatorID, opID, err)
		return nil, nil, err
	}

	plan, err := e.calculator.Calculate(market, commitments, winningOptionID, creatorFeeFraction)
	if err != nil {
		e.revertToPending(ctx, marketID, operatorID, opID, err)
		return nil, nil, withOp(err, opID)
	}
	e.logEvent(ctx, nil, marketID, nil, nil, domain.EventPlanComputed, operatorID, opID,
		fmt.Sprintf("pool=%s house=%s creator=%s winnerPool=%s winners=%d",
			plan.TotalPool, plan.HouseFee, plan.CreatorFee, plan.WinnerPool, plan.WinnerCount))

	resolution := &domain.MarketResolution{
		ID:              uuid.New(),
		MarketID:        marketID,
		WinningOptionID: winningOptionID,
		ResolvedBy:      operatorID,
		ResolvedAt:      e.store.Now(ctx),
		Evidence:        evidence,
		TotalPool:       plan.TotalPool,
		HouseFee:        plan.HouseFee,
		CreatorFee:      plan.CreatorFee,
		WinnerPool:      plan.WinnerPool,
		WinnerCount:     plan.WinnerCount,
		Status:          domain.ResolutionCompleted,
	}

	var distribution *domain.PayoutDistribution
	err = e.store.Tx(ctx, func(tx *sqlx.Tx) error {
		if err := e.resolutionRepo.CreateResolution(ctx, tx, resolution); err != nil {
			return err
		}
		d, err := e.distributor.Apply(ctx, tx, resolution, plan, market.CreatorID)
		if err != nil {
			return err
		}
		distribution = d
		if err := e.marketRepo.TransitionStatus(ctx, tx, marketID, domain.StatusResolving, domain.StatusResolved); err != nil {
			return err
		}
		if err := e.marketRepo.SetResolutionID(ctx, tx, marketID, resolution.ID); err != nil {
			return err
		}
		return e.resolutionRepo.AppendLog(ctx, tx, &domain.ResolutionLog{
			ID: uuid.New(), MarketID: marketID, ResolutionID: &resolution.ID, DistributionID: &d.ID,
			Event: domain.EventApplied, OperatorID: &operatorID, OperationID: opID,
		})
	})
	if err != nil {
		e.revertToPending(ctx, marketID, operatorID, opID, err)
		return nil, nil, err
	}

	e.logEvent(ctx, nil, marketID, &resolution.ID, distIDPtr(distribution), domain.EventCompleted, operatorID, opID, "")
	e.publish(marketID, changefeed.UpdateResolutionApplied, "")
	return resolution, distribution, nil
}

// revertToPending rolls a market back from resolving to pending_resolution
// after a failure past the advisory-lock step, and records the failure.
func (e *Engine) revertToPending(ctx context.Context, marketID, operatorID uuid.UUID, opID string, cause error) {
	_ = e.store.Tx(ctx, func(tx *sqlx.Tx) error {
		return e.marketRepo.TransitionStatus(ctx, tx, marketID, domain.StatusResolving, domain.StatusPendingResolution)
	})
	e.logEvent(ctx, nil, marketID, nil, nil, domain.EventFailed, operatorID, opID, cause.Error())
	e.publish(marketID, changefeed.UpdateResolutionFailed, cause.Error())
}

// ──────────────────────────────────────────────────────────────────────────────
// Rollback
// ──────────────────────────────────────────────────────────────────────────────

// RollbackResult bundles the inbound "rollback" operation's output
// alongside the distribution it acted on.
type RollbackResult struct {
	Distribution           *domain.PayoutDistribution
	RollbackTransactionIDs []uuid.UUID
	AffectedUsers          []uuid.UUID
}

// Rollback reverses a completed distribution: every touched commitment
// returns to active, every ledger movement it posted is compensated, and
// the owning market returns to pending_resolution so it can be re-resolved.
// The MarketResolution record itself is left untouched — rollback enables a
// fresh resolve cycle, it does not undo history; a re-resolution writes a
// new record with a new id.
func (e *Engine) Rollback(ctx context.Context, distributionID uuid.UUID, reason string, operatorID uuid.UUID) (*RollbackResult, error) {
	opID := uuid.New().String()
	if operatorID == uuid.Nil {
		return nil, domain.NewEngineError(domain.KindUnauthorized, "engine.Rollback", opID, "operator id is required", nil)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	dist, err := e.resolutionRepo.GetDistribution(ctx, nil, distributionID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewEngineError(domain.KindNotFound, "engine.Rollback", opID, "distribution not found", err)
		}
		return nil, err
	}
	if dist.Status != domain.DistributionCompleted {
		return nil, domain.NewEngineError(domain.KindConflictState, "engine.Rollback", opID,
			fmt.Sprintf("distribution %s is %s, not completed", distributionID, dist.Status), nil).
			WithReason(domain.ReasonAlreadyRolledBack)
	}

	e.logEvent(ctx, nil, dist.MarketID, &dist.ResolutionID, &dist.ID, domain.EventRollbackInitiated, operatorID, opID, reason)

	var reversalTxIDs, affected []uuid.UUID
	err = e.store.Tx(ctx, func(tx *sqlx.Tx) error {
		fresh, err := e.resolutionRepo.GetDistribution(ctx, tx, distributionID)
		if err != nil {
			return err
		}
		if fresh.Status != domain.DistributionCompleted {
			return domain.NewEngineError(domain.KindConflictState, "engine.Rollback", opID,
				fmt.Sprintf("distribution %s is %s, not completed", distributionID, fresh.Status), nil).
				WithReason(domain.ReasonAlreadyRolledBack)
		}
		txIDs, users, err := e.distributor.Rollback(ctx, tx, fresh)
		if err != nil {
			return err
		}
		reversalTxIDs, affected = txIDs, users
		return e.marketRepo.TransitionStatus(ctx, tx, fresh.MarketID, domain.StatusResolved, domain.StatusPendingResolution)
	})
	if err != nil {
		e.logEvent(ctx, nil, dist.MarketID, &dist.ResolutionID, &dist.ID, domain.EventFailed, operatorID, opID, err.Error())
		return nil, err
	}

	e.logEvent(ctx, nil, dist.MarketID, &dist.ResolutionID, &dist.ID, domain.EventRollbackCompleted, operatorID, opID,
		fmt.Sprintf("%d users affected", len(affected)))
	e.publish(dist.MarketID, changefeed.UpdateRolledBack, reason)
	dist.Status = domain.DistributionRolledBack
	return &RollbackResult{Distribution: dist, RollbackTransactionIDs: reversalTxIDs, AffectedUsers: affected}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel
// ──────────────────────────────────────────────────────────────────────────────

// Cancel voids a market outside the normal resolve path: every active
// commitment is closed out as refunded (crediting back its tokensCommitted
// when refundTokens is true, or simply forfeiting it when false), and the
// market moves to its terminal cancelled status. Unlike resolve(), cancel
// has no distribution and no PayoutCalculator involvement — stakes are
// returned whole, never shared out.
func (e *Engine) Cancel(ctx context.Context, marketID uuid.UUID, reason string, operatorID uuid.UUID, refundTokens bool) (*domain.Market, error) {
	opID := uuid.New().String()
	if operatorID == uuid.Nil {
		return nil, domain.NewEngineError(domain.KindUnauthorized, "engine.Cancel", opID, "operator id is required", nil)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	market, err := e.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewEngineError(domain.KindNotFound, "engine.Cancel", opID, "market not found", err)
		}
		return nil, err
	}
	if market.Status.IsTerminal() {
		return nil, domain.NewEngineError(domain.KindConflictState, "engine.Cancel", opID,
			fmt.Sprintf("market %s is already %s", marketID, market.Status), nil).
			WithReason(domain.ReasonMarketAlreadyResolved)
	}

	err = e.store.Tx(ctx, func(tx *sqlx.Tx) error {
		m, err := e.marketRepo.GetByIDForUpdate(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if m.Status.IsTerminal() {
			return domain.NewEngineError(domain.KindConflictState, "engine.Cancel", opID,
				fmt.Sprintf("market %s is already %s", marketID, m.Status), nil).
				WithReason(domain.ReasonMarketAlreadyResolved)
		}

		commitments, err := e.commitmentRepo.ListByMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		for _, c := range commitments {
			if !c.IsActive() {
				continue
			}
			amount := decimal.Zero
			if refundTokens {
				amount = c.TokensCommitted
				if _, err := e.ledger.Apply(ctx, tx, ledger.Op{
					UserID: c.UserID, Amount: amount, Type: domain.TxTypeRefund, RelatedID: &c.ID,
				}); err != nil {
					return err
				}
			}
			if err := e.commitmentRepo.MarkCancelled(ctx, tx, c.ID, amount); err != nil {
				return err
			}
		}

		if err := e.marketRepo.TransitionStatus(ctx, tx, marketID, m.Status, domain.StatusCancelled); err != nil {
			return err
		}
		if err := e.marketRepo.SetCancellationReason(ctx, tx, marketID, reason); err != nil {
			return err
		}
		return e.resolutionRepo.AppendLog(ctx, tx, &domain.ResolutionLog{
			ID: uuid.New(), MarketID: marketID, Event: domain.EventCancelled,
			OperatorID: &operatorID, OperationID: opID, Detail: reason,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(marketID, changefeed.UpdateCancelled, reason)
	return e.marketRepo.GetByID(ctx, marketID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// GetPendingResolution promotes every StatusOpen market whose EndsAt has
// passed to pending_resolution, then returns the full pending queue. A
// promotion that loses a race to a concurrent caller (ConflictState) is
// tolerated — the market is already where this call wanted it.
func (e *Engine) GetPendingResolution(ctx context.Context) ([]*domain.Market, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	expired, err := e.marketRepo.GetExpiredUnresolved(ctx, e.store.Now(ctx))
	if err != nil {
		return nil, err
	}
	for _, m := range expired {
		err := e.store.Tx(ctx, func(tx *sqlx.Tx) error {
			return e.marketRepo.TransitionStatus(ctx, tx, m.ID, domain.StatusOpen, domain.StatusPendingResolution)
		})
		if err != nil && !isConflictState(err) {
			return nil, err
		}
		if err == nil {
			e.publish(m.ID, changefeed.UpdateStatusChanged, string(domain.StatusPendingResolution))
		}
	}
	return e.marketRepo.ListPendingResolution(ctx)
}

// PayoutPreview computes what Resolve would pay out without writing
// anything, for the inbound "preview" operation.
func (e *Engine) PayoutPreview(ctx context.Context, marketID uuid.UUID, winningOptionID string, creatorFeeFraction decimal.Decimal) (*payout.PayoutPlan, error) {
	market, err := e.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewEngineError(domain.KindNotFound, "engine.PayoutPreview", "", "market not found", err)
		}
		return nil, err
	}
	commitments, err := e.commitmentRepo.ListByMarket(ctx, nil, marketID)
	if err != nil {
		return nil, err
	}
	return e.calculator.Preview(market, commitments, winningOptionID, creatorFeeFraction)
}

// Status returns a market's current state plus its full resolution audit
// trail.
func (e *Engine) Status(ctx context.Context, marketID uuid.UUID) (*Status, error) {
	market, err := e.marketRepo.GetByID(ctx, marketID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, domain.NewEngineError(domain.KindNotFound, "engine.Status", "", "market not found", err)
		}
		return nil, err
	}
	logs, err := e.resolutionRepo.ListLogsForMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return &Status{Market: market, Logs: logs}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func (e *Engine) logEvent(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, resolutionID, distributionID *uuid.UUID, event domain.ResolutionEventType, operatorID uuid.UUID, opID, detail string) {
	entry := &domain.ResolutionLog{
		ID: uuid.New(), MarketID: marketID, ResolutionID: resolutionID, DistributionID: distributionID,
		Event: event, OperatorID: &operatorID, OperationID: opID, Detail: detail,
	}
	if err := e.resolutionRepo.AppendLog(ctx, tx, entry); err != nil && e.log != nil {
		e.log.Warn("engine: failed to append resolution log", "event", event, "market_id", marketID, "error", err)
	}
}

func (e *Engine) publish(marketID uuid.UUID, kind changefeed.UpdateType, detail string) {
	if e.feed == nil {
		return
	}
	e.feed.Publish(changefeed.Update{MarketID: marketID, Type: kind, Detail: detail})
}

func distIDPtr(d *domain.PayoutDistribution) *uuid.UUID {
	if d == nil {
		return nil
	}
	return &d.ID
}

func isConflictState(err error) bool {
	var ee *domain.EngineError
	return errors.As(err, &ee) && ee.Kind == domain.KindConflictState
}

// withOp stamps opID onto an *domain.EngineError returned by a lower layer
// (e.g. payout.Calculate) that does not know the engine's operation id.
func withOp(err error, opID string) error {
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		ee.OperationID = opID
	}
	return err
}

// validateEvidence enforces the minimum evidentiary bar: at least one
// parseable URL, or a description of at least minDescLen characters.
func validateEvidence(items []domain.Evidence, minDescLen int) error {
	if len(items) == 0 {
		return insufficientEvidence("at least one evidence item is required")
	}
	hasURL := false
	longestDesc := 0
	for _, item := range items {
		switch item.Type {
		case domain.EvidenceURL:
			if _, err := url.ParseRequestURI(item.Content); err != nil {
				return insufficientEvidence(fmt.Sprintf("evidence item has an unparseable url: %q", item.Content))
			}
			hasURL = true
		case domain.EvidenceDescription:
			if len(item.Description) > longestDesc {
				longestDesc = len(item.Description)
			}
		case domain.EvidenceScreenshotRef:
			if item.Content == "" {
				return insufficientEvidence("screenshot-ref evidence item has no content")
			}
		default:
			return insufficientEvidence(fmt.Sprintf("unknown evidence type %q", item.Type))
		}
	}
	if !hasURL && longestDesc < minDescLen {
		return insufficientEvidence(fmt.Sprintf("evidence must include a url or a description of at least %d characters", minDescLen))
	}
	return nil
}

func insufficientEvidence(msg string) error {
	return domain.NewEngineError(domain.KindInvalidInput, "engine.validateEvidence", "", msg, nil).
		WithReason(domain.ReasonInsufficientEvidence)
}
