package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/evetabi/resolution-engine/internal/ledger"
	"github.com/evetabi/resolution-engine/internal/payout"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// fakeBackend is an in-memory implementation of every collaborator interface
// the Engine depends on (Store, MarketRepo, CommitmentRepo, ResolutionRepo,
// BalanceLedger, Distributor). Transactions are a straight call-through —
// fn(nil) — and the distributor applies plan deltas to the balance map with
// the same arithmetic the real one posts through the ledger, so the
// resolve/rollback round-trip exercised here is the engine's own
// orchestration, not a snapshot-and-restore shortcut.
type fakeBackend struct {
	now         time.Time
	markets     map[uuid.UUID]*domain.Market
	commitments map[uuid.UUID]*domain.Commitment // by commitment id
	byMarket    map[uuid.UUID][]uuid.UUID
	balances    map[uuid.UUID]*fakeBalance
	resolutions map[uuid.UUID]*domain.MarketResolution
	dists       map[uuid.UUID]*domain.PayoutDistribution
	plans       map[uuid.UUID]*payout.PayoutPlan // by distribution id
	logs        []domain.ResolutionLog

	applyErr error // injected distributor failure
}

type fakeBalance struct {
	available decimal.Decimal
	committed decimal.Decimal
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		now:         time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		markets:     make(map[uuid.UUID]*domain.Market),
		commitments: make(map[uuid.UUID]*domain.Commitment),
		byMarket:    make(map[uuid.UUID][]uuid.UUID),
		balances:    make(map[uuid.UUID]*fakeBalance),
		resolutions: make(map[uuid.UUID]*domain.MarketResolution),
		dists:       make(map[uuid.UUID]*domain.PayoutDistribution),
		plans:       make(map[uuid.UUID]*payout.PayoutPlan),
	}
}

func (f *fakeBackend) balance(userID uuid.UUID) *fakeBalance {
	b, ok := f.balances[userID]
	if !ok {
		b = &fakeBalance{available: decimal.NewFromInt(1000), committed: decimal.Zero}
		f.balances[userID] = b
	}
	return b
}

func (f *fakeBackend) addMarket(status domain.MarketStatus, creator uuid.UUID, optionIDs ...string) *domain.Market {
	opts := make([]domain.Option, 0, len(optionIDs))
	for _, id := range optionIDs {
		opts = append(opts, domain.Option{ID: id, Text: id})
	}
	m := &domain.Market{
		ID:        uuid.New(),
		Title:     "test market",
		CreatorID: creator,
		Status:    status,
		Options:   opts,
		EndsAt:    f.now.Add(-time.Hour),
	}
	f.markets[m.ID] = m
	return m
}

func (f *fakeBackend) addCommitment(marketID, userID uuid.UUID, optionID string, tokens int64) uuid.UUID {
	c := &domain.Commitment{
		ID:              uuid.New(),
		UserID:          userID,
		MarketID:        marketID,
		OptionID:        optionID,
		TokensCommitted: decimal.NewFromInt(tokens),
		Status:          domain.CommitmentActive,
		CreatedAt:       f.now.Add(-2 * time.Hour),
	}
	f.commitments[c.ID] = c
	f.byMarket[marketID] = append(f.byMarket[marketID], c.ID)
	f.balance(userID).committed = f.balance(userID).committed.Add(c.TokensCommitted)
	return c.ID
}

// ── Store ────────────────────────────────────────────────────────────────

func (f *fakeBackend) Tx(_ context.Context, fn func(tx *sqlx.Tx) error) error { return fn(nil) }
func (f *fakeBackend) Now(_ context.Context) time.Time                        { return f.now }

// ── MarketRepo ───────────────────────────────────────────────────────────

func (f *fakeBackend) GetByID(_ context.Context, id uuid.UUID) (*domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

func (f *fakeBackend) GetByIDForUpdate(ctx context.Context, _ *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeBackend) TransitionStatus(_ context.Context, _ *sqlx.Tx, marketID uuid.UUID, from, to domain.MarketStatus) error {
	if !from.CanTransition(to) {
		return errors.New("illegal status transition")
	}
	m, ok := f.markets[marketID]
	if !ok || m.Status != from {
		return domain.NewEngineError(domain.KindConflictState, "fake.TransitionStatus", "",
			"market is not in the expected status", nil).
			WithReason(domain.ReasonMarketAlreadyResolved)
	}
	m.Status = to
	return nil
}

func (f *fakeBackend) SetResolutionID(_ context.Context, _ *sqlx.Tx, marketID, resolutionID uuid.UUID) error {
	f.markets[marketID].ResolutionID = &resolutionID
	return nil
}

func (f *fakeBackend) SetCancellationReason(_ context.Context, _ *sqlx.Tx, marketID uuid.UUID, reason string) error {
	f.markets[marketID].CancellationReason = reason
	return nil
}

func (f *fakeBackend) GetExpiredUnresolved(_ context.Context, now time.Time) ([]*domain.Market, error) {
	var out []*domain.Market
	for _, m := range f.markets {
		if m.Status == domain.StatusOpen && !m.EndsAt.After(now) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) ListPendingResolution(_ context.Context) ([]*domain.Market, error) {
	var out []*domain.Market
	for _, m := range f.markets {
		if m.Status == domain.StatusPendingResolution {
			out = append(out, m)
		}
	}
	return out, nil
}

// ── CommitmentRepo ───────────────────────────────────────────────────────

func (f *fakeBackend) ListByMarket(_ context.Context, _ *sqlx.Tx, marketID uuid.UUID) ([]domain.Commitment, error) {
	var out []domain.Commitment
	for _, id := range f.byMarket[marketID] {
		out = append(out, *f.commitments[id])
	}
	return out, nil
}

func (f *fakeBackend) MarkCancelled(_ context.Context, _ *sqlx.Tx, commitmentID uuid.UUID, refundAmount decimal.Decimal) error {
	c, ok := f.commitments[commitmentID]
	if !ok || c.Status != domain.CommitmentActive {
		return domain.ErrCommitmentNotActive
	}
	c.Status = domain.CommitmentRefunded
	c.Payout = &refundAmount
	now := f.now
	c.ResolvedAt = &now
	return nil
}

// ── ResolutionRepo ───────────────────────────────────────────────────────

func (f *fakeBackend) CreateResolution(_ context.Context, _ *sqlx.Tx, res *domain.MarketResolution) error {
	f.resolutions[res.ID] = res
	return nil
}

func (f *fakeBackend) GetDistribution(_ context.Context, _ *sqlx.Tx, id uuid.UUID) (*domain.PayoutDistribution, error) {
	d, ok := f.dists[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return d, nil
}

func (f *fakeBackend) AppendLog(_ context.Context, _ *sqlx.Tx, entry *domain.ResolutionLog) error {
	entry.CreatedAt = f.now
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeBackend) ListLogsForMarket(_ context.Context, marketID uuid.UUID) ([]domain.ResolutionLog, error) {
	var out []domain.ResolutionLog
	for _, l := range f.logs {
		if l.MarketID == marketID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ── BalanceLedger ────────────────────────────────────────────────────────

// fakeLedger wraps the backend as a BalanceLedger; a separate type because
// the Distributor interface also has an Apply method with a different
// signature.
type fakeLedger struct{ f *fakeBackend }

func (l fakeLedger) Apply(_ context.Context, _ *sqlx.Tx, op ledger.Op) (*domain.TokenTransaction, error) {
	b := l.f.balance(op.UserID)
	switch op.Type {
	case domain.TxTypeRefund:
		if b.committed.LessThan(op.Amount) {
			return nil, domain.NewEngineError(domain.KindInsufficient, "fake.Apply", "",
				"committed balance too low", nil).WithReason(domain.ReasonInsufficientFunds)
		}
		b.committed = b.committed.Sub(op.Amount)
		b.available = b.available.Add(op.Amount)
	default:
		return nil, errors.New("fake.Apply: unexpected transaction type " + string(op.Type))
	}
	return &domain.TokenTransaction{ID: uuid.New(), UserID: op.UserID, Type: op.Type, Amount: op.Amount}, nil
}

// ── Distributor ──────────────────────────────────────────────────────────

func (f *fakeBackend) applyPlanLine(r payout.CommitmentResult, distID uuid.UUID) domain.CommitmentStatus {
	c := f.commitments[r.CommitmentID]
	b := f.balance(r.UserID)
	b.committed = b.committed.Sub(r.TokensCommitted)
	b.available = b.available.Add(r.Payout)

	var status domain.CommitmentStatus
	switch {
	case r.IsIllFormed, r.Outcome == payout.OutcomeRefunded:
		status = domain.CommitmentRefunded
	case r.Outcome == payout.OutcomeWon:
		status = domain.CommitmentWon
	default:
		status = domain.CommitmentLost
	}
	c.Status = status
	p, pr := r.Payout, r.Profit
	c.Payout, c.Profit = &p, &pr
	now := f.now
	c.ResolvedAt = &now
	c.LastDistributionID = &distID
	return status
}

type fakeDistributor struct{ f *fakeBackend }

func (d fakeDistributor) Apply(_ context.Context, _ *sqlx.Tx, resolution *domain.MarketResolution, plan *payout.PayoutPlan, creatorID uuid.UUID) (*domain.PayoutDistribution, error) {
	if d.f.applyErr != nil {
		return nil, d.f.applyErr
	}
	return d.f.applyPlan(resolution, plan, creatorID), nil
}

func (d fakeDistributor) Rollback(_ context.Context, _ *sqlx.Tx, dist *domain.PayoutDistribution) ([]uuid.UUID, []uuid.UUID, error) {
	f := d.f
	plan := f.plans[dist.ID]
	var reversalIDs, affected []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, r := range plan.Results {
		b := f.balance(r.UserID)
		b.available = b.available.Sub(r.Payout)
		b.committed = b.committed.Add(r.TokensCommitted)

		c := f.commitments[r.CommitmentID]
		c.Status = domain.CommitmentActive
		c.Payout, c.Profit = nil, nil
		c.ResolvedAt = nil
		c.LastDistributionID = nil

		reversalIDs = append(reversalIDs, uuid.New())
		if !seen[r.UserID] {
			seen[r.UserID] = true
			affected = append(affected, r.UserID)
		}
	}
	if plan.CreatorFee.IsPositive() {
		creator := f.markets[dist.MarketID].CreatorID
		f.balance(creator).available = f.balance(creator).available.Sub(plan.CreatorFee)
	}
	dist.Status = domain.DistributionRolledBack
	return reversalIDs, affected, nil
}

func (f *fakeBackend) applyPlan(resolution *domain.MarketResolution, plan *payout.PayoutPlan, creatorID uuid.UUID) *domain.PayoutDistribution {
	dist := &domain.PayoutDistribution{
		ID:           uuid.New(),
		MarketID:     plan.MarketID,
		ResolutionID: resolution.ID,
		TotalPool:    plan.TotalPool,
		HouseFee:     plan.HouseFee,
		CreatorFee:   plan.CreatorFee,
		WinnerPool:   plan.WinnerPool,
		ProcessedAt:  f.now,
		Status:       domain.DistributionCompleted,
	}
	for _, r := range plan.Results {
		if f.applyPlanLine(r, dist.ID) == domain.CommitmentWon {
			dist.WinningCommitments = append(dist.WinningCommitments, r.CommitmentID)
		} else {
			dist.LosingCommitments = append(dist.LosingCommitments, r.CommitmentID)
		}
	}
	if plan.CreatorFee.IsPositive() && creatorID != uuid.Nil {
		f.balance(creatorID).available = f.balance(creatorID).available.Add(plan.CreatorFee)
	}
	f.dists[dist.ID] = dist
	f.plans[dist.ID] = plan
	return dist
}

func newTestEngine(f *fakeBackend) *Engine {
	calc := payout.New(0.05, 0.05)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(f, fakeLedger{f}, f, f, f, calc, fakeDistributor{f}, nil, minDescLen, 0, logger)
}

func evidence() []domain.Evidence {
	return []domain.Evidence{urlItem("https://example.com/outcome")}
}

// ── Resolve ──────────────────────────────────────────────────────────────

func TestResolve_BinarySingleWinner(t *testing.T) {
	f := newFakeBackend()
	creator, operator := uuid.New(), uuid.New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	m := f.addMarket(domain.StatusPendingResolution, creator, domain.OptionYes, domain.OptionNo)
	c1 := f.addCommitment(m.ID, u1, domain.OptionYes, 200)
	c2 := f.addCommitment(m.ID, u2, domain.OptionNo, 300)
	c3 := f.addCommitment(m.ID, u3, domain.OptionNo, 500)

	e := newTestEngine(f)
	res, dist, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), operator, decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if !res.TotalPool.Equal(decimal.NewFromInt(1000)) ||
		!res.HouseFee.Equal(decimal.NewFromInt(50)) ||
		!res.CreatorFee.Equal(decimal.NewFromInt(20)) ||
		!res.WinnerPool.Equal(decimal.NewFromInt(930)) {
		t.Errorf("resolution totals = pool %s house %s creator %s winner %s, want 1000/50/20/930",
			res.TotalPool, res.HouseFee, res.CreatorFee, res.WinnerPool)
	}
	if res.WinnerCount != 1 {
		t.Errorf("WinnerCount = %d, want 1", res.WinnerCount)
	}
	if m.Status != domain.StatusResolved {
		t.Errorf("market status = %s, want resolved", m.Status)
	}
	if m.ResolutionID == nil || *m.ResolutionID != res.ID {
		t.Error("market resolution back-reference not set")
	}
	if dist == nil || dist.Status != domain.DistributionCompleted {
		t.Fatalf("distribution = %+v, want completed", dist)
	}

	winner := f.commitments[c1]
	if winner.Status != domain.CommitmentWon || winner.Payout == nil || !winner.Payout.Equal(decimal.NewFromInt(930)) {
		t.Errorf("winner commitment: status=%s payout=%v, want won/930", winner.Status, winner.Payout)
	}
	if winner.Profit == nil || !winner.Profit.Equal(decimal.NewFromInt(730)) {
		t.Errorf("winner profit = %v, want 730", winner.Profit)
	}
	for _, id := range []uuid.UUID{c2, c3} {
		if f.commitments[id].Status != domain.CommitmentLost {
			t.Errorf("commitment %s status = %s, want lost", id, f.commitments[id].Status)
		}
	}

	// Balances: stake started in committed, the winner's pool share lands
	// in available, losers' stakes are gone, the creator collects the fee.
	if b := f.balances[u1]; !b.available.Equal(decimal.NewFromInt(1930)) || !b.committed.IsZero() {
		t.Errorf("u1 balance = available %s committed %s, want 1930/0", b.available, b.committed)
	}
	if b := f.balances[u2]; !b.available.Equal(decimal.NewFromInt(1000)) || !b.committed.IsZero() {
		t.Errorf("u2 balance = available %s committed %s, want 1000/0", b.available, b.committed)
	}
	if b := f.balances[creator]; !b.available.Equal(decimal.NewFromInt(1020)) {
		t.Errorf("creator balance = %s, want 1020 (fee credited)", b.available)
	}

	wantOrder := []domain.ResolutionEventType{
		domain.EventStarted, domain.EventEvidenceValidated, domain.EventPlanComputed,
		domain.EventApplied, domain.EventCompleted,
	}
	var got []domain.ResolutionEventType
	for _, l := range f.logs {
		got = append(got, l.Event)
	}
	if len(got) != len(wantOrder) {
		t.Fatalf("log events = %v, want %v", got, wantOrder)
	}
	for i := range wantOrder {
		if got[i] != wantOrder[i] {
			t.Errorf("log[%d] = %s, want %s", i, got[i], wantOrder[i])
		}
	}
}

func TestResolve_MarketNotPending_Rejected(t *testing.T) {
	f := newFakeBackend()
	m := f.addMarket(domain.StatusOpen, uuid.New(), domain.OptionYes, domain.OptionNo)

	e := newTestEngine(f)
	_, _, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), uuid.New(), decimal.Zero)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Kind != domain.KindConflictState {
		t.Fatalf("err = %v, want ConflictState", err)
	}
	if m.Status != domain.StatusOpen {
		t.Errorf("market status = %s, want open (unchanged)", m.Status)
	}
}

func TestResolve_UnknownWinningOption_Rejected(t *testing.T) {
	f := newFakeBackend()
	m := f.addMarket(domain.StatusPendingResolution, uuid.New(), domain.OptionYes, domain.OptionNo)

	e := newTestEngine(f)
	_, _, err := e.Resolve(context.Background(), m.ID, "maybe", evidence(), uuid.New(), decimal.Zero)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Reason != domain.ReasonInvalidWinner {
		t.Fatalf("err = %v, want ReasonInvalidWinner", err)
	}
	if m.Status != domain.StatusPendingResolution {
		t.Errorf("market status = %s, want pending_resolution (unchanged)", m.Status)
	}
}

func TestResolve_DistributorFailure_RevertsToPending(t *testing.T) {
	f := newFakeBackend()
	m := f.addMarket(domain.StatusPendingResolution, uuid.New(), domain.OptionYes, domain.OptionNo)
	f.addCommitment(m.ID, uuid.New(), domain.OptionYes, 100)
	f.applyErr = errors.New("write failed")

	e := newTestEngine(f)
	_, _, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), uuid.New(), decimal.Zero)
	if err == nil {
		t.Fatal("expected Resolve to fail, got nil")
	}
	if m.Status != domain.StatusPendingResolution {
		t.Errorf("market status = %s, want pending_resolution after failed apply", m.Status)
	}
	var sawFailed bool
	for _, l := range f.logs {
		if l.Event == domain.EventFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("no failed event in the audit log")
	}
}

func TestResolve_Twice_SecondRejected(t *testing.T) {
	f := newFakeBackend()
	m := f.addMarket(domain.StatusPendingResolution, uuid.New(), domain.OptionYes, domain.OptionNo)
	f.addCommitment(m.ID, uuid.New(), domain.OptionYes, 100)

	e := newTestEngine(f)
	if _, _, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), uuid.New(), decimal.Zero); err != nil {
		t.Fatalf("first Resolve returned error: %v", err)
	}
	_, _, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), uuid.New(), decimal.Zero)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Kind != domain.KindConflictState {
		t.Fatalf("second Resolve err = %v, want ConflictState", err)
	}
}

// ── Preview ──────────────────────────────────────────────────────────────

func TestPayoutPreview_MatchesAppliedResolution(t *testing.T) {
	f := newFakeBackend()
	m := f.addMarket(domain.StatusPendingResolution, uuid.New(), domain.OptionYes, domain.OptionNo)
	f.addCommitment(m.ID, uuid.New(), domain.OptionYes, 200)
	f.addCommitment(m.ID, uuid.New(), domain.OptionNo, 800)

	e := newTestEngine(f)
	fee := decimal.NewFromFloat(0.02)

	plan1, err := e.PayoutPreview(context.Background(), m.ID, domain.OptionYes, fee)
	if err != nil {
		t.Fatalf("PayoutPreview returned error: %v", err)
	}
	plan2, err := e.PayoutPreview(context.Background(), m.ID, domain.OptionYes, fee)
	if err != nil {
		t.Fatalf("second PayoutPreview returned error: %v", err)
	}
	if !plan1.WinnerPool.Equal(plan2.WinnerPool) || plan1.WinnerCount != plan2.WinnerCount {
		t.Error("preview is not deterministic across identical calls")
	}

	res, _, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), uuid.New(), fee)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !res.TotalPool.Equal(plan1.TotalPool) ||
		!res.HouseFee.Equal(plan1.HouseFee) ||
		!res.CreatorFee.Equal(plan1.CreatorFee) ||
		!res.WinnerPool.Equal(plan1.WinnerPool) {
		t.Errorf("applied resolution diverges from preview: %+v vs pool %s house %s creator %s winner %s",
			res, plan1.TotalPool, plan1.HouseFee, plan1.CreatorFee, plan1.WinnerPool)
	}
}

// ── Rollback ─────────────────────────────────────────────────────────────

func TestRollback_RoundTripRestoresPreResolveState(t *testing.T) {
	f := newFakeBackend()
	creator, operator := uuid.New(), uuid.New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	m := f.addMarket(domain.StatusPendingResolution, creator, domain.OptionYes, domain.OptionNo)
	c1 := f.addCommitment(m.ID, u1, domain.OptionYes, 200)
	f.addCommitment(m.ID, u2, domain.OptionNo, 300)
	f.addCommitment(m.ID, u3, domain.OptionNo, 500)

	before := make(map[uuid.UUID]fakeBalance)
	for id, b := range f.balances {
		before[id] = *b
	}

	e := newTestEngine(f)
	_, dist, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), operator, decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	result, err := e.Rollback(context.Background(), dist.ID, "operator error", operator)
	if err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}
	if len(result.AffectedUsers) != 3 {
		t.Errorf("affected users = %d, want 3", len(result.AffectedUsers))
	}
	if result.Distribution.Status != domain.DistributionRolledBack {
		t.Errorf("distribution status = %s, want rolled_back", result.Distribution.Status)
	}
	if m.Status != domain.StatusPendingResolution {
		t.Errorf("market status = %s, want pending_resolution", m.Status)
	}

	for id, want := range before {
		got := f.balances[id]
		if !got.available.Equal(want.available) || !got.committed.Equal(want.committed) {
			t.Errorf("user %s balance = available %s committed %s, want %s/%s",
				id, got.available, got.committed, want.available, want.committed)
		}
	}
	c := f.commitments[c1]
	if c.Status != domain.CommitmentActive || c.ResolvedAt != nil || c.Payout != nil || c.LastDistributionID != nil {
		t.Errorf("commitment not restored to active: %+v", c)
	}

	var sawInitiated, sawCompleted bool
	for _, l := range f.logs {
		switch l.Event {
		case domain.EventRollbackInitiated:
			sawInitiated = true
		case domain.EventRollbackCompleted:
			sawCompleted = true
		}
	}
	if !sawInitiated || !sawCompleted {
		t.Error("rollback lifecycle events missing from the audit log")
	}
}

func TestRollback_AlreadyRolledBack_Rejected(t *testing.T) {
	f := newFakeBackend()
	operator := uuid.New()
	m := f.addMarket(domain.StatusPendingResolution, uuid.New(), domain.OptionYes, domain.OptionNo)
	f.addCommitment(m.ID, uuid.New(), domain.OptionYes, 100)

	e := newTestEngine(f)
	_, dist, err := e.Resolve(context.Background(), m.ID, domain.OptionYes, evidence(), operator, decimal.Zero)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if _, err := e.Rollback(context.Background(), dist.ID, "first", operator); err != nil {
		t.Fatalf("first Rollback returned error: %v", err)
	}

	_, err = e.Rollback(context.Background(), dist.ID, "second", operator)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Reason != domain.ReasonAlreadyRolledBack {
		t.Fatalf("second Rollback err = %v, want ReasonAlreadyRolledBack", err)
	}
}

func TestRollback_UnknownDistribution_NotFound(t *testing.T) {
	f := newFakeBackend()
	e := newTestEngine(f)
	_, err := e.Rollback(context.Background(), uuid.New(), "nothing here", uuid.New())
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Kind != domain.KindNotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

// ── Cancel ───────────────────────────────────────────────────────────────

func TestCancel_RefundsActiveCommitments(t *testing.T) {
	f := newFakeBackend()
	u1, u2 := uuid.New(), uuid.New()
	m := f.addMarket(domain.StatusOpen, uuid.New(), domain.OptionYes, domain.OptionNo)
	c1 := f.addCommitment(m.ID, u1, domain.OptionYes, 400)
	c2 := f.addCommitment(m.ID, u2, domain.OptionNo, 600)

	e := newTestEngine(f)
	got, err := e.Cancel(context.Background(), m.ID, "bad question", uuid.New(), true)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if got.Status != domain.StatusCancelled || got.CancellationReason != "bad question" {
		t.Errorf("market = status %s reason %q, want cancelled/%q", got.Status, got.CancellationReason, "bad question")
	}
	for _, id := range []uuid.UUID{c1, c2} {
		if f.commitments[id].Status != domain.CommitmentRefunded {
			t.Errorf("commitment %s status = %s, want refunded", id, f.commitments[id].Status)
		}
	}
	if b := f.balances[u1]; !b.available.Equal(decimal.NewFromInt(1400)) || !b.committed.IsZero() {
		t.Errorf("u1 balance = available %s committed %s, want 1400/0", b.available, b.committed)
	}
	if b := f.balances[u2]; !b.available.Equal(decimal.NewFromInt(1600)) || !b.committed.IsZero() {
		t.Errorf("u2 balance = available %s committed %s, want 1600/0", b.available, b.committed)
	}

	_, err = e.Cancel(context.Background(), m.ID, "again", uuid.New(), true)
	var ee *domain.EngineError
	if !errors.As(err, &ee) || ee.Kind != domain.KindConflictState {
		t.Fatalf("second Cancel err = %v, want ConflictState", err)
	}
}

func TestCancel_WithoutRefund_ForfeitsStakes(t *testing.T) {
	f := newFakeBackend()
	u := uuid.New()
	m := f.addMarket(domain.StatusPendingResolution, uuid.New(), domain.OptionYes, domain.OptionNo)
	f.addCommitment(m.ID, u, domain.OptionYes, 250)

	e := newTestEngine(f)
	if _, err := e.Cancel(context.Background(), m.ID, "void", uuid.New(), false); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if b := f.balances[u]; !b.available.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("u available = %s, want 1000 (no refund credited)", b.available)
	}
}

// ── Pending queue ────────────────────────────────────────────────────────

func TestGetPendingResolution_PromotesExpiredMarkets(t *testing.T) {
	f := newFakeBackend()
	expired := f.addMarket(domain.StatusOpen, uuid.New(), domain.OptionYes, domain.OptionNo)
	open := f.addMarket(domain.StatusOpen, uuid.New(), domain.OptionYes, domain.OptionNo)
	open.EndsAt = f.now.Add(time.Hour)

	e := newTestEngine(f)
	pending, err := e.GetPendingResolution(context.Background())
	if err != nil {
		t.Fatalf("GetPendingResolution returned error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != expired.ID {
		t.Fatalf("pending = %v, want just the expired market", pending)
	}
	if expired.Status != domain.StatusPendingResolution {
		t.Errorf("expired market status = %s, want pending_resolution", expired.Status)
	}
	if open.Status != domain.StatusOpen {
		t.Errorf("future market status = %s, want open", open.Status)
	}

	// Idempotent: a second sweep finds nothing new to promote.
	again, err := e.GetPendingResolution(context.Background())
	if err != nil {
		t.Fatalf("second GetPendingResolution returned error: %v", err)
	}
	if len(again) != 1 || again[0].ID != expired.ID {
		t.Errorf("second sweep = %v, want the same single pending market", again)
	}
}
