package payout

import (
	"testing"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func binaryMarket() *domain.Market {
	return &domain.Market{
		ID:     uuid.New(),
		Title:  "will it rain tomorrow",
		Status: domain.StatusResolving,
		Options: []domain.Option{
			{ID: domain.OptionYes, Text: "Yes"},
			{ID: domain.OptionNo, Text: "No"},
		},
	}
}

func commit(id string, optionID string, tokens int64) domain.Commitment {
	return domain.Commitment{
		ID:              uuid.MustParse(id),
		UserID:          uuid.New(),
		OptionID:        optionID,
		TokensCommitted: decimal.NewFromInt(tokens),
		Status:          domain.CommitmentActive,
	}
}

func resultFor(plan *PayoutPlan, id uuid.UUID) CommitmentResult {
	for _, r := range plan.Results {
		if r.CommitmentID == id {
			return r
		}
	}
	panic("commitment not found in plan: " + id.String())
}

func TestCalculate_BinaryWinnerPayout(t *testing.T) {
	market := binaryMarket()
	a := commit("00000000-0000-0000-0000-000000000001", domain.OptionYes, 600)
	b := commit("00000000-0000-0000-0000-000000000002", domain.OptionYes, 400)
	loser := commit("00000000-0000-0000-0000-000000000003", domain.OptionNo, 500)

	calc := New(0.05, 0.05)
	plan, err := calc.Calculate(market, []domain.Commitment{a, b, loser}, domain.OptionYes, decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	if !plan.TotalPool.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("TotalPool = %s, want 1500", plan.TotalPool)
	}
	if !plan.HouseFee.Equal(decimal.NewFromInt(75)) {
		t.Errorf("HouseFee = %s, want 75", plan.HouseFee)
	}
	if !plan.CreatorFee.Equal(decimal.NewFromInt(30)) {
		t.Errorf("CreatorFee = %s, want 30", plan.CreatorFee)
	}
	if !plan.WinnerPool.Equal(decimal.NewFromInt(1395)) {
		t.Errorf("WinnerPool = %s, want 1395", plan.WinnerPool)
	}

	// winnerPool split by stake weight: a floor(1395*600/1000)=837,
	// b floor(1395*400/1000)=558; no remainder.
	ra := resultFor(plan, a.ID)
	if ra.Outcome != OutcomeWon || !ra.Payout.Equal(decimal.NewFromInt(837)) {
		t.Errorf("a: outcome=%s payout=%s, want won/837", ra.Outcome, ra.Payout)
	}
	if !ra.Profit.Equal(decimal.NewFromInt(237)) {
		t.Errorf("a profit = %s, want 237", ra.Profit)
	}
	rb := resultFor(plan, b.ID)
	if rb.Outcome != OutcomeWon || !rb.Payout.Equal(decimal.NewFromInt(558)) {
		t.Errorf("b: outcome=%s payout=%s, want won/558", rb.Outcome, rb.Payout)
	}
	rl := resultFor(plan, loser.ID)
	if rl.Outcome != OutcomeLost || !rl.Payout.IsZero() {
		t.Errorf("loser: outcome=%s payout=%s, want lost/0", rl.Outcome, rl.Payout)
	}
	if !rl.Profit.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("loser profit = %s, want -500", rl.Profit)
	}
}

func TestCalculate_NoWinner_ProRataRefund(t *testing.T) {
	market := binaryMarket()
	a := commit("00000000-0000-0000-0000-000000000001", domain.OptionNo, 500)
	b := commit("00000000-0000-0000-0000-000000000002", domain.OptionNo, 300)

	calc := New(0.05, 0.02)
	plan, err := calc.Calculate(market, []domain.Commitment{a, b}, domain.OptionYes, decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	if plan.WinnerCount != 0 {
		t.Fatalf("WinnerCount = %d, want 0", plan.WinnerCount)
	}
	// totalPool=800, houseFee=40, creatorFee=16, winnerPool=744
	if !plan.WinnerPool.Equal(decimal.NewFromInt(744)) {
		t.Fatalf("WinnerPool = %s, want 744", plan.WinnerPool)
	}

	ra := resultFor(plan, a.ID)
	if ra.Outcome != OutcomeRefunded || !ra.Payout.Equal(decimal.NewFromInt(465)) {
		t.Errorf("a: outcome=%s payout=%s, want refunded/465", ra.Outcome, ra.Payout)
	}
	rb := resultFor(plan, b.ID)
	if rb.Outcome != OutcomeRefunded || !rb.Payout.Equal(decimal.NewFromInt(279)) {
		t.Errorf("b: outcome=%s payout=%s, want refunded/279", rb.Outcome, rb.Payout)
	}
}

func TestCalculate_IllFormedCommitment_FullyRefunded(t *testing.T) {
	market := binaryMarket()
	winner := commit("00000000-0000-0000-0000-000000000001", domain.OptionYes, 400)
	// disagreeing dual-schema: OptionID says yes, Position says no.
	illFormed := domain.Commitment{
		ID:              uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		UserID:          uuid.New(),
		OptionID:        domain.OptionYes,
		Position:        domain.OptionNo,
		TokensCommitted: decimal.NewFromInt(200),
		Status:          domain.CommitmentActive,
	}

	calc := New(0.05, 0.0)
	plan, err := calc.Calculate(market, []domain.Commitment{winner, illFormed}, domain.OptionYes, decimal.Zero)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	// The ill-formed commitment's stake never enters the pool.
	if !plan.TotalPool.Equal(decimal.NewFromInt(400)) {
		t.Errorf("TotalPool = %s, want 400 (ill-formed excluded)", plan.TotalPool)
	}
	if len(plan.IllFormed) != 1 {
		t.Fatalf("len(IllFormed) = %d, want 1", len(plan.IllFormed))
	}

	ri := resultFor(plan, illFormed.ID)
	if !ri.IsIllFormed || ri.Outcome != OutcomeRefunded || !ri.Payout.Equal(decimal.NewFromInt(200)) {
		t.Errorf("illFormed: IsIllFormed=%v outcome=%s payout=%s, want true/refunded/200", ri.IsIllFormed, ri.Outcome, ri.Payout)
	}
}

func TestCalculate_RemainderTieBreak_LowestCommitmentIDFirst(t *testing.T) {
	market := binaryMarket()
	// Three equal-stake winners; fees chosen so winnerPool/3 leaves remainder 1.
	a := commit("00000000-0000-0000-0000-000000000001", domain.OptionYes, 100)
	b := commit("00000000-0000-0000-0000-000000000002", domain.OptionYes, 100)
	c := commit("00000000-0000-0000-0000-000000000003", domain.OptionYes, 100)

	calc := New(0.0067, 0.0)
	plan, err := calc.Calculate(market, []domain.Commitment{a, b, c}, domain.OptionYes, decimal.Zero)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	// totalPool=300, houseFee=floor(300*0.0067)=2, winnerPool=298
	if !plan.WinnerPool.Equal(decimal.NewFromInt(298)) {
		t.Fatalf("WinnerPool = %s, want 298", plan.WinnerPool)
	}

	ra, rb, rc := resultFor(plan, a.ID), resultFor(plan, b.ID), resultFor(plan, c.ID)
	// base payout floor(298*100/300) = 99 each, remainder 1 goes to the
	// lowest commitmentId among the tied (equal-stake) winners: a.
	if !ra.Payout.Equal(decimal.NewFromInt(100)) {
		t.Errorf("a payout = %s, want 100 (gets the remainder token)", ra.Payout)
	}
	if !rb.Payout.Equal(decimal.NewFromInt(99)) {
		t.Errorf("b payout = %s, want 99", rb.Payout)
	}
	if !rc.Payout.Equal(decimal.NewFromInt(99)) {
		t.Errorf("c payout = %s, want 99", rc.Payout)
	}

	sum := ra.Payout.Add(rb.Payout).Add(rc.Payout)
	if !sum.Equal(plan.WinnerPool) {
		t.Errorf("distributed total = %s, want winnerPool %s", sum, plan.WinnerPool)
	}
}

func TestCalculate_RemainderTieBreak_MixedStakes(t *testing.T) {
	market := binaryMarket()
	// Stakes chosen so the flooring leaves remainder 2: the larger stake is
	// first in line for a remainder token, then the lowest id among the
	// equal-stake pair.
	a := commit("00000000-0000-0000-0000-00000000000a", domain.OptionYes, 100)
	b := commit("00000000-0000-0000-0000-00000000000b", domain.OptionYes, 100)
	c := commit("00000000-0000-0000-0000-00000000000c", domain.OptionYes, 101)
	d := commit("00000000-0000-0000-0000-00000000000d", domain.OptionNo, 100)

	calc := New(0.05, 0.05)
	plan, err := calc.Calculate(market, []domain.Commitment{a, b, c, d}, domain.OptionYes, decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	// totalPool=401, houseFee=20, creatorFee=8, winnerPool=373.
	if !plan.WinnerPool.Equal(decimal.NewFromInt(373)) {
		t.Fatalf("WinnerPool = %s, want 373", plan.WinnerPool)
	}

	// Base payouts: a,b floor(373*100/301)=123, c floor(373*101/301)=125;
	// remainder 2 goes to c (largest stake) then a (lowest id of the tie).
	wantPayouts := map[uuid.UUID]int64{a.ID: 124, b.ID: 123, c.ID: 126}
	payoutSum := decimal.Zero
	for id, want := range wantPayouts {
		r := resultFor(plan, id)
		if !r.Payout.Equal(decimal.NewFromInt(want)) {
			t.Errorf("commitment %s payout = %s, want %d", id, r.Payout, want)
		}
		payoutSum = payoutSum.Add(r.Payout)
	}
	if !payoutSum.Equal(plan.WinnerPool) {
		t.Errorf("payouts sum to %s, want winnerPool %s", payoutSum, plan.WinnerPool)
	}
}

func TestCalculate_SingleWinner_TakesWholePool(t *testing.T) {
	market := &domain.Market{
		ID:     uuid.New(),
		Status: domain.StatusResolving,
		Options: []domain.Option{
			{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"},
		},
	}
	u1 := commit("00000000-0000-0000-0000-000000000001", "a", 300)
	u2 := commit("00000000-0000-0000-0000-000000000002", "b", 300)
	u3 := commit("00000000-0000-0000-0000-000000000003", "c", 400)

	calc := New(0.05, 0.05)
	plan, err := calc.Calculate(market, []domain.Commitment{u1, u2, u3}, "c", decimal.NewFromFloat(0.02))
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	// totalPool=1000, houseFee=50, creatorFee=20, winnerPool=930.
	r3 := resultFor(plan, u3.ID)
	if r3.Outcome != OutcomeWon || !r3.Payout.Equal(decimal.NewFromInt(930)) {
		t.Errorf("u3: outcome=%s payout=%s, want won/930 (a single winner takes the whole pool)", r3.Outcome, r3.Payout)
	}
	if !r3.Profit.Equal(decimal.NewFromInt(530)) {
		t.Errorf("u3 profit = %s, want 530", r3.Profit)
	}
	for _, id := range []uuid.UUID{u1.ID, u2.ID} {
		r := resultFor(plan, id)
		if r.Outcome != OutcomeLost {
			t.Errorf("commitment %s outcome = %s, want lost", id, r.Outcome)
		}
	}
}

func TestCalculate_LegacyPositionOnly_Normalized(t *testing.T) {
	market := binaryMarket()
	legacy := domain.Commitment{
		ID:              uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		UserID:          uuid.New(),
		Position:        domain.OptionYes, // no OptionID at all
		TokensCommitted: decimal.NewFromInt(250),
		Status:          domain.CommitmentActive,
	}
	loser := commit("00000000-0000-0000-0000-000000000002", domain.OptionNo, 250)

	calc := New(0.05, 0.05)
	plan, err := calc.Calculate(market, []domain.Commitment{legacy, loser}, domain.OptionYes, decimal.Zero)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}

	r := resultFor(plan, legacy.ID)
	if r.Origin != OriginPosition {
		t.Errorf("legacy origin = %s, want %s", r.Origin, OriginPosition)
	}
	if r.Outcome != OutcomeWon {
		t.Errorf("legacy outcome = %s, want won", r.Outcome)
	}
}

func TestCalculate_InvalidWinningOption_Rejected(t *testing.T) {
	market := binaryMarket()
	a := commit("00000000-0000-0000-0000-000000000001", domain.OptionYes, 100)

	calc := New(0.05, 0.05)
	_, err := calc.Calculate(market, []domain.Commitment{a}, "not-an-option", decimal.Zero)
	if err == nil {
		t.Fatal("expected error for unknown winning option, got nil")
	}
	ee, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("error is %T, want *domain.EngineError", err)
	}
	if ee.Kind != domain.KindInvalidInput {
		t.Errorf("Kind = %v, want KindInvalidInput", ee.Kind)
	}
}

func TestCalculate_CreatorFeeAboveMax_Rejected(t *testing.T) {
	market := binaryMarket()
	a := commit("00000000-0000-0000-0000-000000000001", domain.OptionYes, 100)

	calc := New(0.05, 0.02)
	_, err := calc.Calculate(market, []domain.Commitment{a}, domain.OptionYes, decimal.NewFromFloat(0.10))
	if err == nil {
		t.Fatal("expected error for creator fee above configured max, got nil")
	}
}

func TestCalculate_EmptyPool_NoCommitments(t *testing.T) {
	market := binaryMarket()
	calc := New(0.05, 0.02)
	plan, err := calc.Calculate(market, nil, domain.OptionYes, decimal.Zero)
	if err != nil {
		t.Fatalf("Calculate returned error: %v", err)
	}
	if !plan.TotalPool.IsZero() || !plan.WinnerPool.IsZero() || !plan.HouseFee.IsZero() {
		t.Errorf("empty-pool plan should be all zero, got total=%s winner=%s house=%s", plan.TotalPool, plan.WinnerPool, plan.HouseFee)
	}
}
