// Package payout computes pari-mutuel payout plans: a pure function from
// (market, commitments, winning option, fees) to a fully-verified per-
// commitment plan, covering N-option markets, legacy position-only
// commitments, deterministic remainder distribution, and the no-winner
// pro-rata refund path.
//
// Calculate performs no I/O and must not be given a *sqlx.Tx or any other
// store handle; the engine alone turns its output into writes.
package payout

import (
	"fmt"
	"sort"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IdentificationOrigin records how a commitment's effective option was
// determined, for the plan's audit trail.
type IdentificationOrigin string

const (
	OriginOptionID IdentificationOrigin = "optionId-based"
	OriginPosition IdentificationOrigin = "position-based"
	OriginHybrid   IdentificationOrigin = "hybrid" // both present and agreeing
)

// Outcome is the calculator's verdict for one commitment — it maps directly
// onto the terminal domain.CommitmentStatus the engine will write.
type Outcome string

const (
	OutcomeWon        Outcome = "won"
	OutcomeLost       Outcome = "lost"
	OutcomeRefunded   Outcome = "refunded" // ill-formed, or no-winner pro-rata refund
)

// CommitmentResult is one line of a PayoutPlan: the calculator's verdict for
// a single commitment.
type CommitmentResult struct {
	CommitmentID    uuid.UUID
	UserID          uuid.UUID
	EffectiveOption string // empty for ill-formed commitments
	Origin          IdentificationOrigin
	Outcome         Outcome
	IsIllFormed     bool
	TokensCommitted decimal.Decimal
	Payout          decimal.Decimal // amount credited back to the user by this resolution
	Profit          decimal.Decimal // Payout - TokensCommitted
}

// PayoutPlan is the calculator's full output for one resolution.
type PayoutPlan struct {
	MarketID        uuid.UUID
	WinningOptionID string
	TotalPool       decimal.Decimal // sum of tokensCommitted over well-formed commitments
	HouseFee        decimal.Decimal
	CreatorFee      decimal.Decimal
	WinnerPool      decimal.Decimal
	WinnerCount     int
	Results         []CommitmentResult
	IllFormed       []CommitmentResult // subset of Results, for convenient iteration
}

// Calculator computes PayoutPlans. HouseFeeFraction is a system constant
// (config.ResolutionConfig.HouseFeeFraction); MaxCreatorFeeFraction bounds
// the per-call creatorFeeFraction argument.
type Calculator struct {
	HouseFeeFraction      decimal.Decimal
	MaxCreatorFeeFraction decimal.Decimal
}

// New builds a Calculator from the two configured fee bounds.
func New(houseFeeFraction, maxCreatorFeeFraction float64) *Calculator {
	return &Calculator{
		HouseFeeFraction:      decimal.NewFromFloat(houseFeeFraction),
		MaxCreatorFeeFraction: decimal.NewFromFloat(maxCreatorFeeFraction),
	}
}

// Calculate is the algorithmic core of the engine: normalize every
// commitment to an effective option, take the fees off the pool, split the
// remainder pro-rata among the winners' stakes with floor rounding, and
// hand the rounding remainder out deterministically.
func (c *Calculator) Calculate(
	market *domain.Market,
	commitments []domain.Commitment,
	winningOptionID string,
	creatorFeeFraction decimal.Decimal,
) (*PayoutPlan, error) {
	if !market.HasOption(winningOptionID) {
		return nil, domain.NewEngineError(domain.KindInvalidInput, "payout.Calculate", "",
			fmt.Sprintf("winning option %q is not an option of market %s", winningOptionID, market.ID), nil).
			WithReason(domain.ReasonInvalidWinner)
	}
	if creatorFeeFraction.IsNegative() || creatorFeeFraction.GreaterThan(c.MaxCreatorFeeFraction) {
		return nil, domain.NewEngineError(domain.KindInvalidInput, "payout.Calculate", "",
			fmt.Sprintf("creator fee fraction %s exceeds the configured maximum %s", creatorFeeFraction, c.MaxCreatorFeeFraction), nil).
			WithReason(domain.ReasonInvalidFeeConfiguration)
	}

	results := make([]CommitmentResult, len(commitments))
	illFormed := make([]CommitmentResult, 0)
	// wellFormedIdx maps an index into `commitments`/`results` for every
	// well-formed commitment, in encounter order.
	var wellFormedIdx []int

	totalPool := decimal.Zero
	for i, cm := range commitments {
		r := CommitmentResult{
			CommitmentID:    cm.ID,
			UserID:          cm.UserID,
			TokensCommitted: cm.TokensCommitted,
		}
		optID, origin, ok := effectiveOptionID(market, cm)
		if !ok {
			r.IsIllFormed = true
			r.Outcome = OutcomeRefunded
			r.Payout = cm.TokensCommitted // full refund, never counted in the pool
			results[i] = r
			illFormed = append(illFormed, r)
			continue
		}
		r.EffectiveOption = optID
		r.Origin = origin
		results[i] = r
		wellFormedIdx = append(wellFormedIdx, i)
		totalPool = totalPool.Add(cm.TokensCommitted)
	}

	houseFee := floorMul(totalPool, c.HouseFeeFraction)
	creatorFee := floorMul(totalPool, creatorFeeFraction)
	winnerPool := totalPool.Sub(houseFee).Sub(creatorFee)
	if winnerPool.IsNegative() {
		return nil, domain.NewEngineError(domain.KindInvalidInput, "payout.Calculate", "",
			fmt.Sprintf("house fee %s + creator fee %s exceed the pool %s", houseFee, creatorFee, totalPool), nil).
			WithReason(domain.ReasonInvalidFeeConfiguration)
	}

	var winners, losers []int // indices into `results`/`commitments`
	winnerStake := decimal.Zero
	for _, i := range wellFormedIdx {
		if results[i].EffectiveOption == winningOptionID {
			winners = append(winners, i)
			winnerStake = winnerStake.Add(results[i].TokensCommitted)
		} else {
			losers = append(losers, i)
		}
	}

	switch {
	case len(winners) > 0:
		// winnerPool already contains the winners' own stakes (they are
		// part of the pool the fees came off), so a winner's payout is
		// their pro-rata share of winnerPool alone — principal is not
		// added on top. A single winner receives exactly winnerPool.
		distributeShares(results, winners, winnerStake, winnerPool)
		for _, i := range winners {
			results[i].Outcome = OutcomeWon
			results[i].Profit = results[i].Payout.Sub(results[i].TokensCommitted)
		}
		for _, i := range losers {
			results[i].Outcome = OutcomeLost
			results[i].Payout = decimal.Zero
			results[i].Profit = decimal.Zero.Sub(results[i].TokensCommitted)
		}
	case !totalPool.IsZero():
		// No winners. Fees are still taken; winnerPool — what would have
		// been distributed to winners — is instead refunded pro-rata to
		// the losers based on their stake weight. This is a haircut
		// refund, not a full stake return: a loser's payout is their
		// share of winnerPool alone, since houseFee/creatorFee have
		// already been taken out of the pool their stake funded.
		distributeShares(results, losers, totalPool, winnerPool)
		for _, i := range losers {
			results[i].Outcome = OutcomeRefunded
			results[i].Profit = results[i].Payout.Sub(results[i].TokensCommitted)
		}
	default:
		// P = 0: nothing committed, nothing to distribute.
	}

	plan := &PayoutPlan{
		MarketID:        market.ID,
		WinningOptionID: winningOptionID,
		TotalPool:       totalPool,
		HouseFee:        houseFee,
		CreatorFee:      creatorFee,
		WinnerPool:      winnerPool,
		WinnerCount:     len(winners),
		Results:         results,
		IllFormed:       illFormed,
	}
	if err := plan.verify(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Preview is Calculate without any side effects beyond its own return value
// — it is already pure, so this is a thin alias used by
// ResolutionEngine.payoutPreview to make that call site self-documenting.
func (c *Calculator) Preview(market *domain.Market, commitments []domain.Commitment, winningOptionID string, creatorFeeFraction decimal.Decimal) (*PayoutPlan, error) {
	return c.Calculate(market, commitments, winningOptionID, creatorFeeFraction)
}

// effectiveOptionID implements the dual-schema normalization: prefer the
// authoritative optionId; fall back to the legacy yes/no position only for
// binary markets; flag anything else ill-formed.
func effectiveOptionID(market *domain.Market, cm domain.Commitment) (string, IdentificationOrigin, bool) {
	hasOptionID := cm.OptionID != "" && market.HasOption(cm.OptionID)
	hasPosition := market.IsBinary() && (cm.Position == domain.OptionYes || cm.Position == domain.OptionNo)

	switch {
	case hasOptionID && hasPosition:
		if cm.OptionID != cm.Position {
			return "", "", false // both present but disagree: irreconcilable
		}
		return cm.OptionID, OriginHybrid, true
	case hasOptionID:
		return cm.OptionID, OriginOptionID, true
	case hasPosition:
		return cm.Position, OriginPosition, true
	default:
		return "", "", false
	}
}

// floorMul returns floor(amount * fraction), truncated to an integer value
// (tokens are integer-valued decimals throughout this system).
func floorMul(amount, fraction decimal.Decimal) decimal.Decimal {
	return amount.Mul(fraction).Truncate(0)
}

// distributeShares implements the rawShare/floor/remainder algorithm
// generically: it divides `amount` among `group` (indices into
// results) weighted by each member's TokensCommitted out of `weightTotal`,
// floors every share, then hands the rounding remainder one token at a time
// to the members sorted by (tokensCommitted DESC, commitmentId ASC) until
// it is exhausted — guaranteeing the shares sum to `amount` exactly.
func distributeShares(results []CommitmentResult, group []int, weightTotal, amount decimal.Decimal) {
	if weightTotal.IsZero() || amount.IsZero() || len(group) == 0 {
		for _, i := range group {
			results[i].Payout = decimal.Zero
		}
		return
	}

	sum := decimal.Zero
	for _, i := range group {
		share := amount.Mul(results[i].TokensCommitted).DivRound(weightTotal, 20).Truncate(0)
		results[i].Payout = share
		sum = sum.Add(share)
	}

	remainder := amount.Sub(sum)
	if remainder.IsZero() {
		return
	}

	ordered := make([]int, len(group))
	copy(ordered, group)
	sort.Slice(ordered, func(a, b int) bool {
		ra, rb := results[ordered[a]], results[ordered[b]]
		if !ra.TokensCommitted.Equal(rb.TokensCommitted) {
			return ra.TokensCommitted.GreaterThan(rb.TokensCommitted)
		}
		return ra.CommitmentID.String() < rb.CommitmentID.String()
	})

	r := remainder.IntPart()
	for i := int64(0); i < r && int(i) < len(ordered); i++ {
		idx := ordered[i]
		results[idx].Payout = results[idx].Payout.Add(decimal.NewFromInt(1))
	}
}

// verify performs the mandatory self-verification before a plan is allowed
// to leave this package. Failure indicates a bug in this file, not bad
// caller input, and is always domain.KindInvariantViolated.
func (p *PayoutPlan) verify() error {
	seen := make(map[uuid.UUID]bool, len(p.Results))
	payoutSum := decimal.Zero

	for _, r := range p.Results {
		if seen[r.CommitmentID] {
			return invariantViolated("duplicate commitment %s in plan", r.CommitmentID)
		}
		seen[r.CommitmentID] = true

		if r.IsIllFormed {
			if !r.Payout.Equal(r.TokensCommitted) {
				return invariantViolated("ill-formed commitment %s refunded %s, want full stake %s", r.CommitmentID, r.Payout, r.TokensCommitted)
			}
			continue
		}
		if r.Outcome == OutcomeLost && !r.Payout.IsZero() {
			return invariantViolated("commitment %s is lost but has a non-zero payout %s", r.CommitmentID, r.Payout)
		}
		payoutSum = payoutSum.Add(r.Payout)
	}

	// Rounding closure: the distributed amount (winnerPool, whether paid
	// to winners or handed back to losers as the no-winner refund) sums
	// exactly, no token lost to rounding.
	if !p.TotalPool.IsZero() && !payoutSum.Equal(p.WinnerPool) {
		return invariantViolated("distributed payouts sum to %s, want winnerPool %s", payoutSum, p.WinnerPool)
	}

	// Conservation: every commitment's tokensCommitted is accounted for
	// exactly once, across payouts, fees, and refunds. Well-formed losers
	// with a winner present contribute
	// zero to payoutSum — their stake was absorbed into houseFee +
	// creatorFee + winnerPool, which together equal TotalPool.
	if !p.HouseFee.Add(p.CreatorFee).Add(p.WinnerPool).Equal(p.TotalPool) {
		return invariantViolated("houseFee %s + creatorFee %s + winnerPool %s != totalPool %s",
			p.HouseFee, p.CreatorFee, p.WinnerPool, p.TotalPool)
	}

	return nil
}

func invariantViolated(format string, args ...any) error {
	return domain.NewEngineError(domain.KindInvariantViolated, "payout.verify", "",
		fmt.Sprintf(format, args...), nil).WithReason(domain.ReasonCalculatorInvariant)
}
