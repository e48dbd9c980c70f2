// Package ledger implements the per-user token balance ledger: the
// available/committed/earned/spent counters, an append-only transaction log,
// atomic debit/credit dispatching on TokenTransactionType, and a
// reconciliation routine that rebuilds a balance from the log. Every
// mutating read takes a FOR UPDATE row lock and every write bumps the
// balance's optimistic version.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/evetabi/resolution-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Ledger owns every read/write of UserBalance and TokenTransaction rows.
type Ledger struct {
	db           *sqlx.DB
	initialGrant decimal.Decimal
	uidRepo      *repository.WalletUIDRepo
}

// New creates a Ledger. initialGrant seeds AvailableTokens the first time a
// user's balance is touched (config.ResolutionConfig.InitialBalanceGrant).
func New(db *sqlx.DB, initialGrant int64) *Ledger {
	return &Ledger{db: db, initialGrant: decimal.NewFromInt(initialGrant)}
}

// WithIdentityResolver attaches the wallet/operator-id -> user-id mapping
// table so Apply/ApplyBatch can accept either identity space. Returns l for
// chaining at construction time.
func (l *Ledger) WithIdentityResolver(uidRepo *repository.WalletUIDRepo) *Ledger {
	l.uidRepo = uidRepo
	return l
}

// resolveUser maps op.UserID through the identity table when one is
// configured. UserID is already canonical (the common case — internal
// callers always pass a real user id) unless Resolve finds an external-id
// mapping for it, in which case the mapped id is substituted before any
// balance row is touched.
func (l *Ledger) resolveUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if l.uidRepo == nil {
		return userID, nil
	}
	resolved, err := l.uidRepo.Resolve(ctx, userID.String())
	if err != nil {
		var ee *domain.EngineError
		if errors.As(err, &ee) && ee.Kind == domain.KindNotFound {
			return userID, nil
		}
		return uuid.Nil, err
	}
	return resolved, nil
}

// Op describes one requested balance movement.
type Op struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal // always a non-negative magnitude; Type decides the sign rule
	Type      domain.TokenTransactionType
	RelatedID *uuid.UUID
	Metadata  domain.TxMetadata
}

// GetBalance returns userID's current balance, creating and persisting an
// initial one (AvailableTokens = the configured starter grant, all other
// counters zero) if none exists yet. Runs in its own transaction when ext is
// nil, or inside the caller's transaction when supplied.
func (l *Ledger) GetBalance(ctx context.Context, ext *sqlx.Tx, userID uuid.UUID) (*domain.UserBalance, error) {
	if ext != nil {
		return l.getBalanceTx(ctx, ext, userID)
	}
	var bal *domain.UserBalance
	err := l.withTx(ctx, func(tx *sqlx.Tx) error {
		b, err := l.getBalanceTx(ctx, tx, userID)
		bal = b
		return err
	})
	return bal, err
}

func (l *Ledger) getBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*domain.UserBalance, error) {
	var b domain.UserBalance
	err := tx.GetContext(ctx, &b, `SELECT * FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger.getBalanceTx: %w", err)
	}

	b = domain.UserBalance{
		UserID:          userID,
		AvailableTokens: l.initialGrant,
		CommittedTokens: decimal.Zero,
		TotalEarned:     decimal.Zero,
		TotalSpent:      decimal.Zero,
		Version:         1,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, available_tokens, committed_tokens, total_earned, total_spent, version, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO NOTHING`,
		b.UserID, b.AvailableTokens, b.CommittedTokens, b.TotalEarned, b.TotalSpent, b.Version)
	if err != nil {
		return nil, fmt.Errorf("ledger.getBalanceTx: seed: %w", err)
	}
	return &b, nil
}

// Validate performs a read-only sufficiency check: does the user have at
// least `amount` available?
func (l *Ledger) Validate(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (bool, error) {
	var available decimal.Decimal
	err := l.db.GetContext(ctx, &available,
		`SELECT available_tokens FROM user_balances WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return l.initialGrant.GreaterThanOrEqual(amount), nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger.Validate: %w", err)
	}
	return available.GreaterThanOrEqual(amount), nil
}

// Apply executes op inside tx (which must already be open — the caller owns
// transaction boundaries). Rules:
//
//	purchase: available += amount; totalEarned += amount.
//	commit:   requires available >= amount; available -= amount; committed += amount.
//	win:      available += amount; committed -= op.Metadata.StakedReturned;
//	          totalEarned += (amount - op.Metadata.StakedReturned).
//	loss:     committed -= op.Metadata.StakedLost; totalSpent += op.Metadata.StakedLost.
//	refund:   committed -= amount; available += amount.
//
// Any rule that would drive available or committed below zero fails with
// domain.KindInsufficient (ReasonInsufficientFunds).
func (l *Ledger) Apply(ctx context.Context, tx *sqlx.Tx, op Op) (*domain.TokenTransaction, error) {
	resolved, err := l.resolveUser(ctx, op.UserID)
	if err != nil {
		return nil, err
	}
	op.UserID = resolved

	bal, err := l.getBalanceTx(ctx, tx, op.UserID)
	if err != nil {
		return nil, err
	}
	before := bal.AvailableTokens

	switch op.Type {
	case domain.TxTypePurchase:
		bal.AvailableTokens = bal.AvailableTokens.Add(op.Amount)
		bal.TotalEarned = bal.TotalEarned.Add(op.Amount)

	case domain.TxTypeCommit:
		if bal.AvailableTokens.LessThan(op.Amount) {
			return nil, insufficientFunds(op.UserID, "commit", bal.AvailableTokens, op.Amount)
		}
		bal.AvailableTokens = bal.AvailableTokens.Sub(op.Amount)
		bal.CommittedTokens = bal.CommittedTokens.Add(op.Amount)

	case domain.TxTypeWin:
		staked := op.Metadata.StakedReturned
		if bal.CommittedTokens.LessThan(staked) {
			return nil, insufficientFunds(op.UserID, "win", bal.CommittedTokens, staked)
		}
		bal.AvailableTokens = bal.AvailableTokens.Add(op.Amount)
		bal.CommittedTokens = bal.CommittedTokens.Sub(staked)
		bal.TotalEarned = bal.TotalEarned.Add(op.Amount.Sub(staked))

	case domain.TxTypeLoss:
		lost := op.Metadata.StakedLost
		if bal.CommittedTokens.LessThan(lost) {
			return nil, insufficientFunds(op.UserID, "loss", bal.CommittedTokens, lost)
		}
		bal.CommittedTokens = bal.CommittedTokens.Sub(lost)
		bal.TotalSpent = bal.TotalSpent.Add(lost)

	case domain.TxTypeRefund:
		if bal.CommittedTokens.LessThan(op.Amount) {
			return nil, insufficientFunds(op.UserID, "refund", bal.CommittedTokens, op.Amount)
		}
		bal.CommittedTokens = bal.CommittedTokens.Sub(op.Amount)
		bal.AvailableTokens = bal.AvailableTokens.Add(op.Amount)

	default:
		return nil, fmt.Errorf("ledger.Apply: unknown transaction type %q", op.Type)
	}

	bal.Version++
	_, err = tx.ExecContext(ctx, `
		UPDATE user_balances
		SET available_tokens = $1, committed_tokens = $2, total_earned = $3, total_spent = $4,
		    version = $5, last_updated = now()
		WHERE user_id = $6 AND version = $7`,
		bal.AvailableTokens, bal.CommittedTokens, bal.TotalEarned, bal.TotalSpent,
		bal.Version, bal.UserID, bal.Version-1)
	if err != nil {
		return nil, fmt.Errorf("ledger.Apply: update: %w", err)
	}

	metadata, err := json.Marshal(op.Metadata)
	if err != nil {
		return nil, fmt.Errorf("ledger.Apply: marshal metadata: %w", err)
	}
	txn := &domain.TokenTransaction{
		ID:            uuid.New(),
		UserID:        op.UserID,
		Type:          op.Type,
		Amount:        op.Amount,
		BalanceBefore: before,
		BalanceAfter:  bal.AvailableTokens,
		RelatedID:     op.RelatedID,
		Metadata:      metadata,
		Status:        domain.TxStatusPosted,
	}
	if err = l.logTx(ctx, tx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// ApplyBatch validates every op's sufficiency before performing any write,
// so a batch (e.g. settling every winner of a market) either fully commits
// or is rejected with no partial effect.
func (l *Ledger) ApplyBatch(ctx context.Context, tx *sqlx.Tx, ops []Op) ([]*domain.TokenTransaction, error) {
	resolvedOps := make([]Op, len(ops))
	for i, op := range ops {
		resolved, err := l.resolveUser(ctx, op.UserID)
		if err != nil {
			return nil, err
		}
		op.UserID = resolved
		resolvedOps[i] = op
	}
	ops = resolvedOps

	balances := make(map[uuid.UUID]*domain.UserBalance, len(ops))
	for _, op := range ops {
		if _, ok := balances[op.UserID]; ok {
			continue
		}
		bal, err := l.getBalanceTx(ctx, tx, op.UserID)
		if err != nil {
			return nil, err
		}
		balances[op.UserID] = bal
	}
	for _, op := range ops {
		bal := balances[op.UserID]
		switch op.Type {
		case domain.TxTypeCommit:
			if bal.AvailableTokens.LessThan(op.Amount) {
				return nil, insufficientFunds(op.UserID, "commit", bal.AvailableTokens, op.Amount)
			}
		case domain.TxTypeWin:
			if bal.CommittedTokens.LessThan(op.Metadata.StakedReturned) {
				return nil, insufficientFunds(op.UserID, "win", bal.CommittedTokens, op.Metadata.StakedReturned)
			}
		case domain.TxTypeLoss:
			if bal.CommittedTokens.LessThan(op.Metadata.StakedLost) {
				return nil, insufficientFunds(op.UserID, "loss", bal.CommittedTokens, op.Metadata.StakedLost)
			}
		case domain.TxTypeRefund:
			if bal.CommittedTokens.LessThan(op.Amount) {
				return nil, insufficientFunds(op.UserID, "refund", bal.CommittedTokens, op.Amount)
			}
		}
	}

	txns := make([]*domain.TokenTransaction, 0, len(ops))
	for _, op := range ops {
		txn, err := l.Apply(ctx, tx, op)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// GetTransaction fetches a single posted TokenTransaction by id, used by
// PayoutDistributor.Rollback to look up the entries a prior Apply produced.
func (l *Ledger) GetTransaction(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.TokenTransaction, error) {
	var t domain.TokenTransaction
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &t, `SELECT * FROM token_transactions WHERE id = $1`, id)
	} else {
		err = l.db.GetContext(ctx, &t, `SELECT * FROM token_transactions WHERE id = $1`, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger.GetTransaction: %w", err)
	}
	return &t, nil
}

// Reverse posts a compensating entry that undoes the balance effect of a
// previously posted TokenTransaction and marks the original as reversed, so
// it no longer contributes to Reconcile's replay. Used by
// PayoutDistributor.Rollback to unwind a completed distribution's win/loss/
// refund entries one at a time.
func (l *Ledger) Reverse(ctx context.Context, tx *sqlx.Tx, original *domain.TokenTransaction, rollbackOf uuid.UUID) (*domain.TokenTransaction, error) {
	var meta domain.TxMetadata
	if len(original.Metadata) > 0 {
		if err := json.Unmarshal(original.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("ledger.Reverse: unmarshal metadata: %w", err)
		}
	}

	bal, err := l.getBalanceTx(ctx, tx, original.UserID)
	if err != nil {
		return nil, err
	}
	before := bal.AvailableTokens

	switch original.Type {
	case domain.TxTypePurchase:
		bal.AvailableTokens = bal.AvailableTokens.Sub(original.Amount)
		bal.TotalEarned = bal.TotalEarned.Sub(original.Amount)
	case domain.TxTypeWin:
		bal.AvailableTokens = bal.AvailableTokens.Sub(original.Amount)
		bal.CommittedTokens = bal.CommittedTokens.Add(meta.StakedReturned)
		bal.TotalEarned = bal.TotalEarned.Sub(original.Amount.Sub(meta.StakedReturned))
	case domain.TxTypeLoss:
		bal.CommittedTokens = bal.CommittedTokens.Add(meta.StakedLost)
		bal.TotalSpent = bal.TotalSpent.Sub(meta.StakedLost)
	case domain.TxTypeRefund:
		bal.CommittedTokens = bal.CommittedTokens.Add(original.Amount)
		bal.AvailableTokens = bal.AvailableTokens.Sub(original.Amount)
	case domain.TxTypeCommit:
		bal.AvailableTokens = bal.AvailableTokens.Add(original.Amount)
		bal.CommittedTokens = bal.CommittedTokens.Sub(original.Amount)
	default:
		return nil, fmt.Errorf("ledger.Reverse: unknown transaction type %q", original.Type)
	}

	bal.Version++
	_, err = tx.ExecContext(ctx, `
		UPDATE user_balances
		SET available_tokens = $1, committed_tokens = $2, total_earned = $3, total_spent = $4,
		    version = $5, last_updated = now()
		WHERE user_id = $6 AND version = $7`,
		bal.AvailableTokens, bal.CommittedTokens, bal.TotalEarned, bal.TotalSpent,
		bal.Version, bal.UserID, bal.Version-1)
	if err != nil {
		return nil, fmt.Errorf("ledger.Reverse: update: %w", err)
	}

	reversalMeta, err := json.Marshal(domain.TxMetadata{RollbackOf: &rollbackOf})
	if err != nil {
		return nil, fmt.Errorf("ledger.Reverse: marshal metadata: %w", err)
	}
	txn := &domain.TokenTransaction{
		ID:            uuid.New(),
		UserID:        original.UserID,
		Type:          original.Type,
		Amount:        original.Amount,
		BalanceBefore: before,
		BalanceAfter:  bal.AvailableTokens,
		RelatedID:     &rollbackOf,
		Metadata:      reversalMeta,
		Status:        domain.TxStatusPosted,
	}
	if err = l.logTx(ctx, tx, txn); err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE token_transactions SET status = 'reversed' WHERE id = $1`, original.ID); err != nil {
		return nil, fmt.Errorf("ledger.Reverse: mark original reversed: %w", err)
	}
	return txn, nil
}

// Discrepancy is one field where the stored UserBalance disagreed with the
// value reconstructed from the transaction log and active commitments.
type Discrepancy struct {
	Field    string
	Stored   decimal.Decimal
	Computed decimal.Decimal
}

// Reconcile rebuilds userID's balance from the token_transactions log plus
// the user's currently active commitments' tokensCommitted, writes the
// corrected record, and returns what (if anything) had drifted.
func (l *Ledger) Reconcile(ctx context.Context, userID uuid.UUID) ([]Discrepancy, error) {
	var discrepancies []Discrepancy
	err := l.withTx(ctx, func(tx *sqlx.Tx) error {
		stored, err := l.getBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		var txns []domain.TokenTransaction
		if err = tx.SelectContext(ctx, &txns,
			`SELECT * FROM token_transactions WHERE user_id = $1 AND status = 'posted' ORDER BY timestamp ASC`,
			userID); err != nil {
			return fmt.Errorf("ledger.Reconcile: select transactions: %w", err)
		}

		var committedFromCommitments decimal.Decimal
		if err = tx.GetContext(ctx, &committedFromCommitments, `
			SELECT COALESCE(SUM(tokens_committed), 0) FROM prediction_commitments
			WHERE user_id = $1 AND status = 'active'`, userID); err != nil {
			return fmt.Errorf("ledger.Reconcile: sum commitments: %w", err)
		}

		computed := foldTransactions(txns)
		// Balances are seeded lazily with the starter grant, which has no
		// corresponding purchase entry in the log, so the replay starts from
		// the grant rather than zero.
		computed.AvailableTokens = computed.AvailableTokens.Add(l.initialGrant)
		computed.CommittedTokens = committedFromCommitments

		if !stored.AvailableTokens.Equal(computed.AvailableTokens) {
			discrepancies = append(discrepancies, Discrepancy{"available_tokens", stored.AvailableTokens, computed.AvailableTokens})
		}
		if !stored.CommittedTokens.Equal(computed.CommittedTokens) {
			discrepancies = append(discrepancies, Discrepancy{"committed_tokens", stored.CommittedTokens, computed.CommittedTokens})
		}
		if !stored.TotalEarned.Equal(computed.TotalEarned) {
			discrepancies = append(discrepancies, Discrepancy{"total_earned", stored.TotalEarned, computed.TotalEarned})
		}
		if !stored.TotalSpent.Equal(computed.TotalSpent) {
			discrepancies = append(discrepancies, Discrepancy{"total_spent", stored.TotalSpent, computed.TotalSpent})
		}
		if len(discrepancies) == 0 {
			return nil
		}

		stored.AvailableTokens = computed.AvailableTokens
		stored.CommittedTokens = computed.CommittedTokens
		stored.TotalEarned = computed.TotalEarned
		stored.TotalSpent = computed.TotalSpent
		stored.Version++
		_, err = tx.ExecContext(ctx, `
			UPDATE user_balances
			SET available_tokens = $1, committed_tokens = $2, total_earned = $3, total_spent = $4,
			    version = $5, last_updated = now()
			WHERE user_id = $6`,
			stored.AvailableTokens, stored.CommittedTokens, stored.TotalEarned, stored.TotalSpent,
			stored.Version, stored.UserID)
		return err
	})
	return discrepancies, err
}

// foldTransactions replays an ordered transaction log to reconstruct
// available/earned/spent from scratch, mirroring Apply's own per-type
// arithmetic exactly (win's totalEarned
// contribution excludes the staked portion returned, loss's totalSpent
// contribution is the staked-lost portion, not the raw amount). Reconcile
// overrides CommittedTokens with the live sum of active commitments, since
// committed amounts are represented by still-open commitment rows, not by
// log replay alone.
func foldTransactions(txns []domain.TokenTransaction) domain.UserBalance {
	var b domain.UserBalance
	for _, t := range txns {
		var meta domain.TxMetadata
		if len(t.Metadata) > 0 {
			_ = json.Unmarshal(t.Metadata, &meta)
		}
		if meta.RollbackOf != nil {
			// A compensating entry cancels an original that is no longer
			// posted, so the pair contributes nothing to the replay.
			continue
		}
		switch t.Type {
		case domain.TxTypePurchase:
			b.AvailableTokens = b.AvailableTokens.Add(t.Amount)
			b.TotalEarned = b.TotalEarned.Add(t.Amount)
		case domain.TxTypeWin:
			b.AvailableTokens = b.AvailableTokens.Add(t.Amount)
			b.TotalEarned = b.TotalEarned.Add(t.Amount.Sub(meta.StakedReturned))
		case domain.TxTypeRefund:
			b.AvailableTokens = b.AvailableTokens.Add(t.Amount)
		case domain.TxTypeCommit:
			b.AvailableTokens = b.AvailableTokens.Sub(t.Amount)
		case domain.TxTypeLoss:
			b.TotalSpent = b.TotalSpent.Add(meta.StakedLost)
		}
	}
	return b
}

func (l *Ledger) logTx(ctx context.Context, tx *sqlx.Tx, txn *domain.TokenTransaction) error {
	query := `
		INSERT INTO token_transactions
			(id, user_id, type, amount, balance_before, balance_after, related_id, metadata, timestamp, status)
		VALUES
			(:id, :user_id, :type, :amount, :balance_before, :balance_after, :related_id, :metadata, now(), :status)`
	if _, err := tx.NamedExecContext(ctx, query, txn); err != nil {
		return fmt.Errorf("ledger.logTx: %w", err)
	}
	return nil
}

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insufficientFunds(userID uuid.UUID, op string, have, need decimal.Decimal) error {
	return domain.NewEngineError(domain.KindInsufficient, "ledger."+op, "",
		fmt.Sprintf("user %s: have %s, need %s", userID, have, need), nil).
		WithReason(domain.ReasonInsufficientFunds)
}
