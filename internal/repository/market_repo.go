package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// MarketRepository handles all database operations for Markets and their
// Options. Options live in a market_options side table, one row per option.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Create inserts a new market row and its options inside one transaction.
func (r *MarketRepository) Create(ctx context.Context, m *domain.Market) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO markets
				(id, title, creator_id, status, ends_at, resolution_id, cancellation_reason, created_at, updated_at)
			VALUES
				(:id, :title, :creator_id, :status, :ends_at, :resolution_id, :cancellation_reason, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
			return fmt.Errorf("market_repo.Create: %w", err)
		}
		return r.insertOptions(ctx, tx, m.ID, m.Options)
	})
}

func (r *MarketRepository) insertOptions(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, opts []domain.Option) error {
	for _, o := range opts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO market_options (market_id, id, text, total_tokens, participant_count)
			VALUES ($1, $2, $3, $4, $5)`,
			marketID, o.ID, o.Text, o.TotalTokens, o.ParticipantCount)
		if err != nil {
			return fmt.Errorf("market_repo.insertOptions: %w", err)
		}
	}
	return nil
}

// GetByID fetches a market and its options by primary key.
func (r *MarketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	return r.getByID(ctx, nil, id)
}

// GetByIDForUpdate is GetByID but row-locks the market (and its options)
// inside tx, for use by ResolutionEngine before a status transition.
func (r *MarketRepository) GetByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	var mktID uuid.UUID
	if err := tx.GetContext(ctx, &mktID, `SELECT id FROM markets WHERE id = $1 FOR UPDATE`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByIDForUpdate lock: %w", err)
	}
	return r.getByID(ctx, tx, id)
}

func (r *MarketRepository) getByID(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	var err error
	if tx != nil {
		err = tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	} else {
		err = r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.getByID: %w", err)
	}

	var opts []domain.Option
	optQuery := `SELECT id, text, total_tokens, participant_count FROM market_options WHERE market_id = $1 ORDER BY id ASC`
	if tx != nil {
		err = tx.SelectContext(ctx, &opts, optQuery, id)
	} else {
		err = r.db.SelectContext(ctx, &opts, optQuery, id)
	}
	if err != nil {
		return nil, fmt.Errorf("market_repo.getByID options: %w", err)
	}
	m.Options = opts
	return &m, nil
}

// GetExpiredUnresolved returns markets still StatusOpen whose EndsAt has
// passed — candidates for transition to pending_resolution.
func (r *MarketRepository) GetExpiredUnresolved(ctx context.Context, now time.Time) ([]*domain.Market, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM markets WHERE status = 'open' AND ends_at <= $1 ORDER BY ends_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("market_repo.GetExpiredUnresolved: %w", err)
	}
	markets := make([]*domain.Market, 0, len(ids))
	for _, id := range ids {
		m, err := r.getByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// ListPendingResolution returns every market awaiting an operator decision,
// backing the inbound "pending" operation.
func (r *MarketRepository) ListPendingResolution(ctx context.Context) ([]*domain.Market, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM markets WHERE status = 'pending_resolution' ORDER BY ends_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListPendingResolution: %w", err)
	}
	markets := make([]*domain.Market, 0, len(ids))
	for _, id := range ids {
		m, err := r.getByID(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// TransitionStatus performs one edge of the market status graph inside tx,
// enforcing the from-state with the WHERE clause so a concurrent racer
// never silently overwrites an already-transitioned market.
func (r *MarketRepository) TransitionStatus(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, from, to domain.MarketStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("market_repo.TransitionStatus: %s -> %s is not a legal transition", from, to)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE markets SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(to), marketID, string(from))
	if err != nil {
		return fmt.Errorf("market_repo.TransitionStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewEngineError(domain.KindConflictState, "market_repo.TransitionStatus", "",
			fmt.Sprintf("market %s is not in status %s", marketID, from), nil).
			WithReason(domain.ReasonMarketAlreadyResolved)
	}
	return nil
}

// SetResolutionID stamps the market's resolution back-reference inside tx.
func (r *MarketRepository) SetResolutionID(ctx context.Context, tx *sqlx.Tx, marketID, resolutionID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE markets SET resolution_id = $1, updated_at = now() WHERE id = $2`, resolutionID, marketID)
	if err != nil {
		return fmt.Errorf("market_repo.SetResolutionID: %w", err)
	}
	return nil
}

// SetCancellationReason records why a market was cancelled, inside tx.
func (r *MarketRepository) SetCancellationReason(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, reason string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE markets SET cancellation_reason = $1, updated_at = now() WHERE id = $2`, reason, marketID)
	if err != nil {
		return fmt.Errorf("market_repo.SetCancellationReason: %w", err)
	}
	return nil
}

// CreditOptionTotals adds amount to an option's TotalTokens and bumps its
// participant count by delta, inside tx.
func (r *MarketRepository) CreditOptionTotals(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, optionID string, amount interface{}, participantDelta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE market_options
		SET total_tokens = total_tokens + $1, participant_count = participant_count + $2
		WHERE market_id = $3 AND id = $4`,
		amount, participantDelta, marketID, optionID)
	if err != nil {
		return fmt.Errorf("market_repo.CreditOptionTotals: %w", err)
	}
	return nil
}

// List returns a paginated slice of markets filtered by optional status.
func (r *MarketRepository) List(ctx context.Context, limit, offset int, status string) ([]*domain.Market, int, error) {
	var total int
	var ids []uuid.UUID

	if status != "" {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM markets WHERE status = $1`, status); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &ids,
			`SELECT id FROM markets WHERE status = $1 ORDER BY ends_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	} else {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM markets`); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &ids,
			`SELECT id FROM markets ORDER BY ends_at DESC LIMIT $1 OFFSET $2`, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	}

	markets := make([]*domain.Market, 0, len(ids))
	for _, id := range ids {
		m, err := r.getByID(ctx, nil, id)
		if err != nil {
			return nil, 0, err
		}
		markets = append(markets, m)
	}
	return markets, total, nil
}

func (r *MarketRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("market_repo: begin tx: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
