package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// WalletUIDRepo resolves the platform's two identity spaces — an opaque
// operator id and a hex wallet address — to the single internal user id the
// Ledger keys every balance on, via the wallet_uid_map table. Keeping the
// mapping behind one repository means the Ledger never has to care which
// space a caller's id came from.
type WalletUIDRepo struct {
	db *sqlx.DB
}

// NewWalletUIDRepo creates a new WalletUIDRepo.
func NewWalletUIDRepo(db *sqlx.DB) *WalletUIDRepo {
	return &WalletUIDRepo{db: db}
}

// Resolve maps an external identifier (wallet address or operator id) to the
// internal user id the Ledger and CommitmentRepo key rows on. If no mapping
// exists and rawID parses as a UUID, it is returned unchanged (no check that
// such a user or balance exists) — markets created before the mapping table
// existed reference user ids directly.
func (r *WalletUIDRepo) Resolve(ctx context.Context, rawID string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.db.GetContext(ctx, &userID,
		`SELECT user_id FROM wallet_uid_map WHERE external_id = $1`, rawID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("walletuid_repo.Resolve: %w", err)
	}

	if parsed, perr := uuid.Parse(rawID); perr == nil {
		return parsed, nil
	}
	return uuid.Nil, domain.NewEngineError(domain.KindNotFound, "walletuid_repo.Resolve", "",
		fmt.Sprintf("no user mapping for external id %q", rawID), nil)
}

// Link records a new external-id -> user-id mapping. ON CONFLICT DO NOTHING
// makes re-linking the same pair (e.g. a wallet reconnecting) a no-op rather
// than an error.
func (r *WalletUIDRepo) Link(ctx context.Context, externalID string, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallet_uid_map (external_id, user_id, linked_at)
		VALUES ($1, $2, now())
		ON CONFLICT (external_id) DO NOTHING`,
		externalID, userID)
	if err != nil {
		return fmt.Errorf("walletuid_repo.Link: %w", err)
	}
	return nil
}
