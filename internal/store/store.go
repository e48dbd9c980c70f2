// Package store provides the Resolution & Payout Engine's single shared
// resource: a PostgreSQL handle offering serializable transactions with
// bounded conflict retry, and a monotonic clock source for logical
// timestamps. ResolutionEngine and PayoutDistributor take a *Store
// explicitly rather than reaching for a process-global handle; the Ledger
// and repositories hold the *sqlx.DB directly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/evetabi/resolution-engine/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// serializationFailureCode is the Postgres SQLSTATE for a serializable
// transaction that lost a write/write or write/read conflict and must be
// retried from the start.
const serializationFailureCode = "40001"

// ErrSerializationConflict is returned (wrapped) by Tx when the database
// reports a serialization failure. Callers never see this directly — Tx
// retries internally up to RetryLimit before surfacing ConcurrencyExhausted.
var ErrSerializationConflict = errors.New("store: serialization conflict")

// Store wraps a PostgreSQL connection pool (pgx/v5's stdlib driver under
// sqlx) with the transactional semantics the rest of the engine assumes.
type Store struct {
	db         *sqlx.DB
	retryLimit int
}

// New wraps an already-connected *sqlx.DB. retryLimit bounds the total
// number of times Tx will run fn, the first attempt included, when
// serialization conflicts occur
// (config.ResolutionConfig.TxRetryLimit, 5 by default).
func New(db *sqlx.DB, retryLimit int) *Store {
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &Store{db: db, retryLimit: retryLimit}
}

// DB exposes the underlying handle for repositories that run plain reads
// outside of a transaction.
func (s *Store) DB() *sqlx.DB { return s.db }

// Now returns the current instant as the engine's single clock source,
// keeping every logical timestamp in the system traceable to one call site.
func (s *Store) Now(_ context.Context) time.Time {
	return time.Now().UTC()
}

// Tx runs fn inside a SERIALIZABLE transaction, committing on success and
// rolling back on error. If fn (or the commit) fails with a Postgres
// serialization_failure (40001), the whole transaction is retried from
// scratch up to the configured retry limit with a short jittered backoff.
// Exceeding the limit returns a domain.KindConcurrencyExhaus EngineError
// whose cause wraps ErrSerializationConflict.
func (s *Store) Tx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.retryLimit; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 5 * time.Millisecond
			backoff += time.Duration(rand.Intn(5)) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return domain.NewEngineError(domain.KindConcurrencyExhaus, "store.Tx", "",
		fmt.Sprintf("exhausted %d attempts", s.retryLimit),
		fmt.Errorf("%w: %v", ErrSerializationConflict, lastErr)).
		WithReason(domain.ReasonConcurrencyExhausted)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// isSerializationFailure unwraps err looking for a pgconn.PgError carrying
// the 40001 SQLSTATE. The pgx/v5 stdlib driver preserves the typed error
// through database/sql's wrapping, which is what makes the retry loop
// possible.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFailureCode
	}
	return false
}
