package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Market errors
var (
	// ErrMarketNotFound is returned when no market matches the given criteria.
	ErrMarketNotFound = errors.New("market not found")

	// ErrMarketAlreadyResolved is returned when trying to resolve, cancel, or
	// otherwise mutate a market that has already reached a terminal status.
	ErrMarketAlreadyResolved = errors.New("market is already resolved or cancelled")
)

// Commitment errors
var (
	// ErrCommitmentNotFound is returned when no commitment matches the given id.
	ErrCommitmentNotFound = errors.New("commitment not found")

	// ErrCommitmentNotActive is returned when an operation that requires an
	// active commitment (e.g. UpdateOutcome) targets one that has already
	// reached a terminal status.
	ErrCommitmentNotActive = errors.New("commitment is not active")
)

// User / identity errors
var (
	// ErrUserNotFound is returned when no user matches the given criteria.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned on registration when the email already exists.
	ErrEmailTaken = errors.New("email address is already registered")

	// ErrUsernameTaken is returned on registration when the username already exists.
	ErrUsernameTaken = errors.New("username is already taken")

	// ErrInvalidCredentials is returned when login credentials are wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserInactive is returned when a suspended/banned user attempts an action.
	ErrUserInactive = errors.New("user account is inactive")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated user lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT or refresh token has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrMarketNotFound,
	ErrCommitmentNotFound,
	ErrUserNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values directly
// when you need to translate domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict (e.g.
// duplicate registration or double-resolution).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrEmailTaken,
		ErrUsernameTaken,
		ErrMarketAlreadyResolved,
		ErrCommitmentNotActive,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrInvalidCredentials,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorKind — Resolution & Payout Engine error taxonomy
// ──────────────────────────────────────────────────────────────────────────────

// ErrorKind classifies an EngineError for dispatch/retry decisions. Only
// KindTransient and KindConflict are ever retried, and only inside the
// engine's own tx retry loop.
type ErrorKind string

const (
	KindUnauthorized      ErrorKind = "unauthorized"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindConflictState     ErrorKind = "conflict_state"
	KindInsufficient      ErrorKind = "insufficient"
	KindConcurrencyExhaus ErrorKind = "concurrency_exhausted"
	KindInvariantViolated ErrorKind = "invariant_violated"
	KindFatal             ErrorKind = "fatal"
	KindTransient         ErrorKind = "transient"
	KindConflict          ErrorKind = "conflict"
)

// Reason codes nested under the broader kinds above. These are carried on
// the EngineError rather than as distinct ErrorKinds, keeping the kind
// namespace flat.
const (
	ReasonInvalidWinner            = "invalid_winner"
	ReasonInvalidFeeConfiguration  = "invalid_fee_configuration"
	ReasonInsufficientEvidence     = "insufficient_evidence"
	ReasonMarketAlreadyResolved    = "market_already_resolved"
	ReasonAlreadyRolledBack        = "already_rolled_back"
	ReasonInsufficientFunds        = "insufficient_funds"
	ReasonCalculatorInvariant      = "calculator_invariant_violated"
	ReasonDistributionVerification = "distribution_verification_failed"
	ReasonConcurrencyExhausted     = "concurrency_exhausted"
)

// EngineError is the structured error every public engine operation
// returns, carried end-to-end: a kind for dispatch, the failing operation
// name, a human message, optional machine-readable details, and an opaque
// operation id for log correlation.
type EngineError struct {
	Kind        ErrorKind
	Op          string
	Message     string
	Reason      string
	Details     map[string]any
	OperationID string
	cause       error
}

func (e *EngineError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s) [op=%s]", e.Op, e.Message, e.Reason, e.OperationID)
	}
	return fmt.Sprintf("%s: %s [op=%s]", e.Op, e.Message, e.OperationID)
}

func (e *EngineError) Unwrap() error { return e.cause }

// NewEngineError builds an EngineError, optionally wrapping a lower-level
// cause (e.g. a store error) for %w-based inspection further up the stack.
func NewEngineError(kind ErrorKind, op, operationID, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Op: op, Message: message, OperationID: operationID, cause: cause}
}

// WithReason attaches a reason code and returns the receiver for chaining
// at the call site.
func (e *EngineError) WithReason(reason string) *EngineError {
	e.Reason = reason
	return e
}

// WithDetails attaches machine-readable details and returns the receiver.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// IsRetryable reports whether the engine's tx retry loop should re-attempt
// the operation that produced this error.
func (e *EngineError) IsRetryable() bool {
	return e.Kind == KindTransient || e.Kind == KindConflict
}
