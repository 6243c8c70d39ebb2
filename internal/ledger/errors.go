package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Failures returned by the engine. Match them with errors.Is.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAccountNotFound   = errors.New("account not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrSameAccount       = errors.New("origin and destination are the same account")
	ErrUnauthorized      = errors.New("actor does not own the origin account")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrLimitExceeded     = errors.New("transfer limit exceeded")
	ErrStorageFailure    = errors.New("storage failure")
	ErrConsistencyAlarm  = errors.New("consistency alarm")

	// ErrInvalidRequest covers malformed input outside the amount rules.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotApplied is wrapped by stores around failures that are known to
	// have left no effect behind. Only these are retried.
	ErrNotApplied = errors.New("nothing was applied")

	// ErrNumberTaken is returned by account stores when an insert collides
	// with an active account number.
	ErrNumberTaken = errors.New("account number already in use")
)

type LimitScope string

const (
	PerTransaction LimitScope = "perTransaction"
	Daily          LimitScope = "daily"
)

// LimitError describes which ceiling a transfer would break.
type LimitError struct {
	Scope     LimitScope
	Limit     decimal.Decimal
	Attempted decimal.Decimal
}

func (e *LimitError) Error() string {
	if e.Scope == PerTransaction {
		return fmt.Sprintf("exceeds per-transaction ceiling: %s > %s", e.Attempted, e.Limit)
	}
	return fmt.Sprintf("exceeds daily ceiling: %s > %s", e.Attempted, e.Limit)
}

func (e *LimitError) Unwrap() error {
	return ErrLimitExceeded
}

// AlarmError is returned when a compensating reversal could not be applied.
// The pending reversal travels with it so it can be handed to a repair worker.
type AlarmError struct {
	Compensation Compensation
	Cause        error
}

func (e *AlarmError) Error() string {
	return fmt.Sprintf("consistency alarm: %s of movement %s not applied: %v",
		e.Compensation.Kind, e.Compensation.MovementID, e.Cause)
}

func (e *AlarmError) Unwrap() []error {
	return []error{ErrConsistencyAlarm, e.Cause}
}

// storageError wraps a store failure as ErrStorageFailure, keeping the cause.
func storageError(op string, err error) error {
	if errors.Is(err, ErrStorageFailure) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageFailure, err))
}

// KindOf returns the stable kind string for an engine error.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConsistencyAlarm):
		return "ConsistencyAlarm"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrAccountNotFound):
		return "AccountNotFound"
	case errors.Is(err, ErrUserNotFound):
		return "UserNotFound"
	case errors.Is(err, ErrSameAccount):
		return "SameAccount"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrLimitExceeded):
		return "LimitExceeded"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	default:
		return "StorageFailure"
	}
}

// IsClientError reports whether err is a validation failure that must not be retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInvalidRequest)
}
