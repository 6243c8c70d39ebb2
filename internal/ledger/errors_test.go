package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	alarm := &AlarmError{Compensation: Compensation{Kind: ReverseDeposit}, Cause: errors.New("postgres unavailable")}

	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: 1.001", ErrInvalidAmount), "InvalidAmount"},
		{fmt.Errorf("%w: 1999999999", ErrAccountNotFound), "AccountNotFound"},
		{ErrUserNotFound, "UserNotFound"},
		{ErrSameAccount, "SameAccount"},
		{ErrUnauthorized, "Unauthorized"},
		{ErrInsufficientFunds, "InsufficientFunds"},
		{&LimitError{Scope: Daily, Limit: decimal.NewFromInt(10000), Attempted: decimal.NewFromInt(10100)}, "LimitExceeded"},
		{ErrInvalidRequest, "InvalidRequest"},
		{storageError("find movements", errors.New("timeout")), "StorageFailure"},
		{errors.New("anything else"), "StorageFailure"},
		{alarm, "ConsistencyAlarm"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}

	assert.False(t, IsClientError(alarm))
	assert.True(t, IsClientError(ErrLimitExceeded))
	assert.False(t, IsClientError(ErrNotApplied))
}

func TestStorageErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := storageError("resolve account", cause)

	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, cause)
	assert.Same(t, err, storageError("again", err))
}

func TestLimitErrorMessage(t *testing.T) {
	err := &LimitError{Scope: PerTransaction, Limit: decimal.NewFromInt(2000), Attempted: decimal.RequireFromString("2000.01")}
	assert.Contains(t, err.Error(), "per-transaction")
	assert.Contains(t, err.Error(), "2000.01")
}
