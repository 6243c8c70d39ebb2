package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/abkawan/bank-management/internal/models"
	"github.com/shopspring/decimal"
)

// Default transfer ceilings.
var (
	DefaultPerTransactionLimit = decimal.NewFromInt(2000)
	DefaultDailyLimit          = decimal.NewFromInt(10000)
)

type Limits struct {
	PerTransaction decimal.Decimal
	Daily          decimal.Decimal

	// Location sets the calendar day boundary. Defaults to time.Local.
	Location *time.Location
}

// LimitPolicy caps the amount a single actor may transfer per transaction and per day.
//
// The daily total is read from the movement log before the transfer commits,
// so two concurrent transfers by the same actor can both pass and jointly
// exceed the daily ceiling.
type LimitPolicy struct {
	movements      MovementLog
	perTransaction decimal.Decimal
	daily          decimal.Decimal
	location       *time.Location
	now            func() time.Time
}

func NewLimitPolicy(movements MovementLog, limits Limits, now func() time.Time) *LimitPolicy {
	if limits.PerTransaction.IsZero() {
		limits.PerTransaction = DefaultPerTransactionLimit
	}
	if limits.Daily.IsZero() {
		limits.Daily = DefaultDailyLimit
	}
	if limits.Location == nil {
		limits.Location = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &LimitPolicy{
		movements:      movements,
		perTransaction: limits.PerTransaction,
		daily:          limits.Daily,
		location:       limits.Location,
		now:            now,
	}
}

// CheckDailyLimit returns nil when actor may transfer amount now, or a
// *LimitError naming the ceiling it would break.
func (p *LimitPolicy) CheckDailyLimit(ctx context.Context, actor models.Actor, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	if amount.GreaterThan(p.perTransaction) {
		return &LimitError{Scope: PerTransaction, Limit: p.perTransaction, Attempted: amount}
	}

	start, end := DayWindow(p.now(), p.location)
	total, err := p.movements.SumTransfers(ctx, actor.ID, start, end)
	if err != nil {
		return storageError("sum daily transfers", err)
	}

	if total.Add(amount).GreaterThan(p.daily) {
		return &LimitError{Scope: Daily, Limit: p.daily, Attempted: total.Add(amount)}
	}
	return nil
}

// DayWindow returns the calendar day containing t in loc as [start, end).
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
	return start, end
}

// validateAmount accepts positive amounts with at most two decimal places.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than 0", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	return nil
}
