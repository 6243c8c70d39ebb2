package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/abkawan/bank-management/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayWindow(t *testing.T) {
	gt := time.FixedZone("GT", -6*60*60)

	// 03:00 UTC on the 15th is still the 14th six hours west
	start, end := ledger.DayWindow(time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC), gt)
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, gt), start)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, gt), end)

	start, end = ledger.DayWindow(time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func seedTransfer(t *testing.T, movements *memory.Movements, id, amount string, at time.Time) {
	t.Helper()
	require.NoError(t, movements.Append(context.Background(), &models.Movement{
		ID: id, Type: models.Transfer, Amount: dec(amount),
		OriginID: "acc-a", DestinationID: "acc-b", CreatorID: lucia.ID, CreatedAt: at,
	}))
}

func TestCheckDailyLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	movements := memory.NewMovements()
	seedTransfer(t, movements, "t1", "5000", now.Add(-8*time.Hour))
	seedTransfer(t, movements, "t2", "4000", now.Add(-time.Hour))
	seedTransfer(t, movements, "old", "2000", now.Add(-20*time.Hour))
	require.NoError(t, movements.Append(ctx, &models.Movement{
		ID: "dep", Type: models.Deposit, Amount: dec("1999"), DestinationID: "acc-a",
		CreatorID: lucia.ID, CreatedAt: now,
	}))

	policy := ledger.NewLimitPolicy(movements, ledger.Limits{Location: time.UTC}, func() time.Time { return now })

	assert.NoError(t, policy.CheckDailyLimit(ctx, lucia, dec("1000")))

	err := policy.CheckDailyLimit(ctx, lucia, dec("1000.01"))
	var limitErr *ledger.LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ledger.Daily, limitErr.Scope)
	assert.True(t, limitErr.Limit.Equal(dec("10000")))

	assert.NoError(t, policy.CheckDailyLimit(ctx, pedro, dec("2000")))

	err = policy.CheckDailyLimit(ctx, pedro, dec("2000.01"))
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, ledger.PerTransaction, limitErr.Scope)

	assert.ErrorIs(t, policy.CheckDailyLimit(ctx, pedro, dec("0")), ledger.ErrInvalidAmount)
}

func TestCheckDailyLimitUsesConfiguredDay(t *testing.T) {
	ctx := context.Background()
	gt := time.FixedZone("GT", -6*60*60)

	// 02:00 UTC on the 16th is 20:00 on the 15th in GT
	now := time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)
	movements := memory.NewMovements()
	seedTransfer(t, movements, "t1", "9500", time.Date(2024, 3, 15, 7, 0, 0, 0, time.UTC))

	local := ledger.NewLimitPolicy(movements, ledger.Limits{Location: gt}, func() time.Time { return now })
	assert.ErrorIs(t, local.CheckDailyLimit(ctx, lucia, dec("600")), ledger.ErrLimitExceeded)

	utc := ledger.NewLimitPolicy(movements, ledger.Limits{Location: time.UTC}, func() time.Time { return now })
	assert.NoError(t, utc.CheckDailyLimit(ctx, lucia, dec("600")))
}

func TestCustomLimits(t *testing.T) {
	policy := ledger.NewLimitPolicy(memory.NewMovements(), ledger.Limits{
		PerTransaction: dec("50"),
		Daily:          dec("75"),
		Location:       time.UTC,
	}, nil)

	assert.NoError(t, policy.CheckDailyLimit(context.Background(), lucia, dec("50")))
	assert.ErrorIs(t, policy.CheckDailyLimit(context.Background(), lucia, dec("50.01")), ledger.ErrLimitExceeded)
}
