package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/abkawan/bank-management/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedHistory leaves a deposit into A and B by the worker, and transfers
// A->B, A->C by lucia and B->A by pedro.
func seedHistory(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, worker, numberA, dec("100"), "")
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, worker, numberB, dec("100"), "")
	require.NoError(t, err)
	_, err = f.engine.Transfer(ctx, lucia, numberA, numberB, dec("10"), "")
	require.NoError(t, err)
	_, err = f.engine.Transfer(ctx, lucia, numberA, numberC, dec("20"), "")
	require.NoError(t, err)
	_, err = f.engine.Transfer(ctx, pedro, numberB, numberA, dec("5"), "")
	require.NoError(t, err)
}

func TestScopeFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, actor := range []models.Actor{worker, {ID: "admin", Role: models.Administrator}} {
		scope, err := ledger.ScopeFor(ctx, f.accounts, actor)
		require.NoError(t, err)
		filter := ledger.MovementFilter{}
		scope(&filter)
		assert.Nil(t, filter.AccountScope)
	}

	scope, err := ledger.ScopeFor(ctx, f.accounts, lucia)
	require.NoError(t, err)
	filter := ledger.MovementFilter{}
	scope(&filter)
	assert.ElementsMatch(t, []string{"acc-a", "acc-c"}, filter.AccountScope)

	_, err = ledger.ScopeFor(ctx, f.accounts, models.Actor{ID: "x", Role: "AUDITOR"})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestFindMovementsByRole(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)
	ctx := context.Background()

	total, _, err := f.query.FindMovements(ctx, worker, ledger.MovementQuery{}, ledger.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// pedro owns B: one deposit and all three transfers touching B
	total, views, err := f.query.FindMovements(ctx, pedro, ledger.MovementQuery{}, ledger.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	for _, v := range views {
		touchesB := v.OriginID == "acc-b" || v.DestinationID == "acc-b"
		assert.True(t, touchesB, "movement %s does not touch pedro's account", v.ID)
	}

	// a client asking for an account it does not own gets an empty page
	total, views, err = f.query.FindMovements(ctx, pedro, ledger.MovementQuery{AccountID: "acc-c"}, ledger.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, views)
}

func TestFindMovementsFilters(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)
	ctx := context.Background()

	tests := []struct {
		name  string
		query ledger.MovementQuery
		want  int64
	}{
		{"by type", ledger.MovementQuery{Type: models.Deposit}, 2},
		{"by account", ledger.MovementQuery{AccountID: "acc-a"}, 4},
		{"by origin number", ledger.MovementQuery{OriginNumber: numberA}, 2},
		{"by destination number", ledger.MovementQuery{DestinationNumber: numberB}, 2},
		{"by origin and destination", ledger.MovementQuery{OriginNumber: numberA, DestinationNumber: numberC}, 1},
		{"by worker", ledger.MovementQuery{Worker: "2000000000001"}, 2},
		{"by client", ledger.MovementQuery{Client: "3000000000001"}, 2},
		{"worker and client never match together", ledger.MovementQuery{Worker: "2000000000001", Client: "3000000000001"}, 0},
		{"by day", ledger.MovementQuery{Date: clockAt}, 5},
		{"by another day", ledger.MovementQuery{Date: clockAt.AddDate(0, 0, 1)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, views, err := f.query.FindMovements(ctx, worker, tt.query, ledger.Page{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, total)
			assert.Len(t, views, int(tt.want))
		})
	}

	_, _, err := f.query.FindMovements(ctx, worker, ledger.MovementQuery{OriginNumber: "1999999999"}, ledger.Page{})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, _, err = f.query.FindMovements(ctx, worker, ledger.MovementQuery{Worker: "3000000000001"}, ledger.Page{})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestFindMovementsJoinsAccountsAndCreators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	transfer, err := f.engine.Transfer(ctx, lucia, numberA, numberB, dec("10"), "")
	require.NoError(t, err)

	// closing the destination keeps the movement readable
	_, err = f.accounts.CloseAccount(ctx, "acc-b")
	require.NoError(t, err)

	_, views, err := f.query.FindMovements(ctx, lucia, ledger.MovementQuery{MovementID: transfer.Movement.ID}, ledger.Page{})
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	require.NotNil(t, v.Origin)
	assert.Equal(t, numberA, v.Origin.Number)
	assert.Nil(t, v.Origin.Balance)
	assert.Equal(t, "lucia", v.Origin.Owner.Username)
	require.NotNil(t, v.Destination)
	assert.False(t, v.Destination.Active)
	assert.Empty(t, v.Destination.Number)
	require.NotNil(t, v.Creator)
	assert.Equal(t, "Lucia", v.Creator.Name)
}

func TestFindMovementsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, f.movements.Append(ctx, &models.Movement{
			ID: fmt.Sprintf("m-%02d", i), Type: models.Deposit, Amount: dec("1"),
			DestinationID: "acc-a", CreatorID: worker.ID,
			CreatedAt: clockAt.Add(time.Duration(i) * time.Minute),
		}))
	}

	total, views, err := f.query.FindMovements(ctx, worker, ledger.MovementQuery{}, ledger.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
	require.Len(t, views, ledger.DefaultMovementsLimit)
	assert.Equal(t, "m-19", views[0].ID)

	total, views, err = f.query.FindMovements(ctx, worker, ledger.MovementQuery{}, ledger.Page{Limit: 15, Offset: 15})
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
	require.Len(t, views, 5)
	assert.Equal(t, "m-00", views[4].ID)
}

func TestRankAccountsByActivity(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)
	ctx := context.Background()

	// A: 4 movements, B: 3, C: 1
	ranked, err := f.query.RankAccountsByActivity(ctx, ledger.More, ledger.Page{})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, numberA, ranked[0].Account.Number)
	assert.Equal(t, int64(4), ranked[0].Movements)
	assert.Equal(t, numberC, ranked[2].Account.Number)
	require.NotNil(t, ranked[0].Account.Owner)
	assert.Equal(t, "lucia", ranked[0].Account.Owner.Username)

	ranked, err = f.query.RankAccountsByActivity(ctx, ledger.Less, ledger.Page{Limit: 1})
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, numberC, ranked[0].Account.Number)

	// closed accounts drop out of the ranking
	_, err = f.accounts.CloseAccount(ctx, "acc-a")
	require.NoError(t, err)
	ranked, err = f.query.RankAccountsByActivity(ctx, ledger.More, ledger.Page{})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, numberB, ranked[0].Account.Number)

	ranked, err = f.query.RankAccountsByActivity(ctx, ledger.More, ledger.Page{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestRankingTiesOrderByAccountID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, number := range []string{numberC, numberB, numberA} {
		_, err := f.engine.Deposit(ctx, worker, number, dec("1"), "")
		require.NoError(t, err)
	}

	ranked, err := f.query.RankAccountsByActivity(ctx, ledger.More, ledger.Page{})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, []string{numberA, numberB, numberC},
		[]string{ranked[0].Account.Number, ranked[1].Account.Number, ranked[2].Account.Number})
}

func TestRankingReadsPastClosedAccounts(t *testing.T) {
	accounts := memory.NewAccounts()
	movements := memory.NewMovements()
	accounts.AddUser(&models.User{ID: "client-1", Name: "Lucia", Username: "lucia", Role: models.Client, Active: true})
	ctx := context.Background()

	// acc-00 has 30 movements down to acc-29 with 1; the 25 busiest are closed
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("acc-%02d", i)
		require.NoError(t, accounts.CreateAccount(ctx, &models.Account{
			ID: id, Number: fmt.Sprintf("20000000%02d", i), Type: models.Checking, OwnerID: "client-1", Active: true,
		}))
		for j := 0; j < 30-i; j++ {
			require.NoError(t, movements.Append(ctx, &models.Movement{
				ID: fmt.Sprintf("m-%02d-%02d", i, j), Type: models.Deposit, Amount: decimal.NewFromInt(1),
				DestinationID: id, CreatorID: "worker-1", CreatedAt: clockAt,
			}))
		}
		if i < 25 {
			_, err := accounts.CloseAccount(ctx, id)
			require.NoError(t, err)
		}
	}

	query := ledger.NewQuery(accounts, accounts, movements, time.UTC)
	ranked, err := query.RankAccountsByActivity(ctx, ledger.More, ledger.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "2000000026", ranked[0].Account.Number)
	assert.Equal(t, int64(4), ranked[0].Movements)
	assert.Equal(t, "2000000027", ranked[1].Account.Number)

	ranked, err = query.RankAccountsByActivity(ctx, ledger.Less, ledger.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, ranked, 5)
	assert.Equal(t, "2000000029", ranked[0].Account.Number)
}
