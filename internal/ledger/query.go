package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/bank-management/internal/models"
)

const (
	DefaultMovementsLimit = 15
	DefaultRankingLimit   = 6
	MaxPageLimit          = 100
)

type Direction string

const (
	More Direction = "MORE"
	Less Direction = "LESS"
)

// MovementQuery holds the optional movement filters. Worker and Client are
// identity numbers (DPI) of the creator; Date selects one calendar day.
type MovementQuery struct {
	MovementID        string
	AccountID         string
	Worker            string
	Client            string
	Type              models.MovementType
	Date              time.Time
	OriginNumber      string
	DestinationNumber string
}

// Query is the read side of the ledger: movement history and account activity reports.
type Query struct {
	accounts  AccountStore
	users     UserDirectory
	movements MovementLog
	location  *time.Location
}

func NewQuery(accounts AccountStore, users UserDirectory, movements MovementLog, location *time.Location) *Query {
	if location == nil {
		location = time.Local
	}
	return &Query{
		accounts:  accounts,
		users:     users,
		movements: movements,
		location:  location,
	}
}

// FindMovements returns the total number of movements matching q within the
// actor's scope and one page of them, newest first, joined with account and
// creator data.
func (q *Query) FindMovements(ctx context.Context, actor models.Actor, mq MovementQuery, page Page) (int64, []models.MovementView, error) {
	scope, err := ScopeFor(ctx, q.accounts, actor)
	if err != nil {
		return 0, nil, err
	}

	filter, empty, err := q.buildFilter(ctx, mq)
	if err != nil {
		return 0, nil, err
	}
	if empty {
		return 0, []models.MovementView{}, nil
	}
	scope(&filter)

	movements, total, err := q.movements.Find(ctx, filter, page.normalize(DefaultMovementsLimit, MaxPageLimit))
	if err != nil {
		return 0, nil, storageError("find movements", err)
	}

	views, err := q.join(ctx, movements)
	if err != nil {
		return 0, nil, err
	}
	return total, views, nil
}

// buildFilter resolves account numbers, day and creators into a filter.
// empty is true when the criteria contradict each other.
func (q *Query) buildFilter(ctx context.Context, mq MovementQuery) (filter MovementFilter, empty bool, err error) {
	filter = MovementFilter{
		ID:        mq.MovementID,
		AccountID: mq.AccountID,
		Type:      mq.Type,
	}

	if mq.OriginNumber != "" {
		a, err := q.activeAccount(ctx, mq.OriginNumber)
		if err != nil {
			return filter, false, fmt.Errorf("origin: %w", err)
		}
		filter.OriginID = a.ID
	}
	if mq.DestinationNumber != "" {
		a, err := q.activeAccount(ctx, mq.DestinationNumber)
		if err != nil {
			return filter, false, fmt.Errorf("destination: %w", err)
		}
		filter.DestinationID = a.ID
	}

	if !mq.Date.IsZero() {
		day := time.Date(mq.Date.Year(), mq.Date.Month(), mq.Date.Day(), 12, 0, 0, 0, q.location)
		filter.From, filter.To = DayWindow(day, q.location)
	}

	creators := map[models.Role]string{models.Worker: mq.Worker, models.Client: mq.Client}
	for _, role := range []models.Role{models.Worker, models.Client} {
		dpi := creators[role]
		if dpi == "" {
			continue
		}
		u, err := q.users.FindUserByDPI(ctx, dpi, role)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return filter, false, fmt.Errorf("%w: %s %s", ErrUserNotFound, role, dpi)
			}
			return filter, false, storageError("find creator", err)
		}
		if filter.CreatorID != "" && filter.CreatorID != u.ID {
			empty = true
		}
		filter.CreatorID = u.ID
	}

	return filter, empty, nil
}

func (q *Query) activeAccount(ctx context.Context, number string) (*models.Account, error) {
	a, err := q.accounts.GetAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
		}
		return nil, storageError("resolve account", err)
	}
	if !a.Active {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	return a, nil
}

func (q *Query) join(ctx context.Context, movements []*models.Movement) ([]models.MovementView, error) {
	var accountIDs []string
	for _, m := range movements {
		if m.OriginID != "" {
			accountIDs = append(accountIDs, m.OriginID)
		}
		if m.DestinationID != "" {
			accountIDs = append(accountIDs, m.DestinationID)
		}
	}

	accounts, err := q.accounts.GetAccounts(ctx, dedupe(accountIDs))
	if err != nil {
		return nil, storageError("load movement accounts", err)
	}

	userIDs := make([]string, 0, len(accounts)+len(movements))
	for _, a := range accounts {
		userIDs = append(userIDs, a.OwnerID)
	}
	for _, m := range movements {
		userIDs = append(userIDs, m.CreatorID)
	}
	users, err := q.users.GetUsers(ctx, dedupe(userIDs))
	if err != nil {
		return nil, storageError("load movement users", err)
	}

	summary := func(id string) *models.AccountSummary {
		a, ok := accounts[id]
		if !ok {
			return nil
		}
		s := models.Summarize(a, users[a.OwnerID], false)
		return &s
	}

	views := make([]models.MovementView, 0, len(movements))
	for _, m := range movements {
		v := models.MovementView{Movement: *m}
		if m.OriginID != "" {
			v.Origin = summary(m.OriginID)
		}
		if m.DestinationID != "" {
			v.Destination = summary(m.DestinationID)
		}
		if u, ok := users[m.CreatorID]; ok {
			v.Creator = u.Summary()
		}
		views = append(views, v)
	}
	return views, nil
}

// RankAccountsByActivity orders active accounts by how many movements touch
// them, most first for More and fewest first otherwise. Ties go by account id.
// Counts come from the log already ordered; closed accounts are skipped, so
// batches are read until the requested page is filled.
func (q *Query) RankAccountsByActivity(ctx context.Context, direction Direction, page Page) ([]models.AccountActivity, error) {
	page = page.normalize(DefaultRankingLimit, MaxPageLimit)
	wanted := page.Offset + page.Limit
	batch := wanted + rankingSlack

	ranked := make([]models.AccountActivity, 0, wanted)
	for skip := 0; len(ranked) < wanted; skip += batch {
		counts, err := q.movements.CountByAccount(ctx, direction, Page{Limit: batch, Offset: skip})
		if err != nil {
			return nil, storageError("count movements by account", err)
		}

		active, err := q.activeActivity(ctx, counts)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, active...)

		if len(counts) < batch {
			break
		}
	}

	if page.Offset >= len(ranked) {
		return []models.AccountActivity{}, nil
	}
	if len(ranked) > wanted {
		ranked = ranked[:wanted]
	}
	return ranked[page.Offset:], nil
}

// rankingSlack is read past the requested page to cover closed accounts.
const rankingSlack = 20

// activeActivity joins counts with their accounts and owners, keeping order
// and dropping accounts that are closed or gone.
func (q *Query) activeActivity(ctx context.Context, counts []AccountCount) ([]models.AccountActivity, error) {
	ids := make([]string, 0, len(counts))
	for _, c := range counts {
		ids = append(ids, c.AccountID)
	}
	accounts, err := q.accounts.GetAccounts(ctx, ids)
	if err != nil {
		return nil, storageError("load ranked accounts", err)
	}

	ownerIDs := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ownerIDs = append(ownerIDs, a.OwnerID)
	}
	owners, err := q.users.GetUsers(ctx, dedupe(ownerIDs))
	if err != nil {
		return nil, storageError("load account owners", err)
	}

	activity := make([]models.AccountActivity, 0, len(counts))
	for _, c := range counts {
		a, ok := accounts[c.AccountID]
		if !ok || !a.Active {
			continue
		}
		owner, ok := owners[a.OwnerID]
		if !ok {
			continue
		}
		activity = append(activity, models.AccountActivity{
			Account:   models.Summarize(a, owner, true),
			Movements: c.Movements,
		})
	}
	return activity, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
