package ledger

import (
	"context"
	"fmt"

	"github.com/abkawan/bank-management/internal/models"
)

// Predicate narrows a movement filter.
type Predicate func(*MovementFilter)

func noScope(*MovementFilter) {}

// ScopeFor maps the actor's role to the predicate every movement query it
// runs is narrowed by. Administrators and workers see all movements; a
// client only sees movements touching accounts it owns, closed ones included.
func ScopeFor(ctx context.Context, accounts AccountStore, actor models.Actor) (Predicate, error) {
	switch actor.Role {
	case models.Administrator, models.Worker:
		return noScope, nil
	case models.Client:
		owned, err := accounts.ListAccountsByOwner(ctx, actor.ID, true)
		if err != nil {
			return nil, storageError("list owned accounts", err)
		}
		ids := make([]string, 0, len(owned))
		for _, a := range owned {
			ids = append(ids, a.ID)
		}
		return func(f *MovementFilter) { f.AccountScope = ids }, nil
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, actor.Role)
	}
}
