package ledger

import (
	"context"
	"time"

	"github.com/abkawan/bank-management/internal/models"
	"github.com/shopspring/decimal"
)

// AccountStore persists accounts. Every balance change is a single
// conditional update evaluated by the store, never a read followed by a write.
type AccountStore interface {
	// GetAccount returns an account by id, active or not.
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	// GetAccountByNumber returns the active account holding number.
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)

	// GetAccounts returns the accounts found for ids, active or not, keyed by id.
	GetAccounts(ctx context.Context, ids []string) (map[string]*models.Account, error)

	// ListAccountsByOwner returns the accounts of an owner, newest first.
	ListAccountsByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*models.Account, error)

	// NumberExists reports whether an active account holds number.
	NumberExists(ctx context.Context, number string) (bool, error)

	// CreateAccount inserts a new account. Returns ErrNumberTaken on a number collision.
	CreateAccount(ctx context.Context, account *models.Account) error

	// CloseAccount deactivates an account, zeroes its balance and clears its number.
	CloseAccount(ctx context.Context, id string) (*models.Account, error)

	// Credit adds amount to an active account.
	Credit(ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error)

	// Transfer debits the origin and credits the destination as one unit.
	Transfer(ctx context.Context, t BalanceTransfer) (origin, destination *models.Account, err error)

	// Reverse applies the reversal owed for a movement at most once. A
	// reversal already applied for r.MovementID is reported as success.
	Reverse(ctx context.Context, r Reversal) error
}

// Reversal takes Amount back from DebitAccountID and, when set, returns it
// to CreditAccountID.
type Reversal struct {
	MovementID      string
	DebitAccountID  string
	CreditAccountID string
	Amount          decimal.Decimal
}

// BalanceTransfer is the paired balance change of a transfer.
// When OwnerID is set the store only debits an origin owned by OwnerID.
type BalanceTransfer struct {
	OriginID      string
	DestinationID string
	Amount        decimal.Decimal
	OwnerID       string
}

// UserDirectory resolves account owners and movement creators.
type UserDirectory interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByDPI(ctx context.Context, dpi string, role models.Role) (*models.User, error)
}

// MovementLog is the append-only store of movements.
type MovementLog interface {
	// Append stores a movement. Appending the same movement id twice is a no-op.
	Append(ctx context.Context, m *models.Movement) error

	// Find returns one page of the movements matching filter, newest first,
	// and the number of matching movements before pagination.
	Find(ctx context.Context, filter MovementFilter, page Page) ([]*models.Movement, int64, error)

	// SumTransfers adds the amounts of the TRANSFER movements created by
	// creatorID in [from, to).
	SumTransfers(ctx context.Context, creatorID string, from, to time.Time) (decimal.Decimal, error)

	// CountByAccount counts, per account, the movements where it is origin
	// or destination. Results are ordered by count in direction, then by
	// account id, and paged.
	CountByAccount(ctx context.Context, direction Direction, page Page) ([]AccountCount, error)
}

// MovementFilter selects movements. Empty fields do not constrain.
type MovementFilter struct {
	ID string

	// AccountID matches the origin or the destination.
	AccountID string

	// AccountScope, when non-nil, restricts results to movements whose origin
	// or destination is in the set. An empty non-nil scope matches nothing.
	AccountScope []string

	CreatorID     string
	Type          models.MovementType
	OriginID      string
	DestinationID string

	// From is inclusive, To exclusive.
	From time.Time
	To   time.Time
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalize(defaultLimit, maxLimit int) Page {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type AccountCount struct {
	AccountID string
	Movements int64
}

// EventPublisher receives committed movements and pending compensations.
type EventPublisher interface {
	PublishMovement(ctx context.Context, m *models.Movement) error
	PublishCompensation(ctx context.Context, c Compensation) error
}
