// Package memory provides in-memory implementations of the ledger storage
// contracts for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/shopspring/decimal"
)

// Accounts implements ledger.AccountStore and ledger.UserDirectory.
type Accounts struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	users    map[string]*models.User
	reversed map[string]bool

	// Fault hooks, consulted before a write is applied.
	CreditErr   func(id string) error
	TransferErr func(t ledger.BalanceTransfer) error
	ReverseErr  func(r ledger.Reversal) error
}

func NewAccounts() *Accounts {
	return &Accounts{
		accounts: make(map[string]*models.Account),
		users:    make(map[string]*models.User),
		reversed: make(map[string]bool),
	}
}

// AddUser stores a user, replacing any user with the same id.
func (s *Accounts) AddUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Accounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Accounts) GetAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.byNumberLocked(number); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ledger.ErrAccountNotFound
}

func (s *Accounts) byNumberLocked(number string) *models.Account {
	if number == "" {
		return nil
	}
	for _, a := range s.accounts {
		if a.Active && a.Number == number {
			return a
		}
	}
	return nil
}

func (s *Accounts) GetAccounts(_ context.Context, ids []string) (map[string]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Account, len(ids))
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			cp := *a
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Accounts) ListAccountsByOwner(_ context.Context, ownerID string, includeInactive bool) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Account
	for _, a := range s.accounts {
		if a.OwnerID != ownerID || (!a.Active && !includeInactive) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Accounts) NumberExists(_ context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byNumberLocked(number) != nil, nil
}

func (s *Accounts) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byNumberLocked(account.Number) != nil {
		return ledger.ErrNumberTaken
	}
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *Accounts) CloseAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok || !a.Active {
		return nil, ledger.ErrAccountNotFound
	}
	a.Active = false
	a.Number = ""
	a.Balance = decimal.Zero
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (s *Accounts) Credit(_ context.Context, id string, amount decimal.Decimal) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreditErr != nil {
		if err := s.CreditErr(id); err != nil {
			return nil, err
		}
	}
	a, ok := s.accounts[id]
	if !ok || !a.Active {
		return nil, ledger.ErrAccountNotFound
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (s *Accounts) Transfer(_ context.Context, t ledger.BalanceTransfer) (*models.Account, *models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TransferErr != nil {
		if err := s.TransferErr(t); err != nil {
			return nil, nil, err
		}
	}
	return s.moveLocked(t)
}

func (s *Accounts) moveLocked(t ledger.BalanceTransfer) (*models.Account, *models.Account, error) {
	origin, ok := s.accounts[t.OriginID]
	if !ok || !origin.Active {
		return nil, nil, ledger.ErrAccountNotFound
	}
	destination, ok := s.accounts[t.DestinationID]
	if !ok || !destination.Active {
		return nil, nil, ledger.ErrAccountNotFound
	}
	if t.OwnerID != "" && origin.OwnerID != t.OwnerID {
		return nil, nil, ledger.ErrUnauthorized
	}
	if origin.Balance.LessThan(t.Amount) {
		return nil, nil, ledger.ErrInsufficientFunds
	}

	now := time.Now()
	origin.Balance = origin.Balance.Sub(t.Amount)
	origin.UpdatedAt = now
	destination.Balance = destination.Balance.Add(t.Amount)
	destination.UpdatedAt = now

	o, d := *origin, *destination
	return &o, &d, nil
}

func (s *Accounts) Reverse(_ context.Context, r ledger.Reversal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReverseErr != nil {
		if err := s.ReverseErr(r); err != nil {
			return err
		}
	}
	if s.reversed[r.MovementID] {
		return nil
	}

	if r.CreditAccountID != "" {
		if _, _, err := s.moveLocked(ledger.BalanceTransfer{
			OriginID:      r.DebitAccountID,
			DestinationID: r.CreditAccountID,
			Amount:        r.Amount,
		}); err != nil {
			return err
		}
	} else {
		a, ok := s.accounts[r.DebitAccountID]
		if !ok || !a.Active {
			return ledger.ErrAccountNotFound
		}
		if a.Balance.LessThan(r.Amount) {
			return ledger.ErrInsufficientFunds
		}
		a.Balance = a.Balance.Sub(r.Amount)
		a.UpdatedAt = time.Now()
	}
	s.reversed[r.MovementID] = true
	return nil
}

func (s *Accounts) GetUsers(_ context.Context, ids []string) (map[string]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Accounts) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Active && u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ledger.ErrUserNotFound
}

func (s *Accounts) FindUserByDPI(_ context.Context, dpi string, role models.Role) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Active && u.DPI == dpi && u.Role == role {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ledger.ErrUserNotFound
}

// TotalBalance sums the balances of every account.
func (s *Accounts) TotalBalance() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, a := range s.accounts {
		total = total.Add(a.Balance)
	}
	return total
}

// Movements implements ledger.MovementLog. Append-only.
type Movements struct {
	mu        sync.RWMutex
	movements []models.Movement
	ids       map[string]bool

	// AppendErr, when set, is consulted before a movement is stored.
	AppendErr func(m *models.Movement) error
}

func NewMovements() *Movements {
	return &Movements{ids: make(map[string]bool)}
}

func (s *Movements) Append(_ context.Context, m *models.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		if err := s.AppendErr(m); err != nil {
			return err
		}
	}
	if s.ids[m.ID] {
		return nil
	}
	s.ids[m.ID] = true
	s.movements = append(s.movements, *m)
	return nil
}

// Len returns the number of stored movements.
func (s *Movements) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.movements)
}

func (s *Movements) Find(_ context.Context, filter ledger.MovementFilter, page ledger.Page) ([]*models.Movement, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Movement
	for i := range s.movements {
		if matches(&s.movements[i], filter) {
			cp := s.movements[i]
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	if page.Offset >= len(matched) {
		return []*models.Movement{}, total, nil
	}
	end := len(matched)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return matched[page.Offset:end], total, nil
}

func matches(m *models.Movement, f ledger.MovementFilter) bool {
	if f.ID != "" && m.ID != f.ID {
		return false
	}
	if f.AccountID != "" && m.OriginID != f.AccountID && m.DestinationID != f.AccountID {
		return false
	}
	if f.AccountScope != nil && !contains(f.AccountScope, m.OriginID) && !contains(f.AccountScope, m.DestinationID) {
		return false
	}
	if f.CreatorID != "" && m.CreatorID != f.CreatorID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if f.OriginID != "" && m.OriginID != f.OriginID {
		return false
	}
	if f.DestinationID != "" && m.DestinationID != f.DestinationID {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (s *Movements) SumTransfers(_ context.Context, creatorID string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, m := range s.movements {
		if m.Type != models.Transfer || m.CreatorID != creatorID {
			continue
		}
		if m.CreatedAt.Before(from) || !m.CreatedAt.Before(to) {
			continue
		}
		total = total.Add(m.Amount)
	}
	return total, nil
}

func (s *Movements) CountByAccount(_ context.Context, direction ledger.Direction, page ledger.Page) ([]ledger.AccountCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, m := range s.movements {
		if m.OriginID != "" {
			counts[m.OriginID]++
		}
		if m.DestinationID != "" {
			counts[m.DestinationID]++
		}
	}
	out := make([]ledger.AccountCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, ledger.AccountCount{AccountID: id, Movements: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Movements != out[j].Movements {
			if direction == ledger.More {
				return out[i].Movements > out[j].Movements
			}
			return out[i].Movements < out[j].Movements
		}
		return out[i].AccountID < out[j].AccountID
	})

	if page.Offset >= len(out) {
		return []ledger.AccountCount{}, nil
	}
	end := len(out)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return out[page.Offset:end], nil
}
