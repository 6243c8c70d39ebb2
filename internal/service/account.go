package service

import (
	"context"
	"fmt"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/google/uuid"
)

// handles account operations
type AccountService struct {
	accounts ledger.AccountStore
	users    ledger.UserDirectory
	numbers  *ledger.NumberGenerator
}

// creates a new Account Service
func NewAccountService(accounts ledger.AccountStore, users ledger.UserDirectory, numberAttempts int) *AccountService {
	return &AccountService{
		accounts: accounts,
		users:    users,
		numbers:  ledger.NewNumberGenerator(accounts, numberAttempts),
	}
}

// OpenAccount opens an account for an active client under a freshly drawn number.
func (s *AccountService) OpenAccount(ctx context.Context, req models.OpenAccountRequest) (*models.AccountSummary, error) {
	balance := req.InitialBalance
	if balance.IsNegative() || !balance.Equal(balance.Truncate(2)) {
		return nil, fmt.Errorf("%w: initial balance %s", ledger.ErrInvalidAmount, balance)
	}

	accountType := req.Type
	if accountType == "" {
		accountType = models.Checking
	}
	if !accountType.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ledger.ErrInvalidRequest, accountType)
	}

	owner, err := s.users.FindUserByUsername(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	if owner.Role != models.Client {
		return nil, fmt.Errorf("%w: %s is not a client", ledger.ErrUserNotFound, req.Owner)
	}

	account := &models.Account{
		ID:      uuid.New().String(),
		Type:    accountType,
		Balance: balance,
		OwnerID: owner.ID,
		Active:  true,
	}

	_, err = s.numbers.Assign(ctx, func(ctx context.Context, number string) error {
		account.Number = number
		return s.accounts.CreateAccount(ctx, account)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}

	summary := models.Summarize(account, owner, true)
	return &summary, nil
}

// CloseAccount soft deletes an account. Its movements keep pointing at it.
func (s *AccountService) CloseAccount(ctx context.Context, id string) (*models.AccountSummary, error) {
	account, err := s.accounts.CloseAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to close account: %w", err)
	}

	summary := models.Summarize(account, nil, false)
	return &summary, nil
}

// GetAccount returns the active account holding number. Clients only see
// their own accounts.
func (s *AccountService) GetAccount(ctx context.Context, actor models.Actor, number string) (*models.AccountSummary, error) {
	account, err := s.accounts.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.Client && account.OwnerID != actor.ID {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, number)
	}

	users, err := s.users.GetUsers(ctx, []string{account.OwnerID})
	if err != nil {
		return nil, fmt.Errorf("failed to get account owner: %w", err)
	}

	summary := models.Summarize(account, users[account.OwnerID], true)
	return &summary, nil
}

// ListAccounts returns the active accounts of the acting client.
func (s *AccountService) ListAccounts(ctx context.Context, actor models.Actor) ([]models.AccountSummary, error) {
	if actor.Role != models.Client {
		return nil, ledger.ErrUnauthorized
	}

	accounts, err := s.accounts.ListAccountsByOwner(ctx, actor.ID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	summaries := make([]models.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		summaries = append(summaries, models.Summarize(a, nil, true))
	}
	return summaries, nil
}
