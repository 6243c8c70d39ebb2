package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	// Checking is the default account type
	Checking AccountType = "CHECKING"

	// Savings represents a savings account
	Savings AccountType = "SAVINGS"
)

// Valid reports whether t is a known account type
func (t AccountType) Valid() bool {
	return t == Checking || t == Savings
}

// Account is a bank account. Number is empty once the account is closed.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Number    string          `json:"number,omitempty" db:"number"`
	Type      AccountType     `json:"type" db:"type"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	Active    bool            `json:"active" db:"active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// represents the request to open a new account
type OpenAccountRequest struct {
	Owner          string          `json:"owner" validate:"required"`
	Type           AccountType     `json:"type" validate:"omitempty,oneof=CHECKING SAVINGS"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// AccountSummary is the account data joined into reports
type AccountSummary struct {
	ID      string           `json:"id"`
	Number  string           `json:"number,omitempty"`
	Type    AccountType      `json:"type"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
	Active  bool             `json:"active"`
	Owner   *OwnerSummary    `json:"owner,omitempty"`
}

// AccountActivity pairs an account with the number of movements touching it
type AccountActivity struct {
	Account   AccountSummary `json:"account"`
	Movements int64          `json:"movements"`
}

// Summarize builds the report view of an account; owner may be nil
func Summarize(a *Account, owner *User, withBalance bool) AccountSummary {
	s := AccountSummary{
		ID:     a.ID,
		Number: a.Number,
		Type:   a.Type,
		Active: a.Active,
	}
	if withBalance {
		b := a.Balance
		s.Balance = &b
	}
	if owner != nil {
		s.Owner = owner.Summary()
	}
	return s
}
