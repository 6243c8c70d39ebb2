package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MovementType string

const (
	// Deposit credits a destination account
	Deposit MovementType = "DEPOSIT"

	// Withdrawal debits an origin account
	Withdrawal MovementType = "WITHDRAWAL"

	// Transfer moves funds from an origin to a destination account
	Transfer MovementType = "TRANSFER"
)

// Valid reports whether t is a known movement type
func (t MovementType) Valid() bool {
	switch t {
	case Deposit, Withdrawal, Transfer:
		return true
	}
	return false
}

// Movement is an immutable ledger entry
type Movement struct {
	ID            string          `json:"id"`
	Type          MovementType    `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	OriginID      string          `json:"origin_id,omitempty"`
	DestinationID string          `json:"destination_id,omitempty"`
	CreatorID     string          `json:"creator_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MovementView is a movement joined with account and creator data
type MovementView struct {
	Movement
	Origin      *AccountSummary `json:"origin,omitempty"`
	Destination *AccountSummary `json:"destination,omitempty"`
	Creator     *OwnerSummary   `json:"creator,omitempty"`
}

// represents the request to deposit into an account
type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" validate:"required,len=10,numeric"`
	Description string          `json:"description,omitempty" validate:"max=200"`
}

// represents the request to transfer between two accounts
type TransferRequest struct {
	Origin      string          `json:"origin" validate:"required,len=10,numeric"`
	Destination string          `json:"destination" validate:"required,len=10,numeric"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty" validate:"max=200"`
}

type DepositResponse struct {
	Movement *Movement `json:"movement"`
}

type TransferResponse struct {
	Movement           *Movement `json:"movement"`
	OriginAccount      *Account  `json:"originAccount"`
	DestinationAccount *Account  `json:"destinationAccount"`
}

type MovementsResponse struct {
	Total     int64          `json:"total"`
	Movements []MovementView `json:"movements"`
}

type RankingResponse struct {
	Accounts []AccountActivity `json:"accounts"`
}
