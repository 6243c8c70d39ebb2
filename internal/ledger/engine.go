package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/abkawan/bank-management/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultCommitAttempts       = 3
	DefaultCompensationAttempts = 5
	DefaultBackoff              = 50 * time.Millisecond
)

type CompensationKind string

const (
	// ReverseDeposit debits back a credited deposit
	ReverseDeposit CompensationKind = "reverseDeposit"

	// ReverseTransfer moves a transferred amount back to its origin
	ReverseTransfer CompensationKind = "reverseTransfer"
)

// Compensation is a reversal owed to the ledger after a movement could not
// be recorded. DebitAccountID gives the amount back to CreditAccountID,
// which is empty for deposits.
type Compensation struct {
	Kind            CompensationKind `json:"kind"`
	MovementID      string           `json:"movement_id"`
	DebitAccountID  string           `json:"debit_account_id"`
	CreditAccountID string           `json:"credit_account_id,omitempty"`
	Amount          decimal.Decimal  `json:"amount"`
	CreatedAt       time.Time        `json:"created_at"`
}

type Options struct {
	Commit       RetryPolicy
	Compensation RetryPolicy
	Now          func() time.Time
}

// Engine applies deposits and transfers: the balance change and the
// movement record commit together or not at all.
type Engine struct {
	accounts     AccountStore
	movements    MovementLog
	limits       *LimitPolicy
	events       EventPublisher
	commit       RetryPolicy
	compensation RetryPolicy
	now          func() time.Time
	newID        func() string
}

// NewEngine creates an Engine. events may be nil.
func NewEngine(accounts AccountStore, movements MovementLog, limits *LimitPolicy, events EventPublisher, opts Options) *Engine {
	if opts.Commit.Attempts <= 0 {
		opts.Commit.Attempts = DefaultCommitAttempts
	}
	if opts.Compensation.Attempts <= 0 {
		opts.Compensation.Attempts = DefaultCompensationAttempts
	}
	if opts.Commit.Backoff <= 0 {
		opts.Commit.Backoff = DefaultBackoff
	}
	if opts.Compensation.Backoff <= 0 {
		opts.Compensation.Backoff = DefaultBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		accounts:     accounts,
		movements:    movements,
		limits:       limits,
		events:       events,
		commit:       opts.Commit,
		compensation: opts.Compensation,
		now:          opts.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// TransferResult is a committed transfer with both accounts as left by it.
type TransferResult struct {
	Movement    *models.Movement
	Origin      *models.Account
	Destination *models.Account
}

// Deposit credits the active account holding destinationNumber and records a DEPOSIT movement.
func (e *Engine) Deposit(ctx context.Context, actor models.Actor, destinationNumber string, amount decimal.Decimal, description string) (*models.Movement, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	destination, err := e.resolve(ctx, destinationNumber)
	if err != nil {
		return nil, err
	}

	err = e.commit.do(ctx, notApplied, func(ctx context.Context) error {
		_, err := e.accounts.Credit(ctx, destination.ID, amount)
		return err
	})
	if err != nil {
		return nil, e.commitFailure("credit deposit", err)
	}

	movement := &models.Movement{
		ID:            e.newID(),
		Type:          models.Deposit,
		Amount:        amount,
		Description:   description,
		DestinationID: destination.ID,
		CreatorID:     actor.ID,
		CreatedAt:     e.now(),
	}

	if err := e.record(ctx, movement, Compensation{
		Kind:           ReverseDeposit,
		MovementID:     movement.ID,
		DebitAccountID: destination.ID,
		Amount:         amount,
	}); err != nil {
		return nil, err
	}

	return movement, nil
}

// Transfer moves amount from the origin to the destination account and
// records a TRANSFER movement. The actor must own the origin account.
func (e *Engine) Transfer(ctx context.Context, actor models.Actor, originNumber, destinationNumber string, amount decimal.Decimal, description string) (*TransferResult, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if originNumber == destinationNumber {
		return nil, ErrSameAccount
	}

	if e.limits != nil {
		if err := e.limits.CheckDailyLimit(ctx, actor, amount); err != nil {
			return nil, err
		}
	}

	origin, err := e.resolve(ctx, originNumber)
	if err != nil {
		return nil, err
	}
	destination, err := e.resolve(ctx, destinationNumber)
	if err != nil {
		return nil, err
	}
	if origin.ID == destination.ID {
		return nil, ErrSameAccount
	}
	if origin.OwnerID != actor.ID {
		return nil, ErrUnauthorized
	}

	// The store checks ownership, activity and funds again in the update itself.
	var debited, credited *models.Account
	err = e.commit.do(ctx, notApplied, func(ctx context.Context) error {
		var err error
		debited, credited, err = e.accounts.Transfer(ctx, BalanceTransfer{
			OriginID:      origin.ID,
			DestinationID: destination.ID,
			Amount:        amount,
			OwnerID:       actor.ID,
		})
		return err
	})
	if err != nil {
		return nil, e.commitFailure("apply transfer", err)
	}

	movement := &models.Movement{
		ID:            e.newID(),
		Type:          models.Transfer,
		Amount:        amount,
		Description:   description,
		OriginID:      origin.ID,
		DestinationID: destination.ID,
		CreatorID:     actor.ID,
		CreatedAt:     e.now(),
	}

	if err := e.record(ctx, movement, Compensation{
		Kind:            ReverseTransfer,
		MovementID:      movement.ID,
		DebitAccountID:  destination.ID,
		CreditAccountID: origin.ID,
		Amount:          amount,
	}); err != nil {
		return nil, err
	}

	return &TransferResult{Movement: movement, Origin: debited, Destination: credited}, nil
}

// Repair settles a pending compensation with the compensation retry policy.
// Nothing is reversed when the movement turns out to be stored; otherwise
// the balance change is reversed at most once, however often Repair runs.
func (e *Engine) Repair(ctx context.Context, c Compensation) error {
	_, err := e.settle(ctx, c)
	return err
}

// settle reports whether the movement was found in the log, in which case
// no reversal was needed.
func (e *Engine) settle(ctx context.Context, c Compensation) (recorded bool, err error) {
	reversal, err := c.reversal()
	if err != nil {
		return false, err
	}

	// Reverse applies once per movement, so any failure may be retried.
	err = e.compensation.do(ctx, always, func(ctx context.Context) error {
		var err error
		if recorded, err = e.recorded(ctx, c.MovementID); err != nil || recorded {
			return err
		}
		return e.accounts.Reverse(ctx, reversal)
	})
	return recorded, err
}

func (e *Engine) recorded(ctx context.Context, movementID string) (bool, error) {
	found, _, err := e.movements.Find(ctx, MovementFilter{ID: movementID}, Page{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("failed to look up movement %s: %w", movementID, err)
	}
	return len(found) > 0, nil
}

func (e *Engine) resolve(ctx context.Context, number string) (*models.Account, error) {
	account, err := e.accounts.GetAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
		}
		return nil, storageError("resolve account", err)
	}
	if !account.Active {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, number)
	}
	return account, nil
}

// commitFailure classifies an error from the balance step. Validation
// failures and failures known to have applied nothing pass through; any
// other failure leaves the outcome unknown.
func (e *Engine) commitFailure(op string, err error) error {
	if IsClientError(err) {
		return err
	}
	if errors.Is(err, ErrNotApplied) {
		return storageError(op, err)
	}
	Audit("COMMIT_UNKNOWN", map[string]string{"operation": op, "error": err.Error()})
	return fmt.Errorf("%s: outcome unknown: %w", op, errors.Join(ErrConsistencyAlarm, err))
}

// record appends the movement once the balances have changed. If the
// movement cannot be stored the balance change is reversed; if the reversal
// fails too the compensation is handed to the repair queue.
func (e *Engine) record(ctx context.Context, movement *models.Movement, c Compensation) error {
	// Past the commit point the caller going away must not stop the bookkeeping.
	ctx = context.WithoutCancel(ctx)

	err := e.commit.do(ctx, always, func(ctx context.Context) error {
		return e.movements.Append(ctx, movement)
	})
	if err == nil {
		e.publish(ctx, movement)
		return nil
	}

	log.Printf("failed to record movement %s, reversing: %v", movement.ID, err)
	c.CreatedAt = e.now()
	recorded, rerr := e.settle(ctx, c)
	if rerr != nil {
		return e.alarm(ctx, c, rerr)
	}
	if recorded {
		// the append reported an error but the movement landed
		log.Printf("movement %s found in the log, keeping its balance change", movement.ID)
		e.publish(ctx, movement)
		return nil
	}
	return storageError("record movement", err)
}

func (c Compensation) reversal() (Reversal, error) {
	r := Reversal{
		MovementID:     c.MovementID,
		DebitAccountID: c.DebitAccountID,
		Amount:         c.Amount,
	}
	switch c.Kind {
	case ReverseDeposit:
		return r, nil
	case ReverseTransfer:
		r.CreditAccountID = c.CreditAccountID
		return r, nil
	default:
		return Reversal{}, fmt.Errorf("%w: %q", errUnknownCompensation, c.Kind)
	}
}

func (e *Engine) alarm(ctx context.Context, c Compensation, cause error) error {
	Audit("CONSISTENCY_ALARM", c)
	if e.events != nil {
		if err := e.events.PublishCompensation(ctx, c); err != nil {
			log.Printf("failed to queue compensation for movement %s: %v", c.MovementID, err)
		}
	}
	return &AlarmError{Compensation: c, Cause: cause}
}

func (e *Engine) publish(ctx context.Context, movement *models.Movement) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishMovement(ctx, movement); err != nil {
		log.Printf("failed to publish movement %s: %v", movement.ID, err)
	}
}

func notApplied(err error) bool {
	return errors.Is(err, ErrNotApplied)
}

var errUnknownCompensation = errors.New("unknown compensation kind")

// Audit writes a single-line JSON audit record to the log.
func Audit(event string, details any) {
	data, _ := json.Marshal(map[string]any{
		"timestamp": time.Now(),
		"event":     event,
		"details":   details,
	})
	log.Printf("AUDIT: %s", data)
}
