package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

const accountColumns = `id, number, type, balance, owner_id, active, created_at, updated_at`

const userColumns = `id, name, username, dpi, role, active`

// Postgres holds accounts and their owners.
type Postgres struct {
	db *sql.DB
}

// creates a new Postgres instance
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &Postgres{db: db}, nil
}

// NewPostgresFromDB wraps an open connection.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// initialize the database schema
func (p *Postgres) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(60) NOT NULL,
			username VARCHAR(60) NOT NULL UNIQUE,
			dpi VARCHAR(13) NOT NULL UNIQUE,
			role VARCHAR(13) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(36) PRIMARY KEY,
			number CHAR(10),
			type VARCHAR(8) NOT NULL,
			balance DECIMAL(20, 2) NOT NULL CHECK (balance >= 0),
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			CHECK (active OR number IS NULL)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_number_active ON accounts(number) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_id)`,
		`CREATE TABLE IF NOT EXISTS compensations (
			movement_id VARCHAR(36) PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		account models.Account
		number  sql.NullString
	)
	err := row.Scan(&account.ID, &number, &account.Type, &account.Balance,
		&account.OwnerID, &account.Active, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.Number = number.String
	return &account, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Name, &user.Username, &user.DPI, &user.Role, &user.Active); err != nil {
		return nil, err
	}
	return &user, nil
}

// retrieves an account by ID
func (p *Postgres) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// retrieves the active account holding a number
func (p *Postgres) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE number = $1 AND active`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by number: %w", err)
	}
	return account, nil
}

func (p *Postgres) GetAccounts(ctx context.Context, ids []string) (map[string]*models.Account, error) {
	accounts := make(map[string]*models.Account, len(ids))
	if len(ids) == 0 {
		return accounts, nil
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ANY($1)`
	rows, err := p.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts[account.ID] = account
	}
	return accounts, rows.Err()
}

func (p *Postgres) ListAccountsByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
	WHERE owner_id = $1 AND (active OR $2)
	ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, ownerID, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (p *Postgres) NumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE number = $1 AND active)`, number,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account number: %w", err)
	}
	return exists, nil
}

// creates a new account
func (p *Postgres) CreateAccount(ctx context.Context, account *models.Account) error {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	query := `
	INSERT INTO accounts (id, number, type, balance, owner_id, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := p.db.ExecContext(ctx, query,
		account.ID, account.Number, account.Type, account.Balance,
		account.OwnerID, account.Active, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ledger.ErrNumberTaken
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// CloseAccount soft deletes an account: inactive, zero balance, no number.
func (p *Postgres) CloseAccount(ctx context.Context, id string) (*models.Account, error) {
	query := `
	UPDATE accounts SET active = FALSE, number = NULL, balance = 0, updated_at = $2
	WHERE id = $1 AND active
	RETURNING ` + accountColumns

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, id, time.Now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to close account: %w", err)
	}
	return account, nil
}

// withTx runs fn in a transaction. Failures before the commit roll back and
// are marked ledger.ErrNotApplied, unless fn rejected the change itself.
// A commit that was never sent is not applied either; any other failed
// commit leaves the outcome unknown and is returned as is.
func (p *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", errors.Join(ledger.ErrNotApplied, err))
	}

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		if ledger.IsClientError(err) {
			return err
		}
		return errors.Join(ledger.ErrNotApplied, err)
	}

	// database/sql rolls back on its own once ctx is done
	if ctx.Err() != nil {
		_ = tx.Rollback()
		return fmt.Errorf("transaction abandoned before commit: %w", errors.Join(ledger.ErrNotApplied, ctx.Err()))
	}

	if err = tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("failed to commit transaction: %w", errors.Join(ledger.ErrNotApplied, err))
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const creditQuery = `
	UPDATE accounts SET balance = balance + $1, updated_at = $2
	WHERE id = $3 AND active
	RETURNING ` + accountColumns

const debitQuery = `
	UPDATE accounts SET balance = balance - $1, updated_at = $2
	WHERE id = $3 AND active AND balance >= $1 AND ($4 = '' OR owner_id = $4)
	RETURNING ` + accountColumns

func credit(ctx context.Context, tx *sql.Tx, id string, amount decimal.Decimal) (*models.Account, error) {
	account, err := scanAccount(tx.QueryRowContext(ctx, creditQuery, amount, time.Now(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to credit account: %w", err)
	}
	return account, nil
}

// debit subtracts amount in a single conditional update. When no row
// qualifies the account is read again inside the transaction to say why.
func debit(ctx context.Context, tx *sql.Tx, id string, amount decimal.Decimal, ownerID string) (*models.Account, error) {
	account, err := scanAccount(tx.QueryRowContext(ctx, debitQuery, amount, time.Now(), id, ownerID))
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to debit account: %w", err)
	}

	var (
		active  bool
		owner   string
		balance decimal.Decimal
	)
	err = tx.QueryRowContext(ctx,
		`SELECT active, owner_id, balance FROM accounts WHERE id = $1`, id,
	).Scan(&active, &owner, &balance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ledger.ErrAccountNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to read account: %w", err)
	case !active:
		return nil, ledger.ErrAccountNotFound
	case ownerID != "" && owner != ownerID:
		return nil, ledger.ErrUnauthorized
	default:
		return nil, ledger.ErrInsufficientFunds
	}
}

func (p *Postgres) Credit(ctx context.Context, id string, amount decimal.Decimal) (*models.Account, error) {
	var account *models.Account
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		account, err = credit(ctx, tx, id, amount)
		return err
	})
	return account, err
}

// Transfer debits and credits in one transaction.
func (p *Postgres) Transfer(ctx context.Context, t ledger.BalanceTransfer) (*models.Account, *models.Account, error) {
	var origin, destination *models.Account
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		origin, destination, err = move(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return origin, destination, nil
}

// move updates both rows in id order so two opposite transfers cannot deadlock.
func move(ctx context.Context, tx *sql.Tx, t ledger.BalanceTransfer) (origin, destination *models.Account, err error) {
	if t.OriginID < t.DestinationID {
		if origin, err = debit(ctx, tx, t.OriginID, t.Amount, t.OwnerID); err != nil {
			return nil, nil, err
		}
		destination, err = credit(ctx, tx, t.DestinationID, t.Amount)
		return origin, destination, err
	}
	if destination, err = credit(ctx, tx, t.DestinationID, t.Amount); err != nil {
		return nil, nil, err
	}
	origin, err = debit(ctx, tx, t.OriginID, t.Amount, t.OwnerID)
	return origin, destination, err
}

// Reverse claims the movement in compensations and applies the reversal in
// the same transaction. A claim that already exists means the reversal was
// applied before, so nothing changes.
func (p *Postgres) Reverse(ctx context.Context, r ledger.Reversal) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
		INSERT INTO compensations (movement_id, applied_at) VALUES ($1, $2)
		ON CONFLICT (movement_id) DO NOTHING`, r.MovementID, time.Now())
		if err != nil {
			return fmt.Errorf("failed to claim compensation: %w", err)
		}
		claimed, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to claim compensation: %w", err)
		}
		if claimed == 0 {
			return nil
		}

		if r.CreditAccountID == "" {
			_, err = debit(ctx, tx, r.DebitAccountID, r.Amount, "")
			return err
		}
		_, _, err = move(ctx, tx, ledger.BalanceTransfer{
			OriginID:      r.DebitAccountID,
			DestinationID: r.CreditAccountID,
			Amount:        r.Amount,
		})
		return err
	})
}

// creates a new user
func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	query := `
	INSERT INTO users (id, name, username, dpi, role, active, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := p.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Username, user.DPI, user.Role, user.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	users := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[user.ID] = user
	}
	return users, rows.Err()
}

func (p *Postgres) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return p.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1 AND active`, username)
}

func (p *Postgres) FindUserByDPI(ctx context.Context, dpi string, role models.Role) (*models.User, error) {
	return p.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE dpi = $1 AND role = $2 AND active`, dpi, role)
}

func (p *Postgres) findUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	user, err := scanUser(p.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
