// Package store provides row access to the banking tables: users, accounts,
// transactions, loans, and account PINs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the banking tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    user_id      BIGINT PRIMARY KEY,
    first_name   TEXT NOT NULL,
    last_name    TEXT NOT NULL,
    age          INT NOT NULL DEFAULT 0,
    gender       TEXT NOT NULL DEFAULT '',
    income       DOUBLE PRECISION NOT NULL DEFAULT 0,
    credit_score INT NOT NULL DEFAULT 0,
    dependents   INT NOT NULL DEFAULT 0,
    pin          INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS accounts (
    account_number TEXT PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(user_id),
    balance        DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS transactions (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(user_id),
    account_number TEXT NOT NULL,
    amount         DOUBLE PRECISION NOT NULL,
    category       TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS loans (
    id             BIGSERIAL PRIMARY KEY,
    user_id        BIGINT NOT NULL REFERENCES users(user_id),
    account_number TEXT NOT NULL,
    amount         DOUBLE PRECISION NOT NULL,
    requested_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_loans_user ON loans(user_id);
`

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrInsufficientFunds is returned by Transfer when the sender's balance
// cannot cover the amount.
var ErrInsufficientFunds = errors.New("store: insufficient funds")

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// User is one row of the users table.
type User struct {
	ID          int64
	FirstName   string
	LastName    string
	Age         int
	Gender      string
	Income      float64
	CreditScore int
	Dependents  int
	PIN         int
}

// Account is one row of the accounts table.
type Account struct {
	Number    string
	UserID    int64
	Balance   float64
	CreatedAt time.Time
}

// Transaction is one row of the transactions table.
type Transaction struct {
	ID            int64
	UserID        int64
	AccountNumber string
	Amount        float64
	Category      string
	CreatedAt     time.Time
}

// Loan is one row of the loans table.
type Loan struct {
	ID            int64
	UserID        int64
	AccountNumber string
	Amount        float64
	RequestedAt   time.Time
}

// Store reads and updates the banking tables.
type Store struct {
	db DB
}

// New creates a Store on the given database connection or pool. The caller
// is responsible for calling [Store.Migrate] to ensure the schema exists
// before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a pgx pool for dsn, verifies connectivity, and returns a
// Store on it together with the pool for lifecycle management.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	return New(pool), pool, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database answers a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// UserByID fetches one user row. Returns ErrNotFound for unknown ids.
func (s *Store) UserByID(ctx context.Context, userID int64) (*User, error) {
	const query = `
		SELECT user_id, first_name, last_name, age, gender,
		       income, credit_score, dependents, pin
		FROM users
		WHERE user_id = $1`

	var u User
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Age, &u.Gender,
		&u.Income, &u.CreditScore, &u.Dependents, &u.PIN,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: user %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: user %d: %w", userID, err)
	}
	return &u, nil
}

// AccountsByUser fetches all accounts belonging to userID, oldest first.
func (s *Store) AccountsByUser(ctx context.Context, userID int64) ([]Account, error) {
	const query = `
		SELECT account_number, user_id, balance, created_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: accounts for %d: %w", userID, err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Account, error) {
		var a Account
		err := row.Scan(&a.Number, &a.UserID, &a.Balance, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: collect accounts for %d: %w", userID, err)
	}
	return accounts, nil
}

// TransactionsByUser fetches up to limit transactions for userID, newest
// first. A limit of 0 or less means no limit.
func (s *Store) TransactionsByUser(ctx context.Context, userID int64, limit int) ([]Transaction, error) {
	query := `
		SELECT id, user_id, account_number, amount, category, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: transactions for %d: %w", userID, err)
	}
	txns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		var t Transaction
		err := row.Scan(&t.ID, &t.UserID, &t.AccountNumber, &t.Amount, &t.Category, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: collect transactions for %d: %w", userID, err)
	}
	return txns, nil
}

// LoansByUser fetches all loans for userID.
func (s *Store) LoansByUser(ctx context.Context, userID int64) ([]Loan, error) {
	const query = `
		SELECT id, user_id, account_number, amount, requested_at
		FROM loans
		WHERE user_id = $1
		ORDER BY requested_at DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: loans for %d: %w", userID, err)
	}
	loans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Loan, error) {
		var l Loan
		err := row.Scan(&l.ID, &l.UserID, &l.AccountNumber, &l.Amount, &l.RequestedAt)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: collect loans for %d: %w", userID, err)
	}
	return loans, nil
}

// Balance returns the summed balance across all of userID's accounts.
// Returns ErrNotFound when the user has no accounts.
func (s *Store) Balance(ctx context.Context, userID int64) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(balance), 0), COUNT(*)
		FROM accounts
		WHERE user_id = $1`

	var total float64
	var count int
	if err := s.db.QueryRow(ctx, query, userID).Scan(&total, &count); err != nil {
		return 0, fmt.Errorf("store: balance for %d: %w", userID, err)
	}
	if count == 0 {
		return 0, fmt.Errorf("store: balance for %d: %w", userID, ErrNotFound)
	}
	return total, nil
}

// VerifyPIN reports whether pin matches the one stored for userID.
func (s *Store) VerifyPIN(ctx context.Context, userID int64, pin int) (bool, error) {
	const query = `SELECT pin FROM users WHERE user_id = $1`

	var stored int
	err := s.db.QueryRow(ctx, query, userID).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("store: pin for %d: %w", userID, ErrNotFound)
		}
		return false, fmt.Errorf("store: pin for %d: %w", userID, err)
	}
	return stored == pin, nil
}

// Transfer moves amount from fromUser's first account to toUser's first
// account and records a ledger entry on each side. Fails with
// ErrInsufficientFunds when the sender cannot cover the amount and
// ErrNotFound when either side has no account.
func (s *Store) Transfer(ctx context.Context, fromUser, toUser int64, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("store: transfer amount must be positive, got %v", amount)
	}

	from, err := s.firstAccount(ctx, fromUser)
	if err != nil {
		return err
	}
	to, err := s.firstAccount(ctx, toUser)
	if err != nil {
		return err
	}
	if from.Balance < amount {
		return fmt.Errorf("store: transfer %v from %d: %w", amount, fromUser, ErrInsufficientFunds)
	}

	const debit = `UPDATE accounts SET balance = balance - $1 WHERE account_number = $2`
	const credit = `UPDATE accounts SET balance = balance + $1 WHERE account_number = $2`
	const record = `
		INSERT INTO transactions (user_id, account_number, amount, category)
		VALUES ($1, $2, $3, 'Transfer')`

	if _, err := s.db.Exec(ctx, debit, amount, from.Number); err != nil {
		return fmt.Errorf("store: debit %s: %w", from.Number, err)
	}
	if _, err := s.db.Exec(ctx, credit, amount, to.Number); err != nil {
		return fmt.Errorf("store: credit %s: %w", to.Number, err)
	}
	if _, err := s.db.Exec(ctx, record, fromUser, from.Number, -amount); err != nil {
		return fmt.Errorf("store: record debit: %w", err)
	}
	if _, err := s.db.Exec(ctx, record, toUser, to.Number, amount); err != nil {
		return fmt.Errorf("store: record credit: %w", err)
	}
	return nil
}

func (s *Store) firstAccount(ctx context.Context, userID int64) (*Account, error) {
	const query = `
		SELECT account_number, user_id, balance, created_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at
		LIMIT 1`

	var a Account
	err := s.db.QueryRow(ctx, query, userID).Scan(&a.Number, &a.UserID, &a.Balance, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: account for %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: account for %d: %w", userID, err)
	}
	return &a, nil
}
