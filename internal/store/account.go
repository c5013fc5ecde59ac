package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/accountsync/userservice/types"
)

// querier is the subset of database/sql operations the repository needs.
// Both *sql.DB and *sql.Tx satisfy it, so the same queries run inside or
// outside a transaction scope.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db *sql.DB
	q  querier
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, q: db}
}

// Transact runs fn against a transaction-bound copy of the repository.
// The transaction commits when fn returns nil and rolls back on error or
// panic. Nested calls are rejected.
func (r *AccountRepository) Transact(ctx context.Context, fn func(*AccountRepository) error) error {
	if r.db == nil {
		return errors.New("store: nested transaction")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&AccountRepository{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *AccountRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`
	var exists bool
	if err := r.q.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	const query = `
		SELECT id, email, first_name, last_name, username, roles, created_at
		FROM accounts
		WHERE id = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	const query = `
		SELECT id, email, first_name, last_name, username, roles, created_at
		FROM accounts
		WHERE email = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, email))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	const query = `
		SELECT id, email, first_name, last_name, username, roles, created_at
		FROM accounts
		WHERE username = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, username))
}

// List returns every stored account. The table is expected to stay small;
// role filtering happens in memory at the service layer.
func (r *AccountRepository) List(ctx context.Context) ([]types.Account, error) {
	const query = `
		SELECT id, email, first_name, last_name, username, roles, created_at
		FROM accounts`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []types.Account{}
	for rows.Next() {
		var account types.Account
		if err := rows.Scan(
			&account.ID,
			&account.Email,
			&account.FirstName,
			&account.LastName,
			&account.Username,
			&account.Roles,
			&account.CreatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// Save upserts the account keyed by id. On conflict every mutable attribute
// is overwritten; created_at keeps the value from the first insert.
func (r *AccountRepository) Save(ctx context.Context, account types.Account) (types.Account, error) {
	const query = `
		INSERT INTO accounts (id, email, first_name, last_name, username, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			username = EXCLUDED.username,
			roles = EXCLUDED.roles
		RETURNING created_at`
	if err := r.q.QueryRowContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.FirstName,
		account.LastName,
		account.Username,
		account.Roles,
		account.CreatedAt,
	).Scan(&account.CreatedAt); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) scanOne(row *sql.Row) (types.Account, error) {
	var account types.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FirstName,
		&account.LastName,
		&account.Username,
		&account.Roles,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}
