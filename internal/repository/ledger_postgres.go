package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fsanano/marketplace/internal/model"
)

// PostgresLedger keeps balances and transactions in Postgres when DATABASE_URL is configured.
type PostgresLedger struct {
	db *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS balances (
	username TEXT PRIMARY KEY,
	amount   NUMERIC NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS transactions (
	id         BIGSERIAL PRIMARY KEY,
	sender     TEXT NOT NULL,
	receiver   TEXT NOT NULL,
	amount     NUMERIC NOT NULL,
	note       TEXT NOT NULL,
	created_at BIGINT NOT NULL
);`

// Migrate creates the ledger tables if they are missing.
func (r *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("failed to migrate ledger schema: %w", err)
	}
	return nil
}

// RunAtomic executes a function within a transaction
func (r *PostgresLedger) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// no-op after a successful commit
	defer tx.Rollback(ctx)

	ctx = context.WithValue(ctx, txKey{}, tx)

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type txKey struct{}

func (r *PostgresLedger) getExecutor(ctx context.Context) PgxExecutor {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.db
}

// PgxExecutor is an interface that matches both *pgx.Conn/Pool and pgx.Tx
type PgxExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanDecimal(row pgx.Row) (decimal.Decimal, error) {
	var text string
	if err := row.Scan(&text); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(text)
}

// Balance returns zero for users without a row.
func (r *PostgresLedger) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	amount, err := scanDecimal(r.getExecutor(ctx).QueryRow(ctx, "SELECT amount::text FROM balances WHERE username = $1", username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount, nil
}

// getBalanceForUpdate locks the balance row and returns its amount
func (r *PostgresLedger) getBalanceForUpdate(ctx context.Context, username string) (decimal.Decimal, error) {
	amount, err := scanDecimal(r.getExecutor(ctx).QueryRow(ctx, "SELECT amount::text FROM balances WHERE username = $1 FOR UPDATE", username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount, nil
}

func (r *PostgresLedger) Adjust(ctx context.Context, username string, delta decimal.Decimal) (decimal.Decimal, error) {
	amount, err := scanDecimal(r.getExecutor(ctx).QueryRow(ctx, `
		INSERT INTO balances (username, amount) VALUES ($1, $2::numeric)
		ON CONFLICT (username) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
		RETURNING amount::text`, username, delta.String()))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return amount, nil
}

func (r *PostgresLedger) Debit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	var result decimal.Decimal
	err := r.RunAtomic(ctx, func(ctx context.Context) error {
		// 1. Lock the row and read the balance
		current, err := r.getBalanceForUpdate(ctx, username)
		if err != nil {
			return err
		}

		// 2. Check funds
		if current.LessThan(amount) {
			result = current
			return ErrInsufficientFunds
		}

		// 3. Debit
		result, err = scanDecimal(r.getExecutor(ctx).QueryRow(ctx,
			"UPDATE balances SET amount = amount - $2::numeric WHERE username = $1 RETURNING amount::text",
			username, amount.String()))
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		return nil
	})
	return result, err
}

func (r *PostgresLedger) RemoveBalance(ctx context.Context, username string) error {
	if _, err := r.getExecutor(ctx).Exec(ctx, "DELETE FROM balances WHERE username = $1", username); err != nil {
		return fmt.Errorf("failed to remove balance: %w", err)
	}
	return nil
}

func (r *PostgresLedger) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	_, err := r.getExecutor(ctx).Exec(ctx,
		"INSERT INTO transactions (sender, receiver, amount, note, created_at) VALUES ($1, $2, $3::numeric, $4, $5)",
		tx.From, tx.To, tx.Amount.String(), tx.Note, tx.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (r *PostgresLedger) Transactions(ctx context.Context, username string) ([]model.Transaction, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, `
		SELECT sender, receiver, amount::text, note, created_at
		FROM transactions WHERE sender = $1 OR receiver = $1 ORDER BY id`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var (
			tx     model.Transaction
			amount string
		)
		if err := rows.Scan(&tx.From, &tx.To, &amount, &tx.Note, &tx.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse transaction amount: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return out, nil
}
