package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"fsanano/marketplace/internal/model"
)

const (
	balancesFile     = "balances.txt"
	transactionsFile = "transactions.txt"
)

// Ledger holds wallet balances and the append-only transaction log.
// Every method is its own critical section; none spans balances and transactions.
type Ledger interface {
	Balance(ctx context.Context, username string) (decimal.Decimal, error)
	// Adjust applies delta to the balance, creating the row when absent, and returns the new balance.
	Adjust(ctx context.Context, username string, delta decimal.Decimal) (decimal.Decimal, error)
	// Debit subtracts amount only if the balance covers it. On ErrInsufficientFunds the
	// current balance is returned and nothing changes.
	Debit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error)
	RemoveBalance(ctx context.Context, username string) error
	AppendTransaction(ctx context.Context, tx model.Transaction) error
	// Transactions returns, in append order, the transactions username sent or received.
	Transactions(ctx context.Context, username string) ([]model.Transaction, error)
}

// FileLedger stores balances as username:amount lines and transactions as
// from|to|amount|note|timestamp lines.
type FileLedger struct {
	balances     *lineFile
	transactions *lineFile
}

var _ Ledger = (*FileLedger)(nil)

func NewFileLedger(dataDir string) *FileLedger {
	return &FileLedger{
		balances:     newLineFile(filepath.Join(dataDir, balancesFile)),
		transactions: newLineFile(filepath.Join(dataDir, transactionsFile)),
	}
}

func parseBalance(line string) (string, decimal.Decimal, bool) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 {
		return "", decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", decimal.Zero, false
	}
	return parts[0], amount, true
}

func balanceLine(username string, amount decimal.Decimal) string {
	return username + ":" + amount.String()
}

func findBalance(lines []string, username string) (int, decimal.Decimal) {
	for i, line := range lines {
		user, amount, ok := parseBalance(line)
		if ok && user == username {
			return i, amount
		}
	}
	return -1, decimal.Zero
}

// Balance defaults to zero for users without a row.
func (l *FileLedger) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	lines, err := l.balances.read()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	_, amount := findBalance(lines, username)
	return amount, nil
}

func (l *FileLedger) Adjust(ctx context.Context, username string, delta decimal.Decimal) (decimal.Decimal, error) {
	return l.update(ctx, username, func(current decimal.Decimal) (decimal.Decimal, error) {
		return current.Add(delta), nil
	})
}

func (l *FileLedger) Debit(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.update(ctx, username, func(current decimal.Decimal) (decimal.Decimal, error) {
		if current.LessThan(amount) {
			return current, ErrInsufficientFunds
		}
		return current.Sub(amount), nil
	})
}

// update runs one read-modify-rewrite of the balances collection under its lock.
func (l *FileLedger) update(ctx context.Context, username string, apply func(decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	l.balances.mu.Lock()
	defer l.balances.mu.Unlock()

	lines, err := l.balances.readLocked()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	idx, current := findBalance(lines, username)
	updated, err := apply(current)
	if err != nil {
		return updated, err
	}
	if idx >= 0 {
		lines[idx] = balanceLine(username, updated)
	} else {
		lines = append(lines, balanceLine(username, updated))
	}
	if err := l.balances.rewriteLocked(lines); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update balance: %w", err)
	}
	return updated, nil
}

func (l *FileLedger) RemoveBalance(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return removeMatching(l.balances, func(line string) bool {
		user, _, ok := parseBalance(line)
		return ok && user == username
	})
}

func (l *FileLedger) AppendTransaction(ctx context.Context, tx model.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.transactions.append(tx.Line()); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (l *FileLedger) Transactions(ctx context.Context, username string) ([]model.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, err := l.transactions.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	var out []model.Transaction
	for _, line := range lines {
		tx, err := model.ParseTransaction(line)
		if err != nil {
			continue
		}
		if tx.Involves(username) {
			out = append(out, tx)
		}
	}
	return out, nil
}
