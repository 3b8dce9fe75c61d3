package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/expense-tracker/apiserver/types"
	"github.com/google/uuid"
)

// ExpenseRepository handles persistence for expenses. Every lookup that
// targets a single expense matches on both id and owner in one statement,
// so a missing row and another user's row are indistinguishable.
type ExpenseRepository struct {
	db DBTX
}

func NewExpenseRepository(db DBTX) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `id, description, amount, user_id, receipt_key, created_at, updated_at`

func (r *ExpenseRepository) ListByOwner(ctx context.Context, userID uuid.UUID) ([]types.Expense, error) {
	const query = `
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE user_id = $1
		ORDER BY created_at, id`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]types.Expense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, expense)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return expenses, nil
}

func (r *ExpenseRepository) GetOwned(ctx context.Context, id, userID uuid.UUID) (types.Expense, error) {
	const query = `
		SELECT ` + expenseColumns + `
		FROM expenses
		WHERE id = $1 AND user_id = $2`
	return r.queryOne(ctx, query, id, userID)
}

// Create inserts the expense, assigning its ID and timestamps.
func (r *ExpenseRepository) Create(ctx context.Context, expense types.Expense) (types.Expense, error) {
	now := time.Now().UTC()
	expense.ID = uuid.New()
	expense.CreatedAt = now
	expense.UpdatedAt = now

	const query = `
		INSERT INTO expenses (id, description, amount, user_id, receipt_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := querier(ctx, r.db).ExecContext(
		ctx,
		query,
		expense.ID,
		expense.Description,
		expense.Amount,
		expense.UserID,
		expense.ReceiptKey,
		expense.CreatedAt,
		expense.UpdatedAt,
	); err != nil {
		return types.Expense{}, err
	}

	return expense, nil
}

// UpdateOwned overwrites description and amount of the expense identified
// by expense.ID and owned by expense.UserID.
func (r *ExpenseRepository) UpdateOwned(ctx context.Context, expense types.Expense) (types.Expense, error) {
	const query = `
		UPDATE expenses
		SET description = $1,
			amount = $2,
			updated_at = $3
		WHERE id = $4 AND user_id = $5
		RETURNING ` + expenseColumns
	return r.queryOne(
		ctx,
		query,
		expense.Description,
		expense.Amount,
		time.Now().UTC(),
		expense.ID,
		expense.UserID,
	)
}

// SetReceipt records the object key of the expense's receipt.
func (r *ExpenseRepository) SetReceipt(ctx context.Context, id, userID uuid.UUID, key string) (types.Expense, error) {
	const query = `
		UPDATE expenses
		SET receipt_key = $1,
			updated_at = $2
		WHERE id = $3 AND user_id = $4
		RETURNING ` + expenseColumns
	return r.queryOne(ctx, query, key, time.Now().UTC(), id, userID)
}

// DeleteOwned removes the expense and returns the row as it was.
func (r *ExpenseRepository) DeleteOwned(ctx context.Context, id, userID uuid.UUID) (types.Expense, error) {
	const query = `
		DELETE FROM expenses
		WHERE id = $1 AND user_id = $2
		RETURNING ` + expenseColumns
	return r.queryOne(ctx, query, id, userID)
}

func (r *ExpenseRepository) queryOne(ctx context.Context, query string, args ...any) (types.Expense, error) {
	expense, err := scanExpense(querier(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Expense{}, ErrNotFound
		}
		return types.Expense{}, err
	}
	return expense, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (types.Expense, error) {
	var expense types.Expense
	err := row.Scan(
		&expense.ID,
		&expense.Description,
		&expense.Amount,
		&expense.UserID,
		&expense.ReceiptKey,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	)
	return expense, err
}
