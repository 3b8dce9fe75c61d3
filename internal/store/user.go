package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/expense-tracker/apiserver/types"
	"github.com/google/uuid"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `
		SELECT id, username, password_hash, is_active, created_at
		FROM users
		WHERE username = $1`
	var user types.User
	err := querier(ctx, r.db).QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// Create inserts the user, assigning its ID and creation time.
// A taken username yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = uuid.New()
	user.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO users (id, username, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := querier(ctx, r.db).ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.IsActive,
		user.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) SetActive(ctx context.Context, username string, active bool) error {
	const query = `UPDATE users SET is_active = $1 WHERE username = $2`
	result, err := querier(ctx, r.db).ExecContext(ctx, query, active, username)
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
