package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/remote-mirror/backend/internal/db"
	"github.com/remote-mirror/backend/internal/model"
)

// UserRepository provides data access for registered users.
type UserRepository struct {
	db *db.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(database *db.DB) *UserRepository {
	return &UserRepository{db: database}
}

// Create inserts a new user. The insert is a single statement, so a failed
// registration never leaves a partial record behind.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := r.db.Rebind(`
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		string(user.ID),
		user.Username,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.ErrDuplicateUsername
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := r.db.Rebind(`
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`)

	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id model.UserID) (*model.User, error) {
	query := r.db.Rebind(`
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`)

	return r.scanOne(r.db.QueryRowContext(ctx, query, string(id)))
}

func (r *UserRepository) scanOne(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var id string

	err := row.Scan(&id, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.ID = model.UserID(id)

	return user, nil
}

// Exists checks if a username is taken.
func (r *UserRepository) Exists(ctx context.Context, username string) (bool, error) {
	query := r.db.Rebind(`SELECT 1 FROM users WHERE username = ? LIMIT 1`)

	var exists int
	err := r.db.QueryRowContext(ctx, query, username).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return true, nil
}
