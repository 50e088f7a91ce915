package postgres

import (
	"context"
	"errors"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, pwd_hash, salt_auth)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Username, u.PwdHash, u.SaltAuth)
	if isUniqueViolation(err) {
		return errs.Conflict("username already taken")
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM users WHERE id=$1`
	return r.scanOne(ctx, q, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM users WHERE username=$1`
	return r.scanOne(ctx, q, username)
}

func (r *UserRepo) scanOne(ctx context.Context, q string, arg any) (*model.User, error) {
	row := r.db.Pool.QueryRow(ctx, q, arg)
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PwdHash, &u.SaltAuth, &u.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, notFound(err, "user")
	}
	return &u, nil
}
