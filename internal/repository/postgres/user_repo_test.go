package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "u",
		PwdHash:  []byte("h"),
		SaltAuth: []byte("s"),
	}

	mock.ExpectExec(`INSERT INTO users \(id, username, pwd_hash, salt_auth\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(u.ID, u.Username, u.PwdHash, u.SaltAuth).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, u))

	mock.ExpectExec(`INSERT INTO users \(id, username, pwd_hash, salt_auth\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(u.ID, u.Username, u.PwdHash, u.SaltAuth).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
	err := r.Create(ctx, u)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt_auth, created_at FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "pwd_hash", "salt_auth", "created_at"}).
			AddRow(id, "u", []byte("h"), []byte("s"), time.Now()))
	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt_auth, created_at FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	name := "u2"
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt_auth, created_at FROM users WHERE username=\$1`).
		WithArgs(name).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "pwd_hash", "salt_auth", "created_at"}).
			AddRow(id, name, []byte("h"), []byte("s"), time.Now()))
	u, err := r.GetByUsername(ctx, name)
	require.NoError(t, err)
	require.Equal(t, name, u.Username)

	mock.ExpectQuery(`SELECT id, username, pwd_hash, salt_auth, created_at FROM users WHERE username=\$1`).
		WithArgs(name).
		WillReturnError(context.Canceled)
	_, err = r.GetByUsername(ctx, name)
	require.ErrorIs(t, err, context.Canceled)
}
