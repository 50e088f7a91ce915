package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newPG(t *testing.T, p Policy) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPG(mock, p), mock
}

func TestPG_Allow(t *testing.T) {
	hash := HashIP("10.0.0.1:5555")
	cases := []struct {
		name    string
		row     *time.Time
		err     error
		allowed bool
		wantErr bool
	}{
		{name: "no row", err: pgx.ErrNoRows, allowed: true},
		{name: "blocked", row: ptr(time.Now().Add(10 * time.Minute))},
		{name: "expired block", row: ptr(time.Now().Add(-time.Minute)), allowed: true},
		{name: "db error", err: errors.New("db boom"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, mock := newPG(t, Policy{})
			exp := mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter WHERE username=\$1 AND ip_hash=\$2`).
				WithArgs("alice", hash)
			if tc.err != nil {
				exp.WillReturnError(tc.err)
			} else {
				exp.WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(*tc.row))
			}

			ok, wait, err := l.Allow(context.Background(), "alice", hash)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.allowed, ok)
			if !ok {
				require.Greater(t, wait, time.Duration(0))
			}
		})
	}
}

func TestPG_Failure_BelowThreshold(t *testing.T) {
	l, mock := newPG(t, Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: time.Minute})
	mock.ExpectQuery(`INSERT INTO auth_limiter .* RETURNING fail_count`).
		WithArgs("alice", []byte("h"), 5*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))

	blocked, wait, err := l.Failure(context.Background(), "alice", []byte("h"))
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, wait)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure_BlocksAtThreshold(t *testing.T) {
	l, mock := newPG(t, Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute})
	mock.ExpectQuery(`INSERT INTO auth_limiter .* RETURNING fail_count`).
		WithArgs("alice", []byte("h"), 5*time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE auth_limiter SET blocked_until=\$3 WHERE username=\$1 AND ip_hash=\$2`).
		WithArgs("alice", []byte("h"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	blocked, wait, err := l.Failure(context.Background(), "alice", []byte("h"))
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, wait)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Success_ResetsCounters(t *testing.T) {
	l, mock := newPG(t, Policy{})
	mock.ExpectExec(`INSERT INTO auth_limiter .* DO UPDATE SET fail_count=0`).
		WithArgs("alice", []byte("h")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), "alice", []byte("h")))
}

func TestHashIP_IgnoresPort(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:9999")
	c := HashIP("5.6.7.8:123")
	require.Len(t, a, 32)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, HashIP("1.2.3.4"), a)
}

func ptr[T any](v T) *T { return &v }
