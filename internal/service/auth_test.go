package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/kanban-keeper/internal/crypto"
	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/limiter"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/repository"
)

var cheapHasher = pkgcrypto.Hasher{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32}

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.Conflict("username already taken")
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.NotFound("user")
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.NotFound("user")
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func newUser(t *testing.T, name, password string) *model.User {
	t.Helper()
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	return &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: name,
		SaltAuth: salt,
		PwdHash:  cheapHasher.Hash([]byte(password), salt),
	}
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := NewAuthService(users, []byte("k"), time.Minute, &fakeLimiter{}, nil).WithHasher(cheapHasher)

	_, err := s.Register(context.Background(), " ", "short")
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on empty username/short password, got %v", err)
	}
	if n := len(errs.As(err).Issues); n != 2 {
		t.Fatalf("want 2 issues, got %d", n)
	}

	id, err := s.Register(context.Background(), " alice ", "password1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}
	stored := users.byName["alice"]
	if stored == nil || len(stored.SaltAuth) != pkgcrypto.SaltLen {
		t.Fatalf("user not stored with salt: %+v", stored)
	}
	if !cheapHasher.Verify([]byte("password1"), stored.SaltAuth, stored.PwdHash) {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := s.Register(context.Background(), "alice", "password2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "bob", "password1"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	u := newUser(t, "alice", "correct-horse")
	users := &fakeUsers{byName: map[string]*model.User{"alice": u}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, []byte("secret"), 2*time.Minute, lim, nil).WithHasher(cheapHasher)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct-horse", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct-horse", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.LoginWithIP(ctx, "nope", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, _, err := s.LoginWithIP(ctx, "alice", "correct-horse", ""); errors.Is(err, errs.ErrUnauthorized) || err == nil {
		t.Fatalf("want storage error propagate, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.LoginWithIP(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.LoginWithIP(ctx, "alice", "correct-horse", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_ParseToken(t *testing.T) {
	t.Parallel()

	u := newUser(t, "bob", "password1")
	users := &fakeUsers{byName: map[string]*model.User{"bob": u}}
	s := NewAuthService(users, []byte("k"), time.Minute, &fakeLimiter{allowOK: true}, nil).WithHasher(cheapHasher)

	tk, _, err := s.LoginWithIP(context.Background(), "bob", "password1", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, err := s.ParseToken(tk.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got != u.ID {
		t.Fatalf("subject = %s, want %s", got, u.ID)
	}

	other := NewAuthService(users, []byte("other-key"), time.Minute, &fakeLimiter{}, nil)
	if _, err := other.ParseToken(tk.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on foreign signature, got %v", err)
	}

	expired := NewAuthService(users, []byte("k"), -time.Minute, &fakeLimiter{}, nil)
	old, _, err := expired.issueAccessToken(u.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.ParseToken(old); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on expired token, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: u.ID.String()})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := s.ParseToken(unsigned); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on alg none, got %v", err)
	}
}
