package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/kanban-keeper/internal/crypto"
	"github.com/and161185/kanban-keeper/internal/errs"
	"github.com/and161185/kanban-keeper/internal/limiter"
	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/repository"
)

// Credential bounds.
const (
	maxUsernameLen = 64
	minPasswordLen = 8
)

// AuthService defines account operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, password string) (uuid.UUID, error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	// ParseToken verifies an access token and returns its subject.
	ParseToken(token string) (uuid.UUID, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	hasher    pkgcrypto.Hasher
	log       *zap.Logger
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *AuthServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthServiceImpl{
		users:     users,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		hasher:    pkgcrypto.DefaultHasher,
		log:       log,
	}
}

// WithHasher overrides the password hashing cost.
func (s *AuthServiceImpl) WithHasher(h pkgcrypto.Hasher) *AuthServiceImpl {
	s.hasher = h
	return s
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	username = cleanText(username)
	var issues []errs.Issue
	if is := checkText(username, "username", 1, maxUsernameLen); is != nil {
		issues = append(issues, *is)
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		issues = append(issues, errs.Issue{Path: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLen)})
	}
	if len(issues) > 0 {
		return uuid.Nil, errs.Validation("invalid credentials", issues...)
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  s.hasher.Hash([]byte(password), salt),
		SaltAuth: salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("user registered", zap.Stringer("user", uid))
	return uid, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	username = cleanText(username)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !s.hasher.Verify([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			s.log.Warn("login locked", zap.String("username", username))
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password are indistinguishable
		return model.Tokens{}, model.User{}, errs.Unauthorized("invalid username or password")
	}

	if err := s.lim.Success(ctx, username, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// ParseToken validates an HS256 access token and returns the user id.
func (s *AuthServiceImpl) ParseToken(token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.signKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return uuid.Nil, errs.Unauthorized("invalid token")
	}
	uid, err := uuid.FromString(claims.Subject)
	if err != nil || uid == uuid.Nil {
		return uuid.Nil, errs.Unauthorized("invalid token subject")
	}
	return uid, nil
}
