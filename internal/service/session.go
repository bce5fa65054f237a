package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/repository"
	"github.com/iliyamo/walkin-queue/internal/utils"
)

// Identity is the authenticated operator of a request.
type Identity struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type identityKey struct{}

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Session is the pair of tokens handed to a client.
type Session struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Identity         Identity  `json:"user"`
}

// SessionManager creates, refreshes and invalidates sessions.  Access
// tokens are stateless JWTs; refresh tokens are stored hashed and rotated
// on every refresh.
type SessionManager struct {
	users      UserStore
	tokens     TokenStore
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewSessionManager builds a SessionManager.
func NewSessionManager(users UserStore, tokens TokenStore, secret string, accessTTL, refreshTTL time.Duration) *SessionManager {
	return &SessionManager{
		users:      users,
		tokens:     tokens,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (s *SessionManager) issue(ctx context.Context, u model.User) (Session, error) {
	now := s.now()
	at, err := utils.NewAccessToken(s.secret, u.ID, u.Role, u.Username, s.accessTTL, now)
	if err != nil {
		return Session{}, err
	}
	rt, err := utils.NewRefreshToken(s.refreshTTL, now)
	if err != nil {
		return Session{}, err
	}
	if err := s.tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(rt.Raw), rt.Exp); err != nil {
		return Session{}, unavailable("store refresh token", err)
	}
	return Session{
		AccessToken:      at.Token,
		AccessExpiresAt:  at.Exp,
		RefreshToken:     rt.Raw,
		RefreshExpiresAt: rt.Exp,
		Identity:         Identity{UserID: u.ID, Username: u.Username, Role: u.Role},
	}, nil
}

// Create logs a user in.  Unknown users, inactive users and wrong
// passwords all yield ErrInvalidCredentials.
func (s *SessionManager) Create(ctx context.Context, username, password string) (Session, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, unavailable("load user", err)
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new session is issued.  A token that lost the race to a concurrent
// refresh is rejected.
func (s *SessionManager) Refresh(ctx context.Context, rawRefresh string) (Session, error) {
	hash := utils.HashRefreshRaw(rawRefresh)
	userID, err := s.tokens.ValidateRefresh(ctx, hash, s.now())
	if errors.Is(err, repository.ErrTokenInvalid) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, unavailable("validate refresh token", err)
	}
	revoked, err := s.tokens.RevokeByHash(ctx, hash)
	if err != nil {
		return Session{}, unavailable("revoke refresh token", err)
	}
	if !revoked {
		return Session{}, ErrInvalidCredentials
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, unavailable("load user", err)
	}
	if !u.IsActive {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

// Invalidate revokes one refresh token.  Unknown or already revoked tokens
// are not an error.
func (s *SessionManager) Invalidate(ctx context.Context, rawRefresh string) error {
	_, err := s.tokens.RevokeByHash(ctx, utils.HashRefreshRaw(rawRefresh))
	return unavailable("revoke refresh token", err)
}

// InvalidateAll revokes every refresh token of a user, e.g. after a
// password change or deactivation.
func (s *SessionManager) InvalidateAll(ctx context.Context, userID uint64) error {
	return unavailable("revoke refresh tokens", s.tokens.RevokeAllForUser(ctx, userID))
}

// Authenticate verifies an access token and returns its identity.
func (s *SessionManager) Authenticate(rawAccess string) (Identity, error) {
	claims, err := utils.ParseAccessToken(s.secret, rawAccess)
	if err != nil {
		return Identity{}, err
	}
	id, err := claims.UserID()
	if err != nil {
		return Identity{}, utils.ErrInvalidToken
	}
	return Identity{UserID: id, Username: claims.Name, Role: claims.Role}, nil
}
