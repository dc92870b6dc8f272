// Package service holds the auth session manager: registration, login,
// refresh token rotation, logout and the self-service user directory.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/logging"
	"github.com/iliyamo/realtime-auth/internal/metrics"
	"github.com/iliyamo/realtime-auth/internal/model"
	"github.com/iliyamo/realtime-auth/internal/queue"
	"github.com/iliyamo/realtime-auth/internal/utils"
)

const (
	minPasswordLen = 8
	// bcrypt refuses longer inputs
	maxPasswordBytes = 72
	minNameLen       = 2
)

// UserStore is the credential store.
type UserStore interface {
	Create(ctx context.Context, u model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
	SearchByName(ctx context.Context, name string) ([]model.User, error)
	Update(ctx context.Context, u model.User) error
	Delete(ctx context.Context, id string) error
}

// RefreshTokenStore persists refresh token hashes.
type RefreshTokenStore interface {
	Store(ctx context.Context, userID, tokenHash string, exp time.Time) error
	ReplaceForUser(ctx context.Context, userID, tokenHash string, exp time.Time) error
	FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	DeleteByHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenIssuer is the part of the token codec the session manager needs.
type TokenIssuer interface {
	IssueAccessToken(id utils.Identity) (string, error)
	IssueRefreshToken(id utils.Identity) (string, error)
	VerifyRefreshToken(token string) (*utils.Claims, error)
	RefreshTokenExpirationDate() time.Time
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// UpdateInput carries optional profile changes; nil fields are left as is.
type UpdateInput struct {
	Email    *string
	Password *string
	Name     *string
}

// Deps bundles the collaborators of an AuthService. Events and Metrics
// may be nil.
type Deps struct {
	Users   UserStore
	Tokens  RefreshTokenStore
	Codec   TokenIssuer
	Hasher  utils.PasswordHasher
	Events  queue.Publisher
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// AuthService owns the token rotation policy: every successful login
// leaves the user with exactly one stored refresh token, and every refresh
// consumes the token that authorized it.
type AuthService struct {
	users   UserStore
	tokens  RefreshTokenStore
	codec   TokenIssuer
	hasher  utils.PasswordHasher
	events  queue.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewAuthService(d Deps) *AuthService {
	s := &AuthService{
		users:   d.Users,
		tokens:  d.Tokens,
		codec:   d.Codec,
		hasher:  d.Hasher,
		events:  d.Events,
		metrics: d.Metrics,
		logger:  d.Logger,
		now:     d.Now,
	}
	if s.events == nil {
		s.events = queue.NopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register validates and stores a new user. No tokens are issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (u model.User, err error) {
	defer func() { s.metrics.AuthOperation("register", err) }()

	email, err := validateEmail(in.Email)
	if err != nil {
		return model.User{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return model.User{}, err
	}
	name, err := validateName(in.Name)
	if err != nil {
		return model.User{}, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return model.User{}, oops.Code("AUTH_EMAIL_TAKEN").With("email", email).Wrap(apperr.ErrConflict)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return model.User{}, storeErr("lookup user", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.User{}, oops.Code("AUTH_HASH_FAILED").Wrap(err)
	}
	u = model.User{ID: uuid.NewString(), Email: email, Name: name, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return model.User{}, oops.Code("AUTH_EMAIL_TAKEN").With("email", email).Wrap(err)
		}
		return model.User{}, storeErr("create user", err)
	}

	s.publish(ctx, queue.EventUserRegistered, u.ID, u.Email)
	return u, nil
}

// Login checks credentials and replaces all of the user's refresh tokens
// with a freshly issued one.
func (s *AuthService) Login(ctx context.Context, email, password string) (pair TokenPair, err error) {
	defer func() { s.metrics.AuthOperation("login", err) }()

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return TokenPair{}, oops.Code("AUTH_UNKNOWN_EMAIL").Wrap(err)
		}
		return TokenPair{}, storeErr("lookup user", err)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return TokenPair{}, oops.Code("AUTH_BAD_PASSWORD").With("user_id", u.ID).Wrap(apperr.ErrInvalidCredentials)
	}

	pair, exp, err := s.issuePair(utils.Identity{UserID: u.ID, Email: u.Email})
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.ReplaceForUser(ctx, u.ID, utils.HashRefreshToken(pair.RefreshToken), exp); err != nil {
		return TokenPair{}, storeErr("replace refresh tokens", err)
	}

	s.publish(ctx, queue.EventSessionLogin, u.ID, u.Email)
	return pair, nil
}

// Refresh consumes oldRefresh and returns a new pair. Of several callers
// racing with the same token, only the one whose delete removes the row
// succeeds; the rest get apperr.ErrInvalidToken.
func (s *AuthService) Refresh(ctx context.Context, oldRefresh string) (pair TokenPair, err error) {
	defer func() { s.metrics.AuthOperation("refresh", err) }()

	claims, err := s.codec.VerifyRefreshToken(oldRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	id := utils.RotateClaims(claims)
	hash := utils.HashRefreshToken(oldRefresh)

	stored, err := s.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return TokenPair{}, oops.Code("AUTH_REFRESH_UNKNOWN").With("user_id", id.UserID).Wrap(apperr.ErrInvalidToken)
		}
		return TokenPair{}, storeErr("find refresh token", err)
	}
	if stored.Expired(s.now()) {
		if _, err := s.tokens.DeleteByHash(ctx, hash); err != nil {
			return TokenPair{}, storeErr("delete expired refresh token", err)
		}
		return TokenPair{}, oops.Code("AUTH_REFRESH_EXPIRED").With("user_id", id.UserID).Wrap(apperr.ErrExpiredToken)
	}

	// look the user up before consuming, so a failed lookup leaves the token usable
	u, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return TokenPair{}, oops.Code("AUTH_REFRESH_USER_GONE").With("user_id", id.UserID).Wrap(apperr.ErrInvalidToken)
		}
		return TokenPair{}, storeErr("lookup user", err)
	}
	id.Email = u.Email

	won, err := s.tokens.DeleteByHash(ctx, hash)
	if err != nil {
		return TokenPair{}, storeErr("consume refresh token", err)
	}
	if !won {
		return TokenPair{}, oops.Code("AUTH_REFRESH_CONSUMED").With("user_id", id.UserID).Wrap(apperr.ErrInvalidToken)
	}

	pair, exp, err := s.issuePair(id)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Store(ctx, id.UserID, utils.HashRefreshToken(pair.RefreshToken), exp); err != nil {
		return TokenPair{}, storeErr("store refresh token", err)
	}

	s.publish(ctx, queue.EventSessionRefreshed, id.UserID, id.Email)
	return pair, nil
}

// Logout deletes the stored refresh token. Unknown or already consumed
// tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refresh string) (err error) {
	defer func() { s.metrics.AuthOperation("logout", err) }()

	if strings.TrimSpace(refresh) == "" {
		return oops.Code("AUTH_REFRESH_REQUIRED").Wrap(apperr.ErrValidation)
	}
	deleted, err := s.tokens.DeleteByHash(ctx, utils.HashRefreshToken(refresh))
	if err != nil {
		return storeErr("delete refresh token", err)
	}
	if deleted {
		// the signature may have lapsed; the owner is only needed for the audit trail
		var userID, email string
		if c, err := s.codec.VerifyRefreshToken(refresh); err == nil {
			userID, email = c.UserID, c.Email
		}
		s.publish(ctx, queue.EventSessionLogout, userID, email)
	}
	return nil
}

// Me projects verified access token claims onto an identity.
func (s *AuthService) Me(claims *utils.Claims) utils.Identity {
	return utils.RotateClaims(claims)
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, storeErr("list users", err)
	}
	return users, nil
}

// SearchUsers matches display names case-insensitively.
func (s *AuthService) SearchUsers(ctx context.Context, name string) ([]model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, oops.Code("USER_SEARCH_EMPTY").Wrap(apperr.ErrValidation)
	}
	users, err := s.users.SearchByName(ctx, name)
	if err != nil {
		return nil, storeErr("search users", err)
	}
	return users, nil
}

// UpdateUser changes actorID's own profile.
func (s *AuthService) UpdateUser(ctx context.Context, actorID, id string, in UpdateInput) (u model.User, err error) {
	defer func() { s.metrics.AuthOperation("update_user", err) }()

	if actorID != id {
		return model.User{}, oops.Code("USER_NOT_OWNER").With("actor", actorID).With("target", id).Wrap(apperr.ErrForbidden)
	}
	u, err = s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return model.User{}, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(err)
		}
		return model.User{}, storeErr("lookup user", err)
	}

	if in.Email != nil {
		if u.Email, err = validateEmail(*in.Email); err != nil {
			return model.User{}, err
		}
	}
	if in.Name != nil {
		if u.Name, err = validateName(*in.Name); err != nil {
			return model.User{}, err
		}
	}
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return model.User{}, err
		}
		if u.PasswordHash, err = s.hasher.Hash(*in.Password); err != nil {
			return model.User{}, oops.Code("AUTH_HASH_FAILED").Wrap(err)
		}
	}

	if err := s.users.Update(ctx, u); err != nil {
		switch {
		case errors.Is(err, apperr.ErrConflict):
			return model.User{}, oops.Code("AUTH_EMAIL_TAKEN").With("email", u.Email).Wrap(err)
		case errors.Is(err, apperr.ErrNotFound):
			return model.User{}, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(err)
		}
		return model.User{}, storeErr("update user", err)
	}
	return u, nil
}

// DeleteUser removes actorID's own account and every refresh token it owns.
func (s *AuthService) DeleteUser(ctx context.Context, actorID, id string) (err error) {
	defer func() { s.metrics.AuthOperation("delete_user", err) }()

	if actorID != id {
		return oops.Code("USER_NOT_OWNER").With("actor", actorID).With("target", id).Wrap(apperr.ErrForbidden)
	}
	if _, err := s.tokens.DeleteByUser(ctx, id); err != nil {
		return storeErr("delete user refresh tokens", err)
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(err)
		}
		return storeErr("delete user", err)
	}

	s.publish(ctx, queue.EventUserDeleted, id, "")
	return nil
}

// PurgeExpired deletes stored refresh tokens whose expiry has passed.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, storeErr("purge expired refresh tokens", err)
	}
	s.metrics.Purged(n)
	return n, nil
}

// RunJanitor calls PurgeExpired every interval until ctx is cancelled.
func (s *AuthService) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logging.LogError(s.logger, "refresh token janitor failed", err)
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired refresh tokens", "count", n)
			}
		}
	}
}

func (s *AuthService) issuePair(id utils.Identity) (TokenPair, time.Time, error) {
	access, err := s.codec.IssueAccessToken(id)
	if err != nil {
		return TokenPair{}, time.Time{}, err
	}
	refresh, err := s.codec.IssueRefreshToken(id)
	if err != nil {
		return TokenPair{}, time.Time{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, s.codec.RefreshTokenExpirationDate(), nil
}

// publish never fails the caller; broker trouble is only logged.
func (s *AuthService) publish(ctx context.Context, typ, userID, email string) {
	if err := s.events.Publish(ctx, queue.NewSessionEvent(typ, userID, email)); err != nil {
		logging.LogError(s.logger, "publish session event", err, "type", typ, "user_id", userID)
	}
}

func storeErr(op string, err error) error {
	return oops.Code("AUTH_STORE_FAILED").With("op", op).Wrap(err)
}

func validateEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", oops.Code("INVALID_EMAIL").With("email", raw).Wrap(apperr.ErrValidation)
	}
	return email, nil
}

func validatePassword(p string) error {
	if utf8.RuneCountInString(p) < minPasswordLen {
		return oops.Code("PASSWORD_TOO_SHORT").With("min", minPasswordLen).Wrap(apperr.ErrValidation)
	}
	if len(p) > maxPasswordBytes {
		return oops.Code("PASSWORD_TOO_LONG").With("max_bytes", maxPasswordBytes).Wrap(apperr.ErrValidation)
	}
	return nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if utf8.RuneCountInString(name) < minNameLen {
		return "", oops.Code("NAME_TOO_SHORT").With("min", minNameLen).Wrap(apperr.ErrValidation)
	}
	return name, nil
}
