package utils // package utils provides the password hasher and the token codec

import (
	"crypto/sha256" // SHA-256 hashing for refresh tokens at rest
	"encoding/hex"
	"errors"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/iliyamo/realtime-auth/internal/apperr"
)

// Identity is the caller-controlled part of a token payload. It has no
// time fields, so whoever asks for a token cannot influence its expiry.
type Identity struct {
	UserID string
	Email  string
}

// Claims is the decoded payload of an access or refresh token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RotateClaims drops exp, iat and jti from decoded claims, returning
// the identity to sign into the next token pair.
func RotateClaims(c *Claims) Identity {
	return Identity{UserID: c.UserID, Email: c.Email}
}

// TokenConfig carries the secret material and lifetimes for a codec.
// Expirations use the <integer><unit> grammar with unit one of s, m, h, d.
type TokenConfig struct {
	AccessSecret      string
	RefreshSecret     string
	AccessExpiration  string
	RefreshExpiration string
}

// TokenCodec signs and verifies access and refresh tokens. Access and
// refresh tokens use distinct secrets, so one kind never validates as
// the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// CodecOption customises a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

var expiryPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseExpiry parses strings such as "15m" or "7d". Anything else,
// including a zero amount, fails with apperr.ErrConfig.
func ParseExpiry(s string) (time.Duration, error) {
	m := expiryPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, oops.Code("CONFIG_EXPIRY_FORMAT").With("value", s).
			Wrapf(apperr.ErrConfig, "invalid expiration format %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, oops.Code("CONFIG_EXPIRY_FORMAT").With("value", s).
			Wrapf(apperr.ErrConfig, "invalid expiration amount %q", s)
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, oops.Code("CONFIG_EXPIRY_RANGE").With("value", s).
			Wrapf(apperr.ErrConfig, "expiration %q out of range", s)
	}
	return time.Duration(n) * unit, nil
}

// NewTokenCodec validates cfg and builds a codec.
func NewTokenCodec(cfg TokenConfig, opts ...CodecOption) (*TokenCodec, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, oops.Code("CONFIG_SECRET_MISSING").Wrapf(apperr.ErrConfig, "token secrets must be set")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, oops.Code("CONFIG_SECRET_REUSED").Wrapf(apperr.ErrConfig, "access and refresh secrets must differ")
	}
	accessTTL, err := ParseExpiry(cfg.AccessExpiration)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := ParseExpiry(cfg.RefreshExpiration)
	if err != nil {
		return nil, err
	}
	c := &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken signs a short-lived HS256 token for id.
func (c *TokenCodec) IssueAccessToken(id Identity) (string, error) {
	return c.issue(id, c.accessSecret, c.accessTTL)
}

// IssueRefreshToken signs a long-lived HS256 token for id.
func (c *TokenCodec) IssueRefreshToken(id Identity) (string, error) {
	return c.issue(id, c.refreshSecret, c.refreshTTL)
}

// VerifyAccessToken checks signature and expiry of an access token.
func (c *TokenCodec) VerifyAccessToken(token string) (*Claims, error) {
	return c.verify(token, c.accessSecret, "access")
}

// VerifyRefreshToken checks signature and expiry of a refresh token.
func (c *TokenCodec) VerifyRefreshToken(token string) (*Claims, error) {
	return c.verify(token, c.refreshSecret, "refresh")
}

// RefreshTokenExpirationDate returns the absolute expiry to persist
// alongside a refresh token issued now.
func (c *TokenCodec) RefreshTokenExpirationDate() time.Time {
	return c.now().UTC().Add(c.refreshTTL)
}

func (c *TokenCodec) issue(id Identity, secret []byte, ttl time.Duration) (string, error) {
	now := c.now().UTC()
	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			ID:        uuid.NewString(), // two tokens minted in the same second still differ
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

func (c *TokenCodec) verify(token string, secret []byte, kind string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, oops.Code("TOKEN_EXPIRED").With("kind", kind).Wrap(apperr.ErrExpiredToken)
	case err != nil:
		return nil, oops.Code("TOKEN_INVALID").With("kind", kind).With("reason", err.Error()).Wrap(apperr.ErrInvalidToken)
	case !tok.Valid || claims.UserID == "":
		return nil, oops.Code("TOKEN_INVALID").With("kind", kind).Wrap(apperr.ErrInvalidToken)
	}
	return claims, nil
}

// HashRefreshToken returns the SHA-256 hash of a refresh token as a hex
// string. Only this hash is stored, so a leaked table cannot be replayed.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
