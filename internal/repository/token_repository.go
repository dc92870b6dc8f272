package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/realtime-auth/internal/model"
)

// TokenRepo persists refresh tokens by their SHA-256 hash.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Store inserts a refresh token hash row.
func (r *TokenRepo) Store(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	return storeRefresh(ctx, r.DB, userID, tokenHash, exp)
}

// ReplaceForUser deletes every refresh token owned by userID and stores
// the new one in the same transaction, leaving exactly one active token.
func (r *TokenRepo) ReplaceForUser(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	return WithTx(ctx, r.DB, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id=?", userID); err != nil {
			return translate("delete user refresh tokens", err)
		}
		return storeRefresh(ctx, tx, userID, tokenHash, exp)
	})
}

// FindByHash returns the stored row for tokenHash, or apperr.ErrNotFound.
func (r *TokenRepo) FindByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	return t, translate("find refresh token", err)
}

// DeleteByHash removes the row for tokenHash and reports whether this
// call deleted it. Concurrent callers racing on the same hash see exactly
// one true.
func (r *TokenRepo) DeleteByHash(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE token_hash=?", tokenHash)
	if err != nil {
		return false, translate("delete refresh token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate("delete refresh token", err)
	}
	return n > 0, nil
}

// DeleteByUser removes every refresh token owned by userID.
func (r *TokenRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id=?", userID)
	if err != nil {
		return 0, translate("delete user refresh tokens", err)
	}
	n, err := res.RowsAffected()
	return n, translate("delete user refresh tokens", err)
}

// DeleteExpired purges rows whose expiry is at or before now.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, translate("delete expired refresh tokens", err)
	}
	n, err := res.RowsAffected()
	return n, translate("delete expired refresh tokens", err)
}

func storeRefresh(ctx context.Context, db DBTX, userID, tokenHash string, exp time.Time) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)",
		userID, tokenHash, exp.UTC(), time.Now().UTC())
	return translate("store refresh token", err)
}
