package model

import "time"

// User represents an account record as stored in the `users` table.
// The json tags are omitted because handlers project users into their
// own response types and must never serialise PasswordHash.
//
// Fields:
//
//	ID          : UUID primary key.
//	Email       : unique address, stored lower-cased.
//	Name        : display name, searchable case-insensitively.
//	PasswordHash: bcrypt hash of the password.
//	CreatedAt   : timestamp of creation.
//	UpdatedAt   : timestamp of last update.
type User struct {
	ID           string    // users.id
	Email        string    // users.email
	Name         string    // users.name
	PasswordHash string    // users.password_hash
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table. The raw
// token is handed to the client once and never stored; only its SHA-256
// hash is kept. Rows are deleted on rotation, logout and expiry
// detection, and cascade with their user.
//
// Fields:
//
//	ID       : primary key identifier.
//	UserID   : owner of the token.
//	TokenHash: SHA-256 hex digest of the token value.
//	ExpiresAt: store-side expiration, authoritative over the JWT exp.
//	CreatedAt: timestamp of creation.
type RefreshToken struct {
	ID        uint64    // refresh_tokens.id
	UserID    string    // refresh_tokens.user_id
	TokenHash string    // refresh_tokens.token_hash
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
