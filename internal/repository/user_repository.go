package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/realtime-auth/internal/model"
)

const userColumns = "id,email,name,password_hash,created_at,updated_at"

// UserRepo is the MySQL credential store over the `users` table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts u. A duplicate email yields apperr.ErrConflict.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	now := time.Now().UTC()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, name, password_hash, created_at, updated_at) VALUES (?,?,?,?,?,?)",
		u.ID, NormalizeEmail(u.Email), u.Name, u.PasswordHash, now, now)
	return translate("create user", err)
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
	u, err := scanUser(row)
	return u, translate("get user by email", err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	u, err := scanUser(row)
	return u, translate("get user by id", err)
}

// List returns all users ordered by name.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY name, id")
	if err != nil {
		return nil, translate("list users", err)
	}
	return collectUsers(rows)
}

// SearchByName returns users whose display name contains name,
// case-insensitively. LIKE wildcards in name are matched literally.
func (r *UserRepo) SearchByName(ctx context.Context, name string) ([]model.User, error) {
	pattern := "%" + escapeLike(strings.ToLower(name)) + "%"
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE LOWER(name) LIKE ? ORDER BY name, id", pattern)
	if err != nil {
		return nil, translate("search users", err)
	}
	return collectUsers(rows)
}

// Update writes the mutable columns of u. Unknown ids yield
// apperr.ErrNotFound; taking another user's email yields apperr.ErrConflict.
// The DSN sets clientFoundRows so unchanged rows still count as affected.
func (r *UserRepo) Update(ctx context.Context, u model.User) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email=?, name=?, password_hash=?, updated_at=? WHERE id=?",
		NormalizeEmail(u.Email), u.Name, u.PasswordHash, time.Now().UTC(), u.ID)
	if err != nil {
		return translate("update user", err)
	}
	return requireRow("update user", res)
}

// Delete removes a user; refresh tokens cascade through the foreign key.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return translate("delete user", err)
	}
	return requireRow("delete user", res)
}

func requireRow(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(op, err)
	}
	if n == 0 {
		return translate(op, sql.ErrNoRows)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (model.User, error) {
	var u model.User
	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func collectUsers(rows *sql.Rows) ([]model.User, error) {
	defer rows.Close()
	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translate("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate users", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
