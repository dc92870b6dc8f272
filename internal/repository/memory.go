package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/model"
)

// MemoryUserRepo is an in-process credential store with the same
// semantics as UserRepo. It is safe for concurrent use.
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byEmail map[string]string
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{byID: map[string]model.User{}, byEmail: map[string]string{}}
}

func (r *MemoryUserRepo) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u.Email = NormalizeEmail(u.Email)
	if _, ok := r.byEmail[u.Email]; ok {
		return fmt.Errorf("create user: %w", apperr.ErrConflict)
	}
	if _, ok := r.byID[u.ID]; ok {
		return fmt.Errorf("create user: %w", apperr.ErrConflict)
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return model.User{}, fmt.Errorf("get user by email: %w", apperr.ErrNotFound)
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return model.User{}, fmt.Errorf("get user by id: %w", apperr.ErrNotFound)
	}
	return u, nil
}

func (r *MemoryUserRepo) List(_ context.Context) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(model.User) bool { return true }), nil
}

func (r *MemoryUserRepo) SearchByName(_ context.Context, name string) ([]model.User, error) {
	needle := strings.ToLower(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(u model.User) bool {
		return strings.Contains(strings.ToLower(u.Name), needle)
	}), nil
}

func (r *MemoryUserRepo) Update(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byID[u.ID]
	if !ok {
		return fmt.Errorf("update user: %w", apperr.ErrNotFound)
	}
	u.Email = NormalizeEmail(u.Email)
	if owner, taken := r.byEmail[u.Email]; taken && owner != u.ID {
		return fmt.Errorf("update user: %w", apperr.ErrConflict)
	}
	delete(r.byEmail, cur.Email)
	u.CreatedAt = cur.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("delete user: %w", apperr.ErrNotFound)
	}
	delete(r.byID, id)
	delete(r.byEmail, u.Email)
	return nil
}

// filter must be called with r.mu held.
func (r *MemoryUserRepo) filter(keep func(model.User) bool) []model.User {
	out := []model.User{}
	for _, u := range r.byID {
		if keep(u) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MemoryTokenRepo is an in-process refresh token store with the same
// semantics as TokenRepo, including the delete-as-success-gate contract.
type MemoryTokenRepo struct {
	mu     sync.Mutex
	nextID uint64
	byHash map[string]model.RefreshToken
}

func NewMemoryTokenRepo() *MemoryTokenRepo {
	return &MemoryTokenRepo{byHash: map[string]model.RefreshToken{}}
}

func (r *MemoryTokenRepo) Store(_ context.Context, userID, tokenHash string, exp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storeLocked(userID, tokenHash, exp)
}

func (r *MemoryTokenRepo) ReplaceForUser(_ context.Context, userID, tokenHash string, exp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteUserLocked(userID)
	return r.storeLocked(userID, tokenHash, exp)
}

func (r *MemoryTokenRepo) FindByHash(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byHash[tokenHash]
	if !ok {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", apperr.ErrNotFound)
	}
	return t, nil
}

func (r *MemoryTokenRepo) DeleteByHash(_ context.Context, tokenHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHash[tokenHash]; !ok {
		return false, nil
	}
	delete(r.byHash, tokenHash)
	return true, nil
}

func (r *MemoryTokenRepo) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteUserLocked(userID), nil
}

func (r *MemoryTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for h, t := range r.byHash {
		if t.Expired(now) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored tokens owned by userID.
func (r *MemoryTokenRepo) Count(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.byHash {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

func (r *MemoryTokenRepo) storeLocked(userID, tokenHash string, exp time.Time) error {
	if _, ok := r.byHash[tokenHash]; ok {
		return fmt.Errorf("store refresh token: %w", apperr.ErrConflict)
	}
	r.nextID++
	r.byHash[tokenHash] = model.RefreshToken{
		ID:        r.nextID,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: exp.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *MemoryTokenRepo) deleteUserLocked(userID string) int64 {
	var n int64
	for h, t := range r.byHash {
		if t.UserID == userID {
			delete(r.byHash, h)
			n++
		}
	}
	return n
}
