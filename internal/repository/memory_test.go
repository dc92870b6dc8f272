package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/realtime-auth/internal/apperr"
	"github.com/iliyamo/realtime-auth/internal/model"
)

func TestMemoryUserRepo_Lifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryUserRepo()

	require.NoError(t, r.Create(ctx, model.User{ID: "u1", Email: "Ann@X.com", Name: "Ann"}))
	require.NoError(t, r.Create(ctx, model.User{ID: "u2", Email: "bob@x.com", Name: "Bob"}))
	assert.ErrorIs(t, r.Create(ctx, model.User{ID: "u3", Email: "ann@x.com"}), apperr.ErrConflict)

	u, err := r.GetByEmail(ctx, "ANN@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	found, err := r.SearchByName(ctx, "an")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Ann", found[0].Name)

	u.Email = "bob@x.com"
	assert.ErrorIs(t, r.Update(ctx, u), apperr.ErrConflict)
	u.Email = "anna@x.com"
	require.NoError(t, r.Update(ctx, u))
	_, err = r.GetByEmail(ctx, "ann@x.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, r.Delete(ctx, "u1"))
	assert.ErrorIs(t, r.Delete(ctx, "u1"), apperr.ErrNotFound)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryTokenRepo_ReplaceAndExpire(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTokenRepo()
	now := time.Now()

	require.NoError(t, r.Store(ctx, "u1", "h1", now.Add(time.Hour)))
	require.NoError(t, r.Store(ctx, "u1", "h2", now.Add(-time.Minute)))
	require.NoError(t, r.ReplaceForUser(ctx, "u1", "h3", now.Add(time.Hour)))
	assert.Equal(t, 1, r.Count("u1"))

	_, err := r.FindByHash(ctx, "h1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, r.Store(ctx, "u2", "h4", now.Add(-time.Second)))
	n, err := r.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryTokenRepo_ConcurrentDeleteHasOneWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryTokenRepo()
	require.NoError(t, r.Store(ctx, "u1", "h1", time.Now().Add(time.Hour)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := r.DeleteByHash(ctx, "h1"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
