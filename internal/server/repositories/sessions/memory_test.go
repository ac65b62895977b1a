package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateEnforcesOneActivePerUser(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	require.NoError(t, r.Create(ctx, newSession()))

	second := newSession()
	second.ID, second.ProviderSessionID = "s2", "psid2"
	assert.ErrorIs(t, r.Create(ctx, second), common.ErrActiveSessionExists)

	// once the first one is terminal a new one is allowed
	_, ok, err := r.CASUpdate(ctx, "s1", 1, func(cur models.Session) (models.Session, error) {
		cur.Status = models.StatusCancelled
		return cur, nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, r.Create(ctx, second))
}

func TestMemory_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newSession()))

	s, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	s.Status = models.StatusFailed
	s.DocumentsRequested[0] = models.DocumentPassport

	again, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInitiated, again.Status)
	assert.Equal(t, models.DocumentAadhaar, again.DocumentsRequested[0])

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestMemory_Lookups(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	done := newSession()
	done.Status = models.StatusDocumentsFetched
	require.NoError(t, r.Create(ctx, done))

	active := newSession()
	active.ID, active.ProviderSessionID = "s2", "psid2"
	active.CreatedAt = tCreated.Add(time.Minute)
	require.NoError(t, r.Create(ctx, active))

	s, err := r.FindActiveByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)

	s, err = r.FindLatestByUserAndStatus(ctx, "u1", models.StatusDocumentsFetched)
	require.NoError(t, err)
	assert.Equal(t, "s1", s.ID)

	s, err = r.GetByProviderSessionID(ctx, "psid2")
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)

	_, err = r.FindActiveByUser(ctx, "other")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestMemory_ListExpired(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	for i, st := range []models.Status{models.StatusInitiated, models.StatusAuthorized, models.StatusFailed} {
		s := newSession()
		s.ID = string(rune('a' + i))
		s.UserID = s.ID
		s.ProviderSessionID = s.ID
		s.Status = st
		s.ExpiresAt = tExpires.Add(time.Duration(-i) * time.Minute)
		require.NoError(t, r.Create(ctx, s))
	}

	got, err := r.ListExpired(ctx, tExpires, 0)
	require.NoError(t, err)
	require.Len(t, got, 2, "terminal sessions are never listed")
	assert.Equal(t, "b", got[0].ID, "oldest deadline first")

	got, err = r.ListExpired(ctx, tExpires, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.ListExpired(ctx, tExpires.Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory_CASUpdateKeepsImmutableFields(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newSession()))

	s, ok, err := r.CASUpdate(ctx, "s1", 1, func(cur models.Session) (models.Session, error) {
		cur.Status = models.StatusAuthorized
		cur.ExpiresAt = cur.ExpiresAt.Add(time.Hour)
		cur.UserID = "intruder"
		return cur, nil
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), s.Version)
	assert.Equal(t, models.StatusAuthorized, s.Status)
	assert.Equal(t, tExpires, s.ExpiresAt)
	assert.Equal(t, "u1", s.UserID)
}

func TestMemory_CASUpdateSingleWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newSession()))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.CASUpdate(ctx, "s1", 1, func(cur models.Session) (models.Session, error) {
				cur.Status = models.StatusAwaitingAuthorization
				return cur, nil
			})
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	s, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Version)
}

func TestMemory_Restore(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.Create(ctx, newSession()))
	prev, err := r.Get(ctx, "s1")
	require.NoError(t, err)

	_, ok, err := r.CASUpdate(ctx, "s1", 1, authorize)
	require.NoError(t, err)
	require.True(t, ok)

	r.Restore(prev, 99) // version moved on: ignored
	s, _ := r.Get(ctx, "s1")
	assert.Equal(t, models.StatusAuthorized, s.Status)

	r.Restore(prev, 2)
	s, _ = r.Get(ctx, "s1")
	assert.Equal(t, models.StatusInitiated, s.Status)
	assert.Equal(t, int64(1), s.Version)
}
