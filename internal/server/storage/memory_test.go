package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "kyc/u1/s1/driving_license", DocumentKey("u1", "s1", models.DocumentDrivingLicense))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.Put(ctx, "kyc/u1/s1/pan", "image/png", []byte{1, 2, 3}))
	assert.Equal(t, 1, m.Len())

	data, ct, ok := m.Get("kyc/u1/s1/pan")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "image/png", ct)

	u, err := m.PresignGet(ctx, "kyc/u1/s1/pan", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory:///kyc/u1/s1/pan?expires="), u)

	_, err = m.PresignGet(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, m.Delete(ctx, "kyc/u1/s1/pan"))
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemoryStore().Put(ctx, "k", "", nil), context.Canceled)
}
