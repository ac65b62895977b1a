package documents

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateAndList(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	require.NoError(t, r.CreateBatch(ctx, []*models.Document{doc("d2", models.DocumentPAN), doc("d1", models.DocumentAadhaar)}))

	got, err := r.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.DocumentAadhaar, got[0].DocumentType)

	none, err := r.ListBySession(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_DuplicateBatchRejectedAtomically(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	require.NoError(t, r.CreateBatch(ctx, []*models.Document{doc("d1", models.DocumentAadhaar)}))

	err := r.CreateBatch(ctx, []*models.Document{doc("d3", models.DocumentPassport), doc("d4", models.DocumentAadhaar)})
	require.Error(t, err)

	got, _ := r.ListBySession(ctx, "s1")
	assert.Len(t, got, 1, "no partial insert")
}

func TestMemory_DeleteBatch(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	batch := []*models.Document{doc("d1", models.DocumentAadhaar), doc("d2", models.DocumentPAN)}
	require.NoError(t, r.CreateBatch(ctx, batch))

	r.DeleteBatch(batch)

	got, _ := r.ListBySession(ctx, "s1")
	assert.Empty(t, got)
	require.NoError(t, r.CreateBatch(ctx, batch), "slots are free again")
}
