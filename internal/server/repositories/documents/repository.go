package documents

import (
	"context"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
)

type Repository interface {
	// CreateBatch inserts all documents in one statement; either all rows
	// land or none do.
	CreateBatch(ctx context.Context, docs []*models.Document) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.Document, error)
}
