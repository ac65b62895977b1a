package sessions

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
)

// Mutator computes the next state of a session from its current state.
// Returning an error aborts the update without writing anything.
type Mutator func(cur models.Session) (models.Session, error)

// Repository is the durable session store. CASUpdate is the only way to
// change a stored session.
type Repository interface {
	// Create inserts a new session, failing with common.ErrActiveSessionExists
	// if the user already owns a non-terminal one.
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	GetByProviderSessionID(ctx context.Context, providerSessionID string) (*models.Session, error)
	// FindActiveByUser returns the user's non-terminal session, or
	// common.ErrSessionNotFound.
	FindActiveByUser(ctx context.Context, userID string) (*models.Session, error)
	// FindLatestByUserAndStatus returns the most recently updated session of
	// the user in the given status, or common.ErrSessionNotFound.
	FindLatestByUserAndStatus(ctx context.Context, userID string, status models.Status) (*models.Session, error)
	// ListExpired returns up to limit non-terminal sessions whose deadline
	// is at or before now, oldest deadline first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error)
	// CASUpdate applies mutate to the stored session if its version still
	// equals expectedVersion and bumps the version. On a version mismatch it
	// returns the current session with ok=false and no error.
	CASUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (s *models.Session, ok bool, err error)
}

// activeStatuses are the non-terminal statuses, the ones the one-active-
// session-per-user rule ranges over.
var activeStatuses = []models.Status{
	models.StatusInitiated,
	models.StatusAwaitingAuthorization,
	models.StatusAuthorized,
	models.StatusFetchingDocuments,
}

func joinDocumentTypes(types []models.DocumentType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func splitDocumentTypes(s string) []models.DocumentType {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	types := make([]models.DocumentType, len(parts))
	for i, p := range parts {
		types[i] = models.DocumentType(p)
	}
	return types
}
