// Package storage keeps fetched document artifacts in object storage and
// hands out time-limited download links for them.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
)

// Store is an object store for document artifacts.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Delete(ctx context.Context, key string) error
	// PresignGet returns a URL that allows downloading key until ttl passes.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DocumentKey is the object key of a session's document of the given type.
func DocumentKey(userID, sessionID string, t models.DocumentType) string {
	return fmt.Sprintf("kyc/%s/%s/%s", userID, sessionID, t)
}
