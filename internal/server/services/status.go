package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// KYCStatus is the per-user verification aggregate. Results are cached for
// a short TTL and dropped whenever one of the user's sessions changes in
// this process.
func (s *VerificationService) KYCStatus(ctx context.Context, userID string) (*models.KYCStatus, error) {
	var gen uint64
	if s.statusCache != nil {
		if item := s.statusCache.Get(userID); item != nil {
			return item.Value(), nil
		}
		gen = s.statusGeneration()
	}

	status := &models.KYCStatus{}

	active, err := s.sessions.FindActiveByUser(ctx, userID)
	switch {
	case err == nil:
		active, _, err = s.transition(ctx, active, lifecycle.ExpiryCheck, nil)
		if err != nil {
			return nil, err
		}
		if !active.Status.IsTerminal() {
			status.ActiveSession = active
		}
	case !errors.Is(err, common.ErrSessionNotFound):
		return nil, err
	}

	verified, err := s.sessions.FindLatestByUserAndStatus(ctx, userID, models.StatusDocumentsFetched)
	switch {
	case err == nil:
		docs, err := s.repos.Documents().ListBySession(ctx, verified.ID)
		if err != nil {
			return nil, err
		}
		verifiedAt := verified.UpdatedAt
		status.IsVerified = true
		status.VerifiedAt = &verifiedAt
		status.DocumentsCount = len(docs)
	case !errors.Is(err, common.ErrSessionNotFound):
		return nil, err
	}

	if s.statusCache != nil {
		s.cacheStatus(userID, status, gen)
	}
	return status, nil
}

// Documents lists the documents of a session with a fresh presigned
// download URL in place of the stored object key.
func (s *VerificationService) Documents(ctx context.Context, sessionID string) ([]*models.Document, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, nil
	}
	docs, err := s.repos.Documents().ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, d := range docs {
		url, err := s.store.PresignGet(ctx, d.DownloadURL, s.presignTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", d.DocumentType, err)
		}
		d.DownloadURL = url
	}
	return docs, nil
}

func (s *VerificationService) statusGeneration() uint64 {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.statusGen
}

// cacheStatus stores status unless a commit invalidated the cache after gen
// was read, since status may predate that commit.
func (s *VerificationService) cacheStatus(userID string, status *models.KYCStatus, gen uint64) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.statusGen != gen {
		return
	}
	s.statusCache.Set(userID, status, ttlcache.DefaultTTL)
}

func (s *VerificationService) invalidateStatus(userID string) {
	if s.statusCache == nil {
		return
	}
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.statusGen++
	s.statusCache.Delete(userID)
}
