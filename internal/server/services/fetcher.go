package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/dmitrijs2005/kycflow/internal/server/provider"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/documents"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/kycflow/internal/server/storage"
	"github.com/google/uuid"
)

// FetchDocuments is the manual fetch trigger. It funnels through the same
// CAS guard as the automatic paths, so a fetch already running or finished
// is reported as the current session rather than started twice.
func (s *VerificationService) FetchDocuments(ctx context.Context, sessionID string) (*models.Session, error) {
	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, _, err := s.triggerFetch(ctx, cur)
	if isAlreadyHandled(err) {
		switch next.Status {
		case models.StatusFetchingDocuments, models.StatusDocumentsFetched:
			return next, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// triggerFetch moves cur from Authorized to FetchingDocuments. Only the
// caller whose CAS commits starts the provider fetch; everyone else gets
// common.ErrInvalidTransition with the session as it now stands.
func (s *VerificationService) triggerFetch(ctx context.Context, cur *models.Session) (*models.Session, bool, error) {
	next, started, err := s.transition(ctx, cur, lifecycle.FetchStarted, nil)
	if err != nil || !started {
		return next, false, err
	}

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		s.runFetch(next.Clone())
	}()
	return next, true, nil
}

// triggerInBackground attempts triggerFetch without holding up the caller.
func (s *VerificationService) triggerInBackground(sessionID string) {
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()

		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()

		cur, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			s.log.Error(ctx, "failed to load session for fetch", "session_id", sessionID, "error", err)
			return
		}
		if _, _, err := s.triggerFetch(ctx, cur); err != nil && !isAlreadyHandled(err) {
			s.log.Warn(ctx, "fetch trigger rejected", "session_id", sessionID, "error", err)
		}
	}()
}

// runFetch performs the single provider fetch of a session that this
// process moved into FetchingDocuments, then settles the session.
func (s *VerificationService) runFetch(session *models.Session) {
	started := time.Now()
	defer func() { s.metrics.ObserveFetch(time.Since(started).Seconds()) }()

	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()

	docs, keys, err := s.retrieve(ctx, session)

	settleCtx, settleCancel := context.WithTimeout(context.Background(), settleTimeout)
	defer settleCancel()

	if err == nil {
		err = s.commitFetch(settleCtx, session.ID, docs)
	}
	if err == nil {
		return
	}

	s.log.Error(settleCtx, "document fetch failed", "session_id", session.ID, "error", err)
	s.discard(settleCtx, keys)
	s.failFetch(settleCtx, session.ID, err)
}

// retrieve exchanges the sealed code, downloads every requested document the
// provider holds and uploads it to the store. A missing mandatory document
// fails the run; missing optional ones are skipped.
func (s *VerificationService) retrieve(ctx context.Context, session *models.Session) ([]*models.Document, []string, error) {
	code, err := s.sealer.Open(session.AuthCode, session.AuthCodeNonce, []byte(session.ID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open authorization code: %w", err)
	}
	defer common.WipeByteArray(code)

	tok, err := s.provider.ExchangeCode(ctx, string(code))
	s.metrics.ProviderCall("exchange", err)
	if err != nil {
		return nil, nil, err
	}

	remote, err := s.provider.ListDocuments(ctx, tok, session.DocumentsRequested)
	s.metrics.ProviderCall("list", err)
	if err != nil {
		return nil, nil, err
	}

	byType := make(map[models.DocumentType]provider.RemoteDocument, len(remote))
	for _, rd := range remote {
		if _, ok := byType[rd.Type]; !ok {
			byType[rd.Type] = rd
		}
	}

	var (
		docs []*models.Document
		keys []string
	)
	for _, t := range session.DocumentsRequested {
		rd, ok := byType[t]
		if !ok {
			if t == models.MandatoryDocumentType {
				return nil, keys, fmt.Errorf("%w: mandatory document %s not available", common.ErrProviderUnavailable, t)
			}
			s.log.Info(ctx, "optional document not available", "session_id", session.ID, "document_type", t)
			continue
		}

		data, contentType, err := s.provider.Download(ctx, tok, rd.URI)
		s.metrics.ProviderCall("download", err)
		if err != nil {
			return nil, keys, err
		}

		mimeType := rd.MimeType
		if mimeType == "" {
			mimeType = contentType
		}

		key := storage.DocumentKey(session.UserID, session.ID, t)
		if err := s.store.Put(ctx, key, mimeType, data); err != nil {
			return nil, keys, fmt.Errorf("failed to store %s: %w", t, err)
		}
		keys = append(keys, key)

		name := rd.Name
		if name == "" {
			name = string(t)
		}

		now := s.now()
		docs = append(docs, &models.Document{
			ID:           uuid.NewString(),
			SessionID:    session.ID,
			UserID:       session.UserID,
			DocumentType: t,
			DocumentName: name,
			FileSize:     int64(len(data)),
			MimeType:     mimeType,
			DownloadURL:  key,
			DownloadedAt: now,
			ExpiresAt:    now.Add(s.documentRetention),
		})
	}

	return docs, keys, nil
}

// commitFetch persists the document batch and the FetchSucceeded transition
// in one unit of work, so a session is never DocumentsFetched without its
// documents.
func (s *VerificationService) commitFetch(ctx context.Context, sessionID string, docs []*models.Document) error {
	for attempt := 1; attempt <= s.casMaxAttempts; attempt++ {
		var prev, stored *models.Session

		err := s.repos.WithinTx(ctx, func(ctx context.Context, sr sessions.Repository, dr documents.Repository) error {
			cur, err := sr.Get(ctx, sessionID)
			if err != nil {
				return err
			}

			ev := lifecycle.Event{Kind: lifecycle.FetchSucceeded, Now: s.now()}
			if _, err := lifecycle.Transition(*cur, ev); err != nil {
				return err
			}

			if err := dr.CreateBatch(ctx, docs); err != nil {
				return fmt.Errorf("failed to save documents: %w", err)
			}

			next, ok, err := sr.CASUpdate(ctx, sessionID, cur.Version, func(c models.Session) (models.Session, error) {
				return lifecycle.Transition(c, ev)
			})
			if err != nil {
				return err
			}
			if !ok {
				return common.ErrVersionConflict
			}

			prev, stored = cur, next
			return nil
		})

		if err == nil {
			s.committed(ctx, prev, stored, lifecycle.FetchSucceeded)
			return nil
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return err
		}
		s.metrics.CASConflict()
	}
	return fmt.Errorf("%w: saving documents of session %s", common.ErrTransient, sessionID)
}

// failFetch moves the session to Failed, or to Expired when the deadline
// passed meanwhile. A session already settled elsewhere is left alone.
func (s *VerificationService) failFetch(ctx context.Context, sessionID string, cause error) {
	cur, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		s.log.Error(ctx, "failed to load session after fetch failure", "session_id", sessionID, "error", err)
		return
	}

	_, _, err = s.transition(ctx, cur, lifecycle.FetchFailed, func(ev *lifecycle.Event) {
		ev.Reason = cause.Error()
	})
	switch {
	case err == nil, errors.Is(err, common.ErrSessionExpired):
	case isAlreadyHandled(err):
		s.log.Debug(ctx, "fetch failure after session settled", "session_id", sessionID, "status", cur.Status)
	default:
		s.log.Error(ctx, "failed to record fetch failure", "session_id", sessionID, "error", err)
	}
}

// discard removes uploaded objects of a run that did not commit.
func (s *VerificationService) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn(ctx, "failed to delete orphaned document", "key", key, "error", err)
		}
	}
}
