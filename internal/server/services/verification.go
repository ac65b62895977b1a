package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/google/uuid"
)

// stateSize is the number of random bytes in a provider session id, which
// doubles as the OAuth2 state parameter.
const stateSize = 16

// NormalizeDocumentTypes validates requested, prepends the mandatory type
// when missing and drops duplicates, keeping first-seen order.
func NormalizeDocumentTypes(requested []models.DocumentType) ([]models.DocumentType, error) {
	types := []models.DocumentType{models.MandatoryDocumentType}
	seen := map[models.DocumentType]bool{models.MandatoryDocumentType: true}

	for _, t := range requested {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown document type %q", common.ErrValidation, t)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}

// Initiate opens a new verification session for userID.
//
// It fails with common.ErrActiveSessionExists while the user owns a
// non-terminal session that has not yet passed its deadline, and with
// common.ErrAlreadyVerified once a prior session reached DocumentsFetched.
func (s *VerificationService) Initiate(ctx context.Context, userID string, requested []models.DocumentType) (*models.Session, error) {
	types, err := NormalizeDocumentTypes(requested)
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.FindActiveByUser(ctx, userID)
	switch {
	case err == nil:
		// a stale session past its deadline must not block a new one
		cur, _, err := s.transition(ctx, active, lifecycle.ExpiryCheck, nil)
		if err != nil {
			return nil, err
		}
		if !cur.Status.IsTerminal() {
			return nil, common.ErrActiveSessionExists
		}
	case !errors.Is(err, common.ErrSessionNotFound):
		return nil, err
	}

	_, err = s.sessions.FindLatestByUserAndStatus(ctx, userID, models.StatusDocumentsFetched)
	if err == nil {
		return nil, common.ErrAlreadyVerified
	}
	if !errors.Is(err, common.ErrSessionNotFound) {
		return nil, err
	}

	state, err := common.MakeRandHexString(stateSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	now := s.now()
	session := &models.Session{
		ID:                 uuid.NewString(),
		UserID:             userID,
		ProviderSessionID:  state,
		RedirectURL:        s.provider.AuthorizationURL(state, types),
		CallbackURL:        s.callbackURL,
		Status:             models.StatusInitiated,
		DocumentsRequested: types,
		Version:            1,
		ExpiresAt:          now.Add(s.sessionTTL),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.committed(ctx, nil, session, "initiate")
	return session, nil
}

// HandleCallback applies the provider's consent outcome to sessionID.
// Exactly one of code and errCode is expected; errCode wins when both are
// set.
//
// Replays are idempotent: a session already past the callback edges is
// returned unchanged without error. A callback after the deadline persists
// Expired and returns it together with common.ErrSessionExpired. Reaching
// Authorized schedules a document fetch in the background.
func (s *VerificationService) HandleCallback(ctx context.Context, sessionID, code, errCode string) (*models.Session, error) {
	if code == "" && errCode == "" {
		return nil, fmt.Errorf("%w: callback carries neither code nor error", common.ErrValidation)
	}

	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var next *models.Session
	if errCode != "" {
		next, _, err = s.transition(ctx, cur, lifecycle.CallbackFailed, func(ev *lifecycle.Event) {
			ev.Reason = fmt.Sprintf("%s: %s", common.ErrCallbackError, errCode)
		})
	} else {
		sealed, nonce, sealErr := s.sealer.Seal([]byte(code), []byte(cur.ID))
		if sealErr != nil {
			return nil, fmt.Errorf("failed to seal authorization code: %w", sealErr)
		}
		next, _, err = s.transition(ctx, cur, lifecycle.CallbackSucceeded, func(ev *lifecycle.Event) {
			ev.ConsentGiven = true
			ev.AuthCode = sealed
			ev.AuthCodeNonce = nonce
		})
	}

	if isAlreadyHandled(err) {
		s.log.Debug(ctx, "callback already handled", "session_id", cur.ID, "status", next.Status)
		err = nil
	}
	if err != nil {
		return next, err
	}

	if next.Status == models.StatusAuthorized {
		s.triggerInBackground(next.ID)
	}
	return next, nil
}

// PollStatus reports the current session, advancing it on the way: an
// overdue session is expired and an Authorized one has its fetch started.
// It does not wait for the fetch to complete.
func (s *VerificationService) PollStatus(ctx context.Context, sessionID string) (*models.Session, error) {
	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cur, _, err = s.transition(ctx, cur, lifecycle.ExpiryCheck, nil)
	if err != nil {
		return nil, err
	}

	if cur.Status != models.StatusAuthorized {
		return cur, nil
	}

	next, _, err := s.triggerFetch(ctx, cur)
	switch {
	case err == nil, isAlreadyHandled(err):
		return next, nil
	case errors.Is(err, common.ErrSessionExpired):
		return next, nil
	default:
		return nil, err
	}
}

// MarkRedirected records that the user was sent to the provider. It is a
// no-op once the session has moved past Initiated.
func (s *VerificationService) MarkRedirected(ctx context.Context, sessionID string) (*models.Session, error) {
	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, _, err := s.transition(ctx, cur, lifecycle.MarkRedirected, nil)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Cancel abandons sessionID. It succeeds only from Initiated,
// AwaitingAuthorization or Authorized; against a running fetch it fails
// with common.ErrAlreadyInProgress.
func (s *VerificationService) Cancel(ctx context.Context, sessionID string) (*models.Session, error) {
	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, _, err := s.transition(ctx, cur, lifecycle.CancelRequested, nil)
	if isAlreadyHandled(err) && next.Status == models.StatusFetchingDocuments {
		return nil, fmt.Errorf("%w: %w", common.ErrAlreadyInProgress, err)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}
