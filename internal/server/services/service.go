// Package services contains server-side business logic: the verification
// session lifecycle orchestration on top of the pure state machine in
// package lifecycle.
//
// Every state change goes through a version-guarded CAS on the session
// store. No lock is held across provider I/O.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/cryptox"
	"github.com/dmitrijs2005/kycflow/internal/logging"
	"github.com/dmitrijs2005/kycflow/internal/server/lifecycle"
	"github.com/dmitrijs2005/kycflow/internal/server/metrics"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/dmitrijs2005/kycflow/internal/server/notify"
	"github.com/dmitrijs2005/kycflow/internal/server/provider"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/kycflow/internal/server/storage"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// settleTimeout bounds the bookkeeping that follows a fetch run, which must
// not inherit the fetch deadline.
const settleTimeout = 10 * time.Second

// Options configures a VerificationService. Zero durations and counts take
// the defaults used by the server config.
type Options struct {
	SessionTTL        time.Duration
	FetchTimeout      time.Duration
	DocumentRetention time.Duration
	PresignTTL        time.Duration
	StatusCacheTTL    time.Duration
	CASMaxAttempts    int
	CallbackURL       string

	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (o *Options) setDefaults() {
	if o.SessionTTL <= 0 {
		o.SessionTTL = time.Hour
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.DocumentRetention <= 0 {
		o.DocumentRetention = 30 * 24 * time.Hour
	}
	if o.PresignTTL <= 0 {
		o.PresignTTL = 15 * time.Minute
	}
	if o.CASMaxAttempts <= 0 {
		o.CASMaxAttempts = 5
	}
	if o.Notifier == nil {
		o.Notifier = notify.Noop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// VerificationService drives verification sessions from initiation to a
// terminal outcome.
type VerificationService struct {
	repos    repomanager.RepositoryManager
	sessions sessions.Repository
	provider provider.Client
	store    storage.Store
	sealer   *cryptox.Sealer
	log      logging.Logger
	notifier notify.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	sessionTTL        time.Duration
	fetchTimeout      time.Duration
	documentRetention time.Duration
	presignTTL        time.Duration
	casMaxAttempts    int
	callbackURL       string

	statusCache *ttlcache.Cache[string, *models.KYCStatus]
	// statusMu orders cache fills against invalidations. statusGen moves on
	// every invalidation; a fill computed across a move is dropped.
	statusMu  sync.Mutex
	statusGen uint64

	// fetches tracks background goroutines: fetch runs and deferred triggers.
	fetches sync.WaitGroup
}

func NewVerificationService(
	repos repomanager.RepositoryManager,
	client provider.Client,
	store storage.Store,
	sealer *cryptox.Sealer,
	log logging.Logger,
	opts Options,
) *VerificationService {
	opts.setDefaults()

	s := &VerificationService{
		repos:             repos,
		sessions:          repos.Sessions(),
		provider:          client,
		store:             store,
		sealer:            sealer,
		log:               log.With("module", "verification"),
		notifier:          opts.Notifier,
		metrics:           opts.Metrics,
		now:               opts.Now,
		sessionTTL:        opts.SessionTTL,
		fetchTimeout:      opts.FetchTimeout,
		documentRetention: opts.DocumentRetention,
		presignTTL:        opts.PresignTTL,
		casMaxAttempts:    opts.CASMaxAttempts,
		callbackURL:       opts.CallbackURL,
	}

	if opts.StatusCacheTTL > 0 {
		s.statusCache = ttlcache.New(
			ttlcache.WithTTL[string, *models.KYCStatus](opts.StatusCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *models.KYCStatus](),
		)
	}

	return s
}

// Wait blocks until every background fetch started so far has settled.
func (s *VerificationService) Wait() {
	s.fetches.Wait()
}

// Session returns the stored session without advancing it.
func (s *VerificationService) Session(ctx context.Context, id string) (*models.Session, error) {
	return s.load(ctx, id)
}

// load fetches a session by a caller-supplied id. Ids are UUIDs, so anything
// else is reported as common.ErrSessionNotFound without a store round trip.
func (s *VerificationService) load(ctx context.Context, id string) (*models.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrSessionNotFound
	}
	return s.sessions.Get(ctx, id)
}

// SessionByState resolves the OAuth2 state echoed on a provider callback to
// its session.
func (s *VerificationService) SessionByState(ctx context.Context, state string) (*models.Session, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: missing state", common.ErrValidation)
	}
	return s.sessions.GetByProviderSessionID(ctx, state)
}

// transition drives one event through the store. It returns the session as
// last observed, whether this call committed a change, and the rejection if
// any.
//
// The deadline is checked first: an event arriving after it persists
// Expired instead and fails with common.ErrSessionExpired. An event that
// leaves the status unchanged is not written. A lost CAS re-evaluates the
// event against the fresh session, up to casMaxAttempts times.
func (s *VerificationService) transition(ctx context.Context, cur *models.Session, kind lifecycle.EventKind, fill func(*lifecycle.Event)) (*models.Session, bool, error) {
	for attempt := 1; ; attempt++ {
		ev := lifecycle.Event{Kind: kind, Now: s.now()}
		if fill != nil {
			fill(&ev)
		}

		next, err := lifecycle.Transition(*cur, ev)
		expired := false
		if errors.Is(err, common.ErrSessionExpired) && !cur.Status.IsTerminal() {
			ev = lifecycle.Event{Kind: lifecycle.ExpiryCheck, Now: ev.Now}
			next, _ = lifecycle.Transition(*cur, ev)
			expired = true
		} else if err != nil {
			return cur, false, err
		}

		if next.Status == cur.Status {
			return cur, false, nil
		}

		stored, ok, err := s.sessions.CASUpdate(ctx, cur.ID, cur.Version, func(c models.Session) (models.Session, error) {
			return lifecycle.Transition(c, ev)
		})
		if err != nil {
			return cur, false, err
		}

		if ok {
			s.committed(ctx, cur, stored, ev.Kind)
			if expired {
				return stored, true, fmt.Errorf("%w: %s", common.ErrSessionExpired, kind)
			}
			return stored, true, nil
		}

		s.metrics.CASConflict()
		s.log.Debug(ctx, "lost session update race", "session_id", cur.ID, "event", kind,
			"expected_version", cur.Version, "version", stored.Version, "attempt", attempt)

		if attempt >= s.casMaxAttempts {
			return stored, false, fmt.Errorf("%w: %s on session %s", common.ErrTransient, kind, cur.ID)
		}
		cur = stored
	}
}

// committed runs after every persisted state change.
func (s *VerificationService) committed(ctx context.Context, prev, next *models.Session, kind lifecycle.EventKind) {
	s.metrics.Transition(string(kind), string(next.Status))

	from := models.Status("")
	if prev != nil {
		from = prev.Status
	}
	s.log.Info(ctx, "session transitioned", "session_id", next.ID, "event", kind,
		"from", from, "to", next.Status, "version", next.Version)

	s.invalidateStatus(next.UserID)

	if err := s.notifier.Publish(ctx, next); err != nil {
		s.log.Warn(ctx, "failed to publish session event", "session_id", next.ID, "error", err)
	}
}

// isAlreadyHandled reports whether err is a state machine rejection that
// callers treat as a no-op.
func isAlreadyHandled(err error) bool {
	return errors.Is(err, common.ErrInvalidTransition)
}
