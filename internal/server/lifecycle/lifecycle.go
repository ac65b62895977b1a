// Package lifecycle is the verification session state machine. Transition is
// a pure function: it performs no I/O and never mutates its input.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
)

// EventKind names an input to the state machine.
type EventKind string

const (
	MarkRedirected    EventKind = "mark_redirected"
	CallbackSucceeded EventKind = "callback_succeeded"
	CallbackFailed    EventKind = "callback_failed"
	FetchStarted      EventKind = "fetch_started"
	FetchSucceeded    EventKind = "fetch_succeeded"
	FetchFailed       EventKind = "fetch_failed"
	CancelRequested   EventKind = "cancel_requested"
	ExpiryCheck       EventKind = "expiry_check"
)

// Event is one state machine input. Now is the evaluation instant; the
// remaining fields are payload for specific kinds.
type Event struct {
	Kind EventKind
	Now  time.Time

	// CallbackSucceeded
	ConsentGiven  bool
	AuthCode      []byte
	AuthCodeNonce []byte

	// CallbackFailed, FetchFailed
	Reason string
}

type edge struct {
	from models.Status
	kind EventKind
}

var edges = map[edge]models.Status{
	{models.StatusInitiated, MarkRedirected}: models.StatusAwaitingAuthorization,

	{models.StatusInitiated, CallbackSucceeded}:             models.StatusAuthorized,
	{models.StatusAwaitingAuthorization, CallbackSucceeded}: models.StatusAuthorized,

	{models.StatusInitiated, CallbackFailed}:             models.StatusFailed,
	{models.StatusAwaitingAuthorization, CallbackFailed}: models.StatusFailed,

	{models.StatusAuthorized, FetchStarted}: models.StatusFetchingDocuments,

	{models.StatusFetchingDocuments, FetchSucceeded}: models.StatusDocumentsFetched,
	{models.StatusFetchingDocuments, FetchFailed}:    models.StatusFailed,

	{models.StatusInitiated, CancelRequested}:             models.StatusCancelled,
	{models.StatusAwaitingAuthorization, CancelRequested}: models.StatusCancelled,
	{models.StatusAuthorized, CancelRequested}:            models.StatusCancelled,
}

// ValidEdge reports whether the machine can ever move a session from one
// status to another in a single transition.
func ValidEdge(from, to models.Status) bool {
	if to == models.StatusExpired {
		return !from.IsTerminal()
	}
	for e, target := range edges {
		if e.from == from && target == to {
			return true
		}
	}
	return false
}

func rejected(cur models.Session, ev Event, reason string) (models.Session, error) {
	if reason != "" {
		return cur, fmt.Errorf("%w: %s from %s: %s", common.ErrInvalidTransition, ev.Kind, cur.Status, reason)
	}
	return cur, fmt.Errorf("%w: %s from %s", common.ErrInvalidTransition, ev.Kind, cur.Status)
}

// Transition returns the session that results from applying ev to cur.
//
// A rejected event returns cur unchanged together with an error wrapping
// common.ErrInvalidTransition, or common.ErrSessionExpired when the deadline
// has passed. ExpiryCheck never fails: it returns cur when nothing is due.
// MarkRedirected is an informational no-op once the session has left
// Initiated. The version is left to the store.
func Transition(cur models.Session, ev Event) (models.Session, error) {
	if ev.Kind == ExpiryCheck {
		if cur.Status.IsTerminal() || !cur.IsExpiredAt(ev.Now) {
			return cur, nil
		}
		return advance(cur, ev, models.StatusExpired), nil
	}

	if cur.Status == models.StatusExpired || (!cur.Status.IsTerminal() && cur.IsExpiredAt(ev.Now)) {
		return cur, fmt.Errorf("%w: %s at %s", common.ErrSessionExpired, ev.Kind, cur.ExpiresAt.Format(time.RFC3339))
	}

	if ev.Kind == MarkRedirected && cur.Status != models.StatusInitiated && !cur.Status.IsTerminal() {
		return cur, nil
	}

	to, ok := edges[edge{cur.Status, ev.Kind}]
	if !ok {
		return rejected(cur, ev, "")
	}

	if ev.Kind == CallbackSucceeded {
		if !ev.ConsentGiven {
			return rejected(cur, ev, "consent not given")
		}
		if len(ev.AuthCode) == 0 {
			return rejected(cur, ev, "missing authorization code")
		}
	}

	return advance(cur, ev, to), nil
}

func advance(cur models.Session, ev Event, to models.Status) models.Session {
	next := *cur.Clone()
	next.Status = to
	next.UpdatedAt = ev.Now

	switch ev.Kind {
	case CallbackSucceeded:
		next.ConsentGiven = true
		next.AuthCode = append([]byte(nil), ev.AuthCode...)
		next.AuthCodeNonce = append([]byte(nil), ev.AuthCodeNonce...)
	case CallbackFailed, FetchFailed:
		next.FailureReason = ev.Reason
	case ExpiryCheck:
		next.FailureReason = "session expired"
	}

	// the sealed code is useless once the session can no longer fetch
	if to.IsTerminal() {
		next.AuthCode = nil
		next.AuthCodeNonce = nil
	}
	return next
}
