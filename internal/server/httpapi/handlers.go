package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/labstack/echo/v4"
)

// InitiateRequest is the body of POST /sessions.
type InitiateRequest struct {
	DocumentsRequested []models.DocumentType `json:"documentsRequested" validate:"dive,oneof=aadhaar pan driving_license voter_id passport"`
}

type InitiateResponse struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

type CallbackResponse struct {
	SessionID string        `json:"sessionId"`
	Status    models.Status `json:"status"`
}

// Next actions the collaborator should take for a session.
const (
	NextActionRedirect = "redirect"
	NextActionPoll     = "poll"
	NextActionDone     = "done"
	NextActionStartNew = "start_new"
)

// NextAction tells the collaborator what to offer the user. Failed, Expired
// and Cancelled sessions are never retried, only replaced.
func NextAction(st models.Status) string {
	switch st {
	case models.StatusInitiated:
		return NextActionRedirect
	case models.StatusAwaitingAuthorization, models.StatusAuthorized, models.StatusFetchingDocuments:
		return NextActionPoll
	case models.StatusDocumentsFetched:
		return NextActionDone
	default:
		return NextActionStartNew
	}
}

// SessionView is a session as returned to collaborators.
type SessionView struct {
	*models.Session
	NextAction string             `json:"nextAction"`
	Documents  []*models.Document `json:"documents,omitempty"`
}

func (s *HTTPServer) view(c echo.Context, session *models.Session) (*SessionView, error) {
	v := &SessionView{Session: session, NextAction: NextAction(session.Status)}
	if session.Status == models.StatusDocumentsFetched {
		docs, err := s.svc.Documents(c.Request().Context(), session.ID)
		if err != nil {
			return nil, err
		}
		v.Documents = docs
	}
	return v, nil
}

func (s *HTTPServer) respond(c echo.Context, status int, session *models.Session) error {
	v, err := s.view(c, session)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(status, v)
}

// owned loads the session named by the :id path parameter and checks that
// the caller owns it. Sessions of other users are reported as not found.
func (s *HTTPServer) owned(c echo.Context) (*models.Session, error) {
	session, err := s.svc.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if session.UserID != userID(c) {
		return nil, common.ErrSessionNotFound
	}
	return session, nil
}

func (s *HTTPServer) initiate(c echo.Context) error {
	var req InitiateRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fmt.Errorf("%w: malformed body", common.ErrValidation))
	}
	if err := c.Validate(&req); err != nil {
		return s.writeError(c, err)
	}

	session, err := s.svc.Initiate(c.Request().Context(), userID(c), req.DocumentsRequested)
	if err != nil {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, InitiateResponse{SessionID: session.ID, RedirectURL: session.RedirectURL})
}

// callback acknowledges the provider redirect. A callback that lands after
// the deadline is acknowledged with the expired status.
func (s *HTTPServer) callback(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := s.svc.SessionByState(ctx, c.QueryParam("state"))
	if err != nil {
		return s.writeError(c, err)
	}

	errCode := c.QueryParam("error")
	if desc := c.QueryParam("error_description"); errCode != "" && desc != "" {
		errCode = errCode + ": " + desc
	}

	next, err := s.svc.HandleCallback(ctx, session.ID, c.QueryParam("code"), errCode)
	if err != nil && !(errors.Is(err, common.ErrSessionExpired) && next != nil) {
		return s.writeError(c, err)
	}

	return c.JSON(http.StatusOK, CallbackResponse{SessionID: next.ID, Status: next.Status})
}

func (s *HTTPServer) pollStatus(c echo.Context) error {
	session, err := s.owned(c)
	if err != nil {
		return s.writeError(c, err)
	}

	next, err := s.svc.PollStatus(c.Request().Context(), session.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	return s.respond(c, http.StatusOK, next)
}

func (s *HTTPServer) markRedirected(c echo.Context) error {
	return s.sessionOp(c, s.svc.MarkRedirected)
}

func (s *HTTPServer) fetchDocuments(c echo.Context) error {
	return s.sessionOp(c, s.svc.FetchDocuments)
}

func (s *HTTPServer) cancel(c echo.Context) error {
	return s.sessionOp(c, s.svc.Cancel)
}

func (s *HTTPServer) sessionOp(c echo.Context, op func(ctx context.Context, id string) (*models.Session, error)) error {
	session, err := s.owned(c)
	if err != nil {
		return s.writeError(c, err)
	}

	next, err := op(c.Request().Context(), session.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	return s.respond(c, http.StatusOK, next)
}

func (s *HTTPServer) kycStatus(c echo.Context) error {
	st, err := s.svc.KYCStatus(c.Request().Context(), userID(c))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *HTTPServer) health(c echo.Context) error {
	if err := s.db.Ping(c.Request().Context()); err != nil {
		s.logger.Warn(c.Request().Context(), "health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
