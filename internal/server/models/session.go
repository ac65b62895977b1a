// Package models defines the verification session aggregate and the
// documents it produces.
package models

import "time"

// Status is the lifecycle position of a verification session.
type Status string

const (
	StatusInitiated             Status = "initiated"
	StatusAwaitingAuthorization Status = "awaiting_authorization"
	StatusAuthorized            Status = "authorized"
	StatusFetchingDocuments     Status = "fetching_documents"
	StatusDocumentsFetched      Status = "documents_fetched"
	StatusFailed                Status = "failed"
	StatusExpired               Status = "expired"
	StatusCancelled             Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDocumentsFetched, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusAwaitingAuthorization, StatusAuthorized, StatusFetchingDocuments:
		return true
	}
	return s.IsTerminal()
}

// TerminalStatuses lists every terminal status, in a stable order.
var TerminalStatuses = []Status{StatusDocumentsFetched, StatusFailed, StatusExpired, StatusCancelled}

// Session is one verification attempt from initiation to a terminal outcome.
//
// AuthCode holds the provider authorization code sealed at rest; it is set
// only by a successful callback and never serialized to collaborators.
type Session struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"userId"`
	ProviderSessionID  string         `json:"providerSessionId"`
	RedirectURL        string         `json:"redirectUrl"`
	CallbackURL        string         `json:"callbackUrl"`
	Status             Status         `json:"status"`
	DocumentsRequested []DocumentType `json:"documentsRequested"`
	ConsentGiven       bool           `json:"consentGiven"`
	AuthCode           []byte         `json:"-"`
	AuthCodeNonce      []byte         `json:"-"`
	FailureReason      string         `json:"failureReason,omitempty"`
	Version            int64          `json:"version"`
	ExpiresAt          time.Time      `json:"expiresAt"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.DocumentsRequested = append([]DocumentType(nil), s.DocumentsRequested...)
	c.AuthCode = append([]byte(nil), s.AuthCode...)
	c.AuthCodeNonce = append([]byte(nil), s.AuthCodeNonce...)
	return &c
}

// IsExpiredAt reports whether the hard deadline has passed at now.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// KYCStatus is the read-only per-user aggregate.
type KYCStatus struct {
	IsVerified     bool       `json:"isVerified"`
	VerifiedAt     *time.Time `json:"verifiedAt,omitempty"`
	DocumentsCount int        `json:"documentsCount"`
	ActiveSession  *Session   `json:"activeSession,omitempty"`
}
