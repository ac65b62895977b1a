package models

import "time"

// DocumentType tags a kind of identity document held by the provider.
type DocumentType string

const (
	DocumentAadhaar        DocumentType = "aadhaar"
	DocumentPAN            DocumentType = "pan"
	DocumentDrivingLicense DocumentType = "driving_license"
	DocumentVoterID        DocumentType = "voter_id"
	DocumentPassport       DocumentType = "passport"
)

// MandatoryDocumentType is the primary national ID; it is always requested.
const MandatoryDocumentType = DocumentAadhaar

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentAadhaar, DocumentPAN, DocumentDrivingLicense, DocumentVoterID, DocumentPassport:
		return true
	}
	return false
}

// Document is one artifact retrieved for a session. Documents are written in
// a single batch when a fetch succeeds and never mutated afterwards.
//
// DownloadURL is stored as the object storage key; API responses carry a
// presigned URL in its place.
type Document struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"sessionId"`
	UserID       string       `json:"userId"`
	DocumentType DocumentType `json:"documentType"`
	DocumentName string       `json:"documentName"`
	FileSize     int64        `json:"fileSize"`
	MimeType     string       `json:"mimeType"`
	DownloadURL  string       `json:"downloadUrl"`
	DownloadedAt time.Time    `json:"downloadedAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}
