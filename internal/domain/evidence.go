package domain

import "time"

// EvidenceType enumerates the accepted shapes of a resolution evidence item.
type EvidenceType string

const (
	EvidenceURL          EvidenceType = "url"
	EvidenceDescription  EvidenceType = "description"
	EvidenceScreenshotRef EvidenceType = "screenshot-ref"
)

// Evidence is a single supporting item submitted with a resolve request.
// Validation (at least one URL, or a description of >= the configured
// minimum length) is enforced by the ResolutionEngine, not here — this type
// is a plain data carrier.
type Evidence struct {
	ID          string       `json:"id"`
	Type        EvidenceType `json:"type"`
	Content     string       `json:"content"` // URL string, or a screenshot reference key
	Description string       `json:"description,omitempty"`
	UploadedAt  time.Time    `json:"uploaded_at"`
}
