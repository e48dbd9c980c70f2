package engine

import (
	"errors"
	"testing"

	"github.com/evetabi/resolution-engine/internal/domain"
)

const minDescLen = 10

func urlItem(u string) domain.Evidence {
	return domain.Evidence{Type: domain.EvidenceURL, Content: u}
}

func descItem(d string) domain.Evidence {
	return domain.Evidence{Type: domain.EvidenceDescription, Description: d}
}

func TestValidateEvidence_AcceptsURL(t *testing.T) {
	items := []domain.Evidence{urlItem("https://example.com/result")}
	if err := validateEvidence(items, minDescLen); err != nil {
		t.Errorf("validateEvidence = %v, want nil", err)
	}
}

func TestValidateEvidence_AcceptsLongDescription(t *testing.T) {
	items := []domain.Evidence{descItem("the match ended 2-1, confirmed on the official site")}
	if err := validateEvidence(items, minDescLen); err != nil {
		t.Errorf("validateEvidence = %v, want nil", err)
	}
}

func TestValidateEvidence_RejectsEmpty(t *testing.T) {
	if err := validateEvidence(nil, minDescLen); err == nil {
		t.Error("expected error for empty evidence, got nil")
	}
}

func TestValidateEvidence_RejectsShortDescriptionOnly(t *testing.T) {
	items := []domain.Evidence{descItem("too short")}
	err := validateEvidence(items, minDescLen)
	if err == nil {
		t.Fatal("expected error for short description without url, got nil")
	}
	var ee *domain.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("error is %T, want *domain.EngineError", err)
	}
	if ee.Reason != domain.ReasonInsufficientEvidence {
		t.Errorf("Reason = %q, want %q", ee.Reason, domain.ReasonInsufficientEvidence)
	}
}

func TestValidateEvidence_RejectsUnparseableURL(t *testing.T) {
	items := []domain.Evidence{urlItem("not a url at all")}
	if err := validateEvidence(items, minDescLen); err == nil {
		t.Error("expected error for unparseable url, got nil")
	}
}

func TestValidateEvidence_ShortDescriptionWithURL_Passes(t *testing.T) {
	// A short description alone is insufficient, but it does not poison an
	// otherwise valid submission that also carries a url.
	items := []domain.Evidence{descItem("short"), urlItem("https://example.com/proof")}
	if err := validateEvidence(items, minDescLen); err != nil {
		t.Errorf("validateEvidence = %v, want nil", err)
	}
}

func TestValidateEvidence_RejectsEmptyScreenshotRef(t *testing.T) {
	items := []domain.Evidence{{Type: domain.EvidenceScreenshotRef, Content: ""}}
	if err := validateEvidence(items, minDescLen); err == nil {
		t.Error("expected error for screenshot-ref without content, got nil")
	}
}

func TestValidateEvidence_RejectsUnknownType(t *testing.T) {
	items := []domain.Evidence{{Type: "carrier-pigeon", Content: "coo"}}
	if err := validateEvidence(items, minDescLen); err == nil {
		t.Error("expected error for unknown evidence type, got nil")
	}
}
