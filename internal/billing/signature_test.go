package billing

import (
	"errors"
	"testing"
	"time"
)

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"invoice.paid","data":{}}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := Sign("whsec_test", now, body)

	if err := VerifySignature("whsec_test", header, body, now, 5*time.Minute); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Slight clock skew in either direction is fine within tolerance.
	if err := VerifySignature("whsec_test", header, body, now.Add(2*time.Minute), 5*time.Minute); err != nil {
		t.Fatalf("verify with receiver ahead: %v", err)
	}
	if err := VerifySignature("whsec_test", header, body, now.Add(-2*time.Minute), 5*time.Minute); err != nil {
		t.Fatalf("verify with receiver behind: %v", err)
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := Sign("whsec_test", now, []byte(`{"amount":100}`))

	err := VerifySignature("whsec_test", header, []byte(`{"amount":999}`), now, 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := Sign("whsec_test", now, body)

	if err := VerifySignature("whsec_other", header, body, now, 5*time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	header := Sign("whsec_test", issued, body)

	err := VerifySignature("whsec_test", header, body, issued.Add(10*time.Minute), 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for stale timestamp, got %v", err)
	}
}

func TestVerifySignatureRejectsMalformedHeaders(t *testing.T) {
	body := []byte(`{}`)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, header := range []string{
		"",
		"v1=deadbeef",
		"t=1767268800",
		"t=notanumber,v1=deadbeef",
		"garbage",
	} {
		if err := VerifySignature("whsec_test", header, body, now, 5*time.Minute); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("header %q: expected ErrInvalidSignature, got %v", header, err)
		}
	}
}
