package core

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestNewAuthError_CarriesCategoryAndCode(t *testing.T) {
	err := NewAuthError("refresh token missing", SourceFitbit)
	if err.Category != goerrors.CategoryAuth {
		t.Fatalf("expected auth category, got %s", err.Category)
	}
	if err.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", err.Code)
	}
	if !IsAuthError(err) {
		t.Fatalf("expected IsAuthError to match")
	}
	if IsRateLimitError(err) {
		t.Fatalf("auth error must not read as rate limit")
	}
}

func TestNewRateLimitError_RetryAfterRoundTrips(t *testing.T) {
	err := NewRateLimitError("throttled", SourceStrava, 90*time.Second)
	if !IsRateLimitError(err) {
		t.Fatalf("expected rate limit error")
	}
	if hint := RetryAfterHint(err); hint != 90*time.Second {
		t.Fatalf("expected 90s hint, got %s", hint)
	}
}

func TestRetryAfterHint_ZeroWithoutMetadata(t *testing.T) {
	if hint := RetryAfterHint(NewRateLimitError("throttled", SourceStrava, 0)); hint != 0 {
		t.Fatalf("expected zero hint, got %s", hint)
	}
	if hint := RetryAfterHint(fmt.Errorf("plain")); hint != 0 {
		t.Fatalf("expected zero hint on plain error, got %s", hint)
	}
}

func TestMapError_ClassifiesByMessage(t *testing.T) {
	cases := []struct {
		message  string
		textCode string
	}{
		{"access token expired upstream", WearablesErrorAuthRequired},
		{"request was rate limited", WearablesErrorRateLimited},
		{"source not connected", WearablesErrorSourceNotFound},
		{"webhook signature mismatch", WearablesErrorValidation},
	}
	for _, tc := range cases {
		mapped := MapError(fmt.Errorf("%s", tc.message))
		if mapped.TextCode != tc.textCode {
			t.Fatalf("message %q: expected %s, got %s", tc.message, tc.textCode, mapped.TextCode)
		}
	}
}

func TestMapError_PreservesRichErrors(t *testing.T) {
	original := NewProviderError("upstream 502", SourceWithings)
	mapped := MapError(fmt.Errorf("wrapped: %w", original))
	if mapped.TextCode != WearablesErrorProviderFailed {
		t.Fatalf("expected provider text code, got %s", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", mapped.Code)
	}
}
