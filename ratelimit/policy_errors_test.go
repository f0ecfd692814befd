package ratelimit

import (
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-wearables/core"
)

func TestThrottledErrorToDomainError(t *testing.T) {
	throttled := ThrottledError{
		Provider:   core.SourceFitbit,
		CustomerID: "cust-1",
		RetryAfter: 30 * time.Second,
	}

	domainErr := throttled.ToDomainError()
	if domainErr.Category != goerrors.CategoryRateLimit {
		t.Fatalf("expected rate limit category, got %s", domainErr.Category)
	}
	if domainErr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", domainErr.Code)
	}
	if domainErr.TextCode != core.WearablesErrorRateLimited {
		t.Fatalf("unexpected text code %s", domainErr.TextCode)
	}
	if got := domainErr.Metadata["retry_after_ms"]; got != int64(30000) {
		t.Fatalf("expected retry_after_ms 30000, got %v", got)
	}
}
