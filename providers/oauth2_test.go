package providers

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

type fakeDoer struct {
	requests  []*http.Request
	bodies    []url.Values
	responses []*http.Response
	err       error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.requests = append(f.requests, req)
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		values, _ := url.ParseQuery(string(raw))
		f.bodies = append(f.bodies, values)
	} else {
		f.bodies = append(f.bodies, url.Values{})
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return jsonResponse(http.StatusOK, `{}`), nil
	}
	res := f.responses[0]
	f.responses = f.responses[1:]
	return res, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testClock() time.Time {
	return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
}

func newTestClient(t *testing.T, doer *fakeDoer, mutate func(*OAuth2Config)) *OAuth2Client {
	t.Helper()
	cfg := OAuth2Config{
		Source:       core.SourceFitbit,
		AuthURL:      "https://provider.test/oauth/authorize",
		TokenURL:     "https://provider.test/oauth/token",
		RevokeURL:    "https://provider.test/oauth/revoke",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Now:          testClock,
		HTTPClient:   doer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewOAuth2Client(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestAuthCodeURLIncludesStateAndScopes(t *testing.T) {
	client := newTestClient(t, &fakeDoer{}, func(cfg *OAuth2Config) {
		cfg.DefaultScopes = []string{"activity", "sleep"}
	})

	raw := client.AuthCodeURL("state-123", "https://app.test/callback", nil)
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != "state-123" {
		t.Fatalf("expected state in url, got %q", query.Get("state"))
	}
	if query.Get("scope") != "activity sleep" {
		t.Fatalf("unexpected scope %q", query.Get("scope"))
	}
	if query.Get("response_type") != "code" {
		t.Fatalf("unexpected response_type %q", query.Get("response_type"))
	}
}

func TestExchangeCodeUsesBasicAuth(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"access_token":"at-1","refresh_token":"rt-1","expires_in":28800,"scope":"activity sleep"}`),
	}}
	client := newTestClient(t, doer, nil)

	tokens, err := client.ExchangeCode(context.Background(), "auth-code", "https://app.test/callback")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tokens.AccessToken != "at-1" || tokens.RefreshToken != "rt-1" {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if tokens.ExpiresAt == nil || !tokens.ExpiresAt.Equal(testClock().Add(8*time.Hour)) {
		t.Fatalf("unexpected expiry %v", tokens.ExpiresAt)
	}
	if len(tokens.Scopes) != 2 {
		t.Fatalf("unexpected scopes %v", tokens.Scopes)
	}

	authz := doer.requests[0].Header.Get("Authorization")
	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
	if authz != expected {
		t.Fatalf("expected basic auth header, got %q", authz)
	}
	if doer.bodies[0].Get("client_secret") != "" {
		t.Fatal("client secret must not travel in the body for basic-auth providers")
	}
}

func TestExchangeCodeSecretInBody(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"access_token":"at-1"}`),
	}}
	client := newTestClient(t, doer, func(cfg *OAuth2Config) {
		cfg.ClientSecretInBody = true
	})

	if _, err := client.ExchangeCode(context.Background(), "auth-code", ""); err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if doer.requests[0].Header.Get("Authorization") != "" {
		t.Fatal("expected no basic auth header")
	}
	if doer.bodies[0].Get("client_secret") != "client-secret" {
		t.Fatal("expected client secret in form body")
	}
}

func TestRefreshKeepsEmptyRotation(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusOK, `{"access_token":"at-2","expires_in":3600}`),
	}}
	client := newTestClient(t, doer, nil)

	tokens, err := client.Refresh(context.Background(), "rt-old")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tokens.RefreshToken != "" {
		t.Fatalf("expected empty refresh token when provider did not rotate, got %q", tokens.RefreshToken)
	}
	if doer.bodies[0].Get("grant_type") != "refresh_token" {
		t.Fatalf("unexpected grant_type %q", doer.bodies[0].Get("grant_type"))
	}
}

func TestRefreshInvalidGrantIsAuthError(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{
		jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Refresh token invalid"}`),
	}}
	client := newTestClient(t, doer, nil)

	_, err := client.Refresh(context.Background(), "rt-revoked")
	if !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestRefreshWithoutTokenFailsWithoutNetworkCall(t *testing.T) {
	doer := &fakeDoer{}
	client := newTestClient(t, doer, nil)

	_, err := client.Refresh(context.Background(), "  ")
	if !core.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if len(doer.requests) != 0 {
		t.Fatalf("expected no network call, saw %d", len(doer.requests))
	}
}

func TestFetchTokenThrottleCarriesRetryAfter(t *testing.T) {
	res := jsonResponse(http.StatusTooManyRequests, `{}`)
	res.Header.Set("Retry-After", "90")
	doer := &fakeDoer{responses: []*http.Response{res}}
	client := newTestClient(t, doer, nil)

	_, err := client.Refresh(context.Background(), "rt-1")
	if !core.IsRateLimitError(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if hint := core.RetryAfterHint(err); hint != 90*time.Second {
		t.Fatalf("expected 90s hint, got %s", hint)
	}
}

func TestParseTokenPayloadWithingsEnvelope(t *testing.T) {
	payload, err := parseTokenPayload([]byte(`{"status":0,"body":{"access_token":"at-w","refresh_token":"rt-w","expires_in":10800}}`), "application/json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if payload.AccessToken != "at-w" || payload.RefreshToken != "rt-w" || payload.ExpiresIn != 10800 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	failed, err := parseTokenPayload([]byte(`{"status":401,"body":{},"error":"invalid token"}`), "application/json")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if failed.ErrorCode != "401" {
		t.Fatalf("expected in-band status surfaced as error, got %+v", failed)
	}
}

func TestRevokeSendsToken(t *testing.T) {
	doer := &fakeDoer{responses: []*http.Response{jsonResponse(http.StatusOK, `{}`)}}
	client := newTestClient(t, doer, nil)

	if err := client.Revoke(context.Background(), "at-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if doer.bodies[0].Get("token") != "at-1" {
		t.Fatalf("expected token in revoke body, got %v", doer.bodies[0])
	}
}

func TestNormalizeWorkoutType(t *testing.T) {
	cases := map[string]core.WorkoutType{
		"Run":             core.WorkoutRunning,
		"VirtualRide":     core.WorkoutCycling,
		"Weight Training": core.WorkoutStrength,
		"hiit":            core.WorkoutCrossfit,
		"underwater yoga": core.WorkoutOther,
	}
	for input, want := range cases {
		if got := NormalizeWorkoutType(input); got != want {
			t.Fatalf("NormalizeWorkoutType(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestUnitConversions(t *testing.T) {
	if got := MilesToMeters(1); got < 1609.3 || got > 1609.4 {
		t.Fatalf("MilesToMeters(1) = %f", got)
	}
	if got := PoundsToKilograms(154.32); got < 69.9 || got > 70.1 {
		t.Fatalf("PoundsToKilograms(154.32) = %f", got)
	}
	if got := KilometersToMeters(2.5); got != 2500 {
		t.Fatalf("KilometersToMeters(2.5) = %f", got)
	}
}
