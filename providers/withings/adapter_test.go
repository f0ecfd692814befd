package withings

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

type stubDoer struct {
	responses map[string]string
	forms     []url.Values
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	var form url.Values
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		form, _ = url.ParseQuery(string(raw))
	}
	s.forms = append(s.forms, form)

	body := `{"status":0,"body":{}}`
	if content, ok := s.responses[req.URL.Path]; ok {
		body = content
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func newTestAdapter(t *testing.T, doer *stubDoer) *Adapter {
	t.Helper()
	adapter, err := New(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		HTTPClient:   doer,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func mustRange(t *testing.T, start, end string) core.DateRange {
	t.Helper()
	startAt, _ := time.Parse("2006-01-02", start)
	endAt, _ := time.Parse("2006-01-02", end)
	dateRange, err := core.NewDateRange(startAt, endAt)
	if err != nil {
		t.Fatalf("new range: %v", err)
	}
	return dateRange
}

func TestFetchBodyScalesMeasureUnits(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/measure": `{"status":0,"body":{"measuregrps":[
			{"grpid":501,"date":1767312000,"measures":[
				{"value":78450,"type":1,"unit":-3},
				{"value":221,"type":6,"unit":-1},
				{"value":55200,"type":76,"unit":-3}
			]},
			{"grpid":502,"date":1767320000,"measures":[]}
		]}}`,
	}}
	adapter := newTestAdapter(t, doer)

	records, err := adapter.FetchBody(context.Background(), "at-1", mustRange(t, "2026-01-01", "2026-01-02"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected empty measure group skipped, got %d records", len(records))
	}
	record := records[0]
	if record.WeightKg < 78.44 || record.WeightKg > 78.46 {
		t.Fatalf("unexpected weight %f", record.WeightKg)
	}
	if record.BodyFatPercent < 22.09 || record.BodyFatPercent > 22.11 {
		t.Fatalf("unexpected fat percent %f", record.BodyFatPercent)
	}
	if record.MuscleMassKg < 55.19 || record.MuscleMassKg > 55.21 {
		t.Fatalf("unexpected muscle mass %f", record.MuscleMassKg)
	}
	if record.SourceRecordID != "withings:body:501" {
		t.Fatalf("unexpected source record id %q", record.SourceRecordID)
	}

	form := doer.forms[0]
	if form.Get("action") != "getmeas" {
		t.Fatalf("unexpected action %q", form.Get("action"))
	}
	if form.Get("startdate") == "" || form.Get("enddate") == "" {
		t.Fatal("expected unix range bounds in form")
	}
}

func TestFetchSleepSummary(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v2/sleep": `{"status":0,"body":{"series":[{"id":9001,"date":"2026-01-02","startdate":1767308100,"enddate":1767335700,"data":{"deepsleepduration":5400,"lightsleepduration":14400,"remsleepduration":6000,"wakeupduration":1500,"sleep_efficiency":0.91}}]}}`,
	}}
	adapter := newTestAdapter(t, doer)

	records, err := adapter.FetchSleep(context.Background(), "at-1", mustRange(t, "2026-01-01", "2026-01-03"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	record := records[0]
	if record.DeepMinutes != 90 || record.LightMinutes != 240 || record.RemMinutes != 100 || record.AwakeMinutes != 25 {
		t.Fatalf("unexpected stage minutes %+v", record)
	}
	if record.TotalMinutes != 430 {
		t.Fatalf("expected total from sleep stages, got %d", record.TotalMinutes)
	}
	if record.Efficiency != 91 {
		t.Fatalf("expected efficiency as percent, got %f", record.Efficiency)
	}
}

func TestInBodyStatusMapsToDomainErrors(t *testing.T) {
	authDoer := &stubDoer{responses: map[string]string{
		"/measure": `{"status":401,"error":"invalid token","body":{}}`,
	}}
	adapter := newTestAdapter(t, authDoer)
	_, err := adapter.FetchBody(context.Background(), "expired", mustRange(t, "2026-01-01", "2026-01-01"))
	if !core.IsAuthError(err) {
		t.Fatalf("expected auth error for status 401, got %v", err)
	}

	throttleDoer := &stubDoer{responses: map[string]string{
		"/measure": `{"status":601,"error":"too many calls","body":{}}`,
	}}
	adapter = newTestAdapter(t, throttleDoer)
	_, err = adapter.FetchBody(context.Background(), "at-1", mustRange(t, "2026-01-01", "2026-01-01"))
	if !core.IsRateLimitError(err) {
		t.Fatalf("expected rate limit error for status 601, got %v", err)
	}
}

func TestUnsupportedFetches(t *testing.T) {
	adapter := newTestAdapter(t, &stubDoer{})
	dateRange := mustRange(t, "2026-01-01", "2026-01-01")

	if _, err := adapter.FetchActivities(context.Background(), "at", dateRange); err == nil {
		t.Fatal("expected activity fetch unsupported")
	}
	if _, err := adapter.FetchWorkouts(context.Background(), "at", dateRange); err == nil {
		t.Fatal("expected workout fetch unsupported")
	}
	if _, err := adapter.FetchHeart(context.Background(), "at", dateRange); err == nil {
		t.Fatal("expected heart fetch unsupported")
	}
}

func TestRefreshTokenSendsRequestTokenAction(t *testing.T) {
	doer := &stubDoer{responses: map[string]string{
		"/v2/oauth2": `{"status":0,"body":{"access_token":"at-2","refresh_token":"rt-2","expires_in":10800}}`,
	}}
	adapter := newTestAdapter(t, doer)

	tokens, err := adapter.RefreshToken(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if tokens.AccessToken != "at-2" || tokens.RefreshToken != "rt-2" {
		t.Fatalf("unexpected token set: %+v", tokens)
	}
	if len(doer.forms) != 1 {
		t.Fatalf("expected one token request, got %d", len(doer.forms))
	}
	form := doer.forms[0]
	if form.Get("action") != "requesttoken" {
		t.Fatalf("token endpoint needs action=requesttoken, got %q", form.Get("action"))
	}
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "rt-1" {
		t.Fatalf("unexpected grant form: %v", form)
	}
}

func TestRevokeTokenIsNoop(t *testing.T) {
	adapter := newTestAdapter(t, &stubDoer{})
	if err := adapter.RevokeToken(context.Background(), "at-1", "rt-1"); err != nil {
		t.Fatalf("expected noop revoke, got %v", err)
	}
}
