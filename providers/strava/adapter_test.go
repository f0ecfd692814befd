package strava

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-wearables/core"
)

type pagingDoer struct {
	pages    []string
	requests []string
}

func (p *pagingDoer) Do(req *http.Request) (*http.Response, error) {
	p.requests = append(p.requests, req.URL.String())
	body := `[]`
	page := req.URL.Query().Get("page")
	for i, content := range p.pages {
		if page == fmt.Sprintf("%d", i+1) {
			body = content
			break
		}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func newTestAdapter(t *testing.T, doer *pagingDoer) *Adapter {
	t.Helper()
	adapter, err := New(Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		SubscriptionID: 4242,
		HTTPClient:     doer,
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

func TestFetchWorkoutsStopsOnShortPage(t *testing.T) {
	doer := &pagingDoer{pages: []string{
		`[{"id":100,"type":"Ride","start_date":"2026-01-02T08:00:00Z","elapsed_time":3600,"distance":30000,"average_heartrate":140.4}]`,
	}}
	adapter := newTestAdapter(t, doer)

	records, err := adapter.FetchWorkouts(context.Background(), "at-1", mustRange(t, "2026-01-01", "2026-01-05"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(doer.requests) != 1 {
		t.Fatalf("expected pagination to stop after a short page, got %d calls", len(doer.requests))
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	workout := records[0]
	if workout.WorkoutType != core.WorkoutCycling {
		t.Fatalf("expected cycling, got %s", workout.WorkoutType)
	}
	if workout.SourceRecordID != "strava:workout:100" {
		t.Fatalf("unexpected source record id %q", workout.SourceRecordID)
	}
	if workout.AvgHeartRateBPM != 140 {
		t.Fatalf("unexpected heart rate %d", workout.AvgHeartRateBPM)
	}
	if workout.Duration() != time.Hour {
		t.Fatalf("unexpected duration %s", workout.Duration())
	}
}

func TestFetchWorkoutsRangeBoundsInQuery(t *testing.T) {
	doer := &pagingDoer{}
	adapter := newTestAdapter(t, doer)

	if _, err := adapter.FetchWorkouts(context.Background(), "at-1", mustRange(t, "2026-01-01", "2026-01-02")); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	request := doer.requests[0]
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	before := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC).Unix()
	if !strings.Contains(request, fmt.Sprintf("after=%d", after)) {
		t.Fatalf("expected after bound in %s", request)
	}
	if !strings.Contains(request, fmt.Sprintf("before=%d", before)) {
		t.Fatalf("expected before bound covering the whole end day in %s", request)
	}
}

func TestOtherFetchesUnsupported(t *testing.T) {
	adapter := newTestAdapter(t, &pagingDoer{})
	dateRange := mustRange(t, "2026-01-01", "2026-01-01")

	if _, err := adapter.FetchActivities(context.Background(), "at", dateRange); err == nil {
		t.Fatal("expected activity fetch unsupported")
	}
	if _, err := adapter.FetchSleep(context.Background(), "at", dateRange); err == nil {
		t.Fatal("expected sleep fetch unsupported")
	}
	if _, err := adapter.FetchBody(context.Background(), "at", dateRange); err == nil {
		t.Fatal("expected body fetch unsupported")
	}
}

func TestEchoChallenge(t *testing.T) {
	adapter := newTestAdapter(t, &pagingDoer{})

	challenge, err := adapter.EchoChallenge("verify-1", "challenge-abc", "verify-1")
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if challenge != "challenge-abc" {
		t.Fatalf("expected challenge echoed, got %q", challenge)
	}
	if _, err := adapter.EchoChallenge("wrong", "challenge-abc", "verify-1"); err == nil {
		t.Fatal("expected verify token mismatch")
	}
}

func TestVerifyWebhookChecksSubscription(t *testing.T) {
	adapter := newTestAdapter(t, &pagingDoer{})

	valid := []byte(`{"object_type":"activity","object_id":9,"owner_id":77,"subscription_id":4242,"event_time":1767312000}`)
	if err := adapter.VerifyWebhook("", valid); err != nil {
		t.Fatalf("expected valid delivery, got %v", err)
	}

	foreign := []byte(`{"object_type":"activity","subscription_id":9999}`)
	if err := adapter.VerifyWebhook("", foreign); err == nil {
		t.Fatal("expected subscription mismatch")
	}
}

func TestParseWebhookPayload(t *testing.T) {
	adapter := newTestAdapter(t, &pagingDoer{})

	events, err := adapter.ParseWebhookPayload([]byte(`{"object_type":"activity","object_id":9,"aspect_type":"create","owner_id":77,"subscription_id":4242,"event_time":1767312000}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SourceUserID != "77" || events[0].DataType != core.DataWorkout {
		t.Fatalf("unexpected event %+v", events[0])
	}

	athleteEvents, err := adapter.ParseWebhookPayload([]byte(`{"object_type":"athlete","owner_id":77}`))
	if err != nil {
		t.Fatalf("parse athlete event: %v", err)
	}
	if len(athleteEvents) != 0 {
		t.Fatalf("expected athlete events ignored, got %d", len(athleteEvents))
	}
}
