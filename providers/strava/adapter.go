// Package strava normalizes Strava activities, the only data type the
// service exposes. Listings paginate, refresh tokens rotate on every grant,
// and webhook deliveries are trusted by matching the subscription id rather
// than a signature.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

const (
	defaultBaseURL = "https://www.strava.com"
	authPath       = "/oauth/authorize"
	tokenPath      = "/oauth/token"
	revokePath     = "/oauth/deauthorize"
	maxPages       = 10
	pageSize       = 100
)

type Config struct {
	ClientID       string
	ClientSecret   string
	SubscriptionID int64
	BaseURL        string
	HTTPClient     providers.HTTPDoer
	Now            func() time.Time
}

type Adapter struct {
	cfg    Config
	oauth  *providers.OAuth2Client
	client providers.HTTPDoer
}

func New(cfg Config) (*Adapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	cfg.BaseURL = baseURL

	oauth, err := providers.NewOAuth2Client(providers.OAuth2Config{
		Source:             core.SourceStrava,
		AuthURL:            baseURL + authPath,
		TokenURL:           baseURL + tokenPath,
		RevokeURL:          baseURL + revokePath,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		DefaultScopes:      []string{"activity:read_all", "profile:read_all"},
		Now:                cfg.Now,
		HTTPClient:         cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{cfg: cfg, oauth: oauth, client: client}, nil
}

func (a *Adapter) SourceType() core.SourceType {
	return core.SourceStrava
}

func (a *Adapter) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapabilityWorkout, core.CapabilityWebhook)
}

// RateBudget approximates Strava's documented 100 requests per 15 minutes
// with the nearest hourly window, alongside the 1000 per day app cap.
func (a *Adapter) RateBudget() core.RateBudget {
	return core.RateBudget{PerHour: 400, PerDay: 1000}
}

func (a *Adapter) OAuth() *providers.OAuth2Client {
	return a.oauth
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	return a.oauth.Refresh(ctx, refreshToken)
}

func (a *Adapter) RevokeToken(ctx context.Context, accessToken, _ string) error {
	return a.oauth.Revoke(ctx, accessToken)
}

type athleteActivity struct {
	ID               int64   `json:"id"`
	Type             string  `json:"type"`
	StartDate        string  `json:"start_date"`
	ElapsedTime      int     `json:"elapsed_time"`
	DistanceMeters   float64 `json:"distance"`
	Kilojoules       float64 `json:"kilojoules"`
	AverageHeartrate float64 `json:"average_heartrate"`
}

func (a *Adapter) FetchWorkouts(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.WorkoutRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}

	after := core.DayOf(dateRange.Start).Unix()
	before := core.DayOf(dateRange.End).AddDate(0, 0, 1).Unix()

	records := []core.WorkoutRecord{}
	for page := 1; page <= maxPages; page++ {
		query := url.Values{}
		query.Set("after", strconv.FormatInt(after, 10))
		query.Set("before", strconv.FormatInt(before, 10))
		query.Set("per_page", strconv.Itoa(pageSize))
		query.Set("page", strconv.Itoa(page))

		var activities []athleteActivity
		endpoint := a.cfg.BaseURL + "/api/v3/athlete/activities?" + query.Encode()
		if err := providers.GetJSON(ctx, a.client, core.SourceStrava, endpoint, accessToken, &activities); err != nil {
			return nil, err
		}
		for _, entry := range activities {
			start, err := time.Parse(time.RFC3339, entry.StartDate)
			if err != nil {
				continue
			}
			start = start.UTC()
			records = append(records, core.WorkoutRecord{
				SourceType:      core.SourceStrava,
				SourceRecordID:  fmt.Sprintf("strava:workout:%d", entry.ID),
				StartTime:       start,
				EndTime:         start.Add(time.Duration(entry.ElapsedTime) * time.Second),
				WorkoutType:     providers.NormalizeWorkoutType(entry.Type),
				CaloriesOut:     entry.Kilojoules * 1.048,
				DistanceMeters:  entry.DistanceMeters,
				AvgHeartRateBPM: int(entry.AverageHeartrate),
			})
		}
		if len(activities) < pageSize {
			break
		}
	}
	return records, nil
}

func (a *Adapter) FetchActivities(ctx context.Context, _ string, _ core.DateRange) ([]core.ActivityRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceStrava, core.DataActivity)
}

func (a *Adapter) FetchSleep(ctx context.Context, _ string, _ core.DateRange) ([]core.SleepRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceStrava, core.DataSleep)
}

func (a *Adapter) FetchBody(ctx context.Context, _ string, _ core.DateRange) ([]core.BodyRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceStrava, core.DataBody)
}

func (a *Adapter) FetchHeart(ctx context.Context, _ string, _ core.DateRange) ([]core.HeartSample, error) {
	return nil, providers.NewCapabilityError(core.SourceStrava, core.DataHeart)
}

type athleteResponse struct {
	ID        int64  `json:"id"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

func (a *Adapter) GetUserProfile(ctx context.Context, accessToken string) (core.UserProfile, error) {
	var res athleteResponse
	endpoint := a.cfg.BaseURL + "/api/v3/athlete"
	if err := providers.GetJSON(ctx, a.client, core.SourceStrava, endpoint, accessToken, &res); err != nil {
		return core.UserProfile{}, err
	}
	if res.ID == 0 {
		return core.UserProfile{}, core.NewProviderError("strava athlete missing id", core.SourceStrava)
	}
	return core.UserProfile{
		SourceUserID: strconv.FormatInt(res.ID, 10),
		DisplayName:  strings.TrimSpace(res.Firstname + " " + res.Lastname),
		Raw:          map[string]any{"id": res.ID},
	}, nil
}

// EchoChallenge answers Strava's subscription validation handshake: the
// hub.challenge value is reflected back verbatim when the verify token
// matches.
func (a *Adapter) EchoChallenge(verifyToken, challenge, expectedToken string) (string, error) {
	if strings.TrimSpace(verifyToken) != strings.TrimSpace(expectedToken) {
		return "", core.NewValidationError("strava verify token mismatch")
	}
	if strings.TrimSpace(challenge) == "" {
		return "", core.NewValidationError("strava hub challenge is required")
	}
	return strings.TrimSpace(challenge), nil
}

type webhookEventPayload struct {
	ObjectType     string `json:"object_type"`
	ObjectID       int64  `json:"object_id"`
	AspectType     string `json:"aspect_type"`
	OwnerID        int64  `json:"owner_id"`
	SubscriptionID int64  `json:"subscription_id"`
	EventTime      int64  `json:"event_time"`
}

// VerifyWebhook trusts a delivery when its subscription id matches the one
// issued at registration. Strava does not sign webhook bodies.
func (a *Adapter) VerifyWebhook(_ string, payload []byte) error {
	var event webhookEventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return core.NewValidationError(fmt.Sprintf("strava webhook payload: %v", err))
	}
	if a.cfg.SubscriptionID != 0 && event.SubscriptionID != a.cfg.SubscriptionID {
		return core.NewValidationError("strava webhook subscription id mismatch")
	}
	return nil
}

func (a *Adapter) ParseWebhookPayload(payload []byte) ([]core.WebhookEvent, error) {
	var event webhookEventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("strava webhook payload: %v", err))
	}
	if event.ObjectType != "activity" || event.OwnerID == 0 {
		return []core.WebhookEvent{}, nil
	}
	occurredAt := time.Now().UTC()
	if event.EventTime > 0 {
		occurredAt = time.Unix(event.EventTime, 0).UTC()
	}
	return []core.WebhookEvent{{
		SourceUserID: strconv.FormatInt(event.OwnerID, 10),
		DataType:     core.DataWorkout,
		OccurredAt:   occurredAt,
		Raw: map[string]any{
			"object_id":   event.ObjectID,
			"aspect_type": event.AspectType,
		},
	}}, nil
}

var (
	_ core.Adapter        = (*Adapter)(nil)
	_ core.TokenRefresher = (*Adapter)(nil)
	_ core.TokenRevoker   = (*Adapter)(nil)
	_ core.WebhookAdapter = (*Adapter)(nil)
)
