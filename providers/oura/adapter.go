// Package oura normalizes Oura Ring data from the v2 API. Oura accepts
// ranged queries, wants the client secret in the token request body, and
// keeps refresh tokens valid across refreshes.
package oura

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

const (
	defaultBaseURL = "https://api.ouraring.com"
	authURL        = "https://cloud.ouraring.com/oauth/authorize"
	tokenURL       = "https://api.ouraring.com/oauth/token"
	revokeURL      = "https://api.ouraring.com/oauth/revoke"
	dayFormat      = "2006-01-02"
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   providers.HTTPDoer
	Now          func() time.Time
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
		Source:             core.SourceOura,
		AuthURL:            authURL,
		TokenURL:           tokenURL,
		RevokeURL:          revokeURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		DefaultScopes:      []string{"daily", "heartrate", "workout", "personal"},
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
	return core.SourceOura
}

func (a *Adapter) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(
		core.CapabilityActivity,
		core.CapabilitySleep,
		core.CapabilityHeart,
		core.CapabilityHRV,
	)
}

func (a *Adapter) RateBudget() core.RateBudget {
	return core.RateBudget{PerMinute: 1000}
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

func (a *Adapter) rangedURL(path string, dateRange core.DateRange) string {
	query := url.Values{}
	query.Set("start_date", dateRange.Start.Format(dayFormat))
	query.Set("end_date", dateRange.End.Format(dayFormat))
	return a.cfg.BaseURL + path + "?" + query.Encode()
}

type dailyActivityResponse struct {
	Data []struct {
		ID                        string  `json:"id"`
		Day                       string  `json:"day"`
		Steps                     int     `json:"steps"`
		TotalCalories             float64 `json:"total_calories"`
		EquivalentWalkingDistance float64 `json:"equivalent_walking_distance"`
		HighActivityMinutes       int     `json:"high_activity_minutes"`
		MediumActivityMinutes     int     `json:"medium_activity_minutes"`
	} `json:"data"`
}

func (a *Adapter) FetchActivities(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.ActivityRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	var res dailyActivityResponse
	if err := providers.GetJSON(ctx, a.client, core.SourceOura, a.rangedURL("/v2/usercollection/daily_activity", dateRange), accessToken, &res); err != nil {
		return nil, err
	}

	records := []core.ActivityRecord{}
	for _, entry := range res.Data {
		day, err := time.Parse(dayFormat, entry.Day)
		if err != nil {
			continue
		}
		records = append(records, core.ActivityRecord{
			SourceType:     core.SourceOura,
			SourceRecordID: "oura:activity:" + entry.ID,
			Date:           day,
			Steps:          entry.Steps,
			CaloriesOut:    entry.TotalCalories,
			DistanceMeters: entry.EquivalentWalkingDistance,
			ActiveMinutes:  entry.HighActivityMinutes + entry.MediumActivityMinutes,
		})
	}
	return records, nil
}

type sleepSessionResponse struct {
	Data []struct {
		ID                 string  `json:"id"`
		Day                string  `json:"day"`
		BedtimeStart       string  `json:"bedtime_start"`
		BedtimeEnd         string  `json:"bedtime_end"`
		TotalSleepDuration int     `json:"total_sleep_duration"`
		DeepSleepDuration  int     `json:"deep_sleep_duration"`
		RemSleepDuration   int     `json:"rem_sleep_duration"`
		LightSleepDuration int     `json:"light_sleep_duration"`
		AwakeTime          int     `json:"awake_time"`
		Efficiency         float64 `json:"efficiency"`
		AverageHRV         float64 `json:"average_hrv"`
		LowestHeartRate    int     `json:"lowest_heart_rate"`
	} `json:"data"`
}

func (a *Adapter) FetchSleep(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.SleepRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	var res sleepSessionResponse
	if err := providers.GetJSON(ctx, a.client, core.SourceOura, a.rangedURL("/v2/usercollection/sleep", dateRange), accessToken, &res); err != nil {
		return nil, err
	}

	records := []core.SleepRecord{}
	for _, entry := range res.Data {
		day, err := time.Parse(dayFormat, entry.Day)
		if err != nil {
			continue
		}
		record := core.SleepRecord{
			SourceType:     core.SourceOura,
			SourceRecordID: "oura:sleep:" + entry.ID,
			Date:           day,
			TotalMinutes:   entry.TotalSleepDuration / 60,
			DeepMinutes:    entry.DeepSleepDuration / 60,
			RemMinutes:     entry.RemSleepDuration / 60,
			LightMinutes:   entry.LightSleepDuration / 60,
			AwakeMinutes:   entry.AwakeTime / 60,
			Efficiency:     entry.Efficiency,
		}
		if start, err := time.Parse(time.RFC3339, entry.BedtimeStart); err == nil {
			record.StartTime = start.UTC()
		}
		if end, err := time.Parse(time.RFC3339, entry.BedtimeEnd); err == nil {
			record.EndTime = end.UTC()
		}
		records = append(records, record)
	}
	return records, nil
}

// FetchHeart returns nightly resting heart rate and HRV, both reported by
// Oura on the sleep session.
func (a *Adapter) FetchHeart(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.HeartSample, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	var res sleepSessionResponse
	if err := providers.GetJSON(ctx, a.client, core.SourceOura, a.rangedURL("/v2/usercollection/sleep", dateRange), accessToken, &res); err != nil {
		return nil, err
	}

	samples := []core.HeartSample{}
	for _, entry := range res.Data {
		day, err := time.Parse(dayFormat, entry.Day)
		if err != nil {
			continue
		}
		if entry.LowestHeartRate == 0 && entry.AverageHRV == 0 {
			continue
		}
		samples = append(samples, core.HeartSample{
			SourceType:     core.SourceOura,
			SourceRecordID: "oura:heart:" + entry.ID,
			RecordedAt:     day,
			RestingBPM:     entry.LowestHeartRate,
			HRVMillis:      entry.AverageHRV,
		})
	}
	return samples, nil
}

func (a *Adapter) FetchWorkouts(ctx context.Context, _ string, _ core.DateRange) ([]core.WorkoutRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceOura, core.DataWorkout)
}

func (a *Adapter) FetchBody(ctx context.Context, _ string, _ core.DateRange) ([]core.BodyRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceOura, core.DataBody)
}

type personalInfoResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Adapter) GetUserProfile(ctx context.Context, accessToken string) (core.UserProfile, error) {
	var res personalInfoResponse
	url := a.cfg.BaseURL + "/v2/usercollection/personal_info"
	if err := providers.GetJSON(ctx, a.client, core.SourceOura, url, accessToken, &res); err != nil {
		return core.UserProfile{}, err
	}
	if strings.TrimSpace(res.ID) == "" {
		return core.UserProfile{}, core.NewProviderError("oura personal info missing id", core.SourceOura)
	}
	return core.UserProfile{
		SourceUserID: res.ID,
		DisplayName:  res.Email,
		Raw:          map[string]any{"id": res.ID},
	}, nil
}

var (
	_ core.Adapter        = (*Adapter)(nil)
	_ core.TokenRefresher = (*Adapter)(nil)
	_ core.TokenRevoker   = (*Adapter)(nil)
)
