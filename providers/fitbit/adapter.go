// Package fitbit normalizes Fitbit Web API data. Fitbit only answers
// single-day summary queries, so ranged fetches iterate day by day, and its
// token endpoint wants the client secret in a Basic auth header.
package fitbit

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

const (
	defaultBaseURL = "https://api.fitbit.com"
	authURL        = "https://www.fitbit.com/oauth2/authorize"
	tokenPath      = "/oauth2/token"
	revokePath     = "/oauth2/revoke"
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
		Source:        core.SourceFitbit,
		AuthURL:       authURL,
		TokenURL:      baseURL + tokenPath,
		RevokeURL:     baseURL + revokePath,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		DefaultScopes: []string{"activity", "heartrate", "sleep", "profile"},
		Now:           cfg.Now,
		HTTPClient:    cfg.HTTPClient,
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
	return core.SourceFitbit
}

func (a *Adapter) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(
		core.CapabilityActivity,
		core.CapabilityWorkout,
		core.CapabilitySleep,
		core.CapabilityHeart,
		core.CapabilityWebhook,
	)
}

func (a *Adapter) RateBudget() core.RateBudget {
	return core.RateBudget{PerHour: 150}
}

func (a *Adapter) OAuth() *providers.OAuth2Client {
	return a.oauth
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	return a.oauth.Refresh(ctx, refreshToken)
}

func (a *Adapter) RevokeToken(ctx context.Context, accessToken, refreshToken string) error {
	if err := a.oauth.Revoke(ctx, accessToken); err != nil {
		return err
	}
	if strings.TrimSpace(refreshToken) != "" {
		return a.oauth.Revoke(ctx, refreshToken)
	}
	return nil
}

type dailySummaryResponse struct {
	Summary struct {
		Steps            int     `json:"steps"`
		CaloriesOut      float64 `json:"caloriesOut"`
		FairlyActiveMin  int     `json:"fairlyActiveMinutes"`
		VeryActiveMin    int     `json:"veryActiveMinutes"`
		LightlyActiveMin int     `json:"lightlyActiveMinutes"`
		SedentaryMinutes int     `json:"sedentaryMinutes"`
		Distances        []struct {
			Activity string  `json:"activity"`
			Distance float64 `json:"distance"`
		} `json:"distances"`
	} `json:"summary"`
}

func (a *Adapter) FetchActivities(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.ActivityRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	records := []core.ActivityRecord{}
	for _, day := range dateRange.Days() {
		dayStr := day.Format(dayFormat)
		var res dailySummaryResponse
		url := fmt.Sprintf("%s/1/user/-/activities/date/%s.json", a.cfg.BaseURL, dayStr)
		if err := providers.GetJSON(ctx, a.client, core.SourceFitbit, url, accessToken, &res); err != nil {
			return nil, err
		}

		var distanceKm float64
		for _, entry := range res.Summary.Distances {
			if entry.Activity == "total" {
				distanceKm = entry.Distance
				break
			}
		}
		records = append(records, core.ActivityRecord{
			SourceType:     core.SourceFitbit,
			SourceRecordID: "fitbit:activity:" + dayStr,
			Date:           day,
			Steps:          res.Summary.Steps,
			CaloriesOut:    res.Summary.CaloriesOut,
			DistanceMeters: providers.KilometersToMeters(distanceKm),
			ActiveMinutes:  res.Summary.FairlyActiveMin + res.Summary.VeryActiveMin,
		})
	}
	return records, nil
}

type activityListResponse struct {
	Activities []struct {
		LogID           int64   `json:"logId"`
		ActivityName    string  `json:"activityName"`
		StartTime       string  `json:"startTime"`
		DurationMillis  int64   `json:"duration"`
		Calories        float64 `json:"calories"`
		DistanceKm      float64 `json:"distance"`
		AverageHeartBPM int     `json:"averageHeartRate"`
	} `json:"activities"`
}

func (a *Adapter) FetchWorkouts(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.WorkoutRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	var res activityListResponse
	url := fmt.Sprintf(
		"%s/1/user/-/activities/list.json?afterDate=%s&sort=asc&limit=100&offset=0",
		a.cfg.BaseURL,
		dateRange.Start.Format(dayFormat),
	)
	if err := providers.GetJSON(ctx, a.client, core.SourceFitbit, url, accessToken, &res); err != nil {
		return nil, err
	}

	records := []core.WorkoutRecord{}
	for _, entry := range res.Activities {
		start, err := time.Parse(time.RFC3339, entry.StartTime)
		if err != nil {
			continue
		}
		start = start.UTC()
		if !dateRange.Contains(start) {
			continue
		}
		records = append(records, core.WorkoutRecord{
			SourceType:      core.SourceFitbit,
			SourceRecordID:  fmt.Sprintf("fitbit:workout:%d", entry.LogID),
			StartTime:       start,
			EndTime:         start.Add(time.Duration(entry.DurationMillis) * time.Millisecond),
			WorkoutType:     providers.NormalizeWorkoutType(entry.ActivityName),
			CaloriesOut:     entry.Calories,
			DistanceMeters:  providers.KilometersToMeters(entry.DistanceKm),
			AvgHeartRateBPM: entry.AverageHeartBPM,
		})
	}
	return records, nil
}

type sleepResponse struct {
	Sleep []struct {
		LogID         int64   `json:"logId"`
		DateOfSleep   string  `json:"dateOfSleep"`
		StartTime     string  `json:"startTime"`
		EndTime       string  `json:"endTime"`
		MinutesAsleep int     `json:"minutesAsleep"`
		Efficiency    float64 `json:"efficiency"`
		Levels        struct {
			Summary struct {
				Deep struct {
					Minutes int `json:"minutes"`
				} `json:"deep"`
				Rem struct {
					Minutes int `json:"minutes"`
				} `json:"rem"`
				Light struct {
					Minutes int `json:"minutes"`
				} `json:"light"`
				Wake struct {
					Minutes int `json:"minutes"`
				} `json:"wake"`
			} `json:"summary"`
		} `json:"levels"`
	} `json:"sleep"`
}

func (a *Adapter) FetchSleep(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.SleepRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	records := []core.SleepRecord{}
	for _, day := range dateRange.Days() {
		dayStr := day.Format(dayFormat)
		var res sleepResponse
		url := fmt.Sprintf("%s/1.2/user/-/sleep/date/%s.json", a.cfg.BaseURL, dayStr)
		if err := providers.GetJSON(ctx, a.client, core.SourceFitbit, url, accessToken, &res); err != nil {
			return nil, err
		}
		for _, entry := range res.Sleep {
			record := core.SleepRecord{
				SourceType:     core.SourceFitbit,
				SourceRecordID: fmt.Sprintf("fitbit:sleep:%d", entry.LogID),
				Date:           day,
				TotalMinutes:   entry.MinutesAsleep,
				DeepMinutes:    entry.Levels.Summary.Deep.Minutes,
				RemMinutes:     entry.Levels.Summary.Rem.Minutes,
				LightMinutes:   entry.Levels.Summary.Light.Minutes,
				AwakeMinutes:   entry.Levels.Summary.Wake.Minutes,
				Efficiency:     entry.Efficiency,
			}
			if start, err := time.Parse("2006-01-02T15:04:05.000", entry.StartTime); err == nil {
				record.StartTime = start.UTC()
			}
			if end, err := time.Parse("2006-01-02T15:04:05.000", entry.EndTime); err == nil {
				record.EndTime = end.UTC()
			}
			records = append(records, record)
		}
	}
	return records, nil
}

type heartResponse struct {
	ActivitiesHeart []struct {
		DateTime string `json:"dateTime"`
		Value    struct {
			RestingHeartRate int `json:"restingHeartRate"`
		} `json:"value"`
	} `json:"activities-heart"`
}

func (a *Adapter) FetchHeart(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.HeartSample, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	samples := []core.HeartSample{}
	for _, day := range dateRange.Days() {
		dayStr := day.Format(dayFormat)
		var res heartResponse
		url := fmt.Sprintf("%s/1/user/-/activities/heart/date/%s/1d.json", a.cfg.BaseURL, dayStr)
		if err := providers.GetJSON(ctx, a.client, core.SourceFitbit, url, accessToken, &res); err != nil {
			return nil, err
		}
		for _, entry := range res.ActivitiesHeart {
			if entry.Value.RestingHeartRate == 0 {
				continue
			}
			samples = append(samples, core.HeartSample{
				SourceType:     core.SourceFitbit,
				SourceRecordID: "fitbit:heart:" + dayStr,
				RecordedAt:     day,
				RestingBPM:     entry.Value.RestingHeartRate,
			})
		}
	}
	return samples, nil
}

func (a *Adapter) FetchBody(ctx context.Context, _ string, _ core.DateRange) ([]core.BodyRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceFitbit, core.DataBody)
}

type profileResponse struct {
	User struct {
		EncodedID   string `json:"encodedId"`
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

func (a *Adapter) GetUserProfile(ctx context.Context, accessToken string) (core.UserProfile, error) {
	var res profileResponse
	url := a.cfg.BaseURL + "/1/user/-/profile.json"
	if err := providers.GetJSON(ctx, a.client, core.SourceFitbit, url, accessToken, &res); err != nil {
		return core.UserProfile{}, err
	}
	if strings.TrimSpace(res.User.EncodedID) == "" {
		return core.UserProfile{}, core.NewProviderError("fitbit profile missing encoded id", core.SourceFitbit)
	}
	return core.UserProfile{
		SourceUserID: res.User.EncodedID,
		DisplayName:  res.User.DisplayName,
		Raw:          map[string]any{"encodedId": res.User.EncodedID},
	}, nil
}

// VerifyWebhook checks Fitbit's X-Fitbit-Signature header: base64 of
// HMAC-SHA1 over the raw body, keyed with the client secret plus "&".
func (a *Adapter) VerifyWebhook(signature string, payload []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return core.NewValidationError("fitbit webhook signature is required")
	}
	mac := hmac.New(sha1.New, []byte(a.cfg.ClientSecret+"&"))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return core.NewValidationError("fitbit webhook signature mismatch")
	}
	return nil
}

type webhookNotification struct {
	CollectionType string `json:"collectionType"`
	OwnerID        string `json:"ownerId"`
	Date           string `json:"date"`
}

func (a *Adapter) ParseWebhookPayload(payload []byte) ([]core.WebhookEvent, error) {
	var notifications []webhookNotification
	if err := json.Unmarshal(payload, &notifications); err != nil {
		return nil, core.NewValidationError(fmt.Sprintf("fitbit webhook payload: %v", err))
	}
	events := make([]core.WebhookEvent, 0, len(notifications))
	for _, entry := range notifications {
		if strings.TrimSpace(entry.OwnerID) == "" {
			continue
		}
		occurredAt := time.Now().UTC()
		if parsed, err := time.Parse(dayFormat, entry.Date); err == nil {
			occurredAt = parsed
		}
		events = append(events, core.WebhookEvent{
			SourceUserID: entry.OwnerID,
			DataType:     collectionToDataType(entry.CollectionType),
			OccurredAt:   occurredAt,
			Raw: map[string]any{
				"collectionType": entry.CollectionType,
				"date":           entry.Date,
			},
		})
	}
	return events, nil
}

func collectionToDataType(collection string) core.DataType {
	switch strings.TrimSpace(strings.ToLower(collection)) {
	case "sleep":
		return core.DataSleep
	case "body":
		return core.DataBody
	case "heartrate":
		return core.DataHeart
	default:
		return core.DataActivity
	}
}

var (
	_ core.Adapter        = (*Adapter)(nil)
	_ core.TokenRefresher = (*Adapter)(nil)
	_ core.TokenRevoker   = (*Adapter)(nil)
	_ core.WebhookAdapter = (*Adapter)(nil)
)
