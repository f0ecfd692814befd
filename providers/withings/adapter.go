// Package withings normalizes Withings body composition and sleep summary
// data. The API is POST-form with an in-body status code instead of HTTP
// statuses, and every refresh grant invalidates the previous refresh token,
// so callers must persist rotation results immediately.
package withings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"
	"github.com/goliatone/go-wearables/providers"
)

const (
	defaultBaseURL = "https://wbsapi.withings.net"
	authURL        = "https://account.withings.com/oauth2_user/authorize2"
	tokenURL       = "https://wbsapi.withings.net/v2/oauth2"
	dayFormat      = "2006-01-02"

	// In-body status codes the API documents.
	statusOK           = 0
	statusInvalidToken = 401
	statusTooManyCalls = 601

	// Measure types from the getmeas taxonomy.
	measureWeight     = 1
	measureFatPercent = 6
	measureMuscleMass = 76
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
		Source:             core.SourceWithings,
		AuthURL:            authURL,
		TokenURL:           tokenURL,
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		ClientSecretInBody: true,
		// The v2 endpoint multiplexes grants on this parameter.
		ExtraTokenParams: map[string]string{"action": "requesttoken"},
		DefaultScopes:    []string{"user.metrics", "user.activity"},
		Now:              cfg.Now,
		HTTPClient:       cfg.HTTPClient,
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
	return core.SourceWithings
}

func (a *Adapter) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapabilityBody, core.CapabilitySleep)
}

func (a *Adapter) RateBudget() core.RateBudget {
	return core.RateBudget{PerMinute: 120}
}

func (a *Adapter) OAuth() *providers.OAuth2Client {
	return a.oauth
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (core.TokenSet, error) {
	return a.oauth.Refresh(ctx, refreshToken)
}

// RevokeToken is a no-op: Withings has no revocation endpoint, credentials
// lapse when the refresh token is abandoned.
func (a *Adapter) RevokeToken(context.Context, string, string) error {
	return nil
}

// postForm performs one API call and surfaces the in-body status code as a
// domain error.
func (a *Adapter) postForm(ctx context.Context, path, accessToken string, form url.Values, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("withings: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))

	res, err := a.client.Do(req)
	if err != nil {
		return core.NewProviderError(fmt.Sprintf("withings request failed: %v", err), core.SourceWithings)
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if readErr != nil {
		return core.NewProviderError(fmt.Sprintf("withings read response: %v", readErr), core.SourceWithings)
	}

	var envelope struct {
		Status int             `json:"status"`
		Error  string          `json:"error"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return core.NewProviderError(fmt.Sprintf("withings decode response: %v", err), core.SourceWithings)
	}

	switch envelope.Status {
	case statusOK:
	case statusInvalidToken:
		return core.NewAuthError("withings rejected the access token", core.SourceWithings)
	case statusTooManyCalls:
		return core.NewRateLimitError("withings throttled the request", core.SourceWithings, time.Minute)
	default:
		return core.NewProviderError(
			fmt.Sprintf("withings returned status %d: %s", envelope.Status, envelope.Error),
			core.SourceWithings,
		)
	}

	if out == nil || len(envelope.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Body, out); err != nil {
		return core.NewProviderError(fmt.Sprintf("withings decode body: %v", err), core.SourceWithings)
	}
	return nil
}

type measureGroupsBody struct {
	MeasureGroups []struct {
		GroupID  int64 `json:"grpid"`
		Date     int64 `json:"date"`
		Measures []struct {
			Value int64 `json:"value"`
			Type  int   `json:"type"`
			Unit  int   `json:"unit"`
		} `json:"measures"`
	} `json:"measuregrps"`
}

func (a *Adapter) FetchBody(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.BodyRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("action", "getmeas")
	form.Set("category", "1")
	form.Set("meastypes", fmt.Sprintf("%d,%d,%d", measureWeight, measureFatPercent, measureMuscleMass))
	form.Set("startdate", strconv.FormatInt(core.DayOf(dateRange.Start).Unix(), 10))
	form.Set("enddate", strconv.FormatInt(core.DayOf(dateRange.End).AddDate(0, 0, 1).Unix(), 10))

	var body measureGroupsBody
	if err := a.postForm(ctx, "/measure", accessToken, form, &body); err != nil {
		return nil, err
	}

	records := []core.BodyRecord{}
	for _, group := range body.MeasureGroups {
		record := core.BodyRecord{
			SourceType:     core.SourceWithings,
			SourceRecordID: fmt.Sprintf("withings:body:%d", group.GroupID),
			MeasuredAt:     time.Unix(group.Date, 0).UTC(),
		}
		for _, measure := range group.Measures {
			value := float64(measure.Value) * math.Pow10(measure.Unit)
			switch measure.Type {
			case measureWeight:
				record.WeightKg = value
			case measureFatPercent:
				record.BodyFatPercent = value
			case measureMuscleMass:
				record.MuscleMassKg = value
			}
		}
		if record.WeightKg == 0 && record.BodyFatPercent == 0 && record.MuscleMassKg == 0 {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

type sleepSummaryBody struct {
	Series []struct {
		ID        int64  `json:"id"`
		Date      string `json:"date"`
		StartDate int64  `json:"startdate"`
		EndDate   int64  `json:"enddate"`
		Data      struct {
			DeepDuration  int     `json:"deepsleepduration"`
			LightDuration int     `json:"lightsleepduration"`
			RemDuration   int     `json:"remsleepduration"`
			WakeDuration  int     `json:"wakeupduration"`
			Efficiency    float64 `json:"sleep_efficiency"`
		} `json:"data"`
	} `json:"series"`
}

func (a *Adapter) FetchSleep(ctx context.Context, accessToken string, dateRange core.DateRange) ([]core.SleepRecord, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("action", "getsummary")
	form.Set("startdateymd", dateRange.Start.Format(dayFormat))
	form.Set("enddateymd", dateRange.End.Format(dayFormat))

	var body sleepSummaryBody
	if err := a.postForm(ctx, "/v2/sleep", accessToken, form, &body); err != nil {
		return nil, err
	}

	records := []core.SleepRecord{}
	for _, entry := range body.Series {
		day, err := time.Parse(dayFormat, entry.Date)
		if err != nil {
			continue
		}
		deep := entry.Data.DeepDuration / 60
		light := entry.Data.LightDuration / 60
		rem := entry.Data.RemDuration / 60
		records = append(records, core.SleepRecord{
			SourceType:     core.SourceWithings,
			SourceRecordID: fmt.Sprintf("withings:sleep:%d", entry.ID),
			Date:           day,
			StartTime:      time.Unix(entry.StartDate, 0).UTC(),
			EndTime:        time.Unix(entry.EndDate, 0).UTC(),
			TotalMinutes:   deep + light + rem,
			DeepMinutes:    deep,
			LightMinutes:   light,
			RemMinutes:     rem,
			AwakeMinutes:   entry.Data.WakeDuration / 60,
			Efficiency:     entry.Data.Efficiency * 100,
		})
	}
	return records, nil
}

func (a *Adapter) FetchActivities(ctx context.Context, _ string, _ core.DateRange) ([]core.ActivityRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceWithings, core.DataActivity)
}

func (a *Adapter) FetchWorkouts(ctx context.Context, _ string, _ core.DateRange) ([]core.WorkoutRecord, error) {
	return nil, providers.NewCapabilityError(core.SourceWithings, core.DataWorkout)
}

func (a *Adapter) FetchHeart(ctx context.Context, _ string, _ core.DateRange) ([]core.HeartSample, error) {
	return nil, providers.NewCapabilityError(core.SourceWithings, core.DataHeart)
}

// GetUserProfile resolves the account id Withings reports as the demouser
// field on getdevice. The canonical userid also arrives as a query parameter
// on the OAuth callback; callers that captured it there can skip this call.
func (a *Adapter) GetUserProfile(ctx context.Context, accessToken string) (core.UserProfile, error) {
	form := url.Values{}
	form.Set("action", "getdevice")

	var body struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
		Devices []struct {
			DeviceID string `json:"deviceid"`
		} `json:"devices"`
	}
	if err := a.postForm(ctx, "/v2/user", accessToken, form, &body); err != nil {
		return core.UserProfile{}, err
	}
	if body.User.ID == 0 && len(body.Devices) == 0 {
		return core.UserProfile{}, core.NewProviderError("withings returned no account identity", core.SourceWithings)
	}
	sourceUserID := strconv.FormatInt(body.User.ID, 10)
	if body.User.ID == 0 {
		sourceUserID = body.Devices[0].DeviceID
	}
	return core.UserProfile{
		SourceUserID: sourceUserID,
		Raw:          map[string]any{"user_id": body.User.ID},
	}, nil
}

var (
	_ core.Adapter        = (*Adapter)(nil)
	_ core.TokenRefresher = (*Adapter)(nil)
	_ core.TokenRevoker   = (*Adapter)(nil)
)
