// Package providers holds the per-vendor adapters that normalize wearable
// data into canonical records, plus the OAuth2 plumbing they share.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-wearables/core"

	goerrors "github.com/goliatone/go-errors"
)

const maxResponseBodyBytes = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewCapabilityError reports a fetch the provider cannot serve.
func NewCapabilityError(source core.SourceType, dataType core.DataType) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("providers: %s does not support %s", source, dataType),
		goerrors.CategoryOperation,
	).
		WithCode(http.StatusNotImplemented).
		WithTextCode(core.WearablesErrorUnsupported).
		WithMetadata(map[string]any{
			"source_type": string(source),
			"data_type":   string(dataType),
		})
}

// Unsupported is embedded by adapters so they only implement the fetches
// their provider actually serves.
type Unsupported struct {
	Source core.SourceType
}

func (u Unsupported) FetchActivities(context.Context, string, core.DateRange) ([]core.ActivityRecord, error) {
	return nil, NewCapabilityError(u.Source, core.DataActivity)
}

func (u Unsupported) FetchWorkouts(context.Context, string, core.DateRange) ([]core.WorkoutRecord, error) {
	return nil, NewCapabilityError(u.Source, core.DataWorkout)
}

func (u Unsupported) FetchSleep(context.Context, string, core.DateRange) ([]core.SleepRecord, error) {
	return nil, NewCapabilityError(u.Source, core.DataSleep)
}

func (u Unsupported) FetchBody(context.Context, string, core.DateRange) ([]core.BodyRecord, error) {
	return nil, NewCapabilityError(u.Source, core.DataBody)
}

func (u Unsupported) FetchHeart(context.Context, string, core.DateRange) ([]core.HeartSample, error) {
	return nil, NewCapabilityError(u.Source, core.DataHeart)
}

// GetJSON performs an authenticated provider API call and decodes the JSON
// body into out. Non-2xx statuses map onto the domain error taxonomy: 401
// becomes an auth error, 429 a rate-limit error with the Retry-After hint,
// anything else a provider error.
func GetJSON(ctx context.Context, doer HTTPDoer, source core.SourceType, rawURL, accessToken string, out any) error {
	if doer == nil {
		return fmt.Errorf("providers: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("providers: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))
	req.Header.Set("Accept", "application/json")

	res, err := doer.Do(req)
	if err != nil {
		return core.NewProviderError(fmt.Sprintf("%s request failed: %v", source, err), source)
	}
	defer res.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return core.NewProviderError(fmt.Sprintf("%s read response: %v", source, readErr), source)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return core.NewProviderError(fmt.Sprintf("%s response exceeds %d bytes", source, maxResponseBodyBytes), source)
	}

	if err := statusToError(source, res.StatusCode, res.Header); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return core.NewProviderError(fmt.Sprintf("%s decode response: %v", source, err), source)
	}
	return nil
}

func statusToError(source core.SourceType, statusCode int, header http.Header) error {
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return core.NewAuthError(fmt.Sprintf("%s rejected the access token", source), source)
	case statusCode == http.StatusTooManyRequests:
		return core.NewRateLimitError(
			fmt.Sprintf("%s throttled the request", source),
			source,
			RetryAfterFromHeader(header, time.Now().UTC()),
		)
	default:
		return core.NewProviderError(fmt.Sprintf("%s returned status %d", source, statusCode), source)
	}
}

// RetryAfterFromHeader reads a Retry-After value in either delta-seconds or
// HTTP-date form. Zero when absent or unparseable.
func RetryAfterFromHeader(header http.Header, now time.Time) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if at, err := time.Parse(layout, raw); err == nil {
			if at.After(now) {
				return at.Sub(now)
			}
			return 0
		}
	}
	return 0
}

// MilesToMeters converts a distance reported in statute miles.
func MilesToMeters(miles float64) float64 {
	return miles * 1609.344
}

func KilometersToMeters(km float64) float64 {
	return km * 1000
}

func PoundsToKilograms(lbs float64) float64 {
	return lbs * 0.45359237
}

// NormalizeWorkoutType maps a provider's activity label to the canonical
// taxonomy. Unknown labels collapse to other.
func NormalizeWorkoutType(value string) core.WorkoutType {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "run", "running", "treadmill", "trail run", "trailrun", "virtualrun", "jogging":
		return core.WorkoutRunning
	case "walk", "walking":
		return core.WorkoutWalking
	case "bike", "biking", "cycling", "ride", "virtualride", "spinning", "mountainbikeride", "mountain biking":
		return core.WorkoutCycling
	case "swim", "swimming":
		return core.WorkoutSwimming
	case "hike", "hiking":
		return core.WorkoutHiking
	case "weights", "weighttraining", "weight training", "strength", "strength_training", "workout":
		return core.WorkoutStrength
	case "yoga":
		return core.WorkoutYoga
	case "elliptical":
		return core.WorkoutElliptical
	case "rowing", "row":
		return core.WorkoutRowing
	case "crossfit", "cross fit", "hiit", "interval_training":
		return core.WorkoutCrossfit
	default:
		return core.WorkoutOther
	}
}
