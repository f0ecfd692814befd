package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSourceType           = errors.New("core: invalid source type")
	ErrInvalidDataType             = errors.New("core: invalid data type")
	ErrInvalidDateRange            = errors.New("core: invalid date range")
	ErrInvalidSyncRunType          = errors.New("core: invalid sync run type")
	ErrInvalidSyncRunTransition    = errors.New("core: invalid sync run status transition")
	ErrConnectedSourceNotFound     = errors.New("core: connected source not found")
	ErrSyncRunNotFound             = errors.New("core: sync run not found")
	ErrSourceUserMappingNotFound   = errors.New("core: no customer mapped to source user")
	ErrRecordTemporalKeyIncomplete = errors.New("core: record temporal key is incomplete")
)

type SourceType string

const (
	SourceFitbit      SourceType = "fitbit"
	SourceOura        SourceType = "oura"
	SourceStrava      SourceType = "strava"
	SourceWithings    SourceType = "withings"
	SourceAppleHealth SourceType = "apple_health"
)

// Native reports whether the source is a phone health store that pushes
// records through registration rather than being pulled over OAuth APIs.
func (s SourceType) Native() bool {
	return s == SourceAppleHealth
}

func (s SourceType) Validate() error {
	switch s {
	case SourceFitbit, SourceOura, SourceStrava, SourceWithings, SourceAppleHealth:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, string(s))
	}
}

func ParseSourceType(value string) (SourceType, error) {
	source := SourceType(strings.TrimSpace(strings.ToLower(value)))
	if err := source.Validate(); err != nil {
		return "", err
	}
	return source, nil
}

type DataType string

const (
	DataActivity DataType = "activity"
	DataWorkout  DataType = "workout"
	DataSleep    DataType = "sleep"
	DataBody     DataType = "body"
	DataHeart    DataType = "heart"
	DataHRV      DataType = "hrv"
)

func (d DataType) Validate() error {
	switch d {
	case DataActivity, DataWorkout, DataSleep, DataBody, DataHeart, DataHRV:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDataType, string(d))
	}
}

func AllDataTypes() []DataType {
	return []DataType{DataActivity, DataWorkout, DataSleep, DataBody, DataHeart, DataHRV}
}

type WorkoutType string

const (
	WorkoutRunning    WorkoutType = "running"
	WorkoutWalking    WorkoutType = "walking"
	WorkoutCycling    WorkoutType = "cycling"
	WorkoutSwimming   WorkoutType = "swimming"
	WorkoutHiking     WorkoutType = "hiking"
	WorkoutStrength   WorkoutType = "strength"
	WorkoutYoga       WorkoutType = "yoga"
	WorkoutElliptical WorkoutType = "elliptical"
	WorkoutRowing     WorkoutType = "rowing"
	WorkoutCrossfit   WorkoutType = "crossfit"
	WorkoutOther      WorkoutType = "other"
)

// DateRange is a closed day-granular range in UTC.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: DayOf(start), End: DayOf(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidDateRange)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end precedes start", ErrInvalidDateRange)
	}
	return nil
}

func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Days enumerates every UTC day in the range inclusive. Providers that only
// accept single-day queries iterate this.
func (r DateRange) Days() []time.Time {
	if r.Validate() != nil {
		return nil
	}
	days := []time.Time{}
	for day := DayOf(r.Start); !day.After(DayOf(r.End)); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

// Contains reports whether the instant falls inside the range, with the end
// day counted whole.
func (r DateRange) Contains(at time.Time) bool {
	if r.Validate() != nil {
		return false
	}
	at = at.UTC()
	return !at.Before(DayOf(r.Start)) && at.Before(DayOf(r.End).AddDate(0, 0, 1))
}

// DayOf truncates an instant to its UTC day.
func DayOf(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
}

// TokenSet is the single normalized shape every provider refresh strategy and
// OAuth completion returns. RefreshToken stays empty when the provider did not
// rotate it; callers must not assume rotation occurred.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

func (t TokenSet) Validate() error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("core: token set requires an access token")
	}
	return nil
}

// ConnectedSource is one customer's link to one provider. Tokens are stored
// encrypted; at most one non-disconnected row exists per (customer, source).
type ConnectedSource struct {
	ID                    string
	CustomerID            string
	SourceType            SourceType
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenExpiresAt        *time.Time
	ScopesGranted         []string
	SourceUserID          string
	IsPrimarySource       bool
	SyncEnabled           bool
	LastSyncAt            *time.Time
	LastSyncStatus        string
	LastError             string
	ConnectedAt           time.Time
	DisconnectedAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (c ConnectedSource) Disconnected() bool {
	return c.DisconnectedAt != nil
}

func (c ConnectedSource) HasRefreshToken() bool {
	return len(c.EncryptedRefreshToken) > 0
}

// SourcePriority is a customer's override of the default source ordering for
// one data type. The first entry wins dedupe elections.
type SourcePriority struct {
	CustomerID string
	DataType   DataType
	Ordered    []SourceType
	UpdatedAt  time.Time
}

// DefaultSourcePriority returns the built-in election ordering for a data
// type. Direct wearables outrank phone health-store aggregators so mirrored
// values never shadow the device that produced them.
func DefaultSourcePriority(dataType DataType) []SourceType {
	switch dataType {
	case DataWorkout:
		return []SourceType{SourceStrava, SourceFitbit, SourceOura, SourceWithings, SourceAppleHealth}
	case DataBody:
		return []SourceType{SourceWithings, SourceFitbit, SourceOura, SourceStrava, SourceAppleHealth}
	case DataSleep, DataHRV:
		return []SourceType{SourceOura, SourceFitbit, SourceWithings, SourceStrava, SourceAppleHealth}
	default:
		return []SourceType{SourceFitbit, SourceOura, SourceStrava, SourceWithings, SourceAppleHealth}
	}
}

// EffectivePriority resolves the ordering used for an election: the customer
// override when present, else the built-in default for the data type.
func EffectivePriority(override *SourcePriority, dataType DataType) []SourceType {
	if override != nil && len(override.Ordered) > 0 {
		return append([]SourceType(nil), override.Ordered...)
	}
	return DefaultSourcePriority(dataType)
}

// ActivityRecord is a one-day aggregate (steps, calories, distance) from one
// source. Date is the temporal key; SourceRecordID the idempotent upsert key.
type ActivityRecord struct {
	ID             string
	CustomerID     string
	SourceType     SourceType
	SourceRecordID string
	Date           time.Time
	Steps          int
	CaloriesOut    float64
	DistanceMeters float64
	ActiveMinutes  int
	IsPrimary      bool
	DedupeGroupID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r ActivityRecord) Validate() error {
	if err := r.SourceType.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.CustomerID) == "" || strings.TrimSpace(r.SourceRecordID) == "" {
		return fmt.Errorf("%w: customer id and source record id are required", ErrRecordTemporalKeyIncomplete)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: activity date is required", ErrRecordTemporalKeyIncomplete)
	}
	return nil
}

type WorkoutRecord struct {
	ID              string
	CustomerID      string
	SourceType      SourceType
	SourceRecordID  string
	StartTime       time.Time
	EndTime         time.Time
	WorkoutType     WorkoutType
	CaloriesOut     float64
	DistanceMeters  float64
	AvgHeartRateBPM int
	IsPrimary       bool
	DedupeGroupID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r WorkoutRecord) Validate() error {
	if err := r.SourceType.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.CustomerID) == "" || strings.TrimSpace(r.SourceRecordID) == "" {
		return fmt.Errorf("%w: customer id and source record id are required", ErrRecordTemporalKeyIncomplete)
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("%w: workout start time is required", ErrRecordTemporalKeyIncomplete)
	}
	return nil
}

func (r WorkoutRecord) Duration() time.Duration {
	if r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

type SleepRecord struct {
	ID             string
	CustomerID     string
	SourceType     SourceType
	SourceRecordID string
	Date           time.Time
	StartTime      time.Time
	EndTime        time.Time
	TotalMinutes   int
	DeepMinutes    int
	RemMinutes     int
	LightMinutes   int
	AwakeMinutes   int
	Efficiency     float64
	IsPrimary      bool
	DedupeGroupID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r SleepRecord) Validate() error {
	if err := r.SourceType.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.CustomerID) == "" || strings.TrimSpace(r.SourceRecordID) == "" {
		return fmt.Errorf("%w: customer id and source record id are required", ErrRecordTemporalKeyIncomplete)
	}
	if r.Date.IsZero() {
		return fmt.Errorf("%w: sleep date is required", ErrRecordTemporalKeyIncomplete)
	}
	return nil
}

type BodyRecord struct {
	ID             string
	CustomerID     string
	SourceType     SourceType
	SourceRecordID string
	MeasuredAt     time.Time
	WeightKg       float64
	BodyFatPercent float64
	MuscleMassKg   float64
	BMI            float64
	IsPrimary      bool
	DedupeGroupID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r BodyRecord) Validate() error {
	if err := r.SourceType.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.CustomerID) == "" || strings.TrimSpace(r.SourceRecordID) == "" {
		return fmt.Errorf("%w: customer id and source record id are required", ErrRecordTemporalKeyIncomplete)
	}
	if r.MeasuredAt.IsZero() {
		return fmt.Errorf("%w: measurement time is required", ErrRecordTemporalKeyIncomplete)
	}
	return nil
}

type HeartSample struct {
	ID             string
	CustomerID     string
	SourceType     SourceType
	SourceRecordID string
	RecordedAt     time.Time
	BPM            int
	RestingBPM     int
	HRVMillis      float64
	IsPrimary      bool
	DedupeGroupID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r HeartSample) Validate() error {
	if err := r.SourceType.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.CustomerID) == "" || strings.TrimSpace(r.SourceRecordID) == "" {
		return fmt.Errorf("%w: customer id and source record id are required", ErrRecordTemporalKeyIncomplete)
	}
	if r.RecordedAt.IsZero() {
		return fmt.Errorf("%w: sample time is required", ErrRecordTemporalKeyIncomplete)
	}
	return nil
}

type SyncRunType string

const (
	SyncRunFull        SyncRunType = "full"
	SyncRunIncremental SyncRunType = "incremental"
	SyncRunManual      SyncRunType = "manual"
	SyncRunWebhook     SyncRunType = "webhook"
)

func (t SyncRunType) Validate() error {
	switch t {
	case SyncRunFull, SyncRunIncremental, SyncRunManual, SyncRunWebhook:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSyncRunType, string(t))
	}
}

type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusSucceeded SyncRunStatus = "succeeded"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	SyncRunStatusSkipped   SyncRunStatus = "skipped"
)

// SyncRun is one append-only audit row per sync attempt.
type SyncRun struct {
	ID          string
	CustomerID  string
	SourceType  SourceType
	SyncType    SyncRunType
	Status      SyncRunStatus
	Fetched     int
	Inserted    int
	Updated     int
	Deduped     int
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

func (r *SyncRun) TransitionTo(status SyncRunStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.Status == status {
		return nil
	}
	if !syncRunTransitionAllowed(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncRunTransition, r.Status, status)
	}
	r.Status = status
	if status != SyncRunStatusRunning {
		completed := now.UTC()
		r.CompletedAt = &completed
	}
	return nil
}

func syncRunTransitionAllowed(current, next SyncRunStatus) bool {
	allowed := map[SyncRunStatus]map[SyncRunStatus]struct{}{
		SyncRunStatusRunning: {
			SyncRunStatusSucceeded: {},
			SyncRunStatusFailed:    {},
			SyncRunStatusSkipped:   {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// UserProfile is the provider-side account identity an adapter resolves so
// webhook payloads can be mapped back to a customer.
type UserProfile struct {
	SourceUserID string
	DisplayName  string
	Raw          map[string]any
}
