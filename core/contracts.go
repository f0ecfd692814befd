package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Capability string

const (
	CapabilityActivity Capability = "activity"
	CapabilityWorkout  Capability = "workout"
	CapabilitySleep    Capability = "sleep"
	CapabilityBody     Capability = "body"
	CapabilityHeart    Capability = "heart"
	CapabilityHRV      Capability = "hrv"
	CapabilityWebhook  Capability = "webhook"
)

type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(capabilities ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(capabilities))
	for _, capability := range capabilities {
		set[capability] = struct{}{}
	}
	return set
}

func (s CapabilitySet) Has(capability Capability) bool {
	_, ok := s[capability]
	return ok
}

// CapabilityFor maps a data type to the capability flag that gates its fetch.
func CapabilityFor(dataType DataType) Capability {
	switch dataType {
	case DataWorkout:
		return CapabilityWorkout
	case DataSleep:
		return CapabilitySleep
	case DataBody:
		return CapabilityBody
	case DataHeart:
		return CapabilityHeart
	case DataHRV:
		return CapabilityHRV
	default:
		return CapabilityActivity
	}
}

// RateBudget is a provider's documented request allowance. Zero values mean
// the provider documents no limit for that window.
type RateBudget struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// Adapter is the per-provider normalization boundary. Implementations fetch
// raw provider payloads over a date range and return canonical records;
// everything provider specific (pagination, units, taxonomies, date-range
// expression) stays behind this interface. Adapters signal unsupported
// capabilities instead of implementing every method.
type Adapter interface {
	SourceType() SourceType
	Capabilities() CapabilitySet
	RateBudget() RateBudget

	FetchActivities(ctx context.Context, accessToken string, dateRange DateRange) ([]ActivityRecord, error)
	FetchWorkouts(ctx context.Context, accessToken string, dateRange DateRange) ([]WorkoutRecord, error)
	FetchSleep(ctx context.Context, accessToken string, dateRange DateRange) ([]SleepRecord, error)
	FetchBody(ctx context.Context, accessToken string, dateRange DateRange) ([]BodyRecord, error)
	FetchHeart(ctx context.Context, accessToken string, dateRange DateRange) ([]HeartSample, error)

	GetUserProfile(ctx context.Context, accessToken string) (UserProfile, error)
}

// TokenRefresher is the provider-specific refresh strategy. The returned
// TokenSet carries exactly what the provider rotated: a missing RefreshToken
// means the stored one stays valid.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenSet, error)
}

// TokenRevoker invalidates credentials at the provider on disconnect.
// Failures are ignored by callers; revocation is best effort.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, accessToken, refreshToken string) error
}

// WebhookEvent is a parsed provider push notification. It identifies the
// provider-side user and the data type that changed; it never carries metric
// values, which always arrive through the fetch path.
type WebhookEvent struct {
	SourceUserID string
	DataType     DataType
	OccurredAt   time.Time
	Raw          map[string]any
}

// WebhookAdapter is implemented by adapters whose provider pushes change
// notifications.
type WebhookAdapter interface {
	VerifyWebhook(signature string, payload []byte) error
	ParseWebhookPayload(payload []byte) ([]WebhookEvent, error)
}

type Registry interface {
	Register(adapter Adapter) error
	Get(source SourceType) (Adapter, bool)
	List() []Adapter
}

// Field contexts keep access and refresh token ciphertexts cryptographically
// separate at rest.
const (
	FieldContextAccessToken  = "oauth.access_token"
	FieldContextRefreshToken = "oauth.refresh_token"
)

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte, fieldContext string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, fieldContext string) ([]byte, error)
}

type SourceStore interface {
	Upsert(ctx context.Context, source ConnectedSource) (ConnectedSource, error)
	Get(ctx context.Context, customerID string, sourceType SourceType) (ConnectedSource, error)
	ListByCustomer(ctx context.Context, customerID string) ([]ConnectedSource, error)
	FindBySourceUser(ctx context.Context, sourceType SourceType, sourceUserID string) (ConnectedSource, error)
	Update(ctx context.Context, source ConnectedSource) (ConnectedSource, error)
	// SetPrimary flags one provider as the customer's primary source and
	// atomically unsets the flag on every other provider.
	SetPrimary(ctx context.Context, customerID string, sourceType SourceType) error
	// Disconnect soft deletes: tokens cleared, sync disabled,
	// disconnected_at stamped. Idempotent.
	Disconnect(ctx context.Context, customerID string, sourceType SourceType, at time.Time) error
}

type PriorityStore interface {
	// Get returns nil when the customer has no override for the data type.
	Get(ctx context.Context, customerID string, dataType DataType) (*SourcePriority, error)
	Put(ctx context.Context, priority SourcePriority) error
}

// UpsertStats reports how an idempotent batch resolved, feeding SyncRun totals.
type UpsertStats struct {
	Inserted int
	Updated  int
}

func (s UpsertStats) Add(other UpsertStats) UpsertStats {
	return UpsertStats{Inserted: s.Inserted + other.Inserted, Updated: s.Updated + other.Updated}
}

// DedupeAssignment is one record's election outcome.
type DedupeAssignment struct {
	RecordID      string
	IsPrimary     bool
	DedupeGroupID string
}

type RecordStore interface {
	UpsertActivities(ctx context.Context, records []ActivityRecord) (UpsertStats, error)
	UpsertWorkouts(ctx context.Context, records []WorkoutRecord) (UpsertStats, error)
	UpsertSleep(ctx context.Context, records []SleepRecord) (UpsertStats, error)
	UpsertBody(ctx context.Context, records []BodyRecord) (UpsertStats, error)
	UpsertHeart(ctx context.Context, samples []HeartSample) (UpsertStats, error)

	ListActivities(ctx context.Context, customerID string, dateRange DateRange) ([]ActivityRecord, error)
	ListWorkouts(ctx context.Context, customerID string, dateRange DateRange) ([]WorkoutRecord, error)
	ListSleep(ctx context.Context, customerID string, dateRange DateRange) ([]SleepRecord, error)
	ListBody(ctx context.Context, customerID string, dateRange DateRange) ([]BodyRecord, error)
	ListHeart(ctx context.Context, customerID string, dateRange DateRange) ([]HeartSample, error)

	ApplyActivityDedupe(ctx context.Context, assignments []DedupeAssignment) error
	ApplyWorkoutDedupe(ctx context.Context, assignments []DedupeAssignment) error
	ApplySleepDedupe(ctx context.Context, assignments []DedupeAssignment) error
	ApplyBodyDedupe(ctx context.Context, assignments []DedupeAssignment) error
	ApplyHeartDedupe(ctx context.Context, assignments []DedupeAssignment) error
}

type SyncRunStore interface {
	Create(ctx context.Context, run SyncRun) (SyncRun, error)
	Update(ctx context.Context, run SyncRun) (SyncRun, error)
	// FindRunning returns the in-flight run for (customer, source), if any.
	FindRunning(ctx context.Context, customerID string, sourceType SourceType) (SyncRun, bool, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]SyncRun, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
