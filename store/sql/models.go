package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectedSourceRecord struct {
	bun.BaseModel `bun:"table:connected_sources,alias:cs"`

	ID                    string     `bun:"id,pk"`
	CustomerID            string     `bun:"customer_id,notnull"`
	SourceType            string     `bun:"source_type,notnull"`
	EncryptedAccessToken  []byte     `bun:"encrypted_access_token"`
	EncryptedRefreshToken []byte     `bun:"encrypted_refresh_token"`
	TokenExpiresAt        *time.Time `bun:"token_expires_at,nullzero"`
	ScopesGranted         []string   `bun:"scopes_granted,type:jsonb,notnull"`
	SourceUserID          string     `bun:"source_user_id"`
	IsPrimarySource       bool       `bun:"is_primary_source,notnull"`
	SyncEnabled           bool       `bun:"sync_enabled,notnull"`
	LastSyncAt            *time.Time `bun:"last_sync_at,nullzero"`
	LastSyncStatus        string     `bun:"last_sync_status"`
	LastError             string     `bun:"last_error"`
	ConnectedAt           time.Time  `bun:"connected_at,nullzero,notnull"`
	DisconnectedAt        *time.Time `bun:"disconnected_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type sourcePriorityRecord struct {
	bun.BaseModel `bun:"table:source_priorities,alias:sp"`

	ID         string    `bun:"id,pk"`
	CustomerID string    `bun:"customer_id,notnull"`
	DataType   string    `bun:"data_type,notnull"`
	Ordered    []string  `bun:"ordered,type:jsonb,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Record tables carry a unique key on (customer_id, source_type,
// source_record_id) so upserts are idempotent per provider record.
type activityRowRecord struct {
	bun.BaseModel `bun:"table:activity_records,alias:ar"`

	ID             string    `bun:"id,pk"`
	CustomerID     string    `bun:"customer_id,notnull"`
	SourceType     string    `bun:"source_type,notnull"`
	SourceRecordID string    `bun:"source_record_id,notnull"`
	Date           time.Time `bun:"date,notnull"`
	Steps          int       `bun:"steps,notnull"`
	CaloriesOut    float64   `bun:"calories_out,notnull"`
	DistanceMeters float64   `bun:"distance_meters,notnull"`
	ActiveMinutes  int       `bun:"active_minutes,notnull"`
	IsPrimary      bool      `bun:"is_primary,notnull"`
	DedupeGroupID  string    `bun:"dedupe_group_id"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type workoutRowRecord struct {
	bun.BaseModel `bun:"table:workout_records,alias:wr"`

	ID              string    `bun:"id,pk"`
	CustomerID      string    `bun:"customer_id,notnull"`
	SourceType      string    `bun:"source_type,notnull"`
	SourceRecordID  string    `bun:"source_record_id,notnull"`
	StartTime       time.Time `bun:"start_time,notnull"`
	EndTime         time.Time `bun:"end_time,nullzero"`
	WorkoutType     string    `bun:"workout_type,notnull"`
	CaloriesOut     float64   `bun:"calories_out,notnull"`
	DistanceMeters  float64   `bun:"distance_meters,notnull"`
	AvgHeartRateBPM int       `bun:"avg_heart_rate_bpm,notnull"`
	IsPrimary       bool      `bun:"is_primary,notnull"`
	DedupeGroupID   string    `bun:"dedupe_group_id"`
	CreatedAt       time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type sleepRowRecord struct {
	bun.BaseModel `bun:"table:sleep_records,alias:slr"`

	ID             string    `bun:"id,pk"`
	CustomerID     string    `bun:"customer_id,notnull"`
	SourceType     string    `bun:"source_type,notnull"`
	SourceRecordID string    `bun:"source_record_id,notnull"`
	Date           time.Time `bun:"date,notnull"`
	StartTime      time.Time `bun:"start_time,nullzero"`
	EndTime        time.Time `bun:"end_time,nullzero"`
	TotalMinutes   int       `bun:"total_minutes,notnull"`
	DeepMinutes    int       `bun:"deep_minutes,notnull"`
	RemMinutes     int       `bun:"rem_minutes,notnull"`
	LightMinutes   int       `bun:"light_minutes,notnull"`
	AwakeMinutes   int       `bun:"awake_minutes,notnull"`
	Efficiency     float64   `bun:"efficiency,notnull"`
	IsPrimary      bool      `bun:"is_primary,notnull"`
	DedupeGroupID  string    `bun:"dedupe_group_id"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type bodyRowRecord struct {
	bun.BaseModel `bun:"table:body_records,alias:br"`

	ID             string    `bun:"id,pk"`
	CustomerID     string    `bun:"customer_id,notnull"`
	SourceType     string    `bun:"source_type,notnull"`
	SourceRecordID string    `bun:"source_record_id,notnull"`
	MeasuredAt     time.Time `bun:"measured_at,notnull"`
	WeightKg       float64   `bun:"weight_kg,notnull"`
	BodyFatPercent float64   `bun:"body_fat_percent,notnull"`
	MuscleMassKg   float64   `bun:"muscle_mass_kg,notnull"`
	BMI            float64   `bun:"bmi,notnull"`
	IsPrimary      bool      `bun:"is_primary,notnull"`
	DedupeGroupID  string    `bun:"dedupe_group_id"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type heartRowRecord struct {
	bun.BaseModel `bun:"table:heart_samples,alias:hs"`

	ID             string    `bun:"id,pk"`
	CustomerID     string    `bun:"customer_id,notnull"`
	SourceType     string    `bun:"source_type,notnull"`
	SourceRecordID string    `bun:"source_record_id,notnull"`
	RecordedAt     time.Time `bun:"recorded_at,notnull"`
	BPM            int       `bun:"bpm,notnull"`
	RestingBPM     int       `bun:"resting_bpm,notnull"`
	HRVMillis      float64   `bun:"hrv_millis,notnull"`
	IsPrimary      bool      `bun:"is_primary,notnull"`
	DedupeGroupID  string    `bun:"dedupe_group_id"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type syncRunRecord struct {
	bun.BaseModel `bun:"table:sync_runs,alias:sr"`

	ID          string     `bun:"id,pk"`
	CustomerID  string     `bun:"customer_id,notnull"`
	SourceType  string     `bun:"source_type,notnull"`
	SyncType    string     `bun:"sync_type,notnull"`
	Status      string     `bun:"status,notnull"`
	Fetched     int        `bun:"fetched,notnull"`
	Inserted    int        `bun:"inserted,notnull"`
	Updated     int        `bun:"updated,notnull"`
	Deduped     int        `bun:"deduped,notnull"`
	StartedAt   time.Time  `bun:"started_at,notnull"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
	Error       string     `bun:"error"`
}
