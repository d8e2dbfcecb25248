package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sync run statuses.
const (
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusWarning = "warning"
	SyncStatusFailed  = "failed"
)

// SyncConfig identifies the LTV custom field and the target ad account.
// The latest row is the active configuration.
type SyncConfig struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GHLLTVFieldKey  string    `gorm:"column:ghl_ltv_field_key;size:255;not null" json:"ghl_ltv_field_key"`
	GHLLTVFieldName string    `gorm:"column:ghl_ltv_field_name;size:255;not null" json:"ghl_ltv_field_name"`
	MetaAdAccountID string    `gorm:"column:meta_ad_account_id;size:100" json:"meta_ad_account_id"`
	SyncEnabled     bool      `gorm:"column:sync_enabled;default:true" json:"sync_enabled"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SyncConfig) TableName() string {
	return "sync_configs"
}

// NormalizationStats summarizes raw LTV values and the normalized distribution.
type NormalizationStats struct {
	MinLTV       float64 `json:"min_ltv"`
	MaxLTV       float64 `json:"max_ltv"`
	MedianLTV    float64 `json:"median_ltv"`
	MeanLTV      float64 `json:"mean_ltv"`
	Count        int     `json:"count"`
	Distribution []int   `json:"distribution"`
}

// SyncRun is one execution of the sync pipeline.
type SyncRun struct {
	ID                uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RunUUID           string     `gorm:"column:run_uuid;size:36;uniqueIndex" json:"run_uuid"`
	ConfigID          uint       `gorm:"column:config_id;index:idx_sync_runs_config" json:"config_id"`
	StartedAt         time.Time  `gorm:"column:started_at" json:"started_at"`
	CompletedAt       *time.Time `gorm:"column:completed_at" json:"completed_at"`
	Status            string     `gorm:"column:status;size:20;index" json:"status"`
	ContactsProcessed int        `gorm:"column:contacts_processed;default:0" json:"contacts_processed"`
	ContactsMatched   int        `gorm:"column:contacts_matched;default:0" json:"contacts_matched"`
	MetaAudienceID    *string    `gorm:"column:meta_audience_id;size:100" json:"meta_audience_id"`
	MetaAudienceName  *string    `gorm:"column:meta_audience_name;size:255" json:"meta_audience_name"`
	MetaLookalikeID   *string    `gorm:"column:meta_lookalike_id;size:100" json:"meta_lookalike_id"`
	MetaLookalikeName *string    `gorm:"column:meta_lookalike_name;size:255" json:"meta_lookalike_name"`
	ErrorMessage      *string    `gorm:"column:error_message;type:text" json:"error_message"`

	NormalizationStats datatypes.JSONType[NormalizationStats] `gorm:"column:normalization_stats" json:"-"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

// Stats returns the decoded normalization stats, or nil when none were recorded.
func (r *SyncRun) Stats() *NormalizationStats {
	s := r.NormalizationStats.Data()
	if s.Distribution == nil {
		return nil
	}
	return &s
}

// Duration is the wall-clock run time once the run has completed.
func (r *SyncRun) Duration() (time.Duration, bool) {
	if r.CompletedAt == nil || r.StartedAt.IsZero() {
		return 0, false
	}
	return r.CompletedAt.Sub(r.StartedAt), true
}

// SyncContact is one contact included in a run's upload.
// Identity fields are stored in clear for operators; only hashes leave the system.
type SyncContact struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SyncRunID       uint      `gorm:"column:sync_run_id;index:idx_sync_contacts_run;not null" json:"sync_run_id"`
	GHLContactID    string    `gorm:"column:ghl_contact_id;size:100" json:"ghl_contact_id"`
	Email           *string   `gorm:"column:email;size:255" json:"email"`
	Phone           *string   `gorm:"column:phone;size:50" json:"phone"`
	FirstName       *string   `gorm:"column:first_name;size:255" json:"first_name"`
	LastName        *string   `gorm:"column:last_name;size:255" json:"last_name"`
	RawLTV          float64   `gorm:"column:raw_ltv;type:decimal(14,2);default:0" json:"raw_ltv"`
	NormalizedValue int       `gorm:"column:normalized_value" json:"normalized_value"`
	MetaMatched     bool      `gorm:"column:meta_matched;default:false" json:"meta_matched"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SyncContact) TableName() string {
	return "sync_contacts"
}
