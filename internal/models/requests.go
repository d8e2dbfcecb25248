package models

// APIResponse is the envelope of every JSON API response.
type APIResponse struct {
	Status bool        `json:"status"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// --- Config API Payloads ---

// ConfigRequest updates the active sync configuration.
type ConfigRequest struct {
	GHLLTVFieldKey  string `json:"ghl_ltv_field_key" validate:"required,max=255"`
	GHLLTVFieldName string `json:"ghl_ltv_field_name" validate:"required,max=255"`
	SyncEnabled     *bool  `json:"sync_enabled,omitempty"`
}

// ConfigResponse pairs the stored configuration with environment-level settings.
type ConfigResponse struct {
	Config          *SyncConfig `json:"config"`
	MetaAdAccountID string      `json:"meta_ad_account_id"`
	GHLLocationName string      `json:"ghl_location_name"`
	SMTPFrom        string      `json:"smtp_from"`
	SMTPTo          string      `json:"smtp_to"`
}

// --- Sync API Payloads ---

// TriggerResponse acknowledges a background run.
type TriggerResponse struct {
	Message  string `json:"message"`
	ConfigID uint   `json:"config_id"`
	RunID    uint   `json:"run_id"`
}

// RunSummary is a run as exposed by the API, with decoded stats and duration.
type RunSummary struct {
	SyncRun
	NormalizationStats *NormalizationStats `json:"normalization_stats"`
	DurationSeconds    *float64            `json:"duration_seconds"`
}

// NewRunSummary flattens a stored run for the API.
func NewRunSummary(run *SyncRun) *RunSummary {
	if run == nil {
		return nil
	}
	s := &RunSummary{SyncRun: *run, NormalizationStats: run.Stats()}
	if d, ok := run.Duration(); ok {
		secs := d.Seconds()
		s.DurationSeconds = &secs
	}
	return s
}

// ContactSample is one uploaded contact shown on the run detail page.
type ContactSample struct {
	GHLContactID    string  `json:"ghl_contact_id"`
	Email           *string `json:"email"`
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	RawLTV          float64 `json:"raw_ltv"`
	NormalizedValue int     `json:"normalized_value"`
}

// RunDetail is a run with a sample of its contacts.
type RunDetail struct {
	*RunSummary
	ContactSamples []ContactSample `json:"contact_samples"`
}

// SyncStatusResponse reports the single-flight guard and the newest run.
type SyncStatusResponse struct {
	IsRunning     bool        `json:"is_running"`
	RunningSyncID *uint       `json:"running_sync_id"`
	LastRun       *RunSummary `json:"last_run"`
}

// HistoryResponse is one page of runs, newest first.
type HistoryResponse struct {
	Runs       []*RunSummary `json:"runs"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	TotalPages int           `json:"total_pages"`
}
