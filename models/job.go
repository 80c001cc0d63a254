package models

import (
	"encoding/json"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusProcessing = "processing"
	JobStatusFinished   = "finished"
	JobStatusFailed     = "failed"
)

// ActiveJobStatuses are the non-terminal states used for dedup lookups.
var ActiveJobStatuses = []string{JobStatusCreated, JobStatusProcessing}

// TerminalJobStatuses are the immutable end states.
var TerminalJobStatuses = []string{JobStatusFinished, JobStatusFailed}

func IsTerminalJobStatus(status string) bool {
	return status == JobStatusFinished || status == JobStatusFailed
}

// ProviderStats counts one provider's contribution to a job.
type ProviderStats struct {
	Fetched     int `json:"fetched"`
	Transformed int `json:"transformed"`
	Errors      int `json:"errors"`
}

// JobStats is the aggregate persisted on the job row: one entry per
// provider plus the total number of records actually stored.
type JobStats struct {
	Providers map[string]ProviderStats `json:"providers"`
	Stored    int                      `json:"stored"`
}

func DecodeJobStats(raw []byte) JobStats {
	stats := JobStats{Providers: map[string]ProviderStats{}}
	if len(raw) == 0 {
		return stats
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return JobStats{Providers: map[string]ProviderStats{}}
	}
	if stats.Providers == nil {
		stats.Providers = map[string]ProviderStats{}
	}
	return stats
}

func EncodeJobStats(stats JobStats) []byte {
	if stats.Providers == nil {
		stats.Providers = map[string]ProviderStats{}
	}
	b, _ := json.Marshal(stats)
	return b
}

// Job is one aggregation request for a (site, date) pair.
type Job struct {
	ID              string    `gorm:"primary_key;size:36" json:"id"`
	SiteId          string    `gorm:"index:idx_site_date,priority:1;size:100;not null" json:"site_id"`
	Date            string    `gorm:"index:idx_site_date,priority:2;size:10;not null" json:"date"` // YYYY-MM-DD
	Status          string    `gorm:"index;size:20;not null" json:"status"`
	InputParamsJSON []byte    `gorm:"type:json" json:"input_params"`
	StatsJSON       []byte    `gorm:"type:json" json:"stats"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message"`
	TaskRef         string    `gorm:"index;size:36" json:"task_ref"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (j *Job) InputParams() map[string]string {
	params := map[string]string{}
	if len(j.InputParamsJSON) == 0 {
		return params
	}
	if err := json.Unmarshal(j.InputParamsJSON, &params); err != nil {
		return map[string]string{}
	}
	return params
}

func (j *Job) Stats() JobStats {
	return DecodeJobStats(j.StatsJSON)
}
