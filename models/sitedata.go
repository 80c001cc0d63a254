package models

import (
	"errors"
	"strings"
	"time"
)

// SiteRecord is one unified-format item fetched from a provider and owned
// by the job that fetched it. Rows are immutable after insert.
type SiteRecord struct {
	ID               string    `gorm:"primary_key;size:36" json:"id"`
	JobId            string    `gorm:"index;size:36;not null" json:"job_id"`
	ExternalRecordId string    `gorm:"uniqueIndex;size:128;not null" json:"external_record_id"`
	Supplier         string    `gorm:"index;size:200;not null" json:"supplier"`
	ReceivedAt       time.Time `gorm:"index;not null" json:"received_at"`
	Status           string    `gorm:"index;size:50;not null" json:"status"`
	Confirmed        bool      `gorm:"index;default:false" json:"confirmed"`
	SiteId           string    `gorm:"index;size:100;not null" json:"site_id"`
	Source           string    `gorm:"index;size:50;not null" json:"source"`
	Score            float64   `gorm:"index;default:0" json:"score"`
	RawPayload       string    `gorm:"type:text" json:"raw_payload"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Validate checks the fields bulk insert requires. Records failing here are
// skipped, not fatal to the batch.
func (r *SiteRecord) Validate() error {
	if strings.TrimSpace(r.ExternalRecordId) == "" {
		return errors.New("external record id is required")
	}
	if strings.TrimSpace(r.Supplier) == "" {
		return errors.New("supplier is required")
	}
	if strings.TrimSpace(r.SiteId) == "" {
		return errors.New("site id is required")
	}
	if r.ReceivedAt.IsZero() {
		return errors.New("received at is required")
	}
	return nil
}

// DefaultQueryLimit is the page size applied when no limit is given.
const DefaultQueryLimit = 50

// Sort keys accepted by record queries.
const (
	SortScoreDesc      = "score desc"
	SortScoreAsc       = "score asc"
	SortReceivedAtDesc = "receivedAt desc"
	SortReceivedAtAsc  = "receivedAt asc"
)

// IsValidSortKey reports whether the given sort key is one of the
// accepted values.
func IsValidSortKey(key string) bool {
	switch key {
	case SortScoreDesc, SortScoreAsc, SortReceivedAtDesc, SortReceivedAtAsc:
		return true
	}
	return false
}

// RecordFilters is the explicit filter set for record queries. Zero values
// mean "not filtered".
type RecordFilters struct {
	Supplier  string     // substring match
	Status    string     // exact match
	Confirmed *bool      // exact match
	SiteId    string     // exact match
	From      *time.Time // receivedAt >=
	To        *time.Time // receivedAt <=
	SortBy    string     // one of the Sort* keys; default SortScoreDesc
	Limit     int
	Offset    int
}

// OrderClause maps the public sort key to a SQL order expression.
// Unrecognized keys fall back to the default score-descending order.
func (f RecordFilters) OrderClause() string {
	switch f.SortBy {
	case SortScoreAsc:
		return "score asc"
	case SortReceivedAtDesc:
		return "received_at desc"
	case SortReceivedAtAsc:
		return "received_at asc"
	default:
		return "score desc"
	}
}

// Normalized returns a stable key/value view of the filters for cache key
// derivation. Every parameter appears, absent ones as empty strings, so two
// equivalent queries always normalize identically.
func (f RecordFilters) Normalized() map[string]any {
	confirmed := ""
	if f.Confirmed != nil {
		if *f.Confirmed {
			confirmed = "true"
		} else {
			confirmed = "false"
		}
	}
	from := ""
	if f.From != nil {
		from = f.From.UTC().Format(time.RFC3339)
	}
	to := ""
	if f.To != nil {
		to = f.To.UTC().Format(time.RFC3339)
	}
	sortBy := f.SortBy
	if sortBy == "" {
		sortBy = SortScoreDesc
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	return map[string]any{
		"supplier":  f.Supplier,
		"status":    f.Status,
		"confirmed": confirmed,
		"site_id":   f.SiteId,
		"from":      from,
		"to":        to,
		"sort_by":   sortBy,
		"limit":     limit,
		"offset":    f.Offset,
	}
}
