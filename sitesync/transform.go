package sitesync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"github.com/google/uuid"
)

// TransformFunc maps one provider's raw payload items to unified records.
// It is a pure function: invalid items are dropped, never reported as
// errors beyond the fetched/transformed count difference.
type TransformFunc func(provider string, siteId string, raw []json.RawMessage) []models.SiteRecord

// unifiedItem is the wire shape providers are expected to emit once their
// payload has been normalized upstream.
type unifiedItem struct {
	ID         string   `json:"id"`
	Supplier   string   `json:"supplier"`
	ReceivedAt string   `json:"receivedAt"`
	Status     string   `json:"status"`
	Confirmed  bool     `json:"confirmed"`
	SiteId     string   `json:"siteId"`
	Source     string   `json:"source"`
	Score      *float64 `json:"score"`
}

// UnifiedTransform decodes unified-format items into SiteRecords. The raw
// payload is kept on the record for auditing.
func UnifiedTransform(provider string, siteId string, raw []json.RawMessage) []models.SiteRecord {
	records := make([]models.SiteRecord, 0, len(raw))
	for _, item := range raw {
		var u unifiedItem
		if err := json.Unmarshal(item, &u); err != nil {
			continue
		}
		if u.ID == "" {
			continue
		}
		receivedAt, err := time.Parse(time.RFC3339, u.ReceivedAt)
		if err != nil {
			continue
		}

		source := u.Source
		if source == "" {
			source = provider
		}
		site := u.SiteId
		if site == "" {
			site = siteId
		}
		score := 0.0
		if u.Score != nil {
			score = *u.Score
		}

		records = append(records, models.SiteRecord{
			ID:               uuid.NewString(),
			ExternalRecordId: u.ID,
			Supplier:         u.Supplier,
			ReceivedAt:       receivedAt,
			Status:           u.Status,
			Confirmed:        u.Confirmed,
			SiteId:           site,
			Source:           source,
			Score:            score,
			RawPayload:       string(item),
		})
	}
	return records
}
