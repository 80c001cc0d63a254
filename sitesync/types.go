package sitesync

import (
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/models"
)

type FetchJobRequest struct {
	SiteId string `json:"siteId" binding:"required"`
	Date   string `json:"date" binding:"required"`
}

type JobResponse struct {
	JobId        string            `json:"jobId"`
	SiteId       string            `json:"siteId"`
	Date         string            `json:"date"`
	Status       string            `json:"status"`
	InputParams  map[string]string `json:"inputParams,omitempty"`
	Stats        *models.JobStats  `json:"stats,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

type RecordResponse struct {
	Id               string    `json:"id"`
	JobId            string    `json:"jobId"`
	ExternalRecordId string    `json:"externalRecordId"`
	Supplier         string    `json:"supplier"`
	ReceivedAt       time.Time `json:"receivedAt"`
	Status           string    `json:"status"`
	Confirmed        bool      `json:"confirmed"`
	SiteId           string    `json:"siteId"`
	Source           string    `json:"source"`
	Score            float64   `json:"score"`
}

type QueryResult struct {
	JobId  string           `json:"jobId,omitempty"`
	Items  []RecordResponse `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// JobEvent is the payload published when a job reaches a terminal status.
type JobEvent struct {
	JobId        string `json:"jobId"`
	SiteId       string `json:"siteId"`
	Date         string `json:"date"`
	Status       string `json:"status"`
	Stored       int    `json:"stored"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func mapJob(job *models.Job) JobResponse {
	resp := JobResponse{
		JobId:        job.ID,
		SiteId:       job.SiteId,
		Date:         job.Date,
		Status:       job.Status,
		InputParams:  job.InputParams(),
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if len(job.StatsJSON) > 0 {
		stats := job.Stats()
		resp.Stats = &stats
	}
	return resp
}

func mapRecord(r models.SiteRecord) RecordResponse {
	return RecordResponse{
		Id:               r.ID,
		JobId:            r.JobId,
		ExternalRecordId: r.ExternalRecordId,
		Supplier:         r.Supplier,
		ReceivedAt:       r.ReceivedAt,
		Status:           r.Status,
		Confirmed:        r.Confirmed,
		SiteId:           r.SiteId,
		Source:           r.Source,
		Score:            r.Score,
	}
}

func mapRecords(records []models.SiteRecord) []RecordResponse {
	out := make([]RecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, mapRecord(r))
	}
	return out
}
