package sitesync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned by job mutations targeting an unknown row.
var ErrJobNotFound = errors.New("job not found")

// ErrJobTerminal is returned when a status change targets a job that is
// already finished or failed.
var ErrJobTerminal = errors.New("job already in a terminal status")

// isDuplicateEntry reports MySQL error 1062, a unique index collision.
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// JobStore is the durable record of jobs and their fetched records. It does
// not enforce dedup or transition legality; callers own those checks.
type JobStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewJobStore(db *gorm.DB, logger *logrus.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

// CreateJob always inserts a new row in state created.
func (s *JobStore) CreateJob(ctx context.Context, siteId string, date string, inputParams map[string]string) (*models.Job, error) {
	if inputParams == nil {
		inputParams = map[string]string{"siteId": siteId, "date": date}
	}
	paramsJSON, _ := json.Marshal(inputParams)

	job := &models.Job{
		ID:              uuid.NewString(),
		SiteId:          siteId,
		Date:            date,
		Status:          models.JobStatusCreated,
		InputParamsJSON: paramsJSON,
		StatsJSON:       models.EncodeJobStats(models.JobStats{}),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"field":   "JobStore",
		"job_id":  job.ID,
		"site_id": siteId,
		"date":    date,
	}).Debug("created job")
	return job, nil
}

// FindActiveJob returns the created/processing job for the pair, or nil.
func (s *JobStore) FindActiveJob(ctx context.Context, siteId string, date string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("site_id = ? AND date = ? AND status IN ?", siteId, date, models.ActiveJobStatuses).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) GetJob(ctx context.Context, jobId string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).Where("id = ?", jobId).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// TransitionStatus moves a job to newStatus. Finished and failed are
// one-way: a job already in a terminal status is never moved out of it,
// so a cancellation racing the finalize path cannot be overwritten.
func (s *JobStore) TransitionStatus(ctx context.Context, jobId string, newStatus string, errorMessage string) error {
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": time.Now().UTC(),
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}
	res := s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status NOT IN ?", jobId, models.TerminalJobStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobId).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrJobTerminal
		}
		return ErrJobNotFound
	}
	s.logger.WithFields(logrus.Fields{
		"field":  "JobStore",
		"job_id": jobId,
		"status": newStatus,
	}).Debug("updated job status")
	return nil
}

// SetTaskRef records the handle of the in-flight fan-out operation.
func (s *JobStore) SetTaskRef(ctx context.Context, jobId string, taskRef string) error {
	res := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobId).
		Update("task_ref", taskRef)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RecordStats replaces the stats blob wholesale and bumps updated_at.
func (s *JobStore) RecordStats(ctx context.Context, jobId string, stats models.JobStats) error {
	res := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobId).Updates(map[string]interface{}{
		"stats_json": models.EncodeJobStats(stats),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// BulkInsertRecords persists records best-effort: rows failing validation
// or insert (duplicate external id, for one) are skipped without aborting
// the batch. Returns the count actually persisted.
func (s *JobStore) BulkInsertRecords(ctx context.Context, records []models.SiteRecord, jobId string) (int, error) {
	stored := 0
	for i := range records {
		record := records[i]
		record.JobId = jobId
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if err := record.Validate(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"field":              "JobStore",
				"job_id":             jobId,
				"external_record_id": record.ExternalRecordId,
			}).Warn("skipping invalid record: " + err.Error())
			continue
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			fields := logrus.Fields{
				"field":              "JobStore",
				"job_id":             jobId,
				"external_record_id": record.ExternalRecordId,
			}
			if isDuplicateEntry(err) {
				s.logger.WithFields(fields).Debug("skipping duplicate record")
			} else {
				s.logger.WithFields(fields).Warn("skipping record insert: " + err.Error())
			}
			continue
		}
		stored++
	}
	s.logger.WithFields(logrus.Fields{
		"field":   "JobStore",
		"job_id":  jobId,
		"stored":  stored,
		"offered": len(records),
	}).Debug("bulk insert finished")
	return stored, nil
}

// QueryRecords runs a filtered, sorted, paginated record query, optionally
// scoped to one job.
func (s *JobStore) QueryRecords(ctx context.Context, jobId string, f models.RecordFilters) ([]models.SiteRecord, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.SiteRecord{})
	if jobId != "" {
		query = query.Where("job_id = ?", jobId)
	}
	if f.Supplier != "" {
		query = query.Where("supplier LIKE ?", "%"+f.Supplier+"%")
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Confirmed != nil {
		query = query.Where("confirmed = ?", *f.Confirmed)
	}
	if f.SiteId != "" {
		query = query.Where("site_id = ?", f.SiteId)
	}
	if f.From != nil {
		query = query.Where("received_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("received_at <= ?", *f.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultQueryLimit
	}

	var items []models.SiteRecord
	if err := query.Order(f.OrderClause()).Offset(f.Offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
