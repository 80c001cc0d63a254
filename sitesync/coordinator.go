package sitesync

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/cache"
	"bitbucket.org/mmdatafocus/sitedata_backend/config"
	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// jobStore is the durable-store contract the coordinator needs.
type jobStore interface {
	CreateJob(ctx context.Context, siteId string, date string, inputParams map[string]string) (*models.Job, error)
	FindActiveJob(ctx context.Context, siteId string, date string) (*models.Job, error)
	GetJob(ctx context.Context, jobId string) (*models.Job, error)
	TransitionStatus(ctx context.Context, jobId string, newStatus string, errorMessage string) error
	SetTaskRef(ctx context.Context, jobId string, taskRef string) error
	RecordStats(ctx context.Context, jobId string, stats models.JobStats) error
	BulkInsertRecords(ctx context.Context, records []models.SiteRecord, jobId string) (int, error)
	QueryRecords(ctx context.Context, jobId string, f models.RecordFilters) ([]models.SiteRecord, int64, error)
}

// resultCache is the cache-store contract. Implementations are non-fatal
// throughout: a failed get is a miss, a failed set a no-op.
type resultCache interface {
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	InvalidateAll(ctx context.Context)
}

// fetchRunner is the fan-out/fan-in contract.
type fetchRunner interface {
	Run(ctx context.Context, jobId string, siteId string, providerUrls map[string]string) (map[string]ProviderOutcome, error)
}

// SiteResolver maps a site to its configured provider endpoints.
type SiteResolver func(siteId string) (map[string]string, bool)

// EventPublisher receives job finalization events. May be nil.
type EventPublisher func(ctx context.Context, event JobEvent)

// Coordinator owns the job lifecycle: it creates and dedups jobs,
// dispatches the provider fan-out, persists aggregated results and
// finalizes status. The job row is mutated only here; fetch units never
// touch it.
type Coordinator struct {
	store   jobStore
	cache   resultCache
	fanout  fetchRunner
	resolve SiteResolver
	publish EventPublisher
	logger  *logrus.Logger

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

func NewCoordinator(store jobStore, resultCache resultCache, fanout fetchRunner, resolve SiteResolver, publish EventPublisher, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		cache:   resultCache,
		fanout:  fanout,
		resolve: resolve,
		publish: publish,
		logger:  logger,
		tasks:   map[string]context.CancelFunc{},
	}
}

// Create starts a fetch job for (siteId, date), or returns the already
// active one. The bool reports whether a new job was created.
//
// Dedup is lookup-before-create: two near-simultaneous calls for the same
// pair can both pass the lookup and both create a job. Known limitation,
// kept as observed behavior rather than closed with a lock.
func (c *Coordinator) Create(ctx context.Context, siteId string, date string) (*models.Job, bool, error) {
	existing, err := c.store.FindActiveJob(ctx, siteId, date)
	if err != nil {
		return nil, false, InternalError("looking up active job failed", err)
	}
	if existing != nil {
		c.logger.WithFields(logrus.Fields{
			"field":   "OrchestrationCoordinator",
			"job_id":  existing.ID,
			"site_id": siteId,
			"date":    date,
		}).Info("found existing active job")
		return existing, false, nil
	}

	job, err := c.store.CreateJob(ctx, siteId, date, map[string]string{"siteId": siteId, "date": date})
	if err != nil {
		return nil, false, InternalError("creating job failed", err)
	}

	c.dispatch(ctx, job)
	return job, true, nil
}

// dispatch resolves the site's providers and hands the job to the fan-out.
// It returns once the fan-out is running; finalization happens in the
// background.
func (c *Coordinator) dispatch(ctx context.Context, job *models.Job) {
	providers, ok := c.resolve(job.SiteId)
	if !ok || len(providers) == 0 {
		msg := "no providers configured for site " + job.SiteId
		c.logger.WithFields(logrus.Fields{
			"field":   "OrchestrationCoordinator",
			"job_id":  job.ID,
			"site_id": job.SiteId,
		}).Error(msg)
		c.failJob(ctx, job.ID, msg)
		return
	}

	taskRef := uuid.NewString()
	taskCtx, cancel := context.WithCancel(context.Background())
	c.registerTask(taskRef, cancel)

	if err := c.store.SetTaskRef(ctx, job.ID, taskRef); err != nil {
		c.unregisterTask(taskRef)
		c.failJob(ctx, job.ID, "recording task ref failed: "+err.Error())
		return
	}
	if err := c.store.TransitionStatus(ctx, job.ID, models.JobStatusProcessing, ""); err != nil {
		c.unregisterTask(taskRef)
		c.failJob(ctx, job.ID, "transition to processing failed: "+err.Error())
		return
	}

	c.logger.WithFields(logrus.Fields{
		"field":     "OrchestrationCoordinator",
		"job_id":    job.ID,
		"site_id":   job.SiteId,
		"providers": len(providers),
		"task_ref":  taskRef,
	}).Info("dispatched fetch job")

	go c.run(taskCtx, job, providers, taskRef)
}

// run executes the fan-out and finalizes, exactly once, after every
// provider has reported.
func (c *Coordinator) run(taskCtx context.Context, job *models.Job, providers map[string]string, taskRef string) {
	defer c.unregisterTask(taskRef)

	outcomes, err := c.fanout.Run(taskCtx, job.ID, job.SiteId, providers)
	if err != nil {
		c.failJob(context.Background(), job.ID, "fan-out dispatch failed: "+err.Error())
		return
	}

	if taskCtx.Err() != nil {
		// Cancelled while in flight; the cancel path already finalized
		// the job, so completed fetch results are discarded.
		c.logger.WithFields(logrus.Fields{
			"field":  "OrchestrationCoordinator",
			"job_id": job.ID,
		}).Warn("discarding results of cancelled job")
		return
	}

	c.finalize(context.Background(), job, outcomes)
}

// finalize merges per-provider outcomes into one stats report, stores the
// union of successful providers' records and settles the terminal status.
func (c *Coordinator) finalize(ctx context.Context, job *models.Job, outcomes map[string]ProviderOutcome) {
	stats := models.JobStats{Providers: map[string]models.ProviderStats{}}
	var allRecords []models.SiteRecord
	var failures []string
	var failedProviders []string
	successful := 0

	// Sorted iteration keeps the error message independent of goroutine
	// completion order.
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		outcome := outcomes[name]
		stats.Providers[name] = outcome.Stats
		if outcome.Success {
			successful++
			allRecords = append(allRecords, outcome.Records...)
			continue
		}
		failedProviders = append(failedProviders, name)
		if outcome.Err != nil {
			failures = append(failures, outcome.Err.Error())
		} else {
			failures = append(failures, name+": unknown error")
		}
	}

	stored := 0
	if len(allRecords) > 0 {
		var err error
		stored, err = c.store.BulkInsertRecords(ctx, allRecords, job.ID)
		if err != nil {
			c.failJob(ctx, job.ID, "storing records failed: "+err.Error())
			return
		}
	}
	stats.Stored = stored

	if err := c.store.RecordStats(ctx, job.ID, stats); err != nil {
		logJobError(c.logger, job.ID, "recording stats failed", err)
	}

	status := models.JobStatusFinished
	errorMessage := ""
	if successful == 0 {
		status = models.JobStatusFailed
		errorMessage = "All providers failed: " + strings.Join(failures, "; ")
	} else if len(failures) > 0 {
		errorMessage = "Some providers failed: " + strings.Join(failures, "; ")
	}

	if err := c.store.TransitionStatus(ctx, job.ID, status, errorMessage); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			// Lost the race against a cancellation; keep its outcome.
			c.logger.WithFields(logrus.Fields{
				"field":  "OrchestrationCoordinator",
				"job_id": job.ID,
			}).Warn("job reached a terminal status during finalize, keeping it")
			c.cache.InvalidateAll(ctx)
			return
		}
		logJobError(c.logger, job.ID, "finalizing status failed", err)
	}

	c.cache.InvalidateAll(ctx)

	c.logger.WithFields(logrus.Fields{
		"field":            "OrchestrationCoordinator",
		"job_id":           job.ID,
		"status":           status,
		"stored":           stored,
		"failed_providers": strings.Join(failedProviders, ","),
	}).Info("job finalized")

	if c.publish != nil {
		c.publish(ctx, JobEvent{
			JobId:        job.ID,
			SiteId:       job.SiteId,
			Date:         job.Date,
			Status:       status,
			Stored:       stored,
			ErrorMessage: errorMessage,
		})
	}
}

// failJob is the pre-dispatch failure path: straight to failed with a
// reason, nothing stored, nothing cached to invalidate.
func (c *Coordinator) failJob(ctx context.Context, jobId string, message string) {
	if err := c.store.TransitionStatus(ctx, jobId, models.JobStatusFailed, message); err != nil {
		logJobError(c.logger, jobId, "failing job failed", err)
	}
}

// Status returns the job row for a status lookup.
func (c *Coordinator) Status(ctx context.Context, jobId string) (*models.Job, error) {
	job, err := c.store.GetJob(ctx, jobId)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return nil, NotFoundError("job " + jobId + " not found")
		}
		return nil, InternalError("loading job failed", err)
	}
	return job, nil
}

// Results returns a job's records through the read-through cache.
func (c *Coordinator) Results(ctx context.Context, jobId string, f models.RecordFilters) (*QueryResult, error) {
	if _, err := c.Status(ctx, jobId); err != nil {
		return nil, err
	}

	params := f.Normalized()
	params["job_id"] = jobId
	key := cache.Key("job_records", params)

	return c.queryThroughCache(ctx, key, jobId, f)
}

// AllRecords returns records across every job through the read-through
// cache.
func (c *Coordinator) AllRecords(ctx context.Context, f models.RecordFilters) (*QueryResult, error) {
	key := cache.Key("all_records", f.Normalized())
	return c.queryThroughCache(ctx, key, "", f)
}

func (c *Coordinator) queryThroughCache(ctx context.Context, key string, jobId string, f models.RecordFilters) (*QueryResult, error) {
	var cached QueryResult
	if c.cache.Get(ctx, key, &cached) {
		c.logger.WithFields(logrus.Fields{
			"field": "ResultCache",
			"key":   key,
		}).Debug("cache hit")
		return &cached, nil
	}

	items, total, err := c.store.QueryRecords(ctx, jobId, f)
	if err != nil {
		return nil, InternalError("querying records failed", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = models.DefaultQueryLimit
	}
	result := &QueryResult{
		JobId:  jobId,
		Items:  mapRecords(items),
		Total:  total,
		Limit:  limit,
		Offset: f.Offset,
	}
	c.cache.Set(ctx, key, result, 0)
	return result, nil
}

// Cancel revokes an in-flight job. Only created/processing jobs can be
// cancelled; the in-flight fan-out is asked to stop cooperatively and its
// late results are discarded.
func (c *Coordinator) Cancel(ctx context.Context, jobId string) (*models.Job, error) {
	job, err := c.Status(ctx, jobId)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalJobStatus(job.Status) {
		return nil, ConflictError("cannot cancel job in status " + job.Status)
	}

	if job.TaskRef != "" {
		c.cancelTask(job.TaskRef)
	}

	if err := c.store.TransitionStatus(ctx, jobId, models.JobStatusFailed, "Job cancelled by user"); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			return nil, ConflictError("cannot cancel job that already completed")
		}
		return nil, InternalError("cancelling job failed", err)
	}

	c.logger.WithFields(logrus.Fields{
		"field":  "OrchestrationCoordinator",
		"job_id": jobId,
	}).Info("job cancelled")

	return c.Status(ctx, jobId)
}

func (c *Coordinator) registerTask(ref string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[ref] = cancel
}

func (c *Coordinator) unregisterTask(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, ref)
}

func (c *Coordinator) cancelTask(ref string) {
	c.mu.Lock()
	cancel := c.tasks[ref]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func logJobError(logger *logrus.Logger, jobId string, context string, err error) {
	config.LogError(logger, "sitesync", "Coordinator", context, jobId, err)
}
