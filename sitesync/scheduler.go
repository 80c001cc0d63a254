package sitesync

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/config"
	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// schedulerTick is how often due sites are re-evaluated. Per-site cadence
// comes from the site config, not from this value.
const schedulerTick = time.Minute

// SiteScheduleStatus is one site's view in the scheduler status report.
type SiteScheduleStatus struct {
	SiteId          string     `json:"siteId"`
	Enabled         bool       `json:"enabled"`
	DateStrategy    string     `json:"dateStrategy"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	NextDueAt       *time.Time `json:"nextDueAt,omitempty"`
}

type SchedulerStatus struct {
	Running bool                 `json:"running"`
	Sites   []SiteScheduleStatus `json:"sites"`
}

// Scheduler periodically creates fetch jobs for every enabled site, each
// on its own interval. A per-site Redis lock keeps multiple instances
// from double-triggering the same site; without a locker it runs
// single-instance.
type Scheduler struct {
	coord  *Coordinator
	sites  func() []config.SiteConfig
	locker *redislock.Client
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastRun  map[string]time.Time
	running  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(coord *Coordinator, sites func() []config.SiteConfig, locker *redislock.Client, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		coord:   coord,
		sites:   sites,
		locker:  locker,
		logger:  logger,
		now:     time.Now,
		lastRun: map[string]time.Time{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the tick loop until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithField("field", "Scheduler").Info("scheduler started")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(schedulerTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.WithField("field", "Scheduler").Info("scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, site := range s.sites() {
		if !site.Enabled {
			continue
		}
		if !s.due(site, now) {
			continue
		}
		s.triggerLocked(ctx, site, now)
	}
}

func (s *Scheduler) due(site config.SiteConfig, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[site.SiteId]
	if !ok {
		return true
	}
	return now.Sub(last) >= site.ScheduleInterval()
}

// triggerLocked runs one scheduled trigger under the per-site Redis lock.
func (s *Scheduler) triggerLocked(ctx context.Context, site config.SiteConfig, now time.Time) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "scheduler:site:"+site.SiteId, 30*time.Second, nil)
		if err == redislock.ErrNotObtained {
			s.logger.WithFields(logrus.Fields{
				"field":   "Scheduler",
				"site_id": site.SiteId,
			}).Debug("site locked by another instance, skipping")
			return
		}
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"field":   "Scheduler",
				"site_id": site.SiteId,
			}).Error("obtaining scheduler lock failed: " + err.Error())
			return
		}
		defer lock.Release(ctx)
	}

	s.markTriggered(site.SiteId, now)

	date := dateForStrategy(site, now)
	job, created, err := s.coord.Create(ctx, site.SiteId, date)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":   "Scheduler",
			"site_id": site.SiteId,
			"date":    date,
		}).Error("scheduled job creation failed: " + err.Error())
		return
	}

	s.logger.WithFields(logrus.Fields{
		"field":   "Scheduler",
		"site_id": site.SiteId,
		"date":    date,
		"job_id":  job.ID,
		"created": created,
	}).Info("scheduled trigger")
}

// TriggerSite creates a job for one configured site immediately, outside
// its normal cadence.
func (s *Scheduler) TriggerSite(ctx context.Context, siteId string) (*models.Job, bool, error) {
	var target *config.SiteConfig
	for _, site := range s.sites() {
		if site.SiteId == siteId {
			siteCopy := site
			target = &siteCopy
			break
		}
	}
	if target == nil {
		return nil, false, NotFoundError("site " + siteId + " is not configured")
	}

	now := s.now()
	s.markTriggered(siteId, now)

	return s.coord.Create(ctx, siteId, dateForStrategy(*target, now))
}

func (s *Scheduler) markTriggered(siteId string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[siteId] = now
}

// Status reports the scheduler state for monitoring.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{Running: s.running}
	for _, site := range s.sites() {
		entry := SiteScheduleStatus{
			SiteId:          site.SiteId,
			Enabled:         site.Enabled,
			DateStrategy:    site.DateStrategy,
			IntervalMinutes: int(site.ScheduleInterval() / time.Minute),
		}
		if last, ok := s.lastRun[site.SiteId]; ok {
			lastCopy := last
			next := last.Add(site.ScheduleInterval())
			entry.LastTriggeredAt = &lastCopy
			entry.NextDueAt = &next
		}
		status.Sites = append(status.Sites, entry)
	}
	return status
}

// dateForStrategy resolves the job date a scheduled trigger should use.
// Unparseable custom dates fall back to today.
func dateForStrategy(site config.SiteConfig, now time.Time) string {
	switch site.DateStrategy {
	case config.DateStrategyYesterday:
		return now.AddDate(0, 0, -1).Format("2006-01-02")
	case config.DateStrategyCustom:
		if _, err := time.Parse("2006-01-02", site.CustomDate); err == nil {
			return site.CustomDate
		}
		return now.Format("2006-01-02")
	default:
		return now.Format("2006-01-02")
	}
}
