package sitesync

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/config"
)

func fixedNow() time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
}

func TestDateForStrategy(t *testing.T) {
	now := fixedNow()
	cases := []struct {
		name string
		site config.SiteConfig
		want string
	}{
		{"today", config.SiteConfig{DateStrategy: config.DateStrategyToday}, "2026-08-30"},
		{"yesterday", config.SiteConfig{DateStrategy: config.DateStrategyYesterday}, "2026-08-29"},
		{"custom", config.SiteConfig{DateStrategy: config.DateStrategyCustom, CustomDate: "2026-01-15"}, "2026-01-15"},
		{"custom invalid falls back to today", config.SiteConfig{DateStrategy: config.DateStrategyCustom, CustomDate: "15/01/2026"}, "2026-08-30"},
		{"unknown strategy defaults to today", config.SiteConfig{DateStrategy: "fortnightly"}, "2026-08-30"},
	}
	for _, c := range cases {
		if got := dateForStrategy(c.site, now); got != c.want {
			t.Fatalf("%s: expected %s, got %s", c.name, c.want, got)
		}
	}
}

func newTestScheduler(sites []config.SiteConfig, store *fakeJobStore, runner *fakeRunner) *Scheduler {
	coord := NewCoordinator(store, newFakeResultCache(), runner, staticResolver(map[string]string{"site_a": "http://a"}), nil, testLogger())
	sched := NewScheduler(coord, func() []config.SiteConfig { return sites }, nil, testLogger())
	sched.now = fixedNow
	return sched
}

func TestSchedulerDueRespectsInterval(t *testing.T) {
	site := config.SiteConfig{SiteId: "news", Enabled: true, IntervalMinutes: 30}
	sched := newTestScheduler([]config.SiteConfig{site}, newFakeJobStore(), &fakeRunner{})

	now := fixedNow()
	if !sched.due(site, now) {
		t.Fatal("expected never-run site to be due")
	}

	sched.markTriggered("news", now)
	if sched.due(site, now.Add(10*time.Minute)) {
		t.Fatal("expected site not due before its interval elapsed")
	}
	if !sched.due(site, now.Add(30*time.Minute)) {
		t.Fatal("expected site due once its interval elapsed")
	}
}

func TestSchedulerTickTriggersDueSites(t *testing.T) {
	sites := []config.SiteConfig{
		{SiteId: "news", Enabled: true, DateStrategy: config.DateStrategyToday},
		{SiteId: "archive", Enabled: false, DateStrategy: config.DateStrategyToday},
	}
	store := newFakeJobStore()
	runner := &fakeRunner{outcomes: map[string]ProviderOutcome{"site_a": successOutcome(1, "site_a")}}
	sched := newTestScheduler(sites, store, runner)

	sched.tick(context.Background())

	job, err := store.FindActiveJob(context.Background(), "news", "2026-08-30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job == nil {
		// The job may already have finished; check it exists at all.
		waitForTerminal(t, store, "job-1")
	}

	if disabled, _ := store.FindActiveJob(context.Background(), "archive", "2026-08-30"); disabled != nil {
		t.Fatal("expected disabled site to be skipped")
	}

	// A second tick inside the interval must not re-trigger.
	sched.tick(context.Background())
	store.mu.Lock()
	jobs := len(store.jobs)
	store.mu.Unlock()
	if jobs != 1 {
		t.Fatalf("expected 1 job after back-to-back ticks, got %d", jobs)
	}
}

func TestSchedulerTriggerSite(t *testing.T) {
	sites := []config.SiteConfig{{SiteId: "news", Enabled: true, DateStrategy: config.DateStrategyYesterday}}
	store := newFakeJobStore()
	runner := &fakeRunner{outcomes: map[string]ProviderOutcome{"site_a": successOutcome(1, "site_a")}}
	sched := newTestScheduler(sites, store, runner)

	job, created, err := sched.TriggerSite(context.Background(), "news")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected a new job")
	}
	if job.Date != "2026-08-29" {
		t.Fatalf("expected yesterday's date, got %s", job.Date)
	}
	waitForTerminal(t, store, job.ID)
}

func TestSchedulerTriggerUnknownSite(t *testing.T) {
	sched := newTestScheduler(nil, newFakeJobStore(), &fakeRunner{})

	_, _, err := sched.TriggerSite(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not-found kind, got %v", KindOf(err))
	}
}

func TestSchedulerStatusReportsSites(t *testing.T) {
	sites := []config.SiteConfig{
		{SiteId: "news", Enabled: true, DateStrategy: config.DateStrategyToday, IntervalMinutes: 15},
	}
	sched := newTestScheduler(sites, newFakeJobStore(), &fakeRunner{})

	status := sched.Status()
	if status.Running {
		t.Fatal("expected scheduler not running before Start")
	}
	if len(status.Sites) != 1 {
		t.Fatalf("expected 1 site, got %d", len(status.Sites))
	}
	entry := status.Sites[0]
	if entry.SiteId != "news" || entry.IntervalMinutes != 15 || entry.LastTriggeredAt != nil {
		t.Fatalf("unexpected status entry %+v", entry)
	}

	sched.markTriggered("news", fixedNow())
	entry = sched.Status().Sites[0]
	if entry.LastTriggeredAt == nil || entry.NextDueAt == nil {
		t.Fatal("expected trigger timestamps after a run")
	}
	if got := entry.NextDueAt.Sub(*entry.LastTriggeredAt); got != 15*time.Minute {
		t.Fatalf("expected 15m until next due, got %v", got)
	}
}
