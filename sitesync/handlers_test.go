package sitesync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/sitedata_backend/config"
	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"github.com/gin-gonic/gin"
)

func newTestRouter(coord *Coordinator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/sitedata/fetch", CreateJobHandler(coord))
	r.GET("/api/sitedata/jobs/:id", JobStatusHandler(coord))
	r.GET("/api/sitedata/jobs/:id/results", JobResultsHandler(coord))
	r.DELETE("/api/sitedata/jobs/:id", CancelJobHandler(coord))
	r.GET("/api/sitedata", AllRecordsHandler(coord))
	return r
}

func newTestCoordinator(store *fakeJobStore) *Coordinator {
	runner := &fakeRunner{outcomes: map[string]ProviderOutcome{"site_a": successOutcome(1, "site_a")}}
	return NewCoordinator(store, newFakeResultCache(), runner, staticResolver(map[string]string{"site_a": "http://a"}), nil, testLogger())
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateJobEndpoint(t *testing.T) {
	store := newFakeJobStore()
	r := newTestRouter(newTestCoordinator(store))

	w := doRequest(r, http.MethodPost, "/api/sitedata/fetch", `{"siteId":"news","date":"2026-08-30"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if resp.JobId == "" || resp.SiteId != "news" || resp.Date != "2026-08-30" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.InputParams["siteId"] != "news" {
		t.Fatalf("expected input params echoed, got %+v", resp.InputParams)
	}

	waitForTerminal(t, store, resp.JobId)
}

func TestCreateJobEndpointReturnsAcceptedForDuplicate(t *testing.T) {
	store := newFakeJobStore()
	existing, _ := store.CreateJob(context.Background(), "news", "2026-08-30", nil)
	r := newTestRouter(newTestCoordinator(store))

	w := doRequest(r, http.MethodPost, "/api/sitedata/fetch", `{"siteId":"news","date":"2026-08-30"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for duplicate, got %d", w.Code)
	}

	var resp JobResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.JobId != existing.ID {
		t.Fatalf("expected existing job %s, got %s", existing.ID, resp.JobId)
	}
}

func TestCreateJobEndpointValidation(t *testing.T) {
	r := newTestRouter(newTestCoordinator(newFakeJobStore()))

	cases := []string{
		`{}`,
		`{"siteId":"news"}`,
		`{"siteId":"news","date":"30-08-2026"}`,
		`{"siteId":"news","date":"not-a-date"}`,
		`not json`,
	}
	for _, body := range cases {
		if w := doRequest(r, http.MethodPost, "/api/sitedata/fetch", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestJobStatusEndpointNotFound(t *testing.T) {
	r := newTestRouter(newTestCoordinator(newFakeJobStore()))

	if w := doRequest(r, http.MethodGet, "/api/sitedata/jobs/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCancelEndpointConflictOnTerminalJob(t *testing.T) {
	store := newFakeJobStore()
	job, _ := store.CreateJob(context.Background(), "news", "2026-08-30", nil)
	store.TransitionStatus(context.Background(), job.ID, models.JobStatusFailed, "boom")

	r := newTestRouter(newTestCoordinator(store))
	if w := doRequest(r, http.MethodDelete, "/api/sitedata/jobs/"+job.ID, ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRecordsEndpointFilterValidation(t *testing.T) {
	store := newFakeJobStore()
	job, _ := store.CreateJob(context.Background(), "news", "2026-08-30", nil)
	r := newTestRouter(newTestCoordinator(store))

	cases := []string{
		"confirmed=maybe",
		"from=yesterday",
		"limit=0",
		"limit=9999",
		"offset=-1",
		"sortBy=name+desc",
	}
	for _, q := range cases {
		w := doRequest(r, http.MethodGet, "/api/sitedata/jobs/"+job.ID+"/results?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", q, w.Code)
		}
	}

	w := doRequest(r, http.MethodGet, "/api/sitedata/jobs/"+job.ID+"/results?confirmed=true&limit=10&sortBy=score+asc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSchedulerTriggerEndpoint(t *testing.T) {
	store := newFakeJobStore()
	sched := newTestScheduler([]config.SiteConfig{
		{SiteId: "news", Enabled: true, DateStrategy: config.DateStrategyToday},
	}, store, &fakeRunner{outcomes: map[string]ProviderOutcome{"site_a": successOutcome(1, "site_a")}})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/scheduler/trigger", TriggerSiteHandler(sched))
	r.GET("/api/scheduler/status", SchedulerStatusHandler(sched))

	w := doRequest(r, http.MethodPost, "/api/scheduler/trigger", `{"siteId":"news"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp JobResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	waitForTerminal(t, store, resp.JobId)

	if w := doRequest(r, http.MethodPost, "/api/scheduler/trigger", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing siteId, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/scheduler/trigger", `{"siteId":"ghost"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unconfigured site, got %d", w.Code)
	}

	w = doRequest(r, http.MethodGet, "/api/scheduler/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var status SchedulerStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("undecodable status: %v", err)
	}
	if len(status.Sites) != 1 || status.Sites[0].SiteId != "news" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAllRecordsEndpoint(t *testing.T) {
	store := newFakeJobStore()
	job, _ := store.CreateJob(context.Background(), "news", "2026-08-30", nil)
	store.BulkInsertRecords(context.Background(), successOutcome(2, "site_a").Records, job.ID)

	r := newTestRouter(newTestCoordinator(store))
	w := doRequest(r, http.MethodGet, "/api/sitedata", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var result QueryResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("undecodable response: %v", err)
	}
	if result.Total != 2 || len(result.Items) != 2 {
		t.Fatalf("expected 2 records, got %+v", result)
	}
	if result.Limit != 50 {
		t.Fatalf("expected default limit 50, got %d", result.Limit)
	}
}
