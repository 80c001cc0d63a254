package sitesync

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"bitbucket.org/mmdatafocus/sitedata_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func CreateJobHandler(coord *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req FetchJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			if details := utils.ProcessValidationErrors(err); len(details) > 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "siteId and date are required", "details": details})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		req.SiteId = strings.TrimSpace(req.SiteId)
		req.Date = strings.TrimSpace(req.Date)
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be in YYYY-MM-DD format"})
			return
		}

		c.Request = c.Request.WithContext(utils.SetSiteIdInContext(c.Request.Context(), req.SiteId))

		job, created, err := coord.Create(c.Request.Context(), req.SiteId, req.Date)
		if err != nil {
			respondError(c, err)
			return
		}

		status := http.StatusAccepted
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, mapJob(job))
	}
}

func JobStatusHandler(coord *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(utils.SetJobIdInContext(c.Request.Context(), c.Param("id")))
		job, err := coord.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, mapJob(job))
	}
}

func JobResultsHandler(coord *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseRecordFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Request = c.Request.WithContext(utils.SetJobIdInContext(c.Request.Context(), c.Param("id")))
		result, err := coord.Results(c.Request.Context(), c.Param("id"), filters)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func AllRecordsHandler(coord *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseRecordFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := coord.AllRecords(c.Request.Context(), filters)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func CancelJobHandler(coord *Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(utils.SetJobIdInContext(c.Request.Context(), c.Param("id")))
		job, err := coord.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, mapJob(job))
	}
}

func SchedulerStatusHandler(sched *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, sched.Status())
	}
}

type triggerRequest struct {
	SiteId string `json:"siteId" binding:"required"`
}

func TriggerSiteHandler(sched *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req triggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "siteId is required"})
			return
		}
		job, created, err := sched.TriggerSite(c.Request.Context(), strings.TrimSpace(req.SiteId))
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusAccepted
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, mapJob(job))
	}
}

func CacheStatsHandler(stats func(ctx context.Context) map[string]any) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, stats(c.Request.Context()))
	}
}

// HealthHandler reports DB and Redis connectivity. Degraded Redis is not
// fatal (the cache runs in degraded mode); a dead database is.
func HealthHandler(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		dbOk := false
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				dbOk = sqlDB.PingContext(ctx) == nil
			}
		}
		redisOk := rdb != nil && rdb.Ping(ctx).Err() == nil

		status := http.StatusOK
		overall := "ok"
		if !dbOk {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"status":   overall,
			"database": dbOk,
			"redis":    redisOk,
		})
	}
}

// respondError maps coordinator error kinds onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch KindOf(err) {
	case KindNotFound:
		status = http.StatusNotFound
	case KindBadRequest:
		status = http.StatusBadRequest
	case KindConflict:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseRecordFilters(c *gin.Context) (models.RecordFilters, error) {
	var f models.RecordFilters

	f.Supplier = strings.TrimSpace(c.Query("supplier"))
	f.Status = strings.TrimSpace(c.Query("status"))
	f.SiteId = strings.TrimSpace(c.Query("siteId"))
	f.SortBy = strings.TrimSpace(c.Query("sortBy"))

	if v := strings.TrimSpace(c.Query("confirmed")); v != "" {
		confirmed, err := strconv.ParseBool(v)
		if err != nil {
			return f, errInvalidFilter("confirmed must be true or false")
		}
		f.Confirmed = &confirmed
	}

	for _, q := range []struct {
		name string
		dest **time.Time
	}{
		{"from", &f.From},
		{"to", &f.To},
	} {
		v := strings.TrimSpace(c.Query(q.name))
		if v == "" {
			continue
		}
		t, err := parseTimeParam(v)
		if err != nil {
			return f, errInvalidFilter(q.name + " must be an RFC3339 timestamp or YYYY-MM-DD date")
		}
		*q.dest = &t
	}

	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return f, errInvalidFilter("limit must be between 1 and 500")
		}
		f.Limit = n
	}
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errInvalidFilter("offset must be a non-negative integer")
		}
		f.Offset = n
	}

	if f.SortBy != "" && !models.IsValidSortKey(f.SortBy) {
		return f, errInvalidFilter("unsupported sortBy value")
	}

	return f, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func errInvalidFilter(msg string) error {
	return BadRequestError(msg)
}
