package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/sitedata_backend/cache"
	"bitbucket.org/mmdatafocus/sitedata_backend/config"
	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"bitbucket.org/mmdatafocus/sitedata_backend/sitesync"
	"bitbucket.org/mmdatafocus/sitedata_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("SITEDATA_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	store := sitesync.NewJobStore(db, logger)
	resultCache := cache.New(config.GetRedisDB(), cache.DefaultTTL, logger)
	fetcher := sitesync.NewFetcher(logger)
	fanout := sitesync.NewFanOut(fetcher, nil, logger)
	publisher := sitesync.NewEventPublisher(logger)
	coord := sitesync.NewCoordinator(store, resultCache, fanout, config.GetProviderURLs, publisher, logger)

	sched := sitesync.NewScheduler(coord, config.GetSitesConfig, config.GetRedisLock(), logger)
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("DISABLE_SCHEDULER")), "true") {
		sched.Start(sigCtx)
		defer sched.Stop()
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/sitedata/fetch", sitesync.CreateJobHandler(coord))
	r.GET("/api/sitedata/jobs/:id", sitesync.JobStatusHandler(coord))
	r.GET("/api/sitedata/jobs/:id/results", sitesync.JobResultsHandler(coord))
	r.DELETE("/api/sitedata/jobs/:id", sitesync.CancelJobHandler(coord))
	r.GET("/api/sitedata", sitesync.AllRecordsHandler(coord))

	r.GET("/api/scheduler/status", sitesync.SchedulerStatusHandler(sched))
	r.POST("/api/scheduler/trigger", sitesync.TriggerSiteHandler(sched))
	r.GET("/api/monitoring/health", sitesync.HealthHandler(db, config.GetRedisDB()))
	r.GET("/api/monitoring/cache", sitesync.CacheStatsHandler(resultCache.Stats))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{"field": "server", "port": port}).Info("sitedata service listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		fields := logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}
		if siteId, ok := utils.GetSiteIdFromContext(c.Request.Context()); ok {
			fields["site_id"] = siteId
		}
		if jobId, ok := utils.GetJobIdFromContext(c.Request.Context()); ok {
			fields["job_id"] = jobId
		}
		logger.WithFields(fields).Info("request")
	}
}
