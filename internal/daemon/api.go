package daemon

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/auth"
	"github.com/adcondev/print-agent/internal/config"
	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/joblog"
	"github.com/adcondev/print-agent/internal/printjob"
	"github.com/adcondev/print-agent/internal/server"
	"github.com/adcondev/print-agent/internal/worker"
)

// JobLog is the read side of the job log.
type JobLog interface {
	Recent(ctx context.Context, limit int) ([]joblog.Record, error)
	Get(ctx context.Context, id int64) (joblog.Record, error)
	Counts(ctx context.Context) (joblog.Counts, error)
}

// Queue accepts jobs for the worker pool.
type Queue interface {
	Enqueue(job *server.PrintJob) error
	QueueStatus() (current, capacity int)
}

// API serves the HTTP surface next to the WebSocket endpoint.
type API struct {
	Printers  server.PrinterLister
	Jobs      JobLog
	Queue     Queue
	Workers   func() worker.Statistics
	Busy      func() dispatch.BusyState
	Pending   func() int
	Relay     func() bool // nil when no relay is configured
	Auth      *auth.Manager
	Metrics   http.Handler
	LogLevel  http.Handler
	WebSocket http.HandlerFunc
	Templates *template.Template
	Static    fs.FS
	AuthToken string
	StartTime time.Time
	Logger    *zap.Logger
}

// Router builds the gin engine.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(a.recovery(), a.requestLog())
	if a.Templates != nil {
		r.SetHTMLTemplate(a.Templates)
	}

	// Public
	if a.Static != nil {
		r.StaticFS("/static", http.FS(a.Static))
	}
	r.GET("/login", a.serveLogin)
	r.POST("/auth/login", a.Auth.Login)
	r.POST("/auth/logout", a.Auth.Logout)
	r.GET("/ws", gin.WrapF(a.WebSocket))
	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(a.Metrics))

	// Session required
	protected := r.Group("/", a.Auth.Require())
	protected.GET("/", a.serveDashboard)
	protected.GET("/api/printers", a.listPrinters)
	protected.GET("/api/jobs", a.listJobs)
	protected.GET("/api/jobs/:id", a.getJob)
	protected.POST("/api/jobs/:id/reprint", a.reprint)
	if a.LogLevel != nil {
		protected.Any("/api/log/level", gin.WrapH(a.LogLevel))
	}
	return r
}

func (a *API) health(c *gin.Context) {
	current, capacity := a.Queue.QueueStatus()
	stats := a.Workers()

	var utilization float64
	if capacity > 0 {
		utilization = float64(current) / float64(capacity) * 100
	}

	response := HealthResponse{
		Status: "ok",
		Queue: QueueStatus{
			Current:     current,
			Capacity:    capacity,
			Utilization: utilization,
		},
		Worker: WorkerStatus{
			Running:       stats.IsRunning,
			Workers:       stats.Workers,
			JobsProcessed: stats.JobsProcessed,
			JobsFailed:    stats.JobsFailed,
		},
		Busy:     a.Busy(),
		Pending:  a.Pending(),
		Printers: a.Printers.GetSummary(),
		Build: BuildInfo{
			Env:  config.BuildEnvironment,
			Date: config.BuildDate,
			Time: config.BuildTime,
		},
		Uptime: int(time.Since(a.StartTime).Seconds()),
	}

	if counts, err := a.Jobs.Counts(c.Request.Context()); err == nil {
		response.JobLog = &counts
	} else {
		a.Logger.Warn("job log counts unavailable", zap.Error(err))
		response.Status = "degraded"
	}
	if a.Relay != nil {
		response.Relay = &RelayStatus{Connected: a.Relay()}
		if !response.Relay.Connected {
			response.Status = "degraded"
		}
	}
	if response.Printers.Status == "error" {
		response.Status = "degraded"
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.JSON(http.StatusOK, response)
}

func (a *API) listPrinters(c *gin.Context) {
	printers, err := a.Printers.GetPrinters(c.Query("refresh") == "1")
	if err != nil && len(printers) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"printers": a.Printers.Details(printers),
		"summary":  a.Printers.GetSummary(),
	})
}

func (a *API) listJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := a.Jobs.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

func (a *API) record(c *gin.Context) (joblog.Record, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return joblog.Record{}, false
	}
	rec, err := a.Jobs.Get(c.Request.Context(), id)
	if errors.Is(err, joblog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return joblog.Record{}, false
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read job log"})
		return joblog.Record{}, false
	}
	return rec, true
}

func (a *API) getJob(c *gin.Context) {
	if rec, ok := a.record(c); ok {
		c.JSON(http.StatusOK, rec)
	}
}

// reprint queues a logged job again. Blob jobs are never reprintable since
// the log does not keep their payload.
func (a *API) reprint(c *gin.Context) {
	rec, ok := a.record(c)
	if !ok {
		return
	}
	if !rec.Reprintable {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not reprintable"})
		return
	}
	job, err := printjob.Parse([]byte(rec.JobJSON))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "logged job cannot be decoded"})
		return
	}
	if job.Kind() == printjob.KindBlobPDF {
		c.JSON(http.StatusConflict, gin.H{"error": "blob jobs cannot be reprinted"})
		return
	}

	// The original task has completed; a reprint is a new task with no
	// client to answer.
	job.TaskID = ""
	job.ReplyID = ""
	job.ClientID = ""
	job.ClientType = printjob.ClientReprint
	id := uuid.NewString()
	if err := a.Queue.Enqueue(&server.PrintJob{ID: id, Job: job, ReceivedAt: time.Now()}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	a.Logger.Info("reprint queued", zap.Int64("record_id", rec.ID), zap.String("job_id", id))
	c.JSON(http.StatusAccepted, ReprintResponse{JobID: id, Status: "queued"})
}

func (a *API) serveLogin(c *gin.Context) {
	if !a.Auth.Enabled() || a.Auth.HasSession(c) {
		c.Redirect(http.StatusSeeOther, "/")
		return
	}
	c.HTML(http.StatusOK, "login.html", nil)
}

func (a *API) serveDashboard(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"AuthToken":   a.AuthToken,
		"ServiceName": config.ServiceName,
		"AuthEnabled": a.Auth.Enabled(),
	})
}

func (a *API) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}
		switch {
		case status >= 500:
			a.Logger.Error("http request", fields...)
		case status >= 400:
			a.Logger.Warn("http request", fields...)
		default:
			a.Logger.Debug("http request", fields...)
		}
	}
}

func (a *API) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				a.Logger.Error("http handler panicked", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
