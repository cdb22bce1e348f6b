package daemon

import (
	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/joblog"
	"github.com/adcondev/print-agent/internal/printer"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string             `json:"status"`
	Queue    QueueStatus        `json:"queue"`
	Worker   WorkerStatus       `json:"worker"`
	Busy     dispatch.BusyState `json:"busy"`
	Pending  int                `json:"pending_tasks"`
	Printers printer.Summary    `json:"printers"`
	JobLog   *joblog.Counts     `json:"job_log,omitempty"`
	Relay    *RelayStatus       `json:"relay,omitempty"`
	Build    BuildInfo          `json:"build"`
	Uptime   int                `json:"uptime_seconds"`
}

// QueueStatus is the job queue fill level.
type QueueStatus struct {
	Current     int     `json:"current"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
}

// WorkerStatus summarizes the worker pool.
type WorkerStatus struct {
	Running       bool  `json:"running"`
	Workers       int   `json:"workers"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
}

// RelayStatus is reported when a relay is configured.
type RelayStatus struct {
	Connected bool `json:"connected"`
}

// BuildInfo identifies the running build.
type BuildInfo struct {
	Env  string `json:"env"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// ReprintResponse is the body of a queued reprint.
type ReprintResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
