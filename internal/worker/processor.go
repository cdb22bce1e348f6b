// Package worker drains the job queue into the dispatcher.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/printjob"
	"github.com/adcondev/print-agent/internal/server"
)

// Dispatcher runs one job to its terminal outcome and reports it to done.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *printjob.Descriptor, conn dispatch.Connection, done dispatch.CompletionFunc) error
}

// Config holds worker configuration
type Config struct {
	// Workers is the number of jobs printed concurrently.
	Workers int
	// ObserveQueue receives the queue depth after each dequeue.
	ObserveQueue func(depth int)
}

// Worker consumes print jobs from the queue and hands them to the dispatcher
type Worker struct {
	jobQueue   <-chan *server.PrintJob
	dispatcher Dispatcher
	config     Config
	logger     *zap.Logger

	jobCtx    context.Context
	jobCancel context.CancelFunc
	stopChan  chan struct{}
	wg        sync.WaitGroup

	mu            sync.Mutex
	isRunning     bool
	jobsProcessed int64
	jobsFailed    int64
	lastJobTime   time.Time
}

// NewWorker creates a new print worker pool
func NewWorker(jobQueue <-chan *server.PrintJob, dispatcher Dispatcher, config Config, logger *zap.Logger) *Worker {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.ObserveQueue == nil {
		config.ObserveQueue = func(int) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		jobQueue:   jobQueue,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start begins the worker goroutines
func (w *Worker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.jobCtx, w.jobCancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	for i := 0; i < w.config.Workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}
	w.logger.Info("print workers started", zap.Int("workers", w.config.Workers))
}

// Stop stops taking jobs and waits for running ones. Jobs still running
// when ctx expires are interrupted.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("interrupting running print jobs")
		w.jobCancel()
		<-done
	}
	w.jobCancel()

	stats := w.Stats()
	w.logger.Info("print workers stopped",
		zap.Int64("processed", stats.JobsProcessed),
		zap.Int64("failed", stats.JobsFailed))
}

// run is the main worker loop
func (w *Worker) run(n int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return

		case job, ok := <-w.jobQueue:
			if !ok {
				w.logger.Info("job channel closed, exiting", zap.Int("worker", n))
				return
			}
			w.config.ObserveQueue(len(w.jobQueue))
			w.processJob(job)
		}
	}
}

// processJob handles a single print job
func (w *Worker) processJob(job *server.PrintJob) {
	start := time.Now()
	w.logger.Debug("processing job",
		zap.String("job_id", job.ID),
		zap.Duration("queued_for", start.Sub(job.ReceivedAt)))

	var conn dispatch.Connection
	var notifier *asyncConn
	if job.Conn != nil {
		notifier = newAsyncConn(job.Conn, w.logger)
		conn = notifier
	}

	completed := false
	err := w.dispatch(job, conn, func(o dispatch.Outcome) {
		completed = true
		w.logger.Debug("job completed",
			zap.String("job_id", job.ID),
			zap.String("task_id", o.TaskID),
			zap.Bool("success", o.Success))
		w.record(o.Success)
	})
	if notifier != nil {
		notifier.Close()
	}
	if !completed {
		w.logger.Warn("job ended without a completion", zap.String("job_id", job.ID), zap.Error(err))
		w.record(false)
	}
}

// record counts one terminal outcome.
func (w *Worker) record(success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastJobTime = time.Now()
	if success {
		w.jobsProcessed++
	} else {
		w.jobsFailed++
	}
}

func (w *Worker) dispatch(job *server.PrintJob, conn dispatch.Connection, done dispatch.CompletionFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in dispatch: %v", r)
			w.logger.Error("panic in job",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return w.dispatcher.Dispatch(w.jobCtx, job.Job, conn, done)
}

// Stats returns current worker statistics
func (w *Worker) Stats() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Statistics{
		IsRunning:     w.isRunning,
		Workers:       w.config.Workers,
		JobsProcessed: w.jobsProcessed,
		JobsFailed:    w.jobsFailed,
		LastJobTime:   w.lastJobTime,
	}
}

// Statistics holds worker runtime statistics
type Statistics struct {
	IsRunning     bool      `json:"is_running"`
	Workers       int       `json:"workers"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastJobTime   time.Time `json:"last_job_time,omitempty"`
}
