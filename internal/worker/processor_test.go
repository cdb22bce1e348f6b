package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/joblog"
	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printjob"
	"github.com/adcondev/print-agent/internal/server"
)

// mockSlowConn simulates a slow network connection
type mockSlowConn struct {
	delay  time.Duration
	mu     sync.Mutex
	events []string
}

func (m *mockSlowConn) Emit(event string, _ any) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *mockSlowConn) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// emittingDispatcher reports success twice like the real dispatcher, or
// fails templates named "fail".
type emittingDispatcher struct {
	running  atomic.Int32
	maxSeen  atomic.Int32
	hold     time.Duration
	panicked bool
}

func (d *emittingDispatcher) Dispatch(_ context.Context, job *printjob.Descriptor, conn dispatch.Connection, done dispatch.CompletionFunc) error {
	n := d.running.Add(1)
	defer d.running.Add(-1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(d.hold)

	if job.TemplateID == "panic" {
		panic("boom")
	}
	if job.TemplateID == "fail" {
		if conn != nil {
			_ = conn.Emit(dispatch.EventError, nil)
		}
		err := errors.New("failed")
		done(dispatch.Outcome{TaskID: job.TaskID, Err: err})
		return err
	}
	if conn != nil {
		_ = conn.Emit(dispatch.EventSuccess, nil)
		_ = conn.Emit(dispatch.EventSuccessCompat, nil)
	}
	done(dispatch.Outcome{TaskID: job.TaskID, Success: true})
	return nil
}

func waitFor(t *testing.T, w *Worker, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		stats := w.Stats()
		if stats.JobsProcessed+stats.JobsFailed >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for jobs to process. Processed: %d, Failed: %d", stats.JobsProcessed, stats.JobsFailed)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerNotificationDoesNotBlock(t *testing.T) {
	jobCount := 5
	jobQueue := make(chan *server.PrintJob, jobCount)

	w := NewWorker(jobQueue, &emittingDispatcher{}, Config{Workers: 1}, nil)
	w.Start()
	defer w.Stop(context.Background())

	conns := make([]*mockSlowConn, jobCount)
	for j := range conns {
		conns[j] = &mockSlowConn{delay: 200 * time.Millisecond}
		jobQueue <- &server.PrintJob{ID: "test-job", Job: &printjob.Descriptor{}, Conn: conns[j], ReceivedAt: time.Now()}
	}

	start := time.Now()
	waitFor(t, w, int64(jobCount))
	duration := time.Since(start)

	// Blocking delivery would take 5 jobs * 2 events * 200ms.
	if duration > 500*time.Millisecond {
		t.Errorf("Expected duration < 500ms (async), got %v", duration)
	}

	for _, conn := range conns {
		assert.Eventually(t, func() bool { return len(conn.seen()) == 2 }, 5*time.Second, 20*time.Millisecond)
		assert.Equal(t, []string{dispatch.EventSuccess, dispatch.EventSuccessCompat}, conn.seen(), "events of one job stay ordered")
	}
}

func TestWorkerPoolRunsConcurrently(t *testing.T) {
	jobQueue := make(chan *server.PrintJob, 8)
	d := &emittingDispatcher{hold: 100 * time.Millisecond}
	var depths []int
	var mu sync.Mutex

	w := NewWorker(jobQueue, d, Config{Workers: 4, ObserveQueue: func(n int) {
		mu.Lock()
		depths = append(depths, n)
		mu.Unlock()
	}}, nil)
	for j := 0; j < 8; j++ {
		jobQueue <- &server.PrintJob{ID: "j", Job: &printjob.Descriptor{}}
	}
	w.Start()
	defer w.Stop(context.Background())

	waitFor(t, w, 8)
	assert.Greater(t, d.maxSeen.Load(), int32(1))
	assert.LessOrEqual(t, d.maxSeen.Load(), int32(4))
	mu.Lock()
	assert.Len(t, depths, 8)
	mu.Unlock()
}

func TestWorkerStatsAndPanics(t *testing.T) {
	jobQueue := make(chan *server.PrintJob, 3)
	w := NewWorker(jobQueue, &emittingDispatcher{}, Config{Workers: 2}, nil)
	w.Start()

	jobQueue <- &server.PrintJob{ID: "ok", Job: &printjob.Descriptor{}}
	jobQueue <- &server.PrintJob{ID: "bad", Job: &printjob.Descriptor{TemplateID: "fail"}}
	jobQueue <- &server.PrintJob{ID: "panic", Job: &printjob.Descriptor{TemplateID: "panic"}}
	waitFor(t, w, 3)

	stats := w.Stats()
	assert.True(t, stats.IsRunning)
	assert.Equal(t, int64(1), stats.JobsProcessed)
	assert.Equal(t, int64(2), stats.JobsFailed)
	assert.False(t, stats.LastJobTime.IsZero())

	w.Stop(context.Background())
	assert.False(t, w.Stats().IsRunning)
	w.Stop(context.Background())
}

func TestStopInterruptsAfterDeadline(t *testing.T) {
	jobQueue := make(chan *server.PrintJob, 1)
	blocking := dispatcherFunc(func(ctx context.Context, job *printjob.Descriptor, _ dispatch.Connection, done dispatch.CompletionFunc) error {
		<-ctx.Done()
		done(dispatch.Outcome{TaskID: job.TaskID, Err: ctx.Err()})
		return ctx.Err()
	})
	w := NewWorker(jobQueue, blocking, Config{Workers: 1}, nil)
	w.Start()
	jobQueue <- &server.PrintJob{ID: "stuck", Job: &printjob.Descriptor{}}
	require.Eventually(t, func() bool { return len(jobQueue) == 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Stop(ctx)
	assert.Equal(t, int64(1), w.Stats().JobsFailed)
}

func TestWorkerCountsThroughCompletion(t *testing.T) {
	jobQueue := make(chan *server.PrintJob, 2)
	// Return values disagree with the reported outcomes; only completions count.
	d := dispatcherFunc(func(_ context.Context, job *printjob.Descriptor, _ dispatch.Connection, done dispatch.CompletionFunc) error {
		if job.TemplateID == "lost" {
			return nil
		}
		done(dispatch.Outcome{TaskID: job.TaskID, Success: false, Err: errors.New("offline")})
		return nil
	})
	w := NewWorker(jobQueue, d, Config{Workers: 1}, nil)
	w.Start()
	defer w.Stop(context.Background())

	jobQueue <- &server.PrintJob{ID: "a", Job: &printjob.Descriptor{TaskID: "J1"}}
	jobQueue <- &server.PrintJob{ID: "b", Job: &printjob.Descriptor{TemplateID: "lost"}}
	waitFor(t, w, 2)

	stats := w.Stats()
	assert.Equal(t, int64(0), stats.JobsProcessed)
	assert.Equal(t, int64(2), stats.JobsFailed, "a job that never completes counts as failed")
}

func TestWorkerWithRegistryDispatcher(t *testing.T) {
	jobQueue := make(chan *server.PrintJob, 2)
	sink := &countingSink{}
	d := dispatch.New(dispatch.Deps{
		Printers: staticLister{},
		PDF:      blobPrinter{},
		Sink:     sink,
		Platform: dispatch.PlatformFor("linux"),
	})
	w := NewWorker(jobQueue, d, Config{Workers: 1}, nil)
	w.Start()
	defer w.Stop(context.Background())

	jobQueue <- &server.PrintJob{ID: "a", Job: &printjob.Descriptor{Type: "blob_pdf", TaskID: "J1", PDFBlob: printjob.Blob(`[1,2,3]`)}}
	jobQueue <- &server.PrintJob{ID: "b", Job: &printjob.Descriptor{Type: "blob_pdf", TaskID: "J2"}}
	waitFor(t, w, 2)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.JobsProcessed)
	assert.Equal(t, int64(1), stats.JobsFailed)
	assert.Zero(t, d.Registry().Len())
	assert.Equal(t, int32(2), sink.n.Load())
}

type dispatcherFunc func(context.Context, *printjob.Descriptor, dispatch.Connection, dispatch.CompletionFunc) error

func (f dispatcherFunc) Dispatch(ctx context.Context, job *printjob.Descriptor, conn dispatch.Connection, done dispatch.CompletionFunc) error {
	return f(ctx, job, conn, done)
}

type staticLister struct{}

func (staticLister) List(context.Context) ([]printer.Printer, error) { return nil, nil }

type blobPrinter struct{}

func (blobPrinter) PrintFile(context.Context, string, string, printjob.Options) error { return nil }
func (blobPrinter) PrintURL(context.Context, string, string, printjob.Options) error  { return nil }
func (blobPrinter) PrintBlob(context.Context, printjob.Blob, string, printjob.Options) error {
	return nil
}

type countingSink struct{ n atomic.Int32 }

func (s *countingSink) Append(context.Context, joblog.Record) { s.n.Add(1) }
