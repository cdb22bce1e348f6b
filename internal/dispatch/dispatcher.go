// Package dispatch routes print jobs: it resolves the target printer,
// applies the status gate, runs one of the four print paths and reports the
// outcome to the job log, the originating client and the job counters.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/joblog"
	"github.com/adcondev/print-agent/internal/pdfprint"
	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printerr"
	"github.com/adcondev/print-agent/internal/printjob"
	"github.com/adcondev/print-agent/internal/render"
)

// PDFPrinter is the PDF Print Adapter.
type PDFPrinter interface {
	PrintFile(ctx context.Context, path, printer string, opts printjob.Options) error
	PrintURL(ctx context.Context, src, printer string, opts printjob.Options) error
	PrintBlob(ctx context.Context, blob printjob.Blob, printer string, opts printjob.Options) error
}

// Spooler writes rendered PDFs into the spool.
type Spooler interface {
	WriteBytes(sub string, data []byte) (string, error)
}

// StatusProber reads a printer's status text.
type StatusProber interface {
	Status(ctx context.Context, name string) string
}

// Sink records terminal outcomes. It must not fail the job.
type Sink interface {
	Append(ctx context.Context, rec joblog.Record)
}

// Recorder receives job metrics.
type Recorder interface {
	JobStarted()
	JobFinished(printType, status string, elapsed time.Duration)
}

// Settings is the dispatcher's read-only view of the configuration.
type Settings struct {
	DefaultPrinter        string
	IgnoreStatusOnWindows bool
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Printers printer.Lister
	Prober   StatusProber
	Surface  render.Surface
	PDF      PDFPrinter
	Spool    Spooler
	Sink     Sink
	Busy     Broadcaster
	Metrics  Recorder
	Logger   *zap.Logger
	Settings Settings
	Platform Platform
}

// Dispatcher holds the state shared by all jobs.
type Dispatcher struct {
	Deps
	registry *Registry
	tracker  *Tracker
}

// New creates a dispatcher. Nil optional collaborators are replaced by no-ops.
func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Busy == nil {
		deps.Busy = nopBroadcaster{}
	}
	if deps.Platform.Name == "" {
		deps.Platform = CurrentPlatform()
	}
	return &Dispatcher{Deps: deps, registry: NewRegistry(), tracker: &Tracker{}}
}

// Registry returns the pending-completion registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Tracker returns the running-job tracker.
func (d *Dispatcher) Tracker() *Tracker { return d.tracker }

// target is where a job was sent.
type target struct {
	name   string // resolved printer name, for the log
	device string // name handed to the print path; empty lets the OS choose
	status string // status text of a faulted printer
}

// Dispatch runs job to its single terminal outcome. conn and done may be
// nil. done is invoked exactly once, after the outcome has been logged and
// reported; jobs carrying a taskId reach it through the registry. The
// returned error is the job's failure, already reported to conn.
func (d *Dispatcher) Dispatch(ctx context.Context, job *printjob.Descriptor, conn Connection, done CompletionFunc) error {
	start := time.Now()
	d.tracker.Begin()
	d.Metrics.JobStarted()

	var pending *Pending
	if job.TaskID != "" {
		var replaced bool
		if pending, replaced = d.registry.Register(job.TaskID, done); replaced {
			d.Logger.Warn("duplicate task id replaced a pending job", zap.String("task_id", job.TaskID))
		}
	}

	t, err := d.execute(ctx, job)
	d.finish(ctx, job, conn, t, err, start)

	outcome := Outcome{TaskID: job.TaskID, Success: err == nil, Err: err}
	switch {
	case pending != nil:
		d.registry.Complete(pending, outcome)
	case done != nil:
		done(outcome)
	}
	d.tracker.Done()
	d.Busy.BroadcastBusy(d.tracker.State())
	return err
}

func (d *Dispatcher) execute(ctx context.Context, job *printjob.Descriptor) (t target, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error("print path panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = printerr.New(printerr.KindEngine, "internal error: %v", r)
		}
	}()

	printers, listErr := d.Printers.List(ctx)
	if listErr != nil {
		d.Logger.Warn("printer enumeration failed", zap.Error(listErr))
	}

	t = d.resolve(job, printers)
	if p, ok := printer.Find(printers, t.device); ok && t.device != "" {
		if d.Platform.Faulted(p, d.Settings.IgnoreStatusOnWindows) {
			t.status = d.Prober.Status(ctx, p.Name)
			d.Logger.Warn("printer failed the status gate",
				zap.String("printer", p.Name),
				zap.Int("status_code", p.Status),
				zap.String("status", t.status))
			return t, printerr.Faulted(p.Name, t.status)
		}
	}

	opts := job.Options
	switch job.Kind() {
	case printjob.KindPDF:
		err = d.printRendered(ctx, job, t.device)
	case printjob.KindURLPDF:
		err = d.PDF.PrintURL(ctx, job.URL, t.device, opts)
	case printjob.KindBlobPDF:
		if !job.HasBlob() {
			return t, printerr.New(printerr.KindMissingInput, "pdf_blob is required for blob_pdf jobs")
		}
		err = d.PDF.PrintBlob(ctx, job.PDFBlob, t.device, opts)
	default:
		err = d.printNative(ctx, job, t.device)
	}
	return t, err
}

// resolve picks the printer: the job's, then the configured default, then
// the OS default. A name the OS does not list is kept for the log but the
// device is left empty so the OS falls back to its own default.
func (d *Dispatcher) resolve(job *printjob.Descriptor, printers []printer.Printer) target {
	name := job.Printer
	if name == "" {
		name = d.Settings.DefaultPrinter
	}
	if name == "" {
		if def, ok := printer.Default(printers); ok {
			name = def.Name
		}
	}
	if name == "" {
		return target{}
	}
	if _, ok := printer.Find(printers, name); !ok {
		d.Logger.Warn("printer not found, using the OS default",
			zap.String("printer", name),
			zap.Int("detected", len(printers)))
		return target{name: name}
	}
	return target{name: name, device: name}
}

func (d *Dispatcher) printRendered(ctx context.Context, job *printjob.Descriptor, device string) error {
	data, err := d.Surface.RenderPDF(ctx, render.PageFor(job), job.Options)
	if err != nil {
		return printerr.Wrap(printerr.KindEngine, err, "render to PDF failed")
	}
	path, err := d.Spool.WriteBytes(pdfprint.SubRendered, data)
	if err != nil {
		return printerr.Wrap(printerr.KindEngine, err, "spool rendered PDF")
	}
	return d.PDF.PrintFile(ctx, path, device, job.Options)
}

type nativeResult struct {
	ok     bool
	reason string
}

func (d *Dispatcher) printNative(ctx context.Context, job *printjob.Descriptor, device string) error {
	done := make(chan nativeResult, 1)
	d.Surface.Print(ctx, render.PageFor(job), job.Options, device, func(ok bool, reason string) {
		select {
		case done <- nativeResult{ok, reason}:
		default:
		}
	})

	select {
	case res := <-done:
		if !res.ok {
			return printerr.Native(res.reason)
		}
		return nil
	case <-ctx.Done():
		return printerr.Native(fmt.Sprintf("print interrupted: %v", ctx.Err()))
	}
}

func (d *Dispatcher) finish(ctx context.Context, job *printjob.Descriptor, conn Connection, t target, jobErr error, start time.Time) {
	status := joblog.StatusSuccess
	message := ""
	if jobErr != nil {
		status = joblog.StatusFailed
		message = printerr.Message(jobErr)
	}

	d.Sink.Append(ctx, joblog.Record{
		ClientID:     job.ClientID,
		ClientType:   job.ClientType,
		Printer:      t.name,
		TemplateID:   job.TemplateID,
		JobJSON:      job.LogJSON(),
		PageCount:    job.PageCount,
		Status:       status,
		Reprintable:  job.Reprintable,
		ErrorMessage: message,
	})
	d.Metrics.JobFinished(string(job.Kind()), status, time.Since(start))

	logFields := []zap.Field{
		zap.String("template_id", job.TemplateID),
		zap.String("task_id", job.TaskID),
		zap.String("type", string(job.Kind())),
		zap.String("printer", t.name),
		zap.Duration("elapsed", time.Since(start)),
	}
	if jobErr != nil {
		d.Logger.Warn("print job failed", append(logFields, zap.Error(jobErr))...)
	} else {
		d.Logger.Info("print job completed", logFields...)
	}

	if conn != nil {
		d.notify(conn, job, t, jobErr)
	}

}

func (d *Dispatcher) notify(conn Connection, job *printjob.Descriptor, t target, jobErr error) {
	res := Result{
		ID:         job.TaskID,
		TemplateID: job.TemplateID,
		ReplyID:    job.ReplyID,
		Printer:    t.name,
	}

	if jobErr == nil {
		res.Mensaje = "print job completed"
		for _, event := range []string{EventSuccess, EventSuccessCompat} {
			if err := conn.Emit(event, res); err != nil {
				d.Logger.Warn("could not notify client", zap.String("event", event), zap.Error(err))
			}
		}
		return
	}

	res.Mensaje = printerr.Message(jobErr)
	res.Categoria = string(printerr.KindOf(jobErr))
	res.Path = printerr.PathOf(jobErr)
	res.Status = t.status
	if err := conn.Emit(EventError, res); err != nil {
		d.Logger.Warn("could not notify client", zap.String("event", EventError), zap.Error(err))
	}
}

type nopRecorder struct{}

func (nopRecorder) JobStarted()                               {}
func (nopRecorder) JobFinished(string, string, time.Duration) {}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastBusy(BusyState) {}
