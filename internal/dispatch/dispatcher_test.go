package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/adcondev/print-agent/internal/joblog"
	"github.com/adcondev/print-agent/internal/pdfprint"
	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printerr"
	"github.com/adcondev/print-agent/internal/printjob"
	"github.com/adcondev/print-agent/internal/render"
)

type fakeLister struct {
	printers []printer.Printer
	err      error
}

func (f *fakeLister) List(context.Context) ([]printer.Printer, error) { return f.printers, f.err }

type fakeProber struct{ calls int }

func (f *fakeProber) Status(context.Context, string) string {
	f.calls++
	return "Paper Jam"
}

type fakeSurface struct {
	pdf       []byte
	renderErr error
	nativeOK  bool
	reason    string
	device    *string
}

func (f *fakeSurface) RenderPDF(context.Context, render.Page, printjob.Options) ([]byte, error) {
	return f.pdf, f.renderErr
}

func (f *fakeSurface) Print(_ context.Context, _ render.Page, _ printjob.Options, device string, done render.DoneFunc) {
	d := device
	f.device = &d
	go done(f.nativeOK, f.reason)
}

func (f *fakeSurface) Close() error { return nil }

type pdfCall struct {
	method, src, printer string
}

type fakePDF struct {
	mu    sync.Mutex
	calls []pdfCall
	err   error
	panic bool
}

func (f *fakePDF) record(method, src, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("engine exploded")
	}
	f.calls = append(f.calls, pdfCall{method, src, p})
	return f.err
}

func (f *fakePDF) PrintFile(_ context.Context, path, p string, _ printjob.Options) error {
	return f.record("file", path, p)
}

func (f *fakePDF) PrintURL(_ context.Context, src, p string, _ printjob.Options) error {
	return f.record("url", src, p)
}

func (f *fakePDF) PrintBlob(_ context.Context, _ printjob.Blob, p string, _ printjob.Options) error {
	return f.record("blob", "", p)
}

type fakeSpool struct{ sub string }

func (f *fakeSpool) WriteBytes(sub string, _ []byte) (string, error) {
	f.sub = sub
	return "/spool/" + sub + "/x.pdf", nil
}

type memSink struct {
	mu      sync.Mutex
	records []joblog.Record
}

func (m *memSink) Append(_ context.Context, rec joblog.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

type emitted struct {
	event   string
	payload Result
}

type fakeConn struct {
	mu     sync.Mutex
	events []emitted
}

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{event, payload.(Result)})
	return nil
}

type busyLog struct {
	mu     sync.Mutex
	states []BusyState
}

func (b *busyLog) BroadcastBusy(s BusyState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, s)
}

type harness struct {
	d         *Dispatcher
	lister    *fakeLister
	prober    *fakeProber
	surface   *fakeSurface
	pdf       *fakePDF
	spool     *fakeSpool
	sink      *memSink
	busy      *busyLog
	logs      *observer.ObservedLogs

	mu        sync.Mutex
	completed map[string]int
}

func newHarness(t *testing.T, platform Platform, settings Settings) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		lister: &fakeLister{printers: []printer.Printer{
			{Name: "Office", Status: platform.ReadyStatus, IsDefault: true},
			{Name: "Jammed", Status: 99},
		}},
		prober:    &fakeProber{},
		surface:   &fakeSurface{pdf: []byte("%PDF"), nativeOK: true},
		pdf:       &fakePDF{},
		spool:     &fakeSpool{},
		sink:      &memSink{},
		busy:      &busyLog{},
		completed: map[string]int{},
		logs:      logs,
	}
	h.d = New(Deps{
		Printers: h.lister,
		Prober:   h.prober,
		Surface:  h.surface,
		PDF:      h.pdf,
		Spool:    h.spool,
		Sink:     h.sink,
		Busy:     h.busy,
		Logger:   zap.New(core),
		Settings: settings,
		Platform: platform,
	})
	return h
}

func (h *harness) dispatch(ctx context.Context, job *printjob.Descriptor, conn Connection) error {
	return h.d.Dispatch(ctx, job, conn, func(o Outcome) {
		h.mu.Lock()
		h.completed[o.TaskID]++
		h.mu.Unlock()
	})
}

var (
	windows = PlatformFor("windows")
	cups    = PlatformFor("linux")
)

func TestEveryPathFinishesOnce(t *testing.T) {
	tests := []struct {
		name    string
		job     printjob.Descriptor
		setup   func(h *harness)
		wantErr printerr.Kind
	}{
		{name: "html", job: printjob.Descriptor{Type: "html"}},
		{name: "unknown type is html", job: printjob.Descriptor{Type: "receipt"}},
		{name: "pdf", job: printjob.Descriptor{Type: "pdf", HTML: "<p>x</p>"}},
		{name: "url_pdf", job: printjob.Descriptor{Type: "url_pdf", URL: "https://example.com/a.pdf"}},
		{name: "blob_pdf", job: printjob.Descriptor{Type: "blob_pdf", PDFBlob: printjob.Blob(`[1,2]`)}},
		{name: "blob missing", job: printjob.Descriptor{Type: "blob_pdf"}, wantErr: printerr.KindMissingInput},
		{name: "faulted printer", job: printjob.Descriptor{Type: "pdf", Printer: "Jammed"}, wantErr: printerr.KindPrinter},
		{
			name:    "engine failure",
			job:     printjob.Descriptor{Type: "url_pdf", URL: "/x.pdf"},
			setup:   func(h *harness) { h.pdf.err = printerr.NotFound("/x.pdf") },
			wantErr: printerr.KindNotFound,
		},
		{
			name:    "render failure",
			job:     printjob.Descriptor{Type: "pdf"},
			setup:   func(h *harness) { h.surface.renderErr = errors.New("chrome missing") },
			wantErr: printerr.KindEngine,
		},
		{
			name:    "native failure",
			job:     printjob.Descriptor{Type: "html"},
			setup:   func(h *harness) { h.surface.nativeOK, h.surface.reason = false, "Printer offline" },
			wantErr: printerr.KindNative,
		},
		{
			name:    "panic",
			job:     printjob.Descriptor{Type: "url_pdf", URL: "/x.pdf"},
			setup:   func(h *harness) { h.pdf.panic = true },
			wantErr: printerr.KindEngine,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, cups, Settings{})
			if tt.setup != nil {
				tt.setup(h)
			}
			job := tt.job
			job.TaskID = "J-" + tt.name
			job.TemplateID = "T1"
			conn := &fakeConn{}

			err := h.dispatch(context.Background(), &job, conn)

			assert.Equal(t, 1, h.completed[job.TaskID], "completion invoked once")
			assert.Zero(t, h.d.Registry().Len(), "registry entry removed")
			require.Len(t, h.sink.records, 1, "one log record")
			rec := h.sink.records[0]
			require.Len(t, h.busy.states, 1)
			assert.Equal(t, BusyState{Busy: false, Running: 0}, h.busy.states[0])

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, joblog.StatusSuccess, rec.Status)
				assert.Empty(t, rec.ErrorMessage)
				require.Len(t, conn.events, 2)
				assert.Equal(t, EventSuccess, conn.events[0].event)
				assert.Equal(t, EventSuccessCompat, conn.events[1].event)
				assert.Equal(t, conn.events[0].payload, conn.events[1].payload)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.wantErr, printerr.KindOf(err))
			assert.Equal(t, joblog.StatusFailed, rec.Status)
			assert.NotEmpty(t, rec.ErrorMessage)
			require.Len(t, conn.events, 1)
			assert.Equal(t, EventError, conn.events[0].event)
			assert.Equal(t, "T1", conn.events[0].payload.TemplateID)
			assert.Equal(t, string(tt.wantErr), conn.events[0].payload.Categoria)
		})
	}
}

func TestStatusGate(t *testing.T) {
	jammed := printjob.Descriptor{Type: "url_pdf", URL: "/a.pdf", Printer: "Jammed"}

	t.Run("windows lenient by default", func(t *testing.T) {
		h := newHarness(t, windows, Settings{IgnoreStatusOnWindows: true})
		job := jammed
		require.NoError(t, h.dispatch(context.Background(), &job, nil))
		assert.Len(t, h.pdf.calls, 1)
		assert.Zero(t, h.prober.calls)
	})

	t.Run("windows with leniency off", func(t *testing.T) {
		h := newHarness(t, windows, Settings{IgnoreStatusOnWindows: false})
		job := jammed
		conn := &fakeConn{}
		err := h.dispatch(context.Background(), &job, conn)
		assert.Equal(t, printerr.KindPrinter, printerr.KindOf(err))
		assert.Empty(t, h.pdf.calls, "no print attempt")
		assert.Equal(t, 1, h.prober.calls)
		require.Len(t, conn.events, 1)
		assert.Equal(t, "Jammed", conn.events[0].payload.Printer)
		assert.Equal(t, "Paper Jam", conn.events[0].payload.Status)
	})

	t.Run("cups ignores the windows setting", func(t *testing.T) {
		h := newHarness(t, cups, Settings{IgnoreStatusOnWindows: true})
		job := jammed
		err := h.dispatch(context.Background(), &job, nil)
		assert.Equal(t, printerr.KindPrinter, printerr.KindOf(err))
		assert.Empty(t, h.pdf.calls)
	})

	t.Run("ready printer passes", func(t *testing.T) {
		h := newHarness(t, cups, Settings{})
		job := printjob.Descriptor{Type: "url_pdf", URL: "/a.pdf", Printer: "Office"}
		require.NoError(t, h.dispatch(context.Background(), &job, nil))
		assert.Equal(t, "Office", h.pdf.calls[0].printer)
	})
}

func TestBlobWithoutPayloadSkipsAdapter(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	job, err := printjob.Parse([]byte(`{"type":"blob_pdf","pdf_blob":null,"taskId":"J9"}`))
	require.NoError(t, err)

	err = h.dispatch(context.Background(), job, nil)
	assert.Equal(t, printerr.KindMissingInput, printerr.KindOf(err))
	assert.Empty(t, h.pdf.calls)
	assert.Equal(t, 1, h.completed["J9"])
}

func TestBlobJobWithoutSocket(t *testing.T) {
	for _, adapterErr := range []error{nil, errors.New("sumatra: exit status 1")} {
		h := newHarness(t, cups, Settings{})
		h.pdf.err = adapterErr
		job, err := printjob.Parse([]byte(`{"type":"blob_pdf","templateId":"T1","taskId":"J1",` +
			`"pdf_blob":{"type":"Buffer","data":[37,80,68,70,45,49,46,52,10,37,37,69,79,70,10,10,10]}}`))
		require.NoError(t, err)

		_ = h.dispatch(context.Background(), job, nil)

		require.Len(t, h.sink.records, 1)
		want := joblog.StatusSuccess
		if adapterErr != nil {
			want = joblog.StatusFailed
		}
		assert.Equal(t, want, h.sink.records[0].Status)
		assert.Equal(t, "T1", h.sink.records[0].TemplateID)
		assert.NotContains(t, h.sink.records[0].JobJSON, "pdf_blob")
		assert.Equal(t, 1, h.completed["J1"])
	}
}

func TestUnknownPrinterFallsBackToOSDefault(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	job := &printjob.Descriptor{Type: "pdf", Printer: "UnknownPrinter", HTML: "<p/>"}

	require.NoError(t, h.dispatch(context.Background(), job, nil))

	require.Len(t, h.pdf.calls, 1)
	assert.Equal(t, "", h.pdf.calls[0].printer, "OS chooses the printer")
	assert.Equal(t, "/spool/"+pdfprint.SubRendered+"/x.pdf", h.pdf.calls[0].src)
	assert.Equal(t, "UnknownPrinter", h.sink.records[0].Printer)
	assert.Equal(t, 1, h.logs.FilterMessage("printer not found, using the OS default").Len())
}

func TestPrinterResolutionOrder(t *testing.T) {
	h := newHarness(t, cups, Settings{DefaultPrinter: "Configured"})
	h.lister.printers = append(h.lister.printers, printer.Printer{Name: "Configured", Status: printer.CUPSIdle})

	job := &printjob.Descriptor{Type: "html"}
	require.NoError(t, h.dispatch(context.Background(), job, nil))
	require.NotNil(t, h.surface.device)
	assert.Equal(t, "Configured", *h.surface.device)

	h = newHarness(t, cups, Settings{})
	require.NoError(t, h.dispatch(context.Background(), &printjob.Descriptor{Type: "html"}, nil))
	assert.Equal(t, "Office", *h.surface.device, "OS default")

	h = newHarness(t, cups, Settings{DefaultPrinter: "Configured"})
	h.lister.printers = append(h.lister.printers, printer.Printer{Name: "Configured", Status: printer.CUPSIdle})
	require.NoError(t, h.dispatch(context.Background(), &printjob.Descriptor{Type: "html", Printer: "Office"}, nil))
	assert.Equal(t, "Office", *h.surface.device, "explicit printer wins")
}

func TestEnumerationFailureStillPrints(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	h.lister.err = errors.New("lpstat missing")
	h.lister.printers = nil

	require.NoError(t, h.dispatch(context.Background(), &printjob.Descriptor{Type: "url_pdf", URL: "/a.pdf", Printer: "Office"}, nil))
	assert.Equal(t, "", h.pdf.calls[0].printer)
}

func TestNativePrintInterruptedByShutdown(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	h.d.Surface = hangingSurface{&fakeSurface{}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.dispatch(ctx, &printjob.Descriptor{Type: "html", TaskID: "J2"}, nil)
	assert.Equal(t, printerr.KindNative, printerr.KindOf(err))
	assert.Equal(t, 1, h.completed["J2"])
}

type hangingSurface struct{ *fakeSurface }

func (hangingSurface) Print(context.Context, render.Page, printjob.Options, string, render.DoneFunc) {}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	var got []string
	first, replaced := r.Register("a", func(o Outcome) { got = append(got, "first") })
	assert.False(t, replaced)
	second, replaced := r.Register("a", func(o Outcome) { got = append(got, "second") })
	assert.True(t, replaced, "duplicate displaces the pending entry")
	assert.Equal(t, 1, r.Len())

	r.Complete(first, Outcome{TaskID: "a"})
	assert.Equal(t, 1, r.Len(), "displaced entry does not remove its successor")
	r.Complete(second, Outcome{TaskID: "a"})
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Zero(t, r.Len())

	p, _ := r.Register("nil", nil)
	r.Complete(p, Outcome{})
	assert.Zero(t, r.Len())
}

func TestCompletionWithoutTaskID(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	var outcomes []Outcome
	err := h.d.Dispatch(context.Background(), &printjob.Descriptor{Type: "html"}, nil, func(o Outcome) {
		outcomes = append(outcomes, o)
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Zero(t, h.d.Registry().Len())

	require.NoError(t, h.d.Dispatch(context.Background(), &printjob.Descriptor{Type: "html"}, nil, nil))
}

func TestCompletionRunsAfterOutcomeIsLogged(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	h.pdf.err = errors.New("engine down")
	var logged int
	err := h.d.Dispatch(context.Background(), &printjob.Descriptor{Type: "url_pdf", URL: "/a.pdf", TaskID: "J5"}, nil, func(o Outcome) {
		logged = len(h.sink.records)
		assert.Equal(t, "J5", o.TaskID)
		assert.False(t, o.Success)
		assert.Error(t, o.Err)
	})
	require.Error(t, err)
	assert.Equal(t, 1, logged)
	assert.Zero(t, h.d.Registry().Len())
}

func TestDuplicateTaskIDsCompleteSeparately(t *testing.T) {
	h := newHarness(t, cups, Settings{})
	release := make(chan struct{})
	h.d.Surface = blockingSurface{fakeSurface: &fakeSurface{nativeOK: true}, release: release}

	errs := make(chan error, 2)
	go func() { errs <- h.dispatch(context.Background(), &printjob.Descriptor{Type: "html", TaskID: "dup"}, nil) }()
	require.Eventually(t, func() bool { return h.d.Registry().Len() == 1 }, time.Second, 5*time.Millisecond)
	go func() { errs <- h.dispatch(context.Background(), &printjob.Descriptor{Type: "html", TaskID: "dup"}, nil) }()
	require.Eventually(t, func() bool { return h.logs.FilterMessage("duplicate task id replaced a pending job").Len() == 1 },
		time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	h.mu.Lock()
	assert.Equal(t, 2, h.completed["dup"])
	h.mu.Unlock()
	assert.Zero(t, h.d.Registry().Len())
}

type blockingSurface struct {
	*fakeSurface
	release chan struct{}
}

func (s blockingSurface) Print(_ context.Context, _ render.Page, _ printjob.Options, _ string, done render.DoneFunc) {
	go func() {
		<-s.release
		done(true, "")
	}()
}

func TestTracker(t *testing.T) {
	var tr Tracker
	tr.Begin()
	tr.Begin()
	assert.Equal(t, BusyState{Busy: true, Running: 2}, tr.State())
	tr.Done()
	tr.Done()
	tr.Done()
	assert.Equal(t, BusyState{}, tr.State())
}
