package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/printjob"
)

const defaultChromeTimeout = 60 * time.Second

// StagingFolder is the spool subfolder for natively printed pages.
const StagingFolder = "print_html"

// ChromeConfig contains configuration for the headless Chromium surface
type ChromeConfig struct {
	// Timeout bounds one render; zero means the default.
	Timeout time.Duration
	// RemoteURL points at a running Chromium's DevTools endpoint (optional).
	RemoteURL string
	// ExecPath overrides the Chromium binary lookup.
	ExecPath  string
	NoSandbox bool
	Logger    *zap.Logger
}

// ChromeSurface renders with Chromium over the DevTools protocol and prints
// natively by staging the rendered page and submitting it to the spooler.
type ChromeSurface struct {
	config      ChromeConfig
	logger      *zap.Logger
	stager      Stager
	printer     FilePrinter
	allocCtx    context.Context
	allocCancel context.CancelFunc

	// render is RenderPDF; tests swap it.
	render func(ctx context.Context, p Page, opts printjob.Options) ([]byte, error)
}

// NewChromeSurface creates the allocator. Chromium itself starts lazily on
// the first render.
func NewChromeSurface(config ChromeConfig, stager Stager, printer FilePrinter) *ChromeSurface {
	if config.Timeout == 0 {
		config.Timeout = defaultChromeTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &ChromeSurface{config: config, logger: logger, stager: stager, printer: printer}
	s.render = s.RenderPDF

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if config.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}

	if config.RemoteURL != "" {
		s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), config.RemoteURL)
	} else {
		s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return s
}

// RenderPDF renders page to PDF bytes.
func (s *ChromeSurface) RenderPDF(ctx context.Context, p Page, opts printjob.Options) ([]byte, error) {
	if strings.TrimSpace(p.HTML) == "" && strings.TrimSpace(p.URL) == "" {
		return nil, errors.New("render: nothing to render, html and url are empty")
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	browserCtx, browserCancel := chromedp.NewContext(s.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			s.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	defer browserCancel()

	// Tie the tab to the caller's deadline.
	stop := context.AfterFunc(ctx, browserCancel)
	defer stop()

	params := buildPrintParams(opts)
	var pdfData []byte

	err := chromedp.Run(browserCtx,
		load(p),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := printToPDF(params).Do(ctx)
			if err != nil {
				return err
			}
			pdfData = data
			return nil
		}),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("render: timed out after %v: %w", s.config.Timeout, err)
		}
		s.logger.Error("chromedp rendering failed", zap.Error(err))
		return nil, fmt.Errorf("render: %w", err)
	}
	if len(pdfData) == 0 {
		return nil, errors.New("render: generated PDF is empty")
	}

	s.logger.Debug("page rendered",
		zap.Int("bytes", len(pdfData)),
		zap.Duration("duration", time.Since(start)))
	return pdfData, nil
}

func load(p Page) chromedp.Action {
	if strings.TrimSpace(p.HTML) == "" {
		return chromedp.Tasks{
			chromedp.Navigate(p.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}
	}
	content := buildCompleteHTML(p.HTML)
	return chromedp.Tasks{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, content).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
}

func printToPDF(p printParams) *page.PrintToPDFParams {
	cmd := page.PrintToPDF().
		WithPrintBackground(p.printBackground).
		WithMarginTop(p.marginTop).
		WithMarginRight(p.marginRight).
		WithMarginBottom(p.marginBottom).
		WithMarginLeft(p.marginLeft).
		WithScale(p.scale).
		WithLandscape(p.landscape).
		WithDisplayHeaderFooter(p.displayHeaderFooter).
		WithPreferCSSPageSize(p.preferCSSPageSize)
	if p.paperWidth > 0 && p.paperHeight > 0 {
		cmd = cmd.WithPaperWidth(p.paperWidth).WithPaperHeight(p.paperHeight)
	}
	if p.displayHeaderFooter {
		cmd = cmd.WithHeaderTemplate(p.headerTemplate).WithFooterTemplate(p.footerTemplate)
	}
	if p.pageRanges != "" {
		cmd = cmd.WithPageRanges(p.pageRanges)
	}
	return cmd
}

// Print renders page, stages it under print_html and submits it to device
// with the job's device options. It returns at once; done is called once
// from the print goroutine.
func (s *ChromeSurface) Print(ctx context.Context, p Page, opts printjob.Options, device string, done DoneFunc) {
	if !opts.IsSilent() {
		s.logger.Warn("print dialog requested on a headless surface, printing silently",
			zap.String("device", device))
	}
	go func() {
		data, err := s.render(ctx, p, opts)
		if err != nil {
			done(false, err.Error())
			return
		}
		path, err := s.stager.WriteBytes(StagingFolder, data)
		if err != nil {
			done(false, err.Error())
			return
		}
		// Page ranges were applied by the renderer.
		opts.PageRanges = ""
		if err := s.printer.PrintFile(ctx, path, device, opts); err != nil {
			done(false, err.Error())
			return
		}
		done(true, "")
	}()
}

// Close releases resources held by the surface
func (s *ChromeSurface) Close() error {
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}

var _ Surface = (*ChromeSurface)(nil)
