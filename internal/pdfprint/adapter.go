// Package pdfprint turns a PDF source into a print: it normalizes local
// paths, remote URLs and in-memory blobs to a spooled file, then hands the
// file to the platform's PDF engines.
package pdfprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printerr"
	"github.com/adcondev/print-agent/internal/printjob"
)

// Config is the adapter's read-only view of the settings.
type Config struct {
	SpoolDir        string
	Engine          string   // primary engine on Windows
	EngineOrder     []string // explicit chain, overrides Engine
	AdobePath       string
	SumatraPath     string
	DownloadTimeout time.Duration
}

// Platform describes how one OS family prints PDFs.
type Platform struct {
	// Chain is true when engines fall back to one another.
	Chain   bool
	Engines func(cfg Config, r printer.Runner) []Engine
}

// platforms is keyed by runtime.GOOS; "" is the default entry.
var platforms = map[string]Platform{
	"windows": {Chain: true, Engines: windowsEngines},
	"":        {Chain: false, Engines: nativeEngines},
}

// PlatformFor returns the platform entry for goos.
func PlatformFor(goos string) Platform {
	if p, ok := platforms[goos]; ok {
		return p
	}
	return platforms[""]
}

func windowsEngines(cfg Config, r printer.Runner) []Engine {
	all := map[string]Engine{
		EngineAdobe:   &adobeEngine{runner: r, candidates: withOverride(cfg.AdobePath, adobeCandidates)},
		EngineSystem:  &systemEngine{runner: r},
		EngineSumatra: &sumatraEngine{runner: r, candidates: withOverride(cfg.SumatraPath, sumatraCandidates)},
	}
	var engines []Engine
	for _, name := range EngineOrder(cfg.Engine, cfg.EngineOrder) {
		engines = append(engines, all[name])
	}
	return engines
}

func nativeEngines(_ Config, r printer.Runner) []Engine {
	return []Engine{&lpEngine{runner: r}}
}

// EngineOrder resolves the Windows chain. An explicit order wins; unknown and
// repeated names are dropped. Otherwise the primary goes first and the rest
// follow in the fixed fallback order.
func EngineOrder(primary string, explicit []string) []string {
	known := map[string]bool{}
	for _, n := range fallbackOrder {
		known[n] = true
	}

	seen := map[string]bool{}
	var order []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if known[name] && !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}

	for _, n := range explicit {
		add(n)
	}
	if len(order) > 0 {
		return order
	}
	add(primary)
	for _, n := range fallbackOrder {
		add(n)
	}
	return order
}

// Adapter is the PDF Print Adapter.
type Adapter struct {
	spool      *Spool
	downloader *Downloader
	engines    []Engine
	chain      bool
	logger     *zap.Logger
	onFailure  func(engine string)
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithEngines replaces the platform engines.
func WithEngines(chain bool, engines ...Engine) Option {
	return func(a *Adapter) {
		a.chain = chain
		a.engines = engines
	}
}

// WithEngineFailureHook is called with the engine name each time an engine fails.
func WithEngineFailureHook(fn func(engine string)) Option {
	return func(a *Adapter) { a.onFailure = fn }
}

// NewAdapter selects the platform engines once for the running OS.
func NewAdapter(cfg Config, spool *Spool, runner printer.Runner, logger *zap.Logger, opts ...Option) *Adapter {
	if runner == nil {
		runner = printer.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	platform := PlatformFor(runtime.GOOS)
	a := &Adapter{
		spool:      spool,
		downloader: NewDownloader(cfg.DownloadTimeout),
		engines:    platform.Engines(cfg, runner),
		chain:      platform.Chain,
		logger:     logger,
		onFailure:  func(string) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engines lists the engine names in the order they are tried.
func (a *Adapter) Engines() []string {
	names := make([]string, len(a.engines))
	for i, e := range a.engines {
		names[i] = e.Name()
	}
	return names
}

// PrintURL prints a remote URL or a local path. Remote PDFs are downloaded
// into the url_pdf spool folder first.
func (a *Adapter) PrintURL(ctx context.Context, src, printerName string, opts printjob.Options) error {
	if src == "" {
		return printerr.New(printerr.KindMissingInput, "url is required")
	}
	if !IsRemote(src) {
		return a.PrintFile(ctx, localPath(src), printerName, opts)
	}

	path, err := a.spool.Write(SubURL, func(w io.Writer) error {
		return a.downloader.Fetch(ctx, src, w)
	})
	if err != nil {
		a.logger.Warn("pdf download failed", zap.String("url", src), zap.Error(err))
		return printerr.Wrap(printerr.KindDownload, err, "download failed")
	}
	a.logger.Debug("pdf downloaded", zap.String("url", src), zap.String("path", path))
	return a.PrintFile(ctx, path, printerName, opts)
}

// PrintBlob decodes an in-memory payload into the blob_pdf spool folder and
// prints it.
func (a *Adapter) PrintBlob(ctx context.Context, blob printjob.Blob, printerName string, opts printjob.Options) error {
	data, err := blob.Bytes()
	if err != nil {
		return err
	}
	path, err := a.spool.WriteBytes(SubBlob, data)
	if err != nil {
		return printerr.Wrap(printerr.KindEngine, err, "spool blob")
	}
	return a.PrintFile(ctx, path, printerName, opts)
}

// PrintFile prints a local PDF.
func (a *Adapter) PrintFile(ctx context.Context, path, printerName string, opts printjob.Options) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return printerr.NotFound(path)
	}
	if len(a.engines) == 0 {
		return printerr.New(printerr.KindEngine, "no PDF engine available on %s", runtime.GOOS)
	}

	if !a.chain {
		e := a.engines[0]
		if err := e.Print(ctx, path, printerName, opts); err != nil {
			a.onFailure(e.Name())
			return printerr.Wrap(printerr.KindEngine, err, e.Name()+" failed")
		}
		return nil
	}

	var errs error
	for i, e := range a.engines {
		err := e.Print(ctx, path, printerName, opts)
		if err == nil {
			if i > 0 {
				a.logger.Info("pdf printed by fallback engine", zap.String("engine", e.Name()), zap.String("file", path))
			}
			return nil
		}
		a.onFailure(e.Name())
		a.logger.Warn("pdf engine failed", zap.String("engine", e.Name()), zap.Int("attempt", i+1), zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.Name(), err))
		if errors.Is(ctx.Err(), context.Canceled) {
			break
		}
	}
	return printerr.Wrap(printerr.KindEngine, errs, "all PDF engines failed")
}

// localPath accepts plain paths and file:// URLs.
func localPath(src string) string {
	if strings.HasPrefix(strings.ToLower(src), "file://") {
		if u, err := url.Parse(src); err == nil {
			p := u.Path
			// file:///C:/x.pdf parses to /C:/x.pdf
			if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
				p = p[1:]
			}
			return p
		}
	}
	return src
}
