// Package daemon wires the print agent together and runs it as a service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/judwhite/go-svc"
	"go.uber.org/zap"

	"github.com/adcondev/print-agent/internal/assets"
	"github.com/adcondev/print-agent/internal/auth"
	"github.com/adcondev/print-agent/internal/config"
	"github.com/adcondev/print-agent/internal/dispatch"
	"github.com/adcondev/print-agent/internal/joblog"
	"github.com/adcondev/print-agent/internal/metrics"
	"github.com/adcondev/print-agent/internal/pdfprint"
	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/relay"
	"github.com/adcondev/print-agent/internal/render"
	"github.com/adcondev/print-agent/internal/server"
	"github.com/adcondev/print-agent/internal/worker"
)

const (
	shutdownTimeout      = 10 * time.Second
	spoolCleanupInterval = time.Hour
)

// Program implements svc.Service interface
type Program struct {
	// Set by the caller before Init.
	Console    bool
	ConfigPath string
	EnvFile    string

	env      config.Environment
	settings config.Settings
	log      *Logger

	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	startTime  time.Time
	httpServer *http.Server

	metrics     *metrics.Metrics
	discovery   *printer.Discovery
	spool       *pdfprint.Spool
	surface     render.Surface
	jobLog      *joblog.Store
	dispatcher  *dispatch.Dispatcher
	wsServer    *server.Server
	relayClient *relay.Client
	printWorker *worker.Worker
	authMgr     *auth.Manager
}

// Init loads the configuration and opens the log.
func (p *Program) Init(env svc.Environment) error {
	envConfig, known := config.GetEnvironment(config.BuildEnvironment)
	p.env = envConfig

	console := p.Console || env == nil || !env.IsWindowsService()
	logger, err := NewLogger(envConfig.LogPath(programData()), envConfig.Verbose, console)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	p.log = logger

	if !known {
		logger.Warn("unknown build environment, using local", zap.String("env", config.BuildEnvironment))
	}

	settings, err := config.LoadSettings(p.ConfigPath, p.EnvFile, envConfig.DataDir(programData()))
	if err != nil {
		logger.Error("invalid settings", zap.Error(err))
		return fmt.Errorf("failed to load settings: %w", err)
	}
	p.settings = settings

	logger.Info("print agent starting",
		zap.String("environment", envConfig.Name),
		zap.String("service", envConfig.ServiceName),
		zap.String("build_date", config.BuildDate),
		zap.String("build_time", config.BuildTime),
		zap.String("log_file", envConfig.LogPath(programData())),
		zap.String("settings_file", p.ConfigPath))
	return nil
}

// Start builds every component and starts serving.
func (p *Program) Start() error {
	p.startTime = time.Now()
	p.ctx, p.cancel = context.WithCancel(context.Background())
	cfg, s, log := p.env, p.settings, p.log.Logger

	p.authMgr = auth.NewManager(p.ctx, config.PasswordHashB64, log.Named("auth"))
	p.metrics = metrics.New()

	platform := dispatch.CurrentPlatform()
	runner := printer.ExecRunner{}
	p.discovery = printer.NewDiscovery(printer.NewOSLister(runner), s.PrinterCacheTTL, platform.ReadyStatus, log.Named("printers"))
	p.discovery.LogStartupDiagnostics()

	spool, err := pdfprint.NewSpool(s.SpoolDir, log.Named("spool"))
	if err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	p.spool = spool

	adapter := pdfprint.NewAdapter(pdfprint.Config{
		SpoolDir:        s.SpoolDir,
		Engine:          s.PDFEngine,
		EngineOrder:     s.PDFEngineOrder,
		AdobePath:       s.AdobePath,
		SumatraPath:     s.SumatraPath,
		DownloadTimeout: s.DownloadTimeout,
	}, spool, runner, log.Named("pdf"), pdfprint.WithEngineFailureHook(p.metrics.EngineFailed))
	log.Info("pdf engines", zap.Strings("order", adapter.Engines()))

	p.surface = render.NewChromeSurface(render.ChromeConfig{
		Timeout:   s.Chrome.RenderTimeout,
		RemoteURL: s.Chrome.RemoteURL,
		ExecPath:  s.Chrome.ExecPath,
		NoSandbox: s.Chrome.NoSandbox,
		Logger:    log.Named("render"),
	}, spool, adapter)

	p.jobLog, err = joblog.Open(s.DBPath, log.Named("joblog"))
	if err != nil {
		return fmt.Errorf("job log: %w", err)
	}

	p.wsServer = server.NewServer(server.Config{
		QueueSize:        cfg.QueueCapacity,
		AllowedOrigins:   cfg.AllowedOrigins,
		AuthToken:        config.AuthToken,
		MaxJobsPerMinute: cfg.MaxJobsPerMinute,
	}, p.discovery, log.Named("ws"))

	busy := busyFanout{p.wsServer}
	if s.Relay.Enabled() {
		p.relayClient = relay.NewClient(relay.Config{
			URL:      s.Relay.URL,
			ClientID: s.Relay.ClientID,
			Secret:   s.Relay.Secret,
			TokenTTL: s.Relay.TokenTTL,
		}, p.wsServer, log.Named("relay"))
		busy = append(busy, p.relayClient)
	}

	p.dispatcher = dispatch.New(dispatch.Deps{
		Printers: p.discovery,
		Prober:   printer.NewProber(runner, log.Named("printers")),
		Surface:  p.surface,
		PDF:      adapter,
		Spool:    spool,
		Sink:     p.jobLog,
		Busy:     busy,
		Metrics:  p.metrics,
		Logger:   log.Named("dispatch"),
		Settings: dispatch.Settings{
			DefaultPrinter:        s.DefaultPrinter,
			IgnoreStatusOnWindows: s.IgnoreStatusOnWindows,
		},
		Platform: platform,
	})

	p.printWorker = worker.NewWorker(p.wsServer.JobQueue(), p.dispatcher, worker.Config{
		Workers:      s.WorkerCount,
		ObserveQueue: p.metrics.SetQueueDepth,
	}, log.Named("worker"))
	p.printWorker.Start()

	if p.relayClient != nil {
		p.goRun(func() { p.relayClient.Run(p.ctx) })
	}
	p.goRun(p.spoolCleanupLoop)

	router, err := p.router()
	if err != nil {
		return err
	}
	p.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	p.goRun(func() {
		log.Info("print agent ready",
			zap.String("environment", cfg.Name),
			zap.String("websocket", "ws://"+cfg.ListenAddr+"/ws"),
			zap.String("dashboard", "http://"+cfg.ListenAddr),
			zap.String("health", "http://"+cfg.ListenAddr+"/health"),
			zap.Bool("auth", p.authMgr.Enabled()),
			zap.Bool("relay", p.relayClient != nil),
			zap.Int("workers", s.WorkerCount))

		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	})

	return nil
}

func (p *Program) router() (http.Handler, error) {
	tmpl, err := template.ParseFS(assets.WebFiles, "web/index.html", "web/login.html")
	if err != nil {
		return nil, fmt.Errorf("parse web templates: %w", err)
	}
	static, err := fs.Sub(assets.WebFiles, "web/static")
	if err != nil {
		return nil, fmt.Errorf("web assets: %w", err)
	}

	api := &API{
		Printers:  p.discovery,
		Jobs:      p.jobLog,
		Queue:     p.wsServer,
		Workers:   p.printWorker.Stats,
		Busy:      p.dispatcher.Tracker().State,
		Pending:   p.dispatcher.Registry().Len,
		Auth:      p.authMgr,
		Metrics:   p.metrics.Handler(),
		LogLevel:  p.log.Level(),
		WebSocket: p.wsServer.HandleWebSocket,
		Templates: tmpl,
		Static:    static,
		AuthToken: config.AuthToken,
		StartTime: p.startTime,
		Logger:    p.log.Named("http"),
	}
	if p.relayClient != nil {
		api.Relay = p.relayClient.Connected
	}
	return api.Router(), nil
}

// Stop shuts components down in dependency order.
func (p *Program) Stop() error {
	log := p.log.Logger
	log.Info("print agent shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if p.httpServer != nil {
		if err := p.httpServer.Shutdown(ctx); err != nil {
			log.Warn("http shutdown error", zap.Error(err))
		}
	}

	// Stops the relay, the spool cleanup and auth cleanup.
	if p.cancel != nil {
		p.cancel()
	}

	if p.printWorker != nil {
		p.printWorker.Stop(ctx)
	}
	if p.wsServer != nil {
		p.wsServer.Shutdown()
	}
	if p.jobLog != nil {
		if err := p.jobLog.Close(); err != nil {
			log.Warn("job log close error", zap.Error(err))
		}
	}
	if p.surface != nil {
		_ = p.surface.Close()
	}

	p.wg.Wait()

	log.Info("print agent stopped", zap.Duration("uptime", time.Since(p.startTime).Round(time.Second)))
	return p.log.Close()
}

func (p *Program) goRun(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Program) spoolCleanupLoop() {
	if p.settings.SpoolRetention <= 0 {
		return
	}
	ticker := time.NewTicker(spoolCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.spool.Cleanup(p.ctx, p.settings.SpoolRetention); err != nil && p.ctx.Err() == nil {
				p.log.Warn("spool cleanup failed", zap.Error(err))
			}
		}
	}
}

// busyFanout broadcasts the busy state to every transport.
type busyFanout []dispatch.Broadcaster

func (f busyFanout) BroadcastBusy(state dispatch.BusyState) {
	for _, b := range f {
		b.BroadcastBusy(state)
	}
}

func programData() string {
	if dir := os.Getenv("PROGRAMDATA"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
