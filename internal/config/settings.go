package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRINT_AGENT_"

var knownEngines = map[string]bool{"adobe": true, "system": true, "sumatra": true, "lp": true}

// Settings are the runtime settings, read from a YAML file and overridden
// by the environment.
type Settings struct {
	DefaultPrinter        string        `yaml:"default_printer"`
	SpoolDir              string        `yaml:"spool_dir"`
	SpoolRetention        time.Duration `yaml:"spool_retention"`
	PDFEngine             string        `yaml:"pdf_engine"`
	PDFEngineOrder        []string      `yaml:"pdf_engine_order"`
	AdobePath             string        `yaml:"adobe_path"`
	SumatraPath           string        `yaml:"sumatra_path"`
	IgnoreStatusOnWindows bool          `yaml:"ignore_status_on_windows"`
	DownloadTimeout       time.Duration `yaml:"download_timeout"`
	WorkerCount           int           `yaml:"worker_count"`
	DBPath                string        `yaml:"db_path"`
	PrinterCacheTTL       time.Duration `yaml:"printer_cache_ttl"`

	Chrome ChromeSettings `yaml:"chrome"`
	Relay  RelaySettings  `yaml:"relay"`
}

// ChromeSettings configure the rendering surface.
type ChromeSettings struct {
	ExecPath      string        `yaml:"exec_path"`
	RemoteURL     string        `yaml:"remote_url"`
	NoSandbox     bool          `yaml:"no_sandbox"`
	RenderTimeout time.Duration `yaml:"render_timeout"`
}

// RelaySettings configure the optional relay connection.
type RelaySettings struct {
	URL      string        `yaml:"url"`
	ClientID string        `yaml:"client_id"`
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Enabled reports whether a relay is configured.
func (r RelaySettings) Enabled() bool { return r.URL != "" }

// DefaultSettings returns the settings used when nothing is configured.
// dataDir holds the job log database.
func DefaultSettings(dataDir string) Settings {
	return Settings{
		SpoolDir:              filepath.Join(os.TempDir(), "print-agent"),
		SpoolRetention:        24 * time.Hour,
		IgnoreStatusOnWindows: true,
		DownloadTimeout:       2 * time.Minute,
		WorkerCount:           4,
		DBPath:                filepath.Join(dataDir, "print_logs.db"),
		PrinterCacheTTL:       30 * time.Second,
		Chrome: ChromeSettings{
			RenderTimeout: 60 * time.Second,
		},
		Relay: RelaySettings{
			TokenTTL: time.Hour,
		},
	}
}

// LoadSettings reads the YAML file at path over the defaults, then the
// .env file at envFile, then PRINT_AGENT_* variables. Missing files are not
// an error.
func LoadSettings(path, envFile, dataDir string) (Settings, error) {
	s := DefaultSettings(dataDir)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("failed to parse settings file: %w", err)
			}
		case !os.IsNotExist(err):
			return s, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return s, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("DEFAULT_PRINTER", &s.DefaultPrinter)
	str("SPOOL_DIR", &s.SpoolDir)
	str("PDF_ENGINE", &s.PDFEngine)
	str("ADOBE_PATH", &s.AdobePath)
	str("SUMATRA_PATH", &s.SumatraPath)
	str("DB_PATH", &s.DBPath)
	str("CHROME_PATH", &s.Chrome.ExecPath)
	str("CHROME_REMOTE_URL", &s.Chrome.RemoteURL)
	str("RELAY_URL", &s.Relay.URL)
	str("RELAY_CLIENT_ID", &s.Relay.ClientID)
	str("RELAY_SECRET", &s.Relay.Secret)
	dur("SPOOL_RETENTION", &s.SpoolRetention)
	dur("DOWNLOAD_TIMEOUT", &s.DownloadTimeout)
	dur("PRINTER_CACHE_TTL", &s.PrinterCacheTTL)
	dur("RENDER_TIMEOUT", &s.Chrome.RenderTimeout)

	if v, ok := lookup(EnvPrefix + "PDF_ENGINE_ORDER"); ok {
		s.PDFEngineOrder = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "IGNORE_STATUS_ON_WINDOWS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sIGNORE_STATUS_ON_WINDOWS: %w", EnvPrefix, err))
		} else {
			s.IgnoreStatusOnWindows = b
		}
	}
	if v, ok := lookup(EnvPrefix + "WORKER_COUNT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWORKER_COUNT: %w", EnvPrefix, err))
		} else {
			s.WorkerCount = n
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings for values the agent cannot run with.
func (s Settings) Validate() error {
	if s.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", s.WorkerCount)
	}
	if s.SpoolDir == "" {
		return errors.New("spool_dir is required")
	}
	if s.DBPath == "" {
		return errors.New("db_path is required")
	}
	if s.PDFEngine != "" && !knownEngines[strings.ToLower(s.PDFEngine)] {
		return fmt.Errorf("unknown pdf_engine %q", s.PDFEngine)
	}
	for _, e := range s.PDFEngineOrder {
		if !knownEngines[strings.ToLower(e)] {
			return fmt.Errorf("unknown engine %q in pdf_engine_order", e)
		}
	}
	if s.DownloadTimeout < 0 || s.SpoolRetention < 0 || s.PrinterCacheTTL < 0 || s.Chrome.RenderTimeout < 0 {
		return errors.New("durations must be non-negative")
	}
	if s.Relay.Enabled() {
		u, err := url.Parse(s.Relay.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("relay url must be a ws:// or wss:// URL, got %q", s.Relay.URL)
		}
		if s.Relay.Secret == "" || s.Relay.ClientID == "" {
			return errors.New("relay client_id and secret are required when relay url is set")
		}
	}
	return nil
}
