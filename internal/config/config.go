// Package config defines the build-time environments and the runtime
// settings of the print agent.
package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Build variables, injected at compile time
var (
	BuildEnvironment = "local"
	BuildDate        = "unknown"
	BuildTime        = "unknown"
	// ServiceName is used for logging and as part of the log file path.
	ServiceName = "PrintAgent_Unknown"
	// PasswordHashB64 is a base64-encoded bcrypt hash injected via ldflags.
	// If empty, dashboard authentication is disabled (dev mode).
	PasswordHashB64 = ""
	// AuthToken is injected via ldflags.
	// If empty, print job submissions are accepted without token validation.
	AuthToken = ""
	// ServerPort is the default port for the service, can be overridden by environment config.
	ServerPort = "8766"
	// AllowedOrigins is a comma-separated list of allowed origins injected via ldflags.
	// Example: "https://pos.example.com,localhost:*"
	AllowedOrigins = ""
)

// Environment holds environment-specific settings
type Environment struct {
	Name        string
	ServiceName string

	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	QueueCapacity    int
	MaxJobsPerMinute int

	Verbose bool

	AllowedOrigins []string
}

// LogPath returns the full log file path for this environment.
// Uses the convention: <programData>/<ServiceName>/<ServiceName>.log
func (e Environment) LogPath(programData string) string {
	return filepath.Join(e.DataDir(programData), e.ServiceName+".log")
}

// DataDir is the per-service directory under programData.
func (e Environment) DataDir(programData string) string {
	return filepath.Join(programData, e.ServiceName)
}

// environments defines available deployment configurations
var environments = map[string]Environment{
	"remote": {
		Name:             "REMOTO",
		ServiceName:      ServiceName,
		ListenAddr:       "0.0.0.0:" + ServerPort,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		IdleTimeout:      60 * time.Second,
		QueueCapacity:    50,
		MaxJobsPerMinute: 30,
		Verbose:          false,
		// Restricted to local pages unless overridden.
		AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
	},
	"local": {
		Name:             "LOCAL",
		ServiceName:      ServiceName,
		ListenAddr:       "localhost:" + ServerPort,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		QueueCapacity:    50,
		MaxJobsPerMinute: 120,
		Verbose:          true,
		AllowedOrigins:   []string{"*"},
	},
}

// GetEnvironment returns config for the specified environment. known is
// false when env is not defined and the local environment was returned.
func GetEnvironment(env string) (cfg Environment, known bool) {
	cfg, known = environments[env]
	if !known {
		cfg = environments["local"]
	}

	if AllowedOrigins != "" {
		cfg.AllowedOrigins = strings.Split(AllowedOrigins, ",")
	}

	return cfg, known
}
