package printer

import (
	"context"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Status strings returned when the OS has nothing better to say.
const (
	StatusUnavailable = "status unavailable"
	StatusUnknown     = "unknown status"
)

// Prober reads a printer's OS-reported status text. It never fails: lookup
// errors are logged and reported as StatusUnavailable.
type Prober struct {
	runner Runner
	goos   string
	log    *zap.Logger
}

// NewProber returns a prober for the running OS.
func NewProber(r Runner, log *zap.Logger) *Prober {
	if r == nil {
		r = ExecRunner{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{runner: r, goos: runtime.GOOS, log: log}
}

// Status returns a human-readable status for the named printer.
func (p *Prober) Status(ctx context.Context, name string) string {
	var (
		out []byte
		err error
	)
	if p.goos == "windows" {
		script := "(Get-Printer -Name '" + psQuote(name) + "').PrinterStatus"
		out, err = p.runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	} else {
		out, err = p.runner.Run(ctx, "lpstat", "-l", "-p", name)
	}
	if err != nil {
		p.log.Warn("printer status lookup failed", zap.String("printer", name), zap.Error(err))
		return StatusUnavailable
	}

	text := strings.TrimSpace(string(out))
	if p.goos != "windows" {
		text = cupsStatusText(text, name)
	}
	if text == "" {
		return StatusUnknown
	}
	return text
}

func cupsStatusText(out, name string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "printer "+name+" ")
		parts = append(parts, strings.TrimSuffix(line, "."))
	}
	return strings.Join(parts, "; ")
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
