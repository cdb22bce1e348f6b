package printer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Ready status codes per printer model.
const (
	WindowsReady = 0 // PrinterStatus Normal
	CUPSIdle     = 3 // IPP printer-state idle
	CUPSBusy     = 4 // IPP printer-state processing
	CUPSStopped  = 5 // IPP printer-state stopped
)

// Lister enumerates installed printers.
type Lister interface {
	List(ctx context.Context) ([]Printer, error)
}

// OSLister enumerates printers through the platform tooling: PowerShell on
// Windows and the CUPS lpstat client elsewhere.
type OSLister struct {
	runner Runner
	goos   string
}

// NewOSLister returns a lister for the running OS.
func NewOSLister(r Runner) *OSLister {
	if r == nil {
		r = ExecRunner{}
	}
	return &OSLister{runner: r, goos: runtime.GOOS}
}

const listScript = `$d = (Get-CimInstance Win32_Printer -Filter 'Default=TRUE').Name; ` +
	`Get-Printer | Select-Object Name,` +
	`@{n='Status';e={[int]$_.PrinterStatus}},` +
	`@{n='Port';e={$_.PortName}},` +
	`@{n='Driver';e={$_.DriverName}},` +
	`@{n='IsDefault';e={$_.Name -eq $d}} | ConvertTo-Json -Compress`

// List implements Lister.
func (l *OSLister) List(ctx context.Context) ([]Printer, error) {
	if l.goos == "windows" {
		out, err := l.runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", listScript)
		if err != nil {
			return nil, fmt.Errorf("enumerate printers: %w", err)
		}
		return parsePowerShellList(out)
	}

	out, err := l.runner.Run(ctx, "lpstat", "-p")
	if err != nil && len(out) == 0 {
		// lpstat exits non-zero when no printers are configured
		if strings.Contains(err.Error(), "No destinations added") {
			return []Printer{}, nil
		}
		return nil, fmt.Errorf("enumerate printers: %w", err)
	}
	printers := parseLpstatPrinters(out)

	// Default destination and device URIs are best effort.
	if def, err := l.runner.Run(ctx, "lpstat", "-d"); err == nil {
		name := parseLpstatDefault(def)
		for i := range printers {
			printers[i].IsDefault = printers[i].Name == name
		}
	}
	if dev, err := l.runner.Run(ctx, "lpstat", "-v"); err == nil {
		ports := parseLpstatDevices(dev)
		for i := range printers {
			printers[i].Port = ports[printers[i].Name]
		}
	}
	return printers, nil
}

func parsePowerShellList(out []byte) ([]Printer, error) {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return []Printer{}, nil
	}
	// ConvertTo-Json emits a bare object for a single printer
	if out[0] == '{' {
		var p Printer
		if err := json.Unmarshal(out, &p); err != nil {
			return nil, fmt.Errorf("parse printer list: %w", err)
		}
		return []Printer{p}, nil
	}
	var printers []Printer
	if err := json.Unmarshal(out, &printers); err != nil {
		return nil, fmt.Errorf("parse printer list: %w", err)
	}
	return printers, nil
}

func parseLpstatPrinters(out []byte) []Printer {
	printers := []Printer{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "printer ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		p := Printer{Name: fields[1], Status: CUPSIdle}
		rest := strings.Join(fields[2:], " ")
		switch {
		case strings.Contains(rest, "disabled"):
			p.Status = CUPSStopped
		case strings.HasPrefix(rest, "now printing"):
			p.Status = CUPSBusy
		}
		printers = append(printers, p)
	}
	return printers
}

func parseLpstatDefault(out []byte) string {
	line := strings.TrimSpace(string(out))
	if i := strings.LastIndex(line, ": "); i >= 0 && strings.Contains(line, "default destination") {
		return strings.TrimSpace(line[i+2:])
	}
	return ""
}

func parseLpstatDevices(out []byte) map[string]string {
	ports := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimPrefix(sc.Text(), "device for ")
		name, uri, ok := strings.Cut(line, ": ")
		if ok {
			ports[name] = strings.TrimSpace(uri)
		}
	}
	return ports
}
