package dispatch

import (
	"runtime"

	"github.com/adcondev/print-agent/internal/printer"
)

// Platform is the status-gate policy of one OS family.
type Platform struct {
	Name string
	// ReadyStatus is the status code of an idle printer.
	ReadyStatus int
	// Lenient platforms print regardless of reported status unless the
	// leniency is switched off, since their status reporting is unreliable.
	Lenient bool
}

var platforms = map[string]Platform{
	"windows": {Name: "windows", ReadyStatus: printer.WindowsReady, Lenient: true},
	"":        {Name: "cups", ReadyStatus: printer.CUPSIdle},
}

// PlatformFor returns the gate policy for goos.
func PlatformFor(goos string) Platform {
	if p, ok := platforms[goos]; ok {
		return p
	}
	return platforms[""]
}

// CurrentPlatform returns the gate policy of the running OS.
func CurrentPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

// Faulted reports whether p must not be printed to. ignoreStatus is the
// leniency setting and only matters on lenient platforms.
func (pl Platform) Faulted(p printer.Printer, ignoreStatus bool) bool {
	if pl.Lenient && ignoreStatus {
		return false
	}
	return p.Status != pl.ReadyStatus
}
