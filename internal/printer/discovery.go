package printer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Discovery handles printer enumeration with caching
type Discovery struct {
	lister      Lister
	readyCode   int
	log         *zap.Logger
	cache       []Printer
	lastRefresh time.Time
	cacheTTL    time.Duration
	mu          sync.RWMutex
}

// NewDiscovery creates a discovery service. readyCode is the status code the
// platform reports for an idle printer.
func NewDiscovery(lister Lister, ttl time.Duration, readyCode int, log *zap.Logger) *Discovery {
	if log == nil {
		log = zap.NewNop()
	}
	return &Discovery{lister: lister, cacheTTL: ttl, readyCode: readyCode, log: log}
}

// List implements Lister, always bypassing the cache.
func (d *Discovery) List(ctx context.Context) ([]Printer, error) {
	return d.getPrinters(ctx, true)
}

// GetPrinters returns cached printers or refreshes if stale
func (d *Discovery) GetPrinters(forceRefresh bool) ([]Printer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.getPrinters(ctx, forceRefresh)
}

func (d *Discovery) getPrinters(ctx context.Context, forceRefresh bool) ([]Printer, error) {
	d.mu.RLock()
	if !forceRefresh && time.Since(d.lastRefresh) < d.cacheTTL && d.cache != nil {
		result := clonePrinters(d.cache)
		d.mu.RUnlock()
		return result, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if !forceRefresh && time.Since(d.lastRefresh) < d.cacheTTL && d.cache != nil {
		return clonePrinters(d.cache), nil
	}

	printers, err := d.lister.List(ctx)
	if err != nil {
		if d.cache != nil {
			return clonePrinters(d.cache), err // stale copy
		}
		return nil, err
	}

	d.cache = printers
	d.lastRefresh = time.Now()
	return clonePrinters(printers), nil
}

func clonePrinters(src []Printer) []Printer {
	result := make([]Printer, len(src))
	copy(result, src)
	return result
}

// GetSummary returns a lightweight summary for health checks
func (d *Discovery) GetSummary() Summary {
	printers, err := d.GetPrinters(false)
	if err != nil && len(printers) == 0 {
		return Summary{Status: "error"}
	}

	s := Summary{Status: "ok", DetectedCount: len(printers)}
	for _, p := range printers {
		if p.Status == d.readyCode {
			s.ReadyCount++
		}
		if p.IsDefault {
			s.DefaultName = p.Name
		}
	}
	switch {
	case len(printers) == 0:
		s.Status = "error"
	case s.ReadyCount == 0 || err != nil:
		s.Status = "warning"
	}
	return s
}

// Details converts printers into their API representation.
func (d *Discovery) Details(printers []Printer) []DetailDTO {
	out := make([]DetailDTO, 0, len(printers))
	for _, p := range printers {
		out = append(out, DetailDTO{
			Name:       p.Name,
			Port:       p.Port,
			Driver:     p.Driver,
			Status:     d.statusLabel(p.Status),
			StatusCode: p.Status,
			IsDefault:  p.IsDefault,
			IsReady:    p.Status == d.readyCode,
		})
	}
	return out
}

func (d *Discovery) statusLabel(code int) string {
	if code == d.readyCode {
		return "ready"
	}
	if d.readyCode == CUPSIdle {
		switch code {
		case CUPSBusy:
			return "printing"
		case CUPSStopped:
			return "stopped"
		}
	}
	return "status " + strconv.Itoa(code)
}

// LogStartupDiagnostics logs printer info at service start
func (d *Discovery) LogStartupDiagnostics() {
	printers, err := d.GetPrinters(true)
	if err != nil {
		d.log.Warn("error enumerating printers", zap.Error(err))
		return
	}

	d.log.Info("detected installed printers", zap.Int("count", len(printers)))
	if len(printers) == 0 {
		d.log.Warn("no printers detected, jobs will go to the OS default")
		return
	}
	for _, p := range d.Details(printers) {
		d.log.Info("printer",
			zap.String("name", p.Name),
			zap.String("port", p.Port),
			zap.String("status", p.Status),
			zap.Bool("default", p.IsDefault))
	}
	d.log.Debug("printer drivers", zap.Any("printers", printers))
}
