// Package printer enumerates OS printers and reports their status.
package printer

// Printer is one installed printer as reported by the OS. It is sourced
// fresh for each job and never persisted.
type Printer struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	Status    int    `json:"status"`
	Port      string `json:"port,omitempty"`
	Driver    string `json:"driver,omitempty"`
}

// Summary provides lightweight overview for health checks
type Summary struct {
	Status        string `json:"status"` // "ok", "warning", "error"
	DetectedCount int    `json:"detected_count"`
	ReadyCount    int    `json:"ready_count"`
	DefaultName   string `json:"default_name,omitempty"`
}

// DetailDTO is the JSON response format for printer details
type DetailDTO struct {
	Name       string `json:"name"`
	Port       string `json:"port"`
	Driver     string `json:"driver"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	IsDefault  bool   `json:"is_default"`
	IsReady    bool   `json:"is_ready"`
}

// Find returns the printer with the given name.
func Find(printers []Printer, name string) (Printer, bool) {
	for _, p := range printers {
		if p.Name == name {
			return p, true
		}
	}
	return Printer{}, false
}

// Default returns the printer the OS flags as default.
func Default(printers []Printer) (Printer, bool) {
	for _, p := range printers {
		if p.IsDefault {
			return p, true
		}
	}
	return Printer{}, false
}
