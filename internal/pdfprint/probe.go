package pdfprint

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Conventional install locations, probed in order.
var (
	adobeCandidates = []string{
		`C:\Program Files\Adobe\Acrobat DC\Acrobat\Acrobat.exe`,
		`C:\Program Files (x86)\Adobe\Acrobat DC\Acrobat\Acrobat.exe`,
		`C:\Program Files\Adobe\Acrobat Reader DC\Reader\AcroRd32.exe`,
		`C:\Program Files (x86)\Adobe\Acrobat Reader DC\Reader\AcroRd32.exe`,
		`C:\Program Files\Adobe\Acrobat Reader\Reader\AcroRd32.exe`,
		`C:\Program Files (x86)\Adobe\Reader 11.0\Reader\AcroRd32.exe`,
	}
	sumatraCandidates = []string{
		`C:\Program Files\SumatraPDF\SumatraPDF.exe`,
		`C:\Program Files (x86)\SumatraPDF\SumatraPDF.exe`,
		`${LOCALAPPDATA}\SumatraPDF\SumatraPDF.exe`,
	}
)

// FindExecutable returns the first candidate that is an executable file.
// Empty candidates are skipped and environment variables are expanded.
func FindExecutable(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		path := os.ExpandEnv(c)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if isExecutable(path, info.Mode()) {
			return path, true
		}
	}
	return "", false
}

func isExecutable(path string, mode os.FileMode) bool {
	if runtime.GOOS == "windows" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".exe", ".com", ".bat", ".cmd":
			return true
		}
		return false
	}
	return mode&0o111 != 0
}

// withOverride puts the configured path ahead of the defaults.
func withOverride(override string, defaults []string) []string {
	out := make([]string, 0, len(defaults)+1)
	if override != "" {
		out = append(out, override)
	}
	return append(out, defaults...)
}
