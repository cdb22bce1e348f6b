package pdfprint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adcondev/print-agent/internal/printer"
	"github.com/adcondev/print-agent/internal/printjob"
)

// Engine names.
const (
	EngineAdobe   = "adobe"
	EngineSystem  = "system"
	EngineSumatra = "sumatra"
	EngineLP      = "lp"
)

// fallbackOrder is the fixed order of the Windows engine chain.
var fallbackOrder = []string{EngineAdobe, EngineSystem, EngineSumatra}

// Engine prints a local PDF file. An empty printer means the OS default.
type Engine interface {
	Name() string
	Print(ctx context.Context, file, printer string, opts printjob.Options) error
}

var errNoExecutable = errors.New("no executable found")

// adobeEngine drives Acrobat or Reader with its silent print switches.
type adobeEngine struct {
	runner     printer.Runner
	candidates []string
}

func (e *adobeEngine) Name() string { return EngineAdobe }

func (e *adobeEngine) Print(ctx context.Context, file, printerName string, _ printjob.Options) error {
	exe, ok := FindExecutable(e.candidates...)
	if !ok {
		return errNoExecutable
	}
	args := []string{"/n", "/s", "/h", "/t", file}
	if printerName == "" {
		args = []string{"/n", "/s", "/h", "/p", file}
	} else {
		args = append(args, printerName)
	}
	_, err := e.runner.Run(ctx, exe, args...)
	return err
}

// systemEngine hands the file to the shell's PrintTo verb.
type systemEngine struct {
	runner printer.Runner
}

func (e *systemEngine) Name() string { return EngineSystem }

func (e *systemEngine) Print(ctx context.Context, file, printerName string, opts printjob.Options) error {
	verb := "-Verb Print"
	if printerName != "" {
		verb = "-Verb PrintTo -ArgumentList '\"" + psQuote(printerName) + "\"'"
	}
	script := fmt.Sprintf(
		"for ($i = 0; $i -lt %d; $i++) { Start-Process -FilePath '%s' %s -WindowStyle Hidden -Wait }",
		opts.CopyCount(), psQuote(file), verb)
	_, err := e.runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", script)
	return err
}

// sumatraEngine drives SumatraPDF's command-line printing.
type sumatraEngine struct {
	runner     printer.Runner
	candidates []string
}

func (e *sumatraEngine) Name() string { return EngineSumatra }

func (e *sumatraEngine) Print(ctx context.Context, file, printerName string, opts printjob.Options) error {
	exe, ok := FindExecutable(e.candidates...)
	if !ok {
		return errNoExecutable
	}
	args := []string{"-print-to-default"}
	if printerName != "" {
		args = []string{"-print-to", printerName}
	}
	args = append(args, "-silent", "-exit-when-done")
	if settings := sumatraSettings(opts); settings != "" {
		args = append(args, "-print-settings", settings)
	}
	args = append(args, file)
	_, err := e.runner.Run(ctx, exe, args...)
	return err
}

func sumatraSettings(opts printjob.Options) string {
	var s []string
	if opts.PageRanges != "" {
		s = append(s, string(opts.PageRanges))
	}
	if opts.Landscape {
		s = append(s, "landscape")
	} else {
		s = append(s, "portrait")
	}
	switch opts.DuplexMode {
	case printjob.DuplexLongEdge:
		s = append(s, "duplexlong")
	case printjob.DuplexShortEdge:
		s = append(s, "duplexshort")
	case printjob.DuplexSimplex:
		s = append(s, "simplex")
	}
	if opts.IsColor() {
		s = append(s, "color")
	} else {
		s = append(s, "monochrome")
	}
	s = append(s, "fit")
	if _, _, ok := opts.PageSize.Millimeters(); ok && opts.PageSize.Name != "" {
		s = append(s, "paper="+strings.ToUpper(opts.PageSize.Name))
	}
	if n := opts.CopyCount(); n > 1 {
		s = append(s, strconv.Itoa(n)+"x")
	}
	return strings.Join(s, ",")
}

// lpEngine submits to CUPS with lp.
type lpEngine struct {
	runner printer.Runner
}

func (e *lpEngine) Name() string { return EngineLP }

func (e *lpEngine) Print(ctx context.Context, file, printerName string, opts printjob.Options) error {
	_, err := e.runner.Run(ctx, "lp", lpArgs(file, printerName, opts)...)
	return err
}

func lpArgs(file, printerName string, opts printjob.Options) []string {
	var args []string
	if printerName != "" {
		args = append(args, "-d", printerName)
	}
	args = append(args, "-n", strconv.Itoa(opts.CopyCount()))
	if opts.Landscape {
		args = append(args, "-o", "landscape")
	}
	if opts.PageRanges != "" {
		args = append(args, "-P", string(opts.PageRanges))
	}
	switch opts.DuplexMode {
	case printjob.DuplexLongEdge:
		args = append(args, "-o", "sides=two-sided-long-edge")
	case printjob.DuplexShortEdge:
		args = append(args, "-o", "sides=two-sided-short-edge")
	case printjob.DuplexSimplex:
		args = append(args, "-o", "sides=one-sided")
	}
	if opts.PagesPerSheet > 1 {
		args = append(args, "-o", "number-up="+strconv.Itoa(opts.PagesPerSheet))
	}
	if opts.CopyCount() > 1 {
		args = append(args, "-o", "collate="+strconv.FormatBool(opts.IsCollated()))
	}
	if !opts.IsColor() {
		args = append(args, "-o", "print-color-mode=monochrome")
	}
	if opts.DPI > 0 {
		args = append(args, "-o", "Resolution="+strconv.Itoa(opts.DPI)+"dpi")
	}
	if opts.PageSize.Name != "" {
		args = append(args, "-o", "media="+opts.PageSize.Name)
	}
	return append(args, "--", file)
}

func psQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
