// Package render is the rendering surface: it turns HTML or a web page into
// PDF bytes and performs the native print of a page.
package render

import (
	"context"

	"github.com/adcondev/print-agent/internal/printjob"
)

// Page is what the surface renders: inline HTML, or a URL when HTML is empty.
type Page struct {
	HTML string
	URL  string
}

// PageFor returns the page a job describes.
func PageFor(job *printjob.Descriptor) Page {
	return Page{HTML: job.HTML, URL: job.URL}
}

// DoneFunc receives the single outcome of a native print.
type DoneFunc func(success bool, reason string)

// Surface is the rendering surface used by the dispatcher.
type Surface interface {
	RenderPDF(ctx context.Context, page Page, opts printjob.Options) ([]byte, error)
	// Print prints page on device (empty for the OS default) and reports
	// through done exactly once.
	Print(ctx context.Context, page Page, opts printjob.Options, device string, done DoneFunc)
	Close() error
}

// FilePrinter submits a local PDF to a printer.
type FilePrinter interface {
	PrintFile(ctx context.Context, path, printer string, opts printjob.Options) error
}

// Stager writes bytes into the spool and returns the file path.
type Stager interface {
	WriteBytes(sub string, data []byte) (string, error)
}
