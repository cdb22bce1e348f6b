// Package printerr classifies print failures for clients and the job log.
package printerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the failure category reported to clients as "categoria".
type Kind string

const (
	KindPrinter      Kind = "PRINTER"       // printer faulted before printing
	KindMissingInput Kind = "MISSING_INPUT" // required payload absent
	KindInvalidInput Kind = "INVALID_INPUT" // payload present but unusable
	KindNotFound     Kind = "NOT_FOUND"     // resolved PDF file absent
	KindDownload     Kind = "DOWNLOAD"      // remote PDF could not be fetched
	KindEngine       Kind = "ENGINE"        // PDF engine or engine chain failed
	KindNative       Kind = "NATIVE"        // native print reported failure
	KindUnknown      Kind = "ERROR"
)

// Error is a classified print failure. Path is set for file-level failures.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFound reports a missing file as {path, message}.
func NotFound(path string) *Error {
	return &Error{Kind: KindNotFound, Path: path, Message: "file not found"}
}

// Faulted reports a printer that failed the status gate.
func Faulted(printer, status string) *Error {
	return &Error{
		Kind:    KindPrinter,
		Message: fmt.Sprintf("printer %q is not ready (%s)", printer, status),
	}
}

// Native wraps the platform failure reason of a native print.
func Native(reason string) *Error {
	if reason == "" {
		reason = "print failed"
	}
	return &Error{Kind: KindNative, Message: reason}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// PathOf returns the path carried by a file-level failure, if any.
func PathOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Path
	}
	return ""
}

// Message creates a clean error message for the UI, prefixed by its category.
func Message(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	kind := KindOf(err)

	hints := []struct {
		pattern string
		message string
	}{
		{"executable file not found", "no PDF print program is installed"},
		{"access is denied", "access denied by the print spooler"},
		{"permission denied", "permission denied"},
		{"no such host", "host not found"},
		{"connection refused", "connection refused"},
		{"context deadline exceeded", "timed out"},
	}
	for _, h := range hints {
		if strings.Contains(strings.ToLower(errStr), h.pattern) {
			return fmt.Sprintf("%s: %s (%s)", kind, h.message, cleanErrorMessage(errStr))
		}
	}
	return fmt.Sprintf("%s: %s", kind, cleanErrorMessage(errStr))
}

// cleanErrorMessage removes verbose prefixes
func cleanErrorMessage(errStr string) string {
	prefixes := []string{
		"exec: ",
		"pdfprint: ",
		"render: ",
	}
	result := strings.TrimSpace(errStr)
	for _, prefix := range prefixes {
		result = strings.TrimPrefix(result, prefix)
	}
	return result
}
