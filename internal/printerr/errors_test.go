package printerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		expected string
	}{
		{
			name:     "Faulted printer",
			input:    Faulted("HP", "Paper Jam"),
			expected: `PRINTER: printer "HP" is not ready (Paper Jam)`,
		},
		{
			name:     "Missing file",
			input:    NotFound("/tmp/a.pdf"),
			expected: "NOT_FOUND: file not found: /tmp/a.pdf",
		},
		{
			name:     "Wrapped download",
			input:    fmt.Errorf("url_pdf: %w", Wrap(KindDownload, errors.New("dial tcp: no such host"), "download failed")),
			expected: "DOWNLOAD: host not found (url_pdf: download failed: dial tcp: no such host)",
		},
		{
			name:     "Unclassified",
			input:    errors.New("exec: boom"),
			expected: "ERROR: boom",
		},
		{
			name:     "Native empty reason",
			input:    Native(""),
			expected: "NATIVE: print failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Message(tt.input)
			if got != tt.expected {
				t.Errorf("Message() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKindOfAndPath(t *testing.T) {
	err := fmt.Errorf("print: %w", NotFound("/spool/x.pdf"))
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %s", KindOf(err))
	}
	if PathOf(err) != "/spool/x.pdf" {
		t.Errorf("PathOf = %q", PathOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors should be unknown")
	}
	if Wrap(KindEngine, nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Message(nil) != "" {
		t.Error("Message(nil) should be empty")
	}
}
