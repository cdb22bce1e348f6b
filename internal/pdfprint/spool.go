package pdfprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Spool subfolders, one per origin of the PDF.
const (
	SubRendered = "print_pdf"
	SubURL      = "url_pdf"
	SubBlob     = "blob_pdf"
)

const spoolTimeLayout = "2006_01_02 15_04_05_"

// Spool is the scratch directory where generated, downloaded and decoded
// PDFs are written before printing.
type Spool struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewSpool creates the spool directory if needed.
func NewSpool(dir string, logger *zap.Logger) (*Spool, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "print-agent")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spool{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir returns the spool root.
func (s *Spool) Dir() string { return s.dir }

// Path returns a fresh <dir>/<sub>/<timestamp><uuid>.pdf path, creating the
// subfolder.
func (s *Spool) Path(sub string) (string, error) {
	folder := filepath.Join(s.dir, sub)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("create spool folder %s: %w", folder, err)
	}
	name := s.now().Format(spoolTimeLayout) + uuid.NewString() + ".pdf"
	return filepath.Join(folder, name), nil
}

// Write creates a fresh spool file under sub, lets fill write its content
// and returns the path. A partially written file is removed.
func (s *Spool) Write(sub string, fill func(w io.Writer) error) (string, error) {
	path, err := s.Path(sub)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return path, nil
}

// WriteBytes writes data into a fresh spool file under sub.
func (s *Spool) WriteBytes(sub string, data []byte) (string, error) {
	return s.Write(sub, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write spool file: %w", err)
		}
		return nil
	})
}

// Cleanup removes spooled PDFs older than age and returns how many went.
func (s *Spool) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.now().Add(-age)
	deleted := 0

	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if info.IsDir() || filepath.Ext(path) != ".pdf" {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				deleted++
				s.logger.Debug("deleted old spool file", zap.String("path", path))
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return deleted, fmt.Errorf("spool cleanup: %w", err)
	}

	s.logger.Info("spool cleanup completed", zap.Int("deleted", deleted), zap.Duration("age", age))
	return deleted, nil
}
