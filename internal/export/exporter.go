package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/questsci/questlog/internal/store"
)

var (
	// ErrNoData is returned when the store holds no records.
	ErrNoData = errors.New("export: no data to export")
	// ErrSamplingActive is returned while a session is writing.
	ErrSamplingActive = errors.New("export: stop sampling before exporting")
)

// Source is the store side of an export.
type Source interface {
	EnsureExportColumns(ctx context.Context, jobcode string) error
	SelectExport(ctx context.Context) ([]store.ExportRow, error)
}

// Exporter writes the whole store as <jobcode>.csv into a directory.
type Exporter struct {
	Open     func(ctx context.Context) (Source, error)
	Sampling func() bool // reports whether a session is active; may be nil
	Dir      string
	Jobcode  string
	Location *time.Location
}

// Result is a finished export.
type Result struct {
	Path string
	Rows int
	CSV  []byte
}

// Export migrates the export columns, renders the CSV and writes it to
// Dir. It refuses to run while sampling.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	if e.Sampling != nil && e.Sampling() {
		return Result{}, ErrSamplingActive
	}
	src, err := e.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := src.EnsureExportColumns(ctx, e.Jobcode); err != nil {
		return Result{}, err
	}
	rows, err := src.SelectExport(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, ErrNoData
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, e.Location); err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("export: create dir: %w", err)
	}
	path := filepath.Join(e.Dir, FileName(e.Jobcode))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return Result{}, fmt.Errorf("export: write %s: %w", path, err)
	}
	slog.Info("[EXPORT] csv written", "path", path, "rows", len(rows))
	return Result{Path: path, Rows: len(rows), CSV: buf.Bytes()}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns a filesystem-safe "<name>.csv".
func FileName(name string) string {
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_.")
	if name == "" {
		name = "questlog"
	}
	return name + ".csv"
}

// Jobcode builds the default campaign code "<device>-<YYYYMMDD-HHMMSS>".
func Jobcode(device string, t time.Time) string {
	return fmt.Sprintf("%s-%s", device, t.Format("20060102-150405"))
}
