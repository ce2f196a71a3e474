package exporter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"etlpulse/internal/summary"
	"etlpulse/internal/table"
)

// FileWriter writes run outputs into a directory
type FileWriter struct {
	dir    string
	logger *slog.Logger
}

// NewFileWriter creates a writer rooted at dir
func NewFileWriter(dir string, logger *slog.Logger) *FileWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWriter{dir: dir, logger: logger}
}

// WriteTable writes processed_data_<stamp>.<ext> and returns its path
func (w *FileWriter) WriteTable(stamp string, t *table.Table, s summary.Summary, format Format, opts Options) (string, error) {
	path := w.resolvePath(fmt.Sprintf("processed_data_%s%s", stamp, format.Extension()))

	w.logger.Info("Writing export file",
		slog.String("file_path", path),
		slog.String("format", string(format)),
		slog.Int("record_count", t.NumRows()))

	f, err := w.create(path)
	if err != nil {
		return "", err
	}
	if err := ExportWithOptions(f, t, s, format, opts); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return path, nil
}

// WriteMetadata writes v as indented JSON to etl_metadata_<stamp>.json
func (w *FileWriter) WriteMetadata(stamp string, v interface{}) (string, error) {
	path := w.resolvePath(fmt.Sprintf("etl_metadata_%s.json", stamp))

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	f, err := w.create(path)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	w.logger.Info("Wrote run metadata", slog.String("file_path", path))
	return path, nil
}

func (w *FileWriter) create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

func (w *FileWriter) resolvePath(name string) string {
	if filepath.IsAbs(name) || w.dir == "" {
		return name
	}
	return filepath.Join(w.dir, name)
}
