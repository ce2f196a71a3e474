package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "etlpulse/internal/errors"
)

// DefaultExtensions are the input file extensions accepted as delimited text
var DefaultExtensions = []string{".csv", ".tsv", ".txt"}

// FileValidator checks input files and output directories before a run
type FileValidator struct {
	maxBytes   int64
	extensions []string
	logger     *slog.Logger
}

// NewFileValidator creates a validator. maxBytes <= 0 disables the size
// check; nil extensions means DefaultExtensions.
func NewFileValidator(maxBytes int64, extensions []string, logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &FileValidator{
		maxBytes:   maxBytes,
		extensions: extensions,
		logger:     logger,
	}
}

// ValidateInputFile checks that path is a readable, non-empty delimited
// text file within the size limit
func (v *FileValidator) ValidateInputFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("Input file does not exist", slog.String("file", path))
		return apperrors.NewNotFoundError("input file " + path)
	}
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrTypeValidation, fmt.Sprintf("cannot stat %s", path), err)
	}
	if info.IsDir() {
		return apperrors.NewAppValidationError(fmt.Sprintf("%s is a directory, not a file", path))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !v.allowed(ext) {
		v.logger.Error("Unsupported input extension",
			slog.String("file", path),
			slog.String("extension", ext))
		return apperrors.NewAppValidationError(
			fmt.Sprintf("%s is not a delimited text file (extension %q, want one of %s)",
				path, ext, strings.Join(v.extensions, ", ")))
	}
	if info.Size() == 0 {
		return apperrors.NewExtractionError(fmt.Sprintf("%s is empty", path), nil)
	}
	if v.maxBytes > 0 && info.Size() > v.maxBytes {
		return apperrors.NewAppValidationError(
			fmt.Sprintf("%s is %d bytes, limit is %d", path, info.Size(), v.maxBytes))
	}

	f, err := os.Open(path)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrTypeValidation, fmt.Sprintf("%s is not readable", path), err)
	}
	f.Close()

	v.logger.Debug("Input file validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateOutputDirectory creates dir when missing and checks it is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("cannot create output directory %s", dir), err)
	}

	probe, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("output directory %s is not writable", dir), err)
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

func (v *FileValidator) allowed(ext string) bool {
	for _, e := range v.extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
