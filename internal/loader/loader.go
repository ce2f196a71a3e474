package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/table"
)

// DefaultMaxBytes bounds how much of a source is read
const DefaultMaxBytes int64 = 64 << 20

// candidateDelimiters are tried in order; earlier ones win ties
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// DefaultMissingMarkers are compared case-insensitively after trimming
var DefaultMissingMarkers = []string{"", "na", "n/a", "nan", "null", "none"}

// Options configures a Loader. Zero values select the defaults.
type Options struct {
	MaxBytes             int64
	Delimiter            rune
	Encodings            []string
	MissingMarkers       []string
	CategoricalMaxUnique int
	CategoricalRatio     float64
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if len(o.Encodings) == 0 {
		o.Encodings = DefaultEncodings
	}
	if o.MissingMarkers == nil {
		o.MissingMarkers = DefaultMissingMarkers
	}
	if o.CategoricalMaxUnique <= 0 {
		o.CategoricalMaxUnique = 20
	}
	if o.CategoricalRatio <= 0 {
		o.CategoricalRatio = 0.5
	}
	return o
}

// Info describes how a source was read
type Info struct {
	Bytes       int                         `json:"bytes"`
	Encoding    string                      `json:"encoding"`
	Delimiter   string                      `json:"delimiter"`
	Rows        int                         `json:"rows"`
	Columns     int                         `json:"columns"`
	ColumnNames []string                    `json:"column_names"`
	Types       map[string]table.ColumnType `json:"types"`
}

// Loader reads delimited text into a typed table
type Loader struct {
	opts    Options
	missing map[string]struct{}
	infer   inference
	logger  *slog.Logger
}

// New creates a Loader
func New(opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	missing := map[string]struct{}{"": {}}
	for _, m := range opts.MissingMarkers {
		missing[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &Loader{
		opts:    opts,
		missing: missing,
		infer:   inference{maxUnique: opts.CategoricalMaxUnique, ratio: opts.CategoricalRatio},
		logger:  logger.With(slog.String("component", "loader")),
	}
}

// ReadSource reads at most MaxBytes from r. Oversized sources fail.
func (l *Loader) ReadSource(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, extractionError("source is missing", nil, "unreadable")
	}
	data, err := io.ReadAll(io.LimitReader(r, l.opts.MaxBytes+1))
	if err != nil {
		return nil, extractionError("source could not be read", err, "unreadable")
	}
	if int64(len(data)) > l.opts.MaxBytes {
		return nil, extractionError(fmt.Sprintf("source exceeds %d bytes", l.opts.MaxBytes), nil, "too_large")
	}
	return data, nil
}

// Load reads r fully and parses it
func (l *Loader) Load(ctx context.Context, r io.Reader) (*table.Table, Info, error) {
	data, err := l.ReadSource(r)
	if err != nil {
		return nil, Info{}, err
	}
	return l.Parse(ctx, data)
}

// LoadFile opens path and parses it
func (l *Loader) LoadFile(ctx context.Context, path string) (*table.Table, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Info{}, extractionError("source file could not be opened", err, "unreadable").
			WithContext("path", path)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

// Parse decodes data, detects the delimiter and builds a typed table
func (l *Loader) Parse(ctx context.Context, data []byte) (*table.Table, Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, Info{}, err
	}
	info := Info{Bytes: len(data)}

	if len(bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))) == 0 {
		return nil, info, extractionError("dataset is empty", nil, "empty")
	}

	text, enc, err := decode(data, l.opts.Encodings)
	if err != nil {
		return nil, info, extractionError("source could not be decoded", err, "decode")
	}
	info.Encoding = enc

	delim := l.opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(text)
	}
	info.Delimiter = string(delim)

	header, rows, err := l.readRecords(text, delim)
	if err != nil {
		return nil, info, err
	}
	if len(rows) == 0 {
		return nil, info, extractionError("dataset has no data rows", nil, "empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, info, err
	}

	columns := make([]table.Column, len(header))
	info.Types = make(map[string]table.ColumnType, len(header))
	for j, name := range header {
		present := make([]string, 0, len(rows))
		for _, rec := range rows {
			if !l.isMissing(rec[j]) {
				present = append(present, rec[j])
			}
		}
		ct, layout := l.infer.columnType(present)

		values := make([]table.Value, len(rows))
		for i, rec := range rows {
			if l.isMissing(rec[j]) {
				continue
			}
			values[i] = convert(rec[j], ct, layout)
		}
		columns[j] = table.Column{Name: name, Type: ct, Values: values}
		info.Types[name] = ct
	}

	t, err := table.New(columns)
	if err != nil {
		return nil, info, extractionError("table could not be built", err, "parse")
	}
	info.Rows = t.NumRows()
	info.Columns = t.NumColumns()
	info.ColumnNames = t.ColumnNames()

	l.logger.DebugContext(ctx, "source loaded",
		slog.Int("rows", info.Rows),
		slog.Int("columns", info.Columns),
		slog.String("encoding", info.Encoding),
		slog.String("delimiter", info.Delimiter),
	)
	return t, info, nil
}

func (l *Loader) readRecords(text string, delim rune) ([]string, [][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, extractionError("dataset is empty", nil, "empty")
	}
	if err != nil {
		return nil, nil, extractionError("header could not be parsed", err, "parse")
	}

	seen := make(map[string]struct{}, len(header))
	for i := range header {
		name := strings.TrimSpace(header[i])
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, nil, extractionError(fmt.Sprintf("duplicate column name %q", name), nil, "duplicate_header").
				WithContext("column", name)
		}
		seen[name] = struct{}{}
		header[i] = name
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, extractionError("record could not be parsed", err, "parse")
		}
		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, nil, extractionError(
				fmt.Sprintf("record on line %d has %d fields, header has %d", line, len(rec), len(header)),
				nil, "ragged_row").WithContext("line", line)
		}
		row := make([]string, len(header))
		for i := range rec {
			row[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func (l *Loader) isMissing(s string) bool {
	_, ok := l.missing[strings.ToLower(s)]
	return ok
}

// sniffDelimiter picks the candidate that splits the header line into the most fields
func sniffDelimiter(text string) rune {
	line := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	line = strings.TrimRight(line, "\r")

	best, bestFields := candidateDelimiters[0], 0
	for _, d := range candidateDelimiters {
		r := csv.NewReader(strings.NewReader(line))
		r.Comma = d
		r.LazyQuotes = true
		r.FieldsPerRecord = -1
		rec, err := r.Read()
		if err != nil {
			continue
		}
		if len(rec) > bestFields {
			best, bestFields = d, len(rec)
		}
	}
	return best
}

func extractionError(msg string, cause error, reason string) *apperrors.AppError {
	return apperrors.NewExtractionError(msg, cause).WithContext("reason", reason)
}
