package pipeline

import (
	"fmt"
	"unicode/utf8"

	"etlpulse/internal/cleaner"
	"etlpulse/internal/config"
	apperrors "etlpulse/internal/errors"
	"etlpulse/internal/loader"
)

// OptionsFromConfig builds runner options from the pipeline configuration
func OptionsFromConfig(cfg config.PipelineConfig) (Options, error) {
	strategy, err := cleaner.ParseStrategy(cfg.MissingStrategy)
	if err != nil {
		return Options{}, apperrors.NewAppError(apperrors.ErrTypeConfig, "missing value strategy", err)
	}

	var delim rune
	if cfg.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(cfg.Delimiter)
		if size != len(cfg.Delimiter) {
			return Options{}, apperrors.NewAppError(apperrors.ErrTypeConfig,
				fmt.Sprintf("delimiter must be a single character, got %q", cfg.Delimiter), nil)
		}
		delim = r
	}

	return Options{
		Loader: loader.Options{
			MaxBytes:             cfg.MaxUploadBytes,
			Delimiter:            delim,
			Encodings:            cfg.Encodings,
			MissingMarkers:       cfg.MissingMarkers,
			CategoricalMaxUnique: cfg.CategoricalMaxUnique,
			CategoricalRatio:     cfg.CategoricalRatio,
		},
		Strategy:       strategy,
		ChartMaxPoints: cfg.ChartMaxPoints,
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL,
		OutputDir:      cfg.OutputDir,
		CSVBOM:         cfg.CSVBOM,
	}, nil
}
