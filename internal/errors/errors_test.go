package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  NewAppValidationError("bad body"),
			want: "[VALIDATION] bad body",
		},
		{
			name: "with cause",
			err:  NewExtractionError("cannot read source", fmt.Errorf("eof")),
			want: "[EXTRACTION] cannot read source: eof",
		},
		{
			name: "unsupported format",
			err:  NewUnsupportedFormatError("xml"),
			want: `[UNSUPPORTED_FORMAT] unsupported export format "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_StatusCode(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{ErrTypeExtraction, http.StatusUnprocessableEntity},
		{ErrTypeInvalidFilter, http.StatusBadRequest},
		{ErrTypeInvalidTransform, http.StatusBadRequest},
		{ErrTypeUnsupportedFormat, http.StatusBadRequest},
		{ErrTypeInvalidChart, http.StatusBadRequest},
		{ErrTypeValidation, http.StatusBadRequest},
		{ErrTypeNotFound, http.StatusNotFound},
		{ErrTypeStorage, http.StatusInternalServerError},
		{ErrTypeConfig, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, NewAppError(tt.errType, "x", nil).StatusCode())
		})
	}
}

func TestAppError_IsAndAs(t *testing.T) {
	cause := stderrors.New("disk full")
	err := fmt.Errorf("saving run: %w", NewStorageError("insert failed", cause))

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, &AppError{Type: ErrTypeStorage}))
	assert.False(t, stderrors.Is(err, &AppError{Type: ErrTypeExtraction}))

	errType, ok := TypeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrTypeStorage, errType)
	assert.True(t, IsType(err, ErrTypeStorage))
	assert.False(t, IsType(stderrors.New("plain"), ErrTypeStorage))
}

func TestAppError_WithContext(t *testing.T) {
	err := NewInvalidFilterError("Sales", "min greater than max").WithContext("min", 5.0)

	assert.Equal(t, "Sales", err.Context["column"])
	assert.Equal(t, 5.0, err.Context["min"])

	var zero AppError
	zero.WithContext("k", "v")
	assert.Equal(t, "v", zero.Context["k"])
}

func TestAPIError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrRunNotFound.StatusCode)
	assert.Equal(t, "Pipeline run not found", ErrRunNotFound.Error())

	verr := ErrValidation("format", "required")
	assert.Equal(t, ValidationError{Field: "format", Message: "required"}, verr.Details)
}
