package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "etlpulse/internal/errors"
	"etlpulse/internal/shared/testutil"
	"etlpulse/internal/transform"
)

type runPayload struct {
	Name       string         `json:"name" validate:"omitempty,filename"`
	Transforms transform.Spec `json:"transforms"`
	Charts     []string       `json:"charts" validate:"dive,chartkind"`
	Formats    []string       `json:"formats" validate:"dive,exportformat"`
	MaxRows    int            `json:"max_rows" validate:"gte=0,lte=1000"`
}

func newTestValidator(t *testing.T) *Validator {
	logger, _ := testutil.NewTestLogger(t)
	return NewValidator(logger)
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name      string
		payload   runPayload
		wantField string
	}{
		{name: "valid", payload: runPayload{Name: "sales.csv", Charts: []string{"line"}, Formats: []string{"csv"}}},
		{name: "path in name", payload: runPayload{Name: "../etc/passwd"}, wantField: "name"},
		{name: "unknown chart", payload: runPayload{Charts: []string{"radar"}}, wantField: "charts[0]"},
		{name: "unknown format", payload: runPayload{Formats: []string{"json", "pdf"}}, wantField: "formats[1]"},
		{name: "out of range", payload: runPayload{MaxRows: 5000}, wantField: "max_rows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.payload)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			apiErr, ok := err.(*apierrors.APIError)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			details, ok := apiErr.Details.(apierrors.ValidationErrors)
			require.True(t, ok)
			require.Len(t, details.Errors, 1)
			assert.Equal(t, tt.wantField, details.Errors[0].Field)
		})
	}
}

func TestValidator_DecodeJSON(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name     string
		body     string
		wantType apierrors.ErrorType
		wantCode string
	}{
		{name: "valid", body: `{"name":"a.csv","transforms":["normalize"]}`},
		{name: "empty body", body: ``, wantCode: "EMPTY_BODY"},
		{name: "malformed", body: `{"name":`, wantCode: "INVALID_REQUEST"},
		{name: "unknown field", body: `{"nope":1}`, wantCode: "INVALID_REQUEST"},
		{name: "unknown transform", body: `{"transforms":["square"]}`, wantType: apierrors.ErrTypeInvalidTransform},
		{name: "validation", body: `{"charts":["radar"]}`, wantCode: "VALIDATION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p runPayload
			err := v.DecodeJSON(req, &p)

			switch {
			case tt.wantType != "":
				assert.True(t, apierrors.IsType(err, tt.wantType), "got %v", err)
			case tt.wantCode != "":
				apiErr, ok := err.(*apierrors.APIError)
				require.True(t, ok, "got %T", err)
				assert.Equal(t, tt.wantCode, apiErr.ErrorCode)
			default:
				require.NoError(t, err)
				assert.Equal(t, transform.Spec{transform.Normalize}, p.Transforms)
			}
		})
	}
}

func TestValidator_DecodeJSON_TooLarge(t *testing.T) {
	v := newTestValidator(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 100)+`"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 10)

	var p runPayload
	err := v.DecodeJSON(req, &p)
	assert.Equal(t, apierrors.ErrPayloadTooLarge, err)
}

func TestContentTypeValidator(t *testing.T) {
	mw := ContentTypeValidator(newErrorHandler(t), "application/json", "multipart/form-data")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		method      string
		contentType string
		want        int
	}{
		{name: "get skips check", method: http.MethodGet, want: http.StatusOK},
		{name: "json", method: http.MethodPost, contentType: "application/json; charset=utf-8", want: http.StatusOK},
		{name: "multipart", method: http.MethodPost, contentType: "multipart/form-data; boundary=x", want: http.StatusOK},
		{name: "missing", method: http.MethodPost, want: http.StatusBadRequest},
		{name: "unsupported", method: http.MethodPost, contentType: "text/plain", want: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			mw(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestQueryParamValidator(t *testing.T) {
	qv := NewQueryParamValidator(newErrorHandler(t))

	t.Run("int", func(t *testing.T) {
		tests := []struct {
			query  string
			want   int
			wantOK bool
		}{
			{query: "", want: 20, wantOK: true},
			{query: "limit=5", want: 5, wantOK: true},
			{query: "limit=abc", wantOK: false},
			{query: "limit=500", wantOK: false},
		}
		for _, tt := range tests {
			rec := httptest.NewRecorder()
			got, ok := qv.ValidateInt(rec, httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil), "limit", 1, 100, 20)
			assert.Equal(t, tt.wantOK, ok, tt.query)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			}
		}
	})

	t.Run("bool", func(t *testing.T) {
		got, ok := qv.ValidateBool(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?include_rows=true", nil), "include_rows", false)
		assert.True(t, ok)
		assert.True(t, got)

		_, ok = qv.ValidateBool(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?include_rows=maybe", nil), "include_rows", false)
		assert.False(t, ok)
	})

	t.Run("enum", func(t *testing.T) {
		allowed := []string{"running", "completed", "failed"}
		got, ok := qv.ValidateEnum(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?state=failed", nil), "state", allowed, "")
		assert.True(t, ok)
		assert.Equal(t, "failed", got)

		rec := httptest.NewRecorder()
		_, ok = qv.ValidateEnum(rec, httptest.NewRequest(http.MethodGet, "/?state=paused", nil), "state", allowed, "")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
