package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errMissing = errors.New("missing")
	errBusy    = errors.New("busy")
)

func TestErrorMapperRespond(t *testing.T) {
	mapper := NewErrorMapper("urn:test:", func(err error) bool { return errors.Is(err, errBusy) },
		ErrorMapping{Target: errMissing, Status: http.StatusNotFound, Title: "Not Found", Code: "missing"},
		ErrorMapping{Target: errBusy, Status: http.StatusConflict, Title: "Busy", Code: "busy"},
	)
	cases := []struct {
		err       error
		status    int
		typ       string
		retryable bool
	}{
		{fmt.Errorf("load: %w", errMissing), http.StatusNotFound, "urn:test:missing", false},
		{errBusy, http.StatusConflict, "urn:test:busy", true},
		{errors.New("boom"), http.StatusInternalServerError, "", false},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		mapper.Respond(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.typ, body.Type)
		assert.Equal(t, tc.retryable, body.Retryable)
		if tc.status != http.StatusInternalServerError {
			assert.Equal(t, tc.err.Error(), body.Detail)
		} else {
			assert.Empty(t, body.Detail)
		}
	}
}

func TestNilRetryableNeverMarksRetry(t *testing.T) {
	mapper := NewErrorMapper("urn:test:", nil, ErrorMapping{Target: errBusy, Status: http.StatusConflict, Title: "Busy", Code: "busy"})
	rec := httptest.NewRecorder()
	mapper.Respond(rec, errBusy)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Retryable)
}
