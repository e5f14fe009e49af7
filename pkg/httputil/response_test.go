package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funish/nexus/pkg/nexuserr"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusCreated, map[string]string{"ok": "yes"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "yes", body["ok"])
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusTeapot, "short and stout")

	assert.Equal(t, http.StatusTeapot, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "short and stout", body["error"])
}

func TestWriteClassifiedError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nexuserr.ErrBadRequest, http.StatusBadRequest},
		{fmt.Errorf("uikit: %w", nexuserr.ErrPackageNotFound), http.StatusNotFound},
		{nexuserr.ErrUpstreamUnavailable, http.StatusBadGateway},
		{nexuserr.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteClassifiedError(w, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteBadRequest(w, "nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	WriteNotFoundError(w, "gone")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	WriteInternalError(w, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, map[string]int{"n": 1}))
	assert.Equal(t, http.StatusOK, w.Code)
}
