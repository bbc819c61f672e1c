package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/ai"
	"pdfchat/internal/app"
	"pdfchat/internal/index"
	"pdfchat/internal/loader"
	"pdfchat/internal/transport/http/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func converseErrorResponse(t *testing.T, err error) (int, response.APIResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	writeConverseError(c, err)

	var body response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestWriteConverseErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"empty question", app.ErrQuestionEmpty, http.StatusBadRequest, response.CodeBadRequest},
		{"invalid input", fmt.Errorf("%w: locator required", app.ErrInvalidInput), http.StatusBadRequest, response.CodeBadRequest},
		{"session not found", app.ErrSessionNotFound, http.StatusNotFound, response.CodeSessionNotFound},
		{"document unavailable", fmt.Errorf("load: %w", loader.ErrDocumentUnavailable), http.StatusUnprocessableEntity, response.CodeDocumentUnavailable},
		{"unknown document", index.ErrUnknownDocument, http.StatusConflict, response.CodeIndexConflict},
		{"model mismatch", fmt.Errorf("%w: index built with old model", index.ErrModelMismatch), http.StatusConflict, response.CodeIndexConflict},
		{"build failed", index.ErrIndexBuildFailed, http.StatusInternalServerError, response.CodeInternalServer},
		{"embedding provider", ai.ErrEmbeddingProvider, http.StatusServiceUnavailable, response.CodeProviderUnavailable},
		{"generation provider", ai.ErrGenerationProvider, http.StatusServiceUnavailable, response.CodeProviderUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, response.CodeInternalServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := converseErrorResponse(t, tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantCode, body.Code)
		})
	}
}
