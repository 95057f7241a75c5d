package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(BodyLimit(64))
	r.POST("/jobs/reconcile", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			var tooLarge *http.MaxBytesError
			assert.True(t, errors.As(err, &tooLarge))
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusAccepted)
	})
	r.GET("/sales/daily", func(c *gin.Context) { c.Status(http.StatusOK) })

	small := `{"from":"2024-03-01","to":"2024-03-02"}`
	large := `{"from":"2024-03-01","to":"2024-03-02","note":"` + strings.Repeat("x", 100) + `"}`

	tests := []struct {
		name          string
		method        string
		path          string
		body          string
		contentLength int64
		wantStatus    int
		wantEnvelope  bool
	}{
		{"small body", http.MethodPost, "/jobs/reconcile", small, int64(len(small)), http.StatusAccepted, false},
		{"declared length over cap", http.MethodPost, "/jobs/reconcile", large, int64(len(large)), http.StatusRequestEntityTooLarge, true},
		{"chunked body over cap", http.MethodPost, "/jobs/reconcile", large, -1, http.StatusRequestEntityTooLarge, false},
		{"read without body", http.MethodGet, "/sales/daily", "", 0, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = http.NoBody
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.ContentLength = tt.contentLength
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantEnvelope {
				assert.Contains(t, w.Body.String(), "REQUEST_TOO_LARGE")
			}
		})
	}
}
