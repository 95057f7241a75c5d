package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/backoffice/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleValidationError_FieldDetails(t *testing.T) {
	type rangeQuery struct {
		BranchID int64  `form:"branch_id" binding:"required,gt=0"`
		From     string `form:"from" binding:"required,datetime=2006-01-02"`
	}

	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		var q rangeQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	t.Run("returns field details named after the query parameter", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test?branch_id=-2&from=03/01/2024", nil)
		req.Header.Set(RequestIDHeader, "req-v1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp dto.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "req-v1", resp.Error.RequestID)
		require.Len(t, resp.Error.Details, 2)

		fields := map[string]dto.ValidationDetail{}
		for _, d := range resp.Error.Details {
			fields[d.Field] = d
		}
		assert.Equal(t, "gt", fields["branch_id"].Tag)
		assert.Equal(t, "Must be a date in 2006-01-02 format", fields["from"].Message)
	})

	t.Run("returns success for valid input", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test?branch_id=3&from=2024-03-01", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRuleMessage(t *testing.T) {
	type archiveRequest struct {
		Mode      string `validate:"required,oneof=delete cold_storage"`
		Target    string `validate:"min=3"`
		BatchSize int    `validate:"max=100000"`
		BranchID  int64  `validate:"gt=0"`
		From      string `validate:"datetime=2006-01-02"`
		JobID     string `validate:"uuid"`
		Note      string `validate:"excludes=;"`
	}

	err := validator.New().Struct(archiveRequest{
		Mode: "shred", Target: "or", BatchSize: 200000, BranchID: -1,
		From: "yesterday", JobID: "nope", Note: "a;b",
	})
	require.Error(t, err)

	got := map[string]string{}
	for _, fe := range err.(validator.ValidationErrors) {
		got[fe.Field()] = ruleMessage(fe)
	}
	assert.Equal(t, map[string]string{
		"Mode":      "Must be one of: delete cold_storage",
		"Target":    "Must be at least 3 characters",
		"BatchSize": "Must be at most 100000",
		"BranchID":  "Must be greater than 0",
		"From":      "Must be a date in 2006-01-02 format",
		"JobID":     "Invalid UUID format",
		"Note":      "Invalid value",
	}, got)
}

func TestHandleValidationError_NonValidatorError(t *testing.T) {
	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		var input struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			HandleValidationError(c, err)
			return
		}
	})

	req := httptest.NewRequest("POST", "/test", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrCodeValidation)
	assert.NotContains(t, w.Body.String(), "details")
}
