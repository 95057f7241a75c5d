package dto

import "net/http"

// API error codes returned in the error envelope.
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"

	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput    = "ERR_INVALID_INPUT"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"

	ErrCodeNotFound          = "ERR_NOT_FOUND"
	ErrCodeDuplicateFact     = "ERR_DUPLICATE_FACT"
	ErrCodeInvalidState      = "ERR_INVALID_STATE"
	ErrCodeAlreadyRunning    = "ERR_ALREADY_RUNNING"
	ErrCodeArchivingDisabled = "ERR_ARCHIVING_DISABLED"
)

type apiCode struct {
	code   string
	status int
}

// domainCodes translates shared.DomainError codes raised by the statistics services.
var domainCodes = map[string]apiCode{
	"INVALID_INPUT":      {ErrCodeInvalidInput, http.StatusBadRequest},
	"VALIDATION_ERROR":   {ErrCodeValidation, http.StatusBadRequest},
	"NOT_FOUND":          {ErrCodeNotFound, http.StatusNotFound},
	"DUPLICATE_FACT":     {ErrCodeDuplicateFact, http.StatusConflict},
	"ALREADY_RUNNING":    {ErrCodeAlreadyRunning, http.StatusConflict},
	"INVALID_STATE":      {ErrCodeInvalidState, http.StatusUnprocessableEntity},
	"ARCHIVING_DISABLED": {ErrCodeArchivingDisabled, http.StatusUnprocessableEntity},
}

var statusByCode = func() map[string]int {
	m := map[string]int{
		ErrCodeInternal:        http.StatusInternalServerError,
		ErrCodeUnavailable:     http.StatusServiceUnavailable,
		ErrCodeBadRequest:      http.StatusBadRequest,
		ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
		ErrCodeRateLimited:     http.StatusTooManyRequests,
	}
	for _, api := range domainCodes {
		m[api.code] = api.status
	}
	return m
}()

// GetHTTPStatus returns the status for an API error code, 500 when unknown.
func GetHTTPStatus(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NormalizeErrorCode maps a domain code to its API code. Other codes pass through.
func NormalizeErrorCode(code string) string {
	if api, ok := domainCodes[code]; ok {
		return api.code
	}
	return code
}
