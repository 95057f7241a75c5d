package dto

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one invalid request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"tag,omitempty"`
	Value   string `json:"value,omitempty"`
}

// Meta carries list metadata
type Meta struct {
	Total int64 `json:"total"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewListResponse creates a success response for a list with its total
func NewListResponse(data interface{}, total int) Response {
	return Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Total: int64(total)},
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response tagged with the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// NewValidationErrorResponse creates a validation error response with field details
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      ErrCodeValidation,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
	}
}

// DateRangeQuery is the query string of every ranged statistics read.
// Dates are business dates in YYYY-MM-DD form; to is inclusive.
type DateRangeQuery struct {
	BranchID int64  `form:"branch_id" binding:"required,gt=0"`
	From     string `form:"from" binding:"required,datetime=2006-01-02"`
	To       string `form:"to" binding:"required,datetime=2006-01-02"`
}

// RankingQuery is a ranged read with a result limit
type RankingQuery struct {
	DateRangeQuery
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// MonthQuery selects one calendar month of a branch
type MonthQuery struct {
	BranchID int64 `form:"branch_id" binding:"required,gt=0"`
	Year     int   `form:"year" binding:"required,min=2000,max=2100"`
	Month    int   `form:"month" binding:"required,min=1,max=12"`
}

// BranchQuery selects a single branch
type BranchQuery struct {
	BranchID int64 `form:"branch_id" binding:"required,gt=0"`
}

// DashboardQuery selects a dashboard widget. A missing branch_id means every branch.
type DashboardQuery struct {
	BranchID int64 `form:"branch_id" binding:"omitempty,gt=0"`
}

// TopProductsQuery selects the dashboard top-products widget
type TopProductsQuery struct {
	BranchID int64 `form:"branch_id" binding:"omitempty,gt=0"`
	Limit    int   `form:"limit" binding:"omitempty,min=1,max=50"`
}

// JobRangeRequest is the body of a manual reconcile or archive job.
// to is exclusive.
type JobRangeRequest struct {
	From string `json:"from" binding:"required,datetime=2006-01-02"`
	To   string `json:"to" binding:"required,datetime=2006-01-02"`
}

// CacheEvictRequest selects what an operator evicts
type CacheEvictRequest struct {
	Namespace string `json:"namespace"`
	BranchID  int64  `json:"branch_id" binding:"omitempty,gt=0"`
	All       bool   `json:"all"`
}

// ArchivePolicyRequest replaces the archive policy
type ArchivePolicyRequest struct {
	Enabled       bool   `json:"enabled"`
	RetentionDays int    `json:"retention_days" binding:"required,min=1"`
	BatchSize     int    `json:"batch_size" binding:"required,min=1,max=100000"`
	Mode          string `json:"mode" binding:"required,oneof=delete cold_storage"`
}
