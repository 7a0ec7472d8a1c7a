package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON  = "ERR_INVALID_JSON"
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	ErrCodeInvalidTier  = "ERR_INVALID_TIER"
	ErrCodeInvalidLimit = "ERR_INVALID_LIMIT"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound        = "ERR_NOT_FOUND"
	ErrCodeAccountNotFound = "ERR_ACCOUNT_NOT_FOUND"
	ErrCodeAlreadyExists   = "ERR_ALREADY_EXISTS"
	ErrCodeConflict        = "ERR_CONFLICT"
)

// Quota error codes
const (
	// ErrCodeQuotaExceeded is returned when the account has no units left this period
	ErrCodeQuotaExceeded = "ERR_QUOTA_EXCEEDED"
	// ErrCodeDuplicateSuppressed is returned for an increment inside the suppression window
	ErrCodeDuplicateSuppressed = "ERR_DUPLICATE_SUPPRESSED"
	// ErrCodeStoreUnavailable is returned when the account store cannot be reached
	ErrCodeStoreUnavailable      = "ERR_STORE_UNAVAILABLE"
	ErrCodeReconciliationFailure = "ERR_RECONCILIATION_FAILURE"
)

// Scheduler error codes
const (
	ErrCodeSchedulerNotRunning = "ERR_SCHEDULER_NOT_RUNNING"
	ErrCodeSweepInProgress     = "ERR_SWEEP_IN_PROGRESS"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidTier:  http.StatusBadRequest,
	ErrCodeInvalidLimit: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:        http.StatusNotFound,
	ErrCodeAccountNotFound: http.StatusNotFound,
	ErrCodeAlreadyExists:   http.StatusConflict,
	ErrCodeConflict:        http.StatusConflict,

	ErrCodeQuotaExceeded:         http.StatusTooManyRequests,
	ErrCodeDuplicateSuppressed:   http.StatusTooManyRequests,
	ErrCodeStoreUnavailable:      http.StatusServiceUnavailable,
	ErrCodeReconciliationFailure: http.StatusServiceUnavailable,

	ErrCodeSchedulerNotRunning: http.StatusConflict,
	ErrCodeSweepInProgress:     http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainErrorCodeMapping maps domain error codes to API error codes
var domainErrorCodeMapping = map[string]string{
	"NOT_FOUND":              ErrCodeNotFound,
	"ALREADY_EXISTS":         ErrCodeAlreadyExists,
	"INVALID_INPUT":          ErrCodeInvalidInput,
	"CONCURRENCY_CONFLICT":   ErrCodeConflict,
	"UNAUTHORIZED":           ErrCodeUnauthorized,
	"FORBIDDEN":              ErrCodeForbidden,
	"INVALID_TIER":           ErrCodeInvalidTier,
	"INVALID_LIMIT":          ErrCodeInvalidLimit,
	"ACCOUNT_NOT_FOUND":      ErrCodeAccountNotFound,
	"QUOTA_EXCEEDED":         ErrCodeQuotaExceeded,
	"DUPLICATE_SUPPRESSED":   ErrCodeDuplicateSuppressed,
	"STORE_UNAVAILABLE":      ErrCodeStoreUnavailable,
	"RECONCILIATION_FAILURE": ErrCodeReconciliationFailure,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format or unknown are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := domainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
