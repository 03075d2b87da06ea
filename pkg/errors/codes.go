package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// Codes follow the MODULE_NNN convention.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Sentinel pseudo-codes.
const (
	CodeOK      ErrorCode = "OK"
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeNotImplemented     ErrorCode = "COMMON_012"
)

// Catalog Error Codes
const (
	ErrCodeUnknownDocumentType ErrorCode = "CAT_001"
	ErrCodeCatalogInvalid      ErrorCode = "CAT_002"
	ErrCodeUnknownTrack        ErrorCode = "CAT_003"
)

// Date Error Codes
const (
	ErrCodeDateParse ErrorCode = "DATE_001"
)

// Eligibility Error Codes
const (
	ErrCodeCaseInvalid     ErrorCode = "ELIG_001"
	ErrCodeVerdictNotFound ErrorCode = "ELIG_002"
	ErrCodeCaseLocked      ErrorCode = "ELIG_003"
)

// Infrastructure Error Codes
const (
	ErrCodeDatabaseError    ErrorCode = "DB_001"
	ErrCodeMigrationFailed  ErrorCode = "DB_002"
	ErrCodeCacheError       ErrorCode = "CACHE_001"
	ErrCodeCacheMiss        ErrorCode = "CACHE_002"
	ErrCodeLockNotAcquired  ErrorCode = "CACHE_003"
	ErrCodeMessageQueue     ErrorCode = "MQ_001"
	ErrCodeStorageError     ErrorCode = "STORAGE_001"
	ErrCodeTextNotFound     ErrorCode = "STORAGE_002"
	ErrCodeSearchError      ErrorCode = "SEARCH_001"
	ErrCodeTokenInvalid     ErrorCode = "AUTH_001"
	ErrCodeTokenExpired     ErrorCode = "AUTH_002"
	ErrCodeIdentityProvider ErrorCode = "AUTH_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeUnknownDocumentType: http.StatusNotFound,
	ErrCodeCatalogInvalid:      http.StatusInternalServerError,
	ErrCodeUnknownTrack:        http.StatusBadRequest,

	ErrCodeDateParse: http.StatusBadRequest,

	ErrCodeCaseInvalid:     http.StatusUnprocessableEntity,
	ErrCodeVerdictNotFound: http.StatusNotFound,
	ErrCodeCaseLocked:      http.StatusConflict,

	ErrCodeDatabaseError:    http.StatusInternalServerError,
	ErrCodeMigrationFailed:  http.StatusInternalServerError,
	ErrCodeCacheError:       http.StatusInternalServerError,
	ErrCodeCacheMiss:        http.StatusNotFound,
	ErrCodeLockNotAcquired:  http.StatusConflict,
	ErrCodeMessageQueue:     http.StatusBadGateway,
	ErrCodeStorageError:     http.StatusBadGateway,
	ErrCodeTextNotFound:     http.StatusNotFound,
	ErrCodeSearchError:      http.StatusBadGateway,
	ErrCodeTokenInvalid:     http.StatusUnauthorized,
	ErrCodeTokenExpired:     http.StatusUnauthorized,
	ErrCodeIdentityProvider: http.StatusServiceUnavailable,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeUnknownDocumentType: "unknown document type",
	ErrCodeCatalogInvalid:      "invalid document catalog",
	ErrCodeUnknownTrack:        "unknown naturalization track",

	ErrCodeDateParse: "unrecognized date format",

	ErrCodeCaseInvalid:     "invalid case file",
	ErrCodeVerdictNotFound: "verdict not found",
	ErrCodeCaseLocked:      "case is being evaluated",

	ErrCodeDatabaseError:    "database error",
	ErrCodeMigrationFailed:  "schema migration failed",
	ErrCodeCacheError:       "cache error",
	ErrCodeCacheMiss:        "cache miss",
	ErrCodeLockNotAcquired:  "lock not acquired",
	ErrCodeMessageQueue:     "message queue error",
	ErrCodeStorageError:     "object storage error",
	ErrCodeTextNotFound:     "extracted text not found",
	ErrCodeSearchError:      "search backend error",
	ErrCodeTokenInvalid:     "invalid token",
	ErrCodeTokenExpired:     "token expired",
	ErrCodeIdentityProvider: "identity provider unavailable",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
