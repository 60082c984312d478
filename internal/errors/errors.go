package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/manga-tracker/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryConfiguration represents source configuration errors (missing, disabled, no connector)
	CategoryConfiguration ErrorCategory = "configuration"
	// CategoryProvider represents transient fetch errors from an external provider
	CategoryProvider ErrorCategory = "provider"
	// CategoryItem represents a single series or chapter that failed to reconcile
	CategoryItem ErrorCategory = "item"
	// CategoryDatabase represents persistence errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Configuration Errors

// NewSourceUnavailableError creates an error for a source that is missing or disabled
func NewSourceUnavailableError(sourceID int64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusNotFound,
		Code:       "SOURCE_UNAVAILABLE",
		Message:    fmt.Sprintf("source %d not found or disabled", sourceID),
		Details: map[string]interface{}{
			"sourceId": sourceID,
		},
	}
}

// NewNoConnectorError creates an error for a source whose domain has no registered connector
func NewNoConnectorError(sourceID int64, domain string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "NO_CONNECTOR",
		Message:    fmt.Sprintf("no connector registered for domain %q", domain),
		Details: map[string]interface{}{
			"sourceId": sourceID,
			"domain":   domain,
		},
	}
}

// Provider Errors

// NewProviderError creates a data provider error
func NewProviderError(provider, operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("%s: %s failed", provider, operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider":  provider,
			"operation": operation,
		},
	}
}

// NewProviderStatusError creates a provider error for an unexpected HTTP status
func NewProviderStatusError(provider, operation string, status int) *CategorizedError {
	err := NewProviderError(provider, operation, nil)
	err.Message = fmt.Sprintf("%s: %s returned status %d", provider, operation, status)
	err.Details["status"] = status
	return err
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(provider, operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "PROVIDER_TIMEOUT",
		Message:    fmt.Sprintf("%s: %s timed out", provider, operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider":  provider,
			"operation": operation,
		},
	}
}

// NewProviderRateLimitError creates a provider rate limit error
func NewProviderRateLimitError(provider, operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMIT",
		Message:    fmt.Sprintf("%s: rate limit exceeded during %s", provider, operation),
		Details: map[string]interface{}{
			"provider":  provider,
			"operation": operation,
		},
	}
}

// NewFetchError classifies a transport error from a provider call.
// Deadline errors become PROVIDER_TIMEOUT, everything else PROVIDER_ERROR.
func NewFetchError(provider, operation string, cause error) *CategorizedError {
	if stderrors.Is(cause, context.DeadlineExceeded) {
		return NewProviderTimeoutError(provider, operation, cause)
	}
	return NewProviderError(provider, operation, cause)
}

// Item Errors

// NewItemError wraps a failure to reconcile one provider item
func NewItemError(itemID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryItem,
		StatusCode: http.StatusInternalServerError,
		Code:       "ITEM_SYNC_FAILED",
		Message:    fmt.Sprintf("failed to sync item %s", itemID),
		Cause:      cause,
		Details: map[string]interface{}{
			"itemId": itemID,
		},
	}
}

// Request Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	// Default to internal error
	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsFetchError reports whether err came from a provider fetch
func IsFetchError(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryProvider
}

// IsRetryable determines if an error is worth another attempt on a later tick.
// Configuration errors are not: the next scheduled tick re-attempts them anyway.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}
