package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these instead of literals
// so that the HTTP mapping below stays authoritative.
const (
	// Validation (400)
	ErrCodeValidationMissingField          ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON           ErrorCode = "validation_invalid_json"
	ErrCodeValidationContentType           ErrorCode = "validation_unsupported_content_type"
	ErrCodeValidationMethodNotAllowed      ErrorCode = "validation_method_not_allowed"
	ErrCodeValidationMissingSubscriptionID ErrorCode = "validation_missing_subscription_id"
	ErrCodeValidationMissingCustomer       ErrorCode = "validation_missing_customer"
	ErrCodeValidationUnknownPlan           ErrorCode = "validation_unknown_plan"
	ErrCodeValidationUnresolvableUser      ErrorCode = "validation_unresolvable_user"
	ErrCodeValidationMalformedEvent        ErrorCode = "validation_malformed_event"

	// Webhook signature (400, not 401: the caller is the payment provider)
	ErrCodeAuthSignatureMissing  ErrorCode = "auth_signature_missing"
	ErrCodeAuthSignatureMismatch ErrorCode = "auth_signature_mismatch"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"
	ErrCodeAuthTokenExpired ErrorCode = "auth_token_expired"

	// Permission (403)
	ErrCodePermissionSubscriptionOwner ErrorCode = "permission_subscription_owner"
	ErrCodePermissionUserMismatch      ErrorCode = "permission_user_mismatch"

	// Not Found (404)
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundCustomer     ErrorCode = "not_found_customer"
	ErrCodeNotFoundRoute        ErrorCode = "not_found_route"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeInternalConfiguration ErrorCode = "internal_configuration_error"
	ErrCodeUpstreamStripe        ErrorCode = "upstream_stripe_error"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case c == ErrCodeAuthSignatureMissing, c == ErrCodeAuthSignatureMismatch:
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case c == ErrCodeUpstreamRateLimited:
		return http.StatusServiceUnavailable // 503
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// IsClientFacing reports whether errors with this code describe a problem the
// caller can act on (input, credentials, ownership) rather than a failure of
// this service or its dependencies.
func (c ErrorCode) IsClientFacing() bool {
	s := string(c)
	return strings.HasPrefix(s, "validation_") ||
		strings.HasPrefix(s, "auth_") ||
		strings.HasPrefix(s, "permission_") ||
		strings.HasPrefix(s, "not_found_")
}

// AppError is the standard application error type. Services return it so the
// transport layer can format responses and pick status codes consistently.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from anywhere in err's chain. Errors that are
// not AppErrors report ErrCodeInternalUnexpected.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
