package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"storymagic/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a JSON request body (1 MB).
const maxRequestBodySize = 1 << 20

// ErrorResponse is the body of every error response. Error is always a
// human-readable string so browser clients can surface it directly.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// JSON writes data with the given status. If marshalling fails it falls back
// to a 500 error body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ErrorResponse{
			Error:     "failed to marshal response",
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// NoContent writes an empty response with the given status.
func NoContent(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}

// Error writes err using the status mapped from its AppError code. Errors
// that are not AppErrors become a generic 500 without leaking the message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(r, err)
	JSON(w, r, status, resp)
}

// ErrorWithStatus writes err with a forced status, except for auth and
// permission failures which keep their own. Direct endpoints use this to
// report validation, provider and persistence failures uniformly as 400.
func ErrorWithStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	mapped, resp := errorResponse(r, err)
	if mapped == http.StatusUnauthorized || mapped == http.StatusForbidden || mapped == http.StatusNotFound {
		status = mapped
	}
	JSON(w, r, status, resp)
}

func errorResponse(r *http.Request, err error) (int, ErrorResponse) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus(), ErrorResponse{
			Error:     appErr.Message,
			Code:      string(appErr.Code),
			Details:   appErr.Details,
			RequestID: requestID,
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error:     "an unexpected error occurred",
		Code:      string(types.ErrCodeInternalUnexpected),
		RequestID: requestID,
	}
}

// DecodeJSON reads a single JSON value from the request body into dst.
// Unknown fields are tolerated because browser clients send extra keys
// (for example "mode") that the server ignores.
//
// It returns a validation_invalid_json AppError on:
//   - JSON syntax errors
//   - Body exceeding the size limit
//   - Empty body
//   - Body containing more than one JSON value
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must contain a single JSON object", nil)
	}
	return nil
}

func mapDecodeError(err error) *types.AppError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must not exceed 1MB", err)
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON, "invalid value for field", err,
			map[string]any{
				"field":    typeErr.Field,
				"expected": typeErr.Type.String(),
			})
	}

	if errors.Is(err, io.EOF) {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must not be empty", err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || strings.Contains(err.Error(), "unexpected EOF") {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "malformed JSON in request body", err)
	}

	return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid JSON in request body", err)
}
