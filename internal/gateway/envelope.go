package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"turnstile.app/internal/auth"
	"turnstile.app/internal/domain"
	"turnstile.app/internal/obs"
)

// Code is the fixed error vocabulary callers branch on.
type Code string

const (
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeValidationError Code = "validation_error"
	CodeRateLimited     Code = "rate_limited"
	CodeInternalError   Code = "internal_error"
)

var statusByCode = map[Code]int{
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodeValidationError: http.StatusBadRequest,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeInternalError:   http.StatusInternalServerError,
}

// Error is a failure whose message is safe to show the caller.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func fail(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Error { return fail(CodeValidationError, format, args...) }

type errorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	OK        bool       `json:"ok"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// classify maps err to a code and a caller-safe message. Anything not
// recognised is internal and its text never leaves the server.
func classify(err error) (Code, string) {
	var gerr *Error
	switch {
	case errors.As(err, &gerr):
		return gerr.Code, gerr.Message
	case errors.Is(err, auth.ErrIdentityNotFound):
		return CodeNotFound, "no user is linked to this session"
	case errors.Is(err, auth.ErrSessionExpired):
		return CodeUnauthorized, "session expired"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		return CodeUnauthorized, "invalid or missing session"
	case errors.Is(err, domain.ErrCapacity):
		return CodeConflict, "not enough tickets left to hold"
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound, "resource not found"
	case errors.Is(err, domain.ErrForbidden):
		return CodeForbidden, "not allowed"
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict, "resource state changed"
	case errors.Is(err, domain.ErrInvalidInput):
		return CodeValidationError, "invalid input"
	default:
		return CodeInternalError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data, RequestID: RequestIDFromContext(r.Context())})
}

func writeFailure(w http.ResponseWriter, r *http.Request, code Code, msg string) {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, envelope{
		Error:     &errorBody{Code: code, Message: msg},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeError classifies err, logs internal failures with full detail and
// writes the envelope. It returns the code written.
func writeError(w http.ResponseWriter, r *http.Request, function string, err error) Code {
	code, msg := classify(err)
	if code == CodeInternalError {
		fields := map[string]any{
			"function":   function,
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err,
		}
		if id, ok := auth.IdentityFromContext(r.Context()); ok {
			fields["user_id"] = id.UserID
		}
		obs.Error("function_failed", fields)
	}
	writeFailure(w, r, code, msg)
	return code
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, envelope{
		Error:     &errorBody{Code: CodeValidationError, Message: "method not allowed"},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return fmt.Errorf("malformed JSON: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
