// ABOUTME: Error taxonomy for chat requests and its mapping to HTTP responses
// ABOUTME: Classifies resolver/generator failures and sanitizes detail outside development

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/persona-gateway/internal/session"
)

// Kind classifies a request failure.
type Kind int

const (
	// KindUpstream is any unclassified failure from the resolver or generator.
	KindUpstream Kind = iota
	KindClientInput
	KindUnauthorized
	KindNotFound
	KindRateLimited
	KindTimeout
)

// User-facing messages for failures whose detail is internal.
const (
	msgTimeout  = "The assistant took too long to respond. Please try again in a moment."
	msgUpstream = "Something went wrong while generating a response."
	msgNotFound = "The selected persona no longer exists. Please reselect it and start over."
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindClientInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// String returns the machine-readable error code sent in the "error" field.
func (k Kind) String() string {
	switch k {
	case KindClientInput:
		return "invalid_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// Error is a classified request failure. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func clientError(format string, args ...any) *Error {
	return &Error{Kind: KindClientInput, Message: fmt.Sprintf(format, args...)}
}

func timeoutError(err error) *Error {
	return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
}

// classify converts any error into an *Error.
func classify(err error) *Error {
	var gwErr *Error
	switch {
	case errors.As(err, &gwErr):
		return gwErr
	case errors.Is(err, session.ErrAdvisorNotFound):
		return &Error{Kind: KindNotFound, Message: msgNotFound, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutError(err)
	default:
		return &Error{Kind: KindUpstream, Message: msgUpstream, Err: err}
	}
}

// publicMessage returns the client-facing message. Development deployments
// also see the wrapped cause.
func (g *Gateway) publicMessage(e *Error) string {
	if e.Err != nil && g.config.Server.IsDevelopment() {
		return e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Message
}

// writeError logs and writes a classified pre-stream error.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)

	attrs := []any{
		"kind", e.Kind.String(),
		"path", r.URL.Path,
		"error", err,
	}
	switch e.Kind {
	case KindUpstream:
		g.logger.Error("request failed", attrs...)
	case KindTimeout:
		g.logger.Warn("request timed out", attrs...)
	default:
		g.logger.Debug("request rejected", attrs...)
	}

	g.sendJSONError(w, e.Kind.Status(), e.Kind.String(), g.publicMessage(e))
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
