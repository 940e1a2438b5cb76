// Package errs provides structured error types shared across the gateway.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category the gateway distinguishes.
type Code string

const (
	// CodeRateLimited indicates the client-side request quota was exhausted
	// and the command was never sent.
	CodeRateLimited Code = "rate_limited"
	// CodeAuth indicates authentication or credential errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeVenueRejected indicates the venue accepted the request transport
	// but rejected its business content.
	CodeVenueRejected Code = "venue_rejected"
	// CodeTransport indicates a network transport failure; the venue may or
	// may not have seen the request.
	CodeTransport Code = "transport"
	// CodeMalformed indicates a venue payload that could not be decoded.
	CodeMalformed Code = "malformed_payload"
	// CodeRiskBlocked indicates a pre-trade risk limit refused the order
	// before it reached the command pipeline.
	CodeRiskBlocked Code = "risk_blocked"
	// CodeUnavailable indicates a gateway component is closed or not ready.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the gateway.
type E struct {
	Venue       string
	Code        Code
	HTTP        int
	RawCode     string
	RawMsg      string
	Message     string
	Remediation string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and error code.
func New(venue string, code Code, opts ...Option) *E {
	e := &E{
		Venue:       strings.TrimSpace(venue),
		Code:        code,
		HTTP:        0,
		RawCode:     "",
		RawMsg:      "",
		Message:     "",
		Remediation: "",
		cause:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error name.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message verbatim.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure category from err, unwrapping as needed.
// Errors outside the envelope report an empty code.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// Aggregate folds the failures of a multi-step operation into one envelope,
// joining every non-nil cause. Nil when all steps succeeded.
func Aggregate(venue string, code Code, operation string, causes ...error) error {
	joined := errors.Join(causes...)
	if joined == nil {
		return nil
	}
	return New(venue, code,
		WithMessage(operation+" failed"),
		WithCause(joined))
}
