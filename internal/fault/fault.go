// Package fault is the closed error taxonomy for the completion pipeline.
//
// Every failure observed anywhere in the pipeline is classified into one of
// five kinds before it crosses a component boundary. Validation and
// configuration failures are detected before any upstream call; API failures
// preserve the upstream status and provider identity; stream failures are
// delivered to both consumers of a duplicated stream; persistence failures
// are logged and never surfaced to the caller.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindProviderConfig Kind = "provider_config_error"
	KindProviderAPI    Kind = "provider_api_error"
	KindStream         Kind = "stream_error"
	KindPersistence    Kind = "persistence_error"
)

// FieldError describes one per-field validation problem.
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// Error is the single error type carried through the pipeline.
type Error struct {
	Kind Kind

	// Provider and StatusCode are set for KindProviderAPI when known.
	Provider   string
	StatusCode int

	// Fields is set for KindValidation.
	Fields []FieldError

	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		b.WriteString(": ")
		b.WriteString(e.Provider)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, f := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", f.Field, f.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Validation builds a validation error from field problems.
func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "invalid completion request", Fields: fields}
}

// Config reports a missing or unusable provider configuration.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindProviderConfig, Message: fmt.Sprintf(format, args...)}
}

// API wraps an upstream provider failure, keeping status when known.
func API(provider string, statusCode int, err error) *Error {
	return &Error{Kind: KindProviderAPI, Provider: provider, StatusCode: statusCode, Err: err}
}

// Stream wraps a transport failure that happened mid-generation.
func Stream(provider string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindStream {
		return fe
	}
	return &Error{Kind: KindStream, Provider: provider, Err: err}
}

// Persistence wraps a storage-layer failure. It is logged by the collector
// and never surfaced to the caller.
func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Err: err}
}

// KindOf classifies an arbitrary error. Unclassified errors report KindStream
// when they interrupt a running generation, so the zero value here is the
// conservative choice for mid-stream call sites.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// As unwraps err into a taxonomy error when possible.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// HTTPStatus maps an error onto the caller-visible status class.
func HTTPStatus(err error) int {
	fe, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch fe.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindProviderConfig:
		return http.StatusServiceUnavailable
	case KindProviderAPI:
		if fe.StatusCode >= 400 && fe.StatusCode < 600 {
			return fe.StatusCode
		}
		return http.StatusBadGateway
	case KindStream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
