// Package errs defines the error taxonomy shared by the domain and its adapters.
//
// Every failure that crosses a collaborator boundary carries a Kind and the
// name of the service that produced it, so calling layers can tell
// "service X is not responding" apart from a bug.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error.
type Kind string

// Error kinds.
const (
	KindServiceUnavailable Kind = "service_unavailable"
	KindServiceTimeout     Kind = "service_timeout"
	KindModelNotFound      Kind = "model_not_found"
	KindGeneration         Kind = "generation_error"
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation_error"
)

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrServiceTimeout     = &Error{Kind: KindServiceTimeout}
	ErrModelNotFound      = &Error{Kind: KindModelNotFound}
	ErrGeneration         = &Error{Kind: KindGeneration}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Service string
	Detail  string
	Timeout time.Duration
	Err     error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindServiceUnavailable:
		msg = fmt.Sprintf("%s is unavailable", e.Service)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
	case KindServiceTimeout:
		msg = fmt.Sprintf("%s request timed out after %s", e.Service, e.Timeout)
	case KindModelNotFound:
		msg = fmt.Sprintf("%s model not found: %s", e.Service, e.Detail)
	case KindGeneration:
		msg = fmt.Sprintf("%s generation failed", e.Service)
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
	case KindNotFound:
		msg = e.Detail + " not found"
	case KindValidation:
		msg = "validation failed: " + e.Detail
	default:
		msg = e.Detail
	}
	if e.Err != nil && e.Kind != KindServiceUnavailable {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Unavailable reports that service could not be reached.
func Unavailable(service string, err error) *Error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Error{Kind: KindServiceUnavailable, Service: service, Detail: detail, Err: err}
}

// Timeout reports that service was reachable but did not answer within d.
func Timeout(service string, d time.Duration, err error) *Error {
	return &Error{Kind: KindServiceTimeout, Service: service, Timeout: d, Err: err}
}

// ModelNotFound reports that service does not have model.
func ModelNotFound(service, model string, err error) *Error {
	return &Error{Kind: KindModelNotFound, Service: service, Detail: model, Err: err}
}

// Generation reports that service answered with unusable output.
func Generation(service, detail string, err error) *Error {
	return &Error{Kind: KindGeneration, Service: service, Detail: detail, Err: err}
}

// NotFound reports a missing story, node or entity.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf("%s %s", resource, id)}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ServiceOf returns the service tag of the first *Error in err's chain.
func ServiceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Service
	}
	return ""
}

// IsTransient reports whether err is an unavailable or timeout condition.
func IsTransient(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrServiceTimeout)
}
