// Package errs defines the small set of error kinds shared across the
// registry's component boundaries. Each kind maps to one client-visible HTTP
// status and to one recovery action in the index sync worker.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how callers are expected to react to it
type Kind int

const (
	// KindInternal is an unexpected fault. It is the zero value so that
	// unclassified errors are never mistaken for client mistakes.
	KindInternal Kind = iota

	// KindValidation means the request or input was malformed
	KindValidation

	// KindConflict means the request collides with existing state
	KindConflict

	// KindNotFound means the addressed entity does not exist
	KindNotFound

	// KindTransient means the operation may succeed if retried later
	KindTransient

	// KindFatal means operator intervention is required before retrying
	KindFatal
)

// String returns the lowercase name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "internal"
	}
}

// Error is an error tagged with a Kind and the operation that produced it
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with the given kind and operation name.
// A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a validation error from a format string
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in err's chain,
// or KindInternal when none is tagged.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is tagged with kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code returned to clients
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
