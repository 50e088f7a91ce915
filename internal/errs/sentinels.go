// Package errs contains the domain error taxonomy shared by repositories, services and
// the HTTP layer. Every domain failure is an *Error tagged with a Kind; transports map
// kinds to status codes in exactly one place.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind uint8

const (
	// KindInternal is an unexpected failure. It is the zero value on purpose so that
	// untagged errors classify as internal.
	KindInternal Kind = iota
	// KindValidation is malformed or out-of-range input.
	KindValidation
	// KindNotFound is a referenced entity that does not exist.
	KindNotFound
	// KindUnauthorized is a missing or invalid identity.
	KindUnauthorized
	// KindForbidden is an identity lacking permission.
	KindForbidden
	// KindConflict is a logical conflict such as a duplicate name.
	KindConflict
	// KindBusinessRule is a semantically invalid operation.
	KindBusinessRule
	// KindStorageConflict is a transient persistence conflict (serialization failure,
	// deadlock, lock timeout). The only retried kind.
	KindStorageConflict
	// KindRateLimited indicates temporary login lock due to rate limiting.
	KindRateLimited
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule_violation"
	case KindStorageConflict:
		return "storage_conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindBusinessRule:
		return http.StatusUnprocessableEntity
	case KindStorageConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable machine-readable code put in error bodies.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindConflict:
		return "CONFLICT"
	case KindBusinessRule:
		return "BUSINESS_RULE_VIOLATION"
	case KindStorageConflict:
		return "RETRY_CONFLICT"
	case KindRateLimited:
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}

// KindFromCode is the inverse of Kind.Code. Unknown codes map to KindInternal.
func KindFromCode(code string) Kind {
	for k := KindValidation; k <= KindRateLimited; k++ {
		if k.Code() == code {
			return k
		}
	}
	return KindInternal
}

// Retryable reports whether errors of this kind may succeed on resubmission.
func (k Kind) Retryable() bool { return k == KindStorageConflict }

// Issue is a single field-level validation problem.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the tagged domain error.
type Error struct {
	Kind    Kind
	Message string
	Issues  []Issue
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so kind sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Kind sentinels for errors.Is checks.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}

	// ErrValidation indicates malformed input.
	ErrValidation = &Error{Kind: KindValidation, Message: "validation failed"}

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "unauthorized"}

	// ErrForbidden indicates the acting user lacks permission.
	ErrForbidden = &Error{Kind: KindForbidden, Message: "forbidden"}

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = &Error{Kind: KindConflict, Message: "already exists"}

	// ErrBusinessRule indicates a semantically invalid operation.
	ErrBusinessRule = &Error{Kind: KindBusinessRule, Message: "business rule violation"}

	// ErrStorageConflict indicates a transient persistence conflict.
	ErrStorageConflict = &Error{Kind: KindStorageConflict, Message: "conflict, please retry"}

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = &Error{Kind: KindRateLimited, Message: "rate limited"}
)

// Validation builds a validation error.
func Validation(msg string, issues ...Issue) *Error {
	return &Error{Kind: KindValidation, Message: msg, Issues: issues}
}

// NotFound builds a not-found error for the named entity.
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// Unauthorized builds an authentication error.
func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// Forbidden builds a permission error.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Conflict builds a logical conflict error.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// BusinessRule builds a business rule violation.
func BusinessRule(msg string) *Error {
	return &Error{Kind: KindBusinessRule, Message: msg}
}

// StorageConflict wraps the last transient failure after retries are exhausted.
func StorageConflict(cause error) *Error {
	return &Error{Kind: KindStorageConflict, Message: "conflict, please retry", Err: cause}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain, wrapping untagged errors as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
