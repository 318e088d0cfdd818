package profile

import "errors"

// Kind classifies a profile failure.
type Kind int

// Failure kinds.
const (
	KindNotFound Kind = iota + 1
	KindServiceNotFound
	KindStorage
	KindValidation
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindServiceNotFound:
		return "service_not_found"
	case KindStorage:
		return "storage"
	case KindValidation:
		return "validation"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by Store operations. Reason is
// the human-readable message surfaced to callers.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string { return e.Reason }

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so the Err* sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound        = &Error{Kind: KindNotFound, Reason: "profile not found"}
	ErrServiceNotFound = &Error{Kind: KindServiceNotFound, Reason: "service not found"}
	ErrStorage         = &Error{Kind: KindStorage, Reason: "storage error"}
	ErrValidation      = &Error{Kind: KindValidation, Reason: "validation error"}
	ErrInternal        = &Error{Kind: KindInternal, Reason: "internal error"}
)

// NotFound reports an absent profile document.
func NotFound() *Error {
	return &Error{Kind: KindNotFound, Reason: "profile not found"}
}

// ServiceNotFound reports a service unknown to the directory.
func ServiceNotFound() *Error {
	return &Error{Kind: KindServiceNotFound, Reason: "service not found"}
}

// StorageError wraps a backend failure.
func StorageError(err error) *Error {
	return &Error{Kind: KindStorage, Reason: err.Error(), Cause: err}
}

// ValidationError wraps stored data the key codec could not decode.
func ValidationError(err error) *Error {
	return &Error{Kind: KindValidation, Reason: err.Error(), Cause: err}
}

// InternalError reports a collaborator failure, such as the service
// directory being unreachable.
func InternalError(reason string) *Error {
	return &Error{Kind: KindInternal, Reason: reason}
}

// KindOf returns the kind of err, or 0 when err is not a profile error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
