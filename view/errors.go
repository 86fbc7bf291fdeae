package view

import "fmt"

// ErrorKind classifies a view engine failure the way CouchDBError classifies
// a CouchDB HTTP response (grounded on db/couchdb_types.go's
// CouchDBError/IsConflict/IsNotFound pattern), so callers can branch on
// kind instead of string-matching error messages.
type ErrorKind string

const (
	KindNotOpen       ErrorKind = "not_open"
	KindNotFound      ErrorKind = "not_found"
	KindBadRequest    ErrorKind = "bad_request"
	KindConflict      ErrorKind = "conflict"
	KindDbError       ErrorKind = "db_error"
	KindEncodingError ErrorKind = "encoding_error"
	KindCancelled     ErrorKind = "cancelled"
	KindMapFnFailure  ErrorKind = "map_fn_failure"
)

// Error is the concrete error type returned by every exported view
// operation. Op names the failing operation (e.g. "UpdateIndex",
// "ExecuteQuery") and Reason is a human-readable explanation; Err, when
// set, is the underlying cause and is reachable via errors.Unwrap.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("view: %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("view: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the error's Kind onto the HTTP-style status the original
// CouchDB view API would report for it (spec.md §7).
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindBadRequest, KindEncodingError:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindCancelled:
		return 499
	default:
		return 500
	}
}

func newError(kind ErrorKind, op, reason string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

// IsNotFound reports whether err is a view Error of kind NotFound.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsConflict reports whether err is a view Error of kind Conflict.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

func hasKind(err error, kind ErrorKind) bool {
	ve, ok := err.(*Error)
	return ok && ve.Kind == kind
}
