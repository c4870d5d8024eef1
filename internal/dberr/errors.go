// Package dberr defines the error taxonomy shared by every flintdb
// component: parse-time failures, schema violations, constraint
// violations, missing rows, resource exhaustion, I/O faults and page
// corruption. Callers distinguish kinds with errors.As, never by
// matching message text.
package dberr

import "fmt"

// Kind identifies which of the seven error categories an error belongs
// to.
type Kind int

const (
	KindParse Kind = iota
	KindSchema
	KindConstraint
	KindNotFound
	KindResource
	KindIO
	KindCorruption
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindSchema:
		return "schema"
	case KindConstraint:
		return "constraint"
	case KindNotFound:
		return "not_found"
	case KindResource:
		return "resource"
	case KindIO:
		return "io"
	case KindCorruption:
		return "corruption"
	default:
		return "unknown"
	}
}

// Error is a typed, wrapped error carrying one of the seven kinds plus
// an optional source-position for parse errors.
type Error struct {
	Kind Kind
	Pos  int // byte offset into the SQL text; -1 when not applicable
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s error at %d: %s", e.Kind, e.Pos, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Pos: -1, Msg: msg, Err: err}
}

func ParseError(pos int, msg string) *Error {
	return &Error{Kind: KindParse, Pos: pos, Msg: msg}
}

func SchemaError(msg string) *Error               { return newErr(KindSchema, msg, nil) }
func ConstraintError(msg string) *Error           { return newErr(KindConstraint, msg, nil) }
func NotFound(msg string) *Error                  { return newErr(KindNotFound, msg, nil) }
func ResourceError(msg string) *Error             { return newErr(KindResource, msg, nil) }
func IoError(msg string, cause error) *Error      { return newErr(KindIO, msg, cause) }
func CorruptionError(msg string, cause error) *Error {
	return newErr(KindCorruption, msg, cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == k
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
