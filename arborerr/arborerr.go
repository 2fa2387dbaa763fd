// Package arborerr defines the structured error taxonomy shared by every
// arbor package: user input errors, shape errors (with an accumulated
// trace), backend compile errors, kernel runtime errors, and internal
// invariant violations.
//
// Every constructor wraps an optional cause with github.com/pkg/errors so
// callers keep a stack trace across package boundaries, the way the
// teacher's dependency closure already favors wrapped errors over bare
// fmt.Errorf chains.
package arborerr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind discriminates the error taxonomy of §7.
type Kind int

const (
	// KindUser covers bad dims, non-divisible Total-elems, precision
	// mismatches, unknown backend names, SGD on a non-parameter.
	KindUser Kind = iota
	// KindShape covers unification failures; carries a Trace.
	KindShape
	// KindCompile covers backend compile failures (syntax, OOM, toolchain).
	KindCompile
	// KindRuntime covers in-kernel failures surfaced on the host.
	KindRuntime
	// KindInvariant covers violated internal invariants: bugs, not user
	// errors.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindShape:
		return "shape"
	case KindCompile:
		return "compile"
	case KindRuntime:
		return "runtime"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// TraceKind tags one entry of a ShapeError's trace.
type TraceKind int

const (
	TraceShape TraceKind = iota
	TraceRow
	TraceDim
	TraceIndex
)

func (t TraceKind) String() string {
	switch t {
	case TraceShape:
		return "Shape"
	case TraceRow:
		return "Row"
	case TraceDim:
		return "Dim"
	case TraceIndex:
		return "Index"
	default:
		return "?"
	}
}

// TraceEntry is one (Shape|Row|Dim|Index)-mismatch record accumulated as
// unification unwinds.
type TraceEntry struct {
	Kind    TraceKind
	Subject string // e.g. a shape's debug name, a dim's label
	Detail  string
}

func (e TraceEntry) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s(%s): %s", e.Kind, e.Subject, e.Detail)
}

// Error is the concrete error type for every arbor failure. Message
// carries the top-level description ("Compose / dim tail / label
// mismatch" style message stacks are built by callers via WithFrame);
// Trace accumulates structured context for shape errors.
type Error struct {
	Kind    Kind
	Message string
	Trace   []TraceEntry
	cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error: ")
	b.WriteString(e.Message)
	if len(e.Trace) > 0 {
		b.WriteString(" [")
		for i, t := range e.Trace {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(t.String())
		}
		b.WriteString("]")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (e *Error) Unwrap() error { return e.cause }

// WithFrame prepends a message frame, building a "Compose / dim tail /
// label mismatch"-style message stack as unification unwinds.
func (e *Error) WithFrame(frame string) *Error {
	cp := *e
	if cp.Message == "" {
		cp.Message = frame
	} else {
		cp.Message = frame + " / " + cp.Message
	}
	return &cp
}

// WithTrace appends one structured trace entry.
func (e *Error) WithTrace(t TraceEntry) *Error {
	cp := *e
	cp.Trace = append(append([]TraceEntry{}, cp.Trace...), t)
	return &cp
}

func newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// User builds a KindUser error: bad dims, non-divisible Total-elems,
// precision mismatch, unknown backend name, SGD on a non-parameter.
func User(format string, args ...any) *Error { return newf(KindUser, nil, format, args...) }

// Userf wraps an existing cause as a KindUser error.
func Userf(cause error, format string, args ...any) *Error {
	return newf(KindUser, errors.WithStack(cause), format, args...)
}

// Shape builds a KindShape error with an initially empty trace; chain
// WithTrace/WithFrame while unwinding the unifier's recursion.
func Shape(format string, args ...any) *Error { return newf(KindShape, nil, format, args...) }

// Compile wraps a backend's native diagnostic, naming the IR block.
func Compile(blockName string, cause error) *Error {
	return newf(KindCompile, errors.WithStack(cause), "compiling %q", blockName)
}

// Runtime reports an in-kernel failure, naming the tensor and the faulty
// indices plus an optional pretty-printed tensor header.
func Runtime(tensorName string, indices []int, header string) *Error {
	msg := fmt.Sprintf("out-of-bounds access to %q at indices %v", tensorName, indices)
	if header != "" {
		msg += "\n" + header
	}
	return newf(KindRuntime, nil, "%s", msg)
}

// Invariant reports a violated internal invariant: a bug, not a user
// error. Call sites should fail fast rather than attempt recovery.
func Invariant(format string, args ...any) *Error {
	return newf(KindInvariant, nil, format, args...)
}

// Cause unwraps to the deepest non-*Error cause, mirroring
// github.com/pkg/errors.Cause for tests that want to assert on the
// wrapped sentinel.
func Cause(err error) error {
	for {
		e, ok := err.(*Error)
		if !ok || e.cause == nil {
			return errors.Cause(err)
		}
		err = e.cause
	}
}
