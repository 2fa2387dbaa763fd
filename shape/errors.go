package shape

import "github.com/arbor-ml/arbor/arborerr"

// shapeErrorf builds a *arborerr.Error of KindShape with a Shape trace
// entry naming s, the minimal form used by leaf checks (ToDims etc.).
func shapeErrorf(s *Shape, format string, args ...any) *arborerr.Error {
	e := arborerr.Shape(format, args...)
	return e.WithTrace(arborerr.TraceEntry{Kind: arborerr.TraceShape, Subject: s.Name})
}

// withShapeTrace appends a Shape trace entry for s to an existing error,
// used while unwinding unification recursion so the final message lists
// every participating shape (§8 invariant: "Shape-error ... trace list").
func withShapeTrace(err *arborerr.Error, s *Shape) *arborerr.Error {
	return err.WithTrace(arborerr.TraceEntry{Kind: arborerr.TraceShape, Subject: s.Name})
}

func withRowTrace(err *arborerr.Error, k AxisKind, detail string) *arborerr.Error {
	return err.WithTrace(arborerr.TraceEntry{Kind: arborerr.TraceRow, Subject: k.String(), Detail: detail})
}

func withDimTrace(err *arborerr.Error, detail string) *arborerr.Error {
	return err.WithTrace(arborerr.TraceEntry{Kind: arborerr.TraceDim, Detail: detail})
}
