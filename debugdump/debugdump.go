// Package debugdump implements §6's opt-in debug-artifact surface
// (component L): rendering HL IR to an s-expression (`.hlc`), LL IR to a
// loop-nest listing (`-unoptimized.llc`/`.llc`), and the tensor
// dependency graph to a Graphviz `.dot` file, gated behind
// session.Session.DebugFiles and session.Session.HasDebugFormat exactly
// as §6 describes ("When output_debug_files_in_run_directory is set,
// the compile pipeline writes three files per compiled kernel").
package debugdump

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/awalterschulze/gographviz"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arbor-ml/arbor/arborerr"
	"github.com/arbor-ml/arbor/hlir"
	"github.com/arbor-ml/arbor/index"
	"github.com/arbor-ml/arbor/llir"
	"github.com/arbor-ml/arbor/node"
	"github.com/arbor-ml/arbor/session"
)

// WriteHL writes <name>.hlc: the HL program's s-expression form, plus a
// companion <name>.hlc.pb protobuf encoding when sess has the "proto"
// debug format enabled.
func WriteHL(sess *session.Session, dir, name string, hl hlir.Code) *arborerr.Error {
	if sess != nil && !sess.DebugFiles() {
		return nil
	}
	text := RenderHL(hl)
	if err := writeFile(dir, name+".hlc", text); err != nil {
		return err
	}
	return maybeWriteProto(sess, dir, name+".hlc", "hl", name, text)
}

// WriteLLUnoptimized writes <name>-unoptimized.llc: the LL program as
// produced by to-low-level, before the tracer/simplifier run.
func WriteLLUnoptimized(sess *session.Session, dir, name string, unoptimized llir.Code) *arborerr.Error {
	if sess != nil && !sess.DebugFiles() {
		return nil
	}
	text := RenderLL(unoptimized)
	if err := writeFile(dir, name+"-unoptimized.llc", text); err != nil {
		return err
	}
	return maybeWriteProto(sess, dir, name+"-unoptimized.llc", "ll-unoptimized", name, text)
}

// WriteLLOptimized writes <name>.llc: the narrower hook a backend's
// Compile uses when it sees just the already-optimized code and has no
// HL program or pre-optimization snapshot in scope (WriteHL/
// WriteLLUnoptimized belong one layer up, where the caller still has the
// HL program and the pre-trace LL code).
func WriteLLOptimized(sess *session.Session, dir, name string, optimized llir.Code) *arborerr.Error {
	if sess != nil && !sess.DebugFiles() {
		return nil
	}
	text := RenderLL(optimized)
	if err := writeFile(dir, name+".llc", text); err != nil {
		return err
	}
	return maybeWriteProto(sess, dir, name+".llc", "ll-optimized", name, text)
}

// WriteArtifacts is the full three-file contract of §6 ("the compile
// pipeline writes three files per compiled kernel"), for a caller that
// has the HL program and both LL snapshots in scope (one layer above a
// single backend's Compile); it also emits the optional .dot dependency
// graph when the "dot" debug format is enabled.
func WriteArtifacts(sess *session.Session, dir, name string, hl hlir.Code, unoptimized, optimized llir.Code) *arborerr.Error {
	if err := WriteHL(sess, dir, name, hl); err != nil {
		return err
	}
	if err := WriteLLUnoptimized(sess, dir, name, unoptimized); err != nil {
		return err
	}
	if err := WriteLLOptimized(sess, dir, name, optimized); err != nil {
		return err
	}
	if sess != nil && sess.DebugFiles() && sess.HasDebugFormat("dot") {
		if err := WriteDot(dir, name, optimized); err != nil {
			return err
		}
	}
	return nil
}

// ToProto encodes one rendered debug artifact (kind/name/text) as a
// protobuf-marshaled structpb.Struct — a generic, schema-free message
// rather than a hand-authored .proto type, since the debug dump's shape
// (three labeled strings) doesn't warrant generating a dedicated message
// just to satisfy this optional path.
func ToProto(kind, name, text string) ([]byte, *arborerr.Error) {
	s, serr := structpb.NewStruct(map[string]any{
		"kind": kind,
		"name": name,
		"text": text,
	})
	if serr != nil {
		return nil, arborerr.Invariant("debugdump: building proto struct: %v", serr)
	}
	b, merr := proto.Marshal(s)
	if merr != nil {
		return nil, arborerr.Invariant("debugdump: marshaling proto struct: %v", merr)
	}
	return b, nil
}

// maybeWriteProto writes textFile+".pb" alongside the mandatory text
// form when sess has the "proto" debug format enabled.
func maybeWriteProto(sess *session.Session, dir, textFile, kind, name, text string) *arborerr.Error {
	if sess == nil || !sess.HasDebugFormat("proto") {
		return nil
	}
	b, perr := ToProto(kind, name, text)
	if perr != nil {
		return perr
	}
	path := filepath.Join(dir, textFile+".pb")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return arborerr.Invariant("debugdump: writing %s: %v", path, err)
	}
	return nil
}

// WriteCUDAArtifacts writes the GPU backend's additional debug files
// (§6: "<name>-cudajit-debug.cu, .ptx, .cu_log"). ptx and log may be
// empty (the stub build has neither); an empty string is skipped rather
// than writing a zero-byte file, so a CPU-only build that still calls
// this for bookkeeping doesn't litter the run directory.
func WriteCUDAArtifacts(sess *session.Session, dir, name, cuSrc, ptx, log string) *arborerr.Error {
	if sess != nil && !sess.DebugFiles() {
		return nil
	}
	if err := writeFile(dir, name+"-cudajit-debug.cu", cuSrc); err != nil {
		return err
	}
	if ptx != "" {
		if err := writeFile(dir, name+"-cudajit-debug.ptx", ptx); err != nil {
			return err
		}
	}
	if log != "" {
		if err := writeFile(dir, name+"-cudajit-debug.cu_log", log); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(dir, filename, content string) *arborerr.Error {
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return arborerr.Invariant("debugdump: writing %s: %v", path, err)
	}
	return nil
}

// RenderHL renders a component D program as a parenthesized s-expression,
// one form per node, matching the teacher's preference for a readable
// nested-list dump over a binary encoding for anything meant to be
// opened in an editor.
func RenderHL(code hlir.Code) string {
	var b strings.Builder
	renderHL(&b, code, 0)
	b.WriteByte('\n')
	return b.String()
}

func renderHL(b *strings.Builder, code hlir.Code, depth int) {
	ind := strings.Repeat("  ", depth)
	switch c := code.(type) {
	case hlir.Noop:
		fmt.Fprintf(b, "%s(noop)", ind)
	case hlir.Par:
		fmt.Fprintf(b, "%s(par\n", ind)
		renderHL(b, c.Left, depth+1)
		b.WriteByte('\n')
		renderHL(b, c.Right, depth+1)
		fmt.Fprintf(b, ")")
	case hlir.ParHint:
		fmt.Fprintf(b, "%s(par-hint\n", ind)
		renderHL(b, c.Left, depth+1)
		b.WriteByte('\n')
		renderHL(b, c.Right, depth+1)
		fmt.Fprintf(b, ")")
	case hlir.Seq:
		fmt.Fprintf(b, "%s(seq\n", ind)
		renderHL(b, c.Left, depth+1)
		b.WriteByte('\n')
		renderHL(b, c.Right, depth+1)
		fmt.Fprintf(b, ")")
	case hlir.BlockComment:
		fmt.Fprintf(b, "%s(block %q\n", ind, c.Msg)
		renderHL(b, c.Body, depth+1)
		fmt.Fprintf(b, ")")
	case hlir.AccumBinop:
		fmt.Fprintf(b, "%s(accum-binop :zero-out %v :accum %s :op %s :lhs %s :rhs1 %s :rhs2 %s)",
			ind, c.ZeroOut, c.Accum, c.Op, tensorRef(c.LHS), tensorRef(c.RHS1), tensorRef(c.RHS2))
	case hlir.AccumUnop:
		fmt.Fprintf(b, "%s(accum-unop :zero-out %v :accum %s :op %s :lhs %s :rhs %s)",
			ind, c.ZeroOut, c.Accum, c.Op, tensorRef(c.LHS), tensorRef(c.RHS))
	case hlir.Fetch:
		fmt.Fprintf(b, "%s(fetch %s %s)", ind, tensorRef(c.Target), renderFetchOp(c.Op))
	default:
		fmt.Fprintf(b, "%s(unknown-hl-node)", ind)
	}
}

func renderFetchOp(op hlir.FetchOp) string {
	switch f := op.(type) {
	case hlir.ConstantFetch:
		return fmt.Sprintf("(constant %g)", f.C)
	case hlir.SyntheticFetch:
		return "(synthetic " + strings.TrimSpace(RenderHL(f.Code)) + ")"
	case hlir.ImportedFetch:
		return fmt.Sprintf("(imported %q)", f.Name)
	default:
		return "(unknown-fetch-op)"
	}
}

// RenderLL renders a component E program as an indented loop-nest
// listing, mirroring how the IR reads in §3's grammar rather than
// reusing the C/CUDA codegen (this text is meant to be diffed against
// itself across optimization passes, not compiled).
func RenderLL(code llir.Code) string {
	var b strings.Builder
	renderLL(&b, code, 0)
	b.WriteByte('\n')
	return b.String()
}

func renderLL(b *strings.Builder, code llir.Code, depth int) {
	ind := strings.Repeat("  ", depth)
	switch c := code.(type) {
	case llir.Comment:
		fmt.Fprintf(b, "%s// %s\n", ind, c.Msg)
	case llir.Lines:
		for _, item := range c.Items {
			renderLL(b, item, depth)
		}
	case llir.ForLoop:
		fmt.Fprintf(b, "%sfor %s in [%d, %d) {\n", ind, c.Index, c.From, c.To)
		renderLL(b, c.Body, depth+1)
		fmt.Fprintf(b, "%s}\n", ind)
	case llir.ZeroOut:
		fmt.Fprintf(b, "%szero_out(%s)\n", ind, tensorRef(c.Ptr))
	case llir.Set:
		fmt.Fprintf(b, "%sset(%s[%s], %s)\n", ind, tensorRef(c.Ptr), renderIdcs(c.Idcs), RenderExpr(c.Expr))
	case llir.SetLocal:
		fmt.Fprintf(b, "%sset_local(s%d, %s)\n", ind, c.Scope, RenderExpr(c.Expr))
	case llir.DynamicIndices:
		fmt.Fprintf(b, "%sdynamic_indices(%s[%s] -> %v) {\n", ind, tensorRef(c.Tensor), renderIdcs(c.TensorIdcs), c.DynIdcs)
		renderLL(b, c.Body, depth+1)
		fmt.Fprintf(b, "%s}\n", ind)
	case llir.Rebalance:
		fmt.Fprintf(b, "%srebalance %q {\n", ind, c.Label)
		for _, child := range c.Children {
			renderLL(b, child, depth+1)
		}
		fmt.Fprintf(b, "%s}\n", ind)
	case llir.StagedCompilation:
		fmt.Fprintf(b, "%sstaged_compilation(...)\n", ind)
	default:
		fmt.Fprintf(b, "%s<unknown-ll-node>\n", ind)
	}
}

// RenderExpr renders a component E expression inline, used both by
// RenderLL and directly by tests that assert on a single Set's RHS.
func RenderExpr(e llir.Expr) string {
	switch x := e.(type) {
	case llir.Constant:
		return fmt.Sprintf("%g", x.C)
	case llir.Get:
		return fmt.Sprintf("%s[%s]", tensorRef(x.Ptr), renderIdcs(x.Idcs))
	case llir.GetLocal:
		return fmt.Sprintf("s%d", x.Scope)
	case llir.GetGlobal:
		return fmt.Sprintf("$%s", x.Name)
	case llir.LocalScope:
		return fmt.Sprintf("local(s%d, %s)", x.ID, RenderExpr(exprBody(x.Body)))
	case llir.Binop:
		return fmt.Sprintf("(%s %s %s)", x.Op, RenderExpr(x.A), RenderExpr(x.B))
	case llir.Unop:
		return fmt.Sprintf("(%s %s)", x.Op, RenderExpr(x.A))
	default:
		return "<unknown-expr>"
	}
}

// exprBody extracts the value expression from a Local-scope's body when
// it's a trivial single Set-local, for inline rendering; anything richer
// just renders as a constant placeholder rather than recursing into
// llir.Code here (Local-scope.Body is llir.Code, not Expr).
func exprBody(body llir.Code) llir.Expr {
	if sl, ok := body.(llir.SetLocal); ok {
		return sl.Expr
	}
	if lines, ok := body.(llir.Lines); ok {
		for i := len(lines.Items) - 1; i >= 0; i-- {
			if sl, ok := lines.Items[i].(llir.SetLocal); ok {
				return sl.Expr
			}
		}
	}
	return llir.Constant{}
}

func renderIdcs(idcs []index.AxisIndex) string {
	parts := make([]string, len(idcs))
	for i, idx := range idcs {
		parts[i] = renderAxisIndex(idx)
	}
	return strings.Join(parts, ", ")
}

func renderAxisIndex(idx index.AxisIndex) string {
	switch a := idx.(type) {
	case index.FixedIdx:
		return fmt.Sprintf("%d", a.I)
	case index.Iterator:
		return a.Sym.String()
	case index.DynamicRecipient:
		return "~" + a.Sym.String()
	case index.FrozenRecipient:
		return "!" + a.Sym.String()
	case index.DynamicProvider:
		return "provider(" + renderIdcs(a.Idcs) + ")"
	default:
		return "?"
	}
}

// tensorRef names a tensor node for debug output: its label when set,
// else a stable "t<id>" form.
func tensorRef(n *node.Node) string {
	if n == nil {
		return "<nil>"
	}
	if n.Label != "" {
		return n.Label
	}
	return fmt.Sprintf("t%d", n.ID)
}

// WriteDot renders the tensor dependency graph implied by code's
// Set/Get pairs (an edge from every tensor read to every tensor written
// in the same Set) to <name>.dot via gographviz, the opt-in "dot"
// debug format alongside the mandatory .hlc/.llc text dumps.
func WriteDot(dir, name string, code llir.Code) *arborerr.Error {
	g := gographviz.NewGraph()
	if err := g.SetName(graphIdent(name)); err != nil {
		return arborerr.Invariant("debugdump: dot graph name: %v", err)
	}
	if err := g.SetDir(true); err != nil {
		return arborerr.Invariant("debugdump: dot graph directed: %v", err)
	}

	seen := map[string]bool{}
	addNode := func(ref string) {
		if seen[ref] {
			return
		}
		seen[ref] = true
		_ = g.AddNode(graphIdent(name), dotQuote(ref), nil)
	}
	addEdge := func(from, to string) {
		addNode(from)
		addNode(to)
		_ = g.AddEdge(dotQuote(from), dotQuote(to), true, nil)
	}

	collectEdges(code, addEdge, addNode)

	return writeFile(dir, name+".dot", g.String())
}

// collectEdges walks code, adding one node-table entry per tensor
// referenced and one edge per (read tensor -> written tensor) pair found
// in a Set or DynamicIndices block.
func collectEdges(code llir.Code, addEdge func(from, to string), addNode func(ref string)) {
	switch c := code.(type) {
	case llir.Lines:
		for _, item := range c.Items {
			collectEdges(item, addEdge, addNode)
		}
	case llir.ForLoop:
		collectEdges(c.Body, addEdge, addNode)
	case llir.ZeroOut:
		addNode(tensorRef(c.Ptr))
	case llir.Set:
		lhs := tensorRef(c.Ptr)
		srcs := exprSources(c.Expr)
		if len(srcs) == 0 {
			addNode(lhs)
		}
		for _, src := range srcs {
			addEdge(src, lhs)
		}
	case llir.DynamicIndices:
		addNode(tensorRef(c.Tensor))
		collectEdges(c.Body, addEdge, addNode)
	case llir.Rebalance:
		for _, child := range c.Children {
			collectEdges(child, addEdge, addNode)
		}
	}
}

// exprSources collects the distinct tensors a Get anywhere inside e
// reads from.
func exprSources(e llir.Expr) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(llir.Expr)
	walk = func(e llir.Expr) {
		switch x := e.(type) {
		case llir.Get:
			ref := tensorRef(x.Ptr)
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		case llir.Binop:
			walk(x.A)
			walk(x.B)
		case llir.Unop:
			walk(x.A)
		case llir.LocalScope:
			walk(exprBody(x.Body))
		}
	}
	walk(e)
	return out
}

func graphIdent(name string) string {
	if name == "" {
		return "arbor"
	}
	return name
}

func dotQuote(s string) string { return fmt.Sprintf("%q", s) }
