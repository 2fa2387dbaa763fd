package shape

import (
	"strings"

	"github.com/samber/lo"

	"github.com/arbor-ml/arbor/arborerr"
)

// AxisLabel is one parsed slot of an axis-labels spec: either a named
// label, the "_" placeholder (consumes a slot, produces no label), or the
// "..." broadcast anchor (injects a row-variable on its kind).
type AxisLabel struct {
	Name        string
	Placeholder bool
	Ellipsis    bool
}

// ParsedSpec is one slot's (batch, input, output) axis-label rows, the
// result of parsing a single spec operand (the part between `|`/`->`
// separators, and between `;`/`=>` for einsum forms).
type ParsedSpec struct {
	Batch, Input, Output []AxisLabel
}

// ParseAxisLabels parses one spec operand string per §4.C:
//   - optional `|` separates the batch row from input/output;
//   - optional `->` separates input from output;
//   - single-character mode unless any of `,()`-whitespace appears, in
//     which case labels are comma/paren/whitespace-delimited tokens;
//   - `...` anchors a broadcast row-variable at the first-from-end
//     position of its kind;
//   - `_` is a placeholder consuming a slot without producing a label.
func ParseAxisLabels(spec string) (ParsedSpec, *arborerr.Error) {
	multiChar := strings.ContainsAny(spec, ",()") || strings.ContainsAny(spec, " \t")

	var batchPart, rest string
	if idx := strings.Index(spec, "|"); idx >= 0 {
		batchPart, rest = spec[:idx], spec[idx+1:]
	} else {
		rest = spec
	}

	var inputPart, outputPart string
	if idx := strings.Index(rest, "->"); idx >= 0 {
		inputPart, outputPart = rest[:idx], rest[idx+2:]
	} else {
		outputPart = rest
	}

	parsed := ParsedSpec{}
	var err *arborerr.Error
	if parsed.Batch, err = tokenize(batchPart, multiChar); err != nil {
		return ParsedSpec{}, err
	}
	if parsed.Input, err = tokenize(inputPart, multiChar); err != nil {
		return ParsedSpec{}, err
	}
	if parsed.Output, err = tokenize(outputPart, multiChar); err != nil {
		return ParsedSpec{}, err
	}
	return parsed, nil
}

func tokenize(part string, multiChar bool) ([]AxisLabel, *arborerr.Error) {
	part = strings.TrimSpace(part)
	if part == "" {
		return nil, nil
	}

	var raw []string
	if multiChar {
		cleaned := strings.NewReplacer("(", " ", ")", " ", ",", " ").Replace(part)
		raw = strings.Fields(cleaned)
	} else {
		// Single-character mode, but "..." is a three-character token.
		runes := []rune(part)
		for i := 0; i < len(runes); {
			if i+2 < len(runes) && runes[i] == '.' && runes[i+1] == '.' && runes[i+2] == '.' {
				raw = append(raw, "...")
				i += 3
				continue
			}
			raw = append(raw, string(runes[i]))
			i++
		}
	}

	out := lo.Map(raw, func(tok string, _ int) AxisLabel {
		switch tok {
		case "...":
			return AxisLabel{Ellipsis: true}
		case "_":
			return AxisLabel{Placeholder: true}
		default:
			return AxisLabel{Name: tok}
		}
	})
	return out, nil
}

// SplitEinsum splits an einsum form "rhs1;rhs2=>lhs" (binary) or
// "rhs=>lhs" (unary, used by Permute) around `=>` and `;`.
func SplitEinsum(spec string) (operands []string, lhs string, err *arborerr.Error) {
	idx := strings.Index(spec, "=>")
	if idx < 0 {
		return nil, "", arborerr.Shape("einsum spec %q missing '=>'", spec)
	}
	lhs = spec[idx+2:]
	rhsPart := spec[:idx]
	operands = strings.Split(rhsPart, ";")
	return operands, lhs, nil
}

// CanonicalString re-prints a parsed spec in canonical `|`/`->` form; this
// round-trips (parse -> print -> parse is idempotent) per §8.
func (p ParsedSpec) CanonicalString() string {
	var b strings.Builder
	printRow(&b, p.Batch)
	if len(p.Batch) > 0 {
		b.WriteString("|")
	}
	printRow(&b, p.Input)
	b.WriteString("->")
	printRow(&b, p.Output)
	return b.String()
}

func printRow(b *strings.Builder, labels []AxisLabel) {
	for i, l := range labels {
		if i > 0 {
			b.WriteString(",")
		}
		switch {
		case l.Ellipsis:
			b.WriteString("...")
		case l.Placeholder:
			b.WriteString("_")
		default:
			b.WriteString(l.Name)
		}
	}
}
