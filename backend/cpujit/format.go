package cpujit

import (
	"github.com/klauspost/asmfmt"

	"github.com/arbor-ml/arbor/arborerr"
)

// formatC reformats generated C/stub text for the `.llc`/`.cu`-adjacent
// debug dumps. asmfmt's column-aware formatting was written for Go
// assembly, but its comment/indentation rules read just as well on the
// straight-line, heavily-commented C this package emits, and it's
// already in the dependency closure rather than reaching for go/format
// on non-Go source.
func formatC(src string) (string, *arborerr.Error) {
	out, err := asmfmt.Format([]byte(src))
	if err != nil {
		// Formatting is cosmetic; fall back to the unformatted source
		// rather than failing the compile over a pretty-printer error.
		return src, nil
	}
	return string(out), nil
}
