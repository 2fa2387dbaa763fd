package cpujit

import (
	"runtime"

	"modernc.org/cc/v4"

	"github.com/arbor-ml/arbor/arborerr"
)

// validateC parses src as C99 via modernc.org/cc/v4, the "syntax check
// before toolchain" step: catching a codegen bug here produces a much
// clearer CompileError than a cryptic system-compiler diagnostic would.
func validateC(name, src string) *arborerr.Error {
	cfg, err := cc.NewConfig(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return arborerr.Compile(name, err)
	}
	_, err = cc.Parse(cfg, []cc.Source{
		{Name: name + ".c", Value: src},
	})
	if err != nil {
		return arborerr.Compile(name, err)
	}
	return nil
}
