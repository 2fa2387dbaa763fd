package session

import (
	"os"
	"strings"

	"github.com/samber/lo"
)

// envPrefixes are the case-sensitive prefixes §6 recognizes when probing
// the environment for a preference.
var envPrefixes = []string{"ocannl_", "OCANNL_", "ocannl-", "OCANNL-"}

// cliLeading and cliTrailing are the extra leading/trailing decorations §6 recognizes
// only when scanning os.Args (never plain os.Environ).
var cliLeading = []string{"-", "--"}
var cliTrailing = []string{"_", "-", "="}

// nameVariants builds every spelling §6 says a preference name may appear
// under: bare, upper-cased, and each of the four prefixes applied to both.
func nameVariants(name string) []string {
	bases := lo.Uniq([]string{name, strings.ToUpper(name)})
	variants := append([]string{}, bases...)
	for _, b := range bases {
		for _, p := range envPrefixes {
			variants = append(variants, p+b)
		}
	}
	return lo.Uniq(variants)
}

// cliVariants extends nameVariants with the command-line-only leading
// dash(es) and trailing separator forms.
func cliVariants(name string) []string {
	base := nameVariants(name)
	out := append([]string{}, base...)
	for _, v := range base {
		for _, l := range cliLeading {
			out = append(out, l+v)
			for _, t := range cliTrailing {
				out = append(out, l+v+t)
			}
		}
	}
	return lo.Uniq(out)
}

// Lookup implements §6's key-value retrieval helper: a command-line match
// (scanning os.Args for "<variant>=value" or "<variant> value" forms) wins
// first, then an environment match, then def.
func Lookup(name string, def string) string {
	if v, ok := lookupArgs(name, os.Args[1:]); ok {
		return v
	}
	if v, ok := lookupEnv(name, os.Environ()); ok {
		return v
	}
	return def
}

func lookupArgs(name string, args []string) (string, bool) {
	variants := cliVariants(name)
	for i, arg := range args {
		for _, v := range variants {
			if strings.HasPrefix(arg, v+"=") {
				return strings.TrimPrefix(arg, v+"="), true
			}
			if arg == v && i+1 < len(args) {
				return args[i+1], true
			}
		}
	}
	return "", false
}

func lookupEnv(name string, environ []string) (string, bool) {
	variants := nameVariants(name)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, variant := range variants {
			if k == variant {
				return v, true
			}
		}
	}
	return "", false
}
