// Package ansi provides ANSI escape code constants and helpers for terminal output.
// All colored/styled terminal output should reference these constants to avoid duplication.
package ansi

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI SGR (Select Graphic Rendition) codes.
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Yellow = "\033[33m"
	Green  = "\033[32m"
	Red    = "\033[31m"
	Cyan   = "\033[36m"
)

// Enabled reports whether w is a terminal that should receive color. The
// NO_COLOR convention always disables it.
func Enabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// Styler applies SGR codes when color is on and passes text through
// unchanged otherwise.
type Styler bool

// Style wraps s in codes followed by Reset.
func (c Styler) Style(s string, codes ...string) string {
	if !c || len(codes) == 0 {
		return s
	}
	out := ""
	for _, code := range codes {
		out += code
	}
	return out + s + Reset
}
