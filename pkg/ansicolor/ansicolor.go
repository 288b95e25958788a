// Package ansicolor wraps strings in the three ANSI codes cmd/depscan's
// tree printer needs (red for NotFound nodes, yellow for back-references,
// dim for annotation text). A full color library is not wired in for
// three escape sequences; see DESIGN.md for why this one stays on the
// standard library.
package ansicolor

import "fmt"

const (
	reset  = "\x1b[0m"
	red    = "\x1b[31m"
	yellow = "\x1b[33m"
	dim    = "\x1b[2m"
)

// Enabled gates whether Red/Yellow/Dim apply color at all. cmd/depscan
// clears it when NO_COLOR is set; it does not check whether output goes
// to a terminal.
var Enabled = true

func wrap(code, s string) string {
	if !Enabled {
		return s
	}
	return fmt.Sprintf("%s%s%s", code, s, reset)
}

// Red marks an unresolved dependency.
func Red(s string) string { return wrap(red, s) }

// Yellow marks a back-reference to an already-visited node.
func Yellow(s string) string { return wrap(yellow, s) }

// Dim marks supplementary annotation text (resolution rule, cache hit).
func Dim(s string) string { return wrap(dim, s) }
