package output

import (
	"os"

	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the parts of the console output.
type ColorScheme struct {
	Title  *color.Color
	Label  *color.Color
	Value  *color.Color
	Dim    *color.Color
	Pass   *color.Color
	Warn   *color.Color
	Fail   *color.Color
	Accent *color.Color
}

// NewColorScheme returns the default scheme, with every color forced on or
// off. The decision is made by the caller rather than by color's own
// stdout detection, since output may go to any writer.
func NewColorScheme(enabled bool) *ColorScheme {
	scheme := &ColorScheme{
		Title:  color.New(color.Bold),
		Label:  color.New(color.FgWhite),
		Value:  color.New(color.FgCyan),
		Dim:    color.New(color.Faint),
		Pass:   color.New(color.FgGreen),
		Warn:   color.New(color.FgYellow),
		Fail:   color.New(color.FgRed),
		Accent: color.New(color.FgMagenta, color.Bold),
	}

	for _, c := range []*color.Color{
		scheme.Title, scheme.Label, scheme.Value, scheme.Dim,
		scheme.Pass, scheme.Warn, scheme.Fail, scheme.Accent,
	} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return scheme
}

// PassIcon returns a checkmark in the pass color.
func (s *ColorScheme) PassIcon() string {
	return s.Pass.Sprint("✓")
}

// FailIcon returns a cross in the fail color.
func (s *ColorScheme) FailIcon() string {
	return s.Fail.Sprint("✗")
}

// ColorsWanted reports whether colored output should be used on a writer
// that is or is not a terminal.
func ColorsWanted(isTTY, noColor bool) bool {
	if noColor || !isTTY {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if term := os.Getenv("TERM"); term == "dumb" {
		return false
	}
	return true
}
