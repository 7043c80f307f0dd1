package ui

import (
	"os"
	"sync/atomic"

	"golang.org/x/term"
)

// colorOverride: 0 = decide from the environment, 1 = on, 2 = off.
var colorOverride atomic.Int32

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions: NO_COLOR
// wins, then CLICOLOR_FORCE, then CLICOLOR=0, then whether stdout is a
// terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return IsTerminal()
}

// SetColor forces colour on or off, e.g. for --json or tests.
func SetColor(on bool) {
	if on {
		colorOverride.Store(1)
	} else {
		colorOverride.Store(2)
	}
}

// ResetColor returns colour selection to the environment.
func ResetColor() { colorOverride.Store(0) }

func colorEnabled() bool {
	switch colorOverride.Load() {
	case 1:
		return true
	case 2:
		return false
	}
	return ShouldUseColor()
}

// TerminalWidth returns the width of stdout, or fallback when it is not a
// terminal.
func TerminalWidth(fallback int) int {
	if !IsTerminal() {
		return fallback
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}
