// Package ui provides terminal styling for lc output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/leadcheck/leadcheck/internal/types"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
	ColorOrange = lipgloss.AdaptiveColor{
		Light: "#fa8d3e",
		Dark:  "#ff8f40",
	}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	OrangeStyle   = lipgloss.NewStyle().Foreground(ColorOrange)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
)

// SeparatorLight is the rule printed between sections.
const SeparatorLight = "──────────────────────────────────────────"

func render(style lipgloss.Style, s string) string {
	if !colorEnabled() {
		return s
	}
	return style.Render(s)
}

// RenderPass renders text with pass (green) styling
func RenderPass(s string) string { return render(PassStyle, s) }

// RenderWarn renders text with warning (yellow) styling
func RenderWarn(s string) string { return render(WarnStyle, s) }

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string { return render(FailStyle, s) }

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string { return render(MutedStyle, s) }

// RenderAccent renders text with accent (blue) styling
func RenderAccent(s string) string { return render(AccentStyle, s) }

// RenderCategory renders a section header in uppercase with accent color
func RenderCategory(s string) string { return render(CategoryStyle, strings.ToUpper(s)) }

// RenderSeparator renders the light separator line in muted color
func RenderSeparator() string { return RenderMuted(SeparatorLight) }

// progressStyles colours each progress band, lowest first.
var progressStyles = map[types.ProgressLabel]lipgloss.Style{
	types.LabelJustStarted:      FailStyle,
	types.LabelInProgress:       OrangeStyle,
	types.LabelNearlyComplete:   WarnStyle,
	types.LabelReadyForTransfer: PassStyle,
}

// ProgressStyle returns the colour for a progress band.
func ProgressStyle(l types.ProgressLabel) lipgloss.Style {
	if s, ok := progressStyles[l]; ok {
		return s
	}
	return MutedStyle
}

// RenderProgress renders "76% Ready for Transfer" in the band's colour.
func RenderProgress(p types.Progress) string {
	return render(ProgressStyle(p.Label), fmt.Sprintf("%d%% %s", p.Percentage, p.Label))
}

// ProgressBar renders a width-cell bar filled to p.Percentage.
func ProgressBar(p types.Progress, width int) string {
	if width <= 0 {
		width = 20
	}
	pct := min(max(p.Percentage, 0), 100)
	filled := pct * width / 100
	bar := strings.Repeat("█", filled)
	rest := strings.Repeat("░", width-filled)
	return render(ProgressStyle(p.Label), bar) + RenderMuted(rest)
}

// RenderStatus colours a session status.
func RenderStatus(s types.Status) string {
	switch s {
	case types.StatusCompleted, types.StatusBufferDone, types.StatusLADone:
		return RenderPass(string(s))
	case types.StatusInProgress:
		return RenderAccent(string(s))
	case types.StatusTransferred, types.StatusReadyForTransfer:
		return RenderWarn(string(s))
	case types.StatusCallDropped:
		return RenderFail(string(s))
	}
	return RenderMuted(string(s))
}

// RenderCheck renders a checklist marker.
func RenderCheck(verified bool) string {
	if verified {
		return RenderPass(IconPass)
	}
	return RenderMuted(IconSkip)
}

// RenderWarnIcon renders the warning icon with styling
func RenderWarnIcon() string { return RenderWarn(IconWarn) }

// RenderFailIcon renders the fail icon with styling
func RenderFailIcon() string { return RenderFail(IconFail) }

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
