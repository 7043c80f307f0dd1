package types

import "fmt"

// ProgressLabel is the qualitative band for a progress percentage.
// Colour coding and dashboard filtering both key off these bands.
type ProgressLabel string

// Progress bands. Lower bounds are inclusive.
const (
	LabelJustStarted      ProgressLabel = "Just Started"       // [0,26)
	LabelInProgress       ProgressLabel = "In Progress"        // [26,51)
	LabelNearlyComplete   ProgressLabel = "Nearly Complete"    // [51,76)
	LabelReadyForTransfer ProgressLabel = "Ready for Transfer" // [76,100]
)

var progressBands = []struct {
	min   int
	label ProgressLabel
}{
	{76, LabelReadyForTransfer},
	{51, LabelNearlyComplete},
	{26, LabelInProgress},
	{0, LabelJustStarted},
}

// Progress is the derived verification progress of a session
type Progress struct {
	Percentage int           `json:"percentage"`
	Label      ProgressLabel `json:"label"`
}

// ComputeProgress maps verified/total item counts to a percentage and band.
// The percentage is round(100*verified/total), half away from zero, and 0
// when total is 0.
func ComputeProgress(verified, total int) Progress {
	pct := 0
	if total > 0 {
		if verified < 0 {
			verified = 0
		}
		if verified > total {
			verified = total
		}
		pct = (200*verified + total) / (2 * total)
	}
	return Progress{Percentage: pct, Label: LabelFor(pct)}
}

// LabelFor returns the band containing pct.
func LabelFor(pct int) ProgressLabel {
	for _, b := range progressBands {
		if pct >= b.min {
			return b.label
		}
	}
	return LabelJustStarted
}

// Rank orders labels from Just Started (0) to Ready for Transfer (3).
// Unknown labels rank -1.
func (l ProgressLabel) Rank() int {
	for i, b := range progressBands {
		if b.label == l {
			return len(progressBands) - 1 - i
		}
	}
	return -1
}

// MinPercentage returns the inclusive lower bound of the band.
func (l ProgressLabel) MinPercentage() int {
	for _, b := range progressBands {
		if b.label == l {
			return b.min
		}
	}
	return 0
}

// ParseProgressLabel accepts either the display label or a slug such as
// "ready_for_transfer" / "nearly-complete".
func ParseProgressLabel(v string) (ProgressLabel, error) {
	for _, b := range progressBands {
		if v == string(b.label) || v == slug(b.label, '_') || v == slug(b.label, '-') {
			return b.label, nil
		}
	}
	return "", fmt.Errorf("invalid progress label %q", v)
}

func slug(l ProgressLabel, sep byte) string {
	b := []byte(l)
	for i, c := range b {
		switch {
		case c == ' ':
			b[i] = sep
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
