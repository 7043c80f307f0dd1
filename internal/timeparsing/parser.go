// Package timeparsing turns the --since values accepted by lc into times.
//
// Parsing is layered; the first layer that accepts the input wins:
//  1. Lookback duration (2h, 30m, 1d, 1w), always into the past
//  2. Absolute timestamp (RFC3339, "2006-01-02 15:04", date only)
//  3. Natural language ("yesterday", "3 hours ago", "last monday")
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var lookbackRe = regexp.MustCompile(`^-?(\d+)(s|m|h|d|w)$`)

// ParseLookback parses "<n><unit>" as that long before now. Units are
// s, m (minutes), h, d and w. A leading minus is accepted and ignored.
func ParseLookback(s string, now time.Time) (time.Time, error) {
	m := lookbackRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("not a lookback duration: %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid lookback amount: %q", m[1])
	}
	switch m[2] {
	case "s":
		return now.Add(-time.Duration(n) * time.Second), nil
	case "m":
		return now.Add(-time.Duration(n) * time.Minute), nil
	case "h":
		return now.Add(-time.Duration(n) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, -n), nil
	default:
		return now.AddDate(0, 0, -7*n), nil
	}
}

// IsLookback reports whether s uses lookback syntax.
func IsLookback(s string) bool {
	return lookbackRe.MatchString(strings.TrimSpace(s))
}

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseAbsolute accepts RFC3339 and the shorter local layouts.
func ParseAbsolute(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp: %q", s)
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseNaturalLanguage parses English expressions relative to now.
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised time expression: %q", s)
	}
	return r.Time, nil
}

// ParseSince runs the layers in order.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if IsLookback(s) {
		return ParseLookback(s, now)
	}
	if t, err := ParseAbsolute(s, now.Location()); err == nil {
		return t, nil
	}
	t, err := ParseNaturalLanguage(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q: use 2h, 2026-03-01, RFC3339 or e.g. \"3 hours ago\"", s)
	}
	return t, nil
}
