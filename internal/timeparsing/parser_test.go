package timeparsing

import (
	"testing"
	"time"
)

// Wednesday, 15 January 2025, 10:00 local.
var ref = time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

func TestParseLookback(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"30s", ref.Add(-30 * time.Second)},
		{"15m", ref.Add(-15 * time.Minute)},
		{"2h", ref.Add(-2 * time.Hour)},
		{"-2h", ref.Add(-2 * time.Hour)},
		{"1d", time.Date(2025, 1, 14, 10, 0, 0, 0, time.Local)},
		{"2w", time.Date(2025, 1, 1, 10, 0, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		got, err := ParseLookback(tt.in, ref)
		if err != nil {
			t.Fatalf("ParseLookback(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseLookback(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "h", "2x", "+2h", "2 h", "1y"} {
		if IsLookback(bad) {
			t.Errorf("IsLookback(%q) = true", bad)
		}
		if _, err := ParseLookback(bad, ref); err == nil {
			t.Errorf("ParseLookback(%q) should fail", bad)
		}
	}
}

func TestParseAbsolute(t *testing.T) {
	got, err := ParseAbsolute("2025-01-10T08:30:00Z", time.Local)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2025, 1, 10, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("RFC3339 = %v", got)
	}

	got, err = ParseAbsolute("2025-01-10", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date only = %v", got)
	}

	if _, err := ParseAbsolute("10/01/2025", time.UTC); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	tests := []struct {
		in       string
		wantDay  int
		wantHour int // -1 skips the hour check
	}{
		{"yesterday", 14, -1},
		{"3 days ago", 12, -1},
		{"2 hours ago", 15, 8},
	}
	for _, tt := range tests {
		got, err := ParseNaturalLanguage(tt.in, ref)
		if err != nil {
			t.Fatalf("ParseNaturalLanguage(%q): %v", tt.in, err)
		}
		if got.Day() != tt.wantDay {
			t.Errorf("ParseNaturalLanguage(%q) day = %d, want %d", tt.in, got.Day(), tt.wantDay)
		}
		if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
			t.Errorf("ParseNaturalLanguage(%q) hour = %d, want %d", tt.in, got.Hour(), tt.wantHour)
		}
	}

	for _, bad := range []string{"", "zzz qqq"} {
		if _, err := ParseNaturalLanguage(bad, ref); err == nil {
			t.Errorf("ParseNaturalLanguage(%q) should fail", bad)
		}
	}
}

func TestParseSinceLayers(t *testing.T) {
	got, err := ParseSince("90m", ref)
	if err != nil || !got.Equal(ref.Add(-90*time.Minute)) {
		t.Errorf("lookback layer: %v %v", got, err)
	}
	got, err = ParseSince("2025-01-01", ref)
	if err != nil || got.Day() != 1 {
		t.Errorf("absolute layer: %v %v", got, err)
	}
	got, err = ParseSince("yesterday", ref)
	if err != nil || got.Day() != 14 {
		t.Errorf("natural layer: %v %v", got, err)
	}
	if _, err := ParseSince("zzz qqq", ref); err == nil {
		t.Error("expected error")
	}
}
