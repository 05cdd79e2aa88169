package tui

import (
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{int64(1.5 * 1024 * 1024 * 1024), "1.5 GiB"},
	}

	for _, tc := range tests {
		result := formatBytes(tc.input)
		if result != tc.expected {
			t.Errorf("formatBytes(%d) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{-1, "—"},
		{0, "0:00"},
		{30 * time.Second, "0:30"},
		{time.Minute, "1:00"},
		{90 * time.Second, "1:30"},
		{time.Hour, "1:00:00"},
		{time.Hour + 30*time.Minute + 45*time.Second, "1:30:45"},
	}

	for _, tc := range tests {
		result := formatDuration(tc.input)
		if result != tc.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestPlaceholderDisplay(t *testing.T) {
	if got := formatVMAF(nil); got != "—" {
		t.Errorf("formatVMAF(nil) = %q, want '—'", got)
	}
	v := 95.25
	if got := formatVMAF(&v); got != "95.2" {
		t.Errorf("formatVMAF(95.25) = %q, want '95.2'", got)
	}

	if got := formatCRF(nil); got != "—" {
		t.Errorf("formatCRF(nil) = %q, want '—'", got)
	}
	c := 28
	if got := formatCRF(&c); got != "28" {
		t.Errorf("formatCRF(28) = %q, want '28'", got)
	}

	if got := formatReduction(nil, false); got != "—" {
		t.Errorf("formatReduction(nil) = %q, want '—'", got)
	}
	r := 75.0
	if got := formatReduction(&r, true); got != "75.0% ~" {
		t.Errorf("formatReduction(75, estimate) = %q, want '75.0%% ~'", got)
	}

	if got := formatETADisplay(""); got != "—" {
		t.Errorf("formatETADisplay('') = %q, want '—'", got)
	}
	if got := formatETADisplay("3 min"); got != "3 min" {
		t.Errorf("formatETADisplay('3 min') = %q", got)
	}

	if got := formatSizeDisplay(0, 0); got != "—" {
		t.Errorf("formatSizeDisplay(0) = %q, want '—'", got)
	}
	if got := formatSizeDisplay(4096, 0); got != "4.0 KiB" {
		t.Errorf("formatSizeDisplay(4096) = %q, want '4.0 KiB'", got)
	}
	if got := formatSizeDisplay(4096, 1024); got != "4.0 KiB (~1.0 KiB)" {
		t.Errorf("formatSizeDisplay(4096, 1024) = %q, want '4.0 KiB (~1.0 KiB)'", got)
	}
}

func TestOverallRatio(t *testing.T) {
	tests := []struct {
		done, found int
		expected    float64
	}{
		{0, 0, 0},
		{0, 10, 0},
		{5, 10, 0.5},
		{10, 10, 1},
	}

	for _, tc := range tests {
		if got := overallRatio(tc.done, tc.found); got != tc.expected {
			t.Errorf("overallRatio(%d, %d) = %v, want %v", tc.done, tc.found, got, tc.expected)
		}
	}
}

func TestTruncatePath(t *testing.T) {
	tests := []struct {
		path   string
		maxLen int
	}{
		{"/short/path.mkv", 50},
		{"/a/very/long/path/that/exceeds/the/maximum/length.mkv", 25},
		{"/path", 10},
	}

	for _, tc := range tests {
		result := truncatePath(tc.path, tc.maxLen)
		if len(tc.path) <= tc.maxLen {
			if result != tc.path {
				t.Errorf("truncatePath(%q, %d) = %q, want unchanged", tc.path, tc.maxLen, result)
			}
		} else if len(result) > tc.maxLen+5 {
			t.Errorf("truncatePath(%q, %d) = %q (len %d), expected shorter", tc.path, tc.maxLen, result, len(result))
		}
	}
}
