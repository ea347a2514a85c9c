package config

import (
	"testing"
	"time"
)

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT", " 42 ")
	if got := ParseIntEnv("TEST_INT", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	t.Setenv("TEST_INT", "not a number")
	if got := ParseIntEnv("TEST_INT", 7); got != 7 {
		t.Fatalf("got %d, want fallback 7", got)
	}

	if got := ParseIntEnv("TEST_INT_UNSET", 7); got != 7 {
		t.Fatalf("got %d, want fallback 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != 90*time.Second {
		t.Fatalf("got %v, want 90s", got)
	}

	t.Setenv("TEST_DUR", "ninety")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("got %v, want fallback 1m", got)
	}
}

func TestParseBoolString(t *testing.T) {
	cases := []struct {
		raw      string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"1", false, true},
		{"false", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tc := range cases {
		if got := ParseBoolString(tc.raw, tc.fallback); got != tc.want {
			t.Errorf("ParseBoolString(%q, %v) = %v, want %v", tc.raw, tc.fallback, got, tc.want)
		}
	}
}
