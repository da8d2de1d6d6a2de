package tone

import (
	"strings"
	"testing"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		answer string
		want   Tag
	}{
		{"", TagNeutral},
		{"   ", TagNeutral},
		{"I was born in 1952 and we moved twice.", TagNeutral},
		{"I loved my grandmother's kitchen, it always made me smile.", TagWarm},
		{"Looking back, I regret not saying goodbye.", TagReflective},
		{"Looking back, we really were happy then.", TagWarm}, // one cue each, tie resolves warm
		{"It was a difficult year and I lost my job.", TagReflective},
	}
	for _, tc := range cases {
		if got := Detect(tc.answer); got != tc.want {
			t.Errorf("Detect(%q) = %s, want %s", tc.answer, got, tc.want)
		}
	}
}

func TestDetectIsCaseInsensitive(t *testing.T) {
	if got := Detect("I LOVED every minute of it"); got != TagWarm {
		t.Errorf("expected warm for uppercase cue, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	if got := Validate(" Warm "); got != TagWarm {
		t.Errorf("expected normalization to warm, got %s", got)
	}
	if got := Validate("angry"); got != TagNeutral {
		t.Errorf("expected unknown tag to fall back to neutral, got %s", got)
	}
}

func TestBuildStyleGuide(t *testing.T) {
	if got := BuildStyleGuide(TagNeutral); got != "" {
		t.Errorf("neutral guide should be empty, got %q", got)
	}
	warm := BuildStyleGuide(TagWarm)
	if !strings.Contains(warm, "<TONE POLICY>") || !strings.Contains(warm, "warm") {
		t.Errorf("unexpected warm guide: %q", warm)
	}
	reflective := BuildStyleGuide(TagReflective)
	if !strings.Contains(reflective, "meaning") {
		t.Errorf("unexpected reflective guide: %q", reflective)
	}
	if got := BuildStyleGuide("bogus"); got != "" {
		t.Errorf("invalid tag should produce empty guide, got %q", got)
	}
}
