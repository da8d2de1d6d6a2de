package genai

import (
	"context"
	"testing"

	"github.com/storyloom/storyloom/internal/models"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("expected error without API key")
	}
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != DefaultModel || c.timeout != DefaultTimeout {
		t.Errorf("defaults not applied: model=%s timeout=%s", c.model, c.timeout)
	}

	c, err = NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithTimeout(DefaultTimeout/2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "gpt-4o" || c.timeout != DefaultTimeout/2 {
		t.Errorf("options not applied: model=%s timeout=%s", c.model, c.timeout)
	}
}

func TestProofreadRejectsEmptyText(t *testing.T) {
	c, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Proofread(context.Background(), "   ", "answer"); err != models.ErrEmptyProofreadText {
		t.Errorf("expected ErrEmptyProofreadText, got %v", err)
	}
}

func TestCleanQuestion(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"What happened next?", "What happened next?"},
		{"1. What happened next?", "What happened next?"},
		{"2) What happened next?", "What happened next?"},
		{"- What happened next?", "What happened next?"},
		{"\"What happened next?\"", "What happened next?"},
		{"  What happened next?  ", "What happened next?"},
		{"“What happened next?”", "What happened next?"},
		{"1970 was a big year, what changed?", "1970 was a big year, what changed?"},
		{"3 siblings is a lot. Who were you closest to?", "3 siblings is a lot. Who were you closest to?"},
		{"10. What happened next?", "What happened next?"},
	}
	for _, tc := range cases {
		if got := cleanQuestion(tc.in); got != tc.want {
			t.Errorf("cleanQuestion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSectionPromptsCoverSeedKeys(t *testing.T) {
	for _, key := range []string{"INTRO", "GROWTH", "CAREER", "RELATIONSHIPS", "REFLECTION"} {
		if _, ok := sectionPrompts[key]; !ok {
			t.Errorf("missing section prompt for %s", key)
		}
	}
}
