// Package tone provides a fixed whitelist of answer tone tags, a lightweight
// keyword-scored detector, and prompt-guide construction. The detected tag is
// the selection key for a template's static follow-up prompts and steers the
// register of AI-generated follow-ups.
package tone

import (
	"strings"
)

// Tag is one of the whitelisted tone keys.
type Tag string

const (
	// TagWarm marks emotionally open, affectionate answers.
	TagWarm Tag = "warm"
	// TagReflective marks answers that weigh, regret, or reinterpret the past.
	TagReflective Tag = "reflective"
	// TagNeutral is the default register for factual answers.
	TagNeutral Tag = "neutral"
)

// AllTags is the hard-coded set of valid tone tags.
var AllTags = map[Tag]bool{
	TagWarm:       true,
	TagReflective: true,
	TagNeutral:    true,
}

// Validate returns the tag if whitelisted, else TagNeutral.
func Validate(t Tag) Tag {
	cleaned := Tag(strings.TrimSpace(strings.ToLower(string(t))))
	if AllTags[cleaned] {
		return cleaned
	}
	return TagNeutral
}

// Keyword cue lists for the detector. Matching is case-insensitive substring
// matching over the answer; ties resolve warm > reflective > neutral.
var (
	warmCues = []string{
		"love", "loved", "happy", "happiest", "smile", "laugh", "warm",
		"grateful", "thank", "dear", "treasure", "miss her", "miss him",
		"miss them", "proud of", "joy", "hug",
	}
	reflectiveCues = []string{
		"looking back", "regret", "wish i", "if only", "realize", "realized",
		"in hindsight", "i learned", "lesson", "never forgot", "changed me",
		"made me who", "i wonder", "hard time", "difficult", "lost",
	}
)

// Detect scores an answer against the cue lists and returns the dominant tag.
// Empty or unmatched answers detect as TagNeutral.
func Detect(answer string) Tag {
	text := strings.ToLower(answer)
	if strings.TrimSpace(text) == "" {
		return TagNeutral
	}

	warmScore := scoreCues(text, warmCues)
	reflectiveScore := scoreCues(text, reflectiveCues)

	switch {
	case warmScore == 0 && reflectiveScore == 0:
		return TagNeutral
	case warmScore >= reflectiveScore:
		return TagWarm
	default:
		return TagReflective
	}
}

func scoreCues(text string, cues []string) int {
	score := 0
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			score++
		}
	}
	return score
}

// BuildStyleGuide produces a compact instruction snippet for injection into
// the follow-up generation system prompt. It returns an empty string for the
// neutral register.
func BuildStyleGuide(t Tag) string {
	switch Validate(t) {
	case TagWarm:
		var b strings.Builder
		b.WriteString("\n<TONE POLICY>\n")
		b.WriteString("The narrator is speaking warmly about this memory:\n")
		b.WriteString("- Match their warmth; invite sensory and emotional detail.\n")
		b.WriteString("- Never question the accuracy of a cherished memory.\n")
		b.WriteString("</TONE POLICY>\n")
		return b.String()
	case TagReflective:
		var b strings.Builder
		b.WriteString("\n<TONE POLICY>\n")
		b.WriteString("The narrator is weighing a difficult or formative memory:\n")
		b.WriteString("- Ask gently; leave room to decline painful detail.\n")
		b.WriteString("- Prefer questions about meaning over questions about facts.\n")
		b.WriteString("</TONE POLICY>\n")
		return b.String()
	default:
		return ""
	}
}
