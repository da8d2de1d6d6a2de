package flow

import (
	"context"
	"log/slog"
	"sort"

	"github.com/storyloom/storyloom/internal/genai"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/tone"
)

// templateState enumerates the per-template-visit states of the decision engine.
type templateState string

const (
	stateAwaitingMain     templateState = "AWAITING_MAIN"
	stateAwaitingFollowUp templateState = "AWAITING_FOLLOWUP"
	stateTemplateDone     templateState = "TEMPLATE_DONE"
)

// FollowUp is a selected follow-up question.
type FollowUp struct {
	Text string
	Type models.QuestionType
}

// DecisionEngine decides, after each answer, whether to ask another
// follow-up for the current template or to move on. It is the only flow
// component that talks to the AI client.
type DecisionEngine struct {
	ai  genai.ClientInterface
	cfg Config
}

// NewDecisionEngine creates a decision engine. The AI client may be nil, in
// which case only static follow-ups are ever served.
func NewDecisionEngine(ai genai.ClientInterface, cfg Config) *DecisionEngine {
	return &DecisionEngine{ai: ai, cfg: cfg}
}

// visitState derives the engine state for the current template visit from
// persisted session fields alone. No transient queue is kept anywhere.
func visitState(sess *models.ConversationSession) templateState {
	switch sess.LastQuestionType {
	case models.QuestionTypeFollowUpStatic, models.QuestionTypeFollowUpDynamic:
		return stateAwaitingFollowUp
	default:
		return stateAwaitingMain
	}
}

// Decide evaluates the transition rule after an answer to the current
// template. It returns the next follow-up when one should be asked, or
// done=true when the template visit is over. asked holds the follow-up
// questions already served during this template visit; no prompt in it is
// served again even when the detected tone shifts between answers.
func (e *DecisionEngine) Decide(ctx context.Context, tmpl *models.Template, sess *models.ConversationSession, answerText string, asked []string) (next *FollowUp, done bool) {
	state := visitState(sess)

	switch state {
	case stateAwaitingMain:
		// The answer was to the template's MAIN question.
		if !tmpl.HasFollowUps() || e.cfg.budgetExhausted(sess.TokenCount) {
			return nil, true
		}
	case stateAwaitingFollowUp:
		// The answer was to follow-up #FollowUpsAsked.
		if sess.FollowUpsAsked >= e.cfg.maxFollowUpsFor(tmpl.MaxFollowUps) || e.cfg.budgetExhausted(sess.TokenCount) {
			return nil, true
		}
	}

	next = e.selectFollowUp(ctx, tmpl, sess, answerText, asked)
	if next == nil {
		return nil, true
	}
	return next, false
}

// selectFollowUp applies the selection policy: a static prompt keyed by the
// detected tone when one has not been asked this visit, else a dynamic
// follow-up from the AI client. AI failure degrades to any remaining static
// prompt, else nil so the caller treats the template as done. The
// conversation never stalls on a single AI failure.
//
// The detected tone only orders the candidates; the asked set decides which
// remain. A tone shift mid-visit therefore reorders preferences without ever
// re-serving a prompt.
func (e *DecisionEngine) selectFollowUp(ctx context.Context, tmpl *models.Template, sess *models.ConversationSession, answerText string, asked []string) *FollowUp {
	tag := tone.Detect(answerText)
	ordered := orderedStatics(tmpl, tag)

	allowStatic := tmpl.FollowUpMode == models.FollowUpModeStatic || tmpl.FollowUpMode == models.FollowUpModeMixed
	allowDynamic := tmpl.FollowUpMode == models.FollowUpModeDynamic || tmpl.FollowUpMode == models.FollowUpModeMixed

	if allowStatic {
		if prompt, ok := pickUnasked(ordered, asked); ok {
			slog.Debug("DecisionEngine.selectFollowUp: serving static prompt",
				"sessionID", sess.SessionID, "templateID", tmpl.TemplateID, "tone", tag)
			return &FollowUp{Text: prompt, Type: models.QuestionTypeFollowUpStatic}
		}
	}

	if allowDynamic && e.ai != nil {
		question, err := e.ai.GenerateFollowUp(ctx, genai.FollowUpContext{
			SectionKey:      tmpl.DynamicPromptKey,
			MainQuestion:    tmpl.MainQuestion,
			LastAnswer:      answerText,
			StyleGuide:      tone.BuildStyleGuide(tag),
			RemainingBudget: e.cfg.remainingBudget(sess.TokenCount),
		})
		if err == nil {
			return &FollowUp{Text: question, Type: models.QuestionTypeFollowUpDynamic}
		}
		slog.Warn("DecisionEngine.selectFollowUp: dynamic generation failed, degrading",
			"sessionID", sess.SessionID, "templateID", tmpl.TemplateID, "error", err)
		if allowStatic {
			if prompt, ok := pickUnasked(ordered, asked); ok {
				return &FollowUp{Text: prompt, Type: models.QuestionTypeFollowUpStatic}
			}
		}
	}

	return nil
}

// pickUnasked returns the first candidate not already asked this visit.
func pickUnasked(ordered, asked []string) (string, bool) {
	if len(ordered) == 0 {
		return "", false
	}
	used := make(map[string]bool, len(asked))
	for _, q := range asked {
		used[q] = true
	}
	for _, prompt := range ordered {
		if !used[prompt] {
			return prompt, true
		}
	}
	return "", false
}

// orderedStatics flattens a template's tone-keyed prompt set into a
// deterministic order: the detected tone's prompts first, then the neutral
// register, then the remaining keys sorted.
func orderedStatics(tmpl *models.Template, tag tone.Tag) []string {
	if len(tmpl.StaticFollowUps) == 0 {
		return nil
	}
	var ordered []string
	seen := map[string]bool{}

	appendKey := func(key string) {
		if seen[key] {
			return
		}
		seen[key] = true
		ordered = append(ordered, tmpl.StaticFollowUps[key]...)
	}

	appendKey(string(tag))
	appendKey(string(tone.TagNeutral))

	rest := make([]string, 0, len(tmpl.StaticFollowUps))
	for key := range tmpl.StaticFollowUps {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		appendKey(key)
	}
	return ordered
}
