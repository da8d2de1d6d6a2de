// Package genai provides the OpenAI-backed question generation client for
// StoryLoom. It covers the two operations the interview engine needs from a
// language model: generating a dynamic follow-up question from the user's
// last answer, and proofreading finished text. Every call carries a bounded
// timeout; callers treat failures as recoverable and fall back to scripted
// material.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/storyloom/storyloom/internal/models"
)

// Default client configuration
const (
	// DefaultModel is the chat model used for follow-up generation.
	DefaultModel = openai.ChatModelGPT4oMini
	// DefaultTimeout bounds every chat-completion call.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxCompletionTokens caps generated follow-up length.
	DefaultMaxCompletionTokens = 256
)

// FollowUpContext carries everything the model needs to produce one follow-up.
type FollowUpContext struct {
	// SectionKey selects the section-specific system prompt (e.g. "GROWTH").
	SectionKey string
	// MainQuestion is the template's scripted main question.
	MainQuestion string
	// LastAnswer is the user's most recent answer text.
	LastAnswer string
	// StyleGuide is an optional tone-policy snippet appended to the system prompt.
	StyleGuide string
	// RemainingBudget is the unconsumed token budget, so the model can be
	// steered toward a short closing question when little room remains.
	RemainingBudget int64
}

// ClientInterface defines the operations the flow engine needs, so tests can
// inject fakes without any network access.
type ClientInterface interface {
	GenerateFollowUp(ctx context.Context, fc FollowUpContext) (string, error)
	Proofread(ctx context.Context, text, category string) (string, error)
}

// Opts holds configuration options for the client.
type Opts struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Option defines a functional option for client configuration.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Opts) { o.Timeout = timeout }
}

// Client wraps the OpenAI chat-completion service.
type Client struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewClient initializes a new client from the provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	slog.Debug("genai.NewClient: client configured", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// sectionPrompts holds the per-section system prompts for follow-up
// generation. Unknown section keys fall back to the generic prompt.
var sectionPrompts = map[string]string{
	"INTRO": "You are a gentle autobiography interviewer opening a conversation. " +
		"The narrator is introducing themselves and their reasons for writing.",
	"GROWTH": "You are an autobiography interviewer exploring the narrator's childhood " +
		"and school years. Draw out concrete scenes: places, people, small moments.",
	"CAREER": "You are an autobiography interviewer exploring the narrator's working life. " +
		"Ask about choices, turning points, and what the work meant to them.",
	"RELATIONSHIPS": "You are an autobiography interviewer exploring the people in the " +
		"narrator's life. Handle love and loss with care.",
	"REFLECTION": "You are an autobiography interviewer helping the narrator look back " +
		"across their whole life. Favor questions about meaning and legacy.",
}

const genericSectionPrompt = "You are a thoughtful autobiography interviewer " +
	"helping a narrator record their life story."

const followUpInstructions = "Write exactly ONE follow-up question, in the second person, " +
	"that helps the narrator go one level deeper into what they just shared. " +
	"Do not number it, do not add commentary, output only the question."

// GenerateFollowUp asks the model for a single dynamic follow-up question.
// Returns models.ErrAITimeout when the bounded call deadline expires and
// models.ErrAICallFailed for any other failure or malformed response.
func (c *Client) GenerateFollowUp(ctx context.Context, fc FollowUpContext) (string, error) {
	system, ok := sectionPrompts[fc.SectionKey]
	if !ok {
		system = genericSectionPrompt
	}
	system += "\n" + followUpInstructions
	if fc.StyleGuide != "" {
		system += fc.StyleGuide
	}
	if fc.RemainingBudget > 0 && fc.RemainingBudget < 200 {
		system += "\nThe interview is nearly over; prefer a short closing question."
	}

	user := fmt.Sprintf("Interviewer asked: %s\n\nNarrator answered: %s", fc.MainQuestion, fc.LastAnswer)

	out, err := c.complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	return cleanQuestion(out), nil
}

// proofreadPrompts maps proofread categories to system prompts.
var proofreadPrompts = map[string]string{
	"episode": "You are an editor polishing a chapter of an autobiography. " +
		"Correct grammar and flow while preserving the narrator's voice and every fact.",
	"answer": "You are an editor lightly correcting a spoken answer that was " +
		"transcribed to text. Fix grammar and transcription slips only.",
}

const genericProofreadPrompt = "You are a careful copy editor. Correct grammar, " +
	"spelling, and awkward phrasing while preserving the author's voice. " +
	"Return only the corrected text."

// Proofread returns a corrected version of the given text.
func (c *Client) Proofread(ctx context.Context, text, category string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", models.ErrEmptyProofreadText
	}
	system, ok := proofreadPrompts[category]
	if !ok {
		system = genericProofreadPrompt
	} else {
		system += " Return only the corrected text."
	}
	return c.complete(ctx, system, text)
}

// complete runs one bounded chat completion and normalizes its failures.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxCompletionTokens: openai.Int(DefaultMaxCompletionTokens),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("genai.complete: call timed out", "timeout", c.timeout)
			return "", fmt.Errorf("%w: %v", models.ErrAITimeout, err)
		}
		slog.Warn("genai.complete: call failed", "error", err)
		return "", fmt.Errorf("%w: %v", models.ErrAICallFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", models.ErrAICallFailed)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty completion", models.ErrAICallFailed)
	}
	return content, nil
}

// cleanQuestion strips list markers and surrounding quotes the model
// sometimes adds despite instructions.
func cleanQuestion(s string) string {
	s = strings.TrimSpace(s)
	// Strip a leading list marker ("1. ", "2) ") but leave questions that
	// genuinely start with a number alone.
	if rest := strings.TrimLeft(s, "0123456789"); rest != s &&
		(strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, ")")) {
		s = strings.TrimLeft(rest, ".) ")
	}
	s = strings.TrimLeft(s, "-– ")
	s = strings.Trim(s, "\"“”")
	return strings.TrimSpace(s)
}
