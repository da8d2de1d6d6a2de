// Package models defines the core data structures for StoryLoom.
//
// It includes the interview catalog types (chapters and question templates),
// per-session conversation state, answer records, and the result types
// returned by the question orchestrator. These types are shared across modules.
package models

import (
	"errors"
	"time"
)

// QuestionType identifies how a question was produced.
type QuestionType string

const (
	// QuestionTypeMain is the scripted main question of a template.
	QuestionTypeMain QuestionType = "MAIN"
	// QuestionTypeFollowUpStatic is a pre-written follow-up drawn from the template.
	QuestionTypeFollowUpStatic QuestionType = "FOLLOWUP_STATIC"
	// QuestionTypeFollowUpDynamic is an AI-generated follow-up.
	QuestionTypeFollowUpDynamic QuestionType = "FOLLOWUP_DYNAMIC"
	// QuestionTypeCompletion is the terminal result once all material is collected.
	QuestionTypeCompletion QuestionType = "COMPLETION"
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(qt QuestionType) bool {
	switch qt {
	case QuestionTypeMain, QuestionTypeFollowUpStatic, QuestionTypeFollowUpDynamic, QuestionTypeCompletion:
		return true
	default:
		return false
	}
}

// FollowUpMode describes which follow-up sources a template allows.
type FollowUpMode string

const (
	// FollowUpModeNone disables follow-ups for the template.
	FollowUpModeNone FollowUpMode = "NONE"
	// FollowUpModeStatic serves only the template's pre-written prompts.
	FollowUpModeStatic FollowUpMode = "STATIC"
	// FollowUpModeDynamic generates follow-ups with the AI client.
	FollowUpModeDynamic FollowUpMode = "DYNAMIC"
	// FollowUpModeMixed prefers static prompts and falls back to generation.
	FollowUpModeMixed FollowUpMode = "MIXED"
)

// SessionStatus represents the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

// Validation constants for input validation
const (
	// MaxAnswerLength defines the maximum allowed length for a submitted answer
	MaxAnswerLength = 16384
	// MaxSessionIDLength matches the column width used by the session stores
	MaxSessionIDLength = 36
)

// Error variables for better error handling and testability
var (
	ErrCatalogLoad        = errors.New("catalog source is malformed")
	ErrEmptyCatalog       = errors.New("catalog has no chapters or templates")
	ErrChapterNotFound    = errors.New("chapter order out of range")
	ErrTemplateNotFound   = errors.New("template order out of range")
	ErrSessionNotFound    = errors.New("session not found")
	ErrDuplicateSession   = errors.New("session already exists")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrSessionCompleted   = errors.New("session already completed")
	ErrEmptySessionID     = errors.New("session id cannot be empty")
	ErrSessionIDTooLong   = errors.New("session id exceeds maximum length")
	ErrEmptyAnswer        = errors.New("answer text cannot be empty")
	ErrAnswerTooLong      = errors.New("answer exceeds maximum length")
	ErrAICallFailed       = errors.New("AI follow-up generation failed")
	ErrAITimeout          = errors.New("AI follow-up generation timed out")
	ErrEmptyProofreadText = errors.New("proofread text cannot be empty")
)

// Chapter is a top-level grouping of interview templates. Chapters are
// immutable after catalog load; Order is unique and dense starting at 1.
type Chapter struct {
	ChapterID   string     `json:"chapter_id"`
	Name        string     `json:"name"`
	Order       int        `json:"order"`
	Description string     `json:"description,omitempty"`
	Templates   []Template `json:"templates"`
}

// Template is a scripted question slot within a chapter. Static follow-up
// prompts are keyed by tone tag; the lists are ordered per key.
type Template struct {
	TemplateID       string              `json:"template_id"`
	ChapterID        string              `json:"chapter_id"`
	Order            int                 `json:"order"`
	StageName        string              `json:"stage_name"`
	MainQuestion     string              `json:"main_question"`
	FollowUpMode     FollowUpMode        `json:"follow_up_mode"`
	StaticFollowUps  map[string][]string `json:"static_follow_ups,omitempty"`
	DynamicPromptKey string              `json:"dynamic_prompt_key,omitempty"`
	// MaxFollowUps caps follow-ups per visit; 0 means use the engine default.
	MaxFollowUps int `json:"max_follow_ups,omitempty"`
}

// HasFollowUps reports whether the template can produce any follow-up at all.
func (t *Template) HasFollowUps() bool {
	if t.FollowUpMode == FollowUpModeNone || t.FollowUpMode == "" {
		return false
	}
	if t.FollowUpMode == FollowUpModeStatic {
		return t.StaticFollowUpCount() > 0
	}
	return true
}

// StaticFollowUpCount returns the total number of pre-written prompts across all tone keys.
func (t *Template) StaticFollowUpCount() int {
	n := 0
	for _, prompts := range t.StaticFollowUps {
		n += len(prompts)
	}
	return n
}

// ConversationSession is the per-interview mutable record. Position fields
// always reference an existing catalog entry while the session is ACTIVE.
// TokenCount only ever increases.
type ConversationSession struct {
	SessionID            string        `json:"session_id"`
	BookID               int64         `json:"book_id"`
	EpisodeID            *int64        `json:"episode_id,omitempty"`
	CurrentChapterOrder  int           `json:"current_chapter_order"`
	CurrentTemplateOrder int           `json:"current_template_order"`
	FollowUpsAsked       int           `json:"follow_ups_asked"`
	TokenCount           int64         `json:"token_count"`
	Status               SessionStatus `json:"status"`
	LastQuestionText     string        `json:"last_question_text,omitempty"`
	LastQuestionType     QuestionType  `json:"last_question_type,omitempty"`
	LastMessageAt        *time.Time    `json:"last_message_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// AnswerRecord is one question/answer exchange, append-only per session.
// Seq is 1-based and monotonically increasing within a session.
type AnswerRecord struct {
	SessionID    string       `json:"session_id"`
	Seq          int          `json:"seq"`
	QuestionText string       `json:"question_text"`
	QuestionType QuestionType `json:"question_type"`
	AnswerText   string       `json:"answer_text"`
	TokenCount   int64        `json:"token_count"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NextQuestion is the orchestrator's result for initialize/answer calls.
type NextQuestion struct {
	QuestionText        string       `json:"question_text"`
	QuestionType        QuestionType `json:"question_type"`
	ChapterID           string       `json:"chapter_id"`
	ChapterName         string       `json:"chapter_name"`
	TemplateID          string       `json:"template_id,omitempty"`
	StageName           string       `json:"stage_name"`
	ChapterProgress     int          `json:"chapter_progress"`
	OverallProgress     int          `json:"overall_progress"`
	IsLastQuestion      bool         `json:"is_last_question"`
	ShouldCreateEpisode bool         `json:"should_create_episode"`
}

// ChapterSummary describes completion of a single chapter inside a snapshot.
type ChapterSummary struct {
	ChapterID          string `json:"chapter_id"`
	ChapterName        string `json:"chapter_name"`
	Order              int    `json:"order"`
	TemplatesTotal     int    `json:"templates_total"`
	TemplatesCompleted int    `json:"templates_completed"`
	Completed          bool   `json:"completed"`
}

// ProgressSnapshot is derived on demand from catalog + session state and is
// never persisted independently.
type ProgressSnapshot struct {
	SessionID        string           `json:"session_id"`
	Status           SessionStatus    `json:"status"`
	ChapterProgress  int              `json:"chapter_progress"`
	OverallProgress  int              `json:"overall_progress"`
	Chapters         []ChapterSummary `json:"chapters"`
	TokenCount       int64            `json:"token_count"`
	CanCreateEpisode bool             `json:"can_create_episode"`
}

// APIStatus enumerates the status field of API response envelopes.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for all HTTP endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// ValidateSessionID validates an externally issued session identifier.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if len(sessionID) > MaxSessionIDLength {
		return ErrSessionIDTooLong
	}
	return nil
}

// ValidateAnswer validates a submitted answer body.
func ValidateAnswer(answerText string) error {
	if answerText == "" {
		return ErrEmptyAnswer
	}
	if len(answerText) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}
