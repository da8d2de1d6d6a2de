// Package store provides storage backends for StoryLoom.
//
// It persists conversation sessions, their append-only answer records, and
// the chapter/template catalog rows. An in-memory store backs tests and
// single-process deployments; SQLite and PostgreSQL backends provide durable
// storage. All mutating operations on a single session are atomic relative
// to that session.
package store

import (
	"time"

	"github.com/storyloom/storyloom/internal/models"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	// DSN is the database connection string (file path for SQLite).
	DSN string
}

// Option defines a functional option for store configuration.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Store defines the persistence contract shared by all backends.
type Store interface {
	// CreateSession persists a new session. Fails with models.ErrDuplicateSession
	// if the session id is already taken.
	CreateSession(s models.ConversationSession) error

	// GetSession returns the session or models.ErrSessionNotFound.
	GetSession(sessionID string) (*models.ConversationSession, error)

	// AppendAnswer atomically appends an answer record, assigns its sequence
	// number, and bumps the session's token count and lastMessageAt. Fails
	// with models.ErrSessionNotActive when the session is not ACTIVE.
	AppendAnswer(rec models.AnswerRecord) (int, error)

	// AdvanceSession atomically moves the session position. When
	// resetFollowUps is true the per-template follow-up counter returns to 0.
	AdvanceSession(sessionID string, chapterOrder, templateOrder int, resetFollowUps bool) error

	// RecordAskedQuestion stores the question just asked and the updated
	// per-template follow-up counter, so the next answer can be labeled
	// without any transient queue.
	RecordAskedQuestion(sessionID, questionText string, questionType models.QuestionType, followUpsAsked int) error

	// CompleteSession sets status COMPLETED. Idempotent: repeated calls are no-ops.
	CompleteSession(sessionID string) error

	// AbandonSession sets status ABANDONED. No-op on already terminal sessions.
	AbandonSession(sessionID string) error

	// ListAnswers returns the session's answer records ordered by sequence number.
	ListAnswers(sessionID string) ([]models.AnswerRecord, error)

	// ListIdleSessions returns ids of ACTIVE sessions whose last activity is
	// older than the cutoff. Used by the session reaper.
	ListIdleSessions(cutoff time.Time) ([]string, error)

	// ReplaceCatalog replaces the persisted catalog with the given chapters.
	// Re-running with the same definitions yields identical row counts.
	ReplaceCatalog(chapters []models.Chapter) error

	// LoadCatalogChapters reads the persisted catalog back, ordered. Returns
	// an empty slice when no catalog has been seeded yet.
	LoadCatalogChapters() ([]models.Chapter, error)

	// Close releases backend resources.
	Close() error
}
