// Package store provides storage backends for StoryLoom.
//
// This file implements the in-memory store used by tests and
// single-process deployments without a database.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/models"
)

// InMemoryStore keeps all state in process memory behind a single mutex.
// Mutations on one session are therefore serialized, which matches the
// single-writer-per-session discipline the flow engine relies on.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ConversationSession
	answers  map[string][]models.AnswerRecord
	chapters []models.Chapter
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.ConversationSession),
		answers:  make(map[string][]models.AnswerRecord),
	}
}

// CreateSession persists a new session.
func (s *InMemoryStore) CreateSession(sess models.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.SessionID]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateSession, sess.SessionID)
	}
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	copied := sess
	s.sessions[sess.SessionID] = &copied
	slog.Debug("InMemoryStore.CreateSession succeeded", "sessionID", sess.SessionID, "bookID", sess.BookID)
	return nil
}

// GetSession returns a copy of the session.
func (s *InMemoryStore) GetSession(sessionID string) (*models.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	copied := *sess
	return &copied, nil
}

// AppendAnswer atomically appends a record and bumps session counters.
func (s *InMemoryStore) AppendAnswer(rec models.AnswerRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[rec.SessionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", models.ErrSessionNotFound, rec.SessionID)
	}
	if sess.Status != models.SessionStatusActive {
		return 0, fmt.Errorf("%w: %s is %s", models.ErrSessionNotActive, rec.SessionID, sess.Status)
	}
	rec.Seq = len(s.answers[rec.SessionID]) + 1
	now := time.Now()
	rec.CreatedAt = now
	s.answers[rec.SessionID] = append(s.answers[rec.SessionID], rec)
	sess.TokenCount += rec.TokenCount
	sess.LastMessageAt = &now
	sess.UpdatedAt = now
	slog.Debug("InMemoryStore.AppendAnswer succeeded", "sessionID", rec.SessionID, "seq", rec.Seq, "tokens", rec.TokenCount)
	return rec.Seq, nil
}

// AdvanceSession atomically moves the session position.
func (s *InMemoryStore) AdvanceSession(sessionID string, chapterOrder, templateOrder int, resetFollowUps bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	sess.CurrentChapterOrder = chapterOrder
	sess.CurrentTemplateOrder = templateOrder
	if resetFollowUps {
		sess.FollowUpsAsked = 0
	}
	sess.UpdatedAt = time.Now()
	return nil
}

// RecordAskedQuestion stores the last asked question and follow-up counter.
func (s *InMemoryStore) RecordAskedQuestion(sessionID, questionText string, questionType models.QuestionType, followUpsAsked int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	sess.LastQuestionText = questionText
	sess.LastQuestionType = questionType
	sess.FollowUpsAsked = followUpsAsked
	sess.UpdatedAt = time.Now()
	return nil
}

// CompleteSession sets status COMPLETED; repeated calls are no-ops.
func (s *InMemoryStore) CompleteSession(sessionID string) error {
	return s.setStatus(sessionID, models.SessionStatusCompleted)
}

// AbandonSession sets status ABANDONED; no-op on terminal sessions.
func (s *InMemoryStore) AbandonSession(sessionID string) error {
	return s.setStatus(sessionID, models.SessionStatusAbandoned)
}

func (s *InMemoryStore) setStatus(sessionID string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if sess.Status != models.SessionStatusActive {
		slog.Debug("InMemoryStore.setStatus skipped, session already terminal", "sessionID", sessionID, "status", sess.Status)
		return nil
	}
	sess.Status = status
	sess.UpdatedAt = time.Now()
	slog.Debug("InMemoryStore.setStatus succeeded", "sessionID", sessionID, "status", status)
	return nil
}

// ListAnswers returns the session's answers ordered by sequence number.
func (s *InMemoryStore) ListAnswers(sessionID string) ([]models.AnswerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	records := make([]models.AnswerRecord, len(s.answers[sessionID]))
	copy(records, s.answers[sessionID])
	return records, nil
}

// ListIdleSessions returns ACTIVE sessions idle since before the cutoff.
func (s *InMemoryStore) ListIdleSessions(cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.Status != models.SessionStatusActive {
			continue
		}
		last := sess.CreatedAt
		if sess.LastMessageAt != nil {
			last = *sess.LastMessageAt
		}
		if last.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ReplaceCatalog replaces the stored catalog snapshot.
func (s *InMemoryStore) ReplaceCatalog(chapters []models.Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]models.Chapter, len(chapters))
	copy(copied, chapters)
	s.chapters = copied
	slog.Debug("InMemoryStore.ReplaceCatalog succeeded", "chapters", len(copied))
	return nil
}

// LoadCatalogChapters returns the stored catalog snapshot.
func (s *InMemoryStore) LoadCatalogChapters() ([]models.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]models.Chapter, len(s.chapters))
	copy(copied, s.chapters)
	return copied, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
