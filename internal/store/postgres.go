// Package store provides storage backends for StoryLoom.
//
// This file implements a PostgreSQL-backed store for sessions, answer
// records, and catalog rows.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/storyloom/storyloom/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// CreateSession persists a new session.
func (s *PostgresStore) CreateSession(sess models.ConversationSession) error {
	now := time.Now()
	_, err := s.db.Exec(`INSERT INTO conversation_sessions
		(session_id, book_id, episode_id, current_chapter_order, current_template_order,
		 follow_ups_asked, token_count, status, last_question_text, last_question_type,
		 last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.SessionID, sess.BookID, sess.EpisodeID, sess.CurrentChapterOrder, sess.CurrentTemplateOrder,
		sess.FollowUpsAsked, sess.TokenCount, sess.Status, nilIfEmpty(sess.LastQuestionText),
		nilIfEmpty(string(sess.LastQuestionType)), sess.LastMessageAt, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", models.ErrDuplicateSession, sess.SessionID)
		}
		slog.Error("PostgresStore.CreateSession failed", "error", err, "sessionID", sess.SessionID)
		return fmt.Errorf("failed to insert session %s: %w", sess.SessionID, err)
	}
	slog.Debug("PostgresStore.CreateSession succeeded", "sessionID", sess.SessionID)
	return nil
}

// GetSession returns the session or models.ErrSessionNotFound.
func (s *PostgresStore) GetSession(sessionID string) (*models.ConversationSession, error) {
	row := s.db.QueryRow(`SELECT session_id, book_id, episode_id, current_chapter_order,
		current_template_order, follow_ups_asked, token_count, status, last_question_text,
		last_question_type, last_message_at, created_at, updated_at
		FROM conversation_sessions WHERE session_id = $1`, sessionID)
	sess, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		slog.Error("PostgresStore.GetSession failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	return sess, nil
}

// AppendAnswer atomically appends a record and bumps session counters. The
// session row is locked FOR UPDATE so concurrent answers for the same
// session serialize at the database.
func (s *PostgresStore) AppendAnswer(rec models.AnswerRecord) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM conversation_sessions WHERE session_id = $1 FOR UPDATE`, rec.SessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", models.ErrSessionNotFound, rec.SessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock session %s: %w", rec.SessionID, err)
	}
	if models.SessionStatus(status) != models.SessionStatusActive {
		return 0, fmt.Errorf("%w: %s is %s", models.ErrSessionNotActive, rec.SessionID, status)
	}

	var seq int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM answer_records WHERE session_id = $1`, rec.SessionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to assign sequence number: %w", err)
	}

	now := time.Now()
	if _, err := tx.Exec(`INSERT INTO answer_records
		(session_id, seq, question_text, question_type, answer_text, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.SessionID, seq, rec.QuestionText, rec.QuestionType, rec.AnswerText, rec.TokenCount, now); err != nil {
		return 0, fmt.Errorf("failed to insert answer record: %w", err)
	}

	if _, err := tx.Exec(`UPDATE conversation_sessions
		SET token_count = token_count + $1, last_message_at = $2, updated_at = $3
		WHERE session_id = $4`, rec.TokenCount, now, now, rec.SessionID); err != nil {
		return 0, fmt.Errorf("failed to update session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit answer append: %w", err)
	}
	slog.Debug("PostgresStore.AppendAnswer succeeded", "sessionID", rec.SessionID, "seq", seq)
	return seq, nil
}

// AdvanceSession atomically moves the session position.
func (s *PostgresStore) AdvanceSession(sessionID string, chapterOrder, templateOrder int, resetFollowUps bool) error {
	query := `UPDATE conversation_sessions
		SET current_chapter_order = $1, current_template_order = $2, updated_at = $3
		WHERE session_id = $4`
	if resetFollowUps {
		query = `UPDATE conversation_sessions
		SET current_chapter_order = $1, current_template_order = $2, updated_at = $3, follow_ups_asked = 0
		WHERE session_id = $4`
	}
	res, err := s.db.Exec(query, chapterOrder, templateOrder, time.Now(), sessionID)
	if err != nil {
		slog.Error("PostgresStore.AdvanceSession failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to advance session %s: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

// RecordAskedQuestion stores the last asked question and follow-up counter.
func (s *PostgresStore) RecordAskedQuestion(sessionID, questionText string, questionType models.QuestionType, followUpsAsked int) error {
	res, err := s.db.Exec(`UPDATE conversation_sessions
		SET last_question_text = $1, last_question_type = $2, follow_ups_asked = $3, updated_at = $4
		WHERE session_id = $5`,
		questionText, questionType, followUpsAsked, time.Now(), sessionID)
	if err != nil {
		slog.Error("PostgresStore.RecordAskedQuestion failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to record asked question for %s: %w", sessionID, err)
	}
	return requireRow(res, sessionID)
}

// CompleteSession sets status COMPLETED; repeated calls are no-ops.
func (s *PostgresStore) CompleteSession(sessionID string) error {
	return s.setStatus(sessionID, models.SessionStatusCompleted)
}

// AbandonSession sets status ABANDONED; no-op on terminal sessions.
func (s *PostgresStore) AbandonSession(sessionID string) error {
	return s.setStatus(sessionID, models.SessionStatusAbandoned)
}

func (s *PostgresStore) setStatus(sessionID string, status models.SessionStatus) error {
	res, err := s.db.Exec(`UPDATE conversation_sessions SET status = $1, updated_at = $2
		WHERE session_id = $3 AND status = $4`,
		status, time.Now(), sessionID, models.SessionStatusActive)
	if err != nil {
		slog.Error("PostgresStore.setStatus failed", "error", err, "sessionID", sessionID, "status", status)
		return fmt.Errorf("failed to set session %s status: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var existing string
		err := s.db.QueryRow(`SELECT status FROM conversation_sessions WHERE session_id = $1`, sessionID).Scan(&existing)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return fmt.Errorf("failed to check session %s status: %w", sessionID, err)
		}
		slog.Debug("PostgresStore.setStatus skipped, session already terminal", "sessionID", sessionID, "status", existing)
	}
	return nil
}

// ListAnswers returns the session's answers ordered by sequence number.
func (s *PostgresStore) ListAnswers(sessionID string) ([]models.AnswerRecord, error) {
	rows, err := s.db.Query(`SELECT session_id, seq, question_text, question_type, answer_text,
		token_count, created_at FROM answer_records WHERE session_id = $1 ORDER BY seq ASC`, sessionID)
	if err != nil {
		slog.Error("PostgresStore.ListAnswers query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query answers for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// ListIdleSessions returns ACTIVE sessions idle since before the cutoff.
func (s *PostgresStore) ListIdleSessions(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM conversation_sessions
		WHERE status = $1 AND COALESCE(last_message_at, created_at) < $2`,
		models.SessionStatusActive, cutoff)
	if err != nil {
		slog.Error("PostgresStore.ListIdleSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query idle sessions: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ReplaceCatalog replaces the persisted catalog inside one transaction.
func (s *PostgresStore) ReplaceCatalog(chapters []models.Chapter) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chapter_templates`); err != nil {
		return fmt.Errorf("failed to clear templates: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chapters`); err != nil {
		return fmt.Errorf("failed to clear chapters: %w", err)
	}

	for _, ch := range chapters {
		if _, err := tx.Exec(`INSERT INTO chapters (chapter_id, name, chapter_order, description)
			VALUES ($1, $2, $3, $4)`, ch.ChapterID, ch.Name, ch.Order, nilIfEmpty(ch.Description)); err != nil {
			return fmt.Errorf("failed to insert chapter %s: %w", ch.ChapterID, err)
		}
		for _, tmpl := range ch.Templates {
			followUpsJSON, err := marshalFollowUps(tmpl.StaticFollowUps)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO chapter_templates
				(template_id, chapter_id, template_order, stage_name, main_question,
				 follow_up_mode, static_follow_ups, dynamic_prompt_key, max_follow_ups)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				tmpl.TemplateID, ch.ChapterID, tmpl.Order, tmpl.StageName, tmpl.MainQuestion,
				tmpl.FollowUpMode, followUpsJSON, nilIfEmpty(tmpl.DynamicPromptKey), tmpl.MaxFollowUps); err != nil {
				return fmt.Errorf("failed to insert template %s: %w", tmpl.TemplateID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog replace: %w", err)
	}
	slog.Debug("PostgresStore.ReplaceCatalog succeeded", "chapters", len(chapters))
	return nil
}

// LoadCatalogChapters reads the persisted catalog back, ordered.
func (s *PostgresStore) LoadCatalogChapters() ([]models.Chapter, error) {
	chapterRows, err := s.db.Query(`SELECT chapter_id, name, chapter_order, description
		FROM chapters ORDER BY chapter_order ASC`)
	if err != nil {
		slog.Error("PostgresStore.LoadCatalogChapters chapters query failed", "error", err)
		return nil, fmt.Errorf("failed to query chapters: %w", err)
	}
	defer chapterRows.Close()
	chapters, index, err := collectChapters(chapterRows)
	if err != nil {
		return nil, err
	}

	templateRows, err := s.db.Query(`SELECT template_id, chapter_id, template_order, stage_name,
		main_question, follow_up_mode, static_follow_ups, dynamic_prompt_key, max_follow_ups
		FROM chapter_templates ORDER BY chapter_id, template_order ASC`)
	if err != nil {
		slog.Error("PostgresStore.LoadCatalogChapters templates query failed", "error", err)
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer templateRows.Close()
	if err := attachTemplates(templateRows, chapters, index); err != nil {
		return nil, err
	}
	return chapters, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
