package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether the driver error is a unique-constraint
// failure. Both SQLite and Postgres surface the constraint name in the text,
// which keeps this check driver-agnostic.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// requireRow converts a zero-rows UPDATE result into ErrSessionNotFound.
func requireRow(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, sessionID)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSessionRow scans a ConversationSession from a single row.
func scanSessionRow(row rowScanner) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	var episodeID sql.NullInt64
	var lastQuestionText, lastQuestionType sql.NullString
	var lastMessageAt sql.NullTime
	err := row.Scan(
		&sess.SessionID, &sess.BookID, &episodeID, &sess.CurrentChapterOrder,
		&sess.CurrentTemplateOrder, &sess.FollowUpsAsked, &sess.TokenCount, &sess.Status,
		&lastQuestionText, &lastQuestionType, &lastMessageAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if episodeID.Valid {
		sess.EpisodeID = &episodeID.Int64
	}
	sess.LastQuestionText = lastQuestionText.String
	sess.LastQuestionType = models.QuestionType(lastQuestionType.String)
	if lastMessageAt.Valid {
		sess.LastMessageAt = &lastMessageAt.Time
	}
	return &sess, nil
}

// collectAnswers drains answer rows into records.
func collectAnswers(rows *sql.Rows) ([]models.AnswerRecord, error) {
	var records []models.AnswerRecord
	for rows.Next() {
		var rec models.AnswerRecord
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &rec.QuestionText, &rec.QuestionType,
			&rec.AnswerText, &rec.TokenCount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate answer rows: %w", err)
	}
	return records, nil
}

// collectIDs drains a single-column id result set.
func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session ids: %w", err)
	}
	return ids, nil
}

// collectChapters drains chapter rows and returns an index by chapter id.
func collectChapters(rows *sql.Rows) ([]models.Chapter, map[string]int, error) {
	var chapters []models.Chapter
	index := make(map[string]int)
	for rows.Next() {
		var ch models.Chapter
		var description sql.NullString
		if err := rows.Scan(&ch.ChapterID, &ch.Name, &ch.Order, &description); err != nil {
			return nil, nil, fmt.Errorf("failed to scan chapter row: %w", err)
		}
		ch.Description = description.String
		index[ch.ChapterID] = len(chapters)
		chapters = append(chapters, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate chapter rows: %w", err)
	}
	return chapters, index, nil
}

// attachTemplates drains template rows into their parent chapters.
func attachTemplates(rows *sql.Rows, chapters []models.Chapter, index map[string]int) error {
	for rows.Next() {
		var tmpl models.Template
		var followUpsJSON, dynamicKey sql.NullString
		if err := rows.Scan(&tmpl.TemplateID, &tmpl.ChapterID, &tmpl.Order, &tmpl.StageName,
			&tmpl.MainQuestion, &tmpl.FollowUpMode, &followUpsJSON, &dynamicKey, &tmpl.MaxFollowUps); err != nil {
			return fmt.Errorf("failed to scan template row: %w", err)
		}
		tmpl.DynamicPromptKey = dynamicKey.String
		followUps, err := unmarshalFollowUps(followUpsJSON.String)
		if err != nil {
			return err
		}
		tmpl.StaticFollowUps = followUps
		i, ok := index[tmpl.ChapterID]
		if !ok {
			return fmt.Errorf("template %s references unknown chapter %s", tmpl.TemplateID, tmpl.ChapterID)
		}
		chapters[i].Templates = append(chapters[i].Templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate template rows: %w", err)
	}
	return nil
}

// marshalFollowUps serializes the tone-keyed prompt set for storage.
func marshalFollowUps(followUps map[string][]string) (interface{}, error) {
	if len(followUps) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(followUps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal static follow-ups: %w", err)
	}
	return string(data), nil
}

// unmarshalFollowUps restores the tone-keyed prompt set from storage.
func unmarshalFollowUps(data string) (map[string][]string, error) {
	if data == "" {
		return nil, nil
	}
	var followUps map[string][]string
	if err := json.Unmarshal([]byte(data), &followUps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal static follow-ups: %w", err)
	}
	return followUps, nil
}
