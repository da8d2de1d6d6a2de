package flow

import (
	"github.com/storyloom/storyloom/internal/catalog"
	"github.com/storyloom/storyloom/internal/models"
)

// ComputeProgress derives a progress snapshot from the catalog and session
// state. It is a pure function: it never touches storage and is safe to call
// at any time, including after completion.
//
// A template counts as fully answered only once the session has advanced
// past it, so its follow-ups are included. Sessions that finish normal
// traversal sit at the exhausted-catalog sentinel (chapter order beyond the
// last chapter) and report exactly 100; sessions completed early by the
// token budget keep their position and report less.
func ComputeProgress(cat *catalog.Catalog, sess *models.ConversationSession, cfg Config) models.ProgressSnapshot {
	snapshot := models.ProgressSnapshot{
		SessionID:  sess.SessionID,
		Status:     sess.Status,
		TokenCount: sess.TokenCount,
	}
	if cat == nil || cat.ChapterCount() == 0 || cat.TotalTemplates() == 0 {
		// Empty catalog: report zeros rather than dividing by zero.
		return snapshot
	}

	totalChapters := cat.ChapterCount()
	exhausted := sess.CurrentChapterOrder > totalChapters

	chaptersCompleted := 0
	for _, ch := range cat.Chapters() {
		summary := models.ChapterSummary{
			ChapterID:      ch.ChapterID,
			ChapterName:    ch.Name,
			Order:          ch.Order,
			TemplatesTotal: len(ch.Templates),
		}
		switch {
		case exhausted || ch.Order < sess.CurrentChapterOrder:
			summary.TemplatesCompleted = len(ch.Templates)
			summary.Completed = true
			chaptersCompleted++
		case ch.Order == sess.CurrentChapterOrder:
			summary.TemplatesCompleted = sess.CurrentTemplateOrder - 1
		}
		snapshot.Chapters = append(snapshot.Chapters, summary)
	}

	if exhausted {
		snapshot.ChapterProgress = 100
		snapshot.OverallProgress = 100
	} else {
		snapshot.ChapterProgress = chapterPercent(cat, sess)
		snapshot.OverallProgress = (chaptersCompleted*100 + snapshot.ChapterProgress) / totalChapters
	}

	snapshot.CanCreateEpisode = episodeEligible(&snapshot, cfg)
	return snapshot
}

// chapterPercent computes the current chapter's completion percentage,
// floored to an integer.
func chapterPercent(cat *catalog.Catalog, sess *models.ConversationSession) int {
	count, err := cat.TemplateCount(sess.CurrentChapterOrder)
	if err != nil || count == 0 {
		return 0
	}
	completed := sess.CurrentTemplateOrder - 1
	if completed < 0 {
		completed = 0
	}
	if completed > count {
		completed = count
	}
	return completed * 100 / count
}

// episodeEligible evaluates the configured episode gates.
func episodeEligible(snapshot *models.ProgressSnapshot, cfg Config) bool {
	if cfg.UseProgressGate && snapshot.OverallProgress >= cfg.CompletionPercent {
		return true
	}
	if cfg.UseTokenGate && snapshot.TokenCount >= cfg.MinEpisodeTokens {
		return true
	}
	return false
}
