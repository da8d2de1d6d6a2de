package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/storyloom/storyloom/internal/catalog"
	"github.com/storyloom/storyloom/internal/genai"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/store"
)

// completionText is the terminal message returned once the interview is over.
const completionText = "That is every question we had for your story. Shall we close the book here?"

// completionStage labels the terminal result's stage.
const completionStage = "Completed"

// Orchestrator is the facade over the interview engine. It owns the catalog
// snapshot, drives the per-session state machine, and is the only component
// that touches the AI client and the session store.
//
// Mutating calls for the same session are serialized by a per-session mutex;
// different sessions proceed in parallel with no global lock.
type Orchestrator struct {
	cat     atomic.Pointer[catalog.Catalog]
	store   store.Store
	decider *DecisionEngine
	cfg     Config
	locks   sync.Map // sessionID -> *sync.Mutex
}

// NewOrchestrator creates the engine facade. The catalog must be non-empty;
// the AI client may be nil to run with scripted follow-ups only.
func NewOrchestrator(cat *catalog.Catalog, st store.Store, ai genai.ClientInterface, cfg Config) (*Orchestrator, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if cat == nil || cat.TotalTemplates() == 0 {
		return nil, models.ErrEmptyCatalog
	}
	o := &Orchestrator{
		store:   st,
		decider: NewDecisionEngine(ai, cfg),
		cfg:     cfg,
	}
	o.cat.Store(cat)
	slog.Debug("Orchestrator.NewOrchestrator: engine ready",
		"chapters", cat.ChapterCount(), "templates", cat.TotalTemplates(), "tokenBudget", cfg.TokenBudget)
	return o, nil
}

// Catalog returns the current catalog snapshot.
func (o *Orchestrator) Catalog() *catalog.Catalog {
	return o.cat.Load()
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// InitializeSession creates session state positioned at the first template
// and returns its MAIN question. Fails with models.ErrDuplicateSession when
// the id is taken and models.ErrEmptyCatalog when there is nothing to ask.
func (o *Orchestrator) InitializeSession(ctx context.Context, sessionID string, bookID int64) (*models.NextQuestion, error) {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	cat := o.cat.Load()
	if cat.TotalTemplates() == 0 {
		return nil, models.ErrEmptyCatalog
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	firstChapter, err := cat.ChapterAt(1)
	if err != nil {
		return nil, err
	}
	firstTemplate, err := cat.TemplateAt(1, 1)
	if err != nil {
		return nil, err
	}

	sess := models.ConversationSession{
		SessionID:            sessionID,
		BookID:               bookID,
		CurrentChapterOrder:  1,
		CurrentTemplateOrder: 1,
		Status:               models.SessionStatusActive,
		LastQuestionText:     firstTemplate.MainQuestion,
		LastQuestionType:     models.QuestionTypeMain,
	}
	if err := o.store.CreateSession(sess); err != nil {
		return nil, err
	}

	slog.Info("Orchestrator.InitializeSession: session started", "sessionID", sessionID, "bookID", bookID)
	return &models.NextQuestion{
		QuestionText:    firstTemplate.MainQuestion,
		QuestionType:    models.QuestionTypeMain,
		ChapterID:       firstChapter.ChapterID,
		ChapterName:     firstChapter.Name,
		TemplateID:      firstTemplate.TemplateID,
		StageName:       firstTemplate.StageName,
		ChapterProgress: 0,
		OverallProgress: 0,
		IsLastQuestion:  cat.TotalTemplates() == 1,
	}, nil
}

// SubmitAnswer records the answer to the last asked question, runs the
// decision engine, and returns the next question or the completion signal.
// The call never fails merely because the AI client is unavailable.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, answerText string) (*models.NextQuestion, error) {
	if err := models.ValidateAnswer(answerText); err != nil {
		return nil, err
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.SessionStatusCompleted:
		return nil, fmt.Errorf("%w: %s", models.ErrSessionCompleted, sessionID)
	case models.SessionStatusAbandoned:
		return nil, fmt.Errorf("%w: %s is ABANDONED", models.ErrSessionNotActive, sessionID)
	}

	cat := o.cat.Load()
	tmpl, err := cat.TemplateAt(sess.CurrentChapterOrder, sess.CurrentTemplateOrder)
	if err != nil {
		// Position invariant violation: the session points outside the
		// catalog while ACTIVE. Alarm, do not swallow.
		slog.Error("Orchestrator.SubmitAnswer: session position outside catalog",
			"sessionID", sessionID, "chapterOrder", sess.CurrentChapterOrder,
			"templateOrder", sess.CurrentTemplateOrder, "error", err)
		return nil, fmt.Errorf("session %s position invalid: %w", sessionID, err)
	}

	questionText := sess.LastQuestionText
	questionType := sess.LastQuestionType
	if questionText == "" {
		questionText = tmpl.MainQuestion
		questionType = models.QuestionTypeMain
	}

	tokens := o.cfg.Estimator(answerText)
	if _, err := o.store.AppendAnswer(models.AnswerRecord{
		SessionID:    sessionID,
		QuestionText: questionText,
		QuestionType: questionType,
		AnswerText:   answerText,
		TokenCount:   tokens,
	}); err != nil {
		return nil, err
	}
	sess.TokenCount += tokens

	if o.cfg.budgetExhausted(sess.TokenCount) {
		slog.Info("Orchestrator.SubmitAnswer: token budget exhausted, completing early",
			"sessionID", sessionID, "tokens", sess.TokenCount, "budget", o.cfg.TokenBudget)
		return o.completeSession(cat, sess, false)
	}

	asked, err := o.askedFollowUps(sessionID, sess.FollowUpsAsked)
	if err != nil {
		return nil, err
	}

	next, done := o.decider.Decide(ctx, tmpl, sess, answerText, asked)
	if !done {
		// The decision may have waited on the AI; the session can have been
		// abandoned meanwhile. Return no further question in that case.
		fresh, err := o.store.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		if fresh.Status != models.SessionStatusActive {
			return nil, fmt.Errorf("%w: %s is %s", models.ErrSessionNotActive, sessionID, fresh.Status)
		}
		if err := o.store.RecordAskedQuestion(sessionID, next.Text, next.Type, sess.FollowUpsAsked+1); err != nil {
			return nil, err
		}
		sess.FollowUpsAsked++
		return o.buildQuestion(cat, sess, tmpl, next.Text, next.Type), nil
	}

	return o.advance(cat, sess)
}

// askedFollowUps reads back the follow-up questions already served during the
// current template visit. Each served follow-up is answered before the next
// decision, so the visit's follow-ups are the question texts on the last
// count answer records.
func (o *Orchestrator) askedFollowUps(sessionID string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	records, err := o.store.ListAnswers(sessionID)
	if err != nil {
		return nil, err
	}
	if len(records) > count {
		records = records[len(records)-count:]
	}
	asked := make([]string, 0, len(records))
	for _, rec := range records {
		switch rec.QuestionType {
		case models.QuestionTypeFollowUpStatic, models.QuestionTypeFollowUpDynamic:
			asked = append(asked, rec.QuestionText)
		}
	}
	return asked, nil
}

// advance moves past the finished template: next template, next chapter, or
// session completion when the catalog is exhausted.
func (o *Orchestrator) advance(cat *catalog.Catalog, sess *models.ConversationSession) (*models.NextQuestion, error) {
	chapterOrder := sess.CurrentChapterOrder
	templateOrder := sess.CurrentTemplateOrder

	count, err := cat.TemplateCount(chapterOrder)
	if err != nil {
		return nil, err
	}

	switch {
	case templateOrder < count:
		templateOrder++
	case chapterOrder < cat.ChapterCount():
		chapterOrder++
		templateOrder = 1
	default:
		return o.completeSession(cat, sess, true)
	}

	nextTemplate, err := cat.TemplateAt(chapterOrder, templateOrder)
	if err != nil {
		return nil, err
	}
	if err := o.store.AdvanceSession(sess.SessionID, chapterOrder, templateOrder, true); err != nil {
		return nil, err
	}
	if err := o.store.RecordAskedQuestion(sess.SessionID, nextTemplate.MainQuestion, models.QuestionTypeMain, 0); err != nil {
		return nil, err
	}

	sess.CurrentChapterOrder = chapterOrder
	sess.CurrentTemplateOrder = templateOrder
	sess.FollowUpsAsked = 0
	slog.Debug("Orchestrator.advance: moved to next template",
		"sessionID", sess.SessionID, "chapterOrder", chapterOrder, "templateOrder", templateOrder)
	return o.buildQuestion(cat, sess, nextTemplate, nextTemplate.MainQuestion, models.QuestionTypeMain), nil
}

// completeSession marks the session COMPLETED and builds the terminal
// result. Normal traversal parks the position at the exhausted-catalog
// sentinel so progress reads exactly 100; early budget cutoff keeps the
// position, so the two paths stay distinguishable in the returned result.
func (o *Orchestrator) completeSession(cat *catalog.Catalog, sess *models.ConversationSession, traversalDone bool) (*models.NextQuestion, error) {
	currentChapter, err := cat.ChapterAt(min(sess.CurrentChapterOrder, cat.ChapterCount()))
	if err != nil {
		return nil, err
	}

	if traversalDone {
		if err := o.store.AdvanceSession(sess.SessionID, cat.ChapterCount()+1, 1, true); err != nil {
			return nil, err
		}
		sess.CurrentChapterOrder = cat.ChapterCount() + 1
		sess.CurrentTemplateOrder = 1
		sess.FollowUpsAsked = 0
	}
	if err := o.store.CompleteSession(sess.SessionID); err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatusCompleted
	// The session is terminal; drop its mutex from the registry. A racer that
	// grabs a fresh mutex still fails the store's status check.
	o.locks.Delete(sess.SessionID)

	snapshot := ComputeProgress(cat, sess, o.cfg)
	slog.Info("Orchestrator.completeSession: session completed",
		"sessionID", sess.SessionID, "overallProgress", snapshot.OverallProgress,
		"tokens", sess.TokenCount, "traversalDone", traversalDone)
	return &models.NextQuestion{
		QuestionText:        completionText,
		QuestionType:        models.QuestionTypeCompletion,
		ChapterID:           currentChapter.ChapterID,
		ChapterName:         currentChapter.Name,
		StageName:           completionStage,
		ChapterProgress:     snapshot.ChapterProgress,
		OverallProgress:     snapshot.OverallProgress,
		IsLastQuestion:      true,
		ShouldCreateEpisode: snapshot.CanCreateEpisode,
	}, nil
}

// buildQuestion assembles a NextQuestion for an in-progress session.
func (o *Orchestrator) buildQuestion(cat *catalog.Catalog, sess *models.ConversationSession, tmpl *models.Template, text string, qt models.QuestionType) *models.NextQuestion {
	chapter, err := cat.ChapterAt(sess.CurrentChapterOrder)
	if err != nil {
		// Unreachable when position invariants hold; fall back to ids only.
		slog.Error("Orchestrator.buildQuestion: chapter lookup failed", "sessionID", sess.SessionID, "error", err)
		chapter = &models.Chapter{ChapterID: tmpl.ChapterID}
	}
	snapshot := ComputeProgress(cat, sess, o.cfg)
	return &models.NextQuestion{
		QuestionText:        text,
		QuestionType:        qt,
		ChapterID:           chapter.ChapterID,
		ChapterName:         chapter.Name,
		TemplateID:          tmpl.TemplateID,
		StageName:           tmpl.StageName,
		ChapterProgress:     snapshot.ChapterProgress,
		OverallProgress:     snapshot.OverallProgress,
		IsLastQuestion:      false,
		ShouldCreateEpisode: snapshot.CanCreateEpisode,
	}
}

// GetProgress returns a progress snapshot. Read-only and side-effect free;
// valid at any time, including after completion.
func (o *Orchestrator) GetProgress(ctx context.Context, sessionID string) (*models.ProgressSnapshot, error) {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	snapshot := ComputeProgress(o.cat.Load(), sess, o.cfg)
	return &snapshot, nil
}

// Abandon marks the session ABANDONED. In-flight answers for it resolve to
// ErrSessionNotActive; no further question is returned.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID string) error {
	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	if err := o.store.AbandonSession(sessionID); err != nil {
		return err
	}
	o.locks.Delete(sessionID)
	slog.Info("Orchestrator.Abandon: session abandoned", "sessionID", sessionID)
	return nil
}

// Answers returns the session's answer records, the raw material for
// external episode synthesis.
func (o *Orchestrator) Answers(ctx context.Context, sessionID string) ([]models.AnswerRecord, error) {
	return o.store.ListAnswers(sessionID)
}

// ReseedCatalog validates and persists new catalog definitions, then swaps
// in the fresh snapshot. Re-running with the same definitions is idempotent.
func (o *Orchestrator) ReseedCatalog(ctx context.Context, chapters []models.Chapter) (*catalog.Catalog, error) {
	cat, err := catalog.New(chapters)
	if err != nil {
		return nil, err
	}
	if err := o.store.ReplaceCatalog(cat.Chapters()); err != nil {
		return nil, err
	}
	o.cat.Store(cat)
	slog.Info("Orchestrator.ReseedCatalog: catalog replaced",
		"chapters", cat.ChapterCount(), "templates", cat.TotalTemplates())
	return cat, nil
}
