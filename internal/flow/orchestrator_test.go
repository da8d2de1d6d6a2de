package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/storyloom/storyloom/internal/catalog"
	"github.com/storyloom/storyloom/internal/genai"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/store"
)

// interviewCatalog builds 2 chapters x 2 templates, each with one static
// follow-up, so a full traversal takes exactly 8 answers.
func interviewCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	chapters := []models.Chapter{
		{ChapterID: "ch1", Name: "Beginnings", Order: 1},
		{ChapterID: "ch2", Name: "Looking Back", Order: 2},
	}
	for i := range chapters {
		for j := 1; j <= 2; j++ {
			chapters[i].Templates = append(chapters[i].Templates, models.Template{
				TemplateID:      chapters[i].ChapterID + "-t" + string(rune('0'+j)),
				Order:           j,
				StageName:       "Stage",
				MainQuestion:    "Main question?",
				FollowUpMode:    models.FollowUpModeStatic,
				StaticFollowUps: map[string][]string{"neutral": {"Could you say more?"}},
				MaxFollowUps:    1,
			})
		}
	}
	cat, err := catalog.New(chapters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cat
}

func progressGateConfig() Config {
	return Config{
		TokenBudget:     -1,
		UseProgressGate: true,
		MaxFollowUps:    2,
	}
}

func newTestOrchestrator(t *testing.T, cat *catalog.Catalog, ai *fakeAI, cfg Config) (*Orchestrator, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	var client genai.ClientInterface
	if ai != nil {
		client = ai
	}
	orch, err := NewOrchestrator(cat, st, client, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return orch, st
}

func TestInitializeSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewCatalog(t), nil, progressGateConfig())
	ctx := context.Background()

	q, err := orch.InitializeSession(ctx, "s1", 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.QuestionType != models.QuestionTypeMain || q.QuestionText != "Main question?" {
		t.Errorf("unexpected first question: %+v", q)
	}
	if q.ChapterID != "ch1" || q.OverallProgress != 0 || q.IsLastQuestion {
		t.Errorf("unexpected first question metadata: %+v", q)
	}

	if _, err := orch.InitializeSession(ctx, "s1", 42); !errors.Is(err, models.ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
	if _, err := orch.InitializeSession(ctx, "", 42); !errors.Is(err, models.ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestInitializeSingleTemplateCatalog(t *testing.T) {
	cat, err := catalog.New([]models.Chapter{
		{ChapterID: "ch1", Name: "Only", Order: 1, Templates: []models.Template{
			{TemplateID: "t1", Order: 1, StageName: "A", MainQuestion: "The one question?"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orch, _ := newTestOrchestrator(t, cat, nil, progressGateConfig())

	q, err := orch.InitializeSession(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.IsLastQuestion {
		t.Error("single-template catalog should mark the first question as last")
	}
}

func TestFullTraversalEndsAtExactlyHundred(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewCatalog(t), nil, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var last *models.NextQuestion
	prevProgress := 0
	answers := 0
	for i := 0; i < 20; i++ {
		q, err := orch.SubmitAnswer(ctx, "s1", "An answer with some substance to it.")
		if err != nil {
			t.Fatalf("answer %d failed: %v", i+1, err)
		}
		answers++
		if q.OverallProgress < prevProgress {
			t.Errorf("progress went backwards: %d -> %d", prevProgress, q.OverallProgress)
		}
		if q.QuestionType != models.QuestionTypeCompletion && q.OverallProgress >= 100 {
			t.Errorf("only the completion result may reach 100, got %d on %s", q.OverallProgress, q.QuestionType)
		}
		prevProgress = q.OverallProgress
		last = q
		if q.QuestionType == models.QuestionTypeCompletion {
			break
		}
	}

	if answers != 8 {
		t.Errorf("expected completion after exactly 8 answers, got %d", answers)
	}
	if last == nil || last.QuestionType != models.QuestionTypeCompletion {
		t.Fatalf("expected a completion result, got %+v", last)
	}
	if !last.IsLastQuestion || last.OverallProgress != 100 {
		t.Errorf("completion should report last question at 100, got %+v", last)
	}
	if !last.ShouldCreateEpisode {
		t.Error("full traversal should pass the progress gate")
	}

	// The completed session still reports valid progress.
	snap, err := orch.GetProgress(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.OverallProgress != 100 || snap.Status != models.SessionStatusCompleted {
		t.Errorf("unexpected post-completion snapshot: %+v", snap)
	}

	// Further answers are rejected.
	if _, err := orch.SubmitAnswer(ctx, "s1", "one more"); !errors.Is(err, models.ErrSessionCompleted) {
		t.Errorf("expected ErrSessionCompleted, got %v", err)
	}
}

func TestAnswersAreLabeledWithAskedQuestions(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewCatalog(t), nil, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := orch.SubmitAnswer(ctx, "s1", "main answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := orch.SubmitAnswer(ctx, "s1", "follow-up answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, err := orch.Answers(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].QuestionType != models.QuestionTypeMain || records[0].QuestionText != "Main question?" {
		t.Errorf("first record mislabeled: %+v", records[0])
	}
	if records[1].QuestionType != models.QuestionTypeFollowUpStatic || records[1].QuestionText != "Could you say more?" {
		t.Errorf("second record mislabeled: %+v", records[1])
	}
	if records[0].Seq != 1 || records[1].Seq != 2 {
		t.Errorf("sequence numbers wrong: %d, %d", records[0].Seq, records[1].Seq)
	}
}

func TestTokenBudgetCompletesEarly(t *testing.T) {
	cfg := Config{
		TokenBudget:      5,
		MinEpisodeTokens: 5,
		UseTokenGate:     true,
	}
	orch, _ := newTestOrchestrator(t, interviewCatalog(t), nil, cfg)
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 20 runes -> 5 tokens, which exhausts the budget in one answer.
	q, err := orch.SubmitAnswer(ctx, "s1", strings.Repeat("a", 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.QuestionType != models.QuestionTypeCompletion || !q.IsLastQuestion {
		t.Fatalf("expected early completion, got %+v", q)
	}
	if q.OverallProgress >= 100 {
		t.Errorf("early cutoff should report partial progress, got %d", q.OverallProgress)
	}
	if !q.ShouldCreateEpisode {
		t.Error("collected tokens should pass the token gate")
	}

	snap, err := orch.GetProgress(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.SessionStatusCompleted || snap.TokenCount != 5 {
		t.Errorf("unexpected snapshot after cutoff: %+v", snap)
	}
}

func TestFailingAITerminates(t *testing.T) {
	chapters := []models.Chapter{
		{ChapterID: "ch1", Name: "One", Order: 1, Templates: []models.Template{
			{TemplateID: "t1", Order: 1, StageName: "A", MainQuestion: "Q1?",
				FollowUpMode: models.FollowUpModeDynamic, DynamicPromptKey: "INTRO", MaxFollowUps: 3},
			{TemplateID: "t2", Order: 2, StageName: "B", MainQuestion: "Q2?",
				FollowUpMode: models.FollowUpModeDynamic, DynamicPromptKey: "GROWTH", MaxFollowUps: 3},
		}},
	}
	cat, err := catalog.New(chapters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ai := &fakeAI{err: models.ErrAITimeout}
	orch, _ := newTestOrchestrator(t, cat, ai, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Every template finishes after its main answer because generation
	// always fails; the interview still terminates normally.
	q, err := orch.SubmitAnswer(ctx, "s1", "first answer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.QuestionType != models.QuestionTypeMain || q.QuestionText != "Q2?" {
		t.Fatalf("expected advance to the next main question, got %+v", q)
	}
	q, err = orch.SubmitAnswer(ctx, "s1", "second answer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.QuestionType != models.QuestionTypeCompletion {
		t.Fatalf("expected completion, got %+v", q)
	}
}

func TestAbandonStopsTheInterview(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewCatalog(t), nil, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := orch.Abandon(ctx, "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := orch.SubmitAnswer(ctx, "s1", "too late"); !errors.Is(err, models.ErrSessionNotActive) {
		t.Errorf("expected ErrSessionNotActive, got %v", err)
	}
	if err := orch.Abandon(ctx, "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// Progress remains readable after abandonment.
	snap, err := orch.GetProgress(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.SessionStatusAbandoned {
		t.Errorf("expected ABANDONED snapshot, got %+v", snap)
	}
}

func TestToneShiftServesDistinctFollowUps(t *testing.T) {
	chapters := []models.Chapter{
		{ChapterID: "ch1", Name: "One", Order: 1, Templates: []models.Template{
			{TemplateID: "t1", Order: 1, StageName: "A", MainQuestion: "Tell me about the house?",
				FollowUpMode: models.FollowUpModeStatic,
				StaticFollowUps: map[string][]string{
					"warm":       {"What made it warm?", "Who shared it with you?"},
					"reflective": {"What would you change?"},
				},
				MaxFollowUps: 2},
		}},
	}
	cat, err := catalog.New(chapters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orch, _ := newTestOrchestrator(t, cat, nil, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := orch.SubmitAnswer(ctx, "s1", "I loved that house, it made me smile.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.QuestionType != models.QuestionTypeFollowUpStatic || first.QuestionText != "What made it warm?" {
		t.Fatalf("expected the warm prompt first, got %+v", first)
	}

	// The follow-up answer lands in a different tone; the next prompt must
	// still be one not asked during this template visit.
	second, err := orch.SubmitAnswer(ctx, "s1", "Looking back, I regret leaving.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.QuestionType != models.QuestionTypeFollowUpStatic {
		t.Fatalf("expected a second static follow-up, got %+v", second)
	}
	if second.QuestionText == first.QuestionText {
		t.Errorf("prompt %q served twice in one template visit", first.QuestionText)
	}
	if second.QuestionText != "What would you change?" {
		t.Errorf("reflective answer should select the reflective prompt, got %q", second.QuestionText)
	}
}

func TestTerminalSessionsReleaseLocks(t *testing.T) {
	cat, err := catalog.New([]models.Chapter{
		{ChapterID: "ch1", Name: "Only", Order: 1, Templates: []models.Template{
			{TemplateID: "t1", Order: 1, StageName: "A", MainQuestion: "The one question?"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orch, _ := newTestOrchestrator(t, cat, nil, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "done", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, err := orch.SubmitAnswer(ctx, "done", "the only answer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.QuestionType != models.QuestionTypeCompletion {
		t.Fatalf("expected completion, got %+v", q)
	}
	if _, ok := orch.locks.Load("done"); ok {
		t.Error("completed session left its mutex in the registry")
	}

	if _, err := orch.InitializeSession(ctx, "gone", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := orch.Abandon(ctx, "gone"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := orch.locks.Load("gone"); ok {
		t.Error("abandoned session left its mutex in the registry")
	}
}

func TestGetProgressUnknownSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t, interviewCatalog(t), nil, progressGateConfig())
	if _, err := orch.GetProgress(context.Background(), "nope"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConcurrentAnswersLoseNoTokens(t *testing.T) {
	chapters := []models.Chapter{{ChapterID: "ch1", Name: "One", Order: 1}}
	for j := 1; j <= 10; j++ {
		chapters[0].Templates = append(chapters[0].Templates, models.Template{
			TemplateID:   fmt.Sprintf("t%d", j),
			Order:        j,
			StageName:    "Stage",
			MainQuestion: "Q?",
			FollowUpMode: models.FollowUpModeNone,
		})
	}
	cat, err := catalog.New(chapters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orch, st := newTestOrchestrator(t, cat, nil, progressGateConfig())
	ctx := context.Background()

	if _, err := orch.InitializeSession(ctx, "s1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// "abcd" estimates to exactly one token.
			_, errs[n] = orch.SubmitAnswer(ctx, "s1", "abcd")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
	}

	sess, err := st.GetSession("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.TokenCount != workers {
		t.Errorf("expected %d tokens, got %d", workers, sess.TokenCount)
	}
	records, err := st.ListAnswers("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != workers {
		t.Errorf("expected %d answer records, got %d", workers, len(records))
	}
}

func TestReseedCatalogSwapsSnapshot(t *testing.T) {
	orch, st := newTestOrchestrator(t, interviewCatalog(t), nil, progressGateConfig())
	ctx := context.Background()

	replacement := []models.Chapter{
		{ChapterID: "solo", Name: "Solo", Order: 1, Templates: []models.Template{
			{TemplateID: "s1", Order: 1, StageName: "Only", MainQuestion: "The new question?"},
		}},
	}

	for i := 0; i < 2; i++ {
		cat, err := orch.ReseedCatalog(ctx, replacement)
		if err != nil {
			t.Fatalf("reseed %d failed: %v", i, err)
		}
		if cat.ChapterCount() != 1 || cat.TotalTemplates() != 1 {
			t.Errorf("unexpected catalog shape: %d/%d", cat.ChapterCount(), cat.TotalTemplates())
		}
		persisted, err := st.LoadCatalogChapters()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(persisted) != 1 {
			t.Errorf("reseed %d persisted %d chapters, want 1", i, len(persisted))
		}
	}

	// New sessions draw from the replacement catalog.
	q, err := orch.InitializeSession(ctx, "after-reseed", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.QuestionText != "The new question?" || !q.IsLastQuestion {
		t.Errorf("new session should use the reseeded catalog: %+v", q)
	}

	// Malformed definitions are rejected before anything is persisted.
	if _, err := orch.ReseedCatalog(ctx, nil); !errors.Is(err, models.ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
}
