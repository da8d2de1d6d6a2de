package models

import (
	"strings"
	"testing"
)

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("sess-1"); err != nil {
		t.Errorf("expected valid session id, got %v", err)
	}
	if err := ValidateSessionID(""); err != ErrEmptySessionID {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
	if err := ValidateSessionID(strings.Repeat("a", MaxSessionIDLength+1)); err != ErrSessionIDTooLong {
		t.Errorf("expected ErrSessionIDTooLong, got %v", err)
	}
	if err := ValidateSessionID(strings.Repeat("a", MaxSessionIDLength)); err != nil {
		t.Errorf("expected max-length id to be valid, got %v", err)
	}
}

func TestValidateAnswer(t *testing.T) {
	if err := ValidateAnswer("I grew up by the sea."); err != nil {
		t.Errorf("expected valid answer, got %v", err)
	}
	if err := ValidateAnswer(""); err != ErrEmptyAnswer {
		t.Errorf("expected ErrEmptyAnswer, got %v", err)
	}
	if err := ValidateAnswer(strings.Repeat("x", MaxAnswerLength+1)); err != ErrAnswerTooLong {
		t.Errorf("expected ErrAnswerTooLong, got %v", err)
	}
}

func TestIsValidQuestionType(t *testing.T) {
	for _, qt := range []QuestionType{QuestionTypeMain, QuestionTypeFollowUpStatic, QuestionTypeFollowUpDynamic, QuestionTypeCompletion} {
		if !IsValidQuestionType(qt) {
			t.Errorf("expected %s to be valid", qt)
		}
	}
	if IsValidQuestionType("BOGUS") {
		t.Error("expected BOGUS to be invalid")
	}
}

func TestTemplateHasFollowUps(t *testing.T) {
	none := Template{FollowUpMode: FollowUpModeNone}
	if none.HasFollowUps() {
		t.Error("NONE mode should have no follow-ups")
	}

	emptyStatic := Template{FollowUpMode: FollowUpModeStatic}
	if emptyStatic.HasFollowUps() {
		t.Error("STATIC mode with no prompts should have no follow-ups")
	}

	static := Template{
		FollowUpMode:    FollowUpModeStatic,
		StaticFollowUps: map[string][]string{"neutral": {"Tell me more."}},
	}
	if !static.HasFollowUps() {
		t.Error("STATIC mode with prompts should have follow-ups")
	}
	if got := static.StaticFollowUpCount(); got != 1 {
		t.Errorf("expected 1 static prompt, got %d", got)
	}

	dynamic := Template{FollowUpMode: FollowUpModeDynamic}
	if !dynamic.HasFollowUps() {
		t.Error("DYNAMIC mode should have follow-ups regardless of prompts")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success envelope: %+v", ok)
	}
	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("unexpected error envelope: %+v", errResp)
	}
}
