package reaper

import (
	"fmt"
	"testing"
	"time"

	"github.com/storyloom/storyloom/internal/store"
)

// fakeStore overrides the two methods Sweep uses.
type fakeStore struct {
	store.Store
	idle      []string
	listErr   error
	abandoned []string
	failFor   map[string]bool
}

func (f *fakeStore) ListIdleSessions(cutoff time.Time) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.idle, nil
}

func (f *fakeStore) AbandonSession(sessionID string) error {
	if f.failFor[sessionID] {
		return fmt.Errorf("session %s raced to completion", sessionID)
	}
	f.abandoned = append(f.abandoned, sessionID)
	return nil
}

func TestNewRejectsBadSchedule(t *testing.T) {
	st := store.NewInMemoryStore()
	if _, err := New(st, WithSchedule("not a cron expr")); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := New(st); err != nil {
		t.Errorf("default schedule should be valid, got %v", err)
	}
}

func TestSweepAbandonsIdleSessions(t *testing.T) {
	fs := &fakeStore{idle: []string{"a", "b"}}
	r, err := New(fs, WithIdleTimeout(30*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Sweep()

	if len(fs.abandoned) != 2 || fs.abandoned[0] != "a" || fs.abandoned[1] != "b" {
		t.Errorf("expected both sessions abandoned, got %v", fs.abandoned)
	}
}

func TestSweepToleratesAbandonFailures(t *testing.T) {
	fs := &fakeStore{
		idle:    []string{"a", "b", "c"},
		failFor: map[string]bool{"b": true},
	}
	r, err := New(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Sweep()

	if len(fs.abandoned) != 2 {
		t.Errorf("one failed abandon must not stop the sweep, got %v", fs.abandoned)
	}
}

func TestSweepListFailureIsNonFatal(t *testing.T) {
	fs := &fakeStore{listErr: fmt.Errorf("db down")}
	r, err := New(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Must not panic or abandon anything.
	r.Sweep()
	if len(fs.abandoned) != 0 {
		t.Errorf("nothing should be abandoned when listing fails, got %v", fs.abandoned)
	}
}

func TestSweepUsesIdleCutoff(t *testing.T) {
	var gotCutoff time.Time
	fs := &fakeStore{}
	r, err := New(fs, WithIdleTimeout(45*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	// Capture the cutoff through a wrapper.
	r.store = cutoffRecorder{fakeStore: fs, got: &gotCutoff}
	r.Sweep()

	want := base.Add(-45 * time.Minute)
	if !gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, want)
	}
}

type cutoffRecorder struct {
	*fakeStore
	got *time.Time
}

func (c cutoffRecorder) ListIdleSessions(cutoff time.Time) ([]string, error) {
	*c.got = cutoff
	return c.fakeStore.ListIdleSessions(cutoff)
}
