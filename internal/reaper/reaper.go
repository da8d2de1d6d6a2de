// Package reaper marks idle interview sessions ABANDONED on a schedule.
//
// Sessions whose last activity is older than the configured idle timeout are
// moved to ABANDONED so they stop accepting answers and drop out of the
// active set. The sweep runs on a cron schedule.
package reaper

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storyloom/storyloom/internal/store"
)

// Defaults for the reaper schedule and idle cutoff.
const (
	// DefaultSchedule runs the sweep every 10 minutes.
	DefaultSchedule = "*/10 * * * *"
	// DefaultIdleTimeout is how long a session may sit without an answer
	// before it is considered abandoned.
	DefaultIdleTimeout = 30 * time.Minute
)

// Opts holds configuration options for the reaper.
type Opts struct {
	// Schedule is a 5-field cron expression for the sweep cadence.
	Schedule string
	// IdleTimeout is the inactivity cutoff.
	IdleTimeout time.Duration
}

// Option defines a functional option for reaper configuration.
type Option func(*Opts)

// WithSchedule overrides the sweep cron expression.
func WithSchedule(expr string) Option {
	return func(o *Opts) { o.Schedule = expr }
}

// WithIdleTimeout overrides the inactivity cutoff.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// Reaper sweeps idle sessions into the ABANDONED state.
type Reaper struct {
	store       store.Store
	cron        *cron.Cron
	idleTimeout time.Duration
	now         func() time.Time
}

// New creates a reaper over the given store. Call Start to begin sweeping.
func New(st store.Store, opts ...Option) (*Reaper, error) {
	cfg := Opts{
		Schedule:    DefaultSchedule,
		IdleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	r := &Reaper{
		store:       st,
		cron:        c,
		idleTimeout: cfg.IdleTimeout,
		now:         time.Now,
	}
	if _, err := c.AddFunc(cfg.Schedule, r.Sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the scheduled sweeps.
func (r *Reaper) Start() {
	r.cron.Start()
	slog.Info("Reaper.Start: session reaper running", "idleTimeout", r.idleTimeout)
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Sweep marks every ACTIVE session idle past the cutoff as ABANDONED. It is
// safe to call directly, outside the schedule.
func (r *Reaper) Sweep() {
	cutoff := r.now().Add(-r.idleTimeout)
	ids, err := r.store.ListIdleSessions(cutoff)
	if err != nil {
		slog.Error("Reaper.Sweep: listing idle sessions failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	reaped := 0
	for _, id := range ids {
		if err := r.store.AbandonSession(id); err != nil {
			// The session may have completed between list and abandon.
			slog.Warn("Reaper.Sweep: abandon failed", "sessionID", id, "error", err)
			continue
		}
		reaped++
	}
	slog.Info("Reaper.Sweep: idle sessions abandoned", "candidates", len(ids), "reaped", reaped)
}
