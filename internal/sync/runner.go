package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/bidwatch/lotkeeper/internal/events"
	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

// State is the runner's current mode. Stopping a runner returns it to idle;
// idle and "stopped" are the same rest state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Control errors: invalid transition requests are rejected synchronously
// with no state change.
var (
	ErrNotRunning = errors.New("runner is not running")
	ErrNotPaused  = errors.New("runner is not paused")
	ErrNotActive  = errors.New("runner is not active")
	ErrNoInterval = errors.New("interval must be positive")
)

// Status is a point-in-time snapshot of the runner's bookkeeping.
type Status struct {
	State           State             `json:"state"`
	Target          *lotkeeper.Target `json:"target,omitempty"`
	Interval        time.Duration     `json:"interval,omitempty"`
	MaxPages        int               `json:"max_pages,omitempty"`
	DryRun          bool              `json:"dry_run,omitempty"`
	CompletedPasses int               `json:"completed_passes"`
	LastPassAt      *time.Time        `json:"last_pass_at,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

// Runner owns the background repetition of sync passes for one target.
//
// One runner drives at most one loop; starting a running runner is an
// idempotent no-op, not an error. Pause and stop are cooperative: an
// in-flight pass always runs to completion so nothing is half-persisted.
type Runner struct {
	orch *Orchestrator
	bus  *events.Bus

	mu          stdsync.Mutex
	state       State
	target      lotkeeper.Target
	interval    time.Duration
	opts        Options
	completed   int
	lastPassAt  *time.Time
	lastErr     string
	loopStarted bool

	// wake kicks the loop out of whatever wait it's in so it re-reads state.
	wake chan struct{}
}

// NewRunner creates an idle runner.
func NewRunner(orch *Orchestrator, bus *events.Bus) *Runner {
	return &Runner{
		orch:  orch,
		bus:   bus,
		state: StateIdle,
		wake:  make(chan struct{}, 1),
	}
}

// Start configures the target and begins the loop: first pass immediately,
// then one pass every interval after the previous pass completes, so passes
// never overlap.
//
// Calling Start while running returns the current state unchanged. Calling
// it while paused resumes — the control surface deliberately keeps the
// original pause-then-start shape.
func (r *Runner) Start(ctx context.Context, target lotkeeper.Target, interval time.Duration, opts Options) (Status, error) {
	if interval <= 0 {
		return r.Status(), ErrNoInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRunning:
		return r.statusLocked(), nil
	case StatePaused:
		r.state = StateRunning
		r.kick()
		return r.statusLocked(), nil
	default:
	}

	r.target = target
	r.interval = interval
	r.opts = opts
	r.completed = 0
	r.lastPassAt = nil
	r.lastErr = ""
	r.state = StateRunning

	if !r.loopStarted {
		r.loopStarted = true
		go r.loop(ctx)
	} else {
		r.kick()
	}

	return r.statusLocked(), nil
}

// Pause suspends scheduling of future passes; the in-flight pass, if any,
// finishes first. Only valid while running.
func (r *Runner) Pause() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return r.statusLocked(), ErrNotRunning
	}
	r.state = StatePaused

	return r.statusLocked(), nil
}

// Resume continues scheduling from a pause. The HTTP surface reaches this
// through a second Start call; it exists as its own operation so the
// transition table stays explicit.
func (r *Runner) Resume() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StatePaused {
		return r.statusLocked(), ErrNotPaused
	}
	r.state = StateRunning
	r.kick()

	return r.statusLocked(), nil
}

// Stop tears the loop down and discards the target. The in-flight pass, if
// any, still runs to completion and records its summary. Valid from running
// or paused; stopping an idle runner is rejected.
func (r *Runner) Stop() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateIdle {
		return r.statusLocked(), ErrNotActive
	}
	r.state = StateIdle
	r.target = lotkeeper.Target{}
	r.kick()

	return r.statusLocked(), nil
}

// Status reports the runner's current state. It never blocks on the loop.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Runner) statusLocked() Status {
	s := Status{
		State:           r.state,
		CompletedPasses: r.completed,
		LastPassAt:      r.lastPassAt,
		LastError:       r.lastErr,
	}
	if r.state != StateIdle {
		t := r.target
		s.Target = &t
		s.Interval = r.interval
		s.MaxPages = r.opts.MaxPages
		s.DryRun = r.opts.DryRun
	}

	return s
}

// kick wakes the loop without blocking; a pending wake is enough.
func (r *Runner) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// loop is the single background goroutine. It parks while idle or paused
// and only exits when ctx is done, so start/stop cycles never race two
// loops against each other.
func (r *Runner) loop(ctx context.Context) {
	for {
		r.mu.Lock()
		state, target, opts, interval := r.state, r.target, r.opts, r.interval
		r.mu.Unlock()

		if state != StateRunning {
			select {
			case <-r.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		r.runPass(ctx, target, opts)

		select {
		case <-time.After(interval):
		case <-r.wake:
		case <-ctx.Done():
			return
		}
	}
}

// runPass executes one pass and folds the outcome into the bookkeeping.
// Nothing escaping a pass may kill the loop: errors become lastError and a
// sync_error event, and the next pass is scheduled as usual.
func (r *Runner) runPass(ctx context.Context, target lotkeeper.Target, opts Options) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("pass panicked: %v", p)
			slog.Error("sync pass panicked", "target", target.Code, "panic", p)

			r.mu.Lock()
			r.lastErr = err.Error()
			r.mu.Unlock()

			r.bus.Publish(events.New(events.TypeSyncError, events.SyncErrorPayload{
				TargetCode: target.Code,
				Error:      err.Error(),
			}))
		}
	}()

	summary, err := r.orch.RunOnce(ctx, target, opts)

	r.mu.Lock()
	r.completed++
	finished := summary.FinishedAt
	r.lastPassAt = &finished
	if err != nil {
		r.lastErr = err.Error()
	} else {
		r.lastErr = ""
	}
	r.mu.Unlock()

	if err != nil {
		slog.Warn("sync pass failed", "target", target.Code, "error", err)
	}
}
