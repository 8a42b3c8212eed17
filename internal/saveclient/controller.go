// Package saveclient implements the editor-side save loop: it batches
// local mutations, debounces network saves, carries the optimistic base
// revision, and surfaces conflicts instead of merging them.
package saveclient

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the controller's externally visible save state.
type State string

const (
	StateIdle   State = "idle"
	StateDirty  State = "dirty"
	StateSaving State = "saving"
	StateSaved  State = "saved"
	StateError  State = "error"
)

var (
	// ErrConflict reports a rejected save caused by a stale base revision.
	// The caller decides between overwrite (Retry) and reload; the
	// controller never merges.
	ErrConflict = errors.New("save rejected: stale base revision")

	// ErrClosed reports use of a controller after Close.
	ErrClosed = errors.New("save controller is closed")
)

// Outcome is what a Saver reports for one save round trip.
type Outcome struct {
	Accepted       bool
	Conflict       bool
	ServerRevision int64 // acked revision, or the authoritative one on conflict
}

// Saver performs one durable save of the full draft content against a base
// revision. Implementations return Outcome for expected results (accept,
// conflict) and an error only for failures; wrap permanent failures with
// Permanent so the controller knows not to retry them.
type Saver interface {
	Save(ctx context.Context, content string, baseRevision int64) (Outcome, error)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not retryable (validation, authorization).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

const (
	defaultDebounce   = time.Second
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// Controller is the per-session save state machine. All methods are safe
// for concurrent use; at most one save request is in flight at a time.
type Controller struct {
	mu    sync.Mutex
	saver Saver

	debounce time.Duration
	state    State

	content  string
	localSeq int64 // bumps on every MarkDirty

	inflightSeq int64
	saving      bool
	flightDone  chan struct{} // closed when the in-flight save resolves

	ackedRevision    int64 // monotonic, never moves backward
	conflictRevision int64
	lastErr          error

	timer      *time.Timer
	retryDelay time.Duration
	closed     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce overrides the mutation-quiescence window before a save.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithRetryDelay overrides the initial backoff after a transient failure.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// New creates a Controller for a page whose last known server revision is
// baseRevision (1 for a freshly created page).
func New(saver Saver, baseRevision int64, opts ...Option) *Controller {
	c := &Controller{
		saver:         saver,
		debounce:      defaultDebounce,
		state:         StateIdle,
		ackedRevision: baseRevision,
		retryDelay:    initialRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MarkDirty records a local mutation carrying the full current draft
// content and (re)starts the debounce window. It never blocks on an
// in-flight request: if a save is out, the supersession rule guarantees
// one more send once that save resolves.
func (c *Controller) MarkDirty(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.content = content
	c.localSeq++
	c.state = StateDirty
	c.lastErr = nil

	if c.saving {
		// flight resolution will notice localSeq moved and resend
		return
	}
	c.scheduleLocked(c.debounce)
}

// SaveNow flushes immediately, bypassing the debounce window. If a save is
// already in flight it waits for that outcome first and sends again only
// if a newer mutation still needs flushing. It returns once the local
// state is durably stored, or with the error that stopped it.
func (c *Controller) SaveNow(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}

		if c.saving {
			done := c.flightDone
			c.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		switch c.state {
		case StateDirty:
			if c.lastErr != nil {
				// previous attempt failed and no new mutation arrived;
				// hand the error back instead of hammering the network
				err := c.lastErr
				c.mu.Unlock()
				return err
			}
			c.stopTimerLocked()
			c.startFlightLocked()
			done := c.flightDone
			c.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		case StateError:
			err := c.lastErr
			c.mu.Unlock()
			return err
		default:
			c.mu.Unlock()
			return nil
		}
	}
}

// Retry recovers from the error state. After a conflict it adopts the
// authoritative server revision as the new base, which is the caller's
// explicit overwrite decision; the controller itself never rebases.
func (c *Controller) Retry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state != StateError {
		return
	}

	if c.conflictRevision > c.ackedRevision {
		c.ackedRevision = c.conflictRevision
	}
	c.conflictRevision = 0
	c.lastErr = nil
	c.state = StateDirty
	if !c.saving {
		c.scheduleLocked(0)
	}
}

// State returns the current save state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AckedRevision returns the last server revision acknowledged by a
// successful save. It never decreases.
func (c *Controller) AckedRevision() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ackedRevision
}

// LastError returns the error that moved the controller into StateError,
// or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ConflictRevision returns the authoritative server revision reported by
// the most recent conflict, or 0 when no conflict is pending.
func (c *Controller) ConflictRevision() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflictRevision
}

// Close stops timers and rejects further work. An in-flight save resolves
// normally but schedules nothing afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopTimerLocked()
}

// scheduleLocked arms the debounce timer. The most recently scheduled send
// always wins: rearming drops any earlier pending fire, which is also the
// resolution for a manual flush racing the debounce.
func (c *Controller) scheduleLocked(after time.Duration) {
	c.stopTimerLocked()
	c.timer = time.AfterFunc(after, c.timerFired)
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) timerFired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.saving || c.state != StateDirty {
		return
	}
	c.startFlightLocked()
}

// startFlightLocked captures the current local state and sends it on a
// fresh goroutine. Caller holds the lock.
func (c *Controller) startFlightLocked() {
	c.saving = true
	c.state = StateSaving
	c.inflightSeq = c.localSeq
	c.flightDone = make(chan struct{})

	content := c.content
	base := c.ackedRevision

	go c.runFlight(content, base)
}

func (c *Controller) runFlight(content string, base int64) {
	outcome, err := c.saver.Save(context.Background(), content, base)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.saving = false
	close(c.flightDone)

	superseded := c.localSeq > c.inflightSeq

	switch {
	case err != nil:
		c.lastErr = err
		c.state = StateError
		if !IsPermanent(err) && !c.closed {
			// transient network failure: re-enter dirty after backoff
			c.state = StateDirty
			c.scheduleLocked(c.retryDelay)
			c.retryDelay *= 2
			if c.retryDelay > maxRetryDelay {
				c.retryDelay = maxRetryDelay
			}
		}
	case outcome.Conflict:
		c.lastErr = ErrConflict
		c.conflictRevision = outcome.ServerRevision
		c.state = StateError
	default:
		c.lastErr = nil
		c.conflictRevision = 0
		c.retryDelay = initialRetryDelay
		if outcome.ServerRevision > c.ackedRevision {
			c.ackedRevision = outcome.ServerRevision
		}
		if superseded && !c.closed {
			// A newer local state exists: exactly one follow-up send with
			// the latest content against the revision just acknowledged.
			c.state = StateDirty
			c.scheduleLocked(0)
		} else {
			c.state = StateSaved
		}
	}
}
