// Package logger implements the session-logger client that runs on each
// instrument host. It appends START/END rows to the shared session store and
// never touches record status except for the WAITING_FOR_END -> TO_BE_BUILT
// handoff when a session ends.
//
// Store operations often cross a network mount, so the client runs them on a
// background worker that reports typed progress over a channel; the
// foreground polls that channel on a fixed interval and cancellation is
// cooperative, checked between blocking sub-steps.
package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/usnistgov/NexusLIMS-sub001/internal/store"
)

// Stage identifies the sub-step a worker is executing.
type Stage string

const (
	StageCheckingPrior  Stage = "checking prior session"
	StageAppendingEvent Stage = "appending session event"
	StageUpdatingStatus Stage = "updating record status"
	StageDone           Stage = "done"
)

// Progress is the typed event a worker emits after each sub-step. The final
// event has Stage StageDone and carries the session identifier or the error.
type Progress struct {
	Stage     Stage
	SessionID uuid.UUID
	Err       error
}

// UnresolvedError reports that a prior session on this instrument has a
// START row without an END. It is surfaced to the operator, who decides
// whether to continue the prior session or abandon it; it is never repaired
// automatically.
type UnresolvedError struct {
	Prior *store.SessionEvent
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("instrument %s has an unresolved session %s started %s by %s",
		e.Prior.Instrument, e.Prior.SessionID, e.Prior.Timestamp.Format(time.RFC3339), e.Prior.User)
}

type Client struct {
	store      store.EventStore
	instrument string
	user       string
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(eventStore store.EventStore, instrument, user string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		store:      eventStore,
		instrument: instrument,
		user:       user,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartSession begins a new session on the client's instrument. The returned
// channel carries progress events and is closed after the final one.
func (c *Client) StartSession(ctx context.Context) <-chan Progress {
	return c.run(ctx, func(ctx context.Context, emit func(Progress)) (uuid.UUID, error) {
		emit(Progress{Stage: StageCheckingPrior})
		prior, err := c.store.UnresolvedSession(ctx, c.instrument)
		if err == nil {
			return uuid.Nil, &UnresolvedError{Prior: prior}
		}
		if !errors.Is(err, store.ErrNoUnresolvedStart) {
			return uuid.Nil, fmt.Errorf("check prior session: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		emit(Progress{Stage: StageAppendingEvent})
		id := uuid.New()
		err = c.store.AppendEvent(ctx, store.SessionEvent{
			SessionID:    id,
			EventType:    store.EventStart,
			Instrument:   c.instrument,
			Timestamp:    c.now(),
			User:         c.user,
			RecordStatus: store.StatusWaitingForEnd,
		})
		if err != nil {
			return uuid.Nil, fmt.Errorf("append start event: %w", err)
		}
		return id, nil
	})
}

// EndSession closes the instrument's open session: it appends the END row
// and hands the session to the build sweep by flipping its status to
// TO_BE_BUILT.
func (c *Client) EndSession(ctx context.Context) <-chan Progress {
	return c.run(ctx, func(ctx context.Context, emit func(Progress)) (uuid.UUID, error) {
		emit(Progress{Stage: StageCheckingPrior})
		open, err := c.store.UnresolvedSession(ctx, c.instrument)
		if err != nil {
			return uuid.Nil, fmt.Errorf("find open session: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		emit(Progress{Stage: StageAppendingEvent})
		err = c.store.AppendEvent(ctx, store.SessionEvent{
			SessionID:  open.SessionID,
			EventType:  store.EventEnd,
			Instrument: c.instrument,
			Timestamp:  c.now(),
			User:       c.user,
		})
		if err != nil {
			return uuid.Nil, fmt.Errorf("append end event: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return uuid.Nil, err
		}

		emit(Progress{Stage: StageUpdatingStatus})
		if err := c.store.UpdateStatus(ctx, open.SessionID, store.StatusToBeBuilt); err != nil {
			return uuid.Nil, fmt.Errorf("mark session to be built: %w", err)
		}
		return open.SessionID, nil
	})
}

// AbandonPrior resolves a dangling session by appending its END row and
// marking it ERROR so the sweep never builds it. Used when the operator
// chooses not to continue an unresolved session.
func (c *Client) AbandonPrior(ctx context.Context) (uuid.UUID, error) {
	prior, err := c.store.UnresolvedSession(ctx, c.instrument)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find prior session: %w", err)
	}

	err = c.store.AppendEvent(ctx, store.SessionEvent{
		SessionID:  prior.SessionID,
		EventType:  store.EventEnd,
		Instrument: c.instrument,
		Timestamp:  c.now(),
		User:       c.user,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("append end event for abandoned session: %w", err)
	}
	if err := c.store.UpdateStatus(ctx, prior.SessionID, store.StatusError); err != nil {
		return uuid.Nil, fmt.Errorf("mark abandoned session: %w", err)
	}

	c.logger.Info("abandoned unresolved session", "session", prior.SessionID, "instrument", c.instrument)
	return prior.SessionID, nil
}

// run executes op on a background goroutine, forwarding its progress events
// and closing the channel after the terminal event. The buffer lets the
// worker finish even if the foreground stops polling.
func (c *Client) run(ctx context.Context, op func(ctx context.Context, emit func(Progress)) (uuid.UUID, error)) <-chan Progress {
	progress := make(chan Progress, 8)
	go func() {
		defer close(progress)
		id, err := op(ctx, func(p Progress) { progress <- p })
		progress <- Progress{Stage: StageDone, SessionID: id, Err: err}
	}()
	return progress
}

// Wait drives the foreground side of a client operation: it polls the
// progress channel on the given interval, invoking onTick with the most
// recent event each time, and returns the terminal event. onTick may be nil.
func Wait(progress <-chan Progress, interval time.Duration, onTick func(Progress)) Progress {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var latest Progress
	for {
		select {
		case p, ok := <-progress:
			if !ok {
				return latest
			}
			latest = p
			if p.Stage == StageDone {
				// Drain the close, then hand the terminal event back.
				for range progress {
				}
				return latest
			}
		case <-ticker.C:
			if onTick != nil {
				onTick(latest)
			}
		}
	}
}
