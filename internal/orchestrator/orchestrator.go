// Package orchestrator drives the record-building sweep: it resolves every
// buildable session from the store, builds each one in sequence, and moves
// its record status to exactly one terminal value. A failure on one session
// never aborts the rest of the sweep, and terminal statuses are never
// reverted.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/usnistgov/NexusLIMS-sub001/internal/activity"
	"github.com/usnistgov/NexusLIMS-sub001/internal/discovery"
	"github.com/usnistgov/NexusLIMS-sub001/internal/extract"
	"github.com/usnistgov/NexusLIMS-sub001/internal/record"
	"github.com/usnistgov/NexusLIMS-sub001/internal/registry"
	"github.com/usnistgov/NexusLIMS-sub001/internal/reservation"
	"github.com/usnistgov/NexusLIMS-sub001/internal/store"
	"github.com/usnistgov/NexusLIMS-sub001/internal/timespan"
)

// Finder lists candidate data files for a time window.
type Finder interface {
	FindFiles(ctx context.Context, root string, from, to time.Time) ([]discovery.FileRef, error)
}

// FinderFactory builds a Finder configured with the ignore patterns of one
// instrument.
type FinderFactory func(ignorePatterns []string) (Finder, error)

// Extractors is the metadata-extraction collaborator surface the sweep uses.
type Extractors interface {
	Known(path string) bool
	Extract(path string) (*extract.Report, error)
}

// Matcher finds the calendar reservation backing a session window.
type Matcher interface {
	Match(ctx context.Context, calendarID string, window timespan.Interval) (reservation.Descriptor, error)
}

// RecordWriter persists an assembled record document.
type RecordWriter interface {
	Write(doc *record.Record, session store.Session, dataRoot string, location *time.Location) (string, error)
}

// Uploader pushes a written record to the downstream document repository.
// Upload failures never affect build status.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Outcome is the per-session result of one sweep.
type Outcome struct {
	SessionID  string
	Instrument string
	Status     store.Status
	FileCount  int
	Activities int
	RecordPath string
	Err        error
}

// Options configures a sweep.
type Options struct {
	// DryRun executes discovery and segmentation only: it reports per-session
	// file counts and performs no writes of any kind.
	DryRun bool
	// Strategy controls whether files without a known extractor are retained.
	Strategy extract.Strategy
	// IgnorePatterns apply to every instrument, in addition to the
	// instrument's own patterns.
	IgnorePatterns []string
}

type Orchestrator struct {
	store      store.EventStore
	registry   *registry.Registry
	finders    FinderFactory
	extractors Extractors
	matcher    Matcher
	writer     RecordWriter
	uploader   Uploader
	logger     *slog.Logger
}

// New wires a build orchestrator. uploader may be nil when no downstream
// repository is configured.
func New(
	eventStore store.EventStore,
	instruments *registry.Registry,
	finders FinderFactory,
	extractors Extractors,
	matcher Matcher,
	writer RecordWriter,
	uploader Uploader,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      eventStore,
		registry:   instruments,
		finders:    finders,
		extractors: extractors,
		matcher:    matcher,
		writer:     writer,
		uploader:   uploader,
		logger:     logger,
	}
}

// Sweep processes every buildable session sequentially and returns one
// outcome per session. Inconsistent sessions are logged and skipped; they
// stay pending for an operator to resolve.
func (o *Orchestrator) Sweep(ctx context.Context, opts Options) ([]Outcome, error) {
	sessions, inconsistencies, err := o.store.SessionsToBuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve buildable sessions: %w", err)
	}
	for _, inconsistency := range inconsistencies {
		o.logger.Warn("inconsistent session state, skipping",
			"session", inconsistency.SessionID,
			"instrument", inconsistency.Instrument,
			"end_events", inconsistency.EndCount)
	}

	outcomes := make([]Outcome, 0, len(sessions))
	for _, session := range sessions {
		outcome := o.processSession(ctx, session, opts)
		o.logOutcome(outcome)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (o *Orchestrator) processSession(ctx context.Context, session store.Session, opts Options) Outcome {
	outcome := Outcome{
		SessionID:  session.ID.String(),
		Instrument: session.Instrument,
	}

	instrument, err := o.registry.Lookup(session.Instrument)
	if err != nil {
		return o.fail(ctx, session, outcome, opts, fmt.Errorf("lookup instrument: %w", err))
	}

	finder, err := o.finders(append(opts.IgnorePatterns, instrument.IgnorePatterns...))
	if err != nil {
		return o.fail(ctx, session, outcome, opts, fmt.Errorf("configure file discovery: %w", err))
	}

	files, err := finder.FindFiles(ctx, instrument.DataRoot, session.Start, session.End)
	if err != nil {
		return o.fail(ctx, session, outcome, opts, fmt.Errorf("discover files: %w", err))
	}
	outcome.FileCount = len(files)

	if len(files) == 0 {
		outcome.Status = store.StatusNoFilesFound
		if opts.DryRun {
			return outcome
		}
		if err := o.store.UpdateStatus(ctx, session.ID, store.StatusNoFilesFound); err != nil {
			outcome.Err = fmt.Errorf("mark session no-files-found: %w", err)
		}
		return outcome
	}

	inputs := o.extractMetadata(session, files, opts.Strategy)
	outcome.FileCount = len(inputs)

	activities, unclassified := activity.Segment(inputs)
	if len(activities) == 0 {
		// Every file lacked a usable mode. The session still completes, with
		// the files collapsed into a single unclassified activity.
		if fallback := activity.Unclassified(unclassified); fallback != nil {
			activities = []activity.Activity{*fallback}
			unclassified = nil
		}
	} else if len(unclassified) > 0 {
		// Files acquired before the first classifiable one are retained as a
		// leading unclassified activity rather than dropped.
		if fallback := activity.Unclassified(unclassified); fallback != nil {
			activities = append([]activity.Activity{*fallback}, activities...)
		}
	}
	outcome.Activities = len(activities)

	if opts.DryRun {
		// No writes: the session keeps its pending status.
		outcome.Status = store.StatusToBeBuilt
		return outcome
	}

	descriptor, err := o.matcher.Match(ctx, instrument.CalendarID, timespan.New(session.Start, session.End))
	if err != nil {
		return o.fail(ctx, session, outcome, opts, fmt.Errorf("match reservation: %w", err))
	}

	doc, err := record.Assemble(session, descriptor, activities, instrument.Location())
	if err != nil {
		return o.fail(ctx, session, outcome, opts, fmt.Errorf("assemble record: %w", err))
	}

	path, err := o.writer.Write(doc, session, instrument.DataRoot, instrument.Location())
	if err != nil {
		return o.fail(ctx, session, outcome, opts, fmt.Errorf("persist record: %w", err))
	}
	outcome.RecordPath = path

	if err := o.store.UpdateStatus(ctx, session.ID, store.StatusCompleted); err != nil {
		outcome.Status = store.StatusCompleted
		outcome.Err = fmt.Errorf("mark session completed: %w", err)
		return outcome
	}
	if err := o.store.RecordGenerationEvent(ctx, session); err != nil {
		o.logger.Warn("record generation event not logged", "session", session.ID, "error", err)
	}
	outcome.Status = store.StatusCompleted

	// Upload happens after the build is committed; a failure here is logged
	// and retried independently, never reverting COMPLETED.
	if o.uploader != nil {
		if err := o.uploader.Upload(ctx, path); err != nil {
			o.logger.Warn("record upload failed, safe to retry", "session", session.ID, "record", path, "error", err)
		}
	}

	return outcome
}

// extractMetadata runs the extraction collaborator over every discovered
// file. Per-file failures are logged and represented as nil reports; with
// the exclusive strategy, files no extractor claims are dropped entirely.
func (o *Orchestrator) extractMetadata(session store.Session, files []discovery.FileRef, strategy extract.Strategy) []activity.Input {
	inputs := make([]activity.Input, 0, len(files))
	for _, file := range files {
		if strategy == extract.StrategyExclusive && !o.extractors.Known(file.Path) {
			o.logger.Debug("dropping file without extractor", "session", session.ID, "file", file.Path)
			continue
		}
		report, err := o.extractors.Extract(file.Path)
		if err != nil {
			o.logger.Warn("metadata extraction failed, retaining file",
				"session", session.ID, "file", file.Path, "error", err)
			report = nil
		}
		inputs = append(inputs, activity.Input{File: file, Report: report})
	}
	return inputs
}

// fail transitions a session to ERROR (outside dry runs) and records the
// cause on the outcome. The sweep carries on with the next session.
func (o *Orchestrator) fail(ctx context.Context, session store.Session, outcome Outcome, opts Options, cause error) Outcome {
	outcome.Status = store.StatusError
	outcome.Err = cause
	if opts.DryRun {
		return outcome
	}
	if err := o.store.UpdateStatus(ctx, session.ID, store.StatusError); err != nil {
		o.logger.Error("status update failed after build error",
			"session", session.ID, "cause", cause, "error", err)
	}
	return outcome
}

func (o *Orchestrator) logOutcome(outcome Outcome) {
	attrs := []any{
		"session", outcome.SessionID,
		"instrument", outcome.Instrument,
		"status", outcome.Status,
		"files", outcome.FileCount,
	}
	if outcome.RecordPath != "" {
		attrs = append(attrs, "record", outcome.RecordPath)
	}
	if outcome.Err != nil {
		attrs = append(attrs, "error", outcome.Err)
		o.logger.Error("session build failed", attrs...)
		return
	}
	o.logger.Info("session processed", attrs...)
}

// DefaultFinderFactory builds the production file finder.
func DefaultFinderFactory(patterns []string) (Finder, error) {
	return discovery.NewFinder(patterns)
}
