// Package store persists the session lifecycle log. Distributed
// session-logger clients append START/END rows concurrently; the build
// orchestrator is the only writer of RECORD_GENERATION rows and record
// status updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoUnresolvedStart  = errors.New("no unresolved session for instrument")
	ErrStatusRegression   = errors.New("record status may not move backward")
	ErrUnknownStatus      = errors.New("unknown record status")
	ErrInconsistentState  = errors.New("inconsistent session state")
	ErrDuplicateEventType = errors.New("event type already logged for session")
)

// Lock contention on SQLite over a shared mount resolves in well under a
// second in practice; beyond these attempts the error is surfaced.
const (
	busyRetries      = 5
	busyBackoffStep  = 50 * time.Millisecond
	connectRetries   = 5
	connectBackoff   = 2 * time.Second
	defaultSQLiteDSN = "nexuslims.db"
)

// EventStore is the persistence contract for the session log.
type EventStore interface {
	AppendEvent(ctx context.Context, event SessionEvent) error
	SessionsToBuild(ctx context.Context) ([]Session, []Inconsistency, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	RecordGenerationEvent(ctx context.Context, session Session) error
	UnresolvedSession(ctx context.Context, instrument string) (*SessionEvent, error)
	ListEvents(ctx context.Context, limit int) ([]SessionEvent, error)
}

// SQLStore implements EventStore on a relational database: SQLite embedded
// by default, Postgres when the DSN carries a postgres:// scheme.
type SQLStore struct {
	db *gorm.DB
}

// Open connects to the database named by dsn and migrates the session log
// schema. Postgres connections are retried with a fixed backoff since the
// server may still be starting.
func Open(dsn string) (*SQLStore, error) {
	if dsn == "" {
		dsn = defaultSQLiteDSN
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var db *gorm.DB
	var err error
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		for attempt := 0; attempt < connectRetries; attempt++ {
			db, err = gorm.Open(postgres.Open(dsn), cfg)
			if err == nil {
				break
			}
			time.Sleep(connectBackoff)
		}
	} else {
		// _busy_timeout makes concurrent appenders from independent logger
		// processes wait for each other instead of failing immediately.
		db, err = gorm.Open(sqlite.Open(dsn+"?_pragma=busy_timeout(5000)"), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	if err := db.AutoMigrate(&SessionEvent{}); err != nil {
		return nil, fmt.Errorf("migrate session log: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// AppendEvent inserts one log row. Duplicate (session, event type) pairs are
// a caller bug and rejected so a malfunctioning logger client cannot corrupt
// the pairing invariant.
func (s *SQLStore) AppendEvent(ctx context.Context, event SessionEvent) error {
	if event.SessionID == uuid.Nil {
		return errors.New("append event: session identifier is required")
	}
	if event.EventType == EventStart || event.EventType == EventEnd {
		var count int64
		err := s.db.WithContext(ctx).Model(&SessionEvent{}).
			Where("session_identifier = ? AND event_type = ?", event.SessionID, event.EventType).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check existing events: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: %s for %s", ErrDuplicateEventType, event.EventType, event.SessionID)
		}
	}

	return s.withBusyRetry(func() error {
		if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
			return fmt.Errorf("append %s event: %w", event.EventType, err)
		}
		return nil
	})
}

// SessionsToBuild resolves every START row with status TO_BE_BUILT against
// its END row. START rows with zero or multiple END rows are returned as
// inconsistencies rather than silently dropped or repaired.
func (s *SQLStore) SessionsToBuild(ctx context.Context) ([]Session, []Inconsistency, error) {
	var starts []SessionEvent
	err := s.db.WithContext(ctx).
		Where("event_type = ? AND record_status = ?", EventStart, StatusToBeBuilt).
		Order("timestamp asc").
		Find(&starts).Error
	if err != nil {
		return nil, nil, fmt.Errorf("query buildable sessions: %w", err)
	}

	sessions := make([]Session, 0, len(starts))
	var inconsistencies []Inconsistency
	for _, start := range starts {
		var ends []SessionEvent
		err := s.db.WithContext(ctx).
			Where("session_identifier = ? AND event_type = ?", start.SessionID, EventEnd).
			Find(&ends).Error
		if err != nil {
			return nil, nil, fmt.Errorf("query end events for %s: %w", start.SessionID, err)
		}
		if len(ends) != 1 {
			inconsistencies = append(inconsistencies, Inconsistency{
				SessionID:  start.SessionID,
				Instrument: start.Instrument,
				EndCount:   len(ends),
			})
			continue
		}
		sessions = append(sessions, Session{
			ID:         start.SessionID,
			Instrument: start.Instrument,
			Start:      start.Timestamp,
			End:        ends[0].Timestamp,
			User:       start.User,
		})
	}

	return sessions, inconsistencies, nil
}

// UpdateStatus moves the START row of a session to status. Setting the value
// it already has is a no-op; moving backward (including away from a terminal
// status) returns ErrStatusRegression.
func (s *SQLStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}

	return s.withBusyRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var start SessionEvent
			err := tx.Where("session_identifier = ? AND event_type = ?", id, EventStart).
				First(&start).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
				}
				return fmt.Errorf("load start event: %w", err)
			}

			if start.RecordStatus == status {
				return nil
			}
			if statusRank[status] <= statusRank[start.RecordStatus] {
				return fmt.Errorf("%w: %s -> %s for %s", ErrStatusRegression, start.RecordStatus, status, id)
			}

			err = tx.Model(&SessionEvent{}).
				Where("id = ?", start.ID).
				Update("record_status", status).Error
			if err != nil {
				return fmt.Errorf("update record status: %w", err)
			}
			return nil
		})
	})
}

// RecordGenerationEvent appends the terminal audit row for a built session.
func (s *SQLStore) RecordGenerationEvent(ctx context.Context, session Session) error {
	return s.AppendEvent(ctx, SessionEvent{
		SessionID:  session.ID,
		EventType:  EventRecordGeneration,
		Instrument: session.Instrument,
		Timestamp:  time.Now().UTC(),
		User:       session.User,
	})
}

// UnresolvedSession returns the most recent START row for instrument that
// has no matching END row, or ErrNoUnresolvedStart. Logger clients use it to
// enforce one open session per instrument.
func (s *SQLStore) UnresolvedSession(ctx context.Context, instrument string) (*SessionEvent, error) {
	var starts []SessionEvent
	err := s.db.WithContext(ctx).
		Where("event_type = ? AND instrument = ?", EventStart, instrument).
		Order("timestamp desc").
		Find(&starts).Error
	if err != nil {
		return nil, fmt.Errorf("query start events: %w", err)
	}

	for _, start := range starts {
		var count int64
		err := s.db.WithContext(ctx).Model(&SessionEvent{}).
			Where("session_identifier = ? AND event_type = ?", start.SessionID, EventEnd).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("count end events: %w", err)
		}
		if count == 0 {
			unresolved := start
			return &unresolved, nil
		}
		// The most recent start is resolved, so every older one is too.
		break
	}

	return nil, fmt.Errorf("%w: %s", ErrNoUnresolvedStart, instrument)
}

// ListEvents returns the newest limit rows of the session log, newest first.
func (s *SQLStore) ListEvents(ctx context.Context, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []SessionEvent
	err := s.db.WithContext(ctx).
		Order("timestamp desc").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	return events, nil
}

// withBusyRetry retries a write that failed on SQLite lock contention with a
// linear backoff. Any other error is returned as-is.
func (s *SQLStore) withBusyRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * busyBackoffStep)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
