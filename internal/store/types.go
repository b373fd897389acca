package store

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a row in the session log.
type EventType string

const (
	EventStart            EventType = "START"
	EventEnd              EventType = "END"
	EventRecordGeneration EventType = "RECORD_GENERATION"
)

// Status is the build classification of a session. It lives on the row
// created by the START event and only ever moves forward:
// WAITING_FOR_END -> TO_BE_BUILT -> one of the terminal values.
type Status string

const (
	StatusWaitingForEnd Status = "WAITING_FOR_END"
	StatusToBeBuilt     Status = "TO_BE_BUILT"
	StatusCompleted     Status = "COMPLETED"
	StatusError         Status = "ERROR"
	StatusNoFilesFound  Status = "NO_FILES_FOUND"
)

// statusRank orders statuses for the monotonicity check in UpdateStatus.
// Terminal statuses share a rank: once one is reached, no further movement.
var statusRank = map[Status]int{
	StatusWaitingForEnd: 0,
	StatusToBeBuilt:     1,
	StatusCompleted:     2,
	StatusError:         2,
	StatusNoFilesFound:  2,
}

// Terminal reports whether a status may never be left again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusNoFilesFound
}

func (s Status) valid() bool {
	_, ok := statusRank[s]
	return ok
}

// SessionEvent is one row of the append-mostly session log. Rows are never
// updated except for RecordStatus on the START row.
type SessionEvent struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	SessionID    uuid.UUID `gorm:"column:session_identifier;type:varchar(36);index;not null"`
	EventType    EventType `gorm:"column:event_type;type:varchar(20);not null"`
	Instrument   string    `gorm:"column:instrument;type:varchar(64);index;not null"`
	Timestamp    time.Time `gorm:"column:timestamp;not null"`
	User         string    `gorm:"column:session_user;type:varchar(64)"`
	RecordStatus Status    `gorm:"column:record_status;type:varchar(20);index"`
}

func (SessionEvent) TableName() string {
	return "session_log"
}

// Session is the resolved pairing of one START and one END event sharing a
// session identifier.
type Session struct {
	ID         uuid.UUID
	Instrument string
	Start      time.Time
	End        time.Time
	User       string
}

// Inconsistency describes a START row whose END rows do not pair up: either
// none exist or more than one does. It is reported, never silently repaired.
type Inconsistency struct {
	SessionID  uuid.UUID
	Instrument string
	EndCount   int
}
