// Package reservation matches an instrument session to the calendar booking
// it was most likely run under. Calendar metadata is advisory: a session
// with no booking still builds, carrying a placeholder descriptor.
package reservation

import (
	"context"
	"time"

	"github.com/usnistgov/NexusLIMS-sub001/internal/timespan"
)

// Candidate is one calendar entry returned by the harvester.
type Candidate struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Title   string    `json:"title"`
	User    string    `json:"user"`
	Purpose string    `json:"purpose"`
	Sample  string    `json:"sample"`
	Project string    `json:"project"`
}

// Descriptor is the reservation metadata attached to a record. Matched is
// false for the placeholder used when no booking overlaps the session.
type Descriptor struct {
	Matched bool
	ID      string
	Start   time.Time
	End     time.Time
	Title   string
	User    string
	Purpose string
	Sample  string
	Project string
}

// NoReservation is the placeholder descriptor for sessions without a
// matching calendar entry.
func NoReservation() Descriptor {
	return Descriptor{Matched: false, Title: "No matching calendar reservation"}
}

// Harvester is the calendar back-end collaborator. An empty candidate list
// is a normal result, not an error.
type Harvester interface {
	FindReservations(ctx context.Context, calendarID string, from, to time.Time) ([]Candidate, error)
}

// DefaultMargin widens the harvester query window to tolerate clock skew
// between instrument hosts and the calendar system.
const DefaultMargin = 24 * time.Hour

type Matcher struct {
	harvester Harvester
	margin    time.Duration
}

func NewMatcher(harvester Harvester, margin time.Duration) *Matcher {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Matcher{harvester: harvester, margin: margin}
}

// Match queries the harvester for candidates around the session window and
// selects the one sharing the most time with it. Ties go to the earlier
// candidate in harvester order. Zero candidates, or a best candidate that
// does not actually overlap the unpadded window, yield the placeholder.
func (m *Matcher) Match(ctx context.Context, calendarID string, window timespan.Interval) (Descriptor, error) {
	query := window.Pad(m.margin)
	candidates, err := m.harvester.FindReservations(ctx, calendarID, query.Start, query.End)
	if err != nil {
		return Descriptor{}, err
	}
	if len(candidates) == 0 {
		return NoReservation(), nil
	}

	best := -1
	var bestOverlap time.Duration
	for i, candidate := range candidates {
		overlap := timespan.Overlap(window, timespan.New(candidate.Start, candidate.End))
		if overlap > bestOverlap {
			best = i
			bestOverlap = overlap
		}
	}
	if best < 0 {
		return NoReservation(), nil
	}

	chosen := candidates[best]
	return Descriptor{
		Matched: true,
		ID:      chosen.ID,
		Start:   chosen.Start,
		End:     chosen.End,
		Title:   chosen.Title,
		User:    chosen.User,
		Purpose: chosen.Purpose,
		Sample:  chosen.Sample,
		Project: chosen.Project,
	}, nil
}
