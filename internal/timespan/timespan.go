// Package timespan provides the time-interval arithmetic used to match
// instrument sessions against calendar reservations.
package timespan

import "time"

// Interval is a closed time interval. End is expected to be >= Start;
// intervals violating that have zero duration and overlap nothing.
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Duration returns the length of the interval, or zero when End precedes
// Start.
func (i Interval) Duration() time.Duration {
	if i.End.Before(i.Start) {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Pad widens the interval by margin on both sides.
func (i Interval) Pad(margin time.Duration) Interval {
	return Interval{Start: i.Start.Add(-margin), End: i.End.Add(margin)}
}

// Contains reports whether t lies within the interval, boundaries included.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && !t.After(i.End)
}

// Overlap returns the duration shared by a and b. It is symmetric, zero for
// disjoint intervals, and never exceeds the duration of either input.
func Overlap(a, b Interval) time.Duration {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}
