package timespan

import (
	"testing"
	"time"
)

func interval(startHour, endHour int) Interval {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	return New(day.Add(time.Duration(startHour)*time.Hour), day.Add(time.Duration(endHour)*time.Hour))
}

func TestOverlapSymmetric(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b Interval
	}{
		{"partial", interval(9, 12), interval(11, 15)},
		{"contained", interval(9, 17), interval(10, 11)},
		{"disjoint", interval(1, 2), interval(5, 6)},
		{"touching", interval(1, 2), interval(2, 3)},
	}

	for _, tc := range cases {
		if got, want := Overlap(tc.a, tc.b), Overlap(tc.b, tc.a); got != want {
			t.Errorf("%s: overlap not symmetric: %v vs %v", tc.name, got, want)
		}
	}
}

func TestOverlapDisjointIsZero(t *testing.T) {
	t.Parallel()

	if got := Overlap(interval(1, 2), interval(3, 4)); got != 0 {
		t.Fatalf("expected zero overlap, got %v", got)
	}
}

func TestOverlapSelfIsDuration(t *testing.T) {
	t.Parallel()

	a := interval(9, 14)
	if got := Overlap(a, a); got != a.Duration() {
		t.Fatalf("expected %v, got %v", a.Duration(), got)
	}
}

func TestOverlapBoundedByShorterInterval(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b Interval
	}{
		{interval(9, 12), interval(10, 20)},
		{interval(0, 24), interval(8, 9)},
		{interval(3, 3), interval(1, 6)},
	}

	for _, tc := range cases {
		got := Overlap(tc.a, tc.b)
		if got > tc.a.Duration() || got > tc.b.Duration() {
			t.Errorf("overlap %v exceeds input durations %v / %v", got, tc.a.Duration(), tc.b.Duration())
		}
	}
}

func TestOverlapTouchingIntervalsIsZero(t *testing.T) {
	t.Parallel()

	if got := Overlap(interval(1, 2), interval(2, 3)); got != 0 {
		t.Fatalf("expected zero overlap for touching intervals, got %v", got)
	}
}

func TestDurationInvertedIntervalIsZero(t *testing.T) {
	t.Parallel()

	inverted := New(interval(5, 5).Start, interval(5, 5).Start.Add(-time.Hour))
	if got := inverted.Duration(); got != 0 {
		t.Fatalf("expected zero duration, got %v", got)
	}
	if got := Overlap(inverted, interval(0, 24)); got != 0 {
		t.Fatalf("expected zero overlap for inverted interval, got %v", got)
	}
}

func TestPad(t *testing.T) {
	t.Parallel()

	padded := interval(10, 12).Pad(30 * time.Minute)
	if want := interval(10, 12).Start.Add(-30 * time.Minute); !padded.Start.Equal(want) {
		t.Fatalf("unexpected padded start: %v", padded.Start)
	}
	if want := interval(10, 12).End.Add(30 * time.Minute); !padded.End.Equal(want) {
		t.Fatalf("unexpected padded end: %v", padded.End)
	}
}

func TestContainsBoundariesInclusive(t *testing.T) {
	t.Parallel()

	a := interval(9, 11)
	if !a.Contains(a.Start) || !a.Contains(a.End) {
		t.Fatal("expected boundaries to be contained")
	}
	if a.Contains(a.End.Add(time.Nanosecond)) {
		t.Fatal("expected point past end to be outside")
	}
}
