package activity

import (
	"fmt"
	"testing"
	"time"

	"github.com/usnistgov/NexusLIMS-sub001/internal/discovery"
	"github.com/usnistgov/NexusLIMS-sub001/internal/extract"
)

var t0 = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func input(seq int, minutes int, mode string) Input {
	in := Input{
		File: discovery.FileRef{
			Path:    fmt.Sprintf("/data/img_%04d.dm3", seq),
			ModTime: at(minutes),
		},
	}
	if mode != "" {
		in.Report = &extract.Report{Mode: mode, Fields: map[string]string{"mode": mode}}
	}
	return in
}

func TestTwoModeRuns(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		input(0, 0, "IMAGING"),
		input(1, 1, "IMAGING"),
		input(2, 2, "DIFFRACTION"),
		input(3, 3, "DIFFRACTION"),
		input(4, 4, "DIFFRACTION"),
	}

	activities, unclassified := Segment(inputs)
	if len(unclassified) != 0 {
		t.Fatalf("unexpected unclassified files: %d", len(unclassified))
	}
	if len(activities) != 2 {
		t.Fatalf("expected 2 activities, got %d", len(activities))
	}

	first, second := activities[0], activities[1]
	if first.Mode != "IMAGING" || len(first.Files) != 2 {
		t.Fatalf("unexpected first activity: %+v", first)
	}
	if !first.Start.Equal(at(0)) || !first.End.Equal(at(2)) {
		t.Fatalf("unexpected first activity window: %v - %v", first.Start, first.End)
	}
	if second.Mode != "DIFFRACTION" || len(second.Files) != 3 {
		t.Fatalf("unexpected second activity: %+v", second)
	}
	if !second.Start.Equal(at(2)) || !second.End.Equal(at(4)) {
		t.Fatalf("unexpected second activity window: %v - %v", second.Start, second.End)
	}
	// Gapless: the boundary file opens the new activity exactly where the
	// old one closes.
	if !first.End.Equal(second.Start) {
		t.Fatalf("activities not gapless: %v vs %v", first.End, second.Start)
	}
}

func TestConcatenationReproducesInput(t *testing.T) {
	t.Parallel()

	modes := []string{"A", "A", "B", "A", "C", "C", "B", "B", "B", "A"}
	inputs := make([]Input, 0, len(modes))
	for i, mode := range modes {
		inputs = append(inputs, input(i, i, mode))
	}

	activities, unclassified := Segment(inputs)
	if len(unclassified) != 0 {
		t.Fatalf("unexpected unclassified files: %d", len(unclassified))
	}

	var flattened []string
	for _, a := range activities {
		if len(a.Files) != len(a.Metadata) {
			t.Fatalf("metadata misaligned: %d files, %d reports", len(a.Files), len(a.Metadata))
		}
		for i, file := range a.Files {
			if a.Metadata[i].Mode != a.Mode {
				t.Fatalf("file %s has mode %q inside %q activity", file.Path, a.Metadata[i].Mode, a.Mode)
			}
			flattened = append(flattened, file.Path)
		}
	}
	if len(flattened) != len(inputs) {
		t.Fatalf("expected %d files, got %d", len(inputs), len(flattened))
	}
	for i, path := range flattened {
		if path != inputs[i].File.Path {
			t.Fatalf("file %d reordered: %s vs %s", i, path, inputs[i].File.Path)
		}
	}
}

func TestBoundariesOnlyAtModeChanges(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		input(0, 0, "A"), input(1, 5, "A"), input(2, 9, "B"), input(3, 14, "A"),
	}
	activities, _ := Segment(inputs)
	if len(activities) != 3 {
		t.Fatalf("expected 3 activities, got %d", len(activities))
	}
	for i := 1; i < len(activities); i++ {
		if activities[i].Mode == activities[i-1].Mode {
			t.Fatalf("adjacent activities share mode %q", activities[i].Mode)
		}
		if activities[i].Start.Before(activities[i-1].Start) {
			t.Fatal("activity starts not non-decreasing")
		}
		if !activities[i-1].End.Equal(activities[i].Start) {
			t.Fatalf("gap between activities %d and %d", i-1, i)
		}
	}
	last := activities[len(activities)-1]
	if !last.End.Equal(last.Files[len(last.Files)-1].ModTime) {
		t.Fatal("final activity must end at its last file")
	}
}

func TestSingleFileActivity(t *testing.T) {
	t.Parallel()

	activities, _ := Segment([]Input{input(0, 3, "TEM")})
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}
	if !activities[0].Start.Equal(activities[0].End) {
		t.Fatalf("single-file activity must have start == end, got %v - %v", activities[0].Start, activities[0].End)
	}
}

func TestFailedExtractionFileRetainedInActivity(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		input(0, 0, "STEM"),
		input(1, 1, "STEM"),
		input(2, 2, ""), // extraction failed
		input(3, 3, "STEM"),
		input(4, 4, "STEM"),
	}

	activities, unclassified := Segment(inputs)
	if len(unclassified) != 0 {
		t.Fatalf("mid-activity failure must not unclassify the file: %d", len(unclassified))
	}
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}
	a := activities[0]
	if len(a.Files) != 5 {
		t.Fatalf("expected all 5 files retained, got %d", len(a.Files))
	}
	if !a.Metadata[2].Unavailable {
		t.Fatal("failed file must carry the unavailable marker")
	}
	for i, report := range a.Metadata {
		if report == nil {
			t.Fatalf("metadata entry %d is absent instead of marked unknown", i)
		}
	}
}

func TestLeadingUnknownModeFilesAreUnclassified(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		input(0, 0, ""),
		input(1, 1, ""),
		input(2, 2, "TEM"),
	}
	activities, unclassified := Segment(inputs)
	if len(unclassified) != 2 {
		t.Fatalf("expected 2 unclassified files, got %d", len(unclassified))
	}
	if len(activities) != 1 || len(activities[0].Files) != 1 {
		t.Fatalf("unexpected activities: %+v", activities)
	}
}

func TestUnclassifiedFallbackActivity(t *testing.T) {
	t.Parallel()

	inputs := []Input{input(0, 0, ""), input(1, 7, "")}
	activities, unclassified := Segment(inputs)
	if len(activities) != 0 {
		t.Fatalf("expected no segmented activities, got %d", len(activities))
	}

	fallback := Unclassified(unclassified)
	if fallback == nil {
		t.Fatal("expected a fallback activity")
	}
	if len(fallback.Files) != 2 {
		t.Fatalf("expected both files retained, got %d", len(fallback.Files))
	}
	if !fallback.Start.Equal(at(0)) || !fallback.End.Equal(at(7)) {
		t.Fatalf("unexpected fallback window: %v - %v", fallback.Start, fallback.End)
	}
	if Unclassified(nil) != nil {
		t.Fatal("expected nil fallback for no inputs")
	}
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()

	activities, unclassified := Segment(nil)
	if activities != nil || unclassified != nil {
		t.Fatalf("expected empty result, got %v / %v", activities, unclassified)
	}
}
