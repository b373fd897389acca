// Package activity segments a session's ordered output files into
// acquisition activities: maximal contiguous runs sharing one instrument
// configuration mode.
package activity

import (
	"time"

	"github.com/usnistgov/NexusLIMS-sub001/internal/discovery"
	"github.com/usnistgov/NexusLIMS-sub001/internal/extract"
)

// Input pairs a discovered file with its extraction report. A nil report
// means extraction failed for the file.
type Input struct {
	File   discovery.FileRef
	Report *extract.Report
}

func (in Input) mode() string {
	if in.Report == nil {
		return ""
	}
	return in.Report.Mode
}

// Activity is one contiguous run of files acquired in a single mode. Files
// are ordered by modification time; Metadata is index-aligned with Files and
// never nil (failed extraction is represented by the unavailable marker).
type Activity struct {
	Start    time.Time
	End      time.Time
	Mode     string
	Files    []discovery.FileRef
	Metadata []*extract.Report
}

func (a *Activity) append(in Input) {
	report := in.Report
	if report == nil || report.Mode == "" && report.Fields == nil {
		report = extract.Unavailable()
	}
	a.Files = append(a.Files, in.File)
	a.Metadata = append(a.Metadata, report)
}

// Segment partitions inputs (already ordered by modification time) into
// activities by mode continuity. A mode change closes the current activity
// at the incoming file's modification time, so consecutive activities share
// their boundary; the final activity closes at its own last file.
//
// Files without a usable mode do not open activities or move boundaries:
// inside an activity they are retained with an unavailable-metadata marker;
// before the first activity they are returned as unclassified.
func Segment(inputs []Input) (activities []Activity, unclassified []Input) {
	var current *Activity

	for _, in := range inputs {
		mode := in.mode()
		if mode == "" {
			if current == nil {
				unclassified = append(unclassified, in)
				continue
			}
			current.append(in)
			continue
		}

		if current == nil || mode != current.Mode {
			if current != nil {
				current.End = in.File.ModTime
				activities = append(activities, *current)
			}
			current = &Activity{
				Start: in.File.ModTime,
				Mode:  mode,
			}
		}
		current.append(in)
	}

	if current != nil {
		current.End = current.Files[len(current.Files)-1].ModTime
		activities = append(activities, *current)
	}

	return activities, unclassified
}

// Unclassified collapses the files Segment could not place into a single
// mode-less activity spanning their modification times. It is used when a
// session yields files but no usable modes at all, so the record still
// retains every file.
func Unclassified(inputs []Input) *Activity {
	if len(inputs) == 0 {
		return nil
	}
	a := &Activity{
		Start: inputs[0].File.ModTime,
		End:   inputs[len(inputs)-1].File.ModTime,
		Mode:  "",
	}
	for _, in := range inputs {
		a.append(in)
	}
	return a
}
