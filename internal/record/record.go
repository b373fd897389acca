// Package record assembles the final experiment record for one session:
// session identity, the matched calendar reservation, and the session's
// acquisition activities with their files and metadata. The produced
// document is schema-validated before anything is written.
package record

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/usnistgov/NexusLIMS-sub001/internal/activity"
	"github.com/usnistgov/NexusLIMS-sub001/internal/reservation"
	"github.com/usnistgov/NexusLIMS-sub001/internal/store"
)

// Dataset is one data file inside an activity, carrying the metadata that is
// not shared with the activity's other files.
type Dataset struct {
	Name                string            `json:"name"`
	Path                string            `json:"path"`
	Size                int64             `json:"size"`
	Modified            time.Time         `json:"modified"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	AbsentFields        []string          `json:"absent_fields,omitempty"`
	Preview             string            `json:"preview,omitempty"`
	MetadataUnavailable bool              `json:"metadata_unavailable,omitempty"`
}

// ActivityDoc is the record form of one acquisition activity. Setup holds
// the parameters whose values are common to every file in the activity.
type ActivityDoc struct {
	Seq      int               `json:"seq"`
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Mode     string            `json:"mode"`
	Setup    map[string]string `json:"setup,omitempty"`
	Datasets []Dataset         `json:"datasets"`
}

type SessionDoc struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	User       string    `json:"user,omitempty"`
}

type ReservationDoc struct {
	Matched bool      `json:"matched"`
	ID      string    `json:"id,omitempty"`
	Start   time.Time `json:"start,omitempty"`
	End     time.Time `json:"end,omitempty"`
	Title   string    `json:"title,omitempty"`
	User    string    `json:"user,omitempty"`
	Purpose string    `json:"purpose,omitempty"`
	Sample  string    `json:"sample,omitempty"`
	Project string    `json:"project,omitempty"`
}

// Record is the complete output document for one built session.
type Record struct {
	Session     SessionDoc     `json:"session"`
	Generated   time.Time      `json:"generated"`
	Reservation ReservationDoc `json:"reservation"`
	Activities  []ActivityDoc  `json:"activities"`
}

// Assemble builds the record document. Times are rendered in the
// instrument's timezone; a nil location means UTC. The document is validated
// against the record schema before being returned.
func Assemble(session store.Session, descriptor reservation.Descriptor, activities []activity.Activity, location *time.Location) (*Record, error) {
	if location == nil {
		location = time.UTC
	}

	doc := &Record{
		Session: SessionDoc{
			ID:         session.ID.String(),
			Instrument: session.Instrument,
			Start:      session.Start.In(location),
			End:        session.End.In(location),
			User:       session.User,
		},
		Generated: time.Now().In(location),
		Reservation: ReservationDoc{
			Matched: descriptor.Matched,
			ID:      descriptor.ID,
			Start:   descriptor.Start,
			End:     descriptor.End,
			Title:   descriptor.Title,
			User:    descriptor.User,
			Purpose: descriptor.Purpose,
			Sample:  descriptor.Sample,
			Project: descriptor.Project,
		},
		Activities: make([]ActivityDoc, 0, len(activities)),
	}

	for seq, act := range activities {
		doc.Activities = append(doc.Activities, assembleActivity(seq, act, location))
	}

	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func assembleActivity(seq int, act activity.Activity, location *time.Location) ActivityDoc {
	setup := commonFields(act)

	out := ActivityDoc{
		Seq:      seq,
		Start:    act.Start.In(location),
		End:      act.End.In(location),
		Mode:     act.Mode,
		Setup:    setup,
		Datasets: make([]Dataset, 0, len(act.Files)),
	}

	for i, file := range act.Files {
		report := act.Metadata[i]
		dataset := Dataset{
			Name:     filepath.Base(file.Path),
			Path:     file.Path,
			Size:     file.Size,
			Modified: file.ModTime.In(location),
		}
		if report.Unavailable {
			dataset.MetadataUnavailable = true
		} else {
			residual := make(map[string]string)
			for key, value := range report.Fields {
				if _, shared := setup[key]; !shared {
					residual[key] = value
				}
			}
			if len(residual) > 0 {
				dataset.Metadata = residual
			}
			dataset.AbsentFields = report.Absent
			dataset.Preview = report.Preview
		}
		out.Datasets = append(out.Datasets, dataset)
	}

	return out
}

// commonFields returns the metadata keys whose values agree across every
// file in the activity that has usable metadata. Files with unavailable
// metadata neither contribute nor veto.
func commonFields(act activity.Activity) map[string]string {
	var common map[string]string
	for _, report := range act.Metadata {
		if report.Unavailable {
			continue
		}
		if common == nil {
			common = make(map[string]string, len(report.Fields))
			for key, value := range report.Fields {
				common[key] = value
			}
			continue
		}
		for key, value := range common {
			if other, ok := report.Fields[key]; !ok || other != value {
				delete(common, key)
			}
		}
	}
	if len(common) == 0 {
		return nil
	}
	return common
}

// Filename derives the deterministic record file name for a session: date,
// instrument, and a short form of the session identifier.
func Filename(session store.Session, location *time.Location) string {
	if location == nil {
		location = time.UTC
	}
	short := session.ID.String()
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s-%s.json", session.Start.In(location).Format("20060102"), session.Instrument, short)
}
