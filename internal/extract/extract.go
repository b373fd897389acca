// Package extract is the boundary to vendor file-format metadata readers.
// Extractors never fail a build: an unreadable or unsupported file yields a
// nil report, which downstream code treats as "retain file, metadata
// unknown". Per-field misses are recorded in the report instead of being
// swallowed.
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Strategy controls whether files without a known extractor are kept in the
// record (inclusive) or dropped before segmentation (exclusive). The policy
// is applied by the orchestrator, not by discovery or extraction.
type Strategy string

const (
	StrategyInclusive Strategy = "inclusive"
	StrategyExclusive Strategy = "exclusive"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyInclusive, Strategy(""):
		return StrategyInclusive, nil
	case StrategyExclusive:
		return StrategyExclusive, nil
	default:
		return "", fmt.Errorf("unknown file strategy %q (want inclusive or exclusive)", raw)
	}
}

// Report is the structured result of metadata extraction for one file.
// Absent lists fields that were attempted but not present, so a missing
// value is data rather than suppressed control flow. Unavailable marks a
// file whose extraction failed entirely; such files are still retained.
type Report struct {
	Mode        string
	Fields      map[string]string
	Absent      []string
	Preview     string
	Unavailable bool
}

// Unavailable returns the marker report for a file whose metadata could not
// be read.
func Unavailable() *Report {
	return &Report{Unavailable: true}
}

// Extractor reads metadata from one vendor file format.
type Extractor interface {
	// Extensions lists the file extensions (with leading dot, lower case)
	// this extractor claims.
	Extensions() []string
	// Extract returns the metadata report for path, or nil when the file is
	// unreadable or carries none. Routine per-file problems are not errors.
	Extract(path string) (*Report, error)
}

// Registry routes files to extractors by extension.
type Registry struct {
	byExt map[string]Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, extractor := range extractors {
		for _, ext := range extractor.Extensions() {
			r.byExt[strings.ToLower(ext)] = extractor
		}
	}
	return r
}

// Known reports whether a registered extractor claims the file's extension.
// This is the question the inclusive/exclusive file strategy asks.
func (r *Registry) Known(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract returns the metadata report for path, or nil when no extractor
// claims the file or extraction yields nothing.
func (r *Registry) Extract(path string) (*Report, error) {
	extractor, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, nil
	}
	report, err := extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// wantedFields are the setup parameters a report tries to surface for every
// acquisition file; ones not present end up in Report.Absent.
var wantedFields = []string{"mode", "detector", "voltage", "magnification", "exposure"}

// SidecarExtractor reads metadata from a JSON sidecar written next to the
// data file (<file>.json). Vendor binary parsing lives outside this
// repository; the sidecar is the handoff format its extraction service
// writes.
type SidecarExtractor struct {
	extensions []string
}

func NewSidecarExtractor(extensions ...string) *SidecarExtractor {
	if len(extensions) == 0 {
		extensions = []string{".dm3", ".dm4", ".tif", ".ser", ".emi"}
	}
	return &SidecarExtractor{extensions: extensions}
}

func (e *SidecarExtractor) Extensions() []string {
	return e.extensions
}

func (e *SidecarExtractor) Extract(path string) (*Report, error) {
	data, err := os.ReadFile(path + ".json")
	if err != nil {
		// Missing or unreadable sidecar is routine, not an error.
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		fields[strings.ToLower(key)] = fmt.Sprint(value)
	}

	report := &Report{
		Mode:    fields["mode"],
		Fields:  fields,
		Preview: previewFor(path),
	}
	for _, field := range wantedFields {
		if _, ok := fields[field]; !ok {
			report.Absent = append(report.Absent, field)
		}
	}
	sort.Strings(report.Absent)
	return report, nil
}

// previewFor returns the path of the pre-generated preview image for a data
// file, or empty when none exists. Preview generation itself is external.
func previewFor(path string) string {
	preview := path + ".thumb.png"
	if _, err := os.Stat(preview); err != nil {
		return ""
	}
	return preview
}
