package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/usnistgov/NexusLIMS-sub001/internal/store"
)

// Writer persists record documents into an output tree that mirrors the
// source data tree's relative layout.
type Writer struct {
	sourceRoot string
	outputRoot string
}

func NewWriter(sourceRoot, outputRoot string) *Writer {
	return &Writer{sourceRoot: sourceRoot, outputRoot: outputRoot}
}

// Write renders the record document and writes it under the output root,
// mirroring where the instrument's data lives relative to the source root.
// It returns the written path.
func (w *Writer) Write(doc *Record, session store.Session, dataRoot string, location *time.Location) (string, error) {
	dir := filepath.Join(w.outputRoot, w.relativeDir(session, dataRoot))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create record directory: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	path := filepath.Join(dir, Filename(session, location))
	if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	return path, nil
}

// relativeDir mirrors the instrument data root's position under the source
// root. Data roots outside the source tree fall back to a directory named
// after the instrument.
func (w *Writer) relativeDir(session store.Session, dataRoot string) string {
	rel, err := filepath.Rel(w.sourceRoot, dataRoot)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return session.Instrument
	}
	if rel == "." {
		return ""
	}
	return rel
}
