package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleRegistry = `instruments:
  - id: FEI-Titan-TEM-635816
    name: FEI Titan TEM
    data_root: /mnt/mmfnexus/Titan
    timezone: America/New_York
    calendar_id: titan-tem
    ignore_patterns:
      - "*.tmp"
      - "**/thumbs/*"
  - id: JEOL-JEM3010-TEM-565989
    name: JEOL JEM 3010
    data_root: /mnt/mmfnexus/JEOL3010
    calendar_id: jeol-3010
`

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "instruments.yaml")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o644); err != nil {
		t.Fatalf("write registry file: %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	titan, err := r.Lookup("FEI-Titan-TEM-635816")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if titan.DataRoot != "/mnt/mmfnexus/Titan" {
		t.Fatalf("unexpected data root: %s", titan.DataRoot)
	}
	if len(titan.IgnorePatterns) != 2 {
		t.Fatalf("unexpected ignore patterns: %v", titan.IgnorePatterns)
	}
	if titan.Location().String() != "America/New_York" {
		t.Fatalf("unexpected location: %s", titan.Location())
	}

	jeol, err := r.Lookup("JEOL-JEM3010-TEM-565989")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if jeol.Location() != time.UTC {
		t.Fatalf("expected UTC default, got %s", jeol.Location())
	}

	if got := len(r.All()); got != 2 {
		t.Fatalf("expected 2 instruments, got %d", got)
	}
}

func TestLookupUnknownInstrument(t *testing.T) {
	t.Parallel()

	r, err := Parse([]byte(sampleRegistry))
	if err != nil {
		t.Fatalf("parse registry: %v", err)
	}
	if _, err := r.Lookup("no-such-instrument"); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"empty", "instruments: []"},
		{"missing id", "instruments:\n  - data_root: /data"},
		{"missing data root", "instruments:\n  - id: x"},
		{"bad timezone", "instruments:\n  - id: x\n    data_root: /data\n    timezone: Mars/Olympus"},
		{"duplicate id", "instruments:\n  - id: x\n    data_root: /a\n  - id: x\n    data_root: /b"},
	}

	for _, tc := range cases {
		if _, err := Parse([]byte(tc.yaml)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
