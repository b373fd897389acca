package extract

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeSidecar(t *testing.T, dataPath, payload string) {
	t.Helper()
	if err := os.WriteFile(dataPath, []byte("binary"), 0o644); err != nil {
		t.Fatalf("write data file: %v", err)
	}
	if err := os.WriteFile(dataPath+".json", []byte(payload), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
}

func TestSidecarExtract(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "img_0001.dm3")
	writeSidecar(t, path, `{"Mode": "STEM", "Voltage": 300000, "Detector": "HAADF"}`)

	registry := NewRegistry(NewSidecarExtractor())
	report, err := registry.Extract(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.Mode != "STEM" {
		t.Fatalf("unexpected mode: %q", report.Mode)
	}
	if report.Fields["voltage"] != "300000" {
		t.Fatalf("unexpected voltage: %q", report.Fields["voltage"])
	}
	if !slices.Contains(report.Absent, "magnification") || !slices.Contains(report.Absent, "exposure") {
		t.Fatalf("expected absent fields recorded, got %v", report.Absent)
	}
	if slices.Contains(report.Absent, "mode") {
		t.Fatalf("mode was present but listed absent: %v", report.Absent)
	}
}

func TestMissingSidecarIsNilNotError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "img_0002.dm3")
	if err := os.WriteFile(path, []byte("binary"), 0o644); err != nil {
		t.Fatalf("write data file: %v", err)
	}

	registry := NewRegistry(NewSidecarExtractor())
	report, err := registry.Extract(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report != nil {
		t.Fatalf("expected nil report, got %+v", report)
	}
}

func TestMalformedSidecarIsNilNotError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "img_0003.dm3")
	writeSidecar(t, path, `{not json`)

	registry := NewRegistry(NewSidecarExtractor())
	report, err := registry.Extract(path)
	if err != nil || report != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", report, err)
	}
}

func TestUnknownExtension(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(NewSidecarExtractor(".dm3"))
	if registry.Known("/data/run_0004.xyz") {
		t.Fatal("expected .xyz to be unknown")
	}
	if !registry.Known("/data/run_0004.DM3") {
		t.Fatal("expected extension match to be case-insensitive")
	}

	report, err := registry.Extract("/data/run_0004.xyz")
	if err != nil || report != nil {
		t.Fatalf("expected (nil, nil) for unknown extension, got (%+v, %v)", report, err)
	}
}

func TestPreviewReference(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "img_0005.dm3")
	writeSidecar(t, path, `{"mode": "TEM"}`)
	if err := os.WriteFile(path+".thumb.png", []byte("png"), 0o644); err != nil {
		t.Fatalf("write preview: %v", err)
	}

	report, err := NewRegistry(NewSidecarExtractor()).Extract(path)
	if err != nil || report == nil {
		t.Fatalf("extract: (%+v, %v)", report, err)
	}
	if report.Preview != path+".thumb.png" {
		t.Fatalf("unexpected preview: %q", report.Preview)
	}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]Strategy{
		"":          StrategyInclusive,
		"inclusive": StrategyInclusive,
		"Exclusive": StrategyExclusive,
	} {
		got, err := ParseStrategy(raw)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = (%q, %v), want %q", raw, got, err, want)
		}
	}
	if _, err := ParseStrategy("sometimes"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
