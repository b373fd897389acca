package cli

import (
	"bytes"
	"testing"
)

func TestPrintHelpers(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printOK(&out, "store ready at %s", "sessions.db")
	printWarn(&out, "registry missing")
	printError(&out, "build failed")
	printHint(&out, "run `recordbuilder init` first")

	want := "[OK] store ready at sessions.db\n" +
		"[WARN] registry missing\n" +
		"[ERROR] build failed\n" +
		"Hint: run `recordbuilder init` first\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
