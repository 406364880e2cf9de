package download

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeStudyZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "studies.zip")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractStudies(t *testing.T) {
	path := writeStudyZip(t, map[string]string{
		"studies/NCT00000001.json": studyJSON("NCT00000001", "Trial One", "breast cancer"),
		"studies/NCT00000002.json": studyJSON("NCT00000002", "Trial Two", "melanoma"),
		"studies/broken.json":      `{"protocolSection": {`,
		"studies/badid.json":       studyJSON("NOT-AN-ID", "Trial Bad", "x"),
		"README.txt":               "not a study",
	})

	var out bytes.Buffer
	trials, err := ExtractStudies(path, 0, &out)
	if err != nil {
		t.Fatalf("ExtractStudies: %v", err)
	}

	if len(trials) != 2 {
		t.Fatalf("got %d trials, want 2: %+v", len(trials), trials)
	}
	got := map[string]bool{}
	for _, trial := range trials {
		got[trial.NCTID] = true
	}
	if !got["NCT00000001"] || !got["NCT00000002"] {
		t.Errorf("trials = %+v", trials)
	}

	if !strings.Contains(out.String(), "failed  studies/broken.json") {
		t.Errorf("output missing decode failure:\n%s", out.String())
	}
	if !strings.Contains(out.String(), `malformed NCT ID "NOT-AN-ID"`) {
		t.Errorf("output missing bad ID failure:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "(2 skipped)") {
		t.Errorf("output missing skip count:\n%s", out.String())
	}
}

func TestExtractStudiesMaxTrials(t *testing.T) {
	path := writeStudyZip(t, map[string]string{
		"a.json": studyJSON("NCT00000001", "A", "x"),
		"b.json": studyJSON("NCT00000002", "B", "x"),
		"c.json": studyJSON("NCT00000003", "C", "x"),
	})

	var out bytes.Buffer
	trials, err := ExtractStudies(path, 2, &out)
	if err != nil {
		t.Fatal(err)
	}
	if len(trials) != 2 {
		t.Errorf("got %d trials, want 2", len(trials))
	}
}

func TestExtractStudiesMissingArchive(t *testing.T) {
	var out bytes.Buffer
	if _, err := ExtractStudies(filepath.Join(t.TempDir(), "absent.zip"), 0, &out); err == nil {
		t.Error("expected error for missing archive")
	}
}
