package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdiddy/trial-search/pkg/types"
)

const aactDownloadPage = `<!DOCTYPE html>
<html><body>
  <h1>Download the Database</h1>
  <form>
    <select name="static_copy">
      <option value="">Select a file...</option>
      <option value="/static/exported_files/daily/20260830_export.zip">20260830</option>
      <option value="/static/exported_files/daily/20260829_export.zip">20260829</option>
    </select>
  </form>
</body></html>`

func newAACTServer(t *testing.T, zipContent []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/download", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(aactDownloadPage))
	})
	mux.HandleFunc("/static/exported_files/daily/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(zipContent)
	})
	server := httptest.NewServer(mux)

	orig := aactBaseURL
	aactBaseURL = server.URL
	t.Cleanup(func() {
		aactBaseURL = orig
		server.Close()
	})
	return server
}

func TestLatestDatasetURL(t *testing.T) {
	server := newAACTServer(t, nil)

	got, err := LatestDatasetURL(context.Background(), http.DefaultClient, types.DownloadConfig{})
	if err != nil {
		t.Fatalf("LatestDatasetURL: %v", err)
	}
	// The placeholder option is skipped; the first real option is newest.
	want := server.URL + "/static/exported_files/daily/20260830_export.zip"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
}

func TestLatestDatasetURLNoOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><p>maintenance</p></body></html>"))
	}))
	orig := aactBaseURL
	aactBaseURL = server.URL
	t.Cleanup(func() {
		aactBaseURL = orig
		server.Close()
	})

	_, err := LatestDatasetURL(context.Background(), http.DefaultClient, types.DownloadConfig{})
	if err == nil || !strings.Contains(err.Error(), "no dataset options") {
		t.Errorf("err = %v, want no-options error", err)
	}
}

func TestDownloadDataset(t *testing.T) {
	content := []byte("not really a zip but bytes travel the same")
	newAACTServer(t, content)

	cfg := types.DownloadConfig{DataDir: t.TempDir()}
	var out bytes.Buffer

	path, err := DownloadDataset(context.Background(), http.DefaultClient, cfg, &out)
	if err != nil {
		t.Fatalf("DownloadDataset: %v", err)
	}
	if filepath.Base(path) != "20260830_export.zip" {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, content) {
		t.Error("downloaded content does not match served content")
	}

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".download-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}

	// A second run finds the file and skips the download.
	out.Reset()
	if _, err := DownloadDataset(context.Background(), http.DefaultClient, cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "skipped: 20260830_export.zip") {
		t.Errorf("output = %q, want skip line", out.String())
	}
}
