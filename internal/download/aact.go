// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/pdiddy/trial-search/internal/httputil"
	"github.com/pdiddy/trial-search/pkg/types"
)

// aactBaseURL is the AACT site base. AACT (Aggregate Analysis of
// ClinicalTrials.gov) publishes daily static database copies. Package-level
// var for test substitution.
var aactBaseURL = "https://aact.ctti-clinicaltrials.org"

// LatestDatasetURL scrapes the AACT download page for the newest daily
// static copy and returns its absolute URL. The page lists copies in a
// select element, newest first after a placeholder option.
func LatestDatasetURL(ctx context.Context, client *http.Client, cfg types.DownloadConfig) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, aactBaseURL+"/download", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return "", fmt.Errorf("fetching AACT download page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AACT download page returned HTTP %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parsing AACT download page: %w", err)
	}

	datasetPath, ok := firstDatasetOption(doc)
	if !ok {
		return "", fmt.Errorf("no dataset options found on AACT download page")
	}

	abs, err := url.JoinPath(aactBaseURL, datasetPath)
	if err != nil {
		return "", fmt.Errorf("resolving dataset URL: %w", err)
	}
	if strings.HasPrefix(datasetPath, "http://") || strings.HasPrefix(datasetPath, "https://") {
		abs = datasetPath
	}
	return abs, nil
}

// firstDatasetOption walks the document for the first select element and
// returns the value of its first non-placeholder option.
func firstDatasetOption(doc *html.Node) (string, bool) {
	sel := findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "select"
	})
	if sel == nil {
		return "", false
	}

	var value string
	findNode(sel, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "option" {
			return false
		}
		v := attr(n, "value")
		if v == "" {
			return false // placeholder option
		}
		value = v
		return true
	})
	return value, value != ""
}

// findNode returns the first node in depth-first order matching pred.
func findNode(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// DownloadDataset fetches the latest AACT static copy into dataDir/raw/,
// skipping the download when the file already exists. Returns the local
// path of the zip.
func DownloadDataset(ctx context.Context, client *http.Client, cfg types.DownloadConfig, w io.Writer) (string, error) {
	datasetURL, err := LatestDatasetURL(ctx, client, cfg)
	if err != nil {
		return "", err
	}

	name := filepath.Base(datasetURL)
	if idx := strings.IndexByte(name, '?'); idx >= 0 {
		name = name[:idx]
	}
	if name == "" || name == "." {
		name = "aact_latest.zip"
	}

	outDir := filepath.Join(cfg.DataDir, rawDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	destPath := filepath.Join(outDir, name)

	if _, err := os.Stat(destPath); err == nil {
		fmt.Fprintf(w, "skipped: %s (already exists)\n", name)
		return destPath, nil
	}

	fmt.Fprintf(w, "downloading: %s\n", datasetURL)
	if err := downloadFile(ctx, client, datasetURL, destPath, cfg); err != nil {
		return "", fmt.Errorf("downloading dataset: %w", err)
	}
	return destPath, nil
}

// downloadFile fetches url to destPath via a temporary file so an
// interrupted download never leaves a truncated dataset in place.
func downloadFile(ctx context.Context, client *http.Client, srcURL, destPath string, cfg types.DownloadConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, srcURL)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".download-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
