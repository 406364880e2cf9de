package download

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/pdiddy/trial-search/pkg/types"
)

func studyJSON(nctID, title, condition string) string {
	return fmt.Sprintf(`{
      "protocolSection": {
        "identificationModule": {"nctId": %q, "briefTitle": %q, "officialTitle": "Official %s"},
        "statusModule": {"overallStatus": "RECRUITING"},
        "descriptionModule": {"briefSummary": "Summary.", "detailedDescription": "Details."},
        "conditionsModule": {"conditions": [%q]},
        "designModule": {"studyType": "INTERVENTIONAL", "phases": ["PHASE2", "PHASE3"]},
        "armsInterventionsModule": {"interventions": [{"type": "DRUG", "name": "Drug X"}]},
        "eligibilityModule": {"eligibilityCriteria": "Inclusion Criteria:\n- Adults"}
      }
    }`, nctID, title, title, condition)
}

// newCTGovServer serves two pages of studies and records request parameters.
func newCTGovServer(t *testing.T, requests *[]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests = append(*requests, r.URL.RawQuery)

		var studies []string
		next := ""
		if r.URL.Query().Get("pageToken") == "" {
			studies = []string{
				studyJSON("NCT00000001", "Trial One", "breast cancer"),
				studyJSON("NCT00000002", "Trial Two", "breast cancer"),
			}
			next = "page2token"
		} else {
			studies = []string{studyJSON("NCT00000003", "Trial Three", "melanoma")}
		}

		fmt.Fprintf(w, `{"studies": [%s], "nextPageToken": %q, "totalCount": 3}`,
			strings.Join(studies, ","), next)
	}))

	orig := ctgovAPIURL
	ctgovAPIURL = server.URL
	t.Cleanup(func() {
		ctgovAPIURL = orig
		server.Close()
	})
	return server
}

func TestSearchTrialsPaginates(t *testing.T) {
	var requests []string
	newCTGovServer(t, &requests)

	var out bytes.Buffer
	cfg := types.DownloadConfig{HTTPConfig: types.HTTPConfig{UserAgent: "trial-search-test"}}
	trials, err := SearchTrials(context.Background(), http.DefaultClient, "breast cancer", 10, cfg, &out)
	if err != nil {
		t.Fatalf("SearchTrials: %v", err)
	}

	if len(trials) != 3 {
		t.Fatalf("got %d trials, want 3", len(trials))
	}
	if len(requests) != 2 {
		t.Fatalf("made %d requests, want 2: %v", len(requests), requests)
	}
	if !strings.Contains(requests[0], "query.term=breast+cancer") {
		t.Errorf("first request query = %q", requests[0])
	}
	if !strings.Contains(requests[1], "pageToken=page2token") {
		t.Errorf("second request query = %q", requests[1])
	}

	got := trials[0]
	if got.NCTID != "NCT00000001" || got.Title != "Trial One" {
		t.Errorf("trials[0] = %+v", got)
	}
	if got.Phase != "PHASE2, PHASE3" {
		t.Errorf("phase = %q", got.Phase)
	}
	if len(got.Interventions) != 1 || got.Interventions[0].Type != "DRUG" {
		t.Errorf("interventions = %+v", got.Interventions)
	}
	if !strings.Contains(out.String(), "found 3 total results") {
		t.Errorf("output missing total count:\n%s", out.String())
	}
}

func TestSearchTrialsHonorsMaxResults(t *testing.T) {
	var requests []string
	newCTGovServer(t, &requests)

	var out bytes.Buffer
	trials, err := SearchTrials(context.Background(), http.DefaultClient, "cancer", 2, types.DownloadConfig{}, &out)
	if err != nil {
		t.Fatalf("SearchTrials: %v", err)
	}
	if len(trials) != 2 {
		t.Errorf("got %d trials, want 2", len(trials))
	}
	// The cap is satisfied by the first page; no second request.
	if len(requests) != 1 {
		t.Errorf("made %d requests, want 1", len(requests))
	}
}

func TestSearchTrialsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	orig := ctgovAPIURL
	ctgovAPIURL = server.URL
	t.Cleanup(func() {
		ctgovAPIURL = orig
		server.Close()
	})

	var out bytes.Buffer
	_, err := SearchTrials(context.Background(), http.DefaultClient, "q", 5, types.DownloadConfig{}, &out)
	if err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("err = %v, want HTTP 404", err)
	}
}

func TestSaveSearchResults(t *testing.T) {
	trials := []types.RawTrial{{NCTID: "NCT00000001", Title: "Trial One"}}
	cfg := types.DownloadConfig{DataDir: t.TempDir()}

	path, err := SaveSearchResults(trials, "breast cancer / phase 3", cfg)
	if err != nil {
		t.Fatalf("SaveSearchResults: %v", err)
	}

	base := strings.TrimSuffix(path[strings.LastIndex(path, "search_"):], ".json")
	if strings.ContainsAny(base, "/ ") {
		t.Errorf("unsafe characters in file name %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var envelope struct {
		Query   string           `json:"query"`
		Results []types.RawTrial `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshaling saved results: %v", err)
	}
	if envelope.Query != "breast cancer / phase 3" {
		t.Errorf("query = %q", envelope.Query)
	}
	if len(envelope.Results) != 1 || envelope.Results[0].NCTID != "NCT00000001" {
		t.Errorf("results = %+v", envelope.Results)
	}
}
