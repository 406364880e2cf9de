// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package download fetches clinical trial data: paginated searches against
// the ClinicalTrials.gov API and static database copies from AACT.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/trial-search/internal/httputil"
	"github.com/pdiddy/trial-search/pkg/types"
)

// ctgovAPIURL is the ClinicalTrials.gov v2 API base. Package-level var for
// test substitution.
var ctgovAPIURL = "https://clinicaltrials.gov/api/v2"

const (
	rawDir       = "raw"
	ctgovPageMax = 1000 // API page size cap
)

// ctgovStudy mirrors the slice of the v2 API study JSON the pipeline needs.
type ctgovStudy struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID         string `json:"nctId"`
			BriefTitle    string `json:"briefTitle"`
			OfficialTitle string `json:"officialTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"statusModule"`
		DescriptionModule struct {
			BriefSummary        string `json:"briefSummary"`
			DetailedDescription string `json:"detailedDescription"`
		} `json:"descriptionModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		DesignModule struct {
			StudyType string   `json:"studyType"`
			Phases    []string `json:"phases"`
		} `json:"designModule"`
		ArmsInterventionsModule struct {
			Interventions []struct {
				Type string `json:"type"`
				Name string `json:"name"`
			} `json:"interventions"`
		} `json:"armsInterventionsModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
		} `json:"eligibilityModule"`
	} `json:"protocolSection"`
}

// ctgovPage is one page of the studies endpoint response.
type ctgovPage struct {
	Studies       []ctgovStudy `json:"studies"`
	NextPageToken string       `json:"nextPageToken"`
	TotalCount    int          `json:"totalCount"`
}

// SearchTrials pages through the ClinicalTrials.gov studies endpoint for
// query and returns up to maxResults trials. Rate-limit and server errors
// are retried by the shared HTTP helper.
func SearchTrials(ctx context.Context, client *http.Client, query string, maxResults int, cfg types.DownloadConfig, w io.Writer) ([]types.RawTrial, error) {
	if maxResults <= 0 {
		maxResults = 100
	}

	var trials []types.RawTrial
	pageToken := ""
	page := 1

	for len(trials) < maxResults {
		pageSize := maxResults - len(trials)
		if pageSize > ctgovPageMax {
			pageSize = ctgovPageMax
		}

		params := url.Values{}
		params.Set("query.term", query)
		params.Set("pageSize", fmt.Sprint(pageSize))
		params.Set("countTotal", "true")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			ctgovAPIURL+"/studies?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		fmt.Fprintf(w, "fetching page %d of search results\n", page)

		resp, err := httputil.DoWithRetry(ctx, client, req, 0)
		if err != nil {
			return nil, fmt.Errorf("searching trials: %w", err)
		}

		var result ctgovPage
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ClinicalTrials.gov API returned HTTP %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decoding search response: %w", decodeErr)
		}

		if page == 1 && result.TotalCount > 0 {
			fmt.Fprintf(w, "found %d total results\n", result.TotalCount)
		}

		for _, study := range result.Studies {
			trials = append(trials, mapStudy(study))
		}

		if result.NextPageToken == "" || len(result.Studies) == 0 {
			break
		}
		pageToken = result.NextPageToken
		page++
	}

	if len(trials) > maxResults {
		trials = trials[:maxResults]
	}
	fmt.Fprintf(w, "retrieved %d studies\n", len(trials))
	return trials, nil
}

// mapStudy flattens a v2 API study into the pipeline's trial record.
func mapStudy(study ctgovStudy) types.RawTrial {
	p := study.ProtocolSection

	interventions := make([]types.Intervention, 0, len(p.ArmsInterventionsModule.Interventions))
	for _, iv := range p.ArmsInterventionsModule.Interventions {
		interventions = append(interventions, types.Intervention{Type: iv.Type, Name: iv.Name})
	}

	return types.RawTrial{
		NCTID:               p.IdentificationModule.NCTID,
		Title:               p.IdentificationModule.BriefTitle,
		OfficialTitle:       p.IdentificationModule.OfficialTitle,
		BriefSummary:        p.DescriptionModule.BriefSummary,
		DetailedDescription: p.DescriptionModule.DetailedDescription,
		Conditions:          p.ConditionsModule.Conditions,
		Interventions:       interventions,
		EligibilityCriteria: p.EligibilityModule.EligibilityCriteria,
		Phase:               strings.Join(p.DesignModule.Phases, ", "),
		StudyType:           p.DesignModule.StudyType,
		Status:              p.StatusModule.OverallStatus,
	}
}

// SaveSearchResults writes trials to dataDir/raw/ as a JSON envelope
// carrying the query and timestamp. Returns the file path.
func SaveSearchResults(trials []types.RawTrial, query string, cfg types.DownloadConfig) (string, error) {
	outDir := filepath.Join(cfg.DataDir, rawDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	safeQuery := make([]rune, 0, len(query))
	for _, r := range query {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			safeQuery = append(safeQuery, r)
		} else {
			safeQuery = append(safeQuery, '_')
		}
	}
	name := string(safeQuery)
	if len(name) > 50 {
		name = name[:50]
	}
	path := filepath.Join(outDir, fmt.Sprintf("search_%s_%s.json", name, time.Now().Format("20060102")))

	payload := struct {
		Query     string           `json:"query"`
		Timestamp string           `json:"timestamp"`
		Results   []types.RawTrial `json:"results"`
	}{
		Query:     query,
		Timestamp: time.Now().Format(time.RFC3339),
		Results:   trials,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing results: %w", err)
	}
	return path, nil
}
