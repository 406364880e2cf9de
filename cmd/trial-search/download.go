// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trial-search/internal/download"
	"github.com/pdiddy/trial-search/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "trial-search/0.1"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download clinical trial data",
	Long: `Download fetches trial data for the tagging pipeline. With --query it
searches the ClinicalTrials.gov API and saves the matching trials as JSON;
without a query it downloads the latest AACT daily static copy. The
--sample flag limits a search to a small test slice.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().String("data-dir", "data", "directory to store downloaded data")
	downloadCmd.Flags().String("query", "", "ClinicalTrials.gov search query (omit to download the AACT static copy)")
	downloadCmd.Flags().Int("max-results", 100, "maximum number of search results")
	downloadCmd.Flags().Bool("sample", false, "download a small test sample instead of the full dataset")
	downloadCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	query, _ := cmd.Flags().GetString("query")
	maxResults, _ := cmd.Flags().GetInt("max-results")
	sample, _ := cmd.Flags().GetBool("sample")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}

	cfg := types.DownloadConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		DataDir: dataDir,
		Sample:  sample,
	}

	client := &http.Client{Timeout: cfg.Timeout}
	ctx := cmd.Context()

	// No query: fetch the AACT static database copy.
	if query == "" {
		if sample {
			// A sample without a query still needs something to search for.
			query = "cancer"
		} else {
			path, err := download.DownloadDataset(ctx, client, cfg, os.Stdout)
			if err != nil {
				return err
			}
			fmt.Printf("AACT dataset downloaded to %s\n", path)
			return nil
		}
	}

	if sample && maxResults > 10 {
		maxResults = 10
	}

	trials, err := download.SearchTrials(ctx, client, query, maxResults, cfg, os.Stdout)
	if err != nil {
		return err
	}

	path, err := download.SaveSearchResults(trials, query, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Saved %d trials to %s\n", len(trials), path)
	return nil
}
