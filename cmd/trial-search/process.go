// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trial-search/internal/llm"
	"github.com/pdiddy/trial-search/internal/secrets"
	"github.com/pdiddy/trial-search/internal/source"
	"github.com/pdiddy/trial-search/internal/store"
	"github.com/pdiddy/trial-search/internal/tagging"
	"github.com/pdiddy/trial-search/pkg/types"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Tag trials with the LLM pipeline",
	Long: `Process runs the tagging pipeline: for each trial it builds a prompt,
calls the model, validates the JSON response into a tag record, and
persists the record. Trials already processed at the current version are
skipped, so an interrupted batch can be resumed.

Trials come from --input-file (a download result) or, when no input file
is given, from unprocessed trials already in the store.

The model API key is read from the ANTHROPIC_API_KEY environment variable
or .secrets/anthropic-api-key.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().String("input-file", "", "input JSON file with trial data (default: unprocessed trials from the store)")
	processCmd.Flags().String("output-file", "", "optional output file for tagged records (JSON)")
	processCmd.Flags().String("db", "trials.db", "SQLite database path")
	processCmd.Flags().Bool("no-store", false, "skip persistence; requires --input-file and --output-file")
	processCmd.Flags().String("model", "claude-3-5-haiku-latest", "model identifier")
	processCmd.Flags().Int("max-trials", 0, "maximum number of trials to process (0 = all)")
	processCmd.Flags().Int("concurrency", 3, "trials tagged in flight at once")
	processCmd.Flags().Int("version", 1, "processing version recorded with each trial")
	processCmd.Flags().Bool("force", false, "re-tag trials already processed at this version")
	processCmd.Flags().Duration("request-interval", time.Second, "minimum gap between model API requests")

	rootCmd.AddCommand(processCmd)
}

// taggedTrial pairs a trial with its validated tags for the output file.
type taggedTrial struct {
	Trial types.RawTrial   `json:"trial"`
	Tags  *types.TagRecord `json:"tags"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	apiKey := secrets.APIKey(loadedSecrets)
	if apiKey == "" {
		return fmt.Errorf("API key required: set ANTHROPIC_API_KEY or create .secrets/anthropic-api-key")
	}

	inputFile, _ := cmd.Flags().GetString("input-file")
	outputFile, _ := cmd.Flags().GetString("output-file")
	dbPath, _ := cmd.Flags().GetString("db")
	noStore, _ := cmd.Flags().GetBool("no-store")
	model, _ := cmd.Flags().GetString("model")
	maxTrials, _ := cmd.Flags().GetInt("max-trials")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	procVersion, _ := cmd.Flags().GetInt("version")
	force, _ := cmd.Flags().GetBool("force")
	interval, _ := cmd.Flags().GetDuration("request-interval")

	if noStore && (inputFile == "" || outputFile == "") {
		return fmt.Errorf("--no-store requires both --input-file and --output-file")
	}

	cfg := types.TaggingConfig{
		AIConfig: types.AIConfig{
			Model:              model,
			APIKey:             apiKey,
			MinRequestInterval: interval,
		},
		Concurrency:       concurrency,
		Version:           procVersion,
		RetagOnParseError: true,
	}

	var opts []tagging.Option
	var st *store.Store
	if !noStore {
		var err error
		st, err = store.Open(types.StoreConfig{Path: dbPath})
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, tagging.WithStore(st))
	}
	if force {
		opts = append(opts, tagging.WithForce(true))
	}

	ctx := cmd.Context()

	var trials []types.RawTrial
	var err error
	switch {
	case inputFile != "":
		trials, err = source.FromFile(inputFile)
	case st != nil:
		trials, err = source.FromStore(ctx, st, maxTrials, procVersion)
	default:
		return fmt.Errorf("provide --input-file or a store to pull unprocessed trials from")
	}
	if err != nil {
		return err
	}
	trials = source.Cap(trials, maxTrials)

	if len(trials) == 0 {
		fmt.Println("No trials to process.")
		return nil
	}
	fmt.Printf("Processing %d trials\n", len(trials))

	client := llm.NewClient(llm.NewClaudeBackend(cfg.AIConfig), cfg.AIConfig)
	orch := tagging.NewOrchestrator(client, cfg, opts...)

	var tagged []taggedTrial
	if outputFile != "" {
		orch.OnTagged = func(trial types.RawTrial, rec *types.TagRecord) {
			tagged = append(tagged, taggedTrial{Trial: trial, Tags: rec})
		}
	}

	run := orch.RunBatch(ctx, trials, os.Stdout)

	if outputFile != "" {
		data, err := json.MarshalIndent(tagged, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling output: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		fmt.Printf("Wrote %d tagged trials to %s\n", len(tagged), outputFile)
	}

	if run.Aborted {
		return fmt.Errorf("batch aborted: %s", run.AbortReason)
	}
	if run.HasFailures() {
		return fmt.Errorf("%d trial(s) failed tagging", run.Failed)
	}
	return nil
}
