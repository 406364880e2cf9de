// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trial-search/internal/download"
)

var extractCmd = &cobra.Command{
	Use:   "extract [archive.zip]",
	Short: "Extract trial records from a downloaded bulk archive",
	Long: `Extract reads a bulk study archive (from download) and converts the study
JSON records into the flat trial file that process consumes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output-file")
		maxTrials, _ := cmd.Flags().GetInt("max-trials")

		trials, err := download.ExtractStudies(args[0], maxTrials, os.Stdout)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(trials, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling trials: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputFile, err)
		}
		fmt.Printf("Wrote %d trials to %s\n", len(trials), outputFile)
		return nil
	},
}

func init() {
	extractCmd.Flags().String("output-file", "trials.json", "output JSON file for extracted trials")
	extractCmd.Flags().Int("max-trials", 0, "maximum number of trials to extract (0 = all)")

	rootCmd.AddCommand(extractCmd)
}
