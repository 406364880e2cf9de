// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trial-search/internal/store"
	"github.com/pdiddy/trial-search/pkg/types"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and export the trial tag database",
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print row counts for the trial tag database",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.CollectStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Trials:            %d\n", stats.Trials)
		fmt.Printf("Processed:         %d\n", stats.Processed)
		fmt.Printf("Failed:            %d\n", stats.Failed)
		fmt.Printf("Condition tags:    %d\n", stats.ConditionTags)
		fmt.Printf("Mechanism tags:    %d\n", stats.MechanismTags)
		fmt.Printf("Treatment targets: %d\n", stats.Targets)
		return nil
	},
}

var storeExportCmd = &cobra.Command{
	Use:   "export [output-file]",
	Short: "Export tagged trials to YAML or JSON",
	Long: `Export writes every successfully tagged trial, with its full tag record,
to a file for downstream search indexing. The format follows the file
extension of the output path unless --format overrides it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		path := "export.yaml"
		if len(args) > 0 {
			path = args[0]
		}
		if format == "" {
			format = "yaml"
			if len(path) > 5 && path[len(path)-5:] == ".json" {
				format = "json"
			}
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		switch format {
		case "yaml":
			err = st.ExportYAML(cmd.Context(), path)
		case "json":
			err = st.ExportJSON(cmd.Context(), path)
		default:
			return fmt.Errorf("unsupported format %q: use yaml or json", format)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Exported to %s\n", path)
		return nil
	},
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	return store.Open(types.StoreConfig{Path: dbPath})
}

func init() {
	storeCmd.PersistentFlags().String("db", "trials.db", "SQLite database path")
	storeExportCmd.Flags().String("format", "", "export format: yaml or json (default: from file extension)")

	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeExportCmd)

	rootCmd.AddCommand(storeCmd)
}
