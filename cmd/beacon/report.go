package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-beacon/internal/application"
)

var reportCmd = &cobra.Command{
	Use:   "report <snapshot-id>",
	Short: "Show a snapshot with its responses and competitor mentions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		similarity, _ := cmd.Flags().GetFloat64("similarity")
		r, err := application.NewReporter(e.store, similarity)
		if err != nil {
			return err
		}

		report, err := r.Report(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "report")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, report)
		}
		formatReport(os.Stdout, report)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("json", false, "print the report as JSON")
	reportCmd.Flags().Float64("similarity", 0, "minimum name similarity for competitor matching (0 uses the default)")
	rootCmd.AddCommand(reportCmd)
}
