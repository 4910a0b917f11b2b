package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-beacon/internal/domain"
	"github.com/ahrav/go-beacon/internal/extraction"
)

var probeCmd = &cobra.Command{
	Use:   "probe <provider> <prompt>",
	Short: "Send one prompt to one provider",
	Long:  "Diagnostic call against any enabled provider, including providers outside the execution set. Nothing is persisted.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, err := domain.ParseProvider(args[0])
		if err != nil {
			return err
		}

		e, err := newEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		client, err := e.registry.Client(p)
		if err != nil {
			return eris.Wrap(err, "probe")
		}

		system, _ := cmd.Flags().GetString("system")
		if system == "" {
			system = e.pack.System
		}
		model, _ := cmd.Flags().GetString("model")

		completion, err := client.Run(ctx, system, args[1], model)
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Provider:\t%s\n", p)
		fmt.Fprintf(tw, "Model:\t%s\n", completion.ModelUsed)
		fmt.Fprintf(tw, "Latency:\t%s\n", completion.Latency)
		if err != nil {
			fmt.Fprintf(tw, "Error:\t%v\n", err)
			_ = tw.Flush()
			return eris.Wrap(err, "probe")
		}
		out := extraction.Evaluate(completion.RawText)
		fmt.Fprintf(tw, "Extraction:\t%s\n", out.Kind)
		if len(out.Errors) > 0 {
			fmt.Fprintf(tw, "Field errors:\t%v\n", out.Errors)
		}
		_ = tw.Flush()

		fmt.Println()
		fmt.Println(completion.RawText)
		return nil
	},
}

func init() {
	probeCmd.Flags().String("model", "", "override the configured model")
	probeCmd.Flags().String("system", "", "system prompt (default: the active pack's)")
	rootCmd.AddCommand(probeCmd)
}
