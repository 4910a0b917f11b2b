package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-beacon/internal/domain"
)

var runCmd = &cobra.Command{
	Use:   "run <client-id>",
	Short: "Run a snapshot for a client",
	Long:  "Sends every prompt in the active pack to every runnable provider, records each answer and scores the client. Exits non-zero if the snapshot could not be created or was aborted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		flagModels, _ := cmd.Flags().GetStringToString("model")
		overrides, err := parseModelOverrides(flagModels)
		if err != nil {
			return err
		}

		o, err := e.orchestrator(ctx, cfg, overrides)
		if err != nil {
			return err
		}

		snap, err := o.Run(ctx, args[0])
		if snap != nil {
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				_ = writeJSON(os.Stdout, snap)
			} else {
				formatSnapshot(os.Stdout, snap)
			}
		}
		if err != nil {
			return eris.Wrap(err, "run snapshot")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	runCmd.Flags().StringToString("model", nil, "pin a provider's model for this run (provider=model, repeatable)")
	rootCmd.AddCommand(runCmd)
}

// parseModelOverrides turns provider=model flag pairs into per-provider
// overrides. Unknown providers and empty models are rejected.
func parseModelOverrides(pairs map[string]string) (map[domain.Provider]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[domain.Provider]string, len(pairs))
	for name, model := range pairs {
		p, err := domain.ParseProvider(strings.TrimSpace(name))
		if err != nil {
			return nil, eris.Wrap(err, "--model")
		}
		model = strings.TrimSpace(model)
		if model == "" {
			return nil, fmt.Errorf("--model %s: model name is required", p)
		}
		out[p] = model
	}
	return out, nil
}
