package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-beacon/internal/application"
)

var resetCmd = &cobra.Command{
	Use:   "reset <client-id>",
	Short: "Fail snapshots stuck in running",
	Long:  "Marks every running snapshot of the client as failed so a new run can start. Safe to repeat.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		clientID := args[0]

		e, err := newEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		rec, err := application.NewRecovery(e.store, e.options()...)
		if err != nil {
			return err
		}

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			running, err := rec.Running(ctx, clientID)
			if err != nil {
				return eris.Wrap(err, "reset")
			}
			if len(running) == 0 {
				fmt.Fprintln(os.Stderr, "No running snapshots.")
				return nil
			}
			for _, s := range running {
				fmt.Printf("%s\tstarted %s\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		}

		actor, _ := cmd.Flags().GetString("actor")
		res, err := rec.ResetRunning(ctx, clientID, actor)
		if err != nil {
			return eris.Wrap(err, "reset")
		}
		return writeJSON(os.Stdout, res)
	},
}

func init() {
	resetCmd.Flags().String("actor", os.Getenv("USER"), "who is performing the reset")
	resetCmd.Flags().Bool("dry-run", false, "list running snapshots without changing them")
	rootCmd.AddCommand(resetCmd)
}
