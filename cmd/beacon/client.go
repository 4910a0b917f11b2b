package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-beacon/internal/domain"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Manage client profiles",
}

var clientPutCmd = &cobra.Command{
	Use:   "put <client-id>",
	Short: "Create or replace a client profile and its competitors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		industry, _ := cmd.Flags().GetString("industry")
		agency, _ := cmd.Flags().GetString("agency")
		competitors, _ := cmd.Flags().GetStringSlice("competitor")
		if name == "" {
			return eris.New("--name is required")
		}

		e, err := newEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		c := domain.Client{ID: args[0], AgencyID: agency, Name: name, Industry: industry}
		if err := e.store.SaveClient(ctx, c, competitors); err != nil {
			return eris.Wrap(err, "client put")
		}
		fmt.Fprintf(os.Stderr, "Saved client %s with %d competitors.\n", c.ID, len(competitors))
		return nil
	},
}

var clientShowCmd = &cobra.Command{
	Use:   "show <client-id>",
	Short: "Show a client profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := newEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		c, err := e.store.GetClient(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "client show")
		}
		competitors, err := e.store.ListCompetitors(ctx, c.ID)
		if err != nil {
			return eris.Wrap(err, "client show")
		}
		return writeJSON(os.Stdout, struct {
			domain.Client
			Competitors []string `json:"competitors"`
		}{c, competitors})
	},
}

func init() {
	clientPutCmd.Flags().String("name", "", "brand name")
	clientPutCmd.Flags().String("industry", "", "industry the brand competes in")
	clientPutCmd.Flags().String("agency", "", "owning agency id")
	clientPutCmd.Flags().StringSlice("competitor", nil, "known competitor (repeatable)")

	clientCmd.AddCommand(clientPutCmd, clientShowCmd)
	rootCmd.AddCommand(clientCmd)
}
