package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/auditstack/evidence-registry/pkg/pbc"
)

var (
	generateMode    string
	generateControl string
	generateTitle   string
)

var generateCmd = &cobra.Command{
	Use:   "generate <project-id>",
	Short: "Generate PBC request items from a project's active scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openDB()
		if err != nil {
			return err
		}
		tc, err := callerContext()
		if err != nil {
			return err
		}

		mode := generateMode
		if mode == "" {
			mode = cfg.Generation.DefaultMode
		}
		params := pbc.GenerateParams{ProjectID: args[0], Mode: mode}
		if generateControl != "" {
			params.ControlID = &generateControl
		}
		if generateTitle != "" {
			params.Title = &generateTitle
		}

		result, err := pbc.NewStore(pbc.Config{DB: db}).Generate(cmd.Context(), tc, params)
		if err != nil {
			return err
		}
		fmt.Printf("request %s created with %d items\n", result.RequestID, result.ItemsCreated)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateMode, "mode", "", "Generation mode: new or replace_drafts (default from config)")
	generateCmd.Flags().StringVar(&generateControl, "control", "", "Only generate items for project controls over this control id")
	generateCmd.Flags().StringVar(&generateTitle, "title", "", "Title for the generated request")
}
