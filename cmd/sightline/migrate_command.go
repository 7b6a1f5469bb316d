package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
)

func newMigrateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the durable store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.AutoMigrateAll(db); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
