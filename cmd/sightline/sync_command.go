package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/workers/syncer"
)

func newSyncOnceCommand(cc *commandContext) *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "sync-once",
		Short: "Drain all buffered events into the durable store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig(cmd.Context())
			if err != nil {
				return err
			}
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			buf, err := cc.openBuffer(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = buf.Close() }()

			s := syncer.New(buf, store.NewEventRepo(db), store.NewIdentityRepo(db), syncer.Options{
				RetentionDays: cfg.RetentionDays,
			})
			if err := s.RunOnce(cmd.Context()); err != nil {
				return err
			}
			if cleanup {
				s.Cleanup(cmd.Context())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync pass complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Also delete stale empty buffer keys")
	return cmd
}
