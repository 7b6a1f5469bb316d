package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/classifier"
	"github.com/okian/sightline/internal/domain/keys"
	"github.com/okian/sightline/internal/workers/trainer"
	"github.com/okian/sightline/pkg/logger"
)

func newTrainCommand(cc *commandContext) *cobra.Command {
	var (
		identityID int64
		date       string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run one training sweep over pending enrollment batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			var day time.Time
			if date != "" {
				var err error
				if day, err = time.Parse(keys.DateLayout, date); err != nil {
					return fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
				}
			}
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

			cls := classifier.NewCentroid()
			handle := classifier.NewHandle(cls, buf, logger.Get())
			if err := handle.Reload(cmd.Context()); err != nil {
				return fmt.Errorf("load current model: %w", err)
			}

			tr := trainer.New(store.NewTrainingRunRepo(db), buf, cls, trainer.Options{
				SubBatchSize: cfg.TrainSubBatchSize,
			})
			if err := tr.RunMatching(cmd.Context(), identityID, day); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "training sweep complete")
			return nil
		},
	}
	cmd.Flags().Int64Var(&identityID, "identity", 0, "Train only this identity's pending runs")
	cmd.Flags().StringVar(&date, "date", "", "Train only runs started on this date (YYYY-MM-DD)")
	return cmd
}
