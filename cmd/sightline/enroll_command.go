package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/model"
	"github.com/okian/sightline/internal/ingest"
)

// defaultEnrollFrames bounds an enrollment session when neither the
// flag nor frame_cap sets a limit.
const defaultEnrollFrames = 50

func newEnrollCommand(cc *commandContext) *cobra.Command {
	var (
		identityID int64
		frames     int
		sourceID   string
	)
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Capture a bounded enrollment session for one identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identityID <= 0 {
				return fmt.Errorf("--identity is required")
			}
			cfg, err := cc.ensureConfig(cmd.Context())
			if err != nil {
				return err
			}

			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			identity, err := store.NewIdentityRepo(db).GetByID(cmd.Context(), identityID)
			if err != nil {
				return fmt.Errorf("look up identity: %w", err)
			}
			if identity == nil {
				return fmt.Errorf("identity %d does not exist", identityID)
			}
			if !identity.Active {
				return fmt.Errorf("identity %d is deactivated", identityID)
			}
			inflight, err := store.NewTrainingRunRepo(db).LatestNonTerminal(cmd.Context(), identityID)
			if err != nil {
				return fmt.Errorf("check training runs: %w", err)
			}
			if inflight != nil {
				return fmt.Errorf("identity %d already has training run %d in status %s; run train before enrolling again",
					identityID, inflight.ID, inflight.Status)
			}

			buf, ch, err := cc.openChannel(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = buf.Close() }()
			defer func() { _ = ch.Close() }()

			if frames <= 0 {
				frames = cfg.FrameCap
			}
			if frames <= 0 {
				frames = defaultEnrollFrames
			}

			producer := ingest.New(ch, ingest.PassthroughExtractor{}, cfg.EnrollmentStream,
				ingest.WithMode(model.ModeEnrollment),
				ingest.WithIdentityHint(identityID),
				ingest.WithFrameCap(frames),
			)
			// A synthetic feed stands in until a capture device source is
			// configured for the session.
			stats, err := producer.Run(cmd.Context(),
				ingest.NewSyntheticSource(sourceID, frames, byte(identityID)))
			if err != nil {
				return err
			}

			st := stats[0]
			fmt.Fprintf(cmd.OutOrStdout(), "enrollment session for %s: %d frames, %d published, %d dropped\n",
				identity.Name, st.Frames, st.Published, st.Dropped)
			if st.Dropped > 0 {
				return fmt.Errorf("%d samples were dropped", st.Dropped)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&identityID, "identity", 0, "Identity ID to enroll (required)")
	cmd.Flags().IntVar(&frames, "frames", 0, "Frames to capture (defaults to frame_cap)")
	cmd.Flags().StringVar(&sourceID, "source", "enroll-booth", "Source ID stamped on the session")
	return cmd
}
