package main

import (
	"fmt"
	"math"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/sightline/internal/app"
	"github.com/okian/sightline/internal/ingest"
)

// buildSources turns configured source endpoints into capture sources.
// Only synthetic feeds (`synthetic:<frames>`) are built in; anything
// else needs a capture integration and is skipped with a notice.
func buildSources(cmd *cobra.Command, configured map[string]string) []ingest.Source {
	var sources []ingest.Source
	fill := byte(1)
	for id, endpoint := range configured {
		if !strings.HasPrefix(endpoint, "synthetic:") {
			fmt.Fprintf(cmd.ErrOrStderr(), "source %s: unsupported endpoint %q, skipping\n", id, endpoint)
			continue
		}
		frames := math.MaxInt32
		if n, err := fmt.Sscanf(strings.TrimPrefix(endpoint, "synthetic:"), "%d", &frames); n != 1 || err != nil {
			frames = math.MaxInt32
		}
		// Pace the feed like a real capture loop instead of spinning.
		sources = append(sources, ingest.NewSyntheticSource(id, frames, fill).WithDelay(200*time.Millisecond))
		fill++
	}
	return sources
}

func newRunCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: consumers, sync worker, trainer, and ops server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc := service.New(cfg, service.WithSources(buildSources(cmd, cfg.Sources)...))
			if err := svc.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			stop()
			svc.Stop(cmd.Context())
			return nil
		},
	}
}
