package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
	"github.com/okian/sightline/internal/domain/keys"
)

func newEventsCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query confirmed detection events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newEventsByDateCommand(cc))
	cmd.AddCommand(newEventsByIdentityCommand(cc))
	cmd.AddCommand(newEventsSummaryCommand(cc))
	cmd.AddCommand(newEventsPurgeCommand(cc))
	return cmd
}

// newEventsPurgeCommand is the only path that deletes durable event
// rows; nothing in the pipeline itself ever removes them.
func newEventsPurgeCommand(cc *commandContext) *cobra.Command {
	var keepDays int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete durable events older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keepDays <= 0 {
				return fmt.Errorf("--keep-days must be positive")
			}
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)
			deleted, err := store.NewEventRepo(db).DeleteBefore(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("purge events: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events observed before %s\n",
				deleted, cutoff.Format(keys.DateLayout))
			return nil
		},
	}
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "Delete events older than this many days (required)")
	return cmd
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	day, err := time.Parse(keys.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", value)
	}
	return day, nil
}

// writeEvents prints events as a table, or as CSV when exportPath is
// set.
func writeEvents(cmd *cobra.Command, events []*store.Event, exportPath string) error {
	if exportPath != "" {
		return exportEventsCSV(events, exportPath)
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no events")
		return nil
	}
	for _, e := range events {
		fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d\t%s\t%s\t%.2f\n",
			e.ID, e.IdentityID, e.SourceID,
			e.ObservedAt.UTC().Format(time.RFC3339), e.Confidence)
	}
	return nil
}

func exportEventsCSV(events []*store.Event, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"id", "identity_id", "source_id", "observed_at", "confidence"}); err != nil {
		return err
	}
	for _, e := range events {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.IdentityID, 10),
			e.SourceID,
			e.ObservedAt.UTC().Format(time.RFC3339),
			strconv.FormatFloat(e.Confidence, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func newEventsByDateCommand(cc *commandContext) *cobra.Command {
	var (
		date     string
		sourceID string
		export   string
	)
	cmd := &cobra.Command{
		Use:   "by-date",
		Short: "List events observed on one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			events, err := store.NewEventRepo(db).ListByDate(cmd.Context(), day)
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}
			if sourceID != "" {
				filtered := events[:0]
				for _, e := range events {
					if e.SourceID == sourceID {
						filtered = append(filtered, e)
					}
				}
				events = filtered
			}
			return writeEvents(cmd, events, export)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to query, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&sourceID, "source", "", "Only events from this source")
	cmd.Flags().StringVar(&export, "export", "", "Write results to a CSV file")
	return cmd
}

func newEventsByIdentityCommand(cc *commandContext) *cobra.Command {
	var (
		identityID int64
		from       string
		to         string
		export     string
	)
	cmd := &cobra.Command{
		Use:   "by-identity",
		Short: "List one identity's events, optionally within a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identityID <= 0 {
				return fmt.Errorf("--identity is required")
			}
			var fromT, toT time.Time
			var err error
			if from != "" {
				if fromT, err = time.Parse(keys.DateLayout, from); err != nil {
					return fmt.Errorf("invalid --from date %q", from)
				}
			}
			if to != "" {
				if toT, err = time.Parse(keys.DateLayout, to); err != nil {
					return fmt.Errorf("invalid --to date %q", to)
				}
				// Inclusive end date.
				toT = toT.AddDate(0, 0, 1)
			}
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			events, err := store.NewEventRepo(db).ListByIdentity(cmd.Context(), identityID, fromT, toT)
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}
			return writeEvents(cmd, events, export)
		},
	}
	cmd.Flags().Int64Var(&identityID, "identity", 0, "Identity ID (required)")
	cmd.Flags().StringVar(&from, "from", "", "Start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "End date, YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&export, "export", "", "Write results to a CSV file")
	return cmd
}

func newEventsSummaryCommand(cc *commandContext) *cobra.Command {
	var (
		date   string
		export string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Per-identity summary for one day: count, first and last seen",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(date)
			if err != nil {
				return err
			}
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			sums, err := store.NewEventRepo(db).SummarizeDay(cmd.Context(), day)
			if err != nil {
				return fmt.Errorf("summarize events: %w", err)
			}
			if export != "" {
				return exportSummaryCSV(sums, export)
			}
			if len(sums) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}
			for _, s := range sums {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%d\t%s\t%s\n",
					s.IdentityID, s.Name, s.Count,
					s.FirstSeen.UTC().Format("15:04:05"),
					s.LastSeen.UTC().Format("15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to summarize, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&export, "export", "", "Write results to a CSV file")
	return cmd
}

func exportSummaryCSV(sums []*store.DailySummary, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"identity_id", "name", "count", "first_seen", "last_seen"}); err != nil {
		return err
	}
	for _, s := range sums {
		row := []string{
			strconv.FormatInt(s.IdentityID, 10),
			s.Name,
			strconv.FormatInt(s.Count, 10),
			s.FirstSeen.UTC().Format(time.RFC3339),
			s.LastSeen.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
