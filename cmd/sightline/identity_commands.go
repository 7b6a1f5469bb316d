package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/sightline/internal/adapters/store"
)

func newIdentityCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage enrolled identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newIdentityCreateCommand(cc))
	cmd.AddCommand(newIdentityListCommand(cc))
	cmd.AddCommand(newIdentityDeactivateCommand(cc))
	return cmd
}

func newIdentityCreateCommand(cc *commandContext) *cobra.Command {
	var (
		name       string
		email      string
		department string
		role       string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			identity, err := store.NewIdentityRepo(db).Create(cmd.Context(), &store.Identity{
				Name:       name,
				Email:      email,
				Department: department,
				Role:       role,
				Active:     true,
			})
			if err != nil {
				return fmt.Errorf("create identity: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created identity %d (%s)\n", identity.ID, identity.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Full name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&department, "department", "", "Department")
	cmd.Flags().StringVar(&role, "role", "", "Role")
	return cmd
}

func newIdentityListCommand(cc *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			identities, err := store.NewIdentityRepo(db).List(cmd.Context(), !all)
			if err != nil {
				return fmt.Errorf("list identities: %w", err)
			}
			if len(identities) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no identities")
				return nil
			}
			for _, id := range identities {
				state := "active"
				if !id.Active {
					state = "inactive"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", id.ID, id.Name, id.Department, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include deactivated identities")
	return cmd
}

func newIdentityDeactivateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>...",
		Short: "Deactivate identities so their events stop syncing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := cc.openStore(cmd.Context())
			if err != nil {
				return err
			}
			repo := store.NewIdentityRepo(db)

			failures := 0
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					failures++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not a valid identity id\n", arg)
					continue
				}
				ok, err := repo.Deactivate(cmd.Context(), id)
				switch {
				case err != nil:
					failures++
					fmt.Fprintf(cmd.OutOrStdout(), "%d: %v\n", id, err)
				case !ok:
					failures++
					fmt.Fprintf(cmd.OutOrStdout(), "%d: not found or already inactive\n", id)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%d: deactivated\n", id)
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d deactivations failed", failures, len(args))
			}
			return nil
		},
	}
}
