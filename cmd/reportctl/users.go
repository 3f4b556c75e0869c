package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/izavyalov-dev/reportd/state"
)

func newUsersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the ledger whitelist",
	}

	withStore := func(cmd *cobra.Command, fn func(*state.Store) error) error {
		cfg, err := opts.load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("database-url or DATABASE_URL required")
		}
		store, err := state.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.ApplyMigrations(cmd.Context()); err != nil {
			return err
		}
		return fn(store)
	}

	var note string
	authorize := &cobra.Command{
		Use:   "authorize <user-id>",
		Short: "Allow a chat user to request reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			return withStore(cmd, func(store *state.Store) error {
				return store.AuthorizeUser(cmd.Context(), id, note)
			})
		},
	}
	authorize.Flags().StringVar(&note, "note", "", "who the user is")

	revoke := &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "Remove a chat user from the ledger whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			return withStore(cmd, func(store *state.Store) error {
				return store.RevokeUser(cmd.Context(), id)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List whitelisted users stored in the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *state.Store) error {
				ids, err := store.LoadWhitelist(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(authorize, revoke, list)
	return cmd
}
