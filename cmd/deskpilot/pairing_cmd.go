package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"deskpilot/internal/domain"
	"deskpilot/internal/memory"

	"github.com/spf13/cobra"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Inspect and revoke paired channel users",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List paired users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openPairingStore()
			if err != nil {
				return err
			}
			defer done()

			users, err := store.PairedUsers(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), users)
			}
			printPairedUsers(cmd.OutOrStdout(), users, time.Now())
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <channel> <user-id>",
		Short: "Remove a pairing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openPairingStore()
			if err != nil {
				return err
			}
			defer done()

			removed, err := store.Unpair(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s user %s is not paired", args[0], args[1])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s user %s.\n", args[0], args[1])
			return nil
		},
	})
	return cmd
}

func openPairingStore() (*memory.SQLiteStore, func(), error) {
	cfg, logClose, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Memory.Enabled {
		logClose.Close()
		return nil, nil, fmt.Errorf("pairings are only persisted when memory.enabled = true")
	}
	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		logClose.Close()
		return nil, nil, err
	}
	return store, func() {
		store.Close()
		logClose.Close()
	}, nil
}

func printPairedUsers(w io.Writer, users []domain.PairedUser, now time.Time) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No paired users.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tUSER\tPAIRED\tEXPIRES")
	for _, u := range users {
		expires := "never"
		if u.ExpiresAt != nil {
			expires = u.ExpiresAt.Local().Format("2006-01-02 15:04")
			if !u.ExpiresAt.After(now) {
				expires += " (expired)"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Channel, u.UserID, u.PairedAt.Local().Format("2006-01-02 15:04"), expires)
	}
	tw.Flush()
}
