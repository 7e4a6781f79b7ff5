package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func browserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browser",
		Short: "Manage the persistent browser profile used by navigate_url",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "login <url>",
		Short: "Open a visible browser to sign in; press Ctrl+C when done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bridge := newBridge(cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "Sign in at %s, then press Ctrl+C to save the session to %s\n", args[0], bridge.ProfileDir())
			return bridge.Login(ctx, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "visit <url>",
		Short: "Load a page with the saved profile and print its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()

			title, text, err := newBridge(cfg).Visit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s\n", title, text)
			return nil
		},
	})

	return cmd
}
