package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRenewCmd creates the renew subcommand, which runs one renewal pass and exits.
func newRenewCmd() *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Renew every hub subscription once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			scheduler := a.scheduler()
			failed := 0
			for _, s := range scheduler.RenewAll(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d renewed, %d failed\n", s.Kind, s.Renewed, s.Total, s.Failed)
				failed += s.Failed
			}

			if ping && a.cfg.Renewal.PingURL != "" {
				if err := scheduler.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "feed aggregator pinged")
			}

			if failed > 0 {
				return fmt.Errorf("%d renewals failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "also ping the feed aggregator")
	return cmd
}
