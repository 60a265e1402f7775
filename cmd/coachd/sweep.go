package main

import (
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/monitor"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var noCooldown bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one intervention monitor sweep",
		Long: `Find resolutions at risk of abandonment and run the intervention workflow
for each of them once, then print a summary.

Thresholds and concurrency come from the monitor section of the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []monitor.Option
			if noCooldown {
				opts = append(opts, monitor.WithCooldown(0))
			}
			sum, err := a.newMonitor(opts...).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCooldown, "no-cooldown", false, "intervene even on recently handled resolutions")
	return cmd
}
