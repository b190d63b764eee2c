package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show realtime channel statistics",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			stats, err := apiClient.Realtime.Stats(context.Background())
			if err != nil {
				fatal("stats", err)
			}

			if flagFmt == "table" {
				formatTable(
					[]string{"CONNECTIONS", "UPTIME_S", "EVENTS_SENT", "ERRORS"},
					[][]string{{
						strconv.Itoa(stats.ActiveConnections),
						strconv.FormatFloat(stats.UptimeSeconds, 'f', 0, 64),
						strconv.FormatInt(stats.EventsSent, 10),
						strconv.FormatInt(stats.ErrorCount, 10),
					}})
				return
			}
			output(stats, strconv.Itoa(stats.ActiveConnections))
		},
	}
	return cmd
}
