package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/contractdesk/realtime/channel"
)

// wsEndpoint converts the API base URL into the websocket connect endpoint.
func wsEndpoint(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/ws/connect"
}

func newTailCmd() *cobra.Command {
	var (
		types      []string
		count      int
		showStatus bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream live realtime events to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagToken == "" {
				return fmt.Errorf("a session token is required (--token, CONTRACTDESK_TOKEN, or contractdesk-rt login)")
			}

			log := logrus.New()
			log.SetOutput(os.Stderr)
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.WarnLevel)
			}

			sup := channel.New(channel.Config{URL: wsEndpoint(flagURL)},
				channel.WithLogger(log),
				channel.WithStateHandler(func(st channel.State, err error) {
					if !verbose {
						return
					}
					if err != nil {
						fmt.Fprintf(os.Stderr, "state: %s (%v)\n", st, err)
					} else {
						fmt.Fprintf(os.Stderr, "state: %s\n", st)
					}
				}))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var seen atomic.Int64
			done := make(chan struct{})

			print := func(evt channel.Event) {
				if evt.Type == channel.EventConnectionStatus && !showStatus {
					return
				}
				printEvent(evt)
				if count > 0 && seen.Add(1) >= int64(count) {
					select {
					case <-done:
					default:
						close(done)
					}
				}
			}

			if len(types) == 0 {
				sup.Subscribe(channel.EventWildcard, print)
			} else {
				for _, t := range types {
					sup.Subscribe(channel.EventType(t), print)
				}
				if showStatus {
					sup.Subscribe(channel.EventConnectionStatus, print)
				}
			}

			if err := sup.Start(ctx, flagToken); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
			case <-done:
			case <-sup.Done():
				if err := sup.LastError(); err != nil {
					return err
				}
			}
			sup.Stop()

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "Event types to include (default: all)")
	cmd.Flags().IntVar(&count, "count", 0, "Exit after N events (0 = run until interrupted)")
	cmd.Flags().BoolVar(&showStatus, "status", false, "Include connection status events")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Log connection lifecycle to stderr")
	return cmd
}

// printEvent writes a single event in the selected output format.
func printEvent(evt channel.Event) {
	if flagFmt == "table" {
		formatTable([]string{"TIME", "TYPE"}, [][]string{
			{evt.Timestamp.Format("15:04:05"), string(evt.Type)},
		})
		return
	}

	line := map[string]any{
		"type":      evt.Type,
		"timestamp": evt.Timestamp,
		"payload":   evt.Payload,
	}
	data, err := json.Marshal(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode event: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
