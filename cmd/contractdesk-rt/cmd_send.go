package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/contractdesk/realtime/channel"
)

func newSendCmd() *cobra.Command {
	var (
		msgType  string
		data     string
		critical bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single client message over the realtime channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagToken == "" {
				return fmt.Errorf("a session token is required (--token, CONTRACTDESK_TOKEN, or contractdesk-rt login)")
			}

			var fields map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &fields); err != nil {
					return fmt.Errorf("--data is not valid JSON: %w", err)
				}
			}

			log := logrus.New()
			log.SetOutput(os.Stderr)
			log.SetLevel(logrus.WarnLevel)

			opened := make(chan struct{})
			sup := channel.New(channel.Config{URL: wsEndpoint(flagURL)},
				channel.WithLogger(log),
				channel.WithStateHandler(func(st channel.State, err error) {
					if st == channel.StateOpen {
						select {
						case <-opened:
						default:
							close(opened)
						}
					}
				}))

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			sup.Send(channel.Outbound{Type: msgType, Data: fields, Critical: critical})

			if err := sup.Start(ctx, flagToken); err != nil {
				return err
			}
			defer sup.Stop()

			select {
			case <-opened:
				// Queued messages flush on open; give the write a moment.
				time.Sleep(100 * time.Millisecond)
				output(map[string]string{"status": "sent", "type": msgType}, msgType)
				return nil
			case <-sup.Done():
				return fmt.Errorf("channel closed before message could be sent: %w", sup.LastError())
			case <-ctx.Done():
				return fmt.Errorf("timed out waiting for the channel to open")
			}
		},
	}

	cmd.Flags().StringVar(&msgType, "type", "presence_ping", "Message type")
	cmd.Flags().StringVar(&data, "data", "", "Message payload as a JSON object")
	cmd.Flags().BoolVar(&critical, "critical", false, "Never silently drop this message under queue pressure")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Give up after this long")
	return cmd
}
