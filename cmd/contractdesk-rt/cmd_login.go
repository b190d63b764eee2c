package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCmd() *cobra.Command {
	var (
		email    string
		password string
		save     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and obtain a session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)

			if email == "" {
				fmt.Fprint(os.Stderr, "Email: ")
				line, _ := reader.ReadString('\n')
				email = strings.TrimSpace(line)
			}
			if password == "" {
				fmt.Fprint(os.Stderr, "Password: ")
				line, _ := reader.ReadString('\n')
				password = strings.TrimSpace(line)
			}
			if email == "" || password == "" {
				return fmt.Errorf("email and password are required")
			}

			sess, err := apiClient.Auth.Login(context.Background(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			if save {
				cfgPath, err := writeConfig(flagURL, sess.Token)
				if err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Token saved to %s\n", cfgPath)
			}

			output(sess, sess.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted if omitted)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted if omitted)")
	cmd.Flags().BoolVar(&save, "save", false, "Save the token to ~/.contractdesk/config.yaml")
	return cmd
}
