package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/huddle/internal/auth"
	"github.com/zulandar/huddle/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Long: `Signs a token with auth.jwt_secret, in the same form the login service
issues. Useful for local testing of the REST and websocket endpoints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, configPath, userID, ttl)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Huddle config file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to issue the token for (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func runToken(cmd *cobra.Command, configPath, userID string, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	j, err := auth.NewJWT(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	token, err := j.Issue(userID, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
