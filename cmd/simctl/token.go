package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gilkh/livret-sub003/internal/apiserver/auth"
)

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an admin JWT signed with the server secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := jwtSecret
		if secret == "" {
			secret = os.Getenv("JWT_SECRET")
		}
		cfg := auth.Config{JWTSecret: secret}
		token, err := auth.GenerateToken(cfg, tokenUser, tokenUser+"@localhost", auth.RoleAdmin, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "simctl", "subject (user id) of the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
