package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/server/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		userID   string
		validity time.Duration
	)

	c := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for calling the API as a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			token, err := auth.GenerateToken(userID, []byte(cfg.SecretKey), validity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	c.Flags().StringVar(&userID, "user", "", "user ID to put in the token")
	c.Flags().DurationVar(&validity, "ttl", time.Hour, "token lifetime")
	return c
}
