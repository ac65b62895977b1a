// Package cmd implements kycctl, the operator CLI for the KYC server.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/kycflow/internal/logging"
	"github.com/dmitrijs2005/kycflow/internal/server/config"
	"github.com/spf13/cobra"
)

const appName = "kycctl"

var (
	cfgFile string
	cfg     *config.Config
	logger  logging.Logger
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "kycctl is an operator tool for the KYC verification server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				if err := os.Setenv("KYC_CONFIG", cfgFile); err != nil {
					return err
				}
			}
			cfg = config.LoadFileConfig()
			logger = logging.New(cfg.LogFormat)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "JSON config file (default $KYC_CONFIG)")

	root.AddCommand(newMigrateCmd(), newReapCmd(), newTokenCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if logger != nil {
			logger.Error(context.Background(), "kycctl failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
