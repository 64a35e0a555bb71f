package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/v2xtrx/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Load and validate a configuration file without starting the pipeline.

Examples:
  v2xtrx validate -c /etc/v2xtrx/config.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("INVALID: %w", err)
			}
			p := cfg.Profile()
			fmt.Fprintf(cmd.OutOrStdout(), "VALID: mode %s, aid %d, interest %v, transport %s, %d reporter(s)\n",
				cfg.Mode, p.AID, cfg.Interest().AIDs(), cfg.Transport.Type, len(cfg.Reporting.Reporters))
			return nil
		},
	}
}
