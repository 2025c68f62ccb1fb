package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the --config file and flag
overrides are applied.

Examples:
  ledgerkv config
  ledgerkv config -c ledgerkv.yaml --lookback 50 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return formatter(cmd, opts).Success(cfg)
			}
			data, err := cfg.Marshal()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render config", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
