package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerkv/internal/kv"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Config      string
	App         string
	Database    string
	Driver      string
	Endpoint    string
	Lookback    uint64
	Incremental bool

	// Clock and IDs override record timestamps and ids (for testing).
	// If nil, kv defaults apply.
	Clock func() time.Time
	IDs   kv.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ledgerkv CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerkv",
		Short: "ledgerkv - a key-value store on an append-only ledger",
		Long: `A key-value store whose only storage is an append-only, height-ordered
blob ledger. Each namespace is anchored at a ledger height; reads replay
every record from the anchor to the tip and the latest write to a key wins.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")
	flags.StringVarP(&opts.App, "app", "a", "", "namespace (app name)")
	flags.StringVar(&opts.Database, "db", "", "path to the local SQLite ledger")
	flags.StringVar(&opts.Driver, "driver", "", "ledger driver (sqlite|lightclient)")
	flags.StringVar(&opts.Endpoint, "endpoint", "", "light client endpoint")
	flags.Uint64Var(&opts.Lookback, "lookback", 0, "heights below the tip scanned for an existing anchor")
	flags.BoolVar(&opts.Incremental, "incremental", false, "reconcile incrementally from the last synced height")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewMineCommand(opts))
	cmd.AddCommand(NewNamespacesCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
