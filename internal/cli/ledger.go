package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerkv/internal/store"
)

// NewMineCommand creates the mine command.
func NewMineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mine <n>",
		Short: "Seal n empty blocks on the local ledger",
		Long: `Seal n empty blocks on the local SQLite ledger, advancing its tip.
Useful to move a namespace anchor out of the lookback window in a devnet.

Examples:
  ledgerkv mine 20 --db ./ledgerkv.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid block count %q", args[0]), err)
			}
			return withStore(cmd, opts, "mine", func(st *store.Store) error {
				tip, err := st.Mine(commandContext(cmd), n)
				if err != nil {
					return WrapExitError(ExitFailure, "mine failed", err)
				}
				return formatter(cmd, opts).Result(map[string]uint64{"tip": tip}, fmt.Sprintf("tip %d", tip))
			})
		},
	}
}

// NamespaceView is the JSON form of a registered namespace.
type NamespaceView struct {
	Name  string `json:"name"`
	AppID uint32 `json:"app_id"`
}

// NewNamespacesCommand creates the namespaces command.
func NewNamespacesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "namespaces",
		Short:         "List namespaces registered on the local ledger",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, "namespaces", func(st *store.Store) error {
				nss, err := st.Namespaces(commandContext(cmd))
				if err != nil {
					return WrapExitError(ExitFailure, "list namespaces failed", err)
				}
				if opts.Format == "json" {
					views := make([]NamespaceView, len(nss))
					for i, ns := range nss {
						views[i] = NamespaceView{Name: ns.Name, AppID: uint32(ns.AppID)}
					}
					return formatter(cmd, opts).Success(views)
				}

				w := cmd.OutOrStdout()
				if len(nss) == 0 {
					fmt.Fprintln(w, "No namespaces.")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, ns := range nss {
					fmt.Fprintf(tw, "%d\t%s\n", ns.AppID, ns.Name)
				}
				return tw.Flush()
			})
		},
	}
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every blob on the local ledger against its digest",
		Long: `Recompute the digest of every blob on the local SQLite ledger and report
any whose stored digest no longer matches.

Exit codes:
  0 - No corruption
  1 - Corruption detected
  2 - Command error (not a local ledger, etc.)

Examples:
  ledgerkv verify --db ./ledgerkv.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, "verify", func(st *store.Store) error {
				report, err := st.Verify(commandContext(cmd))
				if err != nil {
					return WrapExitError(ExitFailure, "verify failed", err)
				}
				out := formatter(cmd, opts)
				if opts.Format == "json" {
					if report.OK() {
						return out.Success(report)
					}
					_ = out.Error(ErrCodeCorrupt, fmt.Sprintf("%d corrupt blob(s)", len(report.Corruptions)), report)
				} else {
					w := cmd.OutOrStdout()
					for _, c := range report.Corruptions {
						fmt.Fprintf(w, "corrupt: height %d app %d index %d (stored %s, actual %s)\n",
							c.Height, c.AppID, c.Index, c.Stored, c.Actual)
					}
					fmt.Fprintf(w, "verified %d blobs up to height %d\n", report.Blobs, report.Tip)
				}
				if !report.OK() {
					return NewExitError(ExitFailure, fmt.Sprintf("%d corrupt blob(s)", len(report.Corruptions)))
				}
				return nil
			})
		},
	}
}

// withStore opens a session that must be backed by the local ledger.
func withStore(cmd *cobra.Command, opts *RootOptions, command string, fn func(*store.Store) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.requireStore(command)
	if err != nil {
		return err
	}
	return fn(st)
}
