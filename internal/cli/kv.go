package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerkv/internal/anchor"
	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/kv"
)

// RecordView is the JSON form of a record.
type RecordView struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Height    uint64    `json:"height"`
	Index     *int      `json:"index,omitempty"`
}

func recordView(rec envelope.Record, withIndex bool) RecordView {
	v := RecordView{
		Key:       rec.Key,
		Value:     rec.Value,
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Height:    rec.Pos.Height,
	}
	if withIndex {
		idx := rec.Pos.Index
		v.Index = &idx
	}
	return v
}

// InitResult is the JSON form of an init.
type InitResult struct {
	App         string   `json:"app"`
	AppID       uint32   `json:"app_id"`
	Outcome     string   `json:"outcome"`
	StartHeight uint64   `json:"start_height"`
	Competing   []uint64 `json:"competing_anchors,omitempty"`
}

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Find or create the namespace anchor",
		Long: `Find the namespace anchor within the lookback window below the ledger tip,
or publish a new one at the next height.

Exit codes:
  0 - Anchor found or created
  1 - Ledger failure
  2 - Command error (no namespace, bad config)

Examples:
  ledgerkv init --app demo
  ledgerkv init --app demo --lookback 100 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, createAnchor, func(s *session, db *kv.DB) error {
				a := db.Anchor()
				out := formatter(cmd, opts)
				res := InitResult{
					App:         db.Namespace().Name,
					AppID:       uint32(db.Namespace().AppID),
					Outcome:     a.Outcome.String(),
					StartHeight: a.StartHeight,
				}
				if a.Race != nil {
					res.Competing = a.Race.Anchors
					out.Warn("%s", a.Race.String())
				}
				return out.Result(res, fmt.Sprintf("%s: %s anchor at height %d (app %d)",
					res.App, res.Outcome, res.StartHeight, res.AppID))
			})
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <key> <value...>",
		Short: "Write a value under a key",
		Long: `Write a value under a key. Remaining arguments are joined by single spaces
to form the value.

If the record commits but the namespace metadata cannot be updated, the write
still counts: a warning is printed and the command exits 0.

Examples:
  ledgerkv add --app demo color red
  ledgerkv add --app demo greeting hello world`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], strings.Join(args[1:], " ")
			return withDB(cmd, opts, createAnchor, func(s *session, db *kv.DB) error {
				out := formatter(cmd, opts)
				rec, err := db.Add(commandContext(cmd), key, value)
				if kv.IsDegradedWrite(err) {
					out.Warn("record committed but namespace metadata was not updated: %v", err)
				} else if err != nil {
					return WrapExitError(ExitFailure, "add failed", err)
				}
				return out.Result(recordView(rec, false),
					fmt.Sprintf("%s committed at height %d (id %s)", rec.Key, rec.Pos.Height, rec.ID))
			})
		},
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read the current value of a key",
		Long: `Read the current value of a key by reconciling the namespace from its
anchor to the ledger tip.

Exit codes:
  0 - Key found
  1 - Key not found, no anchor in the lookback window, or ledger failure
  2 - Command error

Examples:
  ledgerkv get --app demo color
  ledgerkv get --app demo color --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, discoverAnchor, func(s *session, db *kv.DB) error {
				out := formatter(cmd, opts)
				rec, err := db.Get(commandContext(cmd), args[0])
				if kv.IsNotFound(err) {
					if opts.Format == "json" {
						_ = out.Error(ErrCodeNotFound, err.Error(), nil)
					}
					return WrapExitError(ExitFailure, "get failed", err)
				}
				if err != nil {
					return WrapExitError(ExitFailure, "get failed", err)
				}
				return out.Result(recordView(rec, true), rec.Value)
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every key with its current value",
		Long: `List every key in the namespace with its current value, sorted by key.

Examples:
  ledgerkv list --app demo
  ledgerkv list --app demo --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, discoverAnchor, func(s *session, db *kv.DB) error {
				recs, err := db.List(commandContext(cmd))
				if err != nil {
					return WrapExitError(ExitFailure, "list failed", err)
				}
				if opts.Format == "json" {
					views := make([]RecordView, len(recs))
					for i, r := range recs {
						views[i] = recordView(r, true)
					}
					return formatter(cmd, opts).Success(views)
				}

				w := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(w, "No keys.")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\n", r.Key, r.Value)
				}
				return tw.Flush()
			})
		},
	}
}

// StatusResult is the JSON form of a namespace status.
type StatusResult struct {
	App         string     `json:"app"`
	AppID       uint32     `json:"app_id"`
	Tip         uint64     `json:"tip"`
	StartHeight uint64     `json:"start_height"`
	Outcome     string     `json:"outcome"`
	Keys        int        `json:"keys"`
	RecordCount *int64     `json:"record_count,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the namespace anchor, tip and counts",
		Long: `Show the namespace anchor, the ledger tip, the number of live keys and the
record count from the latest published metadata.

Examples:
  ledgerkv status --app demo`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, opts, discoverAnchor, func(s *session, db *kv.DB) error {
				st, err := db.Status(commandContext(cmd))
				if err != nil {
					return WrapExitError(ExitFailure, "status failed", err)
				}
				res := StatusResult{
					App:         st.Namespace.Name,
					AppID:       uint32(st.Namespace.AppID),
					Tip:         st.Tip,
					StartHeight: st.StartHeight,
					Outcome:     st.Outcome.String(),
					Keys:        st.Keys,
				}
				if st.HasMetadata {
					count, updated := st.Metadata.RecordCount, st.Metadata.UpdatedAt
					res.RecordCount = &count
					res.UpdatedAt = &updated
				}
				if opts.Format == "json" {
					return formatter(cmd, opts).Success(res)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
				fmt.Fprintf(tw, "namespace:\t%s (app %d)\n", res.App, res.AppID)
				fmt.Fprintf(tw, "tip:\t%d\n", res.Tip)
				fmt.Fprintf(tw, "start height:\t%d (%s)\n", res.StartHeight, res.Outcome)
				fmt.Fprintf(tw, "keys:\t%d\n", res.Keys)
				if res.RecordCount != nil {
					fmt.Fprintf(tw, "records:\t%d\n", *res.RecordCount)
					fmt.Fprintf(tw, "updated at:\t%s\n", res.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

// anchorMode says whether a command may publish a namespace anchor.
type anchorMode bool

const (
	discoverAnchor anchorMode = false // never writes
	createAnchor   anchorMode = true
)

// withDB opens a session and the configured namespace, runs fn, and closes
// the session.
func withDB(cmd *cobra.Command, opts *RootOptions, mode anchorMode, fn func(*session, *kv.DB) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	db, err := s.openDB(commandContext(cmd), mode)
	if err != nil {
		if anchor.IsNoAnchor(err) && opts.Format == "json" {
			_ = formatter(cmd, opts).Error(ErrCodeNoAnchor, err.Error(), nil)
		}
		return err
	}
	a := db.Anchor()
	formatter(cmd, opts).Debugf("%s: app %d, start height %d (%s)",
		db.Namespace().Name, db.Namespace().AppID, a.StartHeight, a.Outcome)
	return fn(s, db)
}
