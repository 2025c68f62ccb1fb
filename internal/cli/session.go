package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/ledgerkv/internal/anchor"
	"github.com/roach88/ledgerkv/internal/config"
	"github.com/roach88/ledgerkv/internal/kv"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/lightclient"
	"github.com/roach88/ledgerkv/internal/scan"
	"github.com/roach88/ledgerkv/internal/store"
)

// session is the ledger connection a command works against.
type session struct {
	cfg      config.Config
	opts     *RootOptions
	logger   *slog.Logger
	client   ledger.Client
	resolver ledger.Resolver

	// store is set for the sqlite driver only.
	store *store.Store
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("app") {
		cfg.AppName = opts.App
	}
	if flags.Changed("db") {
		cfg.Ledger.Path = opts.Database
	}
	if flags.Changed("driver") {
		if opts.Driver != config.DriverSQLite && opts.Driver != config.DriverLightClient {
			return config.Config{}, NewExitError(ExitCommandError,
				fmt.Sprintf("invalid driver %q: must be %s or %s", opts.Driver, config.DriverSQLite, config.DriverLightClient))
		}
		cfg.Ledger.Driver = opts.Driver
	}
	if flags.Changed("endpoint") {
		cfg.Ledger.Endpoint = opts.Endpoint
	}
	if flags.Changed("lookback") {
		cfg.Lookback = opts.Lookback
	}
	if flags.Changed("incremental") {
		cfg.Incremental = opts.Incremental
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger writes text logs to the command's stderr at the configured level.
func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.Level(),
	})
	return slog.New(handler)
}

// openSession connects to the configured ledger.
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, opts: opts, logger: newLogger(cmd, cfg)}

	switch cfg.Ledger.Driver {
	case config.DriverSQLite:
		st, err := store.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
		}
		s.store = st
		s.client = st
		s.resolver = ledger.NewCachingResolver(st, cfg.CacheTTL())
	case config.DriverLightClient:
		s.client = lightclient.New(cfg.Ledger.Endpoint, lightclient.WithLogger(s.logger))
		s.resolver = cfg.StaticApps()
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("unknown ledger driver %q", cfg.Ledger.Driver))
	}

	if cfg.Ledger.RateLimit > 0 {
		burst := int(math.Ceil(cfg.Ledger.RateLimit))
		s.client = ledger.Throttle(s.client, rate.NewLimiter(rate.Limit(cfg.Ledger.RateLimit), burst))
	}

	s.logger.Debug("ledger connected",
		"driver", cfg.Ledger.Driver,
		"path", cfg.Ledger.Path,
		"endpoint", cfg.Ledger.Endpoint)
	return s, nil
}

// Close releases the local ledger, if any.
func (s *session) Close() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing ledger", "error", err)
	}
}

// requireStore fails commands that only make sense on a local ledger.
func (s *session) requireStore(command string) (*store.Store, error) {
	if s.store == nil {
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("%s requires the %s driver", command, config.DriverSQLite))
	}
	return s.store, nil
}

// appName returns the configured namespace or a command error.
func (s *session) appName() (string, error) {
	if s.cfg.AppName == "" {
		return "", NewExitError(ExitCommandError, "no namespace: set --app or app_name in the config")
	}
	return s.cfg.AppName, nil
}

// openDB opens the configured namespace. Only createAnchor may publish a new
// anchor.
func (s *session) openDB(ctx context.Context, mode anchorMode) (*kv.DB, error) {
	app, err := s.appName()
	if err != nil {
		return nil, err
	}

	opts := []kv.Option{
		kv.WithLookback(s.cfg.Lookback),
		kv.WithRetryPolicy(s.cfg.RetryPolicy()),
		kv.WithScanOptions(
			scan.WithConcurrency(s.cfg.Scan.Concurrency),
			scan.WithCache(s.cfg.Scan.CacheSize),
		),
		kv.WithIncremental(s.cfg.Incremental),
		kv.WithCreate(bool(mode)),
		kv.WithLogger(s.logger),
	}
	if s.opts.Clock != nil {
		opts = append(opts, kv.WithClock(s.opts.Clock))
	}
	if s.opts.IDs != nil {
		opts = append(opts, kv.WithIDGenerator(s.opts.IDs))
	}

	db, err := kv.Open(ctx, s.client, s.resolver, app, opts...)
	if err != nil {
		if ledger.IsResolutionError(err) {
			return nil, WrapExitError(ExitCommandError, "failed to resolve namespace", err)
		}
		if anchor.IsNoAnchor(err) {
			return nil, WrapExitError(ExitFailure, fmt.Sprintf(
				"namespace %s has no anchor within %d heights of the tip: run init, or raise --lookback to reach it",
				app, s.cfg.Lookback), err)
		}
		return nil, WrapExitError(ExitFailure, "failed to open namespace", err)
	}
	return db, nil
}

// formatter builds the output formatter for cmd.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// commandContext returns the command's context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
