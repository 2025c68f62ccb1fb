package kv

import (
	"log/slog"
	"time"

	"github.com/roach88/ledgerkv/internal/anchor"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/scan"
)

type options struct {
	lookback    uint64
	policy      ledger.RetryPolicy
	scanOpts    []scan.Option
	incremental bool
	create      bool
	now         func() time.Time
	ids         IDGenerator
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{
		lookback: anchor.DefaultLookback,
		policy:   ledger.DefaultRetryPolicy,
		create:   true,
		now:      time.Now,
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
}

// Option configures Open.
type Option func(*options)

// WithLookback sets how many heights below the tip anchor discovery scans.
// Default: 10.
func WithLookback(n uint64) Option {
	return func(o *options) {
		o.lookback = n
	}
}

// WithRetryPolicy sets the policy for every ledger call.
// Default: ledger.DefaultRetryPolicy.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithScanOptions passes extra options (concurrency, cache) to the scanner.
func WithScanOptions(opts ...scan.Option) Option {
	return func(o *options) {
		o.scanOpts = append(o.scanOpts, opts...)
	}
}

// WithIncremental keeps a local snapshot between reads. Default: off.
func WithIncremental(on bool) Option {
	return func(o *options) {
		o.incremental = on
	}
}

// WithCreate controls whether Open may publish a new anchor. With create off,
// Open only discovers and fails with an *anchor.NoAnchorError when the
// lookback window holds no metadata. Default: on.
func WithCreate(on bool) Option {
	return func(o *options) {
		o.create = on
	}
}

// WithClock sets the time source for created_at and updated_at.
// Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithIDGenerator sets the record id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
