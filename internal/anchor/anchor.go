// Package anchor fixes the start height of a namespace.
//
// The start height is the lowest height any query of the namespace scans. It
// is published once, in a metadata blob, and discovered again by scanning a
// short window below the current tip. Two processes bootstrapping the same
// namespace at the same moment can both publish an anchor; the ledger order
// picks the winner and the loser is reported as a RaceWarning, never as an
// error.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/reconcile"
)

// DefaultLookback is the discovery window used when callers do not pick one.
const DefaultLookback uint64 = 10

// Outcome tags how DiscoverOrCreate obtained the anchor.
type Outcome int

const (
	// FoundExisting means a metadata blob was found in the window.
	FoundExisting Outcome = iota + 1

	// CreatedNew means no metadata was found and a new anchor was published.
	CreatedNew
)

func (o Outcome) String() string {
	switch o {
	case FoundExisting:
		return "found_existing"
	case CreatedNew:
		return "created_new"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RaceWarning reports metadata blobs in the discovery window that disagree on
// the start height. Chosen is the start height of the latest one.
type RaceWarning struct {
	AppID   ledger.AppID
	Anchors []uint64
	Chosen  uint64
}

func (w *RaceWarning) String() string {
	return fmt.Sprintf("app %d has competing anchors %v, using %d", w.AppID, w.Anchors, w.Chosen)
}

// Result is the outcome of DiscoverOrCreate.
type Result struct {
	Outcome     Outcome
	StartHeight uint64

	// Metadata is the authoritative metadata: the discovered blob, or the one
	// just published (whose Pos.Index is not known yet).
	Metadata envelope.Metadata

	// Race is non-nil when the window held competing anchors.
	Race *RaceWarning
}

// Bootstrapper discovers or creates namespace anchors.
type Bootstrapper struct {
	client ledger.Client
	src    reconcile.Source
	rec    *reconcile.Reconciler
	policy ledger.RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithRetryPolicy sets the submit retry policy.
// Default: ledger.DefaultRetryPolicy.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(b *Bootstrapper) {
		b.policy = p
	}
}

// WithClock sets the time source for updated_at. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bootstrapper) {
		b.now = now
	}
}

// WithReconciler sets the reconciler used to fold the discovery window.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(b *Bootstrapper) {
		b.rec = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bootstrapper) {
		b.logger = l
	}
}

// New creates a Bootstrapper that scans through src and publishes through
// client.
func New(client ledger.Client, src reconcile.Source, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		client: client,
		src:    src,
		policy: ledger.DefaultRetryPolicy,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.rec == nil {
		b.rec = reconcile.New(reconcile.WithLogger(b.logger))
	}
	return b
}

// NoAnchorError is returned by Discover when the window holds no metadata.
type NoAnchorError struct {
	AppID    ledger.AppID
	From, To uint64
}

func (e *NoAnchorError) Error() string {
	return fmt.Sprintf("no anchor for app %d in heights [%d, %d]", e.AppID, e.From, e.To)
}

// IsNoAnchor returns true if err is or wraps a *NoAnchorError.
func IsNoAnchor(err error) bool {
	var na *NoAnchorError
	return errors.As(err, &na)
}

// Discover scans [max(current-lookback, 0), current] for metadata and returns
// the latest one's start height. It never writes; an empty window is a
// *NoAnchorError.
func (b *Bootstrapper) Discover(ctx context.Context, appID ledger.AppID, lookback, current uint64) (Result, error) {
	from := uint64(0)
	if current > lookback {
		from = current - lookback
	}

	view, _, err := b.rec.Collect(ctx, b.src, appID, from, current)
	if err != nil {
		return Result{}, fmt.Errorf("discover anchor for app %d: %w", appID, err)
	}

	md, ok := view.Metadata()
	if !ok {
		return Result{}, &NoAnchorError{AppID: appID, From: from, To: current}
	}
	res := Result{
		Outcome:     FoundExisting,
		StartHeight: md.StartHeight,
		Metadata:    md,
	}
	if anchors := view.Anchors(); len(anchors) > 1 {
		res.Race = &RaceWarning{AppID: appID, Anchors: anchors, Chosen: md.StartHeight}
		b.logger.Warn("anchor race detected",
			"app_id", appID,
			"anchors", anchors,
			"chosen", md.StartHeight)
	}
	b.logger.Debug("anchor found",
		"app_id", appID,
		"start_height", md.StartHeight,
		"height", md.Pos.Height)
	return res, nil
}

// DiscoverOrCreate runs Discover and, if the window holds no metadata, submits
// a metadata blob anchoring the namespace at current+1.
func (b *Bootstrapper) DiscoverOrCreate(ctx context.Context, appID ledger.AppID, lookback, current uint64) (Result, error) {
	res, err := b.Discover(ctx, appID, lookback, current)
	if !IsNoAnchor(err) {
		return res, err
	}

	md := envelope.Metadata{
		StartHeight: current + 1,
		RecordCount: 0,
		UpdatedAt:   b.now().UTC(),
	}
	data, err := envelope.Encode(md)
	if err != nil {
		return Result{}, fmt.Errorf("create anchor for app %d: %w", appID, err)
	}
	height, err := ledger.SubmitWithRetry(ctx, b.client, b.policy, appID, data)
	if err != nil {
		return Result{}, fmt.Errorf("create anchor for app %d: %w", appID, err)
	}
	md.Pos = envelope.Position{Height: height}

	b.logger.Info("anchor created",
		"app_id", appID,
		"start_height", md.StartHeight,
		"height", height)
	return Result{
		Outcome:     CreatedNew,
		StartHeight: md.StartHeight,
		Metadata:    md,
	}, nil
}
