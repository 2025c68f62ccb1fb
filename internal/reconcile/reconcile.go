// Package reconcile folds an ordered blob sequence into the current state of a
// namespace.
//
// UPDATE RULE: a decoded record replaces the current record for its key only
// if its (height, write_index) position is strictly greater. Metadata blobs
// follow the same rule among themselves. Blobs that fail to decode are logged
// and skipped; they never abort a fold.
package reconcile

import (
	"context"
	"iter"
	"log/slog"

	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
)

// Source produces the blobs of a namespace over a height range.
// *scan.Scanner implements it.
type Source interface {
	Scan(ctx context.Context, appID ledger.AppID, from, to uint64) iter.Seq2[ledger.Blob, error]
}

// Stats counts what a fold saw.
type Stats struct {
	Blobs    int
	Records  int
	Metadata int
	Skipped  int
	Applied  int
}

// Reconciler applies the update rule.
type Reconciler struct {
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = l
	}
}

// New creates a Reconciler.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fold consumes seq into view. A sequence error stops the fold and is
// returned; view then holds whatever was folded before it.
func (r *Reconciler) Fold(seq iter.Seq2[ledger.Blob, error], view *View) (Stats, error) {
	var stats Stats
	for b, err := range seq {
		if err != nil {
			return stats, err
		}
		stats.Blobs++

		env, err := envelope.Decode(b.Data)
		if err != nil {
			stats.Skipped++
			r.logger.Warn("skipping undecodable blob",
				"height", b.Height,
				"index", b.Index,
				"digest", envelope.Digest(b.Data),
				"error", err)
			continue
		}

		pos := envelope.Position{Height: b.Height, Index: b.Index}
		switch e := env.(type) {
		case envelope.Record:
			stats.Records++
			e.Pos = pos
			env = e
		case envelope.Metadata:
			stats.Metadata++
			e.Pos = pos
			env = e
		}
		if view.apply(env) {
			stats.Applied++
		}
	}
	return stats, nil
}

// Collect scans [from, to] from src and folds it into a fresh view.
func (r *Reconciler) Collect(ctx context.Context, src Source, appID ledger.AppID, from, to uint64) (*View, Stats, error) {
	view := NewView()
	stats, err := r.Fold(src.Scan(ctx, appID, from, to), view)
	if err != nil {
		return nil, stats, err
	}
	r.logger.Debug("reconciled",
		"app_id", appID,
		"from", from,
		"to", to,
		"blobs", stats.Blobs,
		"keys", view.Len(),
		"skipped", stats.Skipped)
	return view, stats, nil
}
