// Package meta keeps a namespace's metadata blob current.
//
// The manager caches the authoritative metadata (from bootstrap, a rescan, or
// its own last publish) and republishes it after every record write. Metadata
// blobs are never mutated; each publish supersedes the previous one by ledger
// position. record_count is advisory only.
package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/reconcile"
)

// ErrNoMetadata is returned when no authoritative metadata is known yet.
var ErrNoMetadata = errors.New("no metadata for namespace")

// Manager publishes metadata for one namespace.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent
// RecordWrite calls are serialised.
type Manager struct {
	client ledger.Client
	src    reconcile.Source
	rec    *reconcile.Reconciler
	appID  ledger.AppID
	policy ledger.RetryPolicy
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	current envelope.Metadata
	known   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryPolicy sets the submit retry policy.
// Default: ledger.DefaultRetryPolicy.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithClock sets the time source for updated_at. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithReconciler sets the reconciler used by Refresh.
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(m *Manager) {
		m.rec = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New creates a Manager for appID with no cached metadata.
func New(client ledger.Client, src reconcile.Source, appID ledger.AppID, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		src:    src,
		appID:  appID,
		policy: ledger.DefaultRetryPolicy,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rec == nil {
		m.rec = reconcile.New(reconcile.WithLogger(m.logger))
	}
	return m
}

// Adopt caches md as the authoritative metadata.
func (m *Manager) Adopt(md envelope.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = md
	m.known = true
}

// Current returns the cached metadata.
func (m *Manager) Current() (envelope.Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.known
}

// Refresh rescans [from, to] and adopts the latest metadata found there unless
// the cached one is later. It returns ErrNoMetadata if nothing is known after
// the scan.
func (m *Manager) Refresh(ctx context.Context, from, to uint64) (envelope.Metadata, error) {
	view, _, err := m.rec.Collect(ctx, m.src, m.appID, from, to)
	if err != nil {
		return envelope.Metadata{}, fmt.Errorf("refresh metadata: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if md, ok := view.Metadata(); ok && (!m.known || !m.current.Pos.After(md.Pos)) {
		m.current = md
		m.known = true
	}
	if !m.known {
		return envelope.Metadata{}, ErrNoMetadata
	}
	return m.current, nil
}

// RecordWrite publishes a new metadata blob with record_count adjusted by
// delta and updated_at set to now. The cache changes only if the submit
// succeeds.
func (m *Manager) RecordWrite(ctx context.Context, delta int64) (envelope.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known {
		return envelope.Metadata{}, ErrNoMetadata
	}

	next := envelope.Metadata{
		StartHeight: m.current.StartHeight,
		RecordCount: m.current.RecordCount + delta,
		UpdatedAt:   m.now().UTC(),
	}
	data, err := envelope.Encode(next)
	if err != nil {
		return envelope.Metadata{}, fmt.Errorf("publish metadata: %w", err)
	}
	height, err := ledger.SubmitWithRetry(ctx, m.client, m.policy, m.appID, data)
	if err != nil {
		m.logger.Warn("metadata publish failed",
			"app_id", m.appID,
			"record_count", next.RecordCount,
			"error", err)
		return envelope.Metadata{}, fmt.Errorf("publish metadata: %w", err)
	}
	next.Pos = envelope.Position{Height: height}
	m.current = next

	m.logger.Debug("metadata published",
		"app_id", m.appID,
		"start_height", next.StartHeight,
		"record_count", next.RecordCount,
		"height", height)
	return next, nil
}
