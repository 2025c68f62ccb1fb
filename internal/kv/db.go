package kv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ledgerkv/internal/anchor"
	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/meta"
	"github.com/roach88/ledgerkv/internal/reconcile"
	"github.com/roach88/ledgerkv/internal/scan"
)

// nsLocks holds one mutex per app id for the whole process.
var nsLocks sync.Map

func namespaceLock(id ledger.AppID) *sync.Mutex {
	v, _ := nsLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// DB is an open namespace.
type DB struct {
	client ledger.Client
	ns     ledger.Namespace
	anchor anchor.Result

	scanner *scan.Scanner
	rec     *reconcile.Reconciler
	meta    *meta.Manager
	snap    *reconcile.Snapshot

	policy ledger.RetryPolicy
	now    func() time.Time
	ids    IDGenerator
	logger *slog.Logger
}

// Status summarises a namespace at one tip.
type Status struct {
	Namespace   ledger.Namespace
	Tip         uint64
	StartHeight uint64
	Outcome     anchor.Outcome
	Metadata    envelope.Metadata
	HasMetadata bool
	Keys        int
}

// Open resolves appName, then discovers or creates its anchor by scanning the
// lookback window below the current tip. See WithCreate for read-only opens.
func Open(ctx context.Context, client ledger.Client, resolver ledger.Resolver, appName string, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	appID, err := resolver.ResolveOrCreate(ctx, appName)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", appName, err)
	}

	db := &DB{
		client: client,
		ns:     ledger.Namespace{Name: appName, AppID: appID},
		policy: o.policy,
		now:    o.now,
		ids:    o.ids,
		// The layers below log app_id themselves.
		logger: o.logger.With("app", appName),
	}

	scanOpts := append([]scan.Option{
		scan.WithRetryPolicy(o.policy),
		scan.WithLogger(db.logger),
	}, o.scanOpts...)
	db.scanner = scan.New(client, scanOpts...)
	db.rec = reconcile.New(reconcile.WithLogger(db.logger))

	current, err := db.latestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", appName, err)
	}

	boot := anchor.New(client, db.scanner,
		anchor.WithRetryPolicy(o.policy),
		anchor.WithClock(o.now),
		anchor.WithReconciler(db.rec),
		anchor.WithLogger(db.logger))
	bootstrap := boot.DiscoverOrCreate
	if !o.create {
		bootstrap = boot.Discover
	}
	res, err := bootstrap(ctx, appID, o.lookback, current)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", appName, err)
	}
	db.anchor = res

	db.meta = meta.New(client, db.scanner, appID,
		meta.WithRetryPolicy(o.policy),
		meta.WithClock(o.now),
		meta.WithReconciler(db.rec),
		meta.WithLogger(db.logger))
	db.meta.Adopt(res.Metadata)

	if o.incremental {
		db.snap = reconcile.NewSnapshot(db.scanner, db.rec, appID, res.StartHeight)
	}

	db.logger.Info("namespace opened",
		"app_id", appID,
		"start_height", res.StartHeight,
		"outcome", res.Outcome.String(),
		"tip", current)
	return db, nil
}

// Namespace returns the resolved namespace.
func (db *DB) Namespace() ledger.Namespace { return db.ns }

// StartHeight returns the namespace anchor.
func (db *DB) StartHeight() uint64 { return db.anchor.StartHeight }

// Anchor returns the anchor bootstrap result from Open.
func (db *DB) Anchor() anchor.Result { return db.anchor }

// Add writes value under key. The returned record carries the height the
// ledger assigned; its write index is learned only when it is read back.
//
// If the record commits but the metadata publish fails, Add returns the
// record and a *DegradedWriteError.
func (db *DB) Add(ctx context.Context, key, value string) (envelope.Record, error) {
	key = envelope.NormalizeKey(key)
	if key == "" {
		return envelope.Record{}, fmt.Errorf("add: %w", ErrEmptyKey)
	}

	mu := namespaceLock(db.ns.AppID)
	mu.Lock()
	defer mu.Unlock()

	rec := envelope.Record{
		Key:       key,
		Value:     value,
		ID:        db.ids.Generate(),
		CreatedAt: db.now().UTC(),
	}
	data, err := envelope.Encode(rec)
	if err != nil {
		return envelope.Record{}, fmt.Errorf("add %q: %w", key, err)
	}
	height, err := ledger.SubmitWithRetry(ctx, db.client, db.policy, db.ns.AppID, data)
	if err != nil {
		return envelope.Record{}, fmt.Errorf("add %q: %w", key, err)
	}
	rec.Pos = envelope.Position{Height: height}
	db.logger.Debug("record committed",
		"key", key,
		"id", rec.ID,
		"height", height,
		"digest", envelope.Digest(data))

	if _, err := db.meta.RecordWrite(ctx, 1); err != nil {
		db.logger.Warn("record committed without metadata update",
			"key", key,
			"height", height,
			"error", err)
		return rec, &DegradedWriteError{Record: rec, Err: err}
	}
	return rec, nil
}

// Get returns the current record for key, or a *NotFoundError.
func (db *DB) Get(ctx context.Context, key string) (envelope.Record, error) {
	view, _, err := db.view(ctx)
	if err != nil {
		return envelope.Record{}, fmt.Errorf("get %q: %w", key, err)
	}
	rec, ok := view.Get(key)
	if !ok {
		return envelope.Record{}, &NotFoundError{Key: envelope.NormalizeKey(key), AppName: db.ns.Name}
	}
	return rec, nil
}

// List returns the current record of every key, sorted by key.
func (db *DB) List(ctx context.Context) ([]envelope.Record, error) {
	view, _, err := db.view(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return view.List(), nil
}

// Status reconciles the namespace and reports its state.
func (db *DB) Status(ctx context.Context) (Status, error) {
	view, tip, err := db.view(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	st := Status{
		Namespace:   db.ns,
		Tip:         tip,
		StartHeight: db.anchor.StartHeight,
		Outcome:     db.anchor.Outcome,
		Keys:        view.Len(),
	}
	st.Metadata, st.HasMetadata = view.Metadata()
	if !st.HasMetadata {
		st.Metadata, st.HasMetadata = db.meta.Current()
	}
	return st, nil
}

// view reconciles [start, tip] and returns the view with the tip it covers.
func (db *DB) view(ctx context.Context) (*reconcile.View, uint64, error) {
	tip, err := db.latestHeight(ctx)
	if err != nil {
		return nil, 0, err
	}
	if db.snap != nil {
		v, err := db.snap.Refresh(ctx, tip)
		if err != nil {
			return nil, 0, err
		}
		return v, tip, nil
	}
	v, _, err := db.rec.Collect(ctx, db.scanner, db.ns.AppID, db.anchor.StartHeight, tip)
	if err != nil {
		return nil, 0, err
	}
	return v, tip, nil
}

func (db *DB) latestHeight(ctx context.Context) (uint64, error) {
	var tip uint64
	_, err := db.policy.Do(ctx, func(ctx context.Context) error {
		h, err := db.client.LatestHeight(ctx)
		if err != nil {
			return err
		}
		tip = h
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("latest height: %w", err)
	}
	return tip, nil
}
