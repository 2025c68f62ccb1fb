package reconcile

import (
	"context"
	"sync"

	"github.com/roach88/ledgerkv/internal/ledger"
)

// Snapshot caches a view of [start, last synced height] and extends it by
// scanning only the heights committed since. Committed heights are immutable,
// so the result equals a full rescan of [start, current].
//
// Thread-safety: Refresh calls are serialised; returned views are immutable.
type Snapshot struct {
	src   Source
	rec   *Reconciler
	appID ledger.AppID
	start uint64

	mu     sync.Mutex
	synced bool
	last   uint64
	view   *View
}

// NewSnapshot creates an empty snapshot of appID anchored at start.
func NewSnapshot(src Source, rec *Reconciler, appID ledger.AppID, start uint64) *Snapshot {
	return &Snapshot{
		src:   src,
		rec:   rec,
		appID: appID,
		start: start,
		view:  NewView(),
	}
}

// LastSynced returns the highest folded height. ok is false before the first
// height has been folded.
func (s *Snapshot) LastSynced() (height uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.synced
}

// Refresh folds the heights in (last synced, current] and returns the
// resulting view. On error the snapshot is left as it was.
func (s *Snapshot) Refresh(ctx context.Context, current uint64) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.start
	if s.synced {
		from = s.last + 1
	}
	if from > current {
		return s.view, nil
	}

	next := s.view.clone()
	if _, err := s.rec.Fold(s.src.Scan(ctx, s.appID, from, current), next); err != nil {
		return nil, err
	}
	s.view = next
	s.last = current
	s.synced = true
	return next, nil
}
