package reconcile

import (
	"maps"
	"slices"
	"strings"

	"github.com/roach88/ledgerkv/internal/envelope"
)

// View is the reconciled state of one namespace: the latest record per key and
// the latest metadata blob.
//
// A View returned by Snapshot.Refresh or Reconciler.Collect is never mutated
// afterwards and may be read from multiple goroutines.
type View struct {
	records map[string]envelope.Record
	meta    envelope.Metadata
	hasMeta bool
	anchors map[uint64]envelope.Position
}

// NewView returns an empty view.
func NewView() *View {
	return &View{
		records: make(map[string]envelope.Record),
		anchors: make(map[uint64]envelope.Position),
	}
}

// Get returns the current record for key.
func (v *View) Get(key string) (envelope.Record, bool) {
	r, ok := v.records[envelope.NormalizeKey(key)]
	return r, ok
}

// List returns the current record of every key, sorted by key.
func (v *View) List() []envelope.Record {
	out := make([]envelope.Record, 0, len(v.records))
	for _, r := range v.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b envelope.Record) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}

// Len returns the number of distinct keys.
func (v *View) Len() int {
	return len(v.records)
}

// Metadata returns the authoritative metadata, if any was seen.
func (v *View) Metadata() (envelope.Metadata, bool) {
	return v.meta, v.hasMeta
}

// Anchors returns every distinct start height carried by a metadata blob in
// the folded range, in increasing order.
func (v *View) Anchors() []uint64 {
	return slices.Sorted(maps.Keys(v.anchors))
}

// AnchorPosition returns the first position at which an anchor was seen.
func (v *View) AnchorPosition(startHeight uint64) (envelope.Position, bool) {
	p, ok := v.anchors[startHeight]
	return p, ok
}

// apply folds one decoded envelope into the view. It reports whether the view
// changed.
func (v *View) apply(env envelope.Envelope) bool {
	switch e := env.(type) {
	case envelope.Record:
		cur, ok := v.records[e.Key]
		if ok && !e.Pos.After(cur.Pos) {
			return false
		}
		v.records[e.Key] = e
		return true
	case envelope.Metadata:
		if p, ok := v.anchors[e.StartHeight]; !ok || p.After(e.Pos) {
			v.anchors[e.StartHeight] = e.Pos
		}
		if v.hasMeta && !e.Pos.After(v.meta.Pos) {
			return false
		}
		v.meta = e
		v.hasMeta = true
		return true
	}
	return false
}

func (v *View) clone() *View {
	return &View{
		records: maps.Clone(v.records),
		meta:    v.meta,
		hasMeta: v.hasMeta,
		anchors: maps.Clone(v.anchors),
	}
}
