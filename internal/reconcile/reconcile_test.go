package reconcile

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/scan"
	"github.com/roach88/ledgerkv/internal/testutil"
)

const app ledger.AppID = 7

func recordBlob(t *testing.T, key, value string) []byte {
	t.Helper()
	data, err := envelope.Encode(envelope.Record{Key: key, Value: value, CreatedAt: testutil.Epoch})
	require.NoError(t, err)
	return data
}

func metaBlob(t *testing.T, start uint64, count int64) []byte {
	t.Helper()
	data, err := envelope.Encode(envelope.Metadata{StartHeight: start, RecordCount: count, UpdatedAt: testutil.Epoch})
	require.NoError(t, err)
	return data
}

// seqOf yields blobs in the given order, followed by err if non-nil.
func seqOf(blobs []ledger.Blob, err error) iter.Seq2[ledger.Blob, error] {
	return func(yield func(ledger.Blob, error) bool) {
		for _, b := range blobs {
			if !yield(b, nil) {
				return
			}
		}
		if err != nil {
			yield(ledger.Blob{}, err)
		}
	}
}

func newScanner(c ledger.Client) *scan.Scanner {
	return scan.New(c,
		scan.WithRetryPolicy(ledger.RetryPolicy{Attempts: 1}),
		scan.WithLogger(testutil.DiscardLogger()))
}

func newReconciler() *Reconciler {
	return New(WithLogger(testutil.DiscardLogger()))
}

func values(v *View) map[string]string {
	out := make(map[string]string)
	for _, r := range v.List() {
		out[r.Key] = r.Value
	}
	return out
}

func TestFold_SameHeightWriteIndexBreaksTie(t *testing.T) {
	view := NewView()
	_, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 50, Index: 0, Data: recordBlob(t, "k", "first")},
		{Height: 50, Index: 1, Data: recordBlob(t, "k", "second")},
	}, nil), view)
	require.NoError(t, err)

	r, ok := view.Get("k")
	require.True(t, ok)
	assert.Equal(t, "second", r.Value)
	assert.Equal(t, envelope.Position{Height: 50, Index: 1}, r.Pos)
}

func TestFold_OutOfOrderInputStillLatestWins(t *testing.T) {
	view := NewView()
	stats, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 9, Index: 0, Data: recordBlob(t, "k", "new")},
		{Height: 3, Index: 4, Data: recordBlob(t, "k", "old")},
		{Height: 9, Index: 0, Data: recordBlob(t, "k", "dup")},
	}, nil), view)
	require.NoError(t, err)

	r, _ := view.Get("k")
	assert.Equal(t, "new", r.Value)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 1, stats.Applied)
}

func TestFold_SkipsUndecodableBlobs(t *testing.T) {
	view := NewView()
	stats, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 1, Index: 0, Data: recordBlob(t, "a", "1")},
		{Height: 2, Index: 0, Data: []byte(`{"type":"record","key":"a"`)},
		{Height: 2, Index: 1, Data: []byte(`{"type":"record","schema_version":1,"key":"b"}`)},
		{Height: 3, Index: 0, Data: []byte(`{"type":"snapshot","schema_version":1}`)},
		{Height: 4, Index: 0, Data: recordBlob(t, "c", "3")},
	}, nil), view)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, values(view))
	assert.Equal(t, 5, stats.Blobs)
	assert.Equal(t, 3, stats.Skipped)
}

func TestFold_MetadataLatestWins(t *testing.T) {
	view := NewView()
	_, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 10, Index: 0, Data: metaBlob(t, 10, 0)},
		{Height: 12, Index: 0, Data: recordBlob(t, "a", "1")},
		{Height: 12, Index: 1, Data: metaBlob(t, 10, 1)},
	}, nil), view)
	require.NoError(t, err)

	m, ok := view.Metadata()
	require.True(t, ok)
	assert.Equal(t, uint64(10), m.StartHeight)
	assert.Equal(t, int64(1), m.RecordCount)
	assert.Equal(t, envelope.Position{Height: 12, Index: 1}, m.Pos)
	assert.Equal(t, []uint64{10}, view.Anchors())
}

func TestFold_TracksCompetingAnchors(t *testing.T) {
	view := NewView()
	_, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 21, Index: 0, Data: metaBlob(t, 21, 0)},
		{Height: 21, Index: 1, Data: metaBlob(t, 22, 0)},
		{Height: 23, Index: 0, Data: metaBlob(t, 21, 0)},
	}, nil), view)
	require.NoError(t, err)

	assert.Equal(t, []uint64{21, 22}, view.Anchors())
	p, ok := view.AnchorPosition(21)
	require.True(t, ok)
	assert.Equal(t, envelope.Position{Height: 21, Index: 0}, p)

	m, _ := view.Metadata()
	assert.Equal(t, uint64(21), m.StartHeight)
}

func TestFold_ScanErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	view := NewView()
	stats, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 1, Index: 0, Data: recordBlob(t, "a", "1")},
	}, boom), view)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Blobs)
}

func TestView_GetNormalisesKey(t *testing.T) {
	view := NewView()
	_, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 1, Index: 0, Data: recordBlob(t, "caf\u00e9", "precomposed")},
		{Height: 2, Index: 0, Data: recordBlob(t, "cafe\u0301", "decomposed")},
	}, nil), view)
	require.NoError(t, err)

	assert.Equal(t, 1, view.Len())
	r, ok := view.Get("caf\u00e9")
	require.True(t, ok)
	assert.Equal(t, "decomposed", r.Value)
}

func TestView_ListSortedByKey(t *testing.T) {
	view := NewView()
	_, err := newReconciler().Fold(seqOf([]ledger.Blob{
		{Height: 1, Index: 0, Data: recordBlob(t, "zeta", "1")},
		{Height: 2, Index: 0, Data: recordBlob(t, "alpha", "2")},
		{Height: 3, Index: 0, Data: recordBlob(t, "mid", "3")},
	}, nil), view)
	require.NoError(t, err)

	var keys []string
	for _, r := range view.List() {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
}

func TestCollect_EndToEndHeights(t *testing.T) {
	mem := ledger.NewMemoryAt(110)
	mem.Append(100, app, recordBlob(t, "a", "1"))
	mem.Append(101, app, recordBlob(t, "x", "1"))
	mem.Append(102, app, recordBlob(t, "y", "2"))
	mem.Append(105, app, recordBlob(t, "a", "2"))

	view, stats, err := newReconciler().Collect(context.Background(), newScanner(mem), app, 100, 110)
	require.NoError(t, err)

	r, ok := view.Get("a")
	require.True(t, ok)
	assert.Equal(t, "2", r.Value)
	assert.Equal(t, uint64(105), r.Pos.Height)
	assert.Equal(t, map[string]string{"a": "2", "x": "1", "y": "2"}, values(view))
	assert.Equal(t, 4, stats.Records)
}

func TestCollect_EmptyRange(t *testing.T) {
	mem := ledger.NewMemoryAt(20)
	mem.Append(5, app, recordBlob(t, "a", "1"))

	view, _, err := newReconciler().Collect(context.Background(), newScanner(mem), app, 10, 20)
	require.NoError(t, err)
	assert.Empty(t, view.List())
	_, ok := view.Get("a")
	assert.False(t, ok)
}

func TestCollect_IgnoresOtherNamespaces(t *testing.T) {
	mem := ledger.NewMemoryAt(3)
	mem.Append(1, app, recordBlob(t, "a", "mine"))
	mem.Append(2, app+1, recordBlob(t, "a", "theirs"))

	view, _, err := newReconciler().Collect(context.Background(), newScanner(mem), app, 0, 3)
	require.NoError(t, err)
	r, _ := view.Get("a")
	assert.Equal(t, "mine", r.Value)
}

func TestCollect_ScanFailureReturnsNoView(t *testing.T) {
	mem := ledger.NewMemoryAt(5)
	flaky := testutil.NewFlakyClient(mem)
	flaky.FailFetch(3, 1)

	view, _, err := newReconciler().Collect(context.Background(), newScanner(flaky), app, 0, 5)
	require.Error(t, err)
	assert.True(t, scan.IsScanError(err))
	assert.Nil(t, view)
}

func TestFold_RecordTimestampsSurvive(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	data, err := envelope.Encode(envelope.Record{Key: "k", Value: "v", ID: "id-1", CreatedAt: at})
	require.NoError(t, err)

	view := NewView()
	_, err = newReconciler().Fold(seqOf([]ledger.Blob{{Height: 1, Data: data}}, nil), view)
	require.NoError(t, err)

	r, _ := view.Get("k")
	assert.Equal(t, "id-1", r.ID)
	assert.True(t, at.Equal(r.CreatedAt))
}
