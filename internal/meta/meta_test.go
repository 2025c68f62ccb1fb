package meta

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerkv/internal/envelope"
	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/scan"
	"github.com/roach88/ledgerkv/internal/testutil"
)

const app ledger.AppID = 9

var fastPolicy = ledger.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func newManager(c ledger.Client, clock *testutil.DeterministicClock) *Manager {
	logger := testutil.DiscardLogger()
	src := scan.New(c, scan.WithRetryPolicy(fastPolicy), scan.WithLogger(logger))
	return New(c, src, app,
		WithRetryPolicy(fastPolicy),
		WithClock(clock.Now),
		WithLogger(logger))
}

func TestRecordWrite_RequiresMetadata(t *testing.T) {
	m := newManager(ledger.NewMemory(), testutil.NewDeterministicClock())
	_, err := m.RecordWrite(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestRecordWrite_PublishesIncrementedCount(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryAt(20)
	clock := testutil.NewDeterministicClock()
	m := newManager(mem, clock)
	m.Adopt(envelope.Metadata{StartHeight: 20, RecordCount: 4, UpdatedAt: testutil.Epoch})

	md, err := m.RecordWrite(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), md.StartHeight)
	assert.Equal(t, int64(5), md.RecordCount)
	assert.Equal(t, testutil.Epoch.Add(time.Second), md.UpdatedAt)
	assert.Equal(t, uint64(21), md.Pos.Height)

	blobs, err := mem.Fetch(ctx, 21, app)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	env, err := envelope.Decode(blobs[0])
	require.NoError(t, err)
	published := env.(envelope.Metadata)
	assert.Equal(t, int64(5), published.RecordCount)
	assert.Equal(t, uint64(20), published.StartHeight)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, md, cur)
}

func TestRecordWrite_FailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	flaky := testutil.NewFlakyClient(ledger.NewMemoryAt(5))
	flaky.FailSubmits(2)
	m := newManager(flaky, testutil.NewDeterministicClock())
	before := envelope.Metadata{StartHeight: 5, RecordCount: 2, UpdatedAt: testutil.Epoch}
	m.Adopt(before)

	_, err := m.RecordWrite(ctx, 1)
	require.Error(t, err)
	assert.True(t, ledger.IsSubmitError(err))

	cur, _ := m.Current()
	assert.Equal(t, before, cur)

	md, err := m.RecordWrite(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), md.RecordCount)
}

func TestRefresh_AdoptsLatestScanned(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryAt(30)
	for i, h := range []uint64{22, 25, 28} {
		data, err := envelope.Encode(envelope.Metadata{StartHeight: 22, RecordCount: int64(i), UpdatedAt: testutil.Epoch})
		require.NoError(t, err)
		mem.Append(h, app, data)
	}
	m := newManager(mem, testutil.NewDeterministicClock())

	md, err := m.Refresh(ctx, 22, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), md.RecordCount)
	assert.Equal(t, envelope.Position{Height: 28}, md.Pos)
}

func TestRefresh_KeepsLaterCachedMetadata(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryAt(30)
	data, err := envelope.Encode(envelope.Metadata{StartHeight: 22, RecordCount: 1, UpdatedAt: testutil.Epoch})
	require.NoError(t, err)
	mem.Append(25, app, data)

	m := newManager(mem, testutil.NewDeterministicClock())
	later := envelope.Metadata{StartHeight: 22, RecordCount: 7, Pos: envelope.Position{Height: 29}}
	m.Adopt(later)

	md, err := m.Refresh(ctx, 22, 26)
	require.NoError(t, err)
	assert.Equal(t, later, md)
}

func TestRefresh_NothingFound(t *testing.T) {
	m := newManager(ledger.NewMemoryAt(10), testutil.NewDeterministicClock())
	_, err := m.Refresh(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestRefresh_ScanFailure(t *testing.T) {
	flaky := testutil.NewFlakyClient(ledger.NewMemoryAt(10))
	flaky.FailFetch(4, 2)
	m := newManager(flaky, testutil.NewDeterministicClock())

	_, err := m.Refresh(context.Background(), 0, 10)
	require.Error(t, err)
	assert.True(t, scan.IsScanError(err))
}
