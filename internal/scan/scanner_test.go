package scan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerkv/internal/ledger"
	"github.com/roach88/ledgerkv/internal/testutil"
)

const app ledger.AppID = 1

func testPolicy(attempts int) ledger.RetryPolicy {
	return ledger.RetryPolicy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestScanner(c ledger.Client, opts ...Option) *Scanner {
	base := []Option{WithRetryPolicy(testPolicy(3)), WithLogger(testutil.DiscardLogger())}
	return New(c, append(base, opts...)...)
}

// collect drains a scan into "height/index=data" strings.
func collect(t *testing.T, s *Scanner, from, to uint64) ([]string, error) {
	t.Helper()
	var out []string
	for b, err := range s.Scan(context.Background(), app, from, to) {
		if err != nil {
			return out, err
		}
		out = append(out, fmt.Sprintf("%d/%d=%s", b.Height, b.Index, b.Data))
	}
	return out, nil
}

// seeded builds a ledger with a mix of empty, single and multi-blob heights.
func seeded() *ledger.Memory {
	m := ledger.NewMemoryAt(110)
	m.Append(100, app, []byte("a"))
	m.Append(101, app, []byte("b"))
	m.Append(101, app, []byte("c"))
	m.Append(101, 2, []byte("other-app"))
	m.Append(104, app, []byte("d"))
	m.Append(110, app, []byte("e"))
	return m
}

func TestScan_OrderedWithWriteIndex(t *testing.T) {
	got, err := collect(t, newTestScanner(seeded()), 100, 110)
	require.NoError(t, err)
	assert.Equal(t, []string{"100/0=a", "101/0=b", "101/1=c", "104/0=d", "110/0=e"}, got)
}

func TestScan_EmptyRange(t *testing.T) {
	got, err := collect(t, newTestScanner(seeded()), 102, 103)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScan_FromAfterToYieldsNothing(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	got, err := collect(t, newTestScanner(flaky), 105, 104)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, flaky.TotalFetchCalls())
}

func TestScan_SingleHeight(t *testing.T) {
	got, err := collect(t, newTestScanner(seeded()), 101, 101)
	require.NoError(t, err)
	assert.Equal(t, []string{"101/0=b", "101/1=c"}, got)
}

func TestScan_OneFetchPerHeight(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	_, err := collect(t, newTestScanner(flaky), 100, 110)
	require.NoError(t, err)

	for h := uint64(100); h <= 110; h++ {
		assert.Equal(t, 1, flaky.FetchCalls(h), "height %d", h)
	}
}

func TestScan_IsLazy(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	seq := newTestScanner(flaky).Scan(context.Background(), app, 100, 110)
	assert.Equal(t, 0, flaky.TotalFetchCalls())

	for range seq {
		break
	}
	assert.Equal(t, 1, flaky.TotalFetchCalls())
}

func TestScan_RetriesTransientFailures(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	flaky.FailFetch(104, 2)

	got, err := collect(t, newTestScanner(flaky), 100, 110)
	require.NoError(t, err)
	assert.Contains(t, got, "104/0=d")
	assert.Equal(t, 3, flaky.FetchCalls(104))
}

func TestScan_ExhaustedRetriesFailWholeScan(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	flaky.FailFetch(104, 3)

	got, err := collect(t, newTestScanner(flaky), 100, 110)
	require.Error(t, err)
	assert.True(t, IsScanError(err))
	assert.True(t, ledger.IsFetchError(err))
	assert.ErrorIs(t, err, testutil.ErrInjected)

	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint64(104), se.Height)
	assert.Equal(t, 3, se.Attempts)
	assert.Equal(t, uint64(100), se.From)
	assert.Equal(t, uint64(110), se.To)

	// Nothing past the failed height is yielded.
	assert.Equal(t, []string{"100/0=a", "101/0=b", "101/1=c"}, got)
	assert.Equal(t, 0, flaky.FetchCalls(105))
}

func TestScan_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScanner(seeded())
	var gotErr error
	for _, err := range s.Scan(ctx, app, 100, 110) {
		gotErr = err
	}
	require.ErrorIs(t, gotErr, context.Canceled)
	assert.False(t, IsScanError(gotErr))
}

func TestScan_BeyondTipFails(t *testing.T) {
	_, err := collect(t, newTestScanner(seeded()), 109, 111)
	require.Error(t, err)
	assert.True(t, IsScanError(err))
}

func TestScan_ConcurrentMatchesSequential(t *testing.T) {
	sequential, err := collect(t, newTestScanner(seeded()), 95, 110)
	require.NoError(t, err)

	for _, n := range []int{2, 3, 4, 16, 100} {
		t.Run(fmt.Sprintf("concurrency=%d", n), func(t *testing.T) {
			got, err := collect(t, newTestScanner(seeded(), WithConcurrency(n)), 95, 110)
			require.NoError(t, err)
			assert.Equal(t, sequential, got)
		})
	}
}

func TestScan_ConcurrentFailureIsScanError(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	flaky.FailFetch(106, 10)

	got, err := collect(t, newTestScanner(flaky, WithConcurrency(4)), 100, 110)
	require.Error(t, err)

	var se *ScanError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, uint64(106), se.Height)
	// The first window [100,103] completes before the failing one starts.
	assert.Equal(t, []string{"100/0=a", "101/0=b", "101/1=c"}, got)
}

func TestScan_CacheAvoidsRefetch(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	s := newTestScanner(flaky, WithCache(64))

	first, err := collect(t, s, 100, 110)
	require.NoError(t, err)
	second, err := collect(t, s, 100, 110)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 11, flaky.TotalFetchCalls())
}

func TestScan_CacheIsNamespaceScoped(t *testing.T) {
	m := seeded()
	s := newTestScanner(m, WithCache(64))

	_, err := collect(t, s, 101, 101)
	require.NoError(t, err)

	var other []string
	for b, err := range s.Scan(context.Background(), 2, 101, 101) {
		require.NoError(t, err)
		other = append(other, string(b.Data))
	}
	assert.Equal(t, []string{"other-app"}, other)
}

func TestScan_FailedFetchNotCached(t *testing.T) {
	flaky := testutil.NewFlakyClient(seeded())
	flaky.FailFetch(100, 3)
	s := newTestScanner(flaky, WithCache(64))

	_, err := collect(t, s, 100, 100)
	require.Error(t, err)

	got, err := collect(t, s, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"100/0=a"}, got)
}

func TestScanError_Message(t *testing.T) {
	err := &ScanError{AppID: 3, From: 1, To: 9, Height: 4, Attempts: 5, Err: testutil.ErrInjected}
	assert.Equal(t, "scan [1,9] (app 3) failed at height 4 after 5 attempts: injected fault", err.Error())
}
