package testutil

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/ledgerkv/internal/ledger"
)

// ErrInjected is the error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// FlakyClient wraps a ledger client and fails selected calls.
//
// Thread-safety: all methods are safe for concurrent use.
type FlakyClient struct {
	next ledger.Client

	mu            sync.Mutex
	fetchFailures map[uint64]int
	submitPasses  int
	submitFails   int
	fetchCalls    map[uint64]int
	submitCalls   int
}

// NewFlakyClient wraps next with no faults armed.
func NewFlakyClient(next ledger.Client) *FlakyClient {
	return &FlakyClient{
		next:          next,
		fetchFailures: make(map[uint64]int),
		fetchCalls:    make(map[uint64]int),
	}
}

// FailFetch makes the next n fetches of height fail.
func (f *FlakyClient) FailFetch(height uint64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchFailures[height] += n
}

// FailSubmits makes the next n submits fail.
func (f *FlakyClient) FailSubmits(n int) {
	f.FailSubmitsAfter(0, n)
}

// FailSubmitsAfter lets the next pass submits through and fails the n after
// them. It replaces any submit faults already armed.
func (f *FlakyClient) FailSubmitsAfter(pass, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitPasses = pass
	f.submitFails = n
}

// FetchCalls returns how many times height was fetched.
func (f *FlakyClient) FetchCalls(height uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[height]
}

// TotalFetchCalls returns the number of fetches across all heights.
func (f *FlakyClient) TotalFetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.fetchCalls {
		total += n
	}
	return total
}

// SubmitCalls returns the number of submit attempts.
func (f *FlakyClient) SubmitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

// LatestHeight implements ledger.Client.
func (f *FlakyClient) LatestHeight(ctx context.Context) (uint64, error) {
	return f.next.LatestHeight(ctx)
}

// Submit implements ledger.Client.
func (f *FlakyClient) Submit(ctx context.Context, appID ledger.AppID, data []byte) (uint64, error) {
	f.mu.Lock()
	f.submitCalls++
	fail := false
	switch {
	case f.submitPasses > 0:
		f.submitPasses--
	case f.submitFails > 0:
		f.submitFails--
		fail = true
	}
	f.mu.Unlock()

	if fail {
		return 0, &ledger.SubmitError{AppID: appID, Err: ErrInjected}
	}
	return f.next.Submit(ctx, appID, data)
}

// Fetch implements ledger.Client.
func (f *FlakyClient) Fetch(ctx context.Context, height uint64, appID ledger.AppID) ([][]byte, error) {
	f.mu.Lock()
	f.fetchCalls[height]++
	fail := f.fetchFailures[height] > 0
	if fail {
		f.fetchFailures[height]--
	}
	f.mu.Unlock()

	if fail {
		return nil, &ledger.FetchError{Height: height, AppID: appID, Err: ErrInjected}
	}
	return f.next.Fetch(ctx, height, appID)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
