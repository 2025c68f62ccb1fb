// Package scan produces the ordered sequence of namespace blobs across a
// ledger height range.
//
// ORDERING: heights are yielded in increasing order and, within a height, in
// the order the ledger returned them. Each blob's Index is its position in that
// height's fetch result. Reconciliation depends on this order, so a height is
// never skipped: a fetch that exhausts its retry budget ends the scan with a
// *ScanError.
package scan

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/ledgerkv/internal/ledger"
)

// ScanError reports a scan aborted because one height could not be fetched.
type ScanError struct {
	AppID    ledger.AppID
	From     uint64
	To       uint64
	Height   uint64
	Attempts int
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan [%d,%d] (app %d) failed at height %d after %d attempts: %v",
		e.From, e.To, e.AppID, e.Height, e.Attempts, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// IsScanError returns true if err is or wraps a *ScanError.
func IsScanError(err error) bool {
	var se *ScanError
	return errors.As(err, &se)
}

// Scanner fetches height ranges from a ledger client.
//
// Thread-safety: a Scanner may be shared; each Scan call is independent.
type Scanner struct {
	client      ledger.Client
	policy      ledger.RetryPolicy
	concurrency int
	cache       *lru.ARCCache
	logger      *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRetryPolicy sets the per-height retry policy.
// Default: ledger.DefaultRetryPolicy.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(s *Scanner) {
		s.policy = p
	}
}

// WithConcurrency fetches up to n heights at once. Results are still yielded
// in height order. Values below 2 keep the scan strictly sequential.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		s.concurrency = n
	}
}

// WithCache keeps the fetch results of up to size heights in an ARC cache.
// Committed heights never change, so cached results stay valid.
func WithCache(size int) Option {
	return func(s *Scanner) {
		if size <= 0 {
			s.cache = nil
			return
		}
		c, err := lru.NewARC(size)
		if err != nil {
			return
		}
		s.cache = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// New creates a Scanner over client.
func New(client ledger.Client, opts ...Option) *Scanner {
	s := &Scanner{
		client:      client,
		policy:      ledger.DefaultRetryPolicy,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cacheKey identifies one height of one namespace.
type cacheKey struct {
	appID  ledger.AppID
	height uint64
}

// Scan returns the blobs of appID in [from, to]. The sequence is lazy and
// single use: nothing is fetched until it is ranged over, and ranging again
// re-issues every fetch (cache aside).
//
// On failure the sequence yields exactly one non-nil error and stops. The error
// is a *ScanError, or the context error if ctx was cancelled.
func (s *Scanner) Scan(ctx context.Context, appID ledger.AppID, from, to uint64) iter.Seq2[ledger.Blob, error] {
	return func(yield func(ledger.Blob, error) bool) {
		if from > to {
			return
		}
		s.logger.Debug("scan starting", "app_id", appID, "from", from, "to", to)

		if s.concurrency > 1 {
			s.scanWindows(ctx, appID, from, to, yield)
			return
		}

		h := from
		for {
			blobs, err := s.fetch(ctx, appID, from, to, h)
			if err != nil {
				yield(ledger.Blob{}, err)
				return
			}
			if !emit(h, blobs, yield) {
				return
			}
			if h == to {
				return
			}
			h++
		}
	}
}

// scanWindows fetches consecutive windows of heights concurrently and yields
// each window in height order before starting the next.
func (s *Scanner) scanWindows(ctx context.Context, appID ledger.AppID, from, to uint64, yield func(ledger.Blob, error) bool) {
	start := from
	for {
		n := uint64(s.concurrency)
		end := to
		if to-start >= n {
			end = start + n - 1
		}

		results := make([][][]byte, end-start+1)
		g, gctx := errgroup.WithContext(ctx)
		for h := start; ; h++ {
			g.Go(func() error {
				blobs, err := s.fetch(gctx, appID, from, to, h)
				if err != nil {
					return err
				}
				results[h-start] = blobs
				return nil
			})
			if h == end {
				break
			}
		}
		if err := g.Wait(); err != nil {
			// A sibling's failure cancels gctx; report the caller's
			// cancellation if that is what happened.
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			yield(ledger.Blob{}, err)
			return
		}

		for i, blobs := range results {
			if !emit(start+uint64(i), blobs, yield) {
				return
			}
		}

		if end == to {
			return
		}
		start = end + 1
	}
}

// emit yields the blobs of one height, stamping their write index.
func emit(height uint64, blobs [][]byte, yield func(ledger.Blob, error) bool) bool {
	for i, data := range blobs {
		if !yield(ledger.Blob{Height: height, Index: i, Data: data}, nil) {
			return false
		}
	}
	return true
}

// fetch retrieves one height under the retry policy.
func (s *Scanner) fetch(ctx context.Context, appID ledger.AppID, from, to, height uint64) ([][]byte, error) {
	key := cacheKey{appID: appID, height: height}
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([][]byte), nil
		}
	}

	var blobs [][]byte
	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		b, err := s.client.Fetch(ctx, height, appID)
		if err != nil {
			s.logger.Debug("fetch failed", "app_id", appID, "height", height, "error", err)
			return err
		}
		blobs = b
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !ledger.IsFetchError(err) {
			err = &ledger.FetchError{Height: height, AppID: appID, Err: err}
		}
		s.logger.Warn("scan aborted", "app_id", appID, "height", height, "attempts", attempts, "error", err)
		return nil, &ScanError{AppID: appID, From: from, To: to, Height: height, Attempts: attempts, Err: err}
	}

	if s.cache != nil {
		s.cache.Add(key, blobs)
	}
	return blobs, nil
}
