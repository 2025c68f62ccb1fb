// Package ledger defines the collaborators the key-value core consumes: a
// client for the append-only, height-ordered blob ledger and a resolver that
// maps application names to namespace ids.
//
// It also carries the I/O policy shared by every caller: typed errors for
// fetch, submit and resolution failures, a bounded retry-with-backoff policy
// with per-call timeouts, and an optional rate limiter.
//
// Concrete clients live elsewhere (internal/store for a local SQLite ledger,
// internal/lightclient for an Avail light client). Memory is an in-process
// implementation for tests.
package ledger

import "context"

// AppID is the numeric namespace identifier assigned by the resolver.
type AppID uint32

// Namespace pairs a human-readable application name with its stable id.
type Namespace struct {
	Name  string `json:"app_name"`
	AppID AppID  `json:"app_id"`
}

// Blob is one namespace-scoped payload committed at a height.
// Index is its position among the namespace's blobs at that height.
type Blob struct {
	Height uint64
	Index  int
	Data   []byte
}

// Client submits and fetches namespace blobs.
//
// Implementations must be safe for concurrent use. Errors should be returned
// as *SubmitError / *FetchError where possible; callers wrap anything else.
type Client interface {
	// LatestHeight returns the current tip height.
	LatestHeight(ctx context.Context) (uint64, error)

	// Submit commits data under appID and returns the height it landed at.
	Submit(ctx context.Context, appID AppID, data []byte) (uint64, error)

	// Fetch returns all blobs for appID at height, in commit order.
	// A height with no namespace blobs yields an empty slice.
	Fetch(ctx context.Context, height uint64, appID AppID) ([][]byte, error)
}

// Resolver maps an application name to its namespace id, creating one if absent.
type Resolver interface {
	ResolveOrCreate(ctx context.Context, appName string) (AppID, error)
}
