package envelope

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// Type is the envelope discriminator carried in every blob.
type Type string

const (
	TypeRecord   Type = "record"
	TypeMetadata Type = "metadata"
)

// SchemaVersion is the envelope version written by this package.
const SchemaVersion = 1

// supportedVersions lists every schema version Decode accepts.
var supportedVersions = map[int64]bool{
	1: true,
}

// Envelope is the sum type of blob payloads. It is sealed: only Record and
// Metadata implement it.
type Envelope interface {
	Type() Type
	envelope()
}

// Position locates a blob on the ledger. Height is assigned by the ledger;
// Index is the blob's position among the namespace's blobs at that height.
type Position struct {
	Height uint64 `json:"height"`
	Index  int    `json:"write_index"`
}

// After reports whether p is strictly later than q in (height, index) order.
func (p Position) After(q Position) bool {
	if p.Height != q.Height {
		return p.Height > q.Height
	}
	return p.Index > q.Index
}

// Record is a user-visible key-value entry.
//
// Pos is zero until the blob has been committed. Add only learns the height at
// submission time; Index is filled in when the blob is scanned back.
type Record struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Pos       Position  `json:"position"`
}

func (Record) Type() Type { return TypeRecord }
func (Record) envelope()  {}

// Metadata is the namespace-level bookkeeping blob.
// RecordCount is advisory and never used for correctness.
type Metadata struct {
	StartHeight uint64    `json:"start_height"`
	RecordCount int64     `json:"record_count"`
	UpdatedAt   time.Time `json:"updated_at"`
	Pos         Position  `json:"position"`
}

func (Metadata) Type() Type { return TypeMetadata }
func (Metadata) envelope()  {}

// NormalizeKey returns the NFC form of a key. Keys are compared in NFC so that
// visually identical keys written by different clients reconcile together.
// Values are never normalised.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}
