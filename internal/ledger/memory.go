package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process ledger and resolver. Each Submit seals a new height
// holding exactly that blob; Append places blobs at explicit heights so tests
// can build multi-blob heights and gaps.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	tip     uint64
	blocks  map[uint64]map[AppID][][]byte
	apps    map[string]AppID
	nextApp AppID
}

// NewMemory creates an empty ledger whose tip is height 0.
func NewMemory() *Memory {
	return NewMemoryAt(0)
}

// NewMemoryAt creates an empty ledger whose tip is the given height.
func NewMemoryAt(tip uint64) *Memory {
	return &Memory{
		tip:     tip,
		blocks:  make(map[uint64]map[AppID][][]byte),
		apps:    make(map[string]AppID),
		nextApp: 1,
	}
}

// LatestHeight implements Client.
func (m *Memory) LatestHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tip, nil
}

// Submit implements Client. The blob lands at tip+1.
func (m *Memory) Submit(ctx context.Context, appID AppID, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip++
	m.appendLocked(m.tip, appID, data)
	return m.tip, nil
}

// Append commits data at an explicit height, raising the tip if needed.
// It returns the blob's index within that height.
func (m *Memory) Append(height uint64, appID AppID, data []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height > m.tip {
		m.tip = height
	}
	return m.appendLocked(height, appID, data)
}

func (m *Memory) appendLocked(height uint64, appID AppID, data []byte) int {
	block, ok := m.blocks[height]
	if !ok {
		block = make(map[AppID][][]byte)
		m.blocks[height] = block
	}
	blob := make([]byte, len(data))
	copy(blob, data)
	block[appID] = append(block[appID], blob)
	return len(block[appID]) - 1
}

// Advance seals n empty heights and returns the new tip.
func (m *Memory) Advance(n uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tip += n
	return m.tip
}

// Fetch implements Client. Heights above the tip are an error.
func (m *Memory) Fetch(ctx context.Context, height uint64, appID AppID) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if height > m.tip {
		return nil, &FetchError{Height: height, AppID: appID, Err: fmt.Errorf("height beyond tip %d", m.tip)}
	}

	blobs := m.blocks[height][appID]
	out := make([][]byte, len(blobs))
	for i, b := range blobs {
		out[i] = append([]byte(nil), b...)
	}
	return out, nil
}

// ResolveOrCreate implements Resolver. Ids are assigned from 1 upwards.
func (m *Memory) ResolveOrCreate(ctx context.Context, appName string) (AppID, error) {
	if err := ctx.Err(); err != nil {
		return 0, &ResolutionError{AppName: appName, Err: err}
	}
	if appName == "" {
		return 0, &ResolutionError{AppName: appName, Err: fmt.Errorf("app name must not be empty")}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.apps[appName]; ok {
		return id, nil
	}
	id := m.nextApp
	m.nextApp++
	m.apps[appName] = id
	return id, nil
}
