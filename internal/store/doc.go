// Package store provides a SQLite-backed local ledger for development.
//
// The store implements ledger.Client and ledger.Resolver on a single file:
//   - apps: namespace names and their app ids (assigned on first use)
//   - blocks: sealed heights, starting with genesis at height 0
//   - blobs: namespace payloads keyed by (height, app_id, idx)
//
// # Sealing
//
// Submit seals a new block holding exactly the submitted blob and returns its
// height. Mine seals empty blocks so that the tip can advance without writes.
// A sealed block is never modified.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every blob row carries its envelope.Digest so Verify can detect corruption.
package store
