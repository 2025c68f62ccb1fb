// Package kv is a key-value database over an append-only ledger.
//
// Every write is a record blob submitted to the namespace; every read scans
// the namespace from its anchor to the current tip and keeps, per key, the
// record at the highest (height, write_index). There is no index and no
// delete. A key's history is the list of its blobs on the ledger.
//
// # Lifecycle
//
//	db, err := kv.Open(ctx, client, resolver, "demo")
//	rec, err := db.Add(ctx, "greeting", "hello")
//	rec, err = db.Get(ctx, "greeting")
//	all, err := db.List(ctx)
//
// Open resolves the namespace and runs anchor discovery once. Add submits the
// record, waits for its height, then republishes the namespace metadata. A
// failed metadata publish does not undo the record: Add returns the record
// together with a *DegradedWriteError.
//
// # Consistency
//
// Reads reflect every height up to the tip observed at the start of the call.
// By default each read rescans from the anchor. WithIncremental keeps a local
// snapshot and scans only the heights committed since the previous read; the
// results are identical.
//
// # Concurrency
//
// A DB is safe for concurrent use. Add calls for the same namespace are
// serialised across every DB in the process. Reads take no namespace lock.
package kv
