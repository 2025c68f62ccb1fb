// Package envelope defines the two blob shapes stored on the ledger and the
// codec that moves them to and from bytes.
//
// Every blob is a canonical JSON object carrying an explicit "type"
// discriminator ("record" or "metadata") and a "schema_version" tag:
//
//	{"created_at":"2026-10-18T09:00:00Z","id":"0192...","key":"a","schema_version":1,"type":"record","value":"1"}
//	{"record_count":3,"schema_version":1,"start_height":100,"type":"metadata","updated_at":"2026-10-18T09:00:00Z"}
//
// Decode dispatches exhaustively on the discriminator and returns a
// *DecodeError for anything it cannot classify. Decode errors concern a single
// blob only; scanners log and skip them.
//
// This package imports nothing internal so every other layer can depend on it.
package envelope
