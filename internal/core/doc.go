// Package core holds the receipt ("fiş") domain: record types, the filter
// query pipeline, search strategy selection, pagination, bulk delete,
// statistics and upload validation. It has no HTTP or storage dependencies,
// so the web handlers, the ingest poller and the fis-export command all
// share it. Stores plug in through the [Store] interface.
//
// # Listing
//
// A listing request flows through three steps:
//
//  1. [ParseFilterParams] reads and clamps the query string
//  2. [SearchSelector.Resolve] picks full-text search, falling back to
//     substring matching when the store has no search support
//  3. [BuildQuery] combines both into a [Query] the store executes
//
// # Write-back
//
// The extraction workflow posts finished receipts to the API.
// [ParseIngestPayload] checks the body against the receipt JSON schema and
// normalizes it; mismatched line totals are returned as warnings rather
// than errors.
//
// # Deletion
//
// [Service.DeleteFis] prefers the store's bulk procedure ([MethodProcedure])
// and falls back to per-row deletes. Identifiers that no longer exist are
// reported as missing, never as failures.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code for support reference:
//
//   - DB000-DB008: store failures
//   - VAL000-VAL008: request validation
//   - FILE001-FILE007: upload validation
//   - WF001-WF007: extraction workflow replies
package core
