// Package store persists the per-feed indicator state in a single SQLite
// file. It is an ordered key→record map with named secondary integer
// indexes: records are JSON attribute maps keyed by indicator, and each
// declared index keeps an ordered (value, key) projection of one integer
// attribute for range scans.
//
// The reconciliation engine is the sole writer; peer queries and the REST
// API read concurrently. WAL journaling keeps readers off the writer's
// lock, and every Put/Delete is one transaction so a record and its index
// entries never diverge.
//
// Query returns an iter.Seq2 cursor rather than a slice: a feed can hold
// hundreds of thousands of indicators, and full-table replays to peers
// stream row by row.
package store
