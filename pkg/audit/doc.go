// Package audit records field-level history for tracked entities.
//
// # Overview
//
// Every committed mutation of a tracked entity produces exactly one Entry:
// Created, Updated, Deleted or Restored, attributed to the acting user or API
// key. Entries are immutable; the gorm hooks on Entry reject updates and
// deletes, and Append is the only write path.
//
// # Diffs
//
// DiffBuilder walks the gorm schema of a model and renders each persisted
// scalar column to a stable string:
//
//	builder := audit.NewDiffBuilder()
//	before, _ := builder.Snapshot(account)
//	account.Name = "Operating"
//	changes, _ := builder.Updated(before, account)
//	// [{Field: "Name", OldValue: "Checking", NewValue: "Operating"}]
//
// Relationships, the primary key, auto-managed timestamps and fields tagged
// `audit:"-"` never appear. Decimals use their canonical string form, times
// RFC3339Nano in UTC, and NULL becomes JSON null. Deleted and Restored
// entries carry an empty change list.
//
// # Reading
//
// Store serves the read side: per-entity history, recent entries, per-actor
// queries, filtered search, stats, and exports in json, ndjson, csv and xlsx.
// Handlers mounts the same operations on a gorilla/mux router.
package audit
