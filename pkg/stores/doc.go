// Package stores provides the SQLite persistence layer for entities.
// It keeps one row per entity with its stored attributes as JSON and a
// content hash, plus an append-only audit trail of writes. Sync reconciles
// a live arena against the stored rows and purges cached graph state for
// every entity it replaces or removes.
package stores
