package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Audit actions recorded by the store and the CLI.
const (
	AuditActionImported = "entity.imported"
	AuditActionSet      = "entity.set"
	AuditActionDeleted  = "entity.deleted"
	AuditActionDenied   = "write.denied"
)

// EntityRecord is the persisted form of an entity.
type EntityRecord struct {
	Name       string    `json:"name"`
	Class      string    `json:"class"`
	Attributes string    `json:"attributes"` // JSON object
	Hash       string    `json:"hash"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// SyncReport lists the entity names touched by a Sync, each sorted.
type SyncReport struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Deleted   []string `json:"deleted"`
	Unchanged []string `json:"unchanged"`
}

// Changed reports whether the sync modified the arena.
func (r *SyncReport) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Deleted) > 0
}

// Purger drops cached state derived from an entity. *graph.Graph implements it.
type Purger interface {
	Purge(entityName string) int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transactions
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Entities
	UpsertEntity(ctx context.Context, rec *EntityRecord) error
	GetEntity(ctx context.Context, name string) (*EntityRecord, error)
	ListEntities(ctx context.Context, class *string, limit, offset int) ([]*EntityRecord, error)
	DeleteEntity(ctx context.Context, name string) error

	// Audit
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, target *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
