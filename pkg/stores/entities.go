package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ledgerline/depgraph/pkg/entity"
)

// RecordFromEntity encodes e for storage.
func RecordFromEntity(e *entity.Entity) (*EntityRecord, error) {
	attrs, err := json.Marshal(e.Attributes())
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes of %s: %w", e.Name, err)
	}
	sum, err := entity.Fingerprint(e)
	if err != nil {
		return nil, err
	}
	return &EntityRecord{
		Name:       e.Name,
		Class:      e.Class,
		Attributes: string(attrs),
		Hash:       strconv.FormatUint(sum, 16),
	}, nil
}

// EntityFromRecord decodes a stored record. Numbers decode as float64.
func EntityFromRecord(rec *EntityRecord) (*entity.Entity, error) {
	attrs := map[string]any{}
	if rec.Attributes != "" {
		if err := json.Unmarshal([]byte(rec.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", rec.Name, err)
		}
	}
	return entity.New(rec.Name, rec.Class, attrs), nil
}

// LoadArena builds an arena holding every stored entity.
func (s *SQLiteStore) LoadArena(ctx context.Context) (*entity.Arena, error) {
	records, err := s.ListEntities(ctx, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	arena := entity.NewArena()
	for _, rec := range records {
		e, err := EntityFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if _, err := arena.Insert(e); err != nil {
			return nil, err
		}
	}

	s.logger.Debug().Int("entities", arena.Len()).Msg("Arena loaded")
	return arena, nil
}

// SaveEntity persists e and records an audit entry in one transaction.
// details is stored as JSON when not nil.
func (s *SQLiteStore) SaveEntity(ctx context.Context, e *entity.Entity, action, actor string, details map[string]any) error {
	rec, err := RecordFromEntity(e)
	if err != nil {
		return err
	}

	entry := &AuditEntry{Action: action, Actor: actor, TargetID: &rec.Name}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		d := string(raw)
		entry.Details = &d
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := upsertEntity(ctx, tx, rec); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}
	if err := createAuditEntry(ctx, tx, entry); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}
	return s.CommitTx(tx)
}

// RemoveEntity deletes the stored entity and audits the deletion.
func (s *SQLiteStore) RemoveEntity(ctx context.Context, name, actor string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := deleteEntity(ctx, tx, name); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}
	if err := createAuditEntry(ctx, tx, &AuditEntry{Action: AuditActionDeleted, Actor: actor, TargetID: &name}); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}
	return s.CommitTx(tx)
}

// Sync makes arena match the stored entities. Stored rows win: new rows are
// inserted, rows whose hash differs from the live entity replace it, and live
// entities without a row are removed. Every replaced or removed entity is
// purged from p so no cached value outlives its source.
func (s *SQLiteStore) Sync(ctx context.Context, arena *entity.Arena, p Purger) (*SyncReport, error) {
	records, err := s.ListEntities(ctx, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{}
	stored := make(map[string]struct{}, len(records))
	for _, rec := range records {
		stored[rec.Name] = struct{}{}

		h, live := arena.Lookup(rec.Name)
		if live {
			current, _ := arena.Get(h)
			cur, err := RecordFromEntity(current)
			if err != nil {
				return nil, err
			}
			if cur.Hash == rec.Hash {
				report.Unchanged = append(report.Unchanged, rec.Name)
				continue
			}
		}

		e, err := EntityFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if _, err := arena.Replace(e); err != nil {
			return nil, err
		}
		if live {
			report.Updated = append(report.Updated, rec.Name)
			purge(p, rec.Name)
		} else {
			report.Created = append(report.Created, rec.Name)
		}
	}

	for _, name := range arena.Names() {
		if _, ok := stored[name]; ok {
			continue
		}
		arena.Remove(name)
		purge(p, name)
		report.Deleted = append(report.Deleted, name)
	}

	sort.Strings(report.Created)
	sort.Strings(report.Updated)
	sort.Strings(report.Deleted)
	sort.Strings(report.Unchanged)

	s.logger.Info().
		Int("created", len(report.Created)).
		Int("updated", len(report.Updated)).
		Int("deleted", len(report.Deleted)).
		Msg("Arena synchronized")
	return report, nil
}

func purge(p Purger, name string) {
	if p != nil {
		p.Purge(name)
	}
}
