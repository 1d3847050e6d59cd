package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"costengine/internal/core/entity"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/run"
	"costengine/pkg/numerator"
)

var (
	_ run.UnitStore     = (*Store)(nil)
	_ run.Outbox        = (*Store)(nil)
	_ run.AuditLog      = (*Store)(nil)
	_ run.AuditHistory  = (*Store)(nil)
	_ numerator.Backend = (*Store)(nil)
)

func (s *Store) GetUnit(ctx context.Context, key entity.UnitKey) (*entity.UnitRecord, error) {
	var (
		rec entity.UnitRecord
		ok  bool
	)
	s.read(ctx, func(st *State) { rec, ok = st.Units[key.String()] })
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) SaveUnit(ctx context.Context, rec *entity.UnitRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return s.write(ctx, func(st *State) error {
		st.Units[rec.UnitKey.String()] = *rec
		return nil
	})
}

func (s *Store) ListFailed(ctx context.Context, branchIDs []id.ID) ([]entity.UnitRecord, error) {
	filter := make(map[id.ID]bool, len(branchIDs))
	for _, b := range branchIDs {
		filter[b] = true
	}
	var out []entity.UnitRecord
	s.read(ctx, func(st *State) {
		for _, u := range st.Units {
			if u.Status != entity.UnitFailed {
				continue
			}
			if len(filter) > 0 && !filter[u.BranchID] {
				continue
			}
			out = append(out, u)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.BranchID != b.BranchID {
			return a.BranchID.String() < b.BranchID.String()
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.IngredientID.String() < b.IngredientID.String()
	})
	return out, nil
}

func (s *Store) DeleteUnit(ctx context.Context, key entity.UnitKey) error {
	return s.write(ctx, func(st *State) error {
		delete(st.Units, key.String())
		return nil
	})
}

func (s *Store) DeleteUnitsFrom(ctx context.Context, branchID id.ID, from types.Date) (int, error) {
	deleted := 0
	err := s.write(ctx, func(st *State) error {
		for k, u := range st.Units {
			if u.BranchID == branchID && !u.Date.Before(from) {
				delete(st.Units, k)
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

// Units returns every unit record keyed by UnitKey.String().
func (s *Store) Units(ctx context.Context) map[string]entity.UnitRecord {
	var out map[string]entity.UnitRecord
	s.read(ctx, func(st *State) { out = cloneMap(st.Units) })
	return out
}

// Publish appends events to the outbox. An event whose ID is already there
// is skipped.
func (s *Store) Publish(ctx context.Context, events ...entity.DomainEvent) error {
	records := make([]OutboxRecord, 0, len(events))
	now := time.Now().UTC()
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.EventType, err)
		}
		eventID := e.ID
		if eventID == id.Nil() {
			eventID = id.New()
		}
		records = append(records, OutboxRecord{
			ID:            eventID,
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			EventType:     e.EventType,
			Payload:       payload,
			CreatedAt:     now,
		})
	}
	return s.write(ctx, func(st *State) error {
		seen := make(map[id.ID]bool, len(st.Outbox)+len(records))
		for _, r := range st.Outbox {
			seen[r.ID] = true
		}
		for _, r := range records {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			st.Outbox = append(st.Outbox, r)
		}
		return nil
	})
}

// Events returns published events in publish order.
func (s *Store) Events(ctx context.Context) []OutboxRecord {
	var out []OutboxRecord
	s.read(ctx, func(st *State) { out = append(out, st.Outbox...) })
	return out
}

// DrainOutbox removes and returns up to limit pending events.
func (s *Store) DrainOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	var out []OutboxRecord
	err := s.write(ctx, func(st *State) error {
		n := min(limit, len(st.Outbox))
		if limit <= 0 {
			n = len(st.Outbox)
		}
		out = append(out, st.Outbox[:n]...)
		st.Outbox = append([]OutboxRecord(nil), st.Outbox[n:]...)
		return nil
	})
	return out, err
}

func (s *Store) SaveAllocation(ctx context.Context, entry run.AllocationAudit) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal allocation audit: %w", err)
	}
	rec := AuditRecord{
		UnitKey:        entry.Unit.String(),
		IdempotencyKey: entry.IdempotencyKey,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	return s.write(ctx, func(st *State) error {
		st.Audit = append(st.Audit, rec)
		return nil
	})
}

// Audits returns stored allocation audits in insertion order.
func (s *Store) Audits(ctx context.Context) []AuditRecord {
	var out []AuditRecord
	s.read(ctx, func(st *State) { out = append(out, st.Audit...) })
	return out
}

func (s *Store) History(ctx context.Context, unit entity.UnitKey, limit int) ([]run.AllocationAudit, error) {
	key := unit.String()
	var recs []AuditRecord
	s.read(ctx, func(st *State) {
		for i := len(st.Audit) - 1; i >= 0 && (limit <= 0 || len(recs) < limit); i-- {
			if st.Audit[i].UnitKey == key {
				recs = append(recs, st.Audit[i])
			}
		}
	})
	out := make([]run.AllocationAudit, 0, len(recs))
	for _, rec := range recs {
		var audit run.AllocationAudit
		if err := json.Unmarshal(rec.Payload, &audit); err != nil {
			return nil, fmt.Errorf("decode allocation audit: %w", err)
		}
		out = append(out, audit)
	}
	return out, nil
}

// Reserve implements numerator.Backend. Sequences live in the state, so a
// rolled back unit also gives its receipt number back.
func (s *Store) Reserve(ctx context.Context, key string, n int64) (int64, error) {
	var last int64
	err := s.write(ctx, func(st *State) error {
		st.Sequences[key] += n
		last = st.Sequences[key]
		return nil
	})
	return last, err
}

func (s *Store) Set(ctx context.Context, key string, value int64) error {
	return s.write(ctx, func(st *State) error {
		st.Sequences[key] = value
		return nil
	})
}
