package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/google/uuid"
)

// Memory keeps everything in process. It is used when no database is configured and in tests.
type Memory struct {
	mu        sync.Mutex
	instances map[uuid.UUID]Instance
	journal   []Record
	outbox    []memOutbox
}

type memOutbox struct {
	entry  OutboxEntry
	sent   bool
	parked bool
}

func NewMemory() *Memory {
	return &Memory{instances: map[uuid.UUID]Instance{}}
}

func (m *Memory) Create(ctx context.Context, id uuid.UUID, state engine.State, events []engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[id]; ok {
		return fmt.Errorf("create %s: %w", id, ErrInstanceExists)
	}
	m.instances[id] = Instance{ID: id, State: state.Clone()}
	m.record(id, 0, InstantiateCommand, state.Config.Admin, events)
	return nil
}

func (m *Memory) Load(ctx context.Context, id uuid.UUID) (Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return Instance{}, fmt.Errorf("load %s: %w", id, ErrInstanceNotFound)
	}
	inst.State = inst.State.Clone()
	return inst, nil
}

func (m *Memory) Commit(ctx context.Context, c Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[c.InstanceID]
	if !ok {
		return fmt.Errorf("commit %s: %w", c.InstanceID, ErrInstanceNotFound)
	}
	if inst.Version != c.Version {
		return fmt.Errorf("commit %s at version %d (stored %d): %w",
			c.InstanceID, c.Version, inst.Version, ErrVersionConflict)
	}

	next := c.Version + 1
	m.instances[c.InstanceID] = Instance{ID: c.InstanceID, Version: next, State: c.State.Clone()}
	m.record(c.InstanceID, next, c.Command, c.Sender, c.Events)
	for _, tr := range engine.Transfers(c.Events) {
		m.outbox = append(m.outbox, memOutbox{entry: OutboxEntry{
			ID:         uuid.New(),
			InstanceID: c.InstanceID,
			Transfer:   tr,
			CreatedAt:  time.Now(),
		}})
	}
	return nil
}

func (m *Memory) record(id uuid.UUID, version int64, cmd engine.CommandType, sender string, events []engine.Event) {
	now := time.Now()
	for i, e := range events {
		m.journal = append(m.journal, Record{
			InstanceID: id,
			Version:    version,
			Index:      i,
			Command:    cmd,
			Sender:     sender,
			Event:      e,
			CreatedAt:  now,
		})
	}
}

func (m *Memory) Events(ctx context.Context, id uuid.UUID, afterVersion int64, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[id]; !ok {
		return nil, fmt.Errorf("events %s: %w", id, ErrInstanceNotFound)
	}
	var out []Record
	for _, r := range m.journal {
		if r.InstanceID != id || r.Version <= afterVersion {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) PendingTransfers(ctx context.Context, limit int) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var out []OutboxEntry
	for _, o := range m.outbox {
		if o.sent || o.parked || o.entry.NextAttemptAt.After(now) {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, o.entry)
	}
	return out, nil
}

func (m *Memory) MarkSent(ctx context.Context, id uuid.UUID) error {
	return m.updateOutbox(id, func(o *memOutbox) {
		o.sent = true
		o.entry.Attempts++
	})
}

func (m *Memory) MarkFailed(ctx context.Context, id uuid.UUID, cause error, retryAt time.Time) error {
	return m.updateOutbox(id, func(o *memOutbox) {
		o.entry.Attempts++
		o.entry.LastError = errText(cause)
		o.entry.NextAttemptAt = retryAt
	})
}

func (m *Memory) Park(ctx context.Context, id uuid.UUID, cause error) error {
	return m.updateOutbox(id, func(o *memOutbox) {
		o.entry.Attempts++
		o.entry.LastError = errText(cause)
		o.parked = true
	})
}

func (m *Memory) updateOutbox(id uuid.UUID, fn func(*memOutbox)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].entry.ID == id {
			fn(&m.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("outbox entry %s not found", id)
}

func (m *Memory) Close() error { return nil }
