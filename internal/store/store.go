package store

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/google/uuid"
)

var ErrInstanceNotFound = errors.New("instance not found")
var ErrInstanceExists = errors.New("instance already exists")
var ErrVersionConflict = errors.New("instance was modified concurrently")

// InstantiateCommand labels the journal entries written by Create.
const InstantiateCommand engine.CommandType = "Instantiate"

// Instance is a persisted ledger state. Version counts committed commands.
type Instance struct {
	ID      uuid.UUID
	Version int64
	State   engine.State
}

// Commit is the result of one successful engine.Apply. Version is the version the command
// was applied against; the store moves the instance to Version+1 or fails with
// ErrVersionConflict.
type Commit struct {
	InstanceID uuid.UUID
	Version    int64
	Command    engine.CommandType
	Sender     string
	State      engine.State
	Events     []engine.Event
}

// Record is one journaled event.
type Record struct {
	InstanceID uuid.UUID
	Version    int64
	Index      int
	Command    engine.CommandType
	Sender     string
	Event      engine.Event
	CreatedAt  time.Time
}

// OutboxEntry is a committed token instruction waiting for delivery.
type OutboxEntry struct {
	ID            uuid.UUID
	InstanceID    uuid.UUID
	Transfer      engine.Transfer
	Attempts      int
	LastError     string
	// NextAttemptAt is zero until a delivery fails.
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

type Store interface {
	Create(ctx context.Context, id uuid.UUID, state engine.State, events []engine.Event) error
	Load(ctx context.Context, id uuid.UUID) (Instance, error)
	Commit(ctx context.Context, c Commit) error
	Events(ctx context.Context, id uuid.UUID, afterVersion int64, limit int) ([]Record, error)

	// PendingTransfers returns undelivered, unparked entries whose next attempt is due.
	PendingTransfers(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error, retryAt time.Time) error
	// Park takes an entry out of delivery for good; it stays stored for an operator.
	Park(ctx context.Context, id uuid.UUID, cause error) error

	Close() error
}
