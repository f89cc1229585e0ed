package store

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/google/uuid"
)

// Amount columns are numeric(78,0) and travel as base-10 strings.

type instanceRow struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Admin         string
	TokenAddress  string
	Fee           string `gorm:"type:numeric(78,0)"`
	RoomCount     int64
	FeesAccrued   string `gorm:"type:numeric(78,0)"`
	FeesCollected string `gorm:"type:numeric(78,0)"`
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (instanceRow) TableName() string { return "instances" }

type balanceRow struct {
	InstanceID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserAddr   string    `gorm:"primaryKey"`
	Total      string    `gorm:"type:numeric(78,0)"`
	Locked     string    `gorm:"type:numeric(78,0)"`
}

func (balanceRow) TableName() string { return "balances" }

type roomRow struct {
	InstanceID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomKey     string    `gorm:"primaryKey"`
	Contestant1 string
	Contestant2 string
	PrizePool   string `gorm:"type:numeric(78,0)"`
	Stake       string `gorm:"type:numeric(78,0)"`
	Status      string
}

func (roomRow) TableName() string { return "rooms" }

type eventRow struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	InstanceID uuid.UUID `gorm:"type:uuid"`
	Version    int64
	Idx        int
	Command    string
	Sender     string
	Type       string
	UserAddr   string
	RoomKey    string
	Amount     string `gorm:"type:numeric(78,0)"`
	Status     string
	CreatedAt  time.Time
}

func (eventRow) TableName() string { return "events" }

type outboxRow struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	InstanceID     uuid.UUID `gorm:"type:uuid"`
	Kind           string
	Owner          string
	Recipient      string
	Amount         string `gorm:"type:numeric(78,0)"`
	CallbackUser   string
	CallbackAmount *string `gorm:"type:numeric(78,0)"`
	Attempts       int
	LastError      string
	SentAt         *time.Time
	NextAttemptAt  *time.Time
	ParkedAt       *time.Time
	CreatedAt      time.Time
}

func (outboxRow) TableName() string { return "outbox" }

func toInstanceRow(id uuid.UUID, version int64, s engine.State) instanceRow {
	return instanceRow{
		ID:            id,
		Admin:         s.Config.Admin,
		TokenAddress:  s.Config.TokenAddress,
		Fee:           s.Config.Fee.Dec(),
		RoomCount:     int64(s.RoomCount),
		FeesAccrued:   s.FeesAccrued.Dec(),
		FeesCollected: s.FeesCollected.Dec(),
		Version:       version,
	}
}

func (r instanceRow) state() (engine.State, error) {
	fee, err := engine.ParseAmount(r.Fee)
	if err != nil {
		return engine.State{}, fmt.Errorf("instance %s fee: %w", r.ID, err)
	}
	s := engine.NewEmptyState(engine.Config{Admin: r.Admin, TokenAddress: r.TokenAddress, Fee: fee})
	s.RoomCount = uint64(r.RoomCount)
	if s.FeesAccrued, err = engine.ParseAmount(r.FeesAccrued); err != nil {
		return engine.State{}, fmt.Errorf("instance %s fees accrued: %w", r.ID, err)
	}
	if s.FeesCollected, err = engine.ParseAmount(r.FeesCollected); err != nil {
		return engine.State{}, fmt.Errorf("instance %s fees collected: %w", r.ID, err)
	}
	return s, nil
}

func toBalanceRow(id uuid.UUID, user string, b engine.Balance) balanceRow {
	return balanceRow{InstanceID: id, UserAddr: user, Total: b.Total.Dec(), Locked: b.Locked.Dec()}
}

func (r balanceRow) balance() (engine.Balance, error) {
	total, err := engine.ParseAmount(r.Total)
	if err != nil {
		return engine.Balance{}, fmt.Errorf("balance %q: %w", r.UserAddr, err)
	}
	locked, err := engine.ParseAmount(r.Locked)
	if err != nil {
		return engine.Balance{}, fmt.Errorf("balance %q: %w", r.UserAddr, err)
	}
	return engine.Balance{Total: total, Locked: locked}, nil
}

func toRoomRow(id uuid.UUID, key string, room engine.GameRoom) roomRow {
	return roomRow{
		InstanceID:  id,
		RoomKey:     key,
		Contestant1: room.Contestant1,
		Contestant2: room.Contestant2,
		PrizePool:   room.PrizePool.Dec(),
		Stake:       room.Stake.Dec(),
		Status:      room.Status.String(),
	}
}

// room reads a stored room back, rejecting rows whose key does not match the contestants.
func (r roomRow) room() (engine.GameRoom, error) {
	if engine.DeriveRoomKey(r.Contestant1, r.Contestant2) != r.RoomKey {
		return engine.GameRoom{}, &engine.GameRoomLoadError{Msg: fmt.Sprintf("room %s does not match its contestants", r.RoomKey)}
	}
	status, err := engine.ParseRoomStatus(r.Status)
	if err != nil {
		return engine.GameRoom{}, &engine.GameRoomLoadError{Msg: err.Error()}
	}
	pool, err := engine.ParseAmount(r.PrizePool)
	if err != nil {
		return engine.GameRoom{}, &engine.GameRoomLoadError{Msg: err.Error()}
	}
	stake, err := engine.ParseAmount(r.Stake)
	if err != nil {
		return engine.GameRoom{}, &engine.GameRoomLoadError{Msg: err.Error()}
	}
	return engine.GameRoom{
		Contestant1: r.Contestant1,
		Contestant2: r.Contestant2,
		PrizePool:   pool,
		Stake:       stake,
		Status:      status,
	}, nil
}

func toEventRow(id uuid.UUID, version int64, idx int, cmd engine.CommandType, sender string, e engine.Event) eventRow {
	row := eventRow{
		ID:         uuid.New(),
		InstanceID: id,
		Version:    version,
		Idx:        idx,
		Command:    string(cmd),
		Sender:     sender,
		Type:       string(e.Type),
		UserAddr:   e.User,
		RoomKey:    e.RoomKey,
		Amount:     e.Amount.Dec(),
	}
	if e.Status.Kind != "" {
		row.Status = e.Status.String()
	}
	return row
}

func (r eventRow) record() (Record, error) {
	amount, err := engine.ParseAmount(r.Amount)
	if err != nil {
		return Record{}, fmt.Errorf("event %s: %w", r.ID, err)
	}
	e := engine.Event{Type: engine.EventType(r.Type), User: r.UserAddr, RoomKey: r.RoomKey, Amount: amount}
	if r.Status != "" {
		if e.Status, err = engine.ParseRoomStatus(r.Status); err != nil {
			return Record{}, fmt.Errorf("event %s: %w", r.ID, err)
		}
	}
	return Record{
		InstanceID: r.InstanceID,
		Version:    r.Version,
		Index:      r.Idx,
		Command:    engine.CommandType(r.Command),
		Sender:     r.Sender,
		Event:      e,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func toOutboxRow(id uuid.UUID, tr engine.Transfer) outboxRow {
	row := outboxRow{
		ID:         uuid.New(),
		InstanceID: id,
		Kind:       string(tr.Kind),
		Owner:      tr.Owner,
		Recipient:  tr.Recipient,
		Amount:     tr.Amount.Dec(),
	}
	if tr.Callback != nil {
		amount := tr.Callback.Amount.Dec()
		row.CallbackUser = tr.Callback.User
		row.CallbackAmount = &amount
	}
	return row
}

func (r outboxRow) entry() (OutboxEntry, error) {
	amount, err := engine.ParseAmount(r.Amount)
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("outbox %s: %w", r.ID, err)
	}
	tr := engine.Transfer{
		Kind:      engine.TransferKind(r.Kind),
		Owner:     r.Owner,
		Recipient: r.Recipient,
		Amount:    amount,
	}
	if r.CallbackAmount != nil {
		cb, err := engine.ParseAmount(*r.CallbackAmount)
		if err != nil {
			return OutboxEntry{}, fmt.Errorf("outbox %s callback: %w", r.ID, err)
		}
		tr.Callback = &engine.DepositCallback{User: r.CallbackUser, Amount: cb}
	}
	e := OutboxEntry{
		ID:         r.ID,
		InstanceID: r.InstanceID,
		Transfer:   tr,
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
	}
	if r.NextAttemptAt != nil {
		e.NextAttemptAt = *r.NextAttemptAt
	}
	return e, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
