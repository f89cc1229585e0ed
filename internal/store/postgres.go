package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres persists instances with gorm. Each Commit is one transaction.
type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenPostgres connects, runs migrations and returns a ready store.
func OpenPostgres(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(sqlDB); err != nil {
		return nil, err
	}
	log.Info("postgres store ready")
	return &Postgres{db: db, log: log}, nil
}

func (p *Postgres) Create(ctx context.Context, id uuid.UUID, state engine.State, events []engine.Event) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toInstanceRow(id, 0, state)
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("create instance %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("create %s: %w", id, ErrInstanceExists)
		}
		if err := writeBalances(tx, id, state, mapKeys(state.Balances)); err != nil {
			return err
		}
		return writeEvents(tx, id, 0, InstantiateCommand, state.Config.Admin, events)
	})
}

func (p *Postgres) Load(ctx context.Context, id uuid.UUID) (Instance, error) {
	db := p.db.WithContext(ctx)

	var inst instanceRow
	if err := db.First(&inst, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Instance{}, fmt.Errorf("load %s: %w", id, ErrInstanceNotFound)
		}
		return Instance{}, fmt.Errorf("load %s: %w", id, err)
	}
	state, err := inst.state()
	if err != nil {
		return Instance{}, err
	}

	var balances []balanceRow
	if err := db.Where("instance_id = ?", id).Find(&balances).Error; err != nil {
		return Instance{}, fmt.Errorf("load balances %s: %w", id, err)
	}
	for _, b := range balances {
		if state.Balances[b.UserAddr], err = b.balance(); err != nil {
			return Instance{}, err
		}
	}

	var rooms []roomRow
	if err := db.Where("instance_id = ?", id).Find(&rooms).Error; err != nil {
		return Instance{}, fmt.Errorf("load rooms %s: %w", id, err)
	}
	for _, r := range rooms {
		if state.Rooms[r.RoomKey], err = r.room(); err != nil {
			return Instance{}, err
		}
	}
	return Instance{ID: id, Version: inst.Version, State: state}, nil
}

// Commit writes the instance counters, the balances and rooms the events touched, the
// journal and the outbox. The version check fails the whole transaction if another writer
// got there first.
func (p *Postgres) Commit(ctx context.Context, c Commit) error {
	next := c.Version + 1
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toInstanceRow(c.InstanceID, next, c.State)
		res := tx.Model(&instanceRow{}).
			Where("id = ? AND version = ?", c.InstanceID, c.Version).
			Updates(map[string]any{
				"room_count":     row.RoomCount,
				"fees_accrued":   row.FeesAccrued,
				"fees_collected": row.FeesCollected,
				"version":        next,
			})
		if res.Error != nil {
			return fmt.Errorf("commit %s: %w", c.InstanceID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("commit %s at version %d: %w", c.InstanceID, c.Version, ErrVersionConflict)
		}

		if err := writeBalances(tx, c.InstanceID, c.State, engine.TouchedUsers(c.Events)); err != nil {
			return err
		}
		for _, key := range engine.TouchedRooms(c.Events) {
			room, ok := c.State.GameRoom(key)
			if !ok {
				continue
			}
			rr := toRoomRow(c.InstanceID, key, room)
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rr).Error; err != nil {
				return fmt.Errorf("write room %s: %w", key, err)
			}
		}
		if err := writeEvents(tx, c.InstanceID, next, c.Command, c.Sender, c.Events); err != nil {
			return err
		}

		transfers := engine.Transfers(c.Events)
		if len(transfers) == 0 {
			return nil
		}
		rows := make([]outboxRow, 0, len(transfers))
		for _, tr := range transfers {
			rows = append(rows, toOutboxRow(c.InstanceID, tr))
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("write outbox: %w", err)
		}
		return nil
	})
}

func writeBalances(tx *gorm.DB, id uuid.UUID, state engine.State, users []string) error {
	if len(users) == 0 {
		return nil
	}
	rows := make([]balanceRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, toBalanceRow(id, u, state.Balance(u)))
	}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("write balances: %w", err)
	}
	return nil
}

func writeEvents(tx *gorm.DB, id uuid.UUID, version int64, cmd engine.CommandType, sender string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for i, e := range events {
		rows = append(rows, toEventRow(id, version, i, cmd, sender, e))
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

func (p *Postgres) Events(ctx context.Context, id uuid.UUID, afterVersion int64, limit int) ([]Record, error) {
	db := p.db.WithContext(ctx)

	var n int64
	if err := db.Model(&instanceRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return nil, fmt.Errorf("events %s: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("events %s: %w", id, ErrInstanceNotFound)
	}

	q := db.Where("instance_id = ? AND version > ?", id, afterVersion).Order("version, idx")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []eventRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("events %s: %w", id, err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *Postgres) PendingTransfers(ctx context.Context, limit int) ([]OutboxEntry, error) {
	q := p.db.WithContext(ctx).
		Where("sent_at IS NULL AND parked_at IS NULL").
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", time.Now().UTC()).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []outboxRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("pending transfers: %w", err)
	}
	out := make([]OutboxEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Postgres) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return p.updateOutbox(ctx, id, map[string]any{
		"sent_at":  now,
		"attempts": gorm.Expr("attempts + 1"),
	})
}

func (p *Postgres) MarkFailed(ctx context.Context, id uuid.UUID, cause error, retryAt time.Time) error {
	return p.updateOutbox(ctx, id, map[string]any{
		"last_error":      errText(cause),
		"attempts":        gorm.Expr("attempts + 1"),
		"next_attempt_at": retryAt.UTC(),
	})
}

func (p *Postgres) Park(ctx context.Context, id uuid.UUID, cause error) error {
	return p.updateOutbox(ctx, id, map[string]any{
		"last_error": errText(cause),
		"attempts":   gorm.Expr("attempts + 1"),
		"parked_at":  time.Now().UTC(),
	})
}

func (p *Postgres) updateOutbox(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := p.db.WithContext(ctx).Model(&outboxRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update outbox %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox entry %s not found", id)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
