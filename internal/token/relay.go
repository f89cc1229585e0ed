package token

import (
	"context"
	"fmt"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type RelayConfig struct {
	Interval    time.Duration
	Batch       int
	// MaxAttempts bounds deliveries per entry; the last failure parks it.
	MaxAttempts int
	// Backoff is the wait after the first failure, doubled per attempt up to MaxBackoff.
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Relay delivers committed outbox entries to the token collaborator. Delivery is at least
// once; the outbox id doubles as the idempotency key. Entries that fail MaxAttempts times are
// parked and logged instead of retried.
type Relay struct {
	store  store.Store
	client Client
	cfg    RelayConfig
	log    *zap.Logger
	nudge  chan struct{}
}

func NewRelay(st store.Store, client Client, cfg RelayConfig, log *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = cfg.Interval
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(5*time.Minute, cfg.Backoff)
	}
	return &Relay{
		store:  st,
		client: client,
		cfg:    cfg,
		log:    log.Named("relay"),
		nudge:  make(chan struct{}, 1),
	}
}

// Nudge asks for a delivery pass before the next tick. It never blocks.
func (r *Relay) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run delivers on every tick and nudge until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("starting relay", zap.Duration("interval", r.cfg.Interval), zap.Int("batch", r.cfg.Batch))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.nudge:
		}
		if err := r.Flush(ctx); err != nil {
			r.log.Warn("delivery pass incomplete", zap.Error(err))
		}
	}
}

// Flush makes one delivery pass over up to Batch pending entries.
func (r *Relay) Flush(ctx context.Context) error {
	pending, err := r.store.PendingTransfers(ctx, r.cfg.Batch)
	if err != nil {
		return err
	}

	var errs error
	for _, p := range pending {
		sendErr := r.client.Send(ctx, Request{Key: p.ID, InstanceID: p.InstanceID, Transfer: p.Transfer})
		if sendErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("deliver %s: %w", p.ID, sendErr))
			wait, stop := r.retryAfter(p.Attempts + 1)
			if stop {
				r.log.Error("transfer parked",
					zap.String("id", p.ID.String()),
					zap.String("instance", p.InstanceID.String()),
					zap.Int("attempts", p.Attempts+1),
					zap.Error(sendErr))
				errs = multierr.Append(errs, r.store.Park(ctx, p.ID, sendErr))
				continue
			}
			errs = multierr.Append(errs, r.store.MarkFailed(ctx, p.ID, sendErr, time.Now().Add(wait)))
			continue
		}
		errs = multierr.Append(errs, r.store.MarkSent(ctx, p.ID))
		r.log.Debug("transfer delivered",
			zap.String("id", p.ID.String()),
			zap.String("instance", p.InstanceID.String()),
			zap.String("kind", string(p.Transfer.Kind)),
			zap.Int("attempt", p.Attempts+1))
	}
	return errs
}

// retryAfter returns the wait after failed attempt n (1-based), or stop once n reaches
// MaxAttempts.
func (r *Relay) retryAfter(n int) (time.Duration, bool) {
	b := retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1),
		retry.WithCappedDuration(r.cfg.MaxBackoff, retry.NewExponential(r.cfg.Backoff)))
	var wait time.Duration
	for i := 0; i < n; i++ {
		var stop bool
		if wait, stop = b.Next(); stop {
			return 0, true
		}
	}
	return wait, false
}
