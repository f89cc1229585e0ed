package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("escrow instance is shut down")

type Msg interface{ isEscrowMsg() }

// Submit applies Cmd and replies once the result is committed or rejected.
type Submit struct {
	Cmd   engine.Command
	Reply chan Result
}

func (Submit) isEscrowMsg() {}

type Subscribe struct {
	ClientID string
	Outbox   chan Update // buffered; receives the current state first, then every commit
}

func (Subscribe) isEscrowMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isEscrowMsg() {}

type Query struct {
	Reply chan View
}

func (Query) isEscrowMsg() {}

type Shutdown struct{}

func (Shutdown) isEscrowMsg() {}

type Result struct {
	Version int64
	Events  []engine.Event
	State   engine.State
	Err     error
}

// Update is pushed to subscribers. Events is empty for the initial snapshot.
type Update struct {
	Version int64
	Events  []engine.Event
	State   engine.State
}

type View struct {
	Version     int64
	Subscribers int
	State       engine.State
}

// Escrow owns one ledger instance. Its loop is the only writer, so commands against the
// instance are applied one at a time in arrival order.
type Escrow struct {
	id       uuid.UUID
	inbox    chan Msg
	state    engine.State
	version  int64
	subs     map[string]chan Update
	store    store.Store
	onCommit func()
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

type Options struct {
	Store store.Store
	Log   *zap.Logger
	// OnCommit runs after every commit that queued token transfers.
	OnCommit func()
}

func New(parent context.Context, inst store.Instance, opts Options) *Escrow {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	e := &Escrow{
		id:       inst.ID,
		inbox:    make(chan Msg, 64),
		state:    inst.State,
		version:  inst.Version,
		subs:     make(map[string]chan Update),
		store:    opts.Store,
		onCommit: opts.OnCommit,
		log:      log.Named("escrow").With(zap.String("instance", inst.ID.String())),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go e.loop()
	return e
}

func (e *Escrow) ID() uuid.UUID { return e.id }

func (e *Escrow) Inbox() chan<- Msg { return e.inbox }

// Done is closed when the loop has exited.
func (e *Escrow) Done() <-chan struct{} { return e.done }

func (e *Escrow) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			e.shutdown()
			return

		case m := <-e.inbox:
			switch msg := m.(type) {
			case Subscribe:
				e.subs[msg.ClientID] = msg.Outbox
				msg.Outbox <- Update{Version: e.version, State: e.state}

			case Unsubscribe:
				if ch, ok := e.subs[msg.ClientID]; ok {
					close(ch)
					delete(e.subs, msg.ClientID)
				}

			case Submit:
				res := e.apply(msg.Cmd)
				msg.Reply <- res
				if res.Err == nil {
					e.broadcast(Update{Version: res.Version, Events: res.Events, State: res.State})
				}

			case Query:
				msg.Reply <- View{
					Version:     e.version,
					Subscribers: len(e.subs),
					State:       e.state,
				}

			case Shutdown:
				e.shutdown()
				return
			}
		}
	}
}

// apply runs the command and adopts the new state only after the store accepted it.
// A version conflict means the stored instance moved on without us; reload once and retry.
func (e *Escrow) apply(cmd engine.Command) Result {
	res := e.tryApply(cmd)
	if !errors.Is(res.Err, store.ErrVersionConflict) {
		return res
	}

	e.log.Warn("version conflict, reloading", zap.Int64("version", e.version))
	inst, err := e.store.Load(e.ctx, e.id)
	if err != nil {
		return Result{Version: e.version, State: e.state, Err: fmt.Errorf("reload after conflict: %w", err)}
	}
	e.state, e.version = inst.State, inst.Version
	return e.tryApply(cmd)
}

func (e *Escrow) tryApply(cmd engine.Command) Result {
	events, next, err := engine.Apply(e.state, cmd)
	if err != nil {
		e.log.Debug("command rejected",
			zap.String("command", string(cmd.Type)),
			zap.String("sender", cmd.Sender),
			zap.Error(err))
		return Result{Version: e.version, State: e.state, Err: err}
	}

	err = e.store.Commit(e.ctx, store.Commit{
		InstanceID: e.id,
		Version:    e.version,
		Command:    cmd.Type,
		Sender:     cmd.Sender,
		State:      next,
		Events:     events,
	})
	if err != nil {
		e.log.Error("commit failed", zap.String("command", string(cmd.Type)), zap.Error(err))
		return Result{Version: e.version, State: e.state, Err: err}
	}

	e.state = next
	e.version++
	e.log.Info("command committed",
		zap.String("command", string(cmd.Type)),
		zap.String("sender", cmd.Sender),
		zap.Int64("version", e.version),
		zap.Int("events", len(events)))

	if e.onCommit != nil && len(engine.Transfers(events)) > 0 {
		e.onCommit()
	}
	return Result{Version: e.version, Events: events, State: e.state}
}

func (e *Escrow) shutdown() {
	for id, ch := range e.subs {
		close(ch) // no more updates
		delete(e.subs, id)
	}
	e.cancel()
}

func (e *Escrow) broadcast(u Update) {
	for id, ch := range e.subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber, drop it.
			close(ch)
			delete(e.subs, id)
		}
	}
}

// Do submits cmd and waits for the result or for ctx to end. A command whose wait was
// abandoned may still commit.
func (e *Escrow) Do(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	select {
	case e.inbox <- Submit{Cmd: cmd, Reply: reply}:
	case <-e.done:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-e.done:
		select {
		case res := <-reply:
			return res, res.Err
		default:
			return Result{}, ErrClosed
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Snapshot returns the committed state.
func (e *Escrow) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case e.inbox <- Query{Reply: reply}:
	case <-e.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return View{}, ErrClosed
		}
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}
