package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/escrow"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrShutdown = errors.New("hub is shut down")

type HubMsg interface{ isHubMsg() }

// CreateInstance instantiates a new ledger and starts its escrow.
type CreateInstance struct {
	Config engine.Config
	Reply  chan Reply
}

// GetInstance returns the live escrow for ID, restoring it from the store if needed.
type GetInstance struct {
	ID    uuid.UUID
	Reply chan Reply
}

type RemoveInstance struct {
	ID uuid.UUID
}

type ShutdownHub struct{}

type Reply struct {
	Escrow *escrow.Escrow
	Err    error
}

func (CreateInstance) isHubMsg() {}
func (GetInstance) isHubMsg()    {}
func (RemoveInstance) isHubMsg() {}
func (ShutdownHub) isHubMsg()    {}

type Hub struct {
	inbox     chan HubMsg
	instances map[uuid.UUID]*escrow.Escrow
	store     store.Store
	onCommit  func()
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

type Options struct {
	Store store.Store
	Log   *zap.Logger
	// OnCommit is handed to every escrow the hub starts.
	OnCommit func()
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		instances: make(map[uuid.UUID]*escrow.Escrow),
		store:     opts.Store,
		onCommit:  opts.OnCommit,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateInstance:
				msg.Reply <- h.create(msg.Config)

			case GetInstance:
				msg.Reply <- h.get(msg.ID)

			case RemoveInstance:
				if e := h.instances[msg.ID]; e != nil {
					stop(e)
					delete(h.instances, msg.ID)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(cfg engine.Config) Reply {
	state, events, err := engine.Instantiate(cfg)
	if err != nil {
		return Reply{Err: err}
	}
	id := uuid.New()
	if err := h.store.Create(h.ctx, id, state, events); err != nil {
		return Reply{Err: fmt.Errorf("persist instance: %w", err)}
	}
	h.log.Info("instance created",
		zap.String("instance", id.String()),
		zap.String("admin", cfg.Admin),
		zap.String("token", cfg.TokenAddress),
		zap.String("fee", cfg.Fee.Dec()))
	return Reply{Escrow: h.start(store.Instance{ID: id, State: state})}
}

func (h *Hub) get(id uuid.UUID) Reply {
	if e := h.instances[id]; e != nil {
		select {
		case <-e.Done():
			delete(h.instances, id)
		default:
			return Reply{Escrow: e}
		}
	}
	inst, err := h.store.Load(h.ctx, id)
	if err != nil {
		return Reply{Err: err}
	}
	h.log.Info("instance restored", zap.String("instance", id.String()), zap.Int64("version", inst.Version))
	return Reply{Escrow: h.start(inst)}
}

func (h *Hub) start(inst store.Instance) *escrow.Escrow {
	e := escrow.New(h.ctx, inst, escrow.Options{Store: h.store, Log: h.log, OnCommit: h.onCommit})
	h.instances[inst.ID] = e
	return e
}

func (h *Hub) shutdown() {
	for id, e := range h.instances {
		stop(e)
		delete(h.instances, id)
	}
	h.cancel()
}

func stop(e *escrow.Escrow) {
	select {
	case e.Inbox() <- escrow.Shutdown{}:
	case <-e.Done():
	}
}

func (h *Hub) request(ctx context.Context, msg HubMsg, reply chan Reply) (*escrow.Escrow, error) {
	select {
	case h.inbox <- msg:
	case <-h.done:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.Escrow, r.Err
	case <-h.done:
		select {
		case r := <-reply:
			return r.Escrow, r.Err
		default:
			return nil, ErrShutdown
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Create instantiates a ledger with cfg and returns its escrow.
func (h *Hub) Create(ctx context.Context, cfg engine.Config) (*escrow.Escrow, error) {
	reply := make(chan Reply, 1)
	return h.request(ctx, CreateInstance{Config: cfg, Reply: reply}, reply)
}

// Get returns the escrow for id. Unknown ids fail with store.ErrInstanceNotFound.
func (h *Hub) Get(ctx context.Context, id uuid.UUID) (*escrow.Escrow, error) {
	reply := make(chan Reply, 1)
	return h.request(ctx, GetInstance{ID: id, Reply: reply}, reply)
}
