package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/DoyleJ11/duel-escrow-backend/internal/auth"
	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/escrow"
	"github.com/DoyleJ11/duel-escrow-backend/internal/hub"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	"github.com/DoyleJ11/duel-escrow-backend/internal/types"
	pub "github.com/DoyleJ11/duel-escrow-backend/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

type Handlers struct {
	hub    *hub.Hub
	store  store.Store
	issuer *auth.Issuer
	log    *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := types.ToError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBadRequest, err)
	}
	return nil
}

func caller(r *http.Request) string {
	addr, _ := auth.Caller(r.Context())
	return addr
}

func (h *Handlers) instance(r *http.Request) (*escrow.Escrow, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, fmt.Errorf("%w: instance id: %v", types.ErrBadRequest, err)
	}
	return h.hub.Get(r.Context(), id)
}

// IssueToken mints a bearer token for the address in the body. Only the gateway holding the
// issuer key may call it.
func (h *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req pub.IssueTokenRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Address == "" {
		h.writeError(w, r, engine.ErrInvalidAddress)
		return
	}
	tok, expires, err := h.issuer.Mint(r.Header.Get("X-Issuer-Key"), req.Address)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("token issued", zap.String("address", req.Address), zap.Time("expires_at", expires))
	writeJSON(w, http.StatusOK, pub.TokenResponse{Token: tok, ExpiresAt: expires})
}

// CreateInstance deploys a new ledger. Admin defaults to the caller.
func (h *Handlers) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req pub.CreateInstanceRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Admin == "" {
		req.Admin = caller(r)
	}
	cfg, err := types.InstanceConfig(req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e, err := h.hub.Create(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := e.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.ToInstance(e.ID(), view.Version, view.State))
}

// builder turns a decoded request into a command for the authenticated sender.
type builder func(r *http.Request, sender string) (engine.Command, error)

func (h *Handlers) command(build builder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.instance(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		cmd, err := build(r, caller(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		res, err := e.Do(r.Context(), cmd)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pub.CommandResponse{
			Version: res.Version,
			Events:  types.ToEvents(e.ID(), res.Version, res.Events),
		})
	}
}

func decodeInto[Req any](conv func(string, Req) (engine.Command, error)) builder {
	return func(r *http.Request, sender string) (engine.Command, error) {
		var req Req
		if err := decode(r, &req); err != nil {
			return engine.Command{}, err
		}
		return conv(sender, req)
	}
}

func (h *Handlers) Deposit() http.HandlerFunc {
	return h.command(decodeInto(types.DepositCommand))
}

func (h *Handlers) Withdraw() http.HandlerFunc {
	return h.command(decodeInto(types.WithdrawCommand))
}

func (h *Handlers) Receive() http.HandlerFunc {
	return h.command(decodeInto(types.ReceiveCommand))
}

func (h *Handlers) CreateRoom() http.HandlerFunc {
	return h.command(decodeInto(types.CreateRoomCommand))
}

func (h *Handlers) FinishRoom() http.HandlerFunc {
	return h.command(func(r *http.Request, sender string) (engine.Command, error) {
		var req pub.FinishRoomRequest
		if err := decode(r, &req); err != nil {
			return engine.Command{}, err
		}
		return types.FinishRoomCommand(sender, chi.URLParam(r, "key"), req)
	})
}

func (h *Handlers) CollectFees() http.HandlerFunc {
	return h.command(decodeInto(types.CollectFeesCommand))
}

// query serves read-only requests from the escrow's committed state.
func (h *Handlers) query(read func(r *http.Request, v escrow.View) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.instance(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		view, err := e.Snapshot(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out, err := read(r, view)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handlers) GetInstance() http.HandlerFunc {
	return h.query(func(r *http.Request, v escrow.View) (any, error) {
		id, _ := uuid.Parse(chi.URLParam(r, "id"))
		return types.ToInstance(id, v.Version, v.State), nil
	})
}

func (h *Handlers) GetUserBalance() http.HandlerFunc {
	return h.query(func(r *http.Request, v escrow.View) (any, error) {
		user := chi.URLParam(r, "user")
		avail := v.State.UserBalance(user)
		return pub.BalanceResponse{User: user, Amount: avail.Dec()}, nil
	})
}

func (h *Handlers) GetUserLockedBalance() http.HandlerFunc {
	return h.query(func(r *http.Request, v escrow.View) (any, error) {
		user := chi.URLParam(r, "user")
		locked := v.State.UserLockedBalance(user)
		return pub.BalanceResponse{User: user, Amount: locked.Dec()}, nil
	})
}

func (h *Handlers) GetGameRoom() http.HandlerFunc {
	return h.query(func(r *http.Request, v escrow.View) (any, error) {
		key := chi.URLParam(r, "key")
		if _, _, err := engine.ParseRoomKey(key); err != nil {
			return nil, err
		}
		room, ok := v.State.GameRoom(key)
		if !ok {
			return nil, engine.ErrGameRoomNotFound
		}
		return types.ToRoom(key, room), nil
	})
}

// RoomKey derives the key for an ordered contestant pair without touching state.
func (h *Handlers) RoomKey(w http.ResponseWriter, r *http.Request) {
	c1, c2 := r.URL.Query().Get("contestant1"), r.URL.Query().Get("contestant2")
	if c1 == "" || c2 == "" {
		h.writeError(w, r, fmt.Errorf("%w: contestant1 and contestant2 are required", types.ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": engine.DeriveRoomKey(c1, c2)})
}

func (h *Handlers) GetTotalGames() http.HandlerFunc {
	return h.query(func(r *http.Request, v escrow.View) (any, error) {
		return pub.TotalGamesResponse{Total: v.State.TotalGames()}, nil
	})
}

func (h *Handlers) GetCollectedFees() http.HandlerFunc {
	return h.query(func(r *http.Request, v escrow.View) (any, error) {
		return types.ToFees(v.State), nil
	})
}

// GetEvents pages through the journal: ?after=<version>&limit=<n>.
func (h *Handlers) GetEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: instance id: %v", types.ErrBadRequest, err))
		return
	}
	after, err := intParam(r, "after", -1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	recs, err := h.store.Events(r.Context(), id, int64(after), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pub.EventsResponse{Events: types.ToRecords(id, recs)})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", types.ErrBadRequest, name, err)
	}
	return n, nil
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

var errNotFound = errors.New("route not found")

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, pub.ErrorResponse{Error: "not_found", Message: errNotFound.Error()})
}
