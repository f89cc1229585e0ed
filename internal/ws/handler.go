package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/auth"
	"github.com/DoyleJ11/duel-escrow-backend/internal/escrow"
	"github.com/DoyleJ11/duel-escrow-backend/internal/hub"
	"github.com/DoyleJ11/duel-escrow-backend/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const writeTimeout = 3 * time.Second

// Handler streams committed updates of one instance and accepts commands from the
// authenticated caller on the same connection.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "bad instance id", http.StatusBadRequest)
			return
		}
		sender, _ := auth.Caller(r.Context())

		e, err := h.Get(r.Context(), id)
		if err != nil {
			status, body := types.ToError(err)
			http.Error(w, body.Message, status)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan escrow.Update, 8)
		clientID := uuid.NewString()
		log := log.With(zap.String("instance", id.String()), zap.String("client", clientID), zap.String("sender", sender))

		select {
		case e.Inbox() <- escrow.Subscribe{ClientID: clientID, Outbox: out}:
		case <-e.Done():
			conn.Close(websocket.StatusGoingAway, "instance closed")
			return
		}
		defer func() {
			select {
			case e.Inbox() <- escrow.Unsubscribe{ClientID: clientID}:
			case <-e.Done():
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		go func() {
			defer cancel()
			first := true
			for u := range out {
				snap := types.ToSnapshot(u.Version, u.State)
				msgs := []types.ServerMessage{{Type: types.MsgSnapshot, Version: u.Version, State: &snap}}
				if !first {
					msgs = append([]types.ServerMessage{{
						Type:    types.MsgEvents,
						Version: u.Version,
						Events:  types.ToEvents(id, u.Version, u.Events),
					}}, msgs...)
				}
				first = false
				for _, m := range msgs {
					if err := write(ctx, conn, m); err != nil {
						return
					}
				}
			}
			// Outbox closed: dropped as slow, or the instance shut down.
			conn.Close(websocket.StatusGoingAway, "stream ended")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(ctx, conn, errorMessage("", err))
				continue
			}
			cmd, err := types.ToEngineCommand(sender, cm)
			if err != nil {
				_ = write(ctx, conn, errorMessage(cm.RequestID, err))
				continue
			}
			res, err := e.Do(ctx, cmd)
			if err != nil {
				_ = write(ctx, conn, errorMessage(cm.RequestID, err))
				continue
			}
			_ = write(ctx, conn, types.ServerMessage{Type: types.MsgAccepted, RequestID: cm.RequestID, Version: res.Version})
		}
	}
}

func errorMessage(requestID string, err error) types.ServerMessage {
	_, body := types.ToError(err)
	return types.ServerMessage{Type: types.MsgError, RequestID: requestID, Error: &body}
}

func write(ctx context.Context, conn *websocket.Conn, m types.ServerMessage) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}
