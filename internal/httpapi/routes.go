package httpapi

import (
	"net/http"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/auth"
	"github.com/DoyleJ11/duel-escrow-backend/internal/hub"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	"github.com/DoyleJ11/duel-escrow-backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// SetupRoutes builds the router. A nil issuer leaves /auth/token unmounted.
func SetupRoutes(h *hub.Hub, st store.Store, v *auth.Verifier, iss *auth.Issuer, log *zap.Logger) http.Handler {
	hd := &Handlers{hub: h, store: st, issuer: iss, log: log.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(hd.log))
	r.Use(middleware.Recoverer)
	r.NotFound(hd.NotFound)

	authed := v.Middleware(hd.writeError)

	r.Get("/healthz", Healthz)
	r.Get("/room-key", hd.RoomKey)
	if iss != nil {
		r.Post("/auth/token", hd.IssueToken)
	}
	r.With(authed).Post("/instances", hd.CreateInstance)

	r.Route("/instances/{id}", func(r chi.Router) {
		// Public queries
		r.Get("/", hd.GetInstance())
		r.Get("/balances/{user}", hd.GetUserBalance())
		r.Get("/balances/{user}/locked", hd.GetUserLockedBalance())
		r.Get("/rooms/{key}", hd.GetGameRoom())
		r.Get("/games/total", hd.GetTotalGames())
		r.Get("/fees", hd.GetCollectedFees())
		r.Get("/events", hd.GetEvents)

		// Commands; the caller's address is the token subject.
		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Post("/deposit", hd.Deposit())
			r.Post("/receive", hd.Receive())
			r.Post("/withdraw", hd.Withdraw())
			r.Post("/rooms", hd.CreateRoom())
			r.Post("/rooms/{key}/finish", hd.FinishRoom())
			r.Post("/fees/collect", hd.CollectFees())
			r.Get("/ws", ws.Handler(h, log))
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
