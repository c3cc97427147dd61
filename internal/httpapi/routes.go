package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/raidhall/internal/ws"
)

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)

	r.Get("/raids", s.ListRaids)
	r.Get("/raids/{raidId}", s.GetRaid)
	r.Get("/raids/location/{location}", s.RaidsAtLocation)
	r.Get("/buffs", s.ListBuffs)

	r.Route("/lobby", func(r chi.Router) {
		r.Post("/create", s.CreateLobby)
		r.Post("/join", s.JoinLobby)
		r.Post("/leave", s.LeaveLobby)
		r.Post("/change-role", s.ChangeRole)
		r.Post("/disband", s.DisbandLobby)
		r.Get("/{lobbyId}", s.GetLobby)
		r.Get("/{lobbyId}/qr", s.LobbyQR)
	})

	r.Post("/start", s.StartRaid)
	r.Get("/instance/{instanceId}", s.GetInstance)
	r.Post("/action", s.PerformAction)
	r.Post("/actions", s.PerformActions)
	r.Post("/abandon", s.Abandon)

	r.Post("/viewer/vote", s.ViewerVote)
	r.Post("/vote/open", s.OpenVote)
	r.Post("/vote/resolve", s.ResolveVote)
	r.Post("/buff/purchase", s.PurchaseBuff)

	r.Get("/leaderboard/{raidId}", s.Leaderboard)

	r.Get("/ws", ws.Handler(s.hub, s.log))
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
