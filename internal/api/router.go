package api

import (
	"contest_engine/internal/api/handler"
	"contest_engine/internal/app/broadcast"
	"contest_engine/internal/app/service"
	"contest_engine/internal/common/security"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

func NewRouter(
	tokenAuth *security.TokenAuth,
	contestService *service.ContestService,
	leaderboardService *service.LeaderboardService,
	standingService *service.StandingService,
	hub *broadcast.Hub,
	webhookSecret string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Verifies a bearer token when present and puts claims in context. Routes
	// that require identity add the Authenticator middleware on top.
	r.Use(jwtauth.Verifier(tokenAuth.JWTAuth()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(v1 chi.Router) {
		contestHandler := handler.NewContestHandler(contestService)
		leaderboardHandler := handler.NewLeaderboardHandler(leaderboardService)
		streamHandler := handler.NewStreamHandler(contestService, hub)
		v1.Route("/contests", func(contests chi.Router) {
			contestHandler.RegisterRoutes(contests)
			leaderboardHandler.RegisterRoutes(contests)
			streamHandler.RegisterRoutes(contests)
		})

		// Judge callbacks carry a shared secret instead of a user token.
		judgeHandler := handler.NewJudgeHandler(standingService, webhookSecret)
		v1.Route("/webhook", judgeHandler.RegisterRoutes)
	})

	return r
}
