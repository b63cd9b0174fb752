package routes

import (
	"github.com/bracketforge/tournament-engine/handlers"
	"github.com/bracketforge/tournament-engine/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Tournament  *handlers.TournamentHandler
	Participant *handlers.ParticipantHandler
	Match       *handlers.MatchHandler
	WebSocket   *handlers.WebSocketHandler
}

func InitRoutes(h Handlers, jwtSecret string) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticator(jwtSecret)

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws/tournaments/{tournamentID}", h.WebSocket.ServeWs)

	router.Route("/tournaments", func(r chi.Router) {
		// Public read access
		r.Get("/", h.Tournament.List)
		r.Get("/{tournamentID}", h.Tournament.Get)
		r.Get("/{tournamentID}/bracket", h.Tournament.GetBracket)
		r.Get("/{tournamentID}/standings", h.Tournament.GetStandings)
		r.Get("/{tournamentID}/participants", h.Participant.List)
		r.Get("/{tournamentID}/matches", h.Match.ListByTournament)

		// Authenticated operations
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/", h.Tournament.Create)
			r.Post("/{tournamentID}/open-registration", h.Tournament.OpenRegistration)
			r.Post("/{tournamentID}/start", h.Tournament.Start)
			r.Post("/{tournamentID}/cancel", h.Tournament.Cancel)
			r.Post("/{tournamentID}/advance", h.Tournament.Advance)
			r.Post("/{tournamentID}/archive", h.Tournament.Archive)

			r.Post("/{tournamentID}/participants", h.Participant.Register)
			r.Delete("/{tournamentID}/participants/{participantID}", h.Participant.Withdraw)
		})
	})

	router.Route("/matches", func(r chi.Router) {
		r.Get("/{matchID}", h.Match.Get)
		r.Get("/{matchID}/results", h.Match.ListResults)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/{matchID}/results", h.Match.ReportResult)
			r.Post("/{matchID}/confirm", h.Match.ConfirmResult)
			r.Post("/{matchID}/void", h.Match.Void)
			r.Post("/{matchID}/session", h.Match.BindSession)
		})
	})

	return router
}
