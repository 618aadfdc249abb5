package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro-ai/velro/internal/api/handlers"
	"github.com/velro-ai/velro/internal/api/middleware"
	"github.com/velro-ai/velro/internal/audit"
	"github.com/velro-ai/velro/internal/auth"
	"github.com/velro-ai/velro/internal/authz"
	"github.com/velro-ai/velro/internal/cache"
	"github.com/velro-ai/velro/internal/config"
	"github.com/velro-ai/velro/internal/credit"
	"github.com/velro-ai/velro/internal/generation"
	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/models"
	"github.com/velro-ai/velro/internal/project"
	"github.com/velro-ai/velro/internal/ratelimit"
	"github.com/velro-ai/velro/internal/team"
	"github.com/velro-ai/velro/internal/user"
	"github.com/velro-ai/velro/internal/webhook"
)

// Deps carries everything the router mounts. Services are constructed once
// in main and handed over; the router only wires them to paths.
type Deps struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	Redis   *cache.Cache
	Metrics *metrics.Metrics

	Auth      *auth.Middleware
	RateLimit *ratelimit.Middleware

	AuthClient  handlers.AuthClient
	Users       *user.Service
	Credits     *credit.Service
	Projects    *project.Service
	Generations *generation.Service
	Teams       *team.Service
	Webhooks    *webhook.Service
	Authz       *authz.Service
	Audits      audit.Store
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.Config.CORS.Origins))
	r.Use(middleware.Metrics(d.Metrics))

	// Operational surface, no auth.
	health := handlers.NewHealthHandler(d.DB, d.Redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	authH := handlers.NewAuthHandler(d.AuthClient, d.Users)
	usersH := handlers.NewUsersHandler(d.Users, d.Credits)
	projectsH := handlers.NewProjectsHandler(d.Projects, d.Authz)
	generationsH := handlers.NewGenerationsHandler(d.Generations, d.Authz)
	teamsH := handlers.NewTeamsHandler(d.Teams)
	webhooksH := handlers.NewWebhooksHandler(d.Webhooks)
	adminH := handlers.NewAdminHandler(d.Audits, d.Generations)

	r.Route("/api/v1", func(r chi.Router) {
		// Token issuance: the one corner where callers have no token yet,
		// so the limiter keys these by client IP.
		r.Group(func(r chi.Router) {
			r.Use(d.RateLimit.Handler)
			r.Post("/auth/register", authH.Register)
			r.Post("/auth/login", authH.Login)
			r.Post("/auth/refresh", authH.Refresh)
		})

		r.Group(func(r chi.Router) {
			// The limiter sits behind Authenticate so it sees the identity
			// and budgets per user, not per IP.
			r.Use(d.Auth.Authenticate)
			r.Use(d.RateLimit.Handler)

			r.Post("/auth/logout", authH.Logout)

			r.Get("/users/me", usersH.Me)
			r.Put("/users/me", usersH.UpdateMe)
			r.Get("/users/me/credits", usersH.Credits)
			r.Get("/users/me/credits/transactions", usersH.CreditTransactions)

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", projectsH.Create)
				r.Get("/", projectsH.List)
				r.Get("/{id}", projectsH.Get)
				r.Put("/{id}", projectsH.Update)
				r.Delete("/{id}", projectsH.Delete)
			})

			r.Route("/generations", func(r chi.Router) {
				r.Post("/", generationsH.Create)
				r.Get("/", generationsH.List)
				r.Get("/models", generationsH.Models)
				r.Get("/search", generationsH.Search)
				r.Get("/{id}", generationsH.Get)
				r.Delete("/{id}", generationsH.Delete)
				r.Post("/{id}/authorize", generationsH.Authorize)
			})

			r.Route("/teams", func(r chi.Router) {
				r.Post("/", teamsH.Create)
				r.Get("/", teamsH.List)
				r.Post("/invites/{token}/accept", teamsH.AcceptInvite)
				r.Get("/{id}", teamsH.Get)
				r.Get("/{id}/members", teamsH.Members)
				r.Post("/{id}/invite", teamsH.Invite)
				r.Put("/{id}/members/{userID}", teamsH.UpdateMemberRole)
				r.Delete("/{id}/members/{userID}", teamsH.RemoveMember)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", webhooksH.Create)
				r.Get("/", webhooksH.List)
				r.Delete("/{id}", webhooksH.Delete)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin, models.RoleOwner))
				r.Get("/audit", adminH.Audit)
				r.Get("/usage", adminH.Usage)
			})
		})
	})

	return r
}
