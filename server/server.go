package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"itembay/auth"
	"itembay/market"
	mktmw "itembay/middleware"
	"itembay/models"
	"itembay/observability"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB          *gorm.DB
	Auth        *auth.Authenticator
	Engine      *market.Engine
	Obs         *observability.Observability
	RateLimiter *mktmw.RateLimiter
	Logger      *slog.Logger
	Now         func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db     *gorm.DB
	auth   *auth.Authenticator
	engine *market.Engine
	obs    *observability.Observability
	logger *slog.Logger
	now    func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with authentication, rate limiting,
// and idempotency support.
func New(cfg Config) *Server {
	srv := &Server{
		db:     cfg.DB,
		auth:   cfg.Auth,
		engine: cfg.Engine,
		obs:    cfg.Obs,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if srv.engine == nil {
		srv.engine = market.NewEngine(cfg.DB)
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = time.Now
	}
	srv.router = srv.buildRouter(cfg.RateLimiter)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(limiter *mktmw.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.obs != nil {
		r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.With(s.instrument("auth.register")).Post("/register", s.Register)
			public.With(s.instrument("auth.login")).Post("/login", s.Login)
			public.With(s.instrument("listings.list")).Get("/listings", s.ListListings)
			public.With(s.instrument("listings.get")).Get("/listings/{id}", s.GetListing)
			public.With(s.instrument("reviews.list")).Get("/users/{id}/reviews", s.ListUserReviews)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(func(next http.Handler) http.Handler { return mktmw.WithIdempotency(s.db, next) })

			protected.With(s.instrument("users.me")).Get("/me", s.GetProfile)
			protected.With(s.instrument("users.update")).Put("/me", s.UpdateProfile)
			protected.With(s.instrument("users.become_seller")).Post("/me/become-seller", s.BecomeSeller)

			protected.With(s.instrument("listings.create"), auth.RequireRole(models.RoleSeller, models.RoleAdmin)).Post("/listings", s.CreateListing)
			protected.With(s.instrument("listings.update")).Patch("/listings/{id}", s.UpdateListing)
			protected.With(s.instrument("listings.delete")).Delete("/listings/{id}", s.DeleteListing)

			protected.With(s.instrument("transactions.create")).Post("/transactions", s.CreateTransaction)
			protected.With(s.instrument("transactions.list")).Get("/transactions", s.ListTransactions)
			protected.With(s.instrument("transactions.get")).Get("/transactions/{id}", s.GetTransaction)
			protected.With(s.instrument("transactions.update")).Patch("/transactions/{id}", s.UpdateTransaction)

			protected.With(s.instrument("reviews.create")).Post("/reviews", s.CreateReview)

			protected.With(s.instrument("chat.get")).Get("/transactions/{id}/chat", s.GetChat)
			protected.With(s.instrument("chat.post")).Post("/transactions/{id}/chat/messages", s.PostMessage)
			protected.With(s.instrument("chat.stream")).Get("/transactions/{id}/chat/ws", s.StreamChat)
		})
	})

	return r
}

func (s *Server) instrument(route string) func(http.Handler) http.Handler {
	if s.obs == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.obs.Middleware(route)
}

// actorFrom resolves the authenticated actor for core operations.
func actorFrom(r *http.Request) (market.Actor, error) {
	claims, err := auth.FromContext(r.Context())
	if err != nil {
		return market.Actor{}, market.Unauthorized("missing identity")
	}
	return market.Actor{ID: claims.Subject, Role: claims.Role}, nil
}
