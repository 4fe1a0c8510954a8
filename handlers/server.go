package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/atomic"

	"wavecrate.app/server/delivery"
	"wavecrate.app/server/internal/ratelimit"
	"wavecrate.app/server/ledger"
	"wavecrate.app/server/storage"
)

type Server struct {
	Router   chi.Router
	Storage  storage.Storage
	Ledger   *ledger.Service
	Streamer *delivery.Streamer

	version    string
	sessionTTL time.Duration

	purchases atomic.Int64
	grants    atomic.Int64
}

type Options struct {
	Version        string
	SessionTTL     time.Duration
	AllowedOrigins []string
	RateLimit      *ratelimit.FixedWindowLimiter
}

func NewServer(db storage.Storage, streamer *delivery.Streamer, opts Options) *Server {
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		Storage:    db,
		Ledger:     ledger.NewService(db),
		Streamer:   streamer,
		version:    opts.Version,
		sessionTTL: opts.SessionTTL,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.Health)

		r.Post("/auth/register", s.Register)
		r.Post("/auth/login", s.Login)

		r.Get("/packs", s.ListPacks)
		r.Get("/packs/{id}", s.GetPack)
		r.Get("/samples/{id}/preview", s.PreviewSample)

		r.Group(func(r chi.Router) {
			r.Use(s.withUser)

			r.Post("/auth/logout", s.Logout)
			r.Get("/me", s.Me)
			r.Get("/library", s.Library)

			r.Group(func(r chi.Router) {
				if opts.RateLimit != nil {
					r.Use(opts.RateLimit.Middleware)
				}
				r.Post("/samples/{id}/purchase", s.PurchaseSample)
				r.Get("/samples/{id}/download", s.DownloadSample)
				r.Post("/packs/{id}/purchase", s.PurchasePack)
				r.Get("/packs/{id}/download", s.DownloadPack)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/admin/grants", s.GrantCredits)
				r.Get("/admin/grants", s.ListGrants)
				r.Get("/admin/users", s.ListUsers)
			})
		})
	})

	s.Router = r
	return s
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	Purchases      int64 `json:"purchases"`
	GrantsIssued   int64 `json:"grants_issued"`
	ArchivesBuilt  int64 `json:"archives_built"`
	BytesDelivered int64 `json:"bytes_delivered"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	archives, bytes := s.Streamer.Stats()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Version:        s.version,
		Timestamp:      time.Now().UTC(),
		Purchases:      s.purchases.Load(),
		GrantsIssued:   s.grants.Load(),
		ArchivesBuilt:  archives,
		BytesDelivered: bytes,
	})
}
