// Package server provides the HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cityfam/cityfam/internal/analytics"
	"github.com/cityfam/cityfam/internal/attendance"
	"github.com/cityfam/cityfam/internal/auth"
	"github.com/cityfam/cityfam/internal/business"
	"github.com/cityfam/cityfam/internal/chat"
	"github.com/cityfam/cityfam/internal/community"
	"github.com/cityfam/cityfam/internal/content"
	"github.com/cityfam/cityfam/internal/feeds"
	"github.com/cityfam/cityfam/internal/metrics"
	"github.com/cityfam/cityfam/internal/payments"
	"github.com/cityfam/cityfam/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Options tunes the HTTP layer.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	// UploadsPath is where stored uploads are served; empty disables serving.
	UploadsPath    string
	UploadsHandler http.Handler
}

// Deps are the services behind the API.
type Deps struct {
	Content    *content.Service
	Community  *community.Service
	Attendance *attendance.Service
	Business   *business.Service
	Payments   payments.Provider
	Chat       *chat.Service
	Feeds      *feeds.Fetcher
	Analytics  *analytics.Recorder
	Uploads    storage.Store
	Verifier   *auth.Verifier
	Log        logrus.FieldLogger
}

// Server is the main HTTP server.
type Server struct {
	content    *content.Service
	community  *community.Service
	attendance *attendance.Service
	business   *business.Service
	payments   payments.Provider
	chat       *chat.Service
	feeds      *feeds.Fetcher
	analytics  *analytics.Recorder
	uploads    storage.Store
	verifier   *auth.Verifier
	log        logrus.FieldLogger
	limiter    *rateLimiter
	router     chi.Router
}

// New creates a new server.
func New(deps Deps, opts Options) *Server {
	s := &Server{
		content:    deps.Content,
		community:  deps.Community,
		attendance: deps.Attendance,
		business:   deps.Business,
		payments:   deps.Payments,
		chat:       deps.Chat,
		feeds:      deps.Feeds,
		analytics:  deps.Analytics,
		uploads:    deps.Uploads,
		verifier:   deps.Verifier,
		log:        deps.Log,
		limiter:    newRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, deps.Log),
	}
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	if opts.UploadsPath != "" && opts.UploadsHandler != nil {
		r.Handle(opts.UploadsPath+"/*", http.StripPrefix(opts.UploadsPath+"/", opts.UploadsHandler))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.verifier.Middleware)
		r.Use(s.limiter.Handler)

		// Public reads.
		r.Get("/branches", s.handleListBranches)
		r.Get("/branches/{id}", s.handleGetBranch)
		r.Get("/branches/{id}/stats", s.handleBranchStats)
		r.Get("/branches/{id}/events/latest", s.handleLatestEvents)
		r.Get("/branches/{id}/events", s.handleAllEvents)
		r.Get("/branches/{id}/events/trending", s.handleTrendingEvents)
		r.Get("/branches/{id}/jobs/latest", s.handleLatestJobs)
		r.Get("/branches/{id}/jobs", s.handleAllJobs)
		r.Get("/branches/{id}/businesses", s.handleBranchBusinesses)
		r.Get("/branches/{id}/posts", s.handleBranchPosts)
		r.Get("/search/events", s.handleSearchEvents)
		r.Get("/search/jobs", s.handleSearchJobs)
		r.Get("/search/businesses", s.handleSearchBusinesses)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/businesses/{id}", s.handleGetBusiness)

		// Signed by the payment provider rather than a user token.
		r.Post("/stripe/webhook", s.handleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.Require)
			r.Use(s.loadUser)

			r.Get("/me", s.handleMe)
			r.Put("/me/home-branch", s.handleSetHomeBranch)
			r.Put("/me/selected-branch", s.handleSelectBranch)

			r.Post("/events", s.handleCreateEvent)
			r.Patch("/events/{id}", s.handleUpdateEvent)
			r.Delete("/events/{id}", s.handleDeleteEvent)
			r.Post("/events/{id}/attend", s.handleToggleAttendance)
			r.Post("/events/{id}/checkin", s.handleCheckIn)
			r.Post("/jobs", s.handleCreateJob)
			r.Delete("/jobs/{id}", s.handleDeleteJob)
			r.Post("/posts", s.handleCreatePost)
			r.Delete("/posts/{id}", s.handleDeletePost)

			r.Post("/checkout", s.handleCheckout)
			r.Post("/create-business", s.handleCreateBusiness)
			r.Post("/subscription/cancel", s.handleCancelSubscription)

			r.Get("/conversations", s.handleListConversations)
			r.Post("/conversations", s.handleStartConversation)
			r.Get("/conversations/{id}/messages", s.handleListMessages)
			r.Post("/conversations/{id}/messages", s.handleSendMessage)
			r.Get("/conversations/{id}/stream", s.handleConversationStream)

			r.Post("/uploads", s.handleUpload)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/branches", s.handleCreateBranch)
				r.Delete("/events/{id}/attendees/{uid}", s.handleRemoveAttendee)
				r.Get("/branches/{id}/feeds", s.handleListFeeds)
				r.Post("/branches/{id}/feeds", s.handleAddFeed)
				r.Delete("/feeds/{feedID}", s.handleDeleteFeed)
				r.Post("/feeds/import-opml", s.handleImportOPML)
				r.Get("/feeds/export-opml", s.handleExportOPML)
				r.Post("/feeds/refresh", s.handleRefreshFeeds)
			})
		})
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	limCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.limiter.run(limCtx)

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("server starting")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
