package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	apimw "github.com/hamed0406/statuspage/internal/httpapi/middleware"
	"github.com/hamed0406/statuspage/internal/repo"
	"github.com/hamed0406/statuspage/internal/scheduler"
	"github.com/hamed0406/statuspage/internal/status"
)

// Dispatcher triggers an ad-hoc probe run. *scheduler.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cutoff, timeout time.Duration) (scheduler.Report, error)
}

type Options struct {
	Keys           apimw.Keys
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	StaleCutoff    time.Duration
	ProbeTimeout   time.Duration
	PageSize       int
}

type Server struct {
	Logger     *zap.Logger
	Domains    repo.DomainStore
	Checks     repo.CheckStore
	Results    repo.ResultStore
	Status     *status.Aggregator
	Dispatcher Dispatcher
	Opts       Options

	now func() time.Time
}

func NewServer(l *zap.Logger, domains repo.DomainStore, checks repo.CheckStore, results repo.ResultStore,
	agg *status.Aggregator, d Dispatcher, opts Options) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Server{
		Logger:     l,
		Domains:    domains,
		Checks:     checks,
		Results:    results,
		Status:     agg,
		Dispatcher: d,
		Opts:       opts,
		now:        time.Now,
	}
}

func (s *Server) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.RequestLogger(s.Logger))
	r.Use(chimw.Recoverer)
	if len(s.Opts.AllowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.Opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	keys := s.Opts.Keys
	r.Route("/api", func(r chi.Router) {
		// public reads
		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(s.Opts.PublicRPM, s.Opts.PublicBurst))
			r.Use(apimw.RequireAny(keys))
			r.Get("/status/{domain}", s.handlePublicStatus)
			r.Get("/checks/{id}/timeline", s.handleTimeline)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(s.Opts.AdminRPM, s.Opts.AdminBurst))
			r.Use(apimw.RequireOwner(keys))
			r.Get("/status", s.handleStatusList)
			r.Post("/domains", s.handleCreateDomain)
			r.Get("/domains/{domain}", s.handleGetDomain)
			r.Put("/domains/{domain}/checks", s.handleSaveChecks)
			r.Delete("/domains/{domain}", s.handleDeleteDomain)
		})

		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(s.Opts.AdminRPM, s.Opts.AdminBurst))
			r.Use(apimw.RequireAdmin(keys))
			r.Post("/dispatch", s.handleDispatch)
		})
	})

	return r
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch disabled")
		return
	}
	rep, err := s.Dispatcher.Dispatch(r.Context(), s.Opts.StaleCutoff, s.Opts.ProbeTimeout)
	if err != nil {
		// Partial failures still produce a report.
		s.Logger.Warn("dispatch_partial_failure", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// fail maps storage errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrNoActiveCheck):
		writeError(w, http.StatusBadRequest, repo.ErrNoActiveCheck.Error())
	default:
		s.Logger.Error("api_error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func principal(r *http.Request) apimw.Principal {
	p, _ := apimw.PrincipalFrom(r.Context())
	return p
}
