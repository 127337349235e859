package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"caixa/internal/core"
	"caixa/internal/log"
	"caixa/internal/middleware/trace"
	"caixa/internal/services"
)

// Projector runs one projection for the month containing now.
type Projector interface {
	Run(ctx context.Context, now time.Time) (services.Report, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	projector Projector
	pinger    Pinger
	location  *time.Location
	now       func() time.Time
}

// NewServer configures routes and returns a ready-to-run http.Server.
func NewServer(addr string, projector Projector, pinger Pinger, location *time.Location, logger *log.Logger) *Server {
	if location == nil {
		location = time.UTC
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           trace.NewMiddleware(logger).Middleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		projector: projector,
		pinger:    pinger,
		location:  location,
		now:       time.Now,
	}

	mux.HandleFunc("POST /recurring/run", s.handleRun)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	return s
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := core.ParseDate(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, services.RunResult{Error: "invalid date: expected YYYY-MM-DD"})
			return
		}
		// noon keeps the date stable when converted to the configured zone
		now = time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, s.location)
	}

	// A client disconnect must not abort a run halfway
	ctx := context.WithoutCancel(r.Context())
	report, err := s.projector.Run(ctx, now)
	if err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Recurring run failed",
			log.FieldTrigger, log.TriggerHTTP,
			log.FieldError, err)
	}

	writeJSON(w, runStatus(err), services.NewRunResult(report, err))
}

func runStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, services.ErrRunAborted):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
