// Package httpapi exposes the cellular runtime's diagnostic surface over
// HTTP: unit listings, health assessments, vital stats and Prometheus
// metrics. The API is read-mostly; the only mutating route triggers a health
// assessment.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cellular-dev/cellular"
)

// unitSummary is the list-view projection of a unit.
type unitSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Phase    string `json:"phase"`
	Revision uint64 `json:"revision"`
	Children int    `json:"children"`
}

// Server serves the diagnostic API for one framework instance.
type Server struct {
	framework *cellular.Framework
	logger    cellular.Logger
}

// NewRouter builds the HTTP handler. The gatherer backs /metrics; pass nil to
// disable the metrics route.
func NewRouter(f *cellular.Framework, logger cellular.Logger, gatherer prometheus.Gatherer) http.Handler {
	if logger == nil {
		logger = cellular.NewNoopLogger()
	}
	s := &Server{framework: f, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/units", func(r chi.Router) {
		r.Get("/", s.handleListUnits)
		r.Route("/{unitID}", func(r chi.Router) {
			r.Get("/", s.handleGetUnit)
			r.Get("/health", s.handleLastAssessment)
			r.Post("/assess", s.handleAssess)
			r.Get("/vitals", s.handleVitals)
			r.Get("/journal", s.handleJournal)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status": "ok",
		"units":  s.framework.UnitCount(),
	})
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units := s.framework.Units()
	out := make([]unitSummary, 0, len(units))
	for _, u := range units {
		out = append(out, summarize(u))
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unit(w, r)
	if !ok {
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"id":         u.ID(),
		"name":       u.Name(),
		"state":      u.State().String(),
		"phase":      u.State().Phase().String(),
		"revision":   u.Revision(),
		"children":   childIDs(u),
		"properties": u.Properties().All(),
	})
}

func (s *Server) handleLastAssessment(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unit(w, r)
	if !ok {
		return
	}

	assessment := u.LastAssessment()
	if assessment == nil {
		s.respondError(w, http.StatusNotFound, "unit has never been assessed")
		return
	}
	s.respond(w, http.StatusOK, assessment)
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unit(w, r)
	if !ok {
		return
	}

	assessment, err := s.framework.AssessHealth(r.Context(), u.ID())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respond(w, http.StatusOK, assessment)
}

func (s *Server) handleVitals(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unit(w, r)
	if !ok {
		return
	}
	s.respond(w, http.StatusOK, u.VitalStats())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	u, ok := s.unit(w, r)
	if !ok {
		return
	}
	s.respond(w, http.StatusOK, u.Journal())
}

func (s *Server) unit(w http.ResponseWriter, r *http.Request) (*cellular.Unit, bool) {
	id := chi.URLParam(r, "unitID")
	u, err := s.framework.Get(id)
	if err != nil {
		if errors.Is(err, cellular.ErrUnknownUnit) {
			s.respondError(w, http.StatusNotFound, err.Error())
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return u, true
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

func summarize(u *cellular.Unit) unitSummary {
	return unitSummary{
		ID:       u.ID(),
		Name:     u.Name(),
		State:    u.State().String(),
		Phase:    u.State().Phase().String(),
		Revision: u.Revision(),
		Children: u.ChildCount(),
	}
}

func childIDs(u *cellular.Unit) []string {
	children := u.Children()
	out := make([]string, 0, len(children))
	for _, c := range children {
		out = append(out, c.ID())
	}
	return out
}
