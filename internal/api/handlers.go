package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/pipeline"
	"github.com/jacklau/affinity/internal/similarity"
	"github.com/jacklau/affinity/internal/store"
)

// errBadRequest marks request-shape problems.
var errBadRequest = errors.New("bad request")

type scoreUsersRequest struct {
	A         *engine.ProfileBundle `json:"a,omitempty"`
	B         *engine.ProfileBundle `json:"b,omitempty"`
	IdentityA string                `json:"identity_a,omitempty"`
	IdentityB string                `json:"identity_b,omitempty"`
	Weights   *similarity.Weights   `json:"weights,omitempty"`
}

type scoreClustersRequest struct {
	A       engine.InterestCluster `json:"a"`
	B       engine.InterestCluster `json:"b"`
	Weights *similarity.Weights    `json:"weights,omitempty"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

type similarResponse struct {
	Identity string            `json:"identity"`
	Results  []pipeline.Ranked `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScoreUsers(w http.ResponseWriter, r *http.Request) {
	var req scoreUsersRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.resolveBundle(req.A, req.IdentityA, "a")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.resolveBundle(req.B, req.IdentityB, "b")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	score, err := s.deps.Scorer.ScoreUsersWithWeights(r.Context(), a, b, s.weights(req.Weights))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score})
}

func (s *Server) handleScoreClusters(w http.ResponseWriter, r *http.Request) {
	var req scoreClustersRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	score, err := s.deps.Scorer.ScoreClustersWithWeights(r.Context(), req.A, req.B, s.weights(req.Weights))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Score: score})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Profiles == nil {
		s.writeError(w, r, fmt.Errorf("no profile store configured"))
		return
	}
	p, err := s.deps.Profiles.GetProfile(chi.URLParam(r, "identity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.ProfileBundle)
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Profiles == nil {
		s.writeError(w, r, fmt.Errorf("no profile store configured"))
		return
	}
	var b engine.ProfileBundle
	if err := decode(w, r, &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	identity := chi.URLParam(r, "identity")
	if b.Identity == "" {
		b.Identity = identity
	}
	if strings.TrimSpace(b.Identity) != identity {
		s.writeError(w, r, fmt.Errorf("%w: identity %q does not match path", errBadRequest, b.Identity))
		return
	}
	if err := b.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Profiles.UpsertProfile(b); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ranker == nil {
		s.writeError(w, r, fmt.Errorf("no ranker configured"))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}

	identity := chi.URLParam(r, "identity")
	ranked, err := s.deps.Ranker.Rank(r.Context(), identity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if ranked == nil {
		ranked = []pipeline.Ranked{}
	}
	writeJSON(w, http.StatusOK, similarResponse{Identity: identity, Results: ranked})
}

// resolveBundle takes an inline bundle, or loads one by identity.
func (s *Server) resolveBundle(inline *engine.ProfileBundle, identity, side string) (engine.ProfileBundle, error) {
	switch {
	case inline != nil:
		return *inline, nil
	case identity == "":
		return engine.ProfileBundle{}, fmt.Errorf("%w: bundle %s or identity_%s is required", errBadRequest, side, side)
	case s.deps.Profiles == nil:
		return engine.ProfileBundle{}, fmt.Errorf("%w: no profile store to resolve identity_%s", errBadRequest, side)
	}
	p, err := s.deps.Profiles.GetProfile(identity)
	if err != nil {
		return engine.ProfileBundle{}, err
	}
	return p.ProfileBundle, nil
}

func (s *Server) weights(w *similarity.Weights) similarity.Weights {
	if w == nil {
		return s.deps.Scorer.Weights()
	}
	return *w
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrInvalidProfileBundle),
		errors.Is(err, similarity.ErrInvalidWeights):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
