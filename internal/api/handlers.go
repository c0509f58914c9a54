package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jobrover/jobrover/internal/engine"
	"github.com/jobrover/jobrover/internal/scan"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
	enqueueTimeout   = 5 * time.Second
)

type submitScanRequest struct {
	UserID             string                  `json:"user_id"`
	SourceIDs          []string                `json:"source_ids"`
	IncludeContactHunt bool                    `json:"include_contact_hunt"`
	IncludeDrafts      bool                    `json:"include_drafts"`
	IncludeBlueprint   bool                    `json:"include_blueprint"`
	Strict             bool                    `json:"strict"`
	TopK               int                     `json:"top_k"`
	Constraints        *scan.PolicyConstraints `json:"constraints"`
}

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req submitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	cfg := scan.ScanConfig{
		UserID:             req.UserID,
		SourceIDs:          req.SourceIDs,
		IncludeContactHunt: req.IncludeContactHunt,
		IncludeDrafts:      req.IncludeDrafts,
		IncludeBlueprint:   req.IncludeBlueprint,
		Strict:             req.Strict,
		TopK:               req.TopK,
		Constraints:        mergedConstraints(s.cfg.Budget, req.Constraints),
	}

	plan, err := engine.BuildPlan(cfg, s.ids, s.clock)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.plans.CreatePlan(r.Context(), plan); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create plan")
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := scan.ScanRequest{
		PlanID:    plan.ID,
		Config:    cfg,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatch.Enqueue(queueCtx, item); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"plan_id": plan.ID,
		"status":  string(plan.Status),
	})
}

// mergedConstraints layers the caller's overrides on top of the
// configured service budget. Zero-valued caller fields keep the
// service value; list and simulate fields are taken from the caller
// when a constraints object was provided at all.
func mergedConstraints(base scan.PolicyConstraints, override *scan.PolicyConstraints) *scan.PolicyConstraints {
	merged := base
	if override != nil {
		if override.MaxPagesPerSource > 0 {
			merged.MaxPagesPerSource = override.MaxPagesPerSource
		}
		if override.MaxJobsPerSource > 0 {
			merged.MaxJobsPerSource = override.MaxJobsPerSource
		}
		if override.MaxTokensPerRun > 0 {
			merged.MaxTokensPerRun = override.MaxTokensPerRun
		}
		if override.MaxRunDuration > 0 {
			merged.MaxRunDuration = override.MaxRunDuration
		}
		if override.RatePerDomain > 0 {
			merged.RatePerDomain = override.RatePerDomain
		}
		if len(override.AllowDomains) > 0 {
			merged.AllowDomains = override.AllowDomains
		}
		if len(override.BlockDomains) > 0 {
			merged.BlockDomains = override.BlockDomains
		}
		merged.Simulate = override.Simulate
	}
	resolved := merged.Resolve()
	return &resolved
}

type stepStatusDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Server) getScanStatus(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.loadPlan(w, r)
	if !ok {
		return
	}
	steps := make([]stepStatusDTO, len(plan.Steps))
	for i, st := range plan.Steps {
		steps[i] = stepStatusDTO{
			ID:          st.ID,
			Name:        st.Name,
			Kind:        string(st.Kind),
			Status:      string(st.Status),
			Error:       st.Error,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plan_id":    plan.ID,
		"status":     string(plan.Status),
		"updated_at": plan.UpdatedAt,
		"steps":      steps,
	})
}

func (s *Server) getScanResult(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.loadPlan(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	plan, ok := s.loadPlan(w, r)
	if !ok {
		return
	}
	switch plan.Status {
	case scan.PlanCompleted, scan.PlanFailed, scan.PlanCancelled:
		s.writeError(w, http.StatusConflict, "plan already finished")
		return
	}

	// A running plan is cancelled through the engine; a queued one is
	// marked directly so the dispatcher skips it.
	if !s.canceller.Cancel(plan.ID) {
		if err := s.plans.UpdatePlanStatus(r.Context(), plan.ID, scan.PlanCancelled, s.clock.Now()); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to cancel plan")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"plan_id": plan.ID,
		"status":  string(scan.PlanCancelled),
	})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	sources, err := s.sources.ListSources(r.Context(), userID, nil)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if val > maxJobsLimit {
			val = maxJobsLimit
		}
		limit = val
	}
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) loadPlan(w http.ResponseWriter, r *http.Request) (*scan.WorkflowPlan, bool) {
	planID := chi.URLParam(r, "plan_id")
	if planID == "" {
		s.writeError(w, http.StatusBadRequest, "plan_id is required")
		return nil, false
	}
	plan, err := s.plans.GetPlan(r.Context(), planID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "plan not found")
		return nil, false
	}
	return plan, true
}
