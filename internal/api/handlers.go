package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

const defaultListLimit = 50

// EnqueueJobRequest is the body of POST /api/jobs.
type EnqueueJobRequest struct {
	Provider string `json:"provider"`
	StyleID  string `json:"styleId"`
	Variant  string `json:"variant,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// EnqueueJobResponse reports the job backing the requested subject and
// whether this request created it.
type EnqueueJobResponse struct {
	Job      *models.Job `json:"job"`
	Enqueued bool        `json:"enqueued"`
}

// handleEnqueueJob handles POST /api/jobs.
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req EnqueueJobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	provider, err := types.ParseProvider(req.Provider)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	key := types.SubjectKey{StyleID: strings.TrimSpace(req.StyleID), Variant: strings.TrimSpace(req.Variant)}
	if err := key.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	job, created, err := s.jobs.Enqueue(r.Context(), provider, key, req.Priority)
	if err != nil {
		status, code, message := mapError(err)
		respondError(w, status, code, message, nil)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, EnqueueJobResponse{Job: job, Enqueued: created})
}

// handleListJobs handles GET /api/jobs?status=&limit=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := types.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = types.JobStatusPending
	}
	switch status {
	case types.JobStatusPending, types.JobStatusRunning, types.JobStatusDone, types.JobStatusFailed:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Unknown job status", map[string]interface{}{
			"status": string(status),
		})
		return
	}

	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	jobs, err := s.jobs.ListByStatus(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list jobs", nil)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob handles GET /api/jobs/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Job not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to get job", nil)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleRetryJob handles POST /api/jobs/{id}/retry. Only failed jobs can
// be retried; the queue never resurrects them on its own.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.jobs.RetryFailed(r.Context(), jobID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "No failed job with that ID", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to retry job", nil)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleListTimedOutOperations handles GET /api/operations/timed-out.
// These are the operations whose provider-side outcome is unknown and
// need manual investigation.
func (s *Server) handleListTimedOutOperations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	ops, err := s.operations.ListTimedOut(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list timed out operations", nil)
		return
	}
	if ops == nil {
		ops = []*models.Operation{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	})
}

// handleGetOperation handles GET /api/operations/{id}.
func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	opID := mux.Vars(r)["id"]

	op, err := s.operations.GetByID(r.Context(), opID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "Operation not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to get operation", nil)
		return
	}

	respondJSON(w, http.StatusOK, op)
}

// BudgetStatus is one provider's entry in GET /api/budgets.
type BudgetStatus struct {
	Provider    types.Provider `json:"provider"`
	WindowStart time.Time      `json:"windowStart"`
	RateLimit   int            `json:"rateLimit"`
	Used        int            `json:"used"`
	Remaining   int            `json:"remaining"`
}

// handleListBudgets handles GET /api/budgets. It reports the current
// window's usage for every configured provider.
func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	statuses := make([]BudgetStatus, 0, len(s.providers))
	for _, provider := range s.providers {
		window, err := s.budgets.Usage(r.Context(), provider)
		if err != nil {
			respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to read budget usage", map[string]interface{}{
				"provider": string(provider),
			})
			return
		}
		statuses = append(statuses, BudgetStatus{
			Provider:    provider,
			WindowStart: window.WindowStart,
			RateLimit:   window.RateLimit,
			Used:        window.Used,
			Remaining:   window.Remaining(),
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"budgets": statuses,
	})
}

// handleListPrices handles GET /api/prices/{provider}/{productId}.
func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	provider, err := types.ParseProvider(vars["provider"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	prices, err := s.prices.ListByProduct(r.Context(), provider, vars["productId"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to list prices", nil)
		return
	}
	if prices == nil {
		prices = []*models.LatestPrice{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"prices": prices,
		"count":  len(prices),
	})
}

func parseLimit(r *http.Request, defaultLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 500 {
		return 0, fmt.Errorf("limit must be an integer between 1 and 500, got %q", raw)
	}
	return limit, nil
}
