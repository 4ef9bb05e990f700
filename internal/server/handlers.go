// MIT License
//
// Copyright (c) 2025 Mike Lane
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/admission"
	"github.com/mikelane/nightshift/internal/audit"
	"github.com/mikelane/nightshift/internal/fault"
	"github.com/mikelane/nightshift/internal/scheduler"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000

	// savingsWindow is how far back the savings report looks by default.
	savingsWindow = 30 * 24 * time.Hour
)

type lifecycleRequest struct {
	CostCenter  string `json:"costCenter"`
	RequestedBy string `json:"requestedBy"`
}

type lifecycleResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ActiveCount int    `json:"activeCount"`
}

type taskRequest struct {
	Title          string    `json:"title"`
	OperationType  string    `json:"operationType"`
	Namespace      string    `json:"namespace"`
	CostCenter     string    `json:"costCenter"`
	Command        string    `json:"command,omitempty"`
	CronExpression string    `json:"cronExpression,omitempty"`
	NextRunAt      time.Time `json:"nextRunAt,omitempty"`
	RequestedBy    string    `json:"requestedBy"`
}

type taskCreated struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

type okResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Success bool       `json:"success"`
	Error   fault.Code `json:"error"`
	Message string     `json:"message"`
}

type auditResponse struct {
	Summary    audit.Summary `json:"summary"`
	Activities []audit.Entry `json:"activities"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLifecycleRequest(w, r)
	if !ok {
		return
	}
	res, err := s.lifecycle.Activate(r.Context(), r.PathValue("ns"), req.CostCenter, req.RequestedBy, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycleResponse{
		Success:     true,
		Message:     res.Message,
		ActiveCount: res.ActiveCount,
	})
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLifecycleRequest(w, r)
	if !ok {
		return
	}
	res, err := s.lifecycle.Deactivate(r.Context(), r.PathValue("ns"), req.CostCenter, req.RequestedBy, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lifecycleResponse{
		Success:     true,
		Message:     res.Message,
		ActiveCount: res.ActiveCount,
	})
}

// decodeLifecycleRequest reads the body and applies per-caller rate
// limiting. A false return means the response is already written.
func (s *Server) decodeLifecycleRequest(w http.ResponseWriter, r *http.Request) (lifecycleRequest, bool) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fault.Wrap(fault.CodeValidation, err, "invalid request body"))
		return req, false
	}
	if !s.allow(req.RequestedBy, r) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:   fault.CodeValidation,
			Message: "too many requests",
		})
		return req, false
	}
	return req, true
}

func (s *Server) allow(caller string, r *http.Request) bool {
	if caller == "" {
		caller = r.RemoteAddr
	}
	return s.rateLimiter.Allow(caller)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fault.Wrap(fault.CodeValidation, err, "invalid request body"))
		return
	}
	if !s.allow(req.RequestedBy, r) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:   fault.CodeValidation,
			Message: "too many requests",
		})
		return
	}

	id, err := s.scheduler.Add(r.Context(), scheduler.Task{
		Title:          req.Title,
		OperationType:  scheduler.OperationType(req.OperationType),
		Namespace:      req.Namespace,
		CostCenter:     req.CostCenter,
		Command:        req.Command,
		CronExpression: req.CronExpression,
		NextRunAt:      req.NextRunAt,
		CreatedBy:      req.RequestedBy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskCreated{Success: true, ID: id})
}

func (s *Server) handleTaskList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.List())
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: "task removed"})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.scheduler.Stats(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.RunNow(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse{Success: true, Message: "task dispatched"})
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{Success: true, Message: "task cancelled"})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	decision := s.admission.ValidateActivation(r.Context(), admission.Request{
		Namespace:   r.URL.Query().Get("namespace"),
		CostCenter:  r.PathValue("cc"),
		RequestedBy: r.URL.Query().Get("requestedBy"),
	})
	status := http.StatusOK
	if !decision.Allowed {
		status = httpStatus(decision.Code)
	}
	writeJSON(w, status, decision)
}

func (s *Server) handleSavings(w http.ResponseWriter, r *http.Request) {
	cc := r.PathValue("cc")
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q.Start.IsZero() {
		q.Start = time.Now().Add(-savingsWindow)
	}
	q.Limit = maxQueryLimit

	entries, err := s.auditLog.QueryByCluster(r.Context(), s.clusterName, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var mine []audit.Entry
	for _, e := range entries {
		if e.CostCenter == cc {
			mine = append(mine, e)
		}
	}
	writeJSON(w, http.StatusOK, s.estimator.Report(mine))
}

func (s *Server) handleAuditByUser(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.auditLog.QueryByUser(r.Context(), r.PathValue("id"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Summary: audit.Summarize(entries), Activities: entries})
}

func (s *Server) handleAuditByCluster(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.auditLog.QueryByCluster(r.Context(), r.PathValue("name"), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Summary: audit.Summarize(entries), Activities: entries})
}

func (s *Server) handleBusinessHours(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.admission.HoursStatus())
}

// parseQuery reads start_date, end_date, and limit. Dates accept full
// RFC 3339 timestamps or bare dates.
func parseQuery(r *http.Request) (audit.Query, error) {
	q := audit.Query{Limit: defaultQueryLimit}
	values := r.URL.Query()

	if raw := values.Get("start_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return q, fault.Wrap(fault.CodeValidation, err, "invalid start_date")
		}
		q.Start = t
	}
	if raw := values.Get("end_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return q, fault.Wrap(fault.CodeValidation, err, "invalid end_date")
		}
		q.End = t
	}
	if raw := values.Get("limit"); raw != "" {
		var limit int
		if err := json.Unmarshal([]byte(raw), &limit); err != nil || limit < 1 || limit > maxQueryLimit {
			return q, fault.New(fault.CodeValidation, "limit must be an integer between 1 and %d", maxQueryLimit)
		}
		q.Limit = limit
	}
	return q, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := fault.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Error(err, "request failed",
			"method", r.Method, "path", r.URL.Path)
	}
	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

// httpStatus maps engine error codes to HTTP statuses.
func httpStatus(code fault.Code) int {
	switch code {
	case fault.CodeValidation:
		return http.StatusBadRequest
	case fault.CodeNamespaceNotFound, fault.CodeTaskNotFound:
		return http.StatusNotFound
	case fault.CodeAuthorization:
		return http.StatusForbidden
	case fault.CodeLimitExceeded, fault.CodeNamespaceConflict:
		return http.StatusConflict
	case fault.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case fault.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
