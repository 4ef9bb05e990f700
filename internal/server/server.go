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

// Package server exposes the scheduling and lifecycle engine over HTTP
// to the dashboard and CLI clients.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/admission"
	"github.com/mikelane/nightshift/internal/audit"
	"github.com/mikelane/nightshift/internal/cost"
	"github.com/mikelane/nightshift/internal/lifecycle"
	"github.com/mikelane/nightshift/internal/scheduler"
)

// Server routes API requests to the engine components.
type Server struct {
	addr        string
	port        int
	lifecycle   *lifecycle.Manager
	scheduler   *scheduler.Scheduler
	admission   *admission.Controller
	auditLog    *audit.Logger
	estimator   *cost.Estimator
	clusterName string
	server      *http.Server
	rateLimiter *RateLimiter
}

// RateLimiter provides per-caller rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*bucket
	limit    int
	window   time.Duration
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// NewServer creates an API server.
func NewServer(addr string, port int, mgr *lifecycle.Manager, sched *scheduler.Scheduler,
	adm *admission.Controller, auditLog *audit.Logger, estimator *cost.Estimator, clusterName string) *Server {
	return &Server{
		addr:        addr,
		port:        port,
		lifecycle:   mgr,
		scheduler:   sched,
		admission:   adm,
		auditLog:    auditLog,
		estimator:   estimator,
		clusterName: clusterName,
		rateLimiter: NewRateLimiter(10, time.Second), // 10 requests per second per caller
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*bucket),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request from the given caller should be allowed.
func (rl *RateLimiter) Allow(caller string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.limiters[caller]
	if !exists {
		b = &bucket{
			tokens:    rl.limit,
			lastReset: time.Now(),
		}
		rl.limiters[caller] = b
	}

	// Reset bucket if window has passed
	if time.Since(b.lastReset) >= rl.window {
		b.tokens = rl.limit
		b.lastReset = time.Now()
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// Handler builds the route table. Exposed separately from Start so tests
// can drive it with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /namespaces/{ns}/activate", s.handleActivate)
	mux.HandleFunc("POST /namespaces/{ns}/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /tasks", s.handleTaskCreate)
	mux.HandleFunc("GET /tasks", s.handleTaskList)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleTaskDelete)
	mux.HandleFunc("GET /tasks/{id}/stats", s.handleTaskStats)
	mux.HandleFunc("POST /tasks/{id}/run", s.handleTaskRun)
	mux.HandleFunc("POST /tasks/{id}/cancel", s.handleTaskCancel)
	mux.HandleFunc("GET /cost-centers/{cc}/validate", s.handleValidate)
	mux.HandleFunc("GET /cost-centers/{cc}/savings", s.handleSavings)
	mux.HandleFunc("GET /audit/user/{id}", s.handleAuditByUser)
	mux.HandleFunc("GET /audit/cluster/{name}", s.handleAuditByCluster)
	mux.HandleFunc("GET /business-hours", s.handleBusinessHours)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.addr, s.port),
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Log.Info("Starting API server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Log.Info("Shutting down API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
