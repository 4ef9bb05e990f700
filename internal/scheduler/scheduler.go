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

package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/admission"
	"github.com/mikelane/nightshift/internal/fault"
)

// Config tunes the scheduling loop and worker pool.
type Config struct {
	// PollInterval is how often the loop scans for due tasks. Default: 60s.
	PollInterval time.Duration

	// MaxWorkers bounds concurrently running task bodies. Default: 5.
	MaxWorkers int

	// TaskTimeout force-fails a single attempt that runs too long. It also
	// defines the schedule window used for conflict detection. Default: 10m.
	TaskTimeout time.Duration

	// TaskRetries is how many times a failed attempt is retried with a
	// fixed delay before the run counts as failed. Independent of the
	// dependency-level retries inside the resilience guards. Default: 2.
	TaskRetries int
	RetryDelay  time.Duration

	// HistoryLimit and OutputLimit bound the per-task run history.
	HistoryLimit int
	OutputLimit  int

	// CleanupAge is how long terminal tasks linger before the periodic
	// cleanup drops them. Default: 24h.
	CleanupAge time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 60 * time.Second,
		MaxWorkers:   5,
		TaskTimeout:  10 * time.Minute,
		TaskRetries:  2,
		RetryDelay:   30 * time.Second,
		HistoryLimit: 20,
		OutputLimit:  1024,
		CleanupAge:   24 * time.Hour,
	}
}

// handle is the in-memory execution state around one task. The runMu
// guarantees at most one run in flight: a poll that finds it locked
// skips the task instead of queueing a second run.
type handle struct {
	task    Task
	runMu   sync.Mutex
	history []HistoryRecord

	// cancelRun aborts the in-flight attempt; cancelled marks the task so
	// the worker ends it as cancelled instead of retrying.
	cancelRun context.CancelFunc
	cancelled bool
}

// Scheduler owns the task set, the polling loop, and the worker pool.
type Scheduler struct {
	config    Config
	executors map[OperationType]Executor
	admission *admission.Controller
	snapshots *SnapshotStore

	mu      sync.Mutex
	handles map[string]*handle

	workers chan struct{}
	wg      sync.WaitGroup

	// now is replaceable for tests.
	now func() time.Time
}

// New builds a scheduler, recovering the task set from the snapshot
// store when one is given. Tasks that were mid-run when the process died
// come back as pending so the next poll picks them up.
func New(cfg Config, executors map[OperationType]Executor, adm *admission.Controller, snapshots *SnapshotStore) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = def.OutputLimit
	}
	if cfg.CleanupAge <= 0 {
		cfg.CleanupAge = def.CleanupAge
	}

	s := &Scheduler{
		config:    cfg,
		executors: executors,
		admission: adm,
		snapshots: snapshots,
		handles:   make(map[string]*handle),
		workers:   make(chan struct{}, cfg.MaxWorkers),
		now:       time.Now,
	}

	if snapshots != nil {
		tasks, err := snapshots.Load()
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.Status == StatusRunning {
				t.Status = StatusPending
			}
			s.handles[t.ID] = &handle{task: t}
		}
	}
	return s, nil
}

// Add validates, authorizes, and registers a task, returning its id.
func (s *Scheduler) Add(ctx context.Context, t Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	decision := s.admission.ValidateDeactivation(ctx, admission.Request{
		Namespace:   t.Namespace,
		CostCenter:  t.CostCenter,
		RequestedBy: t.CreatedBy,
		Scheduled:   true,
	})
	if !decision.Allowed {
		return "", fault.New(decision.Code, "%s", decision.Message)
	}

	now := s.now()
	if t.NextRunAt.IsZero() {
		if t.Recurring() {
			next, err := nextAfter(t.CronExpression, now, now)
			if err != nil {
				return "", err
			}
			t.NextRunAt = next
		} else {
			t.NextRunAt = now
		}
	}

	t.ID = uuid.NewString()
	t.Status = StatusPending
	t.CreatedAt = now

	s.mu.Lock()
	if conflict := s.findConflictLocked(t); conflict != nil {
		s.mu.Unlock()
		return "", fault.New(fault.CodeNamespaceConflict,
			"task %q overlaps task %q on namespace %s", t.Title, conflict.Title, t.Namespace)
	}
	s.handles[t.ID] = &handle{task: t}
	s.mu.Unlock()

	s.persist(ctx)
	log.FromContext(ctx).Info("task added",
		"task", t.ID, "operation", t.OperationType, "namespace", t.Namespace, "nextRunAt", t.NextRunAt)
	return t.ID, nil
}

// findConflictLocked reports an existing non-terminal task for the same
// namespace whose next schedule window overlaps the candidate's. The
// window is [nextRunAt, nextRunAt+timeout). Different namespaces never
// conflict.
func (s *Scheduler) findConflictLocked(t Task) *Task {
	winStart, winEnd := t.NextRunAt, t.NextRunAt.Add(s.config.TaskTimeout)
	for _, h := range s.handles {
		other := h.task
		if other.Namespace != t.Namespace || terminal(other.Status) {
			continue
		}
		oStart, oEnd := other.NextRunAt, other.NextRunAt.Add(s.config.TaskTimeout)
		if winStart.Before(oEnd) && oStart.Before(winEnd) {
			return &other
		}
	}
	return nil
}

func terminal(st Status) bool {
	return st == StatusCompleted || st == StatusFailed || st == StatusCancelled
}

// Remove deletes a task, cancelling any in-flight run first.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if !ok {
		s.mu.Unlock()
		return fault.New(fault.CodeTaskNotFound, "no task %s", id)
	}
	h.cancelled = true
	if h.cancelRun != nil {
		h.cancelRun()
	}
	delete(s.handles, id)
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// Cancel stops a task: a pending task goes straight to cancelled, an
// in-flight run has its context cancelled and ends as cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if !ok {
		s.mu.Unlock()
		return fault.New(fault.CodeTaskNotFound, "no task %s", id)
	}
	h.cancelled = true
	if h.cancelRun != nil {
		h.cancelRun()
	} else if !terminal(h.task.Status) {
		h.task.Status = StatusCancelled
	}
	s.mu.Unlock()

	s.persist(ctx)
	return nil
}

// RunNow dispatches a task immediately, ignoring nextRunAt. A run
// already in flight makes this a no-op.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok && h.task.Status == StatusCancelled {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return fault.New(fault.CodeTaskNotFound, "no task %s", id)
	}
	s.dispatch(ctx, h)
	return nil
}

// Get returns a copy of the task.
func (s *Scheduler) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return Task{}, fault.New(fault.CodeTaskNotFound, "no task %s", id)
	}
	return h.task, nil
}

// List returns every task, oldest first.
func (s *Scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h.task)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns the task with its run history.
func (s *Scheduler) Stats(id string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return Stats{}, fault.New(fault.CodeTaskNotFound, "no task %s", id)
	}
	history := make([]HistoryRecord, len(h.history))
	copy(history, h.history)
	return Stats{
		Task:    h.task,
		Running: h.task.Status == StatusRunning,
		History: history,
	}, nil
}

// Run drives the polling loop until ctx is cancelled, then waits for
// in-flight workers and writes a final snapshot.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)
	logger.Info("scheduler started",
		"pollInterval", s.config.PollInterval, "maxWorkers", s.config.MaxWorkers)

	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(s.config.CleanupAge / 4)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			s.wg.Wait()
			s.persist(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-poll.C:
			s.pollOnce(ctx)
		case <-cleanup.C:
			s.cleanup(ctx)
		}
	}
}

// pollOnce dispatches every pending task whose nextRunAt has passed.
func (s *Scheduler) pollOnce(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*handle
	for _, h := range s.handles {
		if h.task.Status == StatusPending && !h.task.NextRunAt.After(now) {
			due = append(due, h)
		}
	}
	s.mu.Unlock()

	for _, h := range due {
		s.dispatch(ctx, h)
	}
}

// dispatch hands a task to the worker pool. The per-task lock is taken
// here so an already-running task is skipped immediately rather than
// blocking a worker slot.
func (s *Scheduler) dispatch(ctx context.Context, h *handle) {
	if !h.runMu.TryLock() {
		s.mu.Lock()
		id := h.task.ID
		s.mu.Unlock()
		log.FromContext(ctx).Info("task already running, skipping dispatch", "task", id)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer h.runMu.Unlock()

		s.workers <- struct{}{}
		defer func() { <-s.workers }()

		s.runTask(ctx, h)
	}()
}

// runTask executes one run: timeout-wrapped attempts with fixed-delay
// retries, then metrics, history, rescheduling, and persistence. Only
// the worker holding the run lock touches the task's fields.
func (s *Scheduler) runTask(ctx context.Context, h *handle) {
	logger := log.FromContext(ctx)

	s.mu.Lock()
	// A cancel that landed between dispatch and the worker starting must
	// prevent the body from running at all.
	if h.cancelled {
		if !terminal(h.task.Status) {
			h.task.Status = StatusCancelled
		}
		id := h.task.ID
		s.persistLocked(ctx)
		s.mu.Unlock()
		logger.Info("task cancelled before start", "task", id)
		return
	}
	task := h.task
	h.task.Status = StatusRunning
	s.mu.Unlock()

	exec, err := executorFor(s.executors, task.OperationType)
	start := s.now()
	scheduled := task.NextRunAt

	var output string
	attempts := 0
	if err == nil {
		for attempts = 1; ; attempts++ {
			output, err = s.runAttempt(ctx, h, exec, &task)
			if err == nil || attempts > s.config.TaskRetries {
				break
			}
			if s.isCancelled(h) || ctx.Err() != nil {
				break
			}
			logger.Info("task attempt failed, retrying",
				"task", task.ID, "attempt", attempts, "error", err.Error())
			select {
			case <-ctx.Done():
			case <-time.After(s.config.RetryDelay):
			}
			if s.isCancelled(h) {
				break
			}
		}
	}

	end := s.now()
	success := err == nil

	record := HistoryRecord{
		StartedAt: start,
		Duration:  end.Sub(start),
		Success:   success,
		Attempts:  attempts,
		Output:    truncate(output, s.config.OutputLimit),
	}
	if err != nil {
		record.ErrorCode = fault.CodeOf(err)
		record.ErrorMsg = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h.task.LastRunAt = start
	h.task.RunCount++
	if success {
		h.task.SuccessCount++
	} else {
		h.task.ErrorCount++
	}

	h.history = append(h.history, record)
	if len(h.history) > s.config.HistoryLimit {
		h.history = h.history[len(h.history)-s.config.HistoryLimit:]
	}

	switch {
	case h.cancelled:
		h.task.Status = StatusCancelled
	case h.task.Recurring():
		next, nextErr := nextAfter(h.task.CronExpression, scheduled, end)
		if nextErr != nil {
			logger.Error(nextErr, "could not reschedule task", "task", h.task.ID)
			h.task.Status = StatusFailed
		} else {
			h.task.NextRunAt = next
			h.task.Status = StatusPending
		}
	case success:
		h.task.Status = StatusCompleted
	default:
		h.task.Status = StatusFailed
	}

	if success {
		logger.Info("task run succeeded",
			"task", h.task.ID, "attempts", attempts, "duration", record.Duration)
	} else if err != nil {
		logger.Error(err, "task run failed",
			"task", h.task.ID, "attempts", attempts)
	}

	s.persistLocked(ctx)
}

// runAttempt runs a single timeout-bounded attempt, exposing its cancel
// function so Cancel and Remove can abort it. The body runs in its own
// goroutine so a body that ignores cancellation is still force-failed at
// the deadline; the abandoned goroutine finishes on its own and its
// result is discarded.
func (s *Scheduler) runAttempt(ctx context.Context, h *handle, exec Executor, task *Task) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.TaskTimeout)
	defer cancel()

	s.mu.Lock()
	h.cancelRun = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		h.cancelRun = nil
		s.mu.Unlock()
	}()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := exec.Execute(runCtx, task)
		done <- result{output, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return res.output, fault.Wrap(fault.CodeTimeout, res.err,
				"task %s timed out after %s", task.ID, s.config.TaskTimeout)
		}
		return res.output, res.err
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fault.New(fault.CodeTimeout,
				"task %s timed out after %s", task.ID, s.config.TaskTimeout)
		}
		return "", runCtx.Err()
	}
}

func (s *Scheduler) isCancelled(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.cancelled
}

// cleanup drops terminal tasks that finished longer than CleanupAge ago.
func (s *Scheduler) cleanup(ctx context.Context) {
	cutoff := s.now().Add(-s.config.CleanupAge)

	s.mu.Lock()
	removed := 0
	for id, h := range s.handles {
		if !terminal(h.task.Status) {
			continue
		}
		settled := h.task.LastRunAt
		if settled.IsZero() {
			settled = h.task.CreatedAt
		}
		if settled.Before(cutoff) {
			delete(s.handles, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		log.FromContext(ctx).Info("cleaned up finished tasks", "removed", removed)
		s.persist(ctx)
	}
}

func (s *Scheduler) persist(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked(ctx)
}

// persistLocked snapshots the task set. Persistence failures are logged,
// never surfaced: losing a snapshot must not fail the operation that
// triggered it.
func (s *Scheduler) persistLocked(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	tasks := make([]Task, 0, len(s.handles))
	for _, h := range s.handles {
		tasks = append(tasks, h.task)
	}
	if err := s.snapshots.Save(tasks); err != nil {
		log.FromContext(ctx).Error(err, "could not persist task snapshot")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
