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

package audit

import (
	"context"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/resilience"
)

// maxPending bounds the in-memory queue used while the store is
// unreachable. Beyond the cap the oldest entries are dropped.
const maxPending = 1000

// Logger writes activity entries through the durable-store guard. Logging
// never fails the originating operation: write errors are logged locally
// and, while the store breaker is open, entries queue in memory and flush
// on the next successful write.
type Logger struct {
	store Store
	guard *resilience.Guard

	mu      sync.Mutex
	pending []Entry
	dropped int
}

// NewLogger creates a Logger over the given store and its guard.
func NewLogger(store Store, guard *resilience.Guard) *Logger {
	return &Logger{store: store, guard: guard}
}

// Record appends an entry. It never returns an error; failures are queued
// for a later flush and reported through the context logger.
func (l *Logger) Record(ctx context.Context, e Entry) {
	logger := log.FromContext(ctx)

	if l.guard.Open() {
		l.enqueue(e)
		logger.V(1).Info("audit store circuit open, queued entry",
			"namespace", e.NamespaceName, "operation", string(e.OperationType))
		return
	}

	err := l.guard.Do(ctx, func(ctx context.Context) error {
		return l.store.Put(ctx, e)
	})
	if err != nil {
		l.enqueue(e)
		logger.Error(err, "failed to write audit entry, queued for retry",
			"namespace", e.NamespaceName, "operation", string(e.OperationType))
		return
	}

	l.flush(ctx)
}

// Close closes an open entry. As with Record, failures never propagate.
func (l *Logger) Close(ctx context.Context, namespace, timestampStart string, end time.Time) {
	logger := log.FromContext(ctx)

	err := l.guard.Do(ctx, func(ctx context.Context) error {
		return l.store.CloseEntry(ctx, namespace, timestampStart, end)
	})
	if err != nil {
		logger.Error(err, "failed to close audit entry",
			"namespace", namespace, "timestampStart", timestampStart)
	}
}

// LatestOpen returns the newest open entry for a namespace.
func (l *Logger) LatestOpen(ctx context.Context, namespace string) (*Entry, error) {
	var entry *Entry
	err := l.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		entry, err = l.store.LatestOpen(ctx, namespace)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// QueryByUser proxies a guarded store query.
func (l *Logger) QueryByUser(ctx context.Context, user string, q Query) ([]Entry, error) {
	var entries []Entry
	err := l.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		entries, err = l.store.QueryByUser(ctx, user, q)
		return err
	})
	return entries, err
}

// QueryByCluster proxies a guarded store query.
func (l *Logger) QueryByCluster(ctx context.Context, clusterName string, q Query) ([]Entry, error) {
	var entries []Entry
	err := l.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		entries, err = l.store.QueryByCluster(ctx, clusterName, q)
		return err
	})
	return entries, err
}

// PendingCount returns the number of queued entries. Exposed for tests and
// introspection.
func (l *Logger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Logger) enqueue(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) >= maxPending {
		l.pending = l.pending[1:]
		l.dropped++
	}
	l.pending = append(l.pending, e)
}

// flush drains the pending queue after a successful write. Entries that
// fail again go back to the front of the queue.
func (l *Logger) flush(ctx context.Context) {
	l.mu.Lock()
	queued := l.pending
	l.pending = nil
	dropped := l.dropped
	l.dropped = 0
	l.mu.Unlock()

	if len(queued) == 0 {
		return
	}

	logger := log.FromContext(ctx)
	if dropped > 0 {
		logger.Info("audit entries were dropped while the store was unreachable", "dropped", dropped)
	}

	for i, e := range queued {
		err := l.guard.Do(ctx, func(ctx context.Context) error {
			return l.store.Put(ctx, e)
		})
		if err != nil {
			l.mu.Lock()
			l.pending = append(queued[i:], l.pending...)
			l.mu.Unlock()
			logger.Error(err, "audit flush interrupted", "remaining", len(queued)-i)
			return
		}
	}
	logger.Info("flushed queued audit entries", "count", len(queued))
}
