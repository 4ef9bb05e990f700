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
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development. It
// honors the same semantics as the DynamoDB implementation, including
// idempotent closes and newest-first query ordering.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *MemoryStore) CloseEntry(_ context.Context, namespace, timestampStart string, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		e := &s.entries[i]
		if e.NamespaceName != namespace || e.TimestampStart != timestampStart {
			continue
		}
		if !e.Open() {
			return nil
		}
		e.TimestampEnd = FormatTimestamp(end)
		e.DurationMinutes = end.Sub(e.StartTime()).Minutes()
		return nil
	}
	return nil
}

func (s *MemoryStore) LatestOpen(_ context.Context, namespace string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Entry
	for i := range s.entries {
		e := &s.entries[i]
		if e.NamespaceName != namespace || !e.Open() {
			continue
		}
		if latest == nil || e.TimestampStart > latest.TimestampStart {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStore) QueryByUser(_ context.Context, user string, q Query) ([]Entry, error) {
	return s.query(func(e *Entry) bool { return e.RequestedBy == user }, q), nil
}

func (s *MemoryStore) QueryByCluster(_ context.Context, clusterName string, q Query) ([]Entry, error) {
	return s.query(func(e *Entry) bool { return e.ClusterName == clusterName }, q), nil
}

// All returns a copy of every entry, oldest first. Test helper.
func (s *MemoryStore) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemoryStore) query(match func(*Entry) bool, q Query) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for i := range s.entries {
		e := &s.entries[i]
		if !match(e) {
			continue
		}
		start := e.StartTime()
		if !q.Start.IsZero() && start.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && start.After(q.End) {
			continue
		}
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TimestampStart > out[j].TimestampStart
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
