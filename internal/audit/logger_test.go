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
	"syscall"
	"testing"
	"time"

	"github.com/mikelane/nightshift/internal/resilience"
)

// flakyStore fails Put while broken is true.
type flakyStore struct {
	*MemoryStore
	broken bool
}

func (s *flakyStore) Put(ctx context.Context, e Entry) error {
	if s.broken {
		return syscall.ECONNREFUSED
	}
	return s.MemoryStore.Put(ctx, e)
}

func noRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: 0, InitialBackoff: time.Millisecond}
}

func entry(namespace string, op Operation, start time.Time) Entry {
	return Entry{
		NamespaceName:  namespace,
		TimestampStart: FormatTimestamp(start),
		OperationType:  op,
		CostCenter:     "CC001",
		ClusterName:    "dev-cluster",
		RequestedBy:    "alice",
		Status:         "active",
	}
}

func TestLogger_record_writes_through(t *testing.T) {
	store := NewMemoryStore()
	guard := resilience.NewGuard("store", noRetry(), resilience.DefaultBreakerConfig())
	l := NewLogger(store, guard)

	l.Record(context.Background(), entry("app-dev", OpManualActivation, time.Now()))

	if got := len(store.All()); got != 1 {
		t.Errorf("store has %d entries, want 1", got)
	}
	if l.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", l.PendingCount())
	}
}

func TestLogger_queues_while_store_down_and_flushes_after_recovery(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), broken: true}
	guard := resilience.NewGuard("store", noRetry(), resilience.BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Millisecond,
	})
	l := NewLogger(store, guard)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		l.Record(ctx, entry("app-dev", OpValidation, base.Add(time.Duration(i)*time.Minute)))
	}

	if got := len(store.All()); got != 0 {
		t.Fatalf("store has %d entries while broken, want 0", got)
	}
	if l.PendingCount() != 4 {
		t.Fatalf("pending = %d, want 4", l.PendingCount())
	}

	// Store recovers; breaker's recovery timeout has elapsed.
	store.broken = false
	time.Sleep(5 * time.Millisecond)

	l.Record(ctx, entry("app-dev", OpValidation, base.Add(time.Hour)))

	if l.PendingCount() != 0 {
		t.Errorf("pending = %d after recovery, want 0", l.PendingCount())
	}
	if got := len(store.All()); got != 5 {
		t.Errorf("store has %d entries after flush, want 5", got)
	}
}

func TestLogger_close_is_idempotent(t *testing.T) {
	store := NewMemoryStore()
	guard := resilience.NewGuard("store", noRetry(), resilience.DefaultBreakerConfig())
	l := NewLogger(store, guard)
	ctx := context.Background()

	start := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	e := entry("app-dev", OpScheduledDeactivation, start)
	l.Record(ctx, e)

	end := start.Add(90 * time.Minute)
	l.Close(ctx, "app-dev", e.TimestampStart, end)
	l.Close(ctx, "app-dev", e.TimestampStart, end.Add(time.Hour)) // no-op

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("store has %d entries, want 1", len(all))
	}
	if all[0].Open() {
		t.Fatal("entry should be closed")
	}
	if all[0].DurationMinutes != 90 {
		t.Errorf("durationMinutes = %v, want 90", all[0].DurationMinutes)
	}
}

func TestMemoryStore_latest_open_skips_closed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	start1 := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	start2 := start1.Add(2 * time.Hour)
	_ = store.Put(ctx, entry("app-dev", OpScheduledDeactivation, start1))
	_ = store.Put(ctx, entry("app-dev", OpScheduledDeactivation, start2))
	_ = store.CloseEntry(ctx, "app-dev", FormatTimestamp(start2), start2.Add(time.Hour))

	open, err := store.LatestOpen(ctx, "app-dev")
	if err != nil {
		t.Fatalf("LatestOpen() error: %v", err)
	}
	if open == nil || open.TimestampStart != FormatTimestamp(start1) {
		t.Errorf("LatestOpen() = %+v, want the first entry", open)
	}
}

func TestMemoryStore_query_orders_newest_first_and_limits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_ = store.Put(ctx, entry("app-dev", OpValidation, base.Add(time.Duration(i)*time.Hour)))
	}

	got, err := store.QueryByUser(ctx, "alice", Query{Limit: 3})
	if err != nil {
		t.Fatalf("QueryByUser() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TimestampStart > got[i-1].TimestampStart {
			t.Fatal("entries not in descending time order")
		}
	}
}

func TestSummarize(t *testing.T) {
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	entries := []Entry{
		entry("app-dev", OpManualActivation, base),
		entry("app-dev", OpValidation, base.Add(time.Minute)),
		entry("app-prod", OpValidation, base.Add(2*time.Minute)),
	}
	entries[2].RequestedBy = "bob"
	entries[2].CostCenter = "CC002"

	s := Summarize(entries)
	if s.Total != 3 {
		t.Errorf("Total = %d, want 3", s.Total)
	}
	if s.ByOperation[string(OpValidation)] != 2 {
		t.Errorf("ByOperation[validation] = %d, want 2", s.ByOperation[string(OpValidation)])
	}
	if s.ByUser["alice"] != 2 || s.ByUser["bob"] != 1 {
		t.Errorf("ByUser = %v", s.ByUser)
	}
	if s.ByCostCenter["CC002"] != 1 {
		t.Errorf("ByCostCenter = %v", s.ByCostCenter)
	}
}
