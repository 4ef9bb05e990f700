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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func snapshotTask(id, title string) Task {
	return Task{
		ID:            id,
		Title:         title,
		OperationType: OpDeactivate,
		Namespace:     "app-dev",
		CostCenter:    "CC100",
		Status:        StatusPending,
		NextRunAt:     time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC),
		CreatedBy:     "alice",
		CreatedAt:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func newTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	store, err := NewSnapshotStore(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("NewSnapshotStore() error: %v", err)
	}
	return store
}

func TestSnapshot_roundtrip(t *testing.T) {
	store := newTestStore(t)

	saved := []Task{snapshotTask("b", "second"), snapshotTask("a", "first")}
	if err := store.Save(saved); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() returned %d tasks, want 2", len(loaded))
	}
	// Saved sorted by id.
	if loaded[0].ID != "a" || loaded[1].ID != "b" {
		t.Errorf("loaded ids = %s, %s, want a, b", loaded[0].ID, loaded[1].ID)
	}
	if loaded[0].Title != "first" || !loaded[0].NextRunAt.Equal(saved[1].NextRunAt) {
		t.Errorf("loaded[0] = %+v, want %+v", loaded[0], saved[1])
	}
}

func TestSnapshot_load_without_file_is_empty(t *testing.T) {
	store := newTestStore(t)

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Load() returned %d tasks, want 0", len(loaded))
	}
}

func TestSnapshot_corrupt_file_falls_back_to_backup(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save([]Task{snapshotTask("a", "first")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	// The second save rotates the first file to .bak.
	if err := store.Save([]Task{snapshotTask("a", "first"), snapshotTask("b", "second")}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := os.WriteFile(store.path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupting snapshot: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "a" {
		t.Fatalf("Load() = %+v, want the single-task backup generation", loaded)
	}
}

func TestSnapshot_both_generations_corrupt_is_empty(t *testing.T) {
	store := newTestStore(t)

	if err := os.WriteFile(store.path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}
	if err := os.WriteFile(store.backupPath(), []byte("also not json"), 0o644); err != nil {
		t.Fatalf("writing backup: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Load() returned %d tasks, want 0", len(loaded))
	}
}

func TestSnapshot_rejects_invalid_task_records(t *testing.T) {
	store := newTestStore(t)

	bad := snapshotTask("a", "first")
	bad.Status = "exploded"
	if err := store.Save([]Task{bad}); err == nil {
		t.Fatal("Save() accepted a task with an invalid status")
	}
}

func TestNew_recovers_running_tasks_as_pending(t *testing.T) {
	store := newTestStore(t)

	interrupted := snapshotTask("a", "first")
	interrupted.Status = StatusRunning
	if err := store.Save([]Task{interrupted}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	s, err := New(fastConfig(), nil, newTestAdmission(t), store)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	got, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("recovered status = %s, want pending", got.Status)
	}
}
