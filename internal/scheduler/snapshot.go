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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// snapshotVersion guards against loading a snapshot written by an
// incompatible build.
const snapshotVersion = 1

type snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Tasks   []Task    `json:"tasks"`
}

// SnapshotStore persists the task set to a local file so the scheduler
// survives restarts. Writes go to a temp file first and replace the live
// file with an atomic rename; the previous generation is kept as a .bak
// that Load falls back to when the live file is missing or corrupt.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore persists snapshots at path, creating the parent
// directory if needed.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	if path == "" {
		return nil, errors.New("snapshot path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &SnapshotStore{path: path}, nil
}

func (s *SnapshotStore) backupPath() string { return s.path + ".bak" }

// Save writes the task set atomically. Tasks are sorted by id so
// consecutive snapshots of the same state are byte-identical.
func (s *SnapshotStore) Save(tasks []Task) error {
	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.MarshalIndent(snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Tasks:   sorted,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot: %w", err)
	}

	// Re-read and decode before replacing anything; a snapshot that does
	// not round-trip must never overwrite a good one.
	if _, err := decodeSnapshot(tmpName); err != nil {
		return fmt.Errorf("validating temp snapshot: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, s.backupPath()); err != nil {
			return fmt.Errorf("rotating snapshot backup: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking existing snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("installing snapshot: %w", err)
	}
	return nil
}

// Load reads the task set, preferring the live file, then the backup,
// then an empty set. A partially valid file is rejected whole: recovery
// must not resurrect a subset of the task set.
func (s *SnapshotStore) Load() ([]Task, error) {
	for _, p := range []string{s.path, s.backupPath()} {
		if tasks, err := decodeSnapshot(p); err == nil {
			return tasks, nil
		}
	}
	return nil, nil
}

func decodeSnapshot(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", path, snap.Version)
	}
	for i := range snap.Tasks {
		if err := snap.Tasks[i].validateLoaded(); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", path, err)
		}
	}
	return snap.Tasks, nil
}
