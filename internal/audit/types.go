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

// Package audit records every validation attempt and lifecycle transition
// as an immutable activity log entry in the durable store. Entries are
// append-only: the only permitted mutation is closing an open entry by
// setting its end timestamp, after which it never changes again. The
// application never deletes entries; retention is an external policy.
package audit

import (
	"context"
	"time"
)

// Operation classifies what an entry records.
type Operation string

const (
	OpManualActivation      Operation = "manual_activation"
	OpScheduledActivation   Operation = "scheduled_activation"
	OpManualDeactivation    Operation = "manual_deactivation"
	OpScheduledDeactivation Operation = "scheduled_deactivation"
	OpValidation            Operation = "validation"
)

// Source says where a validation answer came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
	SourceError Source = "error"
)

// Entry is one activity log record. NamespaceName is the table hash key
// and TimestampStart the range key; timestamps are RFC 3339 so the range
// key sorts chronologically.
type Entry struct {
	NamespaceName    string    `json:"namespaceName" dynamodbav:"namespaceName"`
	TimestampStart   string    `json:"timestampStart" dynamodbav:"timestampStart"`
	OperationType    Operation `json:"operationType" dynamodbav:"operationType"`
	CostCenter       string    `json:"costCenter" dynamodbav:"costCenter"`
	ClusterName      string    `json:"clusterName" dynamodbav:"clusterName"`
	RequestedBy      string    `json:"requestedBy" dynamodbav:"requestedBy"`
	Status           string    `json:"status" dynamodbav:"status"`
	TimestampEnd     string    `json:"timestampEnd,omitempty" dynamodbav:"timestampEnd,omitempty"`
	DurationMinutes  float64   `json:"durationMinutes,omitempty" dynamodbav:"durationMinutes,omitempty"`
	ValidationResult string    `json:"validationResult,omitempty" dynamodbav:"validationResult,omitempty"`
	ValidationSource Source    `json:"validationSource,omitempty" dynamodbav:"validationSource,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
}

// Open reports whether the entry has not been closed yet.
func (e *Entry) Open() bool {
	return e.TimestampEnd == ""
}

// StartTime parses the range key. Entries written by this system always
// parse; a zero time means the record came from elsewhere.
func (e *Entry) StartTime() time.Time {
	t, err := time.Parse(time.RFC3339, e.TimestampStart)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTimestamp renders a time the way entries store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Query bounds a store read. A zero Start or End means unbounded on that
// side; Limit caps the number of entries returned, newest first.
type Query struct {
	Start time.Time
	End   time.Time
	Limit int
}

// Store is the durable activity log. Implementations must keep entries
// immutable apart from CloseEntry.
type Store interface {
	// Put appends a new entry.
	Put(ctx context.Context, e Entry) error

	// CloseEntry sets timestampEnd and durationMinutes on an open entry
	// identified by its key. Closing an already-closed entry is a no-op.
	CloseEntry(ctx context.Context, namespace, timestampStart string, end time.Time) error

	// LatestOpen returns the most recent entry for the namespace that has
	// no end timestamp, or nil when none is open.
	LatestOpen(ctx context.Context, namespace string) (*Entry, error)

	// QueryByUser returns entries requested by the given user, newest
	// first, within the query bounds.
	QueryByUser(ctx context.Context, user string, q Query) ([]Entry, error)

	// QueryByCluster returns entries for the given cluster, newest first,
	// within the query bounds.
	QueryByCluster(ctx context.Context, clusterName string, q Query) ([]Entry, error)
}

// Summary aggregates a query result for API responses.
type Summary struct {
	Total        int            `json:"total"`
	ByOperation  map[string]int `json:"byOperation"`
	ByUser       map[string]int `json:"byUser"`
	ByCostCenter map[string]int `json:"byCostCenter"`
}

// Summarize builds a Summary over entries.
func Summarize(entries []Entry) Summary {
	s := Summary{
		Total:        len(entries),
		ByOperation:  make(map[string]int),
		ByUser:       make(map[string]int),
		ByCostCenter: make(map[string]int),
	}
	for i := range entries {
		s.ByOperation[string(entries[i].OperationType)]++
		s.ByUser[entries[i].RequestedBy]++
		s.ByCostCenter[entries[i].CostCenter]++
	}
	return s
}
