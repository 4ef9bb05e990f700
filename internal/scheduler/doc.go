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

// Package scheduler runs recurring and one-shot namespace tasks on a
// bounded worker pool.
//
// A single polling loop scans the task set on a fixed interval and
// dispatches every pending task whose next run time has passed. Each
// task carries its own run lock, so a task found still running is
// skipped rather than queued: recurring tasks never pile up behind a
// slow run.
//
// Key behaviors:
//   - Cron recurrence via standard five-field expressions; an empty
//     expression makes the task one-shot
//   - The next run time is recomputed from the previously scheduled
//     time, not from wall clock, so late runs do not drift the cadence
//   - Each attempt runs under a timeout; failed runs are retried a fixed
//     number of times with a fixed delay before the run counts as failed
//   - Task adds are authorized against the cost-center policy and
//     rejected when their schedule window overlaps another task on the
//     same namespace
//   - The task set is snapshotted to disk atomically after every change
//     and recovered on restart, falling back to a rolling backup
//
// Example usage:
//
//	execs := scheduler.DefaultExecutors(lifecycleManager)
//	sched, err := scheduler.New(scheduler.DefaultConfig(), execs, admissionController, snapshots)
//	if err != nil {
//		return err
//	}
//	go sched.Run(ctx)
//
//	id, err := sched.Add(ctx, scheduler.Task{
//		Title:          "stop app-dev overnight",
//		OperationType:  scheduler.OpDeactivate,
//		Namespace:      "app-dev",
//		CostCenter:     "CC100",
//		CronExpression: "0 20 * * 1-5",
//		CreatedBy:      "alice",
//	})
package scheduler
