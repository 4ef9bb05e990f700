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
	"os/exec"

	"github.com/mikelane/nightshift/internal/fault"
	"github.com/mikelane/nightshift/internal/lifecycle"
)

// Executor runs one kind of task body. Implementations must honor ctx:
// the scheduler cancels it on task cancellation and on the per-run
// timeout.
type Executor interface {
	Execute(ctx context.Context, task *Task) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *Task) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, task *Task) (string, error) {
	return f(ctx, task)
}

// DefaultExecutors maps every operation type to its implementation.
func DefaultExecutors(mgr *lifecycle.Manager) map[OperationType]Executor {
	return map[OperationType]Executor{
		OpActivate:   &activateExecutor{mgr: mgr},
		OpDeactivate: &deactivateExecutor{mgr: mgr},
		OpCommand:    &commandExecutor{},
	}
}

type activateExecutor struct {
	mgr *lifecycle.Manager
}

func (e *activateExecutor) Execute(ctx context.Context, task *Task) (string, error) {
	res, err := e.mgr.Activate(ctx, task.Namespace, task.CostCenter, task.CreatedBy, true)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

type deactivateExecutor struct {
	mgr *lifecycle.Manager
}

func (e *deactivateExecutor) Execute(ctx context.Context, task *Task) (string, error) {
	res, err := e.mgr.Deactivate(ctx, task.Namespace, task.CostCenter, task.CreatedBy, true)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

// commandExecutor shells out. The command is killed when ctx expires.
type commandExecutor struct{}

func (e *commandExecutor) Execute(ctx context.Context, task *Task) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", task.Command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fault.Wrap(fault.CodeKubectl, err, "command %q failed", task.Command)
	}
	return string(out), nil
}

// executorFor resolves the implementation for a task's operation type.
func executorFor(executors map[OperationType]Executor, op OperationType) (Executor, error) {
	e, ok := executors[op]
	if !ok {
		return nil, fault.New(fault.CodeUnexpected, "no executor for operation type %q", op)
	}
	return e, nil
}
