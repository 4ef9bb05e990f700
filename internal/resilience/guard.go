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

package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikelane/nightshift/internal/fault"
)

// Guard wraps calls to a single external dependency with retries and a
// circuit breaker. One Guard per dependency; never share breakers.
type Guard struct {
	name    string
	retry   RetryConfig
	breaker *Breaker
}

// NewGuard creates a guard named after the dependency it protects.
func NewGuard(name string, retry RetryConfig, breaker BreakerConfig) *Guard {
	return &Guard{
		name:    name,
		retry:   retry,
		breaker: NewBreaker(breaker),
	}
}

// Name returns the guarded dependency's name.
func (g *Guard) Name() string {
	return g.name
}

// Breaker exposes the underlying breaker for introspection.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}

// Open reports whether the breaker currently short-circuits calls. Callers
// use this to pick a degraded path before attempting a call.
func (g *Guard) Open() bool {
	return g.breaker.State() == StateOpen
}

// Do executes op, retrying transient failures with backoff and recording
// every attempt's outcome in the breaker. It returns an error carrying the
// circuit_open_error code when the breaker rejects the call, and the
// timeout_error code when the final failure was a deadline.
func (g *Guard) Do(ctx context.Context, op func(context.Context) error) error {
	isRetryable := g.retry.IsRetryable
	if isRetryable == nil {
		isRetryable = DefaultIsRetryable
	}

	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !g.breaker.Allow() {
			return fault.New(fault.CodeCircuitOpen, "%s circuit breaker is open", g.name)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			g.breaker.RecordSuccess()
			return nil
		}
		g.breaker.RecordFailure()

		if !isRetryable(lastErr) || attempt == g.retry.MaxRetries {
			break
		}

		if err := sleep(ctx, g.retry.calculateBackoff(attempt)); err != nil {
			return err
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return fault.Wrap(fault.CodeTimeout, lastErr, "%s call timed out", g.name)
	}
	return fmt.Errorf("%s call failed: %w", g.name, lastErr)
}
