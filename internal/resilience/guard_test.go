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
	"syscall"
	"testing"
	"time"

	"github.com/mikelane/nightshift/internal/fault"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestGuard_retries_transient_errors(t *testing.T) {
	g := NewGuard("store", fastRetry(3), DefaultBreakerConfig())

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return syscall.ECONNREFUSED
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() returned error: %v", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
}

func TestGuard_does_not_retry_permanent_errors(t *testing.T) {
	g := NewGuard("store", fastRetry(3), DefaultBreakerConfig())

	permanent := errors.New("item does not exist")
	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Fatalf("Do() = %v, want wrapped permanent error", err)
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1 for non-retryable error", calls)
	}
}

func TestGuard_exhausted_retries_surface_last_error(t *testing.T) {
	g := NewGuard("store", fastRetry(2), DefaultBreakerConfig())

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return syscall.ECONNRESET
	})

	if !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("Do() = %v, want wrapped ECONNRESET", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3 (1 + 2 retries)", calls)
	}
}

func TestGuard_short_circuits_when_breaker_open(t *testing.T) {
	g := NewGuard("cluster", fastRetry(0), BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	})

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			return boom
		})
	}

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Error("op should not run while the breaker is open")
	}
	if fault.CodeOf(err) != fault.CodeCircuitOpen {
		t.Errorf("CodeOf() = %q, want %q", fault.CodeOf(err), fault.CodeCircuitOpen)
	}
	if !g.Open() {
		t.Error("Open() should report true")
	}
}

func TestGuard_deadline_maps_to_timeout_code(t *testing.T) {
	g := NewGuard("cluster", RetryConfig{MaxRetries: 0}, DefaultBreakerConfig())

	err := g.Do(context.Background(), func(ctx context.Context) error {
		return context.DeadlineExceeded
	})

	if fault.CodeOf(err) != fault.CodeTimeout {
		t.Errorf("CodeOf() = %q, want %q", fault.CodeOf(err), fault.CodeTimeout)
	}
}

func TestGuard_respects_context_cancellation(t *testing.T) {
	g := NewGuard("store", RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Hour, // would stall without cancellation
	}, DefaultBreakerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := g.Do(ctx, func(ctx context.Context) error {
		return syscall.ECONNREFUSED
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
}
