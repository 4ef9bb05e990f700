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

// Package resilience guards calls to external dependencies with retries and
// a circuit breaker.
//
// Every call to the cluster API or the durable store goes through a Guard,
// which composes two independent mechanisms:
//
//   - Retry with exponential backoff and jitter, applied only to errors the
//     classifier reports as transient (timeouts, connection errors).
//   - A three-state circuit breaker (closed, open, half-open). Reaching the
//     failure threshold opens the breaker; while open, calls short-circuit
//     without touching the network. After the recovery timeout a single
//     trial call is allowed through; its outcome decides whether the
//     breaker closes again or re-opens.
//
// Each guarded dependency gets its own Guard instance. Breakers are never
// shared between dependencies: an outage of the durable store must not
// block cluster calls.
//
// Example usage:
//
//	guard := resilience.NewGuard("dynamodb", resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
//	err := guard.Do(ctx, func(ctx context.Context) error {
//	    _, err := client.PutItem(ctx, input)
//	    return err
//	})
//
// When the breaker is open, Do returns an error carrying the
// circuit_open_error code so callers can choose a degraded path (for
// example, serving stale cached permissions).
package resilience
