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

// Package permissions answers "may this cost center touch this namespace"
// from a durable permission table, fronted by a TTL cache that also caches
// negative lookups. When the store is unreachable the cache serves stale
// records rather than failing closed on every request.
package permissions

import "context"

// Permission is a cost center's authorization record.
type Permission struct {
	CostCenter              string   `json:"costCenter" dynamodbav:"costCenter"`
	IsAuthorized            bool     `json:"isAuthorized" dynamodbav:"isAuthorized"`
	MaxConcurrentNamespaces int      `json:"maxConcurrentNamespaces" dynamodbav:"maxConcurrentNamespaces"`
	AuthorizedNamespaces    []string `json:"authorizedNamespaces" dynamodbav:"authorizedNamespaces,stringset,omitempty"`
}

// AllowsNamespace reports whether the permission covers the namespace. An
// empty AuthorizedNamespaces set means all namespaces are allowed.
func (p *Permission) AllowsNamespace(namespace string) bool {
	if !p.IsAuthorized {
		return false
	}
	if len(p.AuthorizedNamespaces) == 0 {
		return true
	}
	for _, ns := range p.AuthorizedNamespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// Store is the durable permission table.
type Store interface {
	// Get returns the permission for a cost center, or (nil, nil) when the
	// cost center is unknown.
	Get(ctx context.Context, costCenter string) (*Permission, error)

	// Put writes a permission record.
	Put(ctx context.Context, p Permission) error
}
