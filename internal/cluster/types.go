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

package cluster

import "context"

// ResourceKind identifies a scalable workload kind.
type ResourceKind string

const (
	KindDeployment  ResourceKind = "Deployment"
	KindStatefulSet ResourceKind = "StatefulSet"
)

// ScalableResource is a workload whose replica count can be read and set.
type ScalableResource struct {
	Namespace string       `json:"namespace"`
	Kind      ResourceKind `json:"kind"`
	Name      string       `json:"name"`
	Replicas  int32        `json:"replicas"`
}

// Client is the orchestration API surface the rest of the system depends
// on. Implementations route every call through a resilience guard.
type Client interface {
	// ListNamespaces returns the names of all namespaces in the cluster.
	ListNamespaces(ctx context.Context) ([]string, error)

	// NamespaceExists reports whether the named namespace exists.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// ListScalableResources returns the deployments and statefulsets in a
	// namespace with their current desired replica counts.
	ListScalableResources(ctx context.Context, namespace string) ([]ScalableResource, error)

	// GetReplicas returns the desired replica count of a resource.
	GetReplicas(ctx context.Context, res ScalableResource) (int32, error)

	// SetReplicas sets the desired replica count of a resource.
	SetReplicas(ctx context.Context, res ScalableResource, replicas int32) error

	// CountRunningPods returns the number of pods in the Running phase in
	// a namespace.
	CountRunningPods(ctx context.Context, namespace string) (int, error)

	// GetNamespaceAnnotation reads an annotation off the namespace object,
	// returning "" when unset.
	GetNamespaceAnnotation(ctx context.Context, namespace, key string) (string, error)

	// SetNamespaceAnnotation writes (or, with an empty value, removes) an
	// annotation on the namespace object.
	SetNamespaceAnnotation(ctx context.Context, namespace, key, value string) error
}
