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

// Package cluster wraps the Kubernetes API behind the narrow orchestration
// surface the scheduler and admission controller need: namespace listing,
// replica get/set on deployments and statefulsets, and running-pod counts.
// Calls are imperative; there is no watch-based reconciliation.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/mikelane/nightshift/internal/resilience"
)

// kubeClient implements Client on top of a controller-runtime client.
type kubeClient struct {
	client client.Client
	guard  *resilience.Guard
}

// NewClient creates an orchestration client. All calls run inside the
// given guard; pass the cluster-API guard, not the store guard.
func NewClient(c client.Client, guard *resilience.Guard) Client {
	return &kubeClient{client: c, guard: guard}
}

func (k *kubeClient) ListNamespaces(ctx context.Context) ([]string, error) {
	var list corev1.NamespaceList
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		return k.client.List(ctx, &list)
	})
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}

	names := make([]string, 0, len(list.Items))
	for i := range list.Items {
		// Terminating namespaces no longer count as present.
		if list.Items[i].Status.Phase == corev1.NamespaceTerminating {
			continue
		}
		names = append(names, list.Items[i].Name)
	}
	return names, nil
}

func (k *kubeClient) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	var ns corev1.Namespace
	found := true
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		err := k.client.Get(ctx, types.NamespacedName{Name: namespace}, &ns)
		if apierrors.IsNotFound(err) {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("getting namespace %s: %w", namespace, err)
	}
	return found, nil
}

func (k *kubeClient) ListScalableResources(ctx context.Context, namespace string) ([]ScalableResource, error) {
	var deployments appsv1.DeploymentList
	var statefulsets appsv1.StatefulSetList

	err := k.guard.Do(ctx, func(ctx context.Context) error {
		if err := k.client.List(ctx, &deployments, client.InNamespace(namespace)); err != nil {
			return err
		}
		return k.client.List(ctx, &statefulsets, client.InNamespace(namespace))
	})
	if err != nil {
		return nil, fmt.Errorf("listing scalable resources in %s: %w", namespace, err)
	}

	resources := make([]ScalableResource, 0, len(deployments.Items)+len(statefulsets.Items))
	for i := range deployments.Items {
		d := &deployments.Items[i]
		resources = append(resources, ScalableResource{
			Namespace: namespace,
			Kind:      KindDeployment,
			Name:      d.Name,
			Replicas:  replicasOrDefault(d.Spec.Replicas),
		})
	}
	for i := range statefulsets.Items {
		s := &statefulsets.Items[i]
		resources = append(resources, ScalableResource{
			Namespace: namespace,
			Kind:      KindStatefulSet,
			Name:      s.Name,
			Replicas:  replicasOrDefault(s.Spec.Replicas),
		})
	}
	return resources, nil
}

func (k *kubeClient) GetReplicas(ctx context.Context, res ScalableResource) (int32, error) {
	var replicas int32
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		obj, err := k.getWorkload(ctx, res)
		if err != nil {
			return err
		}
		switch o := obj.(type) {
		case *appsv1.Deployment:
			replicas = replicasOrDefault(o.Spec.Replicas)
		case *appsv1.StatefulSet:
			replicas = replicasOrDefault(o.Spec.Replicas)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("getting replicas for %s/%s: %w", res.Namespace, res.Name, err)
	}
	return replicas, nil
}

func (k *kubeClient) SetReplicas(ctx context.Context, res ScalableResource, replicas int32) error {
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		obj, err := k.getWorkload(ctx, res)
		if err != nil {
			return err
		}
		switch o := obj.(type) {
		case *appsv1.Deployment:
			o.Spec.Replicas = &replicas
		case *appsv1.StatefulSet:
			o.Spec.Replicas = &replicas
		}
		return k.client.Update(ctx, obj)
	})
	if err != nil {
		return fmt.Errorf("scaling %s %s/%s to %d: %w", res.Kind, res.Namespace, res.Name, replicas, err)
	}
	return nil
}

func (k *kubeClient) CountRunningPods(ctx context.Context, namespace string) (int, error) {
	var pods corev1.PodList
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		return k.client.List(ctx, &pods, client.InNamespace(namespace))
	})
	if err != nil {
		return 0, fmt.Errorf("listing pods in %s: %w", namespace, err)
	}

	running := 0
	for i := range pods.Items {
		if pods.Items[i].Status.Phase == corev1.PodRunning {
			running++
		}
	}
	return running, nil
}

func (k *kubeClient) GetNamespaceAnnotation(ctx context.Context, namespace, key string) (string, error) {
	var ns corev1.Namespace
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		return k.client.Get(ctx, types.NamespacedName{Name: namespace}, &ns)
	})
	if err != nil {
		return "", fmt.Errorf("getting namespace %s: %w", namespace, err)
	}
	return ns.Annotations[key], nil
}

func (k *kubeClient) SetNamespaceAnnotation(ctx context.Context, namespace, key, value string) error {
	err := k.guard.Do(ctx, func(ctx context.Context) error {
		var ns corev1.Namespace
		if err := k.client.Get(ctx, types.NamespacedName{Name: namespace}, &ns); err != nil {
			return err
		}
		if value == "" {
			if _, ok := ns.Annotations[key]; !ok {
				return nil
			}
			delete(ns.Annotations, key)
		} else {
			if ns.Annotations == nil {
				ns.Annotations = make(map[string]string)
			}
			ns.Annotations[key] = value
		}
		return k.client.Update(ctx, &ns)
	})
	if err != nil {
		return fmt.Errorf("annotating namespace %s: %w", namespace, err)
	}
	return nil
}

// getWorkload fetches the typed workload object for a resource reference.
func (k *kubeClient) getWorkload(ctx context.Context, res ScalableResource) (client.Object, error) {
	key := types.NamespacedName{Namespace: res.Namespace, Name: res.Name}
	switch res.Kind {
	case KindDeployment:
		var d appsv1.Deployment
		if err := k.client.Get(ctx, key, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case KindStatefulSet:
		var s appsv1.StatefulSet
		if err := k.client.Get(ctx, key, &s); err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("unsupported resource kind %q", res.Kind)
	}
}

func replicasOrDefault(r *int32) int32 {
	if r == nil {
		return 1
	}
	return *r
}

// MarshalReplicaMap encodes resource name to replica count for annotation
// storage during deactivation.
func MarshalReplicaMap(m map[string]int32) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalReplicaMap decodes an annotation written by MarshalReplicaMap.
// An empty value decodes to an empty map.
func UnmarshalReplicaMap(s string) (map[string]int32, error) {
	m := make(map[string]int32)
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parsing replica annotation: %w", err)
	}
	return m, nil
}
