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

// Package lifecycle turns namespaces on and off. Deactivation records the
// current replica counts in a namespace annotation and scales everything
// to zero; activation restores the recorded counts. Both directions are
// idempotent and safe to re-run after a crash: the annotation is written
// before any scale-down and cleared only after a complete restore.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/admission"
	"github.com/mikelane/nightshift/internal/audit"
	"github.com/mikelane/nightshift/internal/cluster"
	"github.com/mikelane/nightshift/internal/fault"
)

// replicaAnnotation stores the pre-deactivation replica counts as JSON,
// keyed "Kind/name".
const replicaAnnotation = "nightshift.mikelane.io/original-replicas"

// defaultRestoreReplicas is used when a resource has no recorded count.
const defaultRestoreReplicas = 1

// Result reports what a lifecycle operation did.
type Result struct {
	Namespace       string `json:"namespace"`
	Changed         bool   `json:"changed"`
	ScaledResources int    `json:"scaledResources"`
	ActiveCount     int    `json:"activeCount"`
	Message         string `json:"message"`
}

// Manager performs namespace activation and deactivation.
type Manager struct {
	cluster     cluster.Client
	admission   *admission.Controller
	auditLog    *audit.Logger
	clusterName string

	// now is replaceable for tests.
	now func() time.Time
}

// NewManager wires a lifecycle manager.
func NewManager(cl cluster.Client, adm *admission.Controller, auditLog *audit.Logger, clusterName string) *Manager {
	return &Manager{
		cluster:     cl,
		admission:   adm,
		auditLog:    auditLog,
		clusterName: clusterName,
		now:         time.Now,
	}
}

// Activate restores a namespace's workloads to their recorded replica
// counts. Re-activating an already-active namespace is a no-op success.
func (m *Manager) Activate(ctx context.Context, namespace, costCenter, requestedBy string, scheduled bool) (Result, error) {
	logger := log.FromContext(ctx)

	decision := m.admission.ValidateActivation(ctx, admission.Request{
		Namespace:   namespace,
		CostCenter:  costCenter,
		RequestedBy: requestedBy,
		Scheduled:   scheduled,
	})
	if !decision.Allowed {
		return Result{Namespace: namespace, ActiveCount: decision.ActiveCount},
			fault.New(decision.Code, "%s", decision.Message)
	}

	resources, err := m.cluster.ListScalableResources(ctx, namespace)
	if err != nil {
		return Result{Namespace: namespace}, fault.Wrap(fault.CodeKubectl, err, "listing workloads in %s", namespace)
	}

	recorded, err := m.recordedReplicas(ctx, namespace)
	if err != nil {
		return Result{Namespace: namespace}, err
	}

	scaled := 0
	for _, res := range resources {
		if res.Replicas > 0 {
			continue
		}
		target := recorded[resourceKey(res)]
		if target <= 0 {
			target = defaultRestoreReplicas
		}
		if err := m.cluster.SetReplicas(ctx, res, target); err != nil {
			return Result{Namespace: namespace, Changed: scaled > 0, ScaledResources: scaled},
				fault.Wrap(fault.CodeKubectl, err, "restoring %s %s", res.Kind, res.Name)
		}
		scaled++
	}

	if scaled == 0 {
		// Already active (or empty): nothing to restore, nothing to log.
		return Result{
			Namespace:   namespace,
			ActiveCount: m.activeCount(ctx),
			Message:     fmt.Sprintf("namespace %s is already active", namespace),
		}, nil
	}

	if err := m.cluster.SetNamespaceAnnotation(ctx, namespace, replicaAnnotation, ""); err != nil {
		// The restore succeeded; a stale annotation only matters on the
		// next deactivation, which overwrites it.
		logger.Error(err, "failed to clear replica annotation", "namespace", namespace)
	}

	now := m.now()
	note := m.closeOpenEntry(ctx, namespace, costCenter, now)

	op := audit.OpManualActivation
	if scheduled {
		op = audit.OpScheduledActivation
	}
	m.auditLog.Record(ctx, audit.Entry{
		NamespaceName:  namespace,
		TimestampStart: audit.FormatTimestamp(now),
		OperationType:  op,
		CostCenter:     costCenter,
		ClusterName:    m.clusterName,
		RequestedBy:    requestedBy,
		Status:         "active",
		ErrorMessage:   note,
	})

	logger.Info("namespace activated",
		"namespace", namespace, "costCenter", costCenter, "restoredResources", scaled)

	return Result{
		Namespace:       namespace,
		Changed:         true,
		ScaledResources: scaled,
		ActiveCount:     m.activeCount(ctx),
		Message:         fmt.Sprintf("namespace %s activated, %d workloads restored", namespace, scaled),
	}, nil
}

// Deactivate records current replica counts and scales every workload to
// zero. Deactivating an already-dark namespace is a no-op success.
func (m *Manager) Deactivate(ctx context.Context, namespace, costCenter, requestedBy string, scheduled bool) (Result, error) {
	logger := log.FromContext(ctx)

	decision := m.admission.ValidateDeactivation(ctx, admission.Request{
		Namespace:   namespace,
		CostCenter:  costCenter,
		RequestedBy: requestedBy,
		Scheduled:   scheduled,
	})
	if !decision.Allowed {
		return Result{Namespace: namespace}, fault.New(decision.Code, "%s", decision.Message)
	}

	resources, err := m.cluster.ListScalableResources(ctx, namespace)
	if err != nil {
		return Result{Namespace: namespace}, fault.Wrap(fault.CodeKubectl, err, "listing workloads in %s", namespace)
	}

	var toStop []cluster.ScalableResource
	for _, res := range resources {
		if res.Replicas > 0 {
			toStop = append(toStop, res)
		}
	}
	if len(toStop) == 0 {
		return Result{
			Namespace:   namespace,
			ActiveCount: m.activeCount(ctx),
			Message:     fmt.Sprintf("namespace %s is already inactive", namespace),
		}, nil
	}

	// Merge with any counts recorded by an earlier partial run so a crash
	// between annotation write and scale-down loses nothing.
	recorded, err := m.recordedReplicas(ctx, namespace)
	if err != nil {
		return Result{Namespace: namespace}, err
	}
	for _, res := range toStop {
		recorded[resourceKey(res)] = res.Replicas
	}
	encoded, err := cluster.MarshalReplicaMap(recorded)
	if err != nil {
		return Result{Namespace: namespace}, fault.Wrap(fault.CodeUnexpected, err, "encoding replica record")
	}
	if err := m.cluster.SetNamespaceAnnotation(ctx, namespace, replicaAnnotation, encoded); err != nil {
		return Result{Namespace: namespace}, fault.Wrap(fault.CodeKubectl, err, "recording replica counts for %s", namespace)
	}

	stopped := 0
	for _, res := range toStop {
		if err := m.cluster.SetReplicas(ctx, res, 0); err != nil {
			return Result{Namespace: namespace, Changed: stopped > 0, ScaledResources: stopped},
				fault.Wrap(fault.CodeKubectl, err, "stopping %s %s", res.Kind, res.Name)
		}
		stopped++
	}

	now := m.now()
	note := m.closeOpenEntry(ctx, namespace, costCenter, now)

	op := audit.OpManualDeactivation
	if scheduled {
		op = audit.OpScheduledDeactivation
	}
	m.auditLog.Record(ctx, audit.Entry{
		NamespaceName:  namespace,
		TimestampStart: audit.FormatTimestamp(now),
		OperationType:  op,
		CostCenter:     costCenter,
		ClusterName:    m.clusterName,
		RequestedBy:    requestedBy,
		Status:         "inactive",
		ErrorMessage:   note,
	})

	logger.Info("namespace deactivated",
		"namespace", namespace, "costCenter", costCenter, "stoppedResources", stopped)

	return Result{
		Namespace:       namespace,
		Changed:         true,
		ScaledResources: stopped,
		ActiveCount:     m.activeCount(ctx),
		Message:         fmt.Sprintf("namespace %s deactivated, %d workloads stopped", namespace, stopped),
	}, nil
}

// closeOpenEntry closes the previous open entry for the namespace.
// Ownership is not transferred: the entry closes under its original cost
// center. A cost-center mismatch is logged and returned as a note for
// the entry that follows.
func (m *Manager) closeOpenEntry(ctx context.Context, namespace, costCenter string, now time.Time) string {
	open, err := m.auditLog.LatestOpen(ctx, namespace)
	if err != nil {
		log.FromContext(ctx).Error(err, "could not look up open audit entry", "namespace", namespace)
		return ""
	}
	if open == nil {
		return ""
	}
	note := ""
	if open.CostCenter != costCenter {
		note = fmt.Sprintf("previous window belonged to cost center %s", open.CostCenter)
		log.FromContext(ctx).Info("cost center differs from the one that opened the entry",
			"namespace", namespace, "openedBy", open.CostCenter, "requestedBy", costCenter)
	}
	m.auditLog.Close(ctx, namespace, open.TimestampStart, now)
	return note
}

// activeCount reads the live active-namespace count for the response.
// A counting failure only loses the number, never the operation.
func (m *Manager) activeCount(ctx context.Context) int {
	n, err := m.admission.ActiveNamespaceCount(ctx)
	if err != nil {
		log.FromContext(ctx).Error(err, "could not count active namespaces")
		return 0
	}
	return n
}

// recordedReplicas reads the replica annotation, tolerating its absence.
func (m *Manager) recordedReplicas(ctx context.Context, namespace string) (map[string]int32, error) {
	raw, err := m.cluster.GetNamespaceAnnotation(ctx, namespace, replicaAnnotation)
	if err != nil {
		return nil, fault.Wrap(fault.CodeKubectl, err, "reading replica record for %s", namespace)
	}
	recorded, err := cluster.UnmarshalReplicaMap(raw)
	if err != nil {
		// A corrupt record falls back to default restore counts rather
		// than blocking activation.
		log.FromContext(ctx).Error(err, "corrupt replica annotation, using defaults", "namespace", namespace)
		return make(map[string]int32), nil
	}
	return recorded, nil
}

func resourceKey(res cluster.ScalableResource) string {
	return fmt.Sprintf("%s/%s", res.Kind, res.Name)
}
