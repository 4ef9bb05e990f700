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

package lifecycle

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/mikelane/nightshift/internal/admission"
	"github.com/mikelane/nightshift/internal/audit"
	"github.com/mikelane/nightshift/internal/cluster"
	"github.com/mikelane/nightshift/internal/fault"
	"github.com/mikelane/nightshift/internal/permissions"
	"github.com/mikelane/nightshift/internal/resilience"
)

// permStore authorizes CC100 and CC200 for any namespace and knows no
// other cost centers.
type permStore struct{}

func (permStore) Get(_ context.Context, costCenter string) (*permissions.Permission, error) {
	switch costCenter {
	case "CC100", "CC200":
		return &permissions.Permission{
			CostCenter:              costCenter,
			IsAuthorized:            true,
			MaxConcurrentNamespaces: 5,
		}, nil
	default:
		return nil, nil
	}
}

func (permStore) Put(context.Context, permissions.Permission) error { return nil }

type testEnv struct {
	raw     client.Client
	store   *audit.MemoryStore
	manager *Manager
}

func newEnv(objs ...runtime.Object) *testEnv {
	scheme := runtime.NewScheme()
	Expect(corev1.AddToScheme(scheme)).To(Succeed())
	Expect(appsv1.AddToScheme(scheme)).To(Succeed())

	raw := fake.NewClientBuilder().
		WithScheme(scheme).
		WithRuntimeObjects(objs...).
		Build()

	clusterGuard := resilience.NewGuard("cluster", resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	cl := cluster.NewClient(raw, clusterGuard)

	store := audit.NewMemoryStore()
	auditGuard := resilience.NewGuard("audit", resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	auditLog := audit.NewLogger(store, auditGuard)

	permGuard := resilience.NewGuard("permissions", resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	perms := permissions.NewService(permStore{}, permissions.NewCache(5*time.Minute), permGuard)

	adm := admission.NewController(admission.Config{ClusterName: "test-cluster"}, cl, perms, auditLog)

	return &testEnv{
		raw:     raw,
		store:   store,
		manager: NewManager(cl, adm, auditLog, "test-cluster"),
	}
}

func (e *testEnv) at(stamp string) {
	t, err := time.Parse(time.RFC3339, stamp)
	Expect(err).NotTo(HaveOccurred())
	e.manager.now = func() time.Time { return t }
}

// entriesOf filters out the validation entries the admission layer writes
// alongside every lifecycle call.
func (e *testEnv) entriesOf(op audit.Operation) []audit.Entry {
	var out []audit.Entry
	for _, entry := range e.store.All() {
		if entry.OperationType == op {
			out = append(out, entry)
		}
	}
	return out
}

func (e *testEnv) deploymentReplicas(ns, name string) int32 {
	var d appsv1.Deployment
	Expect(e.raw.Get(context.Background(), types.NamespacedName{Namespace: ns, Name: name}, &d)).To(Succeed())
	if d.Spec.Replicas == nil {
		return 1
	}
	return *d.Spec.Replicas
}

func (e *testEnv) statefulSetReplicas(ns, name string) int32 {
	var s appsv1.StatefulSet
	Expect(e.raw.Get(context.Background(), types.NamespacedName{Namespace: ns, Name: name}, &s)).To(Succeed())
	if s.Spec.Replicas == nil {
		return 1
	}
	return *s.Spec.Replicas
}

func (e *testEnv) annotation(ns string) string {
	var n corev1.Namespace
	Expect(e.raw.Get(context.Background(), types.NamespacedName{Name: ns}, &n)).To(Succeed())
	return n.Annotations[replicaAnnotation]
}

func int32Ptr(n int32) *int32 { return &n }

func namespaceObj(name string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
}

func deploymentObj(ns, name string, replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name},
		Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(replicas)},
	}
}

func statefulSetObj(ns, name string, replicas int32) *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name},
		Spec:       appsv1.StatefulSetSpec{Replicas: int32Ptr(replicas)},
	}
}

var _ = Describe("Lifecycle Manager", func() {
	const (
		eveningStop  = "2025-06-02T20:00:00Z"
		morningStart = "2025-06-03T04:00:00Z"
	)

	ctx := context.Background()

	Describe("Deactivate", func() {
		It("scales every workload to zero and records the original counts", func() {
			env := newEnv(
				namespaceObj("app-dev"),
				deploymentObj("app-dev", "api", 3),
				deploymentObj("app-dev", "worker", 2),
				statefulSetObj("app-dev", "db", 1),
			)
			env.at(eveningStop)

			res, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
			Expect(res.ScaledResources).To(Equal(3))
			Expect(res.ActiveCount).To(Equal(0))

			Expect(env.deploymentReplicas("app-dev", "api")).To(Equal(int32(0)))
			Expect(env.deploymentReplicas("app-dev", "worker")).To(Equal(int32(0)))
			Expect(env.statefulSetReplicas("app-dev", "db")).To(Equal(int32(0)))

			recorded, err := cluster.UnmarshalReplicaMap(env.annotation("app-dev"))
			Expect(err).NotTo(HaveOccurred())
			Expect(recorded).To(Equal(map[string]int32{
				"Deployment/api":    3,
				"Deployment/worker": 2,
				"StatefulSet/db":    1,
			}))
		})

		It("writes one open deactivation entry", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 3))
			env.at(eveningStop)

			_, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())

			entries := env.entriesOf(audit.OpManualDeactivation)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Open()).To(BeTrue())
			Expect(entries[0].Status).To(Equal("inactive"))
			Expect(entries[0].CostCenter).To(Equal("CC100"))
			Expect(entries[0].ClusterName).To(Equal("test-cluster"))
		})

		It("marks scheduled runs as scheduled_deactivation", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 1))
			env.at(eveningStop)

			_, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "scheduler", true)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.entriesOf(audit.OpScheduledDeactivation)).To(HaveLen(1))
			Expect(env.entriesOf(audit.OpManualDeactivation)).To(BeEmpty())
		})

		It("is a no-op on an already dark namespace", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 0))
			env.at(eveningStop)

			res, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeFalse())
			Expect(res.ActiveCount).To(Equal(0))
			Expect(res.Message).To(ContainSubstring("already inactive"))
			Expect(env.entriesOf(audit.OpManualDeactivation)).To(BeEmpty())
		})

		It("rejects an unknown cost center", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 3))
			env.at(eveningStop)

			_, err := env.manager.Deactivate(ctx, "app-dev", "CC666", "mallory", false)
			Expect(err).To(HaveOccurred())
			Expect(fault.CodeOf(err)).To(Equal(fault.CodeAuthorization))
			Expect(env.deploymentReplicas("app-dev", "api")).To(Equal(int32(3)))
		})

		It("keeps counts from an earlier partial run in the replica record", func() {
			env := newEnv(
				namespaceObj("app-dev"),
				deploymentObj("app-dev", "api", 4),
				deploymentObj("app-dev", "worker", 0),
			)
			// Simulate a crashed earlier run that recorded worker=2 and
			// stopped it before dying.
			var ns corev1.Namespace
			Expect(env.raw.Get(ctx, types.NamespacedName{Name: "app-dev"}, &ns)).To(Succeed())
			ns.Annotations = map[string]string{replicaAnnotation: `{"Deployment/worker":2}`}
			Expect(env.raw.Update(ctx, &ns)).To(Succeed())
			env.at(eveningStop)

			_, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())

			recorded, err := cluster.UnmarshalReplicaMap(env.annotation("app-dev"))
			Expect(err).NotTo(HaveOccurred())
			Expect(recorded).To(Equal(map[string]int32{
				"Deployment/api":    4,
				"Deployment/worker": 2,
			}))
		})
	})

	Describe("Activate", func() {
		It("restores recorded replica counts and clears the record", func() {
			env := newEnv(
				namespaceObj("app-dev"),
				deploymentObj("app-dev", "api", 3),
				statefulSetObj("app-dev", "db", 2),
			)
			env.at(eveningStop)
			_, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())

			env.at(morningStart)
			res, err := env.manager.Activate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeTrue())
			Expect(res.ScaledResources).To(Equal(2))
			Expect(res.ActiveCount).To(Equal(1))

			Expect(env.deploymentReplicas("app-dev", "api")).To(Equal(int32(3)))
			Expect(env.statefulSetReplicas("app-dev", "db")).To(Equal(int32(2)))
			Expect(env.annotation("app-dev")).To(BeEmpty())
		})

		It("defaults to one replica when no count was recorded", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 0))
			env.at(morningStart)

			_, err := env.manager.Activate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.deploymentReplicas("app-dev", "api")).To(Equal(int32(1)))
		})

		It("falls back to defaults on a corrupt replica record", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 0))
			var ns corev1.Namespace
			Expect(env.raw.Get(ctx, types.NamespacedName{Name: "app-dev"}, &ns)).To(Succeed())
			ns.Annotations = map[string]string{replicaAnnotation: "{not json"}
			Expect(env.raw.Update(ctx, &ns)).To(Succeed())
			env.at(morningStart)

			_, err := env.manager.Activate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(env.deploymentReplicas("app-dev", "api")).To(Equal(int32(1)))
		})

		It("closes the open deactivation entry with the dark duration", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 3))
			env.at(eveningStop)
			_, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())

			env.at(morningStart)
			_, err = env.manager.Activate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())

			closed := env.entriesOf(audit.OpManualDeactivation)
			Expect(closed).To(HaveLen(1))
			Expect(closed[0].Open()).To(BeFalse())
			Expect(closed[0].DurationMinutes).To(BeNumerically("==", 480))

			opened := env.entriesOf(audit.OpManualActivation)
			Expect(opened).To(HaveLen(1))
			Expect(opened[0].Open()).To(BeTrue())
			Expect(opened[0].Status).To(Equal("active"))
		})

		It("is a no-op on an already active namespace", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 3))
			env.at(morningStart)

			res, err := env.manager.Activate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Changed).To(BeFalse())
			Expect(res.ActiveCount).To(Equal(1))
			Expect(res.Message).To(ContainSubstring("already active"))
			Expect(env.entriesOf(audit.OpManualActivation)).To(BeEmpty())
		})

		It("rejects an unknown namespace", func() {
			env := newEnv(namespaceObj("app-dev"))
			env.at(morningStart)

			_, err := env.manager.Activate(ctx, "ghost", "CC100", "alice", false)
			Expect(err).To(HaveOccurred())
			Expect(fault.CodeOf(err)).To(Equal(fault.CodeNamespaceNotFound))
		})

		It("allows a different cost center to reactivate, closing under the original", func() {
			env := newEnv(namespaceObj("app-dev"), deploymentObj("app-dev", "api", 2))
			env.at(eveningStop)
			_, err := env.manager.Deactivate(ctx, "app-dev", "CC100", "alice", false)
			Expect(err).NotTo(HaveOccurred())

			env.at(morningStart)
			_, err = env.manager.Activate(ctx, "app-dev", "CC200", "bob", false)
			Expect(err).NotTo(HaveOccurred())

			closed := env.entriesOf(audit.OpManualDeactivation)
			Expect(closed).To(HaveLen(1))
			Expect(closed[0].Open()).To(BeFalse())
			Expect(closed[0].CostCenter).To(Equal("CC100"))

			opened := env.entriesOf(audit.OpManualActivation)
			Expect(opened).To(HaveLen(1))
			Expect(opened[0].CostCenter).To(Equal("CC200"))
			Expect(opened[0].ErrorMessage).To(ContainSubstring("CC100"))
		})
	})
})
