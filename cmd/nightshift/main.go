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

// nightshift schedules and admission-controls namespace activation to
// keep clusters cheap outside business hours.
package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	// Support cloud-provider kubeconfig auth out of cluster.
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/mikelane/nightshift/internal/admission"
	"github.com/mikelane/nightshift/internal/audit"
	"github.com/mikelane/nightshift/internal/cluster"
	"github.com/mikelane/nightshift/internal/cost"
	"github.com/mikelane/nightshift/internal/lifecycle"
	"github.com/mikelane/nightshift/internal/permissions"
	"github.com/mikelane/nightshift/internal/resilience"
	"github.com/mikelane/nightshift/internal/scheduler"
	"github.com/mikelane/nightshift/internal/server"
)

func main() {
	ctrl.SetLogger(zap.New(zap.UseDevMode(os.Getenv("NIGHTSHIFT_DEV_LOGGING") == "true")))
	logger := ctrl.Log.WithName("nightshift")

	ctx := ctrl.SetupSignalHandler()
	ctx = log.IntoContext(ctx, logger)

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err, "nightshift exited")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	listenAddr := getenv("NIGHTSHIFT_LISTEN_ADDR", "0.0.0.0")
	listenPort := getenvInt("NIGHTSHIFT_LISTEN_PORT", 8080)
	clusterName := getenv("NIGHTSHIFT_CLUSTER_NAME", "default")
	auditTable := getenv("NIGHTSHIFT_TABLE_AUDIT", "nightshift-activity")
	permTable := getenv("NIGHTSHIFT_TABLE_PERMISSIONS", "nightshift-permissions")
	snapshotDir := getenv("NIGHTSHIFT_SNAPSHOT_DIR", "/var/lib/nightshift")

	// Cluster API client.
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return err
	}
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return err
	}
	kube, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return err
	}
	clusterGuard := resilience.NewGuard("cluster", resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	cl := cluster.NewClient(kube, clusterGuard)

	// Durable store clients. The audit log and the permission store talk
	// to the same DynamoDB backend, so they share one breaker: an outage
	// there is a single dependency failing.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}
	db := dynamodb.NewFromConfig(awsCfg)

	storeGuard := resilience.NewGuard("durable-store", resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig())
	auditLog := audit.NewLogger(audit.NewDynamoStore(db, auditTable), storeGuard)

	permCache := permissions.NewCache(getenvDuration("NIGHTSHIFT_CACHE_TTL", 5*time.Minute))
	perms := permissions.NewService(permissions.NewDynamoStore(db, permTable), permCache, storeGuard)

	adm := admission.NewController(admission.Config{
		MaxActiveNamespaces: getenvInt("NIGHTSHIFT_MAX_ACTIVE", 5),
		ClusterName:         clusterName,
		Hours: admission.HoursConfig{
			Timezone:  getenv("NIGHTSHIFT_TZ", "UTC"),
			StartHour: getenvInt("NIGHTSHIFT_BUSINESS_START", 7),
			EndHour:   getenvInt("NIGHTSHIFT_BUSINESS_END", 20),
			Holidays:  splitCSV(os.Getenv("NIGHTSHIFT_HOLIDAYS")),
			Country:   os.Getenv("NIGHTSHIFT_HOLIDAY_COUNTRY"),
		},
	}, cl, perms, auditLog)

	mgr := lifecycle.NewManager(cl, adm, auditLog, clusterName)

	snapshots, err := scheduler.NewSnapshotStore(filepath.Join(snapshotDir, "tasks.json"))
	if err != nil {
		return err
	}
	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxWorkers = getenvInt("NIGHTSHIFT_MAX_WORKERS", schedCfg.MaxWorkers)
	schedCfg.PollInterval = getenvDuration("NIGHTSHIFT_POLL_INTERVAL", schedCfg.PollInterval)
	sched, err := scheduler.New(schedCfg, scheduler.DefaultExecutors(mgr), adm, snapshots)
	if err != nil {
		return err
	}

	api := server.NewServer(listenAddr, listenPort, mgr, sched, adm, auditLog, cost.NewEstimator(nil), clusterName)

	logger.Info("starting",
		"cluster", clusterName, "listen", listenAddr, "port", listenPort,
		"auditTable", auditTable, "permissionTable", permTable)

	errChan := make(chan error, 2)
	go func() { errChan <- sched.Run(ctx) }()
	go func() { errChan <- api.Start(ctx) }()

	// Whichever component exits first takes the process down.
	return <-errChan
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
