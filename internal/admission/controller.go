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

// Package admission decides whether a namespace activation may proceed:
// the requesting cost center must be authorized for the namespace, and
// outside business hours the count of active user namespaces is capped.
// The count is always recomputed from live cluster state; no durable
// counter is trusted.
package admission

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/nightshift/internal/audit"
	"github.com/mikelane/nightshift/internal/cluster"
	"github.com/mikelane/nightshift/internal/fault"
	"github.com/mikelane/nightshift/internal/permissions"
)

// systemNamespaces never count toward the active-namespace limit and are
// never activated or deactivated.
var systemNamespaces = map[string]bool{
	"default":         true,
	"kube-system":     true,
	"kube-public":     true,
	"kube-node-lease": true,
	"ingress-nginx":   true,
	"monitoring":      true,
	"cert-manager":    true,
}

// IsSystemNamespace reports whether a namespace is infrastructure and so
// exempt from lifecycle management.
func IsSystemNamespace(name string) bool {
	return systemNamespaces[name]
}

// Config tunes the admission controller.
type Config struct {
	// MaxActiveNamespaces caps concurrently active user namespaces outside
	// business hours. Default: 5.
	MaxActiveNamespaces int

	// ClusterName appears in audit entries.
	ClusterName string

	Hours HoursConfig
}

// DefaultConfig returns the default admission configuration.
func DefaultConfig() Config {
	return Config{
		MaxActiveNamespaces: 5,
		ClusterName:         "default",
		Hours:               DefaultHoursConfig(),
	}
}

// Request identifies one activation attempt.
type Request struct {
	Namespace   string
	CostCenter  string
	RequestedBy string
	Scheduled   bool
}

// Decision is the outcome of a validation. Code is empty when Allowed.
type Decision struct {
	Allowed      bool         `json:"allowed"`
	Code         fault.Code   `json:"code,omitempty"`
	Message      string       `json:"message"`
	ActiveCount  int          `json:"activeCount"`
	Limit        int          `json:"limit"`
	LimitApplies bool         `json:"limitApplies"`
	Source       audit.Source `json:"validationSource,omitempty"`
}

// Controller implements admission control over live cluster state.
type Controller struct {
	config      Config
	hours       *BusinessHours
	cluster     cluster.Client
	permissions *permissions.Service
	auditLog    *audit.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewController wires the admission controller.
func NewController(cfg Config, cl cluster.Client, perms *permissions.Service, auditLog *audit.Logger) *Controller {
	if cfg.MaxActiveNamespaces <= 0 {
		cfg.MaxActiveNamespaces = DefaultConfig().MaxActiveNamespaces
	}
	return &Controller{
		config:      cfg,
		hours:       NewBusinessHours(cfg.Hours),
		cluster:     cl,
		permissions: perms,
		auditLog:    auditLog,
		now:         time.Now,
	}
}

// IsNonBusinessHours reports the business-hours state at t. Errors in the
// underlying computation cannot occur after construction; a malformed
// configuration already degraded to the permissive fallback window.
func (c *Controller) IsNonBusinessHours(t time.Time) bool {
	return c.hours.IsNonBusinessHours(t)
}

// HoursStatus renders the current business-hours state for the API.
func (c *Controller) HoursStatus() Status {
	return c.hours.StatusAt(c.now())
}

// ActiveNamespaceCount recomputes the number of active user namespaces
// from live cluster state. A namespace is active when it has at least one
// running pod or any scalable resource with desired replicas above zero.
func (c *Controller) ActiveNamespaceCount(ctx context.Context) (int, error) {
	names, err := c.cluster.ListNamespaces(ctx)
	if err != nil {
		return 0, fault.Wrap(fault.CodeCount, err, "listing namespaces for active count")
	}

	count := 0
	for _, name := range names {
		if IsSystemNamespace(name) {
			continue
		}
		active, err := c.isActive(ctx, name)
		if err != nil {
			return 0, fault.Wrap(fault.CodeCount, err, "checking activity of namespace %s", name)
		}
		if active {
			count++
		}
	}
	return count, nil
}

// isActive applies the activity predicate to one namespace.
func (c *Controller) isActive(ctx context.Context, namespace string) (bool, error) {
	running, err := c.cluster.CountRunningPods(ctx, namespace)
	if err != nil {
		return false, err
	}
	if running > 0 {
		return true, nil
	}

	resources, err := c.cluster.ListScalableResources(ctx, namespace)
	if err != nil {
		return false, err
	}
	for _, r := range resources {
		if r.Replicas > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ValidateActivation runs the full admission check for an activation
// request. Every outcome, approved or rejected, produces exactly one
// audit entry. Dependency failures fail closed; only the business-hours
// computation fails open.
func (c *Controller) ValidateActivation(ctx context.Context, req Request) Decision {
	d := c.validate(ctx, req)
	c.recordDecision(ctx, req, d)
	return d
}

func (c *Controller) validate(ctx context.Context, req Request) Decision {
	limit := c.config.MaxActiveNamespaces

	// Step 1: input validation.
	if req.Namespace == "" || req.CostCenter == "" {
		return Decision{
			Code:    fault.CodeValidation,
			Message: "namespace and costCenter are required",
			Limit:   limit,
			Source:  audit.SourceError,
		}
	}
	if IsSystemNamespace(req.Namespace) {
		return Decision{
			Code:    fault.CodeValidation,
			Message: fmt.Sprintf("namespace %s is a system namespace", req.Namespace),
			Limit:   limit,
			Source:  audit.SourceError,
		}
	}

	// Step 2: the namespace must exist.
	exists, err := c.cluster.NamespaceExists(ctx, req.Namespace)
	if err != nil {
		return Decision{
			Code:    c.dependencyCode(err, fault.CodeKubectl),
			Message: fmt.Sprintf("could not confirm namespace %s: %v", req.Namespace, err),
			Limit:   limit,
			Source:  audit.SourceError,
		}
	}
	if !exists {
		return Decision{
			Code:    fault.CodeNamespaceNotFound,
			Message: fmt.Sprintf("namespace %s does not exist", req.Namespace),
			Limit:   limit,
			Source:  audit.SourceError,
		}
	}

	// Step 3: cost-center authorization.
	perm, lookupSource, err := c.permissions.Lookup(ctx, req.CostCenter)
	source := auditSource(lookupSource)
	if err != nil {
		return Decision{
			Code:    c.dependencyCode(err, fault.CodePermissionCheck),
			Message: fmt.Sprintf("could not check cost center %s: %v", req.CostCenter, err),
			Limit:   limit,
			Source:  audit.SourceError,
		}
	}
	if perm == nil {
		return Decision{
			Code:    fault.CodeAuthorization,
			Message: fmt.Sprintf("cost center %s is not registered", req.CostCenter),
			Limit:   limit,
			Source:  source,
		}
	}
	if !perm.AllowsNamespace(req.Namespace) {
		msg := fmt.Sprintf("cost center %s is not authorized", req.CostCenter)
		if perm.IsAuthorized {
			msg = fmt.Sprintf("cost center %s is not authorized for namespace %s (authorized: %v)",
				req.CostCenter, req.Namespace, perm.AuthorizedNamespaces)
		}
		return Decision{
			Code:    fault.CodeAuthorization,
			Message: msg,
			Limit:   limit,
			Source:  source,
		}
	}

	// Step 4: idempotent re-activation does not consume capacity.
	active, err := c.isActive(ctx, req.Namespace)
	if err != nil {
		return Decision{
			Code:    c.dependencyCode(err, fault.CodeKubectl),
			Message: fmt.Sprintf("could not inspect namespace %s: %v", req.Namespace, err),
			Limit:   limit,
			Source:  audit.SourceError,
		}
	}
	if active {
		return Decision{
			Allowed: true,
			Message: fmt.Sprintf("namespace %s is already active", req.Namespace),
			Limit:   limit,
			Source:  source,
		}
	}

	// Step 5: concurrency cap, enforced outside business hours only.
	// The hours computation cannot fail here (see NewBusinessHours); the
	// fail-open policy lives in that constructor's degraded fallback.
	nonBusiness := c.hours.IsNonBusinessHours(c.now())
	count, err := c.ActiveNamespaceCount(ctx)
	if err != nil {
		return Decision{
			Code:         fault.CodeCount,
			Message:      fmt.Sprintf("could not count active namespaces: %v", err),
			Limit:        limit,
			LimitApplies: nonBusiness,
			Source:       audit.SourceError,
		}
	}
	if nonBusiness && count >= limit {
		return Decision{
			Code: fault.CodeLimitExceeded,
			Message: fmt.Sprintf("active namespace limit reached outside business hours: %d of %d in use",
				count, limit),
			ActiveCount:  count,
			Limit:        limit,
			LimitApplies: true,
			Source:       source,
		}
	}

	// Step 6: approved.
	return Decision{
		Allowed:      true,
		Message:      fmt.Sprintf("activation approved (%d of %d namespaces active)", count, limit),
		ActiveCount:  count,
		Limit:        limit,
		LimitApplies: nonBusiness,
		Source:       source,
	}
}

// ValidateDeactivation checks only cost-center authorization; turning
// things off never hits the concurrency cap.
func (c *Controller) ValidateDeactivation(ctx context.Context, req Request) Decision {
	limit := c.config.MaxActiveNamespaces

	d := func() Decision {
		if req.Namespace == "" || req.CostCenter == "" {
			return Decision{
				Code:    fault.CodeValidation,
				Message: "namespace and costCenter are required",
				Limit:   limit,
				Source:  audit.SourceError,
			}
		}

		perm, lookupSource, err := c.permissions.Lookup(ctx, req.CostCenter)
		source := auditSource(lookupSource)
		if err != nil {
			return Decision{
				Code:    c.dependencyCode(err, fault.CodePermissionCheck),
				Message: fmt.Sprintf("could not check cost center %s: %v", req.CostCenter, err),
				Limit:   limit,
				Source:  audit.SourceError,
			}
		}
		if perm == nil || !perm.AllowsNamespace(req.Namespace) {
			return Decision{
				Code:    fault.CodeAuthorization,
				Message: fmt.Sprintf("cost center %s is not authorized for namespace %s", req.CostCenter, req.Namespace),
				Limit:   limit,
				Source:  source,
			}
		}
		return Decision{
			Allowed: true,
			Message: "deactivation authorized",
			Limit:   limit,
			Source:  source,
		}
	}()

	c.recordDecision(ctx, req, d)
	return d
}

// dependencyCode keeps circuit-open and timeout codes from the guard and
// applies the step's default code otherwise.
func (c *Controller) dependencyCode(err error, def fault.Code) fault.Code {
	switch fault.CodeOf(err) {
	case fault.CodeCircuitOpen, fault.CodeTimeout, fault.CodePermissionCheck, fault.CodeCount:
		return fault.CodeOf(err)
	default:
		return def
	}
}

func (c *Controller) recordDecision(ctx context.Context, req Request, d Decision) {
	result := "approved"
	if !d.Allowed {
		result = "rejected"
	}

	entry := audit.Entry{
		NamespaceName:    req.Namespace,
		TimestampStart:   audit.FormatTimestamp(c.now()),
		OperationType:    audit.OpValidation,
		CostCenter:       req.CostCenter,
		ClusterName:      c.config.ClusterName,
		RequestedBy:      req.RequestedBy,
		Status:           result,
		TimestampEnd:     audit.FormatTimestamp(c.now()),
		ValidationResult: result,
		ValidationSource: d.Source,
	}
	if !d.Allowed {
		entry.ErrorMessage = fmt.Sprintf("%s: %s", d.Code, d.Message)
	}
	c.auditLog.Record(ctx, entry)

	log.FromContext(ctx).V(1).Info("validation decision",
		"namespace", req.Namespace, "costCenter", req.CostCenter,
		"allowed", d.Allowed, "code", string(d.Code), "activeCount", d.ActiveCount)
}

func auditSource(s permissions.LookupSource) audit.Source {
	switch s {
	case permissions.LookupCache, permissions.LookupStale:
		return audit.SourceCache
	case permissions.LookupStore:
		return audit.SourceStore
	default:
		return audit.SourceError
	}
}
