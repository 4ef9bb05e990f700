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

// Package cost estimates the money saved by keeping namespaces dark.
// Savings are derived from closed deactivation audit entries: each one
// records how long a namespace stayed scaled to zero.
package cost

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mikelane/nightshift/internal/audit"
)

// Config defines the pricing assumptions for savings estimation.
type Config struct {
	Currency          string
	CPUCostPerHour    float64
	MemoryCostPerHour float64

	// AvgNamespaceCPU and AvgNamespaceMemoryGB describe the footprint of a
	// typical namespace; the per-workload detail is gone once everything
	// is scaled to zero, so savings use this flat-rate model.
	AvgNamespaceCPU      float64
	AvgNamespaceMemoryGB float64
}

// DefaultConfig returns the default pricing configuration.
func DefaultConfig() *Config {
	return &Config{
		CPUCostPerHour:       0.04,  // $0.04 per vCPU-hour
		MemoryCostPerHour:    0.005, // $0.005 per GB-hour
		AvgNamespaceCPU:      4.0,
		AvgNamespaceMemoryGB: 8.0,
		Currency:             "USD",
	}
}

// CostCenterSavings aggregates one cost center's dark time.
type CostCenterSavings struct {
	CostCenter string  `json:"costCenter"`
	Windows    int     `json:"windows"`
	DarkHours  float64 `json:"darkHours"`
	Saved      string  `json:"saved"`
}

// Report is the savings summary over a set of audit entries.
type Report struct {
	Currency    string              `json:"currency"`
	HourlyRate  string              `json:"hourlyRate"`
	TotalHours  float64             `json:"totalDarkHours"`
	TotalSaved  string              `json:"totalSaved"`
	CostCenters []CostCenterSavings `json:"costCenters"`
}

// Estimator calculates downtime savings from audit history.
type Estimator struct {
	config *Config
	mu     sync.RWMutex
}

// NewEstimator creates a savings estimator with the given configuration.
// If config is nil, default configuration is used.
func NewEstimator(config *Config) *Estimator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Estimator{config: config}
}

// HourlyRate returns what one dark namespace saves per hour.
func (e *Estimator) HourlyRate() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.AvgNamespaceCPU*e.config.CPUCostPerHour +
		e.config.AvgNamespaceMemoryGB*e.config.MemoryCostPerHour
}

// Report sums the dark time in closed deactivation entries, grouped by
// cost center. Open windows and validation entries contribute nothing.
// A window closed so fast it rounds to zero minutes still counts as a
// window; it just saves nothing.
func (e *Estimator) Report(entries []audit.Entry) Report {
	rate := e.HourlyRate()

	e.mu.RLock()
	currency := e.config.Currency
	e.mu.RUnlock()

	type acc struct {
		windows int
		hours   float64
	}
	perCC := make(map[string]*acc)
	var totalHours float64

	for i := range entries {
		entry := &entries[i]
		if !deactivation(entry.OperationType) || entry.Open() {
			continue
		}
		hours := entry.DurationMinutes / 60
		if hours < 0 {
			continue
		}
		a := perCC[entry.CostCenter]
		if a == nil {
			a = &acc{}
			perCC[entry.CostCenter] = a
		}
		a.windows++
		a.hours += hours
		totalHours += hours
	}

	report := Report{
		Currency:   currency,
		HourlyRate: formatCost(rate),
		TotalHours: totalHours,
		TotalSaved: formatCost(totalHours * rate),
	}
	for cc, a := range perCC {
		report.CostCenters = append(report.CostCenters, CostCenterSavings{
			CostCenter: cc,
			Windows:    a.windows,
			DarkHours:  a.hours,
			Saved:      formatCost(a.hours * rate),
		})
	}
	sort.Slice(report.CostCenters, func(i, j int) bool {
		return report.CostCenters[i].CostCenter < report.CostCenters[j].CostCenter
	})
	return report
}

func deactivation(op audit.Operation) bool {
	return op == audit.OpManualDeactivation || op == audit.OpScheduledDeactivation
}

// GetConfig returns the current pricing configuration.
func (e *Estimator) GetConfig() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// UpdateConfig updates the pricing configuration.
func (e *Estimator) UpdateConfig(config *Config) {
	if config != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.config = config
	}
}

// formatCost formats a cost value with 4 decimal places for transparency.
func formatCost(cost float64) string {
	return fmt.Sprintf("%.4f", cost)
}
