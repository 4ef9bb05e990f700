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

package admission

import (
	"fmt"
	"time"
)

// Fallback window used when the configured timezone or hours are invalid.
// Wide on purpose: a misconfigured clock must not block activations.
const (
	fallbackStartHour = 7
	fallbackEndHour   = 20
)

// HoursConfig defines the local business-hours window.
type HoursConfig struct {
	// Timezone is an IANA name such as "Europe/Berlin". Invalid or empty
	// falls back to UTC.
	Timezone string

	// StartHour and EndHour bound the [start,end) business window in local
	// hours. Invalid values fall back to 07:00-20:00.
	StartHour int
	EndHour   int

	// Holidays lists explicit non-business dates as "2006-01-02" strings,
	// interpreted in the configured timezone.
	Holidays []string

	// Country optionally adds a built-in fixed-date holiday table
	// ("US" or "DE"). Unknown countries add nothing.
	Country string
}

// DefaultHoursConfig returns a UTC 07:00-20:00 window with no holidays.
func DefaultHoursConfig() HoursConfig {
	return HoursConfig{
		Timezone:  "UTC",
		StartHour: fallbackStartHour,
		EndHour:   fallbackEndHour,
	}
}

// fixed-date holidays by country, as month-day. Variable-date holidays
// (Easter and relatives, Thanksgiving) come from the explicit list.
var countryHolidays = map[string][]string{
	"US": {"01-01", "06-19", "07-04", "11-11", "12-25"},
	"DE": {"01-01", "05-01", "10-03", "12-25", "12-26"},
}

// BusinessHours decides whether a given instant is inside business hours.
type BusinessHours struct {
	location  *time.Location
	startHour int
	endHour   int
	holidays  map[string]bool
	degraded  bool
}

// NewBusinessHours builds the decision table from config. Malformed
// configuration never fails: it degrades to the UTC fallback window.
func NewBusinessHours(cfg HoursConfig) *BusinessHours {
	b := &BusinessHours{
		startHour: cfg.StartHour,
		endHour:   cfg.EndHour,
		holidays:  make(map[string]bool),
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
		b.degraded = true
	}
	b.location = loc

	if b.startHour < 0 || b.startHour > 23 || b.endHour < 1 || b.endHour > 24 || b.startHour >= b.endHour {
		b.startHour = fallbackStartHour
		b.endHour = fallbackEndHour
		b.degraded = true
	}

	for _, d := range cfg.Holidays {
		if _, err := time.Parse("2006-01-02", d); err == nil {
			b.holidays[d] = true
		}
	}
	for _, md := range countryHolidays[cfg.Country] {
		b.holidays["*-"+md] = true
	}

	return b
}

// Degraded reports whether the fallback window is in effect.
func (b *BusinessHours) Degraded() bool {
	return b.degraded
}

// IsNonBusinessHours reports whether t falls on a weekend, outside the
// [start,end) window, or on a configured holiday, all evaluated in the
// configured timezone.
func (b *BusinessHours) IsNonBusinessHours(t time.Time) bool {
	local := t.In(b.location)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}

	if b.isHoliday(local) {
		return true
	}

	h := local.Hour()
	return h < b.startHour || h >= b.endHour
}

func (b *BusinessHours) isHoliday(local time.Time) bool {
	date := local.Format("2006-01-02")
	if b.holidays[date] {
		return true
	}
	return b.holidays["*-"+local.Format("01-02")]
}

// Status describes the current business-hours state for the API.
type Status struct {
	Now              string `json:"now"`
	Timezone         string `json:"timezone"`
	WindowStart      string `json:"windowStart"`
	WindowEnd        string `json:"windowEnd"`
	NonBusinessHours bool   `json:"nonBusinessHours"`
	Degraded         bool   `json:"degraded,omitempty"`
}

// StatusAt renders the decision for a given instant.
func (b *BusinessHours) StatusAt(t time.Time) Status {
	local := t.In(b.location)
	return Status{
		Now:              local.Format(time.RFC3339),
		Timezone:         b.location.String(),
		WindowStart:      fmt.Sprintf("%02d:00", b.startHour),
		WindowEnd:        fmt.Sprintf("%02d:00", b.endHour),
		NonBusinessHours: b.IsNonBusinessHours(t),
		Degraded:         b.degraded,
	}
}
