// Package backend defines the execution backend capability consumed by the
// lifecycle manager, and an in-memory implementation of it.
package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned by Delete when the named unit no longer exists.
var ErrNotFound = errors.New("unit not found")

// Phase is the observable state of a dispatched unit.
type Phase string

const (
	PhasePending   Phase = "Pending"
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown"
)

// IsTerminal reports whether the unit will make no further progress.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// Submission is everything a backend needs to launch one unit.
type Submission struct {
	Name        string
	JobLabels   map[string]string
	PodLabels   map[string]string
	Annotations map[string]string
	Image       string
	Args        []string // positional, wire order
}

// Handle identifies a submitted unit.
type Handle struct {
	Name string
	UID  string
}

// Status is one unit as observed through List.
type Status struct {
	Name   string
	Labels map[string]string
	Phase  Phase
}

// Selector is an equality-based label selector.
type Selector map[string]string

// Matches reports whether labels carry every key/value in s.
func (s Selector) Matches(labels map[string]string) bool {
	for k, v := range s {
		if got, ok := labels[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// String renders s in Kubernetes selector syntax with sorted keys.
func (s Selector) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ",")
}

// Backend is the execution backend capability. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Submit launches one unit.
	Submit(ctx context.Context, sub Submission) (Handle, error)
	// List returns every unit whose labels match selector.
	List(ctx context.Context, selector Selector) ([]Status, error)
	// Delete removes the named unit, returning ErrNotFound if it is already gone.
	Delete(ctx context.Context, name string) error
}
