package backend

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
)

type memoryUnit struct {
	sub   Submission
	uid   string
	phase Phase
}

// Memory is an in-process Backend. Units start Pending and only change phase
// through SetPhase.
type Memory struct {
	mu      sync.Mutex
	units   map[string]*memoryUnit
	nextUID int

	// SubmitHook, when set, runs before every Submit; a non-nil error fails
	// that submission without storing the unit.
	SubmitHook func(sub Submission) error
	// ListHook, when set, can fail List.
	ListHook func(selector Selector) error
	// DeleteHook, when set, can fail Delete for a specific name.
	DeleteHook func(name string) error

	submits int
	lists   int
	deletes int
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{units: make(map[string]*memoryUnit)}
}

func (m *Memory) Submit(ctx context.Context, sub Submission) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	m.mu.Lock()
	hook := m.SubmitHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(sub); err != nil {
			return Handle{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.units[sub.Name]; exists {
		return Handle{}, fmt.Errorf("unit %q already exists", sub.Name)
	}
	m.submits++
	m.nextUID++
	u := &memoryUnit{sub: cloneSubmission(sub), uid: "mem-" + strconv.Itoa(m.nextUID), phase: PhasePending}
	m.units[sub.Name] = u
	return Handle{Name: sub.Name, UID: u.uid}, nil
}

// List matches selector against job-level labels, which is where the
// Kubernetes backend looks as well.
func (m *Memory) List(ctx context.Context, selector Selector) ([]Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.ListHook != nil {
		if err := m.ListHook(selector); err != nil {
			return nil, err
		}
	}
	out := make([]Status, 0, len(m.units))
	for name, u := range m.units {
		if !selector.Matches(u.sub.JobLabels) {
			continue
		}
		out = append(out, Status{Name: name, Labels: maps.Clone(u.sub.JobLabels), Phase: u.phase})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteHook != nil {
		if err := m.DeleteHook(name); err != nil {
			return err
		}
	}
	if _, ok := m.units[name]; !ok {
		return fmt.Errorf("deleting %q: %w", name, ErrNotFound)
	}
	m.deletes++
	delete(m.units, name)
	return nil
}

// SetPhase moves a unit to phase. It reports false if the unit is unknown.
func (m *Memory) SetPhase(name string, phase Phase) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[name]
	if !ok {
		return false
	}
	u.phase = phase
	return true
}

// SetAllPhases moves every stored unit to phase.
func (m *Memory) SetAllPhases(phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.units {
		u.phase = phase
	}
}

// Get returns the stored submission for name.
func (m *Memory) Get(name string) (Submission, Phase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[name]
	if !ok {
		return Submission{}, "", false
	}
	return cloneSubmission(u.sub), u.phase, true
}

// Put stores a unit directly, bypassing Submit and its counters.
func (m *Memory) Put(sub Submission, phase Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUID++
	m.units[sub.Name] = &memoryUnit{sub: cloneSubmission(sub), uid: "mem-" + strconv.Itoa(m.nextUID), phase: phase}
}

// Names returns the stored unit names in sorted order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.units))
	for name := range m.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the number of successful submits, list calls and deletes.
func (m *Memory) Counts() (submits, lists, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submits, m.lists, m.deletes
}

func cloneSubmission(sub Submission) Submission {
	sub.JobLabels = maps.Clone(sub.JobLabels)
	sub.PodLabels = maps.Clone(sub.PodLabels)
	sub.Annotations = maps.Clone(sub.Annotations)
	sub.Args = append([]string(nil), sub.Args...)
	return sub
}
