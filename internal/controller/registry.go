package controller

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"
)

// Registry caches controller information reported by a Provider: the joint
// set each controller actuates, which controllers overlap (share joints, so
// they can never be active together), and the last observed lifecycle state.
// Entries go stale after a caller-supplied freshness window and are refreshed
// from the provider on demand.
type Registry struct {
	provider Provider
	manage   bool
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]*Info
}

// NewRegistry creates a registry backed by the given provider. When manage is
// true the registry may activate and deactivate controllers to satisfy
// EnsureActive; otherwise a request involving inactive controllers fails.
func NewRegistry(p Provider, manage bool, logger *slog.Logger) *Registry {
	return &Registry{
		provider: p,
		manage:   manage,
		logger:   logger,
		known:    make(map[string]*Info),
	}
}

// Managing reports whether this registry may switch controllers.
func (r *Registry) Managing() bool {
	return r.manage
}

// Refresh replaces the cached controller map with the provider's current
// report and recomputes overlap relationships. O(n^2) in the number of
// controllers, which is small in practice.
func (r *Registry) Refresh() error {
	descs, err := r.provider.ListControllers()
	if err != nil {
		return fmt.Errorf("list controllers: %w", err)
	}

	now := time.Now()
	known := make(map[string]*Info, len(descs))
	for _, d := range descs {
		joints := make(map[string]struct{}, len(d.Joints))
		for _, j := range d.Joints {
			joints[j] = struct{}{}
		}
		known[d.Name] = &Info{
			Name:        d.Name,
			Joints:      joints,
			Overlapping: make(map[string]struct{}),
			State:       d.State,
			LastUpdated: now,
		}
	}

	for na, a := range known {
		for nb, b := range known {
			if na == nb {
				continue
			}
			if jointsOverlap(a.Joints, b.Joints) {
				a.Overlapping[nb] = struct{}{}
			}
		}
	}

	r.mu.Lock()
	r.known = known
	r.mu.Unlock()
	return nil
}

func jointsOverlap(a, b map[string]struct{}) bool {
	for j := range a {
		if _, ok := b[j]; ok {
			return true
		}
	}
	return false
}

// Get returns a copy of the cached info for one controller, refreshing the
// entry from the provider if it is older than maxAge. An unknown name
// triggers a full refresh before failing.
func (r *Registry) Get(name string, maxAge time.Duration) (Info, error) {
	r.mu.Lock()
	_, ok := r.known[name]
	r.mu.Unlock()

	if !ok {
		if err := r.Refresh(); err != nil {
			return Info{}, err
		}
		r.mu.Lock()
		_, ok = r.known[name]
		r.mu.Unlock()
		if !ok {
			return Info{}, fmt.Errorf("controller %q: %w", name, ErrUnknownController)
		}
	}

	if err := r.refreshState(name, maxAge); err != nil {
		return Info{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return copyInfo(r.known[name]), nil
}

// All returns copies of every cached controller info, refreshing stale state
// entries, sorted by name for deterministic iteration.
func (r *Registry) All(maxAge time.Duration) ([]Info, error) {
	r.mu.Lock()
	empty := len(r.known) == 0
	r.mu.Unlock()
	if empty {
		if err := r.Refresh(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	names := make([]string, 0, len(r.known))
	for n := range r.known {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)

	infos := make([]Info, 0, len(names))
	for _, n := range names {
		if err := r.refreshState(n, maxAge); err != nil {
			return nil, err
		}
		r.mu.Lock()
		if ci, ok := r.known[n]; ok {
			infos = append(infos, copyInfo(ci))
		}
		r.mu.Unlock()
	}
	return infos, nil
}

// refreshState queries the provider for one controller's state when the
// cached entry is older than maxAge. The provider call happens outside the
// registry lock; only the bookkeeping around it is protected.
func (r *Registry) refreshState(name string, maxAge time.Duration) error {
	r.mu.Lock()
	ci, ok := r.known[name]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	fresh := time.Since(ci.LastUpdated) <= maxAge
	r.mu.Unlock()
	if fresh {
		return nil
	}

	state, err := r.provider.ControllerState(name)
	if err != nil {
		return fmt.Errorf("controller state %q: %w", name, err)
	}

	r.mu.Lock()
	if ci, ok := r.known[name]; ok {
		ci.State = state
		ci.LastUpdated = time.Now()
	}
	r.mu.Unlock()
	return nil
}

// IsActive reports whether one controller is currently active, refreshing its
// state if stale.
func (r *Registry) IsActive(name string, maxAge time.Duration) bool {
	info, err := r.Get(name, maxAge)
	return err == nil && info.State == StateActive
}

// AreActive reports whether every named controller is currently active.
func (r *Registry) AreActive(names []string, maxAge time.Duration) bool {
	for _, n := range names {
		if !r.IsActive(n, maxAge) {
			return false
		}
	}
	return true
}

// Handle returns the command interface for one controller, straight from the
// provider.
func (r *Registry) Handle(name string) (Handle, error) {
	return r.provider.Handle(name)
}

// EnsureActive makes sure every named controller is active. In managed mode
// it switches out overlapping active controllers and asks the provider to
// perform the switch; otherwise any inactive controller is a failure. The
// provider call happens outside the registry lock.
func (r *Registry) EnsureActive(names []string, maxAge time.Duration) error {
	for _, n := range names {
		if _, err := r.Get(n, maxAge); err != nil {
			return err
		}
	}

	r.mu.Lock()
	var activate []string
	for _, n := range names {
		if ci, ok := r.known[n]; ok && ci.State != StateActive {
			activate = append(activate, n)
		}
	}
	if len(activate) == 0 {
		r.mu.Unlock()
		return nil
	}
	if !r.manage {
		r.mu.Unlock()
		return &ActivationError{
			Controllers: activate,
			Reason:      "not managing controllers and required controllers are inactive",
		}
	}

	requested := make(map[string]struct{}, len(names))
	for _, n := range names {
		requested[n] = struct{}{}
	}
	deactivateSet := make(map[string]struct{})
	for _, n := range activate {
		ci, ok := r.known[n]
		if !ok {
			continue
		}
		for o := range ci.Overlapping {
			if _, ok := requested[o]; ok {
				continue
			}
			if oc, known := r.known[o]; known && oc.State == StateActive {
				deactivateSet[o] = struct{}{}
			}
		}
	}
	deactivate := make([]string, 0, len(deactivateSet))
	for n := range deactivateSet {
		deactivate = append(deactivate, n)
	}
	sort.Strings(deactivate)
	sort.Strings(activate)
	r.mu.Unlock()

	r.logger.Info("switching controllers", "activate", activate, "deactivate", deactivate)
	if err := r.provider.SwitchControllers(activate, deactivate); err != nil {
		return &ActivationError{Controllers: activate, Reason: err.Error()}
	}
	controllerSwitchesTotal.Inc()

	r.mu.Lock()
	now := time.Now()
	for _, n := range activate {
		if ci, ok := r.known[n]; ok {
			ci.State = StateActive
			ci.LastUpdated = now
		}
	}
	for _, n := range deactivate {
		if ci, ok := r.known[n]; ok {
			ci.State = StateInactive
			ci.LastUpdated = now
		}
	}
	r.mu.Unlock()
	return nil
}

func copyInfo(ci *Info) Info {
	return Info{
		Name:        ci.Name,
		Joints:      maps.Clone(ci.Joints),
		Overlapping: maps.Clone(ci.Overlapping),
		State:       ci.State,
		LastUpdated: ci.LastUpdated,
	}
}
