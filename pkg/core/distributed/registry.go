// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"slices"
	"sync"

	"github.com/gomlx/hlopasses/pkg/support/status"
	"k8s.io/klog/v2"
)

// PlatformID identifies a platform (e.g. "cpu", "cuda") with its own placement policy.
type PlatformID string

// PlacerConstructor creates the ComputationPlacer of a platform. It is called at most once per registration.
type PlacerConstructor func() ComputationPlacer

type placerState struct {
	constructor PlacerConstructor
	placer      ComputationPlacer
}

// Registry of platform specific placers. Placers are constructed lazily on the first GetForPlatform for
// their platform, and cached afterwards.
//
// It is safe for concurrent use. Registration is expected during initialization, before placers are queried.
type Registry struct {
	mu     sync.Mutex
	states map[PlatformID]*placerState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[PlatformID]*placerState)}
}

// DefaultRegistry is the process wide registry used by the package level functions.
var DefaultRegistry = NewRegistry()

// Register the placer constructor for the platform. If one was already registered, it is replaced, and any
// placer already constructed with it is dropped.
func (r *Registry) Register(platform PlatformID, constructor PlacerConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.states[platform]; found {
		klog.V(1).Infof("distributed: replacing computation placer for platform %q", platform)
	}
	r.states[platform] = &placerState{constructor: constructor}
}

// Unregister removes the placer of the platform, if any.
func (r *Registry) Unregister(platform PlatformID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, platform)
}

// GetForPlatform returns the placer of the platform, constructing it on first use.
// It returns a NotFound error if no placer was registered for the platform.
func (r *Registry) GetForPlatform(platform PlatformID) (ComputationPlacer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, found := r.states[platform]
	if !found {
		return nil, status.NotFoundf("no computation placer registered for platform %q", platform)
	}
	if state.placer == nil {
		state.placer = state.constructor()
		if state.placer == nil {
			return nil, status.Internalf("computation placer constructor for platform %q returned nil", platform)
		}
		klog.V(2).Infof("distributed: constructed computation placer for platform %q", platform)
	}
	return state.placer, nil
}

// PlacerOrDefault returns the placer of the platform, or DefaultPlacer if none is registered. Other errors,
// like a constructor returning nil, are returned.
func (r *Registry) PlacerOrDefault(platform PlatformID) (ComputationPlacer, error) {
	placer, err := r.GetForPlatform(platform)
	if status.IsNotFound(err) {
		klog.V(2).Infof("distributed: no computation placer for platform %q, using the default one", platform)
		return DefaultPlacer{}, nil
	}
	return placer, err
}

// Platforms returns the registered platforms, sorted.
func (r *Registry) Platforms() []PlatformID {
	r.mu.Lock()
	defer r.mu.Unlock()
	platforms := make([]PlatformID, 0, len(r.states))
	for platform := range r.states {
		platforms = append(platforms, platform)
	}
	slices.Sort(platforms)
	return platforms
}

// RegisterPlacer registers a placer constructor in the DefaultRegistry.
func RegisterPlacer(platform PlatformID, constructor PlacerConstructor) {
	DefaultRegistry.Register(platform, constructor)
}

// GetForPlatform returns the placer of the platform from the DefaultRegistry.
func GetForPlatform(platform PlatformID) (ComputationPlacer, error) {
	return DefaultRegistry.GetForPlatform(platform)
}

// AssignDevices assigns devices using the placer registered for the platform in the DefaultRegistry, or the
// DefaultPlacer if there is none.
func AssignDevices(platform PlatformID, replicaCount, computationCount int) (*DeviceAssignment, error) {
	placer, err := DefaultRegistry.PlacerOrDefault(platform)
	if err != nil {
		return nil, err
	}
	return placer.AssignDevices(replicaCount, computationCount)
}
