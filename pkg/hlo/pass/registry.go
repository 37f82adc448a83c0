// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pass

import (
	"slices"
	"sync"

	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Constructor creates a new instance of a pass.
type Constructor func() Pass

// Registry maps pass names to their constructors. It is safe for concurrent use.
//
// Registration is expected to happen during initialization, and lookups afterwards.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry is populated by the passes packages at init time.
var DefaultRegistry = NewRegistry()

// Register the constructor of the pass with the given name. A later registration with the same name replaces
// the previous one.
func (r *Registry) Register(name string, constructor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.constructors[name]; found {
		klog.V(1).Infof("pass registry: replacing pass %q", name)
	}
	r.constructors[name] = constructor
}

// New creates a new instance of the named pass. It returns a NotFound error if there is no such pass.
func (r *Registry) New(name string) (Pass, error) {
	r.mu.RLock()
	constructor, found := r.constructors[name]
	r.mu.RUnlock()
	if !found {
		return nil, status.NotFoundf("no pass named %q registered", name)
	}
	p := constructor()
	if p == nil {
		return nil, status.Internalf("constructor of pass %q returned nil", name)
	}
	return p, nil
}

// Names returns the names of the registered passes, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewPipeline creates a Pipeline with new instances of the named passes, in the given order.
func (r *Registry) NewPipeline(name string, passNames ...string) (*Pipeline, error) {
	pipeline := NewPipeline(name)
	for _, passName := range passNames {
		p, err := r.New(passName)
		if err != nil {
			return nil, errors.WithMessagef(err, "creating pipeline %q", name)
		}
		pipeline.AddPasses(p)
	}
	return pipeline, nil
}

// Register the pass constructor in the DefaultRegistry.
func Register(name string, constructor Constructor) {
	DefaultRegistry.Register(name, constructor)
}

// New creates a new instance of the named pass from the DefaultRegistry.
func New(name string) (Pass, error) {
	return DefaultRegistry.New(name)
}

// NewPipelineFromNames creates a Pipeline with the named passes from the DefaultRegistry.
func NewPipelineFromNames(name string, passNames ...string) (*Pipeline, error) {
	return DefaultRegistry.NewPipeline(name, passNames...)
}
