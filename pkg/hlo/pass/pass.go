// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pass defines the Pass interface implemented by the HLO transformations, and the Pipeline that
// runs an ordered list of passes on a module until they reach a fixed point.
//
// Passes are selected by name through a Registry: the passes in package
// github.com/gomlx/hlopasses/pkg/hlo/passes register themselves in DefaultRegistry.
package pass

import (
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/pkg/errors"
)

// Pass is a transformation of a module.
//
// Run mutates the module in place and reports whether it changed anything. If it returns changed == false
// the module must be left exactly as it was. On success the module must be valid (see hlo.Module.Verify).
// On failure the module may be left partially transformed: the Pipeline restores it from a snapshot.
type Pass interface {
	// Name of the pass, used in logs, reports and to select passes in a Registry.
	Name() string

	// Run the pass on the module.
	Run(m *hlo.Module) (changed bool, err error)
}

// funcPass implements Pass with a function.
type funcPass struct {
	name string
	fn   func(m *hlo.Module) (bool, error)
}

// NewFunc returns a Pass with the given name that runs fn.
func NewFunc(name string, fn func(m *hlo.Module) (changed bool, err error)) Pass {
	return &funcPass{name: name, fn: fn}
}

func (p *funcPass) Name() string { return p.name }
func (p *funcPass) Run(m *hlo.Module) (bool, error) { return p.fn(m) }

// RunOnComputations calls fn for every computation of the module, callees before callers, and returns
// whether any call changed something.
//
// Computations created by fn are not visited. Computations removed from the module by fn are skipped.
func RunOnComputations(m *hlo.Module, fn func(c *hlo.Computation) (changed bool, err error)) (changed bool, err error) {
	order, err := m.CallGraphPostOrder()
	if err != nil {
		return false, err
	}
	for _, c := range order {
		if c.Module() != m {
			continue
		}
		computationChanged, err := fn(c)
		changed = changed || computationChanged
		if err != nil {
			return changed, errors.WithMessagef(err, "computation %q", c.Name())
		}
	}
	return changed, nil
}
