// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"k8s.io/klog/v2"
)

// Callers returns the live instructions of the module that call c, ordered by computation and instruction id.
func (m *Module) Callers(c *Computation) []*Instruction {
	var callers []*Instruction
	for _, comp := range m.computations {
		for _, inst := range comp.Instructions() {
			for _, callee := range inst.calledComputations {
				if callee == c {
					callers = append(callers, inst)
					break
				}
			}
		}
	}
	return callers
}

// callees returns the computations called by the instructions of c, without repetition, in order of
// first use.
func (c *Computation) callees() []*Computation {
	var callees []*Computation
	seen := sets.Make[*Computation]()
	for _, inst := range c.Instructions() {
		for _, callee := range inst.calledComputations {
			if !seen.Has(callee) {
				seen.Insert(callee)
				callees = append(callees, callee)
			}
		}
	}
	return callees
}

// CallGraphPostOrder returns all computations of the module ordered so that every computation comes after the
// computations it calls. It returns an Internal error if the call graph has a cycle.
func (m *Module) CallGraphPostOrder() ([]*Computation, error) {
	const (
		inProgress = iota + 1
		done
	)
	state := make(map[*Computation]int, len(m.computations))
	order := make([]*Computation, 0, len(m.computations))
	var visit func(c *Computation) error
	visit = func(c *Computation) error {
		switch state[c] {
		case done:
			return nil
		case inProgress:
			return status.Internalf("module %q: call graph has a cycle through computation %q", m.name, c.name)
		}
		state[c] = inProgress
		for _, callee := range c.callees() {
			if callee.module != m {
				return status.Internalf("module %q: computation %q calls %q, which is not part of the module",
					m.name, c.name, callee.name)
			}
			if err := visit(callee); err != nil {
				return err
			}
		}
		state[c] = done
		order = append(order, c)
		return nil
	}
	for _, c := range m.computations {
		if err := visit(c); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ReachableComputations returns the computations transitively called from the entry computation, including
// the entry itself.
func (m *Module) ReachableComputations() sets.Set[*Computation] {
	reachable := sets.Make[*Computation]()
	if m.entry == nil {
		return reachable
	}
	stack := []*Computation{m.entry}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reachable.Has(c) {
			continue
		}
		reachable.Insert(c)
		stack = append(stack, c.callees()...)
	}
	return reachable
}

// RemoveUnreachableComputations removes all computations not reachable from the entry computation.
// It does nothing if the module has no entry computation.
func (m *Module) RemoveUnreachableComputations() (changed bool) {
	if m.entry == nil {
		return false
	}
	reachable := m.ReachableComputations()
	for _, c := range m.Computations() {
		if !reachable.Has(c) {
			klog.V(2).Infof("module %q: removing unreachable computation %q", m.name, c.name)
			m.dropComputation(c)
			changed = true
		}
	}
	return changed
}
