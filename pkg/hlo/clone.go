// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/pkg/errors"
)

// CloneInto copies into dst the instructions of c that contribute to its root, and returns the copy of the
// root. See CloneSubgraphInto for the meaning of mapping.
func (c *Computation) CloneInto(dst *Computation, mapping map[*Instruction]*Instruction) (*Instruction, error) {
	root := c.Root()
	if root == nil {
		return nil, status.InvalidArgumentf("cannot clone computation %q without a root", c.name)
	}
	clones, err := c.CloneSubgraphInto(dst, mapping, root)
	if err != nil {
		return nil, err
	}
	return clones[0], nil
}

// CloneSubgraphInto copies into dst the given targets of c and the instructions they depend on (through
// operands and control predecessors), and returns the copies of the targets.
//
// mapping is pre-seeded by the caller with replacements for instructions of c (typically its parameters,
// mapped to the values they take in dst): those are not copied, and neither are their dependencies unless
// needed by something else. It is updated with every copy made.
// Parameters of c without a replacement are copied as parameters of dst with the same number.
// Control dependencies between copied instructions are preserved.
func (c *Computation) CloneSubgraphInto(dst *Computation, mapping map[*Instruction]*Instruction, targets ...*Instruction) ([]*Instruction, error) {
	if dst.module != c.module {
		return nil, status.InvalidArgumentf("cannot clone computation %q into %q of a different module", c.name, dst.name)
	}
	needed := sets.Make[Handle]()
	stack := make([]Handle, 0, len(targets))
	for _, target := range targets {
		if err := c.checkOwns(target); err != nil {
			return nil, err
		}
		stack = append(stack, target.handle)
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed.Has(h) {
			continue
		}
		needed.Insert(h)
		inst := c.get(h)
		if _, found := mapping[inst]; found {
			continue
		}
		stack = append(stack, inst.dependencies()...)
	}

	order, err := c.postOrder()
	if err != nil {
		return nil, err
	}
	copied := sets.Make[*Instruction]()
	for _, inst := range order {
		if !needed.Has(inst.handle) {
			continue
		}
		if _, found := mapping[inst]; found {
			continue
		}
		operands := make([]*Instruction, len(inst.operands))
		for ii, operand := range inst.Operands() {
			operands[ii] = mapping[operand]
		}
		clone, err := dst.CloneWithOperands(inst, operands)
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning computation %q into %q", c.name, dst.name)
		}
		mapping[inst] = clone
		copied.Insert(inst)
	}
	for _, inst := range order {
		if !copied.Has(inst) {
			continue
		}
		for _, pred := range inst.ControlPredecessors() {
			if !copied.Has(pred) {
				continue
			}
			if err := dst.AddControlDependency(mapping[pred], mapping[inst]); err != nil {
				return nil, err
			}
		}
	}
	clones := make([]*Instruction, len(targets))
	for ii, target := range targets {
		clones[ii] = mapping[target]
	}
	return clones, nil
}

// CloneComputation creates a copy of src (with the same parameters) named after name.
// The called computations of the copied instructions are shared, not copied.
func (m *Module) CloneComputation(src *Computation, name string) (*Computation, error) {
	if src.module != m {
		return nil, status.InvalidArgumentf("computation %q doesn't belong to module %q", src.name, m.name)
	}
	if name == "" {
		name = src.name + ".clone"
	}
	dst := m.NewComputation(name)
	mapping := make(map[*Instruction]*Instruction, src.NumInstructions())
	for _, param := range src.Parameters() {
		clone, err := dst.Parameter(param.parameterNumber, param.name, param.shape)
		if err != nil {
			m.dropComputation(dst)
			return nil, err
		}
		mapping[param] = clone
	}
	root, err := src.CloneInto(dst, mapping)
	if err == nil {
		err = dst.SetRoot(root)
	}
	if err != nil {
		m.dropComputation(dst)
		return nil, err
	}
	return dst, nil
}
