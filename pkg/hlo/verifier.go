// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/shapeinference"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/pkg/errors"
)

// inferShape re-runs shape inference for the instruction, from its operands and called computations.
func (inst *Instruction) inferShape() (shapes.Shape, error) {
	operands := make([]shapes.Shape, len(inst.operands))
	for ii, h := range inst.operands {
		operand, err := inst.parent.Lookup(h)
		if err != nil {
			return shapes.Invalid(), err
		}
		operands[ii] = operand.shape
	}
	called := make([]shapeinference.Signature, len(inst.calledComputations))
	for ii, c := range inst.calledComputations {
		called[ii] = c.Signature()
	}
	checkCounts := func(numOperands, numCalled int) error {
		if (numOperands >= 0 && len(operands) != numOperands) || len(called) != numCalled {
			return errors.Errorf("%s requires %d operands and %d called computations, got %d and %d",
				inst.opcode, numOperands, numCalled, len(operands), len(called))
		}
		return nil
	}
	var err error
	switch inst.opcode {
	case opcode.Parameter, opcode.Iota:
		err = checkCounts(0, 0)
		if err == nil && inst.opcode == opcode.Iota {
			return shapeinference.Iota(inst.shape, inst.dimension)
		}
		return inst.shape, err
	case opcode.Constant:
		if err = checkCounts(0, 0); err != nil {
			return shapes.Invalid(), err
		}
		if inst.literal == nil {
			return shapes.Invalid(), errors.New("constant without a literal")
		}
		return inst.literal.Shape(), nil
	case opcode.Tuple:
		if err = checkCounts(-1, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Tuple(operands)
	case opcode.GetTupleElement:
		if err = checkCounts(1, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.GetTupleElement(operands[0], inst.tupleIndex)
	case opcode.Negate, opcode.Abs, opcode.Not:
		if err = checkCounts(1, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.UnaryOp(inst.opcode, operands[0])
	case opcode.Add, opcode.Subtract, opcode.Multiply, opcode.Divide, opcode.Maximum, opcode.Minimum,
		opcode.And, opcode.Or:
		if err = checkCounts(2, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.BinaryOp(inst.opcode, operands[0], operands[1])
	case opcode.Compare:
		if err = checkCounts(2, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Compare(operands[0], operands[1], inst.comparison)
	case opcode.Select:
		if err = checkCounts(3, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Select(operands[0], operands[1], operands[2])
	case opcode.Convert:
		if err = checkCounts(1, 0); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Convert(operands[0], inst.shape.DType)
	case opcode.While:
		if err = checkCounts(1, 2); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.While(called[1], called[0], operands[0])
	case opcode.Conditional:
		if len(operands) == 0 {
			return shapes.Invalid(), errors.New("conditional without a branch index")
		}
		if err = checkCounts(len(called)+1, len(called)); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Conditional(operands[0], called, operands[1:])
	case opcode.Call:
		if err = checkCounts(-1, 1); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Call(called[0], operands)
	case opcode.Sort:
		if err = checkCounts(-1, 1); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.Sort(operands, inst.dimension, called[0])
	}
	return shapes.Invalid(), errors.Errorf("unknown opcode %s", inst.opcode)
}

// Verify checks the structural invariants of the computation: handles, operand/user and control edges
// consistency, parameter numbering, shapes (re-inferred from the operands) and acyclicity.
// Violations are returned as Internal errors.
func (c *Computation) Verify() error {
	if c.root.IsValid() {
		if _, err := c.Lookup(c.root); err != nil {
			return status.AsInternal(err, "root of computation %q", c.name)
		}
	} else {
		return status.Internalf("computation %q has no root", c.name)
	}
	for number, h := range c.parameters {
		param, err := c.Lookup(h)
		if err != nil {
			return status.AsInternal(err, "computation %q parameter %d", c.name, number)
		}
		if param.opcode != opcode.Parameter || param.parameterNumber != number {
			return status.Internalf("computation %q parameter slot %d holds %q", c.name, number, param.name)
		}
	}
	for index, s := range c.slots {
		inst := s.instruction
		if inst == nil {
			continue
		}
		if inst.parent != c || inst.handle != (Handle{index: int32(index), generation: s.generation}) {
			return status.Internalf("instruction %q has inconsistent ownership in computation %q", inst.name, c.name)
		}
		if err := c.verifyEdges(inst); err != nil {
			return err
		}
		if inst.opcode == opcode.Parameter && c.ParameterInstruction(inst.parameterNumber) != inst {
			return status.Internalf("parameter %q (number %d) is not registered in computation %q",
				inst.name, inst.parameterNumber, c.name)
		}
		for _, callee := range inst.calledComputations {
			if callee == nil || callee.module != c.module {
				return status.Internalf("instruction %q of computation %q calls a computation not part of the module",
					inst.name, c.name)
			}
		}
		inferred, err := inst.inferShape()
		if err != nil {
			return status.AsInternal(err, "instruction %q of computation %q", inst.name, c.name)
		}
		if !inferred.Equal(inst.shape) {
			return status.Internalf("instruction %q of computation %q has shape %s, but its inferred shape is %s",
				inst.name, c.name, inst.shape, inferred)
		}
	}
	if _, err := c.postOrder(); err != nil {
		return err
	}
	return nil
}

// verifyEdges checks that operand/user and control edges are live and symmetric.
func (c *Computation) verifyEdges(inst *Instruction) error {
	for _, h := range inst.operands {
		operand, err := c.Lookup(h)
		if err != nil {
			return status.AsInternal(err, "operand of %q in computation %q", inst.name, c.name)
		}
		if !slices.Contains(operand.users, inst.handle) {
			return status.Internalf("%q uses %q, but it is not registered as a user", inst.name, operand.name)
		}
	}
	for _, h := range inst.users {
		user, err := c.Lookup(h)
		if err != nil {
			return status.AsInternal(err, "user of %q in computation %q", inst.name, c.name)
		}
		if !slices.Contains(user.operands, inst.handle) {
			return status.Internalf("%q is registered as a user of %q, but doesn't use it", user.name, inst.name)
		}
	}
	for _, h := range inst.controlPredecessors {
		pred, err := c.Lookup(h)
		if err != nil {
			return status.AsInternal(err, "control predecessor of %q in computation %q", inst.name, c.name)
		}
		if !slices.Contains(pred.controlSuccessors, inst.handle) {
			return status.Internalf("control edge %q -> %q is not symmetric", pred.name, inst.name)
		}
	}
	for _, h := range inst.controlSuccessors {
		succ, err := c.Lookup(h)
		if err != nil {
			return status.AsInternal(err, "control successor of %q in computation %q", inst.name, c.name)
		}
		if !slices.Contains(succ.controlPredecessors, inst.handle) {
			return status.Internalf("control edge %q -> %q is not symmetric", inst.name, succ.name)
		}
	}
	return nil
}

// Verify checks the invariants of the module: every computation is valid, the entry computation is set,
// the call graph is acyclic and only refers to computations of the module, names and ids are unique, and
// the schedule (if any) is valid. Violations are returned as Internal errors.
func (m *Module) Verify() error {
	if m.entry == nil {
		return status.Internalf("module %q has no entry computation", m.name)
	}
	if !slices.Contains(m.computations, m.entry) {
		return status.Internalf("entry computation %q is not part of module %q", m.entry.name, m.name)
	}
	computationNames := sets.Make[string]()
	instructionNames := sets.Make[string]()
	computationIDs := sets.Make[int64]()
	instructionIDs := sets.Make[int64]()
	checkUnique := func(names sets.Set[string], ids sets.Set[int64], name string, id int64) error {
		if names.Has(name) {
			return status.Internalf("module %q: name %q is used more than once", m.name, name)
		}
		if ids.Has(id) {
			return status.Internalf("module %q: id %d is used more than once (by %q)", m.name, id, name)
		}
		names.Insert(name)
		ids.Insert(id)
		return nil
	}
	for _, c := range m.computations {
		if c.module != m {
			return status.Internalf("computation %q has inconsistent ownership in module %q", c.name, m.name)
		}
		if err := checkUnique(computationNames, computationIDs, c.name, c.id); err != nil {
			return err
		}
		for _, inst := range c.Instructions() {
			if err := checkUnique(instructionNames, instructionIDs, inst.name, inst.id); err != nil {
				return err
			}
		}
		if err := c.Verify(); err != nil {
			return err
		}
	}
	if _, err := m.CallGraphPostOrder(); err != nil {
		return err
	}
	if m.schedule != nil {
		if err := m.schedule.Verify(); err != nil {
			return err
		}
	}
	if da := m.config.DeviceAssignment; da != nil {
		if da.ReplicaCount() != m.config.NumReplicas() || da.ComputationCount() != m.config.NumComputations() {
			return status.Internalf("module %q: device assignment size doesn't match the configuration", m.name)
		}
	}
	return nil
}
