// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/shapeinference"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
)

// Computation is a function: numbered parameters, a root instruction (its result) and the instructions in
// between, stored in an arena of slots addressed by Handle.
//
// Create computations with Module.NewComputation, and instructions with the builder methods
// (Computation.Parameter, Computation.Tuple, ...).
type Computation struct {
	module *Module
	id     int64
	name   string

	slots []slot
	free  []int32

	// parameters is indexed by parameter number. Holes have an invalid handle until filled.
	parameters []Handle
	root       Handle
}

// Name of the computation, unique within the module.
func (c *Computation) Name() string { return c.name }

// ID of the computation, unique within the module.
func (c *Computation) ID() int64 { return c.id }

// Module that owns the computation, or nil if it was removed from it.
func (c *Computation) Module() *Module { return c.module }

// Root returns the instruction whose value is the result of the computation, or nil if not set yet.
func (c *Computation) Root() *Instruction {
	if !c.root.IsValid() {
		return nil
	}
	return c.get(c.root)
}

// SetRoot sets the root of the computation. The new root may have a different shape than the previous one:
// it's up to the caller to keep the callers of the computation consistent.
func (c *Computation) SetRoot(inst *Instruction) error {
	if err := c.checkOwns(inst); err != nil {
		return err
	}
	c.root = inst.handle
	return nil
}

// NumParameters returns the number of parameters of the computation.
func (c *Computation) NumParameters() int { return len(c.parameters) }

// ParameterInstruction returns the parameter with the given number, or nil if there is none.
func (c *Computation) ParameterInstruction(number int) *Instruction {
	if number < 0 || number >= len(c.parameters) || !c.parameters[number].IsValid() {
		return nil
	}
	return c.get(c.parameters[number])
}

// Parameters returns the parameter instructions ordered by number.
func (c *Computation) Parameters() []*Instruction {
	params := make([]*Instruction, 0, len(c.parameters))
	for _, h := range c.parameters {
		if h.IsValid() {
			params = append(params, c.get(h))
		}
	}
	return params
}

// Signature returns the parameter and result shapes of the computation.
func (c *Computation) Signature() shapeinference.Signature {
	var sig shapeinference.Signature
	for _, param := range c.Parameters() {
		sig.Parameters = append(sig.Parameters, param.shape)
	}
	sig.Result = shapes.Invalid()
	if root := c.Root(); root != nil {
		sig.Result = root.shape
	}
	return sig
}

// Lookup returns the instruction for the handle. It fails if the handle is invalid or stale: the
// instruction it pointed to was removed.
func (c *Computation) Lookup(h Handle) (*Instruction, error) {
	if !h.IsValid() || int(h.index) >= len(c.slots) || h.index < 0 {
		return nil, status.InvalidArgumentf("invalid handle %s for computation %q", h, c.name)
	}
	s := c.slots[h.index]
	if s.generation != h.generation || s.instruction == nil {
		return nil, status.NotFoundf("stale handle %s in computation %q: instruction was removed", h, c.name)
	}
	return s.instruction, nil
}

// get returns the instruction for a handle that must be live. It panics otherwise.
func (c *Computation) get(h Handle) *Instruction {
	inst, err := c.Lookup(h)
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	return inst
}

func (c *Computation) getAll(handles []Handle) []*Instruction {
	insts := make([]*Instruction, len(handles))
	for ii, h := range handles {
		insts[ii] = c.get(h)
	}
	return insts
}

// NumInstructions returns the number of live instructions, including dead code not yet removed.
func (c *Computation) NumInstructions() int {
	return len(c.slots) - len(c.free)
}

// Instructions returns all live instructions in creation order.
func (c *Computation) Instructions() []*Instruction {
	insts := make([]*Instruction, 0, c.NumInstructions())
	for _, s := range c.slots {
		if s.instruction != nil {
			insts = append(insts, s.instruction)
		}
	}
	slices.SortFunc(insts, func(a, b *Instruction) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return insts
}

// InstructionsWithOpcode returns the live instructions with the given opcode, in creation order.
func (c *Computation) InstructionsWithOpcode(op opcode.Opcode) []*Instruction {
	var insts []*Instruction
	for _, inst := range c.Instructions() {
		if inst.opcode == op {
			insts = append(insts, inst)
		}
	}
	return insts
}

// checkOwns returns an error if inst is not a live instruction of c.
func (c *Computation) checkOwns(inst *Instruction) error {
	if inst == nil {
		return status.InvalidArgumentf("nil instruction used in computation %q", c.name)
	}
	if inst.parent != c {
		parentName := "<none>"
		if inst.parent != nil {
			parentName = inst.parent.name
		}
		return status.InvalidArgumentf("instruction %q belongs to computation %q, not to %q", inst.name, parentName, c.name)
	}
	if found, err := c.Lookup(inst.handle); err != nil || found != inst {
		return status.InvalidArgumentf("instruction %q was removed from computation %q", inst.name, c.name)
	}
	return nil
}

// add takes ownership of the new instruction, assigning it a slot, an id and a unique name, and
// registers it as a user of its operands.
func (c *Computation) add(inst *Instruction, nameHint string) *Instruction {
	var index int32
	if n := len(c.free); n > 0 {
		index = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		index = int32(len(c.slots))
		c.slots = append(c.slots, slot{})
	}
	s := &c.slots[index]
	s.generation++
	s.instruction = inst
	inst.handle = Handle{index: index, generation: s.generation}
	inst.parent = c
	inst.id = c.module.newID()
	if nameHint == "" {
		nameHint = inst.opcode.String()
	}
	inst.name = c.module.instructionNames.unique(nameHint)
	for _, h := range inst.operands {
		operand := c.get(h)
		if !slices.Contains(operand.users, inst.handle) {
			operand.users = append(operand.users, inst.handle)
		}
	}
	return inst
}

func removeHandle(handles []Handle, h Handle) []Handle {
	return slices.DeleteFunc(handles, func(x Handle) bool { return x == h })
}

// ReplaceOperandWith replaces the ii-th operand of user with newOperand, which must have the same shape.
func (c *Computation) ReplaceOperandWith(user *Instruction, ii int, newOperand *Instruction) error {
	if err := c.checkOwns(user); err != nil {
		return err
	}
	if err := c.checkOwns(newOperand); err != nil {
		return err
	}
	if ii < 0 || ii >= len(user.operands) {
		return status.InvalidArgumentf("operand index %d out-of-range for %q", ii, user.name)
	}
	old := c.get(user.operands[ii])
	if !old.shape.Equal(newOperand.shape) {
		return status.InvalidArgumentf("cannot replace operand %q (%s) of %q with %q (%s): different shapes",
			old.name, old.shape, user.name, newOperand.name, newOperand.shape)
	}
	c.replaceOperandUnchecked(user, ii, newOperand)
	return nil
}

func (c *Computation) replaceOperandUnchecked(user *Instruction, ii int, newOperand *Instruction) {
	oldHandle := user.operands[ii]
	user.operands[ii] = newOperand.handle
	if !slices.Contains(user.operands, oldHandle) {
		old := c.get(oldHandle)
		old.users = removeHandle(old.users, user.handle)
	}
	if !slices.Contains(newOperand.users, user.handle) {
		newOperand.users = append(newOperand.users, user.handle)
	}
}

// ReplaceAllUsesWith makes every user of old use newInst instead, and makes newInst the root if old was
// the root. Both must have the same shape.
//
// If newInst is itself a user of old (e.g. it wraps it), it keeps using old, so no cycle is created.
func (c *Computation) ReplaceAllUsesWith(old, newInst *Instruction) error {
	if err := c.checkOwns(old); err != nil {
		return err
	}
	if err := c.checkOwns(newInst); err != nil {
		return err
	}
	if !old.shape.Equal(newInst.shape) {
		return status.InvalidArgumentf("cannot replace %q (%s) with %q (%s): different shapes",
			old.name, old.shape, newInst.name, newInst.shape)
	}
	c.replaceAllUsesUnchecked(old, newInst)
	return nil
}

// ReplaceAllUsesWithDifferentShape is like ReplaceAllUsesWith, but doesn't require the shapes to match.
// It's up to the caller to re-establish the shape invariants.
func (c *Computation) ReplaceAllUsesWithDifferentShape(old, newInst *Instruction) error {
	if err := c.checkOwns(old); err != nil {
		return err
	}
	if err := c.checkOwns(newInst); err != nil {
		return err
	}
	c.replaceAllUsesUnchecked(old, newInst)
	return nil
}

func (c *Computation) replaceAllUsesUnchecked(old, newInst *Instruction) {
	if old == newInst {
		return
	}
	for _, user := range old.Users() {
		if user == newInst {
			continue
		}
		for ii, h := range user.operands {
			if h == old.handle {
				c.replaceOperandUnchecked(user, ii, newInst)
			}
		}
	}
	if c.root == old.handle {
		c.root = newInst.handle
	}
}

// ReplaceInstruction replaces all uses of old by newInst, copies old's control dependencies to newInst,
// and removes old (and any operands that become unused, except parameters).
func (c *Computation) ReplaceInstruction(old, newInst *Instruction) error {
	if err := c.ReplaceAllUsesWith(old, newInst); err != nil {
		return err
	}
	if err := c.copyControlDependencies(old, newInst); err != nil {
		return err
	}
	if old.UserCount() > 0 || old.IsRoot() {
		// newInst still uses old.
		return nil
	}
	return c.RemoveInstructionAndUnusedOperands(old)
}

// copyControlDependencies makes every control predecessor of from a predecessor of to, and every control
// successor of from a successor of to.
func (c *Computation) copyControlDependencies(from, to *Instruction) error {
	for _, pred := range from.ControlPredecessors() {
		if pred == to {
			continue
		}
		if err := c.AddControlDependency(pred, to); err != nil {
			return err
		}
	}
	for _, succ := range from.ControlSuccessors() {
		if succ == to {
			continue
		}
		if err := c.AddControlDependency(to, succ); err != nil {
			return err
		}
	}
	return nil
}

// AddControlDependency requires pred to be scheduled before succ.
func (c *Computation) AddControlDependency(pred, succ *Instruction) error {
	if err := c.checkOwns(pred); err != nil {
		return err
	}
	if err := c.checkOwns(succ); err != nil {
		return err
	}
	if pred == succ {
		return status.InvalidArgumentf("instruction %q cannot be its own control predecessor", pred.name)
	}
	if !slices.Contains(succ.controlPredecessors, pred.handle) {
		succ.controlPredecessors = append(succ.controlPredecessors, pred.handle)
		pred.controlSuccessors = append(pred.controlSuccessors, succ.handle)
	}
	return nil
}

// dropControlDependencies removes all control edges of the instruction.
func (c *Computation) dropControlDependencies(inst *Instruction) {
	for _, pred := range inst.ControlPredecessors() {
		pred.controlSuccessors = removeHandle(pred.controlSuccessors, inst.handle)
	}
	for _, succ := range inst.ControlSuccessors() {
		succ.controlPredecessors = removeHandle(succ.controlPredecessors, inst.handle)
	}
	inst.controlPredecessors = nil
	inst.controlSuccessors = nil
}

// checkRemovable returns an error if the instruction cannot be removed.
func (c *Computation) checkRemovable(inst *Instruction) error {
	if err := c.checkOwns(inst); err != nil {
		return err
	}
	if inst.IsRoot() {
		return status.Internalf("cannot remove root instruction %q of computation %q", inst.name, c.name)
	}
	if inst.opcode == opcode.Parameter {
		return status.Internalf("cannot remove parameter %q of computation %q", inst.name, c.name)
	}
	if len(inst.users) > 0 {
		return status.Internalf("cannot remove instruction %q of computation %q: it still has %d users",
			inst.name, c.name, len(inst.users))
	}
	return nil
}

// RemoveInstruction removes an instruction without users from the computation. It must not be the root nor a
// parameter. Its control dependencies are dropped, and its handle becomes stale.
func (c *Computation) RemoveInstruction(inst *Instruction) error {
	if err := c.checkRemovable(inst); err != nil {
		return err
	}
	c.removeUnchecked(inst)
	return nil
}

func (c *Computation) removeUnchecked(inst *Instruction) {
	c.dropControlDependencies(inst)
	for _, h := range inst.operands {
		if operand, err := c.Lookup(h); err == nil {
			operand.users = removeHandle(operand.users, inst.handle)
		}
	}
	s := &c.slots[inst.handle.index]
	s.instruction = nil
	s.generation++
	c.free = append(c.free, inst.handle.index)
}

// RemoveInstructionAndUnusedOperands removes inst and, transitively, any of its operands left without users
// (parameters and the root are kept).
func (c *Computation) RemoveInstructionAndUnusedOperands(inst *Instruction) error {
	if err := c.checkRemovable(inst); err != nil {
		return err
	}
	worklist := []*Instruction{inst}
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if current.IsDead() {
			continue
		}
		operands := current.Operands()
		c.removeUnchecked(current)
		for _, operand := range operands {
			if len(operand.users) == 0 && !operand.IsRoot() && operand.opcode != opcode.Parameter &&
				len(operand.controlSuccessors) == 0 {
				worklist = append(worklist, operand)
			}
		}
	}
	return nil
}

// liveSet returns the instructions the root depends on (through operands and control predecessors),
// plus the parameters.
func (c *Computation) liveSet() sets.Set[Handle] {
	live := sets.Make[Handle]()
	var stack []Handle
	if c.root.IsValid() {
		stack = append(stack, c.root)
	}
	for _, h := range c.parameters {
		if h.IsValid() {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if live.Has(h) {
			continue
		}
		live.Insert(h)
		inst := c.get(h)
		stack = append(stack, inst.dependencies()...)
		// A control successor of a live instruction is only an ordering constraint, it doesn't make it live.
	}
	return live
}

// RemoveDeadCode removes all instructions that don't contribute to the root. Parameters are never removed.
//
// The set of dead instructions is computed before anything is removed, so it either removes all of them or
// nothing.
func (c *Computation) RemoveDeadCode() (changed bool, err error) {
	if !c.root.IsValid() {
		return false, status.Internalf("computation %q has no root", c.name)
	}
	live := c.liveSet()
	order, err := c.postOrder()
	if err != nil {
		return false, err
	}
	// Remove users before their operands.
	for ii := len(order) - 1; ii >= 0; ii-- {
		inst := order[ii]
		if live.Has(inst.handle) {
			continue
		}
		c.removeUnchecked(inst)
		changed = true
	}
	return changed, nil
}

// PostOrder returns all live instructions ordered so that every instruction comes after its operands and
// control predecessors. The order is deterministic. It panics if the graph has a cycle, which is checked by
// the verifier.
func (c *Computation) PostOrder() []*Instruction {
	order, err := c.postOrder()
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	return order
}

// postOrder does a depth-first traversal starting from each instruction in creation order.
func (c *Computation) postOrder() ([]*Instruction, error) {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[Handle]int, c.NumInstructions())
	order := make([]*Instruction, 0, c.NumInstructions())
	type frame struct {
		inst *Instruction
		deps []Handle
		next int
	}
	for _, start := range c.Instructions() {
		if state[start.handle] != unvisited {
			continue
		}
		state[start.handle] = inProgress
		stack := []frame{{inst: start, deps: start.dependencies()}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.deps) {
				h := top.deps[top.next]
				top.next++
				switch state[h] {
				case unvisited:
					dep, err := c.Lookup(h)
					if err != nil {
						return nil, status.AsInternal(err, "operand of %q", top.inst.name)
					}
					state[h] = inProgress
					stack = append(stack, frame{inst: dep, deps: dep.dependencies()})
				case inProgress:
					return nil, status.Internalf("computation %q has a cycle through instruction %q", c.name, top.inst.name)
				}
				continue
			}
			state[top.inst.handle] = done
			order = append(order, top.inst)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}

// errorf wraps the error with the computation name. Uncategorized errors (from shape inference) are
// invalid arguments.
func (c *Computation) errorf(err error, op opcode.Opcode) error {
	return status.AsInvalidArgument(err, "creating %s in computation %q", op, c.name)
}
