// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements the structural simplification passes of the optimizer, and registers them in
// pass.DefaultRegistry under their names:
//
//   - "simplify-while-loops": WhileLoopSimplifier.
//   - "conditional-canonicalizer": ConditionalCanonicalizer.
//   - "simplify-sorts": SortSimplifier.
//   - "stable-sort-expander": StableSortExpander.
//   - "simplify-fp-conversions": FPConversionSimplifier.
//   - "tuple-simplifier": TupleSimplifier.
//   - "dce": DeadCodeEliminator.
//
// Every pass leaves the module untouched when it reports no change, and running a pass a second time on its
// own output reports no change.
package passes

import (
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"k8s.io/klog/v2"
)

func init() {
	pass.Register(WhileLoopSimplifierName, func() pass.Pass { return NewWhileLoopSimplifier() })
	pass.Register(ConditionalCanonicalizerName, func() pass.Pass { return NewConditionalCanonicalizer() })
	pass.Register(SortSimplifierName, func() pass.Pass { return NewSortSimplifier() })
	pass.Register(StableSortExpanderName, func() pass.Pass { return NewStableSortExpander() })
	pass.Register(FPConversionSimplifierName, func() pass.Pass { return NewFPConversionSimplifier() })
	pass.Register(TupleSimplifierName, func() pass.Pass { return NewTupleSimplifier() })
	pass.Register(DeadCodeEliminatorName, func() pass.Pass { return NewDeadCodeEliminator() })
}

// DefaultPassNames is the list of passes of the default pipeline, in order.
var DefaultPassNames = []string{
	ConditionalCanonicalizerName,
	WhileLoopSimplifierName,
	SortSimplifierName,
	FPConversionSimplifierName,
	TupleSimplifierName,
	DeadCodeEliminatorName,
}

// NewDefaultPipeline returns a pipeline with the passes in DefaultPassNames.
func NewDefaultPipeline() *pass.Pipeline {
	return pass.NewPipeline("default",
		NewConditionalCanonicalizer(),
		NewWhileLoopSimplifier(),
		NewSortSimplifier(),
		NewFPConversionSimplifier(),
		NewTupleSimplifier(),
		NewDeadCodeEliminator(),
	)
}

// hasControlDependencies returns whether any instruction of the computation has control dependencies.
func hasControlDependencies(c *hlo.Computation) bool {
	for _, inst := range c.Instructions() {
		if inst.HasControlDependencies() {
			return true
		}
	}
	return false
}

// paramReads returns the indices of the elements of the tuple parameter that the targets depend on, or all
// == true if they depend on the parameter other than through a GetTupleElement.
func paramReads(param *hlo.Instruction, targets ...*hlo.Instruction) (read sets.Set[int], all bool) {
	read = sets.Make[int]()
	visited := sets.Make[*hlo.Instruction]()
	stack := append([]*hlo.Instruction(nil), targets...)
	for len(stack) > 0 {
		inst := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Has(inst) {
			continue
		}
		visited.Insert(inst)
		if inst == param {
			return read, true
		}
		if inst.Opcode() == opcode.GetTupleElement && inst.Operand(0) == param {
			read.Insert(inst.TupleIndex())
			continue
		}
		stack = append(stack, inst.Operands()...)
	}
	return read, false
}

// tupleSource returns x if tuple is Tuple(GetTupleElement(x, 0), ..., GetTupleElement(x, n-1)) with x of the
// same shape, or nil otherwise.
func tupleSource(tuple *hlo.Instruction) *hlo.Instruction {
	if tuple.NumOperands() == 0 {
		return nil
	}
	first := tuple.Operand(0)
	if first.Opcode() != opcode.GetTupleElement {
		return nil
	}
	source := first.Operand(0)
	if source == tuple || !source.Shape().Equal(tuple.Shape()) {
		return nil
	}
	for ii, element := range tuple.Operands() {
		if element.Opcode() != opcode.GetTupleElement || element.TupleIndex() != ii || element.Operand(0) != source {
			return nil
		}
	}
	return source
}

// simplifyTuples forwards the elements of tuples to the GetTupleElement that extract them, and replaces tuples
// that reassemble another tuple by that tuple. Replaced instructions are left in the computation, without
// users.
func simplifyTuples(c *hlo.Computation) (changed bool, err error) {
	for _, inst := range c.PostOrder() {
		if inst.IsDead() || (inst.UserCount() == 0 && !inst.IsRoot()) {
			continue
		}
		var replacement *hlo.Instruction
		switch inst.Opcode() {
		case opcode.GetTupleElement:
			if tuple := inst.Operand(0); tuple.Opcode() == opcode.Tuple {
				replacement = tuple.Operand(inst.TupleIndex())
			}
		case opcode.Tuple:
			replacement = tupleSource(inst)
		}
		if replacement == nil {
			continue
		}
		if err = c.ReplaceAllUsesWith(inst, replacement); err != nil {
			return
		}
		changed = true
	}
	return
}

// cleanUp simplifies the tuples of a computation created by a pass, and removes its dead code.
func cleanUp(c *hlo.Computation) error {
	if _, err := simplifyTuples(c); err != nil {
		return err
	}
	_, err := c.RemoveDeadCode()
	return err
}

// forwardElements replaces the GetTupleElement users of tuple (an instruction created by a pass) by the
// corresponding operands of the tuple, recursively, and removes tuple if it is left unused.
func forwardElements(c *hlo.Computation, tuple *hlo.Instruction) error {
	if tuple.IsDead() || tuple.Opcode() != opcode.Tuple {
		return nil
	}
	for _, user := range tuple.Users() {
		if user.Opcode() != opcode.GetTupleElement || user.HasControlDependencies() {
			continue
		}
		element := tuple.Operand(user.TupleIndex())
		if err := c.ReplaceInstruction(user, element); err != nil {
			return err
		}
		if err := forwardElements(c, element); err != nil {
			return err
		}
	}
	if !tuple.IsDead() && tuple.UserCount() == 0 && !tuple.IsRoot() {
		return c.RemoveInstructionAndUnusedOperands(tuple)
	}
	return nil
}

// removeUncalled removes the given computations from the module if nothing calls them anymore, and then,
// transitively, the computations they called that are left without callers.
// The entry computation is never removed.
func removeUncalled(m *hlo.Module, computations ...*hlo.Computation) error {
	worklist := append([]*hlo.Computation(nil), computations...)
	for len(worklist) > 0 {
		c := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if c.Module() != m || c == m.Entry() || len(m.Callers(c)) > 0 {
			continue
		}
		var callees []*hlo.Computation
		for _, inst := range c.Instructions() {
			callees = append(callees, inst.CalledComputations()...)
		}
		if err := m.RemoveComputation(c); err != nil {
			return err
		}
		klog.V(2).Infof("module %q: removed computation %q, no longer called", m.Name(), c.Name())
		worklist = append(worklist, callees...)
	}
	return nil
}
