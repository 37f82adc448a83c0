// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/evaluator"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// WhileLoopSimplifierName is the registered name of WhileLoopSimplifier.
const WhileLoopSimplifierName = "simplify-while-loops"

// DefaultFoldingIterations caps the iterations of the loops nested in the values constant-folded by the
// passes.
const DefaultFoldingIterations = 1000

// WhileLoopSimplifier simplifies While loops. For each loop it applies the first of these rules that applies,
// and repeats until none does:
//
//  1. A loop that never runs its body (the condition folds to false on the initial value) is replaced by its
//     initial value.
//  2. A loop that runs its body exactly once is replaced by an inlined copy of its body applied to the
//     initial value.
//  3. Elements of the loop state not read by the condition, nor by the body other than to pass them through
//     unchanged, are removed from the state.
//  4. A nested tuple state is flattened into a tuple of its leaves.
//
// The trip count is only known if the elements of the initial value the condition (and, for rule 2, the
// first iteration of the body) depend on are constants. Rules whose preconditions are not met are simply not
// applied.
//
// Rewritten loops get new condition and body computations: the old ones are removed from the module once
// nothing else calls them.
type WhileLoopSimplifier struct {
	evaluator *evaluator.Evaluator
}

// NewWhileLoopSimplifier creates a WhileLoopSimplifier.
func NewWhileLoopSimplifier() *WhileLoopSimplifier {
	return &WhileLoopSimplifier{
		evaluator: evaluator.New().WithMaxLoopIterations(DefaultFoldingIterations),
	}
}

// WithMaxFoldingIterations sets the cap on the iterations of the loops nested in the values folded to find
// out trip counts. It returns the WhileLoopSimplifier itself, so configuration calls can be cascaded.
func (s *WhileLoopSimplifier) WithMaxFoldingIterations(n int) *WhileLoopSimplifier {
	s.evaluator = evaluator.New().WithMaxLoopIterations(n)
	return s
}

// Name implements pass.Pass.
func (s *WhileLoopSimplifier) Name() string { return WhileLoopSimplifierName }

// Run implements pass.Pass.
func (s *WhileLoopSimplifier) Run(m *hlo.Module) (bool, error) {
	var detached []*hlo.Computation
	changed, err := pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		computationChanged := false
		// Inlining a loop may bring in new loops from its body, so repeat until nothing changes.
		for {
			progress := false
			for _, loop := range c.InstructionsWithOpcode(opcode.While) {
				if loop.IsDead() {
					continue
				}
				loopChanged, loopDetached, err := s.simplifyLoop(loop)
				progress = progress || loopChanged
				detached = append(detached, loopDetached...)
				if err != nil {
					return true, errors.WithMessagef(err, "simplifying loop %q", loop.Name())
				}
			}
			if !progress {
				return computationChanged, nil
			}
			computationChanged = true
		}
	})
	if err != nil || !changed {
		return changed, err
	}
	return true, removeUncalled(m, detached...)
}

// loopRule rewrites a loop if its precondition is met. It returns the loop that replaced it, if any.
type loopRule func(loop *hlo.Instruction) (next *hlo.Instruction, fired bool, err error)

// simplifyLoop applies the rules to the loop until none fires. It returns the condition and body
// computations of the loops that were replaced.
func (s *WhileLoopSimplifier) simplifyLoop(loop *hlo.Instruction) (changed bool, detached []*hlo.Computation, err error) {
	rules := []loopRule{s.removeZeroTripLoop, s.inlineSingleTripLoop, s.removeDeadElements, s.flattenState}
	for loop != nil && !loop.HasControlDependencies() {
		body, cond := loop.WhileBody(), loop.WhileCondition()
		var (
			next  *hlo.Instruction
			fired bool
		)
		for _, rule := range rules {
			next, fired, err = rule(loop)
			if err != nil || fired {
				break
			}
		}
		if err != nil || !fired {
			return
		}
		changed = true
		detached = append(detached, body, cond)
		loop = next
	}
	return
}

// foldInit evaluates the elements of the initial value of the loop with the given indices (or the whole
// value if all is set), and returns the initial value with every other element set to zero.
// It returns nil if any of the needed elements is not a constant.
func (s *WhileLoopSimplifier) foldInit(loop *hlo.Instruction, indices sets.Set[int], all bool) *literal.Literal {
	init := loop.Operand(0)
	if !all && len(indices) == 0 {
		return literal.Zeros(loop.Shape())
	}
	if all || !init.Shape().IsTuple() {
		value, err := s.foldValue(init)
		if err != nil {
			klog.V(2).Infof("loop %q: initial value not constant: %v", loop.Name(), err)
			return nil
		}
		return value
	}
	elements := make([]*literal.Literal, init.Shape().TupleSize())
	for ii, elementShape := range init.Shape().TupleShapes {
		if !indices.Has(ii) {
			elements[ii] = literal.Zeros(elementShape)
			continue
		}
		value, err := s.foldElement(init, ii)
		if err != nil {
			klog.V(2).Infof("loop %q: element #%d of the initial value not constant: %v", loop.Name(), ii, err)
			return nil
		}
		elements[ii] = value
	}
	return literal.MakeTuple(elements...)
}

// foldValue evaluates inst, following GetTupleElement chains so that only the tuple elements it depends on
// need to be constants.
func (s *WhileLoopSimplifier) foldValue(inst *hlo.Instruction) (*literal.Literal, error) {
	if inst.Opcode() == opcode.GetTupleElement {
		return s.foldElement(inst.Operand(0), inst.TupleIndex())
	}
	values, err := s.evaluator.EvaluateInstructions(inst.Parent(), nil, inst)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// foldElement evaluates element index of the tuple valued inst. Tuple operands not holding the element and
// loop state elements the element doesn't depend on are not evaluated.
func (s *WhileLoopSimplifier) foldElement(inst *hlo.Instruction, index int) (*literal.Literal, error) {
	if source := elementInstruction(inst, index); source != nil {
		return s.foldValue(source)
	}
	if inst.Opcode() == opcode.While && !inst.HasControlDependencies() {
		if needed, all := loopDependencies(inst, index); !all {
			return s.foldLoopElement(inst, index, needed)
		}
	}
	value, err := s.foldValue(inst)
	if err != nil {
		return nil, err
	}
	return value.Element(index)
}

// foldLoopElement evaluates element index of the result of the loop, running it on a state where only the
// needed elements hold their initial values.
func (s *WhileLoopSimplifier) foldLoopElement(loop *hlo.Instruction, index int, needed sets.Set[int]) (*literal.Literal, error) {
	state := make([]*literal.Literal, loop.Shape().TupleSize())
	for ii, elementShape := range loop.Shape().TupleShapes {
		if !needed.Has(ii) {
			state[ii] = literal.Zeros(elementShape)
			continue
		}
		value, err := s.foldElement(loop.Operand(0), ii)
		if err != nil {
			return nil, err
		}
		state[ii] = value
	}
	final, err := s.evaluator.EvaluateLoop(loop, literal.MakeTuple(state...))
	if err != nil {
		return nil, err
	}
	return final.Element(index)
}

// elementInstruction returns the instruction holding element index of the tuple valued inst, looking through
// Tuple and GetTupleElement instructions, or nil if it is computed by something else.
func elementInstruction(inst *hlo.Instruction, index int) *hlo.Instruction {
	switch inst.Opcode() {
	case opcode.Tuple:
		return inst.Operand(index)
	case opcode.GetTupleElement:
		if tuple := elementInstruction(inst.Operand(0), inst.TupleIndex()); tuple != nil {
			return elementInstruction(tuple, index)
		}
	}
	return nil
}

// loopDependencies returns the elements of the state of the loop that element index of its result depends
// on, including through the number of iterations, or all == true if they can't be told apart.
func loopDependencies(loop *hlo.Instruction, index int) (needed sets.Set[int], all bool) {
	body := loop.WhileBody()
	bodyParam, bodyRoot := body.ParameterInstruction(0), body.Root()
	if bodyRoot.Opcode() != opcode.Tuple {
		return nil, true
	}
	needed, all = conditionReads(loop)
	if all {
		return nil, true
	}
	needed.Insert(index)
	for {
		size := len(needed)
		for _, ii := range sets.Sorted(needed) {
			reads, readsAll := paramReads(bodyParam, bodyRoot.Operand(ii))
			if readsAll {
				return nil, true
			}
			needed = needed.Union(reads)
		}
		if len(needed) == size {
			return needed, false
		}
	}
}

// evalCondition evaluates the loop condition on the given state.
func (s *WhileLoopSimplifier) evalCondition(loop *hlo.Instruction, state *literal.Literal) (value bool, ok bool) {
	result, err := s.evaluator.Evaluate(loop.WhileCondition(), state)
	if err != nil {
		klog.V(2).Infof("loop %q: cannot fold condition: %v", loop.Name(), err)
		return false, false
	}
	value, err = literal.ScalarValue[bool](result)
	return value, err == nil
}

// conditionReads returns which elements of the state the loop condition depends on. For non-tuple states,
// all is set if the condition reads the state at all.
func conditionReads(loop *hlo.Instruction) (sets.Set[int], bool) {
	cond := loop.WhileCondition()
	return paramReads(cond.ParameterInstruction(0), cond.Root())
}

// removeZeroTripLoop replaces a loop whose condition is false on its initial value by the initial value.
func (s *WhileLoopSimplifier) removeZeroTripLoop(loop *hlo.Instruction) (*hlo.Instruction, bool, error) {
	reads, all := conditionReads(loop)
	state := s.foldInit(loop, reads, all)
	if state == nil {
		return nil, false, nil
	}
	if running, ok := s.evalCondition(loop, state); !ok || running {
		return nil, false, nil
	}
	klog.V(1).Infof("loop %q never runs: replacing it by its initial value", loop.Name())
	return nil, true, loop.Parent().ReplaceInstruction(loop, loop.Operand(0))
}

// inlineSingleTripLoop replaces a loop that runs its body exactly once by a copy of its body.
func (s *WhileLoopSimplifier) inlineSingleTripLoop(loop *hlo.Instruction) (*hlo.Instruction, bool, error) {
	body := loop.WhileBody()
	bodyParam, bodyRoot := body.ParameterInstruction(0), body.Root()
	condReads, all := conditionReads(loop)

	// Elements of the state after the first iteration the condition depends on, and the elements of the
	// initial value they depend on.
	var targets []*hlo.Instruction
	if all || bodyRoot.Opcode() != opcode.Tuple {
		all = true
		targets = []*hlo.Instruction{bodyRoot}
	} else {
		for _, index := range sets.Sorted(condReads) {
			targets = append(targets, bodyRoot.Operand(index))
		}
	}
	needed := condReads
	if !all {
		var bodyAll bool
		var bodyReads sets.Set[int]
		bodyReads, bodyAll = paramReads(bodyParam, targets...)
		all = bodyAll
		needed = condReads.Union(bodyReads)
	}
	state := s.foldInit(loop, needed, all)
	if state == nil {
		return nil, false, nil
	}
	if running, ok := s.evalCondition(loop, state); !ok || !running {
		return nil, false, nil
	}
	values, err := s.evaluator.EvaluateInstructions(body, []*literal.Literal{state}, targets...)
	if err != nil {
		klog.V(2).Infof("loop %q: cannot fold first iteration: %v", loop.Name(), err)
		return nil, false, nil
	}
	var nextState *literal.Literal
	if len(targets) == 1 && targets[0] == bodyRoot {
		nextState = values[0]
	} else {
		elements := make([]*literal.Literal, loop.Shape().TupleSize())
		for ii, elementShape := range loop.Shape().TupleShapes {
			elements[ii] = literal.Zeros(elementShape)
		}
		for ii, index := range sets.Sorted(condReads) {
			elements[index] = values[ii]
		}
		nextState = literal.MakeTuple(elements...)
	}
	if running, ok := s.evalCondition(loop, nextState); !ok || running {
		return nil, false, nil
	}

	klog.V(1).Infof("loop %q runs exactly once: inlining its body", loop.Name())
	c := loop.Parent()
	inlined, err := body.CloneInto(c, map[*hlo.Instruction]*hlo.Instruction{bodyParam: loop.Operand(0)})
	if err != nil {
		return nil, false, err
	}
	if err = c.ReplaceInstruction(loop, inlined); err != nil {
		return nil, false, err
	}
	return nil, true, forwardElements(c, inlined)
}

// bodyReads returns which elements of the state the loop body depends on, other than to pass them through
// to the same position of its result. passThrough tells which elements are passed through.
func bodyReads(loop *hlo.Instruction) (reads sets.Set[int], all bool, passThrough func(index int) bool) {
	body := loop.WhileBody()
	param, root := body.ParameterInstruction(0), body.Root()
	switch {
	case root == param:
		return sets.Make[int](), false, func(int) bool { return true }
	case root.Opcode() != opcode.Tuple:
		reads, all = paramReads(param, root)
		return reads, all, func(int) bool { return false }
	}
	isPassThrough := func(index int) bool {
		element := root.Operand(index)
		return element.Opcode() == opcode.GetTupleElement && element.Operand(0) == param && element.TupleIndex() == index
	}
	reads = sets.Make[int]()
	for ii, element := range root.Operands() {
		if isPassThrough(ii) {
			continue
		}
		elementReads, elementAll := paramReads(param, element)
		if elementAll {
			return nil, true, isPassThrough
		}
		reads = reads.Union(elementReads)
	}
	return reads, false, isPassThrough
}

// externalReads returns which elements of the result of the loop are used.
func externalReads(loop *hlo.Instruction) (reads sets.Set[int], all bool) {
	reads = sets.Make[int]()
	if loop.IsRoot() {
		return reads, true
	}
	for _, user := range loop.Users() {
		if user.Opcode() != opcode.GetTupleElement || user.HasControlDependencies() {
			return reads, true
		}
		reads.Insert(user.TupleIndex())
	}
	return reads, false
}

// initElement returns the instruction with the value of element index of the initial value of the loop,
// creating a GetTupleElement if needed.
func initElement(loop *hlo.Instruction, index int) (*hlo.Instruction, error) {
	init := loop.Operand(0)
	if init.Opcode() == opcode.Tuple {
		return init.Operand(index), nil
	}
	return loop.Parent().GetTupleElement(init, index)
}

// removeDeadElements removes the elements of the loop state that the condition doesn't read, and that the
// body only passes through unchanged (or doesn't read, if the element is not used after the loop).
func (s *WhileLoopSimplifier) removeDeadElements(loop *hlo.Instruction) (*hlo.Instruction, bool, error) {
	state := loop.Shape()
	body, cond := loop.WhileBody(), loop.WhileCondition()
	if !state.IsTuple() || state.TupleSize() == 0 || hasControlDependencies(body) || hasControlDependencies(cond) {
		return nil, false, nil
	}
	condReads, condAll := conditionReads(loop)
	if condAll {
		return nil, false, nil
	}
	bodyRead, bodyAll, passThrough := bodyReads(loop)
	if bodyAll {
		return nil, false, nil
	}
	usedAfter, usedAfterAll := externalReads(loop)
	var kept []int
	newIndex := make(map[int]int, state.TupleSize())
	for ii := range state.TupleSize() {
		removable := !condReads.Has(ii) && !bodyRead.Has(ii) &&
			(passThrough(ii) || (!usedAfterAll && !usedAfter.Has(ii)))
		if !removable {
			newIndex[ii] = len(kept)
			kept = append(kept, ii)
		}
	}
	if len(kept) == state.TupleSize() {
		return nil, false, nil
	}
	klog.V(1).Infof("loop %q: removing %d unused element(s) from its state", loop.Name(), state.TupleSize()-len(kept))

	keptShapes := make([]shapes.Shape, len(kept))
	for ii, index := range kept {
		keptShapes[ii] = state.TupleShapes[index]
	}
	newState := shapes.MakeTuple(keptShapes...)
	m := loop.Parent().Module()

	// newParamMapping maps the parameter of the old computation, and the extraction of the kept elements, to the
	// new computation's.
	newParamMapping := func(old, dst *hlo.Computation) (map[*hlo.Instruction]*hlo.Instruction, *hlo.Instruction, error) {
		oldParam := old.ParameterInstruction(0)
		param, err := dst.Parameter(0, oldParam.Name(), newState)
		if err != nil {
			return nil, nil, err
		}
		mapping := map[*hlo.Instruction]*hlo.Instruction{oldParam: param}
		extracted := make(map[int]*hlo.Instruction)
		for _, user := range oldParam.Users() {
			if user.Opcode() != opcode.GetTupleElement {
				continue
			}
			index, found := newIndex[user.TupleIndex()]
			if !found {
				continue
			}
			if extracted[index] == nil {
				if extracted[index], err = dst.GetTupleElement(param, index); err != nil {
					return nil, nil, err
				}
			}
			mapping[user] = extracted[index]
		}
		return mapping, param, nil
	}

	newCond := m.NewComputation(cond.Name())
	mapping, _, err := newParamMapping(cond, newCond)
	if err != nil {
		return nil, false, err
	}
	condRoot, err := cond.CloneInto(newCond, mapping)
	if err == nil {
		err = newCond.SetRoot(condRoot)
	}
	if err != nil {
		return nil, false, err
	}

	newBody := m.NewComputation(body.Name())
	mapping, newBodyParam, err := newParamMapping(body, newBody)
	if err != nil {
		return nil, false, err
	}
	bodyRoot := body.Root()
	var newBodyRoot *hlo.Instruction
	switch {
	case bodyRoot == body.ParameterInstruction(0):
		newBodyRoot = newBodyParam
	case bodyRoot.Opcode() == opcode.Tuple:
		targets := make([]*hlo.Instruction, len(kept))
		for ii, index := range kept {
			targets[ii] = bodyRoot.Operand(index)
		}
		var elements []*hlo.Instruction
		if elements, err = body.CloneSubgraphInto(newBody, mapping, targets...); err != nil {
			return nil, false, err
		}
		newBodyRoot, err = newBody.Tuple(elements...)
	default:
		var clone *hlo.Instruction
		if clone, err = body.CloneInto(newBody, mapping); err != nil {
			return nil, false, err
		}
		elements := make([]*hlo.Instruction, len(kept))
		for ii, index := range kept {
			if elements[ii], err = newBody.GetTupleElement(clone, index); err != nil {
				return nil, false, err
			}
		}
		newBodyRoot, err = newBody.Tuple(elements...)
	}
	if err == nil {
		err = newBody.SetRoot(newBodyRoot)
	}
	if err == nil {
		err = cleanUp(newCond)
	}
	if err == nil {
		err = cleanUp(newBody)
	}
	if err != nil {
		return nil, false, err
	}

	// New loop, and the values of the elements of the old one.
	c := loop.Parent()
	initElements := make([]*hlo.Instruction, len(kept))
	for ii, index := range kept {
		if initElements[ii], err = initElement(loop, index); err != nil {
			return nil, false, err
		}
	}
	newInit, err := c.Tuple(initElements...)
	if err != nil {
		return nil, false, err
	}
	newLoop, err := c.While(newCond, newBody, newInit)
	if err != nil {
		return nil, false, err
	}
	elementValue := func(index int) (*hlo.Instruction, error) {
		if newIdx, found := newIndex[index]; found {
			return c.GetTupleElement(newLoop, newIdx)
		}
		return initElement(loop, index)
	}

	if usedAfterAll {
		values := make([]*hlo.Instruction, state.TupleSize())
		for ii := range values {
			if values[ii], err = elementValue(ii); err != nil {
				return nil, false, err
			}
		}
		var compat *hlo.Instruction
		if compat, err = c.Tuple(values...); err != nil {
			return nil, false, err
		}
		if err = c.ReplaceInstruction(loop, compat); err != nil {
			return nil, false, err
		}
		return newLoop, true, forwardElements(c, compat)
	}
	for _, user := range loop.Users() {
		var value *hlo.Instruction
		if value, err = elementValue(user.TupleIndex()); err != nil {
			return nil, false, err
		}
		if err = c.ReplaceInstruction(user, value); err != nil {
			return nil, false, err
		}
	}
	if !loop.IsDead() {
		if err = c.RemoveInstructionAndUnusedOperands(loop); err != nil {
			return nil, false, err
		}
	}
	return newLoop, true, nil
}

// flattenState rewrites a loop with a nested tuple state into a loop whose state is the tuple of the leaves
// of the original state.
func (s *WhileLoopSimplifier) flattenState(loop *hlo.Instruction) (*hlo.Instruction, bool, error) {
	state := loop.Shape()
	if !state.IsNestedTuple() {
		return nil, false, nil
	}
	klog.V(1).Infof("loop %q: flattening state %s", loop.Name(), state)
	flatState := state.Flatten()
	body, cond := loop.WhileBody(), loop.WhileCondition()
	m := loop.Parent().Module()

	// newNestedView creates a computation taking the flat state, and a view of it with the original shape.
	newNestedView := func(old *hlo.Computation) (*hlo.Computation, map[*hlo.Instruction]*hlo.Instruction, error) {
		dst := m.NewComputation(old.Name())
		oldParam := old.ParameterInstruction(0)
		param, err := dst.Parameter(0, oldParam.Name(), flatState)
		if err != nil {
			return nil, nil, err
		}
		next := 0
		view, err := unflatten(dst, param, state, &next)
		if err != nil {
			return nil, nil, err
		}
		return dst, map[*hlo.Instruction]*hlo.Instruction{oldParam: view}, nil
	}

	newCond, mapping, err := newNestedView(cond)
	if err != nil {
		return nil, false, err
	}
	condRoot, err := cond.CloneInto(newCond, mapping)
	if err == nil {
		err = newCond.SetRoot(condRoot)
	}
	if err != nil {
		return nil, false, err
	}

	newBody, mapping, err := newNestedView(body)
	if err != nil {
		return nil, false, err
	}
	bodyRoot, err := body.CloneInto(newBody, mapping)
	if err != nil {
		return nil, false, err
	}
	leaves, err := flatten(newBody, bodyRoot, state)
	if err != nil {
		return nil, false, err
	}
	newBodyRoot, err := newBody.Tuple(leaves...)
	if err == nil {
		err = newBody.SetRoot(newBodyRoot)
	}
	if err == nil {
		err = cleanUp(newCond)
	}
	if err == nil {
		err = cleanUp(newBody)
	}
	if err != nil {
		return nil, false, err
	}

	c := loop.Parent()
	leaves, err = flatten(c, loop.Operand(0), state)
	if err != nil {
		return nil, false, err
	}
	newInit, err := c.Tuple(leaves...)
	if err != nil {
		return nil, false, err
	}
	newLoop, err := c.While(newCond, newBody, newInit)
	if err != nil {
		return nil, false, err
	}
	next := 0
	compat, err := unflatten(c, newLoop, state, &next)
	if err != nil {
		return nil, false, err
	}
	if err = c.ReplaceInstruction(loop, compat); err != nil {
		return nil, false, err
	}
	return newLoop, true, forwardElements(c, compat)
}

// unflatten builds a value of the given (possibly nested) shape from the elements of the flat tuple, taken in
// depth-first order starting at *next.
func unflatten(c *hlo.Computation, flat *hlo.Instruction, shape shapes.Shape, next *int) (*hlo.Instruction, error) {
	if !shape.IsTuple() {
		element, err := c.GetTupleElement(flat, *next)
		*next++
		return element, err
	}
	elements := make([]*hlo.Instruction, shape.TupleSize())
	for ii, elementShape := range shape.TupleShapes {
		var err error
		if elements[ii], err = unflatten(c, flat, elementShape, next); err != nil {
			return nil, err
		}
	}
	return c.Tuple(elements...)
}

// flatten returns the leaves of the value of the given (possibly nested) shape, in depth-first order.
func flatten(c *hlo.Computation, value *hlo.Instruction, shape shapes.Shape) ([]*hlo.Instruction, error) {
	if !shape.IsTuple() {
		return []*hlo.Instruction{value}, nil
	}
	var leaves []*hlo.Instruction
	for ii, elementShape := range shape.TupleShapes {
		var (
			element *hlo.Instruction
			err     error
		)
		if value.Opcode() == opcode.Tuple {
			element = value.Operand(ii)
		} else if element, err = c.GetTupleElement(value, ii); err != nil {
			return nil, err
		}
		elementLeaves, err := flatten(c, element, elementShape)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, elementLeaves...)
	}
	return leaves, nil
}
