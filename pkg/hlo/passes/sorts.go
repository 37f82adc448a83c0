// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// SortSimplifierName is the registered name of SortSimplifier.
	SortSimplifierName = "simplify-sorts"

	// StableSortExpanderName is the registered name of StableSortExpander.
	StableSortExpanderName = "stable-sort-expander"
)

// SortSimplifier removes from multi-operand Sort instructions the operands whose sorted values are never
// used and that the comparator doesn't look at.
//
// It only handles sorts whose users are all GetTupleElement instructions.
type SortSimplifier struct{}

// NewSortSimplifier creates a SortSimplifier.
func NewSortSimplifier() *SortSimplifier { return &SortSimplifier{} }

// Name implements pass.Pass.
func (p *SortSimplifier) Name() string { return SortSimplifierName }

// Run implements pass.Pass.
func (p *SortSimplifier) Run(m *hlo.Module) (bool, error) {
	var detached []*hlo.Computation
	changed, err := pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		changed := false
		for _, sortInst := range c.InstructionsWithOpcode(opcode.Sort) {
			comparator := sortInst.Comparator()
			sortChanged, err := removeUnusedSortOperands(sortInst)
			if err != nil {
				return true, errors.WithMessagef(err, "simplifying sort %q", sortInst.Name())
			}
			if sortChanged {
				changed = true
				detached = append(detached, comparator)
			}
		}
		return changed, nil
	})
	if err != nil || !changed {
		return changed, err
	}
	return true, removeUncalled(m, detached...)
}

// removeUnusedSortOperands replaces sortInst by a Sort of only its used operands, if any is unused.
func removeUnusedSortOperands(sortInst *hlo.Instruction) (bool, error) {
	numOperands := sortInst.NumOperands()
	if numOperands < 2 || sortInst.IsRoot() || sortInst.HasControlDependencies() {
		return false, nil
	}
	used := sets.Make[int]()
	for _, user := range sortInst.Users() {
		if user.Opcode() != opcode.GetTupleElement || user.HasControlDependencies() {
			return false, nil
		}
		if user.UserCount() > 0 || user.IsRoot() {
			used.Insert(user.TupleIndex())
		}
	}
	comparator := sortInst.Comparator()
	if hasControlDependencies(comparator) {
		return false, nil
	}
	isComparedParam := func(number int) bool {
		param := comparator.ParameterInstruction(number)
		return param.UserCount() > 0 || param.IsRoot()
	}
	var kept []int
	newIndex := make(map[int]int, numOperands)
	for ii := range numOperands {
		if used.Has(ii) || isComparedParam(2*ii) || isComparedParam(2*ii+1) {
			newIndex[ii] = len(kept)
			kept = append(kept, ii)
		}
	}
	if len(kept) == numOperands || len(kept) == 0 {
		// Sorts of which nothing is used are left to the dead code elimination.
		return false, nil
	}
	klog.V(1).Infof("sort %q: removing %d unused operand(s)", sortInst.Name(), numOperands-len(kept))

	// Comparator on the kept operands only.
	m := sortInst.Parent().Module()
	newComparator := m.NewComputation(comparator.Name())
	mapping := make(map[*hlo.Instruction]*hlo.Instruction, 2*len(kept))
	for newIdx, index := range kept {
		for side := range 2 {
			param := comparator.ParameterInstruction(2*index + side)
			newParam, err := newComparator.Parameter(2*newIdx+side, param.Name(), param.Shape())
			if err != nil {
				return false, err
			}
			mapping[param] = newParam
		}
	}
	root, err := comparator.CloneInto(newComparator, mapping)
	if err == nil {
		err = newComparator.SetRoot(root)
	}
	if err != nil {
		return false, err
	}

	c := sortInst.Parent()
	operands := make([]*hlo.Instruction, len(kept))
	for ii, index := range kept {
		operands[ii] = sortInst.Operand(index)
	}
	newSort, err := c.Sort(sortInst.SortDimension(), sortInst.IsStable(), newComparator, operands...)
	if err != nil {
		return false, err
	}

	users := sortInst.Users()
	for _, user := range users {
		if !used.Has(user.TupleIndex()) {
			if err = c.RemoveInstruction(user); err != nil {
				return false, err
			}
		}
	}
	for _, user := range users {
		if user.IsDead() {
			continue
		}
		replacement := newSort
		if len(kept) > 1 {
			if replacement, err = c.GetTupleElement(newSort, newIndex[user.TupleIndex()]); err != nil {
				return false, err
			}
		}
		if err = c.ReplaceInstruction(user, replacement); err != nil {
			return false, err
		}
	}
	if !sortInst.IsDead() {
		return true, c.RemoveInstructionAndUnusedOperands(sortInst)
	}
	return true, nil
}

// StableSortExpander rewrites every stable Sort into an equivalent non-stable one: an Int32 iota along the
// sort dimension is added as an extra operand (unless one is already sorted along), and the comparator is
// wrapped to break ties with it, so no two elements ever compare equal.
type StableSortExpander struct{}

// NewStableSortExpander creates a StableSortExpander.
func NewStableSortExpander() *StableSortExpander { return &StableSortExpander{} }

// Name implements pass.Pass.
func (p *StableSortExpander) Name() string { return StableSortExpanderName }

// Run implements pass.Pass.
func (p *StableSortExpander) Run(m *hlo.Module) (bool, error) {
	var detached []*hlo.Computation
	changed, err := pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		changed := false
		for _, sortInst := range c.InstructionsWithOpcode(opcode.Sort) {
			if !sortInst.IsStable() {
				continue
			}
			detached = append(detached, sortInst.Comparator())
			if err := expandStableSort(sortInst); err != nil {
				return true, errors.WithMessagef(err, "expanding stable sort %q", sortInst.Name())
			}
			changed = true
		}
		return changed, nil
	})
	if err != nil || !changed {
		return changed, err
	}
	return true, removeUncalled(m, detached...)
}

// iotaOperand returns the index of an operand of sortInst that is an Int32 iota along the sort dimension, or
// -1 if there is none.
func iotaOperand(sortInst *hlo.Instruction) int {
	for ii, operand := range sortInst.Operands() {
		if operand.Opcode() == opcode.Iota && operand.Shape().DType == dtypes.Int32 &&
			operand.IotaDimension() == sortInst.SortDimension() {
			return ii
		}
	}
	return -1
}

// expandStableSort replaces sortInst by a non-stable Sort with a comparator that breaks ties by the original
// position of the elements.
func expandStableSort(sortInst *hlo.Instruction) error {
	c := sortInst.Parent()
	m := c.Module()
	comparator := sortInst.Comparator()
	operands := sortInst.Operands()
	numOperands := len(operands)
	iotaIndex := iotaOperand(sortInst)
	if iotaIndex < 0 {
		iotaShape := operands[0].Shape().WithDType(dtypes.Int32)
		iota, err := c.Iota(iotaShape, sortInst.SortDimension())
		if err != nil {
			return err
		}
		iotaIndex = len(operands)
		operands = append(operands, iota)
	}
	klog.V(1).Infof("sort %q: breaking ties with operand #%d", sortInst.Name(), iotaIndex)

	// less(a, b) || (!less(b, a) && iota(a) < iota(b))
	newComparator := m.NewComputation(comparator.Name() + ".stable")
	params := make([]*hlo.Instruction, 2*len(operands))
	for ii, operand := range operands {
		for side := range 2 {
			number := 2*ii + side
			name := "lhs"
			if side == 1 {
				name = "rhs"
			}
			if ii < numOperands {
				name = comparator.ParameterInstruction(number).Name()
			}
			var err error
			params[number], err = newComparator.Parameter(number, name, shapes.Make(operand.Shape().DType))
			if err != nil {
				return err
			}
		}
	}
	less := func(swapped bool) (*hlo.Instruction, error) {
		mapping := make(map[*hlo.Instruction]*hlo.Instruction, 2*numOperands)
		for number := range 2 * numOperands {
			param := comparator.ParameterInstruction(number)
			if swapped {
				mapping[param] = params[number^1]
			} else {
				mapping[param] = params[number]
			}
		}
		return comparator.CloneInto(newComparator, mapping)
	}
	lessAB, err := less(false)
	if err != nil {
		return err
	}
	lessBA, err := less(true)
	if err != nil {
		return err
	}
	notLessBA, err := newComparator.Unary(opcode.Not, lessBA)
	if err != nil {
		return err
	}
	earlier, err := newComparator.Compare(opcode.CompareLT, params[2*iotaIndex], params[2*iotaIndex+1])
	if err != nil {
		return err
	}
	tie, err := newComparator.Binary(opcode.And, notLessBA, earlier)
	if err != nil {
		return err
	}
	root, err := newComparator.Binary(opcode.Or, lessAB, tie)
	if err == nil {
		err = newComparator.SetRoot(root)
	}
	if err != nil {
		return err
	}

	newSort, err := c.Sort(sortInst.SortDimension(), false, newComparator, operands...)
	if err != nil {
		return err
	}
	if len(operands) == numOperands {
		return c.ReplaceInstruction(sortInst, newSort)
	}
	// Drop the added iota from the result.
	if numOperands == 1 {
		result, err := c.GetTupleElement(newSort, 0)
		if err != nil {
			return err
		}
		return c.ReplaceInstruction(sortInst, result)
	}
	elements := make([]*hlo.Instruction, numOperands)
	for ii := range elements {
		if elements[ii], err = c.GetTupleElement(newSort, ii); err != nil {
			return err
		}
	}
	result, err := c.Tuple(elements...)
	if err != nil {
		return err
	}
	if err = c.ReplaceInstruction(sortInst, result); err != nil {
		return err
	}
	return forwardElements(c, result)
}
