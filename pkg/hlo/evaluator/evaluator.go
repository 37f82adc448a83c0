// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package evaluator interprets HLO computations on host literals.
//
// It is used by the passes to constant-fold parts of a program (e.g. the trip count of a loop whose
// condition only depends on constants), and by tests to check that a transformation preserves the values
// a program computes.
//
// It favors simplicity over speed: there is no compilation nor buffer reuse, every instruction produces a
// new literal.
package evaluator

import (
	"reflect"
	"sort"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxLoopIterations is the default cap on the number of iterations of each While loop evaluated.
const DefaultMaxLoopIterations = 1 << 20

// ErrIterationLimit is returned (wrapped) when a While loop runs more than Evaluator.MaxLoopIterations.
var ErrIterationLimit = errors.New("while loop iteration limit reached")

// Evaluator interprets computations. It holds no state besides its configuration, and can be used
// concurrently.
type Evaluator struct {
	// MaxLoopIterations caps the number of iterations of each While loop. If <= 0 there is no limit.
	MaxLoopIterations int
}

// New returns an Evaluator with the default configuration.
func New() *Evaluator {
	return &Evaluator{MaxLoopIterations: DefaultMaxLoopIterations}
}

// WithMaxLoopIterations sets the cap on the number of iterations of each While loop. It returns the
// Evaluator itself, so configuration calls can be cascaded.
func (e *Evaluator) WithMaxLoopIterations(n int) *Evaluator {
	e.MaxLoopIterations = n
	return e
}

// EvaluateModule evaluates the entry computation of the module.
func (e *Evaluator) EvaluateModule(m *hlo.Module, args ...*literal.Literal) (*literal.Literal, error) {
	entry := m.Entry()
	if entry == nil {
		return nil, status.InvalidArgumentf("module %q has no entry computation", m.Name())
	}
	return e.Evaluate(entry, args...)
}

// Evaluate the computation on the given arguments, one per parameter, and return the value of its root.
func (e *Evaluator) Evaluate(c *hlo.Computation, args ...*literal.Literal) (*literal.Literal, error) {
	root := c.Root()
	if root == nil {
		return nil, status.InvalidArgumentf("computation %q has no root", c.Name())
	}
	if len(args) != c.NumParameters() {
		return nil, status.InvalidArgumentf("computation %q takes %d parameters, got %d arguments",
			c.Name(), c.NumParameters(), len(args))
	}
	values, err := e.EvaluateInstructions(c, args, root)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// EvaluateInstructions evaluates only the given targets of the computation, and whatever they depend on.
//
// args are indexed by parameter number and may be shorter than the number of parameters, or hold nil
// entries, for parameters whose value is unknown: it's an error only if one of the targets depends on them.
// This allows folding parts of a computation whose other parts depend on values not known.
func (e *Evaluator) EvaluateInstructions(c *hlo.Computation, args []*literal.Literal, targets ...*hlo.Instruction) ([]*literal.Literal, error) {
	for ii, arg := range args {
		param := c.ParameterInstruction(ii)
		if arg == nil || param == nil {
			continue
		}
		if !arg.Shape().Equal(param.Shape()) {
			return nil, status.InvalidArgumentf("argument #%d of computation %q has shape %s, but parameter %q has shape %s",
				ii, c.Name(), arg.Shape(), param.Name(), param.Shape())
		}
	}

	// Collect the instructions the targets depend on.
	needed := make(map[*hlo.Instruction]bool)
	stack := make([]*hlo.Instruction, 0, len(targets))
	for _, target := range targets {
		if target == nil || target.Parent() != c {
			return nil, status.InvalidArgumentf("evaluation target is not an instruction of computation %q", c.Name())
		}
		stack = append(stack, target)
	}
	for len(stack) > 0 {
		inst := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed[inst] {
			continue
		}
		needed[inst] = true
		stack = append(stack, inst.Operands()...)
	}

	values := make(map[*hlo.Instruction]*literal.Literal, len(needed))
	for _, inst := range c.PostOrder() {
		if !needed[inst] {
			continue
		}
		operands := make([]*literal.Literal, inst.NumOperands())
		for ii, operand := range inst.Operands() {
			operands[ii] = values[operand]
		}
		value, err := e.evalInstruction(inst, operands, args)
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating %q in computation %q", inst.Name(), c.Name())
		}
		values[inst] = value
	}

	results := make([]*literal.Literal, len(targets))
	for ii, target := range targets {
		results[ii] = values[target]
	}
	return results, nil
}

// evalInstruction evaluates one instruction given the values of its operands.
func (e *Evaluator) evalInstruction(inst *hlo.Instruction, operands, args []*literal.Literal) (*literal.Literal, error) {
	op := inst.Opcode()
	switch op {
	case opcode.Parameter:
		number := inst.ParameterNumber()
		if number >= len(args) || args[number] == nil {
			return nil, status.InvalidArgumentf("value of parameter #%d (%q) not known", number, inst.Name())
		}
		return args[number], nil
	case opcode.Constant:
		return inst.Literal(), nil
	case opcode.Tuple:
		return literal.MakeTuple(operands...), nil
	case opcode.GetTupleElement:
		return operands[0].Element(inst.TupleIndex())
	case opcode.Iota:
		return literal.Iota(inst.Shape(), inst.IotaDimension())
	case opcode.Convert:
		return operands[0].Convert(inst.Shape().DType)
	case opcode.Compare:
		return evalCompare(inst.ComparisonDirection(), operands[0], operands[1])
	case opcode.Select:
		return evalSelect(operands[0], operands[1], operands[2])
	case opcode.While:
		return e.evalWhile(inst, operands[0])
	case opcode.Conditional:
		return e.evalConditional(inst, operands)
	case opcode.Call:
		return e.Evaluate(inst.Callee(), operands...)
	case opcode.Sort:
		return e.evalSort(inst, operands)
	}
	if opcode.ElementwiseUnary.Has(op) {
		return evalUnary(op, operands[0])
	}
	if opcode.ElementwiseBinary.Has(op) {
		return evalBinary(op, operands[0], operands[1])
	}
	return nil, status.Unimplementedf("evaluation of %s not implemented", op)
}

// predicate returns the value of a boolean scalar.
func predicate(value *literal.Literal) (bool, error) {
	return literal.ScalarValue[bool](value)
}

// EvaluateLoop runs the While instruction loop starting from the given state, and returns its final state.
// The operand of the loop is not evaluated: init may differ from its value.
func (e *Evaluator) EvaluateLoop(loop *hlo.Instruction, init *literal.Literal) (*literal.Literal, error) {
	if loop.Opcode() != opcode.While {
		return nil, status.InvalidArgumentf("EvaluateLoop requires a While instruction, got %s", loop.Opcode())
	}
	if !init.Shape().Equal(loop.Shape()) {
		return nil, status.InvalidArgumentf("initial state of loop %q has shape %s, but the loop state is %s",
			loop.Name(), init.Shape(), loop.Shape())
	}
	return e.evalWhile(loop, init)
}

func (e *Evaluator) evalWhile(inst *hlo.Instruction, init *literal.Literal) (*literal.Literal, error) {
	condition, body := inst.WhileCondition(), inst.WhileBody()
	state := init
	for iteration := 0; ; iteration++ {
		value, err := e.Evaluate(condition, state)
		if err != nil {
			return nil, err
		}
		keepGoing, err := predicate(value)
		if err != nil {
			return nil, err
		}
		if !keepGoing {
			klog.V(2).Infof("evaluator: while loop %q finished after %d iterations", inst.Name(), iteration)
			return state, nil
		}
		if e.MaxLoopIterations > 0 && iteration >= e.MaxLoopIterations {
			return nil, errors.Wrapf(ErrIterationLimit, "while loop %q ran more than %d iterations", inst.Name(), e.MaxLoopIterations)
		}
		state, err = e.Evaluate(body, state)
		if err != nil {
			return nil, err
		}
	}
}

// BranchIndex returns the branch taken by a Conditional given the value of its branch index: for booleans,
// true selects branch 0 and false branch 1; integer indices out of range select the last branch.
func BranchIndex(index *literal.Literal, numBranches int) (int, error) {
	if !index.Shape().IsScalar() {
		return 0, status.InvalidArgumentf("branch index must be a scalar, got %s", index.Shape())
	}
	if index.Shape().DType == dtypes.Bool {
		pred, err := predicate(index)
		if err != nil {
			return 0, err
		}
		if pred {
			return 0, nil
		}
		return 1, nil
	}
	values, err := index.Int64s()
	if err != nil {
		return 0, err
	}
	if values[0] < 0 || values[0] >= int64(numBranches) {
		return numBranches - 1, nil
	}
	return int(values[0]), nil
}

func (e *Evaluator) evalConditional(inst *hlo.Instruction, operands []*literal.Literal) (*literal.Literal, error) {
	branches := inst.BranchComputations()
	branch, err := BranchIndex(operands[0], len(branches))
	if err != nil {
		return nil, err
	}
	return e.Evaluate(branches[branch], operands[1+branch])
}

// evalSort sorts each row along the sort dimension, moving all operands together. The comparator is
// evaluated for each comparison.
func (e *Evaluator) evalSort(inst *hlo.Instruction, operands []*literal.Literal) (*literal.Literal, error) {
	comparator := inst.Comparator()
	shape := operands[0].Shape()
	axis := inst.SortDimension()
	axisSize := shape.Dimensions[axis]
	outerSize, innerSize := 1, 1
	for ii := range axis {
		outerSize *= shape.Dimensions[ii]
	}
	for ii := axis + 1; ii < shape.Rank(); ii++ {
		innerSize *= shape.Dimensions[ii]
	}

	// permutation[offset] is the flat offset of the input element that goes to offset.
	permutation := make([]int, shape.Size())
	indices := make([]int, axisSize)
	args := make([]*literal.Literal, 2*len(operands))
	for outer := range outerSize {
		for inner := range innerSize {
			base := outer*axisSize*innerSize + inner
			for ii := range indices {
				indices[ii] = ii
			}
			var sortErr error
			less := func(i, j int) bool {
				if sortErr != nil {
					return false
				}
				offsetI := base + indices[i]*innerSize
				offsetJ := base + indices[j]*innerSize
				for k, operand := range operands {
					if args[2*k], sortErr = scalarAt(operand, offsetI); sortErr != nil {
						return false
					}
					if args[2*k+1], sortErr = scalarAt(operand, offsetJ); sortErr != nil {
						return false
					}
				}
				var value *literal.Literal
				value, sortErr = e.Evaluate(comparator, args...)
				if sortErr != nil {
					return false
				}
				var result bool
				result, sortErr = predicate(value)
				return result
			}
			if inst.IsStable() {
				sort.SliceStable(indices, less)
			} else {
				sort.Slice(indices, less)
			}
			if sortErr != nil {
				return nil, errors.WithMessagef(sortErr, "sort comparator %q", comparator.Name())
			}
			for ii, index := range indices {
				permutation[base+ii*innerSize] = base + index*innerSize
			}
		}
	}

	results := make([]*literal.Literal, len(operands))
	for k, operand := range operands {
		permuted, err := permute(operand, permutation)
		if err != nil {
			return nil, err
		}
		results[k] = permuted
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return literal.MakeTuple(results...), nil
}

// permute returns a literal with output[ii] = x[permutation[ii]].
func permute(x *literal.Literal, permutation []int) (*literal.Literal, error) {
	flatV := reflect.ValueOf(x.FlatAny())
	outputV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	for ii, from := range permutation {
		outputV.Index(ii).Set(flatV.Index(from))
	}
	return literal.FromFlatAny(x.Shape(), outputV.Interface())
}

// Scalar evaluates an instruction that doesn't depend on any parameter, and returns its value as a scalar
// of type T. It's a convenience for passes that fold control values (trip counts, branch indices).
func Scalar[T dtypes.Supported](e *Evaluator, inst *hlo.Instruction) (T, error) {
	var zero T
	values, err := e.EvaluateInstructions(inst.Parent(), nil, inst)
	if err != nil {
		return zero, err
	}
	if !values[0].Shape().Equal(shapes.Make(dtypes.FromGenericsType[T]())) {
		return zero, status.InvalidArgumentf("instruction %q is not a scalar of type %s", inst.Name(), dtypes.FromGenericsType[T]())
	}
	return literal.ScalarValue[T](values[0])
}
