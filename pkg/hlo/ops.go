// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/shapeinference"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/pkg/errors"
)

// newInstruction checks the operands belong to c, and creates the instruction with the given shape.
// It doesn't add it to the computation.
func (c *Computation) newInstruction(op opcode.Opcode, shape shapes.Shape, operands ...*Instruction) (*Instruction, error) {
	inst := &Instruction{
		opcode:     op,
		shape:      shape,
		operands:   make([]Handle, len(operands)),
		comparison: opcode.CompareInvalid,
	}
	for ii, operand := range operands {
		if err := c.checkOwns(operand); err != nil {
			return nil, c.errorf(err, op)
		}
		inst.operands[ii] = operand.handle
	}
	return inst, nil
}

// checkCallee returns an error if the computation cannot be called from c.
func (c *Computation) checkCallee(callee *Computation, op opcode.Opcode) error {
	if callee == nil {
		return c.errorf(status.InvalidArgumentf("nil called computation"), op)
	}
	if callee.module != c.module {
		return c.errorf(status.InvalidArgumentf("called computation %q is not part of module %q", callee.name, c.module.name), op)
	}
	if callee == c {
		return c.errorf(status.InvalidArgumentf("computation %q cannot call itself", c.name), op)
	}
	return nil
}

func operandShapes(operands []*Instruction) []shapes.Shape {
	ss := make([]shapes.Shape, len(operands))
	for ii, operand := range operands {
		if operand != nil {
			ss[ii] = operand.shape
		}
	}
	return ss
}

// Parameter creates the parameter with the given number. Numbers must be unique in the computation, and
// in a valid computation they go from 0 to NumParameters()-1.
func (c *Computation) Parameter(number int, name string, shape shapes.Shape) (*Instruction, error) {
	if number < 0 {
		return nil, c.errorf(status.InvalidArgumentf("negative parameter number %d", number), opcode.Parameter)
	}
	if number < len(c.parameters) && c.parameters[number].IsValid() {
		return nil, c.errorf(status.InvalidArgumentf("parameter number %d already defined", number), opcode.Parameter)
	}
	if !shape.Ok() {
		return nil, c.errorf(status.InvalidArgumentf("invalid shape for parameter %d", number), opcode.Parameter)
	}
	inst, err := c.newInstruction(opcode.Parameter, shape.Clone())
	if err != nil {
		return nil, err
	}
	inst.parameterNumber = number
	c.add(inst, name)
	for len(c.parameters) <= number {
		c.parameters = append(c.parameters, Handle{})
	}
	c.parameters[number] = inst.handle
	return inst, nil
}

// Constant creates a constant with the given value. Literals are immutable, so the value is not copied.
func (c *Computation) Constant(value *literal.Literal) (*Instruction, error) {
	if value == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil literal"), opcode.Constant)
	}
	inst, err := c.newInstruction(opcode.Constant, value.Shape().Clone())
	if err != nil {
		return nil, err
	}
	inst.literal = value
	return c.add(inst, ""), nil
}

// Tuple creates a tuple of the given elements.
func (c *Computation) Tuple(elements ...*Instruction) (*Instruction, error) {
	shape, err := shapeinference.Tuple(operandShapes(elements))
	if err != nil {
		return nil, c.errorf(err, opcode.Tuple)
	}
	inst, err := c.newInstruction(opcode.Tuple, shape, elements...)
	if err != nil {
		return nil, err
	}
	return c.add(inst, ""), nil
}

// GetTupleElement extracts element index of the tuple.
func (c *Computation) GetTupleElement(tuple *Instruction, index int) (*Instruction, error) {
	if tuple == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil tuple"), opcode.GetTupleElement)
	}
	shape, err := shapeinference.GetTupleElement(tuple.shape, index)
	if err != nil {
		return nil, c.errorf(err, opcode.GetTupleElement)
	}
	inst, err := c.newInstruction(opcode.GetTupleElement, shape, tuple)
	if err != nil {
		return nil, err
	}
	inst.tupleIndex = index
	return c.add(inst, ""), nil
}

// Unary creates an elementwise unary operation (Negate, Abs, Not).
func (c *Computation) Unary(op opcode.Opcode, operand *Instruction) (*Instruction, error) {
	if operand == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), op)
	}
	shape, err := shapeinference.UnaryOp(op, operand.shape)
	if err != nil {
		return nil, c.errorf(err, op)
	}
	inst, err := c.newInstruction(op, shape, operand)
	if err != nil {
		return nil, err
	}
	return c.add(inst, ""), nil
}

// Binary creates an elementwise binary operation (Add, Subtract, Multiply, Divide, Maximum, Minimum, And, Or).
func (c *Computation) Binary(op opcode.Opcode, lhs, rhs *Instruction) (*Instruction, error) {
	if lhs == nil || rhs == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), op)
	}
	shape, err := shapeinference.BinaryOp(op, lhs.shape, rhs.shape)
	if err != nil {
		return nil, c.errorf(err, op)
	}
	inst, err := c.newInstruction(op, shape, lhs, rhs)
	if err != nil {
		return nil, err
	}
	return c.add(inst, ""), nil
}

// Compare creates an elementwise comparison, returning booleans.
func (c *Computation) Compare(direction opcode.ComparisonDirection, lhs, rhs *Instruction) (*Instruction, error) {
	if lhs == nil || rhs == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), opcode.Compare)
	}
	shape, err := shapeinference.Compare(lhs.shape, rhs.shape, direction)
	if err != nil {
		return nil, c.errorf(err, opcode.Compare)
	}
	inst, err := c.newInstruction(opcode.Compare, shape, lhs, rhs)
	if err != nil {
		return nil, err
	}
	inst.comparison = direction
	return c.add(inst, ""), nil
}

// Select creates an elementwise select: onTrue where pred is true, onFalse otherwise.
func (c *Computation) Select(pred, onTrue, onFalse *Instruction) (*Instruction, error) {
	if pred == nil || onTrue == nil || onFalse == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), opcode.Select)
	}
	shape, err := shapeinference.Select(pred.shape, onTrue.shape, onFalse.shape)
	if err != nil {
		return nil, c.errorf(err, opcode.Select)
	}
	inst, err := c.newInstruction(opcode.Select, shape, pred, onTrue, onFalse)
	if err != nil {
		return nil, err
	}
	return c.add(inst, ""), nil
}

// Convert creates an elementwise conversion of operand to dtype.
func (c *Computation) Convert(operand *Instruction, dtype dtypes.DType) (*Instruction, error) {
	if operand == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), opcode.Convert)
	}
	shape, err := shapeinference.Convert(operand.shape, dtype)
	if err != nil {
		return nil, c.errorf(err, opcode.Convert)
	}
	inst, err := c.newInstruction(opcode.Convert, shape, operand)
	if err != nil {
		return nil, err
	}
	return c.add(inst, ""), nil
}

// Iota creates an array of the given shape where each element holds its index along iotaDimension.
func (c *Computation) Iota(shape shapes.Shape, iotaDimension int) (*Instruction, error) {
	shape, err := shapeinference.Iota(shape, iotaDimension)
	if err != nil {
		return nil, c.errorf(err, opcode.Iota)
	}
	inst, err := c.newInstruction(opcode.Iota, shape)
	if err != nil {
		return nil, err
	}
	inst.dimension = iotaDimension
	return c.add(inst, ""), nil
}

// While creates a loop that, starting from init, runs body while condition returns true.
func (c *Computation) While(condition, body *Computation, init *Instruction) (*Instruction, error) {
	if err := c.checkCallee(condition, opcode.While); err != nil {
		return nil, err
	}
	if err := c.checkCallee(body, opcode.While); err != nil {
		return nil, err
	}
	if init == nil {
		return nil, c.errorf(status.InvalidArgumentf("nil initial value"), opcode.While)
	}
	shape, err := shapeinference.While(condition.Signature(), body.Signature(), init.shape)
	if err != nil {
		return nil, c.errorf(err, opcode.While)
	}
	inst, err := c.newInstruction(opcode.While, shape, init)
	if err != nil {
		return nil, err
	}
	inst.calledComputations = []*Computation{body, condition}
	return c.add(inst, ""), nil
}

// Conditional creates a conditional that runs branches[i] on operands[i], with i given by branchIndex: a
// boolean scalar (true runs branch 0, false branch 1) or an Int32 scalar (out-of-range runs the last
// branch).
func (c *Computation) Conditional(branchIndex *Instruction, branches []*Computation, operands []*Instruction) (*Instruction, error) {
	if branchIndex == nil || slices.Contains(operands, nil) {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), opcode.Conditional)
	}
	signatures := make([]shapeinference.Signature, len(branches))
	for ii, branch := range branches {
		if err := c.checkCallee(branch, opcode.Conditional); err != nil {
			return nil, err
		}
		signatures[ii] = branch.Signature()
	}
	shape, err := shapeinference.Conditional(branchIndex.shape, signatures, operandShapes(operands))
	if err != nil {
		return nil, c.errorf(err, opcode.Conditional)
	}
	inst, err := c.newInstruction(opcode.Conditional, shape, append([]*Instruction{branchIndex}, operands...)...)
	if err != nil {
		return nil, err
	}
	inst.calledComputations = slices.Clone(branches)
	return c.add(inst, ""), nil
}

// Call creates a call to callee with the given arguments.
func (c *Computation) Call(callee *Computation, args ...*Instruction) (*Instruction, error) {
	if err := c.checkCallee(callee, opcode.Call); err != nil {
		return nil, err
	}
	if slices.Contains(args, nil) {
		return nil, c.errorf(status.InvalidArgumentf("nil argument"), opcode.Call)
	}
	shape, err := shapeinference.Call(callee.Signature(), operandShapes(args))
	if err != nil {
		return nil, c.errorf(err, opcode.Call)
	}
	inst, err := c.newInstruction(opcode.Call, shape, args...)
	if err != nil {
		return nil, err
	}
	inst.calledComputations = []*Computation{callee}
	return c.add(inst, ""), nil
}

// Sort sorts the operands along dimension, all permuted together according to the comparator, which
// takes two scalars per operand (lhs_0, rhs_0, lhs_1, rhs_1, ...) and returns whether lhs < rhs.
// If isStable, elements that compare equal keep their relative order.
func (c *Computation) Sort(dimension int, isStable bool, comparator *Computation, operands ...*Instruction) (*Instruction, error) {
	if err := c.checkCallee(comparator, opcode.Sort); err != nil {
		return nil, err
	}
	if slices.Contains(operands, nil) {
		return nil, c.errorf(status.InvalidArgumentf("nil operand"), opcode.Sort)
	}
	shape, err := shapeinference.Sort(operandShapes(operands), dimension, comparator.Signature())
	if err != nil {
		return nil, c.errorf(err, opcode.Sort)
	}
	inst, err := c.newInstruction(opcode.Sort, shape, operands...)
	if err != nil {
		return nil, err
	}
	inst.dimension = dimension
	inst.isStable = isStable
	inst.calledComputations = []*Computation{comparator}
	return c.add(inst, ""), nil
}

// CloneWithOperands creates in c a copy of src (an instruction of any computation of the same module) with
// the given operands, which must be compatible with the original ones. Called computations are shared, not
// copied.
func (c *Computation) CloneWithOperands(src *Instruction, operands []*Instruction) (*Instruction, error) {
	if len(operands) != len(src.operands) {
		return nil, status.InvalidArgumentf("cloning %q requires %d operands, got %d", src.name, len(src.operands), len(operands))
	}
	var (
		inst *Instruction
		err  error
	)
	switch src.opcode {
	case opcode.Parameter:
		inst, err = c.Parameter(src.parameterNumber, src.name, src.shape)
	case opcode.Constant:
		inst, err = c.Constant(src.literal)
	case opcode.Tuple:
		inst, err = c.Tuple(operands...)
	case opcode.GetTupleElement:
		inst, err = c.GetTupleElement(operands[0], src.tupleIndex)
	case opcode.Negate, opcode.Abs, opcode.Not:
		inst, err = c.Unary(src.opcode, operands[0])
	case opcode.Add, opcode.Subtract, opcode.Multiply, opcode.Divide, opcode.Maximum, opcode.Minimum,
		opcode.And, opcode.Or:
		inst, err = c.Binary(src.opcode, operands[0], operands[1])
	case opcode.Compare:
		inst, err = c.Compare(src.comparison, operands[0], operands[1])
	case opcode.Select:
		inst, err = c.Select(operands[0], operands[1], operands[2])
	case opcode.Convert:
		inst, err = c.Convert(operands[0], src.shape.DType)
	case opcode.Iota:
		inst, err = c.Iota(src.shape, src.dimension)
	case opcode.While:
		inst, err = c.While(src.calledComputations[1], src.calledComputations[0], operands[0])
	case opcode.Conditional:
		inst, err = c.Conditional(operands[0], src.calledComputations, operands[1:])
	case opcode.Call:
		inst, err = c.Call(src.calledComputations[0], operands...)
	case opcode.Sort:
		inst, err = c.Sort(src.dimension, src.isStable, src.calledComputations[0], operands...)
	default:
		return nil, status.Unimplementedf("cloning of opcode %s not supported", src.opcode)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "cloning %q", src.name)
	}
	if src.opcode != opcode.Parameter {
		c.renameLike(inst, src)
	}
	return inst, nil
}

// renameLike gives inst a unique name derived from src's name.
func (c *Computation) renameLike(inst, src *Instruction) {
	c.module.instructionNames.release(inst.name)
	inst.name = c.module.instructionNames.unique(src.name)
}
