// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from HLO operations and validates their inputs.
//
// It is used when instructions are created (so every instruction's shape is consistent with its operands),
// by the verifier, and by passes that need to know the shape of instructions before creating them.
//
// Elementwise operations follow HLO's strict rules: operands must have the exact same dimensions, there is
// no implicit broadcasting.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/pkg/errors"
)

func isArray(s shapes.Shape) bool { return s.Ok() && !s.IsTuple() }

func isNumber(dtype dtypes.DType) bool { return dtype.IsInt() || dtype.IsFloat() }

// UnaryOp returns the shape of an elementwise unary operation, which is the same as the operand.
//
// It returns an error if the dtype is not valid for the operation: e.g. Not requires booleans or integers.
func UnaryOp(op opcode.Opcode, operand shapes.Shape) (output shapes.Shape, err error) {
	if !opcode.ElementwiseUnary.Has(op) {
		err = errors.Errorf("operation %s is not an elementwise unary operation", op)
		return
	}
	if !isArray(operand) {
		err = errors.Errorf("invalid operand shape %s for unary operation %s", operand, op)
		return
	}
	if opcode.Logical.Has(op) {
		if operand.DType != dtypes.Bool && !operand.DType.IsInt() {
			err = errors.Errorf("logical operation %s requires boolean or integer operands, got %s", op, operand)
			return
		}
	} else if !isNumber(operand.DType) {
		err = errors.Errorf("numeric operation %s requires a number data type, got %s", op, operand)
		return
	}
	output = operand.Clone()
	return
}

// BinaryOp returns the shape of an elementwise binary operation: operands must have the same shape, which
// is also the output shape.
func BinaryOp(op opcode.Opcode, lhs, rhs shapes.Shape) (output shapes.Shape, err error) {
	if !opcode.ElementwiseBinary.Has(op) {
		err = errors.Errorf("operation %s is not an elementwise binary operation", op)
		return
	}
	if !isArray(lhs) || !isArray(rhs) {
		err = errors.Errorf("invalid shapes %s and %s for binary operation %s", lhs, rhs, op)
		return
	}
	if !lhs.Equal(rhs) {
		err = errors.Errorf("operands of binary operation %s must have the same shape, got %s and %s", op, lhs, rhs)
		return
	}
	if opcode.Logical.Has(op) {
		if lhs.DType != dtypes.Bool && !lhs.DType.IsInt() {
			err = errors.Errorf("logical operation %s requires boolean or integer operands, got %s", op, lhs)
			return
		}
	} else if !isNumber(lhs.DType) {
		err = errors.Errorf("numeric operation %s requires a number data type, got %s", op, lhs)
		return
	}
	output = lhs.Clone()
	return
}

// Compare returns the shape of a comparison: the operands' shape with dtype Bool.
func Compare(lhs, rhs shapes.Shape, direction opcode.ComparisonDirection) (output shapes.Shape, err error) {
	if direction == opcode.CompareInvalid {
		err = errors.New("comparison with invalid direction")
		return
	}
	if !isArray(lhs) || !lhs.Equal(rhs) {
		err = errors.Errorf("operands of compare must be arrays of the same shape, got %s and %s", lhs, rhs)
		return
	}
	output = lhs.WithDType(dtypes.Bool)
	return
}

// Select returns the shape of a select(pred, onTrue, onFalse): onTrue and onFalse must have the same shape
// and pred must be a boolean with the same dimensions or a boolean scalar.
func Select(pred, onTrue, onFalse shapes.Shape) (output shapes.Shape, err error) {
	if !isArray(pred) || pred.DType != dtypes.Bool {
		err = errors.Errorf("select predicate must be a boolean array, got %s", pred)
		return
	}
	if !isArray(onTrue) || !onTrue.Equal(onFalse) {
		err = errors.Errorf("select values must be arrays of the same shape, got %s and %s", onTrue, onFalse)
		return
	}
	if !pred.IsScalar() && !slices.Equal(pred.Dimensions, onTrue.Dimensions) {
		err = errors.Errorf("select predicate %s must be a scalar or match the values dimensions %s", pred, onTrue)
		return
	}
	output = onTrue.Clone()
	return
}

// Convert returns the shape of the operand converted to dtype.
func Convert(operand shapes.Shape, dtype dtypes.DType) (output shapes.Shape, err error) {
	if !isArray(operand) {
		err = errors.Errorf("convert operand must be an array, got %s", operand)
		return
	}
	if dtype == dtypes.InvalidDType {
		err = errors.Errorf("convert of %s to invalid dtype", operand)
		return
	}
	output = operand.WithDType(dtype)
	return
}

// Tuple returns the tuple shape of the elements.
func Tuple(elements []shapes.Shape) (output shapes.Shape, err error) {
	for ii, element := range elements {
		if !element.Ok() {
			err = errors.Errorf("tuple element #%d has invalid shape", ii)
			return
		}
	}
	output = shapes.MakeTuple(slices.Clone(elements)...)
	return
}

// GetTupleElement returns the shape of the element index of the tuple.
func GetTupleElement(tuple shapes.Shape, index int) (output shapes.Shape, err error) {
	if !tuple.IsTuple() {
		err = errors.Errorf("get-tuple-element operand must be a tuple, got %s", tuple)
		return
	}
	if index < 0 || index >= tuple.TupleSize() {
		err = errors.Errorf("get-tuple-element index %d out-of-range for %s", index, tuple)
		return
	}
	output = tuple.TupleShapes[index].Clone()
	return
}

// Iota validates the shape and dimension of an iota: it returns the shape itself.
func Iota(shape shapes.Shape, iotaDimension int) (output shapes.Shape, err error) {
	if !isArray(shape) || !isNumber(shape.DType) {
		err = errors.Errorf("iota requires a numeric array shape, got %s", shape)
		return
	}
	if iotaDimension < 0 || iotaDimension >= shape.Rank() {
		err = errors.Errorf("iota dimension %d out-of-range for shape %s", iotaDimension, shape)
		return
	}
	output = shape.Clone()
	return
}

// Signature describes the parameters and result shapes of a called computation.
type Signature struct {
	Parameters []shapes.Shape
	Result     shapes.Shape
}

// While returns the shape of a while loop: condition and body take one parameter of the carried shape, the
// body returns the carried shape, and the condition returns a boolean scalar.
func While(condition, body Signature, init shapes.Shape) (output shapes.Shape, err error) {
	if len(condition.Parameters) != 1 || len(body.Parameters) != 1 {
		err = errors.Errorf("while condition and body must take exactly one parameter, got %d and %d",
			len(condition.Parameters), len(body.Parameters))
		return
	}
	if !condition.Parameters[0].Equal(init) {
		err = errors.Errorf("while condition parameter %s doesn't match the initial value %s", condition.Parameters[0], init)
		return
	}
	if !body.Parameters[0].Equal(init) || !body.Result.Equal(init) {
		err = errors.Errorf("while body signature (%s)->%s doesn't match the initial value %s",
			body.Parameters[0], body.Result, init)
		return
	}
	if !condition.Result.Equal(shapes.Make(dtypes.Bool)) {
		err = errors.Errorf("while condition must return a boolean scalar, got %s", condition.Result)
		return
	}
	output = init.Clone()
	return
}

// Conditional returns the shape of a conditional: branchIndex selects the branch, which is either a boolean
// scalar (with exactly 2 branches, the first for true) or an Int32 scalar. Each branch takes one parameter,
// matching its corresponding operand, and all branches must return the same shape.
func Conditional(branchIndex shapes.Shape, branches []Signature, operands []shapes.Shape) (output shapes.Shape, err error) {
	if len(branches) == 0 {
		err = errors.New("conditional requires at least one branch")
		return
	}
	switch {
	case branchIndex.Equal(shapes.Make(dtypes.Bool)):
		if len(branches) != 2 {
			err = errors.Errorf("conditional with a boolean predicate requires 2 branches, got %d", len(branches))
			return
		}
	case branchIndex.Equal(shapes.Make(dtypes.Int32)):
	default:
		err = errors.Errorf("conditional branch index must be a boolean or Int32 scalar, got %s", branchIndex)
		return
	}
	if len(operands) != len(branches) {
		err = errors.Errorf("conditional requires one operand per branch, got %d operands for %d branches",
			len(operands), len(branches))
		return
	}
	for ii, branch := range branches {
		if len(branch.Parameters) != 1 || !branch.Parameters[0].Equal(operands[ii]) {
			err = errors.Errorf("conditional branch #%d must take one parameter of shape %s, got %v",
				ii, operands[ii], branch.Parameters)
			return
		}
		if !branch.Result.Equal(branches[0].Result) {
			err = errors.Errorf("conditional branch #%d returns %s, but branch #0 returns %s",
				ii, branch.Result, branches[0].Result)
			return
		}
	}
	output = branches[0].Result.Clone()
	return
}

// Call returns the shape of calling a computation with the given arguments.
func Call(callee Signature, args []shapes.Shape) (output shapes.Shape, err error) {
	if len(callee.Parameters) != len(args) {
		err = errors.Errorf("call with %d arguments to computation with %d parameters", len(args), len(callee.Parameters))
		return
	}
	for ii, param := range callee.Parameters {
		if !param.Equal(args[ii]) {
			err = errors.Errorf("call argument #%d has shape %s, but the parameter has shape %s", ii, args[ii], param)
			return
		}
	}
	output = callee.Result.Clone()
	return
}

// Sort returns the shape of sorting the operands along dimension: all operands must have the same dimensions,
// the comparator takes 2 scalars per operand (lhs and rhs of each operand, in order) and returns a boolean
// scalar. With one operand the output is the operand shape, otherwise a tuple of the operand shapes.
func Sort(operands []shapes.Shape, dimension int, comparator Signature) (output shapes.Shape, err error) {
	if len(operands) == 0 {
		err = errors.New("sort requires at least one operand")
		return
	}
	for ii, operand := range operands {
		if !isArray(operand) || !slices.Equal(operand.Dimensions, operands[0].Dimensions) {
			err = errors.Errorf("sort operand #%d has shape %s, incompatible with operand #0 %s", ii, operand, operands[0])
			return
		}
	}
	if dimension < 0 || dimension >= operands[0].Rank() {
		err = errors.Errorf("sort dimension %d out-of-range for shape %s", dimension, operands[0])
		return
	}
	if len(comparator.Parameters) != 2*len(operands) {
		err = errors.Errorf("sort comparator must take %d parameters, got %d", 2*len(operands), len(comparator.Parameters))
		return
	}
	for ii, param := range comparator.Parameters {
		if !param.Equal(shapes.Make(operands[ii/2].DType)) {
			err = errors.Errorf("sort comparator parameter #%d must be a %s scalar, got %s", ii, operands[ii/2].DType, param)
			return
		}
	}
	if !comparator.Result.Equal(shapes.Make(dtypes.Bool)) {
		err = errors.Errorf("sort comparator must return a boolean scalar, got %s", comparator.Result)
		return
	}
	if len(operands) == 1 {
		output = operands[0].Clone()
		return
	}
	output, err = Tuple(operands)
	return
}
