// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluator

import (
	"cmp"
	"math"
	"reflect"

	"github.com/chewxy/math32"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"golang.org/x/exp/constraints"
)

// numeric are the Go types of the non-boolean dtypes evaluated natively.
type numeric interface {
	constraints.Integer | constraints.Float
}

// isHalfPrecision returns whether the dtype is one of the 16-bits float formats, evaluated in float32 and
// rounded back to their format after each operation.
func isHalfPrecision(dtype dtypes.DType) bool {
	return dtype == dtypes.Float16 || dtype == dtypes.BFloat16
}

// widen converts 16-bits floats to float32, and returns the other literals unchanged.
func widen(x *literal.Literal) (*literal.Literal, error) {
	if !isHalfPrecision(x.Shape().DType) {
		return x, nil
	}
	return x.Convert(dtypes.Float32)
}

// narrow converts the result of an operation evaluated in float32 back to dtype.
func narrow(result *literal.Literal, dtype dtypes.DType) (*literal.Literal, error) {
	if result.Shape().DType == dtype {
		return result, nil
	}
	return result.Convert(dtype)
}

// evalUnary evaluates Negate, Abs and Not.
func evalUnary(op opcode.Opcode, x *literal.Literal) (*literal.Literal, error) {
	dtype := x.Shape().DType
	wide, err := widen(x)
	if err != nil {
		return nil, err
	}
	var flat any
	switch input := wide.FlatAny().(type) {
	case []bool:
		flat, err = unaryBool(op, input)
	case []float32:
		flat, err = unaryFloat(op, input, math32.Abs)
	case []float64:
		flat, err = unaryFloat(op, input, math.Abs)
	case []int8:
		flat, err = unaryInt(op, input)
	case []int16:
		flat, err = unaryInt(op, input)
	case []int32:
		flat, err = unaryInt(op, input)
	case []int64:
		flat, err = unaryInt(op, input)
	case []uint8:
		flat, err = unaryInt(op, input)
	case []uint16:
		flat, err = unaryInt(op, input)
	case []uint32:
		flat, err = unaryInt(op, input)
	case []uint64:
		flat, err = unaryInt(op, input)
	default:
		return nil, status.Unimplementedf("evaluating %s for dtype %s", op, dtype)
	}
	if err != nil {
		return nil, err
	}
	result, err := literal.FromFlatAny(wide.Shape(), flat)
	if err != nil {
		return nil, err
	}
	return narrow(result, dtype)
}

func unaryBool(op opcode.Opcode, input []bool) ([]bool, error) {
	if op != opcode.Not {
		return nil, status.Unimplementedf("evaluating %s for booleans", op)
	}
	output := make([]bool, len(input))
	for ii, x := range input {
		output[ii] = !x
	}
	return output, nil
}

func unaryFloat[T constraints.Float](op opcode.Opcode, input []T, abs func(T) T) ([]T, error) {
	output := make([]T, len(input))
	switch op {
	case opcode.Negate:
		for ii, x := range input {
			output[ii] = -x
		}
	case opcode.Abs:
		for ii, x := range input {
			output[ii] = abs(x)
		}
	default:
		return nil, status.Unimplementedf("evaluating %s for floating point values", op)
	}
	return output, nil
}

func unaryInt[T constraints.Integer](op opcode.Opcode, input []T) ([]T, error) {
	output := make([]T, len(input))
	switch op {
	case opcode.Negate:
		for ii, x := range input {
			output[ii] = -x
		}
	case opcode.Abs:
		for ii, x := range input {
			if x < 0 {
				x = -x
			}
			output[ii] = x
		}
	case opcode.Not:
		for ii, x := range input {
			output[ii] = ^x
		}
	default:
		return nil, status.Unimplementedf("evaluating %s for integer values", op)
	}
	return output, nil
}

// evalBinary evaluates the elementwise binary operations. Both operands have the same shape.
func evalBinary(op opcode.Opcode, lhs, rhs *literal.Literal) (*literal.Literal, error) {
	dtype := lhs.Shape().DType
	wideLHS, err := widen(lhs)
	if err != nil {
		return nil, err
	}
	wideRHS, err := widen(rhs)
	if err != nil {
		return nil, err
	}
	var flat any
	switch x := wideLHS.FlatAny().(type) {
	case []bool:
		flat, err = binaryBool(op, x, wideRHS.FlatAny().([]bool))
	case []float32:
		flat, err = binaryFloat(op, x, wideRHS.FlatAny().([]float32))
	case []float64:
		flat, err = binaryFloat(op, x, wideRHS.FlatAny().([]float64))
	case []int8:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]int8))
	case []int16:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]int16))
	case []int32:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]int32))
	case []int64:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]int64))
	case []uint8:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]uint8))
	case []uint16:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]uint16))
	case []uint32:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]uint32))
	case []uint64:
		flat, err = binaryInt(op, x, wideRHS.FlatAny().([]uint64))
	default:
		return nil, status.Unimplementedf("evaluating %s for dtype %s", op, dtype)
	}
	if err != nil {
		return nil, err
	}
	result, err := literal.FromFlatAny(wideLHS.Shape(), flat)
	if err != nil {
		return nil, err
	}
	return narrow(result, dtype)
}

func binaryBool(op opcode.Opcode, lhs, rhs []bool) ([]bool, error) {
	output := make([]bool, len(lhs))
	switch op {
	case opcode.And:
		for ii, x := range lhs {
			output[ii] = x && rhs[ii]
		}
	case opcode.Or:
		for ii, x := range lhs {
			output[ii] = x || rhs[ii]
		}
	default:
		return nil, status.Unimplementedf("evaluating %s for booleans", op)
	}
	return output, nil
}

// binaryNumeric evaluates the arithmetic shared by integers and floats. It returns nil if op is not one of
// them.
func binaryNumeric[T numeric](op opcode.Opcode, lhs, rhs []T) []T {
	output := make([]T, len(lhs))
	switch op {
	case opcode.Add:
		for ii, x := range lhs {
			output[ii] = x + rhs[ii]
		}
	case opcode.Subtract:
		for ii, x := range lhs {
			output[ii] = x - rhs[ii]
		}
	case opcode.Multiply:
		for ii, x := range lhs {
			output[ii] = x * rhs[ii]
		}
	default:
		return nil
	}
	return output
}

// binaryFloat follows IEEE semantics. Maximum and Minimum propagate NaNs.
func binaryFloat[T constraints.Float](op opcode.Opcode, lhs, rhs []T) ([]T, error) {
	if output := binaryNumeric(op, lhs, rhs); output != nil {
		return output, nil
	}
	output := make([]T, len(lhs))
	switch op {
	case opcode.Divide:
		for ii, x := range lhs {
			output[ii] = x / rhs[ii]
		}
	case opcode.Maximum:
		for ii, x := range lhs {
			y := rhs[ii]
			if x > y || x != x {
				output[ii] = x
			} else {
				output[ii] = y
			}
		}
	case opcode.Minimum:
		for ii, x := range lhs {
			y := rhs[ii]
			if x < y || x != x {
				output[ii] = x
			} else {
				output[ii] = y
			}
		}
	default:
		return nil, status.Unimplementedf("evaluating %s for floating point values", op)
	}
	return output, nil
}

// binaryInt wraps around on overflow. Division by zero yields all bits set (-1 for signed types).
func binaryInt[T constraints.Integer](op opcode.Opcode, lhs, rhs []T) ([]T, error) {
	if output := binaryNumeric(op, lhs, rhs); output != nil {
		return output, nil
	}
	output := make([]T, len(lhs))
	switch op {
	case opcode.Divide:
		for ii, x := range lhs {
			if rhs[ii] == 0 {
				output[ii] = ^T(0)
				continue
			}
			output[ii] = x / rhs[ii]
		}
	case opcode.Maximum:
		for ii, x := range lhs {
			output[ii] = max(x, rhs[ii])
		}
	case opcode.Minimum:
		for ii, x := range lhs {
			output[ii] = min(x, rhs[ii])
		}
	case opcode.And:
		for ii, x := range lhs {
			output[ii] = x & rhs[ii]
		}
	case opcode.Or:
		for ii, x := range lhs {
			output[ii] = x | rhs[ii]
		}
	default:
		return nil, status.Unimplementedf("evaluating %s for integer values", op)
	}
	return output, nil
}

// evalCompare evaluates a comparison. Comparisons involving NaN are false, except for NE.
func evalCompare(direction opcode.ComparisonDirection, lhs, rhs *literal.Literal) (*literal.Literal, error) {
	wideLHS, err := widen(lhs)
	if err != nil {
		return nil, err
	}
	wideRHS, err := widen(rhs)
	if err != nil {
		return nil, err
	}
	var output []bool
	switch x := wideLHS.FlatAny().(type) {
	case []bool:
		output, err = compareBools(direction, x, wideRHS.FlatAny().([]bool))
	case []float32:
		output, err = compare(direction, x, wideRHS.FlatAny().([]float32))
	case []float64:
		output, err = compare(direction, x, wideRHS.FlatAny().([]float64))
	case []int8:
		output, err = compare(direction, x, wideRHS.FlatAny().([]int8))
	case []int16:
		output, err = compare(direction, x, wideRHS.FlatAny().([]int16))
	case []int32:
		output, err = compare(direction, x, wideRHS.FlatAny().([]int32))
	case []int64:
		output, err = compare(direction, x, wideRHS.FlatAny().([]int64))
	case []uint8:
		output, err = compare(direction, x, wideRHS.FlatAny().([]uint8))
	case []uint16:
		output, err = compare(direction, x, wideRHS.FlatAny().([]uint16))
	case []uint32:
		output, err = compare(direction, x, wideRHS.FlatAny().([]uint32))
	case []uint64:
		output, err = compare(direction, x, wideRHS.FlatAny().([]uint64))
	default:
		return nil, status.Unimplementedf("evaluating compare for dtype %s", lhs.Shape().DType)
	}
	if err != nil {
		return nil, err
	}
	return literal.FromFlatAny(lhs.Shape().WithDType(dtypes.Bool), output)
}

func compare[T cmp.Ordered](direction opcode.ComparisonDirection, lhs, rhs []T) ([]bool, error) {
	var fn func(x, y T) bool
	switch direction {
	case opcode.CompareEQ:
		fn = func(x, y T) bool { return x == y }
	case opcode.CompareNE:
		fn = func(x, y T) bool { return x != y }
	case opcode.CompareGE:
		fn = func(x, y T) bool { return x >= y }
	case opcode.CompareGT:
		fn = func(x, y T) bool { return x > y }
	case opcode.CompareLE:
		fn = func(x, y T) bool { return x <= y }
	case opcode.CompareLT:
		fn = func(x, y T) bool { return x < y }
	default:
		return nil, status.InvalidArgumentf("invalid comparison direction %s", direction)
	}
	output := make([]bool, len(lhs))
	for ii, x := range lhs {
		output[ii] = fn(x, rhs[ii])
	}
	return output, nil
}

// compareBools orders false before true.
func compareBools(direction opcode.ComparisonDirection, lhs, rhs []bool) ([]bool, error) {
	toUint8 := func(values []bool) []uint8 {
		converted := make([]uint8, len(values))
		for ii, v := range values {
			if v {
				converted[ii] = 1
			}
		}
		return converted
	}
	return compare(direction, toUint8(lhs), toUint8(rhs))
}

// evalSelect picks, per element, onTrue where pred is true and onFalse otherwise. A scalar pred selects
// the whole array.
func evalSelect(pred, onTrue, onFalse *literal.Literal) (*literal.Literal, error) {
	predFlat, err := literal.Flat[bool](pred)
	if err != nil {
		return nil, err
	}
	if pred.Shape().IsScalar() {
		if predFlat[0] {
			return onTrue, nil
		}
		return onFalse, nil
	}
	trueV := reflect.ValueOf(onTrue.FlatAny())
	falseV := reflect.ValueOf(onFalse.FlatAny())
	outputV := reflect.MakeSlice(trueV.Type(), trueV.Len(), trueV.Len())
	for ii, p := range predFlat {
		if p {
			outputV.Index(ii).Set(trueV.Index(ii))
		} else {
			outputV.Index(ii).Set(falseV.Index(ii))
		}
	}
	return literal.FromFlatAny(onTrue.Shape(), outputV.Interface())
}

// scalarAt returns the element at the flat offset of an array literal as a scalar literal.
func scalarAt(x *literal.Literal, offset int) (*literal.Literal, error) {
	flatV := reflect.ValueOf(x.FlatAny())
	scalarV := reflect.MakeSlice(flatV.Type(), 1, 1)
	scalarV.Index(0).Set(flatV.Index(offset))
	return literal.FromFlatAny(shapes.Make(x.Shape().DType), scalarV.Interface())
}
