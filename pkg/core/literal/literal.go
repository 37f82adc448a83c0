// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package literal implements Literal, a host-side constant value of a given shape: either a flat array of
// values of the shape's DType (in row-major order) or a tuple of other literals.
//
// Literals are the payload of Constant instructions and the values manipulated by the evaluator, which
// constant-folds parts of the programs during optimization.
package literal

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Literal is a constant value: a flat array or a tuple of literals.
//
// Literals are treated as immutable once created: operations return new literals.
type Literal struct {
	shape shapes.Shape

	// flat is a slice []T with T the Go type of shape.DType, for arrays.
	flat any

	// elements of a tuple.
	elements []*Literal
}

// Zeros creates a literal of the given shape filled with zeros. Tuples are created recursively.
func Zeros(shape shapes.Shape) *Literal {
	if shape.IsTuple() {
		elements := make([]*Literal, shape.TupleSize())
		for ii, elementShape := range shape.TupleShapes {
			elements[ii] = Zeros(elementShape)
		}
		return &Literal{shape: shape.Clone(), elements: elements}
	}
	if !shape.Ok() {
		exceptions.Panicf("literal.Zeros(): invalid shape")
	}
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size)
	return &Literal{shape: shape.Clone(), flat: flatV.Interface()}
}

// Scalar creates a scalar literal with the given value. The DType is inferred from T.
func Scalar[T dtypes.Supported](value T) *Literal {
	dtype := dtypes.FromGenericsType[T]()
	return &Literal{shape: shapes.Make(dtype), flat: checkGoType(dtype, []T{value})}
}

// FromFlat creates an array literal with the given dimensions from the flat values (row-major).
// The values are copied.
func FromFlat[T dtypes.Supported](flat []T, dimensions ...int) (*Literal, error) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("literal.FromFlat(%s): got %d values, but shape has size %d", shape, len(flat), shape.Size())
	}
	flatCopy := make([]T, len(flat))
	copy(flatCopy, flat)
	return FromFlatAny(shape, flatCopy)
}

// FromFlatAny creates an array literal of the given shape, taking ownership of flat, which must be a []T slice
// with T the Go type of shape.DType.
func FromFlatAny(shape shapes.Shape, flat any) (*Literal, error) {
	if shape.IsTuple() || !shape.Ok() {
		return nil, errors.Errorf("literal.FromFlatAny(): shape %s is not an array shape", shape)
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice || flatV.Type().Elem() != shape.DType.GoType() {
		return nil, errors.Errorf("literal.FromFlatAny(%s): flat values must be of type []%s, got %T",
			shape, shape.DType.GoType(), flat)
	}
	if flatV.Len() != shape.Size() {
		return nil, errors.Errorf("literal.FromFlatAny(%s): got %d values, but shape has size %d", shape, flatV.Len(), shape.Size())
	}
	return &Literal{shape: shape.Clone(), flat: flat}, nil
}

// MakeTuple creates a tuple literal from the given elements. The elements are not copied.
func MakeTuple(elements ...*Literal) *Literal {
	elementShapes := make([]shapes.Shape, len(elements))
	for ii, element := range elements {
		elementShapes[ii] = element.shape
	}
	return &Literal{shape: shapes.MakeTuple(elementShapes...), elements: append([]*Literal{}, elements...)}
}

// Iota creates an S32/S64/float literal of the given shape, where each element holds its index along the
// iotaDimension axis.
func Iota(shape shapes.Shape, iotaDimension int) (*Literal, error) {
	if shape.IsTuple() || iotaDimension < 0 || iotaDimension >= shape.Rank() {
		return nil, errors.Errorf("literal.Iota(%s, %d): invalid shape or dimension", shape, iotaDimension)
	}
	l := Zeros(shape)
	inner := 1
	for axis := iotaDimension + 1; axis < shape.Rank(); axis++ {
		inner *= shape.Dimensions[axis]
	}
	dim := shape.Dimensions[iotaDimension]
	for ii := range shape.Size() {
		value := (ii / inner) % dim
		if err := l.setFromScalar(ii, scalarFromInt(int64(value))); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// checkGoType panics if flat is not a slice of dtype's Go type. Used for values created with generics.
func checkGoType(dtype dtypes.DType, flat any) any {
	if reflect.TypeOf(flat).Elem() != dtype.GoType() {
		exceptions.Panicf("literal: Go type %T doesn't match dtype %s (Go type %s)", flat, dtype, dtype.GoType())
	}
	return flat
}

// Shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// IsTuple returns whether the literal is a tuple.
func (l *Literal) IsTuple() bool { return l.shape.IsTuple() }

// Elements of a tuple literal. It returns nil for arrays.
func (l *Literal) Elements() []*Literal { return l.elements }

// Element returns the ii-th element of a tuple literal.
func (l *Literal) Element(ii int) (*Literal, error) {
	if !l.IsTuple() {
		return nil, errors.Errorf("literal.Element(%d): literal %s is not a tuple", ii, l.shape)
	}
	if ii < 0 || ii >= len(l.elements) {
		return nil, errors.Errorf("literal.Element(%d): out-of-range for tuple of %d elements", ii, len(l.elements))
	}
	return l.elements[ii], nil
}

// SubLiteral returns the sub-literal at the given shape index.
func (l *Literal) SubLiteral(index shapes.ShapeIndex) (*Literal, error) {
	current := l
	for _, ii := range index {
		var err error
		current, err = current.Element(ii)
		if err != nil {
			return nil, errors.WithMessagef(err, "SubLiteral(%s)", index)
		}
	}
	return current, nil
}

// FlatAny returns the flat slice of values of an array literal. It must not be modified.
func (l *Literal) FlatAny() any { return l.flat }

// Flat returns the flat values of an array literal of type T.
func Flat[T dtypes.Supported](l *Literal) ([]T, error) {
	flat, ok := l.flat.([]T)
	if !ok {
		return nil, errors.Errorf("literal of shape %s is not of Go type %T", l.shape, flat)
	}
	return flat, nil
}

// ScalarValue returns the value of a scalar literal of type T.
func ScalarValue[T dtypes.Supported](l *Literal) (T, error) {
	var zero T
	flat, err := Flat[T](l)
	if err != nil {
		return zero, err
	}
	if !l.shape.IsScalar() {
		return zero, errors.Errorf("literal of shape %s is not a scalar", l.shape)
	}
	return flat[0], nil
}

// Size returns the number of elements of an array literal.
func (l *Literal) Size() int {
	if l.flat == nil {
		return 0
	}
	return reflect.ValueOf(l.flat).Len()
}

// Clone returns a deep copy of the literal.
func (l *Literal) Clone() *Literal {
	if l.IsTuple() {
		elements := make([]*Literal, len(l.elements))
		for ii, element := range l.elements {
			elements[ii] = element.Clone()
		}
		return &Literal{shape: l.shape.Clone(), elements: elements}
	}
	flatV := reflect.ValueOf(l.flat)
	cloneV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(cloneV, flatV)
	return &Literal{shape: l.shape.Clone(), flat: cloneV.Interface()}
}

// Equal returns whether both literals have the same shape and bitwise identical values.
// Floating point values are compared by their bits, so NaN equals NaN (with the same payload) and 0 differs
// from -0.
func (l *Literal) Equal(other *Literal) bool {
	if l == nil || other == nil {
		return l == other
	}
	if !l.shape.Equal(other.shape) {
		return false
	}
	if l.IsTuple() {
		for ii, element := range l.elements {
			if !element.Equal(other.elements[ii]) {
				return false
			}
		}
		return true
	}
	switch flat := l.flat.(type) {
	case []float32:
		otherFlat := other.flat.([]float32)
		for ii, v := range flat {
			if math.Float32bits(v) != math.Float32bits(otherFlat[ii]) {
				return false
			}
		}
		return true
	case []float64:
		otherFlat := other.flat.([]float64)
		for ii, v := range flat {
			if math.Float64bits(v) != math.Float64bits(otherFlat[ii]) {
				return false
			}
		}
		return true
	}
	// All other supported types are comparable by value with their bits: integers, bool, and the 16-bits
	// floats which are defined as uint16.
	return reflect.DeepEqual(l.flat, other.flat)
}

// String implements fmt.Stringer.
func (l *Literal) String() string {
	if l == nil {
		return "<nil>"
	}
	if l.IsTuple() {
		parts := make([]string, len(l.elements))
		for ii, element := range l.elements {
			parts[ii] = element.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	values := make([]string, l.Size())
	for ii := range values {
		values[ii] = formatValue(reflect.ValueOf(l.flat).Index(ii).Interface())
	}
	if l.shape.IsScalar() {
		return fmt.Sprintf("%s %s", l.shape, values[0])
	}
	return fmt.Sprintf("%s{%s}", l.shape, strings.Join(values, ", "))
}

func formatValue(v any) string {
	switch v := v.(type) {
	case float16.Float16:
		return fmt.Sprintf("%g", v.Float32())
	case bfloat16.BFloat16:
		return fmt.Sprintf("%g", v.Float32())
	case float32, float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
