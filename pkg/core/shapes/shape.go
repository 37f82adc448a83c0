/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package shapes defines Shape, the type of every value flowing through an HLO program.
//
// A Shape is either an array shape (a DType and a list of dimensions, possibly with some dimensions
// marked as dynamic) or a tuple of other shapes. Tuples can be nested, and the empty tuple is valid.
//
// The DType enum is github.com/gomlx/gopjrt/dtypes, which matches XLA's PrimitiveType, so shapes can be
// converted to and from the XLA protos without translation tables.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of an array.
//   - Dimension: the size of an array in one of its axes. Zero-sized dimensions are valid.
//   - Tuple: an ordered, heterogeneous collection of shapes. A tuple has DType == InvalidDType.
//   - ShapeIndex: a path of tuple indices addressing a sub-shape of a (possibly nested) tuple.
//   - Leaf: a non-tuple sub-shape of a tuple.
//
// Example: the array `[][]int32{{0, 1, 2}, {3, 4, 5}}` has shape `(Int32)[2 3]`, created with
// `shapes.Make(dtypes.Int32, 2, 3)`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gopjrt/dtypes"
)

// Shape represents the shape of an HLO value: either an array or a tuple.
//
// Use Make or MakeTuple to create a new shape.
type Shape struct {
	DType      DType
	Dimensions []int

	// DynamicDimensions marks which dimensions are dynamic (only bounded by Dimensions).
	// It is either nil (all static) or has the same length as Dimensions.
	DynamicDimensions []bool

	// TupleShapes holds the elements of a tuple. It is non-nil (maybe empty) for tuples.
	TupleShapes []Shape
}

// Make returns a Shape structure filled with the values given.
// See MakeTuple for tuple shapes.
//
// It panics if any of the dimensions is negative. Zero-sized dimensions are allowed.
func Make(dtype DType, dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions), DType: dtype}
	if dtype == InvalidDType {
		exceptions.Panicf("shapes.Make(): cannot create an array shape with an invalid dtype, use MakeTuple for tuples")
	}
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension < 0", s)
		}
	}
	return s
}

// Scalar returns a scalar Shape for the given type.
func Scalar[T Number]() Shape {
	return Shape{DType: FromGenericsType[T]()}
}

// MakeTuple returns a shape representing a tuple of elements with the given shapes.
// An empty (or nil) list of elements creates the empty tuple.
func MakeTuple(elements ...Shape) Shape {
	if elements == nil {
		elements = []Shape{}
	}
	return Shape{DType: InvalidDType, TupleShapes: elements}
}

// Invalid returns an invalid shape.
//
// Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: InvalidDType}
}

// Ok returns whether this is a valid Shape. A "zero" shape, that is just instantiating it with Shape{} will be invalid.
func (s Shape) Ok() bool { return s.DType != InvalidDType || s.TupleShapes != nil }

// IsTuple returns whether the shape represents a tuple (including the empty tuple).
func (s Shape) IsTuple() bool {
	return s.DType == InvalidDType && s.TupleShapes != nil
}

// TupleSize returns the number of elements in the tuple, if it is a tuple.
func (s Shape) TupleSize() int {
	return len(s.TupleShapes)
}

// IsNestedTuple returns whether s is a tuple with at least one element that is itself a tuple.
func (s Shape) IsNestedTuple() bool {
	if !s.IsTuple() {
		return false
	}
	for _, element := range s.TupleShapes {
		if element.IsTuple() {
			return true
		}
	}
	return false
}

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.DType != InvalidDType && s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// IsDynamic returns whether any of the dimensions is dynamic.
func (s Shape) IsDynamic() bool {
	return slices.Contains(s.DynamicDimensions, true)
}

// IsDynamicDimension returns whether the given axis is dynamic.
func (s Shape) IsDynamicDimension(axis int) bool {
	if len(s.DynamicDimensions) <= axis {
		return false
	}
	return s.DynamicDimensions[axis]
}

// WithDynamicDimension returns a copy of the shape with the given axis marked as dynamic (or static).
func (s Shape) WithDynamicDimension(axis int, dynamic bool) Shape {
	if axis < 0 || axis >= s.Rank() {
		exceptions.Panicf("Shape.WithDynamicDimension(%d): axis out-of-bounds for shape %s", axis, s)
	}
	s2 := s.Clone()
	if s2.DynamicDimensions == nil {
		s2.DynamicDimensions = make([]bool, s2.Rank())
	}
	s2.DynamicDimensions[axis] = dynamic
	if !s2.IsDynamic() {
		s2.DynamicDimensions = nil
	}
	return s2
}

// String implements stringer, pretty-prints the shape.
func (s Shape) String() string {
	if s.IsTuple() {
		parts := make([]string, 0, s.TupleSize())
		for _, tuple := range s.TupleShapes {
			parts = append(parts, tuple.String())
		}
		return fmt.Sprintf("Tuple<%s>", strings.Join(parts, ", "))
	}
	if !s.Ok() {
		return "(Invalid)"
	}
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	if !s.IsDynamic() {
		return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
	}
	parts := make([]string, s.Rank())
	for axis, dim := range s.Dimensions {
		if s.IsDynamicDimension(axis) {
			parts[axis] = fmt.Sprintf("<=%d", dim)
		} else {
			parts[axis] = fmt.Sprintf("%d", dim)
		}
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// Size returns the number of elements of DType are needed for this shape. It's the product of all dimensions.
// For tuples, it returns the sum of the sizes of the elements.
func (s Shape) Size() (size int) {
	if s.IsTuple() {
		for _, element := range s.TupleShapes {
			size += element.Size()
		}
		return
	}
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the memory used to store an array of the given shape, the same as the size in bytes.
func (s Shape) Memory() uintptr {
	if s.IsTuple() {
		var total uintptr
		for _, element := range s.TupleShapes {
			total += element.Memory()
		}
		return total
	}
	return s.DType.Memory() * uintptr(s.Size())
}

// Equal compares two shapes for equality: dtype, dimensions and dynamic dimensions are compared,
// and tuples are compared recursively.
func (s Shape) Equal(s2 Shape) bool {
	if s.DType != s2.DType || s.IsTuple() != s2.IsTuple() {
		return false
	}
	if s.IsTuple() {
		if s.TupleSize() != s2.TupleSize() {
			return false
		}
		for ii, element := range s.TupleShapes {
			if !element.Equal(s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	if !slices.Equal(s.Dimensions, s2.Dimensions) {
		return false
	}
	for axis := range s.Dimensions {
		if s.IsDynamicDimension(axis) != s2.IsDynamicDimension(axis) {
			return false
		}
	}
	return true
}

// EqualDimensions compares two shapes for equality of dimensions. Dtypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	if s.IsTuple() != s2.IsTuple() {
		return false
	}
	if s.IsTuple() {
		if s.TupleSize() != s2.TupleSize() {
			return false
		}
		for ii, element := range s.TupleShapes {
			if !element.EqualDimensions(s2.TupleShapes[ii]) {
				return false
			}
		}
		return true
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() (s2 Shape) {
	s2.DType = s.DType
	s2.Dimensions = slices.Clone(s.Dimensions)
	s2.DynamicDimensions = slices.Clone(s.DynamicDimensions)
	if s.TupleShapes != nil {
		s2.TupleShapes = make([]Shape, 0, len(s.TupleShapes))
		for _, subShape := range s.TupleShapes {
			s2.TupleShapes = append(s2.TupleShapes, subShape.Clone())
		}
	}
	return
}

// WithDType returns a copy of the array shape s with the dtype changed.
func (s Shape) WithDType(dtype DType) Shape {
	if s.IsTuple() {
		exceptions.Panicf("Shape.WithDType(%s) not valid for tuple shape %s", dtype, s)
	}
	s2 := s.Clone()
	s2.DType = dtype
	return s2
}
