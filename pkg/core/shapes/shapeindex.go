// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// ShapeIndex is a path of tuple indices into a (possibly nested) tuple shape.
// The empty ShapeIndex refers to the shape itself.
type ShapeIndex []int

// String implements fmt.Stringer.
func (idx ShapeIndex) String() string {
	parts := make([]string, len(idx))
	for ii, v := range idx {
		parts[ii] = fmt.Sprintf("%d", v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Append returns a new ShapeIndex with the given indices appended. The receiver is not modified.
func (idx ShapeIndex) Append(indices ...int) ShapeIndex {
	newIdx := make(ShapeIndex, 0, len(idx)+len(indices))
	newIdx = append(newIdx, idx...)
	return append(newIdx, indices...)
}

// SubShape returns the sub-shape of s addressed by index.
//
// It returns an error if the index goes through a non-tuple or is out-of-range.
func (s Shape) SubShape(index ShapeIndex) (Shape, error) {
	current := s
	for depth, ii := range index {
		if !current.IsTuple() {
			return Invalid(), errors.Errorf("shape index %s of shape %s: element at depth %d is not a tuple (%s)",
				index, s, depth, current)
		}
		if ii < 0 || ii >= current.TupleSize() {
			return Invalid(), errors.Errorf("shape index %s of shape %s: index %d out-of-range at depth %d",
				index, s, ii, depth)
		}
		current = current.TupleShapes[ii]
	}
	return current, nil
}

// Leaves returns the shape index of every non-tuple sub-shape of s, in depth-first order.
//
// For a non-tuple shape, it returns a single empty index. Empty tuples contribute no leaves.
func (s Shape) Leaves() []ShapeIndex {
	var leaves []ShapeIndex
	var visit func(sub Shape, prefix ShapeIndex)
	visit = func(sub Shape, prefix ShapeIndex) {
		if !sub.IsTuple() {
			leaves = append(leaves, slices.Clone(prefix))
			return
		}
		for ii, element := range sub.TupleShapes {
			visit(element, prefix.Append(ii))
		}
	}
	visit(s, ShapeIndex{})
	return leaves
}

// Flatten returns a one-level tuple with the leaves of s, in depth-first order.
// For a non-tuple shape, it returns a tuple with the shape as its only element.
func (s Shape) Flatten() Shape {
	leaves := s.Leaves()
	elements := make([]Shape, 0, len(leaves))
	for _, leaf := range leaves {
		sub, _ := s.SubShape(leaf)
		elements = append(elements, sub.Clone())
	}
	return MakeTuple(elements...)
}
