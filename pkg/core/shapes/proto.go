// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/protos/xla_data"
	"github.com/pkg/errors"
)

// ToProto converts the shape to its XLA proto representation. Layouts are left unset.
func (s Shape) ToProto() *xla_data.ShapeProto {
	if s.IsTuple() {
		p := &xla_data.ShapeProto{
			ElementType: xla_data.PrimitiveType_TUPLE,
			TupleShapes: make([]*xla_data.ShapeProto, len(s.TupleShapes)),
		}
		for ii, element := range s.TupleShapes {
			p.TupleShapes[ii] = element.ToProto()
		}
		return p
	}
	p := &xla_data.ShapeProto{
		ElementType: s.DType.PrimitiveType(),
		Dimensions:  make([]int64, len(s.Dimensions)),
	}
	for ii, dim := range s.Dimensions {
		p.Dimensions[ii] = int64(dim)
	}
	if s.IsDynamic() {
		p.IsDynamicDimension = make([]bool, len(s.Dimensions))
		for axis := range s.Dimensions {
			p.IsDynamicDimension[axis] = s.IsDynamicDimension(axis)
		}
	}
	return p
}

// FromProto converts an XLA ShapeProto to a Shape.
func FromProto(p *xla_data.ShapeProto) (Shape, error) {
	if p == nil {
		return Invalid(), errors.New("nil ShapeProto")
	}
	if p.GetElementType() == xla_data.PrimitiveType_TUPLE {
		elements := make([]Shape, len(p.GetTupleShapes()))
		for ii, elementProto := range p.GetTupleShapes() {
			element, err := FromProto(elementProto)
			if err != nil {
				return Invalid(), errors.WithMessagef(err, "tuple element #%d", ii)
			}
			elements[ii] = element
		}
		return MakeTuple(elements...), nil
	}
	dtype := dtypes.FromPrimitiveType(p.GetElementType())
	if dtype == dtypes.InvalidDType {
		return Invalid(), errors.Errorf("unsupported element type %s in ShapeProto", p.GetElementType())
	}
	s := Shape{DType: dtype, Dimensions: make([]int, len(p.GetDimensions()))}
	for ii, dim := range p.GetDimensions() {
		if dim < 0 {
			return Invalid(), errors.Errorf("negative dimension %d in ShapeProto", dim)
		}
		s.Dimensions[ii] = int(dim)
	}
	dynamic := p.GetIsDynamicDimension()
	if len(dynamic) > 0 && len(dynamic) != len(s.Dimensions) {
		return Invalid(), errors.Errorf("ShapeProto has %d dimensions but %d dynamic flags", len(s.Dimensions), len(dynamic))
	}
	for axis, isDynamic := range dynamic {
		if isDynamic {
			s = s.WithDynamicDimension(axis, true)
		}
	}
	return s, nil
}
