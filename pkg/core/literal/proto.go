// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package literal

import (
	"encoding/binary"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/gopjrt/protos/xla_data"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ToProto converts the literal to its XLA proto representation.
// 16 bits values are stored as little-endian bytes, as XLA does.
func (l *Literal) ToProto() (*xla_data.LiteralProto, error) {
	p := &xla_data.LiteralProto{Shape: l.shape.ToProto()}
	if l.IsTuple() {
		p.TupleLiterals = make([]*xla_data.LiteralProto, len(l.elements))
		for ii, element := range l.elements {
			elementProto, err := element.ToProto()
			if err != nil {
				return nil, err
			}
			p.TupleLiterals[ii] = elementProto
		}
		return p, nil
	}
	switch flat := l.flat.(type) {
	case []bool:
		p.Preds = slices.Clone(flat)
	case []int8:
		p.S8S = make([]byte, len(flat))
		for ii, v := range flat {
			p.S8S[ii] = byte(v)
		}
	case []uint8:
		p.U8S = slices.Clone(flat)
	case []int16:
		p.S16S = make([]byte, 2*len(flat))
		for ii, v := range flat {
			binary.LittleEndian.PutUint16(p.S16S[2*ii:], uint16(v))
		}
	case []uint16:
		p.U16S = make([]byte, 2*len(flat))
		for ii, v := range flat {
			binary.LittleEndian.PutUint16(p.U16S[2*ii:], v)
		}
	case []int32:
		p.S32S = slices.Clone(flat)
	case []int64:
		p.S64S = slices.Clone(flat)
	case []uint32:
		p.U32S = slices.Clone(flat)
	case []uint64:
		p.U64S = slices.Clone(flat)
	case []float32:
		p.F32S = slices.Clone(flat)
	case []float64:
		p.F64S = slices.Clone(flat)
	case []float16.Float16:
		p.F16S = make([]byte, 2*len(flat))
		for ii, v := range flat {
			binary.LittleEndian.PutUint16(p.F16S[2*ii:], v.Bits())
		}
	case []bfloat16.BFloat16:
		p.Bf16S = make([]byte, 2*len(flat))
		for ii, v := range flat {
			binary.LittleEndian.PutUint16(p.Bf16S[2*ii:], uint16(v))
		}
	default:
		return nil, errors.Errorf("literal.ToProto(): dtype %s not supported", l.shape.DType)
	}
	return p, nil
}

func decode16(data []byte, size int, name string) ([]uint16, error) {
	if len(data) != 2*size {
		return nil, errors.Errorf("LiteralProto.%s has %d bytes, expected %d", name, len(data), 2*size)
	}
	values := make([]uint16, size)
	for ii := range values {
		values[ii] = binary.LittleEndian.Uint16(data[2*ii:])
	}
	return values, nil
}

// FromProto converts an XLA LiteralProto to a Literal.
func FromProto(p *xla_data.LiteralProto) (*Literal, error) {
	if p == nil {
		return nil, errors.New("nil LiteralProto")
	}
	shape, err := shapes.FromProto(p.GetShape())
	if err != nil {
		return nil, errors.WithMessage(err, "LiteralProto")
	}
	if shape.IsTuple() {
		if len(p.GetTupleLiterals()) != shape.TupleSize() {
			return nil, errors.Errorf("LiteralProto with shape %s has %d tuple literals", shape, len(p.GetTupleLiterals()))
		}
		elements := make([]*Literal, shape.TupleSize())
		for ii, elementProto := range p.GetTupleLiterals() {
			if elements[ii], err = FromProto(elementProto); err != nil {
				return nil, errors.WithMessagef(err, "tuple element #%d", ii)
			}
		}
		return MakeTuple(elements...), nil
	}
	size := shape.Size()
	var flat any
	switch shape.DType {
	case dtypes.Bool:
		flat = slices.Clone(p.GetPreds())
	case dtypes.Int8:
		values := make([]int8, len(p.GetS8S()))
		for ii, v := range p.GetS8S() {
			values[ii] = int8(v)
		}
		flat = values
	case dtypes.Uint8:
		flat = slices.Clone(p.GetU8S())
	case dtypes.Int16:
		raw, err := decode16(p.GetS16S(), size, "s16s")
		if err != nil {
			return nil, err
		}
		values := make([]int16, size)
		for ii, v := range raw {
			values[ii] = int16(v)
		}
		flat = values
	case dtypes.Uint16:
		raw, err := decode16(p.GetU16S(), size, "u16s")
		if err != nil {
			return nil, err
		}
		flat = raw
	case dtypes.Int32:
		flat = slices.Clone(p.GetS32S())
	case dtypes.Int64:
		flat = slices.Clone(p.GetS64S())
	case dtypes.Uint32:
		flat = slices.Clone(p.GetU32S())
	case dtypes.Uint64:
		flat = slices.Clone(p.GetU64S())
	case dtypes.Float32:
		flat = slices.Clone(p.GetF32S())
	case dtypes.Float64:
		flat = slices.Clone(p.GetF64S())
	case dtypes.Float16:
		raw, err := decode16(p.GetF16S(), size, "f16s")
		if err != nil {
			return nil, err
		}
		values := make([]float16.Float16, size)
		for ii, v := range raw {
			values[ii] = float16.Frombits(v)
		}
		flat = values
	case dtypes.BFloat16:
		raw, err := decode16(p.GetBf16S(), size, "bf16s")
		if err != nil {
			return nil, err
		}
		values := make([]bfloat16.BFloat16, size)
		for ii, v := range raw {
			values[ii] = bfloat16.BFloat16(v)
		}
		flat = values
	default:
		return nil, errors.Errorf("literal.FromProto(): dtype %s not supported", shape.DType)
	}
	return FromFlatAny(shape, flat)
}

