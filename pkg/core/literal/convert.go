// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package literal

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// scalarKind is the family of a scalar value.
type scalarKind int

const (
	kindFloat scalarKind = iota
	kindSigned
	kindUnsigned
	kindBool
)

// scalar holds one value of any supported dtype, keeping the full precision of its family.
type scalar struct {
	kind scalarKind
	f    float64
	i    int64
	u    uint64
	b    bool
}

func scalarFromInt(v int64) scalar { return scalar{kind: kindSigned, i: v} }

func (s scalar) toFloat64() float64 {
	switch s.kind {
	case kindSigned:
		return float64(s.i)
	case kindUnsigned:
		return float64(s.u)
	case kindBool:
		if s.b {
			return 1
		}
		return 0
	default:
		return s.f
	}
}

// toFloat32 converts with a single rounding, directly from the source family.
func (s scalar) toFloat32() float32 {
	switch s.kind {
	case kindSigned:
		return float32(s.i)
	case kindUnsigned:
		return float32(s.u)
	default:
		return float32(s.toFloat64())
	}
}

// toInt64 truncates floats towards zero, saturating at the int64 range. NaN converts to 0.
func (s scalar) toInt64() int64 {
	switch s.kind {
	case kindSigned:
		return s.i
	case kindUnsigned:
		return int64(s.u)
	case kindBool:
		if s.b {
			return 1
		}
		return 0
	default:
		switch {
		case math.IsNaN(s.f):
			return 0
		case s.f >= math.MaxInt64:
			return math.MaxInt64
		case s.f <= math.MinInt64:
			return math.MinInt64
		}
		return int64(s.f)
	}
}

func (s scalar) toUint64() uint64 {
	switch s.kind {
	case kindSigned:
		return uint64(s.i)
	case kindUnsigned:
		return s.u
	case kindBool:
		if s.b {
			return 1
		}
		return 0
	default:
		switch {
		case math.IsNaN(s.f) || s.f <= 0:
			return 0
		case s.f >= math.MaxUint64:
			return math.MaxUint64
		}
		return uint64(s.f)
	}
}

// saturated clamps floating point values to the [low, high] range of an integer target.
// Integer values are left untouched, and wrap around when converted, as Go conversions do.
func (s scalar) saturated(low, high float64) scalar {
	if s.kind != kindFloat || math.IsNaN(s.f) {
		return s
	}
	s.f = math.Max(low, math.Min(high, s.f))
	return s
}

func (s scalar) toBool() bool {
	switch s.kind {
	case kindSigned:
		return s.i != 0
	case kindUnsigned:
		return s.u != 0
	case kindBool:
		return s.b
	default:
		return s.f != 0
	}
}

// scalarAt reads the ii-th value of an array literal.
func (l *Literal) scalarAt(ii int) (scalar, error) {
	switch flat := l.flat.(type) {
	case []float64:
		return scalar{kind: kindFloat, f: flat[ii]}, nil
	case []float32:
		return scalar{kind: kindFloat, f: float64(flat[ii])}, nil
	case []float16.Float16:
		return scalar{kind: kindFloat, f: float64(flat[ii].Float32())}, nil
	case []bfloat16.BFloat16:
		return scalar{kind: kindFloat, f: float64(flat[ii].Float32())}, nil
	case []int64:
		return scalar{kind: kindSigned, i: flat[ii]}, nil
	case []int32:
		return scalar{kind: kindSigned, i: int64(flat[ii])}, nil
	case []int16:
		return scalar{kind: kindSigned, i: int64(flat[ii])}, nil
	case []int8:
		return scalar{kind: kindSigned, i: int64(flat[ii])}, nil
	case []uint64:
		return scalar{kind: kindUnsigned, u: flat[ii]}, nil
	case []uint32:
		return scalar{kind: kindUnsigned, u: uint64(flat[ii])}, nil
	case []uint16:
		return scalar{kind: kindUnsigned, u: uint64(flat[ii])}, nil
	case []uint8:
		return scalar{kind: kindUnsigned, u: uint64(flat[ii])}, nil
	case []bool:
		return scalar{kind: kindBool, b: flat[ii]}, nil
	}
	return scalar{}, errors.Errorf("literal of dtype %s not supported for conversion", l.shape.DType)
}

// setFromScalar writes the ii-th value of an array literal, converting it to the literal's dtype.
// Floating point values are saturated to the range of integer targets.
//
// Conversions to the 16-bits float formats go through float32: BFloat16 truncates the float32 value
// (bfloat16.FromFloat32) and Float16 rounds it to the nearest (float16.Fromfloat32).
func (l *Literal) setFromScalar(ii int, s scalar) error {
	switch flat := l.flat.(type) {
	case []float64:
		flat[ii] = s.toFloat64()
	case []float32:
		flat[ii] = s.toFloat32()
	case []float16.Float16:
		flat[ii] = float16.Fromfloat32(s.toFloat32())
	case []bfloat16.BFloat16:
		flat[ii] = bfloat16.FromFloat32(s.toFloat32())
	case []int64:
		flat[ii] = s.toInt64()
	case []int32:
		flat[ii] = int32(s.saturated(math.MinInt32, math.MaxInt32).toInt64())
	case []int16:
		flat[ii] = int16(s.saturated(math.MinInt16, math.MaxInt16).toInt64())
	case []int8:
		flat[ii] = int8(s.saturated(math.MinInt8, math.MaxInt8).toInt64())
	case []uint64:
		flat[ii] = s.toUint64()
	case []uint32:
		flat[ii] = uint32(s.saturated(0, math.MaxUint32).toUint64())
	case []uint16:
		flat[ii] = uint16(s.saturated(0, math.MaxUint16).toUint64())
	case []uint8:
		flat[ii] = uint8(s.saturated(0, math.MaxUint8).toUint64())
	case []bool:
		flat[ii] = s.toBool()
	default:
		return errors.Errorf("literal of dtype %s not supported for conversion", l.shape.DType)
	}
	return nil
}

// Convert returns a new array literal with the values converted to dtype.
//
// The conversion of each value depends only on the value and on the target dtype, never on the source
// dtype: floating point values are rounded (or, for BFloat16, truncated) to the target format; conversions
// to integer types truncate towards zero and saturate, with NaN becoming 0.
func (l *Literal) Convert(dtype dtypes.DType) (*Literal, error) {
	if l.IsTuple() {
		return nil, errors.Errorf("literal.Convert(%s): cannot convert tuple %s", dtype, l.shape)
	}
	if dtype == l.shape.DType {
		return l.Clone(), nil
	}
	if !IsSupported(dtype) {
		return nil, errors.Errorf("literal.Convert(%s): dtype not supported", dtype)
	}
	result := Zeros(l.shape.WithDType(dtype))
	for ii := range l.Size() {
		s, err := l.scalarAt(ii)
		if err != nil {
			return nil, err
		}
		if err = result.setFromScalar(ii, s); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// supportedDTypes are the dtypes that can be converted and evaluated.
var supportedDTypes = []dtypes.DType{
	dtypes.Bool,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64,
	dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64,
}

// IsSupported returns whether literals of the dtype can be created and converted.
func IsSupported(dtype dtypes.DType) bool {
	for _, supported := range supportedDTypes {
		if dtype == supported {
			return true
		}
	}
	return false
}

// Float64s returns the values of an array literal converted to float64.
func (l *Literal) Float64s() ([]float64, error) {
	values := make([]float64, l.Size())
	for ii := range values {
		s, err := l.scalarAt(ii)
		if err != nil {
			return nil, err
		}
		values[ii] = s.toFloat64()
	}
	return values, nil
}

// Int64s returns the values of an array literal converted to int64.
func (l *Literal) Int64s() ([]int64, error) {
	values := make([]int64, l.Size())
	for ii := range values {
		s, err := l.scalarAt(ii)
		if err != nil {
			return nil, err
		}
		values[ii] = s.toInt64()
	}
	return values, nil
}

// Bools returns the values of an array literal converted to bool.
func (l *Literal) Bools() ([]bool, error) {
	values := make([]bool, l.Size())
	for ii := range values {
		s, err := l.scalarAt(ii)
		if err != nil {
			return nil, err
		}
		values[ii] = s.toBool()
	}
	return values, nil
}
