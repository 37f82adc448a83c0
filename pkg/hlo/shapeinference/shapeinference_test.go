// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	f32       = shapes.Make(dtypes.Float32)
	f32x3     = shapes.Make(dtypes.Float32, 3)
	s32       = shapes.Make(dtypes.Int32)
	boolean   = shapes.Make(dtypes.Bool)
	boolx3    = shapes.Make(dtypes.Bool, 3)
	pairShape = shapes.MakeTuple(f32, s32)
)

func TestElementwise(t *testing.T) {
	out, err := BinaryOp(opcode.Add, f32x3, f32x3)
	require.NoError(t, err)
	assert.True(t, out.Equal(f32x3))

	_, err = BinaryOp(opcode.Add, f32x3, f32)
	assert.Error(t, err, "no implicit broadcasting")
	_, err = BinaryOp(opcode.And, f32, f32)
	assert.Error(t, err)
	_, err = BinaryOp(opcode.Negate, f32, f32)
	assert.Error(t, err)

	out, err = UnaryOp(opcode.Not, boolx3)
	require.NoError(t, err)
	assert.True(t, out.Equal(boolx3))
	_, err = UnaryOp(opcode.Negate, boolean)
	assert.Error(t, err)

	out, err = Compare(f32x3, f32x3, opcode.CompareLT)
	require.NoError(t, err)
	assert.True(t, out.Equal(boolx3))

	out, err = Select(boolean, f32x3, f32x3)
	require.NoError(t, err)
	assert.True(t, out.Equal(f32x3))
	_, err = Select(shapes.Make(dtypes.Bool, 2), f32x3, f32x3)
	assert.Error(t, err)

	out, err = Convert(f32x3, dtypes.BFloat16)
	require.NoError(t, err)
	assert.Equal(t, dtypes.BFloat16, out.DType)
}

func TestTuples(t *testing.T) {
	out, err := Tuple([]shapes.Shape{f32, s32})
	require.NoError(t, err)
	assert.True(t, out.Equal(pairShape))

	out, err = GetTupleElement(pairShape, 1)
	require.NoError(t, err)
	assert.True(t, out.Equal(s32))
	_, err = GetTupleElement(pairShape, 2)
	assert.Error(t, err)
	_, err = GetTupleElement(f32, 0)
	assert.Error(t, err)

	out, err = Tuple(nil)
	require.NoError(t, err)
	assert.True(t, out.IsTuple())
}

func TestControlFlow(t *testing.T) {
	cond := Signature{Parameters: []shapes.Shape{pairShape}, Result: boolean}
	body := Signature{Parameters: []shapes.Shape{pairShape}, Result: pairShape}
	out, err := While(cond, body, pairShape)
	require.NoError(t, err)
	assert.True(t, out.Equal(pairShape))
	_, err = While(cond, Signature{Parameters: []shapes.Shape{pairShape}, Result: f32}, pairShape)
	assert.Error(t, err)

	branch0 := Signature{Parameters: []shapes.Shape{f32}, Result: f32}
	branch1 := Signature{Parameters: []shapes.Shape{s32}, Result: f32}
	out, err = Conditional(boolean, []Signature{branch0, branch1}, []shapes.Shape{f32, s32})
	require.NoError(t, err)
	assert.True(t, out.Equal(f32))
	_, err = Conditional(boolean, []Signature{branch0}, []shapes.Shape{f32})
	assert.Error(t, err)
	_, err = Conditional(s32, []Signature{branch0, branch1}, []shapes.Shape{f32, f32})
	assert.Error(t, err)

	comparator := Signature{Parameters: []shapes.Shape{f32, f32, s32, s32}, Result: boolean}
	out, err = Sort([]shapes.Shape{f32x3, shapes.Make(dtypes.Int32, 3)}, 0, comparator)
	require.NoError(t, err)
	assert.True(t, out.Equal(shapes.MakeTuple(f32x3, shapes.Make(dtypes.Int32, 3))))
	_, err = Sort([]shapes.Shape{f32x3}, 0, comparator)
	assert.Error(t, err)
	_, err = Sort([]shapes.Shape{f32x3, shapes.Make(dtypes.Int32, 3)}, 1, comparator)
	assert.Error(t, err)

	out, err = Call(Signature{Parameters: []shapes.Shape{f32}, Result: s32}, []shapes.Shape{f32})
	require.NoError(t, err)
	assert.True(t, out.Equal(s32))
}
