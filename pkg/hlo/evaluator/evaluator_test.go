// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluator_test

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo"
	. "github.com/gomlx/hlopasses/pkg/hlo/evaluator"
	"github.com/gomlx/hlopasses/pkg/hlo/hlotest"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// evalBinary builds and evaluates a computation applying op to two constants.
func evalBinary(t *testing.T, op opcode.Opcode, lhs, rhs *literal.Literal) *literal.Literal {
	m, main := hlotest.NewEntry(t, "binary")
	l := must.M1(main.Constant(lhs))
	r := must.M1(main.Constant(rhs))
	require.NoError(t, main.SetRoot(must.M1(main.Binary(op, l, r))))
	return hlotest.Evaluate(t, m)
}

func evalUnary(t *testing.T, op opcode.Opcode, x *literal.Literal) *literal.Literal {
	m, main := hlotest.NewEntry(t, "unary")
	c := must.M1(main.Constant(x))
	require.NoError(t, main.SetRoot(must.M1(main.Unary(op, c))))
	return hlotest.Evaluate(t, m)
}

func TestElementwise(t *testing.T) {
	nan := float32(math.NaN())
	t.Run("Float32", func(t *testing.T) {
		x := hlotest.F32(1, nan, -3)
		y := hlotest.F32(2, 5, -4)
		sum := must.M1(literal.Flat[float32](evalBinary(t, opcode.Add, x, y)))
		assert.Equal(t, float32(3), sum[0])
		assert.True(t, math.IsNaN(float64(sum[1])))
		assert.Equal(t, float32(-7), sum[2])
		maxFlat := must.M1(literal.Flat[float32](evalBinary(t, opcode.Maximum, x, y)))
		assert.Equal(t, float32(2), maxFlat[0])
		assert.True(t, math.IsNaN(float64(maxFlat[1])))
		assert.Equal(t, float32(-3), maxFlat[2])
		minFlat := must.M1(literal.Flat[float32](evalBinary(t, opcode.Minimum, y, x)))
		assert.True(t, math.IsNaN(float64(minFlat[1])))
		assert.Equal(t, float32(-4), minFlat[2])
		absFlat := must.M1(literal.Flat[float32](evalUnary(t, opcode.Abs, hlotest.F32(-1, float32(math.Copysign(0, -1)), 2))))
		assert.Equal(t, []float32{1, 0, 2}, absFlat)
		assert.False(t, math.Signbit(float64(absFlat[1])))
	})

	t.Run("Int32", func(t *testing.T) {
		x := hlotest.S32Vector(7, -7, math.MinInt32, 5)
		y := hlotest.S32Vector(2, 2, -1, 0)
		assert.Equal(t, []int32{3, -3, math.MinInt32, -1}, must.M1(literal.Flat[int32](evalBinary(t, opcode.Divide, x, y))))
		assert.Equal(t, []int32{14, -14, math.MinInt32, 0}, must.M1(literal.Flat[int32](evalBinary(t, opcode.Multiply, x, y))))
		assert.Equal(t, []int32{2, 0, math.MinInt32, 0}, must.M1(literal.Flat[int32](evalBinary(t, opcode.And, x, hlotest.S32Vector(2, 2, -1, 0)))))
		assert.Equal(t, []int32{-8, 6, math.MaxInt32, -6}, must.M1(literal.Flat[int32](evalUnary(t, opcode.Not, x))))
	})

	t.Run("Uint8", func(t *testing.T) {
		x := must.M1(literal.FromFlat([]uint8{250, 3}, 2))
		y := must.M1(literal.FromFlat([]uint8{10, 0}, 2))
		assert.Equal(t, []uint8{4, 3}, must.M1(literal.Flat[uint8](evalBinary(t, opcode.Add, x, y))))
		assert.Equal(t, []uint8{25, 255}, must.M1(literal.Flat[uint8](evalBinary(t, opcode.Divide, x, y))))
	})

	t.Run("HalfPrecision", func(t *testing.T) {
		f16 := must.M1(literal.FromFlat([]float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}, 2))
		negated := evalUnary(t, opcode.Negate, f16)
		assert.Equal(t, dtypes.Float16, negated.Shape().DType)
		assert.Equal(t, []float64{-1.5, 2}, must.M1(negated.Float64s()))

		bf16 := must.M1(literal.FromFlat([]bfloat16.BFloat16{bfloat16.FromFloat32(3), bfloat16.FromFloat32(0.5)}, 2))
		sum := evalBinary(t, opcode.Add, bf16, bf16)
		assert.Equal(t, dtypes.BFloat16, sum.Shape().DType)
		assert.Equal(t, []float64{6, 1}, must.M1(sum.Float64s()))
	})

	t.Run("Bool", func(t *testing.T) {
		x := must.M1(literal.FromFlat([]bool{true, true, false}, 3))
		y := must.M1(literal.FromFlat([]bool{true, false, false}, 3))
		assert.Equal(t, []bool{true, false, false}, must.M1(literal.Flat[bool](evalBinary(t, opcode.And, x, y))))
		assert.Equal(t, []bool{true, true, false}, must.M1(literal.Flat[bool](evalBinary(t, opcode.Or, x, y))))
		assert.Equal(t, []bool{false, false, true}, must.M1(literal.Flat[bool](evalUnary(t, opcode.Not, x))))
	})
}

func TestCompareAndSelect(t *testing.T) {
	nan := float32(math.NaN())
	m, main := hlotest.NewEntry(t, "compare_select")
	x := must.M1(main.Parameter(0, "x", shapes.Make(dtypes.Float32, 3)))
	y := must.M1(main.Parameter(1, "y", shapes.Make(dtypes.Float32, 3)))
	lt := must.M1(main.Compare(opcode.CompareLT, x, y))
	ne := must.M1(main.Compare(opcode.CompareNE, x, y))
	selected := must.M1(main.Select(lt, x, y))
	require.NoError(t, main.SetRoot(must.M1(main.Tuple(lt, ne, selected))))

	result := hlotest.Evaluate(t, m, hlotest.F32(1, nan, 5), hlotest.F32(2, 0, 3))
	assert.Equal(t, []bool{true, false, false}, must.M1(literal.Flat[bool](must.M1(result.Element(0)))))
	assert.Equal(t, []bool{true, true, true}, must.M1(literal.Flat[bool](must.M1(result.Element(1)))))
	assert.Equal(t, []float32{1, 0, 3}, must.M1(literal.Flat[float32](must.M1(result.Element(2)))))

	// Scalar predicate selects whole arrays.
	m, main = hlotest.NewEntry(t, "scalar_select")
	p := must.M1(main.Parameter(0, "p", hlotest.Pred))
	a := must.M1(main.Constant(hlotest.F32(1, 2)))
	b := must.M1(main.Constant(hlotest.F32(3, 4)))
	require.NoError(t, main.SetRoot(must.M1(main.Select(p, a, b))))
	assert.Equal(t, []float32{3, 4}, must.M1(literal.Flat[float32](hlotest.Evaluate(t, m, literal.Scalar(false)))))
}

func TestWhile(t *testing.T) {
	x := hlotest.F32(1, -2, 3)
	for _, limit := range []int32{0, 1, 2, 5} {
		m := hlotest.CounterLoop(t, 0, limit)
		result := hlotest.Evaluate(t, m, x)
		want := []float32{1, -2, 3}
		if limit%2 == 1 {
			want = []float32{-1, 2, -3}
		}
		assert.Equal(t, want, must.M1(literal.Flat[float32](result)), "limit=%d", limit)
	}

	// Iteration limit.
	m := hlotest.CounterLoop(t, 0, 1000)
	_, err := New().WithMaxLoopIterations(10).EvaluateModule(m, x)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIterationLimit))
	_, err = New().WithMaxLoopIterations(0).EvaluateModule(m, x)
	require.NoError(t, err)
}

func TestEvaluateLoop(t *testing.T) {
	m := hlotest.CounterLoop(t, 0, 3)
	loops := m.Entry().InstructionsWithOpcode(opcode.While)
	require.Len(t, loops, 1)

	// Starting from a state other than the loop operand: a single iteration.
	init := literal.MakeTuple(literal.Scalar(int32(2)), hlotest.F32(1, -2, 3))
	state, err := New().EvaluateLoop(loops[0], init)
	require.NoError(t, err)
	assert.Equal(t, int32(3), must.M1(literal.ScalarValue[int32](must.M1(state.Element(0)))))
	assert.Equal(t, []float32{-1, 2, -3}, must.M1(literal.Flat[float32](must.M1(state.Element(1)))))

	_, err = New().EvaluateLoop(loops[0], literal.Scalar(int32(2)))
	assert.True(t, status.IsInvalidArgument(err))
	_, err = New().EvaluateLoop(m.Entry().Root(), init)
	assert.True(t, status.IsInvalidArgument(err))
}

func TestConditional(t *testing.T) {
	m, main := hlotest.NewEntry(t, "conditional")
	branches := make([]*hlo.Computation, 3)
	for ii := range branches {
		branch := m.NewComputation("branch")
		p := must.M1(branch.Parameter(0, "x", hlotest.S32))
		k := must.M1(branch.Constant(literal.Scalar(int32(10 * (ii + 1)))))
		require.NoError(t, branch.SetRoot(must.M1(branch.Binary(opcode.Add, p, k))))
		branches[ii] = branch
	}
	index := must.M1(main.Parameter(0, "index", hlotest.S32))
	x := must.M1(main.Parameter(1, "x", hlotest.S32))
	require.NoError(t, main.SetRoot(must.M1(main.Conditional(index, branches, []*hlo.Instruction{x, x, x}))))
	for branch, want := range map[int32]int32{0: 11, 1: 21, 2: 31, 7: 31, -1: 31} {
		result := hlotest.Evaluate(t, m, literal.Scalar(branch), literal.Scalar(int32(1)))
		assert.Equal(t, want, must.M1(literal.ScalarValue[int32](result)), "branch index %d", branch)
	}

	// Boolean index: true runs branch 0.
	assert.Equal(t, 0, must.M1(BranchIndex(literal.Scalar(true), 2)))
	assert.Equal(t, 1, must.M1(BranchIndex(literal.Scalar(false), 2)))
}

func TestSort(t *testing.T) {
	t.Run("StableMultiOperand", func(t *testing.T) {
		m, main := hlotest.NewEntry(t, "sort")
		comparator := hlotest.LessThanComparator(t, m, 0, dtypes.Int32, dtypes.Int32)
		keys := must.M1(main.Constant(hlotest.S32Vector(3, 1, 3, 2, 1)))
		values := must.M1(main.Iota(shapes.Make(dtypes.Int32, 5), 0))
		require.NoError(t, main.SetRoot(must.M1(main.Sort(0, true, comparator, keys, values))))
		result := hlotest.Evaluate(t, m)
		assert.Equal(t, []int32{1, 1, 2, 3, 3}, must.M1(literal.Flat[int32](must.M1(result.Element(0)))))
		assert.Equal(t, []int32{1, 4, 3, 0, 2}, must.M1(literal.Flat[int32](must.M1(result.Element(1)))))
	})

	t.Run("InnerDimension", func(t *testing.T) {
		m, main := hlotest.NewEntry(t, "sort2d")
		comparator := hlotest.LessThanComparator(t, m, 0, dtypes.Float32)
		x := must.M1(main.Constant(must.M1(literal.FromFlat([]float32{3, 1, 2, 6, 5, 4}, 2, 3))))
		require.NoError(t, main.SetRoot(must.M1(main.Sort(0, false, comparator, x))))
		result := hlotest.Evaluate(t, m)
		// Sorting along dimension 0 sorts each column.
		assert.Equal(t, []float32{3, 1, 2, 6, 5, 4}, must.M1(literal.Flat[float32](result)))

		m, main = hlotest.NewEntry(t, "sort2d_rows")
		comparator = hlotest.LessThanComparator(t, m, 0, dtypes.Float32)
		x = must.M1(main.Constant(must.M1(literal.FromFlat([]float32{3, 1, 2, 6, 5, 4}, 2, 3))))
		require.NoError(t, main.SetRoot(must.M1(main.Sort(1, false, comparator, x))))
		result = hlotest.Evaluate(t, m)
		assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, must.M1(literal.Flat[float32](result)))
	})
}

func TestEvaluateInstructions(t *testing.T) {
	m, main := hlotest.NewEntry(t, "partial")
	known := must.M1(main.Parameter(0, "known", hlotest.S32))
	unknown := must.M1(main.Parameter(1, "unknown", hlotest.S32))
	two := must.M1(main.Constant(literal.Scalar(int32(2))))
	doubled := must.M1(main.Binary(opcode.Multiply, known, two))
	sum := must.M1(main.Binary(opcode.Add, doubled, unknown))
	require.NoError(t, main.SetRoot(sum))
	require.NoError(t, m.Verify())

	e := New()
	values, err := e.EvaluateInstructions(main, []*literal.Literal{literal.Scalar(int32(21))}, doubled)
	require.NoError(t, err)
	assert.Equal(t, int32(42), must.M1(literal.ScalarValue[int32](values[0])))

	// The root depends on the unknown parameter.
	_, err = e.EvaluateInstructions(main, []*literal.Literal{literal.Scalar(int32(21)), nil}, sum)
	assert.True(t, status.IsInvalidArgument(err), "got %+v", err)

	// Constant-only instructions.
	assert.Equal(t, int32(2), must.M1(Scalar[int32](e, two)))
	_, err = Scalar[float32](e, two)
	assert.Error(t, err)

	// Wrong argument shapes.
	_, err = e.Evaluate(main, hlotest.F32(1), literal.Scalar(int32(1)))
	assert.True(t, status.IsInvalidArgument(err))
	_, err = e.Evaluate(main, literal.Scalar(int32(1)))
	assert.True(t, status.IsInvalidArgument(err))
}
