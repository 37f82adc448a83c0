// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/hlotest"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	. "github.com/gomlx/hlopasses/pkg/hlo/passes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vec3 = shapes.Make(dtypes.Float32, 3)

// deadElementsLoop creates a module with a loop whose state is (counter, x, y, z), counting from the start
// parameter to 5: x is negated every iteration, y is passed through unchanged and z is overwritten with a
// constant. The module returns (x, y), so z is never used.
func deadElementsLoop(t *testing.T) *hlo.Module {
	m := hlo.NewModule("dead_elements")
	state := shapes.MakeTuple(hlotest.S32, vec3, vec3, vec3)

	cond := m.NewComputation("cond")
	{
		p := must.M1(cond.Parameter(0, "state", state))
		counter := must.M1(cond.GetTupleElement(p, 0))
		limit := must.M1(cond.Constant(literal.Scalar(int32(5))))
		require.NoError(t, cond.SetRoot(must.M1(cond.Compare(opcode.CompareLT, counter, limit))))
	}
	body := m.NewComputation("body")
	{
		p := must.M1(body.Parameter(0, "state", state))
		one := must.M1(body.Constant(literal.Scalar(int32(1))))
		next := must.M1(body.Binary(opcode.Add, must.M1(body.GetTupleElement(p, 0)), one))
		x := must.M1(body.Unary(opcode.Negate, must.M1(body.GetTupleElement(p, 1))))
		y := must.M1(body.GetTupleElement(p, 2))
		z := must.M1(body.Constant(hlotest.F32(7, 7, 7)))
		require.NoError(t, body.SetRoot(must.M1(body.Tuple(next, x, y, z))))
	}
	main := m.NewComputation("main")
	{
		start := must.M1(main.Parameter(0, "start", hlotest.S32))
		x := must.M1(main.Parameter(1, "x", vec3))
		y := must.M1(main.Parameter(2, "y", vec3))
		z := must.M1(main.Constant(hlotest.F32(0, 0, 0)))
		loop := must.M1(main.While(cond, body, must.M1(main.Tuple(start, x, y, z))))
		xOut := must.M1(main.GetTupleElement(loop, 1))
		yOut := must.M1(main.GetTupleElement(loop, 2))
		require.NoError(t, main.SetRoot(must.M1(main.Tuple(xOut, yOut))))
	}
	require.NoError(t, m.SetEntry(main))
	require.NoError(t, m.Verify())
	return m
}

func deadElementsArgs(start int32) []*literal.Literal {
	return []*literal.Literal{literal.Scalar(start), hlotest.F32(1, -2, 3), hlotest.F32(4, 5, -6)}
}

// singleLoop returns the only While instruction of the module.
func singleLoop(t *testing.T, m *hlo.Module) *hlo.Instruction {
	loops := withOpcode(m, opcode.While)
	require.Len(t, loops, 1)
	return loops[0]
}

func TestWhileLoopZeroTrips(t *testing.T) {
	t.Run("ScalarState", func(t *testing.T) {
		// carry = 0; while (carry < 0) { carry = carry + 1 }
		m := hlo.NewModule("zero_trips")
		cond := m.NewComputation("cond")
		{
			p := must.M1(cond.Parameter(0, "carry", hlotest.S32))
			zero := must.M1(cond.Constant(literal.Scalar(int32(0))))
			require.NoError(t, cond.SetRoot(must.M1(cond.Compare(opcode.CompareLT, p, zero))))
		}
		body := m.NewComputation("body")
		{
			p := must.M1(body.Parameter(0, "carry", hlotest.S32))
			one := must.M1(body.Constant(literal.Scalar(int32(1))))
			require.NoError(t, body.SetRoot(must.M1(body.Binary(opcode.Add, p, one))))
		}
		main := m.NewComputation("main")
		init := must.M1(main.Constant(literal.Scalar(int32(0))))
		require.NoError(t, main.SetRoot(must.M1(main.While(cond, body, init))))
		require.NoError(t, m.SetEntry(main))
		before := m.Clone()

		runPass(t, NewWhileLoopSimplifier(), m, true)
		assert.Empty(t, withOpcode(m, opcode.While))
		assert.Equal(t, init, main.Root())
		assert.Equal(t, 1, m.NumComputations(), "condition and body should have been removed")
		hlotest.RequireEquivalent(t, before, m)
	})

	t.Run("TupleState", func(t *testing.T) {
		m := hlotest.CounterLoop(t, 3, 3)
		before := m.Clone()
		runPass(t, NewWhileLoopSimplifier(), m, true)
		assert.Empty(t, withOpcode(m, opcode.While))
		hlotest.RequireEquivalent(t, before, m, []*literal.Literal{hlotest.F32(1, -2, 3)})
	})
}

// falseCondition creates a loop condition on the given state that ignores it and returns false.
func falseCondition(t *testing.T, m *hlo.Module, state shapes.Shape) *hlo.Computation {
	cond := m.NewComputation("cond")
	_ = must.M1(cond.Parameter(0, "state", state))
	require.NoError(t, cond.SetRoot(must.M1(cond.Constant(literal.Scalar(false)))))
	return cond
}

func TestWhileLoopZeroTripsNonConstantInit(t *testing.T) {
	t.Run("TupleParameter", func(t *testing.T) {
		m := hlo.NewModule("tuple_parameter")
		state := shapes.MakeTuple(hlotest.S32, vec3)
		cond := falseCondition(t, m, state)
		body := m.NewComputation("body")
		{
			p := must.M1(body.Parameter(0, "state", state))
			x := must.M1(body.Unary(opcode.Negate, must.M1(body.GetTupleElement(p, 1))))
			require.NoError(t, body.SetRoot(must.M1(body.Tuple(must.M1(body.GetTupleElement(p, 0)), x))))
		}
		main := m.NewComputation("main")
		init := must.M1(main.Parameter(0, "init", state))
		require.NoError(t, main.SetRoot(must.M1(main.While(cond, body, init))))
		require.NoError(t, m.SetEntry(main))
		require.NoError(t, m.Verify())
		before := m.Clone()

		runPass(t, NewWhileLoopSimplifier(), m, true)
		assert.Empty(t, withOpcode(m, opcode.While))
		assert.Same(t, init, main.Root())
		assert.Equal(t, 1, m.NumComputations())
		hlotest.RequireEquivalent(t, before, m,
			[]*literal.Literal{literal.MakeTuple(literal.Scalar(int32(3)), hlotest.F32(1, -2, 3))})
	})

	t.Run("ScalarParameter", func(t *testing.T) {
		m := hlo.NewModule("scalar_parameter")
		cond := falseCondition(t, m, hlotest.S32)
		body := m.NewComputation("body")
		{
			p := must.M1(body.Parameter(0, "carry", hlotest.S32))
			one := must.M1(body.Constant(literal.Scalar(int32(1))))
			require.NoError(t, body.SetRoot(must.M1(body.Binary(opcode.Add, p, one))))
		}
		main := m.NewComputation("main")
		carry := must.M1(main.Parameter(0, "carry", hlotest.S32))
		require.NoError(t, main.SetRoot(must.M1(main.While(cond, body, carry))))
		require.NoError(t, m.SetEntry(main))
		before := m.Clone()

		runPass(t, NewWhileLoopSimplifier(), m, true)
		assert.Same(t, carry, main.Root())
		hlotest.RequireEquivalent(t, before, m, []*literal.Literal{literal.Scalar(int32(-4))})
	})

	t.Run("NestedTupleElements", func(t *testing.T) {
		// The initial counter is reached through a GetTupleElement of a tuple also holding x.
		m := hlotest.CounterLoop(t, 0, 3)
		main := m.Entry()
		loop := singleLoop(t, m)
		x := main.ParameterInstruction(0)
		limit := must.M1(main.Constant(literal.Scalar(int32(3))))
		nested := must.M1(main.Tuple(x, must.M1(main.Tuple(limit, x))))
		init := must.M1(main.GetTupleElement(nested, 1))
		other := must.M1(main.While(loop.WhileCondition(), loop.WhileBody(), init))
		sum := must.M1(main.Binary(opcode.Add, main.Root(), must.M1(main.GetTupleElement(other, 1))))
		require.NoError(t, main.SetRoot(sum))
		require.NoError(t, m.Verify())
		before := m.Clone()

		runPass(t, NewWhileLoopSimplifier(), m, true)
		assert.Same(t, loop, singleLoop(t, m))
		hlotest.RequireEquivalent(t, before, m, []*literal.Literal{hlotest.F32(1, -2, 3)})
	})
}

func TestWhileLoopSingleTrip(t *testing.T) {
	m := hlotest.CounterLoop(t, 0, 1)
	before := m.Clone()
	runPass(t, NewWhileLoopSimplifier(), m, true)
	assert.Empty(t, withOpcode(m, opcode.While))
	assert.Equal(t, 1, m.NumComputations())
	assert.Equal(t, opcode.Negate, m.Entry().Root().Opcode())
	hlotest.RequireEquivalent(t, before, m, []*literal.Literal{hlotest.F32(1, -2, 3)})
	result := hlotest.Evaluate(t, m, hlotest.F32(1, -2, 3))
	assert.Equal(t, []float32{-1, 2, -3}, must.M1(literal.Flat[float32](result)))
}

func TestWhileLoopUnknownTripCount(t *testing.T) {
	// Five trips: nothing to simplify.
	m := hlotest.CounterLoop(t, 0, 5)
	runPass(t, NewWhileLoopSimplifier(), m, false)
}

func TestWhileLoopDeadElements(t *testing.T) {
	m := deadElementsLoop(t)
	before := m.Clone()
	runPass(t, NewWhileLoopSimplifier(), m, true)

	// Only (counter, x) are left.
	loop := singleLoop(t, m)
	assert.True(t, loop.Shape().Equal(shapes.MakeTuple(hlotest.S32, vec3)), "got loop shape %s", loop.Shape())
	assert.True(t, loop.WhileBody().Root().Shape().Equal(loop.Shape()))
	assert.Equal(t, 3, m.NumComputations(), "old condition and body should have been removed")

	// y is read directly from the parameter.
	root := m.Entry().Root()
	require.Equal(t, opcode.Tuple, root.Opcode())
	assert.Equal(t, opcode.Parameter, root.Operand(1).Opcode())

	// Trip counts 0, 1 and 5.
	for _, start := range []int32{5, 4, 0} {
		hlotest.RequireEquivalent(t, before, m, deadElementsArgs(start))
	}
}

func TestWhileLoopDeadElementsUsedAsAWhole(t *testing.T) {
	// The loop result is used as a whole: the passed-through y can still be removed, but z can't.
	m := deadElementsLoop(t)
	main := m.Entry()
	loop := singleLoop(t, m)
	require.NoError(t, main.SetRoot(loop))
	must.M1(main.RemoveDeadCode())
	before := m.Clone()

	runPass(t, NewWhileLoopSimplifier(), m, true)
	loop = singleLoop(t, m)
	assert.Equal(t, 3, loop.Shape().TupleSize())
	assert.True(t, main.Root().Shape().Equal(before.Entry().Root().Shape()))
	for _, start := range []int32{5, 4, 0} {
		hlotest.RequireEquivalent(t, before, m, deadElementsArgs(start))
	}
}

func TestWhileLoopFlattenState(t *testing.T) {
	m := hlo.NewModule("nested")
	inner := shapes.MakeTuple(vec3, vec3)
	state := shapes.MakeTuple(hlotest.S32, inner)

	cond := m.NewComputation("cond")
	{
		p := must.M1(cond.Parameter(0, "state", state))
		limit := must.M1(cond.Constant(literal.Scalar(int32(3))))
		require.NoError(t, cond.SetRoot(must.M1(cond.Compare(opcode.CompareLT, must.M1(cond.GetTupleElement(p, 0)), limit))))
	}
	body := m.NewComputation("body")
	{
		p := must.M1(body.Parameter(0, "state", state))
		one := must.M1(body.Constant(literal.Scalar(int32(1))))
		next := must.M1(body.Binary(opcode.Add, must.M1(body.GetTupleElement(p, 0)), one))
		pair := must.M1(body.GetTupleElement(p, 1))
		x := must.M1(body.GetTupleElement(pair, 0))
		y := must.M1(body.GetTupleElement(pair, 1))
		newPair := must.M1(body.Tuple(must.M1(body.Unary(opcode.Negate, x)), must.M1(body.Binary(opcode.Add, y, x))))
		require.NoError(t, body.SetRoot(must.M1(body.Tuple(next, newPair))))
	}
	main := m.NewComputation("main")
	{
		start := must.M1(main.Parameter(0, "start", hlotest.S32))
		x := must.M1(main.Parameter(1, "x", vec3))
		y := must.M1(main.Parameter(2, "y", vec3))
		loop := must.M1(main.While(cond, body, must.M1(main.Tuple(start, must.M1(main.Tuple(x, y))))))
		pair := must.M1(main.GetTupleElement(loop, 1))
		require.NoError(t, main.SetRoot(must.M1(main.GetTupleElement(pair, 1))))
	}
	require.NoError(t, m.SetEntry(main))
	require.NoError(t, m.Verify())
	before := m.Clone()

	runPass(t, NewWhileLoopSimplifier(), m, true)
	loop := singleLoop(t, m)
	assert.True(t, loop.Shape().Equal(shapes.MakeTuple(hlotest.S32, vec3, vec3)), "got loop shape %s", loop.Shape())
	assert.False(t, loop.Shape().IsNestedTuple())
	for _, start := range []int32{3, 2, 0, -2} {
		args := []*literal.Literal{literal.Scalar(start), hlotest.F32(1, -2, 3), hlotest.F32(4, 5, -6)}
		hlotest.RequireEquivalent(t, before, m, args)
	}
}

func TestWhileLoopSharedComputations(t *testing.T) {
	// Two loops share the same condition and body: one never runs, the other one runs 5 times.
	m := hlotest.CounterLoop(t, 0, 5)
	main := m.Entry()
	loop := singleLoop(t, m)
	x := main.ParameterInstruction(0)
	start := must.M1(main.Constant(literal.Scalar(int32(7))))
	other := must.M1(main.While(loop.WhileCondition(), loop.WhileBody(), must.M1(main.Tuple(start, x))))
	sum := must.M1(main.Binary(opcode.Add, main.Root(), must.M1(main.GetTupleElement(other, 1))))
	require.NoError(t, main.SetRoot(sum))
	require.NoError(t, m.Verify())
	before := m.Clone()

	runPass(t, NewWhileLoopSimplifier(), m, true)
	remaining := singleLoop(t, m)
	assert.Same(t, loop, remaining)
	assert.Equal(t, 3, m.NumComputations(), "shared computations are still in use")
	hlotest.RequireEquivalent(t, before, m, []*literal.Literal{hlotest.F32(1, -2, 3)})
}

func TestWhileLoopFoldingLimit(t *testing.T) {
	// The initial counter comes out of a loop that runs for 10 iterations, which also carries the unknown x:
	// with a folding limit of 5 it is not considered constant, so the outer loop trip count is unknown.
	build := func() *hlo.Module {
		m := hlotest.CounterLoop(t, 0, 10)
		main := m.Entry()
		loop := singleLoop(t, m)
		counter := must.M1(main.GetTupleElement(loop, 0))
		init := must.M1(main.Tuple(counter, main.Root()))
		outer := must.M1(main.While(loop.WhileCondition(), loop.WhileBody(), init))
		require.NoError(t, main.SetRoot(must.M1(main.GetTupleElement(outer, 1))))
		must.M1(main.RemoveDeadCode())
		require.NoError(t, m.Verify())
		return m
	}

	m := build()
	runPass(t, NewWhileLoopSimplifier().WithMaxFoldingIterations(5), m, false)

	// With the default limit the outer loop never runs.
	m = build()
	before := m.Clone()
	runPass(t, NewWhileLoopSimplifier(), m, true)
	assert.Len(t, withOpcode(m, opcode.While), 1)
	hlotest.RequireEquivalent(t, before, m, []*literal.Literal{hlotest.F32(1, -2, 3)})
}
