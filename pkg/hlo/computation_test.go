// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	f32Vec3   = shapes.Make(dtypes.Float32, 3)
	s32Scalar = shapes.Make(dtypes.Int32)
)

func TestBuilders(t *testing.T) {
	m := NewModule("builders")
	c := m.NewComputation("main")
	x := must.M1(c.Parameter(0, "x", f32Vec3))
	add := must.M1(c.Binary(opcode.Add, x, x))
	lt := must.M1(c.Compare(opcode.CompareLT, x, add))
	sel := must.M1(c.Select(lt, x, add))
	neg := must.M1(c.Unary(opcode.Negate, sel))
	tuple := must.M1(c.Tuple(neg, add))
	gte := must.M1(c.GetTupleElement(tuple, 1))
	require.NoError(t, c.SetRoot(tuple))
	require.NoError(t, m.SetEntry(c))
	require.NoError(t, m.Verify())

	assert.Equal(t, "x", x.Name())
	assert.Equal(t, "add", add.Name())
	assert.True(t, lt.Shape().Equal(shapes.Make(dtypes.Bool, 3)))
	assert.True(t, tuple.Shape().Equal(shapes.MakeTuple(f32Vec3, f32Vec3)))
	assert.Equal(t, 1, gte.TupleIndex())
	assert.Equal(t, []*Instruction{x, x}, add.Operands())
	assert.ElementsMatch(t, []*Instruction{lt, sel, tuple}, add.Users())
	assert.True(t, tuple.IsRoot())
	assert.Equal(t, "%add = f32[3] add(%x, %x)", add.String())
	assert.Equal(t, "%compare = pred[3] compare(%x, %add), direction=LT", lt.String())

	// Shape errors are invalid arguments.
	i32 := must.M1(c.Convert(x, dtypes.Int32))
	_, err := c.Binary(opcode.Add, x, i32)
	require.Error(t, err)
	assert.True(t, status.IsInvalidArgument(err))
	_, err = c.GetTupleElement(tuple, 2)
	assert.True(t, status.IsInvalidArgument(err))
	_, err = c.Parameter(0, "again", f32Vec3)
	assert.True(t, status.IsInvalidArgument(err))

	// Operands must belong to the computation.
	other := m.NewComputation("other")
	_, err = other.Unary(opcode.Negate, x)
	assert.True(t, status.IsInvalidArgument(err))

	// Names are unique within the module.
	add2 := must.M1(other.Binary(opcode.Add, must.M1(other.Parameter(0, "x", f32Vec3)), must.M1(other.Iota(f32Vec3, 0))))
	assert.Equal(t, "add.1", add2.Name())
	assert.Equal(t, "x.1", other.ParameterInstruction(0).Name())
}

func TestHandles(t *testing.T) {
	m := NewModule("handles")
	c := m.NewComputation("main")
	x := must.M1(c.Parameter(0, "x", f32Vec3))
	neg := must.M1(c.Unary(opcode.Negate, x))
	require.NoError(t, c.SetRoot(x))

	h := neg.Handle()
	assert.True(t, h.IsValid())
	assert.Equal(t, neg, must.M1(c.Lookup(h)))
	require.NoError(t, c.RemoveInstruction(neg))
	assert.True(t, neg.IsDead())
	_, err := c.Lookup(h)
	assert.True(t, status.IsNotFound(err))
	_, err = c.Lookup(Handle{})
	assert.True(t, status.IsInvalidArgument(err))

	// The slot is reused with a new generation: the old handle stays stale.
	abs := must.M1(c.Unary(opcode.Abs, x))
	assert.Equal(t, h.index, abs.Handle().index)
	assert.NotEqual(t, h, abs.Handle())
	_, err = c.Lookup(h)
	assert.True(t, status.IsNotFound(err))
	assert.Equal(t, []*Instruction{abs}, x.Users())

	// Removed instructions can't be used as operands.
	_, err = c.Unary(opcode.Negate, neg)
	assert.True(t, status.IsInvalidArgument(err))
}

func TestRemoveInstruction(t *testing.T) {
	m := NewModule("remove")
	c := m.NewComputation("main")
	x := must.M1(c.Parameter(0, "x", f32Vec3))
	neg := must.M1(c.Unary(opcode.Negate, x))
	abs := must.M1(c.Unary(opcode.Abs, neg))
	require.NoError(t, c.SetRoot(abs))

	err := c.RemoveInstruction(abs)
	assert.True(t, status.IsInternal(err), "root can't be removed")
	err = c.RemoveInstruction(neg)
	assert.True(t, status.IsInternal(err), "instruction with users can't be removed")
	err = c.RemoveInstruction(x)
	assert.True(t, status.IsInternal(err), "parameters can't be removed")

	// Unused chain is removed together.
	a := must.M1(c.Binary(opcode.Multiply, neg, neg))
	b := must.M1(c.Unary(opcode.Negate, a))
	require.NoError(t, c.RemoveInstructionAndUnusedOperands(b))
	assert.True(t, a.IsDead())
	assert.False(t, neg.IsDead(), "neg is still used by the root")
	assert.Equal(t, 3, c.NumInstructions())
}

func TestReplaceAllUsesWith(t *testing.T) {
	m := NewModule("rauw")
	c := m.NewComputation("main")
	x := must.M1(c.Parameter(0, "x", f32Vec3))
	neg := must.M1(c.Unary(opcode.Negate, x))
	add := must.M1(c.Binary(opcode.Add, neg, neg))
	require.NoError(t, c.SetRoot(add))

	abs := must.M1(c.Unary(opcode.Abs, x))
	require.NoError(t, c.ReplaceAllUsesWith(neg, abs))
	assert.Equal(t, []*Instruction{abs, abs}, add.Operands())
	assert.Equal(t, 0, neg.UserCount())

	// Replacing with an instruction that wraps the old one doesn't create cycles.
	wrap := must.M1(c.Unary(opcode.Negate, add))
	require.NoError(t, c.ReplaceAllUsesWith(add, wrap))
	assert.True(t, wrap.IsRoot())
	assert.Equal(t, []*Instruction{add}, wrap.Operands())

	i32 := must.M1(c.Convert(x, dtypes.Int32))
	err := c.ReplaceAllUsesWith(abs, i32)
	assert.True(t, status.IsInvalidArgument(err))

	// ReplaceInstruction removes the old instruction and moves control dependencies.
	pred := must.M1(c.Unary(opcode.Negate, x))
	require.NoError(t, c.AddControlDependency(pred, abs))
	abs2 := must.M1(c.Unary(opcode.Abs, x))
	require.NoError(t, c.ReplaceInstruction(abs, abs2))
	assert.True(t, abs.IsDead())
	assert.Equal(t, []*Instruction{pred}, abs2.ControlPredecessors())
	assert.Equal(t, []*Instruction{abs2}, pred.ControlSuccessors())
	require.NoError(t, c.Verify())
}

func TestRemoveDeadCode(t *testing.T) {
	m := NewModule("dce")
	c := m.NewComputation("main")
	x := must.M1(c.Parameter(0, "x", f32Vec3))
	y := must.M1(c.Parameter(1, "y", f32Vec3))
	live := must.M1(c.Unary(opcode.Negate, x))
	ordered := must.M1(c.Unary(opcode.Abs, x))
	dead1 := must.M1(c.Binary(opcode.Add, live, y))
	dead2 := must.M1(c.Unary(opcode.Negate, dead1))
	require.NoError(t, c.SetRoot(live))
	require.NoError(t, c.AddControlDependency(ordered, live))
	require.NoError(t, c.AddControlDependency(ordered, dead2))
	_ = must.M1(c.Constant(literal.Scalar(int32(3))))

	changed := must.M1(c.RemoveDeadCode())
	assert.True(t, changed)
	assert.True(t, dead1.IsDead())
	assert.True(t, dead2.IsDead())
	assert.False(t, ordered.IsDead(), "control predecessors of live instructions are live")
	assert.False(t, y.IsDead(), "parameters are never removed")
	assert.Equal(t, []*Instruction{live}, ordered.ControlSuccessors())
	assert.Equal(t, 4, c.NumInstructions())
	require.NoError(t, c.Verify())

	changed = must.M1(c.RemoveDeadCode())
	assert.False(t, changed)
}

func TestPostOrder(t *testing.T) {
	m := NewModule("order")
	c := m.NewComputation("main")
	x := must.M1(c.Parameter(0, "x", s32Scalar))
	one := must.M1(c.Constant(literal.Scalar(int32(1))))
	add := must.M1(c.Binary(opcode.Add, x, one))
	mul := must.M1(c.Binary(opcode.Multiply, add, x))
	require.NoError(t, c.SetRoot(mul))
	assert.Equal(t, []*Instruction{x, one, add, mul}, c.PostOrder())

	// Introduce a cycle through a control edge: it must be detected.
	require.NoError(t, c.AddControlDependency(mul, add))
	_, err := c.postOrder()
	assert.True(t, status.IsInternal(err))
	assert.Panics(t, func() { c.PostOrder() })
}

func TestCloneInto(t *testing.T) {
	m := NewModule("clone")
	body := m.NewComputation("body")
	p := must.M1(body.Parameter(0, "p", f32Vec3))
	neg := must.M1(body.Unary(opcode.Negate, p))
	require.NoError(t, body.SetRoot(must.M1(body.Binary(opcode.Add, neg, p))))

	main := m.NewComputation("main")
	x := must.M1(main.Parameter(0, "x", f32Vec3))
	abs := must.M1(main.Unary(opcode.Abs, x))
	root := must.M1(body.CloneInto(main, map[*Instruction]*Instruction{p: abs}))
	require.NoError(t, main.SetRoot(root))
	assert.Equal(t, opcode.Add, root.Opcode())
	assert.Equal(t, abs, root.Operand(1))
	assert.Equal(t, opcode.Negate, root.Operand(0).Opcode())
	assert.Equal(t, "add.1", root.Name())
	assert.Equal(t, "negate.1", root.Operand(0).Name())

	clone := must.M1(m.CloneComputation(body, ""))
	assert.Equal(t, "body.clone", clone.Name())
	assert.Equal(t, 3, clone.NumInstructions())
	require.NoError(t, m.SetEntry(main))
	require.NoError(t, m.Verify())
}

func TestCloneSubgraphInto(t *testing.T) {
	m := NewModule("subgraph")
	src := m.NewComputation("src")
	p := must.M1(src.Parameter(0, "p", f32Vec3))
	q := must.M1(src.Parameter(1, "q", f32Vec3))
	neg := must.M1(src.Unary(opcode.Negate, p))
	abs := must.M1(src.Unary(opcode.Abs, q))
	require.NoError(t, src.SetRoot(must.M1(src.Tuple(neg, abs))))

	dst := m.NewComputation("dst")
	x := must.M1(dst.Parameter(0, "x", f32Vec3))
	clones := must.M1(src.CloneSubgraphInto(dst, map[*Instruction]*Instruction{p: x}, neg))
	require.Len(t, clones, 1)
	assert.Equal(t, opcode.Negate, clones[0].Opcode())
	assert.Equal(t, x, clones[0].Operand(0))
	// Only the parameter and the negation: q and abs were not needed.
	assert.Equal(t, 2, dst.NumInstructions())

	other := NewModule("other")
	_, err := src.CloneSubgraphInto(other.NewComputation("foreign"), nil, neg)
	assert.True(t, status.IsInvalidArgument(err))
}
