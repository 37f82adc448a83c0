// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hlotest holds test utilities for packages that depend on the hlo package: builders of small
// modules used across tests, and checks that a transformation preserved the values a module computes.
package hlotest

import (
	"bytes"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/evaluator"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

var (
	// S32 is the shape of an Int32 scalar.
	S32 = shapes.Make(dtypes.Int32)

	// Pred is the shape of a boolean scalar.
	Pred = shapes.Make(dtypes.Bool)
)

// F32 returns a Float32 vector literal with the given values.
func F32(values ...float32) *literal.Literal {
	return must.M1(literal.FromFlat(values, len(values)))
}

// S32Vector returns an Int32 vector literal with the given values.
func S32Vector(values ...int32) *literal.Literal {
	return must.M1(literal.FromFlat(values, len(values)))
}

// NewEntry creates a module with an empty entry computation named "main".
func NewEntry(t *testing.T, name string) (*hlo.Module, *hlo.Computation) {
	m := hlo.NewModule(name)
	main := m.NewComputation("main")
	require.NoError(t, m.SetEntry(main))
	return m, main
}

// LessThanComparator adds to m a Sort comparator for operands of the given dtypes that orders by operand
// keyOperand only (lhs < rhs).
func LessThanComparator(t *testing.T, m *hlo.Module, keyOperand int, operandDTypes ...dtypes.DType) *hlo.Computation {
	comparator := m.NewComputation("compare")
	var lhs, rhs *hlo.Instruction
	for ii, dtype := range operandDTypes {
		l := must.M1(comparator.Parameter(2*ii, "lhs", shapes.Make(dtype)))
		r := must.M1(comparator.Parameter(2*ii+1, "rhs", shapes.Make(dtype)))
		if ii == keyOperand {
			lhs, rhs = l, r
		}
	}
	require.NotNil(t, lhs, "key operand %d out-of-range", keyOperand)
	require.NoError(t, comparator.SetRoot(must.M1(comparator.Compare(opcode.CompareLT, lhs, rhs))))
	return comparator
}

// CounterLoop creates a module whose entry takes x (f32[3]) and negates it once per iteration of a While
// loop counting from start to limit. The loop state is (counter: s32, x: f32[3]).
func CounterLoop(t *testing.T, start, limit int32) *hlo.Module {
	m := hlo.NewModule("counter_loop")
	vec := shapes.Make(dtypes.Float32, 3)
	state := shapes.MakeTuple(S32, vec)

	cond := m.NewComputation("cond")
	{
		p := must.M1(cond.Parameter(0, "state", state))
		counter := must.M1(cond.GetTupleElement(p, 0))
		limitC := must.M1(cond.Constant(literal.Scalar(limit)))
		require.NoError(t, cond.SetRoot(must.M1(cond.Compare(opcode.CompareLT, counter, limitC))))
	}
	body := m.NewComputation("body")
	{
		p := must.M1(body.Parameter(0, "state", state))
		counter := must.M1(body.GetTupleElement(p, 0))
		value := must.M1(body.GetTupleElement(p, 1))
		one := must.M1(body.Constant(literal.Scalar(int32(1))))
		next := must.M1(body.Binary(opcode.Add, counter, one))
		neg := must.M1(body.Unary(opcode.Negate, value))
		require.NoError(t, body.SetRoot(must.M1(body.Tuple(next, neg))))
	}
	main := m.NewComputation("main")
	{
		x := must.M1(main.Parameter(0, "x", vec))
		startC := must.M1(main.Constant(literal.Scalar(start)))
		init := must.M1(main.Tuple(startC, x))
		loop := must.M1(main.While(cond, body, init))
		require.NoError(t, main.SetRoot(must.M1(main.GetTupleElement(loop, 1))))
	}
	require.NoError(t, m.SetEntry(main))
	require.NoError(t, m.Verify())
	return m
}

// Evaluate evaluates the entry computation of m, failing the test on error.
func Evaluate(t *testing.T, m *hlo.Module, args ...*literal.Literal) *literal.Literal {
	result, err := evaluator.New().EvaluateModule(m, args...)
	require.NoErrorf(t, err, "failed to evaluate module %q:\n%s", m.Name(), m)
	return result
}

// RequireEquivalent checks that both modules compute bitwise identical results for each set of arguments.
func RequireEquivalent(t *testing.T, want, got *hlo.Module, argSets ...[]*literal.Literal) {
	if len(argSets) == 0 {
		argSets = [][]*literal.Literal{nil}
	}
	for _, args := range argSets {
		wantValue := Evaluate(t, want, args...)
		gotValue := Evaluate(t, got, args...)
		require.Truef(t, wantValue.Equal(gotValue), "results differ for arguments %v: want %s, got %s\nmodule after:\n%s",
			args, wantValue, gotValue, got)
	}
}

// Fingerprint returns the deterministic serialization of the module.
func Fingerprint(t *testing.T, m *hlo.Module) []byte {
	data, err := m.Marshal()
	require.NoError(t, err)
	return data
}

// RequireUnchanged checks that m serializes to the given fingerprint.
func RequireUnchanged(t *testing.T, fingerprint []byte, m *hlo.Module) {
	require.Truef(t, bytes.Equal(fingerprint, Fingerprint(t, m)), "module %q changed:\n%s", m.Name(), m)
}
