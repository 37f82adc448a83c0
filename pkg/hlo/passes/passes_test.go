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
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	. "github.com/gomlx/hlopasses/pkg/hlo/passes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withOpcode returns the instructions of all computations of m with the given opcode.
func withOpcode(m *hlo.Module, op opcode.Opcode) []*hlo.Instruction {
	var insts []*hlo.Instruction
	for _, c := range m.Computations() {
		insts = append(insts, c.InstructionsWithOpcode(op)...)
	}
	return insts
}

// runPass runs p on m, checks it changed the module as expected, that the module is still valid, and that
// a second run changes nothing.
func runPass(t *testing.T, p pass.Pass, m *hlo.Module, wantChanged bool) {
	fingerprint := hlotest.Fingerprint(t, m)
	changed, err := p.Run(m)
	require.NoError(t, err)
	require.Equal(t, wantChanged, changed, "pass %q on module:\n%s", p.Name(), m)
	require.NoError(t, m.Verify(), "module after pass %q:\n%s", p.Name(), m)
	if !changed {
		hlotest.RequireUnchanged(t, fingerprint, m)
	}

	// Idempotence.
	fingerprint = hlotest.Fingerprint(t, m)
	changed, err = p.Run(m)
	require.NoError(t, err)
	require.False(t, changed, "second run of pass %q changed the module:\n%s", p.Name(), m)
	hlotest.RequireUnchanged(t, fingerprint, m)
}

func TestRegistration(t *testing.T) {
	for _, name := range append(DefaultPassNames, StableSortExpanderName) {
		p, err := pass.New(name)
		require.NoError(t, err, "pass %q", name)
		assert.Equal(t, name, p.Name())
	}
	pipeline := NewDefaultPipeline()
	require.Len(t, pipeline.Passes(), len(DefaultPassNames))
	for ii, p := range pipeline.Passes() {
		assert.Equal(t, DefaultPassNames[ii], p.Name())
	}
}

func TestTupleSimplifierAndDCE(t *testing.T) {
	m, main := hlotest.NewEntry(t, "tuples")
	vec := shapes.Make(dtypes.Float32, 3)
	p := must.M1(main.Parameter(0, "p", shapes.MakeTuple(hlotest.S32, vec)))
	a := must.M1(main.Constant(literal.Scalar(int32(1))))
	b := must.M1(main.Constant(hlotest.F32(1, 2, 3)))
	tuple := must.M1(main.Tuple(a, b))
	neg := must.M1(main.Unary(opcode.Negate, must.M1(main.GetTupleElement(tuple, 1))))
	// Reassembles p.
	same := must.M1(main.Tuple(must.M1(main.GetTupleElement(p, 0)), must.M1(main.GetTupleElement(p, 1))))
	sum := must.M1(main.Binary(opcode.Add, neg, must.M1(main.GetTupleElement(same, 1))))
	require.NoError(t, main.SetRoot(sum))
	// Dead code and an unreachable computation.
	_ = must.M1(main.Unary(opcode.Abs, b))
	orphan := m.NewComputation("orphan")
	require.NoError(t, orphan.SetRoot(must.M1(orphan.Constant(literal.Scalar(float32(1))))))
	require.NoError(t, m.Verify())
	before := m.Clone()

	runPass(t, NewTupleSimplifier(), m, true)
	assert.Equal(t, b, neg.Operand(0))
	assert.Equal(t, p, sum.Operand(1).Operand(0))
	assert.Empty(t, main.InstructionsWithOpcode(opcode.Tuple))
	assert.Empty(t, main.InstructionsWithOpcode(opcode.Abs))
	args := []*literal.Literal{literal.MakeTuple(literal.Scalar(int32(3)), hlotest.F32(10, 20, 30))}
	hlotest.RequireEquivalent(t, before, m, args)

	assert.Equal(t, 2, m.NumComputations())
	runPass(t, NewDeadCodeEliminator(), m, true)
	assert.Equal(t, 1, m.NumComputations())
	hlotest.RequireEquivalent(t, before, m, args)
}

func TestRoundTripOptimizesIdentically(t *testing.T) {
	m := deadElementsLoop(t)
	imported := must.M1(hlo.Unmarshal(hlotest.Fingerprint(t, m)))
	reportOriginal := must.M1(NewDefaultPipeline().Optimize(m))
	reportImported := must.M1(NewDefaultPipeline().Optimize(imported))
	assert.Equal(t, reportOriginal.ChangedBy(), reportImported.ChangedBy())
	assert.Equal(t, reportOriginal.Sweeps, reportImported.Sweeps)
	assert.False(t, reportOriginal.Capped)
	for _, start := range []int32{5, 4, 0} {
		hlotest.RequireEquivalent(t, m, imported, deadElementsArgs(start))
	}
	assert.Equal(t, len(withOpcode(m, opcode.While)), len(withOpcode(imported, opcode.While)))
	assert.Equal(t, m.NumComputations(), imported.NumComputations())
}
