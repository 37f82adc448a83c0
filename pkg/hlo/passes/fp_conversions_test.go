// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/fpformats"
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

// conversionChain creates a module converting its input through the given dtypes. The input is a Float32
// parameter, or a constant if constant is not nil.
func conversionChain(t *testing.T, constant *literal.Literal, chain ...dtypes.DType) (*hlo.Module, *hlo.Instruction) {
	m, main := hlotest.NewEntry(t, "conversions")
	var input *hlo.Instruction
	if constant != nil {
		input = must.M1(main.Constant(constant))
	} else {
		input = must.M1(main.Parameter(0, "x", shapes.Make(dtypes.Float32, 3)))
	}
	value := input
	for _, dtype := range chain {
		value = must.M1(main.Convert(value, dtype))
	}
	require.NoError(t, main.SetRoot(value))
	require.NoError(t, m.Verify())
	return m, input
}

var conversionArgs = [][]*literal.Literal{
	{hlotest.F32(1, -2.5, 3)},
	{hlotest.F32(1.0009765625, 3.14159265, -65519)},
	{hlotest.F32(1e-40, 1e38, -0.1)},
}

// convertedDTypes returns the dtypes of the chain of conversions ending at the root.
func convertedDTypes(m *hlo.Module) []dtypes.DType {
	var chain []dtypes.DType
	for value := m.Entry().Root(); value.Opcode() == opcode.Convert; value = value.Operand(0) {
		chain = append([]dtypes.DType{value.Shape().DType}, chain...)
	}
	return chain
}

func TestFPConversionSimplifierIdentity(t *testing.T) {
	m, input := conversionChain(t, nil, dtypes.Float64, dtypes.Float32)
	before := m.Clone()
	runPass(t, NewFPConversionSimplifier(), m, true)
	assert.Same(t, input, m.Entry().Root())
	hlotest.RequireEquivalent(t, before, m, conversionArgs...)
}

func TestFPConversionSimplifierConstants(t *testing.T) {
	// 1.5 and -3 are exactly representable in BFloat16.
	m, input := conversionChain(t, hlotest.F32(1.5, -3, 0), dtypes.BFloat16, dtypes.Float32)
	before := m.Clone()
	runPass(t, NewFPConversionSimplifier(), m, true)
	assert.Same(t, input, m.Entry().Root())
	hlotest.RequireEquivalent(t, before, m)

	// 1.0009765625 = 1 + 2^-10 is not.
	m, _ = conversionChain(t, hlotest.F32(1.5, 1.0009765625, 0), dtypes.BFloat16, dtypes.Float32)
	runPass(t, NewFPConversionSimplifier(), m, false)
}

func TestFPConversionSimplifierNarrowing(t *testing.T) {
	// The round trip through BFloat16 is kept for non-constant values.
	m, _ := conversionChain(t, nil, dtypes.BFloat16, dtypes.Float32)
	runPass(t, NewFPConversionSimplifier(), m, false)

	// Float32 -> Float64 is exact: only the round trip through BFloat16 matters.
	m, input := conversionChain(t, nil, dtypes.Float64, dtypes.BFloat16, dtypes.Float32)
	before := m.Clone()
	runPass(t, NewFPConversionSimplifier(), m, true)
	assert.Equal(t, []dtypes.DType{dtypes.BFloat16, dtypes.Float32}, convertedDTypes(m))
	assert.Same(t, input, m.Entry().Root().Operand(0).Operand(0))
	hlotest.RequireEquivalent(t, before, m, conversionArgs...)

	// Float16 and BFloat16 don't dominate each other: both roundings matter.
	m, _ = conversionChain(t, nil, dtypes.Float16, dtypes.BFloat16, dtypes.Float32)
	runPass(t, NewFPConversionSimplifier(), m, false)
}

func TestFPConversionSimplifierLongChains(t *testing.T) {
	// Float32 -> Float64 -> Float32 in the middle of a chain.
	m, input := conversionChain(t, nil, dtypes.Float64, dtypes.Float32, dtypes.Float64, dtypes.Float32)
	before := m.Clone()
	runPass(t, NewFPConversionSimplifier(), m, true)
	assert.Same(t, input, m.Entry().Root())
	hlotest.RequireEquivalent(t, before, m, conversionArgs...)

	// Chains ending on a different dtype keep their last conversion.
	m, input = conversionChain(t, nil, dtypes.Float64, dtypes.Float32, dtypes.Float16)
	before = m.Clone()
	runPass(t, NewFPConversionSimplifier(), m, true)
	assert.Equal(t, []dtypes.DType{dtypes.Float16}, convertedDTypes(m))
	assert.Same(t, input, m.Entry().Root().Operand(0))
	hlotest.RequireEquivalent(t, before, m, conversionArgs...)
}

func TestFPConversionSimplifierFormats(t *testing.T) {
	m, _ := conversionChain(t, nil, dtypes.Float64, dtypes.Float32)
	runPass(t, NewFPConversionSimplifier().WithFormats(fpformats.MapTable{}), m, false)

	// Without Float64 in the table the chain is not recognized.
	formats := fpformats.MapTable{
		dtypes.Float32:  {DType: dtypes.Float32, ExponentBits: 8, MantissaBits: 23},
		dtypes.BFloat16: {DType: dtypes.BFloat16, ExponentBits: 8, MantissaBits: 7},
	}
	runPass(t, NewFPConversionSimplifier().WithFormats(formats), m, false)
}
