// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodeNames(t *testing.T) {
	for op := Invalid + 1; op < Last; op++ {
		name := op.String()
		require.NotEqual(t, "invalid", name, "opcode %d has no name", int(op))
		parsed, err := FromString(name)
		require.NoError(t, err)
		require.Equal(t, op, parsed)
	}
	assert.Equal(t, "get-tuple-element", GetTupleElement.String())
	_, err := FromString("all-reduce")
	assert.Error(t, err)
	_, err = FromString("invalid")
	assert.Error(t, err)
	assert.False(t, Last.IsValid())
}

func TestOpcodeClasses(t *testing.T) {
	assert.True(t, Add.IsElementwise())
	assert.True(t, Convert.IsElementwise())
	assert.False(t, Tuple.IsElementwise())
	assert.True(t, CallsComputations.Has(Sort))
	assert.False(t, ControlFlow.Has(Sort))
}

func TestComparisonDirection(t *testing.T) {
	for _, dir := range []ComparisonDirection{CompareEQ, CompareNE, CompareGE, CompareGT, CompareLE, CompareLT} {
		parsed, err := ComparisonFromString(dir.String())
		require.NoError(t, err)
		require.Equal(t, dir, parsed)
		require.Equal(t, dir, dir.Swapped().Swapped())
	}
	assert.Equal(t, CompareGT, CompareLT.Swapped())
	_, err := ComparisonFromString("XX")
	assert.Error(t, err)
}
