// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/hlopasses/pkg/core/fpformats"
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/evaluator"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FPConversionSimplifierName is the registered name of FPConversionSimplifier.
const FPConversionSimplifierName = "simplify-fp-conversions"

// FPConversionSimplifier collapses chains of Convert instructions between floating-point dtypes that return
// to the dtype they started from, A -> B1 -> ... -> Bn -> A:
//
//   - If every Bi can represent every value of A, the chain is the identity, and it is replaced by its input.
//   - If the input is a constant that the chain maps to itself, the chain is replaced by the constant.
//   - If the conversions before the first Bi that can't represent A are all exact, and the following ones
//     are exact as well, the chain is equivalent to A -> Bi -> A, which replaces it.
//
// Chains that don't match any of these are left untouched: the rewrites never change the values computed.
type FPConversionSimplifier struct {
	formats   fpformats.Table
	evaluator *evaluator.Evaluator
}

// NewFPConversionSimplifier creates a FPConversionSimplifier using the fpformats.Default formats.
func NewFPConversionSimplifier() *FPConversionSimplifier {
	return &FPConversionSimplifier{
		formats:   fpformats.Default,
		evaluator: evaluator.New().WithMaxLoopIterations(DefaultFoldingIterations),
	}
}

// WithFormats sets the table of floating-point formats. Dtypes not in the table are never simplified.
// It returns the FPConversionSimplifier itself, so configuration calls can be cascaded.
func (s *FPConversionSimplifier) WithFormats(formats fpformats.Table) *FPConversionSimplifier {
	s.formats = formats
	return s
}

// Name implements pass.Pass.
func (s *FPConversionSimplifier) Name() string { return FPConversionSimplifierName }

// Run implements pass.Pass.
func (s *FPConversionSimplifier) Run(m *hlo.Module) (bool, error) {
	return pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		changed := false
		for _, convert := range c.PostOrder() {
			if convert.IsDead() || convert.Opcode() != opcode.Convert {
				continue
			}
			convertChanged, err := s.simplifyChain(convert)
			if err != nil {
				return true, errors.WithMessagef(err, "simplifying conversions ending at %q", convert.Name())
			}
			changed = changed || convertChanged
		}
		return changed, nil
	})
}

// chainOf returns the values of the chain of conversions ending at convert, from the first input to convert
// itself. Only conversions between dtypes known by the formats table are included.
func (s *FPConversionSimplifier) chainOf(convert *hlo.Instruction) []*hlo.Instruction {
	if _, known := s.formats.Lookup(convert.Shape().DType); !known {
		return nil
	}
	chain := []*hlo.Instruction{convert}
	for current := convert; current.Opcode() == opcode.Convert; {
		current = current.Operand(0)
		if _, known := s.formats.Lookup(current.Shape().DType); !known {
			break
		}
		chain = append(chain, current)
	}
	slices.Reverse(chain)
	return chain
}

// simplifyChain tries the rewrites on the chains ending at convert, starting from the longest one.
func (s *FPConversionSimplifier) simplifyChain(convert *hlo.Instruction) (bool, error) {
	chain := s.chainOf(convert)
	last := len(chain) - 1
	if last < 1 {
		return false, nil
	}
	dtype := convert.Shape().DType
	for start := range last {
		input := chain[start]
		if input.Shape().DType != dtype {
			continue
		}
		intermediates := make([]dtypes.DType, 0, last-start-1)
		for _, value := range chain[start+1 : last] {
			intermediates = append(intermediates, value.Shape().DType)
		}
		c := convert.Parent()
		switch {
		case s.isIdentity(dtype, intermediates):
			klog.V(1).Infof("conversions %s -> %v -> %s ending at %q are exact: removing them", dtype, intermediates, dtype, convert.Name())
			return true, c.ReplaceInstruction(convert, input)

		case input.Opcode() == opcode.Constant && s.mapsToItself(input, convert):
			klog.V(1).Infof("conversions ending at %q don't change constant %q: removing them", convert.Name(), input.Name())
			return true, c.ReplaceInstruction(convert, input)

		case len(intermediates) > 1:
			narrowest, ok := s.roundTripThrough(dtype, intermediates)
			if !ok {
				continue
			}
			klog.V(1).Infof("conversions %s -> %v -> %s ending at %q: reducing to a round trip through %s",
				dtype, intermediates, dtype, convert.Name(), narrowest)
			narrowed, err := c.Convert(input, narrowest)
			if err != nil {
				return false, err
			}
			widened, err := c.Convert(narrowed, dtype)
			if err != nil {
				return false, err
			}
			return true, c.ReplaceInstruction(convert, widened)
		}
	}
	return false, nil
}

// dominates returns whether every value of dtype b is representable in dtype a.
func (s *FPConversionSimplifier) dominates(a, b dtypes.DType) bool {
	formatA, _ := s.formats.Lookup(a)
	formatB, _ := s.formats.Lookup(b)
	return formatA.Dominates(formatB)
}

// isIdentity returns whether converting values of dtype through the intermediates is exact.
func (s *FPConversionSimplifier) isIdentity(dtype dtypes.DType, intermediates []dtypes.DType) bool {
	for _, intermediate := range intermediates {
		if !s.dominates(intermediate, dtype) {
			return false
		}
	}
	return true
}

// roundTripThrough returns the dtype N such that converting values of dtype through the intermediates gives
// the same results as converting them to N and back.
//
// That is the case if the conversions before the first intermediate that doesn't dominate dtype are exact
// (the value reaches it unchanged), and every conversion after it is exact as well.
func (s *FPConversionSimplifier) roundTripThrough(dtype dtypes.DType, intermediates []dtypes.DType) (dtypes.DType, bool) {
	first := slices.IndexFunc(intermediates, func(intermediate dtypes.DType) bool {
		return !s.dominates(intermediate, dtype)
	})
	if first < 0 {
		return dtypes.InvalidDType, false
	}
	narrowest := intermediates[first]
	for _, intermediate := range intermediates[first+1:] {
		if !s.dominates(intermediate, narrowest) {
			return dtypes.InvalidDType, false
		}
	}
	if !s.dominates(dtype, narrowest) {
		return dtypes.InvalidDType, false
	}
	return narrowest, true
}

// mapsToItself returns whether the conversions from the constant input to convert give back the same value.
func (s *FPConversionSimplifier) mapsToItself(input, convert *hlo.Instruction) bool {
	values, err := s.evaluator.EvaluateInstructions(convert.Parent(), nil, convert)
	if err != nil {
		return false
	}
	return values[0].Equal(input.Literal())
}
