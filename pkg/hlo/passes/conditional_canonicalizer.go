// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConditionalCanonicalizerName is the registered name of ConditionalCanonicalizer.
const ConditionalCanonicalizerName = "conditional-canonicalizer"

// ConditionalCanonicalizer makes every Conditional return a tuple: the root of each branch of a Conditional
// with a non-tuple result is wrapped in a single-element tuple, and the uses of the Conditional read the
// element back with a GetTupleElement.
//
// Branches also called by other instructions are copied before being modified.
type ConditionalCanonicalizer struct{}

// NewConditionalCanonicalizer creates a ConditionalCanonicalizer.
func NewConditionalCanonicalizer() *ConditionalCanonicalizer { return &ConditionalCanonicalizer{} }

// Name implements pass.Pass.
func (p *ConditionalCanonicalizer) Name() string { return ConditionalCanonicalizerName }

// Run implements pass.Pass.
func (p *ConditionalCanonicalizer) Run(m *hlo.Module) (bool, error) {
	return pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		changed := false
		for _, conditional := range c.InstructionsWithOpcode(opcode.Conditional) {
			if conditional.Shape().IsTuple() {
				continue
			}
			if err := canonicalizeConditional(conditional); err != nil {
				return true, errors.WithMessagef(err, "canonicalizing conditional %q", conditional.Name())
			}
			changed = true
		}
		return changed, nil
	})
}

// canonicalizeConditional replaces conditional by a GetTupleElement of a new Conditional whose branches
// return a single-element tuple.
func canonicalizeConditional(conditional *hlo.Instruction) error {
	c := conditional.Parent()
	m := c.Module()
	klog.V(1).Infof("conditional %q: wrapping the result of its branches in a tuple", conditional.Name())

	// Branches repeated in the conditional are wrapped once.
	wrapped := make(map[*hlo.Computation]*hlo.Computation)
	branches := conditional.BranchComputations()
	for ii, branch := range branches {
		if newBranch, found := wrapped[branch]; found {
			branches[ii] = newBranch
			continue
		}
		newBranch := branch
		for _, caller := range m.Callers(branch) {
			if caller != conditional {
				var err error
				if newBranch, err = m.CloneComputation(branch, ""); err != nil {
					return err
				}
				break
			}
		}
		tuple, err := newBranch.Tuple(newBranch.Root())
		if err != nil {
			return err
		}
		if err = newBranch.SetRoot(tuple); err != nil {
			return err
		}
		wrapped[branch] = newBranch
		branches[ii] = newBranch
	}

	newConditional, err := c.Conditional(conditional.Operand(0), branches, conditional.Operands()[1:])
	if err != nil {
		return err
	}
	result, err := c.GetTupleElement(newConditional, 0)
	if err != nil {
		return err
	}
	return c.ReplaceInstruction(conditional, result)
}
