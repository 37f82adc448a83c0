// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/hlopasses/pkg/hlo"
	"github.com/gomlx/hlopasses/pkg/hlo/pass"
)

const (
	// TupleSimplifierName is the registered name of TupleSimplifier.
	TupleSimplifierName = "tuple-simplifier"

	// DeadCodeEliminatorName is the registered name of DeadCodeEliminator.
	DeadCodeEliminatorName = "dce"
)

// TupleSimplifier forwards tuple elements to the GetTupleElement instructions that extract them, and replaces
// tuples that only reassemble another tuple by the original one.
type TupleSimplifier struct{}

// NewTupleSimplifier creates a TupleSimplifier.
func NewTupleSimplifier() *TupleSimplifier { return &TupleSimplifier{} }

// Name implements pass.Pass.
func (s *TupleSimplifier) Name() string { return TupleSimplifierName }

// Run implements pass.Pass.
func (s *TupleSimplifier) Run(m *hlo.Module) (bool, error) {
	return pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		changed, err := simplifyTuples(c)
		if err != nil || !changed {
			return changed, err
		}
		_, err = c.RemoveDeadCode()
		return true, err
	})
}

// DeadCodeEliminator removes the instructions that don't contribute to the root of their computation, and
// the computations not reachable from the entry computation.
type DeadCodeEliminator struct{}

// NewDeadCodeEliminator creates a DeadCodeEliminator.
func NewDeadCodeEliminator() *DeadCodeEliminator { return &DeadCodeEliminator{} }

// Name implements pass.Pass.
func (d *DeadCodeEliminator) Name() string { return DeadCodeEliminatorName }

// Run implements pass.Pass.
func (d *DeadCodeEliminator) Run(m *hlo.Module) (bool, error) {
	changed, err := pass.RunOnComputations(m, func(c *hlo.Computation) (bool, error) {
		return c.RemoveDeadCode()
	})
	if err != nil {
		return changed, err
	}
	if m.RemoveUnreachableComputations() {
		changed = true
	}
	return changed, nil
}
