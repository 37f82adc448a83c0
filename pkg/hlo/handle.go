// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import "fmt"

// Handle identifies an instruction within the arena of its computation.
//
// Handles are generation-tagged: when an instruction is removed its slot's generation is bumped, and
// looking up a stale handle fails instead of returning whatever instruction reused the slot.
// The zero Handle is invalid.
type Handle struct {
	index      int32
	generation uint32
}

// IsValid returns whether the handle was ever assigned. It doesn't check whether it is stale.
func (h Handle) IsValid() bool { return h.generation != 0 }

// String implements fmt.Stringer.
func (h Handle) String() string {
	if !h.IsValid() {
		return "#invalid"
	}
	return fmt.Sprintf("#%d@%d", h.index, h.generation)
}

// slot of the instructions arena of a computation.
type slot struct {
	instruction *Instruction
	generation  uint32
}
