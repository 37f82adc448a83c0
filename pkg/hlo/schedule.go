// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"cmp"
	"slices"

	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
)

// Schedule is a total order of the instructions of each computation of a module, used for emission.
//
// A valid schedule lists every live instruction of every computation exactly once, after its operands and
// control predecessors.
type Schedule struct {
	module    *Module
	sequences map[int64][]Handle
}

// NewSchedule creates a schedule for the module, using the post order of each computation.
func NewSchedule(m *Module) (*Schedule, error) {
	s := &Schedule{module: m, sequences: make(map[int64][]Handle, len(m.computations))}
	for _, c := range m.computations {
		order, err := c.postOrder()
		if err != nil {
			return nil, err
		}
		s.sequences[c.id] = handlesOf(order)
	}
	return s, nil
}

func handlesOf(insts []*Instruction) []Handle {
	handles := make([]Handle, len(insts))
	for ii, inst := range insts {
		handles[ii] = inst.handle
	}
	return handles
}

// Sequence returns the scheduled instructions of c. Stale entries (removed instructions) are skipped.
func (s *Schedule) Sequence(c *Computation) []*Instruction {
	handles := s.sequences[c.id]
	insts := make([]*Instruction, 0, len(handles))
	for _, h := range handles {
		if inst, err := c.Lookup(h); err == nil {
			insts = append(insts, inst)
		}
	}
	return insts
}

// SetSequence sets the order of the instructions of c. It is checked by Verify, not here.
func (s *Schedule) SetSequence(c *Computation, insts []*Instruction) error {
	if c.module != s.module {
		return status.InvalidArgumentf("computation %q doesn't belong to the scheduled module", c.name)
	}
	for _, inst := range insts {
		if err := c.checkOwns(inst); err != nil {
			return err
		}
	}
	s.sequences[c.id] = handlesOf(insts)
	return nil
}

// Update repairs the schedule after the module was changed: removed instructions are dropped, new
// instructions and computations are added, and sequences are reordered where dependencies require it.
// The relative order of the instructions that were already scheduled is preserved whenever dependencies allow.
func (s *Schedule) Update() error {
	sequences := make(map[int64][]Handle, len(s.module.computations))
	for _, c := range s.module.computations {
		seq, err := s.updateComputation(c)
		if err != nil {
			return err
		}
		sequences[c.id] = seq
	}
	s.sequences = sequences
	return nil
}

// updateComputation does a topological sort of c, preferring the previous schedule order. New instructions
// are ranked right after their latest dependency.
func (s *Schedule) updateComputation(c *Computation) ([]Handle, error) {
	order, err := c.postOrder()
	if err != nil {
		return nil, err
	}
	rank := make(map[Handle]float64, len(order))
	for pos, h := range s.sequences[c.id] {
		if _, err := c.Lookup(h); err == nil {
			rank[h] = float64(pos)
		}
	}
	for _, inst := range order {
		if _, found := rank[inst.handle]; found {
			continue
		}
		r := -0.5
		for _, dep := range inst.dependencies() {
			r = max(r, rank[dep]+0.5)
		}
		rank[inst.handle] = r
	}

	pending := make(map[Handle]int, len(order))
	var ready []*Instruction
	for _, inst := range order {
		pending[inst.handle] = len(inst.dependencies())
		if pending[inst.handle] == 0 {
			ready = append(ready, inst)
		}
	}
	less := func(a, b *Instruction) int {
		if d := cmp.Compare(rank[a.handle], rank[b.handle]); d != 0 {
			return d
		}
		return cmp.Compare(a.id, b.id)
	}
	sequence := make([]Handle, 0, len(order))
	for len(ready) > 0 {
		next := slices.MinFunc(ready, less)
		ready = slices.DeleteFunc(ready, func(inst *Instruction) bool { return inst == next })
		sequence = append(sequence, next.handle)
		for _, dependent := range dependentsOf(c, next) {
			pending[dependent.handle]--
			if pending[dependent.handle] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return sequence, nil
}

// dependentsOf returns the users and control successors of inst, without repetition.
func dependentsOf(c *Computation, inst *Instruction) []*Instruction {
	seen := sets.Make[Handle]()
	var dependents []*Instruction
	for _, h := range slices.Concat(inst.users, inst.controlSuccessors) {
		if !seen.Has(h) {
			seen.Insert(h)
			dependents = append(dependents, c.get(h))
		}
	}
	return dependents
}

// Verify checks that the schedule is valid for the current state of the module.
func (s *Schedule) Verify() error {
	for _, c := range s.module.computations {
		handles, found := s.sequences[c.id]
		if !found {
			return status.Internalf("schedule has no sequence for computation %q", c.name)
		}
		if len(handles) != c.NumInstructions() {
			return status.Internalf("schedule of computation %q has %d instructions, computation has %d",
				c.name, len(handles), c.NumInstructions())
		}
		scheduled := sets.Make[Handle](len(handles))
		for _, h := range handles {
			inst, err := c.Lookup(h)
			if err != nil {
				return status.AsInternal(err, "schedule of computation %q", c.name)
			}
			if scheduled.Has(h) {
				return status.Internalf("schedule of computation %q lists %q twice", c.name, inst.name)
			}
			for _, dep := range inst.dependencies() {
				if !scheduled.Has(dep) {
					return status.Internalf("schedule of computation %q lists %q before its dependency %s",
						c.name, inst.name, dep)
				}
			}
			scheduled.Insert(h)
		}
	}
	if len(s.sequences) != len(s.module.computations) {
		return status.Internalf("schedule has %d sequences, module has %d computations",
			len(s.sequences), len(s.module.computations))
	}
	return nil
}

func (s *Schedule) cloneFor(m *Module) *Schedule {
	clone := &Schedule{module: m, sequences: make(map[int64][]Handle, len(s.sequences))}
	for id, handles := range s.sequences {
		clone.sequences[id] = slices.Clone(handles)
	}
	return clone
}
