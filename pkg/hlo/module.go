// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gomlx/hlopasses/pkg/core/distributed"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
)

// Precision requested for floating point operations of a module.
type Precision int

const (
	PrecisionDefault Precision = iota
	PrecisionHigh
	PrecisionHighest
)

// String implements fmt.Stringer.
func (p Precision) String() string {
	switch p {
	case PrecisionDefault:
		return "DEFAULT"
	case PrecisionHigh:
		return "HIGH"
	case PrecisionHighest:
		return "HIGHEST"
	}
	return fmt.Sprintf("Precision(%d)", int(p))
}

// Config holds the module level configuration.
type Config struct {
	// ReplicaCount and ComputationCount describe how the module is replicated and partitioned.
	// Zero means 1.
	ReplicaCount, ComputationCount int

	Precision Precision

	// DeviceAssignment is optional. If set it must have ReplicaCount x ComputationCount entries.
	DeviceAssignment *distributed.DeviceAssignment
}

// NumReplicas returns ReplicaCount, or 1 if not set.
func (cfg Config) NumReplicas() int { return max(cfg.ReplicaCount, 1) }

// NumComputations returns ComputationCount, or 1 if not set.
func (cfg Config) NumComputations() int { return max(cfg.ComputationCount, 1) }

// Clone returns a copy of the configuration that doesn't share the device assignment.
func (cfg Config) Clone() Config {
	if cfg.DeviceAssignment != nil {
		cfg.DeviceAssignment = cfg.DeviceAssignment.Clone()
	}
	return cfg
}

var moduleIDCounter atomic.Int64

// Module is a compilation unit: a set of computations, one of which is the entry computation, and the
// module configuration.
//
// A Module is not safe for concurrent use: passes are run by a single writer.
type Module struct {
	name string
	id   int64

	config       Config
	computations []*Computation
	entry        *Computation
	schedule     *Schedule

	// nextID is used for both instructions and computations ids.
	nextID           int64
	instructionNames *nameUniquer
	computationNames *nameUniquer
}

// NewModule creates an empty module. Create its computations with NewComputation and select the entry one
// with SetEntry.
func NewModule(name string) *Module {
	return &Module{
		name:             name,
		id:               moduleIDCounter.Add(1),
		instructionNames: newNameUniquer(),
		computationNames: newNameUniquer(),
	}
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// ID is a process-unique id of the module.
func (m *Module) ID() int64 { return m.id }

// Config returns the module configuration.
func (m *Module) Config() Config { return m.config }

// SetConfig sets the module configuration.
func (m *Module) SetConfig(cfg Config) error {
	if cfg.ReplicaCount < 0 || cfg.ComputationCount < 0 {
		return status.InvalidArgumentf("module %q: negative replica count (%d) or computation count (%d)",
			m.name, cfg.ReplicaCount, cfg.ComputationCount)
	}
	if da := cfg.DeviceAssignment; da != nil {
		if da.ReplicaCount() != cfg.NumReplicas() || da.ComputationCount() != cfg.NumComputations() {
			return status.InvalidArgumentf("module %q: device assignment is %dx%d, but config asks for %d replicas x %d computations",
				m.name, da.ReplicaCount(), da.ComputationCount(), cfg.NumReplicas(), cfg.NumComputations())
		}
	}
	m.config = cfg
	return nil
}

func (m *Module) newID() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// NewComputation creates an empty computation in the module. The name is made unique if it is already
// taken.
func (m *Module) NewComputation(name string) *Computation {
	if name == "" {
		name = "computation"
	}
	c := &Computation{
		module: m,
		id:     m.newID(),
		name:   m.computationNames.unique(name),
	}
	m.computations = append(m.computations, c)
	return c
}

// Entry returns the entry computation, or nil if not set.
func (m *Module) Entry() *Computation { return m.entry }

// SetEntry sets the entry computation.
func (m *Module) SetEntry(c *Computation) error {
	if c == nil || c.module != m {
		return status.InvalidArgumentf("entry computation must belong to module %q", m.name)
	}
	m.entry = c
	return nil
}

// Computations returns the computations of the module in creation order.
func (m *Module) Computations() []*Computation { return slices.Clone(m.computations) }

// NumComputations returns the number of computations in the module.
func (m *Module) NumComputations() int { return len(m.computations) }

// Computation returns the computation with the given name.
func (m *Module) Computation(name string) (*Computation, error) {
	for _, c := range m.computations {
		if c.name == name {
			return c, nil
		}
	}
	return nil, status.NotFoundf("module %q has no computation named %q", m.name, name)
}

// RemoveComputation removes a computation that is no longer called. The entry computation cannot be removed.
func (m *Module) RemoveComputation(c *Computation) error {
	if c == nil || c.module != m {
		return status.InvalidArgumentf("computation doesn't belong to module %q", m.name)
	}
	if c == m.entry {
		return status.InvalidArgumentf("cannot remove entry computation %q of module %q", c.name, m.name)
	}
	if callers := m.Callers(c); len(callers) > 0 {
		return status.InvalidArgumentf("cannot remove computation %q: still called by %q", c.name, callers[0].name)
	}
	m.dropComputation(c)
	return nil
}

// dropComputation removes c from the module without checking for callers.
func (m *Module) dropComputation(c *Computation) {
	m.computations = slices.DeleteFunc(m.computations, func(x *Computation) bool { return x == c })
	m.computationNames.release(c.name)
	if m.schedule != nil {
		delete(m.schedule.sequences, c.id)
	}
	if m.entry == c {
		m.entry = nil
	}
	c.module = nil
}

// Schedule returns the module schedule, or nil if it has none.
func (m *Module) Schedule() *Schedule { return m.schedule }

// SetSchedule sets (or clears, if nil) the module schedule. It must have been created for this module.
func (m *Module) SetSchedule(s *Schedule) error {
	if s != nil && s.module != m {
		return status.InvalidArgumentf("schedule was created for another module")
	}
	m.schedule = s
	return nil
}

// Clone returns a deep copy of the module: computations, instructions (with their names, ids and handles),
// configuration and schedule. Literals are immutable and are shared.
//
// The clone gets a new module id.
func (m *Module) Clone() *Module {
	clone := &Module{
		name:             m.name,
		id:               moduleIDCounter.Add(1),
		config:           m.config.Clone(),
		nextID:           m.nextID,
		instructionNames: m.instructionNames.clone(),
		computationNames: m.computationNames.clone(),
	}
	mapping := make(map[*Computation]*Computation, len(m.computations))
	for _, c := range m.computations {
		nc := &Computation{
			module:     clone,
			id:         c.id,
			name:       c.name,
			slots:      make([]slot, len(c.slots)),
			free:       slices.Clone(c.free),
			parameters: slices.Clone(c.parameters),
			root:       c.root,
		}
		mapping[c] = nc
		clone.computations = append(clone.computations, nc)
	}
	for _, c := range m.computations {
		nc := mapping[c]
		for ii, s := range c.slots {
			nc.slots[ii].generation = s.generation
			if s.instruction == nil {
				continue
			}
			inst := *s.instruction
			inst.parent = nc
			inst.shape = inst.shape.Clone()
			inst.operands = slices.Clone(inst.operands)
			inst.users = slices.Clone(inst.users)
			inst.controlPredecessors = slices.Clone(inst.controlPredecessors)
			inst.controlSuccessors = slices.Clone(inst.controlSuccessors)
			if inst.calledComputations != nil {
				called := make([]*Computation, len(inst.calledComputations))
				for jj, callee := range inst.calledComputations {
					called[jj] = mapping[callee]
				}
				inst.calledComputations = called
			}
			nc.slots[ii].instruction = &inst
		}
	}
	clone.entry = mapping[m.entry]
	if m.schedule != nil {
		clone.schedule = m.schedule.cloneFor(clone)
	}
	return clone
}

// Restore makes m equal to snapshot, which must have been created with m.Clone() and not be used afterwards.
// Pointers to computations and instructions of m taken before the Restore are no longer valid.
func (m *Module) Restore(snapshot *Module) {
	id := m.id
	*m = *snapshot
	m.id = id
	for _, c := range m.computations {
		c.module = m
	}
	if m.schedule != nil {
		m.schedule.module = m
	}
}

// nameUniquer generates names unique within a module.
type nameUniquer struct {
	used     sets.Set[string]
	counters map[string]int
}

func newNameUniquer() *nameUniquer {
	return &nameUniquer{used: sets.Make[string](), counters: make(map[string]int)}
}

// splitSuffix splits "name.123" into ("name", 123). Names without a numeric suffix return -1.
func splitSuffix(name string) (string, int) {
	pos := strings.LastIndexByte(name, '.')
	if pos <= 0 || pos == len(name)-1 {
		return name, -1
	}
	n, err := strconv.Atoi(name[pos+1:])
	if err != nil || n < 0 {
		return name, -1
	}
	return name[:pos], n
}

// unique returns hint if it is not yet used, otherwise hint (stripped of any numeric suffix) followed by
// ".<counter>".
func (u *nameUniquer) unique(hint string) string {
	if !u.used.Has(hint) {
		u.reserve(hint)
		return hint
	}
	base, _ := splitSuffix(hint)
	for {
		u.counters[base]++
		candidate := fmt.Sprintf("%s.%d", base, u.counters[base])
		if !u.used.Has(candidate) {
			u.reserve(candidate)
			return candidate
		}
	}
}

// reserve marks the name as used. It returns false if it was already taken.
func (u *nameUniquer) reserve(name string) bool {
	if u.used.Has(name) {
		return false
	}
	u.used.Insert(name)
	if base, n := splitSuffix(name); n >= 0 && u.counters[base] < n {
		u.counters[base] = n
	}
	return true
}

// release frees the name. If it was the last one generated for its base, the counter is rolled back.
func (u *nameUniquer) release(name string) {
	u.used.Remove(name)
	if base, n := splitSuffix(name); n > 0 && u.counters[base] == n {
		u.counters[base] = n - 1
	}
}

func (u *nameUniquer) clone() *nameUniquer {
	clone := newNameUniquer()
	for name := range u.used {
		clone.used.Insert(name)
	}
	for base, n := range u.counters {
		clone.counters[base] = n
	}
	return clone
}
