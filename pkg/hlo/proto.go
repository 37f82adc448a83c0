// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"slices"

	"github.com/gomlx/hlopasses/pkg/core/distributed"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
	"github.com/gomlx/hlopasses/pkg/support/status"
	hlopb "github.com/gomlx/gopjrt/protos/hlo"
	"github.com/gomlx/gopjrt/protos/xla_data"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

// ToProto exports the module to an XLA HloModuleProto.
//
// Computations are listed callees first, and instructions in post order, so the output is deterministic for
// a given module state. The module configuration is exported only through its device assignment.
func (m *Module) ToProto() (*hlopb.HloModuleProto, error) {
	if m.entry == nil {
		return nil, status.InvalidArgumentf("module %q has no entry computation", m.name)
	}
	order, err := m.CallGraphPostOrder()
	if err != nil {
		return nil, err
	}
	p := &hlopb.HloModuleProto{
		Name:                 m.name,
		EntryComputationName: m.entry.name,
		EntryComputationId:   m.entry.id,
		Computations:         make([]*hlopb.HloComputationProto, 0, len(order)),
	}
	for _, c := range order {
		cp, err := c.toProto()
		if err != nil {
			return nil, errors.WithMessagef(err, "exporting module %q", m.name)
		}
		p.Computations = append(p.Computations, cp)
		if c == m.entry {
			p.HostProgramShape = cp.ProgramShape
		}
	}
	if m.schedule != nil {
		p.Schedule = &hlopb.HloScheduleProto{
			Sequences: make(map[int64]*hlopb.HloScheduleProto_InstructionSequence, len(m.computations)),
		}
		for _, c := range m.computations {
			ids := make([]int64, 0, c.NumInstructions())
			for _, inst := range m.schedule.Sequence(c) {
				ids = append(ids, inst.id)
			}
			p.Schedule.Sequences[c.id] = &hlopb.HloScheduleProto_InstructionSequence{InstructionIds: ids}
		}
	}
	if da := m.config.DeviceAssignment; da != nil {
		p.DeviceAssignment = da.ToProto()
	}
	return p, nil
}

func (c *Computation) toProto() (*hlopb.HloComputationProto, error) {
	root := c.Root()
	if root == nil {
		return nil, status.InvalidArgumentf("computation %q has no root", c.name)
	}
	order, err := c.postOrder()
	if err != nil {
		return nil, err
	}
	p := &hlopb.HloComputationProto{
		Name:         c.name,
		Id:           c.id,
		RootId:       root.id,
		Instructions: make([]*hlopb.HloInstructionProto, 0, len(order)),
		ProgramShape: &xla_data.ProgramShapeProto{Result: root.shape.ToProto()},
	}
	for _, param := range c.Parameters() {
		p.ProgramShape.Parameters = append(p.ProgramShape.Parameters, param.shape.ToProto())
		p.ProgramShape.ParameterNames = append(p.ProgramShape.ParameterNames, param.name)
	}
	for _, inst := range order {
		ip, err := inst.toProto()
		if err != nil {
			return nil, errors.WithMessagef(err, "computation %q", c.name)
		}
		p.Instructions = append(p.Instructions, ip)
	}
	return p, nil
}

func (inst *Instruction) toProto() (*hlopb.HloInstructionProto, error) {
	p := &hlopb.HloInstructionProto{
		Name:   inst.name,
		Opcode: inst.opcode.String(),
		Shape:  inst.shape.ToProto(),
		Id:     inst.id,
	}
	for _, operand := range inst.Operands() {
		p.OperandIds = append(p.OperandIds, operand.id)
	}
	for _, pred := range inst.ControlPredecessors() {
		p.ControlPredecessorIds = append(p.ControlPredecessorIds, pred.id)
	}
	for _, callee := range inst.calledComputations {
		p.CalledComputationIds = append(p.CalledComputationIds, callee.id)
	}
	switch inst.opcode {
	case opcode.Parameter:
		p.ParameterNumber = int64(inst.parameterNumber)
	case opcode.Constant:
		lp, err := inst.literal.ToProto()
		if err != nil {
			return nil, errors.WithMessagef(err, "constant %q", inst.name)
		}
		p.Literal = lp
	case opcode.GetTupleElement:
		p.TupleIndex = int64(inst.tupleIndex)
	case opcode.Compare:
		p.ComparisonDirection = inst.comparison.String()
	case opcode.Iota, opcode.Sort:
		p.Dimensions = []int64{int64(inst.dimension)}
		p.IsStable = inst.isStable
	}
	return p, nil
}

// Marshal returns the deterministic binary encoding of the module's HloModuleProto.
func (m *Module) Marshal() ([]byte, error) {
	p, err := m.ToProto()
	if err != nil {
		return nil, err
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal module %q", m.name)
	}
	return data, nil
}

// MarshalText returns the module's HloModuleProto in protobuf text format.
func (m *Module) MarshalText() ([]byte, error) {
	p, err := m.ToProto()
	if err != nil {
		return nil, err
	}
	data, err := prototext.MarshalOptions{Multiline: true}.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal module %q to text", m.name)
	}
	return data, nil
}

// Unmarshal parses a module from the binary encoding of an HloModuleProto.
func Unmarshal(data []byte) (*Module, error) {
	p := &hlopb.HloModuleProto{}
	if err := proto.Unmarshal(data, p); err != nil {
		return nil, status.InvalidArgumentf("failed to parse HloModuleProto: %v", err)
	}
	return FromProto(p)
}

// UnmarshalText parses a module from an HloModuleProto in protobuf text format.
func UnmarshalText(data []byte) (*Module, error) {
	p := &hlopb.HloModuleProto{}
	if err := prototext.Unmarshal(data, p); err != nil {
		return nil, status.InvalidArgumentf("failed to parse HloModuleProto text: %v", err)
	}
	return FromProto(p)
}

// protoImporter holds the state of a FromProto conversion.
type protoImporter struct {
	m           *Module
	byID        map[int64]*Computation
	protos      map[int64]*hlopb.HloComputationProto
	done        map[int64]bool
	maxID       int64

	// instructions by computation id and instruction id.
	instructions map[int64]map[int64]*Instruction
}

// FromProto imports a module from an XLA HloModuleProto, preserving names and ids.
//
// Only the opcodes and attributes this package models are supported: anything else is an Unimplemented error.
// Malformed protos (dangling ids, shape mismatches) are InvalidArgument errors.
func FromProto(p *hlopb.HloModuleProto) (*Module, error) {
	if p == nil {
		return nil, status.InvalidArgumentf("nil HloModuleProto")
	}
	imp := &protoImporter{
		m:            NewModule(p.GetName()),
		byID:         make(map[int64]*Computation, len(p.GetComputations())),
		protos:       make(map[int64]*hlopb.HloComputationProto, len(p.GetComputations())),
		done:         make(map[int64]bool, len(p.GetComputations())),
		instructions: make(map[int64]map[int64]*Instruction, len(p.GetComputations())),
	}
	m := imp.m
	for _, cp := range p.GetComputations() {
		if _, found := imp.byID[cp.GetId()]; found {
			return nil, status.InvalidArgumentf("HloModuleProto %q: computation id %d is repeated", p.GetName(), cp.GetId())
		}
		if !m.computationNames.reserve(cp.GetName()) {
			return nil, status.InvalidArgumentf("HloModuleProto %q: computation name %q is repeated", p.GetName(), cp.GetName())
		}
		c := &Computation{module: m, id: cp.GetId(), name: cp.GetName()}
		m.computations = append(m.computations, c)
		imp.byID[c.id] = c
		imp.protos[c.id] = cp
		imp.maxID = max(imp.maxID, c.id)
	}
	for _, c := range m.computations {
		if err := imp.importComputation(c, nil); err != nil {
			return nil, errors.WithMessagef(err, "importing HloModuleProto %q", p.GetName())
		}
	}
	entry, found := imp.byID[p.GetEntryComputationId()]
	if !found || (p.GetEntryComputationName() != "" && entry.name != p.GetEntryComputationName()) {
		var err error
		if entry, err = m.Computation(p.GetEntryComputationName()); err != nil {
			return nil, status.InvalidArgumentf("HloModuleProto %q: entry computation (id=%d, name=%q) not found",
				p.GetName(), p.GetEntryComputationId(), p.GetEntryComputationName())
		}
	}
	m.entry = entry
	m.nextID = imp.maxID + 1

	if dap := p.GetDeviceAssignment(); dap != nil {
		da, err := distributed.FromProto(dap)
		if err != nil {
			return nil, errors.WithMessagef(err, "HloModuleProto %q", p.GetName())
		}
		m.config = Config{ReplicaCount: da.ReplicaCount(), ComputationCount: da.ComputationCount(), DeviceAssignment: da}
	}
	if sp := p.GetSchedule(); sp != nil {
		if err := imp.importSchedule(sp); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// importComputation imports the computation after the computations it calls. visiting tracks the
// computations being imported, to detect call cycles.
func (imp *protoImporter) importComputation(c *Computation, visiting []int64) error {
	if imp.done[c.id] {
		return nil
	}
	if slices.Contains(visiting, c.id) {
		return status.InvalidArgumentf("call graph has a cycle through computation %q", c.name)
	}
	visiting = append(visiting, c.id)
	cp := imp.protos[c.id]
	for _, ip := range cp.GetInstructions() {
		for _, calleeID := range ip.GetCalledComputationIds() {
			callee, found := imp.byID[calleeID]
			if !found {
				return status.InvalidArgumentf("instruction %q calls unknown computation id %d", ip.GetName(), calleeID)
			}
			if err := imp.importComputation(callee, visiting); err != nil {
				return err
			}
		}
	}

	localProtos := make(map[int64]*hlopb.HloInstructionProto, len(cp.GetInstructions()))
	for _, ip := range cp.GetInstructions() {
		if _, found := localProtos[ip.GetId()]; found {
			return status.InvalidArgumentf("computation %q: instruction id %d is repeated", c.name, ip.GetId())
		}
		localProtos[ip.GetId()] = ip
	}
	instByID := make(map[int64]*Instruction, len(localProtos))
	imp.instructions[c.id] = instByID
	var importInstruction func(ip *hlopb.HloInstructionProto, depth int) error
	importInstruction = func(ip *hlopb.HloInstructionProto, depth int) error {
		if _, found := instByID[ip.GetId()]; found {
			return nil
		}
		if depth > len(localProtos) {
			return status.InvalidArgumentf("computation %q has a cycle through instruction %q", c.name, ip.GetName())
		}
		operands := make([]*Instruction, len(ip.GetOperandIds()))
		for ii, operandID := range ip.GetOperandIds() {
			operandProto, found := localProtos[operandID]
			if !found {
				return status.InvalidArgumentf("instruction %q of computation %q uses unknown instruction id %d",
					ip.GetName(), c.name, operandID)
			}
			if err := importInstruction(operandProto, depth+1); err != nil {
				return err
			}
			operands[ii] = instByID[operandID]
		}
		inst, err := imp.newInstruction(c, ip, operands)
		if err != nil {
			return errors.WithMessagef(err, "computation %q", c.name)
		}
		instByID[ip.GetId()] = inst
		return nil
	}
	for _, ip := range cp.GetInstructions() {
		if err := importInstruction(ip, 0); err != nil {
			return err
		}
	}
	for _, ip := range cp.GetInstructions() {
		succ := instByID[ip.GetId()]
		for _, predID := range ip.GetControlPredecessorIds() {
			if _, found := localProtos[predID]; !found {
				return status.InvalidArgumentf("instruction %q of computation %q has unknown control predecessor id %d",
					ip.GetName(), c.name, predID)
			}
			if err := c.AddControlDependency(instByID[predID], succ); err != nil {
				return err
			}
		}
	}
	root, found := instByID[cp.GetRootId()]
	if !found || root.parent != c {
		return status.InvalidArgumentf("computation %q: root id %d not found", c.name, cp.GetRootId())
	}
	c.root = root.handle
	for number, h := range c.parameters {
		if !h.IsValid() {
			return status.InvalidArgumentf("computation %q: parameter %d is missing", c.name, number)
		}
	}
	imp.done[c.id] = true
	return nil
}

// newInstruction creates the instruction described by ip, with the given operands, keeping its name and id.
func (imp *protoImporter) newInstruction(c *Computation, ip *hlopb.HloInstructionProto, operands []*Instruction) (*Instruction, error) {
	op, err := opcode.FromString(ip.GetOpcode())
	if err != nil {
		return nil, status.Unimplementedf("instruction %q: opcode %q not supported", ip.GetName(), ip.GetOpcode())
	}
	shape, err := shapes.FromProto(ip.GetShape())
	if err != nil {
		return nil, status.InvalidArgumentf("instruction %q: %v", ip.GetName(), err)
	}
	tmpl := &Instruction{
		name:            ip.GetName(),
		opcode:          op,
		shape:           shape,
		operands:        make([]Handle, len(operands)),
		tupleIndex:      int(ip.GetTupleIndex()),
		parameterNumber: int(ip.GetParameterNumber()),
		comparison:      opcode.CompareInvalid,
		isStable:        ip.GetIsStable(),
	}
	for _, calleeID := range ip.GetCalledComputationIds() {
		tmpl.calledComputations = append(tmpl.calledComputations, imp.byID[calleeID])
	}
	switch op {
	case opcode.Constant:
		if tmpl.literal, err = literal.FromProto(ip.GetLiteral()); err != nil {
			return nil, status.InvalidArgumentf("constant %q: %v", ip.GetName(), err)
		}
	case opcode.Compare:
		if tmpl.comparison, err = opcode.ComparisonFromString(ip.GetComparisonDirection()); err != nil {
			return nil, status.InvalidArgumentf("compare %q: %v", ip.GetName(), err)
		}
	case opcode.Iota, opcode.Sort:
		if len(ip.GetDimensions()) != 1 {
			return nil, status.InvalidArgumentf("%s %q requires exactly one dimension, got %v", op, ip.GetName(), ip.GetDimensions())
		}
		tmpl.dimension = int(ip.GetDimensions()[0])
	}
	expectedCalls := map[opcode.Opcode]int{opcode.While: 2, opcode.Call: 1, opcode.Sort: 1}
	if n, found := expectedCalls[op]; found && len(tmpl.calledComputations) != n {
		return nil, status.InvalidArgumentf("%s %q requires %d called computations, got %d",
			op, ip.GetName(), n, len(tmpl.calledComputations))
	}
	inst, err := c.CloneWithOperands(tmpl, operands)
	if err != nil {
		return nil, status.AsInvalidArgument(err, "importing instruction %q", ip.GetName())
	}
	if !inst.shape.Equal(shape) {
		return nil, status.InvalidArgumentf("instruction %q has shape %s, but its inferred shape is %s",
			ip.GetName(), shape, inst.shape)
	}
	if inst.name != ip.GetName() {
		return nil, status.InvalidArgumentf("instruction name %q is repeated", ip.GetName())
	}
	inst.id = ip.GetId()
	imp.maxID = max(imp.maxID, inst.id)
	return inst, nil
}

func (imp *protoImporter) importSchedule(sp *hlopb.HloScheduleProto) error {
	m := imp.m
	s := &Schedule{module: m, sequences: make(map[int64][]Handle, len(sp.GetSequences()))}
	for computationID, seq := range sp.GetSequences() {
		c, found := imp.byID[computationID]
		if !found {
			return status.InvalidArgumentf("schedule refers to unknown computation id %d", computationID)
		}
		handles := make([]Handle, 0, len(seq.GetInstructionIds()))
		for _, id := range seq.GetInstructionIds() {
			inst, found := imp.instructions[computationID][id]
			if !found || inst.parent != c {
				return status.InvalidArgumentf("schedule of computation %q refers to unknown instruction id %d", c.name, id)
			}
			handles = append(handles, inst.handle)
		}
		s.sequences[computationID] = handles
	}
	m.schedule = s
	return nil
}
