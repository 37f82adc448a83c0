// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/hlopasses/pkg/core/literal"
	"github.com/gomlx/hlopasses/pkg/core/shapes"
	"github.com/gomlx/hlopasses/pkg/hlo/opcode"
)

// Instruction is a node of the computation graph: an operation with operands (other instructions of the
// same computation) and a shape.
//
// Instructions are created with the builder methods of Computation (Computation.Tuple, Computation.While, ...)
// and are owned by their computation. Operands and users are kept as handles into the computation's arena.
type Instruction struct {
	parent *Computation
	handle Handle
	id     int64
	name   string
	opcode opcode.Opcode
	shape  shapes.Shape

	operands            []Handle
	users               []Handle
	controlPredecessors []Handle
	controlSuccessors   []Handle

	// calledComputations: While: [body, condition]; Conditional: branches; Call: [callee]; Sort: [comparator].
	calledComputations []*Computation

	literal         *literal.Literal
	tupleIndex      int
	parameterNumber int
	comparison      opcode.ComparisonDirection

	// dimension is the sort dimension (Sort) or the iota dimension (Iota).
	dimension int
	isStable  bool
}

// Parent returns the computation that owns the instruction.
func (inst *Instruction) Parent() *Computation { return inst.parent }

// Handle returns the handle of the instruction in its computation's arena.
func (inst *Instruction) Handle() Handle { return inst.handle }

// ID is unique within the module. It is the id used when exporting to protos.
func (inst *Instruction) ID() int64 { return inst.id }

// Name of the instruction, unique within the module.
func (inst *Instruction) Name() string { return inst.name }

// Opcode of the instruction.
func (inst *Instruction) Opcode() opcode.Opcode { return inst.opcode }

// Shape of the value produced by the instruction.
func (inst *Instruction) Shape() shapes.Shape { return inst.shape }

// NumOperands returns the number of operands.
func (inst *Instruction) NumOperands() int { return len(inst.operands) }

// Operand returns the ii-th operand.
func (inst *Instruction) Operand(ii int) *Instruction {
	return inst.parent.get(inst.operands[ii])
}

// Operands returns the operands, in order.
func (inst *Instruction) Operands() []*Instruction {
	return inst.parent.getAll(inst.operands)
}

// OperandHandles returns a copy of the handles of the operands.
func (inst *Instruction) OperandHandles() []Handle { return slices.Clone(inst.operands) }

// Users returns the distinct instructions that use this instruction as an operand, in the order they
// started using it.
func (inst *Instruction) Users() []*Instruction {
	return inst.parent.getAll(inst.users)
}

// UserCount returns the number of distinct users.
func (inst *Instruction) UserCount() int { return len(inst.users) }

// ControlPredecessors returns the instructions that must be scheduled before this one.
func (inst *Instruction) ControlPredecessors() []*Instruction {
	return inst.parent.getAll(inst.controlPredecessors)
}

// ControlSuccessors returns the instructions that must be scheduled after this one.
func (inst *Instruction) ControlSuccessors() []*Instruction {
	return inst.parent.getAll(inst.controlSuccessors)
}

// HasControlDependencies returns whether the instruction has any control predecessor or successor.
func (inst *Instruction) HasControlDependencies() bool {
	return len(inst.controlPredecessors) > 0 || len(inst.controlSuccessors) > 0
}

// CalledComputations returns the computations called by the instruction.
func (inst *Instruction) CalledComputations() []*Computation {
	return slices.Clone(inst.calledComputations)
}

// WhileBody returns the body computation of a While.
func (inst *Instruction) WhileBody() *Computation {
	inst.assertOpcode(opcode.While)
	return inst.calledComputations[0]
}

// WhileCondition returns the condition computation of a While.
func (inst *Instruction) WhileCondition() *Computation {
	inst.assertOpcode(opcode.While)
	return inst.calledComputations[1]
}

// BranchComputations returns the branches of a Conditional.
func (inst *Instruction) BranchComputations() []*Computation {
	inst.assertOpcode(opcode.Conditional)
	return slices.Clone(inst.calledComputations)
}

// Comparator returns the comparator computation of a Sort.
func (inst *Instruction) Comparator() *Computation {
	inst.assertOpcode(opcode.Sort)
	return inst.calledComputations[0]
}

// Callee returns the computation called by a Call.
func (inst *Instruction) Callee() *Computation {
	inst.assertOpcode(opcode.Call)
	return inst.calledComputations[0]
}

// Literal returns the value of a Constant.
func (inst *Instruction) Literal() *literal.Literal {
	inst.assertOpcode(opcode.Constant)
	return inst.literal
}

// TupleIndex returns the index of a GetTupleElement.
func (inst *Instruction) TupleIndex() int {
	inst.assertOpcode(opcode.GetTupleElement)
	return inst.tupleIndex
}

// ParameterNumber returns the number of a Parameter.
func (inst *Instruction) ParameterNumber() int {
	inst.assertOpcode(opcode.Parameter)
	return inst.parameterNumber
}

// ComparisonDirection returns the direction of a Compare.
func (inst *Instruction) ComparisonDirection() opcode.ComparisonDirection {
	inst.assertOpcode(opcode.Compare)
	return inst.comparison
}

// SortDimension returns the dimension sorted by a Sort.
func (inst *Instruction) SortDimension() int {
	inst.assertOpcode(opcode.Sort)
	return inst.dimension
}

// IsStable returns whether a Sort must keep the relative order of equal elements.
func (inst *Instruction) IsStable() bool {
	inst.assertOpcode(opcode.Sort)
	return inst.isStable
}

// IotaDimension returns the dimension along which an Iota counts.
func (inst *Instruction) IotaDimension() int {
	inst.assertOpcode(opcode.Iota)
	return inst.dimension
}

// IsRoot returns whether the instruction is the root of its computation.
func (inst *Instruction) IsRoot() bool {
	return inst.parent != nil && inst.parent.root == inst.handle
}

// IsDead returns whether the instruction was removed from its computation.
func (inst *Instruction) IsDead() bool {
	if inst.parent == nil {
		return true
	}
	_, err := inst.parent.Lookup(inst.handle)
	return err != nil
}

// assertOpcode panics if the instruction doesn't have the given opcode: asking for an attribute of the
// wrong kind of instruction is a bug.
func (inst *Instruction) assertOpcode(op opcode.Opcode) {
	if inst.opcode != op {
		exceptions.Panicf("instruction %q is a %s, not a %s", inst.name, inst.opcode, op)
	}
}

// dependencies returns the handles of the operands and control predecessors, without repetition.
func (inst *Instruction) dependencies() []Handle {
	deps := make([]Handle, 0, len(inst.operands)+len(inst.controlPredecessors))
	for _, h := range inst.operands {
		if !slices.Contains(deps, h) {
			deps = append(deps, h)
		}
	}
	for _, h := range inst.controlPredecessors {
		if !slices.Contains(deps, h) {
			deps = append(deps, h)
		}
	}
	return deps
}

// attributesString returns the textual representation of the opcode specific attributes.
func (inst *Instruction) attributesString() string {
	var attrs []string
	switch inst.opcode {
	case opcode.GetTupleElement:
		attrs = append(attrs, fmt.Sprintf("index=%d", inst.tupleIndex))
	case opcode.Compare:
		attrs = append(attrs, fmt.Sprintf("direction=%s", inst.comparison))
	case opcode.Iota:
		attrs = append(attrs, fmt.Sprintf("iota_dimension=%d", inst.dimension))
	case opcode.Sort:
		attrs = append(attrs, fmt.Sprintf("dimensions={%d}", inst.dimension))
		if inst.isStable {
			attrs = append(attrs, "is_stable=true")
		}
		attrs = append(attrs, "to_apply=%"+inst.calledComputations[0].name)
	case opcode.While:
		attrs = append(attrs, "condition=%"+inst.calledComputations[1].name, "body=%"+inst.calledComputations[0].name)
	case opcode.Call:
		attrs = append(attrs, "to_apply=%"+inst.calledComputations[0].name)
	case opcode.Conditional:
		names := make([]string, len(inst.calledComputations))
		for ii, branch := range inst.calledComputations {
			names[ii] = "%" + branch.name
		}
		attrs = append(attrs, "branch_computations={"+strings.Join(names, ", ")+"}")
	}
	if len(inst.controlPredecessors) > 0 {
		names := make([]string, len(inst.controlPredecessors))
		for ii, pred := range inst.ControlPredecessors() {
			names[ii] = "%" + pred.name
		}
		attrs = append(attrs, "control-predecessors={"+strings.Join(names, ", ")+"}")
	}
	if len(attrs) == 0 {
		return ""
	}
	return ", " + strings.Join(attrs, ", ")
}

// String returns the instruction in HLO text format, e.g.: "%add.3 = f32[2] add(%x, %y)".
func (inst *Instruction) String() string {
	var sb strings.Builder
	if inst.IsRoot() {
		sb.WriteString("ROOT ")
	}
	fmt.Fprintf(&sb, "%%%s = %s %s(", inst.name, ShapeText(inst.shape), inst.opcode)
	switch inst.opcode {
	case opcode.Parameter:
		fmt.Fprintf(&sb, "%d", inst.parameterNumber)
	case opcode.Constant:
		sb.WriteString(inst.literal.String())
	default:
		for ii, operand := range inst.Operands() {
			if ii > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("%" + operand.name)
		}
	}
	sb.WriteString(")")
	sb.WriteString(inst.attributesString())
	return sb.String()
}
