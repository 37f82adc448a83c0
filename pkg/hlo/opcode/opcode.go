// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opcode defines the closed set of HLO operations understood by the optimization passes, and the
// comparison directions used by the Compare operation.
//
// The String() of an Opcode is its XLA textual name (e.g. "get-tuple-element"), which is also the
// name used in HloInstructionProto.opcode.
package opcode

import (
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/pkg/errors"
)

// Opcode enumerates the HLO operations.
type Opcode int

const (
	Invalid Opcode = iota
	Parameter
	Constant
	Tuple
	GetTupleElement
	While
	Conditional
	Call
	Sort
	Convert
	Iota

	Add
	Subtract
	Multiply
	Divide
	Maximum
	Minimum
	And
	Or

	Negate
	Abs
	Not

	Compare
	Select

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

var opcodeNames = [...]string{
	Invalid:         "invalid",
	Parameter:       "parameter",
	Constant:        "constant",
	Tuple:           "tuple",
	GetTupleElement: "get-tuple-element",
	While:           "while",
	Conditional:     "conditional",
	Call:            "call",
	Sort:            "sort",
	Convert:         "convert",
	Iota:            "iota",
	Add:             "add",
	Subtract:        "subtract",
	Multiply:        "multiply",
	Divide:          "divide",
	Maximum:         "maximum",
	Minimum:         "minimum",
	And:             "and",
	Or:              "or",
	Negate:          "negate",
	Abs:             "abs",
	Not:             "not",
	Compare:         "compare",
	Select:          "select",
}

var nameToOpcode = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		m[name] = Opcode(op)
	}
	return m
}()

// String returns the XLA textual name of the opcode.
func (op Opcode) String() string {
	if op < 0 || int(op) >= len(opcodeNames) {
		return "invalid"
	}
	return opcodeNames[op]
}

// IsValid returns whether op is one of the defined opcodes (and not Invalid).
func (op Opcode) IsValid() bool {
	return op > Invalid && op < Last
}

// FromString returns the Opcode for the XLA textual name, or an error if the name is not known.
func FromString(name string) (Opcode, error) {
	op, found := nameToOpcode[name]
	if !found || op == Invalid {
		return Invalid, errors.Errorf("unknown or unsupported HLO opcode %q", name)
	}
	return op, nil
}

var (
	// ElementwiseUnary are the unary operations applied to each element, with the output shape equal to the
	// operand shape.
	ElementwiseUnary = sets.MakeWith(Negate, Abs, Not)

	// ElementwiseBinary are the binary operations applied to each pair of elements.
	ElementwiseBinary = sets.MakeWith(Add, Subtract, Multiply, Divide, Maximum, Minimum, And, Or)

	// Logical operations only accept boolean or integer operands.
	Logical = sets.MakeWith(And, Or, Not)

	// ControlFlow operations call other computations.
	ControlFlow = sets.MakeWith(While, Conditional, Call)

	// CallsComputations lists every opcode that holds references to other computations.
	CallsComputations = sets.MakeWith(While, Conditional, Call, Sort)
)

// IsElementwise returns whether op is an elementwise operation (unary, binary, Compare, Select or Convert).
func (op Opcode) IsElementwise() bool {
	return ElementwiseUnary.Has(op) || ElementwiseBinary.Has(op) || op == Compare || op == Select || op == Convert
}
