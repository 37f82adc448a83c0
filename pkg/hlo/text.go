// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"fmt"
	"strings"

	"github.com/gomlx/hlopasses/pkg/core/shapes"
)

// ShapeText returns the shape in HLO text format, e.g.: "f32[2,3]", "pred[]", "(s32[], f32[<=8])".
func ShapeText(shape shapes.Shape) string {
	if shape.IsTuple() {
		parts := make([]string, len(shape.TupleShapes))
		for ii, element := range shape.TupleShapes {
			parts[ii] = ShapeText(element)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	if !shape.Ok() {
		return "invalid[]"
	}
	dims := make([]string, shape.Rank())
	for axis, dim := range shape.Dimensions {
		if shape.IsDynamicDimension(axis) {
			dims[axis] = fmt.Sprintf("<=%d", dim)
		} else {
			dims[axis] = fmt.Sprintf("%d", dim)
		}
	}
	return fmt.Sprintf("%s[%s]", strings.ToLower(shape.DType.PrimitiveType().String()), strings.Join(dims, ","))
}

// String returns the computation in HLO text format. Instructions are listed in post order.
func (c *Computation) String() string {
	var sb strings.Builder
	c.writeText(&sb, false)
	return sb.String()
}

func (c *Computation) writeText(sb *strings.Builder, isEntry bool) {
	if isEntry {
		sb.WriteString("ENTRY ")
	}
	params := make([]string, 0, len(c.parameters))
	for _, param := range c.Parameters() {
		params = append(params, fmt.Sprintf("%s: %s", param.name, ShapeText(param.shape)))
	}
	fmt.Fprintf(sb, "%%%s (%s) -> %s {\n", c.name, strings.Join(params, ", "), ShapeText(c.Signature().Result))
	var order []*Instruction
	if c.module != nil && c.module.schedule != nil {
		order = c.module.schedule.Sequence(c)
	} else {
		order, _ = c.postOrder()
	}
	for _, inst := range order {
		sb.WriteString("  ")
		sb.WriteString(inst.String())
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
}

// String returns the module in HLO text format: called computations come before their callers, and the entry
// computation is marked with ENTRY.
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HloModule %s", m.name)
	if m.schedule != nil {
		sb.WriteString(", is_scheduled=true")
	}
	if m.config.NumReplicas() > 1 {
		fmt.Fprintf(&sb, ", replica_count=%d", m.config.NumReplicas())
	}
	if m.config.NumComputations() > 1 {
		fmt.Fprintf(&sb, ", num_partitions=%d", m.config.NumComputations())
	}
	sb.WriteString("\n")
	order, err := m.CallGraphPostOrder()
	if err != nil {
		order = m.computations
	}
	for _, c := range order {
		sb.WriteString("\n")
		c.writeText(&sb, c == m.entry)
	}
	return sb.String()
}
