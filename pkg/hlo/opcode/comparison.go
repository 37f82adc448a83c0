// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opcode

import (
	"github.com/pkg/errors"
)

// ComparisonDirection of the Compare operation.
type ComparisonDirection int

const (
	CompareInvalid ComparisonDirection = iota
	CompareEQ
	CompareNE
	CompareGE
	CompareGT
	CompareLE
	CompareLT
)

var comparisonNames = [...]string{
	CompareInvalid: "INVALID",
	CompareEQ:      "EQ",
	CompareNE:      "NE",
	CompareGE:      "GE",
	CompareGT:      "GT",
	CompareLE:      "LE",
	CompareLT:      "LT",
}

// String returns the XLA name of the direction ("EQ", "LT", ...).
func (dir ComparisonDirection) String() string {
	if dir < 0 || int(dir) >= len(comparisonNames) {
		return "INVALID"
	}
	return comparisonNames[dir]
}

// ComparisonFromString parses the XLA name of a comparison direction.
func ComparisonFromString(name string) (ComparisonDirection, error) {
	for dir, dirName := range comparisonNames {
		if dirName == name && ComparisonDirection(dir) != CompareInvalid {
			return ComparisonDirection(dir), nil
		}
	}
	return CompareInvalid, errors.Errorf("unknown comparison direction %q", name)
}

// Swapped returns the direction that gives the same result when the operands are swapped:
// "a < b" is the same as "b > a".
func (dir ComparisonDirection) Swapped() ComparisonDirection {
	switch dir {
	case CompareGE:
		return CompareLE
	case CompareGT:
		return CompareLT
	case CompareLE:
		return CompareGE
	case CompareLT:
		return CompareGT
	default:
		return dir
	}
}
