// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fpformats describes the bit layout of the floating-point formats, so passes can reason about which
// conversions between them are exact.
//
// The layout of a format is given by the number of exponent bits and explicit mantissa bits: all formats are
// IEEE-754-like, with subnormals, infinities and NaNs. A format A "dominates" a format B if every value
// representable in B is representable in A, which is the case when A has at least as many exponent and
// mantissa bits.
package fpformats

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
)

// Format describes the bit layout of a floating-point dtype.
type Format struct {
	DType        dtypes.DType
	ExponentBits int
	MantissaBits int
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return fmt.Sprintf("%s(e%d,m%d)", f.DType, f.ExponentBits, f.MantissaBits)
}

// Dominates returns whether every value representable in other is also representable in f.
// Converting a value from other to f is then exact.
func (f Format) Dominates(other Format) bool {
	return f.ExponentBits >= other.ExponentBits && f.MantissaBits >= other.MantissaBits
}

// Table looks up the Format of a dtype.
type Table interface {
	// Lookup returns the format for the dtype, and false if the dtype is not a floating-point format known
	// by the table.
	Lookup(dtype dtypes.DType) (Format, bool)
}

// MapTable is a Table backed by a map. It can be used to extend or restrict the set of known formats.
type MapTable map[dtypes.DType]Format

// Lookup implements Table.
func (t MapTable) Lookup(dtype dtypes.DType) (Format, bool) {
	f, found := t[dtype]
	return f, found
}

// Default holds the formats of the floating-point dtypes supported by the evaluator.
var Default Table = MapTable{
	dtypes.Float16:  {DType: dtypes.Float16, ExponentBits: 5, MantissaBits: 10},
	dtypes.BFloat16: {DType: dtypes.BFloat16, ExponentBits: 8, MantissaBits: 7},
	dtypes.Float32:  {DType: dtypes.Float32, ExponentBits: 8, MantissaBits: 23},
	dtypes.Float64:  {DType: dtypes.Float64, ExponentBits: 11, MantissaBits: 52},
}
