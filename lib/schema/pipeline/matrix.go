// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// Matrix expands one command step into the cartesian product of its
// dimensions.
type Matrix struct {
	// Setup holds the dimensions in declaration order. The simple list
	// form is a single dimension with an empty Name, referenced as
	// {{matrix}}.
	Setup []Dimension

	Adjustments []Adjustment
}

// Dimension is one named matrix axis.
type Dimension struct {
	Name   string
	Values []string
}

// Adjustment modifies, or adds, one combination.
type Adjustment struct {
	// With maps dimension name to value. The simple list form uses
	// the empty name.
	With map[string]string

	Skip     Skip
	SoftFail SoftFail
}

// IsSimple reports whether the matrix uses the single anonymous
// dimension form.
func (m *Matrix) IsSimple() bool {
	return len(m.Setup) == 1 && m.Setup[0].Name == ""
}

// Dimension returns the named dimension.
func (m *Matrix) Dimension(name string) (Dimension, bool) {
	for _, dimension := range m.Setup {
		if dimension.Name == name {
			return dimension, true
		}
	}
	return Dimension{}, false
}
