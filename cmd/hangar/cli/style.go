// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Styles renders human output. Colors are dropped when the writer is
// not a terminal or NO_COLOR is set.
type Styles struct {
	Pass    lipgloss.Style
	Warn    lipgloss.Style
	Fail    lipgloss.Style
	Muted   lipgloss.Style
	Heading lipgloss.Style
}

// NewStyles returns styles for output written to w.
func NewStyles(w io.Writer) *Styles {
	renderer := lipgloss.NewRenderer(w)
	if !colorEnabled(w) {
		renderer.SetColorProfile(termenv.Ascii)
	}
	return &Styles{
		Pass:    renderer.NewStyle().Foreground(lipgloss.Color("2")),
		Warn:    renderer.NewStyle().Foreground(lipgloss.Color("3")),
		Fail:    renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		Muted:   renderer.NewStyle().Foreground(lipgloss.Color("8")),
		Heading: renderer.NewStyle().Bold(true),
	}
}

func colorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
