// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hangar-build/hangar/lib/schema/pipeline"
)

// Format is a pipeline file encoding.
type Format string

const (
	// FormatYAML is YAML 1.2 with anchors and merge keys.
	FormatYAML Format = "yaml"
	// FormatJSON is JSON, extended with comments and trailing commas
	// (JSONC) when parsing.
	FormatJSON Format = "json"
)

// UnsupportedFormatError reports a format or file extension hangar
// cannot parse.
type UnsupportedFormatError struct {
	// Format is the requested format or the file extension.
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported pipeline format %q (expected .yml, .yaml, .json, or .jsonc)", e.Format)
}

// SchemaError lists every structural problem found in a pipeline
// document.
type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid pipeline: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid pipeline (%d issues):\n  %s", len(e.Issues), strings.Join(e.Issues, "\n  "))
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch extension := strings.ToLower(filepath.Ext(path)); extension {
	case ".yml", ".yaml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", &UnsupportedFormatError{Format: extension}
	}
}

// Parse decodes and validates pipeline text. Syntax errors are
// returned as plain errors; structural problems as *SchemaError.
func Parse(data []byte, format Format) (*pipeline.Pipeline, error) {
	var (
		document any
		err      error
	)
	switch format {
	case FormatYAML:
		document, err = decodeYAML(data)
	case FormatJSON:
		document, err = decodeJSON(data)
	default:
		return nil, &UnsupportedFormatError{Format: string(format)}
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s pipeline: %w", format, err)
	}
	return decodeDocument(document)
}

// ParseDocument validates an in-memory document: a map[string]any
// with a steps key, or a []any of steps. Values are the types
// encoding/json or gopkg.in/yaml.v3 produce when decoding into any.
// Mapping keys carry no order, so matrix dimensions given as a
// mapping expand in sorted order.
func ParseDocument(document any) (*pipeline.Pipeline, error) {
	normalized, err := normalizeValue(document)
	if err != nil {
		return nil, &SchemaError{Issues: []string{err.Error()}}
	}
	return decodeDocument(normalized)
}

// ReadFile reads and parses a pipeline file, picking the format from
// its extension. Unsupported extensions fail before the file is read.
func ReadFile(path string) (*pipeline.Pipeline, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	result, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// NameFromPath extracts a pipeline name from a file path by stripping
// the directory prefix and the file extension. For example,
// ".hangar/pipelines/release.yml" returns "release".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
