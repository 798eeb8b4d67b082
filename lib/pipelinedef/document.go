// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinedef

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// A document is the generic tree both formats decode into before
// typed decoding. Its values are *mapping, []any, string, int64,
// float64, bool, or nil. Mappings keep key order so matrix dimensions
// and encoded output follow declaration order.
type mapping struct {
	keys   []string
	values map[string]any
}

func newMapping() *mapping {
	return &mapping{values: make(map[string]any)}
}

// set adds or replaces a key. New keys go to the end.
func (m *mapping) set(key string, value any) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *mapping) get(key string) (any, bool) {
	value, ok := m.values[key]
	return value, ok
}

func (m *mapping) has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// MarshalJSON writes keys in mapping order.
func (m *mapping) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, key := range m.keys {
		if index > 0 {
			buffer.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		encodedValue, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		buffer.Write(encodedKey)
		buffer.WriteByte(':')
		buffer.Write(encodedValue)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

// decodeJSON parses JSON or JSONC into a document.
func decodeJSON(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.UseNumber()
	value, err := readJSONValue(decoder)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after the document")
	}
	return value, nil
}

func readJSONValue(decoder *json.Decoder) (any, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	switch typed := token.(type) {
	case json.Delim:
		switch typed {
		case '{':
			result := newMapping()
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key := keyToken.(string)
				if result.has(key) {
					return nil, fmt.Errorf("duplicate key %q", key)
				}
				value, err := readJSONValue(decoder)
				if err != nil {
					return nil, err
				}
				result.set(key, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return result, nil
		case '[':
			items := []any{}
			for decoder.More() {
				value, err := readJSONValue(decoder)
				if err != nil {
					return nil, err
				}
				items = append(items, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return items, nil
		default:
			return nil, fmt.Errorf("unexpected %q", typed.String())
		}
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer, nil
		}
		float, err := typed.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", typed, err)
		}
		return normalizeFloat(float), nil
	default:
		// string, bool, or nil
		return typed, nil
	}
}

// decodeYAML parses YAML into a document. Anchors, aliases and merge
// keys are resolved; explicit keys win over merged ones.
func decodeYAML(data []byte) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return nil, errors.New("empty document")
	}
	return convertYAMLNode(root.Content[0])
}

func convertYAMLNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return convertYAMLNode(node.Content[0])
	case yaml.AliasNode:
		return convertYAMLNode(node.Alias)
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := convertYAMLNode(child)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	case yaml.MappingNode:
		return convertYAMLMapping(node)
	case yaml.ScalarNode:
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		return normalizeValue(value)
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node", node.Line)
	}
}

func convertYAMLMapping(node *yaml.Node) (*mapping, error) {
	result := newMapping()
	merged := make(map[string]bool)
	for index := 0; index+1 < len(node.Content); index += 2 {
		keyNode, valueNode := node.Content[index], node.Content[index+1]
		if keyNode.Kind == yaml.ScalarNode && keyNode.ShortTag() == "!!merge" {
			if err := mergeYAML(result, merged, valueNode); err != nil {
				return nil, err
			}
			continue
		}
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping keys must be scalars", keyNode.Line)
		}
		key := keyNode.Value
		if result.has(key) && !merged[key] {
			return nil, fmt.Errorf("line %d: duplicate key %q", keyNode.Line, key)
		}
		value, err := convertYAMLNode(valueNode)
		if err != nil {
			return nil, err
		}
		delete(merged, key)
		result.set(key, value)
	}
	return result, nil
}

func mergeYAML(result *mapping, merged map[string]bool, node *yaml.Node) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := mergeYAML(result, merged, child); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		source, err := convertYAMLMapping(node)
		if err != nil {
			return err
		}
		for _, key := range source.keys {
			if !result.has(key) {
				result.set(key, source.values[key])
				merged[key] = true
			}
		}
		return nil
	default:
		return fmt.Errorf("line %d: merge value must be a mapping", node.Line)
	}
}

// normalizeValue converts an in-memory value into document form. Map
// keys are sorted since Go maps carry no order.
func normalizeValue(value any) (any, error) {
	switch typed := value.(type) {
	case nil, string, bool, int64:
		return typed, nil
	case *mapping:
		return typed, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case uint64:
		if typed > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", typed)
		}
		return int64(typed), nil
	case float32:
		return normalizeFloat(float64(typed)), nil
	case float64:
		return normalizeFloat(typed), nil
	case json.Number:
		if integer, err := typed.Int64(); err == nil {
			return integer, nil
		}
		float, err := typed.Float64()
		if err != nil {
			return nil, err
		}
		return normalizeFloat(float), nil
	case []any:
		items := make([]any, len(typed))
		for index, item := range typed {
			normalized, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			items[index] = normalized
		}
		return items, nil
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		result := newMapping()
		for _, key := range keys {
			normalized, err := normalizeValue(typed[key])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result.set(key, normalized)
		}
		return result, nil
	case map[string]string:
		converted := make(map[string]any, len(typed))
		for key, item := range typed {
			converted[key] = item
		}
		return normalizeValue(converted)
	case []string:
		converted := make([]any, len(typed))
		for index, item := range typed {
			converted[index] = item
		}
		return converted, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", value)
	}
}

// normalizeFloat turns integral floats into integers so a value reads
// back the same after either encoder writes it.
func normalizeFloat(value float64) any {
	if value == math.Trunc(value) && math.Abs(value) < 1<<53 {
		return int64(value)
	}
	return value
}

// plainValue converts a document into plain Go values with
// map[string]any mappings, for plugin and notification configuration.
func plainValue(value any) any {
	switch typed := value.(type) {
	case *mapping:
		result := make(map[string]any, len(typed.keys))
		for _, key := range typed.keys {
			result[key] = plainValue(typed.values[key])
		}
		return result
	case []any:
		items := make([]any, len(typed))
		for index, item := range typed {
			items[index] = plainValue(item)
		}
		return items
	default:
		return typed
	}
}

// scalarText renders a scalar as the string a shell or matrix token
// would see.
func scalarText(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return "", false
	}
}

// typeName describes a document value in issue messages.
func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case *mapping:
		return "a mapping"
	case []any:
		return "a list"
	case string:
		return "a string"
	case int64:
		return "an integer"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", value)
	}
}

// toYAMLNode builds a node tree so mappings keep their order.
func toYAMLNode(value any) (*yaml.Node, error) {
	switch typed := value.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case *mapping:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, key := range typed.keys {
			child, err := toYAMLNode(typed.values[key])
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		return node, nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range typed {
			child, err := toYAMLNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case map[string]any:
		normalized, err := normalizeValue(typed)
		if err != nil {
			return nil, err
		}
		return toYAMLNode(normalized)
	default:
		node := &yaml.Node{}
		if err := node.Encode(typed); err != nil {
			return nil, err
		}
		return node, nil
	}
}
