// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema is the JSON-Schema subset used for skill inputs and outputs: an
// object with typed named properties, optional defaults and a required list.
type Schema struct {
	Type       string              `json:"type,omitempty" yaml:"type"`
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties"`
	Required   []string            `json:"required,omitempty" yaml:"required"`
}

// Property describes one schema property.
type Property struct {
	Type        string              `json:"type,omitempty" yaml:"type"`
	Description string              `json:"description,omitempty" yaml:"description"`
	Default     any                 `json:"default,omitempty" yaml:"default"`
	Enum        []any               `json:"enum,omitempty" yaml:"enum"`
	Items       *Property           `json:"items,omitempty" yaml:"items"`
	Properties  map[string]Property `json:"properties,omitempty" yaml:"properties"`
}

var knownTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// IsZero reports whether the schema declares nothing.
func (s Schema) IsZero() bool {
	return s.Type == "" && len(s.Properties) == 0 && len(s.Required) == 0
}

// check rejects schemas that cannot be enforced.
func (s Schema) check() error {
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("schema type must be object, got %q", s.Type)
	}
	for name, p := range s.Properties {
		if p.Type != "" && !knownTypes[p.Type] {
			return fmt.Errorf("property %s: unknown type %q", name, p.Type)
		}
	}
	return nil
}

// Validate checks inputs against the schema and returns a copy with defaults
// applied, plus one message per problem. Checks run in a fixed order:
// required properties, then types, then enums. Properties the schema does
// not declare pass through unchecked.
func (s Schema) Validate(inputs map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(inputs)+len(s.Properties))
	for k, v := range inputs {
		out[k] = v
	}

	var problems []string
	for _, name := range s.Required {
		if v, ok := inputs[name]; !ok || v == nil {
			problems = append(problems, "missing required input: "+name)
		}
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := s.Properties[name]
		v, present := out[name]
		if !present || v == nil {
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		if prop.Type != "" && !typeMatches(v, prop.Type) {
			problems = append(problems, fmt.Sprintf("invalid type for %s: expected %s, got %s", name, prop.Type, jsonType(v)))
			continue
		}
		if prop.Type == "array" && prop.Items != nil && prop.Items.Type != "" {
			items := reflect.ValueOf(v)
			for i := 0; i < items.Len(); i++ {
				if item := items.Index(i).Interface(); !typeMatches(item, prop.Items.Type) {
					problems = append(problems, fmt.Sprintf("invalid type for %s[%d]: expected %s, got %s", name, i, prop.Items.Type, jsonType(item)))
				}
			}
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, v) {
			problems = append(problems, fmt.Sprintf("invalid value for %s: must be one of %s", name, formatEnum(prop.Enum)))
		}
	}
	return out, problems
}

func typeMatches(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		case float32:
			return float64(n) == math.Trunc(float64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case "number":
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
			return true
		}
		return false
	case "array":
		if v == nil {
			return false
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case "object":
		if v == nil {
			return false
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Map || k == reflect.Struct
	default:
		return true
	}
}

func jsonType(v any) string {
	switch {
	case v == nil:
		return "null"
	case typeMatches(v, "boolean"):
		return "boolean"
	case typeMatches(v, "string"):
		return "string"
	case typeMatches(v, "integer"):
		return "integer"
	case typeMatches(v, "number"):
		return "number"
	case typeMatches(v, "array"):
		return "array"
	case typeMatches(v, "object"):
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(e, v) || fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprint(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ReflectSchema derives a Schema from the exported fields of T. Fields are
// named by their json tag; `jsonschema:"required"` marks required fields and
// `jsonschema:"default=..."`, `enum=...` and `description=...` carry through.
func ReflectSchema[T any]() (Schema, error) {
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	data, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		return Schema{}, fmt.Errorf("marshal reflected schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("decode reflected schema: %w", err)
	}
	if s.Type != "object" {
		return Schema{}, fmt.Errorf("%T does not reflect to an object schema", *new(T))
	}
	return s, nil
}

// validateOutput checks a result value against a declared output schema.
// A partial value only has its present fields type checked.
func validateOutput(s Schema, v any, partial bool) []string {
	if partial {
		if v == nil {
			return nil
		}
		s.Required = nil
	}
	if len(s.Properties) == 0 && len(s.Required) == 0 {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		data, err := json.Marshal(v)
		if err != nil {
			return []string{fmt.Sprintf("output is not serializable: %v", err)}
		}
		if err := json.Unmarshal(data, &m); err != nil || m == nil {
			return []string{"output is not an object"}
		}
	}
	_, problems := s.Validate(m)
	return problems
}
