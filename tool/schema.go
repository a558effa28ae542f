package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SchemaKind classifies how positional arguments map onto a tool's input schema.
type SchemaKind string

const (
	// SchemaFlat zips positional arguments onto the top-level properties.
	SchemaFlat SchemaKind = "flat"
	// SchemaWrapped zips positional arguments onto the properties of a
	// definition referenced by the schema's single top-level property.
	SchemaWrapped SchemaKind = "wrapped"
)

const (
	typeAny    = "any"
	typeObject = "object"

	// conventionalWrapperField is the property name providers built on
	// model-typed handlers use for their single argument.
	conventionalWrapperField = "input"
)

// Property is one positional parameter: its name and JSON-schema type tag.
type Property struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the classified input schema of a tool. It is computed once at
// discovery and never re-derived per call.
type Schema struct {
	Kind SchemaKind `json:"kind"`
	// Properties are the positional parameters in declared order. For
	// SchemaWrapped they are the inner properties.
	Properties []Property `json:"properties"`
	// WrapperField names the top-level property holding the inner object.
	// Empty for SchemaFlat.
	WrapperField string          `json:"wrapper_field,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// ParamNames returns the positional parameter names in declared order.
func (s Schema) ParamNames() []string {
	names := make([]string, 0, len(s.Properties))
	for _, prop := range s.Properties {
		names = append(names, prop.Name)
	}
	return names
}

// ParamTypes returns the positional parameter type tags in declared order.
func (s Schema) ParamTypes() []string {
	types := make([]string, 0, len(s.Properties))
	for _, prop := range s.Properties {
		types = append(types, prop.Type)
	}
	return types
}

// Clone returns a copy that shares no memory with s.
func (s Schema) Clone() Schema {
	out := s
	out.Properties = slices.Clone(s.Properties)
	out.Raw = slices.Clone(s.Raw)
	return out
}

// Arity is the number of positional arguments a call must supply.
func (s Schema) Arity() int {
	return len(s.Properties)
}

type rawSchema struct {
	Type        json.RawMessage            `json:"type,omitempty"`
	Ref         string                     `json:"$ref,omitempty"`
	AllOf       []rawSchema                `json:"allOf,omitempty"`
	AnyOf       []rawSchema                `json:"anyOf,omitempty"`
	Properties  json.RawMessage            `json:"properties,omitempty"`
	Defs        map[string]json.RawMessage `json:"$defs,omitempty"`
	Definitions map[string]json.RawMessage `json:"definitions,omitempty"`
}

// ClassifySchema inspects a tool input schema and decides whether it is flat
// or wraps its real parameters behind a single referenced definition.
//
// A schema is wrapped when it declares exactly one top-level property whose
// schema is a reference ($ref, or allOf holding a single $ref) into $defs or
// definitions. A single top-level "input" property with exactly one
// definition available is also treated as wrapped. Every other shape,
// including an empty or missing schema, is flat.
func ClassifySchema(raw json.RawMessage) (Schema, error) {
	out := Schema{
		Kind:       SchemaFlat,
		Properties: []Property{},
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return out, nil
	}
	out.Raw = append(json.RawMessage(nil), raw...)

	var root rawSchema
	if err := json.Unmarshal(raw, &root); err != nil {
		return Schema{}, fmt.Errorf("tool: decode input schema: %w", err)
	}

	props, err := decodeProperties(root.Properties)
	if err != nil {
		return Schema{}, err
	}

	if props.Len() == 1 {
		only := props.Oldest()
		if inner, ok, err := resolveWrappedProperties(root, only.Key, only.Value); err != nil {
			return Schema{}, err
		} else if ok {
			out.Kind = SchemaWrapped
			out.WrapperField = only.Key
			out.Properties = inner
			return out, nil
		}
	}

	out.Properties, err = propertiesFrom(props)
	if err != nil {
		return Schema{}, err
	}
	return out, nil
}

func resolveWrappedProperties(root rawSchema, name string, propRaw json.RawMessage) ([]Property, bool, error) {
	var prop rawSchema
	if err := json.Unmarshal(propRaw, &prop); err != nil {
		return nil, false, fmt.Errorf("tool: decode property %q: %w", name, err)
	}

	defRaw, ok := lookupRef(root, refOf(prop))
	if !ok && name == conventionalWrapperField {
		defRaw, ok = onlyDefinition(root)
	}
	if !ok {
		return nil, false, nil
	}

	var def rawSchema
	if err := json.Unmarshal(defRaw, &def); err != nil {
		return nil, false, fmt.Errorf("tool: decode definition for %q: %w", name, err)
	}
	innerProps, err := decodeProperties(def.Properties)
	if err != nil {
		return nil, false, err
	}
	inner, err := propertiesFrom(innerProps)
	if err != nil {
		return nil, false, err
	}
	return inner, true, nil
}

func refOf(schema rawSchema) string {
	if schema.Ref != "" {
		return schema.Ref
	}
	if len(schema.AllOf) == 1 {
		return schema.AllOf[0].Ref
	}
	return ""
}

func lookupRef(root rawSchema, ref string) (json.RawMessage, bool) {
	switch {
	case strings.HasPrefix(ref, "#/$defs/"):
		def, ok := root.Defs[strings.TrimPrefix(ref, "#/$defs/")]
		return def, ok
	case strings.HasPrefix(ref, "#/definitions/"):
		def, ok := root.Definitions[strings.TrimPrefix(ref, "#/definitions/")]
		return def, ok
	default:
		return nil, false
	}
}

func onlyDefinition(root rawSchema) (json.RawMessage, bool) {
	defs := root.Defs
	if len(defs) == 0 {
		defs = root.Definitions
	}
	if len(defs) != 1 {
		return nil, false
	}
	for _, def := range defs {
		return def, true
	}
	return nil, false
}

func decodeProperties(raw json.RawMessage) (*orderedmap.OrderedMap[string, json.RawMessage], error) {
	props := orderedmap.New[string, json.RawMessage]()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return props, nil
	}
	if err := json.Unmarshal(trimmed, props); err != nil {
		return nil, fmt.Errorf("tool: decode schema properties: %w", err)
	}
	return props, nil
}

func propertiesFrom(props *orderedmap.OrderedMap[string, json.RawMessage]) ([]Property, error) {
	out := make([]Property, 0, props.Len())
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		var prop rawSchema
		if err := json.Unmarshal(pair.Value, &prop); err != nil {
			return nil, fmt.Errorf("tool: decode property %q: %w", pair.Key, err)
		}
		out = append(out, Property{Name: pair.Key, Type: typeTag(prop)})
	}
	return out, nil
}

func typeTag(schema rawSchema) string {
	if tag := decodeTypeField(schema.Type); tag != "" {
		return tag
	}
	if refOf(schema) != "" {
		return typeObject
	}
	for _, option := range schema.AnyOf {
		tag := typeTag(option)
		if tag != "" && tag != "null" && tag != typeAny {
			return tag
		}
	}
	return typeAny
}

func decodeTypeField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, typeName := range many {
			if !strings.EqualFold(typeName, "null") {
				return strings.TrimSpace(typeName)
			}
		}
	}
	return ""
}
