package openapi

import "encoding/json"

// Schema is a JSON Schema node as it appears in an OpenAPI document. A
// schema is either an unresolved reference (Ref set) or a concrete schema
// of one of the OpenAPI types: object, array, string, number, integer,
// boolean, null.
type Schema struct {
	Ref         string                     `json:"$ref,omitempty"`
	Type        string                     `json:"type,omitempty"`
	Description string                     `json:"description,omitempty"`
	Format      string                     `json:"format,omitempty"`
	Enum        []interface{}              `json:"enum,omitempty"`
	Properties  map[string]*Schema         `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       *Schema                    `json:"items,omitempty"`
	OneOf       []*Schema                  `json:"oneOf,omitempty"`
	Defs        map[string]json.RawMessage `json:"$defs,omitempty"`
}

// IsRef reports whether the schema is an unresolved reference.
func (s *Schema) IsRef() bool {
	return s != nil && s.Ref != ""
}

// Clone returns a deep copy. $defs entries are shared; raw JSON is never
// mutated after decode.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := *s
	if s.Properties != nil {
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.Clone()
		}
	}
	if s.Required != nil {
		out.Required = append([]string(nil), s.Required...)
	}
	if s.Enum != nil {
		out.Enum = append([]interface{}(nil), s.Enum...)
	}
	out.Items = s.Items.Clone()
	if s.OneOf != nil {
		out.OneOf = make([]*Schema, len(s.OneOf))
		for i, sub := range s.OneOf {
			out.OneOf[i] = sub.Clone()
		}
	}
	if s.Defs != nil {
		out.Defs = make(map[string]json.RawMessage, len(s.Defs))
		for name, raw := range s.Defs {
			out.Defs[name] = raw
		}
	}
	return &out
}
