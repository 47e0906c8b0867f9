// Package resolver flattens JSON Schema references inside an OpenAPI
// document. Component references (#/components/schemas/Name) resolve
// against the document registry. $defs references resolve through a
// fixed search order: the component-qualified form is exact; the bare
// #/$defs/... form searches the containing schema, then the document
// root, then every component schema's $defs in declaration order.
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

// Resolution failures.
var (
	ErrSchemaResolution = errors.New("schema resolution failed")
	ErrCyclicReference  = errors.New("cyclic schema reference")
)

const (
	schemaPrefix   = "#/components/schemas/"
	responsePrefix = "#/components/responses/"
	defsPrefix     = "#/$defs/"
	defsSegment    = "/$defs/"
)

// Warning records a bare $defs reference that matched more than one
// component schema and resolved by declaration order.
type Warning struct {
	Ref     string
	Matches []string
	Suggest string
}

func (w Warning) String() string {
	return fmt.Sprintf("ambiguous reference %s matches component schemas %s; use %s",
		w.Ref, strings.Join(w.Matches, ", "), w.Suggest)
}

// Resolver resolves references against a single document. Resolution
// never mutates the document or its inputs; results are copies.
type Resolver struct {
	doc      *openapi.Document
	warnings []Warning
}

func New(doc *openapi.Document) *Resolver {
	return &Resolver{doc: doc}
}

// Warnings returns the ambiguity warnings accumulated so far.
func (r *Resolver) Warnings() []Warning {
	return r.warnings
}

// Resolve flattens schema into a reference-free copy. context is the
// schema that lexically contained it, consulted for local $defs; nil is
// allowed.
func (r *Resolver) Resolve(schema, context *openapi.Schema) (*openapi.Schema, error) {
	return r.resolve(schema, context, map[string]bool{})
}

func (r *Resolver) resolve(schema, context *openapi.Schema, visited map[string]bool) (*openapi.Schema, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrSchemaResolution)
	}
	if schema.IsRef() {
		if visited[schema.Ref] {
			return nil, fmt.Errorf("%w: %s", ErrCyclicReference, schema.Ref)
		}
		visited[schema.Ref] = true
		target, err := r.lookupSchema(schema.Ref, context)
		if err != nil {
			return nil, err
		}
		return r.resolve(target, context, visited)
	}

	out := schema.Clone()
	switch {
	case schema.Type == "object" || (schema.Type == "" && len(schema.Properties) > 0):
		for name, prop := range schema.Properties {
			if !prop.IsRef() {
				continue
			}
			// Each property branch gets its own visited set so shared
			// targets resolve everywhere; only true cycles fail.
			resolved, err := r.resolve(prop, schema, copyVisited(visited))
			if err != nil {
				return nil, err
			}
			out.Properties[name] = resolved
		}
	case schema.Type == "array":
		if schema.Items.IsRef() {
			resolved, err := r.resolve(schema.Items, schema, copyVisited(visited))
			switch {
			case err == nil:
				out.Items = resolved
			case errors.Is(err, ErrCyclicReference):
				return nil, err
			default:
				// An unresolvable item reference degrades to a null item
				// schema rather than failing the whole resolution.
				out.Items = &openapi.Schema{Type: "null"}
			}
		}
	}
	return out, nil
}

// ResolveResponse returns a copy of the response with reference
// indirection removed: a referenced response is looked up first, then
// each content type's schema is resolved.
func (r *Resolver) ResolveResponse(resp *openapi.Response) (*openapi.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrSchemaResolution)
	}
	resolved := resp
	if resp.Ref != "" {
		target, err := r.lookupResponse(resp.Ref)
		if err != nil {
			return nil, err
		}
		resolved = target
	}
	out := resolved.Clone()
	for ct, media := range resolved.Content {
		if media.Schema == nil {
			continue
		}
		schema, err := r.Resolve(media.Schema, nil)
		if err != nil {
			return nil, err
		}
		out.Content[ct] = openapi.MediaType{Schema: schema}
	}
	return out, nil
}

func (r *Resolver) lookupSchema(ref string, context *openapi.Schema) (*openapi.Schema, error) {
	if strings.HasPrefix(ref, schemaPrefix) && !strings.Contains(ref, defsSegment) {
		name := strings.TrimPrefix(ref, schemaPrefix)
		component := r.componentSchema(name)
		if component == nil {
			return nil, fmt.Errorf("%w: component schema %q not found", ErrSchemaResolution, name)
		}
		return component, nil
	}
	raw, err := r.rawForRef(ref, context)
	if err != nil {
		return nil, err
	}
	return decodeSchema(raw, ref)
}

func (r *Resolver) lookupResponse(ref string) (*openapi.Response, error) {
	visited := map[string]bool{}
	for {
		if visited[ref] {
			return nil, fmt.Errorf("%w: %s", ErrCyclicReference, ref)
		}
		visited[ref] = true

		var target *openapi.Response
		if strings.HasPrefix(ref, responsePrefix) {
			name := strings.TrimPrefix(ref, responsePrefix)
			if r.doc.Components == nil || r.doc.Components.Responses[name] == nil {
				return nil, fmt.Errorf("%w: component response %q not found", ErrSchemaResolution, name)
			}
			target = r.doc.Components.Responses[name]
		} else {
			raw, err := r.rawForRef(ref, nil)
			if err != nil {
				return nil, err
			}
			target = new(openapi.Response)
			if err := json.Unmarshal(raw, target); err != nil {
				return nil, fmt.Errorf("%w: decoding %s: %v", ErrSchemaResolution, ref, err)
			}
		}
		if target.Ref == "" {
			return target, nil
		}
		ref = target.Ref
	}
}

// rawForRef returns the raw JSON behind a $defs reference, either the
// component-qualified form or the bare search form.
func (r *Resolver) rawForRef(ref string, context *openapi.Schema) (json.RawMessage, error) {
	switch {
	case strings.HasPrefix(ref, schemaPrefix):
		rest := strings.TrimPrefix(ref, schemaPrefix)
		comp, path, ok := splitDefs(rest)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a $defs reference", ErrSchemaResolution, ref)
		}
		component := r.componentSchema(comp)
		if component == nil {
			return nil, fmt.Errorf("%w: component schema %q not found for %s", ErrSchemaResolution, comp, ref)
		}
		raw, found := walkDefs(component.Defs, path)
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrSchemaResolution, ref)
		}
		return raw, nil
	case strings.HasPrefix(ref, defsPrefix):
		return r.searchDefs(ref, strings.TrimPrefix(ref, defsPrefix), context)
	}
	return nil, fmt.Errorf("%w: unsupported reference %q", ErrSchemaResolution, ref)
}

// searchDefs resolves a bare #/$defs/... reference: containing schema
// first, then document root, then component schemas in declaration
// order. A hit in more than one component records a Warning and uses
// the first.
func (r *Resolver) searchDefs(ref, path string, context *openapi.Schema) (json.RawMessage, error) {
	if context != nil {
		if raw, ok := walkDefs(context.Defs, path); ok {
			return raw, nil
		}
	}
	if raw, ok := walkDefs(r.doc.Defs, path); ok {
		return raw, nil
	}

	var matches []string
	var first json.RawMessage
	for _, name := range r.doc.ComponentSchemaNames() {
		component := r.componentSchema(name)
		if component == nil {
			continue
		}
		raw, ok := walkDefs(component.Defs, path)
		if !ok {
			continue
		}
		if first == nil {
			first = raw
		}
		matches = append(matches, name)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSchemaResolution, ref)
	}
	if len(matches) > 1 {
		r.warnings = append(r.warnings, Warning{
			Ref:     ref,
			Matches: matches,
			Suggest: schemaPrefix + matches[0] + defsSegment + path,
		})
	}
	return first, nil
}

func (r *Resolver) componentSchema(name string) *openapi.Schema {
	if r.doc.Components == nil {
		return nil
	}
	return r.doc.Components.Schemas[name]
}

// walkDefs follows a slash-separated path through nested $defs tables.
func walkDefs(defs map[string]json.RawMessage, path string) (json.RawMessage, bool) {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		raw, ok := defs[seg]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return raw, true
		}
		var next struct {
			Defs map[string]json.RawMessage `json:"$defs"`
		}
		if err := json.Unmarshal(raw, &next); err != nil || next.Defs == nil {
			return nil, false
		}
		defs = next.Defs
	}
	return nil, false
}

func splitDefs(rest string) (component, path string, ok bool) {
	idx := strings.Index(rest, defsSegment)
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+len(defsSegment):], true
}

func decodeSchema(raw json.RawMessage, ref string) (*openapi.Schema, error) {
	schema := new(openapi.Schema)
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrSchemaResolution, ref, err)
	}
	return schema, nil
}

func copyVisited(visited map[string]bool) map[string]bool {
	out := make(map[string]bool, len(visited))
	for ref := range visited {
		out[ref] = true
	}
	return out
}
