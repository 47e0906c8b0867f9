// Package openapi holds a lean decoded form of an OpenAPI 3.x document:
// just the fields the bridge needs to derive tools, invoke upstream
// operations, and resolve schema references. Documents decode from JSON
// or YAML, and the declaration order of paths and component schemas is
// preserved so derived catalogs are stable.
package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Document is the decoded form of an OpenAPI 3.x document.
type Document struct {
	OpenAPI    string                     `json:"openapi"`
	Info       Info                       `json:"info"`
	Servers    []Server                   `json:"servers"`
	Paths      map[string]*PathItem       `json:"paths"`
	Components *Components                `json:"components,omitempty"`
	Defs       map[string]json.RawMessage `json:"$defs,omitempty"`

	// Declaration order captured at decode time. Empty for documents
	// assembled in memory.
	pathOrder   []string
	schemaOrder []string
}

type Info struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// PathItem holds the operations of one path template. TRACE operations
// are decoded but never served.
type PathItem struct {
	Get     *Operation `json:"get,omitempty"`
	Post    *Operation `json:"post,omitempty"`
	Put     *Operation `json:"put,omitempty"`
	Delete  *Operation `json:"delete,omitempty"`
	Patch   *Operation `json:"patch,omitempty"`
	Head    *Operation `json:"head,omitempty"`
	Options *Operation `json:"options,omitempty"`
	Trace   *Operation `json:"trace,omitempty"`
}

// MethodOperation pairs an HTTP method with its operation.
type MethodOperation struct {
	Method    string
	Operation *Operation
}

// Operations returns the path's operations in a fixed method order:
// GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS.
func (p *PathItem) Operations() []MethodOperation {
	if p == nil {
		return nil
	}
	var ops []MethodOperation
	add := func(method string, op *Operation) {
		if op != nil {
			ops = append(ops, MethodOperation{Method: method, Operation: op})
		}
	}
	add("GET", p.Get)
	add("POST", p.Post)
	add("PUT", p.Put)
	add("DELETE", p.Delete)
	add("PATCH", p.Patch)
	add("HEAD", p.Head)
	add("OPTIONS", p.Options)
	return ops
}

type Operation struct {
	OperationID string                `json:"operationId,omitempty"`
	Summary     string                `json:"summary,omitempty"`
	Description string                `json:"description,omitempty"`
	Parameters  []Parameter           `json:"parameters,omitempty"`
	RequestBody *RequestBody          `json:"requestBody,omitempty"`
	Responses   map[string]*Response  `json:"responses,omitempty"`
	Security    []map[string][]string `json:"security,omitempty"`
}

type Parameter struct {
	Name        string  `json:"name"`
	In          string  `json:"in"`
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty"`
}

type RequestBody struct {
	Description string               `json:"description,omitempty"`
	Required    bool                 `json:"required,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

type MediaType struct {
	Schema *Schema `json:"schema,omitempty"`
}

// Response is either a concrete response or a reference to one.
type Response struct {
	Ref         string               `json:"$ref,omitempty"`
	Description string               `json:"description,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	if r.Content != nil {
		out.Content = make(map[string]MediaType, len(r.Content))
		for ct, media := range r.Content {
			out.Content[ct] = MediaType{Schema: media.Schema.Clone()}
		}
	}
	return &out
}

type Components struct {
	Schemas         map[string]*Schema        `json:"schemas,omitempty"`
	Responses       map[string]*Response      `json:"responses,omitempty"`
	SecuritySchemes map[string]SecurityScheme `json:"securitySchemes,omitempty"`
}

type SecurityScheme struct {
	Type   string `json:"type"`
	Scheme string `json:"scheme,omitempty"`
	In     string `json:"in,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Decode parses an OpenAPI document from JSON or YAML bytes. Input whose
// first non-space byte is '{' is treated as JSON, anything else as YAML.
func Decode(data []byte) (*Document, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if trimmed[0] != '{' {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decoding YAML document: %w", err)
		}
		data = converted
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	doc.pathOrder = objectKeys(data, "paths")
	doc.schemaOrder = objectKeys(data, "components", "schemas")
	return &doc, nil
}

// PathEntry pairs a path template with its decoded item.
type PathEntry struct {
	Path string
	Item *PathItem
}

// PathsInOrder returns the document's paths in declaration order. For
// documents built in memory the order falls back to sorted path strings.
func (d *Document) PathsInOrder() []PathEntry {
	return pathEntries(d.Paths, d.pathOrder)
}

func pathEntries(paths map[string]*PathItem, order []string) []PathEntry {
	if len(paths) == 0 {
		return nil
	}
	keys := orderedKeys(order, len(paths), func(k string) bool {
		_, ok := paths[k]
		return ok
	}, func() []string {
		all := make([]string, 0, len(paths))
		for k := range paths {
			all = append(all, k)
		}
		return all
	})
	entries := make([]PathEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, PathEntry{Path: k, Item: paths[k]})
	}
	return entries
}

// ComponentSchemaNames returns component schema names in declaration
// order, falling back to sorted names for documents built in memory.
func (d *Document) ComponentSchemaNames() []string {
	if d.Components == nil || len(d.Components.Schemas) == 0 {
		return nil
	}
	schemas := d.Components.Schemas
	return orderedKeys(d.schemaOrder, len(schemas), func(k string) bool {
		_, ok := schemas[k]
		return ok
	}, func() []string {
		all := make([]string, 0, len(schemas))
		for k := range schemas {
			all = append(all, k)
		}
		return all
	})
}

// SecuritySchemes returns the declared security schemes, or nil.
func (d *Document) SecuritySchemes() map[string]SecurityScheme {
	if d.Components == nil {
		return nil
	}
	return d.Components.SecuritySchemes
}

// orderedKeys merges a captured declaration order with the actual key
// set: captured keys that still exist come first, anything the capture
// missed follows in sorted order.
func orderedKeys(order []string, n int, exists func(string) bool, all func() []string) []string {
	keys := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for _, k := range order {
		if exists(k) && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	if len(keys) < n {
		rest := make([]string, 0, n-len(keys))
		for _, k := range all() {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		sort.Strings(rest)
		keys = append(keys, rest...)
	}
	return keys
}

// objectKeys returns the declaration order of the keys of the JSON
// object at the given key path, or nil when the path is absent.
func objectKeys(data []byte, path ...string) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if !expectDelim(dec, '{') {
		return nil
	}
	return objectKeysIn(dec, path)
}

func objectKeysIn(dec *json.Decoder, path []string) []string {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := tok.(string)
		if key != path[0] {
			if skipValue(dec) != nil {
				return nil
			}
			continue
		}
		if len(path) > 1 {
			if !expectDelim(dec, '{') {
				return nil
			}
			return objectKeysIn(dec, path[1:])
		}
		return readObjectKeys(dec)
	}
	return nil
}

func readObjectKeys(dec *json.Decoder) []string {
	if !expectDelim(dec, '{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil
		}
		keys = append(keys, key)
		if skipValue(dec) != nil {
			return nil
		}
	}
	return keys
}

func expectDelim(dec *json.Decoder, d json.Delim) bool {
	tok, err := dec.Token()
	if err != nil {
		return false
	}
	got, ok := tok.(json.Delim)
	return ok && got == d
}

// skipValue consumes one JSON value, including nested containers.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
