package openapi

import (
	"encoding/json"
	"reflect"
	"testing"
)

const orderedJSON = `{
  "openapi": "3.0.3",
  "info": {"title": "Pet Store", "description": "Pets over HTTP", "version": "1.2.0"},
  "servers": [{"url": "https://api.example.com/v1"}],
  "paths": {
    "/zebras": {"get": {"summary": "List zebras", "responses": {"200": {"description": "ok"}}}},
    "/apples": {"post": {"summary": "Create apple"}},
    "/mangos/{id}": {
      "get": {"summary": "Get mango", "parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}]},
      "delete": {"summary": "Remove mango"}
    }
  },
  "components": {
    "schemas": {
      "Zebra": {"type": "object", "properties": {"name": {"type": "string"}}},
      "Apple": {"type": "string"}
    }
  }
}`

func TestDecode_JSONKeepsDeclarationOrder(t *testing.T) {
	doc, err := Decode([]byte(orderedJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if doc.OpenAPI != "3.0.3" || doc.Info.Title != "Pet Store" {
		t.Fatalf("unexpected header fields: %q %q", doc.OpenAPI, doc.Info.Title)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "https://api.example.com/v1" {
		t.Fatalf("unexpected servers: %+v", doc.Servers)
	}

	var paths []string
	for _, entry := range doc.PathsInOrder() {
		paths = append(paths, entry.Path)
	}
	want := []string{"/zebras", "/apples", "/mangos/{id}"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}

	names := doc.ComponentSchemaNames()
	if !reflect.DeepEqual(names, []string{"Zebra", "Apple"}) {
		t.Fatalf("schema names = %v", names)
	}
}

func TestDecode_YAMLKeepsDeclarationOrder(t *testing.T) {
	src := `openapi: 3.1.0
info:
  title: Weather
  description: Forecasts
  version: "2.0"
servers:
  - url: https://weather.example.com
paths:
  /wind:
    get:
      summary: Wind speed
  /rain:
    get:
      summary: Rainfall
      parameters:
        - name: days
          in: query
          required: true
          schema:
            type: integer
components:
  schemas:
    Wind:
      type: object
      properties:
        speed:
          type: number
    Rain:
      type: string
`
	doc, err := Decode([]byte(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var paths []string
	for _, entry := range doc.PathsInOrder() {
		paths = append(paths, entry.Path)
	}
	if !reflect.DeepEqual(paths, []string{"/wind", "/rain"}) {
		t.Fatalf("paths = %v", paths)
	}
	if !reflect.DeepEqual(doc.ComponentSchemaNames(), []string{"Wind", "Rain"}) {
		t.Fatalf("schema names = %v", doc.ComponentSchemaNames())
	}

	rain := doc.Paths["/rain"].Get
	if rain == nil || len(rain.Parameters) != 1 {
		t.Fatalf("rain operation not decoded: %+v", rain)
	}
	p := rain.Parameters[0]
	if p.Name != "days" || p.In != "query" || !p.Required || p.Schema.Type != "integer" {
		t.Fatalf("unexpected parameter: %+v", p)
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("   ")); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := Decode([]byte(`{"openapi": `)); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestPathsInOrder_SortedFallback(t *testing.T) {
	doc := &Document{Paths: map[string]*PathItem{
		"/b": {Get: &Operation{Summary: "b"}},
		"/a": {Get: &Operation{Summary: "a"}},
		"/c": {Get: &Operation{Summary: "c"}},
	}}
	var paths []string
	for _, entry := range doc.PathsInOrder() {
		paths = append(paths, entry.Path)
	}
	if !reflect.DeepEqual(paths, []string{"/a", "/b", "/c"}) {
		t.Fatalf("paths = %v", paths)
	}
}

func TestOperations_FixedMethodOrder(t *testing.T) {
	item := &PathItem{
		Trace:   &Operation{Summary: "trace"},
		Options: &Operation{Summary: "options"},
		Get:     &Operation{Summary: "get"},
		Delete:  &Operation{Summary: "delete"},
		Post:    &Operation{Summary: "post"},
	}
	var methods []string
	for _, op := range item.Operations() {
		methods = append(methods, op.Method)
	}
	if !reflect.DeepEqual(methods, []string{"GET", "POST", "DELETE", "OPTIONS"}) {
		t.Fatalf("methods = %v", methods)
	}
}

func TestSchemaClone_Independent(t *testing.T) {
	orig := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"tags": {Type: "array", Items: &Schema{Type: "string"}},
		},
		Required: []string{"tags"},
		Defs:     map[string]json.RawMessage{"Inner": json.RawMessage(`{"type":"integer"}`)},
	}
	clone := orig.Clone()
	if !reflect.DeepEqual(orig, clone) {
		t.Fatalf("clone differs: %+v vs %+v", orig, clone)
	}
	clone.Properties["tags"].Items.Type = "number"
	clone.Required[0] = "other"
	if orig.Properties["tags"].Items.Type != "string" || orig.Required[0] != "tags" {
		t.Fatal("mutating the clone changed the original")
	}
}
