// Package catalog derives the serving catalogs from an OpenAPI document:
// one Model per declared server, one Tool per usable operation, one
// Prompt per named tool, plus the invocation and content-type lookup
// tables the gateway and executor consult.
package catalog

import (
	"sort"
	"strings"

	"github.com/yosida95/uritemplate/v3"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
	"github.com/ubermorgenland/mcp-bridge/pkg/resolver"
)

// Model is one invocable target server.
type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Capabilities  []string `json:"capabilities"`
	ToolsEndpoint string   `json:"toolsEndpoint"`
}

// Tool is one invocable unit derived from a single operation.
type Tool struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  *openapi.Schema `json:"parameters,omitempty"`
	Returns     *openapi.Schema `json:"returns,omitempty"`
}

// Prompt mirrors a named tool for prompt-oriented clients.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Catalog is the read-only output of one Build run.
type Catalog struct {
	Models  []Model
	Tools   []Tool
	Prompts []Prompt

	// Invocations maps tool id to "<METHOD> <path template>".
	Invocations map[string]string
	// ContentTypes maps tool id to the request content type.
	ContentTypes map[string]string
	// ModelServers maps model id back to its server URL.
	ModelServers map[string]string

	Warnings []resolver.Warning
}

// Build derives the catalogs for doc. Catalog anomalies (duplicate
// operation ids, path parameters without a placeholder) shrink the
// catalog silently; schema resolution failures abort the build.
func Build(doc *openapi.Document) (*Catalog, error) {
	r := resolver.New(doc)
	cat := &Catalog{
		Invocations:  make(map[string]string),
		ContentTypes: make(map[string]string),
		ModelServers: make(map[string]string),
	}

	titleSlug := Slug(doc.Info.Title)
	for _, server := range doc.Servers {
		id := "api:" + titleSlug + ":" + server.URL
		cat.Models = append(cat.Models, Model{
			ID:            id,
			Name:          doc.Info.Title,
			Description:   doc.Info.Description,
			Capabilities:  []string{"tools", "streaming"},
			ToolsEndpoint: "/tools",
		})
		cat.ModelServers[id] = server.URL
	}

	for _, entry := range doc.PathsInOrder() {
		for _, mo := range entry.Item.Operations() {
			tool, contentType, ok, err := buildTool(r, entry.Path, mo)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if _, dup := cat.Invocations[tool.ID]; dup {
				continue
			}
			cat.Tools = append(cat.Tools, *tool)
			cat.Invocations[tool.ID] = mo.Method + " " + entry.Path
			cat.ContentTypes[tool.ID] = contentType
		}
	}

	for _, tool := range cat.Tools {
		if tool.Name == "" {
			continue
		}
		cat.Prompts = append(cat.Prompts, promptFor(tool))
	}

	cat.Warnings = r.Warnings()
	return cat, nil
}

// ToolByID returns the tool with the given id.
func (c *Catalog) ToolByID(id string) (*Tool, bool) {
	for i := range c.Tools {
		if c.Tools[i].ID == id {
			return &c.Tools[i], true
		}
	}
	return nil, false
}

// ModelByID returns the model with the given id.
func (c *Catalog) ModelByID(id string) (*Model, bool) {
	for i := range c.Models {
		if c.Models[i].ID == id {
			return &c.Models[i], true
		}
	}
	return nil, false
}

// ParseInvocation splits an Invocations entry into method and path.
func ParseInvocation(entry string) (method, path string, ok bool) {
	parts := strings.SplitN(entry, " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func buildTool(r *resolver.Resolver, path string, mo openapi.MethodOperation) (*Tool, string, bool, error) {
	op := mo.Operation

	// A declared path parameter without a placeholder in the template
	// excludes the whole operation.
	for _, param := range op.Parameters {
		if param.In == "path" && !pathHasParam(path, param.Name) {
			return nil, "", false, nil
		}
	}

	id := op.OperationID
	if id == "" {
		id = strings.ToLower(mo.Method) + "_" + sanitizePath(path)
	}

	properties := make(map[string]*openapi.Schema)
	var required []string

	contentType := "application/json"
	if op.RequestBody != nil && len(op.RequestBody.Content) > 0 {
		contentType = pickContentType(op.RequestBody.Content)
		if media, ok := op.RequestBody.Content["application/json"]; ok && media.Schema != nil {
			resolved, err := r.Resolve(media.Schema, nil)
			if err != nil {
				return nil, "", false, err
			}
			properties["body"] = resolved
		}
	}

	for _, param := range op.Parameters {
		key := param.In + "-" + param.Name
		schema := &openapi.Schema{Type: "string"}
		if param.Schema != nil {
			resolved, err := r.Resolve(param.Schema, nil)
			if err != nil {
				return nil, "", false, err
			}
			schema = resolved
		}
		if param.Description != "" {
			schema.Description = param.Description
		}
		properties[key] = schema
		if param.Required {
			required = append(required, key)
		}
	}
	if op.RequestBody != nil && op.RequestBody.Required {
		required = append(required, "body")
	}

	var parameters *openapi.Schema
	if len(properties) > 0 {
		parameters = &openapi.Schema{Type: "object", Properties: properties, Required: required}
	}

	returns, err := buildReturns(r, op.Responses)
	if err != nil {
		return nil, "", false, err
	}

	name := op.Summary
	if name == "" {
		name = id
	}
	description := op.Description
	if description == "" {
		description = op.Summary
	}

	tool := &Tool{
		ID:          id,
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Returns:     returns,
	}
	return tool, contentType, true, nil
}

// buildReturns folds the declared responses into a oneOf union: one
// entry per content type, tagged with the response description; a
// response without content contributes a null entry. Status keys are
// visited in ascending order.
func buildReturns(r *resolver.Resolver, responses map[string]*openapi.Response) (*openapi.Schema, error) {
	if len(responses) == 0 {
		return nil, nil
	}
	statuses := make([]string, 0, len(responses))
	for status := range responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	var entries []*openapi.Schema
	for _, status := range statuses {
		resolved, err := r.ResolveResponse(responses[status])
		if err != nil {
			return nil, err
		}
		if len(resolved.Content) == 0 {
			entries = append(entries, nullEntry(resolved.Description))
			continue
		}
		cts := make([]string, 0, len(resolved.Content))
		for ct := range resolved.Content {
			cts = append(cts, ct)
		}
		sort.Strings(cts)
		for _, ct := range cts {
			schema := resolved.Content[ct].Schema
			if schema == nil {
				entries = append(entries, nullEntry(resolved.Description))
				continue
			}
			entry := schema.Clone()
			if resolved.Description != "" {
				entry.Description = resolved.Description
			}
			entries = append(entries, entry)
		}
	}
	return &openapi.Schema{OneOf: entries}, nil
}

func nullEntry(description string) *openapi.Schema {
	return &openapi.Schema{Type: "null", Description: description}
}

// pickContentType selects the request content type: application/json
// when declared, otherwise the lexicographically first declared key so
// repeated builds stay deterministic.
func pickContentType(content map[string]openapi.MediaType) string {
	if _, ok := content["application/json"]; ok {
		return "application/json"
	}
	keys := make([]string, 0, len(content))
	for ct := range content {
		keys = append(keys, ct)
	}
	sort.Strings(keys)
	return keys[0]
}

// pathHasParam reports whether the template contains a {name} or :name
// placeholder for the parameter.
func pathHasParam(path, name string) bool {
	if strings.Contains(path, "{"+name+"}") {
		return true
	}
	if tmpl, err := uritemplate.New(path); err == nil {
		for _, varname := range tmpl.Varnames() {
			if varname == name {
				return true
			}
		}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ":"+name {
			return true
		}
	}
	return false
}

func promptFor(tool Tool) Prompt {
	prompt := Prompt{Name: tool.Name, Description: tool.Description}
	if tool.Parameters == nil {
		return prompt
	}
	required := make(map[string]bool, len(tool.Parameters.Required))
	for _, key := range tool.Parameters.Required {
		required[key] = true
	}
	keys := make([]string, 0, len(tool.Parameters.Properties))
	for key := range tool.Parameters.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		prompt.Arguments = append(prompt.Arguments, PromptArgument{
			Name:        key,
			Description: tool.Parameters.Properties[key].Description,
			Required:    required[key],
		})
	}
	return prompt
}

// Slug lowercases s and collapses every non-alphanumeric run into a
// single underscore, trimming underscores at both ends.
func Slug(s string) string {
	return collapse(strings.ToLower(s))
}

// sanitizePath collapses non-alphanumeric runs without changing case.
func sanitizePath(s string) string {
	return collapse(s)
}

func collapse(s string) string {
	var b strings.Builder
	pending := false
	wrote := false
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !alnum {
			pending = wrote
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
		wrote = true
	}
	return b.String()
}
