// Package gateway serves one OpenAPI source over two surfaces: the MCP
// JSON-RPC endpoint under /sse and the legacy REST endpoints (/,
// /models, /tools, /invoke, /stream). A Gateway is built per request
// from one document's catalogs and carries no state between requests.
package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/phuslu/log"

	"github.com/ubermorgenland/mcp-bridge/pkg/catalog"
	"github.com/ubermorgenland/mcp-bridge/pkg/executor"
	"github.com/ubermorgenland/mcp-bridge/pkg/metrics"
	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

// maxRPCBytes caps the JSON-RPC request body.
const maxRPCBytes = 4 << 20

// Gateway serves the catalogs derived from one resolved document.
type Gateway struct {
	doc      *openapi.Document
	cat      *catalog.Catalog
	exec     *executor.Executor
	counters *metrics.Counters
	log      *log.Logger
	basePath string
}

// New builds a Gateway for one request. basePath is the mount point of
// this source (for example "/petstore"); stream URLs are derived from
// it.
func New(doc *openapi.Document, cat *catalog.Catalog, exec *executor.Executor, counters *metrics.Counters, logger *log.Logger, basePath string) *Gateway {
	return &Gateway{
		doc:      doc,
		cat:      cat,
		exec:     exec,
		counters: counters,
		log:      logger,
		basePath: strings.TrimSuffix(basePath, "/"),
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, g.basePath)
	if rel == "" {
		rel = "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}

	switch {
	case rel == "/":
		g.require(w, r, http.MethodGet, g.handleDescriptor)
	case rel == "/models":
		g.require(w, r, http.MethodGet, g.handleModels)
	case rel == "/tools":
		g.require(w, r, http.MethodGet, g.handleTools)
	case strings.HasPrefix(rel, "/tools/"):
		slug := strings.TrimPrefix(rel, "/tools/")
		g.require(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			g.handleTool(w, slug)
		})
	case rel == "/invoke":
		g.require(w, r, http.MethodPost, g.handleInvoke)
	case rel == "/stream":
		g.require(w, r, http.MethodPost, g.handleStreamCreate)
	case strings.HasPrefix(rel, "/stream/"):
		token := strings.TrimPrefix(rel, "/stream/")
		g.require(w, r, http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
			g.handleStreamSession(w, r, token)
		})
	case rel == "/sse":
		g.handleSSE(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	}
}

func (g *Gateway) require(w http.ResponseWriter, r *http.Request, method string, h http.HandlerFunc) {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}
	h(w, r)
}

// handleSSE serves the MCP endpoint: GET returns its capability
// descriptor, POST runs one JSON-RPC dispatch.
func (g *Gateway) handleSSE(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"type":        "mcp_endpoint",
			"transport":   "http",
			"protocol":    "MCP",
			"version":     ProtocolVersion,
			"description": fmt.Sprintf("MCP endpoint for %s", g.doc.Info.Title),
			"methods":     SupportedMethods(),
		})
	case http.MethodPost:
		g.serveRPC(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	}
}

func (g *Gateway) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBytes))
	if err != nil {
		g.respondError(w, nil, CodeParseError, "Parse error")
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		g.respondError(w, nil, CodeParseError, "Parse error")
		return
	}

	method := ParseMethod(req.Method)
	label := req.Method
	if method == MethodUnknown {
		label = "unknown"
	}
	g.counters.Increment("rpc:" + label)
	g.log.Debug().Str("method", req.Method).Msg("rpc dispatch")

	switch method {
	case MethodInitialize:
		g.respond(w, req.ID, map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{},
				"resources": map[string]interface{}{},
				"prompts":   map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    g.doc.Info.Title,
				"version": g.doc.Info.Version,
			},
		})
	case MethodToolsList:
		g.respond(w, req.ID, map[string]interface{}{"tools": g.listTools()})
	case MethodToolsCall:
		g.handleToolsCall(w, r, req)
	case MethodResourcesList:
		g.respond(w, req.ID, map[string]interface{}{"resources": []interface{}{}})
	case MethodResourceTemplatesList:
		g.respond(w, req.ID, map[string]interface{}{"resourceTemplates": []interface{}{}})
	case MethodPromptsList:
		prompts := g.cat.Prompts
		if prompts == nil {
			prompts = []catalog.Prompt{}
		}
		g.respond(w, req.ID, map[string]interface{}{"prompts": prompts})
	case MethodNotificationsInitialized:
		w.WriteHeader(http.StatusNoContent)
	case MethodPing:
		g.respond(w, req.ID, map[string]interface{}{})
	default:
		g.respondError(w, req.ID, CodeMethodNotFound, "Method not found")
	}
}

func (g *Gateway) listTools() []map[string]interface{} {
	tools := make([]map[string]interface{}, 0, len(g.cat.Tools))
	for _, tool := range g.cat.Tools {
		description := tool.Description
		if description == "" {
			description = tool.Name
		}
		var schema interface{} = tool.Parameters
		if tool.Parameters == nil {
			schema = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, map[string]interface{}{
			"name":        tool.ID,
			"description": description,
			"inputSchema": schema,
		})
	}
	return tools
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall runs one tool invocation. An unknown tool is a
// protocol error; a failing upstream call is not: it stays inside the
// result envelope with isError set.
func (g *Gateway) handleToolsCall(w http.ResponseWriter, r *http.Request, req Request) {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			g.respondError(w, req.ID, CodeInvalidParams, "Invalid params")
			return
		}
	}
	entry, ok := g.cat.Invocations[params.Name]
	if !ok {
		g.respondError(w, req.ID, CodeInvalidParams, "Invalid params")
		return
	}
	method, path, ok := catalog.ParseInvocation(entry)
	if !ok {
		g.respondError(w, req.ID, CodeInternalError, "Internal error")
		return
	}

	host := ""
	if len(g.doc.Servers) > 0 {
		host = g.doc.Servers[0].URL
	}
	g.counters.Increment("invoke")

	output, err := g.exec.Execute(r.Context(), host, method, path, params.Arguments, g.cat.ContentTypes[params.Name], g.doc.SecuritySchemes())
	if err != nil {
		g.log.Warn().Str("tool", params.Name).Err(err).Msg("tool call failed")
		g.respond(w, req.ID, CallResult{
			Content: []ContentItem{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}
	g.respond(w, req.ID, CallResult{
		Content: []ContentItem{{Type: "text", Text: stringify(output)}},
	})
}

func (g *Gateway) respond(w http.ResponseWriter, id, result interface{}) {
	writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (g *Gateway) respondError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, http.StatusOK, Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}})
}

// stringify renders a tool output for text content: strings pass
// through, everything else is compact JSON.
func stringify(output interface{}) string {
	if s, ok := output.(string); ok {
		return s
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
