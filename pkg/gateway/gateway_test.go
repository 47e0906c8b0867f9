package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/phuslu/log"

	"github.com/ubermorgenland/mcp-bridge/pkg/catalog"
	"github.com/ubermorgenland/mcp-bridge/pkg/executor"
	"github.com/ubermorgenland/mcp-bridge/pkg/metrics"
	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
	"github.com/ubermorgenland/mcp-bridge/pkg/stream"
)

const docTemplate = `{
	"openapi": "3.0.3",
	"info": {"title": "Pet Store", "description": "Pets over HTTP", "version": "1.2.0"},
	"servers": [{"url": "%s"}],
	"paths": {
		"/pets/{id}": {
			"get": {
				"operationId": "getPet",
				"summary": "Get a pet",
				"description": "Fetch one pet by id",
				"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "string"}}],
				"responses": {"200": {"description": "the pet"}}
			}
		},
		"/pets": {
			"post": {
				"operationId": "createPet",
				"summary": "Create a pet",
				"requestBody": {"required": true, "content": {"application/json": {"schema": {"type": "object"}}}}
			}
		}
	}
}`

func testLogger() *log.Logger {
	return &log.Logger{Writer: log.IOWriter{Writer: io.Discard}}
}

func newGateway(t *testing.T, upstream http.Handler) (*Gateway, *metrics.Counters) {
	t.Helper()
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	doc, err := openapi.Decode([]byte(fmt.Sprintf(docTemplate, ts.URL)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cat, err := catalog.Build(doc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	counters := metrics.NewCounters()
	return New(doc, cat, executor.New(nil), counters, testLogger(), "/petstore"), counters
}

func jsonUpstream(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	})
}

func do(g *Gateway, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)
	return rec
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func rpc(t *testing.T, g *Gateway, body string) rpcEnvelope {
	t.Helper()
	rec := do(g, http.MethodPost, "/petstore/sse", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("rpc status = %d, body %s", rec.Code, rec.Body)
	}
	var env rpcEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("rpc envelope: %v (%s)", err, rec.Body)
	}
	return env
}

func TestRPC_Initialize(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))
	env := rpc(t, g, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if env.Error != nil {
		t.Fatalf("error = %+v", env.Error)
	}
	var result struct {
		ProtocolVersion string                 `json:"protocolVersion"`
		Capabilities    map[string]interface{} `json:"capabilities"`
		ServerInfo      map[string]string      `json:"serverInfo"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Fatalf("protocolVersion = %q", result.ProtocolVersion)
	}
	for _, capability := range []string{"tools", "resources", "prompts"} {
		if _, ok := result.Capabilities[capability]; !ok {
			t.Fatalf("capabilities = %v", result.Capabilities)
		}
	}
	if result.ServerInfo["name"] != "Pet Store" || result.ServerInfo["version"] != "1.2.0" {
		t.Fatalf("serverInfo = %v", result.ServerInfo)
	}
}

func TestRPC_ToolsList(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))
	env := rpc(t, g, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("tools = %+v", result.Tools)
	}
	first := result.Tools[0]
	if first.Name != "getPet" || first.Description != "Fetch one pet by id" {
		t.Fatalf("first tool = %+v", first)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(first.InputSchema, &schema); err != nil || schema["type"] != "object" {
		t.Fatalf("inputSchema = %s", first.InputSchema)
	}
}

func TestRPC_ToolsCallSuccess(t *testing.T) {
	g, counters := newGateway(t, jsonUpstream(`{"name":"rex"}`))
	env := rpc(t, g, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"getPet","arguments":{"path-id":"7"}}}`)
	if env.Error != nil {
		t.Fatalf("error = %+v", env.Error)
	}
	var result CallResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if result.IsError {
		t.Fatalf("isError set: %+v", result)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" || result.Content[0].Text != `{"name":"rex"}` {
		t.Fatalf("content = %+v", result.Content)
	}
	if counters.Get("invoke") != 1 {
		t.Fatalf("invoke counter = %d", counters.Get("invoke"))
	}
}

func TestRPC_ToolsCallUpstreamFailureStaysInResult(t *testing.T) {
	g, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	env := rpc(t, g, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"getPet","arguments":{"path-id":"7"}}}`)
	if env.Error != nil {
		t.Fatalf("tool failure leaked into the error field: %+v", env.Error)
	}
	var result CallResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("result: %v", err)
	}
	if !result.IsError {
		t.Fatalf("isError not set: %+v", result)
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "500") {
		t.Fatalf("content = %+v", result.Content)
	}
}

func TestRPC_ErrorCodes(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))

	env := rpc(t, g, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}`)
	if env.Error == nil || env.Error.Code != CodeInvalidParams || env.Error.Message != "Invalid params" {
		t.Fatalf("unknown tool error = %+v", env.Error)
	}

	env = rpc(t, g, `{"jsonrpc":"2.0","id":6,"method":"bogus/method"}`)
	if env.Error == nil || env.Error.Code != CodeMethodNotFound || env.Error.Message != "Method not found" {
		t.Fatalf("unknown method error = %+v", env.Error)
	}

	env = rpc(t, g, `{not json`)
	if env.Error == nil || env.Error.Code != CodeParseError || env.ID != nil {
		t.Fatalf("parse error = %+v id = %v", env.Error, env.ID)
	}
}

func TestRPC_StaticMethods(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))

	env := rpc(t, g, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	if string(env.Result) != "{}" {
		t.Fatalf("ping result = %s", env.Result)
	}

	env = rpc(t, g, `{"jsonrpc":"2.0","id":8,"method":"resources/list"}`)
	if string(env.Result) != `{"resources":[]}` {
		t.Fatalf("resources result = %s", env.Result)
	}

	env = rpc(t, g, `{"jsonrpc":"2.0","id":9,"method":"resources/templates/list"}`)
	if string(env.Result) != `{"resourceTemplates":[]}` {
		t.Fatalf("templates result = %s", env.Result)
	}

	env = rpc(t, g, `{"jsonrpc":"2.0","id":10,"method":"prompts/list"}`)
	var prompts struct {
		Prompts []catalog.Prompt `json:"prompts"`
	}
	if err := json.Unmarshal(env.Result, &prompts); err != nil || len(prompts.Prompts) != 2 {
		t.Fatalf("prompts result = %s (%v)", env.Result, err)
	}

	rec := do(g, http.MethodPost, "/petstore/sse", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("notification status = %d body = %q", rec.Code, rec.Body)
	}
}

func TestSSE_Descriptor(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))
	rec := do(g, http.MethodGet, "/petstore/sse", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var desc struct {
		Type     string   `json:"type"`
		Protocol string   `json:"protocol"`
		Version  string   `json:"version"`
		Methods  []string `json:"methods"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if desc.Type != "mcp_endpoint" || desc.Protocol != "MCP" || desc.Version != "2024-11-05" {
		t.Fatalf("descriptor = %+v", desc)
	}
	found := false
	for _, m := range desc.Methods {
		if m == "tools/call" {
			found = true
		}
	}
	if !found {
		t.Fatalf("methods = %v", desc.Methods)
	}
}

func TestREST_Descriptor(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))
	rec := do(g, http.MethodGet, "/petstore/", "")
	var desc struct {
		Type         string          `json:"type"`
		Name         string          `json:"name"`
		Tools        int             `json:"tools"`
		Capabilities map[string]bool `json:"capabilities"`
		Endpoints    []string        `json:"endpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if desc.Type != "api_server" || desc.Name != "Pet Store" || desc.Tools != 2 {
		t.Fatalf("descriptor = %+v", desc)
	}
	if !desc.Capabilities["tools"] || !desc.Capabilities["streaming"] || desc.Capabilities["auth"] {
		t.Fatalf("capabilities = %v", desc.Capabilities)
	}
}

func TestREST_ModelsAndTools(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))

	rec := do(g, http.MethodGet, "/petstore/models", "")
	var models struct {
		Models []catalog.Model `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil || len(models.Models) != 1 {
		t.Fatalf("models = %s (%v)", rec.Body, err)
	}
	if !strings.HasPrefix(models.Models[0].ID, "api:pet_store:") {
		t.Fatalf("model id = %q", models.Models[0].ID)
	}

	rec = do(g, http.MethodGet, "/petstore/tools", "")
	var tools struct {
		Tools []catalog.Tool `json:"tools"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil || tools.Count != 2 {
		t.Fatalf("tools = %s (%v)", rec.Body, err)
	}

	rec = do(g, http.MethodGet, "/petstore/tools/getPet", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"getPet"`) {
		t.Fatalf("tool = %d %s", rec.Code, rec.Body)
	}

	rec = do(g, http.MethodGet, "/petstore/tools/zzz", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Tool not found") {
		t.Fatalf("missing tool = %d %s", rec.Code, rec.Body)
	}
}

func TestREST_InvokeValidationOrder(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{"name":"rex"}`))

	rec := do(g, http.MethodPost, "/petstore/invoke", `{"tool":""}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Tool not specified") {
		t.Fatalf("empty tool = %d %s", rec.Code, rec.Body)
	}

	rec = do(g, http.MethodPost, "/petstore/invoke", `{"tool":"getPet","model":"api:other:https://x"}`)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Model not found") {
		t.Fatalf("bad model = %d %s", rec.Code, rec.Body)
	}

	rec = do(g, http.MethodPost, "/petstore/invoke", `{"tool":"zzz"}`)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Tool not found") {
		t.Fatalf("bad tool = %d %s", rec.Code, rec.Body)
	}

	rec = do(g, http.MethodPost, "/petstore/invoke", `{"tool":"getPet","parameters":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing params = %d %s", rec.Code, rec.Body)
	}
	var missingBody struct {
		Error   string   `json:"error"`
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &missingBody); err != nil {
		t.Fatalf("missing body: %v", err)
	}
	if missingBody.Error != "Missing required parameters" || !reflect.DeepEqual(missingBody.Missing, []string{"path-id"}) {
		t.Fatalf("missing = %+v", missingBody)
	}

	rec = do(g, http.MethodPost, "/petstore/invoke", `{"tool":"getPet","parameters":{"path-id":"7"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("invoke = %d %s", rec.Code, rec.Body)
	}
	var ok struct {
		Type   string      `json:"type"`
		Model  string      `json:"model"`
		Output interface{} `json:"output"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ok); err != nil {
		t.Fatalf("invoke body: %v", err)
	}
	if ok.Type != "data" || !strings.HasPrefix(ok.Model, "api:pet_store:") {
		t.Fatalf("invoke = %+v", ok)
	}
}

func TestREST_InvokeUpstreamFailure(t *testing.T) {
	g, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	rec := do(g, http.MethodPost, "/petstore/invoke", `{"tool":"getPet","parameters":{"path-id":"7"}}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Tool    string `json:"tool"`
		Model   string `json:"model"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Error != "Upstream call failed" || body.Tool != "getPet" || !strings.Contains(body.Message, "502") {
		t.Fatalf("body = %+v", body)
	}
}

func TestREST_StreamCreate(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))
	rec := do(g, http.MethodPost, "/petstore/stream", `{"tool":"getPet","parameters":{"path-id":"7"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
	var body struct {
		Type      string `json:"type"`
		TaskID    string `json:"taskId"`
		StreamURL string `json:"streamUrl"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Type != "stream_created" {
		t.Fatalf("body = %+v", body)
	}
	if body.StreamURL != "/petstore/stream/"+body.TaskID {
		t.Fatalf("streamUrl = %q", body.StreamURL)
	}
	inv, err := stream.DecodeToken(body.TaskID)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if inv.Tool != "getPet" || !strings.HasPrefix(inv.Model, "api:pet_store:") {
		t.Fatalf("invocation = %+v", inv)
	}
	if string(inv.Parameters) != `{"path-id":"7"}` {
		t.Fatalf("parameters = %s", inv.Parameters)
	}
}

func TestMethodNotAllowedAndNotFound(t *testing.T) {
	g, _ := newGateway(t, jsonUpstream(`{}`))
	if rec := do(g, http.MethodGet, "/petstore/invoke", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /invoke = %d", rec.Code)
	}
	if rec := do(g, http.MethodGet, "/petstore/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", rec.Code)
	}
}
