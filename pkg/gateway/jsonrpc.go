package gateway

import (
	"encoding/json"
	"sort"
)

// ProtocolVersion is the MCP protocol revision this gateway speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is one JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Method enumerates the JSON-RPC methods the gateway serves. The wire
// string is mapped once; dispatch runs on the enum.
type Method int

const (
	MethodUnknown Method = iota
	MethodInitialize
	MethodToolsList
	MethodToolsCall
	MethodResourcesList
	MethodResourceTemplatesList
	MethodPromptsList
	MethodNotificationsInitialized
	MethodPing
)

var methodNames = map[string]Method{
	"initialize":                MethodInitialize,
	"tools/list":                MethodToolsList,
	"tools/call":                MethodToolsCall,
	"resources/list":            MethodResourcesList,
	"resources/templates/list":  MethodResourceTemplatesList,
	"prompts/list":              MethodPromptsList,
	"notifications/initialized": MethodNotificationsInitialized,
	"ping":                      MethodPing,
}

// ParseMethod maps a wire method string onto the enum; unrecognized
// strings map to MethodUnknown.
func ParseMethod(s string) Method {
	return methodNames[s]
}

// SupportedMethods returns the wire names the gateway dispatches, in
// sorted order, for the /sse capability descriptor.
func SupportedMethods() []string {
	names := make([]string, 0, len(methodNames))
	for name := range methodNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContentItem is one entry in a tools/call result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the tools/call result envelope. Upstream failures keep
// the JSON-RPC success envelope and set IsError so clients can always
// parse a well-formed response.
type CallResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}
