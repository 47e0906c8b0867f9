// Command mcp-client is an interactive shell for a running bridge. It
// speaks JSON-RPC to a gateway's /sse endpoint, validates call
// arguments against the advertised tool schemas before sending, and
// falls back to the REST surface for model listings.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/xeipuuv/gojsonschema"
)

func main() {
	c := &client{
		http: &http.Client{Timeout: 60 * time.Second},
	}

	if len(os.Args) > 1 {
		if err := c.connect(os.Args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	completer := readline.NewPrefixCompleter(
		readline.PcItem("connect"),
		readline.PcItem("init"),
		readline.PcItem("tools"),
		readline.PcItem("call"),
		readline.PcItem("prompts"),
		readline.PcItem("models"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mcp> ",
		HistoryFile:     filepath.Join(os.TempDir(), "mcp-client.history"),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("mcp-client interactive shell. Type 'help' for commands.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := c.dispatch(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  connect <base-url>     Point the shell at a gateway, e.g. http://localhost:8080/petstore")
	fmt.Println("  init                   Perform the MCP initialize handshake")
	fmt.Println("  tools                  List tools and cache their input schemas")
	fmt.Println("  call <tool> [json]     Invoke a tool; arguments are validated before sending")
	fmt.Println("  prompts                List prompt templates")
	fmt.Println("  models                 List models via the REST surface")
	fmt.Println("  quit                   Leave the shell")
}

type client struct {
	base    string
	http    *http.Client
	nextID  int
	schemas map[string]json.RawMessage
}

func (c *client) dispatch(line string) error {
	parts := strings.SplitN(line, " ", 2)
	cmd := parts[0]
	rest := ""
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "help":
		printHelp()
		return nil
	case "connect":
		if rest == "" {
			return fmt.Errorf("usage: connect <base-url>")
		}
		return c.connect(rest)
	case "init":
		return c.initialize()
	case "tools":
		return c.listTools()
	case "call":
		return c.call(rest)
	case "prompts":
		return c.listPrompts()
	case "models":
		return c.listModels()
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

// connect probes the endpoint descriptor so typos fail fast.
func (c *client) connect(base string) error {
	base = strings.TrimRight(strings.TrimSpace(base), "/")

	resp, err := c.http.Get(base + "/sse")
	if err != nil {
		return fmt.Errorf("failed to reach %s: %v", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}

	var desc struct {
		Type        string `json:"type"`
		Protocol    string `json:"protocol"`
		Version     string `json:"version"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return fmt.Errorf("failed to decode endpoint descriptor: %v", err)
	}
	if desc.Type != "mcp_endpoint" {
		return fmt.Errorf("%s does not look like an MCP endpoint (type %q)", base, desc.Type)
	}

	c.base = base
	c.schemas = nil
	fmt.Printf("Connected: %s (%s %s)\n", desc.Description, desc.Protocol, desc.Version)
	return nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpc posts one JSON-RPC request to the /sse endpoint.
func (c *client) rpc(method string, params interface{}) (json.RawMessage, error) {
	if c.base == "" {
		return nil, fmt.Errorf("not connected (use 'connect <base-url>' first)")
	}

	c.nextID++
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.nextID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.base+"/sse", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %v", err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	return envelope.Result, nil
}

func (c *client) initialize() error {
	result, err := c.rpc("initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]string{"name": "mcp-client", "version": "1.0"},
	})
	if err != nil {
		return err
	}

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(result, &init); err != nil {
		return err
	}
	fmt.Printf("Server: %s %s (protocol %s)\n", init.ServerInfo.Name, init.ServerInfo.Version, init.ProtocolVersion)
	return nil
}

type toolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// refreshTools fetches tools/list and caches each input schema for
// argument validation.
func (c *client) refreshTools() ([]toolEntry, error) {
	result, err := c.rpc("tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tools []toolEntry `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return nil, err
	}

	c.schemas = make(map[string]json.RawMessage, len(listing.Tools))
	for _, tool := range listing.Tools {
		c.schemas[tool.Name] = tool.InputSchema
	}
	return listing.Tools, nil
}

func (c *client) listTools() error {
	tools, err := c.refreshTools()
	if err != nil {
		return err
	}
	if len(tools) == 0 {
		fmt.Println("No tools advertised.")
		return nil
	}

	fmt.Printf("%-32s %s\n", "NAME", "DESCRIPTION")
	fmt.Println(strings.Repeat("-", 80))
	for _, tool := range tools {
		fmt.Printf("%-32s %s\n", trunc(tool.Name, 30), trunc(tool.Description, 44))
	}
	return nil
}

func (c *client) call(rest string) error {
	if rest == "" {
		return fmt.Errorf("usage: call <tool> [json-arguments]")
	}

	parts := strings.SplitN(rest, " ", 2)
	name := parts[0]
	rawArgs := "{}"
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		rawArgs = strings.TrimSpace(parts[1])
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Errorf("arguments must be a JSON object: %v", err)
	}

	if c.schemas == nil {
		if _, err := c.refreshTools(); err != nil {
			return err
		}
	}
	schema, ok := c.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool %q (run 'tools' to list)", name)
	}
	if err := validateArgs(schema, args); err != nil {
		return err
	}

	result, err := c.rpc("tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return err
	}

	var call struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &call); err != nil {
		return err
	}

	for _, item := range call.Content {
		text := item.Text
		if pretty := indentJSON(text); pretty != "" {
			text = pretty
		}
		if call.IsError {
			fmt.Printf("tool error: %s\n", text)
		} else {
			fmt.Println(text)
		}
	}
	return nil
}

// validateArgs rejects calls the server would bounce anyway, with
// friendlier messages than a -32602.
func validateArgs(schema json.RawMessage, args map[string]interface{}) error {
	if len(schema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %v", err)
	}
	if !result.Valid() {
		var b strings.Builder
		b.WriteString("arguments do not match the tool schema:")
		for _, desc := range result.Errors() {
			fmt.Fprintf(&b, "\n  - %s", desc)
		}
		return fmt.Errorf("%s", b.String())
	}
	return nil
}

func (c *client) listPrompts() error {
	result, err := c.rpc("prompts/list", map[string]interface{}{})
	if err != nil {
		return err
	}

	var listing struct {
		Prompts []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Arguments   []struct {
				Name     string `json:"name"`
				Required bool   `json:"required"`
			} `json:"arguments"`
		} `json:"prompts"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		return err
	}
	if len(listing.Prompts) == 0 {
		fmt.Println("No prompts advertised.")
		return nil
	}

	for _, prompt := range listing.Prompts {
		var required []string
		for _, arg := range prompt.Arguments {
			if arg.Required {
				required = append(required, arg.Name)
			}
		}
		if len(required) > 0 {
			fmt.Printf("%s (requires: %s)\n", prompt.Name, strings.Join(required, ", "))
		} else {
			fmt.Println(prompt.Name)
		}
		if prompt.Description != "" {
			fmt.Printf("    %s\n", trunc(prompt.Description, 76))
		}
	}
	return nil
}

func (c *client) listModels() error {
	if c.base == "" {
		return fmt.Errorf("not connected (use 'connect <base-url>' first)")
	}

	resp, err := c.http.Get(c.base + "/models")
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var listing struct {
		Models []struct {
			ID           string   `json:"id"`
			Name         string   `json:"name"`
			Capabilities []string `json:"capabilities"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fmt.Errorf("failed to decode models: %v", err)
	}

	for _, model := range listing.Models {
		fmt.Printf("%s  (%s)\n", model.ID, strings.Join(model.Capabilities, ", "))
	}
	return nil
}

func indentJSON(text string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(text), "", "  "); err != nil {
		return ""
	}
	return buf.String()
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
