// Package executor performs the single outbound HTTP call behind a tool
// invocation: it splits the parameter bag into body, query, path, header
// and cookie parts, assembles the upstream URL, applies declared security
// schemes, and interprets the response.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

// DefaultMaxResponseBytes caps how much of an upstream response body is
// read.
const DefaultMaxResponseBytes int64 = 10 << 20

// UpstreamError reports a non-2xx upstream response.
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream call failed: %s", e.Status)
	}
	return fmt.Sprintf("upstream call failed: %s: %s", e.Status, e.Body)
}

// Executor issues exactly one outbound HTTP call per invocation. There
// is no retry; timeouts belong to the injected client and the caller's
// context.
type Executor struct {
	client   *http.Client
	maxBytes int64
}

// New returns an Executor using client, or http.DefaultClient when nil.
func New(client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{client: client, maxBytes: DefaultMaxResponseBytes}
}

// NewWithLimit is New with a response size cap.
func NewWithLimit(client *http.Client, maxBytes int64) *Executor {
	e := New(client)
	if maxBytes > 0 {
		e.maxBytes = maxBytes
	}
	return e
}

// Execute performs the upstream call. host may be a bare hostname or a
// full base URL; params is the raw JSON parameter bag. Cancelling ctx
// aborts the in-flight request.
func (e *Executor) Execute(ctx context.Context, host, method, pathTemplate string, params json.RawMessage, contentType string, schemes map[string]openapi.SecurityScheme) (interface{}, error) {
	bag, err := decodeBag(params)
	if err != nil {
		return nil, err
	}

	path := pathTemplate
	var query []string
	var cookies []string
	var headerParams []param
	var body json.RawMessage
	var bodyValue interface{}
	hasBody := false

	for _, p := range bag {
		switch p.Class {
		case ClassBody:
			body = p.Raw
			bodyValue = p.Value
			hasBody = true
		case ClassPath:
			path = substitutePathParam(path, p.Name, cast.ToString(p.Value))
		case ClassQuery:
			appendQuery(&query, p.Name, p.Value)
		case ClassHeader:
			headerParams = append(headerParams, p)
		case ClassCookie:
			cookies = append(cookies, p.Name+"="+cast.ToString(p.Value))
		}
	}

	var reqBody io.Reader
	if hasBody && method != http.MethodGet && method != http.MethodHead {
		reqBody = bytes.NewReader(encodeBody(body, bodyValue, contentType))
	}

	req, err := http.NewRequestWithContext(ctx, method, buildURL(host, path, query), reqBody)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, p := range headerParams {
		req.Header.Set(p.Name, cast.ToString(p.Value))
	}
	if len(cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(cookies, "; "))
	}
	applyAuth(req, bag, schemes)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(bytes.TrimSpace(data)) > 0 {
		var out interface{}
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
		// Upstream mislabeled the payload; hand back the raw text.
	}
	return string(data), nil
}

// applyAuth fills request headers for the declared security schemes.
// Scheme types other than header API keys and bearer tokens are left
// alone.
func applyAuth(req *http.Request, bag []param, schemes map[string]openapi.SecurityScheme) {
	if len(schemes) == 0 {
		return
	}
	keys := make([]string, 0, len(schemes))
	for key := range schemes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		scheme := schemes[key]
		switch {
		case scheme.Type == "apiKey" && scheme.In == "header" && scheme.Name != "":
			if v, ok := bagValue(bag, ClassHeader, key); ok {
				req.Header.Set(scheme.Name, cast.ToString(v))
			}
		case scheme.Type == "http" && strings.EqualFold(scheme.Scheme, "bearer"):
			v, ok := bagValue(bag, ClassOther, "authorization")
			if !ok {
				v, ok = bagValue(bag, ClassHeader, "Authorization")
			}
			if !ok {
				continue
			}
			token := cast.ToString(v)
			if !strings.HasPrefix(token, "Bearer ") {
				token = "Bearer " + token
			}
			req.Header.Set("Authorization", token)
		}
	}
}

// encodeBody picks the outbound body bytes. JSON content types reuse
// the client's serialized form unchanged; for anything else a string
// value passes through verbatim.
func encodeBody(raw json.RawMessage, value interface{}, contentType string) []byte {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return raw
	}
	if s, ok := value.(string); ok {
		return []byte(s)
	}
	return raw
}

// buildURL joins host and path, prepending https:// for bare hosts. A
// non-empty query is appended with '?'.
func buildURL(host, path string, query []string) string {
	base := host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + strings.Join(query, "&")
	}
	return target
}

// appendQuery adds name=value pairs in encounter order. An array value
// repeats the key once per element.
func appendQuery(query *[]string, name string, value interface{}) {
	key := url.QueryEscape(name)
	if items, ok := value.([]interface{}); ok {
		for _, item := range items {
			*query = append(*query, key+"="+url.QueryEscape(cast.ToString(item)))
		}
		return
	}
	*query = append(*query, key+"="+url.QueryEscape(cast.ToString(value)))
}

// substitutePathParam fills {name} and :name placeholders with the
// percent-encoded value. Placeholders with no matching parameter stay
// as written.
func substitutePathParam(path, name, value string) string {
	escaped := url.PathEscape(value)
	path = strings.ReplaceAll(path, "{"+name+"}", escaped)
	return replaceColonParam(path, name, escaped)
}

// replaceColonParam substitutes :name only where the placeholder ends,
// so :id never matches inside :identifier.
func replaceColonParam(path, name, escaped string) string {
	marker := ":" + name
	var b strings.Builder
	for {
		idx := strings.Index(path, marker)
		if idx < 0 {
			b.WriteString(path)
			break
		}
		end := idx + len(marker)
		if end < len(path) && isNameChar(path[end]) {
			b.WriteString(path[:end])
			path = path[end:]
			continue
		}
		b.WriteString(path[:idx])
		b.WriteString(escaped)
		path = path[end:]
	}
	return b.String()
}

func isNameChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
