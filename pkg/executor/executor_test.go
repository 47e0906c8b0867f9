package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

type capture struct {
	calls    int
	method   string
	path     string
	rawQuery string
	header   http.Header
	body     []byte
}

func newUpstream(t *testing.T, status int, contentType, respBody string) (*httptest.Server, *capture) {
	t.Helper()
	cap := &capture{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cap.calls++
		cap.method = r.Method
		cap.path = r.URL.Path
		cap.rawQuery = r.URL.RawQuery
		cap.header = r.Header.Clone()
		cap.body, _ = io.ReadAll(r.Body)
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		io.WriteString(w, respBody)
	}))
	t.Cleanup(ts.Close)
	return ts, cap
}

func TestExecute_PathSubstitutionAndJSONResponse(t *testing.T) {
	ts, cap := newUpstream(t, http.StatusOK, "application/json", `{"name":"rex"}`)
	exec := New(ts.Client())

	out, err := exec.Execute(context.Background(), ts.URL, "GET", "/pets/{id}",
		json.RawMessage(`{"path-id":"7"}`), "application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cap.calls != 1 {
		t.Fatalf("calls = %d, want 1", cap.calls)
	}
	if cap.method != "GET" || cap.path != "/pets/7" {
		t.Fatalf("request = %s %s", cap.method, cap.path)
	}
	want := map[string]interface{}{"name": "rex"}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("output = %#v", out)
	}
}

func TestExecute_QueryOrderAndArrays(t *testing.T) {
	ts, cap := newUpstream(t, http.StatusOK, "text/plain", "ok")
	exec := New(ts.Client())

	_, err := exec.Execute(context.Background(), ts.URL, "GET", "/search",
		json.RawMessage(`{"query-tag":["a b","c"],"query-limit":5}`), "application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cap.rawQuery != "tag=a+b&tag=c&limit=5" {
		t.Fatalf("query = %q", cap.rawQuery)
	}
}

func TestExecute_HeadersAndCookies(t *testing.T) {
	ts, cap := newUpstream(t, http.StatusOK, "text/plain", "ok")
	exec := New(ts.Client())

	_, err := exec.Execute(context.Background(), ts.URL, "POST", "/things",
		json.RawMessage(`{"cookie-session":"abc","cookie-theme":"dark","header-Content-Type":"text/csv","header-X-Trace":"42","body":"a,b"}`),
		"application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := cap.header.Get("Content-Type"); got != "text/csv" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := cap.header.Get("X-Trace"); got != "42" {
		t.Fatalf("X-Trace = %q", got)
	}
	if got := cap.header.Get("Cookie"); got != "session=abc; theme=dark" {
		t.Fatalf("Cookie = %q", got)
	}
}

func TestExecute_ColonPlaceholderBoundary(t *testing.T) {
	ts, cap := newUpstream(t, http.StatusOK, "text/plain", "ok")
	exec := New(ts.Client())

	_, err := exec.Execute(context.Background(), ts.URL, "GET", "/users/:id/posts/:identifier",
		json.RawMessage(`{"path-id":"1","path-identifier":"2"}`), "application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if cap.path != "/users/1/posts/2" {
		t.Fatalf("path = %q", cap.path)
	}
}

func TestExecute_SecuritySchemes(t *testing.T) {
	schemes := map[string]openapi.SecurityScheme{
		"KeyAuth":    {Type: "apiKey", In: "header", Name: "X-API-Key"},
		"BearerAuth": {Type: "http", Scheme: "bearer"},
	}

	ts, cap := newUpstream(t, http.StatusOK, "text/plain", "ok")
	exec := New(ts.Client())

	_, err := exec.Execute(context.Background(), ts.URL, "GET", "/secure",
		json.RawMessage(`{"header-KeyAuth":"k-123","authorization":"tok-456"}`), "application/json", schemes)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := cap.header.Get("X-API-Key"); got != "k-123" {
		t.Fatalf("X-API-Key = %q", got)
	}
	if got := cap.header.Get("Authorization"); got != "Bearer tok-456" {
		t.Fatalf("Authorization = %q", got)
	}

	// An already prefixed token is not prefixed twice.
	_, err = exec.Execute(context.Background(), ts.URL, "GET", "/secure",
		json.RawMessage(`{"authorization":"Bearer tok-789"}`), "application/json", schemes)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := cap.header.Get("Authorization"); got != "Bearer tok-789" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestExecute_BodyHandling(t *testing.T) {
	ts, cap := newUpstream(t, http.StatusOK, "text/plain", "ok")
	exec := New(ts.Client())

	// GET never carries a body even when one is supplied.
	_, err := exec.Execute(context.Background(), ts.URL, "GET", "/x",
		json.RawMessage(`{"body":{"a":1}}`), "application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(cap.body) != 0 {
		t.Fatalf("GET body = %q", cap.body)
	}

	// JSON bodies pass through exactly as the client serialized them.
	_, err = exec.Execute(context.Background(), ts.URL, "POST", "/x",
		json.RawMessage(`{"body":{"z":1,"a":2}}`), "application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(cap.body) != `{"z":1,"a":2}` {
		t.Fatalf("POST body = %q", cap.body)
	}

	// Non-JSON content types send string bodies verbatim.
	_, err = exec.Execute(context.Background(), ts.URL, "POST", "/x",
		json.RawMessage(`{"body":"col1,col2"}`), "text/csv", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(cap.body) != "col1,col2" {
		t.Fatalf("CSV body = %q", cap.body)
	}
}

func TestExecute_UpstreamFailure(t *testing.T) {
	ts, _ := newUpstream(t, http.StatusBadGateway, "text/plain", "backend down")
	exec := New(ts.Client())

	_, err := exec.Execute(context.Background(), ts.URL, "GET", "/x", nil, "application/json", nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.StatusCode != http.StatusBadGateway || ue.Body != "backend down" {
		t.Fatalf("error = %+v", ue)
	}
}

func TestExecute_PlainTextResponse(t *testing.T) {
	ts, _ := newUpstream(t, http.StatusOK, "text/plain", "all good")
	exec := New(ts.Client())

	out, err := exec.Execute(context.Background(), ts.URL, "GET", "/x", nil, "application/json", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "all good" {
		t.Fatalf("output = %#v", out)
	}
}

func TestExecute_ContextCancelAbortsCall(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(ts.Close)
	exec := New(ts.Client())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := exec.Execute(ctx, ts.URL, "GET", "/slow", nil, "application/json", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeBag_RejectsNonObject(t *testing.T) {
	if _, err := decodeBag(json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected error for array parameters")
	}
	if params, err := decodeBag(nil); err != nil || params != nil {
		t.Fatalf("nil bag: %v %v", params, err)
	}
	if params, err := decodeBag(json.RawMessage(`null`)); err != nil || params != nil {
		t.Fatalf("null bag: %v %v", params, err)
	}
}

func TestBuildURL(t *testing.T) {
	cases := []struct {
		host, path string
		query      []string
		want       string
	}{
		{"api.example.com", "/pets", nil, "https://api.example.com/pets"},
		{"http://localhost:9999", "/pets", []string{"a=1"}, "http://localhost:9999/pets?a=1"},
		{"https://api.example.com/v1/", "/pets", nil, "https://api.example.com/v1/pets"},
		{"api.example.com", "pets", nil, "https://api.example.com/pets"},
	}
	for _, c := range cases {
		if got := buildURL(c.host, c.path, c.query); got != c.want {
			t.Errorf("buildURL(%q, %q, %v) = %q, want %q", c.host, c.path, c.query, got, c.want)
		}
	}
}
