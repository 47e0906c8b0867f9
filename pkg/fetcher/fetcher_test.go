package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

const minimalDoc = `{
	"openapi": "3.0.3",
	"info": {"title": "Weather", "description": "Forecasts", "version": "2.0.0"},
	"servers": [{"url": "https://api.weather.test"}],
	"paths": {"/forecast": {"get": {"operationId": "getForecast"}}}
}`

func newDocServer(t *testing.T, status int, body string) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

func TestFetch_RejectsInsecureURLBeforeIO(t *testing.T) {
	ts, hits := newDocServer(t, http.StatusOK, minimalDoc)
	f := New(ts.Client(), nil)

	for _, raw := range []string{
		"http://api.weather.test/openapi.json",
		"ftp://api.weather.test/openapi.json",
		"not a url at all",
	} {
		if _, err := f.Fetch(context.Background(), raw); !errors.Is(err, ErrInsecureURL) {
			t.Errorf("Fetch(%q) err = %v, want ErrInsecureURL", raw, err)
		}
	}
	if got := atomic.LoadInt64(hits); got != 0 {
		t.Fatalf("server hits = %d, want 0", got)
	}
}

func TestFetch_DecodesAndCaches(t *testing.T) {
	ts, hits := newDocServer(t, http.StatusOK, minimalDoc)
	f := New(ts.Client(), NewCache(time.Minute, 8))

	doc, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Info.Title != "Weather" || doc.OpenAPI != "3.0.3" {
		t.Fatalf("doc = %+v", doc.Info)
	}

	again, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if again != doc {
		t.Fatalf("cache returned a different document")
	}
	if got := atomic.LoadInt64(hits); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}
}

func TestFetch_YAMLDocument(t *testing.T) {
	yamlDoc := "openapi: 3.0.3\n" +
		"info:\n  title: Weather\n  description: Forecasts\n  version: 2.0.0\n" +
		"servers:\n  - url: https://api.weather.test\n" +
		"paths:\n  /forecast:\n    get:\n      operationId: getForecast\n"
	ts, _ := newDocServer(t, http.StatusOK, yamlDoc)
	f := New(ts.Client(), nil)

	doc, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Info.Title != "Weather" {
		t.Fatalf("title = %q", doc.Info.Title)
	}
	if _, ok := doc.Paths["/forecast"]; !ok {
		t.Fatalf("paths = %v", doc.Paths)
	}
}

func TestFetch_UpstreamStatusFails(t *testing.T) {
	ts, _ := newDocServer(t, http.StatusNotFound, "gone")
	f := New(ts.Client(), nil)

	if _, err := f.Fetch(context.Background(), ts.URL); !errors.Is(err, ErrDocumentFetch) {
		t.Fatalf("err = %v, want ErrDocumentFetch", err)
	}
}

func TestFetch_StructuralMinimum(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", "<html>nope</html>"},
		{"missing openapi", `{"info":{"title":"t","description":"d"},"servers":[{"url":"u"}],"paths":{}}`},
		{"missing title", `{"openapi":"3.0.0","info":{"description":"d"},"servers":[{"url":"u"}],"paths":{}}`},
		{"missing description", `{"openapi":"3.0.0","info":{"title":"t"},"servers":[{"url":"u"}],"paths":{}}`},
		{"no servers", `{"openapi":"3.0.0","info":{"title":"t","description":"d"},"paths":{}}`},
		{"no paths", `{"openapi":"3.0.0","info":{"title":"t","description":"d"},"servers":[{"url":"u"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newDocServer(t, http.StatusOK, tc.body)
			f := New(ts.Client(), nil)
			if _, err := f.Fetch(context.Background(), ts.URL); !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("err = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestCache_TTLAndEviction(t *testing.T) {
	docA := &openapi.Document{Info: openapi.Info{Title: "a"}}
	docB := &openapi.Document{Info: openapi.Info{Title: "b"}}
	docC := &openapi.Document{Info: openapi.Info{Title: "c"}}

	c := NewCache(50*time.Millisecond, 2)
	c.Put("a", docA)
	c.Put("b", docB)
	if c.Len() != 2 {
		t.Fatalf("Len = %d", c.Len())
	}

	c.Put("c", docC)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("oldest entry survived eviction")
	}
	if got, ok := c.Get("b"); !ok || got != docB {
		t.Fatalf("entry b lost")
	}
	if got, ok := c.Get("c"); !ok || got != docC {
		t.Fatalf("entry c lost")
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expired entry still served")
	}

	c.Put("b", docB)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len after Clear = %d", c.Len())
	}
}

func TestCache_DisabledTTL(t *testing.T) {
	c := NewCache(0, 2)
	c.Put("a", &openapi.Document{})
	if _, ok := c.Get("a"); ok {
		t.Fatalf("non-positive ttl should never serve entries")
	}
}
