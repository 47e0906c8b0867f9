// Package server is the outer HTTP layer: configuration, logging, the
// middleware chain, the admin endpoints, and the router that maps the
// first path segment to an OpenAPI source and rebuilds its catalogs
// per request.
package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/ubermorgenland/mcp-bridge/pkg/catalog"
	"github.com/ubermorgenland/mcp-bridge/pkg/executor"
	"github.com/ubermorgenland/mcp-bridge/pkg/fetcher"
	"github.com/ubermorgenland/mcp-bridge/pkg/gateway"
	"github.com/ubermorgenland/mcp-bridge/pkg/metrics"
	"github.com/ubermorgenland/mcp-bridge/pkg/registry"
)

// maxRequestBytes bounds every request body behind the middleware
// chain.
const maxRequestBytes = 8 << 20

// Router owns the outer URL space: fixed admin paths, and everything
// else dispatched to a source by its first path segment.
type Router struct {
	cfg      *Config
	log      *log.Logger
	sources  *registry.Service
	fetch    *fetcher.Fetcher
	cache    *fetcher.Cache
	exec     *executor.Executor
	counters *metrics.Counters
	started  time.Time
}

func NewRouter(cfg *Config, logger *log.Logger, sources *registry.Service, fetch *fetcher.Fetcher, cache *fetcher.Cache, exec *executor.Executor, counters *metrics.Counters) *Router {
	return &Router{
		cfg:      cfg,
		log:      logger,
		sources:  sources,
		fetch:    fetch,
		cache:    cache,
		exec:     exec,
		counters: counters,
		started:  time.Now(),
	}
}

// Handler wraps the router in the middleware chain, outermost first.
func (rt *Router) Handler() http.Handler {
	return Chain(rt,
		Recovery(rt.log),
		CorrelationID,
		RequestLogging(rt.log),
		SecurityHeaders,
		CORS(rt.cfg.CORS.Origins),
		MaxBodySize(maxRequestBytes),
	)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.counters.Increment("requests_total")

	switch {
	case r.URL.Path == "/":
		rt.require(w, r, http.MethodGet, rt.handleIndex)
	case r.URL.Path == "/health":
		rt.require(w, r, http.MethodGet, rt.handleHealth)
	case r.URL.Path == "/metrics":
		rt.require(w, r, http.MethodGet, rt.handleMetrics)
	case r.URL.Path == "/reload":
		rt.require(w, r, http.MethodPost, rt.handleReload)
	case r.URL.Path == "/sources":
		rt.handleSources(w, r)
	case strings.HasPrefix(r.URL.Path, "/sources/"):
		rt.handleSource(w, r)
	default:
		rt.dispatchSource(w, r)
	}
}

func (rt *Router) require(w http.ResponseWriter, r *http.Request, method string, h http.HandlerFunc) {
	if r.Method != method {
		writeError(w, r, http.StatusMethodNotAllowed, ErrorTypeBadRequest, "Method not allowed", "")
		return
	}
	h(w, r)
}

// dispatchSource resolves the first path segment to a document URL,
// fetches and builds its catalogs, and hands the request to a gateway
// mounted at that segment. With allow_url_sources enabled, the
// reserved segment "api" takes the document URL from ?url= instead;
// stream URLs under it need the same ?url= re-supplied on connect.
func (rt *Router) dispatchSource(w http.ResponseWriter, r *http.Request) {
	name, _ := splitSource(r.URL.Path)
	if name == "" {
		writeError(w, r, http.StatusNotFound, ErrorTypeNotFound, "Unknown source", "")
		return
	}

	docURL, ok := rt.sources.ResolveAlias(name)
	if !ok {
		if name != "api" || !rt.cfg.Fetcher.AllowURLSources {
			writeError(w, r, http.StatusNotFound, ErrorTypeNotFound, "Unknown source", name)
			return
		}
		docURL = r.URL.Query().Get("url")
		if docURL == "" {
			writeError(w, r, http.StatusBadRequest, ErrorTypeBadRequest, "Missing url parameter", "")
			return
		}
	}
	rt.counters.Increment("source:" + name)

	doc, err := rt.fetch.Fetch(r.Context(), docURL)
	if err != nil {
		rt.sourceError(w, r, name, err)
		return
	}
	cat, err := catalog.Build(doc)
	if err != nil {
		rt.log.Error().Str("source", name).Err(err).Msg("catalog build failed")
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Catalog build failed", err.Error())
		return
	}
	for _, warning := range cat.Warnings {
		rt.log.Warn().
			Str("source", name).
			Str("ref", warning.Ref).
			Str("suggest", warning.Suggest).
			Msg("ambiguous schema reference")
	}
	rt.log.Debug().Str("source", name).Int("tools", len(cat.Tools)).Msg("catalog built")

	gateway.New(doc, cat, rt.exec, rt.counters, rt.log, "/"+name).ServeHTTP(w, r)
}

func (rt *Router) sourceError(w http.ResponseWriter, r *http.Request, name string, err error) {
	rt.log.Warn().Str("source", name).Err(err).Msg("source dispatch failed")
	switch {
	case errors.Is(err, fetcher.ErrInsecureURL):
		writeError(w, r, http.StatusBadRequest, ErrorTypeBadRequest, "Insecure document URL", err.Error())
	case errors.Is(err, fetcher.ErrInvalidDocument):
		writeError(w, r, http.StatusBadRequest, ErrorTypeBadRequest, "Invalid OpenAPI document", err.Error())
	case errors.Is(err, fetcher.ErrDocumentFetch):
		writeError(w, r, http.StatusBadGateway, ErrorTypeUpstream, "Document fetch failed", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Source dispatch failed", err.Error())
	}
}

// splitSource returns the first path segment and the remainder.
func splitSource(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.Index(trimmed, "/"); i >= 0 {
		return trimmed[:i], trimmed[i:]
	}
	return trimmed, "/"
}
