package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ubermorgenland/mcp-bridge/pkg/registry"
)

// handleIndex names the bridge and its active sources.
func (rt *Router) handleIndex(w http.ResponseWriter, r *http.Request) {
	sources, err := rt.sources.Sources(true)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Source listing failed", err.Error())
		return
	}
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "mcp-bridge",
		"version": Version,
		"sources": names,
	})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	sources, _ := rt.sources.Sources(true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"version":          Version,
		"uptime_seconds":   int64(time.Since(rt.started).Seconds()),
		"sources":          len(sources),
		"cached_documents": rt.cache.Len(),
	})
}

func (rt *Router) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"counters": rt.counters.Snapshot(),
	})
}

// handleReload drops every cached document so the next request per
// source re-fetches.
func (rt *Router) handleReload(w http.ResponseWriter, r *http.Request) {
	rt.cache.Clear()
	sources, err := rt.sources.Sources(true)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Reload failed", err.Error())
		return
	}
	rt.log.Info().Int("sources", len(sources)).Msg("document cache cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": "document cache cleared",
		"sources": len(sources),
	})
}

// handleSources serves the collection: GET lists, POST registers.
func (rt *Router) handleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sources, err := rt.sources.Sources(false)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Source listing failed", err.Error())
			return
		}
		if sources == nil {
			sources = []*registry.Source{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sources": sources,
			"count":   len(sources),
		})
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			URL         string `json:"url"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, ErrorTypeBadRequest, "Invalid JSON body", err.Error())
			return
		}
		src, err := rt.sources.Register(req.Name, req.URL, req.Description)
		if err != nil {
			rt.registerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, src)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, ErrorTypeBadRequest, "Method not allowed", "")
	}
}

// handleSource serves DELETE /sources/{name}.
func (rt *Router) handleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, r, http.StatusMethodNotAllowed, ErrorTypeBadRequest, "Method not allowed", "")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/sources/")
	if err := rt.sources.Remove(name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, ErrorTypeNotFound, "Source not found", name)
			return
		}
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Delete failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

func (rt *Router) registerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidAlias), errors.Is(err, registry.ErrInsecureSource):
		writeError(w, r, http.StatusBadRequest, ErrorTypeBadRequest, "Invalid source", err.Error())
	case errors.Is(err, registry.ErrExists):
		writeError(w, r, http.StatusConflict, ErrorTypeConflict, "Source already exists", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, ErrorTypeInternal, "Register failed", err.Error())
	}
}
