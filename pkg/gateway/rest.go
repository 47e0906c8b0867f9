package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ubermorgenland/mcp-bridge/pkg/catalog"
	"github.com/ubermorgenland/mcp-bridge/pkg/stream"
)

// handleDescriptor serves the source's top-level description.
func (g *Gateway) handleDescriptor(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":        "api_server",
		"version":     g.doc.Info.Version,
		"name":        g.doc.Info.Title,
		"description": g.doc.Info.Description,
		"capabilities": map[string]bool{
			"tools":     true,
			"streaming": true,
			"auth":      len(g.doc.SecuritySchemes()) > 0,
		},
		"tools":     len(g.cat.Tools),
		"endpoints": []string{"/", "/models", "/tools", "/invoke", "/stream", "/sse"},
	})
}

func (g *Gateway) handleModels(w http.ResponseWriter, _ *http.Request) {
	models := g.cat.Models
	if models == nil {
		models = []catalog.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (g *Gateway) handleTools(w http.ResponseWriter, _ *http.Request) {
	tools := g.cat.Tools
	if tools == nil {
		tools = []catalog.Tool{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools, "count": len(tools)})
}

func (g *Gateway) handleTool(w http.ResponseWriter, slug string) {
	tool, ok := g.cat.ToolByID(slug)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Tool not found"})
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

type invokeRequest struct {
	Model      string          `json:"model"`
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

func (g *Gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRPCBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	modelID, host, status, errBody := g.resolveTarget(req.Model, req.Tool)
	if errBody != nil {
		writeJSON(w, status, errBody)
		return
	}

	tool, _ := g.cat.ToolByID(req.Tool)
	if missing := missingRequired(tool, req.Parameters); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Missing required parameters",
			"missing": missing,
		})
		return
	}

	method, path, _ := catalog.ParseInvocation(g.cat.Invocations[req.Tool])
	g.counters.Increment("invoke")

	output, err := g.exec.Execute(r.Context(), host, method, path, req.Parameters, g.cat.ContentTypes[req.Tool], g.doc.SecuritySchemes())
	if err != nil {
		g.log.Warn().Str("tool", req.Tool).Str("model", modelID).Err(err).Msg("invoke failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Upstream call failed",
			"message": err.Error(),
			"tool":    req.Tool,
			"model":   modelID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":   "data",
		"model":  modelID,
		"output": output,
	})
}

// handleStreamCreate validates the invocation and hands back the task
// token; the caller connects to streamUrl to run it.
func (g *Gateway) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRPCBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	modelID, _, status, errBody := g.resolveTarget(req.Model, req.Tool)
	if errBody != nil {
		writeJSON(w, status, errBody)
		return
	}

	token, err := stream.EncodeToken(stream.Invocation{
		Model:      modelID,
		Tool:       req.Tool,
		Parameters: req.Parameters,
	})
	if err != nil {
		g.log.Error().Str("tool", req.Tool).Err(err).Msg("stream token encode failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create stream"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"type":      "stream_created",
		"taskId":    token,
		"streamUrl": g.basePath + "/stream/" + token,
	})
}

func (g *Gateway) handleStreamSession(w http.ResponseWriter, r *http.Request, token string) {
	g.counters.Increment("ws_sessions")
	stream.NewHandler(g.doc, g.cat, g.exec, g.log).Serve(w, r, token)
}

// resolveTarget applies the shared /invoke and /stream validation
// order: tool named, model exists when given, tool exists. It returns
// the effective model id and upstream host.
func (g *Gateway) resolveTarget(modelID, toolID string) (string, string, int, map[string]string) {
	if toolID == "" {
		return "", "", http.StatusBadRequest, map[string]string{"error": "Tool not specified"}
	}
	host := ""
	if len(g.doc.Servers) > 0 {
		host = g.doc.Servers[0].URL
	}
	if modelID != "" {
		model, ok := g.cat.ModelByID(modelID)
		if !ok {
			return "", "", http.StatusNotFound, map[string]string{"error": "Model not found"}
		}
		host = g.cat.ModelServers[model.ID]
	} else if len(g.cat.Models) > 0 {
		modelID = g.cat.Models[0].ID
	}
	if _, ok := g.cat.Invocations[toolID]; !ok {
		return "", "", http.StatusNotFound, map[string]string{"error": "Tool not found"}
	}
	return modelID, host, 0, nil
}

// missingRequired names the tool's required parameter keys absent from
// the bag, in declaration order.
func missingRequired(tool *catalog.Tool, params json.RawMessage) []string {
	if tool == nil || tool.Parameters == nil || len(tool.Parameters.Required) == 0 {
		return nil
	}
	present := map[string]json.RawMessage{}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &present)
	}
	var missing []string
	for _, key := range tool.Parameters.Required {
		if _, ok := present[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
