package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/browserbridge/bridge/internal/version"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpServerName      = "browser-bridge"
)

// Reserved JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func rpcOK(id, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Result: result, ID: id}
}

func rpcFail(id any, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: message}, ID: id}
}

func textError(text string) toolResult {
	return toolResult{Content: []contentBlock{{Type: "text", Text: text}}, IsError: true}
}

// handleMCP serves the JSON-RPC tools front. Protocol faults use reserved
// codes; execution-time failures are successful envelopes with isError set
// so tool-calling clients can read the message.
func (s *APIServer) handleMCP(w http.ResponseWriter, r *http.Request, token string) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusOK, rpcFail(nil, codeParseError, "Parse error"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeJSON(w, http.StatusOK, rpcFail(req.ID, codeInvalidRequest, "Invalid Request"))
		return
	}

	switch req.Method {
	case "initialize":
		s.writeJSON(w, http.StatusOK, rpcOK(req.ID, map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": mcpServerName, "version": version.String()},
		}))

	case "notifications/initialized":
		w.WriteHeader(http.StatusNoContent)

	case "tools/list":
		var allowed []string
		if token != "" {
			allowed = s.auth.PermissionsFor(token)
		}
		s.writeJSON(w, http.StatusOK, rpcOK(req.ID, map[string]any{"tools": s.registry.Catalog(allowed)}))

	case "tools/call":
		s.handleToolCall(w, r, req, token)

	default:
		s.writeJSON(w, http.StatusOK, rpcFail(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method)))
	}
}

func (s *APIServer) handleToolCall(w http.ResponseWriter, r *http.Request, req rpcRequest, token string) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeJSON(w, http.StatusOK, rpcFail(req.ID, codeInvalidParams, "Invalid params"))
			return
		}
	}
	if params.Name == "" {
		s.writeJSON(w, http.StatusOK, rpcFail(req.ID, codeInvalidParams, "Missing tool name"))
		return
	}

	start := time.Now()
	result, execErr := s.execute(r.Context(), token, params.Name, params.Arguments, true, "Tool")
	duration := time.Since(start).Milliseconds()

	if execErr != nil {
		if execErr.kind == kindNotFound {
			s.writeJSON(w, http.StatusOK, rpcFail(req.ID, codeInvalidParams, execErr.message))
			return
		}
		log.Printf("[APIServer] tool %s failed in %dms: %s", params.Name, duration, execErr.message)
		message := execErr.message
		if execErr.kind == kindValidation {
			message = "Validation error: " + message
		}
		s.writeJSON(w, http.StatusOK, rpcOK(req.ID, textError(message)))
		return
	}

	log.Printf("[APIServer] tool %s executed in %dms", params.Name, duration)

	if result.executorCommand == "screenshot" {
		if block, ok := imageBlock(result.result); ok {
			s.writeJSON(w, http.StatusOK, rpcOK(req.ID, toolResult{Content: []contentBlock{block}}))
			return
		}
	}

	s.writeJSON(w, http.StatusOK, rpcOK(req.ID, toolResult{
		Content: []contentBlock{{Type: "text", Text: resultText(result.result)}},
	}))
}

// imageBlock converts a screenshot result carrying a PNG data URL into an
// image content block.
func imageBlock(result any) (contentBlock, bool) {
	payload := map[string]any{}
	switch t := result.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(t, &payload); err != nil {
			return contentBlock{}, false
		}
	case map[string]any:
		payload = t
	default:
		return contentBlock{}, false
	}
	dataURL, ok := payload["dataUrl"].(string)
	if !ok {
		return contentBlock{}, false
	}
	data := strings.TrimPrefix(dataURL, "data:image/png;base64,")
	return contentBlock{Type: "image", Data: data, MimeType: "image/png"}, true
}

func resultText(result any) string {
	switch t := result.(type) {
	case nil:
		return "null"
	case json.RawMessage:
		return string(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
