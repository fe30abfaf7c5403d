package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/browserbridge/bridge/internal/keystore"
	"github.com/browserbridge/bridge/internal/pending"
)

type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

type commandResponse struct {
	ID       string `json:"id"`
	OK       bool   `json:"ok"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration"`
}

func (s *APIServer) handleCommand(w http.ResponseWriter, r *http.Request, token string) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Invalid JSON body"})
		return
	}
	if req.Command == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Missing 'command' field"})
		return
	}

	start := time.Now()
	id := pending.NewCallID()
	result, execErr := s.execute(r.Context(), token, req.Command, req.Params, false, "Command")
	duration := time.Since(start).Milliseconds()

	if execErr != nil {
		log.Printf("[APIServer] command %s failed for %s: %s", req.Command, maskToken(token), execErr.message)
		s.writeJSON(w, execErr.httpStatus(), commandResponse{ID: id, OK: false, Error: execErr.message, Duration: duration})
		return
	}

	log.Printf("[APIServer] command %s executed for %s in %dms", req.Command, maskToken(token), duration)
	s.writeJSON(w, http.StatusOK, commandResponse{ID: id, OK: true, Result: result.result, Duration: duration})
}

type keysRequest struct {
	Action   string `json:"action"`
	Name     string `json:"name"`
	Commands any    `json:"commands"`
	IPs      any    `json:"ips"`
	Prefix   string `json:"prefix"`
}

// handleKeys serves key management. It is reachable without a bearer token
// but only from loopback callers.
func (s *APIServer) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(remoteIP(r)) {
		s.writeJSON(w, http.StatusForbidden, map[string]any{"ok": false, "error": "Key management only allowed from localhost"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.listKeys(w)
	case http.MethodPost:
		var req keysRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			req = keysRequest{}
		}
		if req.Action == "" {
			req.Action = r.URL.Query().Get("action")
		}
		switch req.Action {
		case "generate":
			s.generateKey(w, req)
		case "revoke":
			s.revokeKey(w, req)
		case "list":
			s.listKeys(w)
		default:
			s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Unknown action. Use: generate, list, revoke"})
		}
	default:
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "Method not allowed"})
	}
}

func (s *APIServer) generateKey(w http.ResponseWriter, req keysRequest) {
	name := req.Name
	if name == "" {
		name = "unnamed"
	}
	key, err := s.auth.Generate(name, stringList(req.Commands), stringList(req.IPs))
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key, "name": name})
}

func (s *APIServer) revokeKey(w http.ResponseWriter, req keysRequest) {
	if req.Prefix == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "Missing 'prefix'"})
		return
	}
	_, err := s.auth.Revoke(req.Prefix)
	switch {
	case errors.Is(err, keystore.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "Key not found"})
	case errors.Is(err, keystore.ErrAmbiguous):
		s.writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": "Prefix matches multiple keys"})
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Key revoked"})
	}
}

func (s *APIServer) listKeys(w http.ResponseWriter) {
	keys, err := s.auth.List()
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "keys": keys})
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "Method not allowed"})
		return
	}
	state := "disconnected"
	if s.executor.Connected() {
		state = "connected"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"extension": state,
		"uptime":    int64(time.Since(s.started).Seconds()),
	})
}

// stringList accepts a JSON array of strings or a comma-separated string.
func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
