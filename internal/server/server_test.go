package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/browserbridge/bridge/internal/auth"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/executor"
	"github.com/browserbridge/bridge/internal/keystore"
	"github.com/browserbridge/bridge/internal/plugins"
	"github.com/browserbridge/bridge/internal/ratelimit"
	"github.com/browserbridge/bridge/internal/registry"
)

type testGateway struct {
	srv  *httptest.Server
	api  *APIServer
	auth *auth.Service
	exec *executor.Manager
}

func testConfig() config.Config {
	return config.Config{
		RateLimit:      1000,
		RateWindow:     time.Minute,
		CommandTimeout: 2 * time.Second,
		MCPEnabled:     true,
		RESTEnabled:    true,
	}
}

func newGateway(t *testing.T, cfg config.Config) *testGateway {
	t.Helper()
	store, err := keystore.Open(filepath.Join(t.TempDir(), "keys.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authSvc := auth.NewService(store)
	exec := executor.New(authSvc.ValidateExecutorToken, cfg.CommandTimeout)
	t.Cleanup(exec.Shutdown)

	reg := registry.New()
	registry.Builtin(reg)
	set := plugins.NewSet(reg)

	api := NewAPIServer(cfg, authSvc, ratelimit.New(cfg.RateLimit, cfg.RateWindow), exec, reg, set)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &testGateway{srv: srv, api: api, auth: authSvc, exec: exec}
}

// connectExecutor dials /ws, authenticates, and answers every command frame
// with respond until the connection drops.
func (g *testGateway) connectExecutor(t *testing.T, respond func(executor.Frame) executor.Frame) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial executor: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	if err := ws.WriteJSON(executor.Frame{Type: "auth", Token: g.auth.ExecutorToken()}); err != nil {
		t.Fatalf("executor auth: %v", err)
	}
	var reply executor.Frame
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("executor auth reply: %v", err)
	}
	if reply.OK == nil || !*reply.OK {
		t.Fatalf("executor auth reply = %+v", reply)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !g.exec.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if respond != nil {
		go func() {
			for {
				var frame executor.Frame
				if err := ws.ReadJSON(&frame); err != nil {
					return
				}
				if frame.Type != "command" {
					continue
				}
				reply := respond(frame)
				reply.Type = "response"
				reply.ID = frame.ID
				if err := ws.WriteJSON(reply); err != nil {
					return
				}
			}
		}()
	}
	return ws
}

func echoExecutor(frame executor.Frame) executor.Frame {
	payload, _ := json.Marshal(map[string]any{"command": frame.Command})
	return executor.Frame{Result: payload}
}

func (g *testGateway) post(t *testing.T, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, g.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func (g *testGateway) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(g.srv.URL + path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}
