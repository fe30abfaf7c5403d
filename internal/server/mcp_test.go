package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/browserbridge/bridge/internal/executor"
)

func rpcCall(t *testing.T, g *testGateway, token string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, g.srv.URL+"/mcp", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	decoded := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, decoded
}

func rpcErrorCode(t *testing.T, body map[string]any) float64 {
	t.Helper()
	rpcErr, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error in %v", body)
	}
	code, _ := rpcErr["code"].(float64)
	return code
}

func callResult(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("no result in %v", body)
	}
	return result
}

func firstContent(t *testing.T, result map[string]any) map[string]any {
	t.Helper()
	content, _ := result["content"].([]any)
	if len(content) == 0 {
		t.Fatalf("empty content in %v", result)
	}
	block, _ := content[0].(map[string]any)
	return block
}

func TestInitialize(t *testing.T) {
	g := newGateway(t, testConfig())
	status, body := rpcCall(t, g, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	result := callResult(t, body)
	if result["protocolVersion"] != "2024-11-05" {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
	info, _ := result["serverInfo"].(map[string]any)
	if info["name"] != "browser-bridge" {
		t.Fatalf("serverInfo = %v", info)
	}
}

func TestNotificationsInitialized(t *testing.T) {
	g := newGateway(t, testConfig())
	status, _ := rpcCall(t, g, "", map[string]any{"jsonrpc": "2.0", "method": "notifications/initialized"})
	if status != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", status)
	}
}

func TestParseError(t *testing.T) {
	g := newGateway(t, testConfig())
	resp, err := http.Post(g.srv.URL+"/mcp", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	body := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if code := rpcErrorCode(t, body); code != -32700 {
		t.Fatalf("code = %v, want -32700", code)
	}
}

func TestInvalidRequest(t *testing.T) {
	g := newGateway(t, testConfig())
	_, body := rpcCall(t, g, "", map[string]any{"id": 7, "method": "initialize"})
	if code := rpcErrorCode(t, body); code != -32600 {
		t.Fatalf("code = %v, want -32600", code)
	}
}

func TestMethodNotFound(t *testing.T) {
	g := newGateway(t, testConfig())
	_, body := rpcCall(t, g, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "resources/list"})
	if code := rpcErrorCode(t, body); code != -32601 {
		t.Fatalf("code = %v, want -32601", code)
	}
}

func TestToolCallMissingName(t *testing.T) {
	g := newGateway(t, testConfig())
	_, body := rpcCall(t, g, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/call", "params": map[string]any{}})
	if code := rpcErrorCode(t, body); code != -32602 {
		t.Fatalf("code = %v, want -32602", code)
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	g := newGateway(t, testConfig())
	g.connectExecutor(t, echoExecutor)

	_, body := rpcCall(t, g, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": "custom.thing"},
	})
	rpcErr, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("unknown tool must be a protocol error, body = %v", body)
	}
	if rpcErr["code"].(float64) != -32602 {
		t.Fatalf("code = %v", rpcErr["code"])
	}
	msg, _ := rpcErr["message"].(string)
	if !strings.Contains(msg, "Unknown tool: custom.thing") {
		t.Fatalf("message = %q", msg)
	}
}

func TestToolsList(t *testing.T) {
	g := newGateway(t, testConfig())
	_, body := rpcCall(t, g, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	result := callResult(t, body)
	tools, _ := result["tools"].([]any)
	if len(tools) == 0 {
		t.Fatal("empty catalog")
	}
	first, _ := tools[0].(map[string]any)
	if _, ok := first["inputSchema"].(map[string]any); !ok {
		t.Fatalf("tool missing inputSchema: %v", first)
	}
}

func TestToolsListFilteredByKey(t *testing.T) {
	g := newGateway(t, testConfig())
	key, err := g.auth.Generate("narrow", []string{"browser_navigate"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, body := rpcCall(t, g, key, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	result := callResult(t, body)
	tools, _ := result["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", tools)
	}
	tool, _ := tools[0].(map[string]any)
	if tool["name"] != "browser_navigate" {
		t.Fatalf("tool = %v", tool)
	}
}

func TestToolCallSuccess(t *testing.T) {
	g := newGateway(t, testConfig())
	g.connectExecutor(t, echoExecutor)

	_, body := rpcCall(t, g, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{
			"name":      "browser_navigate",
			"arguments": map[string]any{"url": "https://example.com"},
		},
	})
	result := callResult(t, body)
	if result["isError"] == true {
		t.Fatalf("result = %v", result)
	}
	block := firstContent(t, result)
	if block["type"] != "text" {
		t.Fatalf("block = %v", block)
	}
	text, _ := block["text"].(string)
	if !strings.Contains(text, "navigate") {
		t.Fatalf("text = %q", text)
	}
}

func TestToolCallValidationEnvelope(t *testing.T) {
	g := newGateway(t, testConfig())
	g.connectExecutor(t, echoExecutor)

	_, body := rpcCall(t, g, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": "browser_navigate", "arguments": map[string]any{}},
	})
	result := callResult(t, body)
	if result["isError"] != true {
		t.Fatalf("validation failure must be an isError envelope: %v", result)
	}
	block := firstContent(t, result)
	text, _ := block["text"].(string)
	if !strings.HasPrefix(text, "Validation error: ") || !strings.Contains(text, "url: required") {
		t.Fatalf("text = %q", text)
	}
}

func TestToolCallExecutorDisconnected(t *testing.T) {
	g := newGateway(t, testConfig())

	_, body := rpcCall(t, g, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": "browser_tab_list"},
	})
	result := callResult(t, body)
	if result["isError"] != true {
		t.Fatalf("result = %v", result)
	}
	block := firstContent(t, result)
	if block["text"] != "Extension not connected" {
		t.Fatalf("text = %v", block["text"])
	}
}

func TestToolCallACLEnvelope(t *testing.T) {
	g := newGateway(t, testConfig())
	g.connectExecutor(t, echoExecutor)

	key, err := g.auth.Generate("narrow", []string{"browser_navigate"}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, body := rpcCall(t, g, key, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": "browser_tab_list"},
	})
	result := callResult(t, body)
	if result["isError"] != true {
		t.Fatalf("result = %v", result)
	}
	block := firstContent(t, result)
	text, _ := block["text"].(string)
	if !strings.Contains(text, "not allowed for this key") {
		t.Fatalf("text = %q", text)
	}
}

func TestScreenshotImageBlock(t *testing.T) {
	g := newGateway(t, testConfig())
	g.connectExecutor(t, func(frame executor.Frame) executor.Frame {
		payload, _ := json.Marshal(map[string]any{"dataUrl": "data:image/png;base64,aGVsbG8="})
		return executor.Frame{Result: payload}
	})

	_, body := rpcCall(t, g, "", map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": "browser_screenshot"},
	})
	result := callResult(t, body)
	block := firstContent(t, result)
	if block["type"] != "image" || block["mimeType"] != "image/png" {
		t.Fatalf("block = %v", block)
	}
	if block["data"] != "aGVsbG8=" {
		t.Fatalf("data = %v", block["data"])
	}
}

func TestMCPDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MCPEnabled = false
	g := newGateway(t, cfg)

	status, _ := rpcCall(t, g, "", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}
