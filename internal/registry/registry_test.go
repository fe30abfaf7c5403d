package registry

import (
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	Builtin(r)
	return r
}

func TestDefineRejectsDuplicates(t *testing.T) {
	r := New()
	def := Definition{Name: "browser_navigate", ExecutorCommand: "navigate"}
	if err := r.Define(def); err != nil {
		t.Fatalf("first define: %v", err)
	}
	if err := r.Define(def); err == nil {
		t.Fatal("expected duplicate define to fail")
	}
}

func TestResolveByPublicName(t *testing.T) {
	r := newTestRegistry(t)
	def := r.Resolve("browser_navigate")
	if def == nil {
		t.Fatal("browser_navigate not found")
	}
	if def.ExecutorCommand != "navigate" {
		t.Fatalf("executor command = %q, want navigate", def.ExecutorCommand)
	}
	if r.Resolve("no_such_command") != nil {
		t.Fatal("expected nil for unknown command")
	}
}

func TestResolveExecutorAlias(t *testing.T) {
	r := newTestRegistry(t)
	def := r.ResolveExecutor("tab.list")
	if def == nil {
		t.Fatal("tab.list not resolved")
	}
	if def.Name != "browser_tab_list" {
		t.Fatalf("resolved name = %q, want browser_tab_list", def.Name)
	}
}

func TestCatalogFullWhenUnrestricted(t *testing.T) {
	r := newTestRegistry(t)
	tools := r.Catalog(nil)
	if len(tools) != len(r.Names()) {
		t.Fatalf("catalog len = %d, want %d", len(tools), len(r.Names()))
	}
	for _, tool := range tools {
		if tool.InputSchema == nil {
			t.Fatalf("tool %s missing input schema", tool.Name)
		}
		if tool.InputSchema["type"] != "object" {
			t.Fatalf("tool %s schema type = %v", tool.Name, tool.InputSchema["type"])
		}
	}
}

func TestCatalogFiltersByAllowlist(t *testing.T) {
	r := newTestRegistry(t)

	tools := r.Catalog([]string{"browser_navigate"})
	if len(tools) != 1 || tools[0].Name != "browser_navigate" {
		t.Fatalf("catalog = %v, want only browser_navigate", toolNames(tools))
	}

	// Executor-side names also satisfy the allowlist.
	tools = r.Catalog([]string{"tab.list"})
	if len(tools) != 1 || tools[0].Name != "browser_tab_list" {
		t.Fatalf("catalog = %v, want only browser_tab_list", toolNames(tools))
	}
}

func TestCatalogAnnotations(t *testing.T) {
	r := newTestRegistry(t)
	byName := map[string]Tool{}
	for _, tool := range r.Catalog(nil) {
		byName[tool.Name] = tool
	}
	list, ok := byName["browser_tab_list"]
	if !ok {
		t.Fatal("browser_tab_list missing from catalog")
	}
	if list.Annotations == nil || !list.Annotations.ReadOnly {
		t.Fatal("browser_tab_list should carry readOnlyHint")
	}
	create, ok := byName["browser_tab_create"]
	if !ok {
		t.Fatal("browser_tab_create missing from catalog")
	}
	if create.Annotations != nil {
		t.Fatal("browser_tab_create should omit annotations")
	}
}

func TestCatalogDocumentsRequiredFields(t *testing.T) {
	r := newTestRegistry(t)
	for _, tool := range r.Catalog([]string{"browser_click"}) {
		req, ok := tool.InputSchema["required"].([]any)
		if !ok || len(req) != 1 || req[0] != "selector" {
			t.Fatalf("browser_click required = %v", tool.InputSchema["required"])
		}
	}
}

func TestRuntimeDefinedCommandUsesPassthroughSchema(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Define(Definition{Name: "x_post", ExecutorCommand: "x.post"})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	tools := r.Catalog([]string{"x_post"})
	if len(tools) != 1 {
		t.Fatalf("catalog len = %d, want 1", len(tools))
	}
	props, ok := tools[0].InputSchema["properties"].(map[string]any)
	if !ok || len(props) != 0 {
		t.Fatalf("passthrough schema = %v", tools[0].InputSchema)
	}
	if _, ok := tools[0].InputSchema["required"]; ok {
		t.Fatal("passthrough schema should omit required")
	}
}

func TestBuiltinValidation(t *testing.T) {
	r := newTestRegistry(t)
	nav := r.Resolve("browser_navigate")
	if err := nav.Params.Validate(map[string]any{}); err == nil {
		t.Fatal("expected missing url to fail validation")
	}
	if err := nav.Params.Validate(map[string]any{"url": "https://example.com"}); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
}

func TestClear(t *testing.T) {
	r := newTestRegistry(t)
	r.Clear()
	if len(r.Names()) != 0 {
		t.Fatalf("names after clear = %v", r.Names())
	}
}

func toolNames(tools []Tool) []string {
	out := make([]string, len(tools))
	for i, tool := range tools {
		out[i] = tool.Name
	}
	return out
}
